package chat

import (
	"sync"

	"coursechat/internal/models"
	"coursechat/internal/normalize"

	"github.com/c-pro/geche"
)

// Channel holds the ordered messages of one course.
type Channel struct {
	ID string

	records []models.Message
	index   map[string]int

	mux sync.RWMutex
}

func newChannel(id string) *Channel {
	return &Channel{
		ID:    id,
		index: make(map[string]int),
	}
}

// reindex rebuilds the id index. Duplicate ids collapse into the position of
// the first occurrence carrying the value of the last one.
func (c *Channel) reindex(list []models.Message) {
	records := make([]models.Message, 0, len(list))
	index := make(map[string]int, len(list))
	for _, m := range list {
		m = normalize.Message(m)
		if i, ok := index[m.ID]; ok {
			records[i] = m
			continue
		}
		index[m.ID] = len(records)
		records = append(records, m)
	}
	c.records = records
	c.index = index
}

func (c *Channel) snapshot() []models.Message {
	c.mux.RLock()
	defer c.mux.RUnlock()

	out := make([]models.Message, len(c.records))
	copy(out, c.records)
	return out
}

type Config struct {
	// ChangeCallback is called after every mutation of a course channel,
	// outside of any store lock.
	ChangeCallback func(courseID string)
}

// Store keeps one Channel per course id. All mutation of course messages
// goes through it.
type Store struct {
	channels       *geche.Locker[string, *Channel]
	changeCallback func(courseID string)
}

func NewStore(config Config) *Store {
	return &Store{
		channels:       geche.NewLocker[string, *Channel](geche.NewMapCache[string, *Channel]()),
		changeCallback: config.ChangeCallback,
	}
}

func (s *Store) channel(courseID string, create bool) *Channel {
	tx := s.channels.Lock()
	defer tx.Unlock()

	c, err := tx.Get(courseID)
	if err == nil {
		return c
	}
	if !create {
		return nil
	}
	c = newChannel(courseID)
	tx.Set(courseID, c)
	return c
}

func (s *Store) changed(courseID string) {
	if s.changeCallback != nil {
		s.changeCallback(courseID)
	}
}

// SetMessages replaces the whole message list of a course, keeping the
// server supplied order.
func (s *Store) SetMessages(courseID string, list []models.Message) {
	c := s.channel(courseID, true)
	c.mux.Lock()
	c.reindex(list)
	c.mux.Unlock()

	s.changed(courseID)
}

// AppendMessage appends the message unless its id is already known.
// It reports whether the message was added.
func (s *Store) AppendMessage(courseID string, m models.Message) bool {
	m = normalize.Message(m)
	c := s.channel(courseID, true)

	c.mux.Lock()
	if _, ok := c.index[m.ID]; ok {
		c.mux.Unlock()
		return false
	}
	c.index[m.ID] = len(c.records)
	c.records = append(c.records, m)
	c.mux.Unlock()

	s.changed(courseID)
	return true
}

// GetMessages returns a copy of the course messages in store order.
func (s *Store) GetMessages(courseID string) []models.Message {
	c := s.channel(courseID, false)
	if c == nil {
		return []models.Message{}
	}
	return c.snapshot()
}

// Get looks a single message up by id.
func (s *Store) Get(courseID, id string) (models.Message, bool) {
	c := s.channel(courseID, false)
	if c == nil {
		return models.Message{}, false
	}

	c.mux.RLock()
	defer c.mux.RUnlock()

	i, ok := c.index[id]
	if !ok {
		return models.Message{}, false
	}
	return c.records[i], true
}

// Merge applies an explicit update: fields of m overwrite the stored entry
// with the same id, pin state excluded. Unknown ids are appended.
func (s *Store) Merge(courseID string, m models.Message) {
	m = normalize.Message(m)
	c := s.channel(courseID, true)

	c.mux.Lock()
	if i, ok := c.index[m.ID]; ok {
		c.records[i] = MergeFields(c.records[i], m)
	} else {
		c.index[m.ID] = len(c.records)
		c.records = append(c.records, m)
	}
	c.mux.Unlock()

	s.changed(courseID)
}

// Replace swaps the entry oldID for m in place. When m is already stored
// the old entry is dropped instead, and when oldID is unknown m is appended
// like AppendMessage.
func (s *Store) Replace(courseID, oldID string, m models.Message) bool {
	m = normalize.Message(m)
	c := s.channel(courseID, true)

	c.mux.Lock()
	i, hasOld := c.index[oldID]
	_, hasNew := c.index[m.ID]
	switch {
	case hasOld && hasNew && oldID != m.ID:
		list := append(append([]models.Message{}, c.records[:i]...), c.records[i+1:]...)
		c.reindex(list)
	case hasOld:
		c.records[i] = m
		delete(c.index, oldID)
		c.index[m.ID] = i
	case hasNew:
		c.mux.Unlock()
		return false
	default:
		c.index[m.ID] = len(c.records)
		c.records = append(c.records, m)
	}
	c.mux.Unlock()

	s.changed(courseID)
	return true
}

// Update rewrites the course list atomically. fn receives a copy and returns
// the new list; the result is normalized and deduplicated.
func (s *Store) Update(courseID string, fn func([]models.Message) []models.Message) {
	c := s.channel(courseID, true)

	c.mux.Lock()
	current := make([]models.Message, len(c.records))
	copy(current, c.records)
	c.reindex(fn(current))
	c.mux.Unlock()

	s.changed(courseID)
}

// Reset forgets everything known about a course.
func (s *Store) Reset(courseID string) {
	tx := s.channels.Lock()
	_ = tx.Del(courseID)
	tx.Unlock()

	s.changed(courseID)
}

// MergeFields overlays the non-zero fields of src onto dst. Identity and pin
// fields of dst are kept.
func MergeFields(dst, src models.Message) models.Message {
	if src.ClientID != "" {
		dst.ClientID = src.ClientID
	}
	if src.CourseID != "" {
		dst.CourseID = src.CourseID
	}
	if src.SenderID != "" {
		dst.SenderID = src.SenderID
	}
	if src.Content != nil {
		dst.Content = src.Content
	}
	if src.Type != "" {
		dst.Type = src.Type
	}
	if !src.CreatedAt.IsZero() {
		dst.CreatedAt = src.CreatedAt
	}
	if src.Attachment != nil {
		dst.Attachment = src.Attachment
	}
	if src.Sender != nil {
		dst.Sender = src.Sender
	}
	if src.ParentMessageID != nil {
		dst.ParentMessageID = src.ParentMessageID
	}
	if src.ReplyCount > dst.ReplyCount {
		dst.ReplyCount = src.ReplyCount
	}
	if src.LatestReply != nil {
		dst.LatestReply = src.LatestReply
	}
	return dst
}
