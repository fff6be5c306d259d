package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"coursechat/internal/models"
	"coursechat/internal/normalize"
)

const (
	loadFailedMessage     = "We couldn't load the reply thread. Please try again."
	loadMoreFailedMessage = "We couldn't load more replies. Please try again."
)

var (
	ErrNoCursor = errors.New("thread has no next page")
	ErrBusy     = errors.New("thread page already loading")
	ErrNotOpen  = errors.New("no thread is open")
)

// Fetcher loads one page of replies of a parent message.
type Fetcher interface {
	Replies(ctx context.Context, courseID, parentID, cursor string) (models.Page, error)
}

// Key identifies a thread.
type Key struct {
	CourseID string
	ParentID string
}

// Entry is the cached state of one thread.
type Entry struct {
	Messages []models.Message
	Cursor   string
	HasMore  bool
}

// View is the render-ready state of the open thread.
type View struct {
	Open     bool
	CourseID string
	ParentID string
	// Parent is nil while the parent message is unknown locally.
	Parent   *models.Message
	Messages []models.Message
	HasMore  bool
	Loading  bool
	Error    string
}

type slot struct {
	Entry
	loading bool
	err     string
}

type Config struct {
	Fetcher Fetcher
	// ParentLookup resolves parent messages from the main course list.
	ParentLookup   func(courseID, messageID string) (models.Message, bool)
	ChangeCallback func()
}

// Cache holds reply pages per (course, parent) pair and the currently open
// thread.
type Cache struct {
	fetcher        Fetcher
	parentLookup   func(courseID, messageID string) (models.Message, bool)
	changeCallback func()

	mu         sync.Mutex
	slots      map[Key]*slot
	active     *Key
	parentHint *models.Message
	generation uint64
}

func New(config Config) *Cache {
	return &Cache{
		fetcher:        config.Fetcher,
		parentLookup:   config.ParentLookup,
		changeCallback: config.ChangeCallback,
		slots:          make(map[Key]*slot),
	}
}

// Merge combines two reply lists: ids are deduplicated with incoming values
// winning, and the result is stably sorted by createdAt ascending so equal
// timestamps keep existing-then-incoming order.
func Merge(existing, incoming []models.Message) []models.Message {
	merged := make([]models.Message, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))
	add := func(m models.Message) {
		m = normalize.Message(m)
		if i, ok := index[m.ID]; ok {
			merged[i] = m
			return
		}
		index[m.ID] = len(merged)
		merged = append(merged, m)
	}
	for _, m := range existing {
		add(m)
	}
	for _, m := range incoming {
		add(m)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}

func (c *Cache) slot(key Key) *slot {
	s, ok := c.slots[key]
	if !ok {
		s = &slot{}
		c.slots[key] = s
	}
	return s
}

func (c *Cache) isActive(key Key) bool {
	return c.active != nil && *c.active == key
}

// invalidate discards every in-flight page load. Must be called with mu held.
func (c *Cache) invalidate() {
	c.generation++
	for _, s := range c.slots {
		s.loading = false
	}
}

func (c *Cache) notify() {
	if c.changeCallback != nil {
		c.changeCallback()
	}
}

// Open makes the thread the displayed one. Cached replies show up
// immediately; hint is used as the parent until the main list knows it.
func (c *Cache) Open(courseID, parentID string, hint *models.Message) {
	c.mu.Lock()
	c.invalidate()
	key := Key{CourseID: courseID, ParentID: parentID}
	c.active = &key
	c.parentHint = hint
	c.slot(key).err = ""
	c.mu.Unlock()

	c.notify()
}

// Close hides the open thread. Pending loads are discarded.
func (c *Cache) Close() {
	c.mu.Lock()
	c.invalidate()
	c.active = nil
	c.parentHint = nil
	c.mu.Unlock()

	c.notify()
}

// Reset drops every cached thread, used when the selected course changes.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.invalidate()
	c.slots = make(map[Key]*slot)
	c.active = nil
	c.parentHint = nil
	c.mu.Unlock()

	c.notify()
}

// Active returns the key of the open thread.
func (c *Cache) Active() (Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return Key{}, false
	}
	return *c.active, true
}

// Entry returns a copy of a cached thread.
func (c *Cache) Entry(courseID, parentID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[Key{CourseID: courseID, ParentID: parentID}]
	if !ok {
		return Entry{}, false
	}
	e := s.Entry
	e.Messages = append([]models.Message(nil), s.Messages...)
	return e, true
}

// LoadReplies fetches the first page of a thread and merges it into the
// cache. Results arriving after the thread was closed, switched or reset are
// dropped.
func (c *Cache) LoadReplies(ctx context.Context, courseID, parentID string) error {
	return c.load(ctx, Key{CourseID: courseID, ParentID: parentID}, false)
}

// LoadMore fetches the page after the cached cursor.
func (c *Cache) LoadMore(ctx context.Context, courseID, parentID string) error {
	return c.load(ctx, Key{CourseID: courseID, ParentID: parentID}, true)
}

func (c *Cache) load(ctx context.Context, key Key, more bool) error {
	c.mu.Lock()
	s := c.slot(key)
	if s.loading {
		c.mu.Unlock()
		return ErrBusy
	}
	cursor := ""
	if more {
		if s.Cursor == "" {
			c.mu.Unlock()
			return ErrNoCursor
		}
		cursor = s.Cursor
	}
	s.loading = true
	s.err = ""
	generation := c.generation
	c.mu.Unlock()
	c.notify()

	page, err := c.fetcher.Replies(ctx, key.CourseID, key.ParentID, cursor)

	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		return nil
	}
	s = c.slot(key)
	s.loading = false
	if err != nil {
		if more {
			s.err = loadMoreFailedMessage
		} else {
			s.err = loadFailedMessage
		}
		c.mu.Unlock()
		c.notify()
		slog.Error("failed to load replies", "course_id", key.CourseID, "parent_id", key.ParentID, "cursor", cursor, "error", err)
		return fmt.Errorf("load replies: %w", err)
	}
	s.Messages = Merge(s.Messages, page.Messages)
	s.Cursor = page.NextCursor
	s.HasMore = page.HasMore
	c.mu.Unlock()

	c.notify()
	return nil
}

// InsertLiveReply merges a reply delivered outside of page loads into its
// thread, whether or not the thread is open. Top-level messages are ignored.
func (c *Cache) InsertLiveReply(m models.Message) bool {
	parentID := m.ParentID()
	if parentID == "" {
		return false
	}
	key := Key{CourseID: m.CourseID, ParentID: parentID}

	c.mu.Lock()
	s := c.slot(key)
	s.Messages = Merge(s.Messages, []models.Message{m})
	active := c.isActive(key)
	c.mu.Unlock()

	if active {
		c.notify()
	}
	return true
}

// RemoveReply drops a reply from its thread, used when a temporary message
// is superseded.
func (c *Cache) RemoveReply(courseID, parentID, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[Key{CourseID: courseID, ParentID: parentID}]
	if !ok {
		return
	}
	out := s.Messages[:0:0]
	for _, m := range s.Messages {
		if m.ID != messageID {
			out = append(out, m)
		}
	}
	s.Messages = out
}

// View returns the open thread. The parent is resolved on every call so a
// thread opened before its parent arrived picks it up once it does.
func (c *Cache) View() View {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return View{}
	}
	key := *c.active
	hint := c.parentHint
	s := c.slot(key)
	v := View{
		Open:     true,
		CourseID: key.CourseID,
		ParentID: key.ParentID,
		Messages: append([]models.Message{}, s.Messages...),
		HasMore:  s.HasMore,
		Loading:  s.loading,
		Error:    s.err,
	}
	c.mu.Unlock()

	if c.parentLookup != nil {
		if parent, ok := c.parentLookup(key.CourseID, key.ParentID); ok {
			v.Parent = &parent
			return v
		}
	}
	if hint != nil && hint.ID == key.ParentID {
		parent := *hint
		v.Parent = &parent
	}
	return v
}
