// Package session is the state of one signed-in chat window: the course
// list, the selected course and everything shown for it.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"coursechat/internal/api"
	"coursechat/internal/chat"
	"coursechat/internal/filestore"
	"coursechat/internal/live"
	"coursechat/internal/models"
	"coursechat/internal/pin"
	"coursechat/internal/search"
	"coursechat/internal/storage"
	"coursechat/internal/stubs"
	"coursechat/internal/thread"

	"github.com/c-pro/geche"
	"golang.org/x/sync/singleflight"
)

const DefaultEchoWindow = 2 * time.Minute

var (
	ErrNoCourse         = errors.New("no course selected")
	ErrNotAuthenticated = errors.New("not signed in")
	ErrWrongCourse      = errors.New("message belongs to another course")
	ErrEmptyMessage     = errors.New("message is empty")
)

// API is the part of the REST client the session drives.
type API interface {
	MyCourses(ctx context.Context) ([]models.Course, error)
	MarkRead(ctx context.Context, courseID string) error
	Messages(ctx context.Context, courseID, cursor string) (models.Page, error)
	Replies(ctx context.Context, courseID, parentID, cursor string) (models.Page, error)
	Search(ctx context.Context, courseID, query, cursor string) (models.Page, error)
	Send(ctx context.Context, courseID string, req models.SendRequest) (models.Message, error)
	Upload(ctx context.Context, courseID string, upload api.Upload) (models.Message, error)
	Pin(ctx context.Context, courseID, messageID string) (*models.Message, error)
	Unpin(ctx context.Context, courseID, messageID string) (*models.Message, error)
	Download(ctx context.Context, attachment models.Attachment, w io.Writer) (string, error)
}

// Identity reports the signed-in user.
type Identity interface {
	User() (models.User, bool)
}

// Preferences remembers the last selected course between runs.
type Preferences interface {
	LastCourse() (string, error)
	SetLastCourse(courseID string) error
}

type Config struct {
	API      API
	Identity Identity
	// Previews and Preferences are optional.
	Previews       *filestore.Previews
	Preferences    Preferences
	SearchDebounce time.Duration
	// EchoWindow is how long a failed send waits for its server echo.
	EchoWindow     time.Duration
	ChangeCallback func()
}

type Session struct {
	ctx            context.Context
	api            API
	identity       Identity
	previews       *filestore.Previews
	prefs          Preferences
	changeCallback func()

	store   *chat.Store
	pins    *pin.Reconciler
	threads *thread.Cache
	search  *search.Controller
	router  *live.Router

	echoMu sync.Mutex
	echoes geche.Geche[string, string]

	markRead singleflight.Group
	wg       sync.WaitGroup

	mu              sync.Mutex
	courses         []models.Course
	selected        string
	generation      uint64
	coursesLoading  bool
	messagesLoading bool
	sending         bool
	pinning         string
	replyTarget     *models.Message
}

// New wires the message store, pin reconciler, thread cache, search
// controller and live event router of one window. ctx bounds background
// work such as debounced searches and mark-read calls.
func New(ctx context.Context, config Config) *Session {
	if config.EchoWindow <= 0 {
		config.EchoWindow = DefaultEchoWindow
	}

	s := &Session{
		ctx:            ctx,
		api:            config.API,
		identity:       config.Identity,
		previews:       config.Previews,
		prefs:          config.Preferences,
		changeCallback: config.ChangeCallback,
		echoes:         geche.NewMapTTLCache[string, string](ctx, config.EchoWindow, config.EchoWindow),
	}

	s.store = chat.NewStore(chat.Config{
		ChangeCallback: func(string) { s.notify() },
	})
	s.pins = pin.NewReconciler(s.store)
	s.threads = thread.New(thread.Config{
		Fetcher:        config.API,
		ParentLookup:   s.store.Get,
		ChangeCallback: s.notify,
	})
	s.search = search.New(ctx, search.Config{
		Searcher:       config.API,
		Debounce:       config.SearchDebounce,
		ChangeCallback: s.notify,
	})
	s.router = live.NewRouter(live.Config{
		Store:   s.store,
		Pins:    s.pins,
		Threads: s.threads,
		Courses: s,
		Echoes:  s,
	})

	return s
}

func (s *Session) notify() {
	if s.changeCallback != nil {
		s.changeCallback()
	}
}

// Handle feeds one socket event into the window state.
func (s *Session) Handle(event models.SocketEvent) {
	s.router.Handle(event)
}

// Close stops background work and releases preview files.
func (s *Session) Close() error {
	s.search.Stop()
	s.wg.Wait()
	if s.previews == nil {
		return nil
	}
	return s.previews.ReleaseAll()
}

func (s *Session) user() (models.User, error) {
	if s.identity == nil {
		return models.User{}, ErrNotAuthenticated
	}
	u, ok := s.identity.User()
	if !ok {
		return models.User{}, ErrNotAuthenticated
	}
	return u, nil
}

func (s *Session) selectedCourse() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == "" {
		return "", ErrNoCourse
	}
	return s.selected, nil
}

// LoadCourses fetches the course list, falling back to sample courses when
// the server cannot be reached, and selects a course if none is selected.
func (s *Session) LoadCourses(ctx context.Context) error {
	s.mu.Lock()
	s.coursesLoading = true
	s.mu.Unlock()
	s.notify()

	courses, err := s.api.MyCourses(ctx)
	if err != nil {
		slog.Error("failed to load courses", "error", err)
		courses = stubs.CoursesList()
		err = fmt.Errorf("load courses: %w", err)
	}

	s.mu.Lock()
	s.courses = courses
	s.coursesLoading = false
	pick := ""
	if s.selected == "" && len(courses) > 0 {
		pick = s.preferredCourse(courses)
	}
	s.mu.Unlock()
	s.notify()

	if pick != "" {
		if selErr := s.SelectCourse(ctx, pick); selErr != nil {
			slog.Warn("failed to load initial course", "course_id", pick, "error", selErr)
		}
	}
	return err
}

// preferredCourse returns the remembered course when it is still listed,
// else the first one. Must be called with mu held.
func (s *Session) preferredCourse(courses []models.Course) string {
	if s.prefs != nil {
		last, err := s.prefs.LastCourse()
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("failed to read last course", "error", err)
		}
		for _, c := range courses {
			if last != "" && c.ID == last {
				return last
			}
		}
	}
	return courses[0].ID
}

// SelectCourse switches the window to another course. Search, thread and
// reply state are reset, history is loaded (sample messages when the server
// fails) and the course is marked read. History arriving after another
// course was selected is dropped.
func (s *Session) SelectCourse(ctx context.Context, courseID string) error {
	if courseID == "" {
		return ErrNoCourse
	}

	s.mu.Lock()
	if courseID == s.selected {
		s.mu.Unlock()
		return nil
	}
	s.selected = courseID
	s.generation++
	generation := s.generation
	s.replyTarget = nil
	s.messagesLoading = true
	s.mu.Unlock()

	s.threads.Reset()
	s.search.SetCourse(courseID)
	if s.prefs != nil {
		if err := s.prefs.SetLastCourse(courseID); err != nil {
			slog.Warn("failed to remember course", "course_id", courseID, "error", err)
		}
	}
	s.notify()

	page, err := s.api.Messages(ctx, courseID, "")

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return nil
	}
	s.messagesLoading = false
	s.mu.Unlock()

	if err != nil {
		slog.Error("failed to load messages", "course_id", courseID, "error", err)
		s.store.SetMessages(courseID, stubs.MessagesFor(courseID))
		s.pins.Heal(courseID)
		return fmt.Errorf("load messages: %w", err)
	}
	s.store.SetMessages(courseID, page.Messages)
	s.pins.Heal(courseID)

	if err := s.MarkRead(ctx, courseID); err != nil {
		slog.Warn("failed to mark course as read", "course_id", courseID, "error", err)
	}
	return nil
}

// MarkRead tells the server the course was read and clears the unread
// messages counted before the request went out. Messages counted while it
// was in flight stay unread. Concurrent calls for one course share a
// request.
func (s *Session) MarkRead(ctx context.Context, courseID string) error {
	_, err, _ := s.markRead.Do(courseID, func() (any, error) {
		seen := s.unread(courseID)
		if err := s.api.MarkRead(ctx, courseID); err != nil {
			return nil, err
		}

		s.mu.Lock()
		for i := range s.courses {
			if s.courses[i].ID == courseID {
				s.courses[i].UnreadCount = max(s.courses[i].UnreadCount-seen, 0)
			}
		}
		s.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	s.notify()
	return nil
}

func (s *Session) unread(courseID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.courses {
		if c.ID == courseID {
			return c.UnreadCount
		}
	}
	return 0
}

// ActiveCourse implements live.CourseTracker.
func (s *Session) ActiveCourse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *Session) CurrentUserID() string {
	u, err := s.user()
	if err != nil {
		return ""
	}
	return u.ID
}

func (s *Session) IncrementUnread(courseID string) {
	s.mu.Lock()
	for i := range s.courses {
		if s.courses[i].ID == courseID {
			s.courses[i].UnreadCount++
		}
	}
	s.mu.Unlock()
	s.notify()
}

// RequestMarkRead marks the course read in the background.
func (s *Session) RequestMarkRead(courseID string) {
	s.wg.Go(func() {
		if err := s.MarkRead(s.ctx, courseID); err != nil {
			slog.Warn("failed to mark course as read", "course_id", courseID, "error", err)
		}
	})
}

// Pin pins a message of the selected course. State changes only when the
// server accepts.
func (s *Session) Pin(ctx context.Context, messageID string) error {
	return s.setPinned(ctx, messageID, true)
}

func (s *Session) Unpin(ctx context.Context, messageID string) error {
	return s.setPinned(ctx, messageID, false)
}

func (s *Session) setPinned(ctx context.Context, messageID string, pinned bool) error {
	courseID, err := s.selectedCourse()
	if err != nil {
		return err
	}
	if _, err := s.user(); err != nil {
		return err
	}

	s.mu.Lock()
	s.pinning = messageID
	s.mu.Unlock()
	s.notify()
	defer func() {
		s.mu.Lock()
		s.pinning = ""
		s.mu.Unlock()
		s.notify()
	}()

	if pinned {
		resp, err := s.api.Pin(ctx, courseID, messageID)
		if err != nil {
			slog.Error("failed to pin message", "course_id", courseID, "message_id", messageID, "error", err)
			return fmt.Errorf("pin: %w", err)
		}
		if resp != nil {
			m := *resp
			m.IsPinned = true
			s.pins.Pin(courseID, &m, messageID)
			return nil
		}
		s.pins.Pin(courseID, nil, messageID)
		return nil
	}

	resp, err := s.api.Unpin(ctx, courseID, messageID)
	if err != nil {
		slog.Error("failed to unpin message", "course_id", courseID, "message_id", messageID, "error", err)
		return fmt.Errorf("unpin: %w", err)
	}
	if resp != nil && resp.ID != "" {
		messageID = resp.ID
		if _, ok := s.store.Get(courseID, messageID); ok {
			s.store.Merge(courseID, *resp)
		}
	}
	s.pins.Unpin(courseID, messageID)
	return nil
}

// OpenThread shows the replies of the thread m belongs to.
func (s *Session) OpenThread(ctx context.Context, m models.Message) error {
	courseID, parentID, err := s.threadOf(m)
	if err != nil {
		return err
	}
	s.openThread(courseID, parentID, m)
	return s.threads.LoadReplies(ctx, courseID, parentID)
}

// ReplyTo opens the thread of m and targets the next send at it.
func (s *Session) ReplyTo(ctx context.Context, m models.Message) error {
	courseID, parentID, err := s.threadOf(m)
	if err != nil {
		return err
	}
	s.openThread(courseID, parentID, m)

	target := m
	if parent, ok := s.lookup(courseID, parentID); ok {
		target = parent
	}
	s.mu.Lock()
	s.replyTarget = &target
	s.mu.Unlock()
	s.notify()

	return s.threads.LoadReplies(ctx, courseID, parentID)
}

func (s *Session) threadOf(m models.Message) (courseID, parentID string, err error) {
	courseID, err = s.selectedCourse()
	if err != nil {
		return "", "", err
	}
	if m.CourseID != courseID {
		return "", "", ErrWrongCourse
	}
	parentID = m.ParentID()
	if parentID == "" {
		parentID = m.ID
	}
	return courseID, parentID, nil
}

func (s *Session) openThread(courseID, parentID string, m models.Message) {
	var hint *models.Message
	if m.ID == parentID {
		hint = &m
	}
	s.threads.Open(courseID, parentID, hint)
}

// lookup finds a message in the course list or any cached thread.
func (s *Session) lookup(courseID, messageID string) (models.Message, bool) {
	if m, ok := s.store.Get(courseID, messageID); ok {
		return m, true
	}
	if key, ok := s.threads.Active(); ok && key.CourseID == courseID {
		if entry, ok := s.threads.Entry(key.CourseID, key.ParentID); ok {
			for _, m := range entry.Messages {
				if m.ID == messageID {
					return m, true
				}
			}
		}
	}
	return models.Message{}, false
}

func (s *Session) CancelReply() {
	s.mu.Lock()
	s.replyTarget = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Session) CloseThread() {
	s.mu.Lock()
	s.replyTarget = nil
	s.mu.Unlock()
	s.threads.Close()
}

// ThreadLoadMore fetches the next page of the open thread.
func (s *Session) ThreadLoadMore(ctx context.Context) error {
	key, ok := s.threads.Active()
	if !ok {
		return thread.ErrNotOpen
	}
	return s.threads.LoadMore(ctx, key.CourseID, key.ParentID)
}

func (s *Session) SetSearchQuery(query string) {
	s.search.SetQuery(query)
}

func (s *Session) ClearSearch() {
	s.search.Clear()
}

func (s *Session) SearchLoadMore(ctx context.Context) error {
	return s.search.LoadMore(ctx)
}

// Download writes the attachment of m to w and returns the file name to
// save it under.
func (s *Session) Download(ctx context.Context, m models.Message, w io.Writer) (string, error) {
	if m.Attachment == nil {
		return "", fmt.Errorf("message %s has no attachment", m.ID)
	}
	if s.previews != nil {
		if preview, ok := s.previews.Get(m.ID); ok {
			rc, err := s.previews.Open(preview.ID)
			if err != nil {
				return "", err
			}
			defer func() {
				_ = rc.Close()
			}()
			if _, err := io.Copy(w, rc); err != nil {
				return "", fmt.Errorf("copy preview: %w", err)
			}
			return preview.FileName, nil
		}
	}
	return s.api.Download(ctx, *m.Attachment, w)
}

// Message finds a message of the selected course by id, including replies
// of the open thread.
func (s *Session) Message(id string) (models.Message, bool) {
	courseID, err := s.selectedCourse()
	if err != nil {
		return models.Message{}, false
	}
	return s.lookup(courseID, id)
}
