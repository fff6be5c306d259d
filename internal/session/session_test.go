package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"coursechat/internal/api"
	"coursechat/internal/filestore"
	"coursechat/internal/models"
	"coursechat/internal/storage"
	"coursechat/internal/thread"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOffline = errors.New("offline")

type fakeAPI struct {
	mu sync.Mutex

	courses    []models.Course
	coursesErr error
	messages   map[string][]models.Message
	messageErr error
	// messageGate blocks Messages for a course until closed.
	messageGate map[string]chan struct{}
	replies     map[string]models.Page
	sendErr     error
	uploadErr   error
	markGate    chan struct{}
	pinResp     *models.Message
	unpinResp   *models.Message

	sent      []models.SendRequest
	uploaded  []string
	markReads []string
	pinned    []string
	unpinned  []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		courses: []models.Course{
			{ID: "c1", Code: "CS101", Title: "Introduction to Computer Science"},
			{ID: "c2", Code: "MATH201", Title: "Linear Algebra for Engineers"},
		},
		messages:    make(map[string][]models.Message),
		messageGate: make(map[string]chan struct{}),
		replies:     make(map[string]models.Page),
	}
}

func (f *fakeAPI) MyCourses(context.Context) ([]models.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Course{}, f.courses...), f.coursesErr
}

func (f *fakeAPI) MarkRead(_ context.Context, courseID string) error {
	f.mu.Lock()
	gate := f.markGate
	f.markReads = append(f.markReads, courseID)
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return nil
}

func (f *fakeAPI) Messages(_ context.Context, courseID, _ string) (models.Page, error) {
	f.mu.Lock()
	gate := f.messageGate[courseID]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messageErr != nil {
		return models.Page{}, f.messageErr
	}
	return models.Page{Messages: append([]models.Message{}, f.messages[courseID]...)}, nil
}

func (f *fakeAPI) Replies(_ context.Context, courseID, parentID, cursor string) (models.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replies[parentID+"|"+cursor], nil
}

func (f *fakeAPI) Search(context.Context, string, string, string) (models.Page, error) {
	return models.Page{}, nil
}

func (f *fakeAPI) Send(_ context.Context, courseID string, req models.SendRequest) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		return models.Message{}, f.sendErr
	}
	content := req.Content
	return models.Message{
		ID:              "server-" + req.ClientID,
		ClientID:        req.ClientID,
		CourseID:        courseID,
		SenderID:        "u1",
		Content:         &content,
		Type:            models.MessageTypeText,
		CreatedAt:       time.Now(),
		ParentMessageID: req.ParentMessageID,
	}, nil
}

func (f *fakeAPI) Upload(_ context.Context, courseID string, upload api.Upload) (models.Message, error) {
	data, err := io.ReadAll(upload.Content)
	if err != nil {
		return models.Message{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, string(data))
	if f.uploadErr != nil {
		return models.Message{}, f.uploadErr
	}
	return models.Message{
		ID:         "file-1",
		CourseID:   courseID,
		SenderID:   "u1",
		Type:       models.MessageTypeFile,
		CreatedAt:  time.Now(),
		Attachment: &models.Attachment{FileName: upload.FileName, Size: int64(len(data))},
	}, nil
}

func (f *fakeAPI) Pin(_ context.Context, _, messageID string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = append(f.pinned, messageID)
	return f.pinResp, nil
}

func (f *fakeAPI) Unpin(_ context.Context, _, messageID string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpinned = append(f.unpinned, messageID)
	return f.unpinResp, nil
}

func (f *fakeAPI) Download(_ context.Context, a models.Attachment, w io.Writer) (string, error) {
	_, err := io.WriteString(w, "remote:"+a.FileName)
	return a.FileName, err
}

func (f *fakeAPI) markReadCount(courseID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.markReads {
		if id == courseID {
			n++
		}
	}
	return n
}

type identity struct {
	user models.User
}

func (i identity) User() (models.User, bool) {
	return i.user, i.user.ID != ""
}

var lecturer = identity{user: models.User{ID: "u1", Name: "Dr. Rivera", Role: models.UserRoleLecturer}}

func text(id, courseID, sender, body string, at time.Time) models.Message {
	return models.Message{ID: id, CourseID: courseID, SenderID: sender, Content: &body, Type: models.MessageTypeText, CreatedAt: at}
}

func newSession(t *testing.T, fake *fakeAPI, config Config) *Session {
	t.Helper()
	config.API = fake
	if config.Identity == nil {
		config.Identity = lecturer
	}
	config.SearchDebounce = time.Millisecond
	s := New(context.Background(), config)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func event(t *testing.T, name models.EventType, payload any) models.SocketEvent {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return models.SocketEvent{Event: name, Data: data}
}

func unread(v View, courseID string) int {
	for _, c := range v.Courses {
		if c.ID == courseID {
			return c.UnreadCount
		}
	}
	return -1
}

func TestLoadCourses(t *testing.T) {
	fake := newFakeAPI()
	now := time.Now()
	fake.messages["c1"] = []models.Message{text("m1", "c1", "u2", "hello", now)}
	s := newSession(t, fake, Config{})

	require.NoError(t, s.LoadCourses(context.Background()))

	v := s.View()
	require.NotNil(t, v.Selected)
	assert.Equal(t, "c1", v.Selected.ID, "first course is selected")
	require.Len(t, v.Messages, 1)
	assert.Equal(t, "<p>hello</p>", v.Messages[0].HTML)
	assert.Equal(t, 1, fake.markReadCount("c1"))
	assert.True(t, v.CanPin)
}

func TestLoadCourses_Fallback(t *testing.T) {
	fake := newFakeAPI()
	fake.coursesErr = errOffline
	fake.messageErr = errOffline
	s := newSession(t, fake, Config{})

	err := s.LoadCourses(context.Background())
	assert.ErrorIs(t, err, errOffline)

	v := s.View()
	require.Len(t, v.Courses, 2)
	assert.Equal(t, "CS101", v.Courses[0].Code)
	require.NotNil(t, v.Selected)
	assert.Equal(t, "course-1", v.Selected.ID)

	ids := []string{}
	for _, m := range v.Messages {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"message-1", "message-2"}, ids)
	assert.Zero(t, fake.markReadCount("course-1"), "fallback history is not marked read")
}

func TestLoadCourses_RemembersLastCourse(t *testing.T) {
	db, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	require.NoError(t, db.SetLastCourse("c2"))

	s := newSession(t, newFakeAPI(), Config{Preferences: db})
	require.NoError(t, s.LoadCourses(context.Background()))
	assert.Equal(t, "c2", s.ActiveCourse())
}

func TestSelectCourse_ResetsState(t *testing.T) {
	fake := newFakeAPI()
	now := time.Now()
	parent := text("p1", "c1", "u2", "question", now)
	fake.messages["c1"] = []models.Message{parent}
	fake.replies["p1|"] = models.Page{Messages: []models.Message{text("r1", "c1", "u3", "answer", now.Add(time.Second))}}
	s := newSession(t, fake, Config{})
	require.NoError(t, s.LoadCourses(context.Background()))

	require.NoError(t, s.ReplyTo(context.Background(), parent))
	s.SetSearchQuery("question")

	v := s.View()
	require.True(t, v.Thread.Open)
	require.Len(t, v.Thread.Replies, 1)
	require.NotNil(t, v.ReplyTarget)
	assert.Equal(t, "p1", v.ReplyTarget.ID)
	assert.Equal(t, "question", v.Search.Query)

	require.NoError(t, s.SelectCourse(context.Background(), "c2"))

	v = s.View()
	assert.Equal(t, "c2", v.Selected.ID)
	assert.False(t, v.Thread.Open)
	assert.Nil(t, v.ReplyTarget)
	assert.Empty(t, v.Search.Query)
	assert.Empty(t, v.Search.Results)
	assert.False(t, v.Search.Loading)

	_, cached := s.threads.Entry("c1", "p1")
	assert.False(t, cached, "thread cache is cleared on course change")
}

func TestSelectCourse_StaleHistoryDropped(t *testing.T) {
	fake := newFakeAPI()
	now := time.Now()
	fake.messages["c1"] = []models.Message{text("old", "c1", "u2", "late", now)}
	fake.messages["c2"] = []models.Message{text("new", "c2", "u2", "fresh", now)}
	gate := make(chan struct{})
	fake.messageGate["c1"] = gate
	s := newSession(t, fake, Config{})

	done := make(chan error, 1)
	go func() { done <- s.SelectCourse(context.Background(), "c1") }()
	require.Eventually(t, func() bool { return s.ActiveCourse() == "c1" }, time.Second, time.Millisecond)

	require.NoError(t, s.SelectCourse(context.Background(), "c2"))
	close(gate)
	require.NoError(t, <-done)

	assert.Empty(t, s.store.GetMessages("c1"), "late history must not be applied")
	assert.Zero(t, fake.markReadCount("c1"))
	v := s.View()
	require.Len(t, v.Messages, 1)
	assert.Equal(t, "new", v.Messages[0].ID)
}

func TestUnreadFlow(t *testing.T) {
	fake := newFakeAPI()
	s := newSession(t, fake, Config{})
	require.NoError(t, s.LoadCourses(context.Background()))
	require.Equal(t, "c1", s.ActiveCourse())

	now := time.Now()
	s.Handle(event(t, models.EventNewMessage, text("x1", "c2", "u2", "hi", now)))
	s.Handle(event(t, models.EventNewMessage, text("x2", "c2", "u1", "mine", now)))
	assert.Equal(t, 1, unread(s.View(), "c2"), "own messages do not count")

	before := fake.markReadCount("c1")
	s.Handle(event(t, models.EventNewMessage, text("x3", "c1", "u2", "hello", now)))
	require.Eventually(t, func() bool { return fake.markReadCount("c1") == before+1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, unread(s.View(), "c1"))

	require.NoError(t, s.SelectCourse(context.Background(), "c2"))
	assert.Equal(t, 0, unread(s.View(), "c2"))
}

func TestMarkRead_Deduplicated(t *testing.T) {
	fake := newFakeAPI()
	fake.markGate = make(chan struct{})
	s := newSession(t, fake, Config{})

	var wg sync.WaitGroup
	for range 3 {
		wg.Go(func() {
			_ = s.MarkRead(context.Background(), "c1")
		})
	}
	require.Eventually(t, func() bool { return fake.markReadCount("c1") == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(fake.markGate)
	wg.Wait()

	assert.Equal(t, 1, fake.markReadCount("c1"), "concurrent calls share one request")
}

func TestMarkRead_KeepsMessagesCountedInFlight(t *testing.T) {
	fake := newFakeAPI()
	s := newSession(t, fake, Config{})
	require.NoError(t, s.LoadCourses(context.Background()))

	now := time.Now()
	s.Handle(event(t, models.EventNewMessage, text("x1", "c2", "u2", "first", now)))
	require.Equal(t, 1, unread(s.View(), "c2"))

	gate := make(chan struct{})
	fake.mu.Lock()
	fake.markGate = gate
	fake.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.MarkRead(context.Background(), "c2")
	}()
	require.Eventually(t, func() bool { return fake.markReadCount("c2") == 1 }, time.Second, time.Millisecond)

	s.Handle(event(t, models.EventNewMessage, text("x2", "c2", "u2", "second", now)))
	assert.Equal(t, 2, unread(s.View(), "c2"))

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, unread(s.View(), "c2"), "message that arrived during the request stays unread")
}

func TestSend(t *testing.T) {
	fake := newFakeAPI()
	s := newSession(t, fake, Config{})
	require.NoError(t, s.LoadCourses(context.Background()))

	_, err := s.Send(context.Background(), "   ", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	m, err := s.Send(context.Background(), "hello class", "")
	require.NoError(t, err)
	require.Len(t, fake.sent, 1)
	assert.NotEmpty(t, fake.sent[0].ClientID)
	assert.Nil(t, fake.sent[0].ParentMessageID)

	v := s.View()
	require.Len(t, v.Messages, 1)
	assert.Equal(t, m.ID, v.Messages[0].ID)
	assert.True(t, v.Messages[0].Own)
	assert.False(t, v.Messages[0].Pending)

	s.Handle(event(t, models.EventNewMessage, m))
	assert.Len(t, s.View().Messages, 1, "socket echo of a delivered message is deduplicated")
}

func TestSend_ReplyTarget(t *testing.T) {
	fake := newFakeAPI()
	parent := text("p1", "c1", "u2", "question", time.Now())
	fake.messages["c1"] = []models.Message{parent}
	s := newSession(t, fake, Config{})
	require.NoError(t, s.LoadCourses(context.Background()))
	require.NoError(t, s.ReplyTo(context.Background(), parent))

	_, err := s.Send(context.Background(), "answer", "")
	require.NoError(t, err)
	require.NotNil(t, fake.sent[0].ParentMessageID)
	assert.Equal(t, "p1", *fake.sent[0].ParentMessageID)

	v := s.View()
	assert.Nil(t, v.ReplyTarget, "reply target is consumed")
	require.Len(t, v.Thread.Replies, 1)
	assert.Equal(t, "answer", v.Thread.Replies[0].Text())
}

func TestSend_OfflineThenEcho(t *testing.T) {
	fake := newFakeAPI()
	fake.sendErr = errOffline
	s := newSession(t, fake, Config{})
	require.NoError(t, s.LoadCourses(context.Background()))

	temp, err := s.Send(context.Background(), "are we meeting?", "")
	require.ErrorIs(t, err, errOffline)
	assert.True(t, strings.HasPrefix(temp.ID, "temp-"))
	assert.Equal(t, "Dr. Rivera", temp.Sender.Name)

	v := s.View()
	require.Len(t, v.Messages, 1, "exactly one optimistic message")
	assert.True(t, v.Messages[0].Pending)

	echo := text("srv-1", "c1", "u1", "are we meeting?", time.Now())
	s.Handle(event(t, models.EventNewMessage, echo))

	v = s.View()
	require.Len(t, v.Messages, 1, "echo replaces the optimistic message")
	assert.Equal(t, "srv-1", v.Messages[0].ID)

	s.Handle(event(t, models.EventNewMessage, text("srv-2", "c1", "u1", "are we meeting?", time.Now())))
	assert.Len(t, s.View().Messages, 2, "a claimed echo key is not reused")
}

func TestSend_EchoWithClientID(t *testing.T) {
	fake := newFakeAPI()
	fake.sendErr = errOffline
	s := newSession(t, fake, Config{})
	require.NoError(t, s.LoadCourses(context.Background()))

	temp, err := s.Send(context.Background(), "draft", "")
	require.Error(t, err)

	echo := text("srv-1", "c1", "u1", "edited on server", time.Now())
	echo.ClientID = temp.ClientID
	s.Handle(event(t, models.EventNewMessage, echo))

	v := s.View()
	require.Len(t, v.Messages, 1)
	assert.Equal(t, "srv-1", v.Messages[0].ID)
}

func TestSend_RequiresSession(t *testing.T) {
	s := newSession(t, newFakeAPI(), Config{Identity: identity{}})
	_, err := s.Send(context.Background(), "hi", "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	s = newSession(t, newFakeAPI(), Config{})
	_, err = s.Send(context.Background(), "hi", "")
	assert.ErrorIs(t, err, ErrNoCourse)
}

func newPreviewStore(t *testing.T) *filestore.Previews {
	t.Helper()
	dir := t.TempDir()
	files, err := filestore.NewLocalFileStore(filepath.Join(dir, "previews"))
	require.NoError(t, err)
	db, err := storage.NewBboltStorage(filepath.Join(dir, "previews.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return filestore.NewPreviews(files, db)
}

func TestUpload(t *testing.T) {
	fake := newFakeAPI()
	previews := newPreviewStore(t)
	s := newSession(t, fake, Config{Previews: previews})
	require.NoError(t, s.LoadCourses(context.Background()))

	m, err := s.Upload(context.Background(), "notes.txt", strings.NewReader("lecture notes"), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"lecture notes"}, fake.uploaded)
	assert.Equal(t, "file-1", m.ID)

	v := s.View()
	require.Len(t, v.Messages, 1)
	assert.Equal(t, "notes.txt • 13 B", v.Messages[0].AttachmentLabel)
}

func TestUpload_OfflineKeepsPreview(t *testing.T) {
	fake := newFakeAPI()
	fake.uploadErr = errOffline
	previews := newPreviewStore(t)
	s := newSession(t, fake, Config{Previews: previews})
	require.NoError(t, s.LoadCourses(context.Background()))

	temp, err := s.Upload(context.Background(), "notes.txt", strings.NewReader("lecture notes"), "")
	require.ErrorIs(t, err, errOffline)
	assert.True(t, strings.HasPrefix(temp.ID, "temp-file-"))
	require.NotNil(t, temp.Attachment)
	assert.Equal(t, int64(len("lecture notes")), temp.Attachment.Size)
	assert.True(t, strings.HasPrefix(temp.Attachment.URL, "file://"))

	v := s.View()
	require.Len(t, v.Messages, 1)
	assert.Equal(t, "Attachment • notes.txt", v.Messages[0].Preview)

	var buf strings.Builder
	name, err := s.Download(context.Background(), temp, &buf)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", name)
	assert.Equal(t, "lecture notes", buf.String(), "pending files are served from the preview")

	preview, ok := previews.Get(temp.ID)
	require.True(t, ok)
	require.NoError(t, s.Close())
	assert.NoFileExists(t, preview.Path)
}

func TestPin(t *testing.T) {
	fake := newFakeAPI()
	now := time.Now()
	fake.messages["c1"] = []models.Message{
		text("m1", "c1", "u2", "one", now),
		text("m2", "c1", "u2", "two", now),
	}
	s := newSession(t, fake, Config{})
	require.NoError(t, s.LoadCourses(context.Background()))

	require.NoError(t, s.Pin(context.Background(), "m1"))
	assert.Equal(t, "m1", s.View().PinnedID)

	pinnedBy := "u1"
	resp := text("m2", "c1", "u2", "two", now)
	resp.PinnedByID = &pinnedBy
	fake.pinResp = &resp
	require.NoError(t, s.Pin(context.Background(), "m2"))

	v := s.View()
	assert.Equal(t, "m2", v.PinnedID)
	pinned := 0
	for _, m := range v.Messages {
		if m.IsPinned {
			pinned++
		}
	}
	assert.Equal(t, 1, pinned)

	require.NoError(t, s.Unpin(context.Background(), "m2"))
	assert.Empty(t, s.View().PinnedID)
	assert.Equal(t, []string{"m1", "m2"}, fake.pinned)
	assert.Equal(t, []string{"m2"}, fake.unpinned)
}

func TestSelectCourse_HistoryWithTwoPins(t *testing.T) {
	fake := newFakeAPI()
	now := time.Now()
	earlier, later := now.Add(-time.Hour), now.Add(-time.Minute)
	m1 := text("m1", "c1", "u2", "old announcement", now)
	m1.IsPinned, m1.PinnedAt = true, &earlier
	m2 := text("m2", "c1", "u2", "new announcement", now)
	m2.IsPinned, m2.PinnedAt = true, &later
	fake.messages["c1"] = []models.Message{m2, m1}
	s := newSession(t, fake, Config{})

	require.NoError(t, s.SelectCourse(context.Background(), "c1"))

	v := s.View()
	pinned := 0
	for _, m := range v.Messages {
		if m.IsPinned {
			pinned++
		}
	}
	assert.Equal(t, 1, pinned)
	assert.Equal(t, "m2", v.PinnedID, "most recently pinned message is kept")
}

func TestUnpin_AppliesResponse(t *testing.T) {
	fake := newFakeAPI()
	now := time.Now()
	fake.messages["c1"] = []models.Message{text("m1", "c1", "u2", "draft", now)}
	s := newSession(t, fake, Config{})
	require.NoError(t, s.LoadCourses(context.Background()))
	require.NoError(t, s.Pin(context.Background(), "m1"))

	edited := text("m1", "c1", "u2", "final", now)
	edited.IsPinned = true
	fake.unpinResp = &edited
	require.NoError(t, s.Unpin(context.Background(), "m1"))

	v := s.View()
	require.Len(t, v.Messages, 1)
	assert.Equal(t, "final", v.Messages[0].Text())
	assert.False(t, v.Messages[0].IsPinned)
	assert.Empty(t, v.PinnedID)
}

func TestThreadNavigation(t *testing.T) {
	fake := newFakeAPI()
	now := time.Now()
	parent := text("p1", "c1", "u2", "question", now)
	fake.messages["c1"] = []models.Message{parent}
	fake.replies["p1|"] = models.Page{
		Messages:   []models.Message{text("r2", "c1", "u3", "second", now.Add(2*time.Second))},
		NextCursor: "next",
		HasMore:    true,
	}
	fake.replies["p1|next"] = models.Page{
		Messages: []models.Message{text("r1", "c1", "u3", "first", now.Add(time.Second))},
	}
	s := newSession(t, fake, Config{})
	require.NoError(t, s.LoadCourses(context.Background()))

	assert.ErrorIs(t, s.ThreadLoadMore(context.Background()), thread.ErrNotOpen)

	other := text("z", "c2", "u2", "elsewhere", now)
	assert.ErrorIs(t, s.OpenThread(context.Background(), other), ErrWrongCourse)

	reply := text("r2", "c1", "u3", "second", now.Add(2*time.Second))
	reply.ParentMessageID = &parent.ID
	require.NoError(t, s.OpenThread(context.Background(), reply))

	v := s.View()
	require.True(t, v.Thread.Open)
	assert.Equal(t, "p1", v.Thread.ParentID)
	require.NotNil(t, v.Thread.ParentView)
	assert.Equal(t, "question", v.Thread.ParentView.Text())
	assert.True(t, v.Thread.HasMore)

	require.NoError(t, s.ThreadLoadMore(context.Background()))
	v = s.View()
	require.Len(t, v.Thread.Replies, 2)
	assert.Equal(t, "r1", v.Thread.Replies[0].ID)
	assert.False(t, v.Thread.HasMore)

	s.CloseThread()
	assert.False(t, s.View().Thread.Open)
}

func TestDownload(t *testing.T) {
	s := newSession(t, newFakeAPI(), Config{})
	m := models.Message{ID: "m", Attachment: &models.Attachment{FileName: "slides.pdf"}}

	var buf strings.Builder
	name, err := s.Download(context.Background(), m, &buf)
	require.NoError(t, err)
	assert.Equal(t, "slides.pdf", name)
	assert.Equal(t, "remote:slides.pdf", buf.String())

	_, err = s.Download(context.Background(), models.Message{ID: "x"}, &buf)
	assert.Error(t, err)
}
