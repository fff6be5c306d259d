// Package live routes socket events into the message store, the pin
// reconciler and the thread cache.
package live

import (
	"encoding/json"
	"log/slog"

	"coursechat/internal/models"
	"coursechat/internal/normalize"
)

type MessageStore interface {
	AppendMessage(courseID string, m models.Message) bool
	Replace(courseID, oldID string, m models.Message) bool
}

type PinReconciler interface {
	Pin(courseID string, msg *models.Message, messageID string)
	Unpin(courseID, messageID string)
	Heal(courseID string)
}

type ThreadCache interface {
	InsertLiveReply(m models.Message) bool
	RemoveReply(courseID, parentID, messageID string)
}

// CourseTracker is the page state the router consults for unread handling.
type CourseTracker interface {
	ActiveCourse() string
	CurrentUserID() string
	IncrementUnread(courseID string)
	// RequestMarkRead must not block.
	RequestMarkRead(courseID string)
}

// EchoMatcher pairs a server message with a local optimistic message it
// supersedes.
type EchoMatcher interface {
	Claim(m models.Message) (tempID string, ok bool)
}

type Config struct {
	Store   MessageStore
	Pins    PinReconciler
	Threads ThreadCache
	Courses CourseTracker
	// Echoes is optional.
	Echoes EchoMatcher
}

type Router struct {
	store   MessageStore
	pins    PinReconciler
	threads ThreadCache
	courses CourseTracker
	echoes  EchoMatcher
}

func NewRouter(config Config) *Router {
	return &Router{
		store:   config.Store,
		pins:    config.Pins,
		threads: config.Threads,
		courses: config.Courses,
		echoes:  config.Echoes,
	}
}

// Handle dispatches one socket frame. Unknown events and malformed payloads
// are logged and dropped.
func (r *Router) Handle(event models.SocketEvent) {
	switch event.Event {
	case models.EventNewMessage:
		r.NewMessage(event.Data)
	case models.EventMessagePinned:
		r.Pinned(event.Data)
	case models.EventMessageUnpinned:
		r.Unpinned(event.Data)
	default:
		slog.Debug("ignoring socket event", "event", event.Event)
	}
}

func (r *Router) NewMessage(raw json.RawMessage) {
	if !normalize.IsMessage(raw) {
		slog.Warn("dropping malformed message event", "payload", string(raw))
		return
	}
	m, _ := normalize.Decode(raw)
	courseID := m.CourseID

	appended := false
	if tempID, ok := r.claim(m); ok {
		appended = r.store.Replace(courseID, tempID, m)
		if parentID := m.ParentID(); parentID != "" {
			r.threads.RemoveReply(courseID, parentID, tempID)
		}
	} else {
		appended = r.store.AppendMessage(courseID, m)
	}
	if appended && m.IsPinned {
		r.pins.Heal(courseID)
	}

	r.threads.InsertLiveReply(m)

	if courseID == r.courses.ActiveCourse() {
		r.courses.RequestMarkRead(courseID)
		return
	}
	if m.AuthorID() != r.courses.CurrentUserID() {
		r.courses.IncrementUnread(courseID)
	}
}

func (r *Router) claim(m models.Message) (string, bool) {
	if r.echoes == nil {
		return "", false
	}
	return r.echoes.Claim(m)
}

func (r *Router) Pinned(raw json.RawMessage) {
	ev, ok := normalize.PinEvent(raw)
	if !ok {
		slog.Warn("dropping unresolvable pin event", "payload", string(raw))
		return
	}
	r.pins.Pin(ev.CourseID, ev.Message, ev.MessageID)
}

func (r *Router) Unpinned(raw json.RawMessage) {
	ev, ok := normalize.PinEvent(raw)
	if !ok {
		slog.Warn("dropping unresolvable unpin event", "payload", string(raw))
		return
	}
	messageID := ev.MessageID
	if messageID == "" && ev.Message != nil {
		messageID = ev.Message.ID
	}
	r.pins.Unpin(ev.CourseID, messageID)
}
