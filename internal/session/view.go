package session

import (
	"strings"

	"coursechat/internal/content"
	"coursechat/internal/models"
	"coursechat/internal/search"
	"coursechat/internal/thread"
)

// MessageView is a message with its display strings.
type MessageView struct {
	models.Message
	HTML            string
	Preview         string
	LatestReply     string
	AttachmentLabel string
	// Pending marks an optimistic message the server has not accepted.
	Pending bool
	Own     bool
}

// ThreadView is the open thread with display strings.
type ThreadView struct {
	thread.View
	ParentView *MessageView
	Replies    []MessageView
}

// View is a render-ready snapshot of the window.
type View struct {
	User     models.User
	SignedIn bool
	CanPin   bool

	Courses        []models.Course
	Selected       *models.Course
	CoursesLoading bool

	Messages        []MessageView
	MessagesLoading bool
	PinnedID        string
	Sending         bool
	Pinning         string

	ReplyTarget  *models.Message
	ReplyPreview string

	Thread ThreadView
	Search search.View
}

func (s *Session) View() View {
	user, signedIn := models.User{}, false
	if s.identity != nil {
		user, signedIn = s.identity.User()
	}

	s.mu.Lock()
	v := View{
		User:            user,
		SignedIn:        signedIn,
		CanPin:          signedIn && user.Role == models.UserRoleLecturer,
		Courses:         append([]models.Course{}, s.courses...),
		CoursesLoading:  s.coursesLoading,
		MessagesLoading: s.messagesLoading,
		Sending:         s.sending,
		Pinning:         s.pinning,
	}
	selected := s.selected
	if s.replyTarget != nil {
		target := *s.replyTarget
		v.ReplyTarget = &target
		v.ReplyPreview = content.Preview(&target)
	}
	s.mu.Unlock()

	for i := range v.Courses {
		if v.Courses[i].ID == selected {
			v.Selected = &v.Courses[i]
		}
	}
	if selected == "" {
		v.Search = s.search.View()
		return v
	}

	for _, m := range s.store.GetMessages(selected) {
		v.Messages = append(v.Messages, render(m, user.ID))
		if m.IsPinned {
			v.PinnedID = m.ID
		}
	}

	tv := s.threads.View()
	v.Thread = ThreadView{View: tv}
	if tv.Parent != nil {
		parent := render(*tv.Parent, user.ID)
		v.Thread.ParentView = &parent
	}
	for _, m := range tv.Messages {
		v.Thread.Replies = append(v.Thread.Replies, render(m, user.ID))
	}

	v.Search = s.search.View()
	return v
}

func render(m models.Message, userID string) MessageView {
	return MessageView{
		Message:         m,
		HTML:            content.Render(m.Text()),
		Preview:         content.Preview(&m),
		LatestReply:     content.LatestReplyLabel(m.LatestReply),
		AttachmentLabel: content.AttachmentLabel(m.Attachment),
		Pending:         strings.HasPrefix(m.ID, "temp-"),
		Own:             userID != "" && m.AuthorID() == userID,
	}
}
