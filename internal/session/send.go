package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"coursechat/internal/api"
	"coursechat/internal/models"
	"coursechat/internal/storage"

	"github.com/google/uuid"
)

const sniffLen = 261

// Send posts a text message to the selected course, as a reply when
// parentID or the reply target is set. When the post fails an optimistic
// copy is shown instead and returned along with the error.
func (s *Session) Send(ctx context.Context, content, parentID string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, ErrEmptyMessage
	}
	courseID, user, parent, err := s.beginSend(parentID)
	if err != nil {
		return models.Message{}, err
	}
	defer s.endSend()

	clientID := uuid.NewString()
	req := models.SendRequest{Content: content, ClientID: clientID}
	if parent != "" {
		req.ParentMessageID = &parent
	}

	m, err := s.api.Send(ctx, courseID, req)
	if err == nil {
		s.delivered(courseID, m)
		return m, nil
	}
	slog.Error("failed to send message", "course_id", courseID, "error", err)

	temp := s.optimistic(courseID, user, parent, clientID)
	temp.ID = "temp-" + uuid.NewString()
	temp.Type = models.MessageTypeText
	temp.Content = &content
	s.showOptimistic(temp)

	return temp, fmt.Errorf("send message: %w", err)
}

// Upload posts a file message. A failed upload leaves an optimistic file
// message whose content is kept in the preview store until Close.
func (s *Session) Upload(ctx context.Context, fileName string, r io.Reader, parentID string) (models.Message, error) {
	courseID, user, parent, err := s.beginSend(parentID)
	if err != nil {
		return models.Message{}, err
	}
	defer s.endSend()

	br := bufio.NewReaderSize(r, 4096)
	head, _ := br.Peek(sniffLen)
	mimeType := api.DetectMimeType(fileName, head)

	clientID := uuid.NewString()
	tempID := "temp-file-" + uuid.NewString()

	var (
		body    io.Reader = br
		preview *storage.DBPreview
	)
	if s.previews != nil {
		p, err := s.previews.Add(storage.DBPreview{
			ID:       tempID,
			FileName: fileName,
			MimeType: mimeType,
			CourseID: courseID,
		}, br)
		if err != nil {
			return models.Message{}, fmt.Errorf("upload: %w", err)
		}
		preview = &p
		rc, err := s.previews.Open(tempID)
		if err != nil {
			_ = s.previews.Release(tempID)
			return models.Message{}, fmt.Errorf("upload: %w", err)
		}
		defer func() {
			_ = rc.Close()
		}()
		body = rc
	}

	m, err := s.api.Upload(ctx, courseID, api.Upload{
		FileName:        fileName,
		Content:         body,
		ParentMessageID: parent,
		ClientID:        clientID,
	})
	if err == nil {
		if preview != nil {
			if relErr := s.previews.Release(tempID); relErr != nil {
				slog.Warn("failed to release preview", "id", tempID, "error", relErr)
			}
		}
		s.delivered(courseID, m)
		return m, nil
	}
	slog.Error("failed to upload file", "course_id", courseID, "file", fileName, "error", err)

	temp := s.optimistic(courseID, user, parent, clientID)
	temp.ID = tempID
	temp.Type = models.MessageTypeFile
	temp.Attachment = &models.Attachment{
		FileName: fileName,
		MimeType: mimeType,
	}
	if preview != nil {
		temp.Attachment.Size = preview.Size
		temp.Attachment.URL = "file://" + preview.Path
	}
	s.showOptimistic(temp)

	return temp, fmt.Errorf("upload: %w", err)
}

func (s *Session) beginSend(parentID string) (courseID string, user models.User, parent string, err error) {
	user, err = s.user()
	if err != nil {
		return "", models.User{}, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == "" {
		return "", models.User{}, "", ErrNoCourse
	}
	parent = parentID
	if parent == "" && s.replyTarget != nil {
		parent = s.replyTarget.ID
	}
	s.sending = true
	return s.selected, user, parent, nil
}

// endSend clears the sending flag and the reply target, which is consumed by
// a send whatever its outcome.
func (s *Session) endSend() {
	s.mu.Lock()
	s.sending = false
	s.replyTarget = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Session) delivered(courseID string, m models.Message) {
	if m.CourseID == "" {
		m.CourseID = courseID
	}
	s.store.AppendMessage(m.CourseID, m)
	s.threads.InsertLiveReply(m)
	s.RequestMarkRead(m.CourseID)
}

func (s *Session) optimistic(courseID string, user models.User, parent, clientID string) models.Message {
	m := models.Message{
		ClientID:  clientID,
		CourseID:  courseID,
		SenderID:  user.ID,
		CreatedAt: time.Now(),
		Sender: &models.UserSummary{
			ID:   user.ID,
			Name: user.Name,
			Role: user.Role,
		},
	}
	if parent != "" {
		m.ParentMessageID = &parent
	}
	return m
}

func (s *Session) showOptimistic(m models.Message) {
	s.echoMu.Lock()
	s.echoes.Set(clientKey(m.ClientID), m.ID)
	s.echoes.Set(echoKey(m), m.ID)
	s.echoMu.Unlock()

	s.store.AppendMessage(m.CourseID, m)
	s.threads.InsertLiveReply(m)
}

// Claim implements live.EchoMatcher. A server message supersedes an
// optimistic one when it carries the same client id or, for servers that do
// not echo client ids, the same author, parent and body within the echo
// window.
func (s *Session) Claim(m models.Message) (string, bool) {
	s.echoMu.Lock()
	defer s.echoMu.Unlock()

	key := echoKey(m)
	if m.ClientID != "" {
		key = clientKey(m.ClientID)
	}
	tempID, err := s.echoes.Get(key)
	if err != nil {
		return "", false
	}

	if temp, ok := s.store.Get(m.CourseID, tempID); ok {
		_ = s.echoes.Del(clientKey(temp.ClientID))
		_ = s.echoes.Del(echoKey(temp))
	} else {
		_ = s.echoes.Del(key)
	}
	if s.previews != nil {
		if _, ok := s.previews.Get(tempID); ok {
			if err := s.previews.Release(tempID); err != nil {
				slog.Warn("failed to release preview", "id", tempID, "error", err)
			}
		}
	}
	return tempID, true
}

func clientKey(clientID string) string {
	return "client|" + clientID
}

func echoKey(m models.Message) string {
	body := "text|" + strings.TrimSpace(m.Text())
	if m.Type == models.MessageTypeFile && m.Attachment != nil {
		body = "file|" + m.Attachment.FileName
	}
	return strings.Join([]string{m.CourseID, m.AuthorID(), m.ParentID(), body}, "|")
}
