package models

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

type UserRole string

const (
	UserRoleStudent  UserRole = "STUDENT"
	UserRoleLecturer UserRole = "LECTURER"
	UserRoleAdmin    UserRole = "ADMIN"
)

// User represents the authenticated user.
type User struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Role       UserRole `json:"role"`
	Department string   `json:"department,omitempty"`
}

// UserSummary is the short form of a user embedded into messages and courses.
type UserSummary struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Email      string   `json:"email,omitempty"`
	Role       UserRole `json:"role"`
	Department string   `json:"department,omitempty"`
}

// StudentSummary is a student as seen by administrators.
type StudentSummary struct {
	UserSummary
	IsBanned bool `json:"isBanned"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Password   string   `json:"password"`
	Role       UserRole `json:"role"`
	Department string   `json:"department"`
}

// Course represents a course channel.
type Course struct {
	ID           string       `json:"id"`
	Code         string       `json:"code"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Lecturer     *UserSummary `json:"lecturer,omitempty"`
	StudentCount int          `json:"studentCount,omitempty"`
	UnreadCount  int          `json:"unreadCount"`
}

type CourseEnrollment struct {
	CourseID string           `json:"courseId"`
	Students []StudentSummary `json:"students"`
}

type CourseEnrollmentSummary struct {
	CourseID string         `json:"courseId"`
	Student  StudentSummary `json:"student"`
}

type MessageType string

const (
	MessageTypeText MessageType = "TEXT"
	MessageTypeFile MessageType = "FILE"
)

type Attachment struct {
	ID          string `json:"id,omitempty"`
	FileName    string `json:"fileName"`
	MimeType    string `json:"mimeType"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// ReplySummary describes the most recent reply of a thread.
type ReplySummary struct {
	ID             string       `json:"id"`
	CreatedAt      time.Time    `json:"createdAt"`
	Preview        string       `json:"preview,omitempty"`
	ContentPreview string       `json:"contentPreview,omitempty"`
	Sender         *UserSummary `json:"sender,omitempty"`
}

// Message represents a course channel message or a thread reply.
type Message struct {
	ID              string        `json:"id"`
	ClientID        string        `json:"clientId,omitempty"`
	CourseID        string        `json:"courseId"`
	SenderID        string        `json:"senderId"`
	Content         *string       `json:"content"`
	Type            MessageType   `json:"type"`
	CreatedAt       time.Time     `json:"createdAt"`
	Attachment      *Attachment   `json:"attachment,omitempty"`
	Sender          *UserSummary  `json:"sender,omitempty"`
	IsPinned        bool          `json:"isPinned"`
	PinnedAt        *time.Time    `json:"pinnedAt"`
	PinnedBy        *UserSummary  `json:"pinnedBy"`
	PinnedByID      *string       `json:"pinnedById"`
	ParentMessageID *string       `json:"parentMessageId"`
	ReplyCount      int           `json:"replyCount,omitempty"`
	LatestReply     *ReplySummary `json:"latestReply,omitempty"`
}

// Text returns the message content or an empty string for file-only messages.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// ParentID returns the parent message id or an empty string for top-level messages.
func (m Message) ParentID() string {
	if m.ParentMessageID == nil {
		return ""
	}
	return *m.ParentMessageID
}

// AuthorID returns senderId, falling back to the embedded sender summary.
func (m Message) AuthorID() string {
	if m.SenderID != "" {
		return m.SenderID
	}
	if m.Sender != nil {
		return m.Sender.ID
	}
	return ""
}

func (m Message) AuthorName() string {
	if m.Sender != nil && m.Sender.Name != "" {
		return m.Sender.Name
	}
	return "Unknown"
}

// ClearPin resets every pin field.
func (m *Message) ClearPin() {
	m.IsPinned = false
	m.PinnedAt = nil
	m.PinnedBy = nil
	m.PinnedByID = nil
}

// Page is one page of a cursor-paginated message listing.
type Page struct {
	Messages   []Message
	NextCursor string
	HasMore    bool
	Total      int
}

// SendRequest is the body of a text message post.
type SendRequest struct {
	Content         string  `json:"content"`
	ParentMessageID *string `json:"parentMessageId,omitempty"`
	ClientID        string  `json:"clientId,omitempty"`
}

type EventType string

const (
	EventNewMessage      EventType = "course_message:new"
	EventMessagePinned   EventType = "course_message:pinned"
	EventMessageUnpinned EventType = "course_message:unpinned"
)

// SocketEvent is a single frame pushed by the server over the socket.
type SocketEvent struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// PinEvent is a resolved pin/unpin socket payload.
type PinEvent struct {
	CourseID  string
	MessageID string
	Message   *Message
}

// Admin payloads.

type CreateCourseRequest struct {
	Code       string `json:"code"`
	Title      string `json:"title"`
	LecturerID string `json:"lecturerId,omitempty"`
}

type AssignLecturerRequest struct {
	LecturerID *string `json:"lecturerId"`
}

type EnrollmentRequest struct {
	StudentID string `json:"studentId"`
}
