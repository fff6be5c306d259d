// Package normalize turns untyped REST bodies and socket payloads into
// canonical models. Nothing here returns an error: malformed input degrades
// to defaults or empty collections.
package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"

	"coursechat/internal/models"
)

// Message fills the pin metadata defaults of an already typed message.
// It is idempotent.
func Message(m models.Message) models.Message {
	if m.PinnedByID == nil && m.PinnedBy != nil && m.PinnedBy.ID != "" {
		id := m.PinnedBy.ID
		m.PinnedByID = &id
	}
	if m.Type == "" {
		m.Type = models.MessageTypeText
		if m.Attachment != nil && m.Content == nil {
			m.Type = models.MessageTypeFile
		}
	}
	return m
}

// List normalizes every message of the list.
func List(list []models.Message) []models.Message {
	out := make([]models.Message, len(list))
	for i, m := range list {
		out[i] = Message(m)
	}
	return out
}

// Decode builds a canonical message out of a raw payload. It reports false
// only when the payload is not a JSON object.
func Decode(raw json.RawMessage) (models.Message, bool) {
	fields, ok := object(raw)
	if !ok {
		return models.Message{}, false
	}

	m := models.Message{
		ID:              str(fields["id"]),
		ClientID:        str(fields["clientId"]),
		CourseID:        str(fields["courseId"]),
		SenderID:        str(fields["senderId"]),
		Content:         strPtr(fields["content"]),
		Type:            models.MessageType(strings.ToUpper(str(fields["type"]))),
		CreatedAt:       timestamp(fields["createdAt"]),
		Attachment:      attachment(fields["attachment"]),
		Sender:          user(fields["sender"]),
		PinnedAt:        timePtr(fields["pinnedAt"]),
		PinnedBy:        user(fields["pinnedBy"]),
		PinnedByID:      strPtr(fields["pinnedById"]),
		ParentMessageID: strPtr(fields["parentMessageId"]),
		ReplyCount:      integer(fields["replyCount"]),
		LatestReply:     replySummary(fields["latestReply"]),
	}

	if v, ok := boolean(fields["isPinned"]); ok {
		m.IsPinned = v
	} else if v, ok := boolean(fields["pinned"]); ok {
		m.IsPinned = v
	}

	if m.ParentMessageID != nil && *m.ParentMessageID == "" {
		m.ParentMessageID = nil
	}
	if m.PinnedByID != nil && *m.PinnedByID == "" {
		m.PinnedByID = nil
	}
	if m.ReplyCount < 0 {
		m.ReplyCount = 0
	}

	return Message(m), true
}

// IsMessage reports whether the payload carries string id and courseId fields.
func IsMessage(raw json.RawMessage) bool {
	fields, ok := object(raw)
	if !ok {
		return false
	}
	_, idOK := stringValue(fields["id"])
	_, courseOK := stringValue(fields["courseId"])
	return idOK && courseOK
}

// MessageList extracts messages from any of the known response shapes, in
// priority order: bare array, {messages}, {replies}, {data: {messages}},
// {data: {replies}}. Anything else yields an empty list.
func MessageList(raw json.RawMessage) []models.Message {
	if items, ok := array(raw); ok {
		return decodeAll(items)
	}
	fields, ok := object(raw)
	if !ok {
		return []models.Message{}
	}
	for _, key := range []string{"messages", "replies"} {
		if items, ok := array(fields[key]); ok {
			return decodeAll(items)
		}
	}
	if nested, ok := object(fields["data"]); ok {
		for _, key := range []string{"messages", "replies"} {
			if items, ok := array(nested[key]); ok {
				return decodeAll(items)
			}
		}
	}
	return []models.Message{}
}

// Page extracts a paginated listing. hasMore falls back to the presence of a
// next cursor when the server omits it.
func Page(raw json.RawMessage) models.Page {
	page := models.Page{Messages: MessageList(raw)}
	fields, ok := object(raw)
	if !ok {
		return page
	}
	if nested, ok := object(fields["data"]); ok && fields["nextCursor"] == nil && fields["hasMore"] == nil {
		fields = nested
	}
	page.NextCursor = str(fields["nextCursor"])
	if v, ok := boolean(fields["hasMore"]); ok {
		page.HasMore = v
	} else {
		page.HasMore = page.NextCursor != ""
	}
	page.Total = integer(fields["total"])
	return page
}

// Courses accepts either a bare array or {courses: [...]}.
func Courses(raw json.RawMessage) []models.Course {
	items, ok := array(raw)
	if !ok {
		fields, isObj := object(raw)
		if !isObj {
			return []models.Course{}
		}
		if items, ok = array(fields["courses"]); !ok {
			return []models.Course{}
		}
	}
	courses := make([]models.Course, 0, len(items))
	for _, item := range items {
		if c, ok := Course(item); ok {
			courses = append(courses, c)
		}
	}
	return courses
}

// Course decodes one course, unwrapping {course: {...}} when present.
func Course(raw json.RawMessage) (models.Course, bool) {
	fields, ok := object(Unwrap(raw, "course"))
	if !ok {
		return models.Course{}, false
	}
	c := models.Course{
		ID:           str(fields["id"]),
		Code:         str(fields["code"]),
		Title:        str(fields["title"]),
		Description:  str(fields["description"]),
		Lecturer:     user(fields["lecturer"]),
		StudentCount: integer(fields["studentCount"]),
		UnreadCount:  integer(fields["unreadCount"]),
	}
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	return c, c.ID != ""
}

// Unwrap returns the object or array stored under key when raw is a wrapper
// around it.
func Unwrap(raw json.RawMessage, key string) json.RawMessage {
	fields, ok := object(raw)
	if !ok {
		return raw
	}
	inner, ok := fields[key]
	if !ok || fields["id"] != nil {
		return raw
	}
	if b := firstByte(inner); b == '{' || b == '[' {
		return inner
	}
	return raw
}

// PinEvent resolves a pin/unpin socket payload. The course id comes from the
// explicit field or from the embedded message; the event is unusable (false)
// when neither is present.
func PinEvent(raw json.RawMessage) (models.PinEvent, bool) {
	fields, ok := object(raw)
	if !ok {
		return models.PinEvent{}, false
	}

	var ev models.PinEvent
	if IsMessage(fields["message"]) {
		if m, ok := Decode(fields["message"]); ok {
			ev.Message = &m
		}
	}

	if id, ok := stringValue(fields["courseId"]); ok {
		ev.CourseID = id
	} else if ev.Message != nil {
		ev.CourseID = ev.Message.CourseID
	}
	if ev.CourseID == "" {
		return models.PinEvent{}, false
	}

	if id, ok := stringValue(fields["messageId"]); ok {
		ev.MessageID = id
	} else if ev.Message != nil {
		ev.MessageID = ev.Message.ID
	}

	return ev, true
}

func decodeAll(items []json.RawMessage) []models.Message {
	out := make([]models.Message, 0, len(items))
	for _, item := range items {
		if m, ok := Decode(item); ok {
			out = append(out, m)
		}
	}
	return out
}

func attachment(raw json.RawMessage) *models.Attachment {
	fields, ok := object(raw)
	if !ok {
		return nil
	}
	return &models.Attachment{
		ID:          str(fields["id"]),
		FileName:    str(fields["fileName"]),
		MimeType:    str(fields["mimeType"]),
		Size:        int64(number(fields["size"])),
		URL:         str(fields["url"]),
		DownloadURL: str(fields["downloadUrl"]),
	}
}

func user(raw json.RawMessage) *models.UserSummary {
	fields, ok := object(raw)
	if !ok {
		return nil
	}
	return &models.UserSummary{
		ID:         str(fields["id"]),
		Name:       str(fields["name"]),
		Email:      str(fields["email"]),
		Role:       models.UserRole(str(fields["role"])),
		Department: str(fields["department"]),
	}
}

func replySummary(raw json.RawMessage) *models.ReplySummary {
	fields, ok := object(raw)
	if !ok {
		return nil
	}
	return &models.ReplySummary{
		ID:             str(fields["id"]),
		CreatedAt:      timestamp(fields["createdAt"]),
		Preview:        str(fields["preview"]),
		ContentPreview: str(fields["contentPreview"]),
		Sender:         user(fields["sender"]),
	}
}

// JSON primitives

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func object(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if firstByte(raw) != '{' {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	return fields, true
}

func array(raw json.RawMessage) ([]json.RawMessage, bool) {
	if firstByte(raw) != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

func stringValue(raw json.RawMessage) (string, bool) {
	if firstByte(raw) != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func str(raw json.RawMessage) string {
	s, _ := stringValue(raw)
	return s
}

func strPtr(raw json.RawMessage) *string {
	s, ok := stringValue(raw)
	if !ok {
		return nil
	}
	return &s
}

func boolean(raw json.RawMessage) (bool, bool) {
	var b bool
	switch firstByte(raw) {
	case 't', 'f':
		if err := json.Unmarshal(raw, &b); err != nil {
			return false, false
		}
		return b, true
	}
	return false, false
}

func number(raw json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func integer(raw json.RawMessage) int {
	return int(number(raw))
}

func timestamp(raw json.RawMessage) time.Time {
	if s, ok := stringValue(raw); ok {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return time.Time{}
	}
	if ms := number(raw); ms > 0 {
		return time.UnixMilli(int64(ms)).UTC()
	}
	return time.Time{}
}

func timePtr(raw json.RawMessage) *time.Time {
	t := timestamp(raw)
	if t.IsZero() {
		return nil
	}
	return &t
}
