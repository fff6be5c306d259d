// Package stubs holds the sample data shown when the server cannot be
// reached.
package stubs

import (
	"time"

	"coursechat/internal/models"
)

var Courses = []models.Course{
	{
		ID:          "course-1",
		Code:        "CS101",
		Title:       "Introduction to Computer Science",
		Description: "Kick off foundational programming concepts and collaborative problem solving.",
	},
	{
		ID:          "course-2",
		Code:        "MATH201",
		Title:       "Linear Algebra for Engineers",
		Description: "Discuss weekly problem sets, exam prep, and project milestones.",
	},
}

// CoursesList returns a copy of Courses that callers may modify.
func CoursesList() []models.Course {
	out := make([]models.Course, len(Courses))
	copy(out, Courses)
	return out
}

// Messages returns the sample history relative to now.
func Messages(now time.Time) []models.Message {
	text := func(s string) *string { return &s }
	return []models.Message{
		{
			ID:        "message-1",
			CourseID:  "course-1",
			SenderID:  "lecturer-1",
			Content:   text("Welcome to CS101! Please review the course outline before our first session."),
			Type:      models.MessageTypeText,
			CreatedAt: now,
			Sender:    &models.UserSummary{ID: "lecturer-1", Name: "Dr. Rivera", Role: models.UserRoleLecturer},
		},
		{
			ID:        "message-2",
			CourseID:  "course-1",
			SenderID:  "student-3",
			Content:   text("Does anyone want to form a study group for the first assignment?"),
			Type:      models.MessageTypeText,
			CreatedAt: now.Add(-45 * time.Minute),
			Sender:    &models.UserSummary{ID: "student-3", Name: "Marisa Chen", Role: models.UserRoleStudent},
		},
		{
			ID:        "message-3",
			CourseID:  "course-2",
			SenderID:  "lecturer-2",
			Content:   text("Sharing the recap slides from lecture 4. Let me know if you have questions!"),
			Type:      models.MessageTypeFile,
			CreatedAt: now.Add(-90 * time.Minute),
			Sender:    &models.UserSummary{ID: "lecturer-2", Name: "Prof. Imani", Role: models.UserRoleLecturer},
			Attachment: &models.Attachment{
				ID:       "attachment-3",
				FileName: "lecture-4-recap.pdf",
				MimeType: "application/pdf",
				Size:     1887436,
				URL:      "https://files.edtech.dev/lecture-4-recap.pdf",
			},
		},
	}
}

// MessagesFor returns the sample messages of one course.
func MessagesFor(courseID string) []models.Message {
	var out []models.Message
	for _, m := range Messages(time.Now()) {
		if m.CourseID == courseID {
			out = append(out, m)
		}
	}
	return out
}
