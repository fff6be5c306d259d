package api

import (
	"context"
	"net/http"

	"coursechat/internal/models"
	"coursechat/internal/normalize"
)

// MyCourses lists the courses of the signed in user.
func (c *Client) MyCourses(ctx context.Context) ([]models.Course, error) {
	data, err := c.do(ctx, http.MethodGet, "/courses/my", nil, nil)
	if err != nil {
		return nil, err
	}
	return normalize.Courses(data), nil
}

// MarkRead resets the unread counter of a course.
func (c *Client) MarkRead(ctx context.Context, courseID string) error {
	_, err := c.do(ctx, http.MethodPost, coursePath(courseID, "read"), nil, nil)
	return err
}
