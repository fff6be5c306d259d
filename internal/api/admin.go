package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"coursechat/internal/models"
	"coursechat/internal/normalize"
)

func adminCoursePath(courseID string, parts ...string) string {
	path := "/admin/courses/" + url.PathEscape(courseID)
	for _, p := range parts {
		path += "/" + url.PathEscape(p)
	}
	return path
}

func (c *Client) AdminCourses(ctx context.Context) ([]models.Course, error) {
	data, err := c.do(ctx, http.MethodGet, "/admin/courses", nil, nil)
	if err != nil {
		return nil, err
	}
	return normalize.Courses(data), nil
}

// CreateCourse accepts both the bare entity and a {course} wrapper in the
// response.
func (c *Client) CreateCourse(ctx context.Context, req models.CreateCourseRequest) (models.Course, error) {
	data, err := c.do(ctx, http.MethodPost, "/admin/courses", nil, req)
	if err != nil {
		return models.Course{}, err
	}
	course, ok := normalize.Course(data)
	if !ok {
		return models.Course{}, fmt.Errorf("response is not a course")
	}
	return course, nil
}

func (c *Client) DeleteCourse(ctx context.Context, courseID string) error {
	_, err := c.do(ctx, http.MethodDelete, adminCoursePath(courseID), nil, nil)
	return err
}

// AssignLecturer sets the lecturer of a course; a nil id clears it.
func (c *Client) AssignLecturer(ctx context.Context, courseID string, lecturerID *string) (models.Course, error) {
	data, err := c.do(ctx, http.MethodPatch, adminCoursePath(courseID, "lecturer"), nil, models.AssignLecturerRequest{LecturerID: lecturerID})
	if err != nil {
		return models.Course{}, err
	}
	course, ok := normalize.Course(data)
	if !ok {
		return models.Course{}, fmt.Errorf("response is not a course")
	}
	return course, nil
}

func (c *Client) Lecturers(ctx context.Context) ([]models.UserSummary, error) {
	data, err := c.do(ctx, http.MethodGet, "/admin/lecturers", nil, nil)
	if err != nil {
		return nil, err
	}
	return decode[[]models.UserSummary](normalize.Unwrap(data, "lecturers"))
}

func (c *Client) Students(ctx context.Context) ([]models.StudentSummary, error) {
	data, err := c.do(ctx, http.MethodGet, "/admin/students", nil, nil)
	if err != nil {
		return nil, err
	}
	return decode[[]models.StudentSummary](normalize.Unwrap(data, "students"))
}

func (c *Client) CourseStudents(ctx context.Context, courseID string) (models.CourseEnrollment, error) {
	data, err := c.do(ctx, http.MethodGet, adminCoursePath(courseID, "enroll"), nil, nil)
	if err != nil {
		return models.CourseEnrollment{}, err
	}
	enrollment, err := decode[models.CourseEnrollment](data)
	if err != nil {
		return enrollment, err
	}
	if enrollment.CourseID == "" {
		enrollment.CourseID = courseID
	}
	return enrollment, nil
}

func (c *Client) Enroll(ctx context.Context, courseID, studentID string) (models.CourseEnrollmentSummary, error) {
	data, err := c.do(ctx, http.MethodPost, adminCoursePath(courseID, "enrollments"), nil, models.EnrollmentRequest{StudentID: studentID})
	if err != nil {
		return models.CourseEnrollmentSummary{}, err
	}
	return decode[models.CourseEnrollmentSummary](data)
}

func (c *Client) Unenroll(ctx context.Context, courseID, studentID string) error {
	_, err := c.do(ctx, http.MethodDelete, adminCoursePath(courseID, "enrollments", studentID), nil, nil)
	return err
}

func (c *Client) Ban(ctx context.Context, userID string) (models.StudentSummary, error) {
	return c.setBanned(ctx, userID, "ban")
}

func (c *Client) Unban(ctx context.Context, userID string) (models.StudentSummary, error) {
	return c.setBanned(ctx, userID, "unban")
}

func (c *Client) setBanned(ctx context.Context, userID, action string) (models.StudentSummary, error) {
	data, err := c.do(ctx, http.MethodPost, "/admin/users/"+url.PathEscape(userID)+"/"+action, nil, nil)
	if err != nil {
		return models.StudentSummary{}, err
	}
	return decode[models.StudentSummary](data)
}
