// Package courses talks to the external course registry that owns courses,
// their teachers and their enrollments.
package courses

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"quiz-session-service/internal/domain"
)

// Client implements app.EnrollmentOracle over the registry's HTTP API.
// Timeouts, transport errors and unexpected statuses all surface as
// domain.ErrCoursesUnavailable; only 404 and 403 carry domain meaning.
type Client struct {
	http *resty.Client
}

type Options struct {
	BaseURL string
	Timeout time.Duration
	Retries int
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})
	return &Client{http: httpClient}
}

// ValidateEnrollment returns the student's profile, or domain.ErrNotEnrolled
// when the registry does not know the student in that course.
func (c *Client) ValidateEnrollment(ctx context.Context, courseID, email string) (domain.StudentProfile, error) {
	var profile domain.StudentProfile
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"course_id": courseID, "email": email}).
		SetResult(&profile).
		Get("/courses/{course_id}/validate/{email}")
	if err != nil {
		return domain.StudentProfile{}, unavailable("validate enrollment", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return profile, nil
	case http.StatusNotFound:
		return domain.StudentProfile{}, domain.ErrNotEnrolled
	}
	return domain.StudentProfile{}, unexpected("validate enrollment", resp)
}

// VerifyCourseOwnership asks for the course as teacherID; the registry answers
// 404 for unknown courses and 403 when the course belongs to someone else.
func (c *Client) VerifyCourseOwnership(ctx context.Context, courseID, teacherID string) (domain.Course, error) {
	var course domain.Course
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-User-ID", teacherID).
		SetPathParam("course_id", courseID).
		SetResult(&course).
		Get("/courses/{course_id}")
	if err != nil {
		return domain.Course{}, unavailable("verify course", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return course, nil
	case http.StatusNotFound:
		return domain.Course{}, domain.ErrCourseNotFound
	case http.StatusForbidden:
		return domain.Course{}, domain.ErrNotCourseOwner
	}
	return domain.Course{}, unexpected("verify course", resp)
}

// ListCourseIDs returns the ids of every course teacherID owns.
func (c *Client) ListCourseIDs(ctx context.Context, teacherID string) ([]string, error) {
	var courses []domain.Course
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("teacher_id", teacherID).
		SetResult(&courses).
		Get("/courses")
	if err != nil {
		return nil, unavailable("list courses", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, unexpected("list courses", resp)
	}
	ids := make([]string, 0, len(courses))
	for _, course := range courses {
		ids = append(ids, course.ID)
	}
	return ids, nil
}

func unavailable(op string, err error) error {
	log.Printf("course registry %s: %v", op, err)
	return fmt.Errorf("%s: %w", op, domain.ErrCoursesUnavailable)
}

func unexpected(op string, resp *resty.Response) error {
	log.Printf("course registry %s: unexpected status %d", op, resp.StatusCode())
	return fmt.Errorf("%s: status %d: %w", op, resp.StatusCode(), domain.ErrCoursesUnavailable)
}
