package domain

import (
	"errors"
	"sort"
	"strings"
)

// Categories every domain error unwraps to. Transports map these, not the
// specific errors, onto their own status codes.
var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrValidation          = errors.New("validation failed")
)

var (
	// ErrQuizNotFound is returned for unknown or malformed quiz ids.
	ErrQuizNotFound = newError(ErrNotFound, "quiz not found")
	// ErrQuestionNotFound indicates the question id does not belong to the quiz.
	ErrQuestionNotFound = newError(ErrNotFound, "question not found")
	// ErrResponseNotFound is returned when the student never joined the quiz.
	ErrResponseNotFound = newError(ErrNotFound, "response not found")
	// ErrCourseNotFound is reported by the course registry for unknown courses.
	ErrCourseNotFound = newError(ErrNotFound, "course not found")

	ErrNotCourseOwner = newError(ErrForbidden, "forbidden: teacher does not own the course")
	ErrNotEnrolled    = newError(ErrForbidden, "forbidden: not enrolled in the course")
	ErrJoinFirst      = newError(ErrForbidden, "forbidden: join the quiz first")

	ErrQuizNotDraft     = newError(ErrConflict, "quiz not in draft state")
	ErrQuizNotActive    = newError(ErrConflict, "quiz not active")
	ErrAlreadyActive    = newError(ErrConflict, "quiz already active")
	ErrAlreadyFinished  = newError(ErrConflict, "quiz already finished")
	ErrEmptyQuiz        = newError(ErrConflict, "cannot activate an empty quiz")
	ErrAlreadyAnswered  = newError(ErrConflict, "question already answered")
	ErrAlreadyCompleted = newError(ErrConflict, "quiz already completed")

	// ErrCoursesUnavailable wraps timeouts and transport failures talking to the course registry.
	ErrCoursesUnavailable = newError(ErrUpstreamUnavailable, "course registry unavailable")
	// ErrCacheUnavailable means the quiz cache could not drop a stale entry.
	ErrCacheUnavailable = newError(ErrUpstreamUnavailable, "quiz cache unavailable")
)

type domainError struct {
	kind error
	msg  string
}

func newError(kind error, msg string) error {
	return &domainError{kind: kind, msg: msg}
}

func (e *domainError) Error() string { return e.msg }

func (e *domainError) Unwrap() error { return e.kind }

// ValidationError lists per-field problems with a request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidField builds a single-field ValidationError.
func InvalidField(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
