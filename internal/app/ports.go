package app

import (
	"context"
	"time"

	"quiz-session-service/internal/domain"
)

// QuizStore persists quizzes with their embedded questions. Every conditional
// operation (lifecycle transitions, question mutation) is atomic in the
// backing store and reports the domain reason when its precondition fails.
type QuizStore interface {
	CreateQuiz(ctx context.Context, quiz domain.Quiz) (domain.Quiz, error)
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	ListQuizzes(ctx context.Context, filter domain.QuizFilter) ([]domain.QuizSummary, error)
	UpdateQuiz(ctx context.Context, quizID string, patch domain.QuizPatch, at time.Time) (domain.Quiz, error)
	// DeleteQuiz removes the quiz and every response recorded for it.
	DeleteQuiz(ctx context.Context, quizID string) error
	Activate(ctx context.Context, quizID string, at time.Time) (domain.Quiz, error)
	Finish(ctx context.Context, quizID string, at time.Time) (domain.Quiz, error)

	AddQuestion(ctx context.Context, quizID string, question domain.Question, at time.Time) (domain.Question, error)
	// ReplaceQuestion swaps the question with question.ID inside the quiz.
	ReplaceQuestion(ctx context.Context, quizID string, question domain.Question, at time.Time) (domain.Question, error)
	RemoveQuestion(ctx context.Context, quizID, questionID string, at time.Time) error
	GetQuestion(ctx context.Context, quizID, questionID string) (domain.Question, error)
}

// ResponseStore persists one StudentResponse per (quiz, email).
type ResponseStore interface {
	// CreateResponse inserts resp unless one exists for the pair; the stored
	// record is returned either way and created reports which happened. It
	// fails with domain.ErrQuizNotFound when the quiz is gone by the time of
	// the insert, so a join racing a delete leaves no orphan.
	CreateResponse(ctx context.Context, resp domain.StudentResponse) (stored domain.StudentResponse, created bool, err error)
	GetResponse(ctx context.Context, quizID, email string) (domain.StudentResponse, error)
	// AppendAnswer atomically appends the answer and bumps the score when it is
	// correct, provided the question has not been answered and the response is
	// not complete. The append that reaches total_questions also sets
	// is_completed and completed_at (answer.AnsweredAt) in the same write and
	// reports completed; no other call does. It returns the record as it is
	// right after this append.
	AppendAnswer(ctx context.Context, quizID, email string, answer domain.RecordedAnswer) (resp domain.StudentResponse, completed bool, err error)
	ListResponses(ctx context.Context, quizID string) ([]domain.StudentResponse, error)
	ResponseStats(ctx context.Context, quizID string) (domain.ResponseStats, error)
}

// Store is a backend serving both collections.
type Store interface {
	QuizStore
	ResponseStore
	Ping(ctx context.Context) error
}

// QuizReader is the read path used by students; it may be cached.
type QuizReader interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizCache is a QuizReader whose entries must be dropped on lifecycle changes.
type QuizCache interface {
	QuizReader
	Invalidate(ctx context.Context, quizID string) error
}

// EnrollmentOracle is the external course registry.
type EnrollmentOracle interface {
	ValidateEnrollment(ctx context.Context, courseID, email string) (domain.StudentProfile, error)
	VerifyCourseOwnership(ctx context.Context, courseID, teacherID string) (domain.Course, error)
	ListCourseIDs(ctx context.Context, teacherID string) ([]string, error)
}

// Broadcaster pushes monitor events for a quiz. Delivery is fire-and-forget.
type Broadcaster interface {
	Publish(ctx context.Context, quizID string, event domain.Event)
}
