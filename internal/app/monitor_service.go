package app

import (
	"context"
	"errors"

	"quiz-session-service/internal/domain"
)

// MonitorService answers the queries a live monitor connection makes.
type MonitorService struct {
	store  Store
	oracle EnrollmentOracle
	opts   options
}

func NewMonitorService(store Store, oracle EnrollmentOracle, opts ...Option) *MonitorService {
	return &MonitorService{store: store, oracle: oracle, opts: buildOptions(opts)}
}

// Authorize checks the quiz exists and, when teacherID is set, that the
// teacher owns it.
func (s *MonitorService) Authorize(ctx context.Context, quizID, teacherID string) (domain.Quiz, error) {
	quiz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if teacherID == "" {
		return quiz, nil
	}
	if _, err := s.oracle.VerifyCourseOwnership(ctx, quiz.CourseID, teacherID); err != nil {
		if errors.Is(err, domain.ErrCourseNotFound) {
			return domain.Quiz{}, domain.ErrNotCourseOwner
		}
		return domain.Quiz{}, err
	}
	return quiz, nil
}

// Snapshot builds the one-time connected event from the current aggregate.
func (s *MonitorService) Snapshot(ctx context.Context, quizID string) (domain.Event, error) {
	quiz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Event{}, err
	}
	stats, err := s.store.ResponseStats(ctx, quizID)
	if err != nil {
		return domain.Event{}, err
	}
	return domain.Connected(quiz, stats, s.opts.now()), nil
}

// Stats answers an on-demand stats request.
func (s *MonitorService) Stats(ctx context.Context, quizID string) (domain.Event, error) {
	stats, err := s.store.ResponseStats(ctx, quizID)
	if err != nil {
		return domain.Event{}, err
	}
	return domain.QuizStatsEvent(stats), nil
}
