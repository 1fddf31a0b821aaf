package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"quiz-session-service/internal/domain"
)

// Option customizes the services in this package.
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides how question ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

func buildOptions(opts []Option) options {
	o := options{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// QuizService is the teacher-facing lifecycle manager: quiz CRUD, the
// draft/active/finished state machine, question editing and results.
type QuizService struct {
	store       Store
	oracle      EnrollmentOracle
	broadcaster Broadcaster
	cache       QuizCache
	opts        options
}

// NewQuizService wires the lifecycle manager. cache may be nil.
func NewQuizService(store Store, oracle EnrollmentOracle, broadcaster Broadcaster, cache QuizCache, opts ...Option) *QuizService {
	return &QuizService{
		store:       store,
		oracle:      oracle,
		broadcaster: broadcaster,
		cache:       cache,
		opts:        buildOptions(opts),
	}
}

// CreateQuiz stores a new draft quiz after the teacher's ownership of the course is proven.
func (s *QuizService) CreateQuiz(ctx context.Context, teacherID string, in domain.NewQuiz) (domain.Quiz, error) {
	if err := domain.Validate(in); err != nil {
		return domain.Quiz{}, err
	}
	if _, err := s.oracle.VerifyCourseOwnership(ctx, in.CourseID, teacherID); err != nil {
		return domain.Quiz{}, err
	}
	now := s.opts.now()
	return s.store.CreateQuiz(ctx, domain.Quiz{
		Title:       in.Title,
		Description: in.Description,
		CourseID:    in.CourseID,
		Status:      domain.StatusDraft,
		Questions:   []domain.Question{},
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// ListQuizzes lists quizzes visible to teacherID. An empty teacherID is an
// internal caller and sees everything, optionally filtered by course.
func (s *QuizService) ListQuizzes(ctx context.Context, teacherID, courseID string) ([]domain.QuizSummary, error) {
	switch {
	case teacherID == "" && courseID == "":
		return s.store.ListQuizzes(ctx, domain.QuizFilter{})
	case courseID != "":
		if teacherID != "" {
			if err := s.checkOwner(ctx, courseID, teacherID); err != nil {
				return nil, err
			}
		}
		return s.store.ListQuizzes(ctx, domain.QuizFilter{CourseIDs: []string{courseID}})
	}
	courseIDs, err := s.oracle.ListCourseIDs(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	if courseIDs == nil {
		courseIDs = []string{}
	}
	return s.store.ListQuizzes(ctx, domain.QuizFilter{CourseIDs: courseIDs})
}

// GetQuiz returns the full quiz. Ownership is verified when teacherID is set.
func (s *QuizService) GetQuiz(ctx context.Context, quizID, teacherID string) (domain.Quiz, error) {
	if teacherID == "" {
		return s.store.GetQuiz(ctx, quizID)
	}
	return s.ownedQuiz(ctx, quizID, teacherID)
}

func (s *QuizService) UpdateQuiz(ctx context.Context, quizID, teacherID string, patch domain.QuizPatch) (domain.Quiz, error) {
	if err := domain.Validate(patch); err != nil {
		return domain.Quiz{}, err
	}
	if _, err := s.ownedQuiz(ctx, quizID, teacherID); err != nil {
		return domain.Quiz{}, err
	}
	quiz, err := s.store.UpdateQuiz(ctx, quizID, patch, s.opts.now())
	if err != nil {
		return domain.Quiz{}, err
	}
	s.invalidate(ctx, quizID)
	return quiz, nil
}

// DeleteQuiz removes the quiz together with all its responses.
func (s *QuizService) DeleteQuiz(ctx context.Context, quizID, teacherID string) error {
	if _, err := s.ownedQuiz(ctx, quizID, teacherID); err != nil {
		return err
	}
	if err := s.store.DeleteQuiz(ctx, quizID); err != nil {
		return err
	}
	s.invalidate(ctx, quizID)
	return nil
}

// Activate opens a draft quiz with at least one question to students.
func (s *QuizService) Activate(ctx context.Context, quizID, teacherID string) (domain.Quiz, error) {
	quiz, err := s.ownedQuiz(ctx, quizID, teacherID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if err := quiz.CheckActivate(); err != nil {
		return domain.Quiz{}, err
	}
	activated, err := s.store.Activate(ctx, quizID, s.opts.now())
	if err != nil {
		return domain.Quiz{}, err
	}
	log.Printf("quiz %s activated with %d questions", quizID, len(activated.Questions))
	return activated, nil
}

// Finish closes an active quiz and tells every monitor.
func (s *QuizService) Finish(ctx context.Context, quizID, teacherID string) (domain.Quiz, error) {
	quiz, err := s.ownedQuiz(ctx, quizID, teacherID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if err := quiz.CheckFinish(); err != nil {
		if errors.Is(err, domain.ErrAlreadyFinished) {
			// a retry after a failed eviction clears the stale active entry
			if cerr := s.evict(ctx, quizID); cerr != nil {
				return domain.Quiz{}, cerr
			}
		}
		return domain.Quiz{}, err
	}
	now := s.opts.now()
	finished, err := s.store.Finish(ctx, quizID, now)
	if err != nil {
		return domain.Quiz{}, err
	}
	s.broadcaster.Publish(ctx, quizID, domain.QuizFinished(quizID, now))
	// The cached copy still says active and would keep accepting answers.
	if err := s.evict(ctx, quizID); err != nil {
		return domain.Quiz{}, err
	}
	return finished, nil
}

// AddQuestion appends a question to a draft quiz.
func (s *QuizService) AddQuestion(ctx context.Context, quizID, teacherID string, in domain.NewQuestion) (domain.Question, error) {
	if err := domain.Validate(in); err != nil {
		return domain.Question{}, err
	}
	quiz, err := s.ownedQuiz(ctx, quizID, teacherID)
	if err != nil {
		return domain.Question{}, err
	}
	if err := quiz.CheckEditable(); err != nil {
		return domain.Question{}, err
	}
	question := domain.Question{
		ID:            s.opts.newID(),
		Text:          in.Text,
		Options:       append([]string(nil), in.Options...),
		CorrectOption: *in.CorrectOption,
	}
	return s.store.AddQuestion(ctx, quizID, question, s.opts.now())
}

// UpdateQuestion applies a sparse patch to one question of a draft quiz.
func (s *QuizService) UpdateQuestion(ctx context.Context, quizID, questionID, teacherID string, patch domain.QuestionPatch) (domain.Question, error) {
	if err := domain.Validate(patch); err != nil {
		return domain.Question{}, err
	}
	quiz, err := s.ownedQuiz(ctx, quizID, teacherID)
	if err != nil {
		return domain.Question{}, err
	}
	if err := quiz.CheckEditable(); err != nil {
		return domain.Question{}, err
	}
	current, ok := quiz.Question(questionID)
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	updated := patch.Apply(current)
	if len(updated.Options) != domain.OptionCount {
		return domain.Question{}, domain.InvalidField("Options", "must have exactly 4 options")
	}
	return s.store.ReplaceQuestion(ctx, quizID, updated, s.opts.now())
}

// RemoveQuestion deletes one question from a draft quiz.
func (s *QuizService) RemoveQuestion(ctx context.Context, quizID, questionID, teacherID string) error {
	quiz, err := s.ownedQuiz(ctx, quizID, teacherID)
	if err != nil {
		return err
	}
	if err := quiz.CheckEditable(); err != nil {
		return err
	}
	return s.store.RemoveQuestion(ctx, quizID, questionID, s.opts.now())
}

// ListResponses returns every student's record for the quiz, newest first.
func (s *QuizService) ListResponses(ctx context.Context, quizID, teacherID string) ([]domain.StudentResponse, error) {
	if _, err := s.ownedQuiz(ctx, quizID, teacherID); err != nil {
		return nil, err
	}
	return s.store.ListResponses(ctx, quizID)
}

// Statistics recomputes the aggregate and per-question accuracy on every call.
func (s *QuizService) Statistics(ctx context.Context, quizID, teacherID string) (domain.QuizStatistics, error) {
	quiz, err := s.ownedQuiz(ctx, quizID, teacherID)
	if err != nil {
		return domain.QuizStatistics{}, err
	}
	stats, err := s.store.ResponseStats(ctx, quizID)
	if err != nil {
		return domain.QuizStatistics{}, err
	}
	responses, err := s.store.ListResponses(ctx, quizID)
	if err != nil {
		return domain.QuizStatistics{}, err
	}
	return domain.BuildStatistics(quiz, stats, responses), nil
}

// ownedQuiz loads the quiz and proves teacherID owns its course. A missing
// quiz and a foreign course are reported differently.
func (s *QuizService) ownedQuiz(ctx context.Context, quizID, teacherID string) (domain.Quiz, error) {
	quiz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if err := s.checkOwner(ctx, quiz.CourseID, teacherID); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

func (s *QuizService) checkOwner(ctx context.Context, courseID, teacherID string) error {
	if teacherID == "" {
		return domain.ErrNotCourseOwner
	}
	_, err := s.oracle.VerifyCourseOwnership(ctx, courseID, teacherID)
	if errors.Is(err, domain.ErrCourseNotFound) {
		return domain.ErrNotCourseOwner
	}
	return err
}

func (s *QuizService) invalidate(ctx context.Context, quizID string) {
	if err := s.evict(ctx, quizID); err != nil {
		log.Printf("%v", err)
	}
}

func (s *QuizService) evict(ctx context.Context, quizID string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx, quizID); err != nil {
		return fmt.Errorf("%w: invalidate %s: %v", domain.ErrCacheUnavailable, quizID, err)
	}
	return nil
}
