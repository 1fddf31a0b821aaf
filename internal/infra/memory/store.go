package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-session-service/internal/domain"
)

// Store keeps quizzes and responses in process. A single mutex makes every
// conditional operation atomic, which is what the durable backends get from
// their filtered updates.
type Store struct {
	mu        sync.RWMutex
	quizzes   map[string]*domain.Quiz
	responses map[responseKey]*domain.StudentResponse
	newID     func() string
}

type responseKey struct {
	quizID string
	email  string
}

func NewStore() *Store {
	return &Store{
		quizzes:   make(map[string]*domain.Quiz),
		responses: make(map[responseKey]*domain.StudentResponse),
		newID:     uuid.NewString,
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) CreateQuiz(_ context.Context, quiz domain.Quiz) (domain.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz.ID = s.newID()
	if quiz.Questions == nil {
		quiz.Questions = []domain.Question{}
	}
	stored := cloneQuiz(quiz)
	s.quizzes[quiz.ID] = &stored
	return cloneQuiz(stored), nil
}

func (s *Store) GetQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, err := s.lookup(quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	return cloneQuiz(*quiz), nil
}

func (s *Store) ListQuizzes(_ context.Context, filter domain.QuizFilter) ([]domain.QuizSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var allowed map[string]bool
	if filter.CourseIDs != nil {
		allowed = make(map[string]bool, len(filter.CourseIDs))
		for _, id := range filter.CourseIDs {
			allowed[id] = true
		}
	}
	out := make([]domain.QuizSummary, 0, len(s.quizzes))
	for _, quiz := range s.quizzes {
		if allowed != nil && !allowed[quiz.CourseID] {
			continue
		}
		out = append(out, quiz.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateQuiz(_ context.Context, quizID string, patch domain.QuizPatch, at time.Time) (domain.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, err := s.lookup(quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if patch.Title != nil {
		quiz.Title = *patch.Title
	}
	if patch.Description != nil {
		desc := *patch.Description
		quiz.Description = &desc
	}
	quiz.UpdatedAt = at
	return cloneQuiz(*quiz), nil
}

func (s *Store) DeleteQuiz(_ context.Context, quizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(quizID); err != nil {
		return err
	}
	for key := range s.responses {
		if key.quizID == quizID {
			delete(s.responses, key)
		}
	}
	delete(s.quizzes, quizID)
	return nil
}

func (s *Store) Activate(_ context.Context, quizID string, at time.Time) (domain.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, err := s.lookup(quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if err := quiz.CheckActivate(); err != nil {
		return domain.Quiz{}, err
	}
	quiz.Status = domain.StatusActive
	quiz.ActivatedAt = &at
	quiz.UpdatedAt = at
	return cloneQuiz(*quiz), nil
}

func (s *Store) Finish(_ context.Context, quizID string, at time.Time) (domain.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, err := s.lookup(quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if err := quiz.CheckFinish(); err != nil {
		return domain.Quiz{}, err
	}
	quiz.Status = domain.StatusFinished
	quiz.FinishedAt = &at
	quiz.UpdatedAt = at
	return cloneQuiz(*quiz), nil
}

func (s *Store) AddQuestion(_ context.Context, quizID string, question domain.Question, at time.Time) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, err := s.editable(quizID)
	if err != nil {
		return domain.Question{}, err
	}
	question.Options = append([]string(nil), question.Options...)
	quiz.Questions = append(quiz.Questions, question)
	quiz.UpdatedAt = at
	return question, nil
}

func (s *Store) ReplaceQuestion(_ context.Context, quizID string, question domain.Question, at time.Time) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, err := s.editable(quizID)
	if err != nil {
		return domain.Question{}, err
	}
	for i := range quiz.Questions {
		if quiz.Questions[i].ID == question.ID {
			question.Options = append([]string(nil), question.Options...)
			quiz.Questions[i] = question
			quiz.UpdatedAt = at
			return question, nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func (s *Store) RemoveQuestion(_ context.Context, quizID, questionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, err := s.editable(quizID)
	if err != nil {
		return err
	}
	for i := range quiz.Questions {
		if quiz.Questions[i].ID == questionID {
			quiz.Questions = append(quiz.Questions[:i], quiz.Questions[i+1:]...)
			quiz.UpdatedAt = at
			return nil
		}
	}
	return domain.ErrQuestionNotFound
}

func (s *Store) GetQuestion(_ context.Context, quizID, questionID string) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, err := s.lookup(quizID)
	if err != nil {
		return domain.Question{}, err
	}
	question, ok := quiz.Question(questionID)
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	question.Options = append([]string(nil), question.Options...)
	return question, nil
}

func (s *Store) CreateResponse(_ context.Context, resp domain.StudentResponse) (domain.StudentResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(resp.QuizID); err != nil {
		return domain.StudentResponse{}, false, err
	}
	key := responseKey{quizID: resp.QuizID, email: resp.StudentEmail}
	if existing, ok := s.responses[key]; ok {
		return cloneResponse(*existing), false, nil
	}
	resp.ID = s.newID()
	if resp.Answers == nil {
		resp.Answers = []domain.RecordedAnswer{}
	}
	stored := cloneResponse(resp)
	s.responses[key] = &stored
	return cloneResponse(stored), true, nil
}

func (s *Store) GetResponse(_ context.Context, quizID, email string) (domain.StudentResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp, ok := s.responses[responseKey{quizID: quizID, email: email}]
	if !ok {
		return domain.StudentResponse{}, domain.ErrResponseNotFound
	}
	return cloneResponse(*resp), nil
}

func (s *Store) AppendAnswer(_ context.Context, quizID, email string, answer domain.RecordedAnswer) (domain.StudentResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.responses[responseKey{quizID: quizID, email: email}]
	if !ok {
		return domain.StudentResponse{}, false, domain.ErrResponseNotFound
	}
	if err := resp.CheckAppend(answer.QuestionID); err != nil {
		return domain.StudentResponse{}, false, err
	}
	resp.Answers = append(resp.Answers, answer)
	if answer.IsCorrect {
		resp.Score++
	}
	if resp.ReachedTotal() {
		at := answer.AnsweredAt
		resp.IsCompleted = true
		resp.CompletedAt = &at
	}
	return cloneResponse(*resp), resp.IsCompleted, nil
}

func (s *Store) ListResponses(_ context.Context, quizID string) ([]domain.StudentResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StudentResponse, 0)
	for key, resp := range s.responses {
		if key.quizID == quizID {
			out = append(out, cloneResponse(*resp))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *Store) ResponseStats(ctx context.Context, quizID string) (domain.ResponseStats, error) {
	responses, err := s.ListResponses(ctx, quizID)
	if err != nil {
		return domain.ResponseStats{}, err
	}
	return domain.AggregateResponses(responses), nil
}

// lookup expects the caller to hold s.mu.
func (s *Store) lookup(quizID string) (*domain.Quiz, error) {
	if _, err := uuid.Parse(quizID); err != nil {
		return nil, domain.ErrQuizNotFound
	}
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return nil, domain.ErrQuizNotFound
	}
	return quiz, nil
}

func (s *Store) editable(quizID string) (*domain.Quiz, error) {
	quiz, err := s.lookup(quizID)
	if err != nil {
		return nil, err
	}
	if err := quiz.CheckEditable(); err != nil {
		return nil, err
	}
	return quiz, nil
}

func cloneQuiz(q domain.Quiz) domain.Quiz {
	questions := make([]domain.Question, len(q.Questions))
	for i, question := range q.Questions {
		question.Options = append([]string(nil), question.Options...)
		questions[i] = question
	}
	q.Questions = questions
	return q
}

func cloneResponse(r domain.StudentResponse) domain.StudentResponse {
	r.Answers = append(make([]domain.RecordedAnswer, 0, len(r.Answers)), r.Answers...)
	return r
}
