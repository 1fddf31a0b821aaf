package app

import (
	"context"
	"errors"

	"quiz-session-service/internal/domain"
)

const (
	joinedMessage        = "joined the quiz"
	alreadyJoinedMessage = "already joined this quiz"
	correctMessage       = "Correct!"
	incorrectMessage     = "Incorrect"
)

// JoinResult is returned by Join. AlreadyJoined marks an idempotent re-join.
type JoinResult struct {
	Message       string                 `json:"message"`
	QuizID        string                 `json:"quiz_id"`
	StudentEmail  string                 `json:"student_email"`
	QuizTitle     string                 `json:"quiz_title"`
	QuestionCount int                    `json:"question_count"`
	AlreadyJoined bool                   `json:"already_joined"`
	Response      domain.StudentResponse `json:"-"`
}

// AnswerResult reveals the correct option only after the submission is recorded.
type AnswerResult struct {
	IsCorrect         bool   `json:"is_correct"`
	CorrectOption     int    `json:"correct_option"`
	Message           string `json:"message"`
	CurrentScore      int    `json:"current_score"`
	QuestionsAnswered int    `json:"questions_answered"`
	TotalQuestions    int    `json:"total_questions"`
	IsCompleted       bool   `json:"is_completed"`
}

// ParticipationService runs the student side of an active quiz.
type ParticipationService struct {
	quizzes     QuizReader
	responses   ResponseStore
	oracle      EnrollmentOracle
	broadcaster Broadcaster
	opts        options
}

func NewParticipationService(quizzes QuizReader, responses ResponseStore, oracle EnrollmentOracle, broadcaster Broadcaster, opts ...Option) *ParticipationService {
	return &ParticipationService{
		quizzes:     quizzes,
		responses:   responses,
		oracle:      oracle,
		broadcaster: broadcaster,
		opts:        buildOptions(opts),
	}
}

// QuizInfo is the public pre-join view of a quiz.
func (s *ParticipationService) QuizInfo(ctx context.Context, quizID string) (domain.QuizInfo, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.QuizInfo{}, err
	}
	return quiz.Info(), nil
}

// Join registers the student for an active quiz. Joining twice returns the
// existing record untouched.
func (s *ParticipationService) Join(ctx context.Context, quizID, email string) (JoinResult, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return JoinResult{}, domain.InvalidField("email", "is required")
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return JoinResult{}, err
	}
	if err := quiz.CheckPlayable(); err != nil {
		return JoinResult{}, err
	}
	profile, err := s.oracle.ValidateEnrollment(ctx, quiz.CourseID, email)
	if err != nil {
		return JoinResult{}, err
	}

	now := s.opts.now()
	stored, created, err := s.responses.CreateResponse(ctx, domain.StudentResponse{
		QuizID:         quizID,
		StudentEmail:   email,
		StudentName:    profile.DisplayName(),
		Answers:        []domain.RecordedAnswer{},
		TotalQuestions: len(quiz.Questions),
		StartedAt:      now,
	})
	if err != nil {
		return JoinResult{}, err
	}

	result := JoinResult{
		Message:       joinedMessage,
		QuizID:        quizID,
		StudentEmail:  email,
		QuizTitle:     quiz.Title,
		QuestionCount: len(quiz.Questions),
		Response:      stored,
	}
	if !created {
		result.Message = alreadyJoinedMessage
		result.AlreadyJoined = true
		return result, nil
	}
	s.broadcaster.Publish(ctx, quizID, domain.StudentJoined(quizID, email, now))
	return result, nil
}

// Questions returns the quiz without its answer key for a joined student.
func (s *ParticipationService) Questions(ctx context.Context, quizID, email string) (domain.StudentQuiz, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.StudentQuiz{}, err
	}
	if err := quiz.CheckPlayable(); err != nil {
		return domain.StudentQuiz{}, err
	}
	if _, err := s.joined(ctx, quizID, email); err != nil {
		return domain.StudentQuiz{}, err
	}
	return quiz.StudentView(), nil
}

// SubmitAnswer records one answer. The store's conditional append is what
// makes a duplicate submission fail; the checks here only give early errors.
func (s *ParticipationService) SubmitAnswer(ctx context.Context, quizID, email string, in domain.AnswerSubmission) (AnswerResult, error) {
	if err := domain.Validate(in); err != nil {
		return AnswerResult{}, err
	}
	email = domain.NormalizeEmail(email)
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return AnswerResult{}, err
	}
	if err := quiz.CheckPlayable(); err != nil {
		return AnswerResult{}, err
	}
	current, err := s.joined(ctx, quizID, email)
	if err != nil {
		return AnswerResult{}, err
	}
	if err := current.CheckAppend(in.QuestionID); err != nil {
		return AnswerResult{}, err
	}
	question, ok := quiz.Question(in.QuestionID)
	if !ok {
		return AnswerResult{}, domain.ErrQuestionNotFound
	}

	now := s.opts.now()
	isCorrect := *in.SelectedOption == question.CorrectOption
	resp, completed, err := s.responses.AppendAnswer(ctx, quizID, email, domain.RecordedAnswer{
		QuestionID:     question.ID,
		SelectedOption: *in.SelectedOption,
		IsCorrect:      isCorrect,
		AnsweredAt:     now,
	})
	if err != nil {
		return AnswerResult{}, err
	}

	event := domain.StudentProgress(resp, isCorrect, now)
	if completed {
		event = domain.StudentCompleted(resp, now)
	}
	s.broadcaster.Publish(ctx, quizID, event)

	message := incorrectMessage
	if isCorrect {
		message = correctMessage
	}
	return AnswerResult{
		IsCorrect:         isCorrect,
		CorrectOption:     question.CorrectOption,
		Message:           message,
		CurrentScore:      resp.Score,
		QuestionsAnswered: len(resp.Answers),
		TotalQuestions:    resp.TotalQuestions,
		IsCompleted:       resp.IsCompleted,
	}, nil
}

// Progress returns the student's full record.
func (s *ParticipationService) Progress(ctx context.Context, quizID, email string) (domain.StudentResponse, error) {
	return s.responses.GetResponse(ctx, quizID, domain.NormalizeEmail(email))
}

func (s *ParticipationService) joined(ctx context.Context, quizID, email string) (domain.StudentResponse, error) {
	resp, err := s.responses.GetResponse(ctx, quizID, domain.NormalizeEmail(email))
	if errors.Is(err, domain.ErrResponseNotFound) {
		return domain.StudentResponse{}, domain.ErrJoinFirst
	}
	return resp, err
}
