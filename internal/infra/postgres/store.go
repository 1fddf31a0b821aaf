// Package postgres is the relational backend. Questions and answers live in
// JSONB columns so each quiz and each response stays a single row, and every
// conditional mutation is one UPDATE guarded by its WHERE clause.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-session-service/internal/domain"
)

const quizColumns = `id::text, title, description, course_id, status, questions, created_at, updated_at, activated_at, finished_at`

const responseColumns = `id::text, quiz_id::text, student_email, student_name, answers, score, total_questions, started_at, completed_at, is_completed`

// Store implements app.Store on Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuiz(row rowScanner) (domain.Quiz, error) {
	var (
		quiz   domain.Quiz
		status string
		raw    []byte
	)
	err := row.Scan(&quiz.ID, &quiz.Title, &quiz.Description, &quiz.CourseID, &status, &raw,
		&quiz.CreatedAt, &quiz.UpdatedAt, &quiz.ActivatedAt, &quiz.FinishedAt)
	if err != nil {
		return domain.Quiz{}, err
	}
	quiz.Status = domain.QuizStatus(status)
	if err := json.Unmarshal(raw, &quiz.Questions); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal questions: %w", err)
	}
	if quiz.Questions == nil {
		quiz.Questions = []domain.Question{}
	}
	return quiz, nil
}

func scanResponse(row rowScanner) (domain.StudentResponse, error) {
	var (
		resp domain.StudentResponse
		raw  []byte
	)
	err := row.Scan(&resp.ID, &resp.QuizID, &resp.StudentEmail, &resp.StudentName, &raw, &resp.Score,
		&resp.TotalQuestions, &resp.StartedAt, &resp.CompletedAt, &resp.IsCompleted)
	if err != nil {
		return domain.StudentResponse{}, err
	}
	if err := json.Unmarshal(raw, &resp.Answers); err != nil {
		return domain.StudentResponse{}, fmt.Errorf("unmarshal answers: %w", err)
	}
	if resp.Answers == nil {
		resp.Answers = []domain.RecordedAnswer{}
	}
	return resp, nil
}

func (s *Store) CreateQuiz(ctx context.Context, quiz domain.Quiz) (domain.Quiz, error) {
	if quiz.Questions == nil {
		quiz.Questions = []domain.Question{}
	}
	questions, err := json.Marshal(quiz.Questions)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("marshal questions: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO quizzes (id, title, description, course_id, status, questions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+quizColumns,
		uuid.NewString(), quiz.Title, quiz.Description, quiz.CourseID, string(quiz.Status), questions, quiz.CreatedAt, quiz.UpdatedAt)
	created, err := scanQuiz(row)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("insert quiz: %w", err)
	}
	return created, nil
}

func (s *Store) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if _, err := uuid.Parse(quizID); err != nil {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	quiz, err := scanQuiz(s.pool.QueryRow(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1`, quizID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	return quiz, nil
}

func (s *Store) ListQuizzes(ctx context.Context, filter domain.QuizFilter) ([]domain.QuizSummary, error) {
	query := `SELECT id::text, title, description, course_id, status, jsonb_array_length(questions), created_at FROM quizzes`
	var args []interface{}
	if filter.CourseIDs != nil {
		if len(filter.CourseIDs) == 0 {
			return []domain.QuizSummary{}, nil
		}
		query += ` WHERE course_id = ANY($1)`
		args = append(args, filter.CourseIDs)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	out := make([]domain.QuizSummary, 0)
	for rows.Next() {
		var (
			sum    domain.QuizSummary
			status string
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Description, &sum.CourseID, &status, &sum.QuestionCount, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		sum.Status = domain.QuizStatus(status)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) UpdateQuiz(ctx context.Context, quizID string, patch domain.QuizPatch, at time.Time) (domain.Quiz, error) {
	if _, err := uuid.Parse(quizID); err != nil {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	quiz, err := scanQuiz(s.pool.QueryRow(ctx, `
		UPDATE quizzes
		SET title = COALESCE($2, title), description = COALESCE($3, description), updated_at = $4
		WHERE id = $1
		RETURNING `+quizColumns,
		quizID, patch.Title, patch.Description, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("update quiz: %w", err)
	}
	return quiz, nil
}

// DeleteQuiz relies on ON DELETE CASCADE for the responses.
func (s *Store) DeleteQuiz(ctx context.Context, quizID string) error {
	if _, err := uuid.Parse(quizID); err != nil {
		return domain.ErrQuizNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM quizzes WHERE id = $1`, quizID)
	if err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}

func (s *Store) Activate(ctx context.Context, quizID string, at time.Time) (domain.Quiz, error) {
	return s.transition(ctx, quizID, `
		UPDATE quizzes SET status = 'active', activated_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'draft' AND jsonb_array_length(questions) > 0
		RETURNING `+quizColumns, at, domain.Quiz.CheckActivate, domain.ErrAlreadyActive)
}

func (s *Store) Finish(ctx context.Context, quizID string, at time.Time) (domain.Quiz, error) {
	return s.transition(ctx, quizID, `
		UPDATE quizzes SET status = 'finished', finished_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'active'
		RETURNING `+quizColumns, at, domain.Quiz.CheckFinish, domain.ErrAlreadyFinished)
}

func (s *Store) transition(ctx context.Context, quizID, query string, at time.Time, check func(domain.Quiz) error, fallback error) (domain.Quiz, error) {
	if _, err := uuid.Parse(quizID); err != nil {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	quiz, err := scanQuiz(s.pool.QueryRow(ctx, query, quizID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, s.explain(ctx, quizID, check, fallback)
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("quiz transition: %w", err)
	}
	return quiz, nil
}

func (s *Store) AddQuestion(ctx context.Context, quizID string, question domain.Question, at time.Time) (domain.Question, error) {
	if _, err := uuid.Parse(quizID); err != nil {
		return domain.Question{}, domain.ErrQuizNotFound
	}
	payload, err := json.Marshal([]domain.Question{question})
	if err != nil {
		return domain.Question{}, fmt.Errorf("marshal question: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE quizzes SET questions = questions || $2::jsonb, updated_at = $3
		WHERE id = $1 AND status = 'draft'`, quizID, payload, at)
	if err != nil {
		return domain.Question{}, fmt.Errorf("add question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Question{}, s.explain(ctx, quizID, domain.Quiz.CheckEditable, domain.ErrQuizNotDraft)
	}
	return question, nil
}

// ReplaceQuestion and RemoveQuestion rewrite the array under a row lock.
func (s *Store) ReplaceQuestion(ctx context.Context, quizID string, question domain.Question, at time.Time) (domain.Question, error) {
	err := s.editQuestions(ctx, quizID, at, func(questions []domain.Question) ([]domain.Question, error) {
		for i := range questions {
			if questions[i].ID == question.ID {
				questions[i] = question
				return questions, nil
			}
		}
		return nil, domain.ErrQuestionNotFound
	})
	if err != nil {
		return domain.Question{}, err
	}
	return question, nil
}

func (s *Store) RemoveQuestion(ctx context.Context, quizID, questionID string, at time.Time) error {
	return s.editQuestions(ctx, quizID, at, func(questions []domain.Question) ([]domain.Question, error) {
		for i := range questions {
			if questions[i].ID == questionID {
				return append(questions[:i], questions[i+1:]...), nil
			}
		}
		return nil, domain.ErrQuestionNotFound
	})
}

func (s *Store) editQuestions(ctx context.Context, quizID string, at time.Time, edit func([]domain.Question) ([]domain.Question, error)) error {
	if _, err := uuid.Parse(quizID); err != nil {
		return domain.ErrQuizNotFound
	}
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		quiz, err := scanQuiz(tx.QueryRow(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1 FOR UPDATE`, quizID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrQuizNotFound
		}
		if err != nil {
			return fmt.Errorf("lock quiz: %w", err)
		}
		if err := quiz.CheckEditable(); err != nil {
			return err
		}
		questions, err := edit(quiz.Questions)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(questions)
		if err != nil {
			return fmt.Errorf("marshal questions: %w", err)
		}
		_, err = tx.Exec(ctx, `UPDATE quizzes SET questions = $2, updated_at = $3 WHERE id = $1`, quizID, payload, at)
		return err
	})
}

func (s *Store) GetQuestion(ctx context.Context, quizID, questionID string) (domain.Question, error) {
	quiz, err := s.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Question{}, err
	}
	question, ok := quiz.Question(questionID)
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return question, nil
}

func (s *Store) explain(ctx context.Context, quizID string, check func(domain.Quiz) error, fallback error) error {
	quiz, err := s.GetQuiz(ctx, quizID)
	if err != nil {
		return err
	}
	if err := check(quiz); err != nil {
		return err
	}
	return fallback
}

// CreateResponse relies on the quiz foreign key: an insert racing DeleteQuiz
// either fails the key check or is removed by the cascade.
func (s *Store) CreateResponse(ctx context.Context, resp domain.StudentResponse) (domain.StudentResponse, bool, error) {
	if _, err := uuid.Parse(resp.QuizID); err != nil {
		return domain.StudentResponse{}, false, domain.ErrQuizNotFound
	}
	if resp.Answers == nil {
		resp.Answers = []domain.RecordedAnswer{}
	}
	answers, err := json.Marshal(resp.Answers)
	if err != nil {
		return domain.StudentResponse{}, false, fmt.Errorf("marshal answers: %w", err)
	}
	created, err := scanResponse(s.pool.QueryRow(ctx, `
		INSERT INTO student_responses (id, quiz_id, student_email, student_name, answers, score, total_questions, started_at, is_completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
		ON CONFLICT (quiz_id, student_email) DO NOTHING
		RETURNING `+responseColumns,
		uuid.NewString(), resp.QuizID, resp.StudentEmail, resp.StudentName, answers, resp.Score, resp.TotalQuestions, resp.StartedAt))
	switch {
	case err == nil:
		return created, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		existing, err := s.GetResponse(ctx, resp.QuizID, resp.StudentEmail)
		return existing, false, err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return domain.StudentResponse{}, false, domain.ErrQuizNotFound
	}
	return domain.StudentResponse{}, false, fmt.Errorf("insert response: %w", err)
}

func (s *Store) GetResponse(ctx context.Context, quizID, email string) (domain.StudentResponse, error) {
	if _, err := uuid.Parse(quizID); err != nil {
		return domain.StudentResponse{}, domain.ErrResponseNotFound
	}
	resp, err := scanResponse(s.pool.QueryRow(ctx,
		`SELECT `+responseColumns+` FROM student_responses WHERE quiz_id = $1 AND student_email = $2`, quizID, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StudentResponse{}, domain.ErrResponseNotFound
	}
	if err != nil {
		return domain.StudentResponse{}, fmt.Errorf("load response: %w", err)
	}
	return resp, nil
}

func (s *Store) AppendAnswer(ctx context.Context, quizID, email string, answer domain.RecordedAnswer) (domain.StudentResponse, bool, error) {
	if _, err := uuid.Parse(quizID); err != nil {
		return domain.StudentResponse{}, false, domain.ErrResponseNotFound
	}
	payload, err := json.Marshal([]domain.RecordedAnswer{answer})
	if err != nil {
		return domain.StudentResponse{}, false, fmt.Errorf("marshal answer: %w", err)
	}
	answered, err := json.Marshal([]map[string]string{{"question_id": answer.QuestionID}})
	if err != nil {
		return domain.StudentResponse{}, false, fmt.Errorf("marshal question match: %w", err)
	}
	inc := 0
	if answer.IsCorrect {
		inc = 1
	}
	// SET expressions read the pre-update row, hence the +1.
	resp, err := scanResponse(s.pool.QueryRow(ctx, `
		UPDATE student_responses
		SET answers = answers || $3::jsonb,
		    score = score + $4,
		    is_completed = jsonb_array_length(answers) + 1 >= total_questions,
		    completed_at = CASE WHEN jsonb_array_length(answers) + 1 >= total_questions
		                        THEN $6::timestamptz ELSE completed_at END
		WHERE quiz_id = $1 AND student_email = $2
		  AND NOT is_completed
		  AND NOT answers @> $5::jsonb
		  AND jsonb_array_length(answers) < total_questions
		RETURNING `+responseColumns,
		quizID, email, payload, inc, answered, answer.AnsweredAt))
	if err == nil {
		return resp, resp.IsCompleted, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.StudentResponse{}, false, fmt.Errorf("append answer: %w", err)
	}
	current, err := s.GetResponse(ctx, quizID, email)
	if err != nil {
		return domain.StudentResponse{}, false, err
	}
	if err := current.CheckAppend(answer.QuestionID); err != nil {
		return domain.StudentResponse{}, false, err
	}
	return domain.StudentResponse{}, false, domain.ErrAlreadyAnswered
}

func (s *Store) ListResponses(ctx context.Context, quizID string) ([]domain.StudentResponse, error) {
	if _, err := uuid.Parse(quizID); err != nil {
		return []domain.StudentResponse{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+responseColumns+` FROM student_responses WHERE quiz_id = $1 ORDER BY started_at DESC`, quizID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	out := make([]domain.StudentResponse, 0)
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		out = append(out, resp)
	}
	return out, rows.Err()
}

func (s *Store) ResponseStats(ctx context.Context, quizID string) (domain.ResponseStats, error) {
	var stats domain.ResponseStats
	if _, err := uuid.Parse(quizID); err != nil {
		return stats, nil
	}
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE is_completed),
		       COALESCE(avg(score), 0)::float8,
		       COALESCE(max(score), 0),
		       COALESCE(min(score), 0)
		FROM student_responses WHERE quiz_id = $1`, quizID).
		Scan(&stats.TotalParticipants, &stats.CompletedParticipants, &stats.AverageScore, &stats.HighestScore, &stats.LowestScore)
	if err != nil {
		return domain.ResponseStats{}, fmt.Errorf("response stats: %w", err)
	}
	return stats, nil
}
