package domain

import (
	"strings"
	"time"
)

// QuizStatus is the lifecycle state of a quiz. Transitions only move forward.
type QuizStatus string

const (
	StatusDraft    QuizStatus = "draft"
	StatusActive   QuizStatus = "active"
	StatusFinished QuizStatus = "finished"
)

// OptionCount is the fixed number of choices on every question.
const OptionCount = 4

// Question is a multiple choice question embedded in a quiz.
type Question struct {
	ID            string   `json:"id" bson:"_id"`
	Text          string   `json:"text" bson:"text"`
	Options       []string `json:"options" bson:"options"`
	CorrectOption int      `json:"correct_option" bson:"correct_option"`
}

// Quiz owns its ordered questions.
type Quiz struct {
	ID          string     `json:"id" bson:"-"`
	Title       string     `json:"title" bson:"title"`
	Description *string    `json:"description,omitempty" bson:"description,omitempty"`
	CourseID    string     `json:"course_id" bson:"course_id"`
	Status      QuizStatus `json:"status" bson:"status"`
	Questions   []Question `json:"questions" bson:"questions"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty" bson:"activated_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" bson:"finished_at,omitempty"`
}

// Question returns the question with the given id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// Summary is the listing view of a quiz.
func (q Quiz) Summary() QuizSummary {
	return QuizSummary{
		ID:            q.ID,
		Title:         q.Title,
		Description:   q.Description,
		CourseID:      q.CourseID,
		Status:        q.Status,
		QuestionCount: len(q.Questions),
		CreatedAt:     q.CreatedAt,
	}
}

// StudentView strips the answer key from every question.
func (q Quiz) StudentView() StudentQuiz {
	questions := make([]StudentQuestion, 0, len(q.Questions))
	for _, question := range q.Questions {
		options := make([]string, len(question.Options))
		copy(options, question.Options)
		questions = append(questions, StudentQuestion{ID: question.ID, Text: question.Text, Options: options})
	}
	return StudentQuiz{ID: q.ID, Title: q.Title, Description: q.Description, Questions: questions}
}

// Info is the public view used before a student joins.
func (q Quiz) Info() QuizInfo {
	return QuizInfo{
		ID:            q.ID,
		Title:         q.Title,
		Description:   q.Description,
		Status:        q.Status,
		QuestionCount: len(q.Questions),
		IsActive:      q.Status == StatusActive,
	}
}

// QuizSummary is returned by list operations.
type QuizSummary struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   *string    `json:"description,omitempty"`
	CourseID      string     `json:"course_id"`
	Status        QuizStatus `json:"status"`
	QuestionCount int        `json:"question_count"`
	CreatedAt     time.Time  `json:"created_at"`
}

// QuizInfo is the pre-join public view of a quiz.
type QuizInfo struct {
	ID            string     `json:"quiz_id"`
	Title         string     `json:"title"`
	Description   *string    `json:"description,omitempty"`
	Status        QuizStatus `json:"status"`
	QuestionCount int        `json:"question_count"`
	IsActive      bool       `json:"is_active"`
}

// StudentQuestion has no correct option on purpose: it is the only shape handed to students.
type StudentQuestion struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

type StudentQuiz struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description *string           `json:"description,omitempty"`
	Questions   []StudentQuestion `json:"questions"`
}

// QuizFilter selects quizzes for listing. A nil CourseIDs means no course filter;
// an empty non-nil slice matches nothing.
type QuizFilter struct {
	CourseIDs []string
}

// QuizPatch is a sparse update; nil fields are left untouched.
type QuizPatch struct {
	Title       *string `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=1000"`
}

// QuestionPatch is a sparse question update. Options, when set, replace all four.
type QuestionPatch struct {
	Text          *string  `json:"text,omitempty" validate:"omitempty,min=1,max=1000"`
	Options       []string `json:"options,omitempty" validate:"omitempty,len=4"`
	CorrectOption *int     `json:"correct_option,omitempty" validate:"omitempty,min=0,max=3"`
}

// Apply returns the question with the patch applied.
func (p QuestionPatch) Apply(q Question) Question {
	if p.Text != nil {
		q.Text = *p.Text
	}
	if p.Options != nil {
		q.Options = append([]string(nil), p.Options...)
	}
	if p.CorrectOption != nil {
		q.CorrectOption = *p.CorrectOption
	}
	return q
}

// RecordedAnswer is appended to a response and never changed.
type RecordedAnswer struct {
	QuestionID     string    `json:"question_id" bson:"question_id"`
	SelectedOption int       `json:"selected_option" bson:"selected_option"`
	IsCorrect      bool      `json:"is_correct" bson:"is_correct"`
	AnsweredAt     time.Time `json:"answered_at" bson:"answered_at"`
}

// StudentResponse is one student's participation in one quiz.
type StudentResponse struct {
	ID             string           `json:"id" bson:"-"`
	QuizID         string           `json:"quiz_id" bson:"quiz_id"`
	StudentEmail   string           `json:"student_email" bson:"student_email"`
	StudentName    *string          `json:"student_name,omitempty" bson:"student_name,omitempty"`
	Answers        []RecordedAnswer `json:"answers" bson:"answers"`
	Score          int              `json:"score" bson:"score"`
	TotalQuestions int              `json:"total_questions" bson:"total_questions"`
	StartedAt      time.Time        `json:"started_at" bson:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at" bson:"completed_at"`
	IsCompleted    bool             `json:"is_completed" bson:"is_completed"`
}

// HasAnswered reports whether questionID already appears in the answers.
func (r StudentResponse) HasAnswered(questionID string) bool {
	for _, a := range r.Answers {
		if a.QuestionID == questionID {
			return true
		}
	}
	return false
}

// ReachedTotal reports whether every snapshotted question has an answer.
func (r StudentResponse) ReachedTotal() bool {
	return len(r.Answers) >= r.TotalQuestions
}

// ResponseStats aggregates scores over a quiz's responses.
type ResponseStats struct {
	TotalParticipants     int     `json:"total_participants"`
	CompletedParticipants int     `json:"completed_participants"`
	AverageScore          float64 `json:"average_score"`
	HighestScore          int     `json:"highest_score"`
	LowestScore           int     `json:"lowest_score"`
}

// NormalizeEmail is applied before every store lookup or comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// StudentProfile is what the course registry returns for an enrolled student.
type StudentProfile struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Name     string `json:"name"`
}

// DisplayName prefers the full name and falls back to the short name.
func (p StudentProfile) DisplayName() *string {
	switch {
	case p.FullName != "":
		return &p.FullName
	case p.Name != "":
		return &p.Name
	}
	return nil
}

// Course is the registry's view of a course owned by a teacher.
type Course struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	TeacherID string `json:"teacher_id"`
}
