package domain

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// NewQuiz is the teacher's input for creating a quiz.
type NewQuiz struct {
	Title       string  `json:"title" validate:"required,min=1,max=200"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=1000"`
	CourseID    string  `json:"course_id" validate:"required"`
}

// NewQuestion is the input for adding a question to a draft quiz.
type NewQuestion struct {
	Text          string   `json:"text" validate:"required,min=1,max=1000"`
	Options       []string `json:"options" validate:"required,len=4"`
	CorrectOption *int     `json:"correct_option" validate:"required,min=0,max=3"`
}

// AnswerSubmission is a student's answer to one question.
type AnswerSubmission struct {
	QuestionID     string `json:"question_id" validate:"required"`
	SelectedOption *int   `json:"selected_option" validate:"required,min=0,max=3"`
}

// Validate checks v against its struct tags and returns a *ValidationError
// naming every failing field.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate: %w", err)
	}
	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields[fe.Field()] = describe(fe)
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "len":
		if fe.Field() == "Options" {
			return fmt.Sprintf("must have exactly %d options", OptionCount)
		}
		return "must have length " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
