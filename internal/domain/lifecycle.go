package domain

// CheckActivate reports why the quiz cannot move from draft to active.
func (q Quiz) CheckActivate() error {
	switch q.Status {
	case StatusActive:
		return ErrAlreadyActive
	case StatusFinished:
		return ErrAlreadyFinished
	}
	if len(q.Questions) == 0 {
		return ErrEmptyQuiz
	}
	return nil
}

// CheckFinish reports why the quiz cannot move from active to finished.
func (q Quiz) CheckFinish() error {
	switch q.Status {
	case StatusActive:
		return nil
	case StatusFinished:
		return ErrAlreadyFinished
	}
	return ErrQuizNotActive
}

// CheckEditable guards question mutation.
func (q Quiz) CheckEditable() error {
	if q.Status != StatusDraft {
		return ErrQuizNotDraft
	}
	return nil
}

// CheckPlayable guards every student operation.
func (q Quiz) CheckPlayable() error {
	if q.Status != StatusActive {
		return ErrQuizNotActive
	}
	return nil
}

// CheckAppend explains why an answer could not be appended to r.
func (r StudentResponse) CheckAppend(questionID string) error {
	if r.IsCompleted || r.ReachedTotal() {
		return ErrAlreadyCompleted
	}
	if r.HasAnswered(questionID) {
		return ErrAlreadyAnswered
	}
	return nil
}
