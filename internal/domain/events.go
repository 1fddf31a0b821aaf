package domain

import "time"

// EventType names a message on the monitor channel.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventStudentJoined    EventType = "student_joined"
	EventStudentProgress  EventType = "student_progress"
	EventStudentCompleted EventType = "student_completed"
	EventQuizFinished     EventType = "quiz_finished"
	EventQuizStats        EventType = "quiz_stats"
	EventPong             EventType = "pong"
)

// Event is the envelope pushed to monitors. Only the fields relevant to the
// event type are set.
type Event struct {
	Event          EventType  `json:"event"`
	QuizID         string     `json:"quiz_id,omitempty"`
	QuizTitle      string     `json:"quiz_title,omitempty"`
	QuizStatus     QuizStatus `json:"quiz_status,omitempty"`
	StudentEmail   string     `json:"student_email,omitempty"`
	StudentName    *string    `json:"student_name,omitempty"`
	QuestionNumber int        `json:"question_number,omitempty"`
	TotalQuestions int        `json:"total_questions,omitempty"`
	IsCorrect      *bool      `json:"is_correct,omitempty"`
	CurrentScore   *int       `json:"current_score,omitempty"`
	FinalScore     *int       `json:"final_score,omitempty"`
	CurrentStats   *LiveStats `json:"current_stats,omitempty"`

	ActiveStudents    *int     `json:"active_students,omitempty"`
	CompletedStudents *int     `json:"completed_students,omitempty"`
	AverageScore      *float64 `json:"average_score,omitempty"`

	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// LiveStats is the aggregate embedded in the connected snapshot.
type LiveStats struct {
	ActiveStudents    int     `json:"active_students"`
	CompletedStudents int     `json:"completed_students"`
	AverageScore      float64 `json:"average_score"`
}

// LiveStatsFrom projects aggregate response stats onto the monitor view.
func LiveStatsFrom(s ResponseStats) LiveStats {
	return LiveStats{
		ActiveStudents:    s.TotalParticipants,
		CompletedStudents: s.CompletedParticipants,
		AverageScore:      Round(s.AverageScore, 2),
	}
}

func StudentJoined(quizID, email string, at time.Time) Event {
	return Event{Event: EventStudentJoined, QuizID: quizID, StudentEmail: email, Timestamp: &at}
}

func StudentProgress(resp StudentResponse, isCorrect bool, at time.Time) Event {
	score := resp.Score
	return Event{
		Event:          EventStudentProgress,
		QuizID:         resp.QuizID,
		StudentEmail:   resp.StudentEmail,
		StudentName:    resp.StudentName,
		QuestionNumber: len(resp.Answers),
		TotalQuestions: resp.TotalQuestions,
		IsCorrect:      &isCorrect,
		CurrentScore:   &score,
		Timestamp:      &at,
	}
}

func StudentCompleted(resp StudentResponse, at time.Time) Event {
	score := resp.Score
	return Event{
		Event:          EventStudentCompleted,
		QuizID:         resp.QuizID,
		StudentEmail:   resp.StudentEmail,
		StudentName:    resp.StudentName,
		TotalQuestions: resp.TotalQuestions,
		FinalScore:     &score,
		Timestamp:      &at,
	}
}

func QuizFinished(quizID string, at time.Time) Event {
	return Event{Event: EventQuizFinished, QuizID: quizID, Timestamp: &at}
}

// Connected is the one-time snapshot sent to a new monitor.
func Connected(quiz Quiz, stats ResponseStats, at time.Time) Event {
	live := LiveStatsFrom(stats)
	return Event{
		Event:          EventConnected,
		QuizID:         quiz.ID,
		QuizTitle:      quiz.Title,
		QuizStatus:     quiz.Status,
		TotalQuestions: len(quiz.Questions),
		CurrentStats:   &live,
		Timestamp:      &at,
	}
}

// QuizStatsEvent answers an on-demand stats request.
func QuizStatsEvent(stats ResponseStats) Event {
	live := LiveStatsFrom(stats)
	return Event{
		Event:             EventQuizStats,
		ActiveStudents:    &live.ActiveStudents,
		CompletedStudents: &live.CompletedStudents,
		AverageScore:      &live.AverageScore,
	}
}

func Pong() Event {
	return Event{Event: EventPong}
}
