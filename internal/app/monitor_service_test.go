package app_test

import (
	"context"
	"errors"
	"testing"

	"quiz-session-service/internal/domain"
)

func TestMonitorAuthorize(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	quiz := f.activeQuiz(t, "Math 101 Quiz", mathQuestions()...)

	if _, err := f.monitors.Authorize(ctx, quiz.ID, teacherID); err != nil {
		t.Fatalf("owner should be authorized: %v", err)
	}
	if _, err := f.monitors.Authorize(ctx, quiz.ID, ""); err != nil {
		t.Fatalf("anonymous monitor should be authorized: %v", err)
	}
	if _, err := f.monitors.Authorize(ctx, quiz.ID, "teacher-2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.monitors.Authorize(ctx, "00000000-0000-0000-0000-000000000000", teacherID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	f.registry.SetUnavailable(true)
	if _, err := f.monitors.Authorize(ctx, quiz.ID, teacherID); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}
}

func TestMonitorSnapshotAndStats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	quiz := f.activeQuiz(t, "Math 101 Quiz", mathQuestions()...)
	q1 := quiz.Questions[0].ID

	for _, email := range []string{"ana@uni.edu", "bob@uni.edu"} {
		if _, err := f.participation.Join(ctx, quiz.ID, email); err != nil {
			t.Fatalf("join %s: %v", email, err)
		}
	}
	if _, err := f.participation.SubmitAnswer(ctx, quiz.ID, "ana@uni.edu", domain.AnswerSubmission{QuestionID: q1, SelectedOption: intPtr(1)}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	snapshot, err := f.monitors.Snapshot(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Event != domain.EventConnected || snapshot.QuizStatus != domain.StatusActive || snapshot.TotalQuestions != 2 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if s := snapshot.CurrentStats; s == nil || s.ActiveStudents != 2 || s.CompletedStudents != 0 || s.AverageScore != 0.5 {
		t.Fatalf("unexpected snapshot stats: %+v", snapshot.CurrentStats)
	}

	stats, err := f.monitors.Stats(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Event != domain.EventQuizStats || *stats.ActiveStudents != 2 || *stats.AverageScore != 0.5 {
		t.Fatalf("unexpected stats event: %+v", stats)
	}
}
