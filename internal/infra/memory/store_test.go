package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-session-service/internal/domain"
)

func TestStoreQuizLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)

	quiz, err := store.CreateQuiz(ctx, domain.Quiz{Title: "Math 101", CourseID: "c-1", Status: domain.StatusDraft, CreatedAt: now})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Activate(ctx, quiz.ID, now); !errors.Is(err, domain.ErrEmptyQuiz) {
		t.Fatalf("expected ErrEmptyQuiz, got %v", err)
	}

	if _, err := store.AddQuestion(ctx, quiz.ID, sampleQuestion("q1", 1), now); err != nil {
		t.Fatalf("add question: %v", err)
	}
	active, err := store.Activate(ctx, quiz.ID, now)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if active.Status != domain.StatusActive || active.ActivatedAt == nil {
		t.Fatalf("unexpected quiz after activate: %+v", active)
	}
	if _, err := store.Activate(ctx, quiz.ID, now); !errors.Is(err, domain.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if _, err := store.AddQuestion(ctx, quiz.ID, sampleQuestion("q2", 0), now); !errors.Is(err, domain.ErrQuizNotDraft) {
		t.Fatalf("expected ErrQuizNotDraft, got %v", err)
	}

	if _, err := store.Finish(ctx, quiz.ID, now); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := store.Finish(ctx, quiz.ID, now); !errors.Is(err, domain.ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished, got %v", err)
	}
}

func TestStoreMalformedIDIsNotFound(t *testing.T) {
	store := NewStore()
	if _, err := store.GetQuiz(context.Background(), "not-a-uuid"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

func TestStoreListFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)

	older, _ := store.CreateQuiz(ctx, domain.Quiz{Title: "older", CourseID: "c-1", CreatedAt: base})
	newer, _ := store.CreateQuiz(ctx, domain.Quiz{Title: "newer", CourseID: "c-1", CreatedAt: base.Add(time.Hour)})
	_, _ = store.CreateQuiz(ctx, domain.Quiz{Title: "other", CourseID: "c-2", CreatedAt: base})

	list, err := store.ListQuizzes(ctx, domain.QuizFilter{CourseIDs: []string{"c-1"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("unexpected listing: %+v", list)
	}

	none, _ := store.ListQuizzes(ctx, domain.QuizFilter{CourseIDs: []string{}})
	if len(none) != 0 {
		t.Fatalf("expected empty filter to match nothing, got %d", len(none))
	}
	all, _ := store.ListQuizzes(ctx, domain.QuizFilter{})
	if len(all) != 3 {
		t.Fatalf("expected nil filter to match all, got %d", len(all))
	}
}

func TestStoreAppendAnswerIsConditional(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	quizID := activeQuiz(t, store, 2)
	now := time.Now().UTC()

	_, created, err := store.CreateResponse(ctx, domain.StudentResponse{QuizID: quizID, StudentEmail: "a@x.io", TotalQuestions: 2, StartedAt: now})
	if err != nil || !created {
		t.Fatalf("create response: created=%v err=%v", created, err)
	}
	_, created, _ = store.CreateResponse(ctx, domain.StudentResponse{QuizID: quizID, StudentEmail: "a@x.io", TotalQuestions: 2, StartedAt: now})
	if created {
		t.Fatalf("second create should return existing record")
	}

	resp, completed, err := store.AppendAnswer(ctx, quizID, "a@x.io", domain.RecordedAnswer{QuestionID: "q1", SelectedOption: 1, IsCorrect: true, AnsweredAt: now})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if resp.Score != 1 || len(resp.Answers) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if completed || resp.IsCompleted || resp.CompletedAt != nil {
		t.Fatalf("first of two answers must not complete the response: %+v", resp)
	}
	if _, _, err := store.AppendAnswer(ctx, quizID, "a@x.io", domain.RecordedAnswer{QuestionID: "q1", SelectedOption: 0}); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected ErrAlreadyAnswered, got %v", err)
	}

	finishedAt := now.Add(time.Minute)
	resp, completed, err = store.AppendAnswer(ctx, quizID, "a@x.io", domain.RecordedAnswer{QuestionID: "q2", SelectedOption: 0, AnsweredAt: finishedAt})
	if err != nil {
		t.Fatalf("append q2: %v", err)
	}
	if !completed || !resp.IsCompleted || resp.CompletedAt == nil || !resp.CompletedAt.Equal(finishedAt) {
		t.Fatalf("final answer must complete the response in the same write: completed=%v %+v", completed, resp)
	}
	stored, _ := store.GetResponse(ctx, quizID, "a@x.io")
	if !stored.IsCompleted || stored.CompletedAt == nil {
		t.Fatalf("completion not persisted: %+v", stored)
	}
	if _, completed, err := store.AppendAnswer(ctx, quizID, "a@x.io", domain.RecordedAnswer{QuestionID: "q3", SelectedOption: 0}); !errors.Is(err, domain.ErrAlreadyCompleted) || completed {
		t.Fatalf("expected ErrAlreadyCompleted, got completed=%v err=%v", completed, err)
	}
}

func TestStoreCreateResponseAfterQuizDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	quizID := activeQuiz(t, store, 1)
	if err := store.DeleteQuiz(ctx, quizID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, created, err := store.CreateResponse(ctx, domain.StudentResponse{QuizID: quizID, StudentEmail: "a@x.io", TotalQuestions: 1})
	if !errors.Is(err, domain.ErrQuizNotFound) || created {
		t.Fatalf("expected ErrQuizNotFound, got created=%v err=%v", created, err)
	}
	if _, err := store.GetResponse(ctx, quizID, "a@x.io"); !errors.Is(err, domain.ErrResponseNotFound) {
		t.Fatalf("expected no orphaned response, got %v", err)
	}
	responses, _ := store.ListResponses(ctx, quizID)
	if len(responses) != 0 {
		t.Fatalf("expected no responses, got %+v", responses)
	}
}

func TestStoreConcurrentDuplicateAnswers(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	quizID := activeQuiz(t, store, 2)
	if _, _, err := store.CreateResponse(ctx, domain.StudentResponse{QuizID: quizID, StudentEmail: "a@x.io", TotalQuestions: 2}); err != nil {
		t.Fatalf("create response: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.AppendAnswer(ctx, quizID, "a@x.io", domain.RecordedAnswer{QuestionID: "q1", SelectedOption: 1, IsCorrect: true})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one accepted answer, got %d", successes)
	}
	resp, _ := store.GetResponse(ctx, quizID, "a@x.io")
	if resp.Score != 1 || len(resp.Answers) != 1 {
		t.Fatalf("unexpected response after race: %+v", resp)
	}
}

func TestStoreDeleteCascades(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	quizID := activeQuiz(t, store, 1)
	_, _, _ = store.CreateResponse(ctx, domain.StudentResponse{QuizID: quizID, StudentEmail: "a@x.io", TotalQuestions: 1})

	if err := store.DeleteQuiz(ctx, quizID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetResponse(ctx, quizID, "a@x.io"); !errors.Is(err, domain.ErrResponseNotFound) {
		t.Fatalf("expected responses removed, got %v", err)
	}
	if err := store.DeleteQuiz(ctx, quizID); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound on second delete, got %v", err)
	}
}

func TestStoreResponseStats(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	quizID := activeQuiz(t, store, 2)

	for _, email := range []string{"a@x.io", "b@x.io"} {
		_, _, _ = store.CreateResponse(ctx, domain.StudentResponse{QuizID: quizID, StudentEmail: email, TotalQuestions: 2})
	}
	_, _, _ = store.AppendAnswer(ctx, quizID, "a@x.io", domain.RecordedAnswer{QuestionID: "q1", IsCorrect: true})
	_, _, _ = store.AppendAnswer(ctx, quizID, "a@x.io", domain.RecordedAnswer{QuestionID: "q2", IsCorrect: true})

	stats, err := store.ResponseStats(ctx, quizID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := domain.ResponseStats{TotalParticipants: 2, CompletedParticipants: 1, AverageScore: 1, HighestScore: 2, LowestScore: 0}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
}

func activeQuiz(t *testing.T, store *Store, questions int) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	quiz, err := store.CreateQuiz(ctx, domain.Quiz{Title: "Math 101", CourseID: "c-1", Status: domain.StatusDraft, CreatedAt: now})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	for i := 1; i <= questions; i++ {
		id := "q" + string(rune('0'+i))
		if _, err := store.AddQuestion(ctx, quiz.ID, sampleQuestion(id, 1), now); err != nil {
			t.Fatalf("add question: %v", err)
		}
	}
	if _, err := store.Activate(ctx, quiz.ID, now); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return quiz.ID
}

func sampleQuestion(id string, correct int) domain.Question {
	return domain.Question{
		ID:            id,
		Text:          "What is 2 + 2?",
		Options:       []string{"3", "4", "5", "6"},
		CorrectOption: correct,
	}
}
