package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/courses"
	"quiz-session-service/internal/infra/memory"
)

const (
	teacherID = "teacher-1"
	courseID  = "course-math"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBroadcaster) Publish(_ context.Context, _ string, event domain.Event) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.Event)
	}
	return out
}

func (b *recordingBroadcaster) last() domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events[len(b.events)-1]
}

type fixture struct {
	store         *memory.Store
	registry      *courses.StaticRegistry
	events        *recordingBroadcaster
	quizzes       *app.QuizService
	participation *app.ParticipationService
	monitors      *app.MonitorService
}

func newFixture() *fixture {
	store := memory.NewStore()
	registry := courses.NewStaticRegistry().
		AddCourse(domain.Course{ID: courseID, Name: "Math", TeacherID: teacherID}).
		AddCourse(domain.Course{ID: "course-art", Name: "Art", TeacherID: "teacher-2"}).
		Enroll(courseID, domain.StudentProfile{Email: "ana@uni.edu", FullName: "Ana Ruiz"}).
		Enroll(courseID, domain.StudentProfile{Email: "bob@uni.edu", Name: "Bob"})
	events := &recordingBroadcaster{}

	var (
		mu  sync.Mutex
		now = time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	)
	clock := app.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	})
	cache := memory.NewQuizCache(store, time.Minute)
	return &fixture{
		store:         store,
		registry:      registry,
		events:        events,
		quizzes:       app.NewQuizService(store, registry, events, cache, clock),
		participation: app.NewParticipationService(cache, store, registry, events, clock),
		monitors:      app.NewMonitorService(store, registry, clock),
	}
}

func intPtr(v int) *int { return &v }

func (f *fixture) draftQuiz(t *testing.T, title string, questions ...domain.NewQuestion) domain.Quiz {
	t.Helper()
	ctx := context.Background()
	quiz, err := f.quizzes.CreateQuiz(ctx, teacherID, domain.NewQuiz{Title: title, CourseID: courseID})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	for _, q := range questions {
		if _, err := f.quizzes.AddQuestion(ctx, quiz.ID, teacherID, q); err != nil {
			t.Fatalf("add question: %v", err)
		}
	}
	quiz, err = f.quizzes.GetQuiz(ctx, quiz.ID, teacherID)
	if err != nil {
		t.Fatalf("reload quiz: %v", err)
	}
	return quiz
}

func (f *fixture) activeQuiz(t *testing.T, title string, questions ...domain.NewQuestion) domain.Quiz {
	t.Helper()
	quiz := f.draftQuiz(t, title, questions...)
	active, err := f.quizzes.Activate(context.Background(), quiz.ID, teacherID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	return active
}

func mathQuestions() []domain.NewQuestion {
	return []domain.NewQuestion{
		{Text: "What is 2 + 2?", Options: []string{"3", "4", "5", "6"}, CorrectOption: intPtr(1)},
		{Text: "What is 3 x 3?", Options: []string{"6", "9", "12", "33"}, CorrectOption: intPtr(1)},
	}
}

func TestCreateQuizChecksOwnershipAndInput(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.quizzes.CreateQuiz(ctx, "teacher-2", domain.NewQuiz{Title: "Math 101 Quiz", CourseID: courseID}); !errors.Is(err, domain.ErrNotCourseOwner) {
		t.Fatalf("expected ErrNotCourseOwner, got %v", err)
	}
	if _, err := f.quizzes.CreateQuiz(ctx, teacherID, domain.NewQuiz{Title: "Math 101 Quiz", CourseID: "course-unknown"}); !errors.Is(err, domain.ErrCourseNotFound) {
		t.Fatalf("expected ErrCourseNotFound, got %v", err)
	}
	if _, err := f.quizzes.CreateQuiz(ctx, teacherID, domain.NewQuiz{CourseID: courseID}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	quiz, err := f.quizzes.CreateQuiz(ctx, teacherID, domain.NewQuiz{Title: "Math 101 Quiz", CourseID: courseID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if quiz.Status != domain.StatusDraft || len(quiz.Questions) != 0 {
		t.Fatalf("expected empty draft, got %+v", quiz)
	}
}

func TestAddQuestionValidatesBeforePersisting(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	quiz := f.draftQuiz(t, "Math 101 Quiz")

	_, err := f.quizzes.AddQuestion(ctx, quiz.ID, teacherID, domain.NewQuestion{
		Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOption: intPtr(1),
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Fields["Options"] == "" {
		t.Fatalf("expected options validation error, got %v", err)
	}

	_, err = f.quizzes.AddQuestion(ctx, quiz.ID, teacherID, domain.NewQuestion{
		Text: "What is 2 + 2?", Options: []string{"3", "4", "5", "6"}, CorrectOption: intPtr(4),
	})
	if !errors.As(err, &verr) || verr.Fields["CorrectOption"] == "" {
		t.Fatalf("expected correct option validation error, got %v", err)
	}

	reloaded, _ := f.quizzes.GetQuiz(ctx, quiz.ID, teacherID)
	if len(reloaded.Questions) != 0 {
		t.Fatalf("invalid questions must not be stored, got %d", len(reloaded.Questions))
	}
}

func TestActivationRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	empty := f.draftQuiz(t, "Empty")
	if _, err := f.quizzes.Activate(ctx, empty.ID, teacherID); !errors.Is(err, domain.ErrEmptyQuiz) {
		t.Fatalf("expected ErrEmptyQuiz, got %v", err)
	}
	if _, err := f.quizzes.Finish(ctx, empty.ID, teacherID); !errors.Is(err, domain.ErrQuizNotActive) {
		t.Fatalf("expected ErrQuizNotActive finishing a draft, got %v", err)
	}

	quiz := f.draftQuiz(t, "Math 101 Quiz", mathQuestions()...)
	if _, err := f.quizzes.Activate(ctx, quiz.ID, "teacher-2"); !errors.Is(err, domain.ErrNotCourseOwner) {
		t.Fatalf("expected ErrNotCourseOwner, got %v", err)
	}
	active, err := f.quizzes.Activate(ctx, quiz.ID, teacherID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if active.Status != domain.StatusActive || active.ActivatedAt == nil {
		t.Fatalf("unexpected activated quiz: %+v", active)
	}
	if _, err := f.quizzes.Activate(ctx, quiz.ID, teacherID); !errors.Is(err, domain.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}

	if _, err := f.quizzes.Finish(ctx, quiz.ID, teacherID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := f.quizzes.Activate(ctx, quiz.ID, teacherID); !errors.Is(err, domain.ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished, got %v", err)
	}
	if _, err := f.quizzes.Finish(ctx, quiz.ID, teacherID); !errors.Is(err, domain.ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished on second finish, got %v", err)
	}
}

func TestAddQuestionToActiveQuizIsRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	quiz := f.activeQuiz(t, "Math 101 Quiz", mathQuestions()...)

	_, err := f.quizzes.AddQuestion(ctx, quiz.ID, teacherID, domain.NewQuestion{
		Text: "What is 10 / 2?", Options: []string{"2", "5", "10", "20"}, CorrectOption: intPtr(1),
	})
	if !errors.Is(err, domain.ErrQuizNotDraft) {
		t.Fatalf("expected ErrQuizNotDraft, got %v", err)
	}
	if err := f.quizzes.RemoveQuestion(ctx, quiz.ID, quiz.Questions[0].ID, teacherID); !errors.Is(err, domain.ErrQuizNotDraft) {
		t.Fatalf("expected ErrQuizNotDraft on remove, got %v", err)
	}

	reloaded, _ := f.quizzes.GetQuiz(ctx, quiz.ID, teacherID)
	if len(reloaded.Questions) != 2 {
		t.Fatalf("question list changed: %d questions", len(reloaded.Questions))
	}
}

func TestUpdateAndRemoveQuestion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	quiz := f.draftQuiz(t, "Math 101 Quiz", mathQuestions()...)
	target := quiz.Questions[0]

	text := "What is 2 + 3?"
	updated, err := f.quizzes.UpdateQuestion(ctx, quiz.ID, target.ID, teacherID, domain.QuestionPatch{
		Text:          &text,
		Options:       []string{"4", "5", "6", "7"},
		CorrectOption: intPtr(1),
	})
	if err != nil {
		t.Fatalf("update question: %v", err)
	}
	if updated.ID != target.ID || updated.Text != text || updated.Options[1] != "5" {
		t.Fatalf("unexpected updated question: %+v", updated)
	}
	if _, err := f.quizzes.UpdateQuestion(ctx, quiz.ID, "missing", teacherID, domain.QuestionPatch{Text: &text}); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}

	if err := f.quizzes.RemoveQuestion(ctx, quiz.ID, target.ID, teacherID); err != nil {
		t.Fatalf("remove question: %v", err)
	}
	reloaded, _ := f.quizzes.GetQuiz(ctx, quiz.ID, teacherID)
	if len(reloaded.Questions) != 1 || reloaded.Questions[0].ID == target.ID {
		t.Fatalf("question not removed: %+v", reloaded.Questions)
	}
}

func TestListQuizzesScopedToTeacher(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.draftQuiz(t, "first", mathQuestions()...)
	f.draftQuiz(t, "second")

	list, err := f.quizzes.ListQuizzes(ctx, teacherID, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Title != "second" || list[1].QuestionCount != 2 {
		t.Fatalf("unexpected listing: %+v", list)
	}

	other, err := f.quizzes.ListQuizzes(ctx, "teacher-2", "")
	if err != nil {
		t.Fatalf("list other: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no quizzes for teacher-2, got %d", len(other))
	}
	if _, err := f.quizzes.ListQuizzes(ctx, "teacher-2", courseID); !errors.Is(err, domain.ErrNotCourseOwner) {
		t.Fatalf("expected ErrNotCourseOwner, got %v", err)
	}

	f.registry.SetUnavailable(true)
	if _, err := f.quizzes.ListQuizzes(ctx, teacherID, ""); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}
}

func TestDeleteQuizCascadesResponses(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	quiz := f.activeQuiz(t, "Math 101 Quiz", mathQuestions()...)
	if _, err := f.participation.Join(ctx, quiz.ID, "ana@uni.edu"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := f.quizzes.DeleteQuiz(ctx, quiz.ID, "teacher-2"); !errors.Is(err, domain.ErrNotCourseOwner) {
		t.Fatalf("expected ErrNotCourseOwner, got %v", err)
	}
	if err := f.quizzes.DeleteQuiz(ctx, quiz.ID, teacherID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.quizzes.GetQuiz(ctx, quiz.ID, ""); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
	if _, err := f.store.GetResponse(ctx, quiz.ID, "ana@uni.edu"); !errors.Is(err, domain.ErrResponseNotFound) {
		t.Fatalf("expected responses removed, got %v", err)
	}
	if _, err := f.participation.Join(ctx, quiz.ID, "ana@uni.edu"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected join on deleted quiz to fail, got %v", err)
	}
}

func TestFinishFailsWhenCacheKeepsActiveQuiz(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cache := &flakyCache{QuizCache: memory.NewQuizCache(f.store, time.Minute)}
	quizzes := app.NewQuizService(f.store, f.registry, f.events, cache)
	participation := app.NewParticipationService(cache, f.store, f.registry, f.events)

	quiz := f.activeQuiz(t, "Math 101 Quiz", mathQuestions()...)
	if _, err := participation.Join(ctx, quiz.ID, "ana@uni.edu"); err != nil {
		t.Fatalf("join: %v", err)
	}

	cache.setFailing(true)
	if _, err := quizzes.Finish(ctx, quiz.ID, teacherID); !errors.Is(err, domain.ErrCacheUnavailable) || !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable, got %v", err)
	}
	if _, err := quizzes.Finish(ctx, quiz.ID, teacherID); !errors.Is(err, domain.ErrCacheUnavailable) {
		t.Fatalf("expected retry to keep failing while the cache is down, got %v", err)
	}

	cache.setFailing(false)
	if _, err := quizzes.Finish(ctx, quiz.ID, teacherID); !errors.Is(err, domain.ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished on retry, got %v", err)
	}
	_, err := participation.SubmitAnswer(ctx, quiz.ID, "ana@uni.edu", domain.AnswerSubmission{QuestionID: quiz.Questions[0].ID, SelectedOption: intPtr(1)})
	if !errors.Is(err, domain.ErrQuizNotActive) {
		t.Fatalf("expected ErrQuizNotActive after the retry cleared the cache, got %v", err)
	}
}

type flakyCache struct {
	app.QuizCache
	mu      sync.Mutex
	failing bool
}

func (c *flakyCache) setFailing(v bool) {
	c.mu.Lock()
	c.failing = v
	c.mu.Unlock()
}

func (c *flakyCache) Invalidate(ctx context.Context, quizID string) error {
	c.mu.Lock()
	failing := c.failing
	c.mu.Unlock()
	if failing {
		return errors.New("connection refused")
	}
	return c.QuizCache.Invalidate(ctx, quizID)
}

func TestStatisticsPerQuestion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	quiz := f.activeQuiz(t, "Math 101 Quiz", mathQuestions()...)
	q1, q2 := quiz.Questions[0].ID, quiz.Questions[1].ID

	for _, email := range []string{"ana@uni.edu", "bob@uni.edu"} {
		if _, err := f.participation.Join(ctx, quiz.ID, email); err != nil {
			t.Fatalf("join %s: %v", email, err)
		}
	}
	submit := func(email, questionID string, option int) {
		t.Helper()
		if _, err := f.participation.SubmitAnswer(ctx, quiz.ID, email, domain.AnswerSubmission{QuestionID: questionID, SelectedOption: intPtr(option)}); err != nil {
			t.Fatalf("submit %s %s: %v", email, questionID, err)
		}
	}
	submit("ana@uni.edu", q1, 1)
	submit("ana@uni.edu", q2, 1)
	submit("bob@uni.edu", q1, 0)

	stats, err := f.quizzes.Statistics(ctx, quiz.ID, teacherID)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalParticipants != 2 || stats.CompletedParticipants != 1 {
		t.Fatalf("unexpected participants: %+v", stats.ResponseStats)
	}
	if stats.AverageScore != 1 || stats.HighestScore != 2 || stats.LowestScore != 0 {
		t.Fatalf("unexpected scores: %+v", stats.ResponseStats)
	}
	if len(stats.QuestionsStats) != 2 {
		t.Fatalf("expected 2 question stats, got %d", len(stats.QuestionsStats))
	}
	if got := stats.QuestionsStats[0]; got.TotalAnswers != 2 || got.CorrectAnswers != 1 || got.Accuracy != 50 {
		t.Fatalf("unexpected q1 stats: %+v", got)
	}
	if got := stats.QuestionsStats[1]; got.TotalAnswers != 1 || got.Accuracy != 100 {
		t.Fatalf("unexpected q2 stats: %+v", got)
	}

	responses, err := f.quizzes.ListResponses(ctx, quiz.ID, teacherID)
	if err != nil {
		t.Fatalf("responses: %v", err)
	}
	if len(responses) != 2 || responses[0].StudentEmail != "bob@uni.edu" {
		t.Fatalf("expected newest join first, got %+v", responses)
	}
}
