package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/courses"
	"quiz-session-service/internal/infra/memory"
	"quiz-session-service/internal/monitor"
)

const (
	testTeacher = "teacher-1"
	testCourse  = "course-math"
)

type testServer struct {
	*httptest.Server
	registry *courses.StaticRegistry
	hub      *monitor.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	registry := courses.NewStaticRegistry().
		AddCourse(domain.Course{ID: testCourse, Name: "Math", TeacherID: testTeacher}).
		Enroll(testCourse, domain.StudentProfile{Email: "ana@uni.edu", FullName: "Ana Ruiz"}).
		Enroll(testCourse, domain.StudentProfile{Email: "bob@uni.edu"})
	hub := monitor.NewHub(4)
	cache := memory.NewQuizCache(store, time.Minute)

	router := NewRouter(
		NewQuizHandler(app.NewQuizService(store, registry, hub, cache)),
		NewStudentHandler(app.NewParticipationService(cache, store, registry, hub)),
		NewWSHandler(app.NewMonitorService(store, registry), hub, WSConfig{SendBuffer: 16, WriteWait: time.Second, PongWait: 5 * time.Second}),
		store,
	)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testServer{Server: srv, registry: registry, hub: hub}
}

// do sends body as JSON and decodes the response into out when out is non-nil.
func (s *testServer) do(t *testing.T, method, path, teacherID string, body, out interface{}) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if teacherID != "" {
		req.Header.Set(teacherHeader, teacherID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// activeQuiz creates a one-question quiz through the API and activates it.
func (s *testServer) activeQuiz(t *testing.T) (domain.Quiz, domain.Question) {
	t.Helper()
	var quiz domain.Quiz
	if status := s.do(t, http.MethodPost, "/quizzes", testTeacher, map[string]any{"title": "Math 101 Quiz", "course_id": testCourse}, &quiz); status != http.StatusCreated {
		t.Fatalf("create quiz: status %d", status)
	}
	var question domain.Question
	if status := s.do(t, http.MethodPost, "/quizzes/"+quiz.ID+"/questions", testTeacher, map[string]any{
		"text": "What is 2 + 2?", "options": []string{"3", "4", "5", "6"}, "correct_option": 1,
	}, &question); status != http.StatusCreated {
		t.Fatalf("add question: status %d", status)
	}
	if status := s.do(t, http.MethodPost, "/quizzes/"+quiz.ID+"/activate", testTeacher, nil, nil); status != http.StatusOK {
		t.Fatalf("activate: status %d", status)
	}
	return quiz, question
}
