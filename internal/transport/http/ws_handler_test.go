package http

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-session-service/internal/domain"
)

func (s *testServer) dialMonitor(t *testing.T, quizID, teacherID string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/quizzes/" + quizID + "/monitor"
	if teacherID != "" {
		u += "?teacher_id=" + teacherID
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event domain.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return event
}

func TestMonitorReceivesSessionEvents(t *testing.T) {
	srv := newTestServer(t)
	quiz, question := srv.activeQuiz(t)
	conn := srv.dialMonitor(t, quiz.ID, testTeacher)

	connected := readEvent(t, conn)
	if connected.Event != domain.EventConnected || connected.QuizTitle != "Math 101 Quiz" || connected.TotalQuestions != 1 {
		t.Fatalf("unexpected snapshot: %+v", connected)
	}
	if connected.CurrentStats == nil || connected.CurrentStats.ActiveStudents != 0 {
		t.Fatalf("unexpected snapshot stats: %+v", connected.CurrentStats)
	}

	base := "/quizzes/" + quiz.ID
	if status := srv.do(t, http.MethodPost, base+"/join", "", map[string]string{"email": "ana@uni.edu"}, nil); status != http.StatusOK {
		t.Fatalf("join: status %d", status)
	}
	joined := readEvent(t, conn)
	if joined.Event != domain.EventStudentJoined || joined.StudentEmail != "ana@uni.edu" {
		t.Fatalf("expected student_joined, got %+v", joined)
	}

	if status := srv.do(t, http.MethodPost, base+"/answer?email=ana@uni.edu", "", map[string]any{"question_id": question.ID, "selected_option": 1}, nil); status != http.StatusOK {
		t.Fatalf("answer: status %d", status)
	}
	completed := readEvent(t, conn)
	if completed.Event != domain.EventStudentCompleted || completed.FinalScore == nil || *completed.FinalScore != 1 {
		t.Fatalf("expected student_completed with final score 1, got %+v", completed)
	}

	if status := srv.do(t, http.MethodPost, base+"/finish", testTeacher, nil, nil); status != http.StatusOK {
		t.Fatalf("finish: status %d", status)
	}
	if finished := readEvent(t, conn); finished.Event != domain.EventQuizFinished {
		t.Fatalf("expected quiz_finished, got %+v", finished)
	}
}

func TestMonitorPingAndStats(t *testing.T) {
	srv := newTestServer(t)
	quiz, _ := srv.activeQuiz(t)
	conn := srv.dialMonitor(t, quiz.ID, "")
	readEvent(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if pong := readEvent(t, conn); pong.Event != domain.EventPong {
		t.Fatalf("expected pong, got %+v", pong)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("stats")); err != nil {
		t.Fatalf("write stats: %v", err)
	}
	stats := readEvent(t, conn)
	if stats.Event != domain.EventQuizStats || stats.ActiveStudents == nil || *stats.ActiveStudents != 0 {
		t.Fatalf("expected quiz_stats, got %+v", stats)
	}
}

func TestMonitorRejectsWithCloseCodes(t *testing.T) {
	srv := newTestServer(t)
	quiz, _ := srv.activeQuiz(t)

	cases := []struct {
		name    string
		quizID  string
		teacher string
		code    int
	}{
		{name: "unknown quiz", quizID: "00000000-0000-0000-0000-000000000000", teacher: testTeacher, code: CloseQuizNotFound},
		{name: "foreign teacher", quizID: quiz.ID, teacher: "teacher-2", code: CloseForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := srv.dialMonitor(t, tc.quizID, tc.teacher)
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err := conn.ReadMessage()
			if !websocket.IsCloseError(err, tc.code) {
				t.Fatalf("expected close code %d, got %v", tc.code, err)
			}
		})
	}

	if got := srv.hub.Count(quiz.ID); got != 0 {
		t.Fatalf("rejected monitors must not subscribe, got %d", got)
	}
}
