package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Pinger reports backend connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires every endpoint of the service.
func NewRouter(quizzes *QuizHandler, students *StudentHandler, monitors *WSHandler, store Pinger) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", healthHandler(store)).Methods(http.MethodGet)

	r.HandleFunc("/quizzes", quizzes.Create).Methods(http.MethodPost)
	r.HandleFunc("/quizzes", quizzes.List).Methods(http.MethodGet)
	r.HandleFunc("/quizzes/{quiz_id}", quizzes.Get).Methods(http.MethodGet)
	r.HandleFunc("/quizzes/{quiz_id}", quizzes.Update).Methods(http.MethodPatch)
	r.HandleFunc("/quizzes/{quiz_id}", quizzes.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/quizzes/{quiz_id}/activate", quizzes.Activate).Methods(http.MethodPost)
	r.HandleFunc("/quizzes/{quiz_id}/finish", quizzes.Finish).Methods(http.MethodPost)
	r.HandleFunc("/quizzes/{quiz_id}/questions", quizzes.AddQuestion).Methods(http.MethodPost)
	r.HandleFunc("/quizzes/{quiz_id}/questions/{question_id}", quizzes.UpdateQuestion).Methods(http.MethodPatch)
	r.HandleFunc("/quizzes/{quiz_id}/questions/{question_id}", quizzes.RemoveQuestion).Methods(http.MethodDelete)
	r.HandleFunc("/quizzes/{quiz_id}/responses", quizzes.Responses).Methods(http.MethodGet)
	r.HandleFunc("/quizzes/{quiz_id}/statistics", quizzes.Statistics).Methods(http.MethodGet)

	r.HandleFunc("/quizzes/{quiz_id}/info", students.Info).Methods(http.MethodGet)
	r.HandleFunc("/quizzes/{quiz_id}/join", students.Join).Methods(http.MethodPost)
	r.HandleFunc("/quizzes/{quiz_id}/student", students.Questions).Methods(http.MethodGet)
	r.HandleFunc("/quizzes/{quiz_id}/answer", students.Answer).Methods(http.MethodPost)
	r.HandleFunc("/quizzes/{quiz_id}/my-progress", students.Progress).Methods(http.MethodGet)

	r.HandleFunc("/ws/quizzes/{quiz_id}/monitor", monitors.ServeWS)
	return r
}

func healthHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "store": "disconnected"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "store": "connected"})
	}
}
