package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

const teacherHeader = "X-User-ID"

// QuizHandler serves the teacher-facing quiz endpoints.
type QuizHandler struct {
	quizzes *app.QuizService
}

func NewQuizHandler(quizzes *app.QuizService) *QuizHandler {
	return &QuizHandler{quizzes: quizzes}
}

type transitionResponse struct {
	Message string            `json:"message"`
	QuizID  string            `json:"quiz_id"`
	Status  domain.QuizStatus `json:"status"`
}

// requireTeacher reads the caller's id; the gateway in front sets it after auth.
func requireTeacher(w http.ResponseWriter, r *http.Request) (string, bool) {
	teacherID := r.Header.Get(teacherHeader)
	if teacherID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+teacherHeader+" header")
		return "", false
	}
	return teacherID, true
}

// Create handles POST /quizzes
func (h *QuizHandler) Create(w http.ResponseWriter, r *http.Request) {
	teacherID, ok := requireTeacher(w, r)
	if !ok {
		return
	}
	var in domain.NewQuiz
	if err := decodeJSON(r, &in); err != nil {
		writeDomainError(w, r, err)
		return
	}
	quiz, err := h.quizzes.CreateQuiz(r.Context(), teacherID, in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

// List handles GET /quizzes?course_id=
func (h *QuizHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.quizzes.ListQuizzes(r.Context(), r.Header.Get(teacherHeader), r.URL.Query().Get("course_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Get handles GET /quizzes/{quiz_id}
func (h *QuizHandler) Get(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.quizzes.GetQuiz(r.Context(), mux.Vars(r)["quiz_id"], r.Header.Get(teacherHeader))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

// Update handles PATCH /quizzes/{quiz_id}
func (h *QuizHandler) Update(w http.ResponseWriter, r *http.Request) {
	teacherID, ok := requireTeacher(w, r)
	if !ok {
		return
	}
	var patch domain.QuizPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeDomainError(w, r, err)
		return
	}
	quiz, err := h.quizzes.UpdateQuiz(r.Context(), mux.Vars(r)["quiz_id"], teacherID, patch)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

// Delete handles DELETE /quizzes/{quiz_id}
func (h *QuizHandler) Delete(w http.ResponseWriter, r *http.Request) {
	teacherID, ok := requireTeacher(w, r)
	if !ok {
		return
	}
	if err := h.quizzes.DeleteQuiz(r.Context(), mux.Vars(r)["quiz_id"], teacherID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Activate handles POST /quizzes/{quiz_id}/activate
func (h *QuizHandler) Activate(w http.ResponseWriter, r *http.Request) {
	teacherID, ok := requireTeacher(w, r)
	if !ok {
		return
	}
	quiz, err := h.quizzes.Activate(r.Context(), mux.Vars(r)["quiz_id"], teacherID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{Message: "quiz activated", QuizID: quiz.ID, Status: quiz.Status})
}

// Finish handles POST /quizzes/{quiz_id}/finish
func (h *QuizHandler) Finish(w http.ResponseWriter, r *http.Request) {
	teacherID, ok := requireTeacher(w, r)
	if !ok {
		return
	}
	quiz, err := h.quizzes.Finish(r.Context(), mux.Vars(r)["quiz_id"], teacherID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{Message: "quiz finished", QuizID: quiz.ID, Status: quiz.Status})
}

// AddQuestion handles POST /quizzes/{quiz_id}/questions
func (h *QuizHandler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	teacherID, ok := requireTeacher(w, r)
	if !ok {
		return
	}
	var in domain.NewQuestion
	if err := decodeJSON(r, &in); err != nil {
		writeDomainError(w, r, err)
		return
	}
	question, err := h.quizzes.AddQuestion(r.Context(), mux.Vars(r)["quiz_id"], teacherID, in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, question)
}

// UpdateQuestion handles PATCH /quizzes/{quiz_id}/questions/{question_id}
func (h *QuizHandler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	teacherID, ok := requireTeacher(w, r)
	if !ok {
		return
	}
	var patch domain.QuestionPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeDomainError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	question, err := h.quizzes.UpdateQuestion(r.Context(), vars["quiz_id"], vars["question_id"], teacherID, patch)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, question)
}

// RemoveQuestion handles DELETE /quizzes/{quiz_id}/questions/{question_id}
func (h *QuizHandler) RemoveQuestion(w http.ResponseWriter, r *http.Request) {
	teacherID, ok := requireTeacher(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := h.quizzes.RemoveQuestion(r.Context(), vars["quiz_id"], vars["question_id"], teacherID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Responses handles GET /quizzes/{quiz_id}/responses
func (h *QuizHandler) Responses(w http.ResponseWriter, r *http.Request) {
	teacherID, ok := requireTeacher(w, r)
	if !ok {
		return
	}
	list, err := h.quizzes.ListResponses(r.Context(), mux.Vars(r)["quiz_id"], teacherID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Statistics handles GET /quizzes/{quiz_id}/statistics
func (h *QuizHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	teacherID, ok := requireTeacher(w, r)
	if !ok {
		return
	}
	stats, err := h.quizzes.Statistics(r.Context(), mux.Vars(r)["quiz_id"], teacherID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// StudentHandler serves the participation endpoints. Students are
// identified by the email query parameter.
type StudentHandler struct {
	participation *app.ParticipationService
}

func NewStudentHandler(participation *app.ParticipationService) *StudentHandler {
	return &StudentHandler{participation: participation}
}

type joinRequest struct {
	Email string `json:"email"`
}

func requireEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	email := domain.NormalizeEmail(r.URL.Query().Get("email"))
	if email == "" {
		writeDomainError(w, r, domain.InvalidField("email", "is required"))
		return "", false
	}
	return email, true
}

// Info handles GET /quizzes/{quiz_id}/info
func (h *StudentHandler) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.participation.QuizInfo(r.Context(), mux.Vars(r)["quiz_id"])
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Join handles POST /quizzes/{quiz_id}/join
func (h *StudentHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	result, err := h.participation.Join(r.Context(), mux.Vars(r)["quiz_id"], req.Email)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Questions handles GET /quizzes/{quiz_id}/student?email=
func (h *StudentHandler) Questions(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}
	quiz, err := h.participation.Questions(r.Context(), mux.Vars(r)["quiz_id"], email)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

// Answer handles POST /quizzes/{quiz_id}/answer?email=
func (h *StudentHandler) Answer(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}
	var in domain.AnswerSubmission
	if err := decodeJSON(r, &in); err != nil {
		writeDomainError(w, r, err)
		return
	}
	result, err := h.participation.SubmitAnswer(r.Context(), mux.Vars(r)["quiz_id"], email, in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Progress handles GET /quizzes/{quiz_id}/my-progress?email=
func (h *StudentHandler) Progress(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}
	resp, err := h.participation.Progress(r.Context(), mux.Vars(r)["quiz_id"], email)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
