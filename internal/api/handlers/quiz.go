package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/BizModelAI/Main12-sub002/internal/api/request"
	"github.com/BizModelAI/Main12-sub002/internal/api/response"
	"github.com/BizModelAI/Main12-sub002/internal/models"
	"github.com/BizModelAI/Main12-sub002/internal/quiz"
	"github.com/BizModelAI/Main12-sub002/internal/session"
)

// QuizHandler handles quiz attempt endpoints
type QuizHandler struct {
	quiz *quiz.Service
	*Responder
}

// NewQuizHandler creates a new quiz handler
func NewQuizHandler(quizService *quiz.Service, responder *Responder) *QuizHandler {
	return &QuizHandler{quiz: quizService, Responder: responder}
}

// SaveQuizRequest is a quiz submission
type SaveQuizRequest struct {
	QuizData  json.RawMessage   `json:"quizData"`
	Email     string            `json:"email,omitempty"`
	PaymentID request.FlexInt64 `json:"paymentId"`
}

type saveQuizResponse struct {
	Success bool `json:"success"`
	*quiz.SaveResult
}

type attemptsResponse struct {
	Attempts []models.QuizAttempt `json:"attempts"`
	Count    int                  `json:"count"`
}

// SaveQuizData handles POST /api/save-quiz-data
func (h *QuizHandler) SaveQuizData(w http.ResponseWriter, r *http.Request) {
	rc := session.FromContext(r.Context())
	if rc == nil {
		h.Fail(w, r, errNoSession)
		return
	}

	var req SaveQuizRequest
	if err := request.DecodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	in := quiz.SaveInput{QuizData: req.QuizData, Email: req.Email}
	if id, ok := req.PaymentID.Int64(); ok {
		in.PaymentID = &id
	}

	result, err := h.quiz.SaveQuizData(r.Context(), rc, in)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	response.Success(w, saveQuizResponse{Success: true, SaveResult: result})
}

// ListAttempts handles GET /api/quiz-attempts
func (h *QuizHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	rc := session.FromContext(r.Context())
	if rc == nil {
		h.Fail(w, r, errNoSession)
		return
	}

	attempts, err := h.quiz.ListForUser(r.Context(), rc)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []models.QuizAttempt{}
	}
	response.Success(w, attemptsResponse{Attempts: attempts, Count: len(attempts)})
}

// GetAttempt handles GET /api/quiz-attempts/attempt/{id}
func (h *QuizHandler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	rc := session.FromContext(r.Context())
	if rc == nil {
		h.Fail(w, r, errNoSession)
		return
	}
	id, err := request.GetURLParamInt(r, "id")
	if err != nil {
		response.BadRequest(w, "Invalid quiz attempt id")
		return
	}

	attempt, err := h.quiz.Get(r.Context(), rc, id)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	response.Success(w, attempt)
}
