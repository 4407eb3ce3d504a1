package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/account"
	"github.com/BizModelAI/Main12-sub002/internal/api/request"
	"github.com/BizModelAI/Main12-sub002/internal/api/response"
	"github.com/BizModelAI/Main12-sub002/internal/email"
	"github.com/BizModelAI/Main12-sub002/internal/models"
	"github.com/BizModelAI/Main12-sub002/internal/quiz"
	"github.com/BizModelAI/Main12-sub002/internal/session"
)

// EmailHandler handles result emails and unsubscribes
type EmailHandler struct {
	mailer   *email.Service
	accounts *account.Service
	quiz     *quiz.Service
	*Responder
}

// NewEmailHandler creates a new email handler
func NewEmailHandler(mailer *email.Service, accounts *account.Service, quizService *quiz.Service, responder *Responder) *EmailHandler {
	return &EmailHandler{mailer: mailer, accounts: accounts, quiz: quizService, Responder: responder}
}

// EmailResultsRequest asks for an attempt's results by email
type EmailResultsRequest struct {
	QuizAttemptID request.FlexInt64 `json:"quizAttemptId"`
	Email         string            `json:"email,omitempty"`
}

// EmailResults handles POST /api/email-results. Anonymous attempts need an
// email, which creates or reuses a temporary user that claims the attempt.
func (h *EmailHandler) EmailResults(w http.ResponseWriter, r *http.Request) {
	rc := session.FromContext(r.Context())
	if rc == nil {
		h.Fail(w, r, errNoSession)
		return
	}

	var req EmailResultsRequest
	if err := request.DecodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}
	attemptID, ok := req.QuizAttemptID.Int64()
	if !ok {
		response.BadRequest(w, "Valid quizAttemptId is required")
		return
	}

	ctx := r.Context()
	attempt, err := h.quiz.Get(ctx, rc, attemptID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	var user *models.User
	if attempt.IsAnonymous() {
		if req.Email == "" {
			response.WriteProblem(w, &response.Problem{
				Status:     http.StatusBadRequest,
				Error:      "Email is required",
				Suggestion: SuggestionEmailRequired,
			})
			return
		}
		user, err = h.accounts.CreateTemporaryUser(ctx, rc.SessionKey(), req.Email, account.TemporaryAttrs{})
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		if !user.IsTemporary || !user.HeldBySession(rc.SessionKey()) {
			h.Fail(w, r, account.ErrEmailTaken)
			return
		}
		if _, err := h.accounts.ClaimAnonymousAttempts(ctx, user, rc.SessionKey()); err != nil {
			h.Fail(w, r, err)
			return
		}
		rc.SetUserID(user.ID)
	} else {
		user, err = h.accounts.GetUser(ctx, *attempt.UserID)
		if err != nil {
			h.Fail(w, r, err)
			return
		}
	}

	if err := h.mailer.SendQuizResults(ctx, user, attempt); err != nil {
		h.Fail(w, r, err)
		return
	}
	h.log.Info("quiz results emailed", zap.Int64("quiz_attempt_id", attempt.ID), zap.Int64("user_id", user.ID))

	response.Success(w, map[string]interface{}{
		"success": true,
		"email":   user.Email,
	})
}

// Unsubscribe handles GET /api/email/unsubscribe?token=
func (h *EmailHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	token := request.GetQueryString(r, "token", "")
	if token == "" {
		response.BadRequest(w, "token is required")
		return
	}

	userID, err := h.mailer.VerifyUnsubscribeToken(token)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if err := h.accounts.Unsubscribe(r.Context(), userID); err != nil {
		h.Fail(w, r, err)
		return
	}

	response.Success(w, map[string]interface{}{
		"success": true,
		"message": "You have been unsubscribed",
	})
}
