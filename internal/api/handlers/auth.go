package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/account"
	"github.com/BizModelAI/Main12-sub002/internal/api/request"
	"github.com/BizModelAI/Main12-sub002/internal/api/response"
	"github.com/BizModelAI/Main12-sub002/internal/email"
	"github.com/BizModelAI/Main12-sub002/internal/session"
)

// errNoSession is returned when a handler runs outside the session middleware
var errNoSession = errors.New("session middleware not installed")

// AuthHandler handles account endpoints
type AuthHandler struct {
	accounts *account.Service
	mailer   *email.Service
	*Responder
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(accounts *account.Service, mailer *email.Service, responder *Responder) *AuthHandler {
	return &AuthHandler{accounts: accounts, mailer: mailer, Responder: responder}
}

// SignupRequest represents a signup request
type SignupRequest struct {
	Email     string          `json:"email"`
	Password  string          `json:"password"`
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	QuizData  json.RawMessage `json:"quizData,omitempty"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PasswordSetupRequest asks for a set-password link
type PasswordSetupRequest struct {
	Email string `json:"email"`
}

// SetPasswordRequest sets a first password with the token from a
// set-password link
type SetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Signup handles POST /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	rc := session.FromContext(r.Context())
	if rc == nil {
		h.Fail(w, r, errNoSession)
		return
	}

	var req SignupRequest
	if err := request.DecodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	user, err := h.accounts.Signup(r.Context(), rc.SessionKey(), account.SignupInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		QuizData:  req.QuizData,
	})
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	if err := rc.SetUserIDAndSave(r.Context(), user.ID); err != nil {
		h.Fail(w, r, err)
		return
	}

	response.Created(w, user.ToResponse())
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	rc := session.FromContext(r.Context())
	if rc == nil {
		h.Fail(w, r, errNoSession)
		return
	}

	var req LoginRequest
	if err := request.DecodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		response.BadRequest(w, "Email and password are required")
		return
	}

	user, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	if err := rc.SetUserIDAndSave(r.Context(), user.ID); err != nil {
		h.Fail(w, r, err)
		return
	}
	if n, err := h.accounts.ClaimAnonymousAttempts(r.Context(), user, rc.SessionKey()); err != nil {
		h.log.Warn("failed to claim attempts on login", zap.Int64("user_id", user.ID), zap.Error(err))
	} else if n > 0 {
		h.log.Info("claimed anonymous attempts on login", zap.Int64("user_id", user.ID), zap.Int64("count", n))
	}

	response.Success(w, user.ToResponse())
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	rc := session.FromContext(r.Context())
	if rc == nil {
		h.Fail(w, r, errNoSession)
		return
	}
	if err := rc.ClearUser(r.Context()); err != nil {
		h.Fail(w, r, err)
		return
	}
	response.Success(w, map[string]bool{"success": true})
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	rc := session.FromContext(r.Context())
	if rc == nil {
		h.Fail(w, r, errNoSession)
		return
	}
	userID, ok := rc.UserID()
	if !ok {
		response.Unauthorized(w, "Not authenticated")
		return
	}

	user, err := h.accounts.GetUser(r.Context(), userID)
	if errors.Is(err, account.ErrUserNotFound) {
		response.Unauthorized(w, "Not authenticated")
		return
	}
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	response.Success(w, user.ToResponse())
}

// RequestPasswordSetup handles POST /api/auth/password-setup. The response
// does not reveal whether the email belongs to an account.
func (h *AuthHandler) RequestPasswordSetup(w http.ResponseWriter, r *http.Request) {
	var req PasswordSetupRequest
	if err := request.DecodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}
	if _, err := account.NormalizeEmail(req.Email); err != nil {
		h.Fail(w, r, err)
		return
	}

	user, err := h.accounts.PasswordSetupCandidate(r.Context(), req.Email)
	switch {
	case err != nil:
		h.log.Error("password setup lookup failed", zap.Error(err))
	case user != nil:
		if err := h.mailer.SendPasswordSetup(r.Context(), user); err != nil {
			h.log.Warn("failed to send password setup email", zap.Int64("user_id", user.ID), zap.Error(err))
		}
	}
	response.Success(w, map[string]bool{"success": true})
}

// SetPassword handles POST /api/auth/set-password
func (h *AuthHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	rc := session.FromContext(r.Context())
	if rc == nil {
		h.Fail(w, r, errNoSession)
		return
	}

	var req SetPasswordRequest
	if err := request.DecodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}
	if req.Token == "" || req.Password == "" {
		response.BadRequest(w, "Token and password are required")
		return
	}

	userID, err := h.mailer.VerifyPasswordSetupToken(req.Token)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if err := h.accounts.SetPassword(r.Context(), userID, req.Password); err != nil {
		h.Fail(w, r, err)
		return
	}
	user, err := h.accounts.GetUser(r.Context(), userID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if err := rc.SetUserIDAndSave(r.Context(), user.ID); err != nil {
		h.Fail(w, r, err)
		return
	}
	response.Success(w, user.ToResponse())
}
