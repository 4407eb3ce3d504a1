package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/account"
	"github.com/BizModelAI/Main12-sub002/internal/ai"
	"github.com/BizModelAI/Main12-sub002/internal/api/request"
	"github.com/BizModelAI/Main12-sub002/internal/api/response"
	"github.com/BizModelAI/Main12-sub002/internal/auth"
	"github.com/BizModelAI/Main12-sub002/internal/email"
	"github.com/BizModelAI/Main12-sub002/internal/middleware"
	"github.com/BizModelAI/Main12-sub002/internal/models"
	"github.com/BizModelAI/Main12-sub002/internal/payment"
	"github.com/BizModelAI/Main12-sub002/internal/quiz"
	"github.com/BizModelAI/Main12-sub002/internal/repository"
)

// Suggestions tell the frontend which flow to offer next.
const (
	SuggestionPaymentRequired = "payment_required"
	SuggestionEmailRequired   = "email_required"
	SuggestionAlreadyUnlocked = "already_unlocked"
	SuggestionLogin           = "login"
)

// Responder writes error responses. Details are only exposed in development.
type Responder struct {
	dev bool
	log *zap.Logger
}

// NewResponder creates a new responder
func NewResponder(dev bool, log *zap.Logger) *Responder {
	return &Responder{dev: dev, log: log.Named("api")}
}

// Fail maps err onto the API error taxonomy and writes it.
func (rs *Responder) Fail(w http.ResponseWriter, r *http.Request, err error) {
	p := problemFor(err)

	fields := []zap.Field{
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", p.Status),
		zap.Error(err),
	}
	if p.Status >= http.StatusInternalServerError {
		rs.log.Error("request failed", fields...)
	} else {
		rs.log.Debug("request rejected", fields...)
	}

	if rs.dev {
		p.Details = err.Error()
	}
	response.WriteProblem(w, p)
}

func problemFor(err error) *response.Problem {
	var reconcile *payment.ReconcileError

	switch {
	case errors.Is(err, request.ErrInvalidBody):
		return &response.Problem{Status: http.StatusBadRequest, Error: "Invalid request body"}

	// Validation
	case errors.Is(err, account.ErrInvalidEmail),
		errors.Is(err, account.ErrNameRequired),
		isPasswordPolicy(err),
		errors.Is(err, quiz.ErrQuizDataRequired),
		errors.Is(err, payment.ErrInvalidAttemptID),
		errors.Is(err, payment.ErrUnknownProvider),
		errors.Is(err, payment.ErrRefundUnsupported),
		errors.Is(err, payment.ErrInvalidSignature),
		errors.Is(err, ai.ErrContentTypeRequired),
		errors.Is(err, ai.ErrInvalidContent),
		errors.Is(err, ai.ErrUnknownContentType):
		return &response.Problem{Status: http.StatusBadRequest, Error: err.Error()}
	case errors.Is(err, payment.ErrNoOwner):
		return &response.Problem{Status: http.StatusBadRequest, Error: err.Error(), Suggestion: SuggestionEmailRequired}
	case errors.Is(err, payment.ErrAlreadyUnlocked):
		return &response.Problem{Status: http.StatusBadRequest, Error: err.Error(), Suggestion: SuggestionAlreadyUnlocked}
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return &response.Problem{Status: http.StatusBadRequest, Error: "Invalid or expired link"}

	// Authentication and authorization
	case errors.Is(err, account.ErrInvalidCredentials):
		return &response.Problem{Status: http.StatusUnauthorized, Error: "Invalid email or password"}
	case errors.Is(err, quiz.ErrAuthRequired):
		return &response.Problem{Status: http.StatusUnauthorized, Error: "Authentication required", Suggestion: SuggestionLogin}
	case errors.Is(err, account.ErrTemporaryAccount):
		return &response.Problem{
			Status:     http.StatusForbidden,
			Error:      "This account has not been activated yet",
			UserType:   models.UserTypeTemporary,
			Suggestion: SuggestionPaymentRequired,
		}
	case errors.Is(err, quiz.ErrForbidden):
		return &response.Problem{Status: http.StatusForbidden, Error: "Access denied"}

	// Not found
	case errors.Is(err, repository.ErrAttemptNotFound):
		return &response.Problem{Status: http.StatusNotFound, Error: "Quiz attempt not found"}
	case errors.Is(err, repository.ErrPaymentNotFound):
		return &response.Problem{Status: http.StatusNotFound, Error: "Payment not found"}
	case errors.Is(err, repository.ErrUserNotFound):
		return &response.Problem{Status: http.StatusNotFound, Error: "User not found"}

	// Conflicts
	case errors.Is(err, account.ErrEmailTaken):
		return &response.Problem{Status: http.StatusConflict, Error: err.Error(), Suggestion: SuggestionLogin}
	case errors.Is(err, account.ErrPasswordAlreadySet),
		errors.Is(err, payment.ErrNotRefundable),
		errors.Is(err, payment.ErrPaymentClosed),
		errors.Is(err, repository.ErrDuplicateUnlock):
		return &response.Problem{Status: http.StatusConflict, Error: err.Error()}
	case errors.Is(err, email.ErrUnsubscribed):
		return &response.Problem{Status: http.StatusConflict, Error: "This email address has unsubscribed"}

	// Upstream
	case errors.As(err, &reconcile):
		return &response.Problem{
			Status:    http.StatusInternalServerError,
			Error:     "Payment was created but could not be recorded; contact support",
			PaymentID: reconcile.PaymentID,
		}
	case errors.Is(err, payment.ErrProviderNotConfigured):
		return &response.Problem{Status: http.StatusInternalServerError, Error: "Payment processing is unavailable"}
	case errors.Is(err, payment.ErrProviderFailure):
		return &response.Problem{Status: http.StatusInternalServerError, Error: "Payment provider error", Retryable: true}
	case errors.Is(err, ai.ErrNotConfigured):
		return &response.Problem{Status: http.StatusServiceUnavailable, Error: "AI service is not configured"}
	case errors.Is(err, ai.ErrTimeout):
		return &response.Problem{Status: http.StatusGatewayTimeout, Error: "AI service timed out", Retryable: true}
	case ai.IsRateLimited(err):
		return &response.Problem{Status: http.StatusTooManyRequests, Error: "AI service is busy, try again shortly", Retryable: true}
	case errors.Is(err, ai.ErrMalformedResponse), errors.Is(err, ai.ErrEmptyResponse), ai.IsRetryable(err):
		return &response.Problem{Status: http.StatusBadGateway, Error: "AI service error", Retryable: true}
	}

	return &response.Problem{Status: http.StatusInternalServerError, Error: "Internal server error"}
}

func isPasswordPolicy(err error) bool {
	for _, target := range []error{
		auth.ErrPasswordTooShort,
		auth.ErrPasswordTooLong,
		auth.ErrPasswordNoUpper,
		auth.ErrPasswordNoLower,
		auth.ErrPasswordNoDigit,
		auth.ErrPasswordCommon,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
