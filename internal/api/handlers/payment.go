package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/api/request"
	"github.com/BizModelAI/Main12-sub002/internal/api/response"
	"github.com/BizModelAI/Main12-sub002/internal/models"
	"github.com/BizModelAI/Main12-sub002/internal/payment"
	"github.com/BizModelAI/Main12-sub002/internal/session"
)

// maxWebhookBytes bounds Stripe webhook payloads
const maxWebhookBytes = 65536

// PaymentHandler handles report unlock payments
type PaymentHandler struct {
	payments *payment.Service
	*Responder
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments *payment.Service, responder *Responder) *PaymentHandler {
	return &PaymentHandler{payments: payments, Responder: responder}
}

// UnlockRequest starts a report unlock. userId and quizData are accepted for
// compatibility with older clients and ignored: the owner comes from the
// attempt and the session.
type UnlockRequest struct {
	QuizAttemptID request.FlexInt64 `json:"quizAttemptId"`
	Email         string            `json:"email,omitempty"`
}

// UnlockResponse is returned once the provider object exists
type UnlockResponse struct {
	Success       bool    `json:"success"`
	PaymentID     int64   `json:"paymentId"`
	Amount        float64 `json:"amount"`
	QuizAttemptID int64   `json:"quizAttemptId"`
	ClientSecret  string  `json:"clientSecret,omitempty"`
	OrderID       string  `json:"orderId,omitempty"`
	ApproveURL    string  `json:"approveUrl,omitempty"`
}

// CaptureRequest captures an approved PayPal order
type CaptureRequest struct {
	OrderID string `json:"orderId"`
}

// RefundRequest is an admin refund
type RefundRequest struct {
	Reason  string `json:"reason"`
	AdminID string `json:"adminId"`
}

// CreateReportUnlock handles POST /api/create-report-unlock-payment
func (h *PaymentHandler) CreateReportUnlock(w http.ResponseWriter, r *http.Request) {
	h.createUnlock(w, r, models.ProviderStripe)
}

// CreatePayPalPayment handles POST /api/create-paypal-payment
func (h *PaymentHandler) CreatePayPalPayment(w http.ResponseWriter, r *http.Request) {
	h.createUnlock(w, r, models.ProviderPayPal)
}

func (h *PaymentHandler) createUnlock(w http.ResponseWriter, r *http.Request, provider string) {
	rc := session.FromContext(r.Context())
	if rc == nil {
		h.Fail(w, r, errNoSession)
		return
	}

	var req UnlockRequest
	if err := request.DecodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}
	attemptID, ok := req.QuizAttemptID.Int64()
	if !ok {
		h.Fail(w, r, payment.ErrInvalidAttemptID)
		return
	}

	result, err := h.payments.CreateReportUnlockPayment(r.Context(), rc, payment.UnlockInput{
		QuizAttemptID: attemptID,
		Email:         strings.TrimSpace(req.Email),
	}, provider)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	response.Success(w, UnlockResponse{
		Success:       true,
		PaymentID:     result.PaymentID,
		Amount:        result.Amount(),
		QuizAttemptID: result.QuizAttemptID,
		ClientSecret:  result.ClientSecret,
		OrderID:       result.OrderID,
		ApproveURL:    result.ApproveURL,
	})
}

// CapturePayPal handles POST /api/capture-paypal-payment
func (h *PaymentHandler) CapturePayPal(w http.ResponseWriter, r *http.Request) {
	rc := session.FromContext(r.Context())
	if rc == nil {
		h.Fail(w, r, errNoSession)
		return
	}

	var req CaptureRequest
	if err := request.DecodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		response.BadRequest(w, "orderId is required")
		return
	}

	completion, err := h.payments.CapturePayPal(r.Context(), rc, req.OrderID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	response.Success(w, map[string]interface{}{
		"success":          true,
		"paymentId":        completion.PaymentID,
		"status":           models.PaymentCompleted,
		"alreadyCompleted": completion.AlreadyCompleted,
	})
}

// Status handles GET /api/payment-status/{paymentId}
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	rc := session.FromContext(r.Context())
	if rc == nil {
		h.Fail(w, r, errNoSession)
		return
	}
	paymentID, err := request.GetURLParamInt(r, "paymentId")
	if err != nil {
		response.BadRequest(w, "Invalid payment id")
		return
	}

	status, err := h.payments.Status(r.Context(), rc, paymentID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	response.Success(w, status)
}

// StripeWebhook handles POST /api/stripe/webhook. Verified events are always
// acknowledged; Stripe retries anything else.
func (h *PaymentHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		response.Error(w, http.StatusRequestEntityTooLarge, "Webhook payload too large")
		return
	}

	err = h.payments.HandleStripeWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		response.Success(w, map[string]bool{"received": true})
	case errors.Is(err, payment.ErrInvalidSignature):
		h.log.Warn("rejected stripe webhook", zap.Error(err))
		response.BadRequest(w, "Webhook signature verification failed")
	default:
		h.Fail(w, r, err)
	}
}

// Refund handles POST /api/admin/payments/{paymentId}/refund
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	paymentID, err := request.GetURLParamInt(r, "paymentId")
	if err != nil {
		response.BadRequest(w, "Invalid payment id")
		return
	}

	var req RefundRequest
	if err := request.DecodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}
	if req.AdminID == "" {
		req.AdminID = "admin"
	}

	refund, err := h.payments.Refund(r.Context(), paymentID, strings.TrimSpace(req.Reason), req.AdminID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	response.Success(w, map[string]interface{}{
		"success": true,
		"refund":  refund,
		"amount":  models.CentsToDollars(refund.AmountCents),
	})
}
