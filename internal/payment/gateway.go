package payment

import "context"

// Metadata keys attached to provider objects so a confirmation can be traced
// back without a database row.
const (
	MetaPaymentID     = "paymentId"
	MetaUserID        = "userId"
	MetaQuizAttemptID = "quizAttemptId"
	MetaType          = "type"
)

// Stripe webhook event types handled by the service.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventIntentCanceled  = "payment_intent.canceled"
)

// Provider-side PaymentIntent statuses the service acts on.
const (
	IntentSucceeded = "succeeded"
	IntentCanceled  = "canceled"
)

// IntentParams describes a PaymentIntent to create.
type IntentParams struct {
	AmountCents    int64
	Currency       string
	Description    string
	ReceiptEmail   string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the subset of a Stripe PaymentIntent the service uses.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	AmountCents  int64
	Metadata     map[string]string
}

// RefundParams describes a refund of a PaymentIntent.
type RefundParams struct {
	IntentID       string
	AmountCents    int64
	Reason         string
	IdempotencyKey string
}

// RefundResult is the provider's view of a refund.
type RefundResult struct {
	ID     string
	Status string
}

// WebhookEvent is a verified provider event about a PaymentIntent.
type WebhookEvent struct {
	ID     string
	Type   string
	Intent Intent
}

// StripeGateway is the Stripe API surface used by the service.
type StripeGateway interface {
	CreatePaymentIntent(ctx context.Context, params IntentParams) (*Intent, error)
	GetPaymentIntent(ctx context.Context, id string) (*Intent, error)
	Refund(ctx context.Context, params RefundParams) (*RefundResult, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// OrderParams describes a PayPal order to create.
type OrderParams struct {
	AmountCents int64
	Currency    string
	Description string
	ReferenceID string
	CustomID    string
}

// Order is a created PayPal order.
type Order struct {
	ID         string
	Status     string
	ApproveURL string
}

// Capture is the result of capturing a PayPal order.
type Capture struct {
	OrderID string
	Status  string
}

// PayPal order statuses.
const (
	OrderCompleted = "COMPLETED"
)

// PayPalGateway is the PayPal Orders API surface used by the service.
type PayPalGateway interface {
	CreateOrder(ctx context.Context, params OrderParams) (*Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*Capture, error)
}
