package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment types
const (
	PaymentTypeReportUnlock = "report_unlock"
)

// Payment statuses
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
)

// Payment providers
const (
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
)

// Report unlock prices in cents.
const (
	ReportUnlockPrice       int64 = 999
	ReportUnlockRepeatPrice int64 = 499
	DefaultCurrency               = "usd"
)

// Payment is a local record of a provider charge.
type Payment struct {
	ID             int64      `json:"id" db:"id"`
	UserID         int64      `json:"userId" db:"user_id"`
	QuizAttemptID  *int64     `json:"quizAttemptId" db:"quiz_attempt_id"`
	AmountCents    int64      `json:"-" db:"amount_cents"`
	Currency       string     `json:"currency" db:"currency"`
	Type           string     `json:"type" db:"type"`
	Status         string     `json:"status" db:"status"`
	Provider       string     `json:"provider" db:"provider"`
	ProviderRef    *string    `json:"providerRef,omitempty" db:"provider_ref"`
	IdempotencyKey uuid.UUID  `json:"-" db:"idempotency_key"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time  `json:"updatedAt" db:"updated_at"`
	CompletedAt    *time.Time `json:"completedAt,omitempty" db:"completed_at"`
}

// Amount returns the amount in dollars.
func (p *Payment) Amount() float64 {
	return CentsToDollars(p.AmountCents)
}

// IsTerminal reports whether the payment can no longer change through the
// normal provider flow.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentCompleted || p.Status == PaymentRefunded
}

// Ref returns the provider reference or an empty string.
func (p *Payment) Ref() string {
	if p.ProviderRef == nil {
		return ""
	}
	return *p.ProviderRef
}

// UnlockPrice returns the report unlock price for a user; repeat purchasers
// get the discounted price.
func UnlockPrice(userIsPaid bool) int64 {
	if userIsPaid {
		return ReportUnlockRepeatPrice
	}
	return ReportUnlockPrice
}

// CentsToDollars converts an amount in cents to dollars.
func CentsToDollars(cents int64) float64 {
	return float64(cents) / 100
}

// Refund records an admin-issued refund of a payment.
type Refund struct {
	ID          int64     `json:"id" db:"id"`
	PaymentID   int64     `json:"paymentId" db:"payment_id"`
	AmountCents int64     `json:"amountCents" db:"amount_cents"`
	Reason      string    `json:"reason" db:"reason"`
	Status      string    `json:"status" db:"status"`
	ProviderRef *string   `json:"providerRef,omitempty" db:"provider_ref"`
	AdminUserID string    `json:"adminUserId" db:"admin_user_id"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}
