package payment

import (
	"errors"
	"fmt"

	"github.com/BizModelAI/Main12-sub002/internal/repository"
)

var (
	// ErrInvalidAttemptID is returned when quizAttemptId is missing or not numeric
	ErrInvalidAttemptID = errors.New("valid quiz attempt id is required")
	// ErrAttemptNotFound is returned when the quiz attempt does not exist
	ErrAttemptNotFound = repository.ErrAttemptNotFound
	// ErrNoOwner is returned when an anonymous attempt cannot be attached to a user
	ErrNoOwner = errors.New("quiz attempt has no owner; an email is required")
	// ErrAlreadyUnlocked is returned when the report was already paid for
	ErrAlreadyUnlocked = errors.New("report already unlocked for this quiz attempt")
	// ErrProviderNotConfigured is returned when a provider is disabled or rejects our credentials
	ErrProviderNotConfigured = errors.New("payment provider not configured")
	// ErrProviderFailure is returned when a provider call fails
	ErrProviderFailure = errors.New("payment provider error")
	// ErrPaymentNotFound is returned when a payment does not exist
	ErrPaymentNotFound = repository.ErrPaymentNotFound
	// ErrPersistAfterProvider is returned when the provider object exists but
	// the local payment row could not be linked to it
	ErrPersistAfterProvider = errors.New("payment created with provider but not recorded")
	// ErrRefundUnsupported is returned for refunds through providers without refund support
	ErrRefundUnsupported = errors.New("refunds are not supported for this provider")
	// ErrNotRefundable is returned when refunding a payment that is not completed
	ErrNotRefundable = errors.New("only completed payments can be refunded")
	// ErrPaymentClosed is returned when a provider reports success for a payment
	// that was already closed as failed
	ErrPaymentClosed = errors.New("payment was closed before it completed")
	// ErrInvalidSignature is returned for webhook payloads that fail verification
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnknownProvider is returned for provider names other than stripe and paypal
	ErrUnknownProvider = errors.New("unknown payment provider")
)

// ReconcileError carries the identifiers needed to repair a payment whose
// provider object was created but whose local row was not updated.
type ReconcileError struct {
	PaymentID   int64
	ProviderRef string
	Err         error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("payment %d with provider reference %s needs reconciliation: %v", e.PaymentID, e.ProviderRef, e.Err)
}

// Is matches ErrPersistAfterProvider.
func (e *ReconcileError) Is(target error) bool {
	return target == ErrPersistAfterProvider
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}
