package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/BizModelAI/Main12-sub002/internal/database"
	"github.com/BizModelAI/Main12-sub002/internal/models"
)

const paymentColumns = `id, user_id, quiz_attempt_id, amount_cents, currency, type, status, provider,
		provider_ref, idempotency_key, created_at, updated_at, completed_at`

// PaymentRepository handles payment database operations
type PaymentRepository struct {
	db *database.DB
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *database.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.UserID, &p.QuizAttemptID, &p.AmountCents, &p.Currency, &p.Type,
		&p.Status, &p.Provider, &p.ProviderRef, &p.IdempotencyKey, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) getOne(ctx context.Context, where string, arg any) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + where
	p, err := scanPayment(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// Create inserts a payment and fills in its id and timestamps
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (user_id, quiz_attempt_id, amount_cents, currency, type, status, provider,
			provider_ref, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		payment.UserID, payment.QuizAttemptID, payment.AmountCents, payment.Currency, payment.Type,
		payment.Status, payment.Provider, payment.ProviderRef, payment.IdempotencyKey,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment by ID
func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*models.Payment, error) {
	return r.getOne(ctx, "id = $1", id)
}

// GetByProviderRef retrieves a payment by Stripe payment intent or PayPal order id
func (r *PaymentRepository) GetByProviderRef(ctx context.Context, ref string) (*models.Payment, error) {
	return r.getOne(ctx, "provider_ref = $1", ref)
}

// SetProviderRef attaches the provider reference to a local payment
func (r *PaymentRepository) SetProviderRef(ctx context.Context, id int64, ref string) error {
	query := `UPDATE payments SET provider_ref = $2, updated_at = NOW() WHERE id = $1`
	n, err := r.db.Exec(ctx, query, id, ref)
	if err != nil {
		return fmt.Errorf("failed to set provider reference: %w", err)
	}
	if n == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// FindCompletedUnlock returns the completed report unlock for a user and
// quiz attempt, or ErrPaymentNotFound.
func (r *PaymentRepository) FindCompletedUnlock(ctx context.Context, userID, quizAttemptID int64) (*models.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE user_id = $1 AND quiz_attempt_id = $2 AND type = 'report_unlock' AND status = 'completed'
		LIMIT 1
	`
	p, err := scanPayment(r.db.QueryRow(ctx, query, userID, quizAttemptID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to find completed unlock: %w", err)
	}
	return p, nil
}

// MarkCompleted transitions a pending payment to completed. It reports false
// when the payment was already in a terminal state, and returns
// ErrDuplicateUnlock if another completed unlock exists for the same report.
func (r *PaymentRepository) MarkCompleted(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `
		UPDATE payments
		SET status = 'completed', completed_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	n, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return false, ErrDuplicateUnlock
		}
		return false, fmt.Errorf("failed to complete payment: %w", err)
	}
	return n > 0, nil
}

// MarkFailed transitions a pending payment to failed
func (r *PaymentRepository) MarkFailed(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE payments SET status = 'failed', updated_at = NOW() WHERE id = $1 AND status = 'pending'`
	n, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return n > 0, nil
}

// MarkRefunded transitions a completed payment to refunded
func (r *PaymentRepository) MarkRefunded(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE payments SET status = 'refunded', updated_at = NOW() WHERE id = $1 AND status = 'completed'`
	n, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment refunded: %w", err)
	}
	return n > 0, nil
}
