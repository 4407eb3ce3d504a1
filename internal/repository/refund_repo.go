package repository

import (
	"context"
	"fmt"

	"github.com/BizModelAI/Main12-sub002/internal/database"
	"github.com/BizModelAI/Main12-sub002/internal/models"
)

// RefundRepository handles refund database operations
type RefundRepository struct {
	db *database.DB
}

// NewRefundRepository creates a new refund repository
func NewRefundRepository(db *database.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

// Create inserts a refund
func (r *RefundRepository) Create(ctx context.Context, refund *models.Refund) error {
	query := `
		INSERT INTO refunds (payment_id, amount_cents, reason, status, provider_ref, admin_user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		refund.PaymentID, refund.AmountCents, refund.Reason, refund.Status, refund.ProviderRef, refund.AdminUserID,
	).Scan(&refund.ID, &refund.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

// ListByPayment returns the refunds of a payment
func (r *RefundRepository) ListByPayment(ctx context.Context, paymentID int64) ([]models.Refund, error) {
	query := `
		SELECT id, payment_id, amount_cents, reason, status, provider_ref, admin_user_id, created_at
		FROM refunds
		WHERE payment_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []models.Refund
	for rows.Next() {
		var rf models.Refund
		if err := rows.Scan(&rf.ID, &rf.PaymentID, &rf.AmountCents, &rf.Reason, &rf.Status,
			&rf.ProviderRef, &rf.AdminUserID, &rf.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan refund: %w", err)
		}
		refunds = append(refunds, rf)
	}
	return refunds, rows.Err()
}
