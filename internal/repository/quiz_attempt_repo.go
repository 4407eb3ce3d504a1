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

const attemptColumns = `id, user_id, session_id, quiz_data, completed_at, expires_at, is_paid`

// expiryFromRetention recomputes expires_at from completed_at and a retention
// in seconds, where zero clears the expiration.
const expiryFromRetention = `CASE WHEN $3::double precision = 0 THEN NULL
		ELSE completed_at + make_interval(secs => $3::double precision) END`

// QuizAttemptRepository handles quiz attempt database operations
type QuizAttemptRepository struct {
	db *database.DB
}

// NewQuizAttemptRepository creates a new quiz attempt repository
func NewQuizAttemptRepository(db *database.DB) *QuizAttemptRepository {
	return &QuizAttemptRepository{db: db}
}

func scanAttempt(row pgx.Row) (*models.QuizAttempt, error) {
	var a models.QuizAttempt
	if err := row.Scan(&a.ID, &a.UserID, &a.SessionID, &a.QuizData, &a.CompletedAt, &a.ExpiresAt, &a.IsPaid); err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a quiz attempt and fills in its id
func (r *QuizAttemptRepository) Create(ctx context.Context, attempt *models.QuizAttempt) error {
	query := `
		INSERT INTO quiz_attempts (user_id, session_id, quiz_data, completed_at, expires_at, is_paid)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		attempt.UserID, attempt.SessionID, attempt.QuizData, attempt.CompletedAt, attempt.ExpiresAt, attempt.IsPaid,
	).Scan(&attempt.ID)
	if err != nil {
		return fmt.Errorf("failed to create quiz attempt: %w", err)
	}
	return nil
}

// GetByID retrieves a quiz attempt by ID
func (r *QuizAttemptRepository) GetByID(ctx context.Context, id int64) (*models.QuizAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM quiz_attempts WHERE id = $1`
	a, err := scanAttempt(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get quiz attempt: %w", err)
	}
	return a, nil
}

// ListByUser returns a user's attempts, newest first
func (r *QuizAttemptRepository) ListByUser(ctx context.Context, userID int64) ([]models.QuizAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM quiz_attempts WHERE user_id = $1 ORDER BY completed_at DESC, id DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list quiz attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]models.QuizAttempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quiz attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate quiz attempts: %w", err)
	}
	return attempts, nil
}

// ClaimBySession links every anonymous attempt created under sessionKey to
// userID. Already claimed attempts no longer match, so repeating the call
// changes nothing.
func (r *QuizAttemptRepository) ClaimBySession(ctx context.Context, userID int64, sessionKey string, tier models.Tier) (int64, error) {
	query := `
		UPDATE quiz_attempts
		SET user_id = $1, session_id = NULL, expires_at = ` + expiryFromRetention + `
		WHERE user_id IS NULL AND session_id = $2
	`
	n, err := r.db.Exec(ctx, query, userID, sessionKey, retentionSeconds(tier))
	if err != nil {
		return 0, fmt.Errorf("failed to claim quiz attempts: %w", err)
	}
	return n, nil
}

// AssignOwner links a single anonymous attempt to userID. It reports false if
// the attempt already had an owner.
func (r *QuizAttemptRepository) AssignOwner(ctx context.Context, attemptID, userID int64, tier models.Tier) (bool, error) {
	query := `
		UPDATE quiz_attempts
		SET user_id = $2, session_id = NULL, expires_at = ` + expiryFromRetention + `
		WHERE id = $1 AND user_id IS NULL
	`
	n, err := r.db.Exec(ctx, query, attemptID, userID, retentionSeconds(tier))
	if err != nil {
		return false, fmt.Errorf("failed to assign quiz attempt owner: %w", err)
	}
	return n > 0, nil
}

// ReassignOwner moves all attempts of one user to another
func (r *QuizAttemptRepository) ReassignOwner(ctx context.Context, fromUserID, toUserID int64, tier models.Tier) (int64, error) {
	query := `
		UPDATE quiz_attempts
		SET user_id = $2, expires_at = CASE WHEN is_paid THEN NULL ELSE ` + expiryFromRetention + ` END
		WHERE user_id = $1
	`
	n, err := r.db.Exec(ctx, query, fromUserID, toUserID, retentionSeconds(tier))
	if err != nil {
		return 0, fmt.Errorf("failed to reassign quiz attempts: %w", err)
	}
	return n, nil
}

// SetPaid updates the unlock flag. Paid attempts never expire.
func (r *QuizAttemptRepository) SetPaid(ctx context.Context, id int64, paid bool) error {
	query := `
		UPDATE quiz_attempts
		SET is_paid = $2, expires_at = CASE WHEN $2 THEN NULL ELSE expires_at END
		WHERE id = $1
	`
	n, err := r.db.Exec(ctx, query, id, paid)
	if err != nil {
		return fmt.Errorf("failed to update quiz attempt paid flag: %w", err)
	}
	if n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// ClearExpiryForUser removes the expiration of all attempts of a user
func (r *QuizAttemptRepository) ClearExpiryForUser(ctx context.Context, userID int64) (int64, error) {
	query := `UPDATE quiz_attempts SET expires_at = NULL WHERE user_id = $1 AND expires_at IS NOT NULL`
	n, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear quiz attempt expiry: %w", err)
	}
	return n, nil
}

// DeleteExpiredUnpaid removes unpaid attempts past their expiration
func (r *QuizAttemptRepository) DeleteExpiredUnpaid(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM quiz_attempts WHERE NOT is_paid AND expires_at IS NOT NULL AND expires_at < $1`
	n, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired quiz attempts: %w", err)
	}
	return n, nil
}
