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

const userColumns = `id, email, password_hash, first_name, last_name, is_temporary, is_paid,
		is_unsubscribed, session_id, expires_at, created_at, updated_at`

// UserRepository handles user database operations
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.IsTemporary, &u.IsPaid, &u.IsUnsubscribed, &u.SessionID, &u.ExpiresAt,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a user and fills in its id and timestamps. A taken email
// yields ErrUserExists.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, password_hash, first_name, last_name, is_temporary, is_paid,
			is_unsubscribed, session_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		user.Email, user.PasswordHash, user.FirstName, user.LastName, user.IsTemporary,
		user.IsPaid, user.IsUnsubscribed, user.SessionID, user.ExpiresAt,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return u, nil
}

// GetByEmail retrieves a user by email, ignoring case
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	u, err := scanUser(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return u, nil
}

// RefreshTemporary points a temporary user at a new session key and pushes
// its expiration out. Permanent users are left untouched.
func (r *UserRepository) RefreshTemporary(ctx context.Context, id int64, sessionID string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET session_id = $2, expires_at = $3, updated_at = NOW()
		WHERE id = $1 AND is_temporary
	`
	if _, err := r.db.Exec(ctx, query, id, sessionID, expiresAt); err != nil {
		return fmt.Errorf("failed to refresh temporary user: %w", err)
	}
	return nil
}

// UpdateProfile sets the password hash and names of a user
func (r *UserRepository) UpdateProfile(ctx context.Context, id int64, passwordHash, firstName, lastName string) error {
	query := `
		UPDATE users
		SET password_hash = $2, first_name = $3, last_name = $4, updated_at = NOW()
		WHERE id = $1
	`
	rowsAffected, err := r.db.Exec(ctx, query, id, passwordHash, firstName, lastName)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetPassword sets the password hash of a user
func (r *UserRepository) SetPassword(ctx context.Context, id int64, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	rowsAffected, err := r.db.Exec(ctx, query, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Promote makes a temporary user permanent. It reports false when the user
// was already permanent.
func (r *UserRepository) Promote(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE users
		SET is_temporary = FALSE, expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND is_temporary
	`
	rowsAffected, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to promote user: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkPaid flags a user as having completed a payment
func (r *UserRepository) MarkPaid(ctx context.Context, id int64) error {
	query := `UPDATE users SET is_paid = TRUE, updated_at = NOW() WHERE id = $1`
	rowsAffected, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark user paid: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetUnsubscribed updates the email opt-out flag
func (r *UserRepository) SetUnsubscribed(ctx context.Context, id int64, unsubscribed bool) error {
	query := `UPDATE users SET is_unsubscribed = $2, updated_at = NOW() WHERE id = $1`
	rowsAffected, err := r.db.Exec(ctx, query, id, unsubscribed)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteExpiredTemporary removes temporary, unpaid users past their
// expiration that never completed a payment.
func (r *UserRepository) DeleteExpiredTemporary(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM users u
		WHERE u.is_temporary AND NOT u.is_paid AND u.expires_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM payments p WHERE p.user_id = u.id AND p.status = 'completed'
		  )
	`
	n, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired users: %w", err)
	}
	return n, nil
}
