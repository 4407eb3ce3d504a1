// Package repository provides PostgreSQL persistence for users, quiz
// attempts, payments, refunds and cached AI content.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/BizModelAI/Main12-sub002/internal/database"
	"github.com/BizModelAI/Main12-sub002/internal/models"
)

var (
	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when trying to create a user whose email is taken
	ErrUserExists = errors.New("user already exists")
	// ErrAttemptNotFound is returned when a quiz attempt is not found
	ErrAttemptNotFound = errors.New("quiz attempt not found")
	// ErrPaymentNotFound is returned when a payment is not found
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrContentNotFound is returned when no AI content is cached for a key
	ErrContentNotFound = errors.New("ai content not found")
	// ErrDuplicateUnlock is returned when completing a payment would create a
	// second completed unlock for the same user and quiz attempt
	ErrDuplicateUnlock = errors.New("report already unlocked by another payment")
)

// Users persists user accounts. Emails are matched case-insensitively.
type Users interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	RefreshTemporary(ctx context.Context, id int64, sessionID string, expiresAt time.Time) error
	UpdateProfile(ctx context.Context, id int64, passwordHash, firstName, lastName string) error
	SetPassword(ctx context.Context, id int64, passwordHash string) error
	Promote(ctx context.Context, id int64) (bool, error)
	MarkPaid(ctx context.Context, id int64) error
	SetUnsubscribed(ctx context.Context, id int64, unsubscribed bool) error
	DeleteExpiredTemporary(ctx context.Context, now time.Time) (int64, error)
}

// QuizAttempts persists quiz submissions.
type QuizAttempts interface {
	Create(ctx context.Context, attempt *models.QuizAttempt) error
	GetByID(ctx context.Context, id int64) (*models.QuizAttempt, error)
	ListByUser(ctx context.Context, userID int64) ([]models.QuizAttempt, error)
	ClaimBySession(ctx context.Context, userID int64, sessionKey string, tier models.Tier) (int64, error)
	AssignOwner(ctx context.Context, attemptID, userID int64, tier models.Tier) (bool, error)
	ReassignOwner(ctx context.Context, fromUserID, toUserID int64, tier models.Tier) (int64, error)
	SetPaid(ctx context.Context, id int64, paid bool) error
	ClearExpiryForUser(ctx context.Context, userID int64) (int64, error)
	DeleteExpiredUnpaid(ctx context.Context, now time.Time) (int64, error)
}

// Payments persists local payment records.
type Payments interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id int64) (*models.Payment, error)
	GetByProviderRef(ctx context.Context, ref string) (*models.Payment, error)
	SetProviderRef(ctx context.Context, id int64, ref string) error
	FindCompletedUnlock(ctx context.Context, userID, quizAttemptID int64) (*models.Payment, error)
	MarkCompleted(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int64) (bool, error)
	MarkRefunded(ctx context.Context, id int64) (bool, error)
}

// Refunds persists admin-issued refunds.
type Refunds interface {
	Create(ctx context.Context, refund *models.Refund) error
	ListByPayment(ctx context.Context, paymentID int64) ([]models.Refund, error)
}

// AIContents persists cached AI responses keyed by quiz attempt and content type.
type AIContents interface {
	Get(ctx context.Context, quizAttemptID int64, contentType string) (*models.AIContent, error)
	Upsert(ctx context.Context, content *models.AIContent) error
	DeleteByPrefix(ctx context.Context, quizAttemptID int64, prefix string) (int64, error)
	DeleteByPrefixForUser(ctx context.Context, userID int64, prefix string) (int64, error)
}

// TxRunner runs fn in a transaction carried by the context passed to fn.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store groups the repositories used by the services.
type Store struct {
	Users        Users
	QuizAttempts QuizAttempts
	Payments     Payments
	Refunds      Refunds
	AIContents   AIContents
	Tx           TxRunner
}

// NewStore creates PostgreSQL-backed repositories sharing db.
func NewStore(db *database.DB) *Store {
	return &Store{
		Users:        NewUserRepository(db),
		QuizAttempts: NewQuizAttemptRepository(db),
		Payments:     NewPaymentRepository(db),
		Refunds:      NewRefundRepository(db),
		AIContents:   NewAIContentRepository(db),
		Tx:           db,
	}
}

// retentionSeconds is the retention of a tier in seconds; zero means forever.
func retentionSeconds(tier models.Tier) float64 {
	return models.RetentionFor(tier).Seconds()
}
