// Package quiz stores quiz submissions in the retention tier implied by the
// caller's identity and enforces who may read an attempt.
package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/account"
	"github.com/BizModelAI/Main12-sub002/internal/models"
	"github.com/BizModelAI/Main12-sub002/internal/repository"
	"github.com/BizModelAI/Main12-sub002/internal/session"
)

var (
	// ErrQuizDataRequired is returned when a submission has no quiz data
	ErrQuizDataRequired = errors.New("quiz data is required")
	// ErrAuthRequired is returned when an attempt needs an identity the caller lacks
	ErrAuthRequired = errors.New("authentication required")
	// ErrForbidden is returned when the caller does not own the attempt
	ErrForbidden = errors.New("access denied")
	// ErrAttemptNotFound is returned for unknown attempt ids
	ErrAttemptNotFound = repository.ErrAttemptNotFound
)

// Warnings attached to a save result.
const (
	WarningPaymentNotFound = "payment not found or not completed; saved without payment link"
	WarningExistingAccount = "an account exists for this email; log in to see this attempt in your history"
	WarningStaleSession    = "session user no longer exists; saved without account"
	WarningEmailInUse      = "this email is in use from another browser; results were saved to it but you are not signed in"
)

// SaveInput is a quiz submission.
type SaveInput struct {
	QuizData  json.RawMessage
	Email     string
	PaymentID *int64
}

// SaveResult describes where a submission was stored.
type SaveResult struct {
	AttemptID   int64      `json:"attemptId"`
	StorageType string     `json:"storageType"`
	UserType    string     `json:"userType"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Warning     string     `json:"warning,omitempty"`
}

// Service implements quiz attempt tiering.
type Service struct {
	store    *repository.Store
	accounts *account.Service
	clock    clockwork.Clock
	log      *zap.Logger
}

// NewService creates a quiz service
func NewService(store *repository.Store, accounts *account.Service, clock clockwork.Clock, log *zap.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{store: store, accounts: accounts, clock: clock, log: log.Named("quiz")}
}

// SaveQuizData stores a submission. The tier is decided once from the
// caller's identity: authenticated users own the attempt directly, an email
// creates or reuses a temporary user, and everyone else gets an anonymous
// attempt keyed by the session key.
func (s *Service) SaveQuizData(ctx context.Context, id session.Identity, in SaveInput) (*SaveResult, error) {
	if len(in.QuizData) == 0 || string(in.QuizData) == "null" {
		return nil, ErrQuizDataRequired
	}

	var warning string
	if in.PaymentID != nil {
		user, err := s.paymentOwner(ctx, id, *in.PaymentID)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return s.saveOwned(ctx, user, in.QuizData, "")
		}
		warning = WarningPaymentNotFound
	}

	if userID, ok := id.UserID(); ok {
		user, err := s.store.Users.GetByID(ctx, userID)
		switch {
		case err == nil:
			if in.Email != "" && !emailMatches(user.Email, in.Email) {
				if _, err := s.accounts.ClaimAttemptsByEmail(ctx, user, in.Email, id.SessionKey()); err != nil {
					s.log.Warn("failed to claim attempts by email", zap.Int64("user_id", user.ID), zap.Error(err))
				}
			}
			return s.saveOwned(ctx, user, in.QuizData, warning)
		case errors.Is(err, repository.ErrUserNotFound):
			s.log.Warn("session references missing user", zap.Int64("user_id", userID))
			warning = WarningStaleSession
		default:
			return nil, err
		}
	}

	if in.Email != "" {
		user, err := s.accounts.CreateTemporaryUser(ctx, id.SessionKey(), in.Email, account.TemporaryAttrs{})
		if err != nil {
			return nil, err
		}
		if !user.IsTemporary {
			// Knowing an email is not proof of owning the permanent account.
			return s.saveAnonymous(ctx, id.SessionKey(), in.QuizData, WarningExistingAccount)
		}
		if !user.HeldBySession(id.SessionKey()) {
			return s.saveOwned(ctx, user, in.QuizData, WarningEmailInUse)
		}
		if _, err := s.accounts.ClaimAnonymousAttempts(ctx, user, id.SessionKey()); err != nil {
			return nil, err
		}
		id.SetUserID(user.ID)
		return s.saveOwned(ctx, user, in.QuizData, warning)
	}

	return s.saveAnonymous(ctx, id.SessionKey(), in.QuizData, warning)
}

// paymentOwner returns the owner of a completed payment when the caller is
// that owner, either signed in as it or from the session holding its row.
func (s *Service) paymentOwner(ctx context.Context, id session.Identity, paymentID int64) (*models.User, error) {
	payment, err := s.store.Payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if payment.Status != models.PaymentCompleted {
		return nil, nil
	}
	if userID, ok := id.UserID(); ok && userID != payment.UserID {
		return nil, nil
	}
	owner, err := s.store.Users.GetByID(ctx, payment.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if _, ok := id.UserID(); !ok && !owner.HeldBySession(id.SessionKey()) {
		return nil, nil
	}
	return owner, nil
}

func (s *Service) saveOwned(ctx context.Context, user *models.User, data json.RawMessage, warning string) (*SaveResult, error) {
	now := s.clock.Now()
	tier := models.TierFor(user)
	attempt := &models.QuizAttempt{
		UserID:      &user.ID,
		QuizData:    data,
		CompletedAt: now,
		ExpiresAt:   models.ExpiresAtFor(tier, now),
	}
	if err := s.store.QuizAttempts.Create(ctx, attempt); err != nil {
		return nil, err
	}
	return &SaveResult{
		AttemptID:   attempt.ID,
		StorageType: models.StorageTypeFor(tier),
		UserType:    user.Type(),
		ExpiresAt:   attempt.ExpiresAt,
		Warning:     warning,
	}, nil
}

func (s *Service) saveAnonymous(ctx context.Context, sessionKey string, data json.RawMessage, warning string) (*SaveResult, error) {
	now := s.clock.Now()
	attempt := &models.QuizAttempt{
		SessionID:   &sessionKey,
		QuizData:    data,
		CompletedAt: now,
		ExpiresAt:   models.ExpiresAtFor(models.TierAnonymous, now),
	}
	if err := s.store.QuizAttempts.Create(ctx, attempt); err != nil {
		return nil, err
	}
	return &SaveResult{
		AttemptID:   attempt.ID,
		StorageType: models.StorageAnonymous,
		UserType:    models.UserTypeAnonymous,
		ExpiresAt:   attempt.ExpiresAt,
		Warning:     warning,
	}, nil
}

// CanAccess decides whether the caller may read attempt. Owners always may;
// anonymous attempts are readable from the session key that created them;
// attempts of temporary users are readable without authentication.
func (s *Service) CanAccess(ctx context.Context, id session.Identity, attempt *models.QuizAttempt) error {
	userID, authed := id.UserID()

	if attempt.IsAnonymous() {
		if attempt.SessionID != nil && *attempt.SessionID == id.SessionKey() {
			return nil
		}
		if authed {
			return ErrForbidden
		}
		return ErrAuthRequired
	}

	if authed {
		if attempt.OwnedBy(userID) {
			return nil
		}
		return ErrForbidden
	}

	owner, err := s.store.Users.GetByID(ctx, *attempt.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrAuthRequired
		}
		return err
	}
	if owner.IsTemporary {
		return nil
	}
	return ErrAuthRequired
}

// Get returns an attempt the caller may access.
func (s *Service) Get(ctx context.Context, id session.Identity, attemptID int64) (*models.QuizAttempt, error) {
	attempt, err := s.store.QuizAttempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if err := s.CanAccess(ctx, id, attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

// ListForUser returns the caller's attempts, newest first.
func (s *Service) ListForUser(ctx context.Context, id session.Identity) ([]models.QuizAttempt, error) {
	userID, ok := id.UserID()
	if !ok {
		return nil, ErrAuthRequired
	}
	return s.store.QuizAttempts.ListByUser(ctx, userID)
}

func emailMatches(a, b string) bool {
	nb, err := account.NormalizeEmail(b)
	if err != nil {
		return false
	}
	na, _ := account.NormalizeEmail(a)
	return na == nb
}
