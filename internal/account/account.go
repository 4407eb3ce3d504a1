// Package account manages the temporary/permanent user lifecycle: creating
// provisional users from an email, promoting them after payment, claiming
// anonymous quiz attempts, and password signup and login.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/auth"
	"github.com/BizModelAI/Main12-sub002/internal/models"
	"github.com/BizModelAI/Main12-sub002/internal/repository"
)

var (
	// ErrInvalidEmail is returned for malformed email addresses
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrNameRequired is returned when signup omits a name
	ErrNameRequired = errors.New("first name and last name are required")
	// ErrEmailTaken is returned when signing up with the email of a permanent account
	ErrEmailTaken = errors.New("an account with this email already exists")
	// ErrInvalidCredentials is returned for unknown emails and wrong passwords
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrTemporaryAccount is returned when a temporary user tries to log in
	ErrTemporaryAccount = errors.New("account is temporary; complete a purchase to activate it")
	// ErrPasswordAlreadySet is returned when setting a password on an account that has one
	ErrPasswordAlreadySet = errors.New("password already set")
	// ErrUserNotFound is returned when the user does not exist
	ErrUserNotFound = repository.ErrUserNotFound
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// NormalizeEmail trims and lowercases an email and validates its shape.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailRegex.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// TemporaryAttrs are optional attributes of a new temporary user.
type TemporaryAttrs struct {
	FirstName    string
	LastName     string
	PasswordHash string
}

// Service is the user lifecycle manager.
type Service struct {
	store  *repository.Store
	hasher *auth.PasswordHasher
	clock  clockwork.Clock
	log    *zap.Logger
}

// NewService creates an account service
func NewService(store *repository.Store, hasher *auth.PasswordHasher, clock clockwork.Clock, log *zap.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{store: store, hasher: hasher, clock: clock, log: log.Named("account")}
}

// GetUser returns a user by id
func (s *Service) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	return s.store.Users.GetByID(ctx, userID)
}

// CreateTemporaryUser returns the user for email, creating a temporary one if
// none exists. An existing temporary user has its expiration refreshed and is
// re-pointed at sessionKey unless another session already holds it; an
// existing permanent user is returned unchanged. Losing a concurrent insert
// race for the same email is reconciled by re-reading the winner's row.
//
// Only a returned user that is HeldBySession(sessionKey) may be put into the
// caller's session: knowing an email proves nothing.
func (s *Service) CreateTemporaryUser(ctx context.Context, sessionKey, email string, attrs TemporaryAttrs) (*models.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.Users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return s.reuse(ctx, existing, sessionKey)
	case !errors.Is(err, repository.ErrUserNotFound):
		return nil, err
	}

	expires := s.clock.Now().Add(models.TemporaryRetention)
	user := &models.User{
		Email:        email,
		PasswordHash: attrs.PasswordHash,
		FirstName:    attrs.FirstName,
		LastName:     attrs.LastName,
		IsTemporary:  true,
		ExpiresAt:    &expires,
	}
	if sessionKey != "" {
		user.SessionID = &sessionKey
	}

	if err := s.store.Users.Create(ctx, user); err != nil {
		if !errors.Is(err, repository.ErrUserExists) {
			return nil, err
		}
		s.log.Info("temporary user insert lost race, reusing existing row")
		winner, err := s.store.Users.GetByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("refetch user after unique violation: %w", err)
		}
		return s.reuse(ctx, winner, sessionKey)
	}

	s.log.Debug("temporary user created", zap.Int64("user_id", user.ID))
	return user, nil
}

func (s *Service) reuse(ctx context.Context, user *models.User, sessionKey string) (*models.User, error) {
	if !user.IsTemporary || sessionKey == "" {
		return user, nil
	}
	holder := sessionKey
	if user.SessionID != nil && *user.SessionID != "" && *user.SessionID != sessionKey {
		holder = *user.SessionID
	}
	expires := s.clock.Now().Add(models.TemporaryRetention)
	if err := s.store.Users.RefreshTemporary(ctx, user.ID, holder, expires); err != nil {
		return nil, err
	}
	user.SessionID = &holder
	user.ExpiresAt = &expires
	return user, nil
}

// PromoteToPermanent makes a temporary user permanent and removes the
// expiration of its quiz attempts. Promoting a permanent user is a no-op; the
// result reports whether a promotion happened.
func (s *Service) PromoteToPermanent(ctx context.Context, userID int64) (bool, error) {
	promoted, err := s.store.Users.Promote(ctx, userID)
	if err != nil || !promoted {
		return false, err
	}
	if _, err := s.store.QuizAttempts.ClearExpiryForUser(ctx, userID); err != nil {
		return false, err
	}
	s.log.Info("user promoted to permanent", zap.Int64("user_id", userID))
	return true, nil
}

// ClaimAnonymousAttempts links the anonymous attempts created under
// sessionKey to user. Claimed attempts take the retention of the user's
// current tier.
func (s *Service) ClaimAnonymousAttempts(ctx context.Context, user *models.User, sessionKey string) (int64, error) {
	if sessionKey == "" {
		return 0, nil
	}
	tier, err := s.currentTier(ctx, user.ID)
	if err != nil {
		return 0, err
	}
	n, err := s.store.QuizAttempts.ClaimBySession(ctx, user.ID, sessionKey, tier)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Debug("claimed anonymous attempts", zap.Int64("user_id", user.ID), zap.Int64("count", n))
	}
	return n, nil
}

// ClaimAttemptsByEmail moves the attempts of the temporary, unpaid user
// registered under email to user. The temporary row must have been created
// from the caller's sessionKey.
func (s *Service) ClaimAttemptsByEmail(ctx context.Context, user *models.User, email, sessionKey string) (int64, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return 0, err
	}
	other, err := s.store.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if other.ID == user.ID || !other.IsTemporary || other.IsPaid {
		return 0, nil
	}
	if !other.HeldBySession(sessionKey) {
		return 0, nil
	}
	tier, err := s.currentTier(ctx, user.ID)
	if err != nil {
		return 0, err
	}
	return s.store.QuizAttempts.ReassignOwner(ctx, other.ID, user.ID, tier)
}

// currentTier re-reads the user so a promotion that happened after the
// caller loaded it is honored.
func (s *Service) currentTier(ctx context.Context, userID int64) (models.Tier, error) {
	user, err := s.store.Users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return models.TierFor(user), nil
}

// SignupInput is the payload of a signup request.
type SignupInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	QuizData  json.RawMessage
}

// Signup creates or updates a temporary account with a password. Permanent
// accounts, and temporary accounts held by another session, cannot be signed
// up for.
func (s *Service) Signup(ctx context.Context, sessionKey string, in SignupInput) (*models.User, error) {
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := auth.ValidatePasswordStrength(in.Password); err != nil {
		return nil, err
	}
	firstName, lastName := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	if firstName == "" || lastName == "" {
		return nil, ErrNameRequired
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	existing, err := s.store.Users.GetByEmail(ctx, email)
	if err == nil && !existing.IsTemporary {
		return nil, ErrEmailTaken
	}
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	user, err := s.CreateTemporaryUser(ctx, sessionKey, email, TemporaryAttrs{
		FirstName:    firstName,
		LastName:     lastName,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, err
	}
	if !user.IsTemporary || !user.HeldBySession(sessionKey) {
		return nil, ErrEmailTaken
	}
	if user.PasswordHash != hash {
		if err := s.store.Users.UpdateProfile(ctx, user.ID, hash, firstName, lastName); err != nil {
			return nil, err
		}
		user.PasswordHash, user.FirstName, user.LastName = hash, firstName, lastName
	}

	if _, err := s.ClaimAnonymousAttempts(ctx, user, sessionKey); err != nil {
		s.log.Warn("failed to claim attempts on signup", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	if len(in.QuizData) > 0 && string(in.QuizData) != "null" {
		now := s.clock.Now()
		attempt := &models.QuizAttempt{
			UserID:      &user.ID,
			QuizData:    in.QuizData,
			CompletedAt: now,
			ExpiresAt:   models.ExpiresAtFor(models.TierTemporary, now),
		}
		if err := s.store.QuizAttempts.Create(ctx, attempt); err != nil {
			return nil, err
		}
	}

	return user, nil
}

// Login authenticates a permanent user. Temporary users with valid
// credentials get ErrTemporaryAccount; accounts without a password never
// match.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.hasher.Check(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if user.IsTemporary {
		return nil, ErrTemporaryAccount
	}
	return user, nil
}

// PasswordSetupCandidate returns the user for email when it is a permanent
// account that has no password yet, and nil otherwise.
func (s *Service) PasswordSetupCandidate(ctx context.Context, email string) (*models.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	user, err := s.store.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if user.IsTemporary || user.HasPassword() {
		return nil, nil
	}
	return user, nil
}

// SetPassword sets the first password of a permanent account created
// through a purchase. Callers must have verified a password setup token
// issued for userID.
func (s *Service) SetPassword(ctx context.Context, userID int64, password string) error {
	user, err := s.store.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsTemporary {
		return ErrTemporaryAccount
	}
	if user.HasPassword() {
		return ErrPasswordAlreadySet
	}
	if err := auth.ValidatePasswordStrength(password); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.Users.SetPassword(ctx, userID, hash)
}

// Unsubscribe opts a user out of email
func (s *Service) Unsubscribe(ctx context.Context, userID int64) error {
	return s.store.Users.SetUnsubscribed(ctx, userID, true)
}
