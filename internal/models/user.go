package models

import (
	"time"
)

// Retention windows by owner tier.
const (
	AnonymousRetention = 24 * time.Hour
	TemporaryRetention = 90 * 24 * time.Hour
)

// User types reported to the frontend.
const (
	UserTypeAnonymous = "anonymous"
	UserTypeTemporary = "temporary"
	UserTypePermanent = "permanent"
	UserTypePaid      = "paid"
)

// User is either a temporary (email only, expiring) or a permanent account.
// Temporary users always carry ExpiresAt; permanent users never do.
type User struct {
	ID             int64      `json:"id" db:"id"`
	Email          string     `json:"email" db:"email"`
	PasswordHash   string     `json:"-" db:"password_hash"`
	FirstName      string     `json:"firstName" db:"first_name"`
	LastName       string     `json:"lastName" db:"last_name"`
	IsTemporary    bool       `json:"isTemporary" db:"is_temporary"`
	IsPaid         bool       `json:"isPaid" db:"is_paid"`
	IsUnsubscribed bool       `json:"isUnsubscribed" db:"is_unsubscribed"`
	SessionID      *string    `json:"-" db:"session_id"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty" db:"expires_at"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time  `json:"updatedAt" db:"updated_at"`
}

// UserResponse is the public representation of a user (no password hash).
type UserResponse struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	IsTemporary bool       `json:"isTemporary"`
	IsPaid      bool       `json:"isPaid"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// ToResponse converts a User to its API response.
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		IsTemporary: u.IsTemporary,
		IsPaid:      u.IsPaid,
		ExpiresAt:   u.ExpiresAt,
	}
}

// HasPassword reports whether a real password hash is set.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// HeldBySession reports whether the user's row is bound to sessionKey.
func (u *User) HeldBySession(sessionKey string) bool {
	return sessionKey != "" && u.SessionID != nil && *u.SessionID == sessionKey
}

// Type returns the user type discriminator used in API responses.
func (u *User) Type() string {
	switch {
	case u == nil:
		return UserTypeAnonymous
	case u.IsPaid:
		return UserTypePaid
	case u.IsTemporary:
		return UserTypeTemporary
	default:
		return UserTypePermanent
	}
}

// IsExpired reports whether a temporary user is past its expiration.
func (u *User) IsExpired(now time.Time) bool {
	return u.IsTemporary && u.ExpiresAt != nil && !now.Before(*u.ExpiresAt)
}
