package models

import (
	"encoding/json"
	"time"
)

// Tier is the retention tier of a quiz attempt, decided by its owner.
type Tier string

const (
	TierAnonymous Tier = "anonymous"
	TierTemporary Tier = "temporary"
	TierPermanent Tier = "permanent"
)

// Storage types reported by the save-quiz-data endpoint.
const (
	StorageAnonymous = "anonymous-db"
	StorageTemporary = "temporary"
	StoragePermanent = "permanent"
)

// QuizAttempt is one completed quiz submission. It is owned by a user, or
// anonymous and identified only by the session key that created it.
type QuizAttempt struct {
	ID          int64           `json:"id" db:"id"`
	UserID      *int64          `json:"userId" db:"user_id"`
	SessionID   *string         `json:"-" db:"session_id"`
	QuizData    json.RawMessage `json:"quizData" db:"quiz_data"`
	CompletedAt time.Time       `json:"completedAt" db:"completed_at"`
	ExpiresAt   *time.Time      `json:"expiresAt" db:"expires_at"`
	IsPaid      bool            `json:"isPaid" db:"is_paid"`
}

// IsAnonymous reports whether no user owns the attempt.
func (a *QuizAttempt) IsAnonymous() bool {
	return a.UserID == nil
}

// OwnedBy reports whether the attempt belongs to userID.
func (a *QuizAttempt) OwnedBy(userID int64) bool {
	return a.UserID != nil && *a.UserID == userID
}

// TierFor returns the retention tier for attempts owned by u (nil for anonymous).
func TierFor(u *User) Tier {
	switch {
	case u == nil:
		return TierAnonymous
	case u.IsTemporary && !u.IsPaid:
		return TierTemporary
	default:
		return TierPermanent
	}
}

// RetentionFor returns how long attempts of a tier are kept; zero means forever.
func RetentionFor(tier Tier) time.Duration {
	switch tier {
	case TierAnonymous:
		return AnonymousRetention
	case TierTemporary:
		return TemporaryRetention
	default:
		return 0
	}
}

// ExpiresAtFor computes an attempt's expiration from its tier.
func ExpiresAtFor(tier Tier, completedAt time.Time) *time.Time {
	retention := RetentionFor(tier)
	if retention == 0 {
		return nil
	}
	exp := completedAt.Add(retention)
	return &exp
}

// StorageTypeFor maps a tier to the storage type reported to clients.
func StorageTypeFor(tier Tier) string {
	switch tier {
	case TierAnonymous:
		return StorageAnonymous
	case TierTemporary:
		return StorageTemporary
	default:
		return StoragePermanent
	}
}
