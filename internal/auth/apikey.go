package auth

import (
	"crypto/sha256"
	"crypto/subtle"
)

// AdminKey guards administrative endpoints with a shared secret.
type AdminKey struct {
	hash    [sha256.Size]byte
	enabled bool
}

// NewAdminKey creates an admin key. An empty key disables admin access.
func NewAdminKey(key string) AdminKey {
	if key == "" {
		return AdminKey{}
	}
	return AdminKey{hash: sha256.Sum256([]byte(key)), enabled: true}
}

// Enabled reports whether an admin key is configured
func (k AdminKey) Enabled() bool {
	return k.enabled
}

// Matches compares a presented key in constant time
func (k AdminKey) Matches(presented string) bool {
	if !k.enabled || presented == "" {
		return false
	}
	h := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(h[:], k.hash[:]) == 1
}
