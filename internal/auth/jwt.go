package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrInvalidToken is returned when a token is invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a token has expired
	ErrExpiredToken = errors.New("token has expired")
)

// Token purposes. A token issued for one purpose never verifies for another.
const (
	PurposeSession       = "session"
	PurposeUnsubscribe   = "unsubscribe"
	PurposePasswordSetup = "password-setup"
)

const issuer = "bizmodelai"

// TokenService signs and verifies HS256 tokens carrying a single subject.
type TokenService struct {
	secret []byte
	clock  clockwork.Clock
}

// NewTokenService creates a new token service
func NewTokenService(secret string, clock clockwork.Clock) *TokenService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenService{secret: []byte(secret), clock: clock}
}

// Issue creates a token for subject, valid for ttl (zero means no expiry).
func (s *TokenService) Issue(purpose, subject string, ttl time.Duration) (string, error) {
	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:   issuer,
		Subject:  subject,
		Audience: jwt.ClaimStrings{purpose},
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Verify validates a token issued for purpose and returns its subject
func (s *TokenService) Verify(purpose, tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithAudience(purpose),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
