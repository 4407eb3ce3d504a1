package session

import (
	"net/http"
	"time"

	"github.com/BizModelAI/Main12-sub002/internal/auth"
)

// CookieCodec writes and reads the signed session id cookie.
type CookieCodec struct {
	name   string
	ttl    time.Duration
	secure bool
	tokens *auth.TokenService
}

// NewCookieCodec creates a codec. Secure cookies are also SameSite=None so
// they survive cross-site requests from the frontend.
func NewCookieCodec(name string, ttl time.Duration, secure bool, tokens *auth.TokenService) *CookieCodec {
	return &CookieCodec{name: name, ttl: ttl, secure: secure, tokens: tokens}
}

// Read returns the session id from a validly signed cookie. Missing,
// tampered and expired cookies are treated as absent.
func (c *CookieCodec) Read(r *http.Request) (string, bool) {
	ck, err := r.Cookie(c.name)
	if err != nil || ck.Value == "" {
		return "", false
	}
	sid, err := c.tokens.Verify(auth.PurposeSession, ck.Value)
	if err != nil {
		return "", false
	}
	return sid, true
}

// Write sets the session cookie for sid
func (c *CookieCodec) Write(w http.ResponseWriter, sid string) error {
	value, err := c.tokens.Issue(auth.PurposeSession, sid, c.ttl)
	if err != nil {
		return err
	}
	http.SetCookie(w, c.cookie(value, int(c.ttl.Seconds())))
	return nil
}

// Clear expires the session cookie
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie("", -1))
}

func (c *CookieCodec) cookie(value string, maxAge int) *http.Cookie {
	sameSite := http.SameSiteLaxMode
	if c.secure {
		sameSite = http.SameSiteNoneMode
	}
	return &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: sameSite,
	}
}
