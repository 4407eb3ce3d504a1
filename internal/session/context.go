package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// Identity is the view of a request's identity that services depend on.
type Identity interface {
	UserID() (int64, bool)
	SessionKey() string
	SetUserID(userID int64)
}

type contextKey struct{}

// RequestContext is built once per request by Manager.Middleware and carries
// the resolved identity and the cookie session.
type RequestContext struct {
	mu      sync.Mutex
	mgr     *Manager
	w       http.ResponseWriter
	sid     string
	cookie  bool
	data    *Data
	key     string
	headers http.Header
	dirty   bool
}

// FromContext returns the request context stored by the middleware, or nil.
func FromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rc
}

// WithRequestContext stores rc in ctx
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// UserID returns the resolved user id
func (rc *RequestContext) UserID() (int64, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.data == nil || rc.data.UserID == nil {
		return 0, false
	}
	return *rc.data.UserID, true
}

// SessionKey returns the derived IP and user agent fingerprint
func (rc *RequestContext) SessionKey() string {
	return rc.key
}

// SessionID returns the cookie session id
func (rc *RequestContext) SessionID() string {
	return rc.sid
}

// Headers returns the raw request headers
func (rc *RequestContext) Headers() http.Header {
	return rc.headers
}

// SetUserID records userID in the cookie session and the fallback cache. The
// session is persisted after the handler returns; failures there are only
// logged.
func (rc *RequestContext) SetUserID(userID int64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.setLocked(userID)
}

// SetUserIDAndSave is SetUserID followed by a synchronous save. A returned
// error means the identity was not persisted and the caller must not report
// success.
func (rc *RequestContext) SetUserIDAndSave(ctx context.Context, userID int64) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.setLocked(userID)
	if err := rc.mgr.store.Save(ctx, rc.sid, rc.data, rc.mgr.ttl); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	rc.dirty = false
	return nil
}

// ClearUser removes the identity from the session, cache and cookie.
func (rc *RequestContext) ClearUser(ctx context.Context) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.mgr.cache.Delete(rc.key)
	rc.data.UserID = nil
	rc.dirty = false
	if rc.cookie {
		rc.mgr.cookies.Clear(rc.w)
		rc.cookie = false
	}
	if err := rc.mgr.store.Destroy(ctx, rc.sid); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

func (rc *RequestContext) setLocked(userID int64) {
	id := userID
	rc.data.UserID = &id
	rc.dirty = true
	rc.mgr.cache.Set(rc.key, userID)
	rc.ensureCookieLocked()
}

func (rc *RequestContext) ensureCookieLocked() {
	if rc.cookie {
		return
	}
	if err := rc.mgr.cookies.Write(rc.w, rc.sid); err != nil {
		rc.mgr.log.Error("failed to write session cookie", zap.Error(err))
		return
	}
	rc.cookie = true
}
