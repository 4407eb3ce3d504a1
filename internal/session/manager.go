package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Manager wires the session store, fallback cache and cookie codec into
// per-request identity resolution.
type Manager struct {
	store    Store
	cache    *Cache
	cookies  *CookieCodec
	resolver *Resolver
	ttl      time.Duration
	clock    clockwork.Clock
	log      *zap.Logger
}

// Config holds Manager dependencies
type Config struct {
	Store   Store
	Cache   *Cache
	Cookies *CookieCodec
	TTL     time.Duration
	Clock   clockwork.Clock
	Logger  *zap.Logger
}

// NewManager creates a session manager
func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		store:    cfg.Store,
		cache:    cfg.Cache,
		cookies:  cfg.Cookies,
		resolver: NewResolver(cfg.Cache),
		ttl:      cfg.TTL,
		clock:    cfg.Clock,
		log:      cfg.Logger.Named("session"),
	}
}

// Cache returns the fallback session cache
func (m *Manager) Cache() *Cache {
	return m.cache
}

// Middleware resolves the request identity and stores a RequestContext in
// the request context. Sessions changed by the handler are saved after it
// returns.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := m.newRequestContext(w, r)
		next.ServeHTTP(w, r.WithContext(WithRequestContext(r.Context(), rc)))
		m.flush(r.Context(), rc)
	})
}

func (m *Manager) newRequestContext(w http.ResponseWriter, r *http.Request) *RequestContext {
	rc := &RequestContext{
		mgr:     m,
		w:       w,
		key:     Key(r),
		headers: r.Header,
	}

	if sid, ok := m.cookies.Read(r); ok {
		rc.sid = sid
		rc.cookie = true
		data, err := m.store.Load(r.Context(), sid)
		switch {
		case err == nil:
			rc.data = data
		case errors.Is(err, ErrSessionNotFound):
		default:
			m.log.Warn("failed to load session", zap.Error(err))
		}
	}
	if rc.sid == "" {
		rc.sid = uuid.NewString()
	}
	if rc.data == nil {
		rc.data = &Data{CreatedAt: m.clock.Now()}
	}

	if userID, ok, healed := m.resolver.Resolve(rc.data, rc.key); ok && healed {
		m.log.Debug("session restored from cache", zap.Int64("user_id", userID))
		rc.dirty = true
		rc.ensureCookieLocked()
	}
	return rc
}

func (m *Manager) flush(ctx context.Context, rc *RequestContext) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.dirty {
		return
	}
	// The request may already be cancelled once the response is written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, rc.sid, rc.data, m.ttl); err != nil {
		m.log.Warn("failed to save session", zap.Error(err))
		return
	}
	rc.dirty = false
}
