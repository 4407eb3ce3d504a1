package handlers

import (
	"net/http"

	"github.com/BizModelAI/Main12-sub002/internal/api/response"
	"github.com/BizModelAI/Main12-sub002/internal/cleanup"
	"github.com/BizModelAI/Main12-sub002/internal/session"
)

// DebugHandler exposes development-only diagnostics
type DebugHandler struct {
	sessions *session.Manager
	cleaner  *cleanup.Cleaner
	*Responder
}

// NewDebugHandler creates a new debug handler
func NewDebugHandler(sessions *session.Manager, cleaner *cleanup.Cleaner, responder *Responder) *DebugHandler {
	return &DebugHandler{sessions: sessions, cleaner: cleaner, Responder: responder}
}

// SessionInfo is the resolved identity of the caller
type SessionInfo struct {
	Authenticated bool   `json:"authenticated"`
	UserID        *int64 `json:"userId"`
	SessionKey    string `json:"sessionKey"`
	SessionID     string `json:"sessionId,omitempty"`
	CacheSize     int    `json:"cacheSize"`
}

// Session handles GET /api/debug/session
func (h *DebugHandler) Session(w http.ResponseWriter, r *http.Request) {
	rc := session.FromContext(r.Context())
	if rc == nil {
		h.Fail(w, r, errNoSession)
		return
	}

	info := SessionInfo{
		SessionKey: rc.SessionKey(),
		SessionID:  rc.SessionID(),
		CacheSize:  h.sessions.Cache().Len(),
	}
	if id, ok := rc.UserID(); ok {
		info.Authenticated = true
		info.UserID = &id
	}
	response.Success(w, info)
}

// Cleanup handles POST /api/debug/cleanup
func (h *DebugHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.cleaner.RunOnce(r.Context())
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	response.Success(w, result)
}
