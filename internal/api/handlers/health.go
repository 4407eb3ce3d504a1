package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BizModelAI/Main12-sub002/internal/api/response"
	"github.com/BizModelAI/Main12-sub002/internal/cache"
)

// Pinger is a dependency that can report its availability
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	db    Pinger
	cache *cache.Redis
	clock clockwork.Clock
}

// NewHealthChecker creates a new health checker. cache may be nil when
// Redis is not configured.
func NewHealthChecker(db Pinger, cache *cache.Redis, clock clockwork.Clock) *HealthChecker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HealthChecker{
		db:    db,
		cache: cache,
		clock: clock,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// Health handles GET /health
func (h *HealthChecker) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	overallStatus := "healthy"

	if err := h.db.Ping(ctx); err != nil {
		services["database"] = "unhealthy"
		overallStatus = "degraded"
	} else {
		services["database"] = "healthy"
	}

	if h.cache != nil {
		if err := h.cache.Health(ctx); err != nil {
			services["redis"] = "unhealthy"
			overallStatus = "degraded"
		} else {
			services["redis"] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	response.JSON(w, statusCode, HealthResponse{
		Status:    overallStatus,
		Timestamp: h.clock.Now().UTC().Format(time.RFC3339),
		Services:  services,
	})
}

// LivenessProbe handles GET /health/live
func LivenessProbe(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "alive",
	})
}

// ReadinessProbe handles GET /health/ready
func (h *HealthChecker) ReadinessProbe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		response.Error(w, http.StatusServiceUnavailable, "Database not ready")
		return
	}

	if h.cache != nil {
		if err := h.cache.Health(ctx); err != nil {
			response.Error(w, http.StatusServiceUnavailable, "Redis not ready")
			return
		}
	}

	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
