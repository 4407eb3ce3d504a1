package middleware

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/api/response"
	"github.com/BizModelAI/Main12-sub002/internal/ratelimit"
	"github.com/BizModelAI/Main12-sub002/internal/session"
)

// RateLimit limits requests per caller. Callers are identified by their
// resolved user id, else their session key, else their IP. Requests pass
// through when the limiter itself fails.
func RateLimit(limiter ratelimit.Limiter, log *zap.Logger) func(next http.Handler) http.Handler {
	log = log.Named("ratelimit")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := callerID(r)

			decision, err := limiter.Allow(r.Context(), id)
			if err != nil {
				log.Warn("rate limiter unavailable, allowing request", zap.String("caller", id), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				retry := decision.RetryAfter(time.Now())
				seconds := int64(retry.Round(time.Second) / time.Second)
				if seconds < 1 {
					seconds = 1
				}
				h.Set("Retry-After", strconv.FormatInt(seconds, 10))
				response.WriteProblem(w, &response.Problem{
					Status:    http.StatusTooManyRequests,
					Error:     "Too many requests. Please try again later.",
					Retryable: true,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func callerID(r *http.Request) string {
	if rc := session.FromContext(r.Context()); rc != nil {
		if userID, ok := rc.UserID(); ok {
			return "user:" + strconv.FormatInt(userID, 10)
		}
		if key := rc.SessionKey(); key != "" {
			return "session:" + key
		}
	}
	return "ip:" + session.ClientIP(r)
}
