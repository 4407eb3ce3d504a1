package middleware

import (
	"context"
	"net/http"
	"time"
)

type timingKey struct{}

// Timing records when the request entered the stack
func Timing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), timingKey{}, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestStartTime retrieves the request start time from the context
func GetRequestStartTime(ctx context.Context) time.Time {
	if start, ok := ctx.Value(timingKey{}).(time.Time); ok {
		return start
	}
	return time.Now()
}

// Elapsed returns the time spent on the request so far
func Elapsed(ctx context.Context) time.Duration {
	return time.Since(GetRequestStartTime(ctx))
}
