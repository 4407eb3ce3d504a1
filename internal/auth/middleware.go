package auth

import (
	"encoding/json"
	"net/http"
)

// AdminKeyHeader carries the admin key on administrative requests
const AdminKeyHeader = "X-Admin-Key"

// RequireAdmin rejects requests that do not present the admin key
func RequireAdmin(key AdminKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !key.Enabled() {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": "Not found"})
				return
			}
			if !key.Matches(r.Header.Get(AdminKeyHeader)) {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Admin authentication required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
