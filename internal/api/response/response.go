// Package response writes JSON API responses.
package response

import (
	"encoding/json"
	"net/http"
)

// Problem is the JSON body of every error response
type Problem struct {
	Status     int    `json:"-"`
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	UserType   string `json:"userType,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	PaymentID  int64  `json:"paymentId,omitempty"`
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Log error but don't try to write again
			return
		}
	}
}

// Success writes a 200 response with data
func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 created response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// WriteProblem writes p with its status code
func WriteProblem(w http.ResponseWriter, p *Problem) {
	status := p.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	JSON(w, status, p)
}

// Error writes an error response
func Error(w http.ResponseWriter, status int, message string) {
	WriteProblem(w, &Problem{Status: status, Error: message})
}

// NotFound writes a 404 not found response
func NotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Resource not found"
	}
	Error(w, http.StatusNotFound, message)
}

// BadRequest writes a 400 bad request response
func BadRequest(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Bad request"
	}
	Error(w, http.StatusBadRequest, message)
}

// Unauthorized writes a 401 response
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Authentication required"
	}
	Error(w, http.StatusUnauthorized, message)
}

// InternalError writes a 500 internal server error response
func InternalError(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Internal server error"
	}
	Error(w, http.StatusInternalServerError, message)
}

// TooManyRequests writes a 429 rate limit exceeded response
func TooManyRequests(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Rate limit exceeded"
	}
	Error(w, http.StatusTooManyRequests, message)
}

// NoContent writes a 204 no content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
