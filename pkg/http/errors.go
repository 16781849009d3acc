package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/calder-ross/bastion/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(resp)
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// WriteServiceError maps service-layer sentinel errors onto HTTP responses.
// Account-status and verification failures deliberately collapse into the
// same generic 401 so a caller cannot probe which check rejected them.
func WriteServiceError(w http.ResponseWriter, err error) {
	if rle, ok := models.AsRateLimitError(err); ok {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rle.RetryAfter.Seconds())))
		WriteTooManyRequests(w, "Too many requests. Please try again later.")
		return
	}

	switch {
	case errors.Is(err, models.ErrCriticalRisk):
		WriteForbidden(w, "Login blocked")
	case errors.Is(err, models.ErrUnauthorized),
		errors.Is(err, models.ErrVerificationFailed),
		errors.Is(err, models.ErrAccountLocked),
		errors.Is(err, models.ErrAccountDisabled):
		WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrForbidden):
		WriteForbidden(w, "Forbidden")
	case errors.Is(err, models.ErrNotFound):
		WriteNotFound(w, "Not found")
	case errors.Is(err, models.ErrConflict):
		WriteConflict(w, "Already exists")
	case errors.Is(err, models.ErrBadRequest):
		WriteBadRequest(w, "Invalid request")
	default:
		WriteInternalError(w, "Internal server error")
	}
}
