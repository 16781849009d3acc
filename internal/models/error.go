package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountDisabled = errors.New("account is disabled")
	ErrAccountLocked   = errors.New("account is temporarily locked")

	// Deliberately generic: callers must never learn which check
	// (TOTP, email OTP, backup code) rejected the code.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrCriticalRisk indicates the attempt was blocked before credential
	// verification. No retry guidance is given to the caller.
	ErrCriticalRisk = errors.New("authentication blocked")
)

// RateLimitError is returned when a key exceeds its attempt budget.
// RetryAfter tells the caller how long to back off.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

// AsRateLimitError reports whether err is a rate limit rejection.
func AsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
