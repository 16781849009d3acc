package http_test

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/calder-ross/bastion/internal/models"
	pkghttp "github.com/calder-ross/bastion/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestWriteError_SetsStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	pkghttp.WriteError(rec, 418, "teapot", "short and stout")

	assert.Equal(t, 418, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeError(t, rec)
	assert.Equal(t, "teapot", resp.Error)
	assert.Equal(t, "short and stout", resp.Message)
}

func TestWriteServiceError_RateLimitSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	pkghttp.WriteServiceError(rec, &models.RateLimitError{RetryAfter: 90 * time.Second})

	assert.Equal(t, 429, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decodeError(t, rec).Error)
}

func TestWriteServiceError_WrappedRateLimitStillMatches(t *testing.T) {
	rec := httptest.NewRecorder()
	err := fmt.Errorf("login throttled: %w", &models.RateLimitError{RetryAfter: time.Minute})
	pkghttp.WriteServiceError(rec, err)

	assert.Equal(t, 429, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestWriteServiceError_AuthFailuresAreIndistinct(t *testing.T) {
	// All four must produce byte-identical responses so a caller cannot
	// distinguish a bad password from a locked or disabled account.
	errs := []error{
		models.ErrUnauthorized,
		models.ErrVerificationFailed,
		models.ErrAccountLocked,
		models.ErrAccountDisabled,
	}

	var bodies []string
	for _, err := range errs {
		rec := httptest.NewRecorder()
		pkghttp.WriteServiceError(rec, err)
		assert.Equal(t, 401, rec.Code, "error: %v", err)
		bodies = append(bodies, rec.Body.String())
	}
	for _, body := range bodies[1:] {
		assert.Equal(t, bodies[0], body)
	}
}

func TestWriteServiceError_StatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{models.ErrCriticalRisk, 403},
		{models.ErrForbidden, 403},
		{models.ErrNotFound, 404},
		{models.ErrConflict, 409},
		{models.ErrBadRequest, 400},
		{assertAnError(), 500},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		pkghttp.WriteServiceError(rec, tt.err)
		assert.Equal(t, tt.code, rec.Code, "error: %v", tt.err)
	}
}

func assertAnError() error {
	return fmt.Errorf("unexpected database failure")
}
