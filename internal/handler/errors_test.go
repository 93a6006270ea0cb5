package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"food-auth-service/internal/service"
)

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		message    string
		retryAfter string
	}{
		{"validation", fmt.Errorf("%w: bad phone", service.ErrValidation), http.StatusBadRequest, "validation failed: bad phone", ""},
		{"malformed", fmt.Errorf("%w: requestId is required", service.ErrMalformed), http.StatusBadRequest, "malformed request: requestId is required", ""},
		{"code not found", service.ErrNotFound, http.StatusBadRequest, msgBadCode, ""},
		{"code expired", service.ErrExpired, http.StatusBadRequest, msgBadCode, ""},
		{"code invalid", service.ErrInvalid, http.StatusBadRequest, msgBadCode, ""},
		{"session not found", fmt.Errorf("%w: %w", service.ErrUnauthorized, service.ErrNotFound), http.StatusUnauthorized, msgBadRefresh, ""},
		{"session expired", fmt.Errorf("%w: %w", service.ErrUnauthorized, service.ErrExpired), http.StatusUnauthorized, msgBadRefresh, ""},
		{"rate limited", &service.RateLimitError{RetryAfter: 1500 * time.Millisecond}, http.StatusTooManyRequests, msgRateLimited, "2"},
		{"configuration", service.ErrConfiguration, http.StatusInternalServerError, msgInternal, ""},
		{"infrastructure", context.DeadlineExceeded, http.StatusInternalServerError, msgInternal, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, zaptest.NewLogger(t), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, decode[errorBody](t, rec).Error)
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
		})
	}
}

func TestWriteServiceErrorHidesInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, zaptest.NewLogger(t), errors.New("dial tcp 10.0.0.7:6379: connection refused"))

	assert.NotContains(t, rec.Body.String(), "10.0.0.7")
}
