package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"food-auth-service/internal/service"
)

const (
	msgBadCode     = "invalid or expired verification code"
	msgBadRefresh  = "invalid refresh token"
	msgRateLimited = "too many requests"
	msgInternal    = "internal server error"
)

// writeServiceError maps the service error taxonomy onto HTTP. Messages never
// tell a wrong code from a wrong phone, or a missing session from an expired one.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var rl *service.RateLimitError
	switch {
	case errors.As(err, &rl):
		seconds := int(math.Ceil(rl.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		respondWithError(w, http.StatusTooManyRequests, msgRateLimited)
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrMalformed):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		respondWithError(w, http.StatusUnauthorized, msgBadRefresh)
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrExpired), errors.Is(err, service.ErrInvalid):
		respondWithError(w, http.StatusBadRequest, msgBadCode)
	default:
		logger.Error("Request failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, msgInternal)
	}
}
