package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformed     = errors.New("malformed request")
	ErrNotFound      = errors.New("not found")
	ErrExpired       = errors.New("expired")
	ErrInvalid       = errors.New("invalid credentials")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrConfiguration = errors.New("server misconfiguration")
	ErrRateLimited   = errors.New("too many requests")
	ErrValidation    = errors.New("validation failed")
)

// RateLimitError carries how long the caller should wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// unauthorized wraps a session failure so both the class and the reason match errors.Is.
func unauthorized(reason error) error {
	return fmt.Errorf("%w: %w", ErrUnauthorized, reason)
}
