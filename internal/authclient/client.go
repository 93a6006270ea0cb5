// Package authclient is a Go client for the auth API. It keeps the caller's
// tokens and refreshes them at most once at a time per Client.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"food-auth-service/internal/model"
)

const (
	defaultTimeout        = 10 * time.Second
	defaultRefreshTimeout = 10 * time.Second
	maxErrorBody          = 4 << 10
)

// ErrNoSession means the client holds no refresh token.
var ErrNoSession = errors.New("no session")

// APIError is a non-2xx response from the auth API.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("auth api returned %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithUserAgent sets the client descriptor sent on every call.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithRefreshTimeout bounds one shared refresh call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) { c.refreshTimeout = d }
}

// Client talks to /api/v1. It is safe for concurrent use.
type Client struct {
	baseURL        string
	http           *http.Client
	userAgent      string
	refreshTimeout time.Duration

	group singleflight.Group

	mu     sync.RWMutex
	tokens model.AuthTokens
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{Timeout: defaultTimeout},
		refreshTimeout: defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tokens returns the tokens currently held.
func (c *Client) Tokens() model.AuthTokens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

// SetTokens restores a previously saved session.
func (c *Client) SetTokens(tokens model.AuthTokens) {
	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()
}

func (c *Client) clearTokens(refreshToken string) {
	c.mu.Lock()
	// A newer session may have replaced the one that failed.
	if c.tokens.RefreshToken == refreshToken {
		c.tokens = model.AuthTokens{}
	}
	c.mu.Unlock()
}

func (c *Client) RequestOTP(ctx context.Context, phoneNumber string) (*model.OTPChallenge, error) {
	var challenge model.OTPChallenge
	body := map[string]string{"phoneNumber": phoneNumber}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/request-otp", body, "", &challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

// VerifyOTPInput is the verify-otp request body.
type VerifyOTPInput struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
	RequestID   string `json:"requestId,omitempty"`
	Name        string `json:"name,omitempty"`
}

// VerifyOTP signs in and keeps the returned tokens.
func (c *Client) VerifyOTP(ctx context.Context, in VerifyOTPInput) (*model.AuthResponse, error) {
	var resp model.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/verify-otp", in, "", &resp); err != nil {
		return nil, err
	}
	c.SetTokens(resp.Tokens)
	return &resp, nil
}

// Refresh rotates the held refresh token. Concurrent callers holding the same
// token share one request, so a burst of 401s never presents a secret twice.
// A rejected refresh drops the held tokens.
func (c *Client) Refresh(ctx context.Context) (model.AuthTokens, error) {
	refreshToken := c.Tokens().RefreshToken
	if refreshToken == "" {
		return model.AuthTokens{}, ErrNoSession
	}
	return c.refreshFrom(ctx, refreshToken)
}

// refreshFrom rotates refreshToken unless the held tokens already moved past
// it, in which case the held tokens are returned without a request.
func (c *Client) refreshFrom(ctx context.Context, refreshToken string) (model.AuthTokens, error) {
	ch := c.group.DoChan(refreshToken, func() (interface{}, error) {
		// A caller that read the token just before an earlier flight rotated it.
		if current := c.Tokens(); current.RefreshToken != refreshToken {
			if current.RefreshToken == "" {
				return nil, ErrNoSession
			}
			return current, nil
		}

		// The shared call must outlive whichever caller started it.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		var tokens model.AuthTokens
		err := c.do(callCtx, http.MethodPost, "/api/v1/auth/refresh",
			map[string]string{"refreshToken": refreshToken}, "", &tokens)
		if err != nil {
			if IsUnauthorized(err) {
				c.clearTokens(refreshToken)
			}
			return nil, err
		}

		c.mu.Lock()
		if c.tokens.RefreshToken == refreshToken {
			c.tokens = tokens
		}
		c.mu.Unlock()
		return tokens, nil
	})

	select {
	case <-ctx.Done():
		return model.AuthTokens{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.AuthTokens{}, res.Err
		}
		return res.Val.(model.AuthTokens), nil
	}
}

// Logout revokes the held session, or every session of the caller when all is true.
func (c *Client) Logout(ctx context.Context, all bool) error {
	tokens := c.Tokens()
	if tokens.AccessToken == "" {
		return ErrNoSession
	}

	body := map[string]string{}
	if !all {
		body["refreshToken"] = tokens.RefreshToken
	}
	err := c.authorized(ctx, http.MethodPost, "/api/v1/auth/logout", body, nil)
	if err != nil {
		return err
	}
	c.SetTokens(model.AuthTokens{})
	return nil
}

// Me fetches the caller's profile.
func (c *Client) Me(ctx context.Context) (*model.UserSummary, error) {
	var user model.UserSummary
	if err := c.authorized(ctx, http.MethodGet, "/api/v1/users/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// authorized sends a bearer request and retries it once after a refresh on 401.
func (c *Client) authorized(ctx context.Context, method, path string, body, out interface{}) error {
	accessToken := c.Tokens().AccessToken
	if accessToken == "" {
		return ErrNoSession
	}

	err := c.do(ctx, method, path, body, accessToken, out)
	if !IsUnauthorized(err) {
		return err
	}

	tokens, refreshErr := c.Refresh(ctx)
	if refreshErr != nil {
		return refreshErr
	}
	return c.do(ctx, method, path, body, tokens.AccessToken, out)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, bearer string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(seconds) * time.Second
	}
	return apiErr
}
