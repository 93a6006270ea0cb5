package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"food-auth-service/internal/config"
	"food-auth-service/internal/hashing"
	"food-auth-service/internal/metrics"
	"food-auth-service/internal/model"
	"food-auth-service/internal/repository/memory"
	"food-auth-service/internal/service"
	"food-auth-service/internal/token"
)

const testPhone = "+919876543210"

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  64,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Peppers:           []string{"test-pepper"},
		},
		Auth: config.AuthConfig{
			JWTSecret:  "test-signing-secret",
			Issuer:     "food-auth-service",
			AccessTTL:  config.DefaultAccessTTL,
			RefreshTTL: config.DefaultRefreshTTL,
		},
		OTP: config.OTPConfig{
			Mode:          config.OTPModeSelf,
			TTL:           config.DefaultOTPTTL,
			Length:        6,
			ExposeDevCode: true,
		},
	}
}

func newTestRouter(t *testing.T, mutate func(*config.Config, *RouterOptions)) http.Handler {
	t.Helper()

	cfg := testConfig()
	opts := RouterOptions{Logger: zaptest.NewLogger(t), Metrics: metrics.New()}
	if mutate != nil {
		mutate(cfg, &opts)
	}

	store := memory.NewStore()
	tokens, err := token.NewManager(cfg.Auth)
	require.NoError(t, err)

	auth, err := service.NewServiceFactory(service.Dependencies{
		Config:      cfg,
		Credentials: store,
		Users:       store,
		Throttle:    store,
		Hasher:      hashing.NewHasher(cfg),
		Tokens:      tokens,
		Metrics:     opts.Metrics,
		Logger:      opts.Logger,
	}).AuthService()
	require.NoError(t, err)

	opts.Auth = auth
	return NewRouter(opts)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handler-test/1.0")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func signIn(t *testing.T, h http.Handler, name string) model.AuthResponse {
	t.Helper()

	rec := do(t, h, http.MethodPost, "/api/v1/auth/request-otp", map[string]string{"phoneNumber": testPhone}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	challenge := decode[model.OTPChallenge](t, rec)
	require.NotEmpty(t, challenge.DevCode)

	rec = do(t, h, http.MethodPost, "/api/v1/auth/verify-otp", map[string]string{
		"phoneNumber": testPhone,
		"code":        challenge.DevCode,
		"requestId":   challenge.RequestID,
		"name":        name,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[model.AuthResponse](t, rec)
}

func TestHealthAndReady(t *testing.T) {
	h := newTestRouter(t, func(_ *config.Config, o *RouterOptions) {
		o.Ready = func(context.Context) error { return errors.New("redis down") }
	})

	rec := do(t, h, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"food-auth-service"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"endpoint not found"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/auth/refresh", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequireTLS(t *testing.T) {
	h := newTestRouter(t, func(_ *config.Config, o *RouterOptions) { o.RequireTLS = true })

	rec := do(t, h, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)
}

func TestSignInFlow(t *testing.T) {
	h := newTestRouter(t, nil)

	resp := signIn(t, h, "")
	assert.Equal(t, testPhone, resp.User.PhoneNumber)
	assert.False(t, resp.OnboardingComplete)

	rec := do(t, h, http.MethodGet, "/api/v1/users/me", nil, resp.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"`+resp.User.ID+`","name":null,"phoneNumber":"`+testPhone+`"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": resp.Tokens.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := decode[model.AuthTokens](t, rec)
	assert.NotEqual(t, resp.Tokens.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, 900, rotated.ExpiresIn)

	// Replaying the old token kills the session for everyone.
	rec = do(t, h, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": resp.Tokens.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid refresh token"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": rotated.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyOTPErrors(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/auth/request-otp", map[string]string{"phoneNumber": testPhone}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	challenge := decode[model.OTPChallenge](t, rec)

	wrong := "000000"
	if challenge.DevCode == wrong {
		wrong = "111111"
	}

	tests := []struct {
		name   string
		body   map[string]string
		status int
		errMsg string
	}{
		{
			name:   "wrong code",
			body:   map[string]string{"phoneNumber": testPhone, "code": wrong, "requestId": challenge.RequestID},
			status: http.StatusBadRequest,
			errMsg: msgBadCode,
		},
		{
			name:   "wrong phone looks the same",
			body:   map[string]string{"phoneNumber": "+919876543211", "code": challenge.DevCode, "requestId": challenge.RequestID},
			status: http.StatusBadRequest,
			errMsg: msgBadCode,
		},
		{
			name:   "unknown request",
			body:   map[string]string{"phoneNumber": testPhone, "code": challenge.DevCode, "requestId": "missing"},
			status: http.StatusBadRequest,
			errMsg: msgBadCode,
		},
		{
			name:   "code is not 4 to 8 digits",
			body:   map[string]string{"phoneNumber": testPhone, "code": "12ab", "requestId": challenge.RequestID},
			status: http.StatusBadRequest,
			errMsg: "validation failed: verification code must be 4 to 8 digits",
		},
		{
			name:   "missing code",
			body:   map[string]string{"phoneNumber": testPhone},
			status: http.StatusBadRequest,
			errMsg: "phoneNumber and code are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/auth/verify-otp", tt.body, "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.errMsg, decode[errorBody](t, rec).Error)
		})
	}
}

func TestRequestOTPValidation(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/auth/request-otp", map[string]string{"phoneNumber": "12"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/request-otp", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid request body"}`, rec.Body.String())
}

func TestRequestOTPResendWindow(t *testing.T) {
	h := newTestRouter(t, func(c *config.Config, _ *RouterOptions) { c.OTP.ResendWindow = time.Minute })

	rec := do(t, h, http.MethodPost, "/api/v1/auth/request-otp", map[string]string{"phoneNumber": testPhone}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/auth/request-otp", map[string]string{"phoneNumber": testPhone}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestPerIPLimit(t *testing.T) {
	h := newTestRouter(t, func(_ *config.Config, o *RouterOptions) { o.OTPPerMinute = 2 })

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodPost, "/api/v1/auth/request-otp", map[string]string{"phoneNumber": testPhone}, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/v1/auth/request-otp", map[string]string{"phoneNumber": testPhone}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Refresh is not limited by the code limiter.
	rec = do(t, h, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": "a.b"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshMalformed(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": "no-delimiter"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/auth/refresh", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogout(t *testing.T) {
	h := newTestRouter(t, nil)
	resp := signIn(t, h, "Meera")

	rec := do(t, h, http.MethodPost, "/api/v1/auth/logout", map[string]string{"refreshToken": resp.Tokens.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "logout needs a bearer token")

	rec = do(t, h, http.MethodPost, "/api/v1/auth/logout", map[string]string{"refreshToken": resp.Tokens.RefreshToken}, resp.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	// Idempotent.
	rec = do(t, h, http.MethodPost, "/api/v1/auth/logout", map[string]string{"refreshToken": resp.Tokens.RefreshToken}, resp.Tokens.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": resp.Tokens.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutAllWithoutBody(t *testing.T) {
	h := newTestRouter(t, nil)
	first := signIn(t, h, "")
	second := signIn(t, h, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+first.Tokens.AccessToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, refresh := range []string{first.Tokens.RefreshToken, second.Tokens.RefreshToken} {
		rec = do(t, h, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": refresh}, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestBearerAuthRejects(t *testing.T) {
	h := newTestRouter(t, nil)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestMetricsEndpointCountsRoutes(t *testing.T) {
	h := newTestRouter(t, nil)

	do(t, h, http.MethodGet, "/health", nil, "")
	rec := do(t, h, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `food_auth_http_requests_total{route="/health",status="200"} 1`)
}
