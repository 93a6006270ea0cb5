package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food-auth-service/internal/model"
)

func TestSignInRefreshLogoutFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	challenge, err := env.auth.RequestOTP(ctx, testPhone)
	require.NoError(t, err)
	require.NotEmpty(t, challenge.DevCode)

	resp, err := env.auth.VerifyOTP(ctx, VerifyOTPRequest{
		PhoneNumber:      testPhone,
		Code:             challenge.DevCode,
		RequestID:        challenge.RequestID,
		ClientDescriptor: "ios/1.0",
	})
	require.NoError(t, err)
	assert.Equal(t, testPhone, resp.User.PhoneNumber)
	assert.Nil(t, resp.User.Name)
	assert.False(t, resp.OnboardingComplete)
	assert.Equal(t, 900, resp.Tokens.ExpiresIn)

	claims, err := env.auth.VerifyAccessToken(resp.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.Subject)

	refreshed, err := env.auth.RefreshTokens(ctx, resp.Tokens.RefreshToken, "ios/1.0")
	require.NoError(t, err)
	assert.NotEqual(t, resp.Tokens.RefreshToken, refreshed.RefreshToken)

	// The superseded token is reuse: the session dies.
	_, err = env.auth.RefreshTokens(ctx, resp.Tokens.RefreshToken, "attacker")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = env.auth.RefreshTokens(ctx, refreshed.RefreshToken, "ios/1.0")
	require.ErrorIs(t, err, ErrUnauthorized)

	me, err := env.auth.Me(ctx, resp.User.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, me.ID)

	assert.Equal(t, []string{
		model.EventOTPRequested,
		model.EventOTPVerified,
		model.EventSessionCreated,
		model.EventSessionRotated,
		model.EventSessionReuseDetected,
	}, env.publisher.types())

	series, err := testutil.GatherAndCount(env.metrics.Registry, "food_auth_otp_verifications_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestVerifyOTPReturningUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	signIn := func(name string) *model.AuthResponse {
		challenge, err := env.auth.RequestOTP(ctx, testPhone)
		require.NoError(t, err)
		resp, err := env.auth.VerifyOTP(ctx, VerifyOTPRequest{
			PhoneNumber: testPhone,
			Code:        challenge.DevCode,
			RequestID:   challenge.RequestID,
			Name:        name,
		})
		require.NoError(t, err)
		return resp
	}

	first := signIn("Asha")
	second := signIn("")

	assert.Equal(t, first.User.ID, second.User.ID)
	require.NotNil(t, second.User.Name)
	assert.Equal(t, "Asha", *second.User.Name)
	assert.True(t, second.OnboardingComplete)
	assert.NotEqual(t, first.Tokens.RefreshToken, second.Tokens.RefreshToken)
}

func TestVerifyOTPFailureEmitsEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	challenge, err := env.auth.RequestOTP(ctx, testPhone)
	require.NoError(t, err)
	env.clock.Advance(6 * time.Minute)

	_, err = env.auth.VerifyOTP(ctx, VerifyOTPRequest{
		PhoneNumber: testPhone,
		Code:        challenge.DevCode,
		RequestID:   challenge.RequestID,
	})
	require.ErrorIs(t, err, ErrExpired)

	env.publisher.mu.Lock()
	last := env.publisher.events[len(env.publisher.events)-1]
	env.publisher.mu.Unlock()
	assert.Equal(t, model.EventOTPFailed, last.Type)
	assert.Equal(t, "expired", last.Reason)
	assert.Equal(t, HashPhone(testPhone), last.PhoneHash)
}

func TestRefreshExpiredEmitsEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	issued, err := env.sessions.CreateSession(ctx, "user-1", testPhone, "")
	require.NoError(t, err)
	env.clock.Advance(31 * 24 * time.Hour)

	_, err = env.auth.RefreshTokens(ctx, issued.Tokens.RefreshToken, "")
	require.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, []string{model.EventSessionExpired}, env.publisher.types())
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.sessions.CreateSession(ctx, "user-1", testPhone, "")
	require.NoError(t, err)
	b, err := env.sessions.CreateSession(ctx, "user-1", testPhone, "")
	require.NoError(t, err)

	require.NoError(t, env.auth.Logout(ctx, a.Tokens.RefreshToken, "user-1"))
	_, err = env.auth.RefreshTokens(ctx, a.Tokens.RefreshToken, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Logging out twice is fine.
	require.NoError(t, env.auth.Logout(ctx, a.Tokens.RefreshToken, "user-1"))

	require.NoError(t, env.auth.Logout(ctx, "", "user-1"))
	_, err = env.auth.RefreshTokens(ctx, b.Tokens.RefreshToken, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	env.publisher.mu.Lock()
	defer env.publisher.mu.Unlock()
	var revokedAll *model.AuthEvent
	for i := range env.publisher.events {
		if env.publisher.events[i].Type == model.EventSessionRevokedAll {
			revokedAll = &env.publisher.events[i]
		}
	}
	require.NotNil(t, revokedAll)
	assert.Equal(t, "removed=1", revokedAll.Reason)

	revoked := 0
	for _, e := range env.publisher.events {
		if e.Type == model.EventSessionRevoked {
			revoked++
		}
	}
	assert.Equal(t, 1, revoked, "the repeated logout revoked nothing")
}

func TestLogoutOfForeignSessionRecordsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	issued, err := env.sessions.CreateSession(ctx, "user-1", testPhone, "")
	require.NoError(t, err)

	require.NoError(t, env.auth.Logout(ctx, issued.Tokens.RefreshToken, "user-2"))

	assert.Empty(t, env.publisher.types())
	series, err := testutil.GatherAndCount(env.metrics.Registry, "food_auth_session_events_total")
	require.NoError(t, err)
	assert.Zero(t, series)

	_, err = env.store.GetSession(ctx, issued.SessionID)
	assert.NoError(t, err)
}

func TestMeUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.auth.Me(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&RateLimitError{RetryAfter: time.Second}, "rate_limited"},
		{ErrValidation, "validation"},
		{ErrMalformed, "malformed"},
		{unauthorized(ErrNotFound), "not_found"},
		{unauthorized(ErrExpired), "expired"},
		{unauthorized(ErrInvalid), "invalid"},
		{context.DeadlineExceeded, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, outcome(tt.err))
		})
	}
}
