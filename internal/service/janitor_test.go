package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"food-auth-service/internal/model"
)

func TestJanitorKeepsRetentionWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	janitor := NewJanitor(env.store, time.Minute, 24*time.Hour, zaptest.NewLogger(t))
	janitor.now = env.clock.Now

	challenge, err := env.otp.RequestChallenge(ctx, testPhone)
	require.NoError(t, err)
	issued, err := env.sessions.CreateSession(ctx, "user-1", testPhone, "")
	require.NoError(t, err)

	// Expired but inside retention: still observable as expired.
	env.clock.Advance(time.Hour)
	removed, err := janitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
	_, err = env.store.GetChallenge(ctx, challenge.RequestID)
	require.NoError(t, err)

	env.clock.Advance(25 * time.Hour)
	removed, err = janitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = env.store.GetChallenge(ctx, challenge.RequestID)
	assert.ErrorIs(t, err, model.ErrRecordNotFound)
	_, err = env.store.GetSession(ctx, issued.SessionID)
	require.NoError(t, err)

	env.clock.Advance(31 * 24 * time.Hour)
	removed, err = janitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestJanitorRunStopsOnCancel(t *testing.T) {
	janitor := NewJanitor(nil, time.Hour, time.Hour, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		janitor.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
