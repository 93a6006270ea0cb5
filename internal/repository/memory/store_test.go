package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food-auth-service/internal/model"
	"food-auth-service/internal/repository"
	"food-auth-service/internal/repository/storetest"
)

var (
	_ repository.CredentialStore = (*Store)(nil)
	_ repository.UserStore       = (*Store)(nil)
	_ repository.PhoneThrottle   = (*Store)(nil)
	_ repository.Pruner          = (*Store)(nil)
)

func TestCredentialStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.CredentialStore { return NewStore() })
}

func TestPruneExpired(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now()

	require.NoError(t, s.UpsertChallenge(ctx, &model.VerificationChallenge{RequestID: "old", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, s.UpsertChallenge(ctx, &model.VerificationChallenge{RequestID: "new", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, s.CreateSession(ctx, &model.Session{ID: "s-old", UserID: "u", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, s.CreateSession(ctx, &model.Session{ID: "s-new", UserID: "u", ExpiresAt: now.Add(time.Minute)}))

	n, err := s.PruneExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetChallenge(ctx, "new")
	assert.NoError(t, err)
	_, err = s.GetSession(ctx, "s-old")
	assert.ErrorIs(t, err, model.ErrRecordNotFound)

	removed, err := s.DeleteUserSessions(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	u := &model.User{ID: "u1", PhoneHash: "ph", PhoneNumber: "+919876543210"}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.ErrorIs(t, s.CreateUser(ctx, &model.User{ID: "u2", PhoneHash: "ph"}), model.ErrRecordExists)

	got, err := s.GetUserByPhoneHash(ctx, "ph")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	require.NoError(t, s.UpdateUserName(ctx, "u1", "Asha", time.Now()))
	got, err = s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", got.Name)

	assert.ErrorIs(t, s.UpdateUserName(ctx, "nope", "x", time.Now()), model.ErrRecordNotFound)
}

func TestThrottle(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	ok, _, err := s.Allow(ctx, "phone", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(10 * time.Second)
	ok, wait, err := s.Allow(ctx, "phone", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 20*time.Second, wait)

	now = now.Add(25 * time.Second)
	ok, _, err = s.Allow(ctx, "phone", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
