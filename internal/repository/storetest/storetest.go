// Package storetest holds the behaviour every CredentialStore backend must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food-auth-service/internal/model"
	"food-auth-service/internal/repository"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) repository.CredentialStore

func newSession(id, userID, hash string) *model.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Session{
		ID:               id,
		UserID:           userID,
		SecretHash:       hash,
		ClientDescriptor: "okhttp/4.12",
		CreatedAt:        now,
		LastRotatedAt:    now,
		ExpiresAt:        now.Add(time.Hour),
	}
}

// Run executes the full contract suite.
func Run(t *testing.T, factory Factory) {
	t.Run("challenge lifecycle", func(t *testing.T) { testChallenges(t, factory(t)) })
	t.Run("expired challenge stays readable", func(t *testing.T) { testExpiredChallengeReadable(t, factory(t)) })
	t.Run("session create and get", func(t *testing.T) { testSessionCreate(t, factory(t)) })
	t.Run("compare and swap", func(t *testing.T) { testCompareAndSwap(t, factory(t)) })
	t.Run("concurrent swaps have one winner", func(t *testing.T) { testConcurrentSwap(t, factory(t)) })
	t.Run("delete is idempotent", func(t *testing.T) { testDeleteSession(t, factory(t)) })
	t.Run("delete user sessions", func(t *testing.T) { testDeleteUserSessions(t, factory(t)) })
}

func testChallenges(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := store.GetChallenge(ctx, "missing")
	require.ErrorIs(t, err, model.ErrRecordNotFound)

	challenge := &model.VerificationChallenge{
		RequestID:  "req-1",
		PhoneHash:  "phone-hash",
		CodeHash:   "hash-1",
		Provider:   model.ProviderSelf,
		TTLSeconds: 300,
		CreatedAt:  now,
		ExpiresAt:  now.Add(5 * time.Minute),
	}
	require.NoError(t, store.UpsertChallenge(ctx, challenge))

	got, err := store.GetChallenge(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", got.CodeHash)
	assert.Equal(t, "phone-hash", got.PhoneHash)
	assert.True(t, challenge.ExpiresAt.Equal(got.ExpiresAt))

	overwrite := *challenge
	overwrite.CodeHash = "hash-2"
	overwrite.TTLSeconds = 600
	overwrite.ExpiresAt = now.Add(10 * time.Minute)
	require.NoError(t, store.UpsertChallenge(ctx, &overwrite))

	got, err = store.GetChallenge(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-2", got.CodeHash)
	assert.Equal(t, 600, got.TTLSeconds)

	require.NoError(t, store.DeleteChallenge(ctx, "req-1"))
	require.NoError(t, store.DeleteChallenge(ctx, "req-1"))
	_, err = store.GetChallenge(ctx, "req-1")
	assert.ErrorIs(t, err, model.ErrRecordNotFound)
}

func testExpiredChallengeReadable(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	require.NoError(t, store.UpsertChallenge(ctx, &model.VerificationChallenge{
		RequestID: "req-old",
		PhoneHash: "p",
		CodeHash:  "h",
		CreatedAt: past.Add(-5 * time.Minute),
		ExpiresAt: past,
	}))

	got, err := store.GetChallenge(ctx, "req-old")
	require.NoError(t, err)
	assert.True(t, got.Expired(time.Now()))
}

func testSessionCreate(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()

	_, err := store.GetSession(ctx, "missing")
	require.ErrorIs(t, err, model.ErrRecordNotFound)

	session := newSession("sess-1", "user-1", "hash-a")
	require.NoError(t, store.CreateSession(ctx, session))
	assert.ErrorIs(t, store.CreateSession(ctx, newSession("sess-1", "user-2", "other")), model.ErrRecordExists)

	got, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "hash-a", got.SecretHash)
	assert.Equal(t, "okhttp/4.12", got.ClientDescriptor)
	assert.True(t, session.ExpiresAt.Equal(got.ExpiresAt))
}

func testCompareAndSwap(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, newSession("sess-1", "user-1", "hash-a")))

	later := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Millisecond)
	update := model.SessionUpdate{
		SecretHash:       "hash-b",
		ClientDescriptor: "ios/17",
		ExpiresAt:        later,
		RotatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, store.CompareAndSwapSecret(ctx, "sess-1", "hash-a", update))

	got, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-b", got.SecretHash)
	assert.Equal(t, "ios/17", got.ClientDescriptor)
	assert.True(t, later.Equal(got.ExpiresAt))

	stale := update
	stale.SecretHash = "hash-c"
	assert.ErrorIs(t, store.CompareAndSwapSecret(ctx, "sess-1", "hash-a", stale), model.ErrConflict)
	assert.ErrorIs(t, store.CompareAndSwapSecret(ctx, "missing", "hash-a", stale), model.ErrRecordNotFound)

	got, err = store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-b", got.SecretHash)
}

func testConcurrentSwap(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, newSession("sess-1", "user-1", "hash-a")))

	const racers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.CompareAndSwapSecret(ctx, "sess-1", "hash-a", model.SessionUpdate{
				SecretHash: fmt.Sprintf("hash-%d", i),
				ExpiresAt:  time.Now().Add(time.Hour),
				RotatedAt:  time.Now(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, model.ErrConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, conflicts)
}

func testDeleteSession(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, newSession("sess-1", "user-1", "hash-a")))

	require.NoError(t, store.DeleteSession(ctx, "sess-1"))
	require.NoError(t, store.DeleteSession(ctx, "sess-1"))
	require.NoError(t, store.DeleteSession(ctx, "never-existed"))

	_, err := store.GetSession(ctx, "sess-1")
	assert.ErrorIs(t, err, model.ErrRecordNotFound)

	n, err := store.DeleteUserSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testDeleteUserSessions(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, newSession("a1", "alice", "h")))
	require.NoError(t, store.CreateSession(ctx, newSession("a2", "alice", "h")))
	require.NoError(t, store.CreateSession(ctx, newSession("b1", "bob", "h")))

	n, err := store.DeleteUserSessions(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"a1", "a2"} {
		_, err := store.GetSession(ctx, id)
		assert.ErrorIs(t, err, model.ErrRecordNotFound, id)
	}
	_, err = store.GetSession(ctx, "b1")
	assert.NoError(t, err)

	n, err = store.DeleteUserSessions(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
}
