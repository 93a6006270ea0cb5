// Package repository defines the credential and user store contracts.
//
// Implementations must give CompareAndSwapSecret read-committed semantics:
// the swap succeeds only if the stored hash still equals the expected one.
// Session identifiers are unique; CreateSession never overwrites.
package repository

import (
	"context"
	"time"

	"food-auth-service/internal/model"
)

// ChallengeStore persists verification challenges keyed by request id.
type ChallengeStore interface {
	// UpsertChallenge creates or overwrites the challenge for its request id.
	UpsertChallenge(ctx context.Context, challenge *model.VerificationChallenge) error
	// GetChallenge returns model.ErrRecordNotFound when absent.
	GetChallenge(ctx context.Context, requestID string) (*model.VerificationChallenge, error)
	// DeleteChallenge is idempotent.
	DeleteChallenge(ctx context.Context, requestID string) error
}

// SessionStore persists refresh sessions keyed by session id.
type SessionStore interface {
	// CreateSession returns model.ErrRecordExists if the id is taken.
	CreateSession(ctx context.Context, session *model.Session) error
	// GetSession returns model.ErrRecordNotFound when absent.
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	// CompareAndSwapSecret applies update only if the stored secret hash equals expectedHash.
	// It returns model.ErrConflict when the hash changed and model.ErrRecordNotFound when the
	// session is gone.
	CompareAndSwapSecret(ctx context.Context, sessionID, expectedHash string, update model.SessionUpdate) error
	// DeleteSession is idempotent.
	DeleteSession(ctx context.Context, sessionID string) error
	// DeleteUserSessions removes every session owned by userID and returns how many it removed.
	DeleteUserSessions(ctx context.Context, userID string) (int, error)
}

// CredentialStore is the full persistence surface of the auth core.
type CredentialStore interface {
	ChallengeStore
	SessionStore
	HealthCheck(ctx context.Context) error
}

// Pruner is implemented by stores that keep expired rows until swept.
type Pruner interface {
	// PruneExpired deletes challenges and sessions that expired before cutoff.
	PruneExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// UserStore backs the user-profile collaborator.
type UserStore interface {
	GetUserByPhoneHash(ctx context.Context, phoneHash string) (*model.User, error)
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
	// CreateUser returns model.ErrRecordExists when the phone hash is already bound.
	CreateUser(ctx context.Context, user *model.User) error
	UpdateUserName(ctx context.Context, userID, name string, updatedAt time.Time) error
}

// PhoneThrottle limits how often one phone can request a code.
type PhoneThrottle interface {
	// Allow reserves the window for key. When denied it returns the time left.
	Allow(ctx context.Context, key string, window time.Duration) (bool, time.Duration, error)
}
