package models

import "time"

// RefreshSessionRow maps refresh_sessions, keyed by session_id.
type RefreshSessionRow struct {
	SessionID        string    `db:"session_id"`
	UserID           string    `db:"user_id"`
	SecretHash       string    `db:"secret_hash"`
	ClientDescriptor string    `db:"client_descriptor"`
	CreatedAt        time.Time `db:"created_at"`
	LastRotatedAt    time.Time `db:"last_rotated_at"`
	ExpiresAt        time.Time `db:"expires_at"`
}

// SessionByUserRow maps sessions_by_user, the per-user index used by revoke-all.
type SessionByUserRow struct {
	UserBucket int       `db:"user_bucket"`
	UserID     string    `db:"user_id"`
	SessionID  string    `db:"session_id"`
	ExpiresAt  time.Time `db:"expires_at"`
}
