package models

import "time"

// VerificationChallengeRow maps the verification_challenges table.
type VerificationChallengeRow struct {
	RequestID      string    `db:"request_id"`
	PhoneHash      string    `db:"phone_hash"`
	PhoneEncrypted string    `db:"phone_encrypted"`
	CodeHash       string    `db:"code_hash"`
	Provider       string    `db:"provider"`
	TTLSeconds     int       `db:"ttl_seconds"`
	CreatedAt      time.Time `db:"created_at"`
	ExpiresAt      time.Time `db:"expires_at"`
}
