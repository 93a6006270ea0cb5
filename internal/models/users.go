package models

import "time"

type User struct {
	UserBucket     int       `db:"user_bucket"`
	UserID         string    `db:"user_id"`
	PhoneHash      string    `db:"phone_hash"`
	PhoneEncrypted string    `db:"phone_encrypted"`
	Name           string    `db:"name"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// PhoneToUser maps phone_to_user, the lookup from phone hash to user.
type PhoneToUser struct {
	PhoneHash  string    `db:"phone_hash"`
	UserBucket int       `db:"user_bucket"`
	UserID     string    `db:"user_id"`
	CreatedAt  time.Time `db:"created_at"`
}
