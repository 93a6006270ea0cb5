package models

import "time"

// SecurityEvent maps the ClickHouse security_events table.
type SecurityEvent struct {
	EventBucket      int       `db:"event_bucket"`
	EventID          string    `db:"event_id"`
	EventDate        string    `db:"event_date"`
	EventTime        time.Time `db:"event_time"`
	EventType        string    `db:"event_type"`
	UserID           string    `db:"user_id"`
	SessionID        string    `db:"session_id"`
	RequestID        string    `db:"request_id"`
	PhoneHash        string    `db:"phone_hash"`
	ClientDescriptor string    `db:"client_descriptor"`
	Reason           string    `db:"reason"`
}
