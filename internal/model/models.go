package model

import (
	"errors"
	"time"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrRecordExists   = errors.New("record already exists")
	// ErrConflict means a compare-and-swap lost against a concurrent writer.
	ErrConflict = errors.New("record changed concurrently")
)

const (
	ProviderSelf   = "self"
	ProviderTwilio = "twilio"

	// ProviderManagedHash marks challenges whose code lives with the SMS provider.
	ProviderManagedHash = "provider-managed"
)

// -------------------- VERIFICATION CHALLENGE --------------------
type VerificationChallenge struct {
	RequestID      string    `json:"requestId"`
	PhoneHash      string    `json:"phoneHash"`
	PhoneEncrypted string    `json:"phoneEncrypted,omitempty"`
	CodeHash       string    `json:"codeHash"`
	Provider       string    `json:"provider"`
	TTLSeconds     int       `json:"ttlSeconds"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Expired reports whether the challenge is no longer live at now.
func (c *VerificationChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// -------------------- SESSION --------------------
type Session struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	SecretHash       string    `json:"secretHash"`
	ClientDescriptor string    `json:"clientDescriptor"`
	CreatedAt        time.Time `json:"createdAt"`
	LastRotatedAt    time.Time `json:"lastRotatedAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionUpdate is what a successful rotation writes over a session.
type SessionUpdate struct {
	SecretHash       string
	ClientDescriptor string
	ExpiresAt        time.Time
	RotatedAt        time.Time
}

// Apply copies the update onto s.
func (u SessionUpdate) Apply(s *Session) {
	s.SecretHash = u.SecretHash
	s.ClientDescriptor = u.ClientDescriptor
	s.ExpiresAt = u.ExpiresAt
	s.LastRotatedAt = u.RotatedAt
}

// -------------------- USER --------------------
type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	PhoneNumber    string    `json:"phoneNumber"`
	PhoneHash      string    `json:"-"`
	PhoneEncrypted string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// -------------------- API PAYLOADS --------------------

// OTPChallenge is returned by request-otp.
type OTPChallenge struct {
	RequestID string `json:"requestId"`
	ExpiresIn int    `json:"expiresIn"`
	DevCode   string `json:"devCode,omitempty"`
}

type AuthTokens struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	ExpiresIn        int    `json:"expiresIn"`
	RefreshExpiresIn int    `json:"refreshExpiresIn"`
}

// UserSummary renders a missing name as null.
type UserSummary struct {
	ID          string  `json:"id"`
	Name        *string `json:"name"`
	PhoneNumber string  `json:"phoneNumber"`
}

func NewUserSummary(u *User) UserSummary {
	summary := UserSummary{ID: u.ID, PhoneNumber: u.PhoneNumber}
	if u.Name != "" {
		name := u.Name
		summary.Name = &name
	}
	return summary
}

type AuthResponse struct {
	User               UserSummary `json:"user"`
	Tokens             AuthTokens  `json:"tokens"`
	OnboardingComplete bool        `json:"onboardingComplete"`
}

// -------------------- AUTH EVENTS --------------------
const (
	EventOTPRequested         = "otp.requested"
	EventOTPVerified          = "otp.verified"
	EventOTPFailed            = "otp.failed"
	EventSessionCreated       = "session.created"
	EventSessionRotated       = "session.rotated"
	EventSessionReuseDetected = "session.reuse_detected"
	EventSessionExpired       = "session.expired"
	EventSessionRevoked       = "session.revoked"
	EventSessionRevokedAll    = "session.revoked_all"
)

// AuthEvent is the audit record published for every auth outcome.
type AuthEvent struct {
	EventID          string    `json:"eventId"`
	Type             string    `json:"type"`
	UserID           string    `json:"userId,omitempty"`
	SessionID        string    `json:"sessionId,omitempty"`
	RequestID        string    `json:"requestId,omitempty"`
	PhoneHash        string    `json:"phoneHash,omitempty"`
	ClientDescriptor string    `json:"clientDescriptor,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}
