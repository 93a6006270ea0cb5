package scylla

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"food-auth-service/internal/model"
	"food-auth-service/internal/models"
	"food-auth-service/internal/repository"
)

var (
	_ repository.CredentialStore = (*CredentialStore)(nil)
	_ repository.Pruner          = (*CredentialStore)(nil)
	_ repository.UserStore       = (*UserRepository)(nil)
)

func TestRowTTL(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		retention time.Duration
		min, max  int
	}{
		{"future expiry plus retention", time.Now().Add(5 * time.Minute), time.Hour, 3898, 3900},
		{"already expired within retention", time.Now().Add(-time.Minute), time.Hour, 3538, 3540},
		{"expired past retention", time.Now().Add(-2 * time.Hour), time.Hour, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rowTTL(tt.expiresAt, tt.retention)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestSessionRowConversion(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	session := &model.Session{
		ID: "sid", UserID: "uid", SecretHash: "hash", ClientDescriptor: "ios",
		CreatedAt: now, LastRotatedAt: now, ExpiresAt: now.Add(time.Hour),
	}

	row := sessionToRow(session)
	assert.Equal(t, models.RefreshSessionRow{
		SessionID: "sid", UserID: "uid", SecretHash: "hash", ClientDescriptor: "ios",
		CreatedAt: now, LastRotatedAt: now, ExpiresAt: now.Add(time.Hour),
	}, row)
	assert.Equal(t, session, rowToSession(row))
}

func TestChallengeRowConversion(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	challenge := &model.VerificationChallenge{
		RequestID: "req", PhoneHash: "ph", CodeHash: "ch", Provider: model.ProviderSelf,
		TTLSeconds: 300, CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute),
	}
	assert.Equal(t, challenge, rowToChallenge(challengeToRow(challenge)))
}

func TestStatementsUseLightweightTransactions(t *testing.T) {
	assert.Contains(t, statements.CreateSession, "IF NOT EXISTS")
	assert.Contains(t, statements.RotateSession, "IF secret_hash = ?")
	assert.Contains(t, statements.CreatePhoneToUser, "IF NOT EXISTS")
	assert.Contains(t, statements.UpdateUserName, "IF EXISTS")

	for _, stmt := range Schema {
		assert.True(t, strings.HasPrefix(strings.TrimSpace(stmt), "CREATE TABLE IF NOT EXISTS"))
	}
}

// Rows written with Paxos must only be changed by Paxos, otherwise a plain
// delete can be shadowed by a later conditional update.
func TestConditionalTablesOnlyUseConditionalWrites(t *testing.T) {
	v := reflect.ValueOf(statements)
	for i := 0; i < v.NumField(); i++ {
		name := v.Type().Field(i).Name
		stmt := strings.TrimSpace(v.Field(i).String())
		if strings.HasPrefix(stmt, "SELECT") {
			continue
		}
		if strings.Contains(stmt, "refresh_sessions") || strings.Contains(stmt, "phone_to_user") ||
			strings.Contains(stmt, " users ") {
			assert.Contains(t, stmt, " IF ", "%s must be a lightweight transaction", name)
		}
	}
	assert.Contains(t, statements.DeleteSession, "IF EXISTS")
	assert.Contains(t, statements.CreateUser, "IF NOT EXISTS")
}

func TestClaimedBy(t *testing.T) {
	tests := []struct {
		name     string
		previous map[string]interface{}
		want     models.PhoneToUser
		ok       bool
	}{
		{
			name:     "existing claim",
			previous: map[string]interface{}{"phone_hash": "ph", "user_bucket": 7, "user_id": "u-1"},
			want:     models.PhoneToUser{UserBucket: 7, UserID: "u-1"},
			ok:       true,
		},
		{name: "no previous row", previous: map[string]interface{}{}},
		{name: "null user id", previous: map[string]interface{}{"user_bucket": 7, "user_id": ""}},
		{name: "missing bucket", previous: map[string]interface{}{"user_id": "u-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := claimedBy(tt.previous)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
