package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"food-auth-service/internal/bucketing"
	"food-auth-service/internal/model"
	"food-auth-service/internal/models"
	"food-auth-service/internal/util"
)

// CredentialStore keeps challenges and refresh sessions in ScyllaDB.
// Rotation and creation use lightweight transactions.
type CredentialStore struct {
	client    *ScyllaClient
	buckets   *bucketing.BucketingManager
	retention time.Duration
}

func NewCredentialStore(client *ScyllaClient, buckets *bucketing.BucketingManager, retention time.Duration) *CredentialStore {
	return &CredentialStore{
		client:    client,
		buckets:   buckets,
		retention: retention,
	}
}

// rowTTL keeps a row until its expiry plus the retention window, at least one second.
func rowTTL(expiresAt time.Time, retention time.Duration) int {
	ttl := int((time.Until(expiresAt) + retention).Seconds())
	if ttl < 1 {
		return 1
	}
	return ttl
}

func challengeToRow(c *model.VerificationChallenge) models.VerificationChallengeRow {
	return models.VerificationChallengeRow{
		RequestID:      c.RequestID,
		PhoneHash:      c.PhoneHash,
		PhoneEncrypted: c.PhoneEncrypted,
		CodeHash:       c.CodeHash,
		Provider:       c.Provider,
		TTLSeconds:     c.TTLSeconds,
		CreatedAt:      c.CreatedAt,
		ExpiresAt:      c.ExpiresAt,
	}
}

func rowToChallenge(r models.VerificationChallengeRow) *model.VerificationChallenge {
	return &model.VerificationChallenge{
		RequestID:      r.RequestID,
		PhoneHash:      r.PhoneHash,
		PhoneEncrypted: r.PhoneEncrypted,
		CodeHash:       r.CodeHash,
		Provider:       r.Provider,
		TTLSeconds:     r.TTLSeconds,
		CreatedAt:      r.CreatedAt.UTC(),
		ExpiresAt:      r.ExpiresAt.UTC(),
	}
}

func (r *CredentialStore) UpsertChallenge(ctx context.Context, challenge *model.VerificationChallenge) error {
	row := challengeToRow(challenge)
	query := r.client.Query(ctx, r.client.Stmt.UpsertChallenge,
		row.RequestID, row.PhoneHash, row.PhoneEncrypted, row.CodeHash, row.Provider,
		row.TTLSeconds, row.CreatedAt, row.ExpiresAt, rowTTL(row.ExpiresAt, r.retention))

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to store verification challenge",
			zap.String("request_id", challenge.RequestID),
			zap.Error(err))
		return fmt.Errorf("failed to store verification challenge: %w", err)
	}

	util.Debug("Verification challenge stored",
		zap.String("request_id", challenge.RequestID),
		zap.Time("expires_at", challenge.ExpiresAt))
	return nil
}

func (r *CredentialStore) GetChallenge(ctx context.Context, requestID string) (*model.VerificationChallenge, error) {
	var row models.VerificationChallengeRow
	query := r.client.Query(ctx, r.client.Stmt.GetChallenge, requestID)

	err := r.client.ScanWithRetry(query,
		&row.RequestID, &row.PhoneHash, &row.PhoneEncrypted, &row.CodeHash, &row.Provider,
		&row.TTLSeconds, &row.CreatedAt, &row.ExpiresAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, model.ErrRecordNotFound
		}
		util.Error("Failed to get verification challenge",
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get verification challenge: %w", err)
	}

	return rowToChallenge(row), nil
}

func (r *CredentialStore) DeleteChallenge(ctx context.Context, requestID string) error {
	query := r.client.Query(ctx, r.client.Stmt.DeleteChallenge, requestID)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to delete verification challenge",
			zap.String("request_id", requestID),
			zap.Error(err))
		return fmt.Errorf("failed to delete verification challenge: %w", err)
	}
	return nil
}

func (r *CredentialStore) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
