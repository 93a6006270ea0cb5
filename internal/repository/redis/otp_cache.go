package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"food-auth-service/internal/client"
	"food-auth-service/internal/model"
	"food-auth-service/internal/util"
)

const (
	challengePrefix = "otp_challenge:"
	opTimeout       = 5 * time.Second
	minKeyTTL       = time.Second
)

// Store is the Redis credential store. Keys outlive their logical expiry by
// retention so an expired record is still read back and reported as expired.
type Store struct {
	client    *client.RedisClient
	retention time.Duration
}

func NewStore(client *client.RedisClient, retention time.Duration) *Store {
	return &Store{client: client, retention: retention}
}

func (s *Store) keyTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt) + s.retention
	if ttl < minKeyTTL {
		return minKeyTTL
	}
	return ttl
}

func (s *Store) UpsertChallenge(ctx context.Context, challenge *model.VerificationChallenge) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	payload, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to encode challenge: %w", err)
	}

	key := challengePrefix + challenge.RequestID
	ttl := s.keyTTL(challenge.ExpiresAt)
	if err := s.client.Set(ctx, key, payload, ttl); err != nil {
		util.Error("Failed to store OTP challenge", zap.String("request_id", challenge.RequestID), zap.Error(err))
		return fmt.Errorf("failed to store OTP challenge: %w", err)
	}

	util.Debug("OTP challenge stored", zap.String("request_id", challenge.RequestID), zap.Duration("ttl", ttl))
	return nil
}

func (s *Store) GetChallenge(ctx context.Context, requestID string) (*model.VerificationChallenge, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, challengePrefix+requestID)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, model.ErrRecordNotFound
		}
		util.Error("Failed to get OTP challenge", zap.String("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to get OTP challenge: %w", err)
	}

	var challenge model.VerificationChallenge
	if err := json.Unmarshal([]byte(raw), &challenge); err != nil {
		return nil, fmt.Errorf("failed to decode OTP challenge: %w", err)
	}
	return &challenge, nil
}

func (s *Store) DeleteChallenge(ctx context.Context, requestID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, challengePrefix+requestID); err != nil {
		util.Error("Failed to delete OTP challenge", zap.String("request_id", requestID), zap.Error(err))
		return fmt.Errorf("failed to delete OTP challenge: %w", err)
	}

	util.Debug("OTP challenge deleted", zap.String("request_id", requestID))
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}
