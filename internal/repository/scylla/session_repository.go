package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"food-auth-service/internal/model"
	"food-auth-service/internal/models"
	"food-auth-service/internal/util"
)

// Session rows carry no TTL: a rotation rewrites only some columns, and a
// column TTL would drop user_id before the slid expiry. PruneExpired removes them.

func sessionToRow(s *model.Session) models.RefreshSessionRow {
	return models.RefreshSessionRow{
		SessionID:        s.ID,
		UserID:           s.UserID,
		SecretHash:       s.SecretHash,
		ClientDescriptor: s.ClientDescriptor,
		CreatedAt:        s.CreatedAt,
		LastRotatedAt:    s.LastRotatedAt,
		ExpiresAt:        s.ExpiresAt,
	}
}

func rowToSession(r models.RefreshSessionRow) *model.Session {
	return &model.Session{
		ID:               r.SessionID,
		UserID:           r.UserID,
		SecretHash:       r.SecretHash,
		ClientDescriptor: r.ClientDescriptor,
		CreatedAt:        r.CreatedAt.UTC(),
		LastRotatedAt:    r.LastRotatedAt.UTC(),
		ExpiresAt:        r.ExpiresAt.UTC(),
	}
}

func (r *CredentialStore) CreateSession(ctx context.Context, session *model.Session) error {
	row := sessionToRow(session)

	applied, err := r.client.Query(ctx, r.client.Stmt.CreateSession,
		row.SessionID, row.UserID, row.SecretHash, row.ClientDescriptor,
		row.CreatedAt, row.LastRotatedAt, row.ExpiresAt,
	).MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to create refresh session",
			zap.String("session_id", session.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create refresh session: %w", err)
	}
	if !applied {
		return model.ErrRecordExists
	}

	index := models.SessionByUserRow{
		UserBucket: r.buckets.GetUserBucket(session.UserID),
		UserID:     session.UserID,
		SessionID:  session.ID,
		ExpiresAt:  session.ExpiresAt,
	}
	query := r.client.Query(ctx, r.client.Stmt.CreateSessionIndex,
		index.UserBucket, index.UserID, index.SessionID, index.ExpiresAt)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to index refresh session",
			zap.String("session_id", session.ID),
			zap.String("user_id", session.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to index refresh session: %w", err)
	}

	util.Debug("Refresh session created",
		zap.String("session_id", session.ID),
		zap.String("user_id", session.UserID))
	return nil
}

func (r *CredentialStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	var row models.RefreshSessionRow
	query := r.client.Query(ctx, r.client.Stmt.GetSession, sessionID)

	err := r.client.ScanWithRetry(query,
		&row.SessionID, &row.UserID, &row.SecretHash, &row.ClientDescriptor,
		&row.CreatedAt, &row.LastRotatedAt, &row.ExpiresAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, model.ErrRecordNotFound
		}
		util.Error("Failed to get refresh session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get refresh session: %w", err)
	}

	return rowToSession(row), nil
}

func (r *CredentialStore) CompareAndSwapSecret(ctx context.Context, sessionID, expectedHash string, update model.SessionUpdate) error {
	previous := map[string]interface{}{}
	applied, err := r.client.Query(ctx, r.client.Stmt.RotateSession,
		update.SecretHash, update.ClientDescriptor, update.ExpiresAt, update.RotatedAt,
		sessionID, expectedHash,
	).MapScanCAS(previous)
	if err != nil {
		util.Error("Failed to rotate refresh session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("failed to rotate refresh session: %w", err)
	}
	if applied {
		return nil
	}

	// A failed condition on a missing row returns no previous value.
	if current, ok := previous["secret_hash"]; !ok || current == nil || current == "" {
		return model.ErrRecordNotFound
	}
	return model.ErrConflict
}

// DeleteSession removes the session row with IF EXISTS so it serializes with
// the conditional create and rotate, then drops the index row.
func (r *CredentialStore) DeleteSession(ctx context.Context, sessionID string) error {
	var userID string
	err := r.client.ScanWithRetry(r.client.Query(ctx, r.client.Stmt.GetSessionOwner, sessionID), &userID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up refresh session: %w", err)
	}

	if _, err := r.client.Query(ctx, r.client.Stmt.DeleteSession, sessionID).
		MapScanCAS(map[string]interface{}{}); err != nil {
		util.Error("Failed to delete refresh session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("failed to delete refresh session: %w", err)
	}

	if userID != "" {
		index := r.client.Query(ctx, r.client.Stmt.DeleteSessionIndex,
			r.buckets.GetUserBucket(userID), userID, sessionID)
		if err := r.client.ExecuteWithRetry(index, 2); err != nil {
			return fmt.Errorf("failed to delete session index: %w", err)
		}
	}

	util.Debug("Refresh session deleted", zap.String("session_id", sessionID))
	return nil
}

func (r *CredentialStore) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	bucket := r.buckets.GetUserBucket(userID)

	iter := r.client.Query(ctx, r.client.Stmt.ListUserSessions, bucket, userID).Iter()
	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to list user sessions: %w", err)
	}

	removed := 0
	for _, sessionID := range ids {
		applied, err := r.client.Query(ctx, r.client.Stmt.DeleteSession, sessionID).
			MapScanCAS(map[string]interface{}{})
		if err != nil {
			return removed, fmt.Errorf("failed to delete refresh session %s: %w", sessionID, err)
		}
		if applied {
			removed++
		}
	}

	if err := r.client.ExecuteWithRetry(r.client.Query(ctx, r.client.Stmt.DeleteUserIndex, bucket, userID), 2); err != nil {
		return removed, fmt.Errorf("failed to clear user session index: %w", err)
	}

	util.Info("User sessions deleted", zap.String("user_id", userID), zap.Int("count", removed))
	return removed, nil
}

// PruneExpired walks the per-user index bucket by bucket and removes sessions
// whose stored expiry is before cutoff. The index expiry is only a hint since
// rotation slides the session row and not the index.
func (r *CredentialStore) PruneExpired(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	for bucket := 0; bucket < r.buckets.UserBuckets(); bucket++ {
		var candidates []models.SessionByUserRow
		var row models.SessionByUserRow
		iter := r.client.Query(ctx, r.client.Stmt.ListBucketSessions, bucket).Iter()
		for iter.Scan(&row.UserID, &row.SessionID, &row.ExpiresAt) {
			if row.ExpiresAt.Before(cutoff) {
				row.UserBucket = bucket
				candidates = append(candidates, row)
			}
		}
		if err := iter.Close(); err != nil {
			return removed, fmt.Errorf("failed to scan session bucket %d: %w", bucket, err)
		}

		for _, candidate := range candidates {
			session, err := r.GetSession(ctx, candidate.SessionID)
			switch {
			case errors.Is(err, model.ErrRecordNotFound):
				if err := r.client.ExecuteWithRetry(r.client.Query(ctx, r.client.Stmt.DeleteSessionIndex,
					candidate.UserBucket, candidate.UserID, candidate.SessionID), 2); err != nil {
					return removed, err
				}
			case err != nil:
				return removed, err
			case session.ExpiresAt.Before(cutoff):
				if err := r.DeleteSession(ctx, candidate.SessionID); err != nil {
					return removed, err
				}
				removed++
			default:
				// Still live after rotation; refresh the hint.
				if err := r.client.ExecuteWithRetry(r.client.Query(ctx, r.client.Stmt.CreateSessionIndex,
					candidate.UserBucket, candidate.UserID, candidate.SessionID, session.ExpiresAt), 2); err != nil {
					return removed, err
				}
			}
		}
	}

	if removed > 0 {
		util.Info("Expired refresh sessions pruned", zap.Int("count", removed))
	}
	return removed, nil
}
