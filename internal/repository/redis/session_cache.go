package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"food-auth-service/internal/model"
	"food-auth-service/internal/util"
)

const (
	sessionPrefix      = "refresh_session:"
	userSessionsPrefix = "user_refresh_sessions:"
)

// createSessionScript writes the session hash only if the id is free and indexes it under the user.
var createSessionScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'user_id', ARGV[1], 'secret_hash', ARGV[2], 'client_descriptor', ARGV[3],
  'created_at', ARGV[4], 'last_rotated_at', ARGV[5], 'expires_at', ARGV[6])
redis.call('PEXPIREAT', KEYS[1], ARGV[7])
redis.call('SADD', KEYS[2], ARGV[8])
local ttl = redis.call('PTTL', KEYS[2])
if ttl >= 0 and ttl < tonumber(ARGV[9]) then
  redis.call('PEXPIRE', KEYS[2], ARGV[9])
elseif ttl == -1 then
  redis.call('PEXPIRE', KEYS[2], ARGV[9])
end
return 1
`)

// rotateSessionScript swaps the secret only while the stored hash is still the expected one.
// Returns -1 when the session is gone, 0 on a lost race and 1 on success.
var rotateSessionScript = goredis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'secret_hash')
if not current then
  return -1
end
if current ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1],
  'secret_hash', ARGV[2], 'client_descriptor', ARGV[3],
  'expires_at', ARGV[4], 'last_rotated_at', ARGV[5])
redis.call('PEXPIREAT', KEYS[1], ARGV[6])
local uid = redis.call('HGET', KEYS[1], 'user_id')
local index = ARGV[7] .. uid
local ttl = redis.call('PTTL', index)
if ttl >= 0 and ttl < tonumber(ARGV[8]) then
  redis.call('PEXPIRE', index, ARGV[8])
end
return 1
`)

var deleteSessionScript = goredis.NewScript(`
local uid = redis.call('HGET', KEYS[1], 'user_id')
local removed = redis.call('DEL', KEYS[1])
if uid then
  redis.call('SREM', ARGV[1] .. uid, ARGV[2])
end
return removed
`)

var deleteUserSessionsScript = goredis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
local removed = 0
for _, id in ipairs(ids) do
  removed = removed + redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return removed
`)

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (s *Store) CreateSession(ctx context.Context, session *model.Session) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	keyExpiry := time.Now().Add(s.keyTTL(session.ExpiresAt))
	res, err := s.client.RunScript(ctx, createSessionScript,
		[]string{sessionPrefix + session.ID, userSessionsPrefix + session.UserID},
		session.UserID, session.SecretHash, session.ClientDescriptor,
		millis(session.CreatedAt), millis(session.LastRotatedAt), millis(session.ExpiresAt),
		keyExpiry.UnixMilli(), session.ID, s.keyTTL(session.ExpiresAt).Milliseconds(),
	)
	if err != nil {
		util.Error("Failed to create refresh session", zap.String("session_id", session.ID), zap.Error(err))
		return fmt.Errorf("failed to create refresh session: %w", err)
	}
	if n, _ := res.(int64); n == 0 {
		return model.ErrRecordExists
	}

	util.Debug("Refresh session created", zap.String("session_id", session.ID), zap.String("user_id", session.UserID))
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, sessionPrefix+sessionID)
	if err != nil {
		util.Error("Failed to get refresh session", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("failed to get refresh session: %w", err)
	}
	if len(fields) == 0 {
		return nil, model.ErrRecordNotFound
	}

	session := &model.Session{
		ID:               sessionID,
		UserID:           fields["user_id"],
		SecretHash:       fields["secret_hash"],
		ClientDescriptor: fields["client_descriptor"],
	}
	for name, dst := range map[string]*time.Time{
		"created_at":      &session.CreatedAt,
		"last_rotated_at": &session.LastRotatedAt,
		"expires_at":      &session.ExpiresAt,
	} {
		if *dst, err = parseMillis(fields[name]); err != nil {
			return nil, fmt.Errorf("corrupt refresh session %s field %s: %w", sessionID, name, err)
		}
	}
	return session, nil
}

func (s *Store) CompareAndSwapSecret(ctx context.Context, sessionID, expectedHash string, update model.SessionUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ttl := s.keyTTL(update.ExpiresAt)
	res, err := s.client.RunScript(ctx, rotateSessionScript,
		[]string{sessionPrefix + sessionID},
		expectedHash, update.SecretHash, update.ClientDescriptor,
		millis(update.ExpiresAt), millis(update.RotatedAt),
		time.Now().Add(ttl).UnixMilli(), userSessionsPrefix, ttl.Milliseconds(),
	)
	if err != nil {
		util.Error("Failed to rotate refresh session", zap.String("session_id", sessionID), zap.Error(err))
		return fmt.Errorf("failed to rotate refresh session: %w", err)
	}

	switch n, _ := res.(int64); n {
	case 1:
		return nil
	case 0:
		return model.ErrConflict
	default:
		return model.ErrRecordNotFound
	}
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.client.RunScript(ctx, deleteSessionScript,
		[]string{sessionPrefix + sessionID}, userSessionsPrefix, sessionID); err != nil {
		util.Error("Failed to delete refresh session", zap.String("session_id", sessionID), zap.Error(err))
		return fmt.Errorf("failed to delete refresh session: %w", err)
	}

	util.Debug("Refresh session deleted", zap.String("session_id", sessionID))
	return nil
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.client.RunScript(ctx, deleteUserSessionsScript,
		[]string{userSessionsPrefix + userID}, sessionPrefix)
	if err != nil {
		util.Error("Failed to delete user sessions", zap.String("user_id", userID), zap.Error(err))
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}

	removed, _ := res.(int64)
	util.Info("User sessions deleted", zap.String("user_id", userID), zap.Int64("count", removed))
	return int(removed), nil
}

// PruneExpired drops index entries whose session keys Redis already expired.
// Session and challenge keys themselves expire through their TTL.
func (s *Store) PruneExpired(ctx context.Context, _ time.Time) (int, error) {
	removed := 0
	err := s.client.Scan(ctx, userSessionsPrefix+"*", 500, func(indexKey string) error {
		ids, err := s.client.SMembers(ctx, indexKey)
		if err != nil {
			return err
		}
		for _, id := range ids {
			exists, err := s.client.Exists(ctx, sessionPrefix+id)
			if err != nil {
				return err
			}
			if !exists {
				if err := s.client.SRem(ctx, indexKey, id); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to prune session index: %w", err)
	}
	return removed, nil
}
