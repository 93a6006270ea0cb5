package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"food-auth-service/internal/hashing"
	"food-auth-service/internal/model"
	"food-auth-service/internal/repository"
	"food-auth-service/internal/token"
)

const (
	refreshTokenDelimiter = "."
	refreshSecretBytes    = 32
	createSessionAttempts = 3
)

// AccessTokens signs and verifies access tokens. token.Manager implements it.
type AccessTokens interface {
	Issue(userID, phoneNumber, sessionID string) (string, time.Time, error)
	Verify(tokenString string) (*token.Claims, error)
	TTL() time.Duration
}

// PhoneResolver looks up the current phone number of a user.
type PhoneResolver interface {
	PhoneNumber(ctx context.Context, userID string) (string, error)
}

// IssuedSession is the result of creating or rotating a session.
type IssuedSession struct {
	SessionID string
	UserID    string
	Tokens    model.AuthTokens
}

// SessionService owns refresh sessions. It never caches a session: every
// rotation re-reads the store and swaps the secret with compare-and-swap.
type SessionService struct {
	store      repository.SessionStore
	hasher     *hashing.Hasher
	tokens     AccessTokens
	phones     PhoneResolver
	refreshTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewSessionService(
	store repository.SessionStore,
	hasher *hashing.Hasher,
	tokens AccessTokens,
	phones PhoneResolver,
	refreshTTL time.Duration,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		store:      store,
		hasher:     hasher,
		tokens:     tokens,
		phones:     phones,
		refreshTTL: refreshTTL,
		logger:     logger,
		now:        time.Now,
	}
}

func newRefreshSecret() (string, error) {
	b := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate refresh secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// parseRefreshToken splits sessionID.secret.
func parseRefreshToken(refreshToken string) (sessionID, secret string, err error) {
	sessionID, secret, ok := strings.Cut(strings.TrimSpace(refreshToken), refreshTokenDelimiter)
	if !ok || sessionID == "" || secret == "" {
		return "", "", fmt.Errorf("%w: refresh token must be sessionId.secret", ErrMalformed)
	}
	return sessionID, secret, nil
}

func (s *SessionService) sign(userID, phoneNumber, sessionID string) (string, error) {
	accessToken, _, err := s.tokens.Issue(userID, phoneNumber, sessionID)
	if err != nil {
		if errors.Is(err, token.ErrMissingSigningKey) {
			return "", fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return "", err
	}
	return accessToken, nil
}

func (s *SessionService) issued(sessionID, userID, accessToken, secret string) *IssuedSession {
	return &IssuedSession{
		SessionID: sessionID,
		UserID:    userID,
		Tokens: model.AuthTokens{
			AccessToken:      accessToken,
			RefreshToken:     sessionID + refreshTokenDelimiter + secret,
			ExpiresIn:        int(s.tokens.TTL() / time.Second),
			RefreshExpiresIn: int(s.refreshTTL / time.Second),
		},
	}
}

// CreateSession starts a new session for userID.
func (s *SessionService) CreateSession(ctx context.Context, userID, phoneNumber, clientDescriptor string) (*IssuedSession, error) {
	secret, err := newRefreshSecret()
	if err != nil {
		return nil, err
	}
	secretHash, err := s.hasher.HashRefreshSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash refresh secret: %w", err)
	}

	for attempt := 0; attempt < createSessionAttempts; attempt++ {
		sessionID := uuid.NewString()

		accessToken, err := s.sign(userID, phoneNumber, sessionID)
		if err != nil {
			return nil, err
		}

		now := s.now().UTC()
		err = s.store.CreateSession(ctx, &model.Session{
			ID:               sessionID,
			UserID:           userID,
			SecretHash:       secretHash,
			ClientDescriptor: clientDescriptor,
			CreatedAt:        now,
			LastRotatedAt:    now,
			ExpiresAt:        now.Add(s.refreshTTL),
		})
		if errors.Is(err, model.ErrRecordExists) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.Info("Session created",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID))
		return s.issued(sessionID, userID, accessToken, secret), nil
	}

	return nil, fmt.Errorf("failed to allocate a unique session id after %d attempts", createSessionAttempts)
}

// RotateSession replaces the secret of a valid session and slides its expiry.
// Expired sessions, wrong secrets and lost rotation races delete the session.
func (s *SessionService) RotateSession(ctx context.Context, refreshToken, clientDescriptor string) (*IssuedSession, error) {
	sessionID, secret, err := parseRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, model.ErrRecordNotFound) {
			return nil, unauthorized(ErrNotFound)
		}
		return nil, err
	}

	now := s.now().UTC()
	if session.Expired(now) {
		s.revoke(ctx, sessionID, "expired")
		return nil, unauthorized(ErrExpired)
	}

	ok, err := s.hasher.VerifyRefreshSecret(secret, session.SecretHash)
	if err != nil {
		s.logger.Warn("Stored refresh hash cannot be verified",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	if !ok {
		s.revoke(ctx, sessionID, "secret mismatch")
		return nil, unauthorized(ErrInvalid)
	}

	nextSecret, err := newRefreshSecret()
	if err != nil {
		return nil, err
	}
	nextHash, err := s.hasher.HashRefreshSecret(nextSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash refresh secret: %w", err)
	}

	phoneNumber := ""
	if s.phones != nil {
		if phoneNumber, err = s.phones.PhoneNumber(ctx, session.UserID); err != nil {
			s.logger.Warn("Failed to resolve phone number for access token",
				zap.String("user_id", session.UserID), zap.Error(err))
			phoneNumber = ""
		}
	}

	accessToken, err := s.sign(session.UserID, phoneNumber, sessionID)
	if err != nil {
		return nil, err
	}

	if clientDescriptor == "" {
		clientDescriptor = session.ClientDescriptor
	}
	err = s.store.CompareAndSwapSecret(ctx, sessionID, session.SecretHash, model.SessionUpdate{
		SecretHash:       nextHash,
		ClientDescriptor: clientDescriptor,
		ExpiresAt:        now.Add(s.refreshTTL),
		RotatedAt:        now,
	})
	switch {
	case errors.Is(err, model.ErrConflict):
		// Another request rotated this secret first: the same secret was presented twice.
		s.revoke(ctx, sessionID, "concurrent reuse")
		return nil, unauthorized(ErrInvalid)
	case errors.Is(err, model.ErrRecordNotFound):
		return nil, unauthorized(ErrNotFound)
	case err != nil:
		return nil, err
	}

	s.logger.Debug("Session rotated", zap.String("session_id", sessionID))
	return s.issued(sessionID, session.UserID, accessToken, nextSecret), nil
}

func (s *SessionService) revoke(ctx context.Context, sessionID, reason string) {
	s.logger.Warn("Revoking refresh session",
		zap.String("session_id", sessionID),
		zap.String("reason", reason))
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		s.logger.Error("Failed to revoke refresh session",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// RevokeSession deletes the session named by refreshToken. The secret is ignored.
// With a non-empty ownerID, a session owned by someone else is left alone and
// an empty id reports that nothing was revoked.
func (s *SessionService) RevokeSession(ctx context.Context, refreshToken, ownerID string) (string, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	sessionID, _, _ := strings.Cut(refreshToken, refreshTokenDelimiter)
	if sessionID == "" {
		return "", fmt.Errorf("%w: refresh token is empty", ErrMalformed)
	}

	if ownerID != "" {
		session, err := s.store.GetSession(ctx, sessionID)
		switch {
		case errors.Is(err, model.ErrRecordNotFound):
			return "", nil
		case err != nil:
			return "", err
		case session.UserID != ownerID:
			s.logger.Warn("Ignoring revoke of a session owned by another user",
				zap.String("session_id", sessionID),
				zap.String("caller", ownerID))
			return "", nil
		}
	}

	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return "", err
	}
	return sessionID, nil
}

// RevokeAllSessions deletes every session of userID.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrMalformed)
	}

	removed, err := s.store.DeleteUserSessions(ctx, userID)
	if err != nil {
		return 0, err
	}

	s.logger.Info("All sessions revoked", zap.String("user_id", userID), zap.Int("count", removed))
	return removed, nil
}

// VerifyAccessToken checks signature and expiry only.
func (s *SessionService) VerifyAccessToken(accessToken string) (*token.Claims, error) {
	claims, err := s.tokens.Verify(accessToken)
	if err != nil {
		if errors.Is(err, token.ErrMissingSigningKey) {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return nil, unauthorized(ErrInvalid)
	}
	return claims, nil
}
