package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"food-auth-service/internal/events"
	"food-auth-service/internal/metrics"
	"food-auth-service/internal/model"
	"food-auth-service/internal/token"
	"food-auth-service/internal/util"
)

const eventTimeout = 2 * time.Second

// VerifyOTPRequest carries the verify-otp body plus the caller's client descriptor.
type VerifyOTPRequest struct {
	PhoneNumber      string
	Code             string
	RequestID        string
	Name             string
	ClientDescriptor string
}

// AuthService is the public entry point: request code, verify code, refresh, logout.
type AuthService struct {
	otp       *OTPService
	sessions  *SessionService
	users     *UserService
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewAuthService(
	otp *OTPService,
	sessions *SessionService,
	users *UserService,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *AuthService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &AuthService{
		otp:       otp,
		sessions:  sessions,
		users:     users,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (s *AuthService) RequestOTP(ctx context.Context, phoneNumber string) (*model.OTPChallenge, error) {
	challenge, err := s.otp.RequestChallenge(ctx, phoneNumber)
	s.metrics.OTPRequested(s.otp.Mode(), outcome(err))
	if err != nil {
		return nil, err
	}

	s.emit(ctx, model.AuthEvent{
		Type:      model.EventOTPRequested,
		RequestID: challenge.RequestID,
		PhoneHash: phoneHash(phoneNumber),
	})
	return challenge, nil
}

// VerifyOTP consumes the challenge, upserts the user and opens a session.
// A failure after the challenge is consumed is not compensated; the caller requests a new code.
func (s *AuthService) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*model.AuthResponse, error) {
	err := s.otp.VerifyChallenge(ctx, VerifyOTPInput{
		PhoneNumber: req.PhoneNumber,
		Code:        req.Code,
		RequestID:   req.RequestID,
	})
	s.metrics.OTPVerified(outcome(err))
	if err != nil {
		s.emit(ctx, model.AuthEvent{
			Type:      model.EventOTPFailed,
			RequestID: req.RequestID,
			PhoneHash: phoneHash(req.PhoneNumber),
			Reason:    outcome(err),
		})
		return nil, err
	}

	user, err := s.users.UpsertByPhone(ctx, req.PhoneNumber, req.Name)
	if err != nil {
		return nil, err
	}

	issued, err := s.sessions.CreateSession(ctx, user.ID, user.PhoneNumber, req.ClientDescriptor)
	if err != nil {
		return nil, err
	}

	s.metrics.SessionEvent(model.EventSessionCreated)
	s.emit(ctx, model.AuthEvent{
		Type:      model.EventOTPVerified,
		UserID:    user.ID,
		RequestID: req.RequestID,
		PhoneHash: user.PhoneHash,
	})
	s.emit(ctx, model.AuthEvent{
		Type:             model.EventSessionCreated,
		UserID:           user.ID,
		SessionID:        issued.SessionID,
		ClientDescriptor: req.ClientDescriptor,
	})

	return &model.AuthResponse{
		User:               model.NewUserSummary(user),
		Tokens:             issued.Tokens,
		OnboardingComplete: user.Name != "",
	}, nil
}

func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken, clientDescriptor string) (*model.AuthTokens, error) {
	issued, err := s.sessions.RotateSession(ctx, refreshToken, clientDescriptor)
	if err != nil {
		if eventType := rotationFailureEvent(err); eventType != "" {
			sessionID, _, _ := parseRefreshToken(refreshToken)
			s.metrics.SessionEvent(eventType)
			s.emit(ctx, model.AuthEvent{
				Type:             eventType,
				SessionID:        sessionID,
				ClientDescriptor: clientDescriptor,
				Reason:           outcome(err),
			})
		}
		return nil, err
	}

	s.metrics.SessionEvent(model.EventSessionRotated)
	s.emit(ctx, model.AuthEvent{
		Type:             model.EventSessionRotated,
		UserID:           issued.UserID,
		SessionID:        issued.SessionID,
		ClientDescriptor: clientDescriptor,
	})
	return &issued.Tokens, nil
}

// Logout revokes the session behind refreshToken, or every session of userID
// when no token is given. Revoking something already gone succeeds.
func (s *AuthService) Logout(ctx context.Context, refreshToken, userID string) error {
	if refreshToken != "" {
		sessionID, err := s.sessions.RevokeSession(ctx, refreshToken, userID)
		if err != nil {
			return err
		}
		if sessionID == "" {
			return nil
		}
		s.metrics.SessionEvent(model.EventSessionRevoked)
		s.emit(ctx, model.AuthEvent{Type: model.EventSessionRevoked, UserID: userID, SessionID: sessionID})
		return nil
	}

	removed, err := s.sessions.RevokeAllSessions(ctx, userID)
	if err != nil {
		return err
	}
	s.metrics.SessionEvent(model.EventSessionRevokedAll)
	s.emit(ctx, model.AuthEvent{
		Type:   model.EventSessionRevokedAll,
		UserID: userID,
		Reason: "removed=" + strconv.Itoa(removed),
	})
	return nil
}

// Me returns the caller's profile.
func (s *AuthService) Me(ctx context.Context, userID string) (*model.UserSummary, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary := model.NewUserSummary(user)
	return &summary, nil
}

func (s *AuthService) VerifyAccessToken(accessToken string) (*token.Claims, error) {
	return s.sessions.VerifyAccessToken(accessToken)
}

// emit publishes without letting the caller's cancellation or a slow broker fail the request.
func (s *AuthService) emit(ctx context.Context, event model.AuthEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish auth event",
			zap.String("type", event.Type),
			zap.Error(err))
	}
}

func phoneHash(raw string) string {
	phone, err := util.NormalizePhone(raw)
	if err != nil {
		return ""
	}
	return HashPhone(phone)
}

func rotationFailureEvent(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return model.EventSessionExpired
	case errors.Is(err, ErrInvalid):
		return model.EventSessionReuseDetected
	default:
		return ""
	}
}

// outcome is a low-cardinality label for metrics and event reasons.
func outcome(err error) string {
	var rl *RateLimitError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rl), errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	default:
		return "error"
	}
}
