package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"food-auth-service/internal/config"
	"food-auth-service/internal/hashing"
	"food-auth-service/internal/model"
	"food-auth-service/internal/repository"
	"food-auth-service/internal/sms"
	"food-auth-service/internal/util"
)

const phoneKeyPurpose = "phone"

// PhoneEncryptor seals phone numbers at rest. encryption.EncryptionManager implements it.
type PhoneEncryptor interface {
	EncryptString(ctx context.Context, plaintext, keyPurpose string) (string, error)
	DecryptString(ctx context.Context, stored string) (string, error)
}

// VerifyOTPInput is what a client presents to prove it received the code.
type VerifyOTPInput struct {
	PhoneNumber string
	Code        string
	RequestID   string
}

// OTPService issues and checks one-time codes, either itself or through an
// external verification provider.
type OTPService struct {
	store     repository.ChallengeStore
	hasher    *hashing.Hasher
	encryptor PhoneEncryptor
	verifier  sms.Verifier
	sender    sms.Sender
	throttle  repository.PhoneThrottle
	logger    *zap.Logger

	mode          string
	ttl           time.Duration
	length        int
	exposeDevCode bool
	resendWindow  time.Duration

	now      func() time.Time
	generate func(length int) (string, error)
}

// NewOTPService wires the issuer. verifier is required in twilio mode; sender,
// throttle and encryptor may be nil.
func NewOTPService(
	cfg *config.Config,
	store repository.ChallengeStore,
	hasher *hashing.Hasher,
	encryptor PhoneEncryptor,
	verifier sms.Verifier,
	sender sms.Sender,
	throttle repository.PhoneThrottle,
	logger *zap.Logger,
) (*OTPService, error) {
	if cfg.OTP.Mode == config.OTPModeTwilio && verifier == nil {
		return nil, fmt.Errorf("%w: twilio OTP mode without a verifier", ErrConfiguration)
	}

	length := cfg.OTP.Length
	if length <= 0 {
		length = 6
	}
	ttl := cfg.OTP.TTL
	if ttl <= 0 {
		ttl = config.DefaultOTPTTL
	}

	return &OTPService{
		store:         store,
		hasher:        hasher,
		encryptor:     encryptor,
		verifier:      verifier,
		sender:        sender,
		throttle:      throttle,
		logger:        logger,
		mode:          cfg.OTP.Mode,
		ttl:           ttl,
		length:        length,
		exposeDevCode: cfg.ExposeDevCode(),
		resendWindow:  cfg.OTP.ResendWindow,
		now:           time.Now,
		generate:      generateCode,
	}, nil
}

// Mode reports self or twilio.
func (s *OTPService) Mode() string {
	return s.mode
}

// HashPhone is the lookup key for a normalized phone number.
func HashPhone(phoneNumber string) string {
	sum := sha256.Sum256([]byte(phoneNumber))
	return hex.EncodeToString(sum[:])
}

// generateCode draws each digit uniformly from crypto/rand.
func generateCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// RequestChallenge creates a challenge for phoneNumber and returns its request id.
func (s *OTPService) RequestChallenge(ctx context.Context, phoneNumber string) (*model.OTPChallenge, error) {
	phone, err := util.NormalizePhone(phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	phoneHash := HashPhone(phone)

	if s.throttle != nil && s.resendWindow > 0 {
		ok, wait, err := s.throttle.Allow(ctx, phoneHash, s.resendWindow)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &RateLimitError{RetryAfter: wait}
		}
	}

	var encrypted string
	if s.encryptor != nil {
		if encrypted, err = s.encryptor.EncryptString(ctx, phone, phoneKeyPurpose); err != nil {
			return nil, fmt.Errorf("failed to encrypt phone number: %w", err)
		}
	}

	now := s.now().UTC()
	challenge := &model.VerificationChallenge{
		PhoneHash:      phoneHash,
		PhoneEncrypted: encrypted,
		TTLSeconds:     int(s.ttl / time.Second),
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}

	var code string
	if s.mode == config.OTPModeTwilio {
		verification, err := s.verifier.Start(ctx, phone)
		if err != nil {
			return nil, err
		}
		challenge.RequestID = verification.SID
		challenge.CodeHash = model.ProviderManagedHash
		challenge.Provider = model.ProviderTwilio
	} else {
		if code, err = s.generate(s.length); err != nil {
			return nil, err
		}
		if challenge.CodeHash, err = s.hasher.HashOTP(code); err != nil {
			return nil, fmt.Errorf("failed to hash code: %w", err)
		}
		challenge.RequestID = uuid.NewString()
		challenge.Provider = model.ProviderSelf
	}

	if err := s.store.UpsertChallenge(ctx, challenge); err != nil {
		return nil, err
	}

	if code != "" {
		if err := s.deliver(ctx, phone, code); err != nil {
			_ = s.store.DeleteChallenge(ctx, challenge.RequestID)
			return nil, err
		}
	}

	s.logger.Info("OTP challenge issued",
		zap.String("request_id", challenge.RequestID),
		zap.String("provider", challenge.Provider),
		util.Phone("phone", phone))

	result := &model.OTPChallenge{
		RequestID: challenge.RequestID,
		ExpiresIn: challenge.TTLSeconds,
	}
	if s.exposeDevCode {
		result.DevCode = code
	}
	return result, nil
}

func (s *OTPService) deliver(ctx context.Context, phone, code string) error {
	if s.sender == nil {
		s.logger.Warn("No SMS sender configured, code not delivered", util.Phone("phone", phone))
		return nil
	}
	body := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.ttl.Minutes()))
	return s.sender.Send(ctx, phone, body)
}

// VerifyChallenge checks code for the challenge and consumes it on success.
// Wrong phone and unknown request id both report ErrNotFound.
func (s *OTPService) VerifyChallenge(ctx context.Context, in VerifyOTPInput) error {
	phone, err := util.NormalizePhone(in.PhoneNumber)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := util.ValidateOTPCode(in.Code); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if s.mode == config.OTPModeTwilio {
		return s.verifyWithProvider(ctx, phone, in.Code)
	}

	if in.RequestID == "" {
		return fmt.Errorf("%w: requestId is required", ErrMalformed)
	}

	challenge, err := s.store.GetChallenge(ctx, in.RequestID)
	if err != nil {
		if errors.Is(err, model.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if challenge.PhoneHash != HashPhone(phone) {
		return ErrNotFound
	}

	if challenge.Expired(s.now()) {
		if err := s.store.DeleteChallenge(ctx, challenge.RequestID); err != nil {
			s.logger.Warn("Failed to delete expired challenge",
				zap.String("request_id", challenge.RequestID), zap.Error(err))
		}
		return ErrExpired
	}

	if challenge.CodeHash == model.ProviderManagedHash {
		return ErrInvalid
	}

	ok, err := s.hasher.VerifyOTP(in.Code, challenge.CodeHash)
	if err != nil {
		s.logger.Warn("Stored code hash cannot be verified",
			zap.String("request_id", challenge.RequestID), zap.Error(err))
		return ErrInvalid
	}
	if !ok {
		return ErrInvalid
	}

	return s.store.DeleteChallenge(ctx, challenge.RequestID)
}

func (s *OTPService) verifyWithProvider(ctx context.Context, phone, code string) error {
	verification, err := s.verifier.Check(ctx, phone, code)
	if err != nil {
		if errors.Is(err, sms.ErrNotApproved) {
			return ErrInvalid
		}
		return err
	}

	if verification != nil && verification.SID != "" {
		if err := s.store.DeleteChallenge(ctx, verification.SID); err != nil {
			s.logger.Warn("Failed to delete provider placeholder",
				zap.String("request_id", verification.SID), zap.Error(err))
		}
	}
	return nil
}
