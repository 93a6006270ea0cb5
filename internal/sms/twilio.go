package sms

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	verify "github.com/twilio/twilio-go/rest/verify/v2"
	"go.uber.org/zap"

	"food-auth-service/internal/config"
	"food-auth-service/internal/util"
)

const statusApproved = "approved"

var (
	// ErrNotApproved means the provider rejected the code.
	ErrNotApproved = errors.New("verification not approved")
	ErrProvider    = errors.New("sms provider failure")
)

// Verification is the provider-side record created for a phone number.
type Verification struct {
	SID    string
	Status string
}

// Verifier delegates code generation and checking to an external provider.
type Verifier interface {
	Start(ctx context.Context, phoneNumber string) (*Verification, error)
	Check(ctx context.Context, phoneNumber, code string) (*Verification, error)
}

// Sender delivers a self-issued code.
type Sender interface {
	Send(ctx context.Context, phoneNumber, body string) error
}

// VerifyAPI is the subset of the Twilio Verify v2 client used here.
type VerifyAPI interface {
	CreateVerification(serviceSid string, params *verify.CreateVerificationParams) (*verify.VerifyV2Verification, error)
	CreateVerificationCheck(serviceSid string, params *verify.CreateVerificationCheckParams) (*verify.VerifyV2VerificationCheck, error)
}

// MessagesAPI is the subset of the Twilio REST client used to send SMS.
type MessagesAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

func newRestClient(cfg config.TwilioConfig) *twilio.RestClient {
	return twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
}

// TwilioVerifier implements Verifier on Twilio Verify.
type TwilioVerifier struct {
	api        VerifyAPI
	serviceSID string
	logger     *zap.Logger
}

func NewTwilioVerifier(cfg config.TwilioConfig, logger *zap.Logger) *TwilioVerifier {
	return NewTwilioVerifierWithAPI(newRestClient(cfg).VerifyV2, cfg.VerifyServiceSID, logger)
}

func NewTwilioVerifierWithAPI(api VerifyAPI, serviceSID string, logger *zap.Logger) *TwilioVerifier {
	return &TwilioVerifier{api: api, serviceSID: serviceSID, logger: logger}
}

func (v *TwilioVerifier) Start(ctx context.Context, phoneNumber string) (*Verification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := &verify.CreateVerificationParams{}
	params.SetTo(phoneNumber)
	params.SetChannel("sms")

	resp, err := v.api.CreateVerification(v.serviceSID, params)
	if err != nil {
		v.logger.Error("Twilio verification start failed", util.Phone("phone", phoneNumber), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if resp.Sid == nil {
		return nil, fmt.Errorf("%w: verification without sid", ErrProvider)
	}

	return &Verification{SID: *resp.Sid, Status: deref(resp.Status)}, nil
}

func (v *TwilioVerifier) Check(ctx context.Context, phoneNumber, code string) (*Verification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := &verify.CreateVerificationCheckParams{}
	params.SetTo(phoneNumber)
	params.SetCode(code)

	resp, err := v.api.CreateVerificationCheck(v.serviceSID, params)
	if err != nil {
		// Twilio answers 404 once a verification is approved, expired or exhausted.
		v.logger.Warn("Twilio verification check failed", util.Phone("phone", phoneNumber), zap.Error(err))
		return nil, ErrNotApproved
	}

	result := &Verification{SID: deref(resp.Sid), Status: deref(resp.Status)}
	if result.Status != statusApproved {
		return result, ErrNotApproved
	}
	return result, nil
}

// TwilioSender implements Sender on the Twilio Messages API.
type TwilioSender struct {
	api        MessagesAPI
	fromNumber string
	logger     *zap.Logger
}

func NewTwilioSender(cfg config.TwilioConfig, logger *zap.Logger) *TwilioSender {
	return NewTwilioSenderWithAPI(newRestClient(cfg).Api, cfg.FromNumber, logger)
}

func NewTwilioSenderWithAPI(api MessagesAPI, fromNumber string, logger *zap.Logger) *TwilioSender {
	return &TwilioSender{api: api, fromNumber: fromNumber, logger: logger}
}

func (s *TwilioSender) Send(ctx context.Context, phoneNumber, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(phoneNumber)
	params.SetFrom(s.fromNumber)
	params.SetBody(body)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("%w: failed to send SMS: %v", ErrProvider, err)
	}

	s.logger.Debug("SMS queued", util.Phone("phone", phoneNumber), zap.String("sid", deref(resp.Sid)))
	return nil
}

// LogSender writes codes to the log instead of sending them. Development only.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, phoneNumber, body string) error {
	s.logger.Debug("Development SMS", util.Phone("phone", phoneNumber), zap.String("body", body))
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
