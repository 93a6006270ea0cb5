package sms

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	verify "github.com/twilio/twilio-go/rest/verify/v2"
	"go.uber.org/zap"
)

type fakeVerifyAPI struct {
	startErr    error
	checkStatus string
	checkErr    error
	lastService string
}

func strPtr(s string) *string { return &s }

func (f *fakeVerifyAPI) CreateVerification(serviceSid string, params *verify.CreateVerificationParams) (*verify.VerifyV2Verification, error) {
	f.lastService = serviceSid
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &verify.VerifyV2Verification{Sid: strPtr("VE123"), Status: strPtr("pending")}, nil
}

func (f *fakeVerifyAPI) CreateVerificationCheck(serviceSid string, params *verify.CreateVerificationCheckParams) (*verify.VerifyV2VerificationCheck, error) {
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return &verify.VerifyV2VerificationCheck{Sid: strPtr("VE123"), Status: strPtr(f.checkStatus)}, nil
}

func TestTwilioVerifierStart(t *testing.T) {
	api := &fakeVerifyAPI{}
	v := NewTwilioVerifierWithAPI(api, "VA1", zap.NewNop())

	got, err := v.Start(context.Background(), "+919876543210")
	require.NoError(t, err)
	assert.Equal(t, "VE123", got.SID)
	assert.Equal(t, "VA1", api.lastService)

	api.startErr = errors.New("boom")
	_, err = v.Start(context.Background(), "+919876543210")
	assert.ErrorIs(t, err, ErrProvider)
}

func TestTwilioVerifierCheck(t *testing.T) {
	tests := []struct {
		name    string
		api     *fakeVerifyAPI
		wantErr error
	}{
		{name: "approved", api: &fakeVerifyAPI{checkStatus: "approved"}},
		{name: "pending", api: &fakeVerifyAPI{checkStatus: "pending"}, wantErr: ErrNotApproved},
		{name: "provider 404", api: &fakeVerifyAPI{checkErr: errors.New("404")}, wantErr: ErrNotApproved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewTwilioVerifierWithAPI(tt.api, "VA1", zap.NewNop())
			got, err := v.Check(context.Background(), "+919876543210", "123456")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "VE123", got.SID)
		})
	}
}

type fakeMessagesAPI struct {
	params *twilioApi.CreateMessageParams
	err    error
}

func (f *fakeMessagesAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &twilioApi.ApiV2010Message{Sid: strPtr("SM1")}, nil
}

func TestTwilioSender(t *testing.T) {
	api := &fakeMessagesAPI{}
	s := NewTwilioSenderWithAPI(api, "+15550001111", zap.NewNop())

	require.NoError(t, s.Send(context.Background(), "+919876543210", "code 123456"))
	require.NotNil(t, api.params)
	assert.Equal(t, "+919876543210", *api.params.To)
	assert.Equal(t, "+15550001111", *api.params.From)

	api.err = errors.New("rejected")
	assert.ErrorIs(t, s.Send(context.Background(), "+919876543210", "x"), ErrProvider)
}

func TestSendHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewTwilioSenderWithAPI(&fakeMessagesAPI{}, "+1", zap.NewNop())
	assert.ErrorIs(t, s.Send(ctx, "+919876543210", "x"), context.Canceled)
}
