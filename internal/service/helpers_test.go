package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"food-auth-service/internal/config"
	"food-auth-service/internal/hashing"
	"food-auth-service/internal/metrics"
	"food-auth-service/internal/model"
	"food-auth-service/internal/repository/memory"
	"food-auth-service/internal/sms"
	"food-auth-service/internal/token"
)

const testPhone = "+919876543210"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.AuthEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event model.AuthEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeVerifier struct {
	sid      string
	approved string
	checked  int
}

func (v *fakeVerifier) Start(context.Context, string) (*sms.Verification, error) {
	return &sms.Verification{SID: v.sid, Status: "pending"}, nil
}

func (v *fakeVerifier) Check(_ context.Context, _ string, code string) (*sms.Verification, error) {
	v.checked++
	if code != v.approved {
		return &sms.Verification{SID: v.sid, Status: "pending"}, sms.ErrNotApproved
	}
	return &sms.Verification{SID: v.sid, Status: "approved"}, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent map[string]string
}

func (s *fakeSender) Send(_ context.Context, phone, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = map[string]string{}
	}
	s.sent[phone] = body
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  64,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Peppers:           []string{"test-pepper"},
		},
		Auth: config.AuthConfig{
			JWTSecret:  "test-signing-secret",
			Issuer:     "food-auth-service",
			AccessTTL:  config.DefaultAccessTTL,
			RefreshTTL: config.DefaultRefreshTTL,
		},
		OTP: config.OTPConfig{
			Mode:          config.OTPModeSelf,
			TTL:           config.DefaultOTPTTL,
			Length:        6,
			ExposeDevCode: true,
		},
	}
}

type testEnv struct {
	cfg       *config.Config
	clock     *fakeClock
	store     *memory.Store
	tokens    *token.Manager
	otp       *OTPService
	sessions  *SessionService
	users     *UserService
	auth      *AuthService
	publisher *recordingPublisher
	metrics   *metrics.Metrics
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	clock := newFakeClock()
	store := memory.NewStore()
	store.SetClock(clock.Now)
	tokens, err := token.NewManager(cfg.Auth)
	require.NoError(t, err)

	publisher := &recordingPublisher{}
	factory := NewServiceFactory(Dependencies{
		Config:      cfg,
		Credentials: store,
		Users:       store,
		Throttle:    store,
		Hasher:      hashing.NewHasher(cfg),
		Tokens:      tokens,
		Sender:      &fakeSender{},
		Publisher:   publisher,
		Metrics:     metrics.New(),
		Logger:      zaptest.NewLogger(t),
	})

	auth, err := factory.AuthService()
	require.NoError(t, err)
	otp, err := factory.OTPService()
	require.NoError(t, err)

	env := &testEnv{
		cfg:       cfg,
		clock:     clock,
		store:     store,
		tokens:    tokens,
		otp:       otp,
		sessions:  factory.SessionService(),
		users:     factory.UserService(),
		auth:      auth,
		publisher: publisher,
		metrics:   factory.deps.Metrics,
	}
	env.otp.now = clock.Now
	env.sessions.now = clock.Now
	env.users.now = clock.Now
	return env
}
