package service

import (
	"sync"

	"go.uber.org/zap"

	"food-auth-service/internal/config"
	"food-auth-service/internal/events"
	"food-auth-service/internal/hashing"
	"food-auth-service/internal/metrics"
	"food-auth-service/internal/repository"
	"food-auth-service/internal/sms"
)

// Dependencies are the collaborators the services are built from.
// Verifier, Sender, Throttle, Encryptor, Publisher and Metrics are optional.
type Dependencies struct {
	Config      *config.Config
	Credentials repository.CredentialStore
	Users       repository.UserStore
	Throttle    repository.PhoneThrottle
	Hasher      *hashing.Hasher
	Encryptor   PhoneEncryptor
	Tokens      AccessTokens
	Verifier    sms.Verifier
	Sender      sms.Sender
	Publisher   events.Publisher
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	deps Dependencies

	mu             sync.Mutex
	userService    *UserService
	otpService     *OTPService
	sessionService *SessionService
	authService    *AuthService
}

func NewServiceFactory(deps Dependencies) *ServiceFactory {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &ServiceFactory{deps: deps}
}

// UserService returns the user service instance (singleton)
func (f *ServiceFactory) UserService() *UserService {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userServiceLocked()
}

func (f *ServiceFactory) userServiceLocked() *UserService {
	if f.userService == nil {
		f.userService = NewUserService(f.deps.Users, f.deps.Encryptor, f.deps.Logger.Named("users"))
	}
	return f.userService
}

func (f *ServiceFactory) SessionService() *SessionService {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionServiceLocked()
}

func (f *ServiceFactory) sessionServiceLocked() *SessionService {
	if f.sessionService == nil {
		f.sessionService = NewSessionService(
			f.deps.Credentials,
			f.deps.Hasher,
			f.deps.Tokens,
			f.userServiceLocked(),
			f.deps.Config.Auth.RefreshTTL,
			f.deps.Logger.Named("sessions"),
		)
	}
	return f.sessionService
}

func (f *ServiceFactory) OTPService() (*OTPService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.otpServiceLocked()
}

func (f *ServiceFactory) otpServiceLocked() (*OTPService, error) {
	if f.otpService == nil {
		svc, err := NewOTPService(
			f.deps.Config,
			f.deps.Credentials,
			f.deps.Hasher,
			f.deps.Encryptor,
			f.deps.Verifier,
			f.deps.Sender,
			f.deps.Throttle,
			f.deps.Logger.Named("otp"),
		)
		if err != nil {
			return nil, err
		}
		f.otpService = svc
	}
	return f.otpService, nil
}

// AuthService returns the orchestrator, building its collaborators on first use.
func (f *ServiceFactory) AuthService() (*AuthService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.authService == nil {
		otp, err := f.otpServiceLocked()
		if err != nil {
			return nil, err
		}
		f.authService = NewAuthService(
			otp,
			f.sessionServiceLocked(),
			f.userServiceLocked(),
			f.deps.Publisher,
			f.deps.Metrics,
			f.deps.Logger.Named("auth"),
		)
	}
	return f.authService, nil
}
