package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"food-auth-service/internal/util"
)

const (
	DefaultAccessTTL  = 900 * time.Second
	DefaultRefreshTTL = 30 * 24 * time.Hour
	DefaultOTPTTL     = 300 * time.Second

	OTPModeSelf   = "self"
	OTPModeTwilio = "twilio"

	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendScylla = "scylla"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Store         StoreConfig
	Auth          AuthConfig
	OTP           OTPConfig
	Twilio        TwilioConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers []string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
	CAFile   string
	MaxConns int
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
	// Endpoint overrides the KMS endpoint, for LocalStack.
	Endpoint string
	// MasterKey wraps data keys when KMS is disabled (base64, 32 bytes).
	MasterKey string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	// Peppers are ordered oldest first; the last one hashes new values.
	Peppers []string
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

// StoreConfig picks the credential and user store backends.
type StoreConfig struct {
	Backend          string
	UserBackend      string
	SessionRetention time.Duration
}

type AuthConfig struct {
	JWTSecret         string
	JWTPrivateKeyFile string
	JWTPublicKeyFile  string
	Issuer            string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
}

type OTPConfig struct {
	Mode          string
	TTL           time.Duration
	Length        int
	ExposeDevCode bool
	ResendWindow  time.Duration
}

type TwilioConfig struct {
	AccountSID       string
	AuthToken        string
	VerifyServiceSID string
	FromNumber       string
}

type RateLimitConfig struct {
	OTPRequestsPerMinute    int
	VerifyRequestsPerMinute int
}

type AuditConfig struct {
	Enabled         bool
	Topic           string
	ConsumerGroup   string
	ESIndex         string
	ClickhouseTable string
	JanitorInterval time.Duration
}

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		util.Debug("No .env file loaded", util.ErrorField(err))
	}

	cfg := &Config{
		Environment: util.GetEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:         util.GetEnv("SERVER_HOST", "0.0.0.0"),
			Port:         util.GetEnvInt("SERVER_PORT", 8080),
			TLSPort:      util.GetEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    util.GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     util.GetEnvBool("SERVER_AUTO_CERT", false),
			Domain:       util.GetEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     util.GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      util.GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  util.GetEnv("SERVER_AUTOCERT_DIR", "./certs"),
			Email:        util.GetEnv("SERVER_CERT_EMAIL", ""),
			ReadTimeout:  util.ParseTTL(util.GetEnv("SERVER_READ_TIMEOUT", ""), 15*time.Second),
			WriteTimeout: util.ParseTTL(util.GetEnv("SERVER_WRITE_TIMEOUT", ""), 15*time.Second),
			IdleTimeout:  util.ParseTTL(util.GetEnv("SERVER_IDLE_TIMEOUT", ""), 60*time.Second),
			CORSOrigins:  util.GetEnvList("CORS_ALLOWED_ORIGINS", []string{"https://*", "http://localhost:*"}),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    util.GetEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: util.GetEnv("SCYLLA_KEYSPACE", "food_auth"),
			Username: util.GetEnv("SCYLLA_USERNAME", ""),
			Password: util.GetEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers: util.GetEnvList("KAFKA_BROKERS", nil),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      util.GetEnv("ELASTICSEARCH_URL", ""),
			Username: util.GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password: util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
		},
		Clickhouse: ClickhouseConfig{
			URL:      util.GetEnv("CLICKHOUSE_URL", ""),
			Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "food_auth"),
			CAFile:   util.GetEnv("CLICKHOUSE_CA_FILE", ""),
			MaxConns: util.GetEnvInt("CLICKHOUSE_MAX_CONNS", 8),
		},
		KMS: KMSConfig{
			Enabled:   util.GetEnvBool("KMS_ENABLED", false),
			KeyID:     util.GetEnv("KMS_KEY_ID", ""),
			Region:    util.GetEnv("AWS_REGION", "ap-south-1"),
			Endpoint:  util.GetEnv("KMS_ENDPOINT", ""),
			MasterKey: util.GetEnv("ENCRYPTION_MASTER_KEY", ""),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  util.GetEnvInt("ARGON2_MEMORY_KB", 19*1024),
			Argon2TimeCost:    util.GetEnvInt("ARGON2_TIME_COST", 2),
			Argon2Parallelism: util.GetEnvInt("ARGON2_PARALLELISM", 1),
			Peppers:           util.GetEnvList("HASHING_PEPPERS", nil),
		},
		Bucketing: BucketingConfig{
			UserBuckets:  util.GetEnvInt("USER_BUCKETS", 256),
			EventBuckets: util.GetEnvInt("EVENT_BUCKETS", 64),
		},
		Store: StoreConfig{
			Backend:          strings.ToLower(util.GetEnv("STORE_BACKEND", BackendMemory)),
			UserBackend:      strings.ToLower(util.GetEnv("USER_STORE_BACKEND", BackendMemory)),
			SessionRetention: util.ParseTTL(util.GetEnv("SESSION_RETENTION", ""), 24*time.Hour),
		},
		Auth: AuthConfig{
			JWTSecret:         util.GetEnv("JWT_ACCESS_SECRET", ""),
			JWTPrivateKeyFile: util.GetEnv("JWT_PRIVATE_KEY_FILE", ""),
			JWTPublicKeyFile:  util.GetEnv("JWT_PUBLIC_KEY_FILE", ""),
			Issuer:            util.GetEnv("JWT_ISSUER", "food-auth-service"),
			AccessTTL:         util.ParseTTL(util.GetEnv("JWT_ACCESS_TTL", ""), DefaultAccessTTL),
			RefreshTTL:        util.ParseTTL(util.GetEnv("JWT_REFRESH_TTL", ""), DefaultRefreshTTL),
		},
		OTP: OTPConfig{
			Mode:          strings.ToLower(util.GetEnv("OTP_MODE", OTPModeSelf)),
			TTL:           util.ParseTTL(util.GetEnv("OTP_TTL", util.GetEnv("OTP_TTL_SECONDS", "")), DefaultOTPTTL),
			Length:        util.GetEnvInt("OTP_LENGTH", 6),
			ExposeDevCode: util.GetEnvBool("OTP_EXPOSE_DEV_CODE", false),
			ResendWindow:  parseOptionalDuration(util.GetEnv("OTP_RESEND_WINDOW", "")),
		},
		Twilio: TwilioConfig{
			AccountSID:       util.GetEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:        util.GetEnv("TWILIO_AUTH_TOKEN", ""),
			VerifyServiceSID: util.GetEnv("TWILIO_VERIFY_SERVICE_SID", ""),
			FromNumber:       util.GetEnv("TWILIO_FROM_NUMBER", ""),
		},
		RateLimit: RateLimitConfig{
			OTPRequestsPerMinute:    util.GetEnvInt("RATE_LIMIT_OTP_PER_MINUTE", 5),
			VerifyRequestsPerMinute: util.GetEnvInt("RATE_LIMIT_VERIFY_PER_MINUTE", 10),
		},
		Audit: AuditConfig{
			Enabled:         util.GetEnvBool("AUDIT_ENABLED", false),
			Topic:           util.GetEnv("AUTH_EVENTS_TOPIC", "auth-events"),
			ConsumerGroup:   util.GetEnv("AUTH_EVENTS_GROUP", "auth-audit-worker"),
			ESIndex:         util.GetEnv("AUTH_EVENTS_INDEX", "auth-events"),
			ClickhouseTable: util.GetEnv("AUTH_EVENTS_TABLE", "security_events"),
			JanitorInterval: parseOptionalDuration(util.GetEnv("JANITOR_INTERVAL", "")),
		},
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg
}

// parseOptionalDuration treats an empty value as disabled.
func parseOptionalDuration(value string) time.Duration {
	if value == "" || value == "0" {
		return 0
	}
	return util.ParseTTL(value, 0)
}

// Get returns the last loaded configuration, loading it on first use.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "local" || c.Environment == "test"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// TwilioVerifyConfigured reports whether every Verify credential is present.
func (c *Config) TwilioVerifyConfigured() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" && c.Twilio.VerifyServiceSID != ""
}

// TwilioMessagingConfigured reports whether self-issued codes can be sent by SMS.
func (c *Config) TwilioMessagingConfigured() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" && c.Twilio.FromNumber != ""
}

// ExposeDevCode is true only when explicitly enabled outside production.
func (c *Config) ExposeDevCode() bool {
	return c.OTP.ExposeDevCode && !c.IsProduction()
}

// Validate reports configuration that must stop startup.
func (c *Config) Validate() error {
	var errs []error

	switch c.OTP.Mode {
	case OTPModeSelf:
	case OTPModeTwilio:
		if !c.TwilioVerifyConfigured() {
			errs = append(errs, errors.New("OTP_MODE=twilio requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_VERIFY_SERVICE_SID"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown OTP_MODE %q", c.OTP.Mode))
	}

	if c.OTP.Length < 4 || c.OTP.Length > 8 {
		errs = append(errs, fmt.Errorf("OTP_LENGTH must be between 4 and 8, got %d", c.OTP.Length))
	}

	if c.IsProduction() {
		if c.OTP.ExposeDevCode {
			errs = append(errs, errors.New("OTP_EXPOSE_DEV_CODE must not be set in production"))
		}
		if c.Auth.JWTSecret == "" && c.Auth.JWTPrivateKeyFile == "" {
			errs = append(errs, errors.New("JWT_ACCESS_SECRET or JWT_PRIVATE_KEY_FILE is required in production"))
		}
		if len(c.Hashing.Peppers) == 0 {
			errs = append(errs, errors.New("HASHING_PEPPERS is required in production"))
		}
		if c.Store.Backend == BackendMemory {
			errs = append(errs, errors.New("STORE_BACKEND=memory is not allowed in production"))
		}
		if c.Store.UserBackend == BackendMemory {
			errs = append(errs, errors.New("USER_STORE_BACKEND=memory is not allowed in production"))
		}
	}

	for _, backend := range []string{c.Store.Backend, c.Store.UserBackend} {
		switch backend {
		case BackendMemory, BackendRedis, BackendScylla:
		default:
			errs = append(errs, fmt.Errorf("unknown store backend %q", backend))
		}
	}
	if c.Store.UserBackend == BackendRedis {
		errs = append(errs, errors.New("USER_STORE_BACKEND supports memory or scylla"))
	}

	if c.KMS.Enabled && c.KMS.KeyID == "" {
		errs = append(errs, errors.New("KMS_ENABLED requires KMS_KEY_ID"))
	}

	if c.Audit.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("AUDIT_ENABLED requires KAFKA_BROKERS"))
	}

	return errors.Join(errs...)
}
