package factory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"food-auth-service/internal/bucketing"
	"food-auth-service/internal/client"
	"food-auth-service/internal/config"
	"food-auth-service/internal/encryption"
	"food-auth-service/internal/events"
	"food-auth-service/internal/hashing"
	"food-auth-service/internal/metrics"
	"food-auth-service/internal/repository"
	"food-auth-service/internal/repository/memory"
	redisstore "food-auth-service/internal/repository/redis"
	"food-auth-service/internal/repository/scylla"
	"food-auth-service/internal/service"
	"food-auth-service/internal/sms"
	"food-auth-service/internal/tls"
	"food-auth-service/internal/token"
	"food-auth-service/internal/util"
)

const initTimeout = 30 * time.Second

type healthCheck func(ctx context.Context) error

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager
	tokens            *token.Manager
	metrics           *metrics.Metrics

	// Stores
	credentials repository.CredentialStore
	users       repository.UserStore
	throttle    repository.PhoneThrottle
	pruner      repository.Pruner

	publisher      events.Publisher
	serviceFactory *service.ServiceFactory

	checks map[string]healthCheck

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and builds everything the HTTP server needs.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	return New(cfg)
}

// New builds the factory from an already loaded configuration.
func New(cfg *config.Config) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{
		config: cfg,
		checks: make(map[string]healthCheck),
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	if err := f.initializeClients(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.initializeManagers(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}
	f.initializeStores()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store_backend", cfg.Store.Backend),
		util.String("user_backend", cfg.Store.UserBackend),
		util.String("otp_mode", cfg.OTP.Mode),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("audit_enabled", cfg.Audit.Enabled),
	)

	return f, nil
}

func (f *Factory) usesBackend(backend string) bool {
	return f.config.Store.Backend == backend || f.config.Store.UserBackend == backend
}

// initializeClients connects only the infrastructure the configured backends use.
func (f *Factory) initializeClients(ctx context.Context) error {
	logger := util.Get()

	if f.usesBackend(config.BackendRedis) {
		redisClient, err := client.NewRedisClient(f.config, logger)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = redisClient
		f.checks["redis"] = redisClient.HealthCheck
		util.Info("Redis client initialized")
	}

	if f.usesBackend(config.BackendScylla) {
		scyllaClient, err := scylla.NewScyllaClient(f.config, logger)
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = scyllaClient
		if err := scyllaClient.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("scylla schema: %w", err)
		}
		f.checks["scylla"] = scyllaClient.HealthCheck
		util.Info("ScyllaDB client initialized")
	}

	if f.config.Audit.Enabled {
		producer, err := client.NewKafkaProducer(f.config, logger)
		if err != nil {
			if f.config.IsProduction() {
				return fmt.Errorf("kafka: %w", err)
			}
			util.Warn("Kafka producer initialization failed - proceeding without audit events", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, bucketing and token managers
func (f *Factory) initializeManagers(ctx context.Context) error {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)
	f.metrics = metrics.New()

	var kmsAPI encryption.KMSAPI
	if f.config.KMS.Enabled {
		kmsClient, err := client.NewKMSClient(ctx, f.config, util.Get())
		if err != nil {
			return fmt.Errorf("kms: %w", err)
		}
		kmsAPI = kmsClient
	}

	encryptionManager, err := encryption.NewEncryptionManager(f.config, kmsAPI)
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}
	f.encryptionManager = encryptionManager

	tokens, err := token.NewManager(f.config.Auth)
	if err != nil {
		return fmt.Errorf("token manager: %w", err)
	}
	f.tokens = tokens

	util.Info("Managers initialized successfully",
		util.Int("pepper_version", f.hasher.CurrentPepperVersion()),
	)
	return nil
}

func (f *Factory) initializeStores() {
	retention := f.config.Store.SessionRetention

	var local *memory.Store
	inProcess := func() *memory.Store {
		if local == nil {
			local = memory.NewStore()
		}
		return local
	}

	switch f.config.Store.Backend {
	case config.BackendRedis:
		store := redisstore.NewStore(f.redisClient, retention)
		f.credentials, f.pruner = store, store
		f.throttle = redisstore.NewPhoneThrottle(f.redisClient)
	case config.BackendScylla:
		store := scylla.NewCredentialStore(f.scyllaClient, f.bucketingManager, retention)
		f.credentials, f.pruner = store, store
	default:
		store := inProcess()
		f.credentials, f.pruner = store, store
	}
	f.checks["credential_store"] = f.credentials.HealthCheck

	if f.throttle == nil {
		if f.config.OTP.ResendWindow > 0 && f.config.IsProduction() {
			util.Warn("Phone throttle is per-process with this store backend")
		}
		f.throttle = inProcess()
	}

	switch f.config.Store.UserBackend {
	case config.BackendScylla:
		f.users = scylla.NewUserRepository(f.scyllaClient, f.bucketingManager)
	default:
		f.users = inProcess()
	}
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		logger := util.Get()
		f.serviceFactory = service.NewServiceFactory(service.Dependencies{
			Config:      f.config,
			Credentials: f.credentials,
			Users:       f.users,
			Throttle:    f.throttle,
			Hasher:      f.hasher,
			Encryptor:   f.encryptionManager,
			Tokens:      f.tokens,
			Verifier:    f.verifier(logger),
			Sender:      f.sender(logger),
			Publisher:   f.Publisher(),
			Metrics:     f.metrics,
			Logger:      logger,
		})
	}
	return f.serviceFactory
}

func (f *Factory) verifier(logger *zap.Logger) sms.Verifier {
	if f.config.OTP.Mode != config.OTPModeTwilio {
		return nil
	}
	return sms.NewTwilioVerifier(f.config.Twilio, logger.Named("twilio_verify"))
}

func (f *Factory) sender(logger *zap.Logger) sms.Sender {
	switch {
	case f.config.OTP.Mode != config.OTPModeSelf:
		return nil
	case f.config.TwilioMessagingConfigured():
		return sms.NewTwilioSender(f.config.Twilio, logger.Named("twilio_sms"))
	case !f.config.IsProduction():
		return sms.NewLogSender(logger.Named("dev_sms"))
	default:
		return nil
	}
}

// Publisher returns the Kafka audit publisher, or a no-op one when audit is off.
func (f *Factory) Publisher() events.Publisher {
	if f.publisher == nil {
		if f.kafkaProducer != nil {
			f.publisher = events.NewKafkaPublisher(f.kafkaProducer, f.config.Audit.Topic, util.Get().Named("events"))
		} else {
			f.publisher = events.NoopPublisher{}
		}
	}
	return f.publisher
}

// ==============================
// Audit worker
// ==============================

// AuditProcessor connects the consumer and both sinks and returns the processor
// that drains auth events into them.
func (f *Factory) AuditProcessor(ctx context.Context) (*events.Processor, error) {
	logger := util.Get()
	audit := f.config.Audit

	consumer, err := client.NewKafkaConsumer(f.config, audit.Topic, audit.ConsumerGroup, logger)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	f.kafkaConsumer = consumer

	chClient, err := client.NewClickHouseClient(f.config, logger)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: %w", err)
	}
	f.clickhouseClient = chClient
	f.checks["clickhouse"] = chClient.HealthCheck

	esClient, err := client.NewElasticsearchClient(f.config, logger)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: %w", err)
	}
	f.esClient = esClient
	f.checks["elasticsearch"] = esClient.HealthCheck

	chSink := events.NewClickHouseSink(chClient, audit.ClickhouseTable, f.bucketingManager)
	if err := chSink.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse table: %w", err)
	}

	sinks := []events.Sink{
		chSink,
		events.NewElasticsearchSink(esClient, audit.ESIndex),
	}
	return events.NewProcessor(consumer, sinks, logger.Named("audit")), nil
}

// Janitor returns the expired-row sweeper for the configured credential store.
func (f *Factory) Janitor() *service.Janitor {
	return service.NewJanitor(f.pruner, f.config.Audit.JanitorInterval, f.config.Store.SessionRetention, util.Get().Named("janitor"))
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)
	for name, check := range f.checks {
		if err := check(ctx); err != nil {
			healthErrors[name] = err
		}
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}
	return healthErrors
}

// Ready reports every failing dependency except Kafka, which only carries audit events.
func (f *Factory) Ready(ctx context.Context) error {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")

	names := make([]string, 0, len(healthErrors))
	for name := range healthErrors {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%s: %w", name, healthErrors[name]))
	}
	return errors.Join(errs...)
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.publisher != nil {
			if err := f.publisher.Close(); err != nil {
				util.Error("Failed to close event publisher", util.ErrorField(err))
			}
		} else if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.kafkaConsumer != nil {
			if err := f.kafkaConsumer.Close(); err != nil {
				util.Error("Failed to close Kafka consumer", util.ErrorField(err))
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Metrics() *metrics.Metrics {
	return f.metrics
}
