package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"food-auth-service/internal/config"
	"food-auth-service/internal/util"
)

// Statements holds the CQL used by the repositories. gocql prepares and caches
// each statement on first execution.
type Statements struct {
	UpsertChallenge string
	GetChallenge    string
	DeleteChallenge string

	CreateSession      string
	CreateSessionIndex string
	GetSession         string
	GetSessionOwner    string
	RotateSession      string
	DeleteSession      string
	DeleteSessionIndex string
	ListUserSessions   string
	DeleteUserIndex    string
	ListBucketSessions string

	CreatePhoneToUser string
	CreateUser        string
	GetUserByPhone    string
	GetUserByID       string
	UpdateUserName    string
}

var statements = Statements{
	UpsertChallenge: `
        INSERT INTO verification_challenges (
            request_id, phone_hash, phone_encrypted, code_hash, provider,
            ttl_seconds, created_at, expires_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?) USING TTL ?`,
	GetChallenge: `
        SELECT request_id, phone_hash, phone_encrypted, code_hash, provider,
            ttl_seconds, created_at, expires_at
        FROM verification_challenges WHERE request_id = ?`,
	DeleteChallenge: `DELETE FROM verification_challenges WHERE request_id = ?`,

	CreateSession: `
        INSERT INTO refresh_sessions (
            session_id, user_id, secret_hash, client_descriptor,
            created_at, last_rotated_at, expires_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
	CreateSessionIndex: `
        INSERT INTO sessions_by_user (user_bucket, user_id, session_id, expires_at)
        VALUES (?, ?, ?, ?)`,
	GetSession: `
        SELECT session_id, user_id, secret_hash, client_descriptor,
            created_at, last_rotated_at, expires_at
        FROM refresh_sessions WHERE session_id = ?`,
	GetSessionOwner: `SELECT user_id FROM refresh_sessions WHERE session_id = ?`,
	RotateSession: `
        UPDATE refresh_sessions
        SET secret_hash = ?, client_descriptor = ?, expires_at = ?, last_rotated_at = ?
        WHERE session_id = ? IF secret_hash = ?`,
	DeleteSession:      `DELETE FROM refresh_sessions WHERE session_id = ? IF EXISTS`,
	DeleteSessionIndex: `
        DELETE FROM sessions_by_user WHERE user_bucket = ? AND user_id = ? AND session_id = ?`,
	ListUserSessions: `
        SELECT session_id FROM sessions_by_user WHERE user_bucket = ? AND user_id = ?`,
	DeleteUserIndex: `DELETE FROM sessions_by_user WHERE user_bucket = ? AND user_id = ?`,
	ListBucketSessions: `
        SELECT user_id, session_id, expires_at FROM sessions_by_user WHERE user_bucket = ?`,

	CreatePhoneToUser: `
        INSERT INTO phone_to_user (phone_hash, user_bucket, user_id, created_at)
        VALUES (?, ?, ?, ?) IF NOT EXISTS`,
	CreateUser: `
        INSERT INTO users (
            user_bucket, user_id, phone_hash, phone_encrypted, name, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
	GetUserByPhone: `SELECT user_bucket, user_id FROM phone_to_user WHERE phone_hash = ?`,
	GetUserByID: `
        SELECT user_bucket, user_id, phone_hash, phone_encrypted, name, created_at, updated_at
        FROM users WHERE user_bucket = ? AND user_id = ?`,
	UpdateUserName: `
        UPDATE users SET name = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? IF EXISTS`,
}

// Schema creates every table the repositories use. Applied by EnsureSchema.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS verification_challenges (
        request_id text PRIMARY KEY,
        phone_hash text,
        phone_encrypted text,
        code_hash text,
        provider text,
        ttl_seconds int,
        created_at timestamp,
        expires_at timestamp
    )`,
	`CREATE TABLE IF NOT EXISTS refresh_sessions (
        session_id text PRIMARY KEY,
        user_id text,
        secret_hash text,
        client_descriptor text,
        created_at timestamp,
        last_rotated_at timestamp,
        expires_at timestamp
    )`,
	`CREATE TABLE IF NOT EXISTS sessions_by_user (
        user_bucket int,
        user_id text,
        session_id text,
        expires_at timestamp,
        PRIMARY KEY ((user_bucket), user_id, session_id)
    )`,
	`CREATE TABLE IF NOT EXISTS users (
        user_bucket int,
        user_id text,
        phone_hash text,
        phone_encrypted text,
        name text,
        created_at timestamp,
        updated_at timestamp,
        PRIMARY KEY ((user_bucket), user_id)
    )`,
	`CREATE TABLE IF NOT EXISTS phone_to_user (
        phone_hash text PRIMARY KEY,
        user_bucket int,
        user_id text,
        created_at timestamp
    )`,
}

type ScyllaClient struct {
	Session *gocql.Session
	Stmt    *Statements
	config  *config.ScyllaConfig
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_TLS_CA_FILE", "/root/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_TLS_CERT_FILE", "/root/certs/server.pem"),
			KeyPath:                util.GetEnv("SCYLLA_TLS_KEY_FILE", "/root/certs/server.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		Stmt:    &statements,
		config:  &scyllaConfig,
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

// EnsureSchema applies Schema to the configured keyspace.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Schema {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	util.Info("ScyllaDB schema ensured", zap.Int("tables", len(Schema)))
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// ExecuteWithRetry retries plain writes. Never use it for LWT statements.
func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if !retryable(err) || i == maxRetries {
				break
			}
			if !sleepCtx(query.Context(), time.Duration(i+1)*100*time.Millisecond) {
				break
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		err := query.Scan(dest...)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || i == 2 {
			break
		}
		if !sleepCtx(query.Context(), time.Duration(i+1)*100*time.Millisecond) {
			break
		}
	}
	return lastErr
}

func retryable(err error) bool {
	return !errors.Is(err, gocql.ErrNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
