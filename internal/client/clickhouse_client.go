package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"food-auth-service/internal/config"
	"food-auth-service/internal/util"
)

// ClickHouseClient is the audit warehouse connection used by the worker's
// event sink. Only appends and DDL go through it.
type ClickHouseClient struct {
	mu   sync.RWMutex
	conn driver.Conn
	db   string
}

// clickhouseEndpoint is the parsed form of CLICKHOUSE_URL.
type clickhouseEndpoint struct {
	addr   string
	host   string
	secure bool
}

// parseClickHouseURL accepts "host", "host:port", "http://host[:port]" or
// "https://host[:port]" and fills the native protocol port when absent.
func parseClickHouseURL(raw string) (clickhouseEndpoint, error) {
	if raw == "" {
		return clickhouseEndpoint{}, errors.New("clickhouse url is empty")
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		secure := u.Scheme == "https" || u.Scheme == "clickhouses"
		host, port := u.Hostname(), u.Port()
		if port == "" {
			port = "9000"
			if secure {
				port = "9440"
			}
		}
		return clickhouseEndpoint{addr: net.JoinHostPort(host, port), host: host, secure: secure}, nil
	}
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return clickhouseEndpoint{addr: net.JoinHostPort(raw, "9000"), host: raw}, nil
	}
	return clickhouseEndpoint{addr: net.JoinHostPort(host, port), host: host}, nil
}

func clickhouseTLS(ep clickhouseEndpoint, caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: ep.host}
	if caFile == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read clickhouse CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// NewClickHouseClient dials ClickHouse over the native protocol. TLS is used
// for secure URLs and always in production.
func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	c := cfg.Clickhouse
	ep, err := parseClickHouseURL(c.URL)
	if err != nil {
		return nil, err
	}
	maxConns := c.MaxConns
	if maxConns <= 0 {
		maxConns = 8
	}

	opts := &ch.Options{
		Addr: []string{ep.addr},
		Auth: ch.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    maxConns,
		MaxIdleConns:    maxConns / 2,
		ConnMaxLifetime: 30 * time.Minute,
		Compression:     &ch.Compression{Method: ch.CompressionLZ4},
	}
	if ep.secure || cfg.IsProduction() {
		if opts.TLS, err = clickhouseTLS(ep, c.CAFile); err != nil {
			return nil, err
		}
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	logger.Info("ClickHouse connected",
		zap.String("addr", ep.addr),
		zap.String("database", c.Database),
		zap.Bool("tls", opts.TLS != nil),
	)
	return &ClickHouseClient{conn: conn, db: c.Database}, nil
}

func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Exec(ctx, query, args...)
}

// BatchInsert sends rows as a single native block. A failed append aborts the
// whole block so the caller can redeliver it.
func (c *ClickHouseClient) BatchInsert(ctx context.Context, query string, rows [][]interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for i, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append row %d: %w", i, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		util.Error("ClickHouse close failed", zap.Error(err))
		return err
	}
	util.Info("ClickHouse connection closed", zap.String("database", c.db))
	return nil
}
