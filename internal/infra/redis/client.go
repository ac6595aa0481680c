package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/infra/config"
)

const defaultPoolSize = 10

// Client owns the connection used by the rate limit store and the readiness probe.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func optionsFor(cfg config.RedisSettings) *redis.Options {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}

	opts := &redis.Options{
		Addr:            fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        poolSize,
		MinIdleConns:    poolSize / 5,
		MaxRetries:      3,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		PoolTimeout:     2 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// NewClient connects and verifies the server answers PING.
func NewClient(ctx context.Context, cfg config.RedisSettings, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewClient(optionsFor(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("rate limit cache connected",
		zap.String("addr", rdb.Options().Addr),
		zap.Int("db", cfg.DB),
		zap.Int("pool_size", rdb.Options().PoolSize),
		zap.Bool("tls_enabled", cfg.TLSEnabled),
	)
	return &Client{rdb: rdb, logger: logger}, nil
}

func (c *Client) Client() *redis.Client {
	return c.rdb
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	c.logger.Info("rate limit cache connection closed")
	return nil
}
