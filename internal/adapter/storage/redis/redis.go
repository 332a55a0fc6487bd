package redis

import (
	"context"
	"fmt"

	"wallet-ledger/config"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Connections beyond the workers: the blocking stream read, acks and dead letters.
const poolHeadroom = 4

// ClientOptions maps the Redis section onto go-redis options. Every worker
// may hold a connection for its cache read or lock while the consumer keeps
// one blocked in XREADGROUP, so an unset pool size follows the worker count.
func ClientOptions(cfg config.RedisConfig, workers int) *goredis.Options {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = workers + poolHeadroom
	}

	return &goredis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		ClientName:  cfg.ClientName,
		PoolSize:    poolSize,
		DialTimeout: cfg.DialTimeout,
	}
}

// NewClient creates a Redis client sized for workers and verifies connectivity.
func NewClient(ctx context.Context, cfg config.RedisConfig, workers int, log zerolog.Logger) (*goredis.Client, error) {
	opts := ClientOptions(cfg, workers)
	client := goredis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", opts.Addr, err)
	}

	log.Info().
		Str("addr", opts.Addr).
		Int("db", opts.DB).
		Str("client_name", opts.ClientName).
		Int("pool_size", opts.PoolSize).
		Msg("Redis connection established")

	return client, nil
}
