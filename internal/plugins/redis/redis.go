package redis

import (
	"context"
	"fmt"
	"parley/internal/config"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to cfg.URL; the presence mirror and the
// notification stream share the returned client.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis - parse url: %w", err)
	}
	applyOptions(opts, cfg)
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis - ping %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

func applyOptions(opts *redis.Options, cfg config.RedisConfig) {
	if cfg.ClientName != "" {
		opts.ClientName = cfg.ClientName
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
}
