package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/gp-appointment-portal/internal/config"
)

// NewRedisClient dials the Redis used for slot locks and the availability cache.
// Command timeouts are capped at half the lock TTL.
func NewRedisClient(ctx context.Context, cfg config.Config, clientName string) (*redis.Client, error) {
	timeout := 2 * time.Second
	if cfg.LockTTL > 0 && cfg.LockTTL/2 < timeout {
		timeout = cfg.LockTTL / 2
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		ClientName:   clientName,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
	}

	return rdb, nil
}
