package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/riskdesk/backend/internal/config"
	"github.com/riskdesk/backend/pkg/logger"
)

// InitRedis connects the task queue client. Unlike a cache, the queue is
// required, so an unreachable Redis is fatal once the policy gives up.
func InitRedis(ctx context.Context, cfg config.RedisConfig, policy ReconnectPolicy) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Host + ":" + cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  -1, // XREADGROUP blocks server side
		WriteTimeout: 2 * time.Second,
	})

	if err := policy.Do(ctx, "redis", func() error { return rdb.Ping(ctx).Err() }); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}

	logger.Infof("Redis connection established (%s:%s)", cfg.Host, cfg.Port)
	return rdb, nil
}
