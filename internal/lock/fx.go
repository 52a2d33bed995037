package lock

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/repairpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
)

// NewRedisClient connects to REDIS_ADDR. It returns nil when redis is not configured.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
	if lc != nil {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
	}
	return client
}

// NewLocker returns a redis-backed locker when a client is available, so
// settlements serialize across replicas. Without it the lock is in-process.
func NewLocker(client *redis.Client, log *zap.Logger) Locker {
	if client == nil {
		log.Info("settlement lock is process-local")
		return NewLocalLocker()
	}
	log.Info("settlement lock uses redis", zap.String("addr", client.Options().Addr))
	return NewRedisLocker(client)
}
