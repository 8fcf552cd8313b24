package bgjob

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"esl-bridge/pkg/utils"
)

// RedisLimiter shares one command concurrency cap across bridge replicas.
// The counter TTL reclaims slots leaked by a crashed process.
type RedisLimiter struct {
	rdb   *redis.Client
	key   string
	limit int
	ttl   time.Duration
	log   *slog.Logger
}

func NewRedisLimiter(rdb *redis.Client, key string, limit int, ttl time.Duration, log *slog.Logger) *RedisLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &RedisLimiter{rdb: rdb, key: key, limit: limit, ttl: ttl, log: log}
}

func (l *RedisLimiter) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, l.key, l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := utils.ReleaseConcurrencyCap(ctx, l.rdb, l.key); err != nil {
		l.log.Warn("release concurrency cap failed", "key", l.key, "err", err)
	}
}
