package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "llm-router:ratelimit:"

// acquireScript prunes, counts and appends in one round trip so that several
// router instances sharing a Redis never overshoot a budget.
//
// KEYS[1] window key; ARGV: now ms, window ms, limit, member
var acquireScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
if redis.call("ZCARD", KEYS[1]) >= limit then
	return 0
end
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)
return 1
`)

// RedisLimiter keeps each provider's window as a sorted set scored by
// admission time in milliseconds.
type RedisLimiter struct {
	client    redis.UniversalClient
	budget    BudgetFunc
	config    Config
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisLimiter creates a limiter whose state lives in Redis
func NewRedisLimiter(client redis.UniversalClient, budget BudgetFunc, config Config, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{
		client:    client,
		budget:    budget,
		config:    config.withDefaults(),
		keyPrefix: defaultKeyPrefix,
		logger:    logger,
	}
}

func (l *RedisLimiter) key(provider string) string {
	return l.keyPrefix + provider
}

// TryAcquire implements Limiter
func (l *RedisLimiter) TryAcquire(ctx context.Context, provider string) (bool, error) {
	limit := l.budget(provider)
	if limit <= 0 {
		return false, nil
	}

	nowMs := l.config.Now().UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	admitted, err := acquireScript.Run(ctx, l.client,
		[]string{l.key(provider)},
		nowMs, l.config.Window.Milliseconds(), limit, member,
	).Int()
	if err != nil {
		l.logger.Warn("rate limit script failed", zap.String("provider", provider), zap.Error(err))
		return false, fmt.Errorf("rate limit script for %s: %w", provider, err)
	}
	return admitted == 1, nil
}

// Usage implements Limiter
func (l *RedisLimiter) Usage(ctx context.Context, provider string) (WindowUsage, error) {
	now := l.config.Now()
	windowMs := l.config.Window.Milliseconds()
	key := l.key(provider)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.UnixMilli()-windowMs, 10))
	card := pipe.ZCard(ctx, key)
	oldest := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return WindowUsage{}, fmt.Errorf("rate limit usage for %s: %w", provider, err)
	}

	usage := WindowUsage{
		Provider: provider,
		Used:     int(card.Val()),
		Limit:    l.budget(provider),
		ResetAt:  now,
	}
	if first := oldest.Val(); len(first) > 0 {
		usage.ResetAt = time.UnixMilli(int64(first[0].Score)).Add(l.config.Window)
	}
	return usage, nil
}

// Ping verifies the Redis connection, used by readiness checks
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
