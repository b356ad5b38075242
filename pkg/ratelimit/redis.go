package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares fixed windows across gateway replicas through Redis.
// Each window is a counter under "rl:<token>:minute" or "rl:<token>:day",
// created by INCR and aged out by a TTL set when the counter first appears.
// The two keys are not updated atomically, so a denial on the day window can
// leave the minute window already consumed.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter wraps an existing Redis client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// ConsumeOrDeny increments both window counters, denying once either exceeds
// its limit.
func (l *RedisLimiter) ConsumeOrDeny(ctx context.Context, token string, rpm, rpd int) (Snapshot, error) {
	minuteCount, err := l.consume(ctx, "rl:"+token+":minute", time.Minute, rpm, "minute")
	if err != nil {
		return Snapshot{}, err
	}
	dayCount, err := l.consume(ctx, "rl:"+token+":day", 24*time.Hour, rpd, "day")
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		LimitMinute:     rpm,
		RemainingMinute: max(rpm-minuteCount, 0),
		LimitDay:        rpd,
		RemainingDay:    max(rpd-dayCount, 0),
	}, nil
}

func (l *RedisLimiter) consume(ctx context.Context, key string, ttl time.Duration, limit int, window string) (int, error) {
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, err
		}
	}
	if count > int64(limit) {
		return 0, &DeniedError{Message: "rate limit exceeded", Window: window}
	}
	return int(count), nil
}
