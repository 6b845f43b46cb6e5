package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/membership-functions/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	windowSeconds = 1
	minWaitStep   = 5 * time.Millisecond
	maxWaitStep   = 250 * time.Millisecond
)

var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

type RedisRateLimiterConfig struct {
	LimitPerSec int
	// Namespace keeps budgets of different Mailchimp API keys apart when they
	// share one Redis. Mailchimp counts requests per key, not per instance.
	Namespace string
}

// RedisRateLimiter is a fixed one-second window shared by every function
// instance pointed at the same Redis.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	keyPrefix   string
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, cfg RedisRateLimiterConfig) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, cfg, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	cfg RedisRateLimiterConfig,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.LimitPerSec <= 0 {
		return nil, fmt.Errorf("limit per second must be positive")
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	prefix := "ratelimit:"
	if ns := strings.TrimSpace(cfg.Namespace); ns != "" {
		prefix += ns + ":"
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: int64(cfg.LimitPerSec),
		keyPrefix:   prefix,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	normalizedScope := strings.ToLower(strings.TrimSpace(scope))
	if normalizedScope == "" {
		return false, fmt.Errorf("scope is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := allowScript.Run(ctx, r.client, []string{r.windowKey(normalizedScope)}, r.limitPerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

// Wait sleeps until the current window rolls over, in steps of at most
// maxWaitStep, and retries until a slot is granted or ctx ends.
func (r *RedisRateLimiter) Wait(ctx context.Context, scope string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		allowed, err := r.Allow(ctx, scope)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, r.untilNextWindow()); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) windowKey(scope string) string {
	return fmt.Sprintf("%s%s:%d", r.keyPrefix, scope, r.now().UTC().Unix())
}

func (r *RedisRateLimiter) untilNextWindow() time.Duration {
	now := r.now()
	d := now.Truncate(time.Second).Add(time.Second).Sub(now)
	switch {
	case d < minWaitStep:
		return minWaitStep
	case d > maxWaitStep:
		return maxWaitStep
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
