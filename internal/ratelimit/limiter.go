package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// ScopeMailchimp is the limiter scope shared by all Mailchimp API calls.
const ScopeMailchimp = "mailchimp"

// RateLimiter controls outbound call throughput per scope.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}

var (
	_ RateLimiter = (*LocalRateLimiter)(nil)
	_ RateLimiter = Unlimited{}
)

// LocalRateLimiter is an in-process token bucket. It only limits calls made
// by this instance; use the Redis limiter to share a budget across instances.
type LocalRateLimiter struct {
	limiter *rate.Limiter
}

func NewLocalRateLimiter(limitPerSec int) (*LocalRateLimiter, error) {
	if limitPerSec <= 0 {
		return nil, fmt.Errorf("limit per second must be positive")
	}
	return &LocalRateLimiter{
		limiter: rate.NewLimiter(rate.Limit(limitPerSec), limitPerSec),
	}, nil
}

func (l *LocalRateLimiter) Allow(_ context.Context, _ string) (bool, error) {
	return l.limiter.Allow(), nil
}

func (l *LocalRateLimiter) Wait(ctx context.Context, _ string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return l.limiter.Wait(ctx)
}

// Unlimited never throttles.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

func (Unlimited) Wait(context.Context, string) error { return nil }
