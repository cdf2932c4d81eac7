package ratelimit

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate.Limiter for outbound API calls
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond, with a
// burst of the same size
func NewRateLimiter(requestsPerSecond int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

// Allow reports whether a request may proceed without blocking
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// Wait blocks until the limiter allows a request or the context is cancelled
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// ErrCategoryNotFound is returned when no limiter exists for a category
var ErrCategoryNotFound = errors.New("rate limiter category not found")

// MultiRateLimiter manages independent limiters per API category, matching
// upstream per-endpoint-group quotas.
type MultiRateLimiter struct {
	limiters map[string]*RateLimiter
}

// NewMultiRateLimiter creates a multi-category limiter. The category set is
// fixed at construction time; lookups are lock-free.
func NewMultiRateLimiter(limiters map[string]*RateLimiter) *MultiRateLimiter {
	return &MultiRateLimiter{limiters: limiters}
}

// Allow reports whether a request may proceed for the category
func (mrl *MultiRateLimiter) Allow(category string) bool {
	limiter, exists := mrl.limiters[category]
	if !exists {
		return false
	}
	return limiter.Allow()
}

// Wait blocks until the category's limiter allows a request
func (mrl *MultiRateLimiter) Wait(ctx context.Context, category string) error {
	limiter, exists := mrl.limiters[category]
	if !exists {
		return ErrCategoryNotFound
	}
	return limiter.Wait(ctx)
}
