package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(2)

	// Burst capacity allows the first two immediately
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestRateLimiter_Wait(t *testing.T) {
	rl := NewRateLimiter(100)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, rl.Wait(ctx))
}

func TestRateLimiter_WaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1)
	rl.Allow() // drain the burst

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, rl.Wait(ctx))
}

func TestMultiRateLimiter(t *testing.T) {
	mrl := NewMultiRateLimiter(map[string]*RateLimiter{
		"ticker": NewRateLimiter(1),
	})

	assert.True(t, mrl.Allow("ticker"))
	assert.False(t, mrl.Allow("ticker"))
	assert.False(t, mrl.Allow("unknown"))

	err := mrl.Wait(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrCategoryNotFound)
}
