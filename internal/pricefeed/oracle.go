package pricefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/calonkonglo/rwa-lending-platform/internal/domain/model"
	"github.com/calonkonglo/rwa-lending-platform/internal/domain/repository"
)

// Fetcher performs one synchronous price fetch (the REST ticker client)
type Fetcher interface {
	GetPrice(ctx context.Context) (model.PriceSnapshot, error)
}

// CachedOracle implements repository.PriceOracle over a REST fetcher plus an
// optional streaming feed. It serves the most recent observation while it is
// fresher than maxAge and falls back to a synchronous fetch otherwise. A
// zero or negative rate is never served.
type CachedOracle struct {
	fetcher Fetcher
	maxAge  time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mu   sync.RWMutex
	last model.PriceSnapshot
}

var _ repository.PriceOracle = (*CachedOracle)(nil)

// NewCachedOracle creates an oracle serving cached prices up to maxAge old
func NewCachedOracle(fetcher Fetcher, maxAge time.Duration, logger zerolog.Logger) *CachedOracle {
	return &CachedOracle{
		fetcher: fetcher,
		maxAge:  maxAge,
		logger:  logger,
		now:     time.Now,
	}
}

// Observe feeds an externally observed price (the websocket stream) into the
// cache. Observations older than the cached snapshot are dropped.
func (o *CachedOracle) Observe(snap model.PriceSnapshot) {
	if !snap.Valid() {
		o.logger.Warn().Str("rate", snap.Rate.String()).Msg("discarding non-positive observed price")
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if snap.AsOf.After(o.last.AsOf) {
		o.last = snap
	}
}

// GetPrice returns the current price snapshot. The cached observation is
// used while fresh; otherwise one synchronous fetch is attempted. Errors
// surface to the engine, which maps them to PriceUnavailable.
func (o *CachedOracle) GetPrice(ctx context.Context) (model.PriceSnapshot, error) {
	o.mu.RLock()
	last := o.last
	o.mu.RUnlock()

	if last.Valid() && last.Age(o.now()) <= o.maxAge {
		return last, nil
	}

	snap, err := o.fetcher.GetPrice(ctx)
	if err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("price fetch failed: %w", err)
	}
	if !snap.Valid() {
		return model.PriceSnapshot{}, fmt.Errorf("price feed returned non-positive rate %s", snap.Rate)
	}

	o.Observe(snap)
	return snap, nil
}
