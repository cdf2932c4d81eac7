package lending

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/calonkonglo/rwa-lending-platform/internal/domain/model"
	"github.com/calonkonglo/rwa-lending-platform/internal/domain/repository"
)

// QueryService is the read-only projection over committed positions and the
// price feed. It never takes the engine's account locks and is never used
// as the basis for a write decision: the engine re-reads inside its own
// critical section.
type QueryService struct {
	store  repository.PositionStore
	oracle repository.PriceOracle
	maxLTV decimal.Decimal
}

// NewQueryService creates a read-only position query service
func NewQueryService(store repository.PositionStore, oracle repository.PriceOracle, maxLTV decimal.Decimal) *QueryService {
	if maxLTV.IsZero() {
		maxLTV = model.DefaultMaxLTV
	}
	return &QueryService{
		store:  store,
		oracle: oracle,
		maxLTV: maxLTV,
	}
}

// GetPosition returns the account's committed position with all derived
// values recomputed at the current price. Accounts without a position get a
// zeroed snapshot.
func (s *QueryService) GetPosition(ctx context.Context, account string) (*model.PositionSnapshot, error) {
	pos, _, err := s.store.Get(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to read position: %w", err)
	}

	if pos.IsEmpty() && pos.Loan == nil {
		snap := model.EmptySnapshot(account)
		return &snap, nil
	}

	price, err := s.oracle.GetPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPriceUnavailable, err)
	}

	snap := model.Snapshot(pos, price, s.maxLTV)
	return &snap, nil
}

// GetPrice returns the current price snapshot
func (s *QueryService) GetPrice(ctx context.Context) (*model.PriceSnapshot, error) {
	price, err := s.oracle.GetPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPriceUnavailable, err)
	}
	return &price, nil
}
