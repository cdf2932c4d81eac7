package repository

import (
	"context"

	"github.com/calonkonglo/rwa-lending-platform/internal/domain/model"
)

// PriceOracle supplies the current collateral/quote exchange rate. It is a
// pure read dependency: the engine polls it on demand and never assumes two
// calls within one operation return the same value, so every operation
// fetches exactly one snapshot and carries it through validation and commit.
type PriceOracle interface {
	GetPrice(ctx context.Context) (model.PriceSnapshot, error)
}
