package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSnapshot is one observation of the collateral/quote exchange rate.
// The engine treats every snapshot as immutable and uses a single snapshot
// consistently through one operation's validation and commit.
type PriceSnapshot struct {
	Pair string          `json:"pair"` // e.g. "BTC-USDT"
	Rate decimal.Decimal `json:"rate"` // quote units per collateral unit
	AsOf time.Time       `json:"as_of"`
}

// Valid reports whether the snapshot carries a usable rate.
// A zero or negative rate must never reach ratio math.
func (p PriceSnapshot) Valid() bool {
	return p.Rate.IsPositive()
}

// Age returns how old the snapshot is relative to now
func (p PriceSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(p.AsOf)
}
