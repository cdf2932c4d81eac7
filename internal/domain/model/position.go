package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanStatus represents the status of a loan
type LoanStatus string

const (
	LoanStatusActive LoanStatus = "ACTIVE"
	LoanStatusRepaid LoanStatus = "REPAID"
)

// DefaultMaxLTV is the platform-wide loan-to-value ceiling, in percent.
var DefaultMaxLTV = decimal.NewFromInt(70)

var oneHundred = decimal.NewFromInt(100)

// ratioPlaces is the display precision for LTV and health ratios.
// Validation never uses rounded values; see CandidateLTVWithinLimit.
const ratioPlaces = 8

// Loan represents an outstanding stablecoin loan against a position's collateral
type Loan struct {
	ID uuid.UUID `json:"id" db:"loan_id"`
	// BorrowedAmount is the outstanding principal in the quote currency (USDT)
	BorrowedAmount decimal.Decimal `json:"borrowed_amount" db:"borrowed_amount"`
	// CollateralAtLastUpdate snapshots the collateral backing this loan when it
	// was last modified. Kept for audit only; ratio math always uses the live
	// collateral value.
	CollateralAtLastUpdate decimal.Decimal `json:"collateral_at_last_update" db:"collateral_at_last_update"`
	Status                 LoanStatus      `json:"status" db:"loan_status"`
	OriginatedAt           time.Time       `json:"originated_at" db:"originated_at"`
	LastModifiedAt         time.Time       `json:"last_modified_at" db:"loan_modified_at"`
}

// Position represents the persisted per-account lending position: locked
// collateral plus any outstanding loan. Derived values (collateral value,
// ratios, borrowing capacity) are never stored; see Snapshot.
type Position struct {
	Account          string          `json:"account" db:"account"`
	CollateralAmount decimal.Decimal `json:"collateral_amount" db:"collateral_amount"`
	Loan             *Loan           `json:"loan,omitempty"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// NewPosition creates an empty position for an account
func NewPosition(account string) Position {
	now := time.Now()
	return Position{
		Account:          account,
		CollateralAmount: decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// BorrowedAmount returns the outstanding principal, zero when no loan exists
func (p *Position) BorrowedAmount() decimal.Decimal {
	if p.Loan == nil {
		return decimal.Zero
	}
	return p.Loan.BorrowedAmount
}

// HasActiveLoan reports whether the position carries outstanding debt
func (p *Position) HasActiveLoan() bool {
	return p.Loan != nil && p.Loan.Status == LoanStatusActive && p.Loan.BorrowedAmount.IsPositive()
}

// IsEmpty reports whether the position holds no collateral and no debt.
// An empty position is equivalent to no position and is stored as absent.
func (p *Position) IsEmpty() bool {
	return p.CollateralAmount.IsZero() && p.BorrowedAmount().IsZero()
}

// PositionSnapshot is the derived, caller-facing view of a position at a
// specific price. All ratio fields are recomputed from the live price on
// every read and write; none of them are a source of truth.
type PositionSnapshot struct {
	Account          string          `json:"account"`
	CollateralAmount decimal.Decimal `json:"collateral_amount"`
	CollateralValue  decimal.Decimal `json:"collateral_value"`
	Loan             *Loan           `json:"loan,omitempty"`
	// LtvRatio is borrowed / collateral value, in percent. Zero when no debt.
	LtvRatio decimal.Decimal `json:"ltv_ratio"`
	// HealthRatio is collateral value / borrowed, in percent. Null when the
	// position has no active debt (the dashboard renders this state as
	// "no active debt" rather than a number).
	HealthRatio       decimal.NullDecimal `json:"health_ratio"`
	AvailableToBorrow decimal.Decimal     `json:"available_to_borrow"`
	Price             PriceSnapshot       `json:"price"`
}

// AvailableToBorrow returns the remaining borrowing capacity before the LTV
// ceiling: max(0, maxLTV% x collateralValue - borrowed). Every operation
// derives capacity through this single function.
func AvailableToBorrow(collateralValue, borrowed, maxLTV decimal.Decimal) decimal.Decimal {
	available := maxLTV.Mul(collateralValue).Div(oneHundred).Sub(borrowed)
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

// CandidateLTVWithinLimit reports whether borrowed against collateralValue
// stays at or below the maxLTV ceiling. The comparison is exact
// (borrowed x 100 <= maxLTV x collateralValue): a candidate LTV of
// 70.000001% fails even though it would display as 70.00%.
func CandidateLTVWithinLimit(collateralValue, borrowed, maxLTV decimal.Decimal) bool {
	return borrowed.Mul(oneHundred).Cmp(maxLTV.Mul(collateralValue)) <= 0
}

// LTVRatio returns borrowed / collateralValue in percent, rounded for
// display. Returns zero when either side is zero.
func LTVRatio(collateralValue, borrowed decimal.Decimal) decimal.Decimal {
	if borrowed.IsZero() || !collateralValue.IsPositive() {
		return decimal.Zero
	}
	return borrowed.Mul(oneHundred).DivRound(collateralValue, ratioPlaces)
}

// HealthRatio returns collateralValue / borrowed in percent, or null when
// there is no outstanding debt.
func HealthRatio(collateralValue, borrowed decimal.Decimal) decimal.NullDecimal {
	if !borrowed.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{
		Decimal: collateralValue.Mul(oneHundred).DivRound(borrowed, ratioPlaces),
		Valid:   true,
	}
}

// Snapshot derives the caller-facing view of a position at the given price
func Snapshot(pos Position, price PriceSnapshot, maxLTV decimal.Decimal) PositionSnapshot {
	collateralValue := pos.CollateralAmount.Mul(price.Rate)
	borrowed := pos.BorrowedAmount()

	return PositionSnapshot{
		Account:           pos.Account,
		CollateralAmount:  pos.CollateralAmount,
		CollateralValue:   collateralValue,
		Loan:              pos.Loan,
		LtvRatio:          LTVRatio(collateralValue, borrowed),
		HealthRatio:       HealthRatio(collateralValue, borrowed),
		AvailableToBorrow: AvailableToBorrow(collateralValue, borrowed, maxLTV),
		Price:             price,
	}
}

// EmptySnapshot returns the zero-value view for an account with no position
func EmptySnapshot(account string) PositionSnapshot {
	return PositionSnapshot{
		Account:           account,
		CollateralAmount:  decimal.Zero,
		CollateralValue:   decimal.Zero,
		LtvRatio:          decimal.Zero,
		AvailableToBorrow: decimal.Zero,
	}
}
