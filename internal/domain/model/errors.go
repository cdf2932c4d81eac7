package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors for operation failures. All of these are recoverable by
// the caller; none indicate a fault in the engine itself.
var (
	// ErrInvalidAmount rejects non-positive operation amounts
	ErrInvalidAmount = errors.New("amount must be greater than 0")
	// ErrNoCollateral rejects a borrow with zero collateral value
	ErrNoCollateral = errors.New("no collateral locked")
	// ErrNoActiveLoan rejects a repayment with no outstanding debt
	ErrNoActiveLoan = errors.New("no active loan to repay")
	// ErrLoanStillActive rejects an unlock while debt is outstanding
	ErrLoanStillActive = errors.New("cannot unlock collateral while loan is active")
	// ErrPriceUnavailable means the oracle failed or returned an unusable rate
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrBusy means the per-account lock could not be acquired in time
	ErrBusy = errors.New("position is busy")
	// ErrConflict means the stored position changed underneath the operation
	ErrConflict = errors.New("position was modified concurrently")
)

// InsufficientCollateralError rejects a borrow that exceeds the remaining
// borrowing capacity. Available carries the actual capacity at validation
// time so the caller can surface it.
type InsufficientCollateralError struct {
	Available decimal.Decimal
}

func (e *InsufficientCollateralError) Error() string {
	return fmt.Sprintf("insufficient collateral: maximum you can borrow is %s USDT", e.Available.StringFixed(2))
}

// LTVExceededError rejects a borrow whose candidate loan-to-value ratio
// breaches the ceiling. Ratio is the computed candidate LTV in percent.
type LTVExceededError struct {
	Ratio  decimal.Decimal
	MaxLTV decimal.Decimal
}

func (e *LTVExceededError) Error() string {
	return fmt.Sprintf("LTV ratio (%s%%) exceeds maximum (%s%%)", e.Ratio.StringFixed(2), e.MaxLTV.StringFixed(0))
}

// RepaymentExceedsBalanceError rejects a repayment larger than the
// outstanding principal.
type RepaymentExceedsBalanceError struct {
	Outstanding decimal.Decimal
}

func (e *RepaymentExceedsBalanceError) Error() string {
	return fmt.Sprintf("amount exceeds loan balance (%s USDT)", e.Outstanding.StringFixed(2))
}
