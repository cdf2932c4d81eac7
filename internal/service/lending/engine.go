package lending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/calonkonglo/rwa-lending-platform/internal/domain/model"
	"github.com/calonkonglo/rwa-lending-platform/internal/domain/repository"
	"github.com/calonkonglo/rwa-lending-platform/internal/observability"
)

var errLockTimeout = errors.New("account lock timeout")

// Config holds engine tunables
type Config struct {
	// MaxLTV is the loan-to-value ceiling in percent
	MaxLTV decimal.Decimal
	// LockTimeout bounds how long an operation waits for the account lock
	// before failing with Busy
	LockTimeout time.Duration
}

// DefaultConfig returns the platform defaults
func DefaultConfig() Config {
	return Config{
		MaxLTV:      model.DefaultMaxLTV,
		LockTimeout: 3 * time.Second,
	}
}

// Engine applies the four state-changing position operations, enforcing the
// LTV and lifecycle invariants atomically per account.
//
// Every operation follows the same discipline: fetch one price snapshot
// (without holding any lock), acquire the per-account lock with a bounded
// wait, read the committed position, validate the candidate state, and
// commit it with compare-and-swap. A version conflict triggers exactly one
// re-read and re-validation before the operation fails as retryable.
type Engine struct {
	store   repository.PositionStore
	oracle  repository.PriceOracle
	locks   *accountLocks
	cfg     Config
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewEngine creates a position engine. metrics may be nil.
func NewEngine(store repository.PositionStore, oracle repository.PriceOracle, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Engine {
	if cfg.MaxLTV.IsZero() {
		cfg.MaxLTV = model.DefaultMaxLTV
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}
	return &Engine{
		store:   store,
		oracle:  oracle,
		locks:   newAccountLocks(),
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// MaxLTV returns the configured loan-to-value ceiling in percent
func (e *Engine) MaxLTV() decimal.Decimal {
	return e.cfg.MaxLTV
}

// LockCollateral adds amount to the account's locked collateral. Purely
// additive: past the amount and price preconditions it cannot fail.
func (e *Engine) LockCollateral(ctx context.Context, account string, amount decimal.Decimal) (*model.PositionSnapshot, error) {
	if !amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}

	return e.execute(ctx, "lock_collateral", account, amount, true,
		func(pos model.Position, price model.PriceSnapshot, now time.Time) (model.Position, error) {
			pos.CollateralAmount = pos.CollateralAmount.Add(amount)
			pos.UpdatedAt = now
			return pos, nil
		})
}

// Borrow draws amount of the quote currency against the locked collateral.
// Validation order: collateral presence, then available capacity, then the
// exact LTV ceiling. The capacity check alone is not sufficient because
// availableToBorrow is a derivation that may be stale between the caller's
// read and this commit, so the LTV is always re-checked against the price
// snapshot used for the commit.
func (e *Engine) Borrow(ctx context.Context, account string, amount decimal.Decimal) (*model.PositionSnapshot, error) {
	if !amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}

	return e.execute(ctx, "borrow", account, amount, true,
		func(pos model.Position, price model.PriceSnapshot, now time.Time) (model.Position, error) {
			collateralValue := pos.CollateralAmount.Mul(price.Rate)
			if !collateralValue.IsPositive() {
				return model.Position{}, model.ErrNoCollateral
			}

			borrowed := pos.BorrowedAmount()
			available := model.AvailableToBorrow(collateralValue, borrowed, e.cfg.MaxLTV)
			if amount.GreaterThan(available) {
				return model.Position{}, &model.InsufficientCollateralError{Available: available}
			}

			candidate := borrowed.Add(amount)
			if !model.CandidateLTVWithinLimit(collateralValue, candidate, e.cfg.MaxLTV) {
				return model.Position{}, &model.LTVExceededError{
					Ratio:  model.LTVRatio(collateralValue, candidate),
					MaxLTV: e.cfg.MaxLTV,
				}
			}

			if pos.Loan == nil || pos.Loan.Status == model.LoanStatusRepaid {
				pos.Loan = &model.Loan{
					ID:           uuid.New(),
					OriginatedAt: now,
				}
			}
			pos.Loan.BorrowedAmount = candidate
			pos.Loan.CollateralAtLastUpdate = pos.CollateralAmount
			pos.Loan.Status = model.LoanStatusActive
			pos.Loan.LastModifiedAt = now
			pos.UpdatedAt = now
			return pos, nil
		})
}

// Repay reduces the outstanding principal by amount. Bringing it to exactly
// zero marks the loan REPAID, which re-enables unlocking.
func (e *Engine) Repay(ctx context.Context, account string, amount decimal.Decimal) (*model.PositionSnapshot, error) {
	if !amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}

	return e.execute(ctx, "repay", account, amount, true,
		func(pos model.Position, price model.PriceSnapshot, now time.Time) (model.Position, error) {
			if !pos.HasActiveLoan() {
				return model.Position{}, model.ErrNoActiveLoan
			}

			if amount.GreaterThan(pos.Loan.BorrowedAmount) {
				return model.Position{}, &model.RepaymentExceedsBalanceError{Outstanding: pos.Loan.BorrowedAmount}
			}

			pos.Loan.BorrowedAmount = pos.Loan.BorrowedAmount.Sub(amount)
			pos.Loan.CollateralAtLastUpdate = pos.CollateralAmount
			pos.Loan.LastModifiedAt = now
			if pos.Loan.BorrowedAmount.IsZero() {
				pos.Loan.Status = model.LoanStatusRepaid
			}
			pos.UpdatedAt = now
			return pos, nil
		})
}

// Unlock releases all collateral and resets the position to empty. Fails
// while any debt is outstanding. Needs no price: the emptied position has no
// derived values.
func (e *Engine) Unlock(ctx context.Context, account string) (*model.PositionSnapshot, error) {
	return e.execute(ctx, "unlock_collateral", account, decimal.Zero, false,
		func(pos model.Position, price model.PriceSnapshot, now time.Time) (model.Position, error) {
			if pos.HasActiveLoan() {
				return model.Position{}, model.ErrLoanStillActive
			}

			empty := model.NewPosition(account)
			empty.CreatedAt = pos.CreatedAt
			empty.UpdatedAt = now
			return empty, nil
		})
}

// transition computes the candidate next position from the committed one
type transition func(pos model.Position, price model.PriceSnapshot, now time.Time) (model.Position, error)

func (e *Engine) execute(ctx context.Context, op, account string, amount decimal.Decimal, needsPrice bool, apply transition) (snapshot *model.PositionSnapshot, err error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
			e.metrics.OperationsTotal.WithLabelValues(op, outcomeLabel(err)).Inc()
		}
	}()

	// The price is fetched before taking the account lock so a slow oracle
	// round-trip never extends the critical section.
	var price model.PriceSnapshot
	if needsPrice {
		price, err = e.fetchPrice(ctx)
		if err != nil {
			return nil, err
		}
	}

	release, lockErr := e.locks.acquire(ctx, account, e.cfg.LockTimeout)
	if lockErr != nil {
		if errors.Is(lockErr, errLockTimeout) {
			if e.metrics != nil {
				e.metrics.LockTimeouts.Inc()
			}
			err = fmt.Errorf("%w: %s", model.ErrBusy, account)
			return nil, err
		}
		err = lockErr
		return nil, err
	}
	defer release()

	// One retry: if the stored position advanced between our read and the
	// commit, re-read and re-validate against the fresh state, then give up.
	for attempt := 0; ; attempt++ {
		var (
			pos     model.Position
			version int64
		)
		pos, version, err = e.store.Get(ctx, account)
		if err != nil {
			err = fmt.Errorf("failed to read position: %w", err)
			return nil, err
		}

		var next model.Position
		next, err = apply(pos, price, time.Now())
		if err != nil {
			e.logger.Debug().Str("operation", op).Str("account", account).Err(err).Msg("operation rejected")
			return nil, err
		}

		casErr := e.store.CompareAndSet(ctx, account, version, next, repository.Change{
			Operation: op,
			Amount:    amount,
		})
		if casErr == nil {
			e.logger.Info().
				Str("operation", op).
				Str("account", account).
				Str("amount", amount.String()).
				Str("collateral", next.CollateralAmount.String()).
				Str("borrowed", next.BorrowedAmount().String()).
				Msg("position committed")

			var snap model.PositionSnapshot
			if needsPrice {
				snap = model.Snapshot(next, price, e.cfg.MaxLTV)
			} else {
				snap = model.EmptySnapshot(account)
			}
			return &snap, nil
		}

		if errors.Is(casErr, repository.ErrVersionConflict) {
			if e.metrics != nil {
				e.metrics.CASConflicts.Inc()
			}
			if attempt == 0 {
				continue
			}
			err = fmt.Errorf("%w: %s", model.ErrConflict, account)
			return nil, err
		}

		err = fmt.Errorf("failed to commit position: %w", casErr)
		return nil, err
	}
}

func (e *Engine) fetchPrice(ctx context.Context) (model.PriceSnapshot, error) {
	start := time.Now()
	price, err := e.oracle.GetPrice(ctx)
	if e.metrics != nil {
		e.metrics.OracleFetchDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("%w: %v", model.ErrPriceUnavailable, err)
	}
	if !price.Valid() {
		return model.PriceSnapshot{}, fmt.Errorf("%w: non-positive rate %s", model.ErrPriceUnavailable, price.Rate)
	}
	return price, nil
}

// outcomeLabel classifies an operation result for metrics
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, model.ErrBusy):
		return "busy"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case isValidationError(err):
		return "rejected"
	default:
		return "error"
	}
}

func isValidationError(err error) bool {
	var (
		insufficient *model.InsufficientCollateralError
		ltv          *model.LTVExceededError
		repayment    *model.RepaymentExceedsBalanceError
	)
	return errors.Is(err, model.ErrInvalidAmount) ||
		errors.Is(err, model.ErrNoCollateral) ||
		errors.Is(err, model.ErrNoActiveLoan) ||
		errors.Is(err, model.ErrLoanStillActive) ||
		errors.As(err, &insufficient) ||
		errors.As(err, &ltv) ||
		errors.As(err, &repayment)
}
