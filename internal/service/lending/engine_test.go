package lending

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calonkonglo/rwa-lending-platform/internal/domain/model"
	"github.com/calonkonglo/rwa-lending-platform/internal/domain/repository"
	"github.com/calonkonglo/rwa-lending-platform/internal/infrastructure/memory"
)

const testAccount = "0x1a2b3c4d5e6f"

type stubOracle struct {
	mu   sync.Mutex
	rate decimal.Decimal
	err  error
}

func newStubOracle(rate string) *stubOracle {
	return &stubOracle{rate: decimal.RequireFromString(rate)}
}

func (o *stubOracle) GetPrice(ctx context.Context) (model.PriceSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return model.PriceSnapshot{}, o.err
	}
	return model.PriceSnapshot{Pair: "BTC-USDT", Rate: o.rate, AsOf: time.Now()}, nil
}

func (o *stubOracle) setRate(rate string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rate = decimal.RequireFromString(rate)
}

func newTestEngine(t *testing.T, store repository.PositionStore, oracle repository.PriceOracle) *Engine {
	t.Helper()
	return NewEngine(store, oracle, DefaultConfig(), zerolog.Nop(), nil)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLockCollateral_Accumulates(t *testing.T) {
	store := memory.NewPositionRepository()
	engine := newTestEngine(t, store, newStubOracle("50000"))
	ctx := context.Background()

	snap, err := engine.LockCollateral(ctx, testAccount, dec("0.1"))
	require.NoError(t, err)
	assert.True(t, snap.CollateralAmount.Equal(dec("0.1")))

	snap, err = engine.LockCollateral(ctx, testAccount, dec("0.15"))
	require.NoError(t, err)
	assert.True(t, snap.CollateralAmount.Equal(dec("0.25")))
	assert.True(t, snap.CollateralValue.Equal(dec("12500")))
	assert.True(t, snap.AvailableToBorrow.Equal(dec("8750"))) // 70% of 12500
	assert.Nil(t, snap.Loan)
	assert.True(t, snap.LtvRatio.IsZero())
	assert.False(t, snap.HealthRatio.Valid)
}

func TestLockCollateral_InvalidAmount(t *testing.T) {
	engine := newTestEngine(t, memory.NewPositionRepository(), newStubOracle("50000"))

	for _, amount := range []string{"0", "-1"} {
		_, err := engine.LockCollateral(context.Background(), testAccount, dec(amount))
		assert.ErrorIs(t, err, model.ErrInvalidAmount)
	}
}

func TestBorrow_NoCollateral(t *testing.T) {
	engine := newTestEngine(t, memory.NewPositionRepository(), newStubOracle("50000"))

	// No position at all: must fail cleanly, not divide by zero
	_, err := engine.Borrow(context.Background(), testAccount, dec("100"))
	assert.ErrorIs(t, err, model.ErrNoCollateral)
}

func TestBorrow_RepayUnlock_Walkthrough(t *testing.T) {
	store := memory.NewPositionRepository()
	engine := newTestEngine(t, store, newStubOracle("50000"))
	ctx := context.Background()

	// 0.2 BTC at 50,000 = 10,000 USDT collateral value
	snap, err := engine.LockCollateral(ctx, testAccount, dec("0.2"))
	require.NoError(t, err)
	assert.True(t, snap.CollateralValue.Equal(dec("10000")))
	assert.True(t, snap.AvailableToBorrow.Equal(dec("7000")))

	// Borrow the full capacity: LTV lands exactly on the ceiling
	snap, err = engine.Borrow(ctx, testAccount, dec("7000"))
	require.NoError(t, err)
	require.NotNil(t, snap.Loan)
	assert.Equal(t, model.LoanStatusActive, snap.Loan.Status)
	assert.True(t, snap.LtvRatio.Equal(dec("70")))
	assert.True(t, snap.AvailableToBorrow.IsZero())
	require.True(t, snap.HealthRatio.Valid)
	assert.True(t, snap.HealthRatio.Decimal.Equal(dec("142.85714286")))

	// One more USDT exceeds the remaining capacity
	_, err = engine.Borrow(ctx, testAccount, dec("1"))
	var insufficient *model.InsufficientCollateralError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.IsZero())

	// Partial repayment halves the debt
	snap, err = engine.Repay(ctx, testAccount, dec("3500"))
	require.NoError(t, err)
	assert.True(t, snap.Loan.BorrowedAmount.Equal(dec("3500")))
	assert.Equal(t, model.LoanStatusActive, snap.Loan.Status)
	assert.True(t, snap.LtvRatio.Equal(dec("35")))
	assert.True(t, snap.AvailableToBorrow.Equal(dec("3500")))

	// Unlock is still blocked while debt is outstanding
	_, err = engine.Unlock(ctx, testAccount)
	assert.ErrorIs(t, err, model.ErrLoanStillActive)

	// Repaying the remainder closes the loan
	snap, err = engine.Repay(ctx, testAccount, dec("3500"))
	require.NoError(t, err)
	assert.True(t, snap.Loan.BorrowedAmount.IsZero())
	assert.Equal(t, model.LoanStatusRepaid, snap.Loan.Status)
	assert.True(t, snap.LtvRatio.IsZero())
	assert.False(t, snap.HealthRatio.Valid)
	assert.True(t, snap.AvailableToBorrow.Equal(dec("7000")))

	// Now the collateral unlocks and the position resets to empty
	snap, err = engine.Unlock(ctx, testAccount)
	require.NoError(t, err)
	assert.True(t, snap.CollateralAmount.IsZero())
	assert.Nil(t, snap.Loan)
	assert.True(t, snap.AvailableToBorrow.IsZero())

	pos, version, err := store.Get(ctx, testAccount)
	require.NoError(t, err)
	assert.True(t, pos.IsEmpty())
	assert.EqualValues(t, 0, version, "empty position is stored as absent")
}

func TestBorrow_BoundaryIsExact(t *testing.T) {
	engine := newTestEngine(t, memory.NewPositionRepository(), newStubOracle("50000"))
	ctx := context.Background()

	_, err := engine.LockCollateral(ctx, testAccount, dec("0.2"))
	require.NoError(t, err)

	// 6999.999999 leaves 0.000001 of capacity
	snap, err := engine.Borrow(ctx, testAccount, dec("6999.999999"))
	require.NoError(t, err)
	assert.True(t, snap.AvailableToBorrow.Equal(dec("0.000001")))

	// Borrowing one more micro-unit than remains must fail, no flooring
	_, err = engine.Borrow(ctx, testAccount, dec("0.000002"))
	require.Error(t, err)

	// The exact remainder still fits: final LTV is 70.0 precisely
	snap, err = engine.Borrow(ctx, testAccount, dec("0.000001"))
	require.NoError(t, err)
	assert.True(t, snap.LtvRatio.Equal(dec("70")))
}

func TestBorrow_ReborrowAfterFullRepayment(t *testing.T) {
	engine := newTestEngine(t, memory.NewPositionRepository(), newStubOracle("50000"))
	ctx := context.Background()

	_, err := engine.LockCollateral(ctx, testAccount, dec("0.2"))
	require.NoError(t, err)

	first, err := engine.Borrow(ctx, testAccount, dec("1000"))
	require.NoError(t, err)

	_, err = engine.Repay(ctx, testAccount, dec("1000"))
	require.NoError(t, err)

	second, err := engine.Borrow(ctx, testAccount, dec("500"))
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusActive, second.Loan.Status)
	assert.NotEqual(t, first.Loan.ID, second.Loan.ID, "a repaid loan is closed; re-borrowing originates a new one")
}

func TestRepay_NoActiveLoan(t *testing.T) {
	engine := newTestEngine(t, memory.NewPositionRepository(), newStubOracle("50000"))
	ctx := context.Background()

	_, err := engine.Repay(ctx, testAccount, dec("100"))
	assert.ErrorIs(t, err, model.ErrNoActiveLoan)

	// Having collateral but no loan is still not repayable
	_, err = engine.LockCollateral(ctx, testAccount, dec("0.1"))
	require.NoError(t, err)
	_, err = engine.Repay(ctx, testAccount, dec("100"))
	assert.ErrorIs(t, err, model.ErrNoActiveLoan)
}

func TestRepay_ExceedsBalance(t *testing.T) {
	engine := newTestEngine(t, memory.NewPositionRepository(), newStubOracle("50000"))
	ctx := context.Background()

	_, err := engine.LockCollateral(ctx, testAccount, dec("0.2"))
	require.NoError(t, err)
	_, err = engine.Borrow(ctx, testAccount, dec("1000"))
	require.NoError(t, err)

	_, err = engine.Repay(ctx, testAccount, dec("1000.01"))
	var exceeds *model.RepaymentExceedsBalanceError
	require.ErrorAs(t, err, &exceeds)
	assert.True(t, exceeds.Outstanding.Equal(dec("1000")))
}

func TestUnlock_EmptyAccountIsNoop(t *testing.T) {
	engine := newTestEngine(t, memory.NewPositionRepository(), newStubOracle("50000"))

	snap, err := engine.Unlock(context.Background(), testAccount)
	require.NoError(t, err)
	assert.True(t, snap.CollateralAmount.IsZero())
	assert.Nil(t, snap.Loan)
}

func TestPriceUnavailable(t *testing.T) {
	oracle := newStubOracle("50000")
	oracle.err = context.DeadlineExceeded
	engine := newTestEngine(t, memory.NewPositionRepository(), oracle)

	_, err := engine.LockCollateral(context.Background(), testAccount, dec("0.1"))
	assert.ErrorIs(t, err, model.ErrPriceUnavailable)
}

func TestPriceDropDoesNotBlockRepayOrUnlock(t *testing.T) {
	oracle := newStubOracle("50000")
	engine := newTestEngine(t, memory.NewPositionRepository(), oracle)
	ctx := context.Background()

	_, err := engine.LockCollateral(ctx, testAccount, dec("0.2"))
	require.NoError(t, err)
	_, err = engine.Borrow(ctx, testAccount, dec("7000"))
	require.NoError(t, err)

	// Collateral value halves: the existing loan is now above the ceiling.
	// No liquidation happens; borrowing is blocked but repayment is not.
	oracle.setRate("25000")

	_, err = engine.Borrow(ctx, testAccount, dec("1"))
	require.Error(t, err)

	snap, err := engine.Repay(ctx, testAccount, dec("7000"))
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusRepaid, snap.Loan.Status)

	_, err = engine.Unlock(ctx, testAccount)
	require.NoError(t, err)
}

func TestConcurrentBorrows_OnlyOneSucceeds(t *testing.T) {
	engine := newTestEngine(t, memory.NewPositionRepository(), newStubOracle("50000"))
	ctx := context.Background()

	_, err := engine.LockCollateral(ctx, testAccount, dec("0.2"))
	require.NoError(t, err)

	// Each borrow fits individually (4000 <= 7000) but not jointly (8000 > 7000)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Borrow(ctx, testAccount, dec("4000"))
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err != nil {
			failures++
			var insufficient *model.InsufficientCollateralError
			var ltv *model.LTVExceededError
			assert.True(t, errors.As(err, &insufficient) || errors.As(err, &ltv),
				"unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, failures, "exactly one of two conflicting borrows must fail")
}

func TestConcurrentOperations_DifferentAccountsAreIndependent(t *testing.T) {
	engine := newTestEngine(t, memory.NewPositionRepository(), newStubOracle("50000"))
	ctx := context.Background()

	accounts := []string{"0xaaa", "0xbbb", "0xccc", "0xddd"}
	var wg sync.WaitGroup
	errs := make([]error, len(accounts))
	for i, account := range accounts {
		wg.Add(1)
		go func(i int, account string) {
			defer wg.Done()
			if _, err := engine.LockCollateral(ctx, account, dec("0.2")); err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = engine.Borrow(ctx, account, dec("7000"))
		}(i, account)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "account %s", accounts[i])
	}
}

func TestBusy_LockTimeout(t *testing.T) {
	store := memory.NewPositionRepository()
	gate := make(chan struct{})
	slow := &gatedStore{PositionStore: store, gate: gate}

	cfg := DefaultConfig()
	cfg.LockTimeout = 50 * time.Millisecond
	engine := NewEngine(slow, newStubOracle("50000"), cfg, zerolog.Nop(), nil)
	ctx := context.Background()

	// First operation holds the account lock while blocked in the store read
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := engine.LockCollateral(ctx, testAccount, dec("0.1"))
		done <- err
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // let it take the lock and block in Get

	_, err := engine.LockCollateral(ctx, testAccount, dec("0.1"))
	assert.ErrorIs(t, err, model.ErrBusy)

	close(gate)
	require.NoError(t, <-done)
}

func TestConflict_RetriesOnceThenFails(t *testing.T) {
	store := memory.NewPositionRepository()
	ctx := context.Background()

	t.Run("single conflict is retried", func(t *testing.T) {
		conflicting := &conflictingStore{PositionStore: store, conflicts: 1}
		engine := newTestEngine(t, conflicting, newStubOracle("50000"))

		_, err := engine.LockCollateral(ctx, "0xretry", dec("0.1"))
		require.NoError(t, err)
		assert.Equal(t, 2, conflicting.attempts)
	})

	t.Run("persistent conflict fails as retryable", func(t *testing.T) {
		conflicting := &conflictingStore{PositionStore: store, conflicts: -1}
		engine := newTestEngine(t, conflicting, newStubOracle("50000"))

		_, err := engine.LockCollateral(ctx, "0xconflict", dec("0.1"))
		assert.ErrorIs(t, err, model.ErrConflict)
		assert.Equal(t, 2, conflicting.attempts, "exactly one retry before giving up")
	})
}

// gatedStore blocks Get until the gate closes, keeping the caller inside the
// engine's critical section.
type gatedStore struct {
	repository.PositionStore
	gate <-chan struct{}
}

func (s *gatedStore) Get(ctx context.Context, account string) (model.Position, int64, error) {
	<-s.gate
	return s.PositionStore.Get(ctx, account)
}

// conflictingStore fails the first n CompareAndSet calls with a version
// conflict (all of them when n < 0).
type conflictingStore struct {
	repository.PositionStore
	conflicts int
	attempts  int
}

func (s *conflictingStore) CompareAndSet(ctx context.Context, account string, expectedVersion int64, pos model.Position, change repository.Change) error {
	s.attempts++
	if s.conflicts < 0 || s.attempts <= s.conflicts {
		return repository.ErrVersionConflict
	}
	return s.PositionStore.CompareAndSet(ctx, account, expectedVersion, pos, change)
}
