package repository

import (
	"context"
	"errors"

	"github.com/calonkonglo/rwa-lending-platform/internal/domain/model"
	"github.com/shopspring/decimal"
)

// ErrVersionConflict is returned by CompareAndSet when the stored position
// changed since the version the caller read. The engine re-reads and
// re-validates once before giving up.
var ErrVersionConflict = errors.New("position version conflict")

// Change describes the operation that produced a committed position, for the
// audit trail written alongside the commit.
type Change struct {
	Operation string // "lock_collateral", "borrow", "repay", "unlock_collateral"
	Amount    decimal.Decimal
}

// PositionStore holds one position per account and provides
// compare-and-swap commit semantics. Version 0 means "no stored position";
// a Get for an absent account returns an empty position with version 0, and
// a CompareAndSet with expectedVersion 0 creates the record. Committing an
// empty position (zero collateral, zero debt) removes the record.
type PositionStore interface {
	// Get returns the committed position and its version for an account
	Get(ctx context.Context, account string) (model.Position, int64, error)

	// CompareAndSet commits pos if the stored version still equals
	// expectedVersion, recording change in the audit trail. Returns
	// ErrVersionConflict otherwise.
	CompareAndSet(ctx context.Context, account string, expectedVersion int64, pos model.Position, change Change) error
}
