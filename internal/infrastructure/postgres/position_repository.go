package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/calonkonglo/rwa-lending-platform/internal/domain/model"
	"github.com/calonkonglo/rwa-lending-platform/internal/domain/repository"
)

type positionRepository struct {
	pool *pgxpool.Pool
}

// NewPositionRepository creates a PostgreSQL-backed PositionStore with
// optimistic per-account versioning.
func NewPositionRepository(pool *pgxpool.Pool) repository.PositionStore {
	return &positionRepository{pool: pool}
}

func (r *positionRepository) Get(ctx context.Context, account string) (model.Position, int64, error) {
	query := `
		SELECT account, collateral_amount, loan_id, borrowed_amount, collateral_at_last_update,
		       loan_status, originated_at, loan_modified_at, version, created_at, updated_at
		FROM positions
		WHERE account = $1
	`

	var (
		pos            model.Position
		loanID         uuid.NullUUID
		borrowed       decimal.NullDecimal
		collateralSnap decimal.NullDecimal
		loanStatus     *string
		originatedAt   *time.Time
		loanModifiedAt *time.Time
		version        int64
	)

	err := r.pool.QueryRow(ctx, query, account).Scan(
		&pos.Account, &pos.CollateralAmount, &loanID, &borrowed, &collateralSnap,
		&loanStatus, &originatedAt, &loanModifiedAt, &version, &pos.CreatedAt, &pos.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NewPosition(account), 0, nil
		}
		return model.Position{}, 0, fmt.Errorf("failed to get position: %w", err)
	}

	if loanID.Valid {
		pos.Loan = &model.Loan{
			ID:                     loanID.UUID,
			BorrowedAmount:         borrowed.Decimal,
			CollateralAtLastUpdate: collateralSnap.Decimal,
			Status:                 model.LoanStatus(*loanStatus),
			OriginatedAt:           *originatedAt,
			LastModifiedAt:         *loanModifiedAt,
		}
	}

	return pos, version, nil
}

func (r *positionRepository) CompareAndSet(ctx context.Context, account string, expectedVersion int64, pos model.Position, change repository.Change) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	newVersion := expectedVersion + 1

	switch {
	case pos.IsEmpty() && expectedVersion == 0:
		// Nothing stored and nothing to store; only the audit row is written.

	case pos.IsEmpty():
		tag, err := tx.Exec(ctx,
			`DELETE FROM positions WHERE account = $1 AND version = $2`,
			account, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to delete position: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrVersionConflict
		}

	case expectedVersion == 0:
		tag, err := tx.Exec(ctx, `
			INSERT INTO positions (account, collateral_amount, loan_id, borrowed_amount,
			                       collateral_at_last_update, loan_status, originated_at,
			                       loan_modified_at, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (account) DO NOTHING
		`, positionArgs(account, pos, newVersion)...)
		if err != nil {
			return fmt.Errorf("failed to insert position: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrVersionConflict
		}

	default:
		tag, err := tx.Exec(ctx, `
			UPDATE positions
			SET collateral_amount = $2, loan_id = $3, borrowed_amount = $4,
			    collateral_at_last_update = $5, loan_status = $6, originated_at = $7,
			    loan_modified_at = $8, version = $9, created_at = $10, updated_at = $11
			WHERE account = $1 AND version = $12
		`, append(positionArgs(account, pos, newVersion), expectedVersion)...)
		if err != nil {
			return fmt.Errorf("failed to update position: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrVersionConflict
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO position_events (account, operation, amount, collateral_amount, borrowed_amount, version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, account, change.Operation, change.Amount, pos.CollateralAmount, pos.BorrowedAmount(), newVersion)
	if err != nil {
		return fmt.Errorf("failed to record position event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

// positionArgs flattens a position into the insert/update parameter list
// ($1..$11); loan columns are NULL for loan-free positions.
func positionArgs(account string, pos model.Position, version int64) []any {
	var (
		loanID         *uuid.UUID
		borrowed       decimal.NullDecimal
		collateralSnap decimal.NullDecimal
		loanStatus     *string
		originatedAt   *time.Time
		loanModifiedAt *time.Time
	)

	if pos.Loan != nil {
		id := pos.Loan.ID
		status := string(pos.Loan.Status)
		origAt := pos.Loan.OriginatedAt
		modAt := pos.Loan.LastModifiedAt

		loanID = &id
		borrowed = decimal.NullDecimal{Decimal: pos.Loan.BorrowedAmount, Valid: true}
		collateralSnap = decimal.NullDecimal{Decimal: pos.Loan.CollateralAtLastUpdate, Valid: true}
		loanStatus = &status
		originatedAt = &origAt
		loanModifiedAt = &modAt
	}

	return []any{
		account, pos.CollateralAmount, loanID, borrowed, collateralSnap,
		loanStatus, originatedAt, loanModifiedAt, version, pos.CreatedAt, pos.UpdatedAt,
	}
}
