package memory

import (
	"context"
	"sync"
	"time"

	"github.com/calonkonglo/rwa-lending-platform/internal/domain/model"
	"github.com/calonkonglo/rwa-lending-platform/internal/domain/repository"
)

type record struct {
	pos     model.Position
	version int64
}

// auditEntry mirrors the postgres position_events row for inspection in tests
type auditEntry struct {
	Account string
	Change  repository.Change
	Version int64
	At      time.Time
}

// PositionRepository is an in-process PositionStore with the same
// compare-and-swap semantics as the postgres implementation. Used by tests
// and the "memory" storage driver for local development.
type PositionRepository struct {
	mu      sync.RWMutex
	records map[string]record
	audit   []auditEntry
}

// NewPositionRepository creates an empty in-memory position store
func NewPositionRepository() *PositionRepository {
	return &PositionRepository{
		records: make(map[string]record),
	}
}

// Get returns the committed position and version, or an empty position with
// version 0 when the account has no stored position.
func (r *PositionRepository) Get(ctx context.Context, account string) (model.Position, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[account]
	if !ok {
		return model.NewPosition(account), 0, nil
	}
	return clone(rec.pos), rec.version, nil
}

// CompareAndSet commits pos if the stored version still matches.
// Committing an empty position deletes the record.
func (r *PositionRepository) CompareAndSet(ctx context.Context, account string, expectedVersion int64, pos model.Position, change repository.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[account]
	currentVersion := int64(0)
	if ok {
		currentVersion = current.version
	}
	if currentVersion != expectedVersion {
		return repository.ErrVersionConflict
	}

	newVersion := expectedVersion + 1
	if pos.IsEmpty() {
		delete(r.records, account)
	} else {
		r.records[account] = record{pos: clone(pos), version: newVersion}
	}

	r.audit = append(r.audit, auditEntry{
		Account: account,
		Change:  change,
		Version: newVersion,
		At:      time.Now(),
	})
	return nil
}

// AuditLen returns the number of committed changes recorded so far
func (r *PositionRepository) AuditLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.audit)
}

// clone deep-copies a position so callers cannot mutate stored state
func clone(pos model.Position) model.Position {
	out := pos
	if pos.Loan != nil {
		loan := *pos.Loan
		out.Loan = &loan
	}
	return out
}
