// Package ledger is the durable store for synced bank transactions, the
// notification dedup ledger, and the per-run execution logs. Two
// implementations are provided: SQLite for single-node deployments and
// Postgres for shared ones. All writes are idempotent so overlapping runs
// cannot corrupt state.
package ledger

import (
	"context"
	"fmt"

	"github.com/example/bank-sync/internal/provider"
	"github.com/example/bank-sync/internal/runlog"
)

// UpsertOutcome reports what happened to a single transaction row.
type UpsertOutcome struct {
	ID       string
	Inserted bool
}

// Store is the persistence contract consumed by the sync runner.
type Store interface {
	// UpsertTransactions writes booked transactions with insert-or-ignore
	// semantics keyed by transaction id. Existing rows are never overwritten.
	UpsertTransactions(ctx context.Context, txns []provider.Transaction) ([]UpsertOutcome, error)

	// CheckNotified reports, per id, whether an alert was already sent.
	CheckNotified(ctx context.Context, ids []string) (map[string]bool, error)

	// RecordNotified marks the given ids as alerted. Idempotent.
	RecordNotified(ctx context.Context, ids []string) error

	// AppendRunLog appends one execution log row for a completed run.
	AppendRunLog(ctx context.Context, runID, revision string, entries []runlog.Entry) error

	Close() error
}

// PersistenceError wraps a store write or read failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
