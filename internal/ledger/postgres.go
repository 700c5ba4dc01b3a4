package ledger

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    "github.com/jackc/pgx/v5/pgxpool"

    "github.com/example/bank-sync/internal/provider"
    "github.com/example/bank-sync/internal/runlog"
)

// PostgresStore persists the ledger in PostgreSQL for shared deployments
// where multiple sync daemons may write concurrently.
type PostgresStore struct {
    Pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS bank_transactions (
    id TEXT PRIMARY KEY,
    booking_date TEXT,
    value_date TEXT,
    blob JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS transaction_notifications (
    id TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS execution_logs (
    id BIGSERIAL PRIMARY KEY,
    run_id TEXT NOT NULL,
    revision TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    logs JSONB NOT NULL
);
`

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
    pool, err := pgxpool.New(ctx, databaseURL)
    if err != nil {
        return nil, fmt.Errorf("failed to create postgres pool: %w", err)
    }

    migrateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
    defer cancel()

    if _, err := pool.Exec(migrateCtx, postgresSchema); err != nil {
        pool.Close()
        return nil, fmt.Errorf("failed to run postgres migrations: %w", err)
    }

    return &PostgresStore{Pool: pool}, nil
}

func (s *PostgresStore) UpsertTransactions(ctx context.Context, txns []provider.Transaction) ([]UpsertOutcome, error) {
    outcomes := make([]UpsertOutcome, 0, len(txns))

    for _, tx := range txns {
        blob, err := json.Marshal(tx)
        if err != nil {
            return nil, &PersistenceError{Op: "upsert_transactions", Err: err}
        }

        // Timeout applies per row so large batches do not share one deadline.
        queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
        tag, err := s.Pool.Exec(queryCtx, `
            INSERT INTO bank_transactions (id, booking_date, value_date, blob)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (id) DO NOTHING
        `, tx.ID, tx.BookingDate, tx.ValueDate, blob)
        cancel()
        if err != nil {
            return nil, &PersistenceError{Op: "upsert_transactions", Err: err}
        }

        outcomes = append(outcomes, UpsertOutcome{ID: tx.ID, Inserted: tag.RowsAffected() > 0})
    }

    return outcomes, nil
}

func (s *PostgresStore) CheckNotified(ctx context.Context, ids []string) (map[string]bool, error) {
    notified := make(map[string]bool, len(ids))
    if len(ids) == 0 {
        return notified, nil
    }
    for _, id := range ids {
        notified[id] = false
    }

    queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()

    rows, err := s.Pool.Query(queryCtx,
        "SELECT id FROM transaction_notifications WHERE id = ANY($1)", ids)
    if err != nil {
        return nil, &PersistenceError{Op: "check_notified", Err: err}
    }
    defer rows.Close()

    for rows.Next() {
        var id string
        if err := rows.Scan(&id); err != nil {
            return nil, &PersistenceError{Op: "check_notified", Err: err}
        }
        notified[id] = true
    }
    if err := rows.Err(); err != nil {
        return nil, &PersistenceError{Op: "check_notified", Err: err}
    }

    return notified, nil
}

func (s *PostgresStore) RecordNotified(ctx context.Context, ids []string) error {
    if len(ids) == 0 {
        return nil
    }

    now := time.Now().UTC()
    for _, id := range ids {
        queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
        _, err := s.Pool.Exec(queryCtx, `
            INSERT INTO transaction_notifications (id, created_at)
            VALUES ($1, $2)
            ON CONFLICT (id) DO NOTHING
        `, id, now)
        cancel()
        if err != nil {
            return &PersistenceError{Op: "record_notified", Err: err}
        }
    }

    return nil
}

func (s *PostgresStore) AppendRunLog(ctx context.Context, runID, revision string, entries []runlog.Entry) error {
    logs, err := runlog.MarshalEntries(entries)
    if err != nil {
        return &PersistenceError{Op: "append_run_log", Err: err}
    }

    queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()

    _, err = s.Pool.Exec(queryCtx, `
        INSERT INTO execution_logs (run_id, revision, created_at, logs)
        VALUES ($1, $2, $3, $4)
    `, runID, revision, time.Now().UTC(), logs)
    if err != nil {
        return &PersistenceError{Op: "append_run_log", Err: err}
    }

    return nil
}

func (s *PostgresStore) Close() error {
    s.Pool.Close()
    return nil
}
