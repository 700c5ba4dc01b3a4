package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/bank-sync/internal/provider"
	"github.com/example/bank-sync/internal/runlog"
)

// SQLiteStore persists the ledger in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bank_transactions (
	id TEXT PRIMARY KEY,
	booking_date TEXT,
	value_date TEXT,
	blob TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transaction_notifications (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS execution_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	revision TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	logs TEXT NOT NULL
);
`

// NewSQLiteStore opens (creating if necessary) a SQLite ledger at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run sqlite migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreFromDB wraps an existing database handle. The caller is
// responsible for the schema. Used in tests.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to run sqlite migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) UpsertTransactions(ctx context.Context, txns []provider.Transaction) ([]UpsertOutcome, error) {
	outcomes := make([]UpsertOutcome, 0, len(txns))

	for _, tx := range txns {
		blob, err := json.Marshal(tx)
		if err != nil {
			return nil, &PersistenceError{Op: "upsert_transactions", Err: err}
		}

		res, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO bank_transactions (id, booking_date, value_date, blob)
			VALUES (?, ?, ?, ?)
		`, tx.ID, tx.BookingDate, tx.ValueDate, string(blob))
		if err != nil {
			return nil, &PersistenceError{Op: "upsert_transactions", Err: err}
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, &PersistenceError{Op: "upsert_transactions", Err: err}
		}

		outcomes = append(outcomes, UpsertOutcome{ID: tx.ID, Inserted: n > 0})
	}

	return outcomes, nil
}

func (s *SQLiteStore) CheckNotified(ctx context.Context, ids []string) (map[string]bool, error) {
	notified := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return notified, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		notified[id] = false
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM transaction_notifications WHERE id IN ("+placeholders+")", args...)
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

func (s *SQLiteStore) RecordNotified(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, id := range ids {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO transaction_notifications (id, created_at)
			VALUES (?, ?)
		`, id, now)
		if err != nil {
			return &PersistenceError{Op: "record_notified", Err: err}
		}
	}

	return nil
}

func (s *SQLiteStore) AppendRunLog(ctx context.Context, runID, revision string, entries []runlog.Entry) error {
	logs, err := runlog.MarshalEntries(entries)
	if err != nil {
		return &PersistenceError{Op: "append_run_log", Err: err}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (run_id, revision, created_at, logs)
		VALUES (?, ?, ?, ?)
	`, runID, revision, time.Now().UTC(), logs)
	if err != nil {
		return &PersistenceError{Op: "append_run_log", Err: err}
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
