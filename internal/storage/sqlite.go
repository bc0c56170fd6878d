package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Pragmas are applied by the driver to every pooled connection.
const dsnPragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// migrations are applied in order; migrations[i] moves user_version from i to i+1.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
  id           TEXT PRIMARY KEY,
  batch_id     TEXT NOT NULL,
  item_index   INTEGER NOT NULL DEFAULT 0,
  kind         TEXT NOT NULL,
  model        TEXT NOT NULL,
  prompt       TEXT NOT NULL,
  status       TEXT NOT NULL,
  job_name     TEXT,
  output       TEXT,
  error        TEXT,
  created_at   TEXT NOT NULL,
  completed_at TEXT,
  duration_ms  INTEGER
);
CREATE INDEX IF NOT EXISTS runs_created_at_idx ON runs(created_at);`,
	`CREATE INDEX IF NOT EXISTS runs_status_idx ON runs(status, created_at);
CREATE INDEX IF NOT EXISTS runs_batch_idx ON runs(batch_id, item_index);`,
}

// SchemaVersion is the user_version a fully migrated database reports.
var SchemaVersion = len(migrations)

// OpenSQLite opens the run history at path, creating the file and its
// directory when missing, and migrates it to SchemaVersion.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("state.path is empty")
	}
	if err := CheckLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the migrations db has not seen yet. A database newer than
// this binary is an error.
func Migrate(ctx context.Context, db *sql.DB) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > len(migrations) {
		return fmt.Errorf("schema version %d is newer than supported version %d", current, len(migrations))
	}

	for v := current; v < len(migrations); v++ {
		if err := applyMigration(ctx, db, v); err != nil {
			return fmt.Errorf("migrate to version %d: %w", v+1, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, v int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
		return err
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
		return err
	}
	return tx.Commit()
}
