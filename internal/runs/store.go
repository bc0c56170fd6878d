package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	truncatedMarker  = "\n[output truncated]"
)

// Store persists run history. It is append-only from the node layer's point of
// view: a run is started once and completed once.
type Store struct {
	db          *sql.DB
	outputLimit int
	now         func() time.Time
}

// New returns a Store. outputLimit caps stored output bytes; <= 0 keeps everything.
func New(db *sql.DB, outputLimit int) *Store {
	return &Store{db: db, outputLimit: outputLimit, now: time.Now}
}

func (s *Store) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.Kind == "" {
		return "", fmt.Errorf("kind is empty")
	}
	if req.BatchID == "" {
		return "", fmt.Errorf("batch_id is empty")
	}

	id := uuid.NewString()
	now := s.now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs(id, batch_id, item_index, kind, model, prompt, status, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, id, req.BatchID, req.ItemIndex, req.Kind, req.Model, req.Prompt, StatusRunning, now)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// Complete marks a running run terminal. Completing an unknown or already
// completed run returns ErrRunNotFound.
func (s *Store) Complete(ctx context.Context, id string, c Completion) error {
	if id == "" {
		return fmt.Errorf("run id is empty")
	}
	if !c.Status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", c.Status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var createdAtS string
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM runs WHERE id = ? AND status = ?;`, id, StatusRunning).Scan(&createdAtS)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRunNotFound
	}
	if err != nil {
		return fmt.Errorf("load run for completion: %w", err)
	}

	completed := s.now().UTC()
	var durationMS any
	if created, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		durationMS = completed.Sub(created).Milliseconds()
	}

	_, err = tx.ExecContext(ctx, `
UPDATE runs
SET status = ?, job_name = ?, output = ?, error = ?, completed_at = ?, duration_ms = ?
WHERE id = ?;
`, c.Status, nullIfEmpty(c.JobName), nullIfEmpty(s.capOutput(c.Output)), nullIfEmpty(c.Error),
		completed.Format(time.RFC3339Nano), durationMS, id)
	if err != nil {
		return fmt.Errorf("update run completion: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+runColumns+`
FROM runs
WHERE id = ?;
`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Run, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	q := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func (s *Store) capOutput(out string) string {
	if s.outputLimit <= 0 || len(out) <= s.outputLimit {
		return out
	}
	cut := s.outputLimit
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut] + truncatedMarker
}

const runColumns = `id, batch_id, item_index, kind, model, prompt, status, job_name, output, error, created_at, completed_at, duration_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r            Run
		kindS        string
		statusS      string
		jobName      sql.NullString
		output       sql.NullString
		errS         sql.NullString
		createdAtS   string
		completedAtS sql.NullString
		durationMS   sql.NullInt64
	)
	if err := sc.Scan(
		&r.ID, &r.BatchID, &r.ItemIndex, &kindS, &r.Model, &r.Prompt, &statusS,
		&jobName, &output, &errS, &createdAtS, &completedAtS, &durationMS,
	); err != nil {
		return nil, err
	}

	r.Kind = Kind(kindS)
	r.Status = Status(statusS)
	r.JobName = jobName.String
	r.Output = output.String
	r.Error = errS.String
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		r.CreatedAt = t
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			r.CompletedAt = &t
		}
	}
	if durationMS.Valid {
		r.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	return &r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
