package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "modernc.org/sqlite"
)

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
  id           TEXT PRIMARY KEY,
  target       TEXT NOT NULL,
  source       TEXT NOT NULL,
  started_at   INTEGER NOT NULL,
  finished_at  INTEGER,
  total        INTEGER NOT NULL DEFAULT 0,
  succeeded    INTEGER NOT NULL DEFAULT 0,
  failed       INTEGER NOT NULL DEFAULT 0,
  failure_file TEXT,
  error        TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started
  ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS dispatch_attempts (
  id           TEXT PRIMARY KEY,
  run_id       TEXT NOT NULL,
  seq          INTEGER NOT NULL,
  document_key TEXT,
  target       TEXT NOT NULL,
  status_code  INTEGER,
  error        TEXT,
  outcome      TEXT NOT NULL,
  duration_ms  INTEGER NOT NULL,
  created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dispatch_attempts_run
  ON dispatch_attempts(run_id, seq);
CREATE INDEX IF NOT EXISTS idx_dispatch_attempts_outcome
  ON dispatch_attempts(run_id, outcome, seq);
`

type SQLiteOption func(*SQLiteStore)

func WithSQLiteNowFunc(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		if now != nil {
			s.nowFn = now
		}
	}
}

type SQLiteStore struct {
	db    *sql.DB
	nowFn func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, opts ...SQLiteOption) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, errors.New("empty db path")
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:    db,
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) now() time.Time {
	return s.nowFn().UTC()
}

func (s *SQLiteStore) init() error {
	ctx := context.Background()

	var journalMode string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("sqlite: set journal_mode=wal: %w", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		return fmt.Errorf("sqlite: journal_mode=%q, want wal", journalMode)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		return fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	return s.migrate(ctx)
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE;"); err != nil {
		return err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		_, _ = conn.ExecContext(ctx, "ROLLBACK;")
	}()

	if _, err := conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER NOT NULL
);
`); err != nil {
		return fmt.Errorf("sqlite: init migrations table: %w", err)
	}

	var current int
	err = conn.QueryRowContext(ctx, `SELECT version FROM schema_migrations LIMIT 1;`).Scan(&current)
	hasVersion := true
	if errors.Is(err, sql.ErrNoRows) {
		hasVersion = false
	} else if err != nil {
		return fmt.Errorf("sqlite: read schema_version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("sqlite: schema_version=%d, want <=%d", current, schemaVersion)
	}

	for v := current + 1; v <= schemaVersion; v++ {
		switch v {
		case 1:
			if _, err := conn.ExecContext(ctx, schemaV1); err != nil {
				return fmt.Errorf("sqlite: migrate v1: %w", err)
			}
		default:
			return fmt.Errorf("sqlite: unknown migration %d", v)
		}
	}

	if !hasVersion || current != schemaVersion {
		if _, err := conn.ExecContext(ctx, `INSERT OR REPLACE INTO schema_migrations(rowid, version) VALUES (1, ?);`, schemaVersion); err != nil {
			return fmt.Errorf("sqlite: write schema_version: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT;"); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (id, target, source, started_at) VALUES (?, ?, ?, ?);
`, run.ID, run.Target, run.Source, run.StartedAt.UTC().UnixNano())
	if isSQLiteConstraintError(err) {
		return ErrRunExists
	}
	return err
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE runs
SET finished_at = ?, total = ?, succeeded = ?, failed = ?, failure_file = ?, error = ?
WHERE id = ?;
`,
		run.FinishedAt.UTC().UnixNano(),
		run.Total,
		run.Succeeded,
		run.Failed,
		nullIfEmpty(run.FailureFile),
		nullIfEmpty(run.Error),
		run.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, error) {
	return s.scanRun(s.db.QueryRowContext(ctx, `
SELECT id, target, source, started_at, finished_at, total, succeeded, failed, failure_file, error
FROM runs WHERE id = ?;
`, id))
}

func (s *SQLiteStore) LatestRun(ctx context.Context) (Run, error) {
	return s.scanRun(s.db.QueryRowContext(ctx, `
SELECT id, target, source, started_at, finished_at, total, succeeded, failed, failure_file, error
FROM runs ORDER BY started_at DESC, id DESC LIMIT 1;
`))
}

func (s *SQLiteStore) scanRun(row *sql.Row) (Run, error) {
	var run Run
	var startedAt int64
	var finishedAt sql.NullInt64
	var failureFile, errText sql.NullString
	if err := row.Scan(
		&run.ID,
		&run.Target,
		&run.Source,
		&startedAt,
		&finishedAt,
		&run.Total,
		&run.Succeeded,
		&run.Failed,
		&failureFile,
		&errText,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	run.StartedAt = time.Unix(0, startedAt).UTC()
	if finishedAt.Valid {
		run.FinishedAt = time.Unix(0, finishedAt.Int64).UTC()
	}
	run.FailureFile = failureFile.String
	run.Error = errText.String
	return run, nil
}

func (s *SQLiteStore) RecordAttempt(ctx context.Context, attempt Attempt) error {
	attempt = normalizeAttempt(attempt, s.now)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dispatch_attempts (
  id, run_id, seq, document_key, target, status_code, error, outcome, duration_ms, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		attempt.ID,
		attempt.RunID,
		attempt.Seq,
		nullIfEmpty(attempt.DocumentKey),
		attempt.Target,
		nullInt(attempt.StatusCode),
		nullIfEmpty(attempt.Error),
		string(attempt.Outcome),
		attempt.Duration.Milliseconds(),
		attempt.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, req AttemptListRequest) (AttemptListResponse, error) {
	limit := normalizeLimit(req.Limit)

	query := `
SELECT id, run_id, seq, document_key, target, status_code, error, outcome, duration_ms, created_at
FROM dispatch_attempts
WHERE 1 = 1`
	args := make([]any, 0, 3)
	if req.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, req.RunID)
	}
	if req.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(req.Outcome))
	}
	query += " ORDER BY created_at ASC, seq ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return AttemptListResponse{}, err
	}
	defer rows.Close()

	items := make([]Attempt, 0)
	for rows.Next() {
		var item Attempt
		var docKey, errText sql.NullString
		var statusCode sql.NullInt64
		var outcome string
		var durationMs, createdAt int64
		if err := rows.Scan(
			&item.ID,
			&item.RunID,
			&item.Seq,
			&docKey,
			&item.Target,
			&statusCode,
			&errText,
			&outcome,
			&durationMs,
			&createdAt,
		); err != nil {
			return AttemptListResponse{}, err
		}
		item.DocumentKey = docKey.String
		if statusCode.Valid {
			item.StatusCode = int(statusCode.Int64)
		}
		item.Error = errText.String
		item.Outcome = Outcome(outcome)
		item.Duration = time.Duration(durationMs) * time.Millisecond
		item.CreatedAt = time.Unix(0, createdAt).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return AttemptListResponse{}, err
	}
	return AttemptListResponse{Items: items}, nil
}

func isSQLiteConstraintError(err error) bool {
	var sqliteErr *sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	// Extended result codes keep the base code in the low byte.
	const sqliteConstraintBase = 19
	return sqliteErr.Code()&0xff == sqliteConstraintBase
}
