package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresSchemaV1 = `
CREATE TABLE IF NOT EXISTS docrelay_runs (
  id           TEXT PRIMARY KEY,
  target       TEXT NOT NULL,
  source       TEXT NOT NULL,
  started_at   TIMESTAMPTZ NOT NULL,
  finished_at  TIMESTAMPTZ,
  total        INTEGER NOT NULL DEFAULT 0,
  succeeded    INTEGER NOT NULL DEFAULT 0,
  failed       INTEGER NOT NULL DEFAULT 0,
  failure_file TEXT,
  error        TEXT
);
CREATE INDEX IF NOT EXISTS idx_docrelay_runs_started
  ON docrelay_runs(started_at DESC);

CREATE TABLE IF NOT EXISTS docrelay_attempts (
  id           TEXT PRIMARY KEY,
  run_id       TEXT NOT NULL,
  seq          INTEGER NOT NULL,
  document_key TEXT,
  target       TEXT NOT NULL,
  status_code  INTEGER,
  error        TEXT,
  outcome      TEXT NOT NULL,
  duration_ms  BIGINT NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_docrelay_attempts_run
  ON docrelay_attempts(run_id, seq);

CREATE TABLE IF NOT EXISTS docrelay_schema_migrations (
  version INTEGER NOT NULL
);
`

type PostgresOption func(*PostgresStore)

func WithPostgresNowFunc(now func() time.Time) PostgresOption {
	return func(s *PostgresStore) {
		if now != nil {
			s.nowFn = now
		}
	}
}

type PostgresStore struct {
	db    *sql.DB
	nowFn func() time.Time
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty postgres dsn")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &PostgresStore{
		db:    db,
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) now() time.Time {
	return s.nowFn().UTC()
}

func (s *PostgresStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchemaV1); err != nil {
		return fmt.Errorf("postgres: migrate v1: %w", err)
	}
	var current int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM docrelay_schema_migrations LIMIT 1`).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, `INSERT INTO docrelay_schema_migrations(version) VALUES ($1)`, schemaVersion); err != nil {
			return fmt.Errorf("postgres: write schema_version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("postgres: read schema_version: %w", err)
	case current > schemaVersion:
		return fmt.Errorf("postgres: schema_version=%d, want <=%d", current, schemaVersion)
	}
	return nil
}

func (s *PostgresStore) StartRun(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO docrelay_runs (id, target, source, started_at) VALUES ($1, $2, $3, $4)
`, run.ID, run.Target, run.Source, run.StartedAt.UTC())
	return mapPostgresInsertError(err)
}

func (s *PostgresStore) FinishRun(ctx context.Context, run Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE docrelay_runs
SET finished_at = $1, total = $2, succeeded = $3, failed = $4, failure_file = $5, error = $6
WHERE id = $7
`,
		run.FinishedAt.UTC(),
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

func (s *PostgresStore) GetRun(ctx context.Context, id string) (Run, error) {
	return scanPostgresRun(s.db.QueryRowContext(ctx, `
SELECT id, target, source, started_at, finished_at, total, succeeded, failed, failure_file, error
FROM docrelay_runs WHERE id = $1
`, id))
}

func (s *PostgresStore) LatestRun(ctx context.Context) (Run, error) {
	return scanPostgresRun(s.db.QueryRowContext(ctx, `
SELECT id, target, source, started_at, finished_at, total, succeeded, failed, failure_file, error
FROM docrelay_runs ORDER BY started_at DESC, id DESC LIMIT 1
`))
}

func scanPostgresRun(row *sql.Row) (Run, error) {
	var run Run
	var finishedAt sql.NullTime
	var failureFile, errText sql.NullString
	if err := row.Scan(
		&run.ID,
		&run.Target,
		&run.Source,
		&run.StartedAt,
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
	run.StartedAt = run.StartedAt.UTC()
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time.UTC()
	}
	run.FailureFile = failureFile.String
	run.Error = errText.String
	return run, nil
}

func (s *PostgresStore) RecordAttempt(ctx context.Context, attempt Attempt) error {
	attempt = normalizeAttempt(attempt, s.now)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO docrelay_attempts (
  id, run_id, seq, document_key, target, status_code, error, outcome, duration_ms, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
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
		attempt.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListAttempts(ctx context.Context, req AttemptListRequest) (AttemptListResponse, error) {
	limit := normalizeLimit(req.Limit)

	query := `
SELECT id, run_id, seq, document_key, target, status_code, error, outcome, duration_ms, created_at
FROM docrelay_attempts
WHERE 1 = 1`
	args := make([]any, 0, 3)
	if req.RunID != "" {
		args = append(args, req.RunID)
		query += fmt.Sprintf(" AND run_id = $%d", len(args))
	}
	if req.Outcome != "" {
		args = append(args, string(req.Outcome))
		query += fmt.Sprintf(" AND outcome = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at ASC, seq ASC LIMIT $%d", len(args))

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
		var durationMs int64
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
			&item.CreatedAt,
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
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return AttemptListResponse{}, err
	}
	return AttemptListResponse{Items: items}, nil
}

func mapPostgresInsertError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrRunExists
	}
	return err
}
