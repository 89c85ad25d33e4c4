// Package journal keeps an optional audit trail of runs and dispatch
// attempts in SQLite or PostgreSQL.
package journal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("journal: not found")
	ErrRunExists = errors.New("journal: run already exists")
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

type Attempt struct {
	ID          string
	RunID       string
	Seq         int
	DocumentKey string
	Target      string
	StatusCode  int
	Error       string
	Outcome     Outcome
	Duration    time.Duration
	CreatedAt   time.Time
}

type Run struct {
	ID          string
	Target      string
	Source      string
	StartedAt   time.Time
	FinishedAt  time.Time
	Total       int
	Succeeded   int
	Failed      int
	FailureFile string
	Error       string
}

type AttemptListRequest struct {
	RunID   string
	Outcome Outcome
	Limit   int
}

type AttemptListResponse struct {
	Items []Attempt
}

type Store interface {
	StartRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	LatestRun(ctx context.Context) (Run, error)
	RecordAttempt(ctx context.Context, attempt Attempt) error
	ListAttempts(ctx context.Context, req AttemptListRequest) (AttemptListResponse, error)
	Close() error
}

const (
	defaultListLimit = 100
	maxListLimit     = 10000
)

func normalizeLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func normalizeAttempt(a Attempt, now func() time.Time) Attempt {
	if strings.TrimSpace(a.ID) == "" {
		a.ID = newHexID("att_")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.Error = strings.TrimSpace(a.Error)
	if a.Outcome == "" {
		a.Outcome = OutcomeFailed
	}
	return a
}

func newHexID(prefix string) string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return prefix + hex.EncodeToString(b[:])
}

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
