package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"

	"github.com/nuetzliches/docrelay/internal/config"
	"github.com/nuetzliches/docrelay/internal/journal"
)

type attemptJSON struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	Seq         int    `json:"seq"`
	DocumentKey string `json:"document_key,omitempty"`
	Target      string `json:"target"`
	StatusCode  int    `json:"status_code,omitempty"`
	Error       string `json:"error,omitempty"`
	Outcome     string `json:"outcome"`
	DurationMS  int64  `json:"duration_ms"`
	CreatedAt   string `json:"created_at"`
}

type attemptsPayload struct {
	Run      runJSON       `json:"run"`
	Attempts []attemptJSON `json:"attempts"`
}

type runJSON struct {
	ID          string `json:"id"`
	Target      string `json:"target"`
	Source      string `json:"source"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
	Total       int    `json:"total"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	FailureFile string `json:"failure_file,omitempty"`
	Error       string `json:"error,omitempty"`
}

func attemptsCmd(args []string) int {
	return runAttemptsCmd(context.Background(), args, os.LookupEnv, os.Stdout, os.Stderr)
}

func runAttemptsCmd(ctx context.Context, args []string, lookup func(string) (string, bool), stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("attempts", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("journal-db", "", "sqlite journal path [DOCRELAY_JOURNAL_DB]")
	dsn := fs.String("journal-postgres-dsn", "", "postgres journal DSN [DOCRELAY_JOURNAL_POSTGRES_DSN]")
	runID := fs.String("run", "", "run id (default: latest run)")
	outcome := fs.String("outcome", "", "filter by outcome: succeeded|failed")
	limit := fs.Int("limit", 100, "maximum attempts to list")
	jsonOutput := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "attempts: unexpected positional arguments")
		return 2
	}

	switch journal.Outcome(*outcome) {
	case "", journal.OutcomeSucceeded, journal.OutcomeFailed:
	default:
		fmt.Fprintf(stderr, "attempts: invalid --outcome %q (use: succeeded|failed)\n", *outcome)
		return 2
	}

	env, envErrs := config.FromEnv(config.Config{}, lookup)
	if len(envErrs) > 0 {
		fmt.Fprintf(stderr, "attempts: %s\n", strings.Join(envErrs, "; "))
		return 2
	}
	jcfg := env.Journal
	if *dbPath != "" || *dsn != "" {
		jcfg = config.JournalConfig{SQLitePath: *dbPath, PostgresDSN: *dsn}
	}
	// Opening a SQLite path creates and migrates it, which a read-only
	// listing must not do.
	if p := strings.TrimSpace(jcfg.SQLitePath); p != "" && strings.TrimSpace(jcfg.PostgresDSN) == "" {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(stderr, "attempts: journal not found: %s\n", p)
			} else {
				fmt.Fprintf(stderr, "attempts: open journal: %v\n", err)
			}
			return 1
		}
	}
	store, err := openJournal(jcfg)
	if errors.Is(err, errJournalNotConfigured) {
		fmt.Fprintf(stderr, "attempts: %v\n", err)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "attempts: open journal: %v\n", err)
		return 1
	}
	defer store.Close()

	var run journal.Run
	if strings.TrimSpace(*runID) == "" {
		run, err = store.LatestRun(ctx)
	} else {
		run, err = store.GetRun(ctx, strings.TrimSpace(*runID))
	}
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			fmt.Fprintln(stderr, "attempts: run not found")
		} else {
			fmt.Fprintf(stderr, "attempts: %v\n", err)
		}
		return 1
	}

	resp, err := store.ListAttempts(ctx, journal.AttemptListRequest{
		RunID:   run.ID,
		Outcome: journal.Outcome(*outcome),
		Limit:   *limit,
	})
	if err != nil {
		fmt.Fprintf(stderr, "attempts: %v\n", err)
		return 1
	}

	if *jsonOutput {
		payload := attemptsPayload{Run: toRunJSON(run), Attempts: make([]attemptJSON, 0, len(resp.Items))}
		for _, a := range resp.Items {
			payload.Attempts = append(payload.Attempts, toAttemptJSON(a))
		}
		if err := json.NewEncoder(stdout).Encode(payload); err != nil {
			fmt.Fprintf(stderr, "attempts: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Fprintf(stdout, "run %s: %d succeeded, %d failed of %d (%s -> %s)\n",
		run.ID, run.Succeeded, run.Failed, run.Total, run.Source, run.Target)
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tKEY\tOUTCOME\tSTATUS\tDURATION\tERROR")
	for _, a := range resp.Items {
		status := "-"
		if a.StatusCode != 0 {
			status = fmt.Sprint(a.StatusCode)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", a.Seq, a.DocumentKey, a.Outcome, status, a.Duration, a.Error)
	}
	_ = tw.Flush()
	return 0
}

func toRunJSON(r journal.Run) runJSON {
	out := runJSON{
		ID:          r.ID,
		Target:      r.Target,
		Source:      r.Source,
		StartedAt:   r.StartedAt.UTC().Format(time.RFC3339Nano),
		Total:       r.Total,
		Succeeded:   r.Succeeded,
		Failed:      r.Failed,
		FailureFile: r.FailureFile,
		Error:       r.Error,
	}
	if !r.FinishedAt.IsZero() {
		out.FinishedAt = r.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func toAttemptJSON(a journal.Attempt) attemptJSON {
	return attemptJSON{
		ID:          a.ID,
		RunID:       a.RunID,
		Seq:         a.Seq,
		DocumentKey: a.DocumentKey,
		Target:      a.Target,
		StatusCode:  a.StatusCode,
		Error:       a.Error,
		Outcome:     string(a.Outcome),
		DurationMS:  a.Duration.Milliseconds(),
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
