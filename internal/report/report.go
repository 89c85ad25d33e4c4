// Package report tallies dispatch outcomes and persists failed records.
package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nuetzliches/docrelay/internal/record"
)

// Tally is owned by the dispatch loop; it is not safe for concurrent use.
type Tally struct {
	Succeeded int
	Failed    int
	// Failures holds failed records in the order they failed.
	Failures []record.Record
}

func (t *Tally) Observe(success bool, r record.Record) {
	if success {
		t.Succeeded++
		return
	}
	t.Failed++
	t.Failures = append(t.Failures, r)
}

func (t *Tally) Processed() int {
	return t.Succeeded + t.Failed
}

type Reporter struct {
	// FailureFile is where failed records are written. Relative paths
	// resolve against the working directory.
	FailureFile string
	Logger      *slog.Logger
}

// Report logs the counts and, when any record failed, writes the failures
// as an indented JSON array, replacing any previous file. It returns the
// path written, or "" when there was nothing to write.
func (r *Reporter) Report(t *Tally) (string, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("report_counts",
		slog.Int("success_count", t.Succeeded),
		slog.Int("failure_count", t.Failed),
	)
	if len(t.Failures) == 0 {
		return "", nil
	}

	data, err := record.EncodeIndent(t.Failures)
	if err != nil {
		return "", fmt.Errorf("encode failures: %w", err)
	}
	if err := writeFileAtomic(r.FailureFile, data); err != nil {
		return "", fmt.Errorf("write failure file: %w", err)
	}
	logger.Info("failures_written",
		slog.String("path", r.FailureFile),
		slog.Int("documents", len(t.Failures)),
	)
	return r.FailureFile, nil
}

func writeFileAtomic(path string, data []byte) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
