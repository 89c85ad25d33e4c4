// Package job runs one migration pass: read the collection, dispatch every
// document in order, then report and persist the failures.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nuetzliches/docrelay/internal/dispatcher"
	"github.com/nuetzliches/docrelay/internal/journal"
	"github.com/nuetzliches/docrelay/internal/metrics"
	"github.com/nuetzliches/docrelay/internal/report"
	"github.com/nuetzliches/docrelay/internal/source"
)

const tracerName = "github.com/nuetzliches/docrelay/internal/job"

// journalTimeout bounds each journal write so a slow database cannot stall
// dispatch.
const journalTimeout = 5 * time.Second

type Job struct {
	Source   source.Source
	Pipeline *dispatcher.Pipeline
	Reporter *report.Reporter

	// Journal is optional.
	Journal journal.Store
	Metrics metrics.Sink
	Logger  *slog.Logger
	Tracer  trace.Tracer

	RunID string
	// Target and Origin label the run in the journal.
	Target string
	Origin string

	Now func() time.Time
}

type Summary struct {
	RunID       string
	Total       int
	Succeeded   int
	Failed      int
	FailureFile string
	Interrupted bool
	Duration    time.Duration
}

// Run executes the job. Dispatch failures are counted, not returned; the
// returned error is set only when reading or writing the failure file fails.
// A cancelled ctx stops dispatch before the next record and the failures
// seen so far are still reported.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := j.Metrics
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	tracer := j.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	now := j.Now
	if now == nil {
		now = time.Now
	}
	if j.Source == nil || j.Pipeline == nil || j.Reporter == nil {
		return Summary{}, errors.New("job: source, pipeline and reporter are required")
	}

	start := now()
	summary := Summary{RunID: j.RunID}

	ctx, span := tracer.Start(ctx, "docrelay.run",
		trace.WithAttributes(attribute.String("docrelay.run_id", j.RunID)),
	)
	defer span.End()

	j.startRun(ctx, logger, start)

	docs, err := j.Source.Read(ctx)
	if err != nil {
		summary.Duration = now().Sub(start)
		j.finish(ctx, logger, sink, summary, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return summary, err
	}
	summary.Total = len(docs)
	sink.DocumentsRead(len(docs))
	logger.Info("documents_count",
		slog.Int("documents", len(docs)),
		slog.String("run_id", j.RunID),
	)

	var tally report.Tally
	_, runErr := j.Pipeline.Run(ctx, docs, func(out dispatcher.Outcome) {
		ok := out.Succeeded()
		tally.Observe(ok, out.Record)
		outcome := metrics.OutcomeFailed
		if ok {
			outcome = metrics.OutcomeSucceeded
		}
		sink.AttemptCompleted(outcome, metrics.ClassifyStatus(out.StatusCode, out.Err), out.Duration)
		j.recordAttempt(ctx, logger, out)
	})
	if runErr != nil {
		if !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
			summary.Duration = now().Sub(start)
			j.finish(ctx, logger, sink, summary, runErr)
			return summary, runErr
		}
		summary.Interrupted = true
		logger.Warn("run_interrupted",
			slog.Int("processed", tally.Processed()),
			slog.Int("total", summary.Total),
		)
	}

	summary.Succeeded = tally.Succeeded
	summary.Failed = tally.Failed
	path, err := j.Reporter.Report(&tally)
	summary.FailureFile = path
	summary.Duration = now().Sub(start)
	if err != nil {
		j.finish(ctx, logger, sink, summary, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return summary, err
	}

	j.finish(ctx, logger, sink, summary, nil)
	span.SetAttributes(
		attribute.Int("docrelay.succeeded", summary.Succeeded),
		attribute.Int("docrelay.failed", summary.Failed),
	)
	return summary, nil
}

func (j *Job) startRun(ctx context.Context, logger *slog.Logger, start time.Time) {
	if j.Journal == nil {
		return
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	err := j.Journal.StartRun(jctx, journal.Run{
		ID:        j.RunID,
		Target:    j.Target,
		Source:    j.Origin,
		StartedAt: start,
	})
	if err != nil {
		logger.Warn("journal_start_failed", slog.String("run_id", j.RunID), slog.Any("err", err))
	}
}

func (j *Job) recordAttempt(ctx context.Context, logger *slog.Logger, out dispatcher.Outcome) {
	if j.Journal == nil {
		return
	}
	a := journal.Attempt{
		RunID:       j.RunID,
		Seq:         out.Seq,
		DocumentKey: out.Key,
		Target:      j.Target,
		StatusCode:  out.StatusCode,
		Outcome:     journal.OutcomeFailed,
		Duration:    out.Duration,
	}
	if out.Succeeded() {
		a.Outcome = journal.OutcomeSucceeded
	}
	if out.Err != nil {
		a.Error = out.Err.Error()
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := j.Journal.RecordAttempt(jctx, a); err != nil {
		logger.Warn("journal_record_failed",
			slog.String("run_id", j.RunID),
			slog.Int("seq", out.Seq),
			slog.Any("err", err),
		)
	}
}

func (j *Job) finish(ctx context.Context, logger *slog.Logger, sink metrics.Sink, summary Summary, runErr error) {
	sink.RunCompleted(summary.Succeeded, summary.Failed, summary.Duration, runErr)

	detached := context.WithoutCancel(ctx)
	if j.Journal != nil {
		run := journal.Run{
			ID:          j.RunID,
			Total:       summary.Total,
			Succeeded:   summary.Succeeded,
			Failed:      summary.Failed,
			FailureFile: summary.FailureFile,
		}
		if runErr != nil {
			run.Error = runErr.Error()
		} else if summary.Interrupted {
			run.Error = context.Canceled.Error()
		}
		jctx, cancel := context.WithTimeout(detached, journalTimeout)
		if err := j.Journal.FinishRun(jctx, run); err != nil {
			logger.Warn("journal_finish_failed", slog.String("run_id", j.RunID), slog.Any("err", err))
		}
		cancel()
	}

	mctx, cancel := context.WithTimeout(detached, 10*time.Second)
	defer cancel()
	if err := sink.Flush(mctx); err != nil {
		logger.Warn("metrics_push_failed", slog.Any("err", fmt.Errorf("push metrics: %w", err)))
	}
}
