package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nuetzliches/docrelay/internal/config"
	"github.com/nuetzliches/docrelay/internal/dispatcher"
	"github.com/nuetzliches/docrelay/internal/httpheader"
	"github.com/nuetzliches/docrelay/internal/job"
	"github.com/nuetzliches/docrelay/internal/journal"
	"github.com/nuetzliches/docrelay/internal/metrics"
	"github.com/nuetzliches/docrelay/internal/report"
	"github.com/nuetzliches/docrelay/internal/source"
)

func run(args []string) int {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, stop := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runJob(ctx, args, runDeps{
		lookup: os.LookupEnv,
		stderr: os.Stderr,
	})
}

// runDeps are the process-level inputs of the run command.
type runDeps struct {
	lookup func(string) (string, bool)
	stderr io.Writer

	// source replaces the MongoDB reader when set.
	source source.Source
}

func runJob(ctx context.Context, args []string, deps runDeps) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(deps.stderr)
	flags := bindConfigFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(deps.stderr, "run: unexpected positional arguments")
		return 2
	}

	cfg, err := flags.resolve(fs, deps.lookup)
	if err != nil {
		fmt.Fprintf(deps.stderr, "run: %v\n", err)
		return 2
	}

	logger, err := newLoggerTo(deps.stderr, cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintln(deps.stderr, err.Error())
		return 2
	}
	slog.SetDefault(logger)

	res := config.Validate(cfg)
	if !res.OK {
		for _, e := range res.Errors {
			logger.Error("config_invalid", slog.String("error", e))
		}
		return 2
	}
	for _, w := range res.Warnings {
		logger.Warn("config_warning", slog.String("warning", w))
	}

	if cfg.Observability.TracingEnabled() {
		shutdownTracing, err := initTracing(ctx, cfg.Observability, func(err error) {
			logger.Error("tracing_export_failed", slog.Any("err", err))
		})
		if err != nil {
			logger.Error("tracing_init_failed", slog.Any("err", err))
			return 1
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(sctx)
		}()
		logger.Info("tracing_enabled")
	}

	var store journal.Store
	if cfg.Journal.Enabled() {
		store, err = openJournal(cfg.Journal)
		if err != nil {
			logger.Error("journal_open_failed", slog.Any("err", err))
			return 1
		}
		defer store.Close()
	}

	allow, err := dispatcher.ParseEgressRules(cfg.Target.AllowHosts)
	if err != nil {
		logger.Error("config_invalid", slog.Any("err", err))
		return 2
	}

	header, err := httpheader.Parse(cfg.Target.Headers)
	if err != nil {
		logger.Error("config_invalid", slog.Any("err", err))
		return 2
	}

	var sink metrics.Sink = metrics.NoopSink{}
	if cfg.Observability.PushgatewayURL != "" {
		sink = metrics.NewPrometheusSink(cfg.Observability.PushgatewayURL, metrics.WithLogger(logger))
	}

	src := deps.source
	if src == nil {
		src = source.NewMongoSource(cfg.Source, logger)
	}

	runID := uuid.NewString()
	logger = logger.With(slog.String("run_id", runID))
	logger.Info("run_started",
		slog.String("source", config.MaskURL(cfg.Source.URI)),
		slog.String("database", cfg.Source.Database),
		slog.String("collection", cfg.Source.Collection),
		slog.String("endpoint", cfg.Target.Endpoint),
		slog.Duration("delay", cfg.Target.Delay),
	)

	j := &job.Job{
		Source: src,
		Pipeline: &dispatcher.Pipeline{
			Deliverer: dispatcher.NewHTTPDeliverer(dispatchHTTPClient(cfg.Observability.TracingEnabled()), dispatcher.EgressPolicy{
				HTTPSOnly:   cfg.Target.HTTPSOnly,
				NoRedirects: cfg.Target.NoFollowRedirects,
				Allow:       allow,
			}),
			URL:       cfg.Target.Endpoint,
			Header:    header,
			IDField:   cfg.Source.IDField,
			Delay:     cfg.Target.Delay,
			Timeout:   cfg.Target.Timeout,
			QueueSize: cfg.Target.QueueSize,
			Logger:    logger,
		},
		Reporter: &report.Reporter{FailureFile: cfg.Output.FailureFile, Logger: logger},
		Journal:  store,
		Metrics:  sink,
		Logger:   logger,
		RunID:    runID,
		Target:   cfg.Target.Endpoint,
		Origin:   cfg.Source.Database + "." + cfg.Source.Collection,
	}

	summary, err := j.Run(ctx)
	if err != nil {
		logger.Error("run_failed", slog.Any("err", err))
		return 1
	}
	logger.Info("run_finished",
		slog.Int("total", summary.Total),
		slog.Int("success_count", summary.Succeeded),
		slog.Int("failure_count", summary.Failed),
		slog.String("failure_file", summary.FailureFile),
		slog.Bool("interrupted", summary.Interrupted),
		slog.Duration("duration", summary.Duration),
	)
	return 0
}
