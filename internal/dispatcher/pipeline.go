package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nuetzliches/docrelay/internal/record"
)

const (
	DefaultDelay     = 100 * time.Millisecond
	DefaultQueueSize = 64

	tracerName = "github.com/nuetzliches/docrelay/internal/dispatcher"
)

// Pipeline sends documents to a single endpoint in read order. A producer
// sanitizes documents into a bounded queue; one worker drains it, sending
// one request at a time and pausing Delay after every attempt.
type Pipeline struct {
	Deliverer Deliverer
	URL       string
	Header    http.Header

	// IDField is stripped from every record before it is queued.
	IDField string

	// Delay is the fixed pause after each attempt. Zero sends back to back.
	Delay time.Duration
	// Timeout bounds a single request. Zero leaves it to the client.
	Timeout   time.Duration
	QueueSize int

	Logger *slog.Logger
	Tracer trace.Tracer

	// Sleep waits between attempts. It defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type queued struct {
	seq int
	doc record.Document
}

// Run dispatches docs and calls handle once per attempt, from a single
// goroutine, in read order. It returns the number of records processed.
// Cancelling ctx stops the run before the next record; a request already in
// flight is allowed to finish.
func (p *Pipeline) Run(ctx context.Context, docs []record.Document, handle func(Outcome)) (int, error) {
	if p.Deliverer == nil {
		return 0, fmt.Errorf("dispatcher: no deliverer configured")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := p.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	idField := p.IDField
	if idField == "" {
		idField = record.DefaultIDField
	}
	size := p.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	queue := make(chan queued, size)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(queue)
		for i, doc := range docs {
			doc.Record = record.Sanitize(doc.Record, idField)
			select {
			case queue <- queued{seq: i + 1, doc: doc}:
			case <-ctx.Done():
				return
			}
		}
	}()

	total := len(docs)
	processed := 0
	var runErr error
	for item := range queue {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		out := p.send(ctx, tracer, item, total)
		processed++
		p.logOutcome(logger, out)
		if handle != nil {
			handle(out)
		}
		logger.Info("dispatch_progress",
			slog.String("progress", fmt.Sprintf("Sent %d of %d documents", processed, total)),
			slog.Int("sent", processed),
			slog.Int("total", total),
		)

		if p.Delay > 0 {
			if err := sleep(ctx, p.Delay); err != nil && processed < total {
				runErr = err
				break
			}
		}
	}
	if runErr == nil && processed < total {
		runErr = ctx.Err()
	}

	// Unblock the producer if the worker stopped early.
	go func() {
		for range queue {
		}
	}()
	wg.Wait()
	return processed, runErr
}

func (p *Pipeline) send(ctx context.Context, tracer trace.Tracer, item queued, total int) Outcome {
	out := Outcome{
		Seq:    item.seq,
		Total:  total,
		Key:    item.doc.Key,
		Record: item.doc.Record,
		State:  StatePending,
	}

	body, err := record.Encode(item.doc.Record)
	if err != nil {
		out.State = StateFailed
		out.Err = fmt.Errorf("encode record: %w", err)
		return out
	}

	// In-flight requests survive cancellation of the run.
	reqCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc = func() {}
	if p.Timeout > 0 {
		reqCtx, cancel = context.WithTimeout(reqCtx, p.Timeout)
	}
	defer cancel()

	reqCtx, span := tracer.Start(reqCtx, "dispatch.deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("docrelay.seq", item.seq),
			attribute.String("docrelay.key", item.doc.Key),
		),
	)
	defer span.End()

	out.State = StateSending
	start := time.Now()
	res := p.Deliverer.Deliver(reqCtx, Delivery{
		ID:     item.doc.Key,
		Method: http.MethodPost,
		URL:    p.URL,
		Header: p.Header.Clone(),
		Body:   body,
	})
	out.Duration = time.Since(start)
	out.StatusCode = res.StatusCode
	out.Response = res.Body

	span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode))
	if isSuccess(res) {
		out.State = StateSucceeded
		return out
	}

	out.State = StateFailed
	out.Err = res.Err
	if out.Err == nil {
		out.Err = fmt.Errorf("%w: %d", ErrUnexpectedStatus, res.StatusCode)
	}
	span.RecordError(out.Err)
	span.SetStatus(codes.Error, out.Err.Error())
	return out
}

func (p *Pipeline) logOutcome(logger *slog.Logger, out Outcome) {
	if out.Succeeded() {
		logger.Info("document_sent",
			slog.Int("seq", out.Seq),
			slog.String("key", out.Key),
			slog.Int("status", out.StatusCode),
			slog.String("response", string(out.Response)),
			slog.Duration("duration", out.Duration),
		)
		return
	}
	logger.Error("document_send_failed",
		slog.Int("seq", out.Seq),
		slog.String("key", out.Key),
		slog.Int("status", out.StatusCode),
		slog.Any("err", out.Err),
		slog.Duration("duration", out.Duration),
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
