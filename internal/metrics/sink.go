// Package metrics records job metrics. A one-shot job has no scrape window,
// so the Prometheus sink pushes its registry to a Pushgateway on Flush.
package metrics

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// Sink records job metrics. Recording methods never block on I/O and never
// fail; only Flush talks to the backend.
type Sink interface {
	DocumentsRead(n int)
	AttemptCompleted(outcome, statusClass string, duration time.Duration)
	RunCompleted(succeeded, failed int, duration time.Duration, err error)
	Flush(ctx context.Context) error
}

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

const (
	StatusClass2xx             = "2xx"
	StatusClass3xx             = "3xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a response status or transport error to a class label.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return StatusClassTimeout
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return StatusClassTimeout
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) || errors.Is(err, syscall.ECONNREFUSED) {
			return StatusClassConnectionError
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return StatusClassConnectionError
		}
		if statusCode == 0 {
			return StatusClassOtherError
		}
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 300 && statusCode < 400:
		return StatusClass3xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}

// NoopSink discards everything.
type NoopSink struct{}

var _ Sink = NoopSink{}

func (NoopSink) DocumentsRead(int)                              {}
func (NoopSink) AttemptCompleted(string, string, time.Duration) {}
func (NoopSink) RunCompleted(int, int, time.Duration, error)    {}
func (NoopSink) Flush(context.Context) error                    { return nil }
