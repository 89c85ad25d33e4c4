package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushJobName is the Pushgateway job label.
const PushJobName = "docrelay"

// PrometheusSink keeps metrics in its own registry and pushes them to a
// Pushgateway on Flush. With an empty gateway URL, Flush is a no-op and the
// registry can still be gathered directly.
type PrometheusSink struct {
	registry   *prometheus.Registry
	gatewayURL string
	client     *http.Client
	logger     *slog.Logger

	documentsRead    prometheus.Gauge
	attemptsTotal    *prometheus.CounterVec
	attemptDuration  prometheus.Histogram
	succeededTotal   prometheus.Gauge
	failedTotal      prometheus.Gauge
	runDuration      prometheus.Gauge
	lastRunSuccess   prometheus.Gauge
	lastRunTimestamp prometheus.Gauge
}

var _ Sink = (*PrometheusSink)(nil)

type PrometheusOption func(*PrometheusSink)

func WithHTTPClient(c *http.Client) PrometheusOption {
	return func(s *PrometheusSink) {
		if c != nil {
			s.client = c
		}
	}
}

func WithLogger(l *slog.Logger) PrometheusOption {
	return func(s *PrometheusSink) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewPrometheusSink(gatewayURL string, opts ...PrometheusOption) *PrometheusSink {
	s := &PrometheusSink{
		registry:   prometheus.NewRegistry(),
		gatewayURL: gatewayURL,
		client:     http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.documentsRead = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "docrelay_documents_read",
		Help: "Number of documents returned by the source query.",
	})
	s.attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docrelay_dispatch_attempts_total",
		Help: "Dispatch attempts by outcome and status class.",
	}, []string{"outcome", "status_class"})
	s.attemptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "docrelay_dispatch_duration_seconds",
		Help:    "Duration of a single dispatch request in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
	s.succeededTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "docrelay_run_succeeded_documents",
		Help: "Documents delivered successfully in the last run.",
	})
	s.failedTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "docrelay_run_failed_documents",
		Help: "Documents that failed to deliver in the last run.",
	})
	s.runDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "docrelay_run_duration_seconds",
		Help: "Wall time of the last run in seconds.",
	})
	s.lastRunSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "docrelay_run_success",
		Help: "1 if the last run completed without a fatal error, 0 otherwise.",
	})
	s.lastRunTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "docrelay_run_completed_timestamp_seconds",
		Help: "Unix time the last run completed.",
	})

	s.registry.MustRegister(
		s.documentsRead,
		s.attemptsTotal,
		s.attemptDuration,
		s.succeededTotal,
		s.failedTotal,
		s.runDuration,
		s.lastRunSuccess,
		s.lastRunTimestamp,
	)
	return s
}

// Registry exposes the underlying registry for gathering.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

func (s *PrometheusSink) DocumentsRead(n int) {
	s.documentsRead.Set(float64(n))
}

func (s *PrometheusSink) AttemptCompleted(outcome, statusClass string, duration time.Duration) {
	s.attemptsTotal.WithLabelValues(outcome, statusClass).Inc()
	s.attemptDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) RunCompleted(succeeded, failed int, duration time.Duration, err error) {
	s.succeededTotal.Set(float64(succeeded))
	s.failedTotal.Set(float64(failed))
	s.runDuration.Set(duration.Seconds())
	if err != nil {
		s.lastRunSuccess.Set(0)
	} else {
		s.lastRunSuccess.Set(1)
	}
	s.lastRunTimestamp.SetToCurrentTime()
}

// Flush pushes the registry to the Pushgateway, replacing the metrics of the
// previous push for the same job.
func (s *PrometheusSink) Flush(ctx context.Context) error {
	if s.gatewayURL == "" {
		return nil
	}
	p := push.New(s.gatewayURL, PushJobName).
		Gatherer(s.registry).
		Client(s.client)
	if err := p.PushContext(ctx); err != nil {
		return err
	}
	s.logger.Debug("metrics_pushed", slog.String("gateway", s.gatewayURL))
	return nil
}
