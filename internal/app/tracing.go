package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nuetzliches/docrelay/internal/config"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// initTracing installs a global tracer provider exporting over OTLP/HTTP to
// obs.TracingURL. The returned func flushes pending spans and stops the
// exporter; call it before the process exits.
func initTracing(ctx context.Context, obs config.ObservabilityConfig, onError func(error)) (func(context.Context) error, error) {
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(obs.TracingURL))
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName("docrelay"),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	if onError != nil {
		otel.SetErrorHandler(otel.ErrorHandlerFunc(onError))
	}
	return provider.Shutdown, nil
}

// dispatchHTTPClient returns the client used for the target endpoint. With
// tracing on, requests carry the trace context and get client spans.
func dispatchHTTPClient(tracing bool) *http.Client {
	if !tracing {
		return &http.Client{}
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
