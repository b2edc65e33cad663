// Package observability holds the vendor-neutral ports the cart store, catalog
// client, notification worker and HTTP layer report through. Adapters for zap,
// Prometheus and OpenTelemetry live under infrastructure/observability.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Observability bundles the three signals handed to every cart component.
type Observability interface {
	Tracer() Tracer
	Logger() Logger
	Metrics() Metrics
}

// Metrics resolves instruments by key; unknown keys must yield nop instruments.
type Metrics interface {
	Counter(name MetricKey) Counter
	Histogram(name MetricKey) Histogram
	Gauge(name MetricKey) Gauge
}

// Tracer opens spans such as UC.AddProduct or catalog.GET /stock/{id}.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
}

// Counter counts events, e.g. cart operations by use case and outcome.
type Counter interface {
	Add(delta float64, labels ...Label)
	// Bind fixes labels known up front, such as the use case of a handler.
	Bind(labels ...Label) BoundCounter
}

type BoundCounter interface {
	Add(delta float64)
}

// Histogram records latencies of cart operations and outbound calls.
type Histogram interface {
	Observe(value float64, labels ...Label)
	Bind(labels ...Label) BoundHistogram
}

type BoundHistogram interface {
	Observe(value float64)
}

// Gauge reports a value that can go up and down, e.g. line items in the cart.
type Gauge interface {
	Set(value float64, labels ...Label)
}

// Label is a low-cardinality metric dimension.
type Label struct{ Key, Value string }

func L(k, v string) Label { return Label{Key: k, Value: v} }

// Field is a structured log attribute.
type Field struct {
	Key   string
	Value any
}

func F(k string, v any) Field { return Field{Key: k, Value: v} }

// Logger writes structured events like use_case_done and http_access.
type Logger interface {
	With(fields ...Field) Logger
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

type MetricKey string
