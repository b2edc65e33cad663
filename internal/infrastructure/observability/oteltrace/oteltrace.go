package oteltrace

import (
	"context"

	"github.com/Zhima-Mochi/minishop-cart/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultInstrumentation = "minishop-cart"

type tracer struct{ t trace.Tracer }

// New names the cart service's tracer on the global provider. Until a provider is
// installed with otel.SetTracerProvider, cart spans only carry the inbound trace context.
func New(name string) observability.Tracer {
	if name == "" {
		name = defaultInstrumentation
	}
	return tracer{t: otel.Tracer(name)}
}

func (t tracer) Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if len(attrs) == 0 {
		return t.t.Start(ctx, spanName)
	}
	return t.t.Start(ctx, spanName, trace.WithAttributes(attrs...))
}
