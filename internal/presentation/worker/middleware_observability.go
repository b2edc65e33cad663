package workerpresentation

import (
	"context"

	domoutbox "github.com/Zhima-Mochi/minishop-cart/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-cart/internal/observability"
	"github.com/Zhima-Mochi/minishop-cart/internal/observability/logctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type identified interface {
	ID() string
}

// WithEventContext injects a request-scoped logger for background/worker executions.
// Dynamic fields only: trace_id/span_id (if valid), event_id (generated if empty),
// plus caller-provided low-cardinality attributes (e.g. "use_case", "event").
func WithEventContext(
	ctx context.Context,
	base observability.Logger,
	traceID trace.TraceID,
	spanID trace.SpanID,
	attrs map[string]string,
) context.Context {
	if base == nil {
		base = observability.NopLogger()
	}

	fields := make([]observability.Field, 0, 4+len(attrs))

	evtID := attrs["event_id"]
	if evtID == "" {
		evtID = uuid.NewString()
	}
	fields = append(fields, observability.F("event_id", evtID))

	if traceID.IsValid() {
		fields = append(fields, observability.F("trace_id", traceID.String()))
	}
	if spanID.IsValid() {
		fields = append(fields, observability.F("span_id", spanID.String()))
	}

	for k, v := range attrs {
		if k == "event_id" || v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}

	return logctx.With(ctx, base.With(fields...))
}

// EventObservability wraps outbox handlers with a consumer span and an event-scoped logger.
func EventObservability(base observability.Logger, tracer observability.Tracer) domoutbox.Middleware {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	return func(next domoutbox.Handler) domoutbox.Handler {
		return func(ctx context.Context, e domoutbox.Event) error {
			attrs := map[string]string{"event": e.EventName()}
			if ide, ok := e.(identified); ok {
				attrs["event_id"] = ide.ID()
			}

			ctx, span := tracer.Start(ctx, "EVT."+e.EventName(),
				attribute.String("event", e.EventName()),
				attribute.String("event.id", attrs["event_id"]),
			)
			defer span.End()

			sc := trace.SpanContextFromContext(ctx)
			ctx = WithEventContext(ctx, logctx.FromOr(ctx, base), sc.TraceID(), sc.SpanID(), attrs)

			err := next(ctx, e)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "HANDLER_FAILED")
			} else {
				span.SetStatus(codes.Ok, "OK")
			}
			return err
		}
	}
}
