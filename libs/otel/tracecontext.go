package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext is the W3C trace context of a unit of work, kept as strings so it can
// be stored next to a row and resumed by another process.
type TraceContext struct {
	Traceparent string
	Tracestate  string
}

// CaptureTraceContext returns the active span's trace context, empty when there is none.
func CaptureTraceContext(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{Traceparent: carrier.Get("traceparent"), Tracestate: carrier.Get("tracestate")}
}

func (tc TraceContext) Empty() bool {
	return tc.Traceparent == "" && tc.Tracestate == ""
}

// Resume makes tc the remote parent of spans started from the returned context.
func (tc TraceContext) Resume(ctx context.Context) context.Context {
	if tc.Empty() {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": tc.Traceparent}
	if tc.Tracestate != "" {
		carrier["tracestate"] = tc.Tracestate
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
