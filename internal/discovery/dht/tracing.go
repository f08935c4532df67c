package dht

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName 追踪器名称
const tracerName = "github.com/dep2p/go-kaddht/dht"

func startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "KadDHT."+name, opts...)
}
