package interceptors

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/stats"
)

// TracingOptions customises the server tracing handler.
type TracingOptions struct {
	TracerProvider trace.TracerProvider
	Propagators    propagation.TextMapPropagator
	Additional     []otelgrpc.Option
}

// NewTracingHandler returns an OpenTelemetry stats handler for grpc.StatsHandler.
func NewTracingHandler(opts TracingOptions) stats.Handler {
	options := make([]otelgrpc.Option, 0, len(opts.Additional)+2)
	if opts.TracerProvider != nil {
		options = append(options, otelgrpc.WithTracerProvider(opts.TracerProvider))
	}
	if opts.Propagators != nil {
		options = append(options, otelgrpc.WithPropagators(opts.Propagators))
	}
	options = append(options, opts.Additional...)

	return otelgrpc.NewServerHandler(options...)
}
