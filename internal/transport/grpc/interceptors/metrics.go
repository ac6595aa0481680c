package interceptors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// GRPCMetricsOptions controls construction of gRPC metrics collectors.
type GRPCMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Buckets    []float64
}

// GRPCMetrics wraps the unary call collectors.
type GRPCMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
}

func NewGRPCMetrics(opts GRPCMetricsOptions) (*GRPCMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "iam_patient"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	labels := []string{"service", "method", "code"}
	m := &GRPCMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "gRPC unary calls by service, method and status code.",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "gRPC unary call latency by service, method and status code.",
			Buckets:   buckets,
		}, labels),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "in_flight_requests",
			Help:      "gRPC unary calls currently being served, by service.",
		}, []string{"service"}),
	}

	var err error
	if m.requests, err = reuse(reg, m.requests); err != nil {
		return nil, err
	}
	if m.duration, err = reuse(reg, m.duration); err != nil {
		return nil, err
	}
	if m.inFlight, err = reuse(reg, m.inFlight); err != nil {
		return nil, err
	}
	return m, nil
}

func reuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		return c, fmt.Errorf("register gRPC collector: %w", err)
	}
	existing, ok := already.ExistingCollector.(C)
	if !ok {
		return c, fmt.Errorf("existing gRPC collector has wrong type %T", already.ExistingCollector)
	}
	return existing, nil
}

// UnaryServerInterceptor records call counts and latency. A nil receiver is a no-op.
func (m *GRPCMetrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if m == nil {
			return handler(ctx, req)
		}

		service, method := splitFullMethod(info.FullMethod)
		start := time.Now()

		gauge := m.inFlight.WithLabelValues(service)
		gauge.Inc()
		defer gauge.Dec()

		resp, err := handler(ctx, req)

		labels := prometheus.Labels{"service": service, "method": method, "code": status.Code(err).String()}
		m.requests.With(labels).Inc()
		m.duration.With(labels).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// splitFullMethod turns "/pkg.Service/Method" into its two parts.
func splitFullMethod(full string) (string, string) {
	service, method, ok := strings.Cut(strings.TrimPrefix(full, "/"), "/")
	if !ok {
		if service == "" {
			service = "unknown"
		}
		return service, "unknown"
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}
