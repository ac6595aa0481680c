package transportgrpc

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcinterceptors "github.com/arklim/patient-portal-iam/internal/transport/grpc/interceptors"
)

// ServiceName is the health-check name reported for the patient account backend.
const ServiceName = "patient.v1.PatientAccounts"

// ServerDependencies encapsulates what the gRPC server layer needs.
type ServerDependencies struct {
	Logger         *zap.Logger
	Metrics        *grpcinterceptors.GRPCMetrics
	TracerProvider trace.TracerProvider
}

// Server bundles the gRPC server with its health registry so callers can
// flip serving status during startup and shutdown.
type Server struct {
	*grpc.Server
	health *health.Server
}

// NewServer builds a server exposing the standard health service and reflection.
// Services start NOT_SERVING until MarkServing is called.
func NewServer(deps ServerDependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcinterceptors.LoggingInterceptor(logger),
			deps.Metrics.UnaryServerInterceptor(),
		),
	}
	if deps.TracerProvider != nil {
		opts = append(opts, grpc.StatsHandler(grpcinterceptors.NewTracingHandler(grpcinterceptors.TracingOptions{
			TracerProvider: deps.TracerProvider,
		})))
	}

	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	// Reflection lets grpcurl and similar tools discover the health service.
	reflection.Register(srv)

	return &Server{Server: srv, health: hs}
}

// MarkServing reports the service healthy.
func (s *Server) MarkServing() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Shutdown flips health to NOT_SERVING and drains in-flight calls.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.GracefulStop()
}
