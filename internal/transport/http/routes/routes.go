package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/infra/config"
	"github.com/arklim/patient-portal-iam/internal/transport/http/handlers"
	"github.com/arklim/patient-portal-iam/internal/transport/http/middleware"
)

// ServiceSet groups the flows the HTTP layer depends on.
type ServiceSet struct {
	Registration  handlers.Registrar
	Verification  handlers.EmailVerifier
	PasswordReset handlers.PasswordResetter
	Passwords     handlers.PasswordChecker
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Services    ServiceSet
	Metrics     MetricsSource
	Database    DatabaseChecker
	Cache       CacheChecker
}

// MetricsSource provides the registry that HTTP collectors join and the
// handler serving it on /metrics.
type MetricsSource interface {
	Registerer() prometheus.Registerer
	Handler() http.Handler
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	Ping(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.AppConfig{}
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	if len(cfg.App.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(cfg.App.AllowedOrigins))
	}

	metricsHandler := promhttp.Handler()
	if deps.Metrics != nil {
		httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: deps.Metrics.Registerer()})
		if err != nil {
			log.Warn("http metrics disabled", zap.Error(err))
		} else {
			r.Use(httpMetrics.Handler())
		}
		metricsHandler = deps.Metrics.Handler()
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.Ping))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(metricsHandler))

	svc := deps.Services
	if svc.Registration != nil && svc.Verification != nil && svc.PasswordReset != nil {
		patients := handlers.NewPatientHandler(
			svc.Registration,
			svc.Verification,
			svc.PasswordReset,
			svc.Passwords,
			cfg.Links.PublicBaseURL,
			log,
		)
		patients.RegisterRoutes(r.Group("/api/v1/patients"), buildRateLimits(deps.RateLimiter, cfg.RateLimit))
	}

	return r
}

// buildRateLimits returns per-route limiters scoped to the client IP.
func buildRateLimits(limiter *middleware.RateLimiter, cfg config.RateLimitSettings) map[string]gin.HandlerFunc {
	if limiter == nil {
		return nil
	}

	window := cfg.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	limits := map[string]int{
		"register":       cfg.RegisterMaxAttempts,
		"resend":         cfg.ResendMaxAttempts,
		"password_reset": cfg.PasswordResetMaxAttempts,
	}

	out := make(map[string]gin.HandlerFunc, len(limits))
	for name, limit := range limits {
		if limit <= 0 {
			continue
		}
		out[name] = limiter.RateLimit(middleware.RateLimitRule{
			Name:       name + "_ip",
			Limit:      limit,
			Window:     window,
			Identifier: middleware.ClientIPIdentifier(),
		})
	}
	return out
}
