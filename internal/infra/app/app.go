package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/arklim/patient-portal-iam/internal/core/port"
	"github.com/arklim/patient-portal-iam/internal/infra/captcha"
	"github.com/arklim/patient-portal-iam/internal/infra/config"
	"github.com/arklim/patient-portal-iam/internal/infra/database"
	kafkainfra "github.com/arklim/patient-portal-iam/internal/infra/kafka"
	"github.com/arklim/patient-portal-iam/internal/infra/logger"
	"github.com/arklim/patient-portal-iam/internal/infra/mail"
	redisinfra "github.com/arklim/patient-portal-iam/internal/infra/redis"
	"github.com/arklim/patient-portal-iam/internal/infra/security"
	"github.com/arklim/patient-portal-iam/internal/infra/telemetry"
	postgresrepo "github.com/arklim/patient-portal-iam/internal/repository/postgres"
	redisrepo "github.com/arklim/patient-portal-iam/internal/repository/redis"
	transportgrpc "github.com/arklim/patient-portal-iam/internal/transport/grpc"
	grpcinterceptors "github.com/arklim/patient-portal-iam/internal/transport/grpc/interceptors"
	"github.com/arklim/patient-portal-iam/internal/transport/http/middleware"
	"github.com/arklim/patient-portal-iam/internal/transport/http/routes"
	"github.com/arklim/patient-portal-iam/internal/usecase"
)

type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	pool       *pgxpool.Pool
	redis      *redisinfra.Client
	producer   *kafkainfra.Producer
	mailer     *mail.Dispatcher
	tracer     *telemetry.TracerProvider
	janitor    *usecase.TokenJanitor
	grpcServer *transportgrpc.Server
	grpcAddr   string
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log, grpcAddr: fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)}
	if err := a.build(ctx); err != nil {
		a.closeResources(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *Application) build(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.tracer = tracer
	metrics := telemetry.NewProvider()

	if cfg.Postgres.MigrateOnStart {
		if err := runMigrations(cfg.Postgres.DSN(), log); err != nil {
			return err
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.pool = pool
	tx := postgresrepo.NewTxManager(pool)

	var rateLimiter *middleware.RateLimiter
	if cfg.Redis.Enabled {
		client, err := redisinfra.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		a.redis = client

		window := cfg.RateLimit.WindowDuration
		if window <= 0 {
			window = time.Minute
		}
		store := redisrepo.NewRateLimitRepository(client.Client(), redisrepo.SlidingWindowConfig{
			KeyPrefix: "iam:patients:rate-limit",
			TTL:       2 * window,
		})
		rateLimiter = middleware.NewRateLimiter(store, log)
	} else {
		log.Warn("redis disabled, HTTP rate limiting is off")
	}

	publisher := a.auditPublisher()

	var transport mail.Transport = mail.NewLogTransport(log)
	if cfg.Mail.Mode == "smtp" {
		smtpTransport, err := mail.NewSMTPTransport(mail.SMTPSettings{
			Host:      cfg.Mail.SMTPHost,
			Port:      cfg.Mail.SMTPPort,
			Username:  cfg.Mail.SMTPUser,
			Password:  cfg.Mail.SMTPPassword,
			TLSPolicy: cfg.Mail.SMTPTLSPolicy,
		})
		if err != nil {
			return fmt.Errorf("init smtp transport: %w", err)
		}
		transport = smtpTransport
	}
	a.mailer = mail.NewDispatcher(transport, mail.Options{
		From:           cfg.Mail.From,
		QueueSize:      cfg.Mail.QueueSize,
		MaxAttempts:    cfg.Mail.MaxAttempts,
		InitialBackoff: cfg.Mail.InitialBackoff,
		Metrics:        metrics,
	}, log)

	hasher, err := security.NewArgon2Hasher(port.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return fmt.Errorf("configure argon2: %w", err)
	}
	codec := security.NewTokenCodec()
	emails := security.NewEmailPolicy(cfg.Security.DisposableDomains...)
	passwords := security.NewPasswordPolicy(cfg.Security.PasswordMinLength)

	gate := usecase.NewCaptchaGate(usecase.CaptchaConfig{
		Secret:   cfg.Captcha.Secret,
		MinScore: cfg.Captcha.MinScore,
	}, captcha.NewRecaptchaClient(cfg.Captcha.VerifyURL, cfg.Captcha.Timeout, log), log)

	audit := usecase.NewAuditService(publisher, log)
	audit.WithMetrics(metrics)

	verification := usecase.NewVerificationService(tx, codec, a.mailer, audit, log)
	verification.WithTTL(cfg.Tokens.VerificationTTL)
	verification.WithResendLimit(cfg.Tokens.ResendLimit, cfg.Tokens.ResendWindow)

	registration := usecase.NewRegistrationService(tx, emails, passwords, hasher, codec, audit, verification, gate, log)
	registration.WithMinimumAge(cfg.Security.MinimumAge)

	reset := usecase.NewPasswordResetService(tx, codec, hasher, passwords, a.mailer, audit, log)
	reset.WithTTL(cfg.Tokens.ResetTTL)
	reset.WithHistoryDepth(cfg.Tokens.HistoryDepth)
	if cfg.Captcha.ProtectReset {
		reset.WithCaptcha(gate)
	}

	if cfg.Janitor.Enabled {
		janitor := usecase.NewTokenJanitor(tx, log)
		janitor.WithMetrics(metrics)
		if err := janitor.WithSchedule(cfg.Janitor.RunAt, cfg.Janitor.Interval); err != nil {
			return fmt.Errorf("configure token janitor: %w", err)
		}
		a.janitor = janitor
	}

	grpcMetrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{Registerer: metrics.Registerer()})
	if err != nil {
		return fmt.Errorf("init grpc metrics: %w", err)
	}
	a.grpcServer = transportgrpc.NewServer(transportgrpc.ServerDependencies{
		Logger:         log,
		Metrics:        grpcMetrics,
		TracerProvider: tracer.Provider(),
	})

	deps := routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Metrics:     metrics,
		Database:    pool,
		Services: routes.ServiceSet{
			Registration:  registration,
			Verification:  verification,
			PasswordReset: reset,
			Passwords:     passwords,
		},
	}
	if a.redis != nil {
		deps.Cache = a.redis
	}
	a.engine = routes.Register(deps)

	return nil
}

func runMigrations(dsn string, log *zap.Logger) error {
	migrator, err := database.NewMigrator(dsn, log)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			log.Warn("failed to close migrator", zap.Error(err))
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// auditPublisher falls back to a logging stub when Kafka is disabled or unreachable.
func (a *Application) auditPublisher() port.AuditEventPublisher {
	cfg, log := a.cfg, a.logger
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) == 0 {
		log.Info("kafka disabled, audit events are logged only")
		return kafkainfra.NewStubPublisher(log)
	}

	producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
	if err != nil {
		log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(log)
	}
	a.producer = producer
	log.Info("kafka audit publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	return kafkainfra.NewEventPublisher(producer, cfg.App, log)
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.closeResources(context.Background())

	// The worker outlives the signal context so Close can drain queued mail.
	a.mailer.Start(context.WithoutCancel(ctx))
	if a.janitor != nil {
		go a.janitor.Run(ctx)
	}

	lis, err := net.Listen("tcp", a.grpcAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting gRPC server", zap.String("address", a.grpcAddr))
		if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			grpcErrCh <- fmt.Errorf("run grpc server: %w", err)
		}
	}()
	defer a.grpcServer.Shutdown()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting patient IAM API",
			zap.String("env", a.cfg.App.Env),
			zap.String("address", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	a.grpcServer.MarkServing()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	case err := <-grpcErrCh:
		return err
	}
}

// closeResources releases whatever build managed to open. Mail is drained
// before the pool closes so queued messages still go out.
func (a *Application) closeResources(ctx context.Context) {
	if a.mailer != nil {
		a.mailer.Close()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("failed to close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to flush traces", zap.Error(err))
		}
	}
}
