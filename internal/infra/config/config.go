package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrCaptchaSecretRequired rejects a production config that would leave the
// captcha gate in its development bypass.
var ErrCaptchaSecretRequired = errors.New("config: captcha.secret is required in production")

const productionEnv = "production"

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	GRPC      GRPCSettings      `mapstructure:"grpc"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
	Tokens    TokenSettings     `mapstructure:"tokens"`
	Security  SecuritySettings  `mapstructure:"security"`
	Captcha   CaptchaSettings   `mapstructure:"captcha"`
	Mail      MailSettings      `mapstructure:"mail"`
	Janitor   JanitorSettings   `mapstructure:"janitor"`
	Links     LinkSettings      `mapstructure:"links"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// AllowedOrigins lists portal frontends allowed to call the API from a browser.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type GRPCSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	MigrateOnStart    bool          `mapstructure:"migrate_on_start"`
	ConnectAttempts   int           `mapstructure:"connect_attempts"`
}

// DSN renders the connection URL shared by the pool and the migrator.
func (p PostgresSettings) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Database,
		p.SSLMode,
	)
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	PoolSize   int    `mapstructure:"pool_size"`
	Enabled    bool   `mapstructure:"enabled"`
}

// KafkaSettings configures Kafka producer
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Enabled     bool     `mapstructure:"enabled"`
}

// RateLimitSettings configures rate limiting windows and max attempts per endpoint
type RateLimitSettings struct {
	WindowDuration           time.Duration `mapstructure:"window_duration"`
	RegisterMaxAttempts      int           `mapstructure:"register_max_attempts"`
	ResendMaxAttempts        int           `mapstructure:"resend_max_attempts"`
	PasswordResetMaxAttempts int           `mapstructure:"password_reset_max_attempts"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// TokenSettings controls verification and reset token lifetimes.
type TokenSettings struct {
	VerificationTTL time.Duration `mapstructure:"verification_ttl"`
	ResetTTL        time.Duration `mapstructure:"reset_ttl"`
	ResendLimit     int           `mapstructure:"resend_limit"`
	ResendWindow    time.Duration `mapstructure:"resend_window"`
	HistoryDepth    int           `mapstructure:"history_depth"`
}

type SecuritySettings struct {
	PasswordMinLength int      `mapstructure:"password_min_length"`
	DisposableDomains []string `mapstructure:"disposable_domains"`
	MinimumAge        int      `mapstructure:"minimum_age"`
}

// CaptchaSettings configures the reCAPTCHA v3 gate. An empty secret disables
// verification, which is only meant for local development.
type CaptchaSettings struct {
	Secret       string        `mapstructure:"secret"`
	MinScore     string        `mapstructure:"min_score"`
	VerifyURL    string        `mapstructure:"verify_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ProtectReset bool          `mapstructure:"protect_reset"`
}

type MailSettings struct {
	Mode           string        `mapstructure:"mode"`
	From           string        `mapstructure:"from"`
	SMTPHost       string        `mapstructure:"smtp_host"`
	SMTPPort       int           `mapstructure:"smtp_port"`
	SMTPUser       string        `mapstructure:"smtp_user"`
	SMTPPassword   string        `mapstructure:"smtp_password"`
	SMTPTLSPolicy  string        `mapstructure:"smtp_tls_policy"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	QueueSize      int           `mapstructure:"queue_size"`
}

type JanitorSettings struct {
	Enabled  bool          `mapstructure:"enabled"`
	RunAt    string        `mapstructure:"run_at"`
	Interval time.Duration `mapstructure:"interval"`
}

type LinkSettings struct {
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type TelemetrySettings struct {
	MetricsPort  int     `mapstructure:"metrics_port"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("IAM")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.allowed_origins",
		"grpc.host",
		"grpc.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"postgres.migrate_on_start",
		"postgres.connect_attempts",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.pool_size",
		"redis.enabled",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.enabled",
		"telemetry.metrics_port",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"rate_limit.window_duration",
		"rate_limit.register_max_attempts",
		"rate_limit.resend_max_attempts",
		"rate_limit.password_reset_max_attempts",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"tokens.verification_ttl",
		"tokens.reset_ttl",
		"tokens.resend_limit",
		"tokens.resend_window",
		"tokens.history_depth",
		"security.password_min_length",
		"security.disposable_domains",
		"security.minimum_age",
		"captcha.secret",
		"captcha.min_score",
		"captcha.verify_url",
		"captcha.timeout",
		"captcha.protect_reset",
		"mail.mode",
		"mail.from",
		"mail.smtp_host",
		"mail.smtp_port",
		"mail.smtp_user",
		"mail.smtp_password",
		"mail.smtp_tls_policy",
		"mail.max_attempts",
		"mail.initial_backoff",
		"mail.queue_size",
		"janitor.enabled",
		"janitor.run_at",
		"janitor.interval",
		"links.public_base_url",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.App.Env == productionEnv && strings.TrimSpace(c.Captcha.Secret) == "" {
		return ErrCaptchaSecretRequired
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "patient-portal-iam")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "patients")
	v.SetDefault("postgres.password", "patients_password")
	v.SetDefault("postgres.database", "patients")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.migrate_on_start", true)
	v.SetDefault("postgres.connect_attempts", 5)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.enabled", true)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "iam")
	v.SetDefault("kafka.enabled", false)

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "patient-portal-iam")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.register_max_attempts", 5)
	v.SetDefault("rate_limit.resend_max_attempts", 5)
	v.SetDefault("rate_limit.password_reset_max_attempts", 5)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("tokens.verification_ttl", "24h")
	v.SetDefault("tokens.reset_ttl", "1h")
	v.SetDefault("tokens.resend_limit", 4)
	v.SetDefault("tokens.resend_window", "24h")
	v.SetDefault("tokens.history_depth", 5)

	v.SetDefault("security.password_min_length", 12)
	v.SetDefault("security.disposable_domains", []string{})
	v.SetDefault("security.minimum_age", 18)

	v.SetDefault("captcha.secret", "")
	v.SetDefault("captcha.min_score", "0.5")
	v.SetDefault("captcha.verify_url", "https://www.google.com/recaptcha/api/siteverify")
	v.SetDefault("captcha.timeout", "3s")
	v.SetDefault("captcha.protect_reset", false)

	v.SetDefault("mail.mode", "log")
	v.SetDefault("mail.from", "no-reply@patient-portal.local")
	v.SetDefault("mail.smtp_host", "localhost")
	v.SetDefault("mail.smtp_port", 1025)
	v.SetDefault("mail.smtp_tls_policy", "opportunistic")
	v.SetDefault("mail.max_attempts", 3)
	v.SetDefault("mail.initial_backoff", "500ms")
	v.SetDefault("mail.queue_size", 256)

	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.run_at", "03:00")
	v.SetDefault("janitor.interval", "24h")

	v.SetDefault("links.public_base_url", "http://localhost:3000")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "IAM_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
