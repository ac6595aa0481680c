package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Tokens.VerificationTTL != 24*time.Hour {
		t.Fatalf("expected 24h verification ttl, got %s", cfg.Tokens.VerificationTTL)
	}
	if cfg.Tokens.ResetTTL != time.Hour {
		t.Fatalf("expected 1h reset ttl, got %s", cfg.Tokens.ResetTTL)
	}
	if cfg.Tokens.ResendLimit != 4 {
		t.Fatalf("expected resend limit 4, got %d", cfg.Tokens.ResendLimit)
	}
	if cfg.Tokens.HistoryDepth != 5 {
		t.Fatalf("expected history depth 5, got %d", cfg.Tokens.HistoryDepth)
	}
	if cfg.Captcha.MinScore != "0.5" {
		t.Fatalf("expected captcha min score 0.5, got %q", cfg.Captcha.MinScore)
	}
	if cfg.Captcha.Timeout != 3*time.Second {
		t.Fatalf("expected 3s captcha timeout, got %s", cfg.Captcha.Timeout)
	}
	if cfg.Janitor.RunAt != "03:00" || cfg.Janitor.Interval != 24*time.Hour {
		t.Fatalf("unexpected janitor schedule: %+v", cfg.Janitor)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("IAM_TOKENS_RESET_TTL", "2h")
	t.Setenv("IAM_CAPTCHA_SECRET", "server-secret")
	t.Setenv("JANITOR_RUN_AT", "04:30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Tokens.ResetTTL != 2*time.Hour {
		t.Fatalf("expected overridden reset ttl, got %s", cfg.Tokens.ResetTTL)
	}
	if cfg.Captcha.Secret != "server-secret" {
		t.Fatalf("expected captcha secret from env, got %q", cfg.Captcha.Secret)
	}
	if cfg.Janitor.RunAt != "04:30" {
		t.Fatalf("expected unprefixed env override, got %q", cfg.Janitor.RunAt)
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresSettings{User: "u", Password: "p", Host: "db", Port: 5433, Database: "patients", SSLMode: "require"}
	want := "postgres://u:p@db:5433/patients?sslmode=require"
	if got := p.DSN(); got != want {
		t.Fatalf("dsn mismatch: got %q want %q", got, want)
	}
}

func TestLoadRejectsProductionWithoutCaptchaSecret(t *testing.T) {
	t.Setenv("IAM_APP_ENV", "production")
	t.Setenv("IAM_CAPTCHA_SECRET", "")

	if _, err := Load(); !errors.Is(err, ErrCaptchaSecretRequired) {
		t.Fatalf("expected ErrCaptchaSecretRequired, got %v", err)
	}
}

func TestLoadAcceptsProductionWithCaptchaSecret(t *testing.T) {
	t.Setenv("IAM_APP_ENV", "production")
	t.Setenv("IAM_CAPTCHA_SECRET", "server-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Env != "production" {
		t.Fatalf("expected production env, got %q", cfg.App.Env)
	}
}
