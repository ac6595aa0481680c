package logger

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	lg   *zap.Logger
	once sync.Once
)

// New returns the process-wide logger. Production builds emit JSON, every
// other environment uses the colored console encoder.
func New(env string) (*zap.Logger, error) {
	var err error
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		if env != "production" {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cfg.InitialFields = map[string]any{"service": "patient-portal-iam", "env": env}

		lg, err = cfg.Build()
	})

	return lg, err
}

// RequestIDKey is used to store a request identifier on the context.
type RequestIDKey struct{}

// WithContext returns the process logger annotated with the request id, if any.
func WithContext(ctx context.Context) *zap.Logger {
	base := lg
	if base == nil {
		base = zap.NewNop()
	}
	if ctx == nil {
		return base
	}
	if id, ok := ctx.Value(RequestIDKey{}).(string); ok && id != "" {
		return base.With(zap.String("request_id", id))
	}
	return base
}

var emailRegex = regexp.MustCompile(`^([^@]{1,3})[^@]*(@.+)$`)

// MaskEmail keeps up to three leading characters and the domain.
// john.doe@example.com becomes joh***@example.com.
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	if matches := emailRegex.FindStringSubmatch(email); len(matches) == 3 {
		return matches[1] + "***" + matches[2]
	}
	if at := strings.LastIndex(email, "@"); at >= 0 {
		return "***" + email[at:]
	}
	return "***"
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if len(digits) <= 4 {
		if phone == "" {
			return ""
		}
		return "***"
	}
	return "***" + digits[len(digits)-4:]
}

// MaskIP hides the host part: two octets of IPv4, four groups of IPv6.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "***"
	}
	if v4 := parsed.To4(); v4 != nil {
		parts := strings.Split(v4.String(), ".")
		return parts[0] + "." + parts[1] + ".*.*"
	}
	b := parsed.To16()
	return fmt.Sprintf("%x:%x:%x:%x:*:*:*:*",
		uint16(b[0])<<8|uint16(b[1]),
		uint16(b[2])<<8|uint16(b[3]),
		uint16(b[4])<<8|uint16(b[5]),
		uint16(b[6])<<8|uint16(b[7]),
	)
}
