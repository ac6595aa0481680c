package usecase

import (
	"context"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/core/port"
)

// DefaultCaptchaMinScore is used when no valid minimum score is configured.
const DefaultCaptchaMinScore = 0.5

// Captcha actions expected from the client.
const (
	CaptchaActionRegister      = "register"
	CaptchaActionPasswordReset = "password_reset"
)

// CaptchaConfig carries the server-side captcha settings.
// An empty Secret disables verification. Only use that in development.
type CaptchaConfig struct {
	Secret   string
	MinScore string
}

// CaptchaGate decides whether a client captcha token is acceptable.
type CaptchaGate struct {
	verifier port.CaptchaVerifier
	secret   string
	minScore float64
	logger   *zap.Logger
}

func NewCaptchaGate(cfg CaptchaConfig, verifier port.CaptchaVerifier, logger *zap.Logger) *CaptchaGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	gate := &CaptchaGate{
		verifier: verifier,
		secret:   strings.TrimSpace(cfg.Secret),
		minScore: parseMinScore(cfg.MinScore),
		logger:   logger,
	}
	if gate.secret == "" {
		logger.Warn("captcha secret not configured, verification bypassed")
	}
	return gate
}

func parseMinScore(raw string) float64 {
	score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
		return DefaultCaptchaMinScore
	}
	return score
}

// Enabled reports whether tokens are actually checked.
func (g *CaptchaGate) Enabled() bool {
	return g != nil && g.secret != ""
}

// MinScore returns the effective minimum score.
func (g *CaptchaGate) MinScore() float64 {
	return g.minScore
}

// Validate returns true when the verifier accepts token for expectedAction.
// It fails closed on every verifier error.
func (g *CaptchaGate) Validate(ctx context.Context, token, expectedAction string) bool {
	if !g.Enabled() {
		g.logger.Debug("captcha bypassed", zap.String("action", expectedAction))
		return true
	}
	if g.verifier == nil {
		g.logger.Error("captcha verifier not configured")
		return false
	}
	if strings.TrimSpace(token) == "" {
		return false
	}

	result, err := g.verifier.Verify(ctx, g.secret, token)
	if err != nil {
		g.logger.Warn("captcha verification failed", zap.String("action", expectedAction), zap.Error(err))
		return false
	}

	if !result.Success {
		g.logger.Info("captcha rejected",
			zap.String("action", expectedAction),
			zap.Strings("error_codes", result.ErrorCodes),
		)
		return false
	}
	if result.Action != expectedAction {
		g.logger.Info("captcha action mismatch",
			zap.String("expected", expectedAction),
			zap.String("actual", result.Action),
		)
		return false
	}
	if result.Score < g.minScore {
		g.logger.Info("captcha score below threshold",
			zap.String("action", expectedAction),
			zap.Float64("score", result.Score),
			zap.Float64("min_score", g.minScore),
		)
		return false
	}
	return true
}
