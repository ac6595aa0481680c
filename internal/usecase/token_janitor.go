package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/core/port"
)

const (
	defaultJanitorRunAt    = "03:00"
	defaultJanitorInterval = 24 * time.Hour
)

// SweepResult summarises one janitor pass.
type SweepResult struct {
	ResetTokensDeleted        int
	VerificationTokensDeleted int
	Failures                  int
}

// SweepMetrics observes janitor deletions.
type SweepMetrics interface {
	ObserveSweep(resetDeleted, verificationDeleted int)
}

// TokenJanitor removes spent and expired tokens on a daily schedule.
type TokenJanitor struct {
	tx       port.Transactor
	logger   *zap.Logger
	metrics  SweepMetrics
	now      func() time.Time
	hour     int
	minute   int
	interval time.Duration
}

func NewTokenJanitor(tx port.Transactor, logger *zap.Logger) *TokenJanitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &TokenJanitor{
		tx:       tx,
		logger:   logger,
		now:      time.Now,
		interval: defaultJanitorInterval,
	}
	_ = j.WithSchedule(defaultJanitorRunAt, defaultJanitorInterval)
	return j
}

// WithClock allows tests to override the clock used by the janitor.
func (j *TokenJanitor) WithClock(clock func() time.Time) {
	if clock != nil {
		j.now = clock
	}
}

func (j *TokenJanitor) WithMetrics(metrics SweepMetrics) {
	j.metrics = metrics
}

// WithSchedule sets the wall-clock time (HH:MM, local) of the first sweep and
// the interval between sweeps.
func (j *TokenJanitor) WithSchedule(runAt string, interval time.Duration) error {
	parsed, err := time.Parse("15:04", runAt)
	if err != nil {
		return fmt.Errorf("parse janitor run time %q: %w", runAt, err)
	}
	j.hour, j.minute = parsed.Hour(), parsed.Minute()
	if interval > 0 {
		j.interval = interval
	}
	return nil
}

// NextRun returns the first scheduled run strictly after from.
func (j *TokenJanitor) NextRun(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), j.hour, j.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run sweeps at the next scheduled time and then every interval until ctx ends.
func (j *TokenJanitor) Run(ctx context.Context) {
	first := j.NextRun(j.now())
	j.logger.Info("token janitor scheduled",
		zap.Time("first_run", first),
		zap.Duration("interval", j.interval),
	)

	timer := time.NewTimer(first.Sub(j.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("token janitor stopped")
			return
		case <-timer.C:
			if _, err := j.Sweep(ctx); err != nil {
				j.logger.Error("token sweep failed", zap.Error(err))
			}
			timer.Reset(j.interval)
		}
	}
}

// Sweep deletes reset tokens that are used or expired and verification tokens
// that are expired. Each deletion runs in its own transaction and a failed
// deletion does not stop the sweep.
func (j *TokenJanitor) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := j.now().UTC()

	var resetIDs, verificationIDs []string
	err := j.tx.WithinTransaction(ctx, func(ctx context.Context, store port.Store) error {
		var err error
		if resetIDs, err = store.ResetTokens().ListStale(ctx, now); err != nil {
			return fmt.Errorf("list stale reset tokens: %w", err)
		}
		if verificationIDs, err = store.VerificationTokens().ListExpired(ctx, now); err != nil {
			return fmt.Errorf("list expired verification tokens: %w", err)
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	for _, id := range resetIDs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		err := j.tx.WithinTransaction(ctx, func(ctx context.Context, store port.Store) error {
			return store.ResetTokens().Delete(ctx, id)
		})
		if err != nil {
			result.Failures++
			j.logger.Warn("failed to delete reset token", zap.String("token_id", id), zap.Error(err))
			continue
		}
		result.ResetTokensDeleted++
	}

	for _, id := range verificationIDs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		err := j.tx.WithinTransaction(ctx, func(ctx context.Context, store port.Store) error {
			return store.VerificationTokens().Delete(ctx, id)
		})
		if err != nil {
			result.Failures++
			j.logger.Warn("failed to delete verification token", zap.String("token_id", id), zap.Error(err))
			continue
		}
		result.VerificationTokensDeleted++
	}

	if j.metrics != nil {
		j.metrics.ObserveSweep(result.ResetTokensDeleted, result.VerificationTokensDeleted)
	}
	j.logger.Info("token sweep complete",
		zap.Int("reset_tokens_deleted", result.ResetTokensDeleted),
		zap.Int("verification_tokens_deleted", result.VerificationTokensDeleted),
		zap.Int("failures", result.Failures),
	)
	return result, nil
}
