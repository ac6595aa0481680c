package port

import (
	"context"
	"time"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
)

// VerificationTokenRepository manages email verification token records.
// GetByHashForUpdate locks the row for the rest of the transaction.
// MarkVerified only succeeds for unverified rows and reports
// repository.ErrConflict otherwise.
type VerificationTokenRepository interface {
	Create(ctx context.Context, token domain.EmailVerificationToken) error
	GetByHashForUpdate(ctx context.Context, hash string) (*domain.EmailVerificationToken, error)
	MarkVerified(ctx context.Context, id string, at time.Time) error
	CountCreatedSince(ctx context.Context, patientID string, since time.Time) (int, error)
	Latest(ctx context.Context, patientID string) (*domain.EmailVerificationToken, error)
	ListExpired(ctx context.Context, now time.Time) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// ResetTokenRepository manages password reset token records.
type ResetTokenRepository interface {
	Create(ctx context.Context, token domain.PasswordResetToken) error
	GetByHash(ctx context.Context, hash string) (*domain.PasswordResetToken, error)
	GetByHashForUpdate(ctx context.Context, hash string) (*domain.PasswordResetToken, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
	InvalidateUnused(ctx context.Context, patientID string, at time.Time) (int, error)
	ListStale(ctx context.Context, now time.Time) ([]string, error)
	Delete(ctx context.Context, id string) error
}
