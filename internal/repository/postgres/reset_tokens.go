package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/core/port"
	"github.com/arklim/patient-portal-iam/internal/repository"
)

var resetColumns = []string{
	"id",
	"patient_id",
	"token_hash",
	"created_at",
	"expires_at",
	"used_at",
	"ip_address",
	"user_agent",
}

// ResetTokenRepository implements port.ResetTokenRepository.
type ResetTokenRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

func NewResetTokenRepository(exec pgExecutor) *ResetTokenRepository {
	return &ResetTokenRepository{exec: exec, builder: newBuilder()}
}

func (r *ResetTokenRepository) Create(ctx context.Context, token domain.PasswordResetToken) error {
	stmt, args, err := r.builder.Insert("password_reset_tokens").
		Columns(resetColumns...).
		Values(
			token.ID,
			token.PatientID,
			token.TokenHash,
			token.CreatedAt,
			token.ExpiresAt,
			token.UsedAt,
			nullableString(token.IP),
			nullableString(token.UserAgent),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert password reset sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return mapWriteError("insert password reset token", err)
	}
	return nil
}

// GetByHash is a plain read used for validation without consuming the token.
func (r *ResetTokenRepository) GetByHash(ctx context.Context, hash string) (*domain.PasswordResetToken, error) {
	return r.get(ctx, hash, false)
}

// GetByHashForUpdate locks the row so concurrent confirmations serialize.
func (r *ResetTokenRepository) GetByHashForUpdate(ctx context.Context, hash string) (*domain.PasswordResetToken, error) {
	return r.get(ctx, hash, true)
}

func (r *ResetTokenRepository) get(ctx context.Context, hash string, lock bool) (*domain.PasswordResetToken, error) {
	query := r.builder.
		Select(resetColumns...).
		From("password_reset_tokens").
		Where(squirrel.Eq{"token_hash": hash})
	if lock {
		query = query.Suffix("FOR UPDATE")
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select password reset sql: %w", err)
	}

	var (
		token     domain.PasswordResetToken
		expiresAt sql.NullTime
		usedAt    sql.NullTime
		ip        sql.NullString
		userAgent sql.NullString
	)

	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&token.ID,
		&token.PatientID,
		&token.TokenHash,
		&token.CreatedAt,
		&expiresAt,
		&usedAt,
		&ip,
		&userAgent,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan password reset token: %w", err)
	}

	if expiresAt.Valid {
		token.ExpiresAt = expiresAt.Time
	}
	if usedAt.Valid {
		val := usedAt.Time
		token.UsedAt = &val
	}
	if ip.Valid {
		val := ip.String
		token.IP = &val
	}
	if userAgent.Valid {
		val := userAgent.String
		token.UserAgent = &val
	}

	return &token, nil
}

// MarkUsed sets used_at only while it is still null. Losing that race
// reports repository.ErrConflict.
func (r *ResetTokenRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update("password_reset_tokens").
		Set("used_at", at).
		Where(squirrel.Eq{"id": id}).
		Where("used_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark reset used sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark password reset token used: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrConflict
	}
	return nil
}

// InvalidateUnused marks every unused token of the patient as used and
// returns how many rows changed.
func (r *ResetTokenRepository) InvalidateUnused(ctx context.Context, patientID string, at time.Time) (int, error) {
	stmt, args, err := r.builder.Update("password_reset_tokens").
		Set("used_at", at).
		Where(squirrel.Eq{"patient_id": patientID}).
		Where("used_at IS NULL").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build invalidate reset tokens sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("invalidate password reset tokens: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// ListStale returns ids of tokens that are used, lack an expiry, or expired before now.
func (r *ResetTokenRepository) ListStale(ctx context.Context, now time.Time) ([]string, error) {
	stmt, args, err := r.builder.
		Select("id").
		From("password_reset_tokens").
		Where(squirrel.Or{
			squirrel.NotEq{"used_at": nil},
			squirrel.Eq{"expires_at": nil},
			squirrel.Lt{"expires_at": now},
		}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list stale reset tokens sql: %w", err)
	}

	return queryIDs(ctx, r.exec, stmt, args)
}

func (r *ResetTokenRepository) Delete(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Delete("password_reset_tokens").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete reset token sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete password reset token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ port.ResetTokenRepository = (*ResetTokenRepository)(nil)
