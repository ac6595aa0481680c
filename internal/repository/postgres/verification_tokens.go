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

var verificationColumns = []string{
	"id",
	"patient_id",
	"token_hash",
	"created_at",
	"expires_at",
	"verified_at",
	"resend_count",
}

// VerificationTokenRepository implements port.VerificationTokenRepository.
type VerificationTokenRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

func NewVerificationTokenRepository(exec pgExecutor) *VerificationTokenRepository {
	return &VerificationTokenRepository{exec: exec, builder: newBuilder()}
}

func (r *VerificationTokenRepository) Create(ctx context.Context, token domain.EmailVerificationToken) error {
	stmt, args, err := r.builder.Insert("email_verification_tokens").
		Columns(verificationColumns...).
		Values(
			token.ID,
			token.PatientID,
			token.TokenHash,
			token.CreatedAt,
			token.ExpiresAt,
			token.VerifiedAt,
			token.ResendCount,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert verification token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return mapWriteError("insert verification token", err)
	}
	return nil
}

// GetByHashForUpdate loads the token and locks its row until the transaction ends.
func (r *VerificationTokenRepository) GetByHashForUpdate(ctx context.Context, hash string) (*domain.EmailVerificationToken, error) {
	stmt, args, err := r.builder.
		Select(verificationColumns...).
		From("email_verification_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select verification token sql: %w", err)
	}

	token, err := scanVerificationToken(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		return nil, err
	}
	return token, nil
}

// MarkVerified sets verified_at only while it is still null.
func (r *VerificationTokenRepository) MarkVerified(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update("email_verification_tokens").
		Set("verified_at", at).
		Where(squirrel.Eq{"id": id}).
		Where("verified_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark verified sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark verification token verified: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrConflict
	}
	return nil
}

// CountCreatedSince counts tokens issued to the patient strictly after since.
func (r *VerificationTokenRepository) CountCreatedSince(ctx context.Context, patientID string, since time.Time) (int, error) {
	stmt, args, err := r.builder.
		Select("COUNT(*)").
		From("email_verification_tokens").
		Where(squirrel.Eq{"patient_id": patientID}).
		Where(squirrel.Gt{"created_at": since}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count verification tokens sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count verification tokens: %w", err)
	}
	return count, nil
}

// Latest returns the newest token for the patient or repository.ErrNotFound.
func (r *VerificationTokenRepository) Latest(ctx context.Context, patientID string) (*domain.EmailVerificationToken, error) {
	stmt, args, err := r.builder.
		Select(verificationColumns...).
		From("email_verification_tokens").
		Where(squirrel.Eq{"patient_id": patientID}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build latest verification token sql: %w", err)
	}

	return scanVerificationToken(r.exec.QueryRow(ctx, stmt, args...))
}

// ListExpired returns ids of tokens with no expiry or an expiry before now.
// Verified tokens that have not expired are kept.
func (r *VerificationTokenRepository) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	stmt, args, err := r.builder.
		Select("id").
		From("email_verification_tokens").
		Where(squirrel.Or{
			squirrel.Eq{"expires_at": nil},
			squirrel.Lt{"expires_at": now},
		}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list expired verification tokens sql: %w", err)
	}

	return queryIDs(ctx, r.exec, stmt, args)
}

func (r *VerificationTokenRepository) Delete(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Delete("email_verification_tokens").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete verification token sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete verification token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanVerificationToken(row pgx.Row) (*domain.EmailVerificationToken, error) {
	var (
		token      domain.EmailVerificationToken
		expiresAt  sql.NullTime
		verifiedAt sql.NullTime
	)

	if err := row.Scan(
		&token.ID,
		&token.PatientID,
		&token.TokenHash,
		&token.CreatedAt,
		&expiresAt,
		&verifiedAt,
		&token.ResendCount,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan verification token: %w", err)
	}

	if expiresAt.Valid {
		token.ExpiresAt = expiresAt.Time
	}
	if verifiedAt.Valid {
		val := verifiedAt.Time
		token.VerifiedAt = &val
	}

	return &token, nil
}

func queryIDs(ctx context.Context, exec pgExecutor, stmt string, args []any) ([]string, error) {
	rows, err := exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

var _ port.VerificationTokenRepository = (*VerificationTokenRepository)(nil)
