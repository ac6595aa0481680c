package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/core/port"
	"github.com/arklim/patient-portal-iam/internal/repository"
)

// CredentialRepository implements port.CredentialRepository. Password history
// is stored as a JSON array in a jsonb column.
type CredentialRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

func NewCredentialRepository(exec pgExecutor) *CredentialRepository {
	return &CredentialRepository{exec: exec, builder: newBuilder()}
}

func (r *CredentialRepository) Create(ctx context.Context, credential domain.PatientCredential) error {
	history, err := marshalHistory(credential.History)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert("patient_credentials").
		Columns(
			"id",
			"patient_id",
			"password_hash",
			"password_changed_at",
			"failed_login_attempts",
			"locked_until",
			"password_history",
			"created_at",
			"updated_at",
		).
		Values(
			credential.ID,
			credential.PatientID,
			credential.PasswordHash,
			credential.PasswordChangedAt,
			credential.FailedLoginAttempts,
			credential.LockedUntil,
			history,
			credential.CreatedAt,
			credential.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert credential sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return mapWriteError("insert credential", err)
	}
	return nil
}

// GetByPatientID locks the credential row so concurrent password changes serialize.
func (r *CredentialRepository) GetByPatientID(ctx context.Context, patientID string) (*domain.PatientCredential, error) {
	stmt, args, err := r.builder.
		Select(
			"id",
			"patient_id",
			"password_hash",
			"password_changed_at",
			"failed_login_attempts",
			"locked_until",
			"password_history",
			"created_at",
			"updated_at",
		).
		From("patient_credentials").
		Where(squirrel.Eq{"patient_id": patientID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select credential sql: %w", err)
	}

	var (
		cred        domain.PatientCredential
		lockedUntil sql.NullTime
		history     []byte
	)

	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&cred.ID,
		&cred.PatientID,
		&cred.PasswordHash,
		&cred.PasswordChangedAt,
		&cred.FailedLoginAttempts,
		&lockedUntil,
		&history,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}

	if lockedUntil.Valid {
		val := lockedUntil.Time
		cred.LockedUntil = &val
	}

	parsed, err := unmarshalHistory(history)
	if err != nil {
		return nil, err
	}
	cred.History = parsed

	return &cred, nil
}

func (r *CredentialRepository) Update(ctx context.Context, credential domain.PatientCredential) error {
	history, err := marshalHistory(credential.History)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Update("patient_credentials").
		Set("password_hash", credential.PasswordHash).
		Set("password_changed_at", credential.PasswordChangedAt).
		Set("failed_login_attempts", credential.FailedLoginAttempts).
		Set("locked_until", credential.LockedUntil).
		Set("password_history", history).
		Set("updated_at", credential.UpdatedAt).
		Where(squirrel.Eq{"id": credential.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update credential sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return mapWriteError("update credential", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func marshalHistory(history domain.PasswordHistory) (string, error) {
	if history == nil {
		history = domain.PasswordHistory{}
	}
	payload, err := json.Marshal([]string(history))
	if err != nil {
		return "", fmt.Errorf("marshal password history: %w", err)
	}
	return string(payload), nil
}

func unmarshalHistory(payload []byte) (domain.PasswordHistory, error) {
	if len(payload) == 0 {
		return domain.PasswordHistory{}, nil
	}
	var hashes []string
	if err := json.Unmarshal(payload, &hashes); err != nil {
		return nil, fmt.Errorf("unmarshal password history: %w", err)
	}
	return domain.PasswordHistory(hashes), nil
}

var _ port.CredentialRepository = (*CredentialRepository)(nil)
