package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/core/port"
	"github.com/arklim/patient-portal-iam/internal/repository"
)

var patientColumns = []string{
	"id",
	"first_name",
	"last_name",
	"email",
	"phone",
	"date_of_birth",
	"status",
	"created_at",
	"updated_at",
	"last_login_at",
}

// PatientRepository implements port.PatientRepository using PostgreSQL.
type PatientRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

func NewPatientRepository(exec pgExecutor) *PatientRepository {
	return &PatientRepository{exec: exec, builder: newBuilder()}
}

// Create inserts a new patient row. A duplicate email maps to repository.ErrConflict.
func (r *PatientRepository) Create(ctx context.Context, patient domain.Patient) error {
	stmt, args, err := r.builder.Insert("patients").
		Columns(patientColumns...).
		Values(
			patient.ID,
			patient.FirstName,
			patient.LastName,
			patient.Email,
			nullableString(patient.Phone),
			patient.DateOfBirth,
			string(patient.Status),
			patient.CreatedAt,
			patient.UpdatedAt,
			patient.LastLoginAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert patient sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return mapWriteError("insert patient", err)
	}
	return nil
}

func (r *PatientRepository) GetByID(ctx context.Context, id string) (*domain.Patient, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

func (r *PatientRepository) GetByEmail(ctx context.Context, email string) (*domain.Patient, error) {
	return r.getOne(ctx, squirrel.Eq{"email": domain.NormalizeEmail(email)})
}

func (r *PatientRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	stmt, args, err := r.builder.
		Select("1").
		Prefix("SELECT EXISTS (").
		From("patients").
		Where(squirrel.Eq{"email": domain.NormalizeEmail(email)}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build patient exists sql: %w", err)
	}

	var exists bool
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("query patient exists: %w", err)
	}
	return exists, nil
}

// Update persists mutable patient fields.
func (r *PatientRepository) Update(ctx context.Context, patient domain.Patient) error {
	stmt, args, err := r.builder.Update("patients").
		Set("first_name", patient.FirstName).
		Set("last_name", patient.LastName).
		Set("phone", nullableString(patient.Phone)).
		Set("status", string(patient.Status)).
		Set("updated_at", patient.UpdatedAt).
		Set("last_login_at", patient.LastLoginAt).
		Where(squirrel.Eq{"id": patient.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update patient sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return mapWriteError("update patient", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *PatientRepository) getOne(ctx context.Context, where squirrel.Sqlizer) (*domain.Patient, error) {
	stmt, args, err := r.builder.
		Select(patientColumns...).
		From("patients").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select patient sql: %w", err)
	}

	var (
		patient   domain.Patient
		phone     sql.NullString
		status    string
		lastLogin sql.NullTime
	)

	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&patient.ID,
		&patient.FirstName,
		&patient.LastName,
		&patient.Email,
		&phone,
		&patient.DateOfBirth,
		&status,
		&patient.CreatedAt,
		&patient.UpdatedAt,
		&lastLogin,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan patient: %w", err)
	}

	patient.Status = domain.AccountStatus(status)
	if phone.Valid {
		val := phone.String
		patient.Phone = &val
	}
	if lastLogin.Valid {
		val := lastLogin.Time
		patient.LastLoginAt = &val
	}

	return &patient, nil
}

var _ port.PatientRepository = (*PatientRepository)(nil)
