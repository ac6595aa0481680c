package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/repository"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		mock.Close()
	})
	return mock
}

func TestPatientRepository_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPatientRepository(mock)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	dob := time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC)
	patient := domain.NewPatient("patient-1", "Jane", "Doe", "jane@ok.com", nil, dob, now)

	mock.ExpectExec(`INSERT INTO patients`).
		WithArgs(
			"patient-1",
			"Jane",
			"Doe",
			"jane@ok.com",
			nil,
			dob,
			"pending_verification",
			now,
			now,
			pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Create(context.Background(), patient); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
}

func TestPatientRepository_CreateDuplicateEmail(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPatientRepository(mock)

	mock.ExpectExec(`INSERT INTO patients`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "patients_email_key"})

	patient := domain.NewPatient("patient-1", "Jane", "Doe", "jane@ok.com", nil, time.Now(), time.Now())
	err := repo.Create(context.Background(), patient)
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPatientRepository_GetByEmail(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPatientRepository(mock)

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dob := time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(patientColumns).
		AddRow("patient-1", "Jane", "Doe", "jane@ok.com", "+15550100", dob, "active", created, created, nil)

	mock.ExpectQuery(`SELECT .+ FROM patients WHERE email = \$1 LIMIT 1`).
		WithArgs("jane@ok.com").
		WillReturnRows(rows)

	patient, err := repo.GetByEmail(context.Background(), "  JANE@ok.com ")
	if err != nil {
		t.Fatalf("GetByEmail returned error: %v", err)
	}
	if patient.Status != domain.AccountStatusActive {
		t.Fatalf("expected active status, got %s", patient.Status)
	}
	if patient.Phone == nil || *patient.Phone != "+15550100" {
		t.Fatalf("unexpected phone: %v", patient.Phone)
	}
	if patient.LastLoginAt != nil {
		t.Fatal("expected nil last login")
	}
}

func TestPatientRepository_GetByEmailNotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPatientRepository(mock)

	mock.ExpectQuery(`SELECT .+ FROM patients WHERE email = \$1`).
		WithArgs("ghost@ok.com").
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.GetByEmail(context.Background(), "ghost@ok.com"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPatientRepository_ExistsByEmail(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPatientRepository(mock)

	mock.ExpectQuery(`SELECT EXISTS \( SELECT 1 FROM patients WHERE email = \$1 \)`).
		WithArgs("jane@ok.com").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsByEmail(context.Background(), "Jane@ok.com")
	if err != nil {
		t.Fatalf("ExistsByEmail returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected patient to exist")
	}
}

func TestPatientRepository_UpdateMissingRow(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPatientRepository(mock)

	mock.ExpectExec(`UPDATE patients SET`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Update(context.Background(), domain.Patient{ID: "missing", Status: domain.AccountStatusActive})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
