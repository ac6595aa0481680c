package port

import (
	"context"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
)

// PatientRepository exposes persistence behavior for patients.
type PatientRepository interface {
	Create(ctx context.Context, patient domain.Patient) error
	GetByID(ctx context.Context, id string) (*domain.Patient, error)
	GetByEmail(ctx context.Context, email string) (*domain.Patient, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Update(ctx context.Context, patient domain.Patient) error
}

// CredentialRepository persists the one-to-one credential of a patient.
type CredentialRepository interface {
	Create(ctx context.Context, credential domain.PatientCredential) error
	GetByPatientID(ctx context.Context, patientID string) (*domain.PatientCredential, error)
	Update(ctx context.Context, credential domain.PatientCredential) error
}
