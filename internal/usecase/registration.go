package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/core/port"
	"github.com/arklim/patient-portal-iam/internal/repository"
)

// DefaultMinimumAge is the youngest age accepted at registration.
const DefaultMinimumAge = 18

// RegisterInput carries the registration form.
type RegisterInput struct {
	FirstName    string
	LastName     string
	Email        string
	Phone        *string
	DateOfBirth  time.Time
	Password     string
	CaptchaToken string
	BaseURL      string
	Client       ClientInfo
}

// RegistrationService onboards new patients.
type RegistrationService struct {
	tx           port.Transactor
	emails       port.EmailPolicy
	passwords    port.PasswordPolicy
	hasher       port.PasswordHasher
	codec        port.TokenCodec
	audit        *AuditService
	verification *VerificationService
	captcha      *CaptchaGate
	logger       *zap.Logger
	now          func() time.Time
	minimumAge   int
}

// NewRegistrationService wires the registration flow.
func NewRegistrationService(
	tx port.Transactor,
	emails port.EmailPolicy,
	passwords port.PasswordPolicy,
	hasher port.PasswordHasher,
	codec port.TokenCodec,
	audit *AuditService,
	verification *VerificationService,
	captcha *CaptchaGate,
	logger *zap.Logger,
) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{
		tx:           tx,
		emails:       emails,
		passwords:    passwords,
		hasher:       hasher,
		codec:        codec,
		audit:        audit,
		verification: verification,
		captcha:      captcha,
		logger:       logger,
		now:          time.Now,
		minimumAge:   DefaultMinimumAge,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *RegistrationService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithMinimumAge overrides the minimum registration age.
func (s *RegistrationService) WithMinimumAge(years int) {
	if years > 0 {
		s.minimumAge = years
	}
}

// Register validates input and creates the patient with its credential.
// Checks run in order: email, age, password, uniqueness. Every failure is audited.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (domain.Patient, error) {
	now := s.now().UTC()
	email := domain.NormalizeEmail(input.Email)

	if err := s.validate(input, email, now); err != nil {
		s.auditFailure(ctx, input.Client, email, reasonFor(err))
		return domain.Patient{}, err
	}

	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return domain.Patient{}, fmt.Errorf("hash password: %w", err)
	}

	patient := domain.NewPatient(uuid.NewString(), input.FirstName, input.LastName, email, trimmedPhone(input.Phone), input.DateOfBirth, now)
	credential := domain.NewPatientCredential(uuid.NewString(), patient.ID, passwordHash, now)

	var box outbox
	var duplicate bool
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, store port.Store) error {
		exists, err := store.Patients().ExistsByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("check email uniqueness: %w", err)
		}
		if exists {
			duplicate = true
			return box.audit(ctx, s.audit, store, s.failureRecord(input.Client, email, reasonEmailExists))
		}

		if err := store.Patients().Create(ctx, patient); err != nil {
			return fmt.Errorf("create patient: %w", err)
		}
		if err := store.Credentials().Create(ctx, credential); err != nil {
			return fmt.Errorf("create credential: %w", err)
		}
		return box.audit(ctx, s.audit, store, AuditRecord{
			EventType: domain.AuditEventRegistration,
			PatientID: patient.ID,
			Client:    input.Client,
			Success:   true,
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// lost a concurrent insert of the same email
			s.auditFailure(ctx, input.Client, email, reasonEmailExists)
			return domain.Patient{}, ErrEmailAlreadyExists
		}
		return domain.Patient{}, err
	}
	box.flush(ctx, nil, s.audit)

	if duplicate {
		return domain.Patient{}, ErrEmailAlreadyExists
	}

	s.logger.Info("patient registered", zap.String("patient_id", patient.ID))
	return patient, nil
}

// RegisterAndIssueVerification checks the captcha, registers the patient and
// sends the first verification email. A failure to issue the email is audited
// and does not undo the registration.
func (s *RegistrationService) RegisterAndIssueVerification(ctx context.Context, input RegisterInput) (domain.Patient, error) {
	if s.captcha != nil && !s.captcha.Validate(ctx, input.CaptchaToken, CaptchaActionRegister) {
		s.auditFailure(ctx, input.Client, domain.NormalizeEmail(input.Email), reasonCaptchaFailed)
		return domain.Patient{}, ErrCaptchaRejected
	}

	patient, err := s.Register(ctx, input)
	if err != nil {
		return domain.Patient{}, err
	}

	if s.verification == nil {
		return patient, nil
	}
	if err := s.verification.IssueVerification(ctx, patient, input.BaseURL, input.Client); err != nil {
		s.logger.Error("failed to issue verification email",
			zap.String("patient_id", patient.ID),
			zap.Error(err),
		)
		auditErr := s.audit.LogWithin(ctx, s.tx, AuditRecord{
			EventType: domain.AuditEventVerificationIssued,
			PatientID: patient.ID,
			Client:    input.Client,
			Metadata:  withReason(reasonEmailIssue, nil),
		})
		if auditErr != nil {
			s.logger.Error("failed to audit verification issue failure", zap.Error(auditErr))
		}
	}
	return patient, nil
}

func (s *RegistrationService) validate(input RegisterInput, email string, now time.Time) error {
	if !s.emails.IsValidFormat(email) || s.emails.IsDisposable(email) {
		return ErrInvalidEmail
	}
	if input.DateOfBirth.IsZero() || domain.WholeYearsBetween(input.DateOfBirth, now) < s.minimumAge {
		return ErrUnderage
	}
	if !s.passwords.MeetsPolicy(input.Password) {
		return ErrWeakPassword
	}
	return nil
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEmail):
		return reasonInvalidEmail
	case errors.Is(err, ErrUnderage):
		return reasonUnderage
	case errors.Is(err, ErrWeakPassword):
		return reasonWeakPassword
	default:
		return "unknown"
	}
}

func (s *RegistrationService) failureRecord(client ClientInfo, email, reason string) AuditRecord {
	return AuditRecord{
		EventType: domain.AuditEventRegistration,
		Client:    client,
		Metadata:  withReason(reason, domain.AuditMetadata{"emailHash": s.codec.Digest(email)}),
	}
}

func (s *RegistrationService) auditFailure(ctx context.Context, client ClientInfo, email, reason string) {
	if err := s.audit.LogWithin(ctx, s.tx, s.failureRecord(client, email, reason)); err != nil {
		s.logger.Error("failed to audit registration failure",
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

func trimmedPhone(phone *string) *string {
	if phone == nil {
		return nil
	}
	return optionalString(*phone)
}
