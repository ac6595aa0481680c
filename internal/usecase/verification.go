package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/core/port"
	"github.com/arklim/patient-portal-iam/internal/repository"
)

const (
	defaultVerificationTTL = 24 * time.Hour
	defaultResendLimit     = 4
	defaultResendWindow    = 24 * time.Hour
)

// ResendInput identifies the patient asking for a new verification email.
type ResendInput struct {
	Email   string
	BaseURL string
	Client  ClientInfo
}

// VerificationService issues and redeems email verification tokens.
type VerificationService struct {
	tx           port.Transactor
	codec        port.TokenCodec
	mailer       port.Mailer
	audit        *AuditService
	logger       *zap.Logger
	now          func() time.Time
	ttl          time.Duration
	resendLimit  int
	resendWindow time.Duration
}

func NewVerificationService(tx port.Transactor, codec port.TokenCodec, mailer port.Mailer, audit *AuditService, logger *zap.Logger) *VerificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationService{
		tx:           tx,
		codec:        codec,
		mailer:       mailer,
		audit:        audit,
		logger:       logger,
		now:          time.Now,
		ttl:          defaultVerificationTTL,
		resendLimit:  defaultResendLimit,
		resendWindow: defaultResendWindow,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *VerificationService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithTTL overrides the verification token lifetime.
func (s *VerificationService) WithTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

// WithResendLimit caps the number of tokens issued within window.
func (s *VerificationService) WithResendLimit(limit int, window time.Duration) {
	if limit > 0 {
		s.resendLimit = limit
	}
	if window > 0 {
		s.resendWindow = window
	}
}

// IssueVerification stores a fresh token for patient and emails the link.
func (s *VerificationService) IssueVerification(ctx context.Context, patient domain.Patient, baseURL string, client ClientInfo) error {
	var box outbox
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context, store port.Store) error {
		return s.issue(ctx, store, &box, patient, baseURL, client)
	})
	if err != nil {
		return err
	}
	box.flush(ctx, s.mailer, s.audit)
	return nil
}

func (s *VerificationService) issue(ctx context.Context, store port.Store, box *outbox, patient domain.Patient, baseURL string, client ClientInfo) error {
	raw, err := s.codec.Generate()
	if err != nil {
		return fmt.Errorf("generate verification token: %w", err)
	}

	now := s.now().UTC()
	token := domain.NewEmailVerificationToken(uuid.NewString(), patient.ID, s.codec.Digest(raw), now, s.ttl)
	if err := store.VerificationTokens().Create(ctx, token); err != nil {
		return fmt.Errorf("store verification token: %w", err)
	}

	box.mail(verificationEmail(patient, buildLink(baseURL, "/verify-email", raw), s.ttl))
	return box.audit(ctx, s.audit, store, AuditRecord{
		EventType: domain.AuditEventVerificationIssued,
		PatientID: patient.ID,
		Client:    client,
		Success:   true,
	})
}

// Verify redeems rawToken and activates its patient. Unknown, verified and
// expired tokens yield false.
func (s *VerificationService) Verify(ctx context.Context, rawToken string, client ClientInfo) (bool, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return false, nil
	}
	hash := s.codec.Digest(rawToken)

	var box outbox
	var verified bool
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context, store port.Store) error {
		now := s.now().UTC()
		token, err := store.VerificationTokens().GetByHashForUpdate(ctx, hash)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("load verification token: %w", err)
		}

		failure := func(reason string) error {
			return box.audit(ctx, s.audit, store, AuditRecord{
				EventType: domain.AuditEventVerificationConfirm,
				PatientID: token.PatientID,
				Client:    client,
				Metadata:  withReason(reason, nil),
			})
		}

		if token.IsVerified() {
			return failure(reasonAlreadyVerified)
		}
		if token.IsExpired(now) {
			return failure(reasonExpired)
		}

		if err := store.VerificationTokens().MarkVerified(ctx, token.ID, now); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return failure(reasonAlreadyVerified)
			}
			return fmt.Errorf("mark token verified: %w", err)
		}

		patient, err := store.Patients().GetByID(ctx, token.PatientID)
		if err != nil {
			return fmt.Errorf("load patient: %w", err)
		}
		if patient.Activate(now) {
			if err := store.Patients().Update(ctx, *patient); err != nil {
				return fmt.Errorf("activate patient: %w", err)
			}
		}

		verified = true
		return box.audit(ctx, s.audit, store, AuditRecord{
			EventType: domain.AuditEventVerificationConfirm,
			PatientID: patient.ID,
			Client:    client,
			Success:   true,
		})
	})
	if err != nil {
		return false, err
	}
	box.flush(ctx, s.mailer, s.audit)

	if verified {
		s.logger.Info("patient email verified")
	}
	return verified, nil
}

// ResendOutcome tells callers what RequestResend did. Transports must answer
// ResendSent and ResendUnknownEmail identically.
type ResendOutcome int

const (
	ResendUnknownEmail ResendOutcome = iota
	ResendLimited
	ResendSent
)

// Resend issues another verification token unless the patient already
// received resendLimit tokens within the trailing window. Unknown emails
// yield false.
func (s *VerificationService) Resend(ctx context.Context, input ResendInput) (bool, error) {
	outcome, err := s.RequestResend(ctx, input)
	if err != nil {
		return false, err
	}
	return outcome == ResendSent, nil
}

// RequestResend is Resend with the reason a token was not sent.
func (s *VerificationService) RequestResend(ctx context.Context, input ResendInput) (ResendOutcome, error) {
	email := domain.NormalizeEmail(input.Email)
	if email == "" {
		return ResendUnknownEmail, nil
	}

	var box outbox
	outcome := ResendUnknownEmail
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context, store port.Store) error {
		patient, err := store.Patients().GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return box.audit(ctx, s.audit, store, AuditRecord{
					EventType: domain.AuditEventVerificationResend,
					Client:    input.Client,
					Metadata:  withReason(reasonUnknownEmail, domain.AuditMetadata{"emailHash": s.codec.Digest(email)}),
				})
			}
			return fmt.Errorf("load patient: %w", err)
		}

		since := s.now().UTC().Add(-s.resendWindow)
		issued, err := store.VerificationTokens().CountCreatedSince(ctx, patient.ID, since)
		if err != nil {
			return fmt.Errorf("count verification tokens: %w", err)
		}
		if issued >= s.resendLimit {
			outcome = ResendLimited
			return box.audit(ctx, s.audit, store, AuditRecord{
				EventType: domain.AuditEventVerificationResend,
				PatientID: patient.ID,
				Client:    input.Client,
				Metadata:  withReason(reasonLimitExceeded, domain.AuditMetadata{"issuedInWindow": issued}),
			})
		}

		if err := s.issue(ctx, store, &box, *patient, input.BaseURL, input.Client); err != nil {
			return err
		}
		outcome = ResendSent
		return box.audit(ctx, s.audit, store, AuditRecord{
			EventType: domain.AuditEventVerificationResend,
			PatientID: patient.ID,
			Client:    input.Client,
			Success:   true,
		})
	})
	if err != nil {
		return ResendUnknownEmail, err
	}
	box.flush(ctx, s.mailer, s.audit)
	return outcome, nil
}

// LatestToken returns the newest token issued to the patient, or nil.
func (s *VerificationService) LatestToken(ctx context.Context, patientID string) (*domain.EmailVerificationToken, error) {
	var latest *domain.EmailVerificationToken
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context, store port.Store) error {
		token, err := store.VerificationTokens().Latest(ctx, patientID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("load latest verification token: %w", err)
		}
		latest = token
		return nil
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

func buildLink(baseURL, path, rawToken string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + path + "?token=" + url.QueryEscape(rawToken)
}

func verificationEmail(patient domain.Patient, link string, ttl time.Duration) domain.EmailMessage {
	var body strings.Builder
	fmt.Fprintf(&body, "Hello %s,\n\n", patient.FirstName)
	body.WriteString("Please confirm your email address to activate your patient account:\n\n")
	body.WriteString(link)
	fmt.Fprintf(&body, "\n\nThe link expires in %s. If you did not register, ignore this message.\n", humanDuration(ttl))
	return domain.EmailMessage{
		To:      patient.Email,
		Subject: "Verify your email address",
		Body:    body.String(),
	}
}

func humanDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}
