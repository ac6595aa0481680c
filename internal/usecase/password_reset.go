package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/core/port"
	"github.com/arklim/patient-portal-iam/internal/repository"
)

const defaultResetTTL = time.Hour

// PasswordResetRequestInput asks for a reset link to be sent to Email.
type PasswordResetRequestInput struct {
	Email        string
	BaseURL      string
	CaptchaToken string
	Client       ClientInfo
}

// PasswordResetConfirmInput redeems a reset token with a new password.
type PasswordResetConfirmInput struct {
	Token       string
	NewPassword string
	Client      ClientInfo
}

// PasswordResetService coordinates reset token issuance and redemption.
type PasswordResetService struct {
	tx           port.Transactor
	codec        port.TokenCodec
	hasher       port.PasswordHasher
	policy       port.PasswordPolicy
	mailer       port.Mailer
	audit        *AuditService
	captcha      *CaptchaGate
	logger       *zap.Logger
	now          func() time.Time
	ttl          time.Duration
	historyDepth int
}

// NewPasswordResetService constructs the reset flow.
func NewPasswordResetService(
	tx port.Transactor,
	codec port.TokenCodec,
	hasher port.PasswordHasher,
	policy port.PasswordPolicy,
	mailer port.Mailer,
	audit *AuditService,
	logger *zap.Logger,
) *PasswordResetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PasswordResetService{
		tx:           tx,
		codec:        codec,
		hasher:       hasher,
		policy:       policy,
		mailer:       mailer,
		audit:        audit,
		logger:       logger,
		now:          time.Now,
		ttl:          defaultResetTTL,
		historyDepth: domain.DefaultPasswordHistoryDepth,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *PasswordResetService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithTTL overrides the reset token lifetime.
func (s *PasswordResetService) WithTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

// WithHistoryDepth overrides how many previous digests are kept.
func (s *PasswordResetService) WithHistoryDepth(depth int) {
	if depth > 0 {
		s.historyDepth = depth
	}
}

// WithCaptcha guards RequestReset with gate.
func (s *PasswordResetService) WithCaptcha(gate *CaptchaGate) {
	s.captcha = gate
}

// RequestReset emails a reset link when the address belongs to a patient.
// Callers must answer identically whether or not it does.
func (s *PasswordResetService) RequestReset(ctx context.Context, input PasswordResetRequestInput) error {
	email := domain.NormalizeEmail(input.Email)

	if s.captcha != nil && !s.captcha.Validate(ctx, input.CaptchaToken, CaptchaActionPasswordReset) {
		err := s.audit.LogWithin(ctx, s.tx, AuditRecord{
			EventType: domain.AuditEventPasswordResetRequest,
			Client:    input.Client,
			Metadata:  withReason(reasonCaptchaFailed, domain.AuditMetadata{"requestedEmailHash": s.codec.Digest(email)}),
		})
		if err != nil {
			s.logger.Error("failed to audit reset captcha rejection", zap.Error(err))
		}
		return ErrCaptchaRejected
	}

	var box outbox
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context, store port.Store) error {
		patient, err := store.Patients().GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return box.audit(ctx, s.audit, store, AuditRecord{
					EventType: domain.AuditEventPasswordResetRequest,
					Client:    input.Client,
					Success:   true,
					Metadata:  domain.AuditMetadata{"requestedEmailHash": s.codec.Digest(email)},
				})
			}
			return fmt.Errorf("load patient: %w", err)
		}

		now := s.now().UTC()
		invalidated, err := store.ResetTokens().InvalidateUnused(ctx, patient.ID, now)
		if err != nil {
			return fmt.Errorf("invalidate reset tokens: %w", err)
		}

		raw, err := s.codec.Generate()
		if err != nil {
			return fmt.Errorf("generate reset token: %w", err)
		}
		token := domain.NewPasswordResetToken(
			uuid.NewString(),
			patient.ID,
			s.codec.Digest(raw),
			now,
			s.ttl,
			optionalString(input.Client.IP),
			optionalString(input.Client.UserAgent),
		)
		if err := store.ResetTokens().Create(ctx, token); err != nil {
			return fmt.Errorf("store reset token: %w", err)
		}

		box.mail(resetEmail(*patient, buildLink(input.BaseURL, "/reset", raw), s.ttl))
		return box.audit(ctx, s.audit, store, AuditRecord{
			EventType: domain.AuditEventPasswordResetRequest,
			PatientID: patient.ID,
			Client:    input.Client,
			Success:   true,
			Metadata:  domain.AuditMetadata{"invalidatedTokens": invalidated},
		})
	})
	if err != nil {
		return err
	}
	box.flush(ctx, s.mailer, s.audit)
	return nil
}

// ValidateToken reports whether rawToken is an unused, unexpired reset token.
// It does not consume the token.
func (s *PasswordResetService) ValidateToken(ctx context.Context, rawToken string) (bool, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return false, nil
	}
	hash := s.codec.Digest(rawToken)

	var valid bool
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context, store port.Store) error {
		token, err := store.ResetTokens().GetByHash(ctx, hash)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("load reset token: %w", err)
		}
		valid = token.IsRedeemable(s.now().UTC())
		return nil
	})
	if err != nil {
		return false, err
	}
	return valid, nil
}

// Confirm sets a new password using a reset token. It returns false for
// unknown, used or expired tokens, ErrWeakPassword when the password fails the
// policy and ErrPasswordReuse when it matches the current or a recent password.
func (s *PasswordResetService) Confirm(ctx context.Context, input PasswordResetConfirmInput) (bool, error) {
	if !s.policy.MeetsPolicy(input.NewPassword) {
		err := s.audit.LogWithin(ctx, s.tx, AuditRecord{
			EventType: domain.AuditEventPasswordResetConfirm,
			Client:    input.Client,
			Metadata:  withReason(reasonWeakPassword, nil),
		})
		if err != nil {
			s.logger.Error("failed to audit weak reset password", zap.Error(err))
		}
		return false, ErrWeakPassword
	}

	rawToken := strings.TrimSpace(input.Token)
	hash := s.codec.Digest(rawToken)

	var box outbox
	var changed bool
	var flowErr error
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context, store port.Store) error {
		now := s.now().UTC()
		failure := func(patientID, reason string) error {
			return box.audit(ctx, s.audit, store, AuditRecord{
				EventType: domain.AuditEventPasswordResetConfirm,
				PatientID: patientID,
				Client:    input.Client,
				Metadata:  withReason(reason, nil),
			})
		}

		token, err := store.ResetTokens().GetByHashForUpdate(ctx, hash)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return failure("", reasonTokenMissing)
			}
			return fmt.Errorf("load reset token: %w", err)
		}
		if token.IsUsed() {
			return failure(token.PatientID, reasonTokenUsed)
		}
		if token.IsExpired(now) {
			return failure(token.PatientID, reasonTokenExpired)
		}

		credential, err := store.Credentials().GetByPatientID(ctx, token.PatientID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return failure(token.PatientID, reasonCredentialMissing)
			}
			return fmt.Errorf("load credential: %w", err)
		}

		if reason := s.reuseReason(input.NewPassword, credential); reason != "" {
			flowErr = ErrPasswordReuse
			return failure(token.PatientID, reason)
		}

		// Claim the token before touching the credential so a lost race
		// leaves nothing to undo.
		if err := store.ResetTokens().MarkUsed(ctx, token.ID, now); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return failure(token.PatientID, reasonTokenUsed)
			}
			return fmt.Errorf("mark reset token used: %w", err)
		}

		newHash, err := s.hasher.Hash(input.NewPassword)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		credential.ChangePassword(newHash, now, s.historyDepth)
		if err := store.Credentials().Update(ctx, *credential); err != nil {
			return fmt.Errorf("update credential: %w", err)
		}

		invalidated, err := store.ResetTokens().InvalidateUnused(ctx, token.PatientID, now)
		if err != nil {
			return fmt.Errorf("invalidate reset tokens: %w", err)
		}

		patient, err := store.Patients().GetByID(ctx, token.PatientID)
		if err != nil {
			return fmt.Errorf("load patient: %w", err)
		}

		changed = true
		box.mail(passwordChangedEmail(*patient))
		return box.audit(ctx, s.audit, store, AuditRecord{
			EventType: domain.AuditEventPasswordResetConfirm,
			PatientID: token.PatientID,
			Client:    input.Client,
			Success:   true,
			Metadata:  domain.AuditMetadata{"invalidatedTokens": invalidated},
		})
	})
	if err != nil {
		return false, err
	}
	box.flush(ctx, s.mailer, s.audit)

	if flowErr != nil {
		return false, flowErr
	}
	return changed, nil
}

// reuseReason checks the history first and then the current digest.
func (s *PasswordResetService) reuseReason(candidate string, credential *domain.PatientCredential) string {
	for _, previous := range credential.History {
		if s.matches(candidate, previous) {
			return reasonPasswordReuse
		}
	}
	if s.matches(candidate, credential.PasswordHash) {
		return reasonPasswordReuseActive
	}
	return ""
}

func (s *PasswordResetService) matches(candidate, encoded string) bool {
	if encoded == "" {
		return false
	}
	ok, err := s.hasher.Verify(candidate, encoded)
	if err != nil {
		s.logger.Warn("unreadable password digest skipped", zap.Error(err))
		return false
	}
	return ok
}

func resetEmail(patient domain.Patient, link string, ttl time.Duration) domain.EmailMessage {
	var body strings.Builder
	fmt.Fprintf(&body, "Hello %s,\n\n", patient.FirstName)
	body.WriteString("We received a request to reset the password of your patient account. Use the link below to choose a new one:\n\n")
	body.WriteString(link)
	fmt.Fprintf(&body, "\n\nThe link expires in %s. If you did not ask for a reset, ignore this message.\n", humanDuration(ttl))
	return domain.EmailMessage{
		To:      patient.Email,
		Subject: "Reset your password",
		Body:    body.String(),
	}
}

func passwordChangedEmail(patient domain.Patient) domain.EmailMessage {
	return domain.EmailMessage{
		To:      patient.Email,
		Subject: "Your password was changed",
		Body: fmt.Sprintf("Hello %s,\n\nThe password of your patient account was just changed. "+
			"If this was not you, contact support immediately.\n", patient.FirstName),
	}
}
