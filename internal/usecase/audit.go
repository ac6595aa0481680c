package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/core/port"
)

// Audit failure reasons.
const (
	reasonInvalidEmail        = "invalid_email"
	reasonUnderage            = "underage"
	reasonWeakPassword        = "weak_password"
	reasonEmailExists         = "email_already_exists"
	reasonCaptchaFailed       = "captcha_failed"
	reasonEmailIssue          = "email_issue"
	reasonAlreadyVerified     = "already_verified"
	reasonExpired             = "expired"
	reasonLimitExceeded       = "limit_exceeded"
	reasonUnknownEmail        = "unknown_email"
	reasonTokenMissing        = "token_missing"
	reasonTokenUsed           = "token_used"
	reasonTokenExpired        = "token_expired"
	reasonCredentialMissing   = "credential_missing"
	reasonPasswordReuse       = "password_reuse"
	reasonPasswordReuseActive = "password_reuse_current"
)

// ClientInfo identifies the caller of a flow for audit purposes.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// AuditRecord is a single entry to be appended to the audit trail.
type AuditRecord struct {
	EventType string
	PatientID string
	Client    ClientInfo
	Success   bool
	Metadata  domain.AuditMetadata
}

// AuditMetrics observes audit outcomes.
type AuditMetrics interface {
	ObserveAuditEvent(eventType string, success bool)
}

// MetadataEncoder turns audit metadata into its stored string form.
type MetadataEncoder func(domain.AuditMetadata) (string, error)

func jsonMetadataEncoder(meta domain.AuditMetadata) (string, error) {
	payload, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// AuditService appends audit entries and, once the surrounding transaction
// has committed, publishes them.
type AuditService struct {
	publisher port.AuditEventPublisher
	metrics   AuditMetrics
	encode    MetadataEncoder
	logger    *zap.Logger
	now       func() time.Time
}

func NewAuditService(publisher port.AuditEventPublisher, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		publisher: publisher,
		encode:    jsonMetadataEncoder,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *AuditService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithMetadataEncoder replaces the JSON encoder.
func (s *AuditService) WithMetadataEncoder(encode MetadataEncoder) {
	if encode != nil {
		s.encode = encode
	}
}

func (s *AuditService) WithMetrics(metrics AuditMetrics) {
	s.metrics = metrics
}

// Log appends rec through repo. A metadata encoding failure is logged and the
// entry is written without metadata. The returned event is meant for Publish.
func (s *AuditService) Log(ctx context.Context, repo port.AuditRepository, rec AuditRecord) (domain.AuditRecordedEvent, error) {
	entry := domain.AuditLogEntry{
		ID:        uuid.NewString(),
		PatientID: optionalString(rec.PatientID),
		EventType: rec.EventType,
		IP:        optionalString(rec.Client.IP),
		UserAgent: optionalString(rec.Client.UserAgent),
		Success:   rec.Success,
		CreatedAt: s.now().UTC(),
	}

	if rec.Metadata != nil {
		encoded, err := s.encode(rec.Metadata)
		if err != nil {
			s.logger.Warn("failed to serialize audit metadata",
				zap.String("event_type", rec.EventType),
				zap.Error(err),
			)
		} else {
			entry.Metadata = &encoded
		}
	}

	if err := repo.Append(ctx, entry); err != nil {
		return domain.AuditRecordedEvent{}, fmt.Errorf("append audit entry: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ObserveAuditEvent(entry.EventType, entry.Success)
	}

	return domain.AuditRecordedEvent{
		EventID:    entry.ID,
		PatientID:  entry.PatientID,
		EventType:  entry.EventType,
		Success:    entry.Success,
		RecordedAt: entry.CreatedAt,
		Metadata:   rec.Metadata,
	}, nil
}

// Publish forwards a committed entry to the event bus. Failures are logged only.
func (s *AuditService) Publish(ctx context.Context, event domain.AuditRecordedEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAuditRecorded(ctx, event); err != nil {
		s.logger.Warn("failed to publish audit event",
			zap.String("event_type", event.EventType),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
}

// LogWithin writes rec in a transaction of its own and publishes it once
// committed. Used when the flow's transaction has already been rolled back.
func (s *AuditService) LogWithin(ctx context.Context, tx port.Transactor, rec AuditRecord) error {
	var event domain.AuditRecordedEvent
	err := tx.WithinTransaction(ctx, func(ctx context.Context, store port.Store) error {
		var err error
		event, err = s.Log(ctx, store.Audit(), rec)
		return err
	})
	if err != nil {
		return err
	}
	s.Publish(ctx, event)
	return nil
}

// outbox collects side effects produced inside a transaction so they run only
// after it commits.
type outbox struct {
	mails  []domain.EmailMessage
	events []domain.AuditRecordedEvent
}

func (o *outbox) mail(msg domain.EmailMessage) {
	o.mails = append(o.mails, msg)
}

// audit logs rec through store and queues the resulting event.
func (o *outbox) audit(ctx context.Context, s *AuditService, store port.Store, rec AuditRecord) error {
	event, err := s.Log(ctx, store.Audit(), rec)
	if err != nil {
		return err
	}
	o.events = append(o.events, event)
	return nil
}

func (o *outbox) flush(ctx context.Context, mailer port.Mailer, audit *AuditService) {
	if mailer != nil {
		for _, msg := range o.mails {
			mailer.Send(ctx, msg)
		}
	}
	for _, event := range o.events {
		audit.Publish(ctx, event)
	}
	o.mails = nil
	o.events = nil
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func withReason(reason string, extra domain.AuditMetadata) domain.AuditMetadata {
	meta := domain.AuditMetadata{"reason": reason}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}
