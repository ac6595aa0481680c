package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/core/port"
)

// StubPublisher logs audit events instead of sending them. Used when no
// brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) PublishAuditRecorded(_ context.Context, event domain.AuditRecordedEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.EventID),
		zap.String("action", event.EventType),
		zap.Bool("success", event.Success),
		zap.Time("recorded_at", event.RecordedAt.UTC()),
	}
	if event.PatientID != nil {
		fields = append(fields, zap.String("patient_id", *event.PatientID))
	}
	p.logger.Debug("audit event (stub publisher)", fields...)
	return nil
}

var _ port.AuditEventPublisher = (*StubPublisher)(nil)
