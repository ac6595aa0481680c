package port

import (
	"context"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
)

// AuditEventPublisher publishes committed audit entries to the message bus.
type AuditEventPublisher interface {
	PublishAuditRecorded(ctx context.Context, event domain.AuditRecordedEvent) error
}
