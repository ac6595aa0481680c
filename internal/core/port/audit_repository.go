package port

import (
	"context"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
)

// AuditRepository is append-only.
type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
}
