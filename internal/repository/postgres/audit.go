package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/core/port"
)

// AuditRepository appends to audit_logs. It has no update or delete path.
type AuditRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

func NewAuditRepository(exec pgExecutor) *AuditRepository {
	return &AuditRepository{exec: exec, builder: newBuilder()}
}

func (r *AuditRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	stmt, args, err := r.builder.Insert("audit_logs").
		Columns(
			"id",
			"patient_id",
			"event_type",
			"ip_address",
			"user_agent",
			"success",
			"created_at",
			"metadata",
		).
		Values(
			entry.ID,
			nullableString(entry.PatientID),
			entry.EventType,
			nullableString(entry.IP),
			nullableString(entry.UserAgent),
			entry.Success,
			entry.CreatedAt,
			nullableString(entry.Metadata),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert audit sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

var _ port.AuditRepository = (*AuditRepository)(nil)
