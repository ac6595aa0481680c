package domain

import "time"

// Audit event types.
const (
	AuditEventRegistration         = "registration"
	AuditEventVerificationIssued   = "verification_issued"
	AuditEventVerificationConfirm  = "verification_confirm"
	AuditEventVerificationResend   = "verification_resend"
	AuditEventPasswordResetRequest = "password_reset_request"
	AuditEventPasswordResetConfirm = "password_reset_confirm"
)

// AuditMetadata is free-form context attached to an audit entry.
type AuditMetadata map[string]any

// AuditLogEntry is an immutable record of a security-relevant outcome.
// Metadata holds the serialized form of the AuditMetadata, or nil.
type AuditLogEntry struct {
	ID        string
	PatientID *string
	EventType string
	IP        *string
	UserAgent *string
	Success   bool
	CreatedAt time.Time
	Metadata  *string
}
