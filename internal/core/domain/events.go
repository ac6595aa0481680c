package domain

import "time"

// AuditRecordedEvent represents the payload for iam.patient.audit_recorded messages.
type AuditRecordedEvent struct {
	EventID    string
	PatientID  *string
	EventType  string
	Success    bool
	RecordedAt time.Time
	Metadata   map[string]any
}
