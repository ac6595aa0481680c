package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/core/port"
	"github.com/arklim/patient-portal-iam/internal/infra/config"
)

const (
	schemaVersion = "1.0"
	// TopicAuditRecorded carries every committed audit entry.
	TopicAuditRecorded = "patient.audit_recorded"
)

// EventPublisher publishes audit events to Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	PatientID string            `json:"patient_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type auditRecordedPayload struct {
	AuditID    string         `json:"audit_id"`
	PatientID  *string        `json:"patient_id,omitempty"`
	Action     string         `json:"action"`
	Success    bool           `json:"success"`
	RecordedAt time.Time      `json:"recorded_at"`
	Details    map[string]any `json:"details,omitempty"`
}

// PublishAuditRecorded publishes iam.patient.audit_recorded events keyed by
// patient so that one patient's events stay ordered.
func (p *EventPublisher) PublishAuditRecorded(ctx context.Context, event domain.AuditRecordedEvent) error {
	var patientID string
	if event.PatientID != nil {
		patientID = *event.PatientID
	}

	recordedAt := event.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	recordedAt = recordedAt.UTC()

	metadata := map[string]string{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	topic := p.producer.TopicName(TopicAuditRecorded)
	envelope := eventEnvelope{
		EventID:   event.EventID,
		EventType: topic,
		PatientID: patientID,
		Timestamp: recordedAt,
		Version:   schemaVersion,
		Payload: auditRecordedPayload{
			AuditID:    event.EventID,
			PatientID:  event.PatientID,
			Action:     event.EventType,
			Success:    event.Success,
			RecordedAt: recordedAt,
			Details:    event.Metadata,
		},
		Metadata: metadata,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	key := patientID
	if key == "" {
		key = event.EventID
	}
	return p.producer.Send(ctx, topic, key, body)
}

var _ port.AuditEventPublisher = (*EventPublisher)(nil)
