package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/core/port"
)

type auditMetricsRecorder struct {
	observed map[string]int
}

func (r *auditMetricsRecorder) ObserveAuditEvent(eventType string, success bool) {
	if r.observed == nil {
		r.observed = map[string]int{}
	}
	key := eventType + ":failure"
	if success {
		key = eventType + ":success"
	}
	r.observed[key]++
}

func TestAuditLogSerializesMetadata(t *testing.T) {
	store := newMemStore()
	svc := NewAuditService(nil, nil)
	svc.WithClock(fixedClock(testNow))
	metrics := &auditMetricsRecorder{}
	svc.WithMetrics(metrics)

	err := svc.LogWithin(context.Background(), store, AuditRecord{
		EventType: domain.AuditEventPasswordResetRequest,
		PatientID: "p1",
		Client:    ClientInfo{IP: " 10.0.0.1 ", UserAgent: ""},
		Success:   true,
		Metadata:  domain.AuditMetadata{"invalidatedTokens": 2},
	})
	if err != nil {
		t.Fatalf("log: %v", err)
	}

	entries := store.snapshot().audit
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if metadataString(entry) != `{"invalidatedTokens":2}` {
		t.Fatalf("unexpected metadata %q", metadataString(entry))
	}
	if entry.IP == nil || *entry.IP != "10.0.0.1" || entry.UserAgent != nil {
		t.Fatalf("unexpected client fields %+v", entry)
	}
	if !entry.CreatedAt.Equal(testNow) {
		t.Fatalf("unexpected timestamp %s", entry.CreatedAt)
	}
	if metrics.observed["password_reset_request:success"] != 1 {
		t.Fatalf("metrics not observed: %v", metrics.observed)
	}
}

func TestAuditLogKeepsEntryWhenMetadataFails(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := newMemStore()
	svc := NewAuditService(nil, zap.New(core))
	svc.WithMetadataEncoder(func(domain.AuditMetadata) (string, error) {
		return "", errors.New("unsupported value")
	})

	err := svc.LogWithin(context.Background(), store, AuditRecord{
		EventType: domain.AuditEventRegistration,
		Metadata:  domain.AuditMetadata{"reason": "x"},
	})
	if err != nil {
		t.Fatalf("serialization failure must not propagate: %v", err)
	}

	entries := store.snapshot().audit
	if len(entries) != 1 || entries[0].Metadata != nil {
		t.Fatalf("expected entry with nil metadata, got %+v", entries)
	}
	if logs.FilterMessage("failed to serialize audit metadata").Len() != 1 {
		t.Fatalf("expected serialization warning")
	}
}

func TestAuditLogRealEncoderRejectsChannels(t *testing.T) {
	store := newMemStore()
	svc := NewAuditService(nil, nil)

	err := svc.LogWithin(context.Background(), store, AuditRecord{
		EventType: domain.AuditEventRegistration,
		Metadata:  domain.AuditMetadata{"bad": make(chan int)},
	})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if store.snapshot().audit[0].Metadata != nil {
		t.Fatalf("expected nil metadata for unencodable value")
	}
}

func TestAuditPublishedOnlyAfterCommit(t *testing.T) {
	store := newMemStore()
	publisher := &recordingPublisher{}
	svc := NewAuditService(publisher, nil)

	rollback := errors.New("rollback")
	var box outbox
	err := store.WithinTransaction(context.Background(), func(ctx context.Context, s port.Store) error {
		if err := box.audit(ctx, svc, s, AuditRecord{EventType: domain.AuditEventRegistration}); err != nil {
			return err
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("expected rollback error, got %v", err)
	}
	if len(publisher.events) != 0 || len(store.snapshot().audit) != 0 {
		t.Fatalf("rolled back audit must be neither stored nor published")
	}
}

func TestAuditPublishFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	publisher := &recordingPublisher{err: errors.New("broker down")}
	svc := NewAuditService(publisher, zap.New(core))

	if err := svc.LogWithin(context.Background(), newMemStore(), AuditRecord{EventType: domain.AuditEventRegistration, PatientID: "p1"}); err != nil {
		t.Fatalf("publish failure must not propagate: %v", err)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected publish attempt")
	}
	entry := logs.FilterMessage("failed to publish audit event").All()
	if len(entry) != 1 || !strings.Contains(entry[0].ContextMap()["error"].(string), "broker down") {
		t.Fatalf("expected publish warning, got %+v", entry)
	}
}
