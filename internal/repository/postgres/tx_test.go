package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/core/port"
)

func TestTxManager_CommitsOnSuccess(t *testing.T) {
	mock := newMockPool(t)
	manager := NewTxManager(mock)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := manager.WithinTransaction(context.Background(), func(ctx context.Context, store port.Store) error {
		return store.Audit().Append(ctx, domain.AuditLogEntry{
			ID:        "audit-1",
			EventType: domain.AuditEventRegistration,
			Success:   true,
			CreatedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatalf("WithinTransaction returned error: %v", err)
	}
}

func TestTxManager_RollsBackOnError(t *testing.T) {
	mock := newMockPool(t)
	manager := NewTxManager(mock)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	mock.ExpectRollback()

	sentinel := errors.New("boom")
	err := manager.WithinTransaction(context.Background(), func(ctx context.Context, store port.Store) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}

func TestTxManager_BeginFailure(t *testing.T) {
	mock := newMockPool(t)
	manager := NewTxManager(mock)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted}).WillReturnError(errors.New("pool exhausted"))

	called := false
	err := manager.WithinTransaction(context.Background(), func(ctx context.Context, store port.Store) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Fatalf("expected begin failure without running fn, err=%v called=%v", err, called)
	}
}

func TestAuditRepository_AppendWritesNullMetadata(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAuditRepository(mock)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs("audit-1", nil, "password_reset_request", nil, nil, true, now, nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Append(context.Background(), domain.AuditLogEntry{
		ID:        "audit-1",
		EventType: domain.AuditEventPasswordResetRequest,
		Success:   true,
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
}
