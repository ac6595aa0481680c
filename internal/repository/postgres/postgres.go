package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arklim/patient-portal-iam/internal/core/port"
	"github.com/arklim/patient-portal-iam/internal/repository"
)

const uniqueViolation = "23505"

// pgExecutor is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

func newBuilder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// Store binds every repository to one executor.
type Store struct {
	patients      *PatientRepository
	credentials   *CredentialRepository
	verifications *VerificationTokenRepository
	resets        *ResetTokenRepository
	audit         *AuditRepository
}

// NewStore wires all repositories on exec, which is either a pool or a transaction.
func NewStore(exec pgExecutor) *Store {
	return &Store{
		patients:      NewPatientRepository(exec),
		credentials:   NewCredentialRepository(exec),
		verifications: NewVerificationTokenRepository(exec),
		resets:        NewResetTokenRepository(exec),
		audit:         NewAuditRepository(exec),
	}
}

func (s *Store) Patients() port.PatientRepository                     { return s.patients }
func (s *Store) Credentials() port.CredentialRepository               { return s.credentials }
func (s *Store) VerificationTokens() port.VerificationTokenRepository { return s.verifications }
func (s *Store) ResetTokens() port.ResetTokenRepository               { return s.resets }
func (s *Store) Audit() port.AuditRepository                          { return s.audit }

// TxManager implements port.Transactor on top of a pgx pool.
type TxManager struct {
	db      txBeginner
	options pgx.TxOptions
}

func NewTxManager(db txBeginner) *TxManager {
	return &TxManager{db: db, options: pgx.TxOptions{IsoLevel: pgx.ReadCommitted}}
}

// WithinTransaction commits when fn returns nil and rolls back otherwise,
// including when fn panics.
func (m *TxManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context, store port.Store) error) (err error) {
	tx, err := m.db.BeginTx(ctx, m.options)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, NewStore(tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback transaction: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, repository.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullableString(value *string) any {
	if value == nil || *value == "" {
		return nil
	}
	return *value
}

var (
	_ port.Store      = (*Store)(nil)
	_ port.Transactor = (*TxManager)(nil)
)
