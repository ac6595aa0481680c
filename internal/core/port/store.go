package port

import "context"

// Store groups the repositories bound to a single unit of work.
type Store interface {
	Patients() PatientRepository
	Credentials() CredentialRepository
	VerificationTokens() VerificationTokenRepository
	ResetTokens() ResetTokenRepository
	Audit() AuditRepository
}

// Transactor runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}
