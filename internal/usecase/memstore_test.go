package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/core/port"
	"github.com/arklim/patient-portal-iam/internal/repository"
)

type memState struct {
	patients      map[string]domain.Patient
	credentials   map[string]domain.PatientCredential
	verifications map[string]domain.EmailVerificationToken
	resets        map[string]domain.PasswordResetToken
	audit         []domain.AuditLogEntry
}

func newMemState() *memState {
	return &memState{
		patients:      map[string]domain.Patient{},
		credentials:   map[string]domain.PatientCredential{},
		verifications: map[string]domain.EmailVerificationToken{},
		resets:        map[string]domain.PasswordResetToken{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.patients {
		c.patients[k] = v
	}
	for k, v := range s.credentials {
		v.History = append(domain.PasswordHistory(nil), v.History...)
		c.credentials[k] = v
	}
	for k, v := range s.verifications {
		c.verifications[k] = v
	}
	for k, v := range s.resets {
		c.resets[k] = v
	}
	c.audit = append([]domain.AuditLogEntry(nil), s.audit...)
	return c
}

// memStore is a transactional in-memory port.Store. Transactions are
// serialized and run against a copy that replaces the state on commit.
type memStore struct {
	mu    sync.Mutex
	state *memState

	deleteErr map[string]error
	// markUsedErr forces ResetTokens().MarkUsed to fail, standing in for a
	// concurrent transaction that claimed the row first.
	markUsedErr map[string]error
	txCount     int
}

func newMemStore() *memStore {
	return &memStore{state: newMemState(), deleteErr: map[string]error{}, markUsedErr: map[string]error{}}
}

func (m *memStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, store port.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++

	work := m.state.clone()
	if err := fn(ctx, &memTx{state: work, parent: m}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) seedPatient(p domain.Patient, c domain.PatientCredential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.patients[p.ID] = p
	m.state.credentials[c.ID] = c
}

func (m *memStore) seedReset(t domain.PasswordResetToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.resets[t.ID] = t
}

func (m *memStore) seedVerification(t domain.EmailVerificationToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.verifications[t.ID] = t
}

func (m *memStore) auditEntries(eventType string) []domain.AuditLogEntry {
	var out []domain.AuditLogEntry
	for _, e := range m.snapshot().audit {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type memTx struct {
	state  *memState
	parent *memStore
}

func (t *memTx) Patients() port.PatientRepository                     { return memPatients{t} }
func (t *memTx) Credentials() port.CredentialRepository               { return memCredentials{t} }
func (t *memTx) VerificationTokens() port.VerificationTokenRepository { return memVerifications{t} }
func (t *memTx) ResetTokens() port.ResetTokenRepository               { return memResets{t} }
func (t *memTx) Audit() port.AuditRepository                          { return memAudit{t} }

type memPatients struct{ tx *memTx }

func (r memPatients) Create(_ context.Context, p domain.Patient) error {
	for _, existing := range r.tx.state.patients {
		if existing.Email == p.Email {
			return repository.ErrConflict
		}
	}
	r.tx.state.patients[p.ID] = p
	return nil
}

func (r memPatients) GetByID(_ context.Context, id string) (*domain.Patient, error) {
	if p, ok := r.tx.state.patients[id]; ok {
		return &p, nil
	}
	return nil, repository.ErrNotFound
}

func (r memPatients) GetByEmail(_ context.Context, email string) (*domain.Patient, error) {
	email = domain.NormalizeEmail(email)
	for _, p := range r.tx.state.patients {
		if p.Email == email {
			found := p
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memPatients) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r memPatients) Update(_ context.Context, p domain.Patient) error {
	if _, ok := r.tx.state.patients[p.ID]; !ok {
		return repository.ErrNotFound
	}
	r.tx.state.patients[p.ID] = p
	return nil
}

type memCredentials struct{ tx *memTx }

func (r memCredentials) Create(_ context.Context, c domain.PatientCredential) error {
	for _, existing := range r.tx.state.credentials {
		if existing.PatientID == c.PatientID {
			return repository.ErrConflict
		}
	}
	r.tx.state.credentials[c.ID] = c
	return nil
}

func (r memCredentials) GetByPatientID(_ context.Context, patientID string) (*domain.PatientCredential, error) {
	for _, c := range r.tx.state.credentials {
		if c.PatientID == patientID {
			found := c
			found.History = append(domain.PasswordHistory(nil), c.History...)
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memCredentials) Update(_ context.Context, c domain.PatientCredential) error {
	if _, ok := r.tx.state.credentials[c.ID]; !ok {
		return repository.ErrNotFound
	}
	r.tx.state.credentials[c.ID] = c
	return nil
}

type memVerifications struct{ tx *memTx }

func (r memVerifications) Create(_ context.Context, t domain.EmailVerificationToken) error {
	r.tx.state.verifications[t.ID] = t
	return nil
}

func (r memVerifications) GetByHashForUpdate(_ context.Context, hash string) (*domain.EmailVerificationToken, error) {
	for _, t := range r.tx.state.verifications {
		if t.TokenHash == hash {
			found := t
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memVerifications) MarkVerified(_ context.Context, id string, at time.Time) error {
	t, ok := r.tx.state.verifications[id]
	if !ok || !t.MarkVerified(at) {
		return repository.ErrConflict
	}
	r.tx.state.verifications[id] = t
	return nil
}

func (r memVerifications) CountCreatedSince(_ context.Context, patientID string, since time.Time) (int, error) {
	count := 0
	for _, t := range r.tx.state.verifications {
		if t.PatientID == patientID && t.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (r memVerifications) Latest(_ context.Context, patientID string) (*domain.EmailVerificationToken, error) {
	var latest *domain.EmailVerificationToken
	for _, t := range r.tx.state.verifications {
		if t.PatientID != patientID {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			found := t
			latest = &found
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (r memVerifications) ListExpired(_ context.Context, now time.Time) ([]string, error) {
	var ids []string
	for id, t := range r.tx.state.verifications {
		if t.ExpiresAt.IsZero() || t.ExpiresAt.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r memVerifications) Delete(_ context.Context, id string) error {
	if err := r.tx.parent.deleteErr[id]; err != nil {
		return err
	}
	delete(r.tx.state.verifications, id)
	return nil
}

type memResets struct{ tx *memTx }

func (r memResets) Create(_ context.Context, t domain.PasswordResetToken) error {
	r.tx.state.resets[t.ID] = t
	return nil
}

func (r memResets) GetByHash(_ context.Context, hash string) (*domain.PasswordResetToken, error) {
	for _, t := range r.tx.state.resets {
		if t.TokenHash == hash {
			found := t
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memResets) GetByHashForUpdate(ctx context.Context, hash string) (*domain.PasswordResetToken, error) {
	return r.GetByHash(ctx, hash)
}

func (r memResets) MarkUsed(_ context.Context, id string, at time.Time) error {
	if err := r.tx.parent.markUsedErr[id]; err != nil {
		return err
	}
	t, ok := r.tx.state.resets[id]
	if !ok || !t.MarkUsed(at) {
		return repository.ErrConflict
	}
	r.tx.state.resets[id] = t
	return nil
}

func (r memResets) InvalidateUnused(_ context.Context, patientID string, at time.Time) (int, error) {
	count := 0
	for id, t := range r.tx.state.resets {
		if t.PatientID == patientID && t.MarkUsed(at) {
			r.tx.state.resets[id] = t
			count++
		}
	}
	return count, nil
}

func (r memResets) ListStale(_ context.Context, now time.Time) ([]string, error) {
	var ids []string
	for id, t := range r.tx.state.resets {
		if t.IsUsed() || t.ExpiresAt.IsZero() || t.ExpiresAt.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r memResets) Delete(_ context.Context, id string) error {
	if err := r.tx.parent.deleteErr[id]; err != nil {
		return err
	}
	delete(r.tx.state.resets, id)
	return nil
}

type memAudit struct{ tx *memTx }

func (r memAudit) Append(_ context.Context, entry domain.AuditLogEntry) error {
	r.tx.state.audit = append(r.tx.state.audit, entry)
	return nil
}

// fakeHasher keeps tests fast; digests are reversible on purpose.
type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func (fakeHasher) Verify(password, encoded string) (bool, error) {
	if !strings.HasPrefix(encoded, "hashed:") {
		return false, errors.New("unknown digest format")
	}
	return encoded == "hashed:"+password, nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []domain.EmailMessage
}

func (m *recordingMailer) Send(_ context.Context, msg domain.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
}

func (m *recordingMailer) messages() []domain.EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.EmailMessage(nil), m.sent...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.AuditRecordedEvent
	err    error
}

func (p *recordingPublisher) PublishAuditRecorded(_ context.Context, event domain.AuditRecordedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type stubCaptchaVerifier struct {
	result domain.CaptchaResult
	err    error
	calls  int
	secret string
}

func (v *stubCaptchaVerifier) Verify(_ context.Context, secret, _ string) (domain.CaptchaResult, error) {
	v.calls++
	v.secret = secret
	return v.result, v.err
}

// tokenFromLink extracts the raw token from a mailed link.
func tokenFromLink(body string) string {
	idx := strings.Index(body, "?token=")
	if idx < 0 {
		return ""
	}
	rest := body[idx+len("?token="):]
	if end := strings.IndexAny(rest, "\n "); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

func metadataString(entry domain.AuditLogEntry) string {
	if entry.Metadata == nil {
		return ""
	}
	return *entry.Metadata
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
