package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
)

func seedPendingPatient(t *testing.T, f *flowFixture) domain.Patient {
	t.Helper()
	patient := domain.NewPatient("patient-1", "Jane", "Doe", "jane@ok.com", nil, testNow.AddDate(-30, 0, 0), testNow.Add(-48*time.Hour))
	cred := domain.NewPatientCredential("cred-1", patient.ID, "hashed:Str0ng!Passw0rd", testNow.Add(-48*time.Hour))
	f.store.seedPatient(patient, cred)
	return patient
}

func seedVerificationToken(f *flowFixture, id, patientID, raw string, issuedAt time.Time) domain.EmailVerificationToken {
	token := domain.NewEmailVerificationToken(id, patientID, f.codec.Digest(raw), issuedAt, defaultVerificationTTL)
	f.store.seedVerification(token)
	return token
}

func TestVerifyActivatesPatient(t *testing.T) {
	f := newFlowFixture(t)
	patient := seedPendingPatient(t, f)
	seedVerificationToken(f, "vt-1", patient.ID, "raw-token", testNow.Add(-time.Hour))

	ok, err := f.verification.Verify(context.Background(), "raw-token", ClientInfo{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected verification to succeed")
	}

	state := f.store.snapshot()
	if state.patients[patient.ID].Status != domain.AccountStatusActive {
		t.Fatalf("expected active patient")
	}
	if !state.patients[patient.ID].UpdatedAt.Equal(testNow) {
		t.Fatalf("updated_at not refreshed")
	}
	if state.verifications["vt-1"].VerifiedAt == nil {
		t.Fatalf("token not marked verified")
	}

	entries := f.store.auditEntries(domain.AuditEventVerificationConfirm)
	if len(entries) != 1 || !entries[0].Success {
		t.Fatalf("expected successful confirm audit, got %+v", entries)
	}
}

func TestVerifyRejectsTokenIssuedTwentyFiveHoursAgo(t *testing.T) {
	f := newFlowFixture(t)
	patient := seedPendingPatient(t, f)
	seedVerificationToken(f, "vt-1", patient.ID, "stale", testNow.Add(-25*time.Hour))

	ok, err := f.verification.Verify(context.Background(), "stale", ClientInfo{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("expired token must not verify")
	}
	if f.store.snapshot().patients[patient.ID].Status != domain.AccountStatusPendingVerification {
		t.Fatalf("status changed for expired token")
	}
	entries := f.store.auditEntries(domain.AuditEventVerificationConfirm)
	if len(entries) != 1 || entries[0].Success || !strings.Contains(metadataString(entries[0]), reasonExpired) {
		t.Fatalf("expected expired failure audit, got %+v", entries)
	}
}

func TestVerifyExpiryBoundaryIsExclusive(t *testing.T) {
	f := newFlowFixture(t)
	patient := seedPendingPatient(t, f)
	seedVerificationToken(f, "vt-1", patient.ID, "edge", testNow.Add(-defaultVerificationTTL))

	ok, err := f.verification.Verify(context.Background(), "edge", ClientInfo{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("token expiring exactly now must be treated as expired")
	}
}

func TestVerifyReportsAlreadyVerifiedBeforeExpired(t *testing.T) {
	f := newFlowFixture(t)
	patient := seedPendingPatient(t, f)
	token := domain.NewEmailVerificationToken("vt-1", patient.ID, f.codec.Digest("used"), testNow.Add(-48*time.Hour), defaultVerificationTTL)
	token.MarkVerified(testNow.Add(-47 * time.Hour))
	f.store.seedVerification(token)

	ok, err := f.verification.Verify(context.Background(), "used", ClientInfo{})
	if err != nil || ok {
		t.Fatalf("expected false without error, got %v %v", ok, err)
	}
	entries := f.store.auditEntries(domain.AuditEventVerificationConfirm)
	if len(entries) != 1 || !strings.Contains(metadataString(entries[0]), reasonAlreadyVerified) {
		t.Fatalf("expected already_verified reason, got %+v", entries)
	}
}

func TestVerifyUnknownTokenIsSilent(t *testing.T) {
	f := newFlowFixture(t)

	ok, err := f.verification.Verify(context.Background(), "nope", ClientInfo{})
	if err != nil || ok {
		t.Fatalf("expected false without error, got %v %v", ok, err)
	}
	if len(f.store.snapshot().audit) != 0 {
		t.Fatalf("unknown token should not be audited")
	}
}

func TestVerifySecondRedemptionFails(t *testing.T) {
	f := newFlowFixture(t)
	patient := seedPendingPatient(t, f)
	seedVerificationToken(f, "vt-1", patient.ID, "once", testNow.Add(-time.Hour))
	ctx := context.Background()

	if ok, err := f.verification.Verify(ctx, "once", ClientInfo{}); err != nil || !ok {
		t.Fatalf("first verify: %v %v", ok, err)
	}
	if ok, err := f.verification.Verify(ctx, "once", ClientInfo{}); err != nil || ok {
		t.Fatalf("second verify should fail, got %v %v", ok, err)
	}
}

func TestResendLimit(t *testing.T) {
	cases := []struct {
		name     string
		existing int
		want     bool
	}{
		{name: "three tokens in window", existing: 3, want: true},
		{name: "four tokens in window", existing: 4, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFlowFixture(t)
			patient := seedPendingPatient(t, f)
			for i := 0; i < tc.existing; i++ {
				seedVerificationToken(f, "vt-"+string(rune('a'+i)), patient.ID, "raw-"+string(rune('a'+i)), testNow.Add(-time.Duration(i+1)*time.Hour))
			}

			sent, err := f.verification.Resend(context.Background(), ResendInput{Email: patient.Email, BaseURL: testBaseURL})
			if err != nil {
				t.Fatalf("resend: %v", err)
			}
			if sent != tc.want {
				t.Fatalf("expected sent=%v, got %v", tc.want, sent)
			}

			entries := f.store.auditEntries(domain.AuditEventVerificationResend)
			if len(entries) != 1 || entries[0].Success != tc.want {
				t.Fatalf("unexpected resend audit %+v", entries)
			}
			if !tc.want && !strings.Contains(metadataString(entries[0]), reasonLimitExceeded) {
				t.Fatalf("expected limit_exceeded reason, got %s", metadataString(entries[0]))
			}
			if got := len(f.mailer.messages()); (got == 1) != tc.want {
				t.Fatalf("unexpected mail count %d", got)
			}
		})
	}
}

func TestResendWindowIsRolling(t *testing.T) {
	f := newFlowFixture(t)
	patient := seedPendingPatient(t, f)
	for i, age := range []time.Duration{2 * time.Hour, 5 * time.Hour, 23 * time.Hour, 25 * time.Hour} {
		seedVerificationToken(f, "vt-"+string(rune('a'+i)), patient.ID, "raw-"+string(rune('a'+i)), testNow.Add(-age))
	}

	sent, err := f.verification.Resend(context.Background(), ResendInput{Email: patient.Email, BaseURL: testBaseURL})
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if !sent {
		t.Fatalf("token older than the window must not count")
	}
}

func TestRequestResendOutcomes(t *testing.T) {
	f := newFlowFixture(t)
	patient := seedPendingPatient(t, f)

	outcome, err := f.verification.RequestResend(context.Background(), ResendInput{Email: "ghost@ok.com", BaseURL: testBaseURL})
	if err != nil || outcome != ResendUnknownEmail {
		t.Fatalf("expected unknown email outcome, got %v %v", outcome, err)
	}

	outcome, err = f.verification.RequestResend(context.Background(), ResendInput{Email: patient.Email, BaseURL: testBaseURL})
	if err != nil || outcome != ResendSent {
		t.Fatalf("expected sent outcome, got %v %v", outcome, err)
	}

	for i := 0; i < 3; i++ {
		seedVerificationToken(f, "vt-"+string(rune('a'+i)), patient.ID, "raw-"+string(rune('a'+i)), testNow.Add(-time.Duration(i+1)*time.Hour))
	}
	outcome, err = f.verification.RequestResend(context.Background(), ResendInput{Email: patient.Email, BaseURL: testBaseURL})
	if err != nil || outcome != ResendLimited {
		t.Fatalf("expected limited outcome, got %v %v", outcome, err)
	}
}

func TestResendUnknownEmail(t *testing.T) {
	f := newFlowFixture(t)

	sent, err := f.verification.Resend(context.Background(), ResendInput{Email: "ghost@ok.com", BaseURL: testBaseURL})
	if err != nil || sent {
		t.Fatalf("expected false without error, got %v %v", sent, err)
	}
	entries := f.store.auditEntries(domain.AuditEventVerificationResend)
	if len(entries) != 1 || entries[0].PatientID != nil || entries[0].Success {
		t.Fatalf("expected unlinked failure audit, got %+v", entries)
	}
	if strings.Contains(metadataString(entries[0]), "ghost@ok.com") {
		t.Fatalf("raw email leaked")
	}
}

func TestLatestToken(t *testing.T) {
	f := newFlowFixture(t)
	patient := seedPendingPatient(t, f)
	ctx := context.Background()

	latest, err := f.verification.LatestToken(ctx, patient.ID)
	if err != nil || latest != nil {
		t.Fatalf("expected no token, got %+v %v", latest, err)
	}

	seedVerificationToken(f, "old", patient.ID, "raw-old", testNow.Add(-3*time.Hour))
	seedVerificationToken(f, "new", patient.ID, "raw-new", testNow.Add(-time.Hour))

	latest, err = f.verification.LatestToken(ctx, patient.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.ID != "new" {
		t.Fatalf("expected newest token, got %+v", latest)
	}
}
