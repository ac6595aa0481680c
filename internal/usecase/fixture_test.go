package usecase

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/patient-portal-iam/internal/infra/security"
)

const testBaseURL = "https://portal.example.com/"

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type flowFixture struct {
	store        *memStore
	mailer       *recordingMailer
	publisher    *recordingPublisher
	codec        security.TokenCodec
	audit        *AuditService
	registration *RegistrationService
	verification *VerificationService
	reset        *PasswordResetService
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	f := &flowFixture{
		store:     newMemStore(),
		mailer:    &recordingMailer{},
		publisher: &recordingPublisher{},
		codec:     security.NewTokenCodec(),
	}

	f.audit = NewAuditService(f.publisher, logger)
	f.audit.WithClock(fixedClock(testNow))

	f.verification = NewVerificationService(f.store, f.codec, f.mailer, f.audit, logger)
	f.verification.WithClock(fixedClock(testNow))

	f.registration = NewRegistrationService(
		f.store,
		security.NewEmailPolicy(),
		security.NewPasswordPolicy(security.DefaultMinPasswordLength),
		fakeHasher{},
		f.codec,
		f.audit,
		f.verification,
		nil,
		logger,
	)
	f.registration.WithClock(fixedClock(testNow))

	f.reset = NewPasswordResetService(
		f.store,
		f.codec,
		fakeHasher{},
		security.NewPasswordPolicy(security.DefaultMinPasswordLength),
		f.mailer,
		f.audit,
		logger,
	)
	f.reset.WithClock(fixedClock(testNow))

	return f
}

func validRegistration() RegisterInput {
	return RegisterInput{
		FirstName:   "Jane",
		LastName:    "Doe",
		Email:       "jane@ok.com",
		DateOfBirth: testNow.AddDate(-30, 0, 0),
		Password:    "Str0ng!Passw0rd",
		BaseURL:     testBaseURL,
		Client:      ClientInfo{IP: "203.0.113.7", UserAgent: "test-agent"},
	}
}
