package domain

import "time"

// EmailVerificationToken is a single-use proof of mailbox ownership. Only the
// digest of the raw token is stored.
type EmailVerificationToken struct {
	ID          string
	PatientID   string
	TokenHash   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	VerifiedAt  *time.Time
	ResendCount int
}

// NewEmailVerificationToken stamps issue and expiry times.
func NewEmailVerificationToken(id, patientID, tokenHash string, at time.Time, ttl time.Duration) EmailVerificationToken {
	return EmailVerificationToken{
		ID:        id,
		PatientID: patientID,
		TokenHash: tokenHash,
		CreatedAt: at,
		ExpiresAt: at.Add(ttl),
	}
}

// IsExpired reports whether the token has elapsed its validity window.
// A zero expiry counts as expired.
func (t EmailVerificationToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

func (t EmailVerificationToken) IsVerified() bool {
	return t.VerifiedAt != nil
}

// MarkVerified records the moment the token was redeemed.
// Returns true if the token was previously unverified.
func (t *EmailVerificationToken) MarkVerified(at time.Time) bool {
	if t.VerifiedAt != nil {
		return false
	}
	timeCopy := at
	t.VerifiedAt = &timeCopy
	return true
}

// PasswordResetToken is a single-use, short-lived password reset artifact.
type PasswordResetToken struct {
	ID        string
	PatientID string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
	IP        *string
	UserAgent *string
}

// NewPasswordResetToken stamps issue and expiry times and captures the requester.
func NewPasswordResetToken(id, patientID, tokenHash string, at time.Time, ttl time.Duration, ip, userAgent *string) PasswordResetToken {
	return PasswordResetToken{
		ID:        id,
		PatientID: patientID,
		TokenHash: tokenHash,
		CreatedAt: at,
		ExpiresAt: at.Add(ttl),
		IP:        ip,
		UserAgent: userAgent,
	}
}

// IsExpired reports whether the password reset token can still be redeemed.
func (t PasswordResetToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

func (t PasswordResetToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsRedeemable is true for unused, unexpired tokens.
func (t PasswordResetToken) IsRedeemable(at time.Time) bool {
	return !t.IsUsed() && !t.IsExpired(at)
}

// MarkUsed returns true when the token transitions from unused to used.
func (t *PasswordResetToken) MarkUsed(at time.Time) bool {
	if t.UsedAt != nil {
		return false
	}
	timeCopy := at
	t.UsedAt = &timeCopy
	return true
}
