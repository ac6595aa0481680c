package domain

import "time"

// DefaultPasswordHistoryDepth is the number of previous digests retained.
const DefaultPasswordHistoryDepth = 5

// PasswordHistory holds previous password digests, most recent first.
type PasswordHistory []string

// Push returns a new history with hash in front, truncated to limit entries.
// A non-positive limit keeps nothing.
func (h PasswordHistory) Push(hash string, limit int) PasswordHistory {
	if limit <= 0 {
		return PasswordHistory{}
	}
	next := make(PasswordHistory, 0, min(len(h)+1, limit))
	next = append(next, hash)
	for _, prev := range h {
		if len(next) == limit {
			break
		}
		next = append(next, prev)
	}
	return next
}

// PatientCredential stores the password digest and reuse history for a patient.
type PatientCredential struct {
	ID                  string
	PatientID           string
	PasswordHash        string
	PasswordChangedAt   time.Time
	FailedLoginAttempts int
	LockedUntil         *time.Time
	History             PasswordHistory
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewPatientCredential creates the initial credential for a freshly registered patient.
func NewPatientCredential(id, patientID, passwordHash string, at time.Time) PatientCredential {
	return PatientCredential{
		ID:                id,
		PatientID:         patientID,
		PasswordHash:      passwordHash,
		PasswordChangedAt: at,
		History:           PasswordHistory{},
		CreatedAt:         at,
		UpdatedAt:         at,
	}
}

// ChangePassword moves the current digest into history and installs newHash.
func (c *PatientCredential) ChangePassword(newHash string, at time.Time, depth int) {
	if c.PasswordHash != "" {
		c.History = c.History.Push(c.PasswordHash, depth)
	}
	c.PasswordHash = newHash
	c.PasswordChangedAt = at
	c.UpdatedAt = at
}
