package domain

import (
	"strings"
	"time"
)

// AccountStatus enumerates possible patient account states.
type AccountStatus string

const (
	AccountStatusPendingVerification AccountStatus = "pending_verification"
	AccountStatusActive              AccountStatus = "active"
)

// Patient mirrors the persisted representation in the patients table.
type Patient struct {
	ID          string
	FirstName   string
	LastName    string
	Email       string
	Phone       *string
	DateOfBirth time.Time
	Status      AccountStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

// NewPatient builds a pending patient with both timestamps set to at.
func NewPatient(id, firstName, lastName, email string, phone *string, dateOfBirth, at time.Time) Patient {
	return Patient{
		ID:          id,
		FirstName:   strings.TrimSpace(firstName),
		LastName:    strings.TrimSpace(lastName),
		Email:       NormalizeEmail(email),
		Phone:       phone,
		DateOfBirth: dateOfBirth,
		Status:      AccountStatusPendingVerification,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

// Activate flips a pending account to active.
// Returns true when the status changed.
func (p *Patient) Activate(at time.Time) bool {
	if p.Status == AccountStatusActive {
		return false
	}
	p.Status = AccountStatusActive
	p.UpdatedAt = at
	return true
}

// AgeAt returns the number of whole years between the date of birth and at.
func (p Patient) AgeAt(at time.Time) int {
	return WholeYearsBetween(p.DateOfBirth, at)
}

// WholeYearsBetween counts completed years from birth to at, comparing
// calendar month and day rather than elapsed hours.
func WholeYearsBetween(birth, at time.Time) int {
	years := at.Year() - birth.Year()
	if at.Month() < birth.Month() || (at.Month() == birth.Month() && at.Day() < birth.Day()) {
		years--
	}
	return years
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
