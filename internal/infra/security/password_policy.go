package security

import (
	"errors"

	zxcvbn "github.com/nbutton23/zxcvbn-go"

	"github.com/arklim/patient-portal-iam/internal/core/port"
)

const (
	DefaultMinPasswordLength = 12
	// PasswordSymbols is the punctuation accepted as the required symbol.
	PasswordSymbols = `!@#$%^&*()_+=-[]{};:'"\|,.<>/?`
)

// CommonPasswords are rejected outright.
var CommonPasswords = []string{
	"password", "123456", "123456789", "qwerty", "letmein",
	"welcome", "admin", "iloveyou", "login", "abc123",
}

var errEmptyPassword = &PasswordValidationError{Code: "required", Message: "password is required"}

// PasswordPolicy enforces the patient password rules.
type PasswordPolicy struct {
	validator *PasswordValidator
}

// NewPasswordPolicy builds the standard rule chain. A non-positive minLength
// falls back to DefaultMinPasswordLength.
func NewPasswordPolicy(minLength int) *PasswordPolicy {
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}
	return &PasswordPolicy{
		validator: NewPasswordValidator(
			MinLengthRule(minLength),
			RequireUpperRule(),
			RequireLowerRule(),
			RequireDigitRule(),
			RequireSymbolRule(PasswordSymbols),
			RejectCommonPasswordsRule(CommonPasswords),
			RejectSubstringRule("password"),
		),
	}
}

// Check returns the first violated rule, or nil.
func (p *PasswordPolicy) Check(password string) error {
	if p == nil || p.validator == nil {
		return errors.New("password policy not configured")
	}
	if password == "" {
		return errEmptyPassword
	}
	return p.validator.Validate(password)
}

// MeetsPolicy reports whether every rule passes. It fails closed.
func (p *PasswordPolicy) MeetsPolicy(password string) bool {
	return p.Check(password) == nil
}

// PasswordStrength returns the zxcvbn score (0-4) of password, penalising
// overlap with userInputs such as the patient's name or email. It is advisory
// and independent of MeetsPolicy.
func PasswordStrength(password string, userInputs ...string) int {
	if password == "" {
		return 0
	}
	return zxcvbn.PasswordStrength(password, userInputs).Score
}

var _ port.PasswordPolicy = (*PasswordPolicy)(nil)
