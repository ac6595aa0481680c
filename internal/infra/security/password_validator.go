package security

import (
	"fmt"
	"strings"
	"unicode"
)

// PasswordValidationError represents a single password policy violation.
type PasswordValidationError struct {
	Code    string
	Message string
}

// Error implements error for PasswordValidationError.
func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// PasswordRule validates a password according to a specific policy rule.
type PasswordRule interface {
	Validate(password string) error
}

// PasswordRuleFunc adapts a function to be used as a PasswordRule.
type PasswordRuleFunc func(password string) error

// Validate executes the underlying rule function.
func (f PasswordRuleFunc) Validate(password string) error {
	return f(password)
}

// PasswordValidator applies a sequence of password rules.
type PasswordValidator struct {
	rules []PasswordRule
}

// NewPasswordValidator constructs a validator with the provided rules.
func NewPasswordValidator(rules ...PasswordRule) *PasswordValidator {
	copied := make([]PasswordRule, len(rules))
	copy(copied, rules)
	return &PasswordValidator{rules: copied}
}

// Validate executes all rules and returns the first encountered violation.
func (v *PasswordValidator) Validate(password string) error {
	if v == nil {
		return fmt.Errorf("password validator not configured")
	}
	for _, rule := range v.rules {
		if err := rule.Validate(password); err != nil {
			return err
		}
	}
	return nil
}

// MinLengthRule ensures the password has at least min characters.
func MinLengthRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if len([]rune(password)) < min {
			return &PasswordValidationError{
				Code:    "min_length",
				Message: fmt.Sprintf("password must be at least %d characters long", min),
			}
		}
		return nil
	})
}

func requireRune(code, message string, match func(rune) bool) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if strings.IndexFunc(password, match) >= 0 {
			return nil
		}
		return &PasswordValidationError{Code: code, Message: message}
	})
}

// RequireUpperRule ensures the password contains an uppercase letter.
func RequireUpperRule() PasswordRule {
	return requireRune("uppercase", "password must include at least one uppercase letter", unicode.IsUpper)
}

// RequireLowerRule ensures the password contains a lowercase letter.
func RequireLowerRule() PasswordRule {
	return requireRune("lowercase", "password must include at least one lowercase letter", unicode.IsLower)
}

// RequireDigitRule ensures the password contains at least one digit.
func RequireDigitRule() PasswordRule {
	return requireRune("digit", "password must include at least one digit", unicode.IsDigit)
}

// RequireSymbolRule ensures the password contains a character from symbols.
func RequireSymbolRule(symbols string) PasswordRule {
	return requireRune("symbol", "password must include at least one symbol", func(r rune) bool {
		return strings.ContainsRune(symbols, r)
	})
}

// RejectCommonPasswordsRule refuses entries of a well-known password list,
// ignoring case.
func RejectCommonPasswordsRule(common []string) PasswordRule {
	set := make(map[string]struct{}, len(common))
	for _, pw := range common {
		set[strings.ToLower(pw)] = struct{}{}
	}
	return PasswordRuleFunc(func(password string) error {
		if _, found := set[strings.ToLower(password)]; found {
			return &PasswordValidationError{
				Code:    "common_password",
				Message: "password is too common",
			}
		}
		return nil
	})
}

// RejectSubstringRule refuses passwords containing fragment, ignoring case.
func RejectSubstringRule(fragment string) PasswordRule {
	lowered := strings.ToLower(fragment)
	return PasswordRuleFunc(func(password string) error {
		if lowered != "" && strings.Contains(strings.ToLower(password), lowered) {
			return &PasswordValidationError{
				Code:    "forbidden_fragment",
				Message: fmt.Sprintf("password must not contain %q", fragment),
			}
		}
		return nil
	})
}
