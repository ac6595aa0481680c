package usecase

import (
	"errors"
	"fmt"
)

// ErrRegistrationValidation is wrapped by every input validation failure.
var ErrRegistrationValidation = errors.New("registration validation failed")

// Validation errors. Each one names the first failed check.
var (
	ErrInvalidEmail = fmt.Errorf("%w: invalid_email", ErrRegistrationValidation)
	ErrUnderage     = fmt.Errorf("%w: underage", ErrRegistrationValidation)
	ErrWeakPassword = fmt.Errorf("%w: weak_password", ErrRegistrationValidation)
)

var (
	// ErrEmailAlreadyExists is a conflict, reported apart from validation errors.
	ErrEmailAlreadyExists = errors.New("email already exists")
	// ErrPasswordReuse is raised when a new password matches the current one
	// or an entry of the password history.
	ErrPasswordReuse = errors.New("password reuse")
	// ErrCaptchaRejected indicates the captcha gate refused the request.
	ErrCaptchaRejected = errors.New("captcha rejected")
)
