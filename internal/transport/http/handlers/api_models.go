package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/transport/http/middleware"
)

// ErrorResponse is the generic error body. TraceID links it to server logs.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse builds an error body carrying the request trace ID.
func NewErrorResponse(c *gin.Context, message string) ErrorResponse {
	return ErrorResponse{Error: message, TraceID: middleware.GetTraceID(c)}
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// RegisterRequest is the patient sign-up payload. DateOfBirth is YYYY-MM-DD.
type RegisterRequest struct {
	FirstName   string  `json:"firstName" binding:"required"`
	LastName    string  `json:"lastName" binding:"required"`
	Email       string  `json:"email" binding:"required"`
	Phone       *string `json:"phone,omitempty"`
	DateOfBirth string  `json:"dateOfBirth" binding:"required"`
	Password    string  `json:"password" binding:"required"`
}

// RegisterResponse summarises the created account.
type RegisterResponse struct {
	PatientID string               `json:"patientId"`
	Email     string               `json:"email"`
	Status    domain.AccountStatus `json:"status"`
}

// TokenRequest carries a raw emailed token.
type TokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// EmailRequest carries an email address for resend and reset requests.
type EmailRequest struct {
	Email string `json:"email" binding:"required"`
}

// TokenValidityResponse reports whether a reset token can still be redeemed.
type TokenValidityResponse struct {
	Valid bool `json:"valid"`
}

// PasswordResetConfirmRequest sets a new password with a reset token.
type PasswordResetConfirmRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

// PasswordStrengthRequest asks for an advisory strength estimate.
type PasswordStrengthRequest struct {
	Password  string   `json:"password"`
	UserHints []string `json:"userHints,omitempty"`
}

// PasswordStrengthResponse returns the zxcvbn score (0-4) and the policy verdict.
type PasswordStrengthResponse struct {
	Score       int  `json:"score"`
	MeetsPolicy bool `json:"meetsPolicy"`
}

// HealthResponse describes the liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness with per-dependency results.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
