package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/infra/logger"
	"github.com/arklim/patient-portal-iam/internal/infra/security"
	"github.com/arklim/patient-portal-iam/internal/transport/http/middleware"
	"github.com/arklim/patient-portal-iam/internal/usecase"
)

const (
	msgInvalidPayload     = "Invalid request payload"
	msgRegistrationFailed = "Registration failed"
	msgWeakPassword       = "Password does not meet security requirements."
	msgCaptchaRejected    = "Captcha verification failed"
	msgVerifyFailed       = "This verification link has expired or is invalid"
	msgResendFailed       = "Resend limit reached. Please try again later."
	msgResendAccepted     = "Verification email sent"
	msgResetAccepted      = "If account exists, reset instructions sent"
	msgResetInvalid       = "Invalid or expired token"
	msgServiceUnavailable = "Service temporarily unavailable"

	dateOfBirthLayout = "2006-01-02"
)

// Registrar creates patient accounts and sends the first verification email.
type Registrar interface {
	RegisterAndIssueVerification(ctx context.Context, input usecase.RegisterInput) (domain.Patient, error)
}

// EmailVerifier confirms verification tokens and re-sends them.
type EmailVerifier interface {
	Verify(ctx context.Context, rawToken string, client usecase.ClientInfo) (bool, error)
	RequestResend(ctx context.Context, input usecase.ResendInput) (usecase.ResendOutcome, error)
}

// PasswordResetter drives the forgotten-password flow.
type PasswordResetter interface {
	RequestReset(ctx context.Context, input usecase.PasswordResetRequestInput) error
	ValidateToken(ctx context.Context, rawToken string) (bool, error)
	Confirm(ctx context.Context, input usecase.PasswordResetConfirmInput) (bool, error)
}

// PasswordChecker reports whether a candidate meets the password rules.
type PasswordChecker interface {
	MeetsPolicy(password string) bool
}

var registrationErrors = []ErrorCase{
	{Err: usecase.ErrInvalidEmail, Status: http.StatusBadRequest, Message: "Please use a permanent email address for registration."},
	{Err: usecase.ErrUnderage, Status: http.StatusBadRequest, Message: "Patients must be at least 18 years old."},
	{Err: usecase.ErrWeakPassword, Status: http.StatusBadRequest, Message: msgWeakPassword},
	{Err: usecase.ErrEmailAlreadyExists, Status: http.StatusConflict, Message: "An account with this email already exists"},
	{Err: usecase.ErrCaptchaRejected, Status: http.StatusBadRequest, Message: msgCaptchaRejected},
}

var confirmErrors = []ErrorCase{
	{Err: usecase.ErrWeakPassword, Status: http.StatusBadRequest, Message: msgWeakPassword},
	{Err: usecase.ErrPasswordReuse, Status: http.StatusBadRequest, Message: msgWeakPassword},
}

// PatientHandler serves the public patient account endpoints.
type PatientHandler struct {
	registrar Registrar
	verifier  EmailVerifier
	resetter  PasswordResetter
	passwords PasswordChecker
	baseURL   string
	logger    *zap.Logger
}

// NewPatientHandler wires the patient endpoints. baseURL is the public portal
// origin that emailed links point at.
func NewPatientHandler(
	registrar Registrar,
	verifier EmailVerifier,
	resetter PasswordResetter,
	passwords PasswordChecker,
	baseURL string,
	log *zap.Logger,
) *PatientHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PatientHandler{
		registrar: registrar,
		verifier:  verifier,
		resetter:  resetter,
		passwords: passwords,
		baseURL:   baseURL,
		logger:    log,
	}
}

// RegisterRoutes mounts the endpoints on a /patients group. Extra handlers,
// typically rate limiters, are keyed by route name.
func (h *PatientHandler) RegisterRoutes(r *gin.RouterGroup, limits map[string]gin.HandlerFunc) {
	with := func(name string, handler gin.HandlerFunc) []gin.HandlerFunc {
		if limit, ok := limits[name]; ok && limit != nil {
			return []gin.HandlerFunc{limit, handler}
		}
		return []gin.HandlerFunc{handler}
	}

	r.POST("/register", with("register", h.Register)...)
	r.POST("/verify-email", h.VerifyEmail)
	r.POST("/resend-verification", with("resend", h.ResendVerification)...)
	r.POST("/password-reset/request", with("password_reset", h.RequestPasswordReset)...)
	r.POST("/password-reset/validate-token", h.ValidateResetToken)
	r.POST("/password-reset/confirm", with("password_reset", h.ConfirmPasswordReset)...)
	r.POST("/password-strength", h.PasswordStrength)
}

func clientInfo(c *gin.Context) usecase.ClientInfo {
	reqCtx := middleware.GetRequestContext(c)
	return usecase.ClientInfo{IP: reqCtx.IP, UserAgent: reqCtx.UserAgent}
}

func (h *PatientHandler) log(c *gin.Context) *zap.Logger {
	log := h.logger.With(zap.String("trace_id", middleware.GetTraceID(c)))
	if id, ok := c.Request.Context().Value(logger.RequestIDKey{}).(string); ok && id != "" {
		log = log.With(zap.String("request_id", id))
	}
	return log
}

// Register creates a pending account and emails a verification link.
func (h *PatientHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, msgInvalidPayload))
		return
	}

	dob, err := time.Parse(dateOfBirthLayout, strings.TrimSpace(req.DateOfBirth))
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "dateOfBirth must be formatted as YYYY-MM-DD"))
		return
	}

	patient, err := h.registrar.RegisterAndIssueVerification(c.Request.Context(), usecase.RegisterInput{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		Phone:        req.Phone,
		DateOfBirth:  dob,
		Password:     req.Password,
		CaptchaToken: c.GetHeader(middleware.RecaptchaHeader),
		BaseURL:      h.baseURL,
		Client:       clientInfo(c),
	})
	if err != nil {
		if !isMapped(err, registrationErrors) {
			h.log(c).Error("registration failed", zap.Error(err))
		}
		RespondWithMappedError(c, err, registrationErrors, http.StatusInternalServerError, msgRegistrationFailed)
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{
		PatientID: patient.ID,
		Email:     patient.Email,
		Status:    patient.Status,
	})
}

// VerifyEmail confirms an email verification token.
func (h *PatientHandler) VerifyEmail(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, msgVerifyFailed))
		return
	}

	ok, err := h.verifier.Verify(c.Request.Context(), req.Token, clientInfo(c))
	if err != nil {
		h.log(c).Error("email verification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, msgServiceUnavailable))
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, msgVerifyFailed))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "Email verified successfully"})
}

// ResendVerification re-sends the verification email. Unknown emails get the
// same acknowledgment as a real send.
func (h *PatientHandler) ResendVerification(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, msgInvalidPayload))
		return
	}

	outcome, err := h.verifier.RequestResend(c.Request.Context(), usecase.ResendInput{
		Email:   req.Email,
		BaseURL: h.baseURL,
		Client:  clientInfo(c),
	})
	if err != nil {
		h.log(c).Error("verification resend failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, msgServiceUnavailable))
		return
	}
	// Unknown addresses get the same answer as a real send.
	if outcome == usecase.ResendLimited {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, msgResendFailed))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: msgResendAccepted})
}

// RequestPasswordReset emails reset instructions. The answer never reveals
// whether the account exists.
func (h *PatientHandler) RequestPasswordReset(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, msgInvalidPayload))
		return
	}

	err := h.resetter.RequestReset(c.Request.Context(), usecase.PasswordResetRequestInput{
		Email:        req.Email,
		BaseURL:      h.baseURL,
		CaptchaToken: c.GetHeader(middleware.RecaptchaHeader),
		Client:       clientInfo(c),
	})
	switch {
	case err == nil:
	case errors.Is(err, usecase.ErrCaptchaRejected):
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, msgCaptchaRejected))
		return
	default:
		// The generic answer still goes out so storage faults do not reveal anything.
		h.log(c).Error("password reset request failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, MessageResponse{Message: msgResetAccepted})
}

// ValidateResetToken checks a reset token without consuming it.
func (h *PatientHandler) ValidateResetToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, TokenValidityResponse{Valid: false})
		return
	}

	valid, err := h.resetter.ValidateToken(c.Request.Context(), req.Token)
	if err != nil {
		h.log(c).Error("reset token validation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, msgServiceUnavailable))
		return
	}

	c.JSON(http.StatusOK, TokenValidityResponse{Valid: valid})
}

// ConfirmPasswordReset sets a new password with a reset token.
func (h *PatientHandler) ConfirmPasswordReset(c *gin.Context) {
	var req PasswordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, msgResetInvalid))
		return
	}

	ok, err := h.resetter.Confirm(c.Request.Context(), usecase.PasswordResetConfirmInput{
		Token:       req.Token,
		NewPassword: req.NewPassword,
		Client:      clientInfo(c),
	})
	if err != nil {
		if !isMapped(err, confirmErrors) {
			h.log(c).Error("password reset confirm failed", zap.Error(err))
		}
		RespondWithMappedError(c, err, confirmErrors, http.StatusInternalServerError, msgServiceUnavailable)
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, msgResetInvalid))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "Password reset successfully"})
}

// PasswordStrength returns the advisory zxcvbn score and whether the password
// passes the account rules.
func (h *PatientHandler) PasswordStrength(c *gin.Context) {
	var req PasswordStrengthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, msgInvalidPayload))
		return
	}

	meets := false
	if h.passwords != nil {
		meets = h.passwords.MeetsPolicy(req.Password)
	}
	c.JSON(http.StatusOK, PasswordStrengthResponse{
		Score:       security.PasswordStrength(req.Password, req.UserHints...),
		MeetsPolicy: meets,
	})
}
