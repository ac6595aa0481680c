package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/core/port"
)

const (
	// DefaultVerifyURL is Google's reCAPTCHA verification endpoint.
	DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
	DefaultTimeout   = 3 * time.Second

	maxResponseSize = 64 * 1024
)

// RecaptchaClient verifies reCAPTCHA v3 tokens.
type RecaptchaClient struct {
	httpClient *http.Client
	verifyURL  string
	logger     *zap.Logger
}

// NewRecaptchaClient builds a client with a bounded request timeout.
func NewRecaptchaClient(verifyURL string, timeout time.Duration, logger *zap.Logger) *RecaptchaClient {
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecaptchaClient{
		httpClient: &http.Client{Timeout: timeout},
		verifyURL:  verifyURL,
		logger:     logger,
	}
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify posts the token to the provider. Non-200 answers and undecodable
// bodies are returned as errors.
func (c *RecaptchaClient) Verify(ctx context.Context, secret, token string) (domain.CaptchaResult, error) {
	form := url.Values{}
	form.Set("secret", secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.CaptchaResult{}, fmt.Errorf("build captcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.CaptchaResult{}, fmt.Errorf("captcha request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.CaptchaResult{}, fmt.Errorf("captcha provider returned status %d", resp.StatusCode)
	}

	var payload siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&payload); err != nil {
		return domain.CaptchaResult{}, fmt.Errorf("decode captcha response: %w", err)
	}

	c.logger.Debug("captcha verified",
		zap.Bool("success", payload.Success),
		zap.Float64("score", payload.Score),
		zap.String("action", payload.Action),
	)

	return domain.CaptchaResult{
		Success:    payload.Success,
		Score:      payload.Score,
		Action:     payload.Action,
		Hostname:   payload.Hostname,
		ErrorCodes: payload.ErrorCodes,
	}, nil
}

var _ port.CaptchaVerifier = (*RecaptchaClient)(nil)
