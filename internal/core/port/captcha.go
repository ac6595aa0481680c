package port

import (
	"context"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
)

// CaptchaVerifier checks a client token with the external provider. Transport
// and decoding failures are returned as errors.
type CaptchaVerifier interface {
	Verify(ctx context.Context, secret, token string) (domain.CaptchaResult, error)
}
