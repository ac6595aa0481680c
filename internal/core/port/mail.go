package port

import (
	"context"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
)

// Mailer delivers outbound mail. Delivery failures are handled and logged by
// the implementation and never reach the caller.
type Mailer interface {
	Send(ctx context.Context, msg domain.EmailMessage)
}
