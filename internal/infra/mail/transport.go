package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/infra/logger"
)

// Transport hands a single message to a delivery channel.
type Transport interface {
	Deliver(ctx context.Context, from string, msg domain.EmailMessage) error
}

// LogTransport writes messages to the log instead of sending them. It is the
// default outside production.
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Deliver(_ context.Context, from string, msg domain.EmailMessage) error {
	t.logger.Info("email (log transport)",
		zap.String("from", from),
		zap.String("to", logger.MaskEmail(msg.To)),
		zap.String("subject", msg.Subject),
	)
	t.logger.Debug("email body", zap.String("body", msg.Body))
	return nil
}

// TLS policies accepted by NewSMTPTransport.
const (
	TLSOpportunistic = "opportunistic"
	TLSMandatory     = "mandatory"
	TLSNone          = "none"
)

// SMTPSettings describes the relay used by SMTPTransport.
type SMTPSettings struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLSPolicy string
	Timeout   time.Duration
}

// SMTPTransport delivers through an SMTP relay using STARTTLS when the policy
// allows it and PLAIN auth when a username is set.
type SMTPTransport struct {
	client *gomail.Client
	send   func(ctx context.Context, msg *gomail.Msg) error
}

func tlsPolicy(name string) (gomail.TLSPolicy, error) {
	switch strings.ToLower(name) {
	case "", TLSOpportunistic:
		return gomail.TLSOpportunistic, nil
	case TLSMandatory:
		return gomail.TLSMandatory, nil
	case TLSNone:
		return gomail.NoTLS, nil
	default:
		return gomail.NoTLS, fmt.Errorf("unknown smtp tls policy %q", name)
	}
}

func NewSMTPTransport(cfg SMTPSettings) (*SMTPTransport, error) {
	policy, err := tlsPolicy(cfg.TLSPolicy)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(policy),
		gomail.WithTimeout(timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("configure smtp client: %w", err)
	}
	t := &SMTPTransport{client: client}
	t.send = func(ctx context.Context, msg *gomail.Msg) error {
		return t.client.DialAndSendWithContext(ctx, msg)
	}
	return t, nil
}

func (t *SMTPTransport) Deliver(ctx context.Context, from string, msg domain.EmailMessage) error {
	m, err := buildMessage(from, msg)
	if err != nil {
		return err
	}
	if err := t.send(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// buildMessage validates both addresses per RFC 5322, which also rejects
// header injection through the recipient.
func buildMessage(from string, msg domain.EmailMessage) (*gomail.Msg, error) {
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return nil, fmt.Errorf("invalid subject header")
	}

	m := gomail.NewMsg(gomail.WithNoDefaultUserAgent())
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)
	return m, nil
}
