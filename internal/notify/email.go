package notify

import (
	"context"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wolfman30/dental-collections/pkg/logging"
)

// DefaultEmailSubject is used when a message template has no subject.
const DefaultEmailSubject = "Notificação de Atraso de Parcelas"

// SendGridNotifier sends email through the SendGrid v3 API.
type SendGridNotifier struct {
	apiKey    string
	host      string
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Host overrides https://api.sendgrid.com.
	Host string
}

// NewSendGridNotifier returns nil when no API key is configured.
func NewSendGridNotifier(cfg SendGridConfig, logger *logging.Logger) *SendGridNotifier {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Cobrança"
	}
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = "https://api.sendgrid.com"
	}
	return &SendGridNotifier{
		apiKey:    cfg.APIKey,
		host:      host,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SendGridNotifier) Send(ctx context.Context, msg Message) error {
	if s == nil || s.apiKey == "" {
		return &NotificationError{Provider: "sendgrid", Channel: ChannelEmail, Detail: "client not configured"}
	}
	if len(msg.To) == 0 {
		return Permanent("sendgrid", 0, "no recipient")
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(s.fromName, s.fromEmail))
	m.Subject = subjectOrDefault(msg.Subject)
	p := mail.NewPersonalization()
	for _, addr := range msg.To {
		p.AddTos(mail.NewEmail(msg.ToName, addr))
	}
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", msg.Body))
	if msg.HTML != "" {
		m.AddContent(mail.NewContent("text/html", msg.HTML))
	}

	response, err := s.client().SendWithContext(ctx, m)
	if err != nil {
		s.logger.Warn("sendgrid request failed", "error", err, "to", msg.To)
		return ClassifyTransport("sendgrid", err)
	}
	if err := ClassifyStatus("sendgrid", response.StatusCode, response.Body); err != nil {
		return err
	}
	s.logger.Debug("email sent via sendgrid", "to", msg.To, "status", response.StatusCode)
	return nil
}

// client builds a request per send; sendgrid.Client mutates its body.
func (s *SendGridNotifier) client() *sendgrid.Client {
	req := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	req.Method = "POST"
	return &sendgrid.Client{Request: req}
}

// StubNotifier logs instead of sending. Used when a channel has no provider.
type StubNotifier struct {
	channel Channel
	logger  *logging.Logger
}

func NewStubNotifier(ch Channel, logger *logging.Logger) *StubNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubNotifier{channel: ch, logger: logger}
}

func (s *StubNotifier) Send(ctx context.Context, msg Message) error {
	s.logger.Info("stub notifier: would send", "channel", s.channel, "to", msg.To, "subject", msg.Subject)
	return nil
}

func subjectOrDefault(subject string) string {
	if strings.TrimSpace(subject) == "" {
		return DefaultEmailSubject
	}
	return subject
}

// FirstRecipient returns the first non-blank address in msg.To.
func FirstRecipient(provider string, msg Message) (string, error) {
	for _, to := range msg.To {
		if strings.TrimSpace(to) != "" {
			return strings.TrimSpace(to), nil
		}
	}
	return "", Permanent(provider, 0, "no recipient")
}

var (
	_ Notifier = (*SendGridNotifier)(nil)
	_ Notifier = (*StubNotifier)(nil)
)
