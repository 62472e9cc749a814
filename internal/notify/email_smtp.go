package notify

import (
	"context"
	"errors"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// SMTPConfig holds credentials for a direct SMTP relay.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

// SMTPNotifier delivers email through an SMTP relay.
type SMTPNotifier struct {
	cfg  SMTPConfig
	dial func(ctx context.Context, msg *gomail.Msg) error
}

// NewSMTPNotifier returns nil when no host is configured.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Host == "" {
		return nil
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	n := &SMTPNotifier{cfg: cfg}
	n.dial = n.dialAndSend
	return n
}

func (s *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	m, err := s.build(msg)
	if err != nil {
		return err
	}
	if err := s.dial(ctx, m); err != nil {
		return classifySMTPError(err)
	}
	return nil
}

func (s *SMTPNotifier) build(msg Message) (*gomail.Msg, error) {
	if len(msg.To) == 0 {
		return nil, Permanent("smtp", 0, "no recipient")
	}
	m := gomail.NewMsg()
	if err := m.FromFormat(s.cfg.FromName, s.cfg.FromEmail); err != nil {
		return nil, &PermanentError{&NotificationError{Provider: "smtp", Detail: "invalid sender", Err: err}}
	}
	if err := m.To(msg.To...); err != nil {
		return nil, &PermanentError{&NotificationError{Provider: "smtp", Detail: "invalid recipient", Err: err}}
	}
	m.Subject(subjectOrDefault(msg.Subject))
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)
	if msg.HTML != "" {
		m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}

func (s *SMTPNotifier) dialAndSend(ctx context.Context, m *gomail.Msg) error {
	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(s.cfg.Timeout),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return &NotificationError{Provider: "smtp", Detail: "client setup", Err: err}
	}
	return client.DialAndSendWithContext(ctx, m)
}

func classifySMTPError(err error) error {
	var ne *NotificationError
	if errors.As(err, &ne) {
		return err
	}
	var sendErr *gomail.SendError
	if errors.As(err, &sendErr) {
		if sendErr.IsTemp() {
			return Temporary("smtp", 0, sendErr.Error(), err)
		}
		return &PermanentError{&NotificationError{Provider: "smtp", Detail: sendErr.Error(), Err: err}}
	}
	return ClassifyTransport("smtp", err)
}

var _ Notifier = (*SMTPNotifier)(nil)
