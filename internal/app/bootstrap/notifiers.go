package bootstrap

import (
	"fmt"

	appconfig "github.com/wolfman30/dental-collections/internal/config"
	"github.com/wolfman30/dental-collections/internal/notify"
	"github.com/wolfman30/dental-collections/internal/notify/assertiva"
	"github.com/wolfman30/dental-collections/internal/notify/brevo"
	"github.com/wolfman30/dental-collections/internal/notify/debtapp"
	"github.com/wolfman30/dental-collections/internal/notify/telnyx"
	"github.com/wolfman30/dental-collections/pkg/logging"
)

// NotifierDeps carries optional collaborators for provider construction.
type NotifierDeps struct {
	Observer notify.Observer
	// SES is required when EMAIL_PROVIDER=ses.
	SES    notify.SESAPI
	Logger *logging.Logger
}

// BuildNotifierRegistry selects one provider per automated channel and wraps
// each with tracing, metrics, retry and timeout middleware. Phone calls and
// letters have no notifier.
func BuildNotifierRegistry(cfg *appconfig.Config, deps NotifierDeps) (*notify.Registry, error) {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	reg := notify.NewRegistry()
	retry := notify.RetryPolicy{MaxRetries: cfg.NotifierMaxRetries, InitialInterval: cfg.NotifierBackoff}

	register := func(ch notify.Channel, provider string, n notify.Notifier) {
		reg.Register(ch, notify.Chain(n,
			notify.WithTracing(provider, ch),
			notify.WithMetrics(deps.Observer, provider, ch),
			notify.WithRetry(retry),
			notify.WithTimeout(cfg.NotifierTimeout),
		))
		logger.Info("notifier registered", "channel", ch, "provider", provider)
	}

	sms, smsProvider, err := buildSMS(cfg, logger)
	if err != nil {
		return nil, err
	}
	register(notify.ChannelSMS, smsProvider, sms)

	wa, waProvider, err := buildWhatsApp(cfg, logger)
	if err != nil {
		return nil, err
	}
	register(notify.ChannelWhatsApp, waProvider, wa)

	email, emailProvider, err := buildEmail(cfg, deps.SES, logger)
	if err != nil {
		return nil, err
	}
	register(notify.ChannelEmail, emailProvider, email)

	return reg, nil
}

func buildSMS(cfg *appconfig.Config, logger *logging.Logger) (notify.Notifier, string, error) {
	switch cfg.SMSProvider {
	case "assertiva":
		n, err := assertiva.New(assertiva.Config{
			BaseURL:       cfg.AssertivaBaseURL,
			AuthToken:     cfg.AssertivaAuthToken,
			Timeout:       cfg.NotifierTimeout,
			RatePerSecond: cfg.NotifierRatePerSecond,
			Logger:        logger.Logger,
		})
		return n, "assertiva", err
	case "telnyx":
		n, err := telnyx.New(telnyx.Config{
			APIKey:             cfg.TelnyxAPIKey,
			MessagingProfileID: cfg.TelnyxMessagingProfileID,
			FromNumber:         cfg.TelnyxFromNumber,
			Timeout:            cfg.NotifierTimeout,
			RatePerSecond:      cfg.NotifierRatePerSecond,
			Logger:             logger.Logger,
		})
		return n, "telnyx", err
	case "stub", "":
		return notify.NewStubNotifier(notify.ChannelSMS, logger), "stub", nil
	default:
		return nil, "", fmt.Errorf("bootstrap: unknown SMS_PROVIDER %q", cfg.SMSProvider)
	}
}

func buildWhatsApp(cfg *appconfig.Config, logger *logging.Logger) (notify.Notifier, string, error) {
	switch cfg.WhatsAppProvider {
	case "debtapp":
		n, err := debtapp.New(debtapp.Config{
			Endpoint:      cfg.DebtAppEndpoint,
			APIKey:        cfg.DebtAppAPIKey,
			Timeout:       cfg.NotifierTimeout,
			RatePerSecond: cfg.NotifierRatePerSecond,
			Logger:        logger.Logger,
		})
		return n, "debtapp", err
	case "stub", "":
		return notify.NewStubNotifier(notify.ChannelWhatsApp, logger), "stub", nil
	default:
		return nil, "", fmt.Errorf("bootstrap: unknown WHATSAPP_PROVIDER %q", cfg.WhatsAppProvider)
	}
}

func buildEmail(cfg *appconfig.Config, ses notify.SESAPI, logger *logging.Logger) (notify.Notifier, string, error) {
	switch cfg.EmailProvider {
	case "sendgrid":
		n := notify.NewSendGridNotifier(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger)
		if n == nil {
			return nil, "", fmt.Errorf("bootstrap: SENDGRID_API_KEY is required")
		}
		return n, "sendgrid", nil
	case "ses":
		n := notify.NewSESNotifier(ses, notify.SESConfig{FromEmail: cfg.EmailFromAddress, FromName: cfg.EmailFromName}, logger)
		if n == nil {
			return nil, "", fmt.Errorf("bootstrap: SES client is required")
		}
		return n, "ses", nil
	case "smtp":
		n := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
			Timeout:   cfg.NotifierTimeout,
		})
		if n == nil {
			return nil, "", fmt.Errorf("bootstrap: SMTP_HOST is required")
		}
		return n, "smtp", nil
	case "brevo":
		n, err := brevo.New(brevo.Config{
			APIKey:        cfg.BrevoAPIKey,
			FromEmail:     cfg.EmailFromAddress,
			FromName:      cfg.EmailFromName,
			Timeout:       cfg.NotifierTimeout,
			RatePerSecond: cfg.NotifierRatePerSecond,
			Logger:        logger.Logger,
		})
		return n, "brevo", err
	case "stub", "":
		return notify.NewStubNotifier(notify.ChannelEmail, logger), "stub", nil
	default:
		return nil, "", fmt.Errorf("bootstrap: unknown EMAIL_PROVIDER %q", cfg.EmailProvider)
	}
}
