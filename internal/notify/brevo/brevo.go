// Package brevo sends transactional email through the Brevo v3 API.
package brevo

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/dental-collections/internal/notify"
	"github.com/wolfman30/dental-collections/internal/notify/httpclient"
)

const (
	provider       = "brevo"
	defaultBaseURL = "https://api.brevo.com"
)

type Config struct {
	BaseURL       string
	APIKey        string
	FromEmail     string
	FromName      string
	Timeout       time.Duration
	RatePerSecond int
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

type contact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendRequest struct {
	Sender      contact   `json:"sender"`
	To          []contact `json:"to"`
	Subject     string    `json:"subject"`
	HTMLContent string    `json:"htmlContent,omitempty"`
	TextContent string    `json:"textContent,omitempty"`
}

type Notifier struct {
	http   *httpclient.Client
	sender contact
	logger *slog.Logger
}

func New(cfg Config) (*Notifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("brevo: api key is required")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, errors.New("brevo: sender email is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client, err := httpclient.New(httpclient.Config{
		Provider:      provider,
		BaseURL:       baseURL,
		Timeout:       cfg.Timeout,
		RatePerSecond: cfg.RatePerSecond,
		HTTPClient:    cfg.HTTPClient,
		Logger:        cfg.Logger,
		Headers:       map[string]string{"api-key": cfg.APIKey},
	})
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		http:   client,
		sender: contact{Email: cfg.FromEmail, Name: cfg.FromName},
		logger: logger,
	}, nil
}

// Send delivers one email to every recipient. Plain bodies are wrapped in a
// minimal HTML paragraph when no HTML is supplied.
func (n *Notifier) Send(ctx context.Context, msg notify.Message) error {
	to := make([]contact, 0, len(msg.To))
	for _, addr := range msg.To {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, contact{Email: addr, Name: msg.ToName})
		}
	}
	if len(to) == 0 {
		return notify.Permanent(provider, 0, "no recipient")
	}
	htmlBody := msg.HTML
	if htmlBody == "" {
		htmlBody = "<p>" + strings.ReplaceAll(html.EscapeString(msg.Body), "\n", "<br>") + "</p>"
	}
	subject := msg.Subject
	if strings.TrimSpace(subject) == "" {
		subject = notify.DefaultEmailSubject
	}
	var out struct {
		MessageID string `json:"messageId"`
	}
	err := n.http.PostJSON(ctx, "/v3/smtp/email", sendRequest{
		Sender:      n.sender,
		To:          to,
		Subject:     subject,
		HTMLContent: htmlBody,
		TextContent: msg.Body,
	}, &out)
	if err != nil {
		return err
	}
	n.logger.Debug("email sent", "provider", provider, "recipients", len(to), "message_id", out.MessageID)
	return nil
}

var _ notify.Notifier = (*Notifier)(nil)
