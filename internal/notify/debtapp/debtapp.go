// Package debtapp sends WhatsApp messages through the DebtApp gateway.
package debtapp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/dental-collections/internal/notify"
	"github.com/wolfman30/dental-collections/internal/notify/httpclient"
)

const provider = "debtapp"

// Config configures the WhatsApp gateway. Endpoint is the full send URL.
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond int
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Options mirrors the gateway's typing simulation settings.
type Options struct {
	Delay       int    `json:"delay"`
	Presence    string `json:"presence"`
	LinkPreview bool   `json:"linkPreview"`
}

// DefaultOptions simulates a short typing pause before delivery.
var DefaultOptions = Options{Delay: 1200, Presence: "composing", LinkPreview: false}

type textMessage struct {
	Text string `json:"text"`
}

type payload struct {
	Number      string      `json:"number"`
	Options     Options     `json:"options"`
	TextMessage textMessage `json:"textMessage"`
}

type Notifier struct {
	http    *httpclient.Client
	options Options
	logger  *slog.Logger
}

func New(cfg Config) (*Notifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("debtapp: api key is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("debtapp: endpoint is required")
	}
	client, err := httpclient.New(httpclient.Config{
		Provider:      provider,
		BaseURL:       cfg.Endpoint,
		Timeout:       cfg.Timeout,
		RatePerSecond: cfg.RatePerSecond,
		HTTPClient:    cfg.HTTPClient,
		Logger:        cfg.Logger,
		Headers:       map[string]string{"apikey": cfg.APIKey},
	})
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{http: client, options: DefaultOptions, logger: logger}, nil
}

// Send delivers the message body to the first recipient.
func (n *Notifier) Send(ctx context.Context, msg notify.Message) error {
	to, err := notify.FirstRecipient(provider, msg)
	if err != nil {
		return err
	}
	_, err = n.http.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		JSON: payload{
			Number:      notify.DigitsOnly(to),
			Options:     n.options,
			TextMessage: textMessage{Text: msg.Body},
		},
	})
	if err != nil {
		return err
	}
	n.logger.Debug("whatsapp sent", "provider", provider)
	return nil
}

var _ notify.Notifier = (*Notifier)(nil)
