// Package telnyx sends SMS through the Telnyx messaging API.
package telnyx

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

const (
	provider       = "telnyx"
	defaultBaseURL = "https://api.telnyx.com/v2"
)

type Config struct {
	BaseURL            string
	APIKey             string
	MessagingProfileID string
	FromNumber         string
	Timeout            time.Duration
	RatePerSecond      int
	HTTPClient         *http.Client
	Logger             *slog.Logger
}

type Notifier struct {
	http      *httpclient.Client
	from      string
	profileID string
	logger    *slog.Logger
}

func New(cfg Config) (*Notifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("telnyx: API key is required")
	}
	if cfg.FromNumber == "" && cfg.MessagingProfileID == "" {
		return nil, errors.New("telnyx: from number or messaging profile is required")
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
		Headers:       map[string]string{"Authorization": "Bearer " + cfg.APIKey},
	})
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{http: client, from: cfg.FromNumber, profileID: cfg.MessagingProfileID, logger: logger}, nil
}

type sendRequest struct {
	From               string `json:"from,omitempty"`
	To                 string `json:"to"`
	Text               string `json:"text"`
	MessagingProfileID string `json:"messaging_profile_id,omitempty"`
}

// Send issues one message per recipient and stops at the first failure.
func (n *Notifier) Send(ctx context.Context, msg notify.Message) error {
	if strings.TrimSpace(msg.Body) == "" {
		return notify.Permanent(provider, 0, "body required")
	}
	sent := 0
	for _, to := range msg.To {
		if to = strings.TrimSpace(to); to == "" {
			continue
		}
		var out struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		err := n.http.PostJSON(ctx, "/messages", sendRequest{
			From:               n.from,
			To:                 to,
			Text:               msg.Body,
			MessagingProfileID: n.profileID,
		}, &out)
		if err != nil {
			return err
		}
		sent++
		n.logger.Debug("telnyx sms sent", "message_id", out.Data.ID)
	}
	if sent == 0 {
		return notify.Permanent(provider, 0, "no recipient")
	}
	return nil
}

var _ notify.Notifier = (*Notifier)(nil)
