// Package assertiva sends SMS through the Assertiva gateway.
package assertiva

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/dental-collections/internal/notify"
	"github.com/wolfman30/dental-collections/internal/notify/httpclient"
)

const (
	provider       = "assertiva"
	defaultBaseURL = "https://api.assertivasolucoes.com.br"
	filterValue    = "GestaoRecebiveis"
)

// Config configures the SMS gateway.
type Config struct {
	BaseURL string
	// AuthToken is base64(client_id:client_secret).
	AuthToken     string
	Timeout       time.Duration
	RatePerSecond int
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Notifier delivers SMS. It exchanges the basic token for a bearer token and
// caches it until shortly before expiry.
type Notifier struct {
	http      *httpclient.Client
	authToken string
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func New(cfg Config) (*Notifier, error) {
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("assertiva: auth token is required")
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
	})
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		http:      client,
		authToken: strings.TrimSpace(cfg.AuthToken),
		logger:    logger,
		now:       time.Now,
	}, nil
}

type smsItem struct {
	Number      string `json:"number"`
	Message     string `json:"message"`
	FilterValue string `json:"filter_value"`
}

type sendRequest struct {
	CanReceiveStatus bool      `json:"can_receive_status"`
	CanReceiveAnswer bool      `json:"can_receive_answer"`
	RouteType        int       `json:"route_type"`
	ArraySMS         []smsItem `json:"arraySms"`
}

// Send posts one SMS per recipient in a single request.
func (n *Notifier) Send(ctx context.Context, msg notify.Message) error {
	items := make([]smsItem, 0, len(msg.To))
	for _, to := range msg.To {
		if to = strings.TrimSpace(to); to != "" {
			items = append(items, smsItem{Number: notify.DigitsOnly(to), Message: msg.Body, FilterValue: filterValue})
		}
	}
	if len(items) == 0 {
		return notify.Permanent(provider, 0, "no recipient")
	}
	token, err := n.ensureToken(ctx)
	if err != nil {
		return err
	}
	_, err = n.http.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		Path:    "/sms/v3/send",
		Headers: map[string]string{"Authorization": "Bearer " + token},
		JSON: sendRequest{
			RouteType: 1,
			ArraySMS:  items,
		},
	})
	if err != nil {
		if notify.IsPermanent(err) && isAuthFailure(err) {
			n.invalidateToken()
		}
		return err
	}
	n.logger.Debug("sms sent", "provider", provider, "recipients", len(items))
	return nil
}

func (n *Notifier) ensureToken(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.token != "" && n.now().Before(n.tokenExp) {
		return n.token, nil
	}
	data, err := n.http.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		Path:    "/oauth2/v3/token",
		Headers: map[string]string{"Authorization": "Basic " + n.authToken},
		Form:    url.Values{"grant_type": {"client_credentials"}},
	})
	if err != nil {
		return "", err
	}
	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := n.http.Decode(data, &parsed); err != nil {
		return "", err
	}
	if parsed.AccessToken == "" {
		return "", notify.Permanent(provider, 0, "token response without access_token")
	}
	ttl := parsed.ExpiresIn
	if ttl <= 0 {
		ttl = 3600
	}
	ttl -= 10
	if ttl < 30 {
		ttl = 30
	}
	n.token = parsed.AccessToken
	n.tokenExp = n.now().Add(time.Duration(ttl) * time.Second)
	return n.token, nil
}

func (n *Notifier) invalidateToken() {
	n.mu.Lock()
	n.token = ""
	n.mu.Unlock()
}

func isAuthFailure(err error) bool {
	var ne *notify.NotificationError
	return errors.As(err, &ne) && (ne.StatusCode == http.StatusUnauthorized || ne.StatusCode == http.StatusForbidden)
}

var _ notify.Notifier = (*Notifier)(nil)
