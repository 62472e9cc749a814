// Package httpclient is the shared JSON-over-HTTP transport for notification
// providers. It performs a single attempt per call, applies a client-side rate
// limit and classifies failures into the notify error taxonomy. Retries are
// layered on top by notify.WithRetry.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/wolfman30/dental-collections/internal/notify"
)

const defaultUserAgent = "dental-collections/0.1"

// Config controls how the client behaves.
type Config struct {
	Provider      string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond int
	HTTPClient    *http.Client
	Logger        *slog.Logger
	UserAgent     string
	// Headers are sent on every request (auth keys and the like).
	Headers map[string]string
}

// Client wraps a provider base URL.
type Client struct {
	provider   string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	userAgent  string
	headers    map[string]string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("httpclient: base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("httpclient: parse base URL: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "http"
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &Client{
		provider:   provider,
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
		userAgent:  userAgent,
		headers:    headers,
	}, nil
}

// Provider returns the provider name used in errors.
func (c *Client) Provider() string { return c.provider }

// Request describes one call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	// JSON is marshalled as the request body when set.
	JSON any
	// Form is sent url-encoded when set and JSON is nil.
	Form url.Values
}

// Do performs the request and returns the response body on 2xx.
func (c *Client) Do(ctx context.Context, r Request) ([]byte, error) {
	body, contentType, err := encodeBody(r)
	if err != nil {
		return nil, &notify.PermanentError{NotificationError: &notify.NotificationError{
			Provider: c.provider, Detail: "encode request", Err: err,
		}}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, notify.ClassifyTransport(c.provider, err)
	}

	method := r.Method
	if method == "" {
		method = http.MethodPost
	}
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(r.Path, r.Query), bodyReader)
	if err != nil {
		return nil, &notify.NotificationError{Provider: c.provider, Detail: "build request", Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, notify.ClassifyTransport(c.provider, ctx.Err())
		}
		return nil, notify.ClassifyTransport(c.provider, err)
	}
	data, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if readErr != nil {
		return nil, notify.ClassifyTransport(c.provider, readErr)
	}
	if err := notify.ClassifyStatus(c.provider, resp.StatusCode, decodeAPIError(data)); err != nil {
		c.logger.Debug("provider rejected request", "provider", c.provider, "path", r.Path, "status", resp.StatusCode)
		return nil, err
	}
	return data, nil
}

// PostJSON posts payload and decodes the response into out when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, path string, payload, out any) error {
	data, err := c.Do(ctx, Request{Method: http.MethodPost, Path: path, JSON: payload})
	if err != nil {
		return err
	}
	return c.Decode(data, out)
}

// Decode unmarshals a successful response body. Empty bodies are accepted.
func (c *Client) Decode(data []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &notify.NotificationError{Provider: c.provider, Detail: "decode response", Err: err}
	}
	return nil
}

func (c *Client) buildURL(path string, query url.Values) string {
	full := c.baseURL
	if path != "" {
		full += "/" + strings.TrimLeft(path, "/")
	}
	if len(query) > 0 {
		full = full + "?" + query.Encode()
	}
	return full
}

func encodeBody(r Request) ([]byte, string, error) {
	switch {
	case r.JSON != nil:
		data, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	case r.Form != nil:
		return []byte(r.Form.Encode()), "application/x-www-form-urlencoded", nil
	default:
		return nil, "", nil
	}
}

// decodeAPIError extracts a human readable message from common provider error
// shapes, falling back to the raw body.
func decodeAPIError(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
		Detail  string `json:"detail"`
		Errors  []struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return string(body)
	}
	switch {
	case parsed.Message != "":
		return parsed.Message
	case parsed.Detail != "":
		return parsed.Detail
	case len(parsed.Errors) > 0 && parsed.Errors[0].Detail != "":
		return parsed.Errors[0].Detail
	case len(parsed.Errors) > 0 && parsed.Errors[0].Title != "":
		return parsed.Errors[0].Title
	}
	if s, ok := parsed.Error.(string); ok && s != "" {
		return s
	}
	return string(body)
}
