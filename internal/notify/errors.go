package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrNoNotifier is returned when no notifier is registered for a channel.
var ErrNoNotifier = errors.New("notify: no notifier registered for channel")

// NotificationError describes a failed delivery attempt. On its own it marks an
// unexpected failure; PermanentError and TemporaryError refine it.
type NotificationError struct {
	Provider   string
	Channel    Channel
	StatusCode int
	Detail     string
	Err        error
}

func (e *NotificationError) Error() string {
	var b strings.Builder
	b.WriteString("notify: ")
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	switch {
	case e.Detail != "":
		b.WriteString(e.Detail)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString("delivery failed")
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status=%d)", e.StatusCode)
	}
	return b.String()
}

func (e *NotificationError) Unwrap() error { return e.Err }

// PermanentError means the provider rejected the request. Retrying will not help.
type PermanentError struct {
	*NotificationError
}

func (e *PermanentError) Unwrap() error { return e.NotificationError }

// TemporaryError means the provider or the network failed transiently.
type TemporaryError struct {
	*NotificationError
}

func (e *TemporaryError) Unwrap() error { return e.NotificationError }

// Permanent builds a PermanentError.
func Permanent(provider string, status int, detail string) error {
	return &PermanentError{&NotificationError{Provider: provider, StatusCode: status, Detail: detail}}
}

// Temporary builds a TemporaryError wrapping cause.
func Temporary(provider string, status int, detail string, cause error) error {
	return &TemporaryError{&NotificationError{Provider: provider, StatusCode: status, Detail: detail, Err: cause}}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// IsTemporary reports whether err carries a TemporaryError.
func IsTemporary(err error) bool {
	var temp *TemporaryError
	return errors.As(err, &temp)
}

// Kind names the failure class for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsPermanent(err):
		return "permanent"
	case IsTemporary(err):
		return "temporary"
	default:
		return "unexpected"
	}
}

// ClassifyStatus maps an HTTP response status onto the error taxonomy.
// 2xx returns nil; 408, 429 and 5xx are temporary; other 4xx are permanent.
func ClassifyStatus(provider string, status int, body string) error {
	detail := strings.TrimSpace(body)
	if len(detail) > 512 {
		detail = detail[:512]
	}
	if detail == "" {
		detail = http.StatusText(status)
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return Temporary(provider, status, detail, nil)
	case status >= 400 && status < 500:
		return Permanent(provider, status, detail)
	case status >= 500:
		return Temporary(provider, status, detail, nil)
	default:
		return &NotificationError{Provider: provider, StatusCode: status, Detail: detail}
	}
}

// ClassifyTransport maps a transport error onto the taxonomy. Cancellation by
// the caller is left as a generic error.
func ClassifyTransport(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &NotificationError{Provider: provider, Detail: "request canceled", Err: err}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Temporary(provider, 0, "timeout", err)
	}
	return Temporary(provider, 0, "transport error", err)
}

// withChannel stamps the channel on any NotificationError in the chain.
func withChannel(err error, ch Channel) error {
	var ne *NotificationError
	if errors.As(err, &ne) && ne.Channel == "" {
		ne.Channel = ch
	}
	return err
}
