package notify

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("collections.internal.notify")

// RetryPolicy bounds how often temporary failures are retried.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries twice starting at 250ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, InitialInterval: 250 * time.Millisecond, MaxInterval: 5 * time.Second}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// WithRetry retries TemporaryError results. Permanent and unexpected errors
// are returned after the first attempt.
func WithRetry(policy RetryPolicy) Middleware {
	return func(next Notifier) Notifier {
		return NotifierFunc(func(ctx context.Context, msg Message) error {
			op := func() error {
				err := next.Send(ctx, msg)
				if err == nil || IsTemporary(err) {
					return err
				}
				return backoff.Permanent(err)
			}
			err := backoff.Retry(op, policy.backOff(ctx))
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				return perm.Err
			}
			return err
		})
	}
}

// WithTimeout bounds each send. Non-positive durations disable the bound.
func WithTimeout(d time.Duration) Middleware {
	return func(next Notifier) Notifier {
		if d <= 0 {
			return next
		}
		return NotifierFunc(func(ctx context.Context, msg Message) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Send(ctx, msg)
		})
	}
}

// Observer receives per-request provider measurements.
type Observer interface {
	ObserveNotifierRequest(provider, channel string, seconds float64)
	ObserveNotifierFailure(provider, channel, kind string)
}

// WithMetrics records latency and failure class for each send.
func WithMetrics(obs Observer, provider string, ch Channel) Middleware {
	return func(next Notifier) Notifier {
		if obs == nil {
			return next
		}
		return NotifierFunc(func(ctx context.Context, msg Message) error {
			start := time.Now()
			err := next.Send(ctx, msg)
			obs.ObserveNotifierRequest(provider, string(ch), time.Since(start).Seconds())
			if err != nil {
				obs.ObserveNotifierFailure(provider, string(ch), Kind(err))
			}
			return err
		})
	}
}

// WithTracing wraps each send in a span and stamps the channel onto errors.
func WithTracing(provider string, ch Channel) Middleware {
	return func(next Notifier) Notifier {
		return NotifierFunc(func(ctx context.Context, msg Message) error {
			ctx, span := tracer.Start(ctx, "notify.send")
			defer span.End()
			span.SetAttributes(
				attribute.String("collections.provider", provider),
				attribute.String("collections.channel", string(ch)),
				attribute.Int("collections.recipients", len(msg.To)),
			)
			err := next.Send(ctx, msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, Kind(err))
			}
			return withChannel(err, ch)
		})
	}
}
