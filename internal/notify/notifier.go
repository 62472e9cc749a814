package notify

import (
	"context"
	"fmt"
	"sync"
)

// Message is a rendered notification ready for a provider.
type Message struct {
	To      []string
	ToName  string
	Subject string
	Body    string
	HTML    string
}

// Notifier delivers a message through a single provider.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Middleware decorates a notifier.
type Middleware func(Notifier) Notifier

// Chain applies middlewares so the first one listed is outermost.
func Chain(n Notifier, mws ...Middleware) Notifier {
	for i := len(mws) - 1; i >= 0; i-- {
		n = mws[i](n)
	}
	return n
}

// Registry maps channels to notifiers.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[Channel]Notifier
}

func NewRegistry() *Registry {
	return &Registry{notifiers: make(map[Channel]Notifier)}
}

// Register binds a notifier to a channel, replacing any previous binding.
func (r *Registry) Register(ch Channel, n Notifier) {
	if n == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[ch] = n
}

// Get returns the notifier bound to ch.
func (r *Registry) Get(ch Channel) (Notifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notifiers[ch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoNotifier, ch)
	}
	return n, nil
}

// Channels returns the registered channels.
func (r *Registry) Channels() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.notifiers))
	for _, ch := range AllChannels {
		if _, ok := r.notifiers[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}
