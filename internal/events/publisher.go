package events

import (
	"context"

	"github.com/wolfman30/dental-collections/pkg/logging"
)

// OutboxPublisher seals events and appends them to the outbox.
type OutboxPublisher struct {
	store  *OutboxStore
	logger *logging.Logger
}

func NewOutboxPublisher(store *OutboxStore, logger *logging.Logger) *OutboxPublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &OutboxPublisher{store: store, logger: logger}
}

func (p *OutboxPublisher) Publish(ctx context.Context, aggregate string, evt CanonicalEvent) error {
	env, err := Seal(aggregate, evt)
	if err != nil {
		return err
	}
	if err := p.store.Append(ctx, env); err != nil {
		return err
	}
	p.logger.Debug("event appended to outbox", "event_id", env.ID, "type", env.Type, "aggregate", env.Aggregate)
	return nil
}

// LogPublisher only logs. Used by tools that run without an outbox.
type LogPublisher struct {
	logger *logging.Logger
}

func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, aggregate string, evt CanonicalEvent) error {
	env, err := Seal(aggregate, evt)
	if err != nil {
		return err
	}
	p.logger.Info("event published", "event_id", env.ID, "type", env.Type, "aggregate", env.Aggregate, "data", string(env.Data))
	return nil
}
