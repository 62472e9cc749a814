package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-collections/pkg/logging"
)

// DeliveryHandler forwards one entry to a downstream transport.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

type outboxSource interface {
	FetchPending(ctx context.Context, limit int32, maxAttempts int) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
	PurgeDelivered(ctx context.Context, before time.Time) (int64, error)
}

// DrainStats summarizes one polling pass.
type DrainStats struct {
	Fetched   int
	Delivered int
	Failed    int
}

// Deliverer polls the outbox and hands entries to a DeliveryHandler.
// Entries that fail maxAttempts times stay in the table for inspection.
type Deliverer struct {
	store       outboxSource
	handler     DeliveryHandler
	logger      *logging.Logger
	batchSize   int32
	maxAttempts int
	interval    time.Duration
	retention   time.Duration
	now         func() time.Time
}

func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	var src outboxSource
	if store != nil {
		src = store
	}
	return newDeliverer(src, handler, logger)
}

func newDeliverer(store outboxSource, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:       store,
		handler:     handler,
		logger:      logger,
		batchSize:   25,
		maxAttempts: 10,
		interval:    2 * time.Second,
		retention:   7 * 24 * time.Hour,
		now:         time.Now,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Deliverer) WithMaxAttempts(n int) *Deliverer {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

// WithRetention sets how long delivered rows are kept. Zero disables purging.
func (d *Deliverer) WithRetention(r time.Duration) *Deliverer {
	if r >= 0 {
		d.retention = r
	}
	return d
}

// Start polls until ctx is cancelled.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	purge := time.NewTicker(time.Hour)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		case <-purge.C:
			d.Purge(ctx)
		}
	}
}

// Drain runs one polling pass.
func (d *Deliverer) Drain(ctx context.Context) DrainStats {
	var stats DrainStats
	entries, err := d.store.FetchPending(ctx, d.batchSize, d.maxAttempts)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return stats
	}
	stats.Fetched = len(entries)
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			stats.Failed++
			level := d.logger.Warn
			if entry.Attempts+1 >= d.maxAttempts {
				level = d.logger.Error
			}
			level("outbox delivery failed", "error", err, "event_id", entry.ID, "type", entry.Type, "attempt", entry.Attempts+1)
			if markErr := d.store.MarkFailed(ctx, entry.ID, err); markErr != nil {
				d.logger.Error("outbox attempt not recorded", "error", markErr, "event_id", entry.ID)
			}
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			d.logger.Error("outbox mark delivered failed", "error", err, "event_id", entry.ID)
			continue
		}
		if ok {
			stats.Delivered++
		}
	}
	if stats.Fetched > 0 {
		d.logger.Debug("outbox drained", "fetched", stats.Fetched, "delivered", stats.Delivered, "failed", stats.Failed)
	}
	return stats
}

// Purge drops delivered rows past the retention window.
func (d *Deliverer) Purge(ctx context.Context) int64 {
	if d.retention == 0 {
		return 0
	}
	n, err := d.store.PurgeDelivered(ctx, d.now().Add(-d.retention))
	if err != nil {
		d.logger.Warn("outbox purge failed", "error", err)
		return 0
	}
	if n > 0 {
		d.logger.Info("outbox purged", "rows", n)
	}
	return n
}
