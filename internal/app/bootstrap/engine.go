package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dental-collections/internal/collections"
	appconfig "github.com/wolfman30/dental-collections/internal/config"
	"github.com/wolfman30/dental-collections/internal/events"
	"github.com/wolfman30/dental-collections/internal/flow"
	"github.com/wolfman30/dental-collections/internal/notify"
	"github.com/wolfman30/dental-collections/internal/observability/metrics"
	"github.com/wolfman30/dental-collections/pkg/logging"
)

// BuildPolicyRepository picks the step table source and fronts it with the
// Redis cache when a client is available.
func BuildPolicyRepository(cfg *appconfig.Config, store collections.PolicyRepository, redisClient *redis.Client, logger *logging.Logger) (collections.PolicyRepository, error) {
	var source collections.PolicyRepository
	switch cfg.PolicySource {
	case "file":
		policies, err := flow.LoadFile(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		source = flow.NewStaticRepository(policies)
	case "database", "":
		if store == nil {
			return nil, fmt.Errorf("bootstrap: database policy source needs a store")
		}
		source = store
	default:
		return nil, fmt.Errorf("bootstrap: unknown POLICY_SOURCE %q", cfg.PolicySource)
	}
	if redisClient == nil {
		return source, nil
	}
	return flow.NewCachedRepository(source, redisClient, cfg.PolicyCacheTTL, logger), nil
}

// PolicyWriter persists the step table.
type PolicyWriter interface {
	UpsertPolicies(ctx context.Context, policies []collections.FlowStepPolicy) error
}

// SeedPolicies writes the step table and drops the cached copy so running
// services pick it up on their next read instead of after the TTL.
func SeedPolicies(ctx context.Context, w PolicyWriter, redisClient *redis.Client, policies []collections.FlowStepPolicy, logger *logging.Logger) error {
	if err := w.UpsertPolicies(ctx, policies); err != nil {
		return fmt.Errorf("bootstrap: seed policies: %w", err)
	}
	if redisClient == nil {
		return nil
	}
	if err := flow.NewCachedRepository(nil, redisClient, 0, logger).Invalidate(ctx); err != nil {
		return fmt.Errorf("bootstrap: policies seeded but cache invalidation failed: %w", err)
	}
	return nil
}

// Runtime is the wired engine plus the stores binaries need directly.
type Runtime struct {
	Engine   *collections.Engine
	Store    *collections.Store
	Outbox   *events.OutboxStore
	Policies collections.PolicyRepository
}

// BuildRuntime wires the engine on top of Postgres, the outbox and the given
// notifier registry.
func BuildRuntime(cfg *appconfig.Config, pool *pgxpool.Pool, redisClient *redis.Client, notifiers *notify.Registry, m *metrics.CollectionsMetrics, logger *logging.Logger) (*Runtime, error) {
	if logger == nil {
		logger = logging.Default()
	}
	store := collections.NewStore(pool, logger)
	policies, err := BuildPolicyRepository(cfg, store, redisClient, logger)
	if err != nil {
		return nil, err
	}
	cal, err := BuildCalendar(cfg)
	if err != nil {
		return nil, err
	}
	outbox := events.NewOutboxStore(pool)

	deps := collections.Dependencies{
		Schedules:        store,
		History:          store,
		Calls:            store,
		Messages:         store,
		Billing:          store,
		Policies:         policies,
		Notifiers:        notifiers,
		Publisher:        events.NewOutboxPublisher(outbox, logger),
		Calendar:         cal,
		PhoneRegion:      cfg.PhoneRegion,
		BatchConcurrency: cfg.BatchConcurrency,
		StaleAfter:       cfg.StaleProcessing,
		Logger:           logger,
	}
	if m != nil {
		deps.Metrics = m
	}
	return &Runtime{
		Engine:   collections.NewEngine(deps),
		Store:    store,
		Outbox:   outbox,
		Policies: policies,
	}, nil
}
