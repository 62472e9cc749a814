package flow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dental-collections/internal/collections"
	"github.com/wolfman30/dental-collections/pkg/logging"
)

// CacheKey holds the serialized step table.
const CacheKey = "collections:flow_policies"

// CachedRepository is a read-through Redis cache in front of another
// PolicyRepository. Redis failures fall through to the source.
type CachedRepository struct {
	next   collections.PolicyRepository
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedRepository(next collections.PolicyRepository, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedRepository {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRepository{next: next, redis: client, ttl: ttl, logger: logger}
}

func (r *CachedRepository) ListPolicies(ctx context.Context) ([]collections.FlowStepPolicy, error) {
	if r.redis == nil {
		return r.next.ListPolicies(ctx)
	}
	data, err := r.redis.Get(ctx, CacheKey).Bytes()
	switch {
	case err == nil:
		var policies []collections.FlowStepPolicy
		if jsonErr := json.Unmarshal(data, &policies); jsonErr == nil {
			return policies, nil
		}
		r.logger.Warn("discarding corrupt policy cache entry")
	case !errors.Is(err, redis.Nil):
		r.logger.Warn("policy cache read failed", "error", err)
	}

	policies, err := r.next.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(policies); err == nil {
		if err := r.redis.Set(ctx, CacheKey, payload, r.ttl).Err(); err != nil {
			r.logger.Warn("policy cache write failed", "error", err)
		}
	}
	return policies, nil
}

// Invalidate drops the cached table so the next read hits the source.
func (r *CachedRepository) Invalidate(ctx context.Context) error {
	if r.redis == nil {
		return nil
	}
	return r.redis.Del(ctx, CacheKey).Err()
}
