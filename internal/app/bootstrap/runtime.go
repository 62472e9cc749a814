package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dental-collections/internal/collections"
	appconfig "github.com/wolfman30/dental-collections/internal/config"
	"github.com/wolfman30/dental-collections/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, policy cache disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPool opens and pings the Postgres pool.
func BuildPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping database: %w", err)
	}
	return pool, nil
}

// BuildCalendar translates the flow policy settings into a Calendar.
func BuildCalendar(cfg *appconfig.Config) (collections.Calendar, error) {
	cal := collections.DefaultCalendar()
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return cal, fmt.Errorf("bootstrap: load timezone %q: %w", cfg.Timezone, err)
	}
	cal.Location = loc
	if len(cfg.PreDueOffsets) > 0 {
		cal.PreDueOffsets = append([]int(nil), cfg.PreDueOffsets...)
	}
	cal.Step0CooldownDays = cfg.Step0CooldownDays
	if cfg.DefaultCooldownDays > 0 {
		cal.DefaultCooldownDays = cfg.DefaultCooldownDays
	}
	if cfg.MinDaysOverdue > 0 {
		cal.DefaultMinDaysOverdue = cfg.MinDaysOverdue
	}
	return cal, nil
}
