package collectionsworker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	appconfig "github.com/wolfman30/dental-collections/internal/config"
	"github.com/wolfman30/dental-collections/pkg/logging"
)

type periodicRegistrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

// RegisterPeriodic installs the daily fan-out entry.
func RegisterPeriodic(r periodicRegistrar, cronspec, queue string) (string, error) {
	if cronspec == "" {
		return "", fmt.Errorf("collectionsworker: empty fanout cron")
	}
	id, err := r.Register(cronspec, NewFanoutTask(), asynq.Queue(queue), asynq.MaxRetry(1))
	if err != nil {
		return "", fmt.Errorf("collectionsworker: register fanout: %w", err)
	}
	return id, nil
}

// Scheduler enqueues the fan-out task on the configured cron.
type Scheduler struct {
	scheduler *asynq.Scheduler
	cron      string
	queue     string
	logger    *logging.Logger
}

func NewScheduler(cfg *appconfig.Config, logger *logging.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logging.Default()
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("collectionsworker: load timezone %q: %w", cfg.Timezone, err)
	}
	s := asynq.NewScheduler(RedisClientOpt(cfg), &asynq.SchedulerOpts{Location: loc})
	return &Scheduler{scheduler: s, cron: cfg.FanoutCron, queue: cfg.AsynqQueue, logger: logger}, nil
}

// Run registers the fan-out entry and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	id, err := RegisterPeriodic(s.scheduler, s.cron, s.queue)
	if err != nil {
		return err
	}
	s.logger.Info("collections fanout scheduled", "entry_id", id, "cron", s.cron, "queue", s.queue)
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("collectionsworker: start scheduler: %w", err)
	}
	<-ctx.Done()
	s.scheduler.Shutdown()
	return nil
}
