package collectionsworker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	appconfig "github.com/wolfman30/dental-collections/internal/config"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client enqueues collection tasks on the configured queue.
type Client struct {
	enqueuer enqueuer
	closer   func() error
	queue    string
	now      func() time.Time
}

// RedisClientOpt builds asynq connection options from the shared Redis settings.
func RedisClientOpt(cfg *appconfig.Config) asynq.RedisClientOpt {
	opt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opt
}

func NewClient(cfg *appconfig.Config) (*Client, error) {
	if cfg == nil || cfg.RedisAddr == "" {
		return nil, fmt.Errorf("collectionsworker: redis address not configured")
	}
	c := asynq.NewClient(RedisClientOpt(cfg))
	return newClient(c, c.Close, cfg.AsynqQueue), nil
}

func newClient(e enqueuer, closer func() error, queue string) *Client {
	if queue == "" {
		queue = "default"
	}
	return &Client{enqueuer: e, closer: closer, queue: queue, now: time.Now}
}

func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}

// EnqueueRunBatch queues one batch run per clinic per day. A second request on
// the same day is reported as already queued.
func (c *Client) EnqueueRunBatch(ctx context.Context, clinicID uuid.UUID, batchSize int) (bool, error) {
	task, err := NewRunBatchTask(RunBatchPayload{ClinicID: clinicID, BatchSize: batchSize})
	if err != nil {
		return false, err
	}
	id := fmt.Sprintf("batch:%s:%s", clinicID, c.now().UTC().Format("2006-01-02"))
	return c.enqueue(ctx, task, asynq.TaskID(id), asynq.MaxRetry(3))
}

func (c *Client) EnqueueFanout(ctx context.Context) error {
	_, err := c.enqueue(ctx, NewFanoutTask(), asynq.MaxRetry(1))
	return err
}

func (c *Client) EnqueueScheduleInitial(ctx context.Context, patientID, contractID uuid.UUID) error {
	task, err := NewScheduleInitialTask(ScheduleInitialPayload{PatientID: patientID, ContractID: contractID})
	if err != nil {
		return err
	}
	_, err = c.enqueue(ctx, task, asynq.MaxRetry(5))
	return err
}

func (c *Client) EnqueueManualSend(ctx context.Context, payload ManualSendPayload) error {
	task, err := NewManualSendTask(payload)
	if err != nil {
		return err
	}
	_, err = c.enqueue(ctx, task, asynq.MaxRetry(3))
	return err
}

func (c *Client) EnqueueResolvePendingCall(ctx context.Context, payload ResolvePendingCallPayload) error {
	task, err := NewResolvePendingCallTask(payload)
	if err != nil {
		return err
	}
	_, err = c.enqueue(ctx, task, asynq.TaskID("call:"+payload.CallID.String()), asynq.MaxRetry(5))
	return err
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (bool, error) {
	opts = append([]asynq.Option{asynq.Queue(c.queue)}, opts...)
	_, err := c.enqueuer.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("collectionsworker: enqueue %s: %w", task.Type(), err)
	}
	return true, nil
}
