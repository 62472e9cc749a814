package collectionsworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/wolfman30/dental-collections/internal/collections"
	appconfig "github.com/wolfman30/dental-collections/internal/config"
	"github.com/wolfman30/dental-collections/pkg/logging"
)

type batchRunner interface {
	RunBatch(ctx context.Context, clinicID uuid.UUID, batchSize int) (collections.BatchResult, error)
}

type initialScheduler interface {
	ScheduleInitial(ctx context.Context, patientID, contractID uuid.UUID) ([]collections.ContactSchedule, error)
}

type manualSender interface {
	SendManual(ctx context.Context, req collections.ManualRequest) (*collections.ManualResult, error)
}

type callResolver interface {
	ResolvePendingCall(ctx context.Context, callID uuid.UUID, success bool, notes string) (*collections.PendingCall, error)
}

type clinicLister interface {
	ListActiveClinics(ctx context.Context) ([]uuid.UUID, error)
}

type batchEnqueuer interface {
	EnqueueRunBatch(ctx context.Context, clinicID uuid.UUID, batchSize int) (bool, error)
}

// Handlers executes collection tasks against the engine.
type Handlers struct {
	batches   batchRunner
	schedules initialScheduler
	manual    manualSender
	calls     callResolver
	clinics   clinicLister
	enqueue   batchEnqueuer
	batchSize int
	logger    *logging.Logger
}

func NewHandlers(engine *collections.Engine, clinics clinicLister, enqueue batchEnqueuer, batchSize int, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handlers{
		batches:   engine.Processor,
		schedules: engine.Scheduling,
		manual:    engine.Manual,
		calls:     engine.Calls,
		clinics:   clinics,
		enqueue:   enqueue,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Register binds every task type on mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskRunBatch, h.handleRunBatch)
	mux.HandleFunc(TaskFanout, h.handleFanout)
	mux.HandleFunc(TaskScheduleInitial, h.handleScheduleInitial)
	mux.HandleFunc(TaskManualSend, h.handleManualSend)
	mux.HandleFunc(TaskResolvePendingCall, h.handleResolvePendingCall)
}

func (h *Handlers) handleRunBatch(ctx context.Context, task *asynq.Task) error {
	payload, err := parsePayload[RunBatchPayload](task)
	if err != nil {
		return err
	}
	size := payload.BatchSize
	if size <= 0 {
		size = h.batchSize
	}
	start := time.Now()
	res, err := h.batches.RunBatch(ctx, payload.ClinicID, size)
	h.logger.Info("collections batch finished",
		"clinic_id", payload.ClinicID,
		"groups", res.Groups,
		"advanced", res.Advanced,
		"held", res.Held,
		"failed", res.Failed,
		"claimed_elsewhere", res.ClaimedElsewhere,
		"sent", res.Sent,
		"stale", res.Stale,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return err
}

func (h *Handlers) handleFanout(ctx context.Context, _ *asynq.Task) error {
	clinics, err := h.clinics.ListActiveClinics(ctx)
	if err != nil {
		return fmt.Errorf("collectionsworker: list clinics: %w", err)
	}
	var errs []error
	queued := 0
	for _, id := range clinics {
		ok, err := h.enqueue.EnqueueRunBatch(ctx, id, h.batchSize)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			queued++
		}
	}
	h.logger.Info("collections fanout enqueued batches", "clinics", len(clinics), "queued", queued, "errors", len(errs))
	return errors.Join(errs...)
}

func (h *Handlers) handleScheduleInitial(ctx context.Context, task *asynq.Task) error {
	payload, err := parsePayload[ScheduleInitialPayload](task)
	if err != nil {
		return err
	}
	rows, err := h.schedules.ScheduleInitial(ctx, payload.PatientID, payload.ContractID)
	if err != nil {
		return skipIfFinal(err)
	}
	h.logger.Debug("initial schedule created", "patient_id", payload.PatientID, "contract_id", payload.ContractID, "rows", len(rows))
	return nil
}

func (h *Handlers) handleManualSend(ctx context.Context, task *asynq.Task) error {
	payload, err := parsePayload[ManualSendPayload](task)
	if err != nil {
		return err
	}
	res, err := h.manual.SendManual(ctx, collections.ManualRequest{
		PatientID:  payload.PatientID,
		ContractID: payload.ContractID,
		Channel:    payload.Channel,
		MessageID:  payload.MessageID,
	})
	if err == nil {
		return nil
	}
	// The notifier chain already retried; a recorded delivery failure is final.
	if res != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return skipIfFinal(err)
}

func (h *Handlers) handleResolvePendingCall(ctx context.Context, task *asynq.Task) error {
	payload, err := parsePayload[ResolvePendingCallPayload](task)
	if err != nil {
		return err
	}
	if _, err := h.calls.ResolvePendingCall(ctx, payload.CallID, payload.Success, payload.Notes); err != nil {
		return skipIfFinal(err)
	}
	return nil
}

func skipIfFinal(err error) error {
	if errors.Is(err, collections.ErrNotFound) ||
		errors.Is(err, collections.ErrPrecondition) ||
		errors.Is(err, collections.ErrUnsupportedChannel) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// Worker runs an asynq server for the collection queue.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *logging.Logger
}

func NewWorker(cfg *appconfig.Config, handlers *Handlers, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	queue := cfg.AsynqQueue
	if queue == "" {
		queue = "default"
	}
	concurrency := cfg.AsynqConcurrency
	if concurrency < 1 {
		concurrency = 10
	}
	server := asynq.NewServer(RedisClientOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		IsFailure: func(err error) bool {
			return !errors.Is(err, asynq.SkipRetry)
		},
	})
	mux := asynq.NewServeMux()
	handlers.Register(mux)
	return &Worker{server: server, mux: mux, logger: logger}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()
	if err := w.server.Run(w.mux); err != nil {
		w.logger.Error("collections worker stopped", "error", err)
		return err
	}
	return nil
}
