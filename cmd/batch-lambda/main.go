package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"github.com/wolfman30/dental-collections/cmd/mainconfig"
	"github.com/wolfman30/dental-collections/internal/app/bootstrap"
	"github.com/wolfman30/dental-collections/internal/collections"
	"github.com/wolfman30/dental-collections/pkg/logging"
)

type batchRunner interface {
	RunBatch(ctx context.Context, clinicID uuid.UUID, batchSize int) (collections.BatchResult, error)
}

type clinicLister interface {
	ListActiveClinics(ctx context.Context) ([]uuid.UUID, error)
}

// request is the EventBridge detail. An empty clinic runs every active clinic.
type request struct {
	ClinicID  string `json:"clinic_id"`
	BatchSize int    `json:"batch_size"`
}

type response struct {
	Results []collections.BatchResult `json:"results"`
	Errors  []string                  `json:"errors,omitempty"`
}

type handler struct {
	runner    batchRunner
	clinics   clinicLister
	batchSize int
	logger    *logging.Logger
}

func (h *handler) handle(ctx context.Context, evt events.CloudWatchEvent) (response, error) {
	var req request
	if len(evt.Detail) > 0 {
		if err := json.Unmarshal(evt.Detail, &req); err != nil {
			return response{}, fmt.Errorf("decode detail: %w", err)
		}
	}
	size := req.BatchSize
	if size <= 0 {
		size = h.batchSize
	}

	var clinics []uuid.UUID
	if req.ClinicID != "" {
		id, err := uuid.Parse(req.ClinicID)
		if err != nil {
			return response{}, fmt.Errorf("invalid clinic_id: %w", err)
		}
		clinics = []uuid.UUID{id}
	} else {
		ids, err := h.clinics.ListActiveClinics(ctx)
		if err != nil {
			return response{}, fmt.Errorf("list clinics: %w", err)
		}
		clinics = ids
	}

	var (
		resp response
		errs []error
	)
	for _, clinicID := range clinics {
		res, err := h.runner.RunBatch(ctx, clinicID, size)
		resp.Results = append(resp.Results, res)
		if err != nil {
			h.logger.Error("collections batch failed", "clinic_id", clinicID, "error", err)
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", clinicID, err))
			errs = append(errs, err)
			continue
		}
		h.logger.Info("collections batch finished",
			"clinic_id", clinicID,
			"groups", res.Groups,
			"sent", res.Sent,
			"advanced", res.Advanced,
			"failed", res.Failed,
		)
	}
	if len(errs) == len(clinics) && len(errs) > 0 {
		return resp, errors.Join(errs...)
	}
	return resp, nil
}

func main() {
	cfg := mainconfig.Load()
	logger := mainconfig.Logger(cfg)
	ctx := context.Background()

	pool, err := bootstrap.BuildPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	ses, err := mainconfig.SESClient(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	notifiers, err := bootstrap.BuildNotifierRegistry(cfg, bootstrap.NotifierDeps{SES: ses, Logger: logger})
	if err != nil {
		logger.Error("failed to build notifiers", "error", err)
		os.Exit(1)
	}
	runtime, err := bootstrap.BuildRuntime(cfg, pool, redisClient, notifiers, nil, logger)
	if err != nil {
		logger.Error("failed to build collections runtime", "error", err)
		os.Exit(1)
	}

	h := &handler{
		runner:    runtime.Engine.Processor,
		clinics:   runtime.Store,
		batchSize: cfg.BatchSize,
		logger:    logger,
	}
	lambda.Start(h.handle)
}
