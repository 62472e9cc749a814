package collections

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-collections/internal/events"
	"github.com/wolfman30/dental-collections/internal/notify"
)

// ManualRequest is an operator-triggered send.
type ManualRequest struct {
	PatientID  uuid.UUID
	ContractID uuid.UUID
	Channel    notify.Channel
	// MessageID selects a specific template instead of the step default.
	MessageID *uuid.UUID
}

// ManualResult reports what a manual send did.
type ManualResult struct {
	ScheduleID    uuid.UUID      `json:"schedule_id"`
	Channel       notify.Channel `json:"channel"`
	Success       bool           `json:"success"`
	Observation   string         `json:"observation"`
	MessageID     *uuid.UUID     `json:"message_id,omitempty"`
	PendingCallID *uuid.UUID     `json:"pending_call_id,omitempty"`
}

// ManualNotificationHandler sends a single notification outside the batch.
// It never claims rows and never advances the flow.
type ManualNotificationHandler struct {
	deps     Dependencies
	dispatch dispatcher
}

func NewManualNotificationHandler(deps Dependencies) *ManualNotificationHandler {
	deps = deps.withDefaults()
	return &ManualNotificationHandler{deps: deps, dispatch: dispatcher{deps: deps}}
}

// SendManual delivers through req.Channel. The latest automated schedule of
// the contract supplies the step and installment; the send itself gets its
// own manual row so it never shares a history key with the batch. A failed
// delivery returns the result together with the classified error.
func (h *ManualNotificationHandler) SendManual(ctx context.Context, req ManualRequest) (*ManualResult, error) {
	start := time.Now()
	if !req.Channel.Valid() || req.Channel == notify.ChannelLetter {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChannel, req.Channel)
	}

	latest, err := h.deps.Schedules.LatestForContract(ctx, req.PatientID, req.ContractID)
	if err != nil {
		return nil, fmt.Errorf("collections: manual send: %w", err)
	}
	if latest == nil {
		return nil, fmt.Errorf("collections: manual send: %w", ErrNotFound)
	}

	row, err := h.deps.Schedules.CreateManualSchedule(ctx, ContactSchedule{
		PatientID:     latest.PatientID,
		ContractID:    latest.ContractID,
		ClinicID:      latest.ClinicID,
		InstallmentID: latest.InstallmentID,
		CurrentStep:   latest.CurrentStep,
		Channel:       req.Channel,
		ScheduledDate: h.deps.Calendar.CurrentTime(),
	})
	if err != nil {
		return nil, fmt.Errorf("collections: manual send: %w", err)
	}

	d := h.dispatch.deliver(ctx, *row, ModeManual, req.MessageID)

	outcome := Outcome{
		Schedule:    *row,
		Success:     d.Success,
		Observation: d.Observation,
		MessageID:   d.MessageID,
		SentAt:      d.At,
	}
	if err := h.deps.History.RecordOutcomes(context.WithoutCancel(ctx), []Outcome{outcome}); err != nil {
		return nil, fmt.Errorf("collections: manual history: %w", err)
	}

	h.deps.Metrics.ObserveNotification(ModeManual, string(req.Channel), d.Success)
	h.deps.Metrics.ObserveFlow(ModeManual, d.Success, time.Since(start).Seconds())

	if d.Sent {
		evt := events.NotificationSentV1{
			ScheduleID: row.ID.String(),
			ClinicID:   row.ClinicID.String(),
			PatientID:  row.PatientID.String(),
			Channel:    string(req.Channel),
			Mode:       ModeManual,
			SentAt:     d.At,
		}
		if d.MessageID != nil {
			evt.MessageID = d.MessageID.String()
		}
		h.deps.publish(ctx, row.ClinicID.String(), evt)
	}

	res := &ManualResult{
		ScheduleID:    row.ID,
		Channel:       req.Channel,
		Success:       d.Success,
		Observation:   d.Observation,
		MessageID:     d.MessageID,
		PendingCallID: d.CallID,
	}
	if !d.Success {
		return res, d.Err
	}
	return res, nil
}
