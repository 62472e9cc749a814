package collections

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-collections/internal/notify"
	"github.com/wolfman30/dental-collections/internal/templates"
	"github.com/wolfman30/dental-collections/pkg/logging"
)

const (
	observationEscalated = "pending call escalated"
	observationStale     = "error: processing timed out"
)

// delivery is the result of one channel attempt.
type delivery struct {
	Success     bool
	Sent        bool
	Observation string
	MessageID   *uuid.UUID
	CallID      *uuid.UUID
	Err         error
	At          time.Time
}

// dispatcher performs a single channel attempt for a schedule row. It never
// returns an error: failures are folded into the delivery result.
type dispatcher struct {
	deps Dependencies
}

func (d dispatcher) deliver(ctx context.Context, row ContactSchedule, mode string, messageID *uuid.UUID) delivery {
	log := d.deps.Logger.With(
		"schedule_id", row.ID,
		"patient_id", row.PatientID,
		"clinic_id", row.ClinicID,
		"channel", row.Channel,
		"step", row.CurrentStep,
		"mode", mode,
	)
	if row.Channel == notify.ChannelPhoneCall {
		return d.escalate(ctx, row, log)
	}

	msg, id, err := d.prepare(ctx, row, messageID)
	if err != nil {
		log.Warn("notification precondition failed", "error", err)
		return d.failed(err, id)
	}

	notifier, err := d.deps.Notifiers.Get(row.Channel)
	if err != nil {
		log.Error("no notifier for channel", "error", err)
		return d.failed(err, id)
	}

	if err := notifier.Send(ctx, msg); err != nil {
		switch notify.Kind(err) {
		case "permanent":
			log.Error("notification rejected by provider", "error", err)
		case "temporary":
			log.Warn("notification failed", "error", err, "retryable", true)
		default:
			log.Error("unexpected notification failure", "error", err, "error_detail", fmt.Sprintf("%+v", err))
		}
		return d.failed(err, id)
	}

	obs := "automated send"
	if mode == ModeManual {
		obs = "manual send"
	}
	log.Info("notification sent")
	return delivery{Success: true, Sent: true, Observation: obs, MessageID: id, At: d.deps.Calendar.CurrentTime()}
}

func (d dispatcher) escalate(ctx context.Context, row ContactSchedule, log *logging.Logger) delivery {
	call, err := d.deps.Calls.UpsertPendingCall(ctx, PendingCall{
		PatientID:   row.PatientID,
		ContractID:  row.ContractID,
		ClinicID:    row.ClinicID,
		ScheduleID:  uuidPtr(row.ID),
		CurrentStep: row.CurrentStep,
		ScheduledAt: d.deps.Calendar.CurrentTime(),
		Status:      CallPending,
	})
	if err != nil {
		log.Error("failed to escalate pending call", "error", err)
		return d.failed(err, nil)
	}
	log.Info("pending call escalated", "call_id", call.ID)
	return delivery{Success: true, Observation: observationEscalated, CallID: uuidPtr(call.ID), At: d.deps.Calendar.CurrentTime()}
}

func (d dispatcher) failed(err error, messageID *uuid.UUID) delivery {
	return delivery{
		Observation: "error: " + errorDetail(err),
		MessageID:   messageID,
		Err:         err,
		At:          d.deps.Calendar.CurrentTime(),
	}
}

// prepare resolves everything a send needs. Missing data is reported as
// ErrPrecondition.
func (d dispatcher) prepare(ctx context.Context, row ContactSchedule, messageID *uuid.UUID) (notify.Message, *uuid.UUID, error) {
	patient, err := d.deps.Billing.GetPatient(ctx, row.PatientID)
	if err != nil {
		return notify.Message{}, nil, precondition("patient", err)
	}

	inst, err := d.installment(ctx, row)
	if err != nil {
		return notify.Message{}, nil, err
	}

	tmpl, err := d.message(ctx, row, messageID)
	if err != nil {
		return notify.Message{}, nil, err
	}
	id := uuidPtr(tmpl.ID)

	body, err := d.deps.Renderer.Render(fmt.Sprintf("%s_step_%d", row.Channel, row.CurrentStep), tmpl.Content,
		templates.CollectionContext(patient.Name, inst.Amount, inst.DueDate))
	if err != nil {
		return notify.Message{}, id, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}

	msg := notify.Message{ToName: patient.Name, Subject: tmpl.Subject, Body: body}
	switch row.Channel {
	case notify.ChannelEmail:
		if strings.TrimSpace(patient.Email) == "" {
			return notify.Message{}, id, fmt.Errorf("%w: patient has no email", ErrPrecondition)
		}
		msg.To = []string{strings.TrimSpace(patient.Email)}
		msg.HTML = body
	default:
		if len(patient.Phones) == 0 {
			return notify.Message{}, id, fmt.Errorf("%w: patient has no phone", ErrPrecondition)
		}
		phone, err := notify.NormalizeE164(patient.Phones[0], d.deps.PhoneRegion)
		if err != nil {
			return notify.Message{}, id, fmt.Errorf("%w: %v", ErrPrecondition, err)
		}
		msg.To = []string{phone}
	}
	return msg, id, nil
}

func (d dispatcher) installment(ctx context.Context, row ContactSchedule) (*Installment, error) {
	if row.ContractID != nil {
		contract, err := d.deps.Billing.GetContract(ctx, *row.ContractID)
		if err != nil {
			return nil, precondition("contract", err)
		}
		if !contract.DoNotifications {
			return nil, fmt.Errorf("%w: notifications disabled for contract", ErrPrecondition)
		}
		inst, err := d.deps.Billing.CurrentInstallment(ctx, contract.ID)
		if err != nil {
			return nil, precondition("installment", err)
		}
		if inst == nil {
			return nil, fmt.Errorf("%w: no open installment", ErrPrecondition)
		}
		return inst, nil
	}
	if row.InstallmentID == nil {
		return nil, fmt.Errorf("%w: schedule has no installment", ErrPrecondition)
	}
	inst, err := d.deps.Billing.GetInstallment(ctx, *row.InstallmentID)
	if err != nil {
		return nil, precondition("installment", err)
	}
	if inst.Received {
		return nil, fmt.Errorf("%w: installment already paid", ErrPrecondition)
	}
	return inst, nil
}

func (d dispatcher) message(ctx context.Context, row ContactSchedule, messageID *uuid.UUID) (*Message, error) {
	if messageID != nil {
		msg, err := d.deps.Messages.GetMessageByID(ctx, *messageID)
		if err != nil {
			return nil, precondition("message", err)
		}
		return msg, nil
	}
	msg, err := d.deps.Messages.GetMessage(ctx, row.Channel, row.CurrentStep, row.ClinicID)
	if err != nil {
		return nil, precondition("message", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: no message for %s step %d", ErrPrecondition, row.Channel, row.CurrentStep)
	}
	return msg, nil
}

// precondition marks a missing entity as a precondition failure and passes
// infrastructure errors through.
func precondition(what string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s not found", ErrPrecondition, what)
	}
	return fmt.Errorf("collections: load %s: %w", what, err)
}

func errorDetail(err error) string {
	var ne *notify.NotificationError
	if errors.As(err, &ne) && ne.Detail != "" {
		if ne.StatusCode > 0 {
			return fmt.Sprintf("%s (status=%d)", ne.Detail, ne.StatusCode)
		}
		return ne.Detail
	}
	return err.Error()
}
