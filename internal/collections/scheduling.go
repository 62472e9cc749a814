package collections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-collections/internal/events"
)

// SchedulingService decides when and through which channels a patient is
// contacted next.
type SchedulingService struct {
	deps Dependencies
}

func NewSchedulingService(deps Dependencies) *SchedulingService {
	return &SchedulingService{deps: deps.withDefaults()}
}

// ScheduleInitial places a contract into the flow based on its current
// installment. It returns no rows when there is nothing to schedule.
func (s *SchedulingService) ScheduleInitial(ctx context.Context, patientID, contractID uuid.UUID) ([]ContactSchedule, error) {
	log := s.deps.Logger.With("patient_id", patientID, "contract_id", contractID)

	contract, err := s.deps.Billing.GetContract(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("collections: schedule initial: %w", err)
	}
	if contract.PatientID != patientID {
		return nil, fmt.Errorf("%w: contract %s does not belong to patient %s", ErrPrecondition, contractID, patientID)
	}
	if !contract.DoNotifications {
		log.Info("contract opted out of notifications")
		return nil, nil
	}

	inst, err := s.deps.Billing.CurrentInstallment(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("collections: schedule initial: %w", err)
	}
	if inst == nil || inst.Received {
		log.Info("no open installment to schedule")
		return nil, nil
	}

	book, err := LoadPolicyBook(ctx, s.deps.Policies)
	if err != nil {
		return nil, fmt.Errorf("collections: load policies: %w", err)
	}

	cal := s.deps.Calendar
	var (
		step int
		when time.Time
	)
	if cal.IsPreDue(inst.DueDate) {
		when = cal.PreDueTarget(inst.DueDate)
	} else {
		days := cal.DaysOverdue(inst.DueDate)
		clinicMin, ok, err := s.deps.Billing.MinDaysOverdue(ctx, contract.ClinicID)
		if err != nil {
			return nil, fmt.Errorf("collections: billing settings: %w", err)
		}
		if limit := cal.MinDaysOverdue(clinicMin, ok); days > limit {
			log.Info("installment outside overdue window", "days_overdue", days, "window", limit)
			return nil, nil
		}
		step0, _ := book.FindByStep(0)
		step = cal.EntryStep(days, step0.CooldownDays, book.MaxActiveStep())
		when = cal.CurrentTime()
	}

	policy, ok := book.GetActive(step)
	if !ok {
		log.Info("no active policy for entry step", "step", step)
		return nil, nil
	}

	return s.replace(ctx, ReplaceRequest{
		PatientID:     patientID,
		ContractID:    uuidPtr(contractID),
		ClinicID:      contract.ClinicID,
		InstallmentID: uuidPtr(inst.ID),
		Step:          policy.StepNumber,
		Channels:      policy.Channels,
		ScheduledDate: when,
		Trigger:       TriggerAutomated,
	})
}

// AdvanceAfterSuccess approves a schedule and creates the next step's rows.
// The returned successor slice is empty when the flow ends.
func (s *SchedulingService) AdvanceAfterSuccess(ctx context.Context, scheduleID uuid.UUID) (*ContactSchedule, []ContactSchedule, error) {
	sched, err := s.deps.Schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, nil, fmt.Errorf("collections: advance: %w", err)
	}
	if sched.Status == StatusCancelled || sched.Status == StatusRejected {
		return nil, nil, fmt.Errorf("%w: schedule %s is %s", ErrPrecondition, scheduleID, sched.Status)
	}
	log := s.deps.Logger.With("schedule_id", scheduleID, "patient_id", sched.PatientID, "step", sched.CurrentStep)

	// The successor follows the contract's oldest open installment, which
	// moves forward once the stored one is paid.
	var inst *Installment
	switch {
	case sched.ContractID != nil:
		inst, err = s.deps.Billing.CurrentInstallment(ctx, *sched.ContractID)
	case sched.InstallmentID != nil:
		inst, err = s.deps.Billing.GetInstallment(ctx, *sched.InstallmentID)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, fmt.Errorf("collections: advance: %w", err)
	}
	if inst == nil || inst.Received {
		log.Info("no open installment, ending flow")
		return s.approveOnly(ctx, scheduleID)
	}

	book, err := LoadPolicyBook(ctx, s.deps.Policies)
	if err != nil {
		return nil, nil, fmt.Errorf("collections: load policies: %w", err)
	}
	next, ok := book.GetActive(sched.CurrentStep + 1)
	if !ok || len(next.Channels) == 0 {
		log.Info("flow finished, no active next step")
		return s.approveOnly(ctx, scheduleID)
	}

	cal := s.deps.Calendar
	when := cal.CurrentTime().AddDate(0, 0, cal.Cooldown(next.CooldownDays))
	if cal.IsPreDue(inst.DueDate) {
		when = cal.PreDueTarget(inst.DueDate)
	}

	created, err := s.replace(ctx, ReplaceRequest{
		ApproveID:     uuidPtr(scheduleID),
		PatientID:     sched.PatientID,
		ContractID:    sched.ContractID,
		ClinicID:      sched.ClinicID,
		InstallmentID: uuidPtr(inst.ID),
		Step:          next.StepNumber,
		Channels:      next.Channels,
		ScheduledDate: when,
		Trigger:       TriggerAutomated,
	})
	if err != nil {
		return nil, nil, err
	}
	if !sched.Status.Terminal() {
		sched.Status = StatusApproved
	}
	log.Info("flow advanced", "next_step", next.StepNumber, "scheduled_date", when)
	return sched, created, nil
}

// CancelPending cancels every pending automated row for a patient, e.g. once
// the debt is paid.
func (s *SchedulingService) CancelPending(ctx context.Context, patientID uuid.UUID) (int64, error) {
	n, err := s.deps.Schedules.CancelPendingForPatient(ctx, patientID)
	if err != nil {
		return 0, fmt.Errorf("collections: cancel pending: %w", err)
	}
	s.deps.Logger.Info("pending schedules cancelled", "patient_id", patientID, "count", n)
	return n, nil
}

// Summary returns schedule counts for a clinic.
func (s *SchedulingService) Summary(ctx context.Context, clinicID uuid.UUID) (*ScheduleSummary, error) {
	sum, err := s.deps.Schedules.Summary(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("collections: summary: %w", err)
	}
	return sum, nil
}

func (s *SchedulingService) approveOnly(ctx context.Context, id uuid.UUID) (*ContactSchedule, []ContactSchedule, error) {
	approved, err := s.deps.Schedules.ApproveSchedule(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("collections: approve: %w", err)
	}
	return approved, nil, nil
}

func (s *SchedulingService) replace(ctx context.Context, req ReplaceRequest) ([]ContactSchedule, error) {
	if len(req.Channels) == 0 {
		return nil, nil
	}
	created, err := s.deps.Schedules.ReplacePending(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("collections: replace pending: %w", err)
	}
	for _, row := range created {
		evt := events.NotificationScheduledV1{
			ScheduleID:    row.ID.String(),
			PatientID:     row.PatientID.String(),
			ClinicID:      row.ClinicID.String(),
			Step:          row.CurrentStep,
			Channel:       string(row.Channel),
			ScheduledDate: row.ScheduledDate,
		}
		if row.ContractID != nil {
			evt.ContractID = row.ContractID.String()
		}
		s.deps.publish(ctx, row.ClinicID.String(), evt)
	}
	return created, nil
}
