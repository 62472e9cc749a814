package collections

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-collections/internal/notify"
)

// ReplaceRequest describes one cancel-then-create unit for a patient.
type ReplaceRequest struct {
	// ApproveID, when set, is moved to approved in the same transaction if it
	// is still pending or processing.
	ApproveID     *uuid.UUID
	PatientID     uuid.UUID
	ContractID    *uuid.UUID
	ClinicID      uuid.UUID
	InstallmentID *uuid.UUID
	Step          int
	Channels      []notify.Channel
	ScheduledDate time.Time
	Trigger       Trigger
}

// DueGroupFilter selects groups ready for processing.
type DueGroupFilter struct {
	ClinicID uuid.UUID
	DueAt    time.Time
	Limit    int
}

// Outcome is the persisted result of one claimed row.
type Outcome struct {
	Schedule    ContactSchedule
	Success     bool
	Observation string
	MessageID   *uuid.UUID
	SentAt      time.Time
}

// PendingCallFilter selects open escalations.
type PendingCallFilter struct {
	ClinicID uuid.UUID
	Before   time.Time
	Limit    int
}

// ResolveCallRequest closes a pending call.
type ResolveCallRequest struct {
	CallID     uuid.UUID
	Success    bool
	Notes      string
	ResolvedAt time.Time
}

// ScheduleRepository owns contact schedule persistence. Multi-statement
// methods run in a single transaction.
type ScheduleRepository interface {
	// ReplacePending cancels the patient's pending automated rows and inserts
	// one pending row per channel. The first row carries advance_flow.
	ReplacePending(ctx context.Context, req ReplaceRequest) ([]ContactSchedule, error)
	CancelPendingForPatient(ctx context.Context, patientID uuid.UUID) (int64, error)
	// ListDueGroups returns groups with pending, non-letter rows due at or before DueAt.
	ListDueGroups(ctx context.Context, filter DueGroupFilter) ([]GroupKey, error)
	// ClaimGroup locks the group's due pending rows, skipping rows locked
	// elsewhere, and moves them to processing. An empty result means another
	// worker owns the group.
	ClaimGroup(ctx context.Context, key GroupKey, dueAt time.Time) ([]ContactSchedule, error)
	// CreateManualSchedule inserts an operator-triggered row in processing.
	// It never takes part in the pending uniqueness rules.
	CreateManualSchedule(ctx context.Context, row ContactSchedule) (*ContactSchedule, error)
	// RejectStale rejects the clinic's rows stuck in processing since before
	// cutoff and records a failed history row for each.
	RejectStale(ctx context.Context, clinicID uuid.UUID, cutoff time.Time) (int64, error)
	GetSchedule(ctx context.Context, id uuid.UUID) (*ContactSchedule, error)
	// ApproveSchedule approves a pending or processing row and returns its current state.
	ApproveSchedule(ctx context.Context, id uuid.UUID) (*ContactSchedule, error)
	// LatestForContract returns the newest automated row of the contract.
	LatestForContract(ctx context.Context, patientID, contractID uuid.UUID) (*ContactSchedule, error)
	Summary(ctx context.Context, clinicID uuid.UUID) (*ScheduleSummary, error)
}

// HistoryRepository is append-only. Rows are unique per (schedule_id,
// contact_type, advance_flow); repeats are skipped.
type HistoryRepository interface {
	// RecordOutcomes writes history and final status for processing rows.
	RecordOutcomes(ctx context.Context, outcomes []Outcome) error
}

// PendingCallRepository owns call escalations.
type PendingCallRepository interface {
	// UpsertPendingCall returns the existing pending call for (patient,
	// contract, step) or creates one.
	UpsertPendingCall(ctx context.Context, call PendingCall) (*PendingCall, error)
	// ResolvePendingCall closes a pending call and appends its history row.
	// The boolean is false when the call was already closed.
	ResolvePendingCall(ctx context.Context, req ResolveCallRequest) (*PendingCall, bool, error)
	ListPendingCalls(ctx context.Context, filter PendingCallFilter) ([]PendingCall, error)
}

// MessageRepository resolves templates. Clinic rows override global defaults.
type MessageRepository interface {
	GetMessage(ctx context.Context, channel notify.Channel, step int, clinicID uuid.UUID) (*Message, error)
	GetMessageByID(ctx context.Context, id uuid.UUID) (*Message, error)
}

// BillingRepository reads the debt side of the domain.
type BillingRepository interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetContract(ctx context.Context, id uuid.UUID) (*Contract, error)
	// CurrentInstallment returns the oldest unpaid installment, or nil.
	CurrentInstallment(ctx context.Context, contractID uuid.UUID) (*Installment, error)
	GetInstallment(ctx context.Context, id uuid.UUID) (*Installment, error)
	// MinDaysOverdue returns the clinic's overdue window when configured.
	MinDaysOverdue(ctx context.Context, clinicID uuid.UUID) (int, bool, error)
	ListActiveClinics(ctx context.Context) ([]uuid.UUID, error)
}
