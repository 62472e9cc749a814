// Package collections implements the contact scheduling and notification
// engine for overdue installments: step policies, schedule computation,
// batch dispatch with row claiming, manual sends and phone call escalations.
package collections

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wolfman30/dental-collections/internal/notify"
)

// ScheduleStatus is the lifecycle state of a contact schedule row.
type ScheduleStatus string

const (
	StatusPending    ScheduleStatus = "pending"
	StatusProcessing ScheduleStatus = "processing"
	StatusApproved   ScheduleStatus = "approved"
	StatusRejected   ScheduleStatus = "rejected"
	StatusCancelled  ScheduleStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s ScheduleStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// Trigger records what created a schedule or history row.
type Trigger string

const (
	TriggerAutomated Trigger = "automated"
	TriggerManual    Trigger = "manual"
)

// PendingCallStatus is the lifecycle state of a call escalation.
type PendingCallStatus string

const (
	CallPending PendingCallStatus = "pending"
	CallDone    PendingCallStatus = "done"
	CallFailed  PendingCallStatus = "failed"
)

// Send modes used in metrics and events.
const (
	ModeAutomated = "automated"
	ModeManual    = "manual"
)

// ContactSchedule is one planned contact attempt for a patient at a step
// through a single channel.
type ContactSchedule struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	ContractID    *uuid.UUID
	ClinicID      uuid.UUID
	InstallmentID *uuid.UUID
	CurrentStep   int
	Channel       notify.Channel
	ScheduledDate time.Time
	Status        ScheduleStatus
	Trigger       Trigger
	AdvanceFlow   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// GroupKey returns the advancement unit this row belongs to.
func (s ContactSchedule) GroupKey() GroupKey {
	return GroupKey{ClinicID: s.ClinicID, PatientID: s.PatientID, ContractID: s.ContractID, Step: s.CurrentStep}
}

// GroupKey identifies the rows sharing (patient, contract, step).
type GroupKey struct {
	ClinicID   uuid.UUID
	PatientID  uuid.UUID
	ContractID *uuid.UUID
	Step       int
}

// ContactHistory is the immutable outcome of one delivery attempt.
// Pending call resolutions also carry PendingCallID and the inverse of the
// escalated row's advance_flow.
type ContactHistory struct {
	ID             uuid.UUID
	ScheduleID     *uuid.UUID
	PendingCallID  *uuid.UUID
	PatientID      uuid.UUID
	ContractID     *uuid.UUID
	ClinicID       uuid.UUID
	MessageID      *uuid.UUID
	ContactType    notify.Channel
	Step           int
	SentAt         time.Time
	Success        bool
	FeedbackStatus string
	Observation    string
	AdvanceFlow    bool
	Trigger        Trigger
}

// PendingCall is a phone call escalation awaiting a human operator.
type PendingCall struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	ContractID    *uuid.UUID
	ClinicID      uuid.UUID
	ScheduleID    *uuid.UUID
	CurrentStep   int
	ScheduledAt   time.Time
	Status        PendingCallStatus
	Attempts      int
	LastAttemptAt *time.Time
	ResultNotes   string
	CreatedAt     time.Time
}

// Patient is the debtor being contacted.
type Patient struct {
	ID       uuid.UUID
	ClinicID uuid.UUID
	Name     string
	Email    string
	Phones   []string
}

// Contract groups the installments of one treatment plan.
type Contract struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	ClinicID        uuid.UUID
	DoNotifications bool
}

// Installment is a single amount due on a date.
type Installment struct {
	ID         uuid.UUID
	ContractID uuid.UUID
	Number     int
	DueDate    time.Time
	Amount     decimal.Decimal
	Received   bool
}

// Message is a stored template for (channel, step). A nil ClinicID marks a
// global default.
type Message struct {
	ID        uuid.UUID
	Channel   notify.Channel
	Step      int
	ClinicID  *uuid.UUID
	Subject   string
	Content   string
	IsDefault bool
}

// ScheduleSummary aggregates a clinic's schedules.
type ScheduleSummary struct {
	ClinicID  uuid.UUID
	ByStatus  map[ScheduleStatus]int
	ByChannel []ChannelCount
}

type ChannelCount struct {
	Channel notify.Channel `json:"channel"`
	Count   int            `json:"count"`
}

func uuidPtr(id uuid.UUID) *uuid.UUID { return &id }

func sameUUID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
