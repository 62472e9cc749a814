package events

import "time"

// NotificationScheduledV1 is emitted for every contact schedule row created.
type NotificationScheduledV1 struct {
	ScheduleID    string    `json:"schedule_id"`
	PatientID     string    `json:"patient_id"`
	ContractID    string    `json:"contract_id,omitempty"`
	ClinicID      string    `json:"clinic_id"`
	Step          int       `json:"step"`
	Channel       string    `json:"channel"`
	ScheduledDate time.Time `json:"scheduled_date"`
}

func (NotificationScheduledV1) EventType() string {
	return "collections.notification.scheduled.v1"
}

// NotificationSentV1 is emitted after a successful provider delivery.
type NotificationSentV1 struct {
	ScheduleID string    `json:"schedule_id"`
	MessageID  string    `json:"message_id,omitempty"`
	ClinicID   string    `json:"clinic_id"`
	PatientID  string    `json:"patient_id"`
	Channel    string    `json:"channel"`
	Mode       string    `json:"mode"`
	SentAt     time.Time `json:"sent_at"`
}

func (NotificationSentV1) EventType() string {
	return "collections.notification.sent.v1"
}

// PendingCallResolvedV1 is emitted once when a call escalation is closed.
type PendingCallResolvedV1 struct {
	CallID     string    `json:"call_id"`
	ClinicID   string    `json:"clinic_id"`
	PatientID  string    `json:"patient_id"`
	ContractID string    `json:"contract_id,omitempty"`
	Success    bool      `json:"success"`
	ResolvedAt time.Time `json:"resolved_at"`
}

func (PendingCallResolvedV1) EventType() string {
	return "collections.pending_call.resolved.v1"
}
