package collectionsworker

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/wolfman30/dental-collections/internal/notify"
)

const (
	TaskRunBatch           = "collections.batch.run"
	TaskFanout             = "collections.fanout"
	TaskScheduleInitial    = "collections.schedule.initial"
	TaskManualSend         = "collections.manual.send"
	TaskResolvePendingCall = "collections.pending_call.resolve"
)

type RunBatchPayload struct {
	ClinicID  uuid.UUID `json:"clinicId"`
	BatchSize int       `json:"batchSize,omitempty"`
}

type ScheduleInitialPayload struct {
	PatientID  uuid.UUID `json:"patientId"`
	ContractID uuid.UUID `json:"contractId"`
}

type ManualSendPayload struct {
	PatientID  uuid.UUID      `json:"patientId"`
	ContractID uuid.UUID      `json:"contractId"`
	Channel    notify.Channel `json:"channel"`
	MessageID  *uuid.UUID     `json:"messageId,omitempty"`
}

type ResolvePendingCallPayload struct {
	CallID  uuid.UUID `json:"callId"`
	Success bool      `json:"success"`
	Notes   string    `json:"notes,omitempty"`
}

func newTask(kind string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(kind, data), nil
}

func NewRunBatchTask(payload RunBatchPayload) (*asynq.Task, error) {
	return newTask(TaskRunBatch, payload)
}

func NewFanoutTask() *asynq.Task {
	return asynq.NewTask(TaskFanout, nil)
}

func NewScheduleInitialTask(payload ScheduleInitialPayload) (*asynq.Task, error) {
	return newTask(TaskScheduleInitial, payload)
}

func NewManualSendTask(payload ManualSendPayload) (*asynq.Task, error) {
	return newTask(TaskManualSend, payload)
}

func NewResolvePendingCallTask(payload ResolvePendingCallPayload) (*asynq.Task, error) {
	return newTask(TaskResolvePendingCall, payload)
}

// parsePayload decodes a task body. Malformed payloads are never retried.
func parsePayload[T any](task *asynq.Task) (T, error) {
	var payload T
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	return payload, nil
}
