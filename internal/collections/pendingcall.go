package collections

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-collections/internal/events"
)

// PendingCallService closes phone call escalations.
type PendingCallService struct {
	deps Dependencies
}

func NewPendingCallService(deps Dependencies) *PendingCallService {
	return &PendingCallService{deps: deps.withDefaults()}
}

// ResolvePendingCall marks a call done or failed and records the attempt in
// contact history. Resolving an already closed call is a no-op.
func (s *PendingCallService) ResolvePendingCall(ctx context.Context, callID uuid.UUID, success bool, notes string) (*PendingCall, error) {
	now := s.deps.Calendar.CurrentTime()
	call, changed, err := s.deps.Calls.ResolvePendingCall(ctx, ResolveCallRequest{
		CallID:     callID,
		Success:    success,
		Notes:      notes,
		ResolvedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("collections: resolve pending call: %w", err)
	}
	if !changed {
		s.deps.Logger.Info("pending call already resolved", "call_id", callID, "status", call.Status)
		return call, nil
	}

	s.deps.Logger.Info("pending call resolved", "call_id", callID, "success", success, "attempts", call.Attempts)
	evt := events.PendingCallResolvedV1{
		CallID:     call.ID.String(),
		ClinicID:   call.ClinicID.String(),
		PatientID:  call.PatientID.String(),
		Success:    success,
		ResolvedAt: now,
	}
	if call.ContractID != nil {
		evt.ContractID = call.ContractID.String()
	}
	s.deps.publish(ctx, call.ClinicID.String(), evt)
	return call, nil
}

// ListPendingCalls returns open calls of a clinic scheduled at or before before.
// A zero before means now.
func (s *PendingCallService) ListPendingCalls(ctx context.Context, clinicID uuid.UUID, before time.Time) ([]PendingCall, error) {
	if before.IsZero() {
		before = s.deps.Calendar.CurrentTime()
	}
	calls, err := s.deps.Calls.ListPendingCalls(ctx, PendingCallFilter{ClinicID: clinicID, Before: before})
	if err != nil {
		return nil, fmt.Errorf("collections: list pending calls: %w", err)
	}
	return calls, nil
}
