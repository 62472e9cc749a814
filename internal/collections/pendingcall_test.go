package collections

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-collections/internal/events"
	"github.com/wolfman30/dental-collections/internal/notify"
)

func TestResolvePendingCallOnce(t *testing.T) {
	f := newFixture(t, day(-15))
	ctx := context.Background()
	_, err := f.engine.Scheduling.ScheduleInitial(ctx, f.patientID, f.contractID)
	require.NoError(t, err)
	_, err = f.engine.Processor.ProcessGroup(ctx, f.groupKey(3))
	require.NoError(t, err)

	calls, err := f.engine.Calls.ListPendingCalls(ctx, f.clinicID, time.Time{})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, 3, call.CurrentStep)

	resolved, err := f.engine.Calls.ResolvePendingCall(ctx, call.ID, true, "paciente prometeu pagar")
	require.NoError(t, err)
	assert.Equal(t, CallDone, resolved.Status)
	assert.Equal(t, 1, resolved.Attempts)
	require.NotNil(t, resolved.LastAttemptAt)

	again, err := f.engine.Calls.ResolvePendingCall(ctx, call.ID, false, "segunda tentativa")
	require.NoError(t, err)
	assert.Equal(t, CallDone, again.Status)
	assert.Equal(t, 1, again.Attempts)
	assert.Equal(t, 1, f.pub.ofType(events.PendingCallResolvedV1{}.EventType()))

	require.NotNil(t, call.ScheduleID)
	var resolutions, escalations int
	for _, h := range f.store.historyRows() {
		require.NotNil(t, h.ScheduleID)
		assert.Equal(t, *call.ScheduleID, *h.ScheduleID)
		if h.PendingCallID == nil {
			escalations++
			assert.True(t, h.AdvanceFlow)
			continue
		}
		resolutions++
		assert.Equal(t, notify.ChannelPhoneCall, h.ContactType)
		assert.Equal(t, "paciente prometeu pagar", h.Observation)
		assert.Equal(t, TriggerManual, h.Trigger)
		assert.False(t, h.AdvanceFlow, "resolution takes the flag the escalation left free")
	}
	assert.Equal(t, 1, escalations)
	assert.Equal(t, 1, resolutions)

	calls, err = f.engine.Calls.ListPendingCalls(ctx, f.clinicID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestListPendingCallsHonoursCutoff(t *testing.T) {
	f := newFixture(t, day(-15))
	ctx := context.Background()
	_, err := f.engine.Scheduling.ScheduleInitial(ctx, f.patientID, f.contractID)
	require.NoError(t, err)
	_, err = f.engine.Processor.ProcessGroup(ctx, f.groupKey(3))
	require.NoError(t, err)

	calls, err := f.engine.Calls.ListPendingCalls(ctx, f.clinicID, testNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestResolveUnknownCall(t *testing.T) {
	f := newFixture(t, day(-15))
	_, err := f.engine.Calls.ResolvePendingCall(context.Background(), f.patientID, true, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveManualEscalationLinksManualRow(t *testing.T) {
	f := newFixture(t, day(-3))
	ctx := context.Background()
	_, err := f.engine.Scheduling.ScheduleInitial(ctx, f.patientID, f.contractID)
	require.NoError(t, err)

	res, err := f.engine.Manual.SendManual(ctx, ManualRequest{PatientID: f.patientID, ContractID: f.contractID, Channel: notify.ChannelPhoneCall})
	require.NoError(t, err)
	require.NotNil(t, res.PendingCallID)

	_, err = f.engine.Calls.ResolvePendingCall(ctx, *res.PendingCallID, false, "caixa postal")
	require.NoError(t, err)

	hist := f.store.historyRows()
	require.Len(t, hist, 2)
	for _, h := range hist {
		require.NotNil(t, h.ScheduleID)
		assert.Equal(t, res.ScheduleID, *h.ScheduleID)
		assert.Equal(t, TriggerManual, h.Trigger)
	}
	assert.NotEqual(t, hist[0].AdvanceFlow, hist[1].AdvanceFlow)
}
