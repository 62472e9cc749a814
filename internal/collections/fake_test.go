package collections

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-collections/internal/events"
	"github.com/wolfman30/dental-collections/internal/notify"
)

// memStore is an in-memory repository that enforces the same uniqueness
// rules as the Postgres schema.
type memStore struct {
	mu           sync.Mutex
	schedules    map[uuid.UUID]ContactSchedule
	order        []uuid.UUID
	history      []ContactHistory
	calls        map[uuid.UUID]PendingCall
	patients     map[uuid.UUID]Patient
	contracts    map[uuid.UUID]Contract
	installments map[uuid.UUID]Installment
	messages     []Message
	policies     []FlowStepPolicy
	minDays      map[uuid.UUID]int
	clinics      []uuid.UUID
	seq          time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		schedules:    make(map[uuid.UUID]ContactSchedule),
		calls:        make(map[uuid.UUID]PendingCall),
		patients:     make(map[uuid.UUID]Patient),
		contracts:    make(map[uuid.UUID]Contract),
		installments: make(map[uuid.UUID]Installment),
		minDays:      make(map[uuid.UUID]int),
	}
}

func (m *memStore) stamp() time.Time {
	m.seq += time.Millisecond
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(m.seq)
}

func (m *memStore) conflicts(row ContactSchedule) bool {
	for _, other := range m.schedules {
		if other.Status != StatusPending || other.PatientID != row.PatientID || other.Channel != row.Channel {
			continue
		}
		if other.Trigger == TriggerAutomated && row.Trigger == TriggerAutomated {
			return true
		}
		if sameUUID(other.ContractID, row.ContractID) && other.CurrentStep == row.CurrentStep &&
			sameUUID(other.InstallmentID, row.InstallmentID) {
			return true
		}
	}
	return false
}

func (m *memStore) ReplacePending(_ context.Context, req ReplaceRequest) ([]ContactSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[uuid.UUID]ContactSchedule, len(m.schedules))
	for k, v := range m.schedules {
		snapshot[k] = v
	}
	order := append([]uuid.UUID(nil), m.order...)

	if req.ApproveID != nil {
		if s, ok := m.schedules[*req.ApproveID]; ok && (s.Status == StatusPending || s.Status == StatusProcessing) {
			s.Status = StatusApproved
			m.schedules[s.ID] = s
		}
	}
	for id, s := range m.schedules {
		if s.PatientID == req.PatientID && s.Status == StatusPending && s.Trigger == TriggerAutomated {
			s.Status = StatusCancelled
			m.schedules[id] = s
		}
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerAutomated
	}
	var created []ContactSchedule
	for i, ch := range req.Channels {
		row := ContactSchedule{
			ID:            uuid.New(),
			PatientID:     req.PatientID,
			ContractID:    req.ContractID,
			ClinicID:      req.ClinicID,
			InstallmentID: req.InstallmentID,
			CurrentStep:   req.Step,
			Channel:       ch,
			ScheduledDate: req.ScheduledDate,
			Status:        StatusPending,
			Trigger:       trigger,
			AdvanceFlow:   i == 0,
			CreatedAt:     m.stamp(),
		}
		if m.conflicts(row) {
			m.schedules = snapshot
			m.order = order
			return nil, ErrScheduleConflict
		}
		m.schedules[row.ID] = row
		m.order = append(m.order, row.ID)
		created = append(created, row)
	}
	return created, nil
}

func (m *memStore) CancelPendingForPatient(_ context.Context, patientID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.schedules {
		if s.PatientID == patientID && s.Status == StatusPending && s.Trigger == TriggerAutomated {
			s.Status = StatusCancelled
			m.schedules[id] = s
			n++
		}
	}
	return n, nil
}

func (m *memStore) due(s ContactSchedule, clinicID uuid.UUID, at time.Time) bool {
	return s.ClinicID == clinicID && s.Status == StatusPending && s.Channel != notify.ChannelLetter && !s.ScheduledDate.After(at)
}

func (m *memStore) ListDueGroups(_ context.Context, f DueGroupFilter) ([]GroupKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []GroupKey
	for _, id := range m.order {
		s := m.schedules[id]
		if !m.due(s, f.ClinicID, f.DueAt) {
			continue
		}
		key := s.GroupKey()
		seen := false
		for _, k := range keys {
			if k.PatientID == key.PatientID && sameUUID(k.ContractID, key.ContractID) && k.Step == key.Step {
				seen = true
				break
			}
		}
		if !seen {
			keys = append(keys, key)
		}
		if f.Limit > 0 && len(keys) == f.Limit {
			break
		}
	}
	return keys, nil
}

// ClaimGroup flips due rows to processing under the store lock, so a second
// claimer observes nothing, as with FOR UPDATE SKIP LOCKED.
func (m *memStore) ClaimGroup(_ context.Context, key GroupKey, dueAt time.Time) ([]ContactSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claimed []ContactSchedule
	for _, id := range m.order {
		s := m.schedules[id]
		if !m.due(s, key.ClinicID, dueAt) || s.PatientID != key.PatientID ||
			!sameUUID(s.ContractID, key.ContractID) || s.CurrentStep != key.Step {
			continue
		}
		s.Status = StatusProcessing
		s.UpdatedAt = dueAt
		m.schedules[id] = s
		claimed = append(claimed, s)
	}
	return claimed, nil
}

func (m *memStore) hasHistory(h ContactHistory) bool {
	if h.ScheduleID == nil {
		return false
	}
	for _, existing := range m.history {
		if existing.ScheduleID != nil && *existing.ScheduleID == *h.ScheduleID &&
			existing.ContactType == h.ContactType && existing.AdvanceFlow == h.AdvanceFlow {
			return true
		}
	}
	return false
}

func (m *memStore) RecordOutcomes(_ context.Context, outcomes []Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range outcomes {
		m.recordOutcome(o)
	}
	return nil
}

func (m *memStore) recordOutcome(o Outcome) {
	h := ContactHistory{
		ID:          uuid.New(),
		ScheduleID:  uuidPtr(o.Schedule.ID),
		PatientID:   o.Schedule.PatientID,
		ContractID:  o.Schedule.ContractID,
		ClinicID:    o.Schedule.ClinicID,
		MessageID:   o.MessageID,
		ContactType: o.Schedule.Channel,
		Step:        o.Schedule.CurrentStep,
		SentAt:      o.SentAt,
		Success:     o.Success,
		Observation: o.Observation,
		AdvanceFlow: o.Schedule.AdvanceFlow,
		Trigger:     o.Schedule.Trigger,
	}
	if !m.hasHistory(h) {
		m.history = append(m.history, h)
	}
	s := m.schedules[o.Schedule.ID]
	if s.Status == StatusProcessing {
		s.Status = StatusRejected
		if o.Success {
			s.Status = StatusApproved
		}
		m.schedules[s.ID] = s
	}
}

func (m *memStore) CreateManualSchedule(_ context.Context, row ContactSchedule) (*ContactSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.Status = StatusProcessing
	row.Trigger = TriggerManual
	row.AdvanceFlow = false
	row.CreatedAt = m.stamp()
	row.UpdatedAt = row.ScheduledDate
	m.schedules[row.ID] = row
	m.order = append(m.order, row.ID)
	return &row, nil
}

func (m *memStore) RejectStale(_ context.Context, clinicID uuid.UUID, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range m.order {
		s := m.schedules[id]
		if s.ClinicID != clinicID || s.Status != StatusProcessing || !s.UpdatedAt.Before(cutoff) {
			continue
		}
		m.recordOutcome(Outcome{Schedule: s, Observation: observationStale, SentAt: cutoff})
		n++
	}
	return n, nil
}

func (m *memStore) GetSchedule(_ context.Context, id uuid.UUID) (*ContactSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *memStore) ApproveSchedule(ctx context.Context, id uuid.UUID) (*ContactSchedule, error) {
	m.mu.Lock()
	s, ok := m.schedules[id]
	if ok && (s.Status == StatusPending || s.Status == StatusProcessing) {
		s.Status = StatusApproved
		m.schedules[id] = s
	}
	m.mu.Unlock()
	return m.GetSchedule(ctx, id)
}

func (m *memStore) LatestForContract(_ context.Context, patientID, contractID uuid.UUID) (*ContactSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.schedules[m.order[i]]
		if s.PatientID == patientID && s.Trigger == TriggerAutomated && s.ContractID != nil && *s.ContractID == contractID {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) Summary(_ context.Context, clinicID uuid.UUID) (*ScheduleSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := &ScheduleSummary{ClinicID: clinicID, ByStatus: map[ScheduleStatus]int{}}
	byChannel := map[notify.Channel]int{}
	for _, s := range m.schedules {
		if s.ClinicID != clinicID {
			continue
		}
		sum.ByStatus[s.Status]++
		byChannel[s.Channel]++
	}
	for _, ch := range notify.AllChannels {
		if n := byChannel[ch]; n > 0 {
			sum.ByChannel = append(sum.ByChannel, ChannelCount{Channel: ch, Count: n})
		}
	}
	return sum, nil
}

func (m *memStore) UpsertPendingCall(_ context.Context, call PendingCall) (*PendingCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c.Status == CallPending && c.PatientID == call.PatientID &&
			sameUUID(c.ContractID, call.ContractID) && c.CurrentStep == call.CurrentStep {
			return &c, nil
		}
	}
	call.ID = uuid.New()
	call.Status = CallPending
	call.CreatedAt = m.stamp()
	m.calls[call.ID] = call
	return &call, nil
}

func (m *memStore) ResolvePendingCall(_ context.Context, req ResolveCallRequest) (*PendingCall, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[req.CallID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if c.Status != CallPending {
		return &c, false, nil
	}
	c.Status = CallFailed
	if req.Success {
		c.Status = CallDone
	}
	c.Attempts++
	at := req.ResolvedAt
	c.LastAttemptAt = &at
	c.ResultNotes = req.Notes
	advance := false
	if c.ScheduleID != nil {
		if s, ok := m.schedules[*c.ScheduleID]; ok {
			advance = !s.AdvanceFlow
		}
	}
	h := ContactHistory{
		ID:            uuid.New(),
		ScheduleID:    c.ScheduleID,
		PendingCallID: uuidPtr(c.ID),
		PatientID:     c.PatientID,
		ContractID:    c.ContractID,
		ClinicID:      c.ClinicID,
		ContactType:   notify.ChannelPhoneCall,
		Step:          c.CurrentStep,
		SentAt:        at,
		Success:       req.Success,
		Observation:   req.Notes,
		AdvanceFlow:   advance,
		Trigger:       TriggerManual,
	}
	if m.hasHistory(h) {
		return nil, false, errors.New("duplicate key value violates unique constraint")
	}
	m.calls[c.ID] = c
	m.history = append(m.history, h)
	return &c, true, nil
}

func (m *memStore) ListPendingCalls(_ context.Context, f PendingCallFilter) ([]PendingCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingCall
	for _, c := range m.calls {
		if c.ClinicID == f.ClinicID && c.Status == CallPending && !c.ScheduledAt.After(f.Before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *memStore) GetMessage(_ context.Context, ch notify.Channel, step int, clinicID uuid.UUID) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var fallback *Message
	for i := range m.messages {
		msg := m.messages[i]
		if msg.Channel != ch || msg.Step != step {
			continue
		}
		if msg.ClinicID != nil && *msg.ClinicID == clinicID {
			return &msg, nil
		}
		if msg.ClinicID == nil && msg.IsDefault && fallback == nil {
			fallback = &msg
		}
	}
	return fallback, nil
}

func (m *memStore) GetMessageByID(_ context.Context, id uuid.UUID) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			return &msg, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *memStore) GetContract(_ context.Context, id uuid.UUID) (*Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *memStore) CurrentInstallment(_ context.Context, contractID uuid.UUID) (*Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Installment
	for _, inst := range m.installments {
		if inst.ContractID != contractID || inst.Received {
			continue
		}
		if best == nil || inst.DueDate.Before(best.DueDate) {
			cp := inst
			best = &cp
		}
	}
	return best, nil
}

func (m *memStore) GetInstallment(_ context.Context, id uuid.UUID) (*Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.installments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &inst, nil
}

func (m *memStore) MinDaysOverdue(_ context.Context, clinicID uuid.UUID) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.minDays[clinicID]
	return d, ok, nil
}

func (m *memStore) ListActiveClinics(context.Context) ([]uuid.UUID, error) {
	return m.clinics, nil
}

func (m *memStore) ListPolicies(context.Context) ([]FlowStepPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FlowStepPolicy(nil), m.policies...), nil
}

// test helpers

func (m *memStore) pendingAutomated(patientID uuid.UUID) map[notify.Channel]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[notify.Channel]int{}
	for _, s := range m.schedules {
		if s.PatientID == patientID && s.Status == StatusPending && s.Trigger == TriggerAutomated {
			out[s.Channel]++
		}
	}
	return out
}

func (m *memStore) pendingRows(patientID uuid.UUID) []ContactSchedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ContactSchedule
	for _, id := range m.order {
		s := m.schedules[id]
		if s.PatientID == patientID && s.Status == StatusPending {
			out = append(out, s)
		}
	}
	return out
}

func (m *memStore) status(id uuid.UUID) ScheduleStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedules[id].Status
}

func (m *memStore) pendingCallCount(patientID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.PatientID == patientID && c.Status == CallPending {
			n++
		}
	}
	return n
}

func (m *memStore) historyRows() []ContactHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ContactHistory(nil), m.history...)
}

// recordingNotifier counts sends and returns err for every call.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.CanonicalEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, evt events.CanonicalEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) ofType(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

type recordingMetrics struct {
	mu     sync.Mutex
	groups map[string]int
	sends  int
}

func (r *recordingMetrics) ObserveNotification(string, string, bool) {
	r.mu.Lock()
	r.sends++
	r.mu.Unlock()
}

func (r *recordingMetrics) ObserveFlow(string, bool, float64) {}

func (r *recordingMetrics) ObserveGroup(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.groups == nil {
		r.groups = map[string]int{}
	}
	r.groups[outcome]++
}

var errBoom = errors.New("boom")
