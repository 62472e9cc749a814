package collections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/dental-collections/internal/events"
)

// Group outcomes reported to metrics.
const (
	GroupClaimedElsewhere = "claimed_elsewhere"
	GroupAdvanced         = "advanced"
	GroupHeld             = "held"
	GroupFailed           = "failed"
)

// BatchResult summarizes one RunBatch call.
type BatchResult struct {
	ClinicID         uuid.UUID `json:"clinic_id"`
	Groups           int       `json:"groups"`
	ClaimedElsewhere int       `json:"claimed_elsewhere"`
	Advanced         int       `json:"advanced"`
	Held             int       `json:"held"`
	Failed           int       `json:"failed"`
	Sent             int       `json:"sent"`
	Stale            int64     `json:"stale"`
}

// GroupResult is the outcome of processing one group.
type GroupResult struct {
	Key       GroupKey
	Claimed   []ContactSchedule
	Outcomes  []Outcome
	Advanced  bool
	Successor []ContactSchedule
}

// BatchProcessor claims due schedule groups and delivers them.
type BatchProcessor struct {
	deps       Dependencies
	dispatch   dispatcher
	scheduling *SchedulingService
}

func NewBatchProcessor(deps Dependencies, scheduling *SchedulingService) *BatchProcessor {
	deps = deps.withDefaults()
	if scheduling == nil {
		scheduling = NewSchedulingService(deps)
	}
	return &BatchProcessor{deps: deps, dispatch: dispatcher{deps: deps}, scheduling: scheduling}
}

// RunBatch processes up to batchSize due groups of a clinic. Groups run in
// parallel up to the configured concurrency; a failing group does not stop
// the others.
func (p *BatchProcessor) RunBatch(ctx context.Context, clinicID uuid.UUID, batchSize int) (BatchResult, error) {
	result := BatchResult{ClinicID: clinicID}
	if batchSize <= 0 {
		batchSize = 100
	}
	now := p.deps.Calendar.CurrentTime()

	stale, err := p.deps.Schedules.RejectStale(ctx, clinicID, now.Add(-p.deps.StaleAfter))
	if err != nil {
		p.deps.Logger.Warn("stale processing sweep failed", "clinic_id", clinicID, "error", err)
	} else if stale > 0 {
		result.Stale = stale
		p.deps.Logger.Warn("rejected rows stuck in processing", "clinic_id", clinicID, "count", stale, "older_than", p.deps.StaleAfter)
	}

	groups, err := p.deps.Schedules.ListDueGroups(ctx, DueGroupFilter{
		ClinicID: clinicID,
		DueAt:    now,
		Limit:    batchSize,
	})
	if err != nil {
		return result, fmt.Errorf("collections: list due groups: %w", err)
	}
	result.Groups = len(groups)

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(p.deps.BatchConcurrency)
	for _, key := range groups {
		g.Go(func() error {
			res, err := p.ProcessGroup(ctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				errs = append(errs, err)
				return nil
			}
			switch {
			case len(res.Claimed) == 0:
				result.ClaimedElsewhere++
			case res.Advanced:
				result.Advanced++
			default:
				result.Held++
			}
			for _, o := range res.Outcomes {
				if o.Success && o.Schedule.Channel.Blocking() {
					result.Sent++
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	p.deps.Logger.Info("batch finished",
		"clinic_id", clinicID,
		"groups", result.Groups,
		"advanced", result.Advanced,
		"held", result.Held,
		"claimed_elsewhere", result.ClaimedElsewhere,
		"failed", result.Failed,
	)
	return result, errors.Join(errs...)
}

// ProcessGroup claims, delivers, records and, when a blocking channel
// succeeded, advances one group. An empty claim is not an error.
func (p *BatchProcessor) ProcessGroup(ctx context.Context, key GroupKey) (*GroupResult, error) {
	start := time.Now()
	log := p.deps.Logger.With("clinic_id", key.ClinicID, "patient_id", key.PatientID, "step", key.Step)
	res := &GroupResult{Key: key}

	claimed, err := p.deps.Schedules.ClaimGroup(ctx, key, p.deps.Calendar.CurrentTime())
	if err != nil {
		p.deps.Metrics.ObserveGroup(GroupFailed)
		return nil, fmt.Errorf("collections: claim group: %w", err)
	}
	if len(claimed) == 0 {
		log.Debug("group already claimed")
		p.deps.Metrics.ObserveGroup(GroupClaimedElsewhere)
		return res, nil
	}
	res.Claimed = claimed

	deliveries := make([]delivery, len(claimed))
	for i, row := range claimed {
		deliveries[i] = p.dispatch.deliver(ctx, row, ModeAutomated, nil)
		p.deps.Metrics.ObserveNotification(ModeAutomated, string(row.Channel), deliveries[i].Success)
		res.Outcomes = append(res.Outcomes, Outcome{
			Schedule:    row,
			Success:     deliveries[i].Success,
			Observation: deliveries[i].Observation,
			MessageID:   deliveries[i].MessageID,
			SentAt:      deliveries[i].At,
		})
	}

	// Claimed rows must leave processing even if the caller gave up.
	if err := p.deps.History.RecordOutcomes(context.WithoutCancel(ctx), res.Outcomes); err != nil {
		p.deps.Metrics.ObserveGroup(GroupFailed)
		p.deps.Metrics.ObserveFlow(ModeAutomated, false, time.Since(start).Seconds())
		return nil, fmt.Errorf("collections: record outcomes: %w", err)
	}

	for i, row := range claimed {
		if !deliveries[i].Sent {
			continue
		}
		evt := events.NotificationSentV1{
			ScheduleID: row.ID.String(),
			ClinicID:   row.ClinicID.String(),
			PatientID:  row.PatientID.String(),
			Channel:    string(row.Channel),
			Mode:       ModeAutomated,
			SentAt:     deliveries[i].At,
		}
		if deliveries[i].MessageID != nil {
			evt.MessageID = deliveries[i].MessageID.String()
		}
		p.deps.publish(ctx, row.ClinicID.String(), evt)
	}

	rep, ok := representative(res.Outcomes)
	if !ok {
		log.Info("no blocking channel succeeded, flow held")
		p.deps.Metrics.ObserveGroup(GroupHeld)
		p.deps.Metrics.ObserveFlow(ModeAutomated, false, time.Since(start).Seconds())
		return res, nil
	}

	_, next, err := p.scheduling.AdvanceAfterSuccess(ctx, rep.ID)
	if err != nil {
		p.deps.Metrics.ObserveGroup(GroupFailed)
		p.deps.Metrics.ObserveFlow(ModeAutomated, false, time.Since(start).Seconds())
		return nil, fmt.Errorf("collections: advance group: %w", err)
	}
	res.Advanced = true
	res.Successor = next
	p.deps.Metrics.ObserveGroup(GroupAdvanced)
	p.deps.Metrics.ObserveFlow(ModeAutomated, true, time.Since(start).Seconds())
	return res, nil
}

// representative picks the row the flow advances from: the successful
// advance_flow row when there is one, else the first successful blocking row.
// It returns false unless a blocking channel succeeded.
func representative(outcomes []Outcome) (ContactSchedule, bool) {
	var firstBlocking *ContactSchedule
	for i := range outcomes {
		o := outcomes[i]
		if o.Success && o.Schedule.Channel.Blocking() && firstBlocking == nil {
			firstBlocking = &outcomes[i].Schedule
		}
	}
	if firstBlocking == nil {
		return ContactSchedule{}, false
	}
	for _, o := range outcomes {
		if o.Success && o.Schedule.AdvanceFlow {
			return o.Schedule, true
		}
	}
	return *firstBlocking, true
}
