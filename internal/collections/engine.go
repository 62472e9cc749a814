package collections

import (
	"context"
	"time"

	"github.com/wolfman30/dental-collections/internal/events"
	"github.com/wolfman30/dental-collections/internal/notify"
	"github.com/wolfman30/dental-collections/internal/templates"
	"github.com/wolfman30/dental-collections/pkg/logging"
)

// Publisher receives domain events after the state change they describe has
// been committed.
type Publisher interface {
	Publish(ctx context.Context, aggregate string, evt events.CanonicalEvent) error
}

// Metrics records engine outcomes.
type Metrics interface {
	ObserveNotification(mode, channel string, success bool)
	ObserveFlow(mode string, success bool, seconds float64)
	ObserveGroup(outcome string)
}

// DefaultStaleAfter bounds how long a claim may stay unrecorded.
const DefaultStaleAfter = 30 * time.Minute

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, events.CanonicalEvent) error { return nil }

type noopMetrics struct{}

func (noopMetrics) ObserveNotification(string, string, bool) {}
func (noopMetrics) ObserveFlow(string, bool, float64)        {}
func (noopMetrics) ObserveGroup(string)                      {}

// Dependencies are the collaborators shared by the engine services.
type Dependencies struct {
	Schedules ScheduleRepository
	History   HistoryRepository
	Calls     PendingCallRepository
	Messages  MessageRepository
	Billing   BillingRepository
	Policies  PolicyRepository
	Notifiers *notify.Registry
	Renderer  templates.Renderer
	Publisher Publisher
	Metrics   Metrics
	Calendar  Calendar
	// PhoneRegion is the default region for numbers stored without a country code.
	PhoneRegion string
	// BatchConcurrency bounds how many groups RunBatch processes at once.
	BatchConcurrency int
	// StaleAfter is how long a row may sit in processing before RunBatch
	// rejects it.
	StaleAfter time.Duration
	Logger     *logging.Logger
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Publisher == nil {
		d.Publisher = noopPublisher{}
	}
	if d.Metrics == nil {
		d.Metrics = noopMetrics{}
	}
	if d.Notifiers == nil {
		d.Notifiers = notify.NewRegistry()
	}
	if d.PhoneRegion == "" {
		d.PhoneRegion = notify.DefaultRegion
	}
	if d.BatchConcurrency <= 0 {
		d.BatchConcurrency = 1
	}
	if d.StaleAfter <= 0 {
		d.StaleAfter = DefaultStaleAfter
	}
	if d.Calendar.Now == nil {
		d.Calendar.Now = time.Now
	}
	if d.Calendar.DefaultCooldownDays <= 0 {
		d.Calendar.DefaultCooldownDays = defaultCooldownDays
	}
	return d
}

func (d Dependencies) publish(ctx context.Context, clinic string, evt events.CanonicalEvent) {
	if err := d.Publisher.Publish(ctx, events.ClinicAggregate(clinic), evt); err != nil {
		d.Logger.Warn("failed to publish event", "event_type", evt.EventType(), "error", err)
	}
}

// Engine bundles the entry points of the collection flow.
type Engine struct {
	Scheduling *SchedulingService
	Processor  *BatchProcessor
	Manual     *ManualNotificationHandler
	Calls      *PendingCallService
}

func NewEngine(deps Dependencies) *Engine {
	deps = deps.withDefaults()
	scheduling := NewSchedulingService(deps)
	return &Engine{
		Scheduling: scheduling,
		Processor:  NewBatchProcessor(deps, scheduling),
		Manual:     NewManualNotificationHandler(deps),
		Calls:      NewPendingCallService(deps),
	}
}
