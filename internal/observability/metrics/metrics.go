package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// CollectionsMetrics exposes counters/histograms for the collection engine.
type CollectionsMetrics struct {
	notificationsSent *prometheus.CounterVec
	flowRuns          *prometheus.CounterVec
	flowDuration      *prometheus.HistogramVec
	notifierLatency   *prometheus.HistogramVec
	notifierFailures  *prometheus.CounterVec
	groups            *prometheus.CounterVec
}

func NewCollectionsMetrics(reg prometheus.Registerer) *CollectionsMetrics {
	m := &CollectionsMetrics{
		notificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collections",
			Name:      "notifications_sent_total",
			Help:      "Delivery attempts by mode, channel and outcome",
		}, []string{"mode", "channel", "success"}),
		flowRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collections",
			Name:      "flow_runs_total",
			Help:      "Completed notification flows",
		}, []string{"mode", "success"}),
		flowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "collections",
			Name:      "flow_duration_seconds",
			Help:      "Wall time of a notification flow",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		notifierLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "collections",
			Name:      "notifier_request_seconds",
			Help:      "Latency of provider requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "channel"}),
		notifierFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collections",
			Name:      "notifier_failures_total",
			Help:      "Provider failures by classification",
		}, []string{"provider", "channel", "kind"}),
		groups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collections",
			Name:      "groups_total",
			Help:      "Schedule groups handled by the batch processor",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.notificationsSent, m.flowRuns, m.flowDuration, m.notifierLatency, m.notifierFailures, m.groups)
	return m
}

func (m *CollectionsMetrics) ObserveNotification(mode, channel string, success bool) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(mode, channel, strconv.FormatBool(success)).Inc()
}

func (m *CollectionsMetrics) ObserveFlow(mode string, success bool, seconds float64) {
	if m == nil {
		return
	}
	m.flowRuns.WithLabelValues(mode, strconv.FormatBool(success)).Inc()
	m.flowDuration.WithLabelValues(mode).Observe(seconds)
}

func (m *CollectionsMetrics) ObserveNotifierRequest(provider, channel string, seconds float64) {
	if m == nil {
		return
	}
	m.notifierLatency.WithLabelValues(provider, channel).Observe(seconds)
}

func (m *CollectionsMetrics) ObserveNotifierFailure(provider, channel, kind string) {
	if m == nil {
		return
	}
	m.notifierFailures.WithLabelValues(provider, channel, kind).Inc()
}

// ObserveGroup records a group outcome: processed, claimed_elsewhere or failed.
func (m *CollectionsMetrics) ObserveGroup(outcome string) {
	if m == nil {
		return
	}
	m.groups.WithLabelValues(outcome).Inc()
}
