package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "oncall"

var (
	// EscalationsTotal counts successful escalation advances.
	EscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escalations_total",
		Help:      "Successful escalation advances by target type and resulting status.",
	}, []string{"target_type", "status"})

	// EscalationRejections counts advances refused by the state machine.
	EscalationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escalation_rejections_total",
		Help:      "Escalation advances rejected, by reason.",
	}, []string{"reason"})

	ScheduleReplacements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "schedule_replacements_total",
		Help:      "Scheduler shift replacements by source (rotation or explicit).",
	}, []string{"source"})

	OverridesPreserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "overrides_preserved_total",
		Help:      "Overrides processed during shift replacement, by result.",
	}, []string{"result"})

	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oncall_resolutions_total",
		Help:      "On-call resolutions by scope and result.",
	}, []string{"scope", "result"})

	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Notification dispatches that failed, by kind.",
	}, []string{"kind"})

	// WorkerCycleDuration tracks how long one escalation worker poll takes.
	WorkerCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "escalation_worker_cycle_seconds",
		Help:      "Duration of escalation worker polling cycles.",
		Buckets:   prometheus.DefBuckets,
	})
)
