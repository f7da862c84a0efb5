package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciliation metrics
	ReconcileCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_reconcile_cycles_total",
			Help: "Total number of reconciliation passes by image",
		},
		[]string{"image"},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_reconcile_duration_seconds",
			Help:    "Reconciliation pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_actions_total",
			Help: "Total number of reconciliation actions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Monitor metrics
	MonitorCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_monitor_cycle_duration_seconds",
			Help:    "Monitor cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LifecycleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_lifecycle_transitions_total",
			Help: "Total number of observed lifecycle transitions by target state",
		},
		[]string{"to"},
	)

	ContainersObserved = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_containers_observed",
			Help: "Managed containers seen in the last monitor cycle by state",
		},
		[]string{"state"},
	)

	// Notification metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_notifications_total",
			Help: "Total outbound notifications by collaborator and outcome",
		},
		[]string{"collaborator", "outcome"},
	)

	NotificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_notifications_dropped_total",
			Help: "Notifications dropped because the outbound queue was full",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ReconcileCycles)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(ActionsTotal)
	prometheus.MustRegister(MonitorCycleDuration)
	prometheus.MustRegister(LifecycleTransitions)
	prometheus.MustRegister(ContainersObserved)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(NotificationsDropped)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
