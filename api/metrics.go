package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warp/reporting-engine/obligation"
)

// =============================================================================
// PROMETHEUS METRICS
// =============================================================================

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reporting_http_requests_total",
			Help: "Total HTTP requests by route pattern and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reporting_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reporting_transitions_total",
			Help: "Applied period transitions by event and resulting state",
		},
		[]string{"event", "to"},
	)

	periodsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reporting_periods_generated_total",
			Help: "Periods inserted by generation runs",
		},
		[]string{"obligation_id"},
	)

	conflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reporting_concurrent_modifications_total",
			Help: "Writes rejected because the period changed since it was read",
		},
	)

	alertsDerived = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reporting_alerts",
			Help: "Alerts returned by the last derivation, by severity",
		},
		[]string{"severity"},
	)

	authzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reporting_authz_decisions_total",
			Help: "Authorization decisions by role, action and outcome",
		},
		[]string{"role", "action", "decision"},
	)

	schedulerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reporting_scheduler_runs_total",
			Help: "Rolling-horizon generation runs by outcome",
		},
		[]string{"outcome"},
	)
)

// MetricsObserver feeds engine outcomes into prometheus.
type MetricsObserver struct{}

var _ obligation.Observer = MetricsObserver{}

func (MetricsObserver) PeriodsGenerated(id obligation.ObligationID, n int) {
	periodsGeneratedTotal.WithLabelValues(string(id)).Add(float64(n))
}

func (MetricsObserver) TransitionApplied(rec obligation.TransitionRecord) {
	transitionsTotal.WithLabelValues(string(rec.Event), string(rec.To)).Inc()
}

func (MetricsObserver) ConflictDetected(obligation.PeriodID) {
	conflictsTotal.Inc()
}

func recordAlerts(alerts []obligation.Alert) {
	counts := map[obligation.Severity]int{
		obligation.SeverityCritical: 0,
		obligation.SeverityWarning:  0,
		obligation.SeverityInfo:     0,
	}
	for _, a := range alerts {
		counts[a.Severity]++
	}
	for sev, n := range counts {
		alertsDerived.WithLabelValues(string(sev)).Set(float64(n))
	}
}

func recordAuthzDecision(role obligation.Role, action string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	authzDecisionsTotal.WithLabelValues(string(role), action, decision).Inc()
}

func recordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
