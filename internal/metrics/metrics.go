package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Authentication metrics
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcore_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"outcome"},
	)

	LockedAccounts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustcore_account_lockouts_total",
			Help: "Total number of account lockouts",
		},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustcore_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
	)

	IPBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustcore_ip_blocks_total",
			Help: "Total number of source address blocks applied",
		},
	)

	// Event pipeline metrics
	SecurityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcore_security_events_total",
			Help: "Total number of security events recorded",
		},
		[]string{"type"},
	)

	// Incident response metrics
	IncidentsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcore_incidents_total",
			Help: "Total number of incidents created",
		},
		[]string{"playbook"},
	)

	StepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcore_incident_step_failures_total",
			Help: "Total number of failed playbook steps",
		},
		[]string{"action"},
	)

	// Alert fan-out metrics
	AlertsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcore_alerts_published_total",
			Help: "Total number of alerts published to operators",
		},
		[]string{"threat_level"},
	)

	AlertConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trustcore_alert_connections",
			Help: "Number of registered alert connections",
		},
	)

	AlertsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustcore_alerts_dropped_total",
			Help: "Total number of alerts dropped due to slow connections",
		},
	)
)
