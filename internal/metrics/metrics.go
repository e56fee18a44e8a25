package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and histograms for the security services. All metrics are
// registered on the default registry and served from /metrics.
var (
	MFAVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustgate_mfa_verifications_total",
		Help: "MFA verification attempts by method and outcome.",
	}, []string{"method", "outcome"})

	WebAuthnCeremonies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustgate_webauthn_ceremonies_total",
		Help: "Completed WebAuthn ceremonies by kind and outcome.",
	}, []string{"ceremony", "outcome"})

	PermissionChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustgate_rbac_permission_checks_total",
		Help: "Permission checks by outcome.",
	}, []string{"outcome"})

	LoginRiskScore = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trustgate_threat_login_risk_score",
		Help:    "Login risk scores by blocked outcome.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	}, []string{"blocked"})

	AnomalyConfidence = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trustgate_threat_anomaly_confidence",
		Help:    "Behavior anomaly confidence by anomalous outcome.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	}, []string{"anomalous"})

	SecurityEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustgate_security_events_total",
		Help: "Security events recorded by category.",
	}, []string{"category"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trustgate_http_request_duration_seconds",
		Help:    "HTTP request latency by method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)
