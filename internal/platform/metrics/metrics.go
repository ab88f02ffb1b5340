// Package metrics holds all Prometheus metrics for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	CyclesRun            *prometheus.CounterVec
	CandidatesDetected   *prometheus.CounterVec
	EscalationsRaised    *prometheus.CounterVec
	NotificationsCreated *prometheus.CounterVec
	NotificationsSent    prometheus.Counter
	DeliveryRetries      prometheus.Counter
	DeadLetters          prometheus.Counter
	DigestFlushes        prometheus.Counter
	RateLimitDeferrals   *prometheus.CounterVec
	CycleDuration        *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		CyclesRun: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_cycles_run_total",
			Help: "Detection and delivery cycles executed, by job name and outcome",
		}, []string{"job", "outcome"}),
		CandidatesDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_candidates_detected_total",
			Help: "At-risk candidates produced by detectors, by domain",
		}, []string{"domain"}),
		EscalationsRaised: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_escalations_raised_total",
			Help: "Escalation level raises recorded, by domain and new level",
		}, []string{"domain", "level"}),
		NotificationsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_notifications_created_total",
			Help: "Notification rows created, by initial status",
		}, []string{"status"}),
		NotificationsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_notifications_sent_total",
			Help: "Notifications confirmed sent by the delivery channel",
		}),
		DeliveryRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_delivery_retries_total",
			Help: "Delivery attempts rescheduled after a transient failure",
		}),
		DeadLetters: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_dead_letters_total",
			Help: "Notifications moved to the dead-letter store",
		}),
		DigestFlushes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_digest_flushes_total",
			Help: "Digest summary messages delivered",
		}),
		RateLimitDeferrals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_rate_limit_deferrals_total",
			Help: "Notifications deferred by the rate limiter, by reason",
		}, []string{"reason"}),
		CycleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_cycle_duration_seconds",
			Help:    "Wall time of one cycle run",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
}
