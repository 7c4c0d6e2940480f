// Package metrics exposes the ledger's Prometheus instruments.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ledger metrics
	QuotaChecksTotal     *prometheus.CounterVec
	UsageRecordedTotal   *prometheus.CounterVec
	RecordingErrorsTotal *prometheus.CounterVec
	TransitionsTotal     *prometheus.CounterVec
	PaymentVerifyLatency *prometheus.HistogramVec
	WebhookEventsTotal   *prometheus.CounterVec
	RetryJobsTotal       *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		QuotaChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_quota_checks_total",
				Help: "Quota pre-checks by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		UsageRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_usage_recorded_total",
				Help: "Usage increments applied to storage",
			},
			[]string{"action"},
		),
		RecordingErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_recording_errors_total",
				Help: "Usage writes that failed inline, by whether they were queued for retry",
			},
			[]string{"action", "queued"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_plan_transitions_total",
				Help: "Plan transitions by direction and outcome",
			},
			[]string{"direction", "outcome"},
		),
		PaymentVerifyLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_payment_verification_seconds",
				Help:    "Payment provider verification latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_webhook_events_total",
				Help: "Payment webhook deliveries by event type and outcome",
			},
			[]string{"type", "outcome"},
		),
		RetryJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_usage_retry_jobs_total",
				Help: "Queued usage jobs handled by the reconciler",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.QuotaChecksTotal,
		m.UsageRecordedTotal,
		m.RecordingErrorsTotal,
		m.TransitionsTotal,
		m.PaymentVerifyLatency,
		m.WebhookEventsTotal,
		m.RetryJobsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) RecordQuotaCheck(action string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.QuotaChecksTotal.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) RecordUsage(action string) {
	if m == nil {
		return
	}
	m.UsageRecordedTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordRecordingError(action string, queued bool) {
	if m == nil {
		return
	}
	m.RecordingErrorsTotal.WithLabelValues(action, strconv.FormatBool(queued)).Inc()
}

func (m *Metrics) RecordTransition(direction, outcome string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(direction, outcome).Inc()
}

func (m *Metrics) RecordPaymentVerification(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.PaymentVerifyLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RecordRetryJob(outcome string) {
	if m == nil {
		return
	}
	m.RetryJobsTotal.WithLabelValues(outcome).Inc()
}
