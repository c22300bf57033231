package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "affiliate"

// Metrics is the process-scoped collector set. It is built once in main
// and passed to every component that records something; a nil *Metrics
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	redirectLookups  *prometheus.CounterVec
	redirectDuration prometheus.Histogram

	clicksRecorded     prometheus.Counter
	clicksDropped      *prometheus.CounterVec
	clicksFraudFlagged *prometheus.CounterVec
	clickQueueDepth    prometheus.Gauge

	webhookEvents      *prometheus.CounterVec
	webhookDuplicates  *prometheus.CounterVec
	webhookFailures    *prometheus.CounterVec
	signatureRejected  *prometheus.CounterVec
	attributionResults *prometheus.CounterVec

	outboxResults *prometheus.CounterVec
	cacheErrors   *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		}),

		redirectLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirect_lookups_total",
			Help:      "Redirect resolutions by cache result (hit, miss, not_found, error).",
		}, []string{"result"}),
		redirectDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "redirect_resolve_duration_seconds",
			Help:      "Time spent resolving a slug.",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),

		clicksRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicks_recorded_total",
			Help:      "Clicks persisted to the store.",
		}),
		clicksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicks_dropped_total",
			Help:      "Clicks that were not persisted, by reason.",
		}, []string{"reason"}),
		clicksFraudFlagged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicks_fraud_flagged_total",
			Help:      "Clicks carrying a fraud signal, by signal.",
		}, []string{"signal"}),
		clickQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "click_queue_depth",
			Help:      "Clicks waiting in the recorder queue.",
		}),

		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook events processed, by source and outcome.",
		}, []string{"source", "outcome"}),
		webhookDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_duplicates_total",
			Help:      "Webhook deliveries detected as duplicates.",
		}, []string{"source"}),
		webhookFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_failures_total",
			Help:      "Webhook deliveries that failed and were left for sender retry.",
		}, []string{"source"}),
		signatureRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_signature_rejected_total",
			Help:      "Webhook deliveries rejected by signature verification.",
		}, []string{"source"}),
		attributionResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attribution_results_total",
			Help:      "Attribution results (converted, no_match, order_exists).",
		}, []string{"result"}),

		outboxResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_messages_total",
			Help:      "Outbox publish attempts by result (sent, retry, dead).",
		}, []string{"result"}),
		cacheErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Swallowed cache errors by operation.",
		}, []string{"op"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) HTTPInFlight(delta float64) {
	if m == nil {
		return
	}
	m.httpInFlight.Add(delta)
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) RecordRedirect(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.redirectLookups.WithLabelValues(result).Inc()
	m.redirectDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordClickRecorded() {
	if m == nil {
		return
	}
	m.clicksRecorded.Inc()
}

func (m *Metrics) RecordClickDropped(reason string) {
	if m == nil {
		return
	}
	m.clicksDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordFraudSignal(signal string) {
	if m == nil {
		return
	}
	m.clicksFraudFlagged.WithLabelValues(signal).Inc()
}

func (m *Metrics) SetClickQueueDepth(n int) {
	if m == nil {
		return
	}
	m.clickQueueDepth.Set(float64(n))
}

func (m *Metrics) RecordWebhook(source, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) RecordWebhookDuplicate(source string) {
	if m == nil {
		return
	}
	m.webhookDuplicates.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordWebhookFailure(source string) {
	if m == nil {
		return
	}
	m.webhookFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordSignatureRejected(source string) {
	if m == nil {
		return
	}
	m.signatureRejected.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordAttribution(result string) {
	if m == nil {
		return
	}
	m.attributionResults.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordOutbox(result string) {
	if m == nil {
		return
	}
	m.outboxResults.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordCacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}
