package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets     = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	deliveryDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	bodySizeBuckets         = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Submission lifecycle metrics
	SubmissionsCreatedTotal *prometheus.CounterVec
	StateTransitionsTotal   *prometheus.CounterVec
	TokenRejectionsTotal    *prometheus.CounterVec
	ExpirationsTotal        *prometheus.CounterVec
	ValidationFailuresTotal *prometheus.CounterVec
	ReviewDecisionsTotal    *prometheus.CounterVec

	// Delivery metrics
	DeliveryAttemptsTotal  *prometheus.CounterVec
	DeliveryDuration       *prometheus.HistogramVec
	DeliveryExhaustedTotal *prometheus.CounterVec

	// Upload metrics
	UploadsRequestedTotal *prometheus.CounterVec
	UploadOutcomesTotal   *prometheus.CounterVec

	// System metrics
	IntakesLoaded      prometheus.Gauge
	EventsEmittedTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formbridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formbridge_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formbridge_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Submission lifecycle
		SubmissionsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_submissions_created_total",
			Help: "Total number of submissions created.",
		}, []string{"intake_id"}),
		StateTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_state_transitions_total",
			Help: "Total number of submission state transitions.",
		}, []string{"intake_id", "to_state"}),
		TokenRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_token_rejections_total",
			Help: "Total number of requests rejected for a stale resume token.",
		}, []string{"operation"}),
		ExpirationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_expirations_total",
			Help: "Total number of submissions expired.",
		}, []string{"intake_id", "trigger"}),
		ValidationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_validation_failures_total",
			Help: "Total number of failed validation passes.",
		}, []string{"intake_id"}),
		ReviewDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_review_decisions_total",
			Help: "Total number of review decisions.",
		}, []string{"intake_id", "decision"}),

		// Delivery
		DeliveryAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_delivery_attempts_total",
			Help: "Total number of webhook delivery attempts.",
		}, []string{"intake_id", "outcome"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formbridge_delivery_duration_seconds",
			Help:    "Webhook request duration in seconds.",
			Buckets: deliveryDurationBuckets,
		}, []string{"intake_id"}),
		DeliveryExhaustedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_delivery_exhausted_total",
			Help: "Total number of delivery sequences that ran out of attempts.",
		}, []string{"intake_id"}),

		// Uploads
		UploadsRequestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_uploads_requested_total",
			Help: "Total number of upload grants issued.",
		}, []string{"intake_id"}),
		UploadOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_upload_outcomes_total",
			Help: "Total number of confirmed upload outcomes.",
		}, []string{"intake_id", "status"}),

		// System
		IntakesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formbridge_intakes_loaded",
			Help: "Number of loaded intake definitions.",
		}),
		EventsEmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_events_emitted_total",
			Help: "Total number of audit events emitted.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Submission lifecycle
		m.SubmissionsCreatedTotal,
		m.StateTransitionsTotal,
		m.TokenRejectionsTotal,
		m.ExpirationsTotal,
		m.ValidationFailuresTotal,
		m.ReviewDecisionsTotal,
		// Delivery
		m.DeliveryAttemptsTotal,
		m.DeliveryDuration,
		m.DeliveryExhaustedTotal,
		// Uploads
		m.UploadsRequestedTotal,
		m.UploadOutcomesTotal,
		// System
		m.IntakesLoaded,
		m.EventsEmittedTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordSubmissionCreated records a submission creation.
func (m *Metrics) RecordSubmissionCreated(intakeID string) {
	m.SubmissionsCreatedTotal.WithLabelValues(intakeID).Inc()
}

// RecordStateTransition records a submission state transition.
func (m *Metrics) RecordStateTransition(intakeID, toState string) {
	m.StateTransitionsTotal.WithLabelValues(intakeID, toState).Inc()
}

// RecordTokenRejection records a request rejected for a stale resume token.
func (m *Metrics) RecordTokenRejection(operation string) {
	m.TokenRejectionsTotal.WithLabelValues(operation).Inc()
}

// RecordExpiration records a submission expiry. Trigger is "lazy" or "sweep".
func (m *Metrics) RecordExpiration(intakeID, trigger string) {
	m.ExpirationsTotal.WithLabelValues(intakeID, trigger).Inc()
}

// RecordValidationFailure records a failed validation pass.
func (m *Metrics) RecordValidationFailure(intakeID string) {
	m.ValidationFailuresTotal.WithLabelValues(intakeID).Inc()
}

// RecordReviewDecision records an approve, reject, or changes_requested decision.
func (m *Metrics) RecordReviewDecision(intakeID, decision string) {
	m.ReviewDecisionsTotal.WithLabelValues(intakeID, decision).Inc()
}

// RecordDeliveryAttempt records one webhook delivery attempt.
func (m *Metrics) RecordDeliveryAttempt(intakeID, outcome string, duration time.Duration) {
	m.DeliveryAttemptsTotal.WithLabelValues(intakeID, outcome).Inc()
	m.DeliveryDuration.WithLabelValues(intakeID).Observe(duration.Seconds())
}

// RecordDeliveryExhausted records a delivery sequence that ran out of attempts.
func (m *Metrics) RecordDeliveryExhausted(intakeID string) {
	m.DeliveryExhaustedTotal.WithLabelValues(intakeID).Inc()
}

// RecordUploadRequested records an issued upload grant.
func (m *Metrics) RecordUploadRequested(intakeID string) {
	m.UploadsRequestedTotal.WithLabelValues(intakeID).Inc()
}

// RecordUploadOutcome records a confirmed upload outcome.
func (m *Metrics) RecordUploadOutcome(intakeID, status string) {
	m.UploadOutcomesTotal.WithLabelValues(intakeID, status).Inc()
}

// SetIntakesLoaded sets the number of loaded intake definitions.
func (m *Metrics) SetIntakesLoaded(count float64) {
	m.IntakesLoaded.Set(count)
}

// RecordEventEmitted records an audit event emission by type.
func (m *Metrics) RecordEventEmitted(eventType string) {
	m.EventsEmittedTotal.WithLabelValues(eventType).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
