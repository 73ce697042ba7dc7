package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Section outcome label values.
const (
	OutcomeGated    = "gated"
	OutcomeCopy     = "copy"
	OutcomeMatched  = "matched"
	OutcomeEmpty    = "empty"
	OutcomeDegraded = "degraded"
)

// Metrics contains all Prometheus metrics for the submission dedup service.
// Metrics are organized by subsystem: sections, similarity, decisions, events and HTTP.
type Metrics struct {
	// SectionsComputed counts detect-duplicate sections computed, labeled by outcome.
	SectionsComputed *prometheus.CounterVec

	// MatchesPerSection observes the number of matches in sections that ran detection.
	MatchesPerSection prometheus.Histogram

	// SimilarityDuration observes similarity engine query duration in seconds.
	SimilarityDuration prometheus.Histogram

	// SimilarityFailures counts failed similarity queries, labeled by error kind.
	SimilarityFailures *prometheus.CounterVec

	// DecisionsRecorded counts persisted workflow decisions, labeled by decision.
	DecisionsRecorded *prometheus.CounterVec

	// DecisionsFailed counts rejected or failed decision writes, labeled by reason.
	DecisionsFailed *prometheus.CounterVec

	// EventsPublished counts decision events written to the message bus.
	EventsPublished prometheus.Counter

	// EventsFailed counts decision events that could not be published.
	EventsFailed prometheus.Counter

	// HTTPRequests counts HTTP requests, labeled by route, method and status code.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration observes HTTP request duration in seconds, labeled by route and method.
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance registered with the default registry.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance registered with reg.
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SectionsComputed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sections_computed_total",
			Help:      "Total number of detect-duplicate sections computed",
		}, []string{"outcome"}),
		MatchesPerSection: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matches_per_section",
			Help:      "Distribution of potential duplicates per section",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 25, 50},
		}),
		SimilarityDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "similarity_query_duration_seconds",
			Help:      "Duration of similarity engine queries in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SimilarityFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "similarity_failures_total",
			Help:      "Total number of failed similarity engine queries",
		}, []string{"kind"}),
		DecisionsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_recorded_total",
			Help:      "Total number of workflow decisions recorded",
		}, []string{"decision"}),
		DecisionsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_failed_total",
			Help:      "Total number of workflow decisions that were not recorded",
		}, []string{"reason"}),
		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of decision events published",
		}),
		EventsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Total number of decision events that failed to publish",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// RecordSection records a computed section and, when detection ran, its match count.
func (m *Metrics) RecordSection(outcome string, matchCount int) {
	m.SectionsComputed.WithLabelValues(outcome).Inc()
	if outcome == OutcomeMatched || outcome == OutcomeEmpty {
		m.MatchesPerSection.Observe(float64(matchCount))
	}
}

// RecordSimilarityQuery records the duration of a similarity query.
func (m *Metrics) RecordSimilarityQuery(durationSeconds float64) {
	m.SimilarityDuration.Observe(durationSeconds)
}

// RecordSimilarityFailure records a failed similarity query.
func (m *Metrics) RecordSimilarityFailure(kind string) {
	m.SimilarityFailures.WithLabelValues(kind).Inc()
}

// RecordDecision records a persisted decision.
func (m *Metrics) RecordDecision(decision string) {
	m.DecisionsRecorded.WithLabelValues(decision).Inc()
}

// RecordDecisionFailure records a decision that was not persisted.
func (m *Metrics) RecordDecisionFailure(reason string) {
	m.DecisionsFailed.WithLabelValues(reason).Inc()
}

// RecordEventPublished records a published decision event.
func (m *Metrics) RecordEventPublished() {
	m.EventsPublished.Inc()
}

// RecordEventFailed records a decision event that failed to publish.
func (m *Metrics) RecordEventFailed() {
	m.EventsFailed.Inc()
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(route, method, status string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(route, method, status).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(durationSeconds)
}
