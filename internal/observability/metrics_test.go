package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetricsWithRegistry("test_submission_dedup", prometheus.NewRegistry())
}

func TestNewMetrics(t *testing.T) {
	// promauto registers on the default registry, so the namespace must be unique.
	m := NewMetrics("test_submission_dedup_default")

	assert.NotNil(t, m.SectionsComputed)
	assert.NotNil(t, m.MatchesPerSection)
	assert.NotNil(t, m.SimilarityDuration)
	assert.NotNil(t, m.SimilarityFailures)
	assert.NotNil(t, m.DecisionsRecorded)
	assert.NotNil(t, m.DecisionsFailed)
	assert.NotNil(t, m.EventsPublished)
	assert.NotNil(t, m.EventsFailed)
	assert.NotNil(t, m.HTTPRequests)
	assert.NotNil(t, m.HTTPDuration)
}

func TestRecordSection(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSection(OutcomeMatched, 2)
	m.RecordSection(OutcomeEmpty, 0)
	m.RecordSection(OutcomeGated, 0)
	m.RecordSection(OutcomeDegraded, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SectionsComputed.WithLabelValues(OutcomeMatched)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SectionsComputed.WithLabelValues(OutcomeGated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SectionsComputed.WithLabelValues(OutcomeDegraded)))

	// Only sections that ran detection contribute to the match histogram.
	count, err := getHistogramSampleCount(m.MatchesPerSection)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestRecordSimilarity(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSimilarityQuery(0.02)
	m.RecordSimilarityFailure("timeout")
	m.RecordSimilarityFailure("timeout")

	count, err := getHistogramSampleCount(m.SimilarityDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SimilarityFailures.WithLabelValues("timeout")))
}

func TestRecordDecisions(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordDecision("verify")
	m.RecordDecision("reject")
	m.RecordDecision("reject")
	m.RecordDecisionFailure("forbidden")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsRecorded.WithLabelValues("verify")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecisionsRecorded.WithLabelValues("reject")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsFailed.WithLabelValues("forbidden")))
}

func TestRecordEvents(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordEventPublished()
	m.RecordEventFailed()
	m.RecordEventFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsFailed))
}

func TestRecordHTTPRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordHTTPRequest("/api/workflow/workflowitems/{id}", "PATCH", "200", 0.1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/workflow/workflowitems/{id}", "PATCH", "200")))
}

// getHistogramSampleCount extracts the sample count from a histogram.
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var metric = &dto.Metric{}
	if err := m.Write(metric); err != nil {
		return 0, err
	}

	return metric.Histogram.GetSampleCount(), nil
}
