package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) map[string]*dto.MetricFamily {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(rec.Body)
	require.NoError(t, err)
	return families
}

func labelsOf(metric *dto.Metric) map[string]string {
	labels := make(map[string]string, len(metric.GetLabel()))
	for _, l := range metric.GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	return labels
}

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.ObserveRequest("/v1/chat/completions", "ollama", 200, 120*time.Millisecond)
	m.ObserveRateLimitDenial("team-a", "minute")
	done := m.StreamStarted()

	families := scrape(t, m)

	requests, ok := families["gateway_requests_total"]
	require.True(t, ok, "request counter must be exported")
	require.Len(t, requests.GetMetric(), 1)
	assert.Equal(t, float64(1), requests.GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, map[string]string{
		"endpoint": "/v1/chat/completions",
		"backend":  "ollama",
		"status":   "200",
	}, labelsOf(requests.GetMetric()[0]))

	duration, ok := families["gateway_request_duration_seconds"]
	require.True(t, ok)
	assert.Equal(t, uint64(1), duration.GetMetric()[0].GetHistogram().GetSampleCount())

	denials, ok := families["gateway_rate_limit_denials_total"]
	require.True(t, ok)
	assert.Equal(t, map[string]string{
		"token_label": "team-a",
		"window":      "minute",
	}, labelsOf(denials.GetMetric()[0]))

	streams, ok := families["gateway_active_streams"]
	require.True(t, ok)
	assert.Equal(t, float64(1), streams.GetMetric()[0].GetGauge().GetValue())

	done()
	families = scrape(t, m)
	assert.Equal(t, float64(0), families["gateway_active_streams"].GetMetric()[0].GetGauge().GetValue())
}

func TestMetricsIncludeRuntimeCollectors(t *testing.T) {
	families := scrape(t, New())
	_, ok := families["go_goroutines"]
	assert.True(t, ok, "runtime collectors must be registered")
}
