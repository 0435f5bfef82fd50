package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
)

var _ indicator.Recorder = (*Metrics)(nil)

func TestJobMetrics(t *testing.T) {
	m := NewMetrics()
	m.JobFinished(model.PeriodDaily, indicator.OutcomeComputed, 20*time.Millisecond)
	m.JobFinished(model.PeriodDaily, indicator.OutcomeComputed, 30*time.Millisecond)
	m.JobFinished(model.PeriodMonthly, indicator.OutcomeNoData, time.Millisecond)
	m.DependencyError("store")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("daily", "computed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("monthly", "no_data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dependencyErrs.WithLabelValues("store")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobFinished(model.PeriodDaily, indicator.OutcomeFailed, time.Second)
		m.DependencyError("repository")
		m.QueueMessage("ok")
		m.QueueRetry()
		m.HTTPRequest("/health", 200, time.Millisecond)
	})
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics()
	m.QueueMessage("committed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `indicator_queue_messages_total{result="committed"} 1`))
}
