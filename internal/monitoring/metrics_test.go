package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobStarted()
		m.JobFinished("completed", time.Second)
		m.ObserveTarget(OutcomeSuccess)
		m.ObserveRecords(1, 2)
		m.ObserveFetch("local_http", time.Millisecond)
		m.LookupFailed()
		m.ObserveDelivery("ack")
	})
	assert.Nil(t, m.Registry())
	assert.NotNil(t, m.Handler())
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()
	m := NewMetrics()

	m.JobStarted()
	m.JobFinished("completed", 3*time.Second)
	m.ObserveTarget(OutcomeSuccess)
	m.ObserveTarget(OutcomeCaptcha)
	m.ObserveTarget(OutcomeCaptcha)
	m.ObserveRecords(3, 1)
	m.LookupFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.targets.WithLabelValues(OutcomeCaptcha)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.records.WithLabelValues("unique")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookupFailures))
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()
	m := NewMetrics()
	m.ObserveTarget(OutcomeSuccess)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `leadgen_targets_total{outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
