package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.StreamConnect(true)
	m.StreamConnect(false)
	m.StreamConnect(false)
	m.Poll("empty", 0.01)
	m.Delivered("metrics")
	m.ListenerPanic()
	m.FinalFetch(true)
	m.SetActiveSessions(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamConnects.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.streamConnects.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.listenerPanics))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeSessions))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.StreamConnect(true)
	m.StreamFrame("stale")
	m.Poll("data", 1)
	m.Delivered("summary")
	m.ListenerPanic()
	m.FinalFetch(false)
	m.SetActiveSessions(1)
	assert.Nil(t, m.Registry())
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.FinalFetch(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "stressmon_final_result_fetches_total")
}

func TestTwoInstancesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
