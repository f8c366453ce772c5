package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSessionLifecycleMetrics(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordSessionStart("ok")
	m.RecordSessionReady(300 * time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionStarts.WithLabelValues("ok")))

	m.RecordSessionStop("idle", true, time.Minute)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionStops.WithLabelValues("idle")))

	m.RecordSessionStop("failed", false, time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveSessions))
}

func TestPipelineMetrics(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordProcessStart()
	m.RecordProcessStart()
	m.RecordProcessExit("consumer", 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProcessesRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProcessExits.WithLabelValues("consumer", "0")))

	m.RecordBytesPiped(1024)
	m.RecordBytesPiped(0)
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.BytesPiped))

	m.RecordFrame()
	m.RecordParseError("progress")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesEncoded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiagParseErrors.WithLabelValues("progress")))
}

func TestRecordHTTPRequest(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordHTTPRequest("GET", "/live/:key/:file", 206, 0.01)
	m.RecordHTTPRequest("GET", "/live/:key/:file", 404, 0.01)
	m.RecordHTTPRequest("POST", "/api/v1/sessions/:key/start", 504, 30)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/live/:key/:file", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/live/:key/:file", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/api/v1/sessions/:key/start", "5xx")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSessionStart("ok")
		m.RecordSessionReady(time.Second)
		m.RecordSessionStop("stop", true, time.Second)
		m.RecordFrame()
		m.RecordBytesPiped(10)
		m.RecordParseError("video")
		m.RecordProcessStart()
		m.RecordProcessExit("producer", 1)
		m.RecordChunkServed()
		m.RecordHTTPRequest("GET", "/", 200, 0)
	})
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(200))
	assert.Equal(t, "3xx", statusCodeToString(304))
	assert.Equal(t, "4xx", statusCodeToString(416))
	assert.Equal(t, "5xx", statusCodeToString(503))
	assert.Equal(t, "unknown", statusCodeToString(101))
}
