package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics()
	m.ObserveNode("agent", time.Millisecond, nil)
	m.ObserveNode("agent", time.Millisecond, errors.New("x"))
	m.ObserveNode("agent", time.Millisecond, nil)
	m.ObserveTool("get_weather", nil)
	m.ObserveRun("chat", nil)
	m.ObserveTracePush(errors.New("gone"))
	m.ObserveHTTP("POST", "/v1/chat", 200, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.nodeRuns.WithLabelValues("agent", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodeRuns.WithLabelValues("agent", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolRuns.WithLabelValues("get_weather", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tracePushes.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/v1/chat", "200")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveNode("a", 0, nil)
		m.ObserveRun("chat", nil)
		m.ObserveTool("t", nil)
		m.ObserveTracePush(nil)
		m.ObserveHTTP("GET", "/", 200, 0)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveRun("rag", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `llmbot_graph_runs_total{mode="rag",status="ok"} 1`)
}

func TestInitTracer(t *testing.T) {
	ctx := context.Background()
	tp, shutdown, err := InitTracer(ctx, TracingConfig{})
	require.NoError(t, err)
	require.NotNil(t, tp)
	require.NoError(t, shutdown(ctx))

	tp, shutdown, err = InitTracer(ctx, TracingConfig{Enabled: true, Endpoint: "127.0.0.1:4318", Insecure: true})
	require.NoError(t, err)
	_, span := Tracer().Start(ctx, "test")
	span.End()
	assert.NotNil(t, tp)

	sctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_ = shutdown(sctx)

	_, _, err = InitTracer(ctx, TracingConfig{})
	require.NoError(t, err)
}
