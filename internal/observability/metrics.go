package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "llmbot"

// Metrics 持有服务的 prometheus 指标。nil *Metrics 的所有方法都是空操作。
type Metrics struct {
	registry *prometheus.Registry

	nodeRuns     *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	graphRuns    *prometheus.CounterVec
	toolRuns     *prometheus.CounterVec
	tracePushes  *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		nodeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_runs_total",
			Help:      "Graph node executions by node and status.",
		}, []string{"node", "status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Graph node execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node"}),
		graphRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_runs_total",
			Help:      "Graph walks by chatbot mode and status.",
		}, []string{"mode", "status"}),
		toolRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_runs_total",
			Help:      "Agent tool executions by tool and status.",
		}, []string{"tool", "status"}),
		tracePushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_pushes_total",
			Help:      "Live trace channel pushes by status.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.nodeRuns, m.nodeDuration, m.graphRuns, m.toolRuns, m.tracePushes,
		m.httpRequests, m.httpDuration,
	)
	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveNode(node string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.nodeRuns.WithLabelValues(node, status(err)).Inc()
	m.nodeDuration.WithLabelValues(node).Observe(d.Seconds())
}

func (m *Metrics) ObserveRun(mode string, err error) {
	if m == nil {
		return
	}
	m.graphRuns.WithLabelValues(mode, status(err)).Inc()
}

func (m *Metrics) ObserveTool(tool string, err error) {
	if m == nil {
		return
	}
	m.toolRuns.WithLabelValues(tool, status(err)).Inc()
}

func (m *Metrics) ObserveTracePush(err error) {
	if m == nil {
		return
	}
	m.tracePushes.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 暴露 /metrics。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
