// Package metrics exposes Prometheus counters and histograms for the fetch
// pipeline and the HTTP surface. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "workshop_cache"

// Metrics 持有独立的 registry，避免与全局默认 registry 相互污染。
type Metrics struct {
	registry *prometheus.Registry

	jobs             *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	outcomes         *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	liveJobs         prometheus.Gauge
}

// New 创建并注册全部指标。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Fetch jobs finished, by result",
		}, []string{"result"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "call_duration_seconds",
			Help:      "Duration of upstream calls made behind the politeness gate",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"call", "result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "requests_total",
			Help:      "Item requests, by outcome",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker",
		}),
		liveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "live_jobs",
			Help:      "Items with a live fetch job",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobs,
		m.upstreamDuration,
		m.outcomes,
		m.queueDepth,
		m.liveJobs,
	)
	return m
}

// Registry 返回底层 registry，测试中用于 Gather。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 返回 Prometheus 文本格式的 http.Handler。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// JobFinished 记录一次任务结果：ok、retry 或 dropped。
func (m *Metrics) JobFinished(result string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(result).Inc()
}

// ObserveUpstream 记录一次上游调用耗时。
func (m *Metrics) ObserveUpstream(call string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.upstreamDuration.WithLabelValues(call, result).Observe(d.Seconds())
}

// RequestOutcome 记录协调器对一次请求的判定。
func (m *Metrics) RequestOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// SetQueueDepth 更新等待队列长度。
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetLiveJobs 更新存活任务数量。
func (m *Metrics) SetLiveJobs(n int) {
	if m == nil {
		return
	}
	m.liveJobs.Set(float64(n))
}
