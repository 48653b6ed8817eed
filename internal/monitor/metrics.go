package monitor

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tv-executor/internal/domain"
	"tv-executor/internal/order"
)

const namespace = "tvexec"

// Metrics tracks pipeline and HTTP performance. It implements order.Observer.
type Metrics struct {
	registry *prometheus.Registry

	executions   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	absorbed     *prometheus.CounterVec
	events       *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Latency feeds the /health snapshot.
	Latency *LatencyHistogram

	succeeded atomic.Uint64
	failed    atomic.Uint64
	started   time.Time
}

// New creates a metrics set on its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Signals processed, by exchange and outcome kind.",
		}, []string{"exchange", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of execution steps.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"exchange", "step", "result"}),
		absorbed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "absorbed_failures_total",
			Help:      "Failures swallowed by best-effort steps.",
		}, []string{"exchange", "step"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events published on the internal bus.",
		}, []string{"event"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Latency: NewLatencyHistogram(1000),
		started: time.Now(),
	}
	m.registry.MustRegister(
		m.executions, m.stepDuration, m.absorbed, m.events, m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WatchGauge registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) WatchGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) ObserveStep(exchange string, step order.Step, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stepDuration.WithLabelValues(exchange, string(step), result).Observe(d.Seconds())
}

func (m *Metrics) ObserveAbsorbed(exchange, step string, _ error) {
	m.absorbed.WithLabelValues(exchange, step).Inc()
}

// ObserveExecution records one pipeline run. err is nil on success.
func (m *Metrics) ObserveExecution(exchange string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(domain.KindOf(err))
		m.failed.Add(1)
	} else {
		m.succeeded.Add(1)
	}
	if exchange == "" {
		exchange = "unknown"
	}
	m.executions.WithLabelValues(exchange, outcome).Inc()
	m.Latency.RecordDuration(d)
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Snapshot is the point-in-time view rendered by /health.
type Snapshot struct {
	Succeeded uint64       `json:"succeeded"`
	Failed    uint64       `json:"failed"`
	Latency   LatencyStats `json:"latency_ms"`
	Uptime    float64      `json:"uptime"`
}

// Snapshot returns current counters and latency statistics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Succeeded: m.succeeded.Load(),
		Failed:    m.failed.Load(),
		Latency:   m.Latency.Stats(),
		Uptime:    time.Since(m.started).Seconds(),
	}
}

// LatencyHistogram keeps a sliding window of latency samples.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a window of at most size samples.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{samples: make([]float64, 0, size), maxSize: size, dirty: true}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts d to milliseconds and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg and percentiles, recomputed only after new samples.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty {
		return h.cachedStats
	}
	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}
