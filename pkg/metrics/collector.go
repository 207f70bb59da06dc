// Package metrics collects operation counters and query latency
// percentiles, and exposes them on a Prometheus registry.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// latencyWindow bounds the latency samples kept for percentile queries.
const latencyWindow = 16384

// Summary is a point-in-time view of the collected metrics, served by the
// JSON metrics endpoint.
type Summary struct {
	TotalQueries       uint64  `json:"total_queries"`
	TotalInserts       uint64  `json:"total_inserts"`
	TotalDeletes       uint64  `json:"total_deletes"`
	AvgQueryLatencyUs  float64 `json:"avg_query_latency_us"`
	P50QueryLatencyUs  float64 `json:"p50_query_latency_us"`
	P95QueryLatencyUs  float64 `json:"p95_query_latency_us"`
	P99QueryLatencyUs  float64 `json:"p99_query_latency_us"`
	VectorCount        int     `json:"vector_count"`
}

// Collector manages the collection of metrics
type Collector struct {
	mu sync.Mutex

	queryLatenciesUs []float64
	totalQueries     uint64
	totalInserts     uint64
	totalDeletes     uint64
	vectorCount      int

	registry     *prometheus.Registry
	queryLatency prometheus.Histogram
	queries      prometheus.Counter
	inserts      prometheus.Counter
	deletes      prometheus.Counter
	vectors      prometheus.Gauge
}

// NewCollector creates a new metrics collector with its own Prometheus
// registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		queryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fletch_query_latency_seconds",
			Help:    "Search latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16),
		}),
		queries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fletch_queries_total",
			Help: "Total number of search queries executed",
		}),
		inserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fletch_inserts_total",
			Help: "Total number of vector inserts",
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fletch_deletes_total",
			Help: "Total number of vector deletes",
		}),
		vectors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fletch_vector_count",
			Help: "Number of vectors currently stored",
		}),
	}

	c.registry.MustRegister(c.queryLatency, c.queries, c.inserts, c.deletes, c.vectors)
	return c
}

// RecordQuery records a search with its duration.
func (c *Collector) RecordQuery(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalQueries++
	us := float64(d.Microseconds())
	c.queryLatenciesUs = append(c.queryLatenciesUs, us)
	if len(c.queryLatenciesUs) > latencyWindow {
		c.queryLatenciesUs = c.queryLatenciesUs[len(c.queryLatenciesUs)-latencyWindow:]
	}

	c.queries.Inc()
	c.queryLatency.Observe(d.Seconds())
}

// RecordInsert records an insert operation.
func (c *Collector) RecordInsert() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalInserts++
	c.inserts.Inc()
}

// RecordDelete records a delete operation.
func (c *Collector) RecordDelete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalDeletes++
	c.deletes.Inc()
}

// SetVectorCount updates the stored-vector gauge.
func (c *Collector) SetVectorCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.vectorCount = n
	c.vectors.Set(float64(n))
}

// Registry returns the Prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Summary returns the current counters and latency percentiles.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		TotalQueries: c.totalQueries,
		TotalInserts: c.totalInserts,
		TotalDeletes: c.totalDeletes,
		VectorCount:  c.vectorCount,
	}

	if len(c.queryLatenciesUs) == 0 {
		return s
	}

	var sum float64
	sorted := make([]float64, len(c.queryLatenciesUs))
	copy(sorted, c.queryLatenciesUs)
	sort.Float64s(sorted)
	for _, v := range sorted {
		sum += v
	}

	s.AvgQueryLatencyUs = sum / float64(len(sorted))
	s.P50QueryLatencyUs = percentile(sorted, 50)
	s.P95QueryLatencyUs = percentile(sorted, 95)
	s.P99QueryLatencyUs = percentile(sorted, 99)
	return s
}

// percentile reads a percentile from an ascending sample slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int((p/100)*float64(len(sorted)-1) + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
