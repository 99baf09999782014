// Package metrics holds the process-wide Prometheus collectors mounted at
// /metrics on the HTTP admin surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HeaderApplyTotal counts ApplyHeader outcomes by their §4.F result
	// code, so a degrading pre/post-script rejection rate shows up without
	// grepping logs.
	HeaderApplyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beehive_header_apply_total",
			Help: "Total number of applyHeader calls by outcome code",
		},
		[]string{"code"},
	)

	// FanoutDuration tracks how long building a node's projected header/change
	// batch takes, the cost a large dataset or a wide role/module filter adds
	// to every pull.
	FanoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beehive_fanout_duration_seconds",
			Help:    "Time taken to read and project headers for a pull request",
			Buckets: prometheus.DefBuckets,
		},
	)

	// TCPConnections tracks live opcode-protocol connections.
	TCPConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beehive_tcp_connections",
			Help: "Current number of open TCP sync connections",
		},
	)
)

func init() {
	prometheus.MustRegister(HeaderApplyTotal)
	prometheus.MustRegister(FanoutDuration)
	prometheus.MustRegister(TCPConnections)
}

// Handler returns the Prometheus scrape handler, mounted at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
