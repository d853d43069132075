package storage

import (
	"github.com/flipkart-incubator/dkvbench/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
)

// Operation labels used on storage metrics.
const (
	OpPut = "put"
	OpGet = "get"
)

// Stat holds the Prometheus instruments shared by every engine.
type Stat struct {
	RequestLatency *prometheus.HistogramVec
	ResponseError  *prometheus.CounterVec
}

// NewStat creates the latency and error instruments for the given
// engine and registers them on the registerer.
func NewStat(registry prometheus.Registerer, engine string) *Stat {
	stat := &Stat{
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: stats.Namespace,
			Subsystem: engine,
			Name:      "latency_seconds",
			Help:      "Latency of storage operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 20),
		}, []string{"op"}),
		ResponseError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: stats.Namespace,
			Subsystem: engine,
			Name:      "errors_total",
			Help:      "Number of failed storage operations",
		}, []string{"op"}),
	}
	registry.MustRegister(stat.RequestLatency, stat.ResponseError)
	return stat
}

// Unregister removes the instruments from the registerer.
func (s *Stat) Unregister(registry prometheus.Registerer) {
	registry.Unregister(s.RequestLatency)
	registry.Unregister(s.ResponseError)
}
