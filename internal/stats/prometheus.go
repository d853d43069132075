package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MeasureLatency records the time elapsed since startTime in seconds.
func MeasureLatency(observer prometheus.Observer, startTime time.Time) {
	observer.Observe(time.Since(startTime).Seconds())
}

type noopRegistry struct{}

func (noopRegistry) Register(prometheus.Collector) error  { return nil }
func (noopRegistry) MustRegister(...prometheus.Collector) {}
func (noopRegistry) Unregister(prometheus.Collector) bool { return true }

// NewPrometheusNoopRegistry returns a registerer that silently
// drops every collector. Storage engines use it when no registry
// has been injected so that opening several instances in the same
// process does not fail on duplicate registration.
func NewPrometheusNoopRegistry() prometheus.Registerer {
	return noopRegistry{}
}
