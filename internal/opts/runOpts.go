package opts

import (
	"time"

	"github.com/flipkart-incubator/dkvbench/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// RunOpts is a wrapper structure for all things related to cross-cutting concerns of a benchmark
// run. Tools (e.g. logger, metric handlers) shared by the storage engine and the write tasks
// should be wrapped in this struct.
type RunOpts struct {
	StatsCli           stats.Client
	Logger             *zap.Logger
	PrometheusRegistry prometheus.Registerer
	Counters           *stats.Registry
}

// DefaultStatsPublishInterval is how often the counters are pushed to StatsD.
const DefaultStatsPublishInterval = time.Second

// NewRunOpts returns options with no-op metric handlers and a
// fresh counter registry.
func NewRunOpts(lgr *zap.Logger) *RunOpts {
	if lgr == nil {
		lgr = zap.NewNop()
	}
	return &RunOpts{
		StatsCli:           stats.NewNoOpClient(),
		Logger:             lgr,
		PrometheusRegistry: stats.NewPrometheusNoopRegistry(),
		Counters:           stats.NewRegistry(),
	}
}
