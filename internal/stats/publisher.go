package stats

import (
	"context"
	"time"
)

// TotalSuffix is appended to a counter name for the gauge
// carrying its running total.
const TotalSuffix = ".total"

// Publisher periodically pushes the counters of a registry to a
// metrics Client. The increase since the previous push is sent as
// a counter and the running total as a gauge. It never blocks the
// writers incrementing the counters.
type Publisher struct {
	reg      *Registry
	cli      Client
	interval time.Duration
	last     map[string]uint64
}

// NewPublisher creates a publisher sampling the given registry
// once every interval.
func NewPublisher(reg *Registry, cli Client, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Publisher{reg: reg, cli: cli, interval: interval, last: make(map[string]uint64)}
}

// Run publishes until the context is cancelled. A final sample
// is pushed on the way out so the sink sees the end state.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.publish()
		case <-ctx.Done():
			p.publish()
			return
		}
	}
}

func (p *Publisher) publish() {
	for name, val := range p.reg.Snapshot() {
		if delta := val - p.last[name]; delta > 0 {
			p.cli.Incr(name, int64(delta))
		}
		p.last[name] = val
		p.cli.Gauge(name+TotalSuffix, int64(val))
	}
}
