package stats

import (
	"io"
	"time"

	"github.com/smira/go-statsd"
)

// Client exposes all the behavior for capturing and
// sending measurements to a metrics sink.
type Client interface {
	io.Closer
	Incr(string, int64)
	Gauge(string, int64)
	Timing(string, time.Time)
}

type noopClient struct{}

func (*noopClient) Incr(_ string, _ int64)       {}
func (*noopClient) Gauge(_ string, _ int64)      {}
func (*noopClient) Timing(_ string, _ time.Time) {}
func (*noopClient) Close() error                 { return nil }

// NewNoOpClient creates a metrics client that does
// not send any measurements.
func NewNoOpClient() Client {
	return &noopClient{}
}

// DefaultMetricPrefix is prepended to every measurement name
// unless WithMetricPrefix says otherwise.
const DefaultMetricPrefix = "dkvbench."

type statsDOpts struct {
	prefix        string
	tags          []statsd.Tag
	flushInterval time.Duration
}

// ClientOption configures the StatsD client.
type ClientOption func(*statsDOpts)

// WithMetricPrefix replaces the default metric prefix.
func WithMetricPrefix(prefix string) ClientOption {
	return func(opts *statsDOpts) {
		if prefix != "" {
			opts.prefix = prefix
		}
	}
}

// WithTag adds a tag sent along with every measurement.
func WithTag(key, val string) ClientOption {
	return func(opts *statsDOpts) {
		opts.tags = append(opts.tags, statsd.StringTag(key, val))
	}
}

// WithFlushInterval sets how often buffered measurements are
// sent to the agent.
func WithFlushInterval(interval time.Duration) ClientOption {
	return func(opts *statsDOpts) {
		opts.flushInterval = interval
	}
}

type statsDClient struct {
	cli *statsd.Client
}

// NewStatsDClient creates a metrics client that sends
// measurements to the StatsD agent at the given address.
// Tags are sent in the Datadog style.
func NewStatsDClient(statsdAddr string, cliOpts ...ClientOption) Client {
	opts := &statsDOpts{prefix: DefaultMetricPrefix}
	for _, cliOpt := range cliOpts {
		cliOpt(opts)
	}
	statsdOpts := []statsd.Option{
		statsd.TagStyle(statsd.TagFormatDatadog),
		statsd.MetricPrefix(opts.prefix),
		statsd.DefaultTags(opts.tags...),
	}
	if opts.flushInterval > 0 {
		statsdOpts = append(statsdOpts, statsd.FlushInterval(opts.flushInterval))
	}
	return &statsDClient{cli: statsd.NewClient(statsdAddr, statsdOpts...)}
}

func (sdc *statsDClient) Incr(name string, value int64) {
	sdc.cli.Incr(name, value)
}

func (sdc *statsDClient) Gauge(name string, value int64) {
	sdc.cli.Gauge(name, value)
}

func (sdc *statsDClient) Timing(name string, startTime time.Time) {
	sdc.cli.PrecisionTiming(name, time.Since(startTime))
}

func (sdc *statsDClient) Close() error {
	return sdc.cli.Close()
}
