package bench

import (
	"context"
	"io"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/flipkart-incubator/dkvbench/internal/stats"
	"go.uber.org/zap"
)

// Reporter periodically logs the write throughput observed on the
// rows_written counter and optionally renders a progress bar.
type Reporter struct {
	rows     *stats.Counter
	lgr      *zap.Logger
	interval time.Duration
	bar      *pb.ProgressBar
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithProgressBar renders a progress bar towards the given total
// number of rows on the writer.
func WithProgressBar(total uint64, out io.Writer) ReporterOption {
	return func(r *Reporter) {
		bar := pb.New64(int64(total))
		bar.SetRefreshRate(125 * time.Millisecond)
		bar.SetTemplateString(`{{counters . }} {{bar . }} {{percent . }} {{speed . }}`)
		bar.SetWriter(out)
		r.bar = bar
	}
}

// NewReporter creates a reporter over the counters of registry.
func NewReporter(registry *stats.Registry, lgr *zap.Logger, interval time.Duration, opts ...ReporterOption) *Reporter {
	if lgr == nil {
		lgr = zap.NewNop()
	}
	r := &Reporter{
		rows:     registry.Counter(stats.RowsWritten),
		lgr:      lgr,
		interval: interval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reports until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	if r.bar != nil {
		r.bar.Start()
		defer r.bar.Finish()
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	last, lastAt := r.rows.Get(), time.Now()
	for {
		select {
		case <-ctx.Done():
			r.report(last, lastAt)
			return
		case <-ticker.C:
			last, lastAt = r.report(last, lastAt)
		}
	}
}

func (r *Reporter) report(last uint64, lastAt time.Time) (uint64, time.Time) {
	now, rows := time.Now(), r.rows.Get()
	if r.bar != nil {
		r.bar.SetCurrent(int64(rows))
		return rows, now
	}
	elapsed := now.Sub(lastAt).Seconds()
	var throughput float64
	if elapsed > 0 {
		throughput = float64(rows-last) / elapsed
	}
	r.lgr.Info("Write progress", zap.Uint64("rows", rows), zap.Float64("rowsPerSec", throughput))
	return rows, now
}
