package bench

import (
	"context"
	"time"

	"github.com/flipkart-incubator/dkvbench/internal/stats"
	"github.com/flipkart-incubator/dkvbench/internal/storage"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize is the number of rows written per batch.
	DefaultBatchSize = 4
	// DefaultWriteTasks is the number of concurrent write tasks.
	DefaultWriteTasks = 4
)

// BenchmarkConfig holds the parameters of a write benchmark. Nil
// optional fields are unset. It must not change during a run.
type BenchmarkConfig struct {
	ValueSize    int
	WriteOptions storage.WriteOptions
	// WriteRate is the limit on writes per second across all tasks.
	WriteRate  *uint32
	WriteTasks uint32
	// NumRows caps the rows written by all tasks together. Every
	// task may overshoot it by the batch it has in flight.
	NumRows *uint64
	// Duration caps the time each task keeps writing.
	Duration  *time.Duration
	BatchSize int
}

// DefaultConfig returns a configuration with the default number of
// tasks and batch size and no caps.
func DefaultConfig() BenchmarkConfig {
	return BenchmarkConfig{WriteTasks: DefaultWriteTasks, BatchSize: DefaultBatchSize}
}

// Validate reports every invalid field of the configuration. The
// returned error matches ErrInvalidConfig.
func (cfg *BenchmarkConfig) Validate() (err error) {
	if cfg.WriteTasks == 0 {
		err = multierr.Append(err, invalidConfig("number of write tasks must be positive"))
	}
	if cfg.BatchSize <= 0 {
		err = multierr.Append(err, invalidConfig("batch size must be positive, got %d", cfg.BatchSize))
	}
	if cfg.ValueSize < 0 {
		err = multierr.Append(err, invalidConfig("value size must not be negative, got %d", cfg.ValueSize))
	}
	if cfg.WriteRate != nil && *cfg.WriteRate == 0 {
		err = multierr.Append(err, invalidConfig("write rate must be positive when set"))
	}
	if cfg.NumRows != nil && *cfg.NumRows == 0 {
		err = multierr.Append(err, invalidConfig("number of rows must be positive when set"))
	}
	if cfg.Duration != nil && *cfg.Duration <= 0 {
		err = multierr.Append(err, invalidConfig("duration must be positive when set, got %v", *cfg.Duration))
	}
	return
}

// Result summarizes a benchmark run.
type Result struct {
	Rows    uint64
	Elapsed time.Duration
	Tasks   []TaskResult
}

// WriteBenchmark drives concurrent write tasks against a store.
type WriteBenchmark struct {
	cfg      BenchmarkConfig
	supplier KeyGeneratorSupplier
	store    storage.KVStore
	lgr      *zap.Logger
	registry *stats.Registry
	limiter  RateLimiter
}

// Option configures a WriteBenchmark.
type Option func(*WriteBenchmark)

// WithLogger is used to inject a ZAP logger instance.
func WithLogger(lgr *zap.Logger) Option {
	return func(wb *WriteBenchmark) {
		if lgr != nil {
			wb.lgr = lgr
		}
	}
}

// WithRegistry sets the registry holding the benchmark counters.
func WithRegistry(registry *stats.Registry) Option {
	return func(wb *WriteBenchmark) {
		if registry != nil {
			wb.registry = registry
		}
	}
}

// WithRateLimiter replaces the token bucket built from the write
// rate. It is only used when a write rate is configured.
func WithRateLimiter(limiter RateLimiter) Option {
	return func(wb *WriteBenchmark) {
		wb.limiter = limiter
	}
}

// NewWriteBenchmark validates the configuration and creates a
// benchmark writing through the given store.
func NewWriteBenchmark(cfg BenchmarkConfig, supplier KeyGeneratorSupplier, store storage.KVStore, opts ...Option) (*WriteBenchmark, error) {
	err := cfg.Validate()
	if supplier == nil {
		err = multierr.Append(err, invalidConfig("a key generator supplier is required"))
	}
	if store == nil {
		err = multierr.Append(err, invalidConfig("a store is required"))
	}
	if err != nil {
		return nil, err
	}
	wb := &WriteBenchmark{
		cfg:      cfg,
		supplier: supplier,
		store:    store,
		lgr:      zap.NewNop(),
		registry: stats.Default,
	}
	for _, opt := range opts {
		opt(wb)
	}
	return wb, nil
}

// Run starts the write tasks and waits for all of them to stop. The
// first task failure stops the others at their next batch and is
// returned along with the partial result.
func (wb *WriteBenchmark) Run(ctx context.Context) (*Result, error) {
	var limiter RateLimiter
	if wb.cfg.WriteRate != nil {
		if limiter = wb.limiter; limiter == nil {
			limiter = NewRateLimiter(*wb.cfg.WriteRate, wb.cfg.BatchSize)
		}
	}

	numTasks := int(wb.cfg.WriteTasks)
	wb.lgr.Info("Starting write benchmark",
		zap.Int("tasks", numTasks),
		zap.Int("valueSize", wb.cfg.ValueSize),
		zap.Bool("awaitDurable", wb.cfg.WriteOptions.AwaitDurable),
		zap.Uint32p("writeRate", wb.cfg.WriteRate),
		zap.Uint64p("numRows", wb.cfg.NumRows),
		zap.Durationp("duration", wb.cfg.Duration))

	start := time.Now()
	results := make([]TaskResult, numTasks)
	totalRows := atomic.NewUint64(0)
	grp, grpCtx := errgroup.WithContext(ctx)
	for i := 0; i < numTasks; i++ {
		task := newWriteTask(i, &wb.cfg, wb.supplier(), limiter, wb.store, totalRows, wb.registry, wb.lgr)
		grp.Go(func() (err error) {
			results[i], err = task.Run(grpCtx)
			return
		})
	}
	err := grp.Wait()

	res := &Result{Elapsed: time.Since(start), Tasks: results}
	for _, tr := range results {
		res.Rows += tr.Rows
	}
	if err != nil {
		wb.lgr.Error("Write benchmark failed", zap.Uint64("rows", res.Rows), zap.Error(err))
	} else {
		wb.lgr.Info("Write benchmark finished", zap.Uint64("rows", res.Rows), zap.Duration("elapsed", res.Elapsed))
	}
	return res, err
}
