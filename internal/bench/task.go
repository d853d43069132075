package bench

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/flipkart-incubator/dkvbench/internal/stats"
	"github.com/flipkart-incubator/dkvbench/internal/storage"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// TaskResult summarizes a finished write task.
type TaskResult struct {
	ID      int
	Rows    uint64
	Elapsed time.Duration
}

// WriteTask is a single writer that repeatedly writes batches of
// random rows until it is told to stop or reaches one of its caps.
type WriteTask struct {
	id        int
	cfg       *BenchmarkConfig
	keyGen    KeyGenerator
	limiter   RateLimiter
	store     storage.KVStore
	rnd       *rand.Rand
	lgr       *zap.Logger
	rows      uint64
	// rows written by every task of the benchmark
	totalRows *atomic.Uint64
	rowsCtr   *stats.Counter
	bytesCtr  *stats.Counter
	batchCtr  *stats.Counter
	errorsCtr *stats.Counter
	tokensCtr *stats.Counter
}

func newWriteTask(id int, cfg *BenchmarkConfig, keyGen KeyGenerator, limiter RateLimiter,
	store storage.KVStore, totalRows *atomic.Uint64, registry *stats.Registry, lgr *zap.Logger) *WriteTask {
	return &WriteTask{
		id:        id,
		totalRows: totalRows,
		cfg:       cfg,
		keyGen:    keyGen,
		limiter:   limiter,
		store:     store,
		rnd:       newRand(),
		lgr:       lgr.With(zap.Int("task", id)),
		rowsCtr:   registry.Counter(stats.RowsWritten),
		bytesCtr:  registry.Counter(stats.BytesWritten),
		batchCtr:  registry.Counter(stats.BatchesWritten),
		errorsCtr: registry.Counter(stats.WriteErrors),
		tokensCtr: registry.Counter(stats.RateLimiterTokens),
	}
}

// Run writes batches until ctx is done, the configured duration
// has elapsed or the tasks together have written the configured
// number of rows. Stop
// conditions are only checked between batches. The first failed
// write ends the task with a *WriteError.
func (wt *WriteTask) Run(ctx context.Context) (TaskResult, error) {
	start := time.Now()
	acquireCtx := ctx
	if wt.cfg.Duration != nil {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithDeadline(ctx, start.Add(*wt.cfg.Duration))
		defer cancel()
	}
	// a batch in flight is never interrupted
	writeCtx := context.WithoutCancel(ctx)

	for !wt.shouldStop(ctx, start) {
		if wt.limiter != nil {
			if err := wt.limiter.Acquire(acquireCtx, wt.cfg.BatchSize); err != nil {
				if acquireCtx.Err() != nil {
					break
				}
				return wt.result(start), err
			}
			wt.tokensCtr.Add(uint64(wt.cfg.BatchSize))
		}
		if err := wt.writeBatch(writeCtx); err != nil {
			wt.errorsCtr.Inc()
			wt.lgr.Error("Write failed", zap.Uint64("rows", wt.rows), zap.Error(err))
			return wt.result(start), &WriteError{TaskID: wt.id, Rows: wt.rows, Err: err}
		}
	}
	res := wt.result(start)
	wt.lgr.Debug("Write task stopped", zap.Uint64("rows", res.Rows), zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (wt *WriteTask) shouldStop(ctx context.Context, start time.Time) bool {
	switch {
	case ctx.Err() != nil:
		return true
	case wt.cfg.Duration != nil && time.Since(start) >= *wt.cfg.Duration:
		return true
	case wt.cfg.NumRows != nil && wt.totalRows.Load() >= *wt.cfg.NumRows:
		return true
	}
	return false
}

func (wt *WriteTask) writeBatch(ctx context.Context) error {
	var written uint64
	for i := 0; i < wt.cfg.BatchSize; i++ {
		key, value := wt.keyGen.NextKey(), randomBytes(wt.rnd, wt.cfg.ValueSize)
		if err := wt.store.Put(ctx, key, value, wt.cfg.WriteOptions); err != nil {
			return err
		}
		written += uint64(len(key) + len(value))
	}
	wt.rows += uint64(wt.cfg.BatchSize)
	wt.totalRows.Add(uint64(wt.cfg.BatchSize))
	wt.rowsCtr.Add(uint64(wt.cfg.BatchSize))
	wt.bytesCtr.Add(written)
	wt.batchCtr.Inc()
	return nil
}

func (wt *WriteTask) result(start time.Time) TaskResult {
	return TaskResult{ID: wt.id, Rows: wt.rows, Elapsed: time.Since(start)}
}
