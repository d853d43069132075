package bench

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flipkart-incubator/dkvbench/internal/stats"
	"github.com/flipkart-incubator/dkvbench/internal/storage"
	"github.com/flipkart-incubator/dkvbench/internal/storage/badger"
	"go.uber.org/atomic"
)

type memStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	wrOpts []storage.WriteOptions
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (ms *memStore) Put(_ context.Context, key, value []byte, wrOpts storage.WriteOptions) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.data[string(key)] = value
	ms.wrOpts = append(ms.wrOpts, wrOpts)
	return nil
}

func (ms *memStore) Get(_ context.Context, key []byte) ([]byte, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if val, ok := ms.data[string(key)]; ok {
		return val, nil
	}
	return nil, storage.ErrKeyNotFound
}

func (ms *memStore) Close() error { return nil }

func (ms *memStore) size() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.data)
}

var errStoreDown = errors.New("store is down")

// failingStore fails every write after the first okWrites.
type failingStore struct {
	*memStore
	okWrites int64
	puts     atomic.Int64
}

func (fs *failingStore) Put(ctx context.Context, key, value []byte, wrOpts storage.WriteOptions) error {
	if fs.puts.Inc() > fs.okWrites {
		return errStoreDown
	}
	return fs.memStore.Put(ctx, key, value, wrOpts)
}

type countingLimiter struct {
	calls  atomic.Int64
	tokens atomic.Int64
}

func (cl *countingLimiter) Acquire(_ context.Context, n int) error {
	cl.calls.Inc()
	cl.tokens.Add(int64(n))
	return nil
}

func randomSupplier(t *testing.T, keyLen int) KeyGeneratorSupplier {
	t.Helper()
	supplier, err := NewKeyGeneratorSupplier(Random, keyLen)
	if err != nil {
		t.Fatalf("Unable to create key generator supplier. Error: %v", err)
	}
	return supplier
}

func runBenchmark(t *testing.T, cfg BenchmarkConfig, store storage.KVStore, opts ...Option) (*Result, error) {
	t.Helper()
	wb, err := NewWriteBenchmark(cfg, randomSupplier(t, 16), store, opts...)
	if err != nil {
		t.Fatalf("Unable to create write benchmark. Error: %v", err)
	}
	return wb.Run(context.Background())
}

func uint32p(v uint32) *uint32                  { return &v }
func uint64p(v uint64) *uint64                  { return &v }
func durationp(v time.Duration) *time.Duration { return &v }

func TestSingleTaskRowCap(t *testing.T) {
	store, registry := newMemStore(), stats.NewRegistry()
	cfg := DefaultConfig()
	cfg.WriteTasks, cfg.ValueSize, cfg.NumRows = 1, 100, uint64p(1000)

	res, err := runBenchmark(t, cfg, store, WithRegistry(registry))
	if err != nil {
		t.Fatalf("Expected benchmark to succeed. Error: %v", err)
	}
	if res.Rows != 1000 {
		t.Errorf("Rows mismatch. Expected: 1000, Actual: %d", res.Rows)
	}
	if n := store.size(); n != 1000 {
		t.Errorf("Stored keys mismatch. Expected: 1000, Actual: %d", n)
	}
	if n := registry.Counter(stats.RowsWritten).Get(); n != 1000 {
		t.Errorf("rows_written mismatch. Expected: 1000, Actual: %d", n)
	}
	if n := registry.Counter(stats.BatchesWritten).Get(); n != 250 {
		t.Errorf("batches_written mismatch. Expected: 250, Actual: %d", n)
	}
	if n := registry.Counter(stats.BytesWritten).Get(); n != 1000*(16+100) {
		t.Errorf("bytes_written mismatch. Expected: %d, Actual: %d", 1000*(16+100), n)
	}
}

func TestRowCapIsShared(t *testing.T) {
	testCases := []struct {
		numTasks uint32
		rowCap   uint64
	}{
		{1, 10}, {3, 10}, {4, 100}, {8, 5}, {16, 1000},
	}
	batch := uint64(DefaultBatchSize)
	for _, tc := range testCases {
		registry := stats.NewRegistry()
		cfg := DefaultConfig()
		cfg.WriteTasks, cfg.ValueSize, cfg.NumRows = tc.numTasks, 8, uint64p(tc.rowCap)

		res, err := runBenchmark(t, cfg, newMemStore(), WithRegistry(registry))
		if err != nil {
			t.Fatalf("Expected benchmark to succeed. Tasks: %d, Error: %v", tc.numTasks, err)
		}
		if lo, hi := tc.rowCap, tc.rowCap+uint64(tc.numTasks)*batch; res.Rows < lo || res.Rows >= hi {
			t.Errorf("Total rows out of bounds. Tasks: %d, Expected in [%d, %d), Actual: %d", tc.numTasks, lo, hi, res.Rows)
		}
		var taskRows uint64
		for _, tr := range res.Tasks {
			taskRows += tr.Rows
		}
		if taskRows != res.Rows {
			t.Errorf("Task rows do not add up. Expected: %d, Actual: %d", res.Rows, taskRows)
		}
		if n := registry.Counter(stats.RowsWritten).Get(); n != res.Rows {
			t.Errorf("rows_written mismatch. Expected: %d, Actual: %d", res.Rows, n)
		}
	}
}

func TestDurationCap(t *testing.T) {
	duration := 200 * time.Millisecond
	cfg := DefaultConfig()
	cfg.WriteTasks, cfg.ValueSize, cfg.Duration = 2, 8, durationp(duration)

	start := time.Now()
	res, err := runBenchmark(t, cfg, newMemStore())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Expected benchmark to succeed. Error: %v", err)
	}
	if elapsed < duration || elapsed > duration+300*time.Millisecond {
		t.Errorf("Elapsed out of bounds. Expected about: %v, Actual: %v", duration, elapsed)
	}
	for _, tr := range res.Tasks {
		if tr.Elapsed < duration {
			t.Errorf("Task %d stopped before the duration. Elapsed: %v", tr.ID, tr.Elapsed)
		}
	}
	if res.Rows == 0 {
		t.Error("Expected rows to be written")
	}
}

func TestNoRateNeverAcquires(t *testing.T) {
	limiter := &countingLimiter{}
	cfg := DefaultConfig()
	cfg.ValueSize, cfg.NumRows = 8, uint64p(100)

	if _, err := runBenchmark(t, cfg, newMemStore(), WithRateLimiter(limiter)); err != nil {
		t.Fatalf("Expected benchmark to succeed. Error: %v", err)
	}
	if n := limiter.calls.Load(); n != 0 {
		t.Errorf("Expected Acquire to never be called without a rate. Actual calls: %d", n)
	}
}

func TestRateAcquiresPerBatch(t *testing.T) {
	limiter, registry := &countingLimiter{}, stats.NewRegistry()
	cfg := DefaultConfig()
	cfg.WriteTasks, cfg.ValueSize, cfg.NumRows, cfg.WriteRate = 2, 8, uint64p(40), uint32p(1000)

	res, err := runBenchmark(t, cfg, newMemStore(), WithRateLimiter(limiter), WithRegistry(registry))
	if err != nil {
		t.Fatalf("Expected benchmark to succeed. Error: %v", err)
	}
	if n := limiter.calls.Load(); n != int64(res.Rows)/DefaultBatchSize {
		t.Errorf("Acquire calls mismatch. Expected: %d, Actual: %d", res.Rows/DefaultBatchSize, n)
	}
	if n := limiter.tokens.Load(); n != int64(res.Rows) {
		t.Errorf("Acquired tokens mismatch. Expected: %d, Actual: %d", res.Rows, n)
	}
	if n := registry.Counter(stats.RateLimiterTokens).Get(); n != res.Rows {
		t.Errorf("rate_limiter_tokens mismatch. Expected: %d, Actual: %d", res.Rows, n)
	}
}

func TestRateLimitedDuration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping rate limited run in short mode")
	}
	var (
		duration = 2 * time.Second
		rate     = uint32(1000)
	)
	cfg := DefaultConfig()
	cfg.ValueSize, cfg.Duration, cfg.WriteRate = 16, durationp(duration), uint32p(rate)

	start := time.Now()
	res, err := runBenchmark(t, cfg, newMemStore())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Expected benchmark to succeed. Error: %v", err)
	}
	if elapsed < duration || elapsed > duration+150*time.Millisecond {
		t.Errorf("Elapsed out of bounds. Expected about: %v, Actual: %v", duration, elapsed)
	}
	// refill over the run plus the initial bucket
	if maxRows := uint64(float64(rate)*elapsed.Seconds()) + uint64(rate); res.Rows > maxRows {
		t.Errorf("Admitted more rows than the rate allows. Max: %d, Actual: %d", maxRows, res.Rows)
	}
}

func TestFailingStore(t *testing.T) {
	store, registry := &failingStore{memStore: newMemStore()}, stats.NewRegistry()
	cfg := DefaultConfig()
	cfg.ValueSize = 8

	start := time.Now()
	res, err := runBenchmark(t, cfg, store, WithRegistry(registry))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected benchmark to stop promptly. Elapsed: %v", elapsed)
	}
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("Expected a write error. Actual: %v", err)
	}
	if !errors.Is(err, errStoreDown) {
		t.Errorf("Expected the store error to be wrapped. Actual: %v", err)
	}
	if we.Rows != 0 || res.Rows != 0 {
		t.Errorf("Expected no rows written. Error rows: %d, Result rows: %d", we.Rows, res.Rows)
	}
	if n := registry.Counter(stats.RowsWritten).Get(); n != 0 {
		t.Errorf("Expected rows_written to be 0. Actual: %d", n)
	}
	if n := registry.Counter(stats.WriteErrors).Get(); n == 0 {
		t.Error("Expected write_errors to be counted")
	}
}

func TestFailureStopsOtherTasks(t *testing.T) {
	store := &failingStore{memStore: newMemStore(), okWrites: 200}
	cfg := DefaultConfig()
	cfg.ValueSize = 8

	wb, err := NewWriteBenchmark(cfg, randomSupplier(t, 16), store)
	if err != nil {
		t.Fatalf("Unable to create write benchmark. Error: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := wb.Run(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, errStoreDown) {
			t.Errorf("Expected the store error. Actual: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected an unbounded benchmark to stop after a write failure")
	}
}

func TestCancellationIsNotFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ValueSize = 8
	wb, err := NewWriteBenchmark(cfg, randomSupplier(t, 16), newMemStore())
	if err != nil {
		t.Fatalf("Unable to create write benchmark. Error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err = wb.Run(ctx); err != nil {
		t.Errorf("Expected cancellation to stop the benchmark cleanly. Error: %v", err)
	}
}

func TestCancellationWhileRateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ValueSize, cfg.WriteRate = 8, uint32p(4)
	wb, err := NewWriteBenchmark(cfg, randomSupplier(t, 16), newMemStore())
	if err != nil {
		t.Fatalf("Unable to create write benchmark. Error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err = wb.Run(ctx); err != nil {
		t.Errorf("Expected cancellation to stop the benchmark cleanly. Error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected cancellation to interrupt the rate limiter. Elapsed: %v", elapsed)
	}
}

func TestAwaitDurableIsPassedThrough(t *testing.T) {
	store := newMemStore()
	cfg := DefaultConfig()
	cfg.WriteTasks, cfg.ValueSize, cfg.NumRows = 1, 8, uint64p(8)
	cfg.WriteOptions = storage.WriteOptions{AwaitDurable: true}

	if _, err := runBenchmark(t, cfg, store); err != nil {
		t.Fatalf("Expected benchmark to succeed. Error: %v", err)
	}
	for _, wrOpts := range store.wrOpts {
		if !wrOpts.AwaitDurable {
			t.Fatal("Expected every write to await durability")
		}
	}
}

func TestInvalidConfig(t *testing.T) {
	testCases := map[string]func(*BenchmarkConfig){
		"zero tasks":       func(cfg *BenchmarkConfig) { cfg.WriteTasks = 0 },
		"zero rate":        func(cfg *BenchmarkConfig) { cfg.WriteRate = uint32p(0) },
		"zero rows":        func(cfg *BenchmarkConfig) { cfg.NumRows = uint64p(0) },
		"zero duration":    func(cfg *BenchmarkConfig) { cfg.Duration = durationp(0) },
		"zero batch":       func(cfg *BenchmarkConfig) { cfg.BatchSize = 0 },
		"negative val len": func(cfg *BenchmarkConfig) { cfg.ValueSize = -1 },
	}
	for name, mutate := range testCases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if _, err := NewWriteBenchmark(cfg, randomSupplier(t, 16), newMemStore()); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: expected invalid config. Actual: %v", name, err)
		}
	}
	if _, err := NewWriteBenchmark(DefaultConfig(), nil, newMemStore()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected invalid config without a supplier. Actual: %v", err)
	}
	if _, err := NewWriteBenchmark(DefaultConfig(), randomSupplier(t, 16), nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected invalid config without a store. Actual: %v", err)
	}
}

func TestWriteToBadger(t *testing.T) {
	store, err := badger.OpenDB(badger.WithInMemory())
	if err != nil {
		t.Fatalf("Unable to open Badger. Error: %v", err)
	}
	defer store.Close()

	registry := stats.NewRegistry()
	cfg := DefaultConfig()
	cfg.WriteTasks, cfg.ValueSize, cfg.NumRows = 2, 32, uint64p(40)
	res, err := runBenchmark(t, cfg, store, WithRegistry(registry))
	if err != nil {
		t.Fatalf("Expected benchmark to succeed. Error: %v", err)
	}
	if res.Rows < 40 || res.Rows >= 40+2*DefaultBatchSize {
		t.Errorf("Rows out of bounds. Expected in [40, %d), Actual: %d", 40+2*DefaultBatchSize, res.Rows)
	}
	if n := registry.Counter(stats.BytesWritten).Get(); n != res.Rows*(16+32) {
		t.Errorf("bytes_written mismatch. Expected: %d, Actual: %d", res.Rows*(16+32), n)
	}
}
