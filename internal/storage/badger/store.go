package badger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/flipkart-incubator/dkvbench/internal/stats"
	"github.com/flipkart-incubator/dkvbench/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	ini "gopkg.in/ini.v1"
)

const engineName = "badger"

// DB interface represents the capabilities exposed
// by the underlying implementation based on Badger engine.
type DB interface {
	storage.KVStore
	Sync() error
}

type badgerDB struct {
	db   *badger.DB
	opts *bdgrOpts
	stat *storage.Stat

	collector   prometheus.Collector
	stopFlusher chan struct{}
	flusherDone sync.WaitGroup
	closeOnce   sync.Once
}

type bdgrOpts struct {
	opts          badger.Options
	lgr           *zap.Logger
	statsCli      stats.Client
	promRegistry  prometheus.Registerer
	flushInterval time.Duration
	err           error
}

// DBOption is used to configure the Badger
// storage engine.
type DBOption func(*bdgrOpts)

// WithLogger is used to inject a ZAP logger instance.
func WithLogger(lgr *zap.Logger) DBOption {
	return func(opts *bdgrOpts) {
		if lgr != nil {
			opts.lgr = lgr
			opts.opts = opts.opts.WithLogger(&zapBadgerLogger{lgr: lgr})
		}
	}
}

// WithStats is used to inject a metrics client.
func WithStats(statsCli stats.Client) DBOption {
	return func(opts *bdgrOpts) {
		if statsCli != nil {
			opts.statsCli = statsCli
		} else {
			opts.statsCli = stats.NewNoOpClient()
		}
	}
}

// WithPromStats is used to inject a prometheus registry on which
// the latency, error and Badger internal metrics are registered.
func WithPromStats(registry prometheus.Registerer) DBOption {
	return func(opts *bdgrOpts) {
		if registry != nil {
			opts.promRegistry = registry
		} else {
			opts.promRegistry = stats.NewPrometheusNoopRegistry()
		}
	}
}

// WithSyncWrites configures Badger to ensure every
// write is flushed to disk before acking back.
func WithSyncWrites() DBOption {
	return func(opts *bdgrOpts) {
		opts.opts = opts.opts.WithSyncWrites(true)
	}
}

// WithoutSyncWrites configures Badger to prevent
// flush to disk for every write.
func WithoutSyncWrites() DBOption {
	return func(opts *bdgrOpts) {
		opts.opts = opts.opts.WithSyncWrites(false)
	}
}

// WithCacheSize sets the value in bytes the amount of
// cache used for data blocks.
func WithCacheSize(size uint64) DBOption {
	return func(opts *bdgrOpts) {
		opts.opts = opts.opts.WithBlockCacheSize(int64(size))
	}
}

// WithMemTableSize sets the size in bytes of each memtable.
func WithMemTableSize(size uint64) DBOption {
	return func(opts *bdgrOpts) {
		opts.opts = opts.opts.WithMemTableSize(int64(size))
	}
}

// WithBaseTableSize sets the target size in bytes of the
// tables written to the first levels of the LSM tree.
func WithBaseTableSize(size uint64) DBOption {
	return func(opts *bdgrOpts) {
		opts.opts = opts.opts.WithBaseTableSize(int64(size))
	}
}

// WithFlushInterval makes Badger sync its files to disk in the
// background at the given interval.
func WithFlushInterval(interval time.Duration) DBOption {
	return func(opts *bdgrOpts) {
		opts.flushInterval = interval
	}
}

// WithBadgerConfig can be used to override internal Badger
// storage settings through the given .ini file.
func WithBadgerConfig(iniFile string) DBOption {
	return func(opts *bdgrOpts) {
		if iniFile = strings.TrimSpace(iniFile); iniFile != "" {
			if cfg, err := ini.Load(iniFile); err != nil {
				opts.err = fmt.Errorf("unable to load Badger configuration from given file: %s, error: %w", iniFile, err)
			} else if err := cfg.StrictMapTo(&opts.opts); err != nil {
				opts.err = fmt.Errorf("unable to parse Badger configuration from given file: %s, error: %w", iniFile, err)
			}
		}
	}
}

// WithDBDir sets the respective Badger storage folders.
func WithDBDir(dir string) DBOption {
	return func(opts *bdgrOpts) {
		opts.opts = opts.opts.WithDir(dir).WithValueDir(dir)
	}
}

// WithInMemory sets Badger storage to operate entirely
// in memory. No files are created on disk whatsoever.
func WithInMemory() DBOption {
	return func(opts *bdgrOpts) {
		opts.opts = opts.opts.WithInMemory(true)
	}
}

// WithStorageOptions applies the engine agnostic storage options.
// Badger has no separately switchable write-ahead log; its value
// log is always written, so disabling the WAL turns off per write
// syncing instead.
func WithStorageOptions(stOpts storage.Options) DBOption {
	return func(opts *bdgrOpts) {
		if !stOpts.WALEnabled {
			WithoutSyncWrites()(opts)
		}
		if stOpts.InMemory {
			WithInMemory()(opts)
		}
		if stOpts.FlushInterval != nil {
			WithFlushInterval(*stOpts.FlushInterval)(opts)
		}
		if stOpts.MemTableSize != nil {
			WithMemTableSize(*stOpts.MemTableSize)(opts)
		}
		if stOpts.L0SSTSize != nil {
			WithBaseTableSize(*stOpts.L0SSTSize)(opts)
		}
	}
}

// OpenDB initializes a new instance of BadgerDB with the specified
// options.
func OpenDB(dbOpts ...DBOption) (DB, error) {
	noopLgr := zap.NewNop()
	opts := &bdgrOpts{
		opts:         badger.DefaultOptions("").WithLogger(&zapBadgerLogger{lgr: noopLgr}),
		lgr:          noopLgr,
		statsCli:     stats.NewNoOpClient(),
		promRegistry: stats.NewPrometheusNoopRegistry(),
	}
	for _, dbOpt := range dbOpts {
		dbOpt(opts)
	}
	if opts.err != nil {
		return nil, storage.OpenError(engineName, opts.err)
	}
	return openStore(opts)
}

func openStore(bdbOpts *bdgrOpts) (*badgerDB, error) {
	db, err := badger.Open(bdbOpts.opts)
	if err != nil {
		return nil, storage.OpenError(engineName, err)
	}
	bdb := &badgerDB{
		db:          db,
		opts:        bdbOpts,
		stat:        storage.NewStat(bdbOpts.promRegistry, engineName),
		stopFlusher: make(chan struct{}),
	}
	bdb.metricsCollector()
	if bdbOpts.flushInterval > 0 && !bdbOpts.opts.InMemory {
		bdb.flusherDone.Add(1)
		go bdb.flushPeriodically(bdbOpts.flushInterval)
	}
	return bdb, nil
}

func (bdb *badgerDB) flushPeriodically(interval time.Duration) {
	defer bdb.flusherDone.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := bdb.Sync(); err != nil {
				bdb.opts.lgr.Warn("periodic sync of Badger files failed", zap.Error(err))
			}
		case <-bdb.stopFlusher:
			return
		}
	}
}

func (bdb *badgerDB) Close() (err error) {
	bdb.closeOnce.Do(func() {
		close(bdb.stopFlusher)
		bdb.flusherDone.Wait()
		bdb.unregisterMetrics()
		err = bdb.db.Close()
	})
	return
}

func (bdb *badgerDB) Sync() error {
	if bdb.opts.opts.InMemory {
		return nil
	}
	return bdb.db.Sync()
}

func (bdb *badgerDB) Put(_ context.Context, key, value []byte, wrOpts storage.WriteOptions) error {
	defer bdb.opts.statsCli.Timing("badger.put.latency.ms", time.Now())
	defer stats.MeasureLatency(bdb.stat.RequestLatency.WithLabelValues(storage.OpPut), time.Now())
	err := bdb.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err == nil && wrOpts.AwaitDurable && !bdb.opts.opts.SyncWrites {
		err = bdb.Sync()
	}
	if err != nil {
		bdb.stat.ResponseError.WithLabelValues(storage.OpPut).Inc()
		bdb.opts.statsCli.Incr("badger.put.errors", 1)
	}
	return err
}

func (bdb *badgerDB) Get(_ context.Context, key []byte) ([]byte, error) {
	defer bdb.opts.statsCli.Timing("badger.get.latency.ms", time.Now())
	defer stats.MeasureLatency(bdb.stat.RequestLatency.WithLabelValues(storage.OpGet), time.Now())
	var value []byte
	err := bdb.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, storage.ErrKeyNotFound
	case err != nil:
		bdb.stat.ResponseError.WithLabelValues(storage.OpGet).Inc()
		bdb.opts.statsCli.Incr("badger.get.errors", 1)
		return nil, err
	}
	return value, nil
}

type zapBadgerLogger struct {
	lgr *zap.Logger
}

func (blgr *zapBadgerLogger) Errorf(msg string, args ...interface{}) {
	if ce := blgr.lgr.Check(zap.ErrorLevel, msg); ce != nil {
		blgr.log(ce, args...)
	}
}

func (blgr *zapBadgerLogger) Warningf(msg string, args ...interface{}) {
	if ce := blgr.lgr.Check(zap.WarnLevel, msg); ce != nil {
		blgr.log(ce, args...)
	}
}

func (blgr *zapBadgerLogger) Infof(msg string, args ...interface{}) {
	if ce := blgr.lgr.Check(zap.InfoLevel, msg); ce != nil {
		blgr.log(ce, args...)
	}
}

func (blgr *zapBadgerLogger) Debugf(msg string, args ...interface{}) {
	if ce := blgr.lgr.Check(zap.DebugLevel, msg); ce != nil {
		blgr.log(ce, args...)
	}
}

func (blgr *zapBadgerLogger) log(ce *zapcore.CheckedEntry, args ...interface{}) {
	flds := make([]zap.Field, len(args))
	for i, arg := range args {
		flds[i] = zap.Any(strconv.Itoa(i), arg)
	}
	ce.Write(flds...)
}
