package pebble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/flipkart-incubator/dkvbench/internal/stats"
	"github.com/flipkart-incubator/dkvbench/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	ini "gopkg.in/ini.v1"
)

const (
	engineName = "pebble"
	memDir     = "dkvbench"
)

// DB interface represents the capabilities exposed
// by the underlying implementation based on Pebble engine.
type DB interface {
	storage.KVStore
	Flush() error
}

type pebbleDB struct {
	db          *pebble.DB
	opts        *pebbleOpts
	stat        *storage.Stat
	collector   prometheus.Collector
	closeOnce   sync.Once
	stopFlusher chan struct{}
	flusherDone sync.WaitGroup
}

type pebbleOpts struct {
	folderName    string
	opts          *pebble.Options
	cacheSize     int64
	syncWrites    bool
	flushInterval time.Duration
	lgr          *zap.Logger
	statsCli     stats.Client
	promRegistry prometheus.Registerer
	err          error
}

// DBOption is used to configure the Pebble
// storage engine.
type DBOption func(*pebbleOpts)

// WithLogger is used to inject a ZAP logger instance.
func WithLogger(lgr *zap.Logger) DBOption {
	return func(opts *pebbleOpts) {
		if lgr != nil {
			opts.lgr = lgr
			opts.opts.Logger = &zapPebbleLogger{lgr: lgr.Sugar()}
		}
	}
}

// WithStats is used to inject a metrics client.
func WithStats(statsCli stats.Client) DBOption {
	return func(opts *pebbleOpts) {
		if statsCli != nil {
			opts.statsCli = statsCli
		} else {
			opts.statsCli = stats.NewNoOpClient()
		}
	}
}

// WithPromStats is used to inject a prometheus stats instance
func WithPromStats(registry prometheus.Registerer) DBOption {
	return func(opts *pebbleOpts) {
		if registry != nil {
			opts.promRegistry = registry
		} else {
			opts.promRegistry = stats.NewPrometheusNoopRegistry()
		}
	}
}

// WithSyncWrites ensures every write to Pebble is
// synced to the WAL before acking back.
func WithSyncWrites() DBOption {
	return func(opts *pebbleOpts) {
		opts.syncWrites = true
	}
}

// WithCacheSize is used to set the block cache size.
func WithCacheSize(size uint64) DBOption {
	return func(opts *pebbleOpts) {
		opts.cacheSize = int64(size)
	}
}

// WithoutWAL turns off the write-ahead log. Writes only
// become durable once their memtable is flushed.
func WithoutWAL() DBOption {
	return func(opts *pebbleOpts) {
		opts.opts.DisableWAL = true
	}
}

// WithFlushInterval makes Pebble persist buffered writes in the
// background at the given interval. The WAL is synced when it is
// enabled, otherwise the memtable is flushed.
func WithFlushInterval(interval time.Duration) DBOption {
	return func(opts *pebbleOpts) {
		opts.flushInterval = interval
	}
}

// WithMemTableSize sets the size in bytes of each memtable.
func WithMemTableSize(size uint64) DBOption {
	return func(opts *pebbleOpts) {
		opts.opts.MemTableSize = size
	}
}

// WithL0TargetFileSize sets the target size in bytes of
// the tables written to level 0.
func WithL0TargetFileSize(size uint64) DBOption {
	return func(opts *pebbleOpts) {
		if len(opts.opts.Levels) == 0 {
			opts.opts.Levels = make([]pebble.LevelOptions, 1)
		}
		opts.opts.Levels[0].TargetFileSize = int64(size)
	}
}

// WithInMemory keeps every Pebble file in memory.
func WithInMemory() DBOption {
	return func(opts *pebbleOpts) {
		opts.opts.FS = vfs.NewMem()
	}
}

// WithPebbleConfig can be used to override internal Pebble
// storage settings through the given .ini file. Keys outside
// of any section are applied to the [Options] section.
func WithPebbleConfig(iniFile string) DBOption {
	return func(opts *pebbleOpts) {
		if iniFile = strings.TrimSpace(iniFile); iniFile != "" {
			cfg, err := ini.Load(iniFile)
			if err != nil {
				opts.err = fmt.Errorf("unable to load Pebble configuration from given file: %s, error: %w", iniFile, err)
				return
			}
			var buff strings.Builder
			for _, sect := range cfg.Sections() {
				name := sect.Name()
				if name == ini.DefaultSection {
					if len(sect.Keys()) == 0 {
						continue
					}
					name = "Options"
				}
				fmt.Fprintf(&buff, "[%s]\n", name)
				sectConf := sect.KeysHash()
				keys := make([]string, 0, len(sectConf))
				for key := range sectConf {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				for _, key := range keys {
					fmt.Fprintf(&buff, "  %s=%s\n", key, sectConf[key])
				}
			}
			if err = opts.opts.Parse(buff.String(), nil); err != nil {
				opts.err = fmt.Errorf("unable to parse Pebble configuration from given file: %s, error: %w", iniFile, err)
			}
		}
	}
}

// WithStorageOptions applies the engine agnostic storage options.
func WithStorageOptions(stOpts storage.Options) DBOption {
	return func(opts *pebbleOpts) {
		if !stOpts.WALEnabled {
			WithoutWAL()(opts)
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
			WithL0TargetFileSize(*stOpts.L0SSTSize)(opts)
		}
	}
}

// OpenDB initializes a new instance of Pebble with specified
// options. It uses the given folder for storing the data files.
func OpenDB(dbFolder string, dbOpts ...DBOption) (DB, error) {
	opts := newOptions(dbFolder)
	for _, dbOpt := range dbOpts {
		dbOpt(opts)
	}
	if opts.err != nil {
		return nil, storage.OpenError(engineName, opts.err)
	}
	return openStore(opts)
}

func newOptions(dbFolder string) *pebbleOpts {
	noopLgr := zap.NewNop()
	return &pebbleOpts{
		folderName:   dbFolder,
		opts:         &pebble.Options{Logger: &zapPebbleLogger{lgr: noopLgr.Sugar()}},
		lgr:          noopLgr,
		statsCli:     stats.NewNoOpClient(),
		promRegistry: stats.NewPrometheusNoopRegistry(),
	}
}

func openStore(opts *pebbleOpts) (*pebbleDB, error) {
	dir := opts.folderName
	if opts.opts.FS != nil && dir == "" {
		dir = memDir
	}
	if dir == "" {
		return nil, storage.OpenError(engineName, errors.New("a folder is required unless running in memory"))
	}
	if opts.cacheSize > 0 {
		cache := pebble.NewCache(opts.cacheSize)
		defer cache.Unref()
		opts.opts.Cache = cache
	}
	db, err := pebble.Open(dir, opts.opts)
	if err != nil {
		return nil, storage.OpenError(engineName, err)
	}
	pdb := &pebbleDB{
		db:          db,
		opts:        opts,
		stat:        storage.NewStat(opts.promRegistry, engineName),
		stopFlusher: make(chan struct{}),
	}
	pdb.metricsCollector()
	if opts.flushInterval > 0 {
		pdb.flusherDone.Add(1)
		go pdb.flushPeriodically(opts.flushInterval)
	}
	return pdb, nil
}

func (pdb *pebbleDB) flushPeriodically(interval time.Duration) {
	defer pdb.flusherDone.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := pdb.persist(); err != nil {
				pdb.opts.lgr.Warn("periodic flush of Pebble writes failed", zap.Error(err))
			}
		case <-pdb.stopFlusher:
			return
		}
	}
}

// persist makes every acknowledged write durable.
func (pdb *pebbleDB) persist() error {
	if pdb.opts.opts.DisableWAL {
		return pdb.db.Flush()
	}
	return pdb.db.LogData(nil, pebble.Sync)
}

func (pdb *pebbleDB) Close() (err error) {
	pdb.closeOnce.Do(func() {
		close(pdb.stopFlusher)
		pdb.flusherDone.Wait()
		pdb.unregisterMetrics()
		err = pdb.db.Close()
	})
	return
}

// Flush persists the current memtable into level 0.
func (pdb *pebbleDB) Flush() error {
	return pdb.db.Flush()
}

func (pdb *pebbleDB) writeOpts(wrOpts storage.WriteOptions) *pebble.WriteOptions {
	// pebble rejects synced writes without a WAL
	if pdb.opts.opts.DisableWAL {
		return pebble.NoSync
	}
	if pdb.opts.syncWrites || wrOpts.AwaitDurable {
		return pebble.Sync
	}
	return pebble.NoSync
}

func (pdb *pebbleDB) Put(_ context.Context, key, value []byte, wrOpts storage.WriteOptions) error {
	defer pdb.opts.statsCli.Timing("pebble.put.latency.ms", time.Now())
	defer stats.MeasureLatency(pdb.stat.RequestLatency.WithLabelValues(storage.OpPut), time.Now())

	err := pdb.db.Set(key, value, pdb.writeOpts(wrOpts))
	// without a WAL the only durable copy is a flushed table
	if err == nil && wrOpts.AwaitDurable && pdb.opts.opts.DisableWAL {
		err = pdb.db.Flush()
	}
	if err != nil {
		pdb.stat.ResponseError.WithLabelValues(storage.OpPut).Inc()
		pdb.opts.statsCli.Incr("pebble.put.errors", 1)
	}
	return err
}

func (pdb *pebbleDB) Get(_ context.Context, key []byte) ([]byte, error) {
	defer pdb.opts.statsCli.Timing("pebble.get.latency.ms", time.Now())
	defer stats.MeasureLatency(pdb.stat.RequestLatency.WithLabelValues(storage.OpGet), time.Now())

	val, closer, err := pdb.db.Get(key)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		return nil, storage.ErrKeyNotFound
	case err != nil:
		pdb.stat.ResponseError.WithLabelValues(storage.OpGet).Inc()
		pdb.opts.statsCli.Incr("pebble.get.errors", 1)
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

type zapPebbleLogger struct {
	lgr *zap.SugaredLogger
}

func (plgr *zapPebbleLogger) Infof(format string, args ...interface{}) {
	plgr.lgr.Infof(format, args...)
}

func (plgr *zapPebbleLogger) Errorf(format string, args ...interface{}) {
	plgr.lgr.Errorf(format, args...)
}

func (plgr *zapPebbleLogger) Fatalf(format string, args ...interface{}) {
	plgr.lgr.Fatalf(format, args...)
}
