package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flipkart-incubator/dkvbench/internal/stats"
	"github.com/flipkart-incubator/dkvbench/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const engineName = "redis"

// DB interface represents the capabilities exposed by a
// Redis server used as the storage engine.
type DB interface {
	storage.KVStore
	Ping(ctx context.Context) error
}

type redisDB struct {
	db        *redis.Client
	opts      *redisOpts
	stat      *storage.Stat
	closeOnce sync.Once
}

type redisOpts struct {
	opts         *redis.Options
	lgr          *zap.Logger
	statsCli     stats.Client
	promRegistry prometheus.Registerer
}

// DBOption is used to configure the Redis client.
type DBOption func(*redisOpts)

// WithLogger is used to inject a ZAP logger instance.
func WithLogger(lgr *zap.Logger) DBOption {
	return func(opts *redisOpts) {
		if lgr != nil {
			opts.lgr = lgr
		}
	}
}

// WithStats is used to inject a metrics client.
func WithStats(statsCli stats.Client) DBOption {
	return func(opts *redisOpts) {
		if statsCli != nil {
			opts.statsCli = statsCli
		} else {
			opts.statsCli = stats.NewNoOpClient()
		}
	}
}

// WithPromStats is used to inject a prometheus stats instance
func WithPromStats(registry prometheus.Registerer) DBOption {
	return func(opts *redisOpts) {
		if registry != nil {
			opts.promRegistry = registry
		} else {
			opts.promRegistry = stats.NewPrometheusNoopRegistry()
		}
	}
}

// WithPassword sets the password used to authenticate.
func WithPassword(password string) DBOption {
	return func(opts *redisOpts) {
		opts.opts.Password = password
	}
}

// WithPoolSize sets the maximum number of socket connections,
// which should be at least the number of concurrent writers.
func WithPoolSize(size int) DBOption {
	return func(opts *redisOpts) {
		if size > 0 {
			opts.opts.PoolSize = size
		}
	}
}

// OpenDB connects to the Redis server at the given address and
// selects the given database. The server is pinged before returning.
// A redis:// URL is also accepted as the address.
func OpenDB(addr string, dbIndex int, dbOpts ...DBOption) (DB, error) {
	rdOpts := &redis.Options{Addr: addr, DB: dbIndex}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, storage.OpenError(engineName, err)
		}
		rdOpts = parsed
	}
	opts := &redisOpts{
		opts:         rdOpts,
		lgr:          zap.NewNop(),
		statsCli:     stats.NewNoOpClient(),
		promRegistry: stats.NewPrometheusNoopRegistry(),
	}
	for _, dbOpt := range dbOpts {
		dbOpt(opts)
	}
	return openStore(opts)
}

func openStore(opts *redisOpts) (*redisDB, error) {
	client := redis.NewClient(opts.opts)
	rdb := &redisDB{db: client, opts: opts}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx); err != nil {
		client.Close()
		return nil, storage.OpenError(engineName, err)
	}
	opts.lgr.Info("Connected to Redis", zap.String("addr", opts.opts.Addr), zap.Int("db", opts.opts.DB))
	rdb.stat = storage.NewStat(opts.promRegistry, engineName)
	return rdb, nil
}

func (rdb *redisDB) Ping(ctx context.Context) error {
	return rdb.db.Ping(ctx).Err()
}

func (rdb *redisDB) Close() (err error) {
	rdb.closeOnce.Do(func() {
		rdb.stat.Unregister(rdb.opts.promRegistry)
		err = rdb.db.Close()
	})
	return
}

// Put issues a SET. Durable writes are followed by WAITAOF
// which returns once the server fsynced its append-only file.
func (rdb *redisDB) Put(ctx context.Context, key, value []byte, wrOpts storage.WriteOptions) error {
	defer rdb.opts.statsCli.Timing("redis.put.latency.ms", time.Now())
	defer stats.MeasureLatency(rdb.stat.RequestLatency.WithLabelValues(storage.OpPut), time.Now())

	err := rdb.db.Set(ctx, string(key), value, 0).Err()
	if err == nil && wrOpts.AwaitDurable {
		err = rdb.waitAOF(ctx)
	}
	if err != nil {
		rdb.stat.ResponseError.WithLabelValues(storage.OpPut).Inc()
		rdb.opts.statsCli.Incr("redis.put.errors", 1)
	}
	return err
}

func (rdb *redisDB) waitAOF(ctx context.Context) error {
	res, err := rdb.db.Do(ctx, "WAITAOF", 1, 0, 0).Slice()
	if err != nil {
		return fmt.Errorf("unable to await append-only file sync: %w", err)
	}
	if len(res) == 0 {
		return errors.New("unable to await append-only file sync: empty reply")
	}
	if local, ok := res[0].(int64); !ok || local < 1 {
		return fmt.Errorf("unable to await append-only file sync: local fsync count %v", res[0])
	}
	return nil
}

func (rdb *redisDB) Get(ctx context.Context, key []byte) ([]byte, error) {
	defer rdb.opts.statsCli.Timing("redis.get.latency.ms", time.Now())
	defer stats.MeasureLatency(rdb.stat.RequestLatency.WithLabelValues(storage.OpGet), time.Now())

	val, err := rdb.db.Get(ctx, string(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, storage.ErrKeyNotFound
	case err != nil:
		rdb.stat.ResponseError.WithLabelValues(storage.OpGet).Inc()
		rdb.opts.statsCli.Incr("redis.get.errors", 1)
		return nil, err
	}
	return val, nil
}
