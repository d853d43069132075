// Package engines opens the storage engine under benchmark
// by name.
package engines

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/flipkart-incubator/dkvbench/internal/stats"
	"github.com/flipkart-incubator/dkvbench/internal/storage"
	"github.com/flipkart-incubator/dkvbench/internal/storage/badger"
	"github.com/flipkart-incubator/dkvbench/internal/storage/pebble"
	"github.com/flipkart-incubator/dkvbench/internal/storage/redis"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Supported storage engines.
const (
	Badger = "badger"
	Pebble = "pebble"
	Redis  = "redis"
)

// Names lists the supported storage engines.
var Names = []string{Badger, Pebble, Redis}

type engineOpts struct {
	lgr          *zap.Logger
	statsCli     stats.Client
	promRegistry prometheus.Registerer
	iniFile      string
	poolSize     int
}

// Option configures the engine being opened.
type Option func(*engineOpts)

// WithLogger is used to inject a ZAP logger instance.
func WithLogger(lgr *zap.Logger) Option {
	return func(opts *engineOpts) {
		opts.lgr = lgr
	}
}

// WithStats is used to inject a metrics client.
func WithStats(statsCli stats.Client) Option {
	return func(opts *engineOpts) {
		opts.statsCli = statsCli
	}
}

// WithPromStats is used to inject a prometheus registry.
func WithPromStats(registry prometheus.Registerer) Option {
	return func(opts *engineOpts) {
		opts.promRegistry = registry
	}
}

// WithEngineConfig points to an .ini file with engine
// specific settings. It is ignored by remote engines.
func WithEngineConfig(iniFile string) Option {
	return func(opts *engineOpts) {
		opts.iniFile = iniFile
	}
}

// WithConnections sets the number of connections a remote
// engine may keep open.
func WithConnections(n int) Option {
	return func(opts *engineOpts) {
		opts.poolSize = n
	}
}

// Open opens the named storage engine at the given location. For
// embedded engines the location is a folder, which may be empty for
// in-memory stores. For redis it is host:port with an optional /db
// suffix, or a redis:// URL.
func Open(engine, location string, stOpts storage.Options, opts ...Option) (storage.KVStore, error) {
	eo := &engineOpts{}
	for _, opt := range opts {
		opt(eo)
	}
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case Badger:
		bdbOpts := []badger.DBOption{
			badger.WithLogger(eo.lgr),
			badger.WithStats(eo.statsCli),
			badger.WithPromStats(eo.promRegistry),
			badger.WithStorageOptions(stOpts),
			badger.WithBadgerConfig(eo.iniFile),
		}
		if !stOpts.InMemory {
			bdbOpts = append(bdbOpts, badger.WithDBDir(location))
		}
		return badger.OpenDB(bdbOpts...)
	case Pebble:
		return pebble.OpenDB(location,
			pebble.WithLogger(eo.lgr),
			pebble.WithStats(eo.statsCli),
			pebble.WithPromStats(eo.promRegistry),
			pebble.WithStorageOptions(stOpts),
			pebble.WithPebbleConfig(eo.iniFile),
		)
	case Redis:
		addr, dbIndex, err := ParseRedisLocation(location)
		if err != nil {
			return nil, storage.OpenError(Redis, err)
		}
		return redis.OpenDB(addr, dbIndex,
			redis.WithLogger(eo.lgr),
			redis.WithStats(eo.statsCli),
			redis.WithPromStats(eo.promRegistry),
			redis.WithPoolSize(eo.poolSize),
		)
	default:
		return nil, storage.OpenError(engine, fmt.Errorf("unknown storage engine, must be one of %v", Names))
	}
}

// ParseRedisLocation splits a host:port[/db] location into its
// address and database index. URLs are returned unchanged.
func ParseRedisLocation(location string) (string, int, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", 0, fmt.Errorf("a redis address is required")
	}
	if strings.Contains(location, "://") {
		return location, 0, nil
	}
	addr, db, found := strings.Cut(location, "/")
	if !found || db == "" {
		return addr, 0, nil
	}
	dbIndex, err := strconv.Atoi(db)
	if err != nil || dbIndex < 0 {
		return "", 0, fmt.Errorf("invalid redis database index: %q", db)
	}
	return addr, dbIndex, nil
}
