package opts

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/flipkart-incubator/dkvbench/internal/bench"
	"github.com/flipkart-incubator/dkvbench/internal/storage"
	"github.com/flipkart-incubator/dkvbench/internal/storage/engines"
	"github.com/go-playground/validator/v10"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes the environment variables overriding the
// configuration, eg. DKVBENCH_WRITE_TASKS.
const EnvPrefix = "DKVBENCH"

// Config carries every setting of a dkvbench run. Optional settings
// are pointers that stay nil unless the config file, the environment
// or a flag sets them.
type Config struct {

	// Storage configuration
	DbEngine     string  `mapstructure:"db-engine" desc:"Underlying DB engine for storing data - badger|pebble|redis" validate:"required,engine"`
	DbFolder     string  `mapstructure:"db-folder" desc:"DB folder path for storing data files, or host:port[/db] of the Redis server"`
	DisklessMode bool    `mapstructure:"diskless" desc:"Enables diskless mode where data is stored entirely in memory"`
	DbEngineIni  string  `mapstructure:"db-engine-ini" desc:"An .ini file for configuring the underlying storage engine" validate:"omitempty,file"`
	DisableWAL   bool    `mapstructure:"disable-wal" desc:"Disables the write-ahead log of the storage engine"`
	FlushMs      *uint32 `mapstructure:"flush-ms" desc:"Interval in milliseconds at which buffered writes are made durable" validate:"omitnil,gt=0"`
	MemTableSize *uint64 `mapstructure:"memtable-size" desc:"Size in bytes of the memtable" validate:"omitnil,gt=0"`
	L0SSTSize    *uint64 `mapstructure:"l0-sst-size" desc:"Target size in bytes of level 0 tables" validate:"omitnil,gt=0"`
	RedisDB      int     `mapstructure:"redis-db" desc:"Redis database index, used when db-folder carries none" validate:"gte=0"`

	// Observability
	StatsdAddr        string        `mapstructure:"statsd-addr" desc:"StatsD service address in host:port format" validate:"omitempty,hostname_port"`
	MetricsListenAddr string        `mapstructure:"metrics-listen-addr" desc:"Address on which Prometheus metrics are served" validate:"omitempty,hostname_port"`
	LogLevel          string        `mapstructure:"log-level" desc:"Log level for logging info|warn|debug|error" validate:"oneof=debug info warn error"`
	ReportInterval    time.Duration `mapstructure:"report-interval" desc:"Interval at which write progress is reported. Eg., 10s, 500ms" validate:"gt=0"`
	Progress          bool          `mapstructure:"progress" desc:"Renders a progress bar when a row cap is set"`

	// Workload
	KeyDistribution string         `mapstructure:"key-distribution" desc:"Distribution of the generated keys - random" validate:"keydist"`
	KeyLen          int            `mapstructure:"key-len" desc:"Length of every key in bytes" validate:"gt=0"`
	ValLen          int            `mapstructure:"val-len" desc:"Length of every value in bytes" validate:"gte=0"`
	AwaitDurable    bool           `mapstructure:"await-durable" desc:"Makes every write wait until the engine confirms it is durable"`
	WriteRate       *uint32        `mapstructure:"write-rate" desc:"Limit on writes per second across all tasks" validate:"omitnil,gt=0"`
	WriteTasks      uint32         `mapstructure:"write-tasks" desc:"Number of concurrent write tasks" validate:"gt=0"`
	NumRows         *uint64        `mapstructure:"num-rows" desc:"Number of rows written by all tasks together" validate:"omitnil,gt=0"`
	Duration        *time.Duration `mapstructure:"duration" desc:"Time for which each task keeps writing. Eg., 30s, 5m" validate:"omitnil,gt=0"`
}

// optional settings, unbounded or left to the engine when absent
const (
	flushMsKey      = "flush-ms"
	memTableSizeKey = "memtable-size"
	l0SSTSizeKey    = "l0-sst-size"
	writeRateKey    = "write-rate"
	numRowsKey      = "num-rows"
	durationKey     = "duration"
)

// Custom validation tags
const (
	engineTag  = "engine"
	keyDistTag = "keydist"
)

// AddFlags registers the configuration flags along with their
// defaults on the given flag set.
func AddFlags(fs *flag.FlagSet) {
	fs.String("db-engine", engines.Badger, "Underlying DB engine for storing data - badger|pebble|redis")
	fs.String("db-folder", "/tmp/dkvbench", "DB folder path for storing data files, or host:port[/db] of the Redis server")
	fs.Bool("diskless", false, "Enables diskless mode where data is stored entirely in memory")
	fs.String("db-engine-ini", "", "An .ini file for configuring the underlying storage engine")
	fs.Bool("disable-wal", false, "Disables the write-ahead log of the storage engine")
	fs.Uint32(flushMsKey, 0, "Interval in milliseconds at which buffered writes are made durable, engine default when omitted")
	fs.Uint64(memTableSizeKey, 0, "Size in bytes of the memtable, engine default when omitted")
	fs.Uint64(l0SSTSizeKey, 0, "Target size in bytes of level 0 tables, engine default when omitted")
	fs.Int("redis-db", 0, "Redis database index, used when db-folder carries none")
	fs.String("statsd-addr", "", "StatsD service address in host:port format")
	fs.String("metrics-listen-addr", "", "Address on which Prometheus metrics are served")
	fs.String("log-level", "info", "Log level for logging info|warn|debug|error")
	fs.Duration("report-interval", 5*time.Second, "Interval at which write progress is reported")
	fs.Bool("progress", false, "Renders a progress bar when a row cap is set")
	fs.String("key-distribution", bench.Random.String(), "Distribution of the generated keys - random")
	fs.Int("key-len", 16, "Length of every key in bytes")
	fs.Int("val-len", 100, "Length of every value in bytes")
	fs.Bool("await-durable", false, "Makes every write wait until the engine confirms it is durable")
	fs.Uint32(writeRateKey, 0, "Limit on writes per second across all tasks, unlimited when omitted")
	fs.Uint32("write-tasks", bench.DefaultWriteTasks, "Number of concurrent write tasks")
	fs.Uint64(numRowsKey, 0, "Number of rows written by all tasks together, unlimited when omitted")
	fs.Duration(durationKey, 0, "Time for which each task keeps writing, unlimited when omitted")
}

// Init loads the configuration from the optional config file, the
// environment and the flags, in increasing order of precedence, and
// validates it.
func (c *Config) Init(cfgFile string, fs *flag.FlagSet) error {
	v := viper.New()
	if err := loadConfigFile(v, cfgFile); err != nil {
		return err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("unable to bind flags: %w", err)
	}
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("%w: %w", bench.ErrInvalidConfig, err)
	}
	c.clearAbsent(v)
	return c.validate()
}

// clearAbsent unsets the optional settings which were only filled
// in from the zero defaults of their flags.
func (c *Config) clearAbsent(v *viper.Viper) {
	if !v.IsSet(flushMsKey) {
		c.FlushMs = nil
	}
	if !v.IsSet(memTableSizeKey) {
		c.MemTableSize = nil
	}
	if !v.IsSet(l0SSTSizeKey) {
		c.L0SSTSize = nil
	}
	if !v.IsSet(writeRateKey) {
		c.WriteRate = nil
	}
	if !v.IsSet(numRowsKey) {
		c.NumRows = nil
	}
	if !v.IsSet(durationKey) {
		c.Duration = nil
	}
}

func loadConfigFile(v *viper.Viper, cfgFile string) error {
	if cfgFile == "" {
		return nil
	}
	absPath, err := filepath.Abs(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to convert cfg file to abs path: %w", err)
	}
	v.SetConfigFile(absPath)
	if err = v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: unable to read config file: %s: %w", bench.ErrInvalidConfig, absPath, err)
	}
	return nil
}

func newValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := v.RegisterValidation(engineTag, validateEngine); err != nil {
		return nil, fmt.Errorf("failed to register engine validator: %w", err)
	}
	if err := v.RegisterValidation(keyDistTag, validateKeyDistribution); err != nil {
		return nil, fmt.Errorf("failed to register key distribution validator: %w", err)
	}
	return v, nil
}

func validateEngine(fl validator.FieldLevel) bool {
	engine := strings.ToLower(strings.TrimSpace(fl.Field().String()))
	for _, name := range engines.Names {
		if engine == name {
			return true
		}
	}
	return false
}

func validateKeyDistribution(fl validator.FieldLevel) bool {
	_, err := bench.ParseKeyDistribution(fl.Field().String())
	return err == nil
}

func (c *Config) validate() error {
	v, err := newValidator()
	if err != nil {
		return err
	}
	if err = v.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", bench.ErrInvalidConfig, err)
	}
	isRedis := strings.EqualFold(strings.TrimSpace(c.DbEngine), engines.Redis)
	if c.DisklessMode && isRedis {
		return fmt.Errorf("%w: diskless is available only on embedded storage engines", bench.ErrInvalidConfig)
	}
	if !c.DisklessMode && strings.TrimSpace(c.DbFolder) == "" {
		return fmt.Errorf("%w: db-folder is required", bench.ErrInvalidConfig)
	}
	return nil
}

// Print logs every configuration field.
func (c *Config) Print(lgr *zap.Logger) {
	f := reflect.TypeOf(*c)
	v := reflect.ValueOf(*c)
	for i := 0; i < v.NumField(); i++ {
		tag := f.Field(i).Tag
		name := tag.Get("mapstructure")
		if name == "" {
			continue
		}
		lgr.Info(tag.Get("desc"), zap.Any(name, v.Field(i).Interface()))
	}
}

// Location returns the location of the storage engine, a folder
// for embedded engines and host:port/db for Redis.
func (c *Config) Location() string {
	location := strings.TrimSpace(c.DbFolder)
	if strings.EqualFold(strings.TrimSpace(c.DbEngine), engines.Redis) &&
		c.RedisDB > 0 && !strings.Contains(location, "/") {
		location = fmt.Sprintf("%s/%d", location, c.RedisDB)
	}
	return location
}

// Resolve converts the configuration into the benchmark and storage
// settings. Absent optional settings stay unset.
func (c *Config) Resolve() (bench.BenchmarkConfig, storage.Options) {
	cfg := bench.DefaultConfig()
	cfg.ValueSize = c.ValLen
	cfg.WriteTasks = c.WriteTasks
	cfg.WriteOptions = storage.WriteOptions{AwaitDurable: c.AwaitDurable}
	cfg.WriteRate = c.WriteRate
	cfg.NumRows = c.NumRows
	cfg.Duration = c.Duration

	stOpts := storage.DefaultOptions()
	stOpts.WALEnabled = !c.DisableWAL
	stOpts.InMemory = c.DisklessMode
	if c.FlushMs != nil {
		flushInterval := time.Duration(*c.FlushMs) * time.Millisecond
		stOpts.FlushInterval = &flushInterval
	}
	stOpts.MemTableSize = c.MemTableSize
	stOpts.L0SSTSize = c.L0SSTSize
	return cfg, stOpts
}

// KeySupplier returns the key generator supplier for the configured
// key distribution and length.
func (c *Config) KeySupplier() (bench.KeyGeneratorSupplier, error) {
	dist, err := bench.ParseKeyDistribution(c.KeyDistribution)
	if err != nil {
		return nil, err
	}
	return bench.NewKeyGeneratorSupplier(dist, c.KeyLen)
}

// IsInvalid reports whether err stems from an invalid configuration.
func IsInvalid(err error) bool {
	return errors.Is(err, bench.ErrInvalidConfig)
}
