package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/flipkart-incubator/dkvbench/internal/bench"
	"github.com/flipkart-incubator/dkvbench/internal/opts"
	"github.com/flipkart-incubator/dkvbench/internal/stats"
	"github.com/flipkart-incubator/dkvbench/internal/storage/engines"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "dkvbench",
	Short: "dkvbench drives load against key value storage engines",
	Long:  "A load generator that writes random rows into Badger, Pebble or Redis and reports the achieved throughput",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var writeCmd = &cobra.Command{
	Use:           "write",
	Short:         "Runs a write-only workload against the storage engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var config opts.Config
		if err := config.Init(cfgFile, cmd.Flags()); err != nil {
			if opts.IsInvalid(err) {
				cmd.Usage()
			}
			return err
		}
		return runWrite(&config)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file, flags and DKVBENCH_* environment variables override its values")
	opts.AddFlags(writeCmd.Flags())
	rootCmd.AddCommand(writeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWrite(config *opts.Config) (err error) {
	runOpts := opts.NewRunOpts(setupDKVBenchLogger(config.LogLevel))
	lgr := runOpts.Logger
	defer lgr.Sync()
	config.Print(lgr)

	supplier, err := config.KeySupplier()
	if err != nil {
		return err
	}
	benchCfg, stOpts := config.Resolve()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case sig := <-setupSignalHandler():
			lgr.Warn("Caught signal. Stopping write tasks...", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	if config.StatsdAddr != "" {
		runOpts.StatsCli = stats.NewStatsDClient(config.StatsdAddr, stats.WithTag("engine", config.DbEngine))
		publisher := stats.NewPublisher(runOpts.Counters, runOpts.StatsCli, opts.DefaultStatsPublishInterval)
		pubCtx, stopPub := context.WithCancel(ctx)
		pubDone := make(chan struct{})
		go func() {
			defer close(pubDone)
			publisher.Run(pubCtx)
		}()
		defer func() {
			stopPub()
			<-pubDone
			err = multierr.Append(err, runOpts.StatsCli.Close())
		}()
	}
	if config.MetricsListenAddr != "" {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(runOpts.Counters)
		runOpts.PrometheusRegistry = promRegistry
		srv := serveMetrics(config.MetricsListenAddr, promRegistry, lgr)
		defer srv.Close()
	}

	kvs, err := engines.Open(config.DbEngine, config.Location(), stOpts,
		engines.WithLogger(lgr),
		engines.WithStats(runOpts.StatsCli),
		engines.WithPromStats(runOpts.PrometheusRegistry),
		engines.WithEngineConfig(config.DbEngineIni),
		engines.WithConnections(int(benchCfg.WriteTasks)),
	)
	if err != nil {
		lgr.Error("Storage engine init failed", zap.String("engine", config.DbEngine), zap.Error(err))
		return err
	}
	defer func() { err = multierr.Append(err, kvs.Close()) }()

	wb, err := bench.NewWriteBenchmark(benchCfg, supplier, kvs,
		bench.WithLogger(lgr),
		bench.WithRegistry(runOpts.Counters))
	if err != nil {
		return err
	}

	reportCtx, stopReport := context.WithCancel(ctx)
	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		newReporter(config, benchCfg, runOpts, lgr).Run(reportCtx)
	}()
	res, err := wb.Run(ctx)
	stopReport()
	<-reportDone

	printSummary(config.DbEngine, res, runOpts.Counters)
	return err
}

func newReporter(config *opts.Config, benchCfg bench.BenchmarkConfig, runOpts *opts.RunOpts, lgr *zap.Logger) *bench.Reporter {
	var reporterOpts []bench.ReporterOption
	if config.Progress && benchCfg.NumRows != nil {
		reporterOpts = append(reporterOpts, bench.WithProgressBar(*benchCfg.NumRows, os.Stderr))
	}
	return bench.NewReporter(runOpts.Counters, lgr, config.ReportInterval, reporterOpts...)
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, lgr *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lgr.Error("Unable to serve metrics", zap.String("addr", addr), zap.Error(err))
		}
	}()
	lgr.Info("Serving Prometheus metrics", zap.String("addr", addr))
	return srv
}

func printSummary(engine string, res *bench.Result, counters *stats.Registry) {
	header := color.New(color.FgCyan, color.Bold)
	value := color.New(color.FgGreen)
	header.Printf("\nWrite benchmark summary (%s)\n", engine)
	if res != nil {
		fmt.Printf("%-22s", "elapsed")
		value.Println(res.Elapsed.Round(time.Millisecond))
		if secs := res.Elapsed.Seconds(); secs > 0 {
			fmt.Printf("%-22s", "rows/sec")
			value.Printf("%.2f\n", float64(res.Rows)/secs)
		}
	}
	for _, name := range counters.Names() {
		fmt.Printf("%-22s", name)
		value.Println(counters.Counter(name).Get())
	}
}

func setupDKVBenchLogger(level string) *zap.Logger {
	dkvLoggerConfig := zap.Config{
		Development:   false,
		Encoding:      "console",
		DisableCaller: true,

		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	dkvLoggerConfig.Level = zap.NewAtomicLevelAt(lvl)
	if lvl == zapcore.DebugLevel {
		dkvLoggerConfig.EncoderConfig.StacktraceKey = "stacktrace"
	}

	if lg, err := dkvLoggerConfig.Build(); err != nil {
		log.Printf("[WARN] Unable to configure dkvbench logger. Error: %v\n", err)
		return zap.NewNop()
	} else {
		return lg
	}
}

func setupSignalHandler() <-chan os.Signal {
	signals := []os.Signal{syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM}
	stopChan := make(chan os.Signal, len(signals))
	signal.Notify(stopChan, signals...)
	return stopChan
}
