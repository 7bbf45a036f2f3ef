package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"fuelsync/internal/app"
	"fuelsync/internal/config"
	"fuelsync/internal/lease"
	"fuelsync/internal/logging"
	"fuelsync/internal/metrics"
	"fuelsync/internal/metrics/datadog"
	"fuelsync/internal/warehouse"
)

const usage = "usage: fuelsync -config <path> [-v] [-validate] [-schedule <cron>] [-metrics-backend none|datadog]"

// runner executes one synchronization run for cfg.
type runner interface {
	Run(ctx context.Context, cfg config.Config) (warehouse.RunResult, error)
}

// appDeps are the process seams runMain goes through, so the CLI contract can
// be tested without files, databases or metrics endpoints.
type appDeps struct {
	readFile    func(path string) ([]byte, error)
	parseConfig func(raw []byte) (config.Config, error)
	newLogger   func(level, encoding string) (*zap.Logger, error)
	initMetrics func(ctx context.Context, jobName string, mc config.Metrics) (func(), error)
	newRunner   func(logger *zap.Logger) runner
}

func main() {
	config.LoadDotenv(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, appDeps{
		readFile:    os.ReadFile,
		parseConfig: func(raw []byte) (config.Config, error) { return config.Parse(raw, os.Getenv) },
		newLogger:   logging.New,
		initMetrics: initMetrics,
		newRunner:   func(l *zap.Logger) runner { return pipelineRunner{logger: l} },
	})
	stop()
	os.Exit(code)
}

// runMain is main without the process: it returns the exit code.
//
// Exit codes:
//   - 0 success (or -validate with no errors)
//   - 1 config, metrics or run failure
//   - 2 usage error
//   - 3 another run holds today's lease
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("fuelsync", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath        string
		validate       bool
		verbose        bool
		schedule       string
		metricsBackend string
	)
	fs.StringVar(&cfgPath, "config", "", "config JSON path")
	fs.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&verbose, "v", false, "enable debug logs")
	fs.StringVar(&schedule, "schedule", "", "cron expression; overrides config schedule and keeps running")
	fs.StringVar(&metricsBackend, "metrics-backend", "", "metrics backend (none|datadog); overrides config")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfgPath = strings.TrimSpace(cfgPath)
	if cfgPath == "" {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	raw, err := deps.readFile(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 1
	}
	cfg, err := deps.parseConfig(raw)
	if err != nil {
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 1
	}
	if schedule != "" {
		cfg.Schedule = schedule
	}
	if metricsBackend != "" {
		cfg.Metrics.Backend = metricsBackend
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", cfgPath)
		return 1
	}
	if validate {
		fmt.Fprintln(stdout, "ok")
		return 0
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger, err := deps.newLogger(level, cfg.Log.Encoding)
	if err != nil {
		fmt.Fprintf(stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	cleanup, err := deps.initMetrics(ctx, cfg.Job, cfg.Metrics)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	r := deps.newRunner(logger)

	if cfg.Schedule != "" {
		if err := runScheduled(ctx, cfg, r, stdout, logger); err != nil {
			fmt.Fprintf(stderr, "schedule: %v\n", err)
			return 1
		}
		return 0
	}

	res, err := r.Run(ctx, cfg)
	writeResult(stdout, res)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		if errors.Is(err, lease.ErrLeaseHeld) {
			return 3
		}
		return 1
	}
	return 0
}

// runScheduled triggers a run on every tick of cfg.Schedule until ctx is
// cancelled. Overlapping ticks are skipped; a panicking run is logged and the
// scheduler keeps going.
func runScheduled(ctx context.Context, cfg config.Config, r runner, stdout io.Writer, logger *zap.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	cronLog := cron.PrintfLogger(logging.Printf(logger, "scheduler"))
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(cfg.Schedule, func() {
		res, err := r.Run(ctx, cfg)
		writeResult(stdout, res)
		if err != nil {
			logger.Error("run failed", zap.String("date", res.Date), zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}

	logger.Info("scheduler started", zap.String("schedule", cfg.Schedule), zap.String("timezone", cfg.Timezone))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("scheduler stopped")
	return nil
}

// writeResult prints res as one JSON line.
func writeResult(w io.Writer, res warehouse.RunResult) {
	_ = json.NewEncoder(w).Encode(res)
}

// pipelineRunner builds a fresh pipeline for every run so that connections
// are not held between scheduled ticks.
type pipelineRunner struct {
	logger *zap.Logger
}

func (r pipelineRunner) Run(ctx context.Context, cfg config.Config) (warehouse.RunResult, error) {
	p, cleanup, err := app.BuildPipeline(ctx, cfg, r.logger)
	if err != nil {
		return warehouse.RunResult{Job: cfg.Job, Status: warehouse.StatusFailed, Error: err.Error()}, err
	}
	defer cleanup()
	return p.Run(ctx)
}

// metricsBackend is the part of a metrics backend initMetrics owns.
type metricsBackend interface {
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	logPrintf = log.Printf
)

// initMetrics installs the configured metrics backend and returns its cleanup.
// cleanup is never nil.
func initMetrics(ctx context.Context, jobName string, mc config.Metrics) (func(), error) {
	nop := func() {}
	switch strings.ToLower(strings.TrimSpace(mc.Backend)) {
	case "", "none", "noop":
		return nop, nil
	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       mc.Tags,
			FlushEvery: mc.FlushEvery.Std(),
		})
		if err != nil {
			return nop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil
	default:
		return nop, fmt.Errorf("unknown metrics backend %q (none|datadog)", mc.Backend)
	}
}
