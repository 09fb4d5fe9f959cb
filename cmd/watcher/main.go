package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/aluiziolira/go-watch-listings/config"
	"github.com/aluiziolira/go-watch-listings/models"
	"github.com/aluiziolira/go-watch-listings/notifier"
	"github.com/aluiziolira/go-watch-listings/parser"
	"github.com/aluiziolira/go-watch-listings/pipeline"
	"github.com/aluiziolira/go-watch-listings/scraper"
	"github.com/aluiziolira/go-watch-listings/store"
)

func main() {
	configDefault, _ := config.EnvString("WATCHER_CONFIG")
	scheduleDefault, _ := config.EnvString("WATCHER_SCHEDULE")
	metricsDefault, _ := config.EnvString("WATCHER_METRICS_ADDR")
	dryRunDefault, _, err := config.EnvBool("WATCHER_DRY_RUN")
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid WATCHER_DRY_RUN: %v\n", err)
		os.Exit(1)
	}

	configPath := flag.String("config", configDefault, "Path to the JSON config file (default ./config.json)")
	schedule := flag.String("schedule", scheduleDefault, "Cron expression for repeated runs, e.g. \"@every 15m\"; empty runs once")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	dryRun := flag.Bool("dry-run", dryRunDefault, "Log notifications instead of sending them")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading configuration", slog.Any("error", err))
		os.Exit(1)
	}
	cfg.Schedule = *schedule
	cfg.MetricsAddr = *metricsAddr
	cfg.DryRun = *dryRun
	cfg.Verbose = *verbose
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	flagFile := pipeline.NewChangeFlag(cfg.PushFlagFile)
	st, err := store.NewFileStore(cfg.DataDir, flagFile)
	if err != nil {
		slog.Error("initialising store", slog.Any("error", err))
		os.Exit(1)
	}

	var sender pipeline.Notifier
	if cfg.DryRun {
		sender = notifier.LogNotifier{Logger: logger}
	} else {
		sender = notifier.NewTelegram(cfg.TelegramAPIURL, cfg.APIToken, cfg.Timeout)
	}

	p, err := pipeline.NewPipeline(cfg, pipeline.Dependencies{
		Fetcher:   s,
		Extractor: parser.New(cfg.BaseURL),
		Store:     st,
		Notifier:  sender,
		Debug:     pipeline.NewDebugWriter(cfg.DebugDir),
		Metrics:   pipeline.NewMetrics(s.Metrics.Registry),
	})
	if err != nil {
		slog.Error("initialising pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}
	defer func() {
		if metricsServer == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}()

	slog.Info("starting watcher",
		slog.Int("topics", len(cfg.Topics)),
		slog.Int("enabled", len(cfg.EnabledTopics())),
		slog.Bool("dry_run", cfg.DryRun),
		slog.String("schedule", cfg.Schedule),
	)

	run := func() error {
		startTime := time.Now()
		results, err := p.Run(ctx, cfg.Topics)
		if err != nil {
			return err
		}
		printSummary(results, time.Since(startTime), flagFile, p.Metrics().Snapshot())
		return nil
	}

	if cfg.Schedule == "" {
		if err := run(); err != nil {
			slog.Error("run failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := runScheduled(ctx, cfg.Schedule, run); err != nil {
		slog.Error("scheduler failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// runScheduled invokes run on every tick of expr until ctx is cancelled. A tick that
// arrives while the previous run is still going is skipped.
func runScheduled(ctx context.Context, expr string, run func() error) error {
	logger := cronLogger{logger: slog.Default()}
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(expr, func() {
		if err := run(); err != nil {
			slog.Error("scheduled run failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	c.Start()
	slog.Info("scheduler started", slog.String("schedule", expr))
	<-ctx.Done()
	slog.Info("shutdown signal received, waiting for the current run to finish")
	<-c.Stop().Done()
	return nil
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func printSummary(results []models.TopicResult, duration time.Duration, changeFlag *pipeline.ChangeFlag, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Watch run complete")

	failed, fresh := 0, 0
	for _, r := range results {
		fresh += r.New
		if !r.OK() {
			failed++
		}
	}
	fmt.Printf("  Topics:        %d\n", len(results))
	fmt.Printf("  Failed:        %d\n", failed)
	fmt.Printf("  New items:     %d\n", fresh)
	for _, r := range results {
		status := "ok"
		if !r.OK() {
			status = r.Err.Error()
		}
		fmt.Printf("    %-20s extracted=%d new=%d strategy=%s %s\n", r.Topic, r.Extracted, r.New, r.Strategy, status)
	}
	if sent, ok := metrics["notifications_sent"].(int64); ok {
		fmt.Printf("  Messages sent: %d (since start)\n", sent)
	}
	if changeFlag.Raised() {
		fmt.Printf("  Change flag:   %s\n", changeFlag.Path())
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
