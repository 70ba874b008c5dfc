package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/netcensus/netcensus/internal/api"
	"github.com/netcensus/netcensus/internal/backupstore"
	"github.com/netcensus/netcensus/internal/capture"
	"github.com/netcensus/netcensus/internal/config"
	"github.com/netcensus/netcensus/internal/daystore"
	"github.com/netcensus/netcensus/internal/dedup"
	"github.com/netcensus/netcensus/internal/health"
	"github.com/netcensus/netcensus/internal/lifetimestate"
	"github.com/netcensus/netcensus/internal/lockfile"
	"github.com/netcensus/netcensus/internal/logging"
	"github.com/netcensus/netcensus/internal/supervisor"
	"github.com/netcensus/netcensus/internal/watchdog"
)

var (
	configPath = flag.String("config", "/etc/netcensus/config.yaml", "Path to config file")
	version    = flag.Bool("version", false, "Print version and exit")
	appVersion = "dev" // Set by -ldflags during build
)

const backupCleanupInterval = 24 * time.Hour

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("netcensusd %s\n", appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logLevel := logging.LevelInfo
	if cfg.Logging.Level != "" {
		logLevel = logging.Level(cfg.Logging.Level)
	}
	logFormat := logging.DefaultConfig().Format
	if cfg.Logging.Format != "" {
		logFormat = logging.Format(cfg.Logging.Format)
	}
	logger := logging.New(logging.Config{
		Level:  logLevel,
		Format: logFormat,
		Output: os.Stdout,
	})
	logging.SetDefault(logger)

	runID := uuid.NewString()
	logger.Info("starting netcensus",
		slog.String("version", appVersion),
		slog.String("run_id", runID),
		slog.String("storage_path", cfg.Storage.Path),
	)

	storageDir, err := filepath.Abs(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to resolve storage path: %v", err)
	}
	backupDir := filepath.Join(storageDir, "backups")
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		log.Fatalf("Failed to create storage directory: %v", err)
	}
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		log.Fatalf("Failed to create backup directory: %v", err)
	}

	lockPath := lockfile.GetLockPath(storageDir)
	lock, err := lockfile.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire process lock - another instance may be running",
			slog.Any("error", err),
			slog.String("lock_path", lockPath),
		)
		os.Exit(1)
	}
	defer lock.Release()
	logger.Info("process lock acquired", slog.String("lock_path", lockPath))

	wd := watchdog.NewPinger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if wd.IsEnabled() {
		go wd.Start(ctx)
		logger.Info("watchdog pinger started", slog.Duration("interval", wd.GetInterval()))
	}

	now := time.Now()
	lifetime, err := lifetimestate.Load(storageDir, backupDir, appVersion, runID, now)
	if err != nil {
		logger.Error("failed to load lifetime state", slog.Any("error", err))
		os.Exit(1)
	}
	if lifetime.WasUnexpectedShutdown(now) {
		logger.Warn("previous run appears to have terminated without a clean shutdown")
	}

	days := daystore.New(storageDir, backupDir, cfg.Monitoring.ConsolidationCeiling(), time.Local)

	dedupTTL, err := cfg.Monitoring.DedupTTL()
	if err != nil {
		logger.Error("invalid dedup_ttl", slog.Any("error", err))
		os.Exit(1)
	}
	deduper := dedup.New(dedupTTL)

	idleDegraded, err := cfg.Health.IdleDegraded()
	if err != nil {
		logger.Error("invalid idle_degraded", slog.Any("error", err))
		os.Exit(1)
	}
	healthChecker := health.NewChecker(health.Thresholds{IdleDegraded: idleDegraded})

	captureOpts := capture.Options{
		SnapLen:    cfg.Capture.SnapshotLength(),
		BufferSize: cfg.Capture.BufferSizeBytes(),
		Timeout:    cfg.Capture.ReadTimeout(),
	}
	adapterOpenBackoff, err := cfg.Monitoring.AdapterOpenBackoff()
	if err != nil {
		logger.Error("invalid adapter_open_backoff", slog.Any("error", err))
		os.Exit(1)
	}

	sup := supervisor.New(deduper, days, lifetime, healthChecker, captureOpts, adapterOpenBackoff, logger)
	ops := api.New(sup, days, lifetime)

	var wg sync.WaitGroup

	healthAddr := cfg.Health.ListenAddress()
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting health server", slog.String("address", healthAddr))
		if err := healthChecker.StartHTTPServer(ctx, healthAddr); err != nil {
			logger.Error("health server error", slog.Any("error", err))
		}
	}()

	discoveryInterval, err := cfg.Monitoring.DiscoveryInterval()
	if err != nil {
		logger.Error("invalid discovery_interval", slog.Any("error", err))
		os.Exit(1)
	}
	flushInterval, err := cfg.Monitoring.FlushInterval()
	if err != nil {
		logger.Error("invalid flush_interval", slog.Any("error", err))
		os.Exit(1)
	}
	dedupSweepInterval, err := cfg.Monitoring.DedupSweepInterval()
	if err != nil {
		logger.Error("invalid dedup_sweep_interval", slog.Any("error", err))
		os.Exit(1)
	}

	started, failed := ops.StartComprehensive(ctx, now)
	logger.Info("comprehensive monitoring started",
		slog.Int("adapters_started", len(started)),
		slog.Int("adapters_failed", len(failed)),
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		runDiscoveryLoop(ctx, sup, discoveryInterval, logger)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runFlushLoop(ctx, sup, flushInterval, logger)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runDedupSweepLoop(ctx, deduper, dedupSweepInterval, logger)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runBackupCleanupLoop(ctx, backupDir, cfg.Storage.BackupRetention(), logger)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if watchdog.IsRunningUnderSystemd() {
		if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			logger.Error("failed to notify systemd ready", slog.Any("error", err))
		} else if sent {
			logger.Info("notified systemd: service ready")
		}
	}
	logger.Info("netcensus running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("shutdown signal received, stopping...")

	if watchdog.IsRunningUnderSystemd() {
		if sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
			logger.Error("failed to notify systemd stopping", slog.Any("error", err))
		} else if sent {
			logger.Info("notified systemd: service stopping")
		}
	}

	cancel()

	stopNow := time.Now()
	stopped := ops.StopComprehensive(stopNow)
	logger.Info("adapters stopped", slog.Int("count", len(stopped)))

	if err := lifetime.RecordShutdown(stopNow); err != nil {
		logger.Error("failed to record clean shutdown", slog.Any("error", err))
	}

	totals := ops.GetLifetimeTotals()
	for name, t := range totals {
		logger.Info("lifetime totals",
			slog.String("adapter", name),
			slog.String("bytes_in", humanize.Bytes(t.CumulativeBytesIn)),
			slog.String("bytes_out", humanize.Bytes(t.CumulativeBytesOut)),
		)
	}

	wg.Wait()

	logger.Info("shutdown complete")
}

func runDiscoveryLoop(ctx context.Context, sup *supervisor.Supervisor, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if err := sup.DiscoveryTick(ctx, now); err != nil {
				logger.Warn("discovery tick failed", slog.Any("error", err))
				continue
			}
			sup.RefreshHealth(now)
		}
	}
}

func runFlushLoop(ctx context.Context, sup *supervisor.Supervisor, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sup.FlushTick(time.Now())
		}
	}
}

func runDedupSweepLoop(ctx context.Context, deduper *dedup.Deduper, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := deduper.Sweep(time.Now())
			if evicted > 0 {
				logger.Debug("dedup sweep", slog.Int("evicted", evicted), slog.Int("remaining", deduper.Len()))
			}
		}
	}
}

func runBackupCleanupLoop(ctx context.Context, backupDir string, retention time.Duration, logger *slog.Logger) {
	cleanup := func() {
		if err := backupstore.CleanupOlderThan(backupDir, retention, time.Now()); err != nil {
			logger.Error("backup cleanup failed", slog.Any("error", err))
		}
	}
	cleanup()

	ticker := time.NewTicker(backupCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanup()
		}
	}
}
