// Command syncd runs the ledgersync daemon: periodic full history syncs for
// every active user plus the asynchronous enrichment queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/coachpo/ledgersync/config"
	"github.com/coachpo/ledgersync/internal/exchange"
	"github.com/coachpo/ledgersync/internal/exchange/binance"
	"github.com/coachpo/ledgersync/internal/exchange/bybit"
	"github.com/coachpo/ledgersync/internal/exchange/okx"
	"github.com/coachpo/ledgersync/internal/infra/persistence/postgres"
	"github.com/coachpo/ledgersync/internal/ingest"
	"github.com/coachpo/ledgersync/internal/observability"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to the YAML configuration file (optional)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	zl, err := buildZap(cfg.Environment)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := observability.NewZapLogger(zl)
	observability.SetLogger(logger)

	_, telemetryShutdown, err := observability.InitTelemetry(ctx, observability.TelemetrySettings{
		OTLPEndpoint: cfg.OTLPEndpoint,
		ServiceName:  cfg.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", observability.F("error", err.Error()))
		}
	}()

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database URL required (LEDGERSYNC_DATABASE_URL or config file)")
	}
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	postgres.ObservePoolMetrics(pool, "ledger")

	caps, err := postgres.DetectCapabilities(ctx, pool)
	if err != nil {
		return err
	}
	logger.Info("schema capabilities detected",
		observability.F("enrichment_status", caps.EnrichmentStatus))

	registry := exchange.NewRegistry()
	binance.RegisterFactory(registry)
	bybit.RegisterFactory(registry)
	okx.RegisterFactory(registry)

	service, err := ingest.NewService(ingest.Config{
		Registry:          registry,
		Repository:        postgres.NewTransactionStore(pool, caps),
		Credentials:       postgres.NewCredentialStore(pool),
		Capabilities:      caps,
		Settings:          cfg.Exchange,
		Workers:           cfg.Workers,
		Queue:             cfg.Queue,
		SyncFanout:        cfg.SyncFanout,
		EnrichMaxAttempts: cfg.EnrichMaxAttempts,
		EnrichTimeout:     cfg.EnrichTimeout,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Warn("service shutdown", observability.F("error", err.Error()))
		}
	}()

	logger.Info("syncd started",
		observability.F("environment", string(cfg.Environment)),
		observability.F("sync_interval", cfg.SyncInterval.String()),
		observability.F("sync_window", cfg.SyncWindow.String()))

	runSyncLoop(ctx, service, cfg, logger)
	logger.Info("syncd stopping")
	return nil
}

func runSyncLoop(ctx context.Context, service *ingest.Service, cfg config.Settings, logger observability.Logger) {
	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	runOnce := func() {
		now := time.Now()
		window := exchange.Window{Start: now.Add(-cfg.SyncWindow), End: now}
		summaries := service.SyncAll(ctx, window)
		for _, summary := range summaries {
			report(logger, summary)
		}
	}

	runOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

func report(logger observability.Logger, summary ingest.Summary) {
	fields := []observability.Field{
		observability.F("exchange", string(summary.Exchange)),
		observability.F("user_id", summary.UserID),
		observability.F("synced", summary.Synced),
		observability.F("skipped", summary.Skipped),
	}
	if summary.Err != nil {
		fields = append(fields, observability.F("error", summary.Err.Error()))
		logger.Warn("sync finished with errors", fields...)
		return
	}
	logger.Info("sync finished", fields...)
}

func buildZap(env config.Environment) (*zap.Logger, error) {
	if env == config.EnvDev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
