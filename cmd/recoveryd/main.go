// cmd/recoveryd/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/FairForge/vaultaire-recovery/internal/alerting"
	"github.com/FairForge/vaultaire-recovery/internal/api"
	"github.com/FairForge/vaultaire-recovery/internal/config"
	"github.com/FairForge/vaultaire-recovery/internal/database"
	"github.com/FairForge/vaultaire-recovery/internal/drivers"
	"github.com/FairForge/vaultaire-recovery/internal/ha"
	"github.com/FairForge/vaultaire-recovery/internal/metrics"
	"github.com/FairForge/vaultaire-recovery/internal/schedule"
	"github.com/FairForge/vaultaire-recovery/internal/tenant"
)

func main() {
	configPath := flag.String("config", config.GetEnvOrDefault("RECOVERY_CONFIG", ""), "path to YAML config")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	level := zap.NewAtomicLevel()
	logger, err := newLogger(cfg.Server, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *configPath, logger, level); err != nil {
		logger.Fatal("recoveryd failed", zap.Error(err))
	}
}

func parseLevel(s string) (zapcore.Level, error) {
	level := zapcore.InfoLevel
	if s != "" {
		if err := level.UnmarshalText([]byte(s)); err != nil {
			return level, fmt.Errorf("log level %q: %w", s, err)
		}
	}
	return level, nil
}

func newLogger(cfg config.ServerConfig, level zap.AtomicLevel) (*zap.Logger, error) {
	l, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	level.SetLevel(l)
	zc := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (database.Store, error) {
	switch cfg.Driver {
	case config.StorePostgres:
		return database.OpenPostgres(ctx, cfg.Postgres)
	case config.StoreBadger:
		return database.OpenBadger(cfg.Badger, logger.Named("badger"))
	default:
		return database.NewMemoryStore(), nil
	}
}

func run(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close store", zap.Error(err))
		}
	}()
	logger.Info("state store ready", zap.String("driver", cfg.Store.Driver))

	if cfg.Drivers.StagingDir != "" {
		if err := os.MkdirAll(cfg.Drivers.StagingDir, 0750); err != nil {
			return fmt.Errorf("create staging dir: %w", err)
		}
	}

	recorder := metrics.NewRecorder()
	alerts := alerting.NewManager(cfg.Alerting, logger)
	archive := drivers.ArchiveOptions{TempDir: cfg.Drivers.StagingDir, Logger: logger}
	if cfg.Drivers.EncryptionKey != "" {
		sealer, err := drivers.NewAEADSealerFromHex(cfg.Drivers.EncryptionKey)
		if err != nil {
			return err
		}
		archive.Sealer = sealer
	}
	executor := drivers.NewArchiveExecutor(archive)

	registry := tenant.NewRegistry(tenant.Options{
		Config:         cfg.Tenants,
		Store:          store,
		Executor:       executor,
		Restorer:       drivers.NewArchiveRestorer(archive),
		Purger:         executor,
		Prober:         drivers.NewProber(logger),
		Monitor:        recorder,
		Alerts:         alerts,
		Calculator:     schedule.NewCalculator(),
		Logger:         logger,
		HealthObserver: recorder.ObserveBackupHealth,
	})
	if err := registry.Start(ctx); err != nil {
		return err
	}
	defer registry.Stop()

	sites, err := ha.NewSiteManager(cfg.DR.Sites, logger)
	if err != nil {
		return err
	}

	dr := ha.NewExecutor(ha.Options{
		Store:             store,
		Backups:           registry,
		Restores:          registry,
		Inspector:         registry,
		Health:            registry,
		Sites:             sites,
		Alerts:            alerts,
		Logger:            logger,
		ActivationHistory: cfg.DR.ActivationHistory,
		TestStaleAfter:    cfg.DR.TestStaleAfter,
		MonitorInterval:   cfg.DR.MonitorInterval,
		OnActivation:      recorder.ObserveActivation,
		OnStatus:          recorder.ObserveDRStatus,
	})
	if n, err := dr.Restore(ctx); err != nil {
		return fmt.Errorf("restore dr plans: %w", err)
	} else if n > 0 {
		logger.Info("dr plans restored", zap.Int("plans", n))
	}
	dr.Start(ctx)
	defer dr.Stop()

	server, err := api.NewServer(api.Options{
		Config:   cfg,
		Logger:   logger,
		Tenants:  registry,
		DR:       dr,
		Sites:    sites,
		Recorder: recorder,
	})
	if err != nil {
		return err
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
			if l, err := parseLevel(next.Server.LogLevel); err == nil {
				level.SetLevel(l)
			}
			server.ApplyRateLimit(next.RateLimit)
		}, logger)
		if err != nil {
			logger.Warn("config hot reload unavailable", zap.Error(err))
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("recoveryd listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver),
			zap.Int("sites", len(cfg.DR.Sites)))
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}
