package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"genforge/internal/adapters/backends"
	"genforge/internal/adapters/duckdb"
	appconfig "genforge/internal/config"
	"genforge/internal/core/domain"
	"genforge/internal/core/ports"
	"genforge/internal/core/services"
	"genforge/internal/reconcile"
	"genforge/pkg/kernel"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting genforge kernel")

	if err := run(logger); err != nil {
		logger.Error("kernel startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	configPath := os.Getenv("GENFORGE_CONFIG")
	if configPath == "" {
		configPath = "genforge.yaml"
	}

	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// History is optional: an empty path disables recording entirely.
	var history *duckdb.HistoryRepo
	if cfg.HistoryDBPath != "" {
		history, err = duckdb.NewHistoryRepo(logger, cfg.HistoryDBPath)
		if err != nil {
			return fmt.Errorf("failed to init history repository: %w", err)
		}
		defer history.Close()
	}

	backend, err := backends.New(logger, cfg.Backend)
	if err != nil {
		return fmt.Errorf("failed to build backend: %w", err)
	}

	// Core services
	tracker := services.NewJobTracker(logger)
	documents := services.NewDocumentStore(logger)
	scratch := services.NewScratchManager(logger, cfg.KeepScratchFiles)
	eventBus := services.NewEventBus(logger)
	engine := reconcile.NewEngine(logger, cfg.Reconcile)

	lifecycle := services.NewGenerationLifecycle(
		logger, tracker, documents, scratch, eventBus, backend, engine,
		historyOrNil(history), cfg.MaxConcurrentProcesses,
	)

	// Hot-reload: when the config file changes, rebuild the backend and
	// swap it in the lifecycle.
	watcher, err := appconfig.NewWatcher(logger, configPath)
	if err != nil {
		logger.Warn("config watcher unavailable, hot-reload disabled", "error", err)
	} else {
		defer watcher.Close()
		watcher.OnChange(func(next *domain.AppConfig) {
			newBackend, err := backends.New(logger, next.Backend)
			if err != nil {
				logger.Error("failed to rebuild backend on config change", "error", err)
				return
			}
			lifecycle.SetBackend(newBackend)
		})
		watcher.Start(ctx)
	}

	apiServer := kernel.NewServer(logger, lifecycle, documents, eventBus, historyOrNil(history))

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: c.Handler(apiServer.Handler()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.ListenAddr, "backend", cfg.Backend.Kind)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// Let in-flight generations finish before the process exits.
		lifecycle.Wait()
		return nil
	})

	return g.Wait()
}

// historyOrNil keeps a nil interface nil: a typed nil *HistoryRepo inside
// ports.HistoryRepository would defeat the lifecycle's nil check.
func historyOrNil(repo *duckdb.HistoryRepo) ports.HistoryRepository {
	if repo == nil {
		return nil
	}
	return repo
}
