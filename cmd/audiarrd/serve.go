package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/audiarr/audiarr/internal/api"
	"github.com/audiarr/audiarr/internal/catalog"
	"github.com/audiarr/audiarr/internal/config"
	"github.com/audiarr/audiarr/internal/convert"
	"github.com/audiarr/audiarr/internal/engine"
	"github.com/audiarr/audiarr/internal/events"
	"github.com/audiarr/audiarr/internal/license"
	"github.com/audiarr/audiarr/internal/media"
	"github.com/audiarr/audiarr/internal/metrics"
	"github.com/audiarr/audiarr/internal/platform/sqlite"
	"github.com/audiarr/audiarr/internal/task"
)

// serveCmd runs the orchestrator daemon.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigAndLogger()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	log := slog.Default()

	if err := os.MkdirAll(cfg.Pipeline.WorkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	if err := os.MkdirAll(cfg.Pipeline.LibraryDir, 0o755); err != nil {
		return fmt.Errorf("failed to create library directory: %w", err)
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := sqlite.Migrate(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	bus := events.NewBus(0, log)
	defer bus.Close()

	parser, err := license.NewTokenParser(cfg.License.TokenSecret)
	if err != nil {
		return fmt.Errorf("failed to build token parser: %w", err)
	}
	licenseSvc := license.NewHTTPService(cfg.License.Endpoint, parser, log)
	cat := catalog.NewHTTPCatalog(cfg.Catalog.Endpoint, log)
	eng := engine.NewHTTPEngine(cfg.Engine.Endpoint, log)

	convStore := sqlite.NewConversionStore(db)
	converter := convert.NewFFmpegConverter(cfg.Pipeline.FFmpegPath, log)
	convQueue := convert.NewQueue(convStore, converter, log, func(subTaskID string, p convert.Progress) {
		ev := events.New(events.ConversionProgress, nil)
		ev.TaskID = subTaskID
		ev.Progress = &events.Progress{
			CurrentTimeMs: p.CurrentTimeMs,
			DurationMs:    p.DurationMs,
			SpeedRatio:    p.SpeedRatio,
		}
		bus.Publish(ev)
	})

	tool := media.NewExecTool(cfg.Pipeline.FFprobePath, cfg.Pipeline.FFmpegPath)
	validator := media.NewValidator(tool, log)
	library := task.NewFSLibrary(cfg.Pipeline.LibraryDir)

	historyStore := sqlite.NewRetirementStore(db)
	coord := task.New(task.Config{
		TickInterval:         cfg.Tasks.TickInterval,
		AcquisitionLimit:     cfg.Tasks.AcquisitionLimit,
		HistoryMaxAge:        cfg.Tasks.HistoryMaxAge,
		HistorySweepInterval: cfg.Tasks.HistorySweepInterval,
	}, bus, historyStore, m, log)

	acq := task.NewAcquisitionWorker(
		eng, licenseSvc, convQueue, validator, library, cat, m, log, cfg.Pipeline.WorkDir)
	coord.RegisterWorker(acq)
	coord.RegisterWorker(task.NewCatalogSyncWorker(cat, log))
	coord.RegisterWorker(task.NewCredentialRefreshWorker(licenseSvc, log))

	// Without a platform meter signal the unmetered requirement is applied
	// conservatively: scans report zero matches until the operator clears
	// the constraint.
	var gate task.NetworkGate
	if cfg.Schedule.RequireUnmetered {
		gate = func(ctx context.Context) bool { return false }
	}
	coord.RegisterWorker(task.NewPolicyWorker(
		coord, cat, gate, cfg.Schedule.PolicyBatchLimit, log))

	coord.SetRecoveryLoader(task.NewLoader(coord, eng, cat, log))

	trigger := task.NewPolicyTrigger(coord, bus, log)
	scheduler := task.NewScheduler(coord, task.ScheduleConfig{
		CatalogSyncInterval:       cfg.Schedule.CatalogSyncInterval,
		CredentialRefreshInterval: cfg.Schedule.CredentialRefreshInterval,
		PolicyScanInterval:        cfg.Schedule.PolicyScanInterval,
	}, log)

	taskHandler := api.NewTaskHandler(coord, cat, log)
	conversionsHandler := api.NewConversionsHandler(convQueue, log)
	eventsHandler := api.NewEventsHandler(bus, log)
	router := api.NewRouter(taskHandler, conversionsHandler, eventsHandler, registry)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := convQueue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start conversion queue: %w", err)
	}
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}
	trigger.Start(ctx)
	scheduler.Start(ctx)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		log.Info("shutting down")
		scheduler.Stop()
		trigger.Stop()
		coord.Stop()
		convQueue.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown complete")
	return nil
}
