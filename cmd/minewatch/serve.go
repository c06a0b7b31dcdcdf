package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/minewatch/minewatch/internal/config"
	"github.com/minewatch/minewatch/internal/handlers"
	"github.com/minewatch/minewatch/internal/jobs"
	"github.com/minewatch/minewatch/internal/middleware"
)

func serveCommand(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, task workers and scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg())
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.startWorkers(ctx); err != nil {
		return err
	}

	hub := handlers.NewEventHub(nil)
	a.events.Subscribe(hub)
	defer hub.Close()

	jwtAuth := middleware.NewJWTAuthMiddleware(middleware.JWTAuthConfig{
		Secret:      cfg.JWTSecret,
		ExpiryHours: cfg.JWTExpiryHours,
		SkipPaths:   []string{"/health", "/metrics", "/auth/login"},
	})

	mux := http.NewServeMux()
	handlers.NewHTTPHandler(a.db, a.queue, a.metrics.Handler()).SetupRoutes(mux)
	handlers.NewAuthHandler(a.db, jwtAuth).SetupRoutes(mux)
	handlers.NewAPIHandler(handlers.APIDeps{
		DB:             a.db,
		Analyzer:       a.orchestrator,
		Investigations: a.investigations,
		Alerts:         a.alerts,
		Detections:     a.detections,
		FinancialRisks: a.financialRisks,
		Feedback:       a.feedback,
		Events:         a.events,
		Images:         a.controller,
	}).SetupRoutes(mux)
	hub.SetupRoutes(mux)

	cors := middleware.NewCORSMiddleware(cfg.CORSAllowedOrigins...)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           middleware.RequestIDMiddleware(middleware.AccessLog(cors.Wrap(jwtAuth.Wrap(mux)))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheduler := jobs.NewScheduler(jobs.SchedulerConfig{
		ScanSchedule:       cfg.ScanSchedule,
		AnalysisSchedule:   cfg.AnalysisSchedule,
		AnalysisMonthsBack: cfg.AnalysisMonthsBack,
	}, a.scanJob(), a.orchestrator)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	stuck := jobs.NewStuckProcessingMonitor(a.db, a.events, time.Duration(cfg.StuckProcessingMinutes)*time.Minute)
	repair := jobs.NewSagaRepairJob(a.detections, 5*time.Minute, 100)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stuck.Start(gctx, 5*time.Minute)
		return nil
	})
	g.Go(func() error {
		repair.Start(gctx, time.Duration(cfg.RepairIntervalMinutes)*time.Minute)
		return nil
	})
	g.Go(func() error {
		log.Printf("Starting HTTP server on port %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		hub.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	log.Printf("minewatch is running (region %s). Press Ctrl+C to exit.", cfg.RegionCode)
	err = g.Wait()
	log.Println("Shutdown complete")
	return err
}
