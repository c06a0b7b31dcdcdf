package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/minewatch/minewatch/internal/config"
	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/imagery"
	"github.com/minewatch/minewatch/internal/inference"
	"github.com/minewatch/minewatch/internal/ingestion"
	"github.com/minewatch/minewatch/internal/jobs"
	"github.com/minewatch/minewatch/internal/metrics"
	"github.com/minewatch/minewatch/internal/middleware"
	"github.com/minewatch/minewatch/internal/services"
	slackutil "github.com/minewatch/minewatch/internal/slack"
)

// app is the wired object graph shared by the subcommands.
type app struct {
	cfg      *config.Config
	settings config.DetectionSettings
	db       *gorm.DB
	metrics  *metrics.PipelineMetrics
	catalog  *imagery.Client

	events         *services.EventLogService
	queue          *ingestion.Queue
	controller     *ingestion.Controller
	investigations *services.InvestigationService
	alerts         *services.AlertService
	detections     *services.DetectionService
	feedback       *services.FeedbackService
	financialRisks *services.FinancialRiskService
	orchestrator   *services.AnalysisOrchestrator
}

func newApp(cfg *config.Config) (*app, error) {
	settings, err := config.LoadDetectionSettings(cfg.DetectionConfigPath)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	a := &app{cfg: cfg, settings: settings, db: db, metrics: m}
	a.catalog = imagery.NewClient(cfg.ImageryBaseURL, cfg.ImageryAPIKey, cfg.ImageryRatePerSec)
	a.events = services.NewEventLogService(db)

	a.queue = ingestion.NewQueue(ingestion.QueueConfig{
		Workers:    cfg.WorkerCount,
		MaxRetries: cfg.TaskMaxRetries,
		RetryDelay: cfg.TaskRetryDelay,
		Buffer:     256,
	}, m)
	a.controller = ingestion.NewController(db, a.catalog, a.queue, a.events, m)

	var predictor inference.Predictor
	if cfg.InferenceBaseURL != "" {
		predictor = inference.NewHTTPPredictor(cfg.InferenceBaseURL)
		log.Printf("ML inference enabled at %s", cfg.InferenceBaseURL)
	} else {
		log.Printf("ML inference disabled; detections rely on spectral anomalies only")
	}
	scorer := inference.NewScorer(a.catalog, predictor,
		time.Duration(cfg.PredictionCacheMinutes)*time.Minute,
		settings.Imagery.PatchSize, settings.Imagery.PatchScale)

	var notifier services.AlertNotifier
	if n := slackutil.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertsChannel); n != nil {
		notifier = n
		log.Printf("Slack alerts enabled for channel %s", cfg.SlackAlertsChannel)
	} else {
		log.Printf("Slack alerts disabled (set SLACK_BOT_TOKEN and SLACK_ALERTS_CHANNEL)")
	}

	a.investigations = services.NewInvestigationService(db, a.events)
	a.alerts = services.NewAlertService(db, a.events)
	a.feedback = services.NewFeedbackService(db)
	a.financialRisks = services.NewFinancialRiskService(db)
	a.detections = services.NewDetectionService(db, settings, scorer, a.investigations, a.events, notifier, m)
	a.orchestrator = services.NewAnalysisOrchestrator(db, services.OrchestratorConfig{
		RegionCode:   cfg.RegionCode,
		Imagery:      settings.Imagery,
		ImageTimeout: time.Duration(cfg.ImageWaitMinutes) * time.Minute,
	}, a.catalog, a.controller, a.detections, a.events, m)

	return a, nil
}

// openDatabase connects, migrates and seeds the default records.
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, logger.Warn)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	var hash string
	if cfg.AdminPassword != "" {
		if hash, err = middleware.HashPassword(cfg.AdminPassword); err != nil {
			return nil, fmt.Errorf("failed to hash admin password: %w", err)
		}
	}
	if err := database.InitializeDefaults(db, cfg.AdminEmail, hash); err != nil {
		return nil, err
	}
	return db, nil
}

func (a *app) scanJob() *jobs.ScanJob {
	lookback := time.Duration(a.cfg.AnalysisMonthsBack) * 30 * 24 * time.Hour
	return jobs.NewScanJob(a.db, a.cfg.RegionCode, a.settings.Imagery, lookback, a.catalog, a.controller)
}

// startWorkers starts the task queue and hands it the PENDING images a
// previous process left behind.
func (a *app) startWorkers(ctx context.Context) error {
	a.queue.Start(ctx, a.controller.Process)
	if _, err := a.controller.ResumePending(ctx); err != nil {
		return err
	}
	return nil
}

func (a *app) close() {
	a.queue.Stop()
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}
