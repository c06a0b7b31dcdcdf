package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/config"
	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/imagery"
	"github.com/minewatch/minewatch/internal/ingestion"
	"github.com/minewatch/minewatch/internal/metrics"
	"github.com/minewatch/minewatch/internal/utils"
)

const (
	MinMonthsBack = 1
	MaxMonthsBack = 12

	// ErrNoImages is reported, not failed, when the window holds no imagery.
	ErrNoImages = "no satellite images found"
)

// AssetLister lists the imagery available for a window.
type AssetLister interface {
	ListRecentAssets(ctx context.Context, w imagery.Window) ([]imagery.Asset, error)
}

// RunRequest starts an analysis over the last MonthsBack months.
type RunRequest struct {
	MonthsBack  int
	RequestedBy *uint
}

// RunResult aggregates one analysis run. Per-image failures are collected in
// Errors and never abort the run.
type RunResult struct {
	Success               bool      `json:"success"`
	ImagesProcessed       int       `json:"images_processed"`
	DetectionsFound       int       `json:"detections_found"`
	AlertsGenerated       int       `json:"alerts_generated"`
	InvestigationsCreated int       `json:"investigations_created"`
	Errors                []string  `json:"errors"`
	StartedAt             time.Time `json:"started_at"`
	FinishedAt            time.Time `json:"finished_at"`
}

func (r *RunResult) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// OrchestratorConfig tunes the analysis orchestrator
type OrchestratorConfig struct {
	RegionCode   string
	Imagery      config.ImagerySettings
	PollInterval time.Duration
	// ImageTimeout bounds the wait for one image to finish processing.
	ImageTimeout time.Duration
}

// AnalysisOrchestrator drives a batch of recent imagery through ingestion
// and detection.
type AnalysisOrchestrator struct {
	db         *gorm.DB
	cfg        OrchestratorConfig
	assets     AssetLister
	ingestion  *ingestion.Controller
	detections *DetectionService
	events     *EventLogService
	metrics    *metrics.PipelineMetrics
	now        func() time.Time
}

// NewAnalysisOrchestrator creates an orchestrator
func NewAnalysisOrchestrator(
	db *gorm.DB,
	cfg OrchestratorConfig,
	assets AssetLister,
	controller *ingestion.Controller,
	detections *DetectionService,
	events *EventLogService,
	m *metrics.PipelineMetrics,
) *AnalysisOrchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = 30 * time.Minute
	}
	if cfg.Imagery.MaxImagesPerRun <= 0 {
		cfg.Imagery.MaxImagesPerRun = 5
	}
	return &AnalysisOrchestrator{
		db:         db,
		cfg:        cfg,
		assets:     assets,
		ingestion:  controller,
		detections: detections,
		events:     events,
		metrics:    m,
		now:        time.Now,
	}
}

// Run processes and analyses the most recent images of the look-back window.
// Only an invalid request returns an error; every other failure is reported
// in the result.
func (o *AnalysisOrchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.MonthsBack < MinMonthsBack || req.MonthsBack > MaxMonthsBack {
		return nil, invalid("months_back", "must be between %d and %d", MinMonthsBack, MaxMonthsBack)
	}

	result := &RunResult{StartedAt: o.now(), Errors: []string{}}
	defer func() {
		result.FinishedAt = o.now()
		o.metrics.RecordAnalysisRun(result.Success, result.FinishedAt.Sub(result.StartedAt))
	}()

	o.events.Log(ctx, database.EventLog{
		Type:     database.EventAnalysisStarted,
		Message:  fmt.Sprintf("Analysis started for the last %d month(s)", req.MonthsBack),
		UserID:   req.RequestedBy,
		Metadata: database.JSONB{"months_back": req.MonthsBack},
	})
	log.Printf("AnalysisOrchestrator: Starting analysis over %d month(s)", req.MonthsBack)

	region, err := database.GetRegionByCode(o.db.WithContext(ctx), o.cfg.RegionCode)
	if err != nil {
		result.addError("region %s unavailable: %v", o.cfg.RegionCode, err)
		o.complete(ctx, req, result)
		return result, nil
	}

	end := o.now()
	assets, err := o.assets.ListRecentAssets(ctx, imagery.Window{
		RegionCode:       region.Code,
		Start:            end.AddDate(0, 0, -30*req.MonthsBack),
		End:              end,
		MaxCloudCoverage: o.cfg.Imagery.MaxCloudCoverage,
		Collection:       o.cfg.Imagery.Collection,
	})
	if err != nil {
		result.addError("failed to list satellite images: %v", err)
		o.complete(ctx, req, result)
		return result, nil
	}
	if len(assets) == 0 {
		result.addError(ErrNoImages)
		o.events.Log(ctx, database.EventLog{
			Type:     database.EventSystemError,
			Message:  ErrNoImages,
			UserID:   req.RequestedBy,
			RegionID: &region.ID,
			Metadata: database.JSONB{"months_back": req.MonthsBack},
		})
		result.Success = true
		o.complete(ctx, req, result)
		return result, nil
	}

	sort.SliceStable(assets, func(i, j int) bool {
		return assets[i].CaptureDate.Before(assets[j].CaptureDate)
	})
	if n := o.cfg.Imagery.MaxImagesPerRun; len(assets) > n {
		assets = assets[len(assets)-n:]
	}

	// Queue everything first so the workers process the batch in parallel,
	// then analyse in capture order.
	images := make([]*database.Image, len(assets))
	for i, a := range assets {
		img, _, err := o.ingestion.Ensure(ctx, region, a, req.RequestedBy)
		if err != nil {
			result.addError("failed to queue %s: %v", a.ID, err)
			continue
		}
		images[i] = img
	}

	for i, a := range assets {
		if images[i] == nil {
			continue
		}
		if ctx.Err() != nil {
			result.addError("analysis interrupted before %s: %v", a.ID, ctx.Err())
			break
		}
		o.processOne(ctx, a, images[i].ID, result)
	}

	result.Success = true
	o.complete(ctx, req, result)
	return result, nil
}

func (o *AnalysisOrchestrator) processOne(ctx context.Context, a imagery.Asset, imageID uint, result *RunResult) {
	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.ImageTimeout)
	img, err := o.ingestion.WaitTerminal(waitCtx, imageID, o.cfg.PollInterval)
	cancel()
	if err != nil {
		result.addError("processing of %s did not finish: %v", a.ID, err)
		return
	}
	if img.Status != database.ImageStatusCompleted {
		result.addError("processing failed for %s: %s", a.ID, img.ProcessingError)
		return
	}
	result.ImagesProcessed++

	analysis, err := o.detections.AnalyzeImage(ctx, img)
	if analysis == nil {
		result.addError("analysis failed for %s: %v", a.ID, err)
		return
	}
	if analysis.Detection == nil {
		return
	}

	result.DetectionsFound++
	if analysis.Downstream.AlertCreated {
		result.AlertsGenerated++
	}
	if analysis.Downstream.InvestigationCreated {
		result.InvestigationsCreated++
	}
	if err != nil {
		result.addError("detection %d on %s is incomplete: %v", analysis.Detection.ID, a.ID, err)
	}
}

func (o *AnalysisOrchestrator) complete(ctx context.Context, req RunRequest, result *RunResult) {
	o.events.Log(ctx, database.EventLog{
		Type: database.EventAnalysisCompleted,
		Message: fmt.Sprintf("Analysis finished: %d image(s), %d detection(s), %d alert(s)",
			result.ImagesProcessed, result.DetectionsFound, result.AlertsGenerated),
		UserID: req.RequestedBy,
		Metadata: database.JSONB{
			"success":                result.Success,
			"images_processed":       result.ImagesProcessed,
			"detections_found":       result.DetectionsFound,
			"alerts_generated":       result.AlertsGenerated,
			"investigations_created": result.InvestigationsCreated,
			"errors":                 len(result.Errors),
		},
	})
	log.Printf("AnalysisOrchestrator: Finished in %s (success=%t, images=%d, detections=%d, errors=%d)",
		utils.FormatDuration(o.now().Sub(result.StartedAt)), result.Success, result.ImagesProcessed,
		result.DetectionsFound, len(result.Errors))
}
