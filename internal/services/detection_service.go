package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/minewatch/minewatch/internal/alerts"
	"github.com/minewatch/minewatch/internal/config"
	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/metrics"
	"github.com/minewatch/minewatch/internal/risk"
	"github.com/minewatch/minewatch/internal/scoring"
	"github.com/minewatch/minewatch/internal/utils"
)

// Saga step names, also used as metric labels.
const (
	StepAlert         = "alert"
	StepFinancialRisk = "financial_risk"
	StepInvestigation = "investigation"
)

// MLScorer returns the model score of a point of an asset, 0 when no model
// is available.
type MLScorer interface {
	Score(ctx context.Context, assetID string, lat, lon float64) float64
}

// AlertNotifier pushes a new alert to an external channel.
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert *database.Alert, detection *database.Detection) error
}

// StepError is one failed step of the downstream saga.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Downstream is the state of the records a detection fans out into.
type Downstream struct {
	Alert                *database.Alert
	AlertCreated         bool
	Risk                 *database.FinancialRisk
	RiskCreated          bool
	Investigation        *database.Investigation
	InvestigationCreated bool
}

// ImageAnalysis is the outcome of analysing one image.
type ImageAnalysis struct {
	ImageID    uint
	Skipped    string
	Evaluation scoring.Evaluation
	Detection  *database.Detection
	Downstream Downstream
}

// DetectionService scores processed images and turns detections into their
// alert, financial risk and investigation.
//
// The three downstream records are written by a saga: each step skips when
// its record already exists, a failed step never rolls back or blocks its
// siblings, and a detection missing any record is picked up again by
// RepairIncomplete.
type DetectionService struct {
	db             *gorm.DB
	combiner       *scoring.Combiner
	estimator      *risk.Estimator
	classifier     *alerts.Classifier
	ml             MLScorer
	investigations *InvestigationService
	events         *EventLogService
	notifier       AlertNotifier
	metrics        *metrics.PipelineMetrics
	version        string
	now            func() time.Time
}

// NewDetectionService creates a detection service. ml, notifier and m may be nil.
func NewDetectionService(
	db *gorm.DB,
	settings config.DetectionSettings,
	ml MLScorer,
	investigations *InvestigationService,
	events *EventLogService,
	notifier AlertNotifier,
	m *metrics.PipelineMetrics,
) *DetectionService {
	return &DetectionService{
		db:             db,
		combiner:       scoring.NewCombiner(settings.Scoring),
		estimator:      risk.NewEstimator(settings.Financial),
		classifier:     alerts.NewClassifier(settings.Alerts),
		ml:             ml,
		investigations: investigations,
		events:         events,
		notifier:       notifier,
		metrics:        m,
		version:        settings.AlgorithmVersion,
		now:            time.Now,
	}
}

// AnalyzeImage compares a COMPLETED image with the oldest COMPLETED image of
// its region captured before it and records a detection when any threshold
// is exceeded. The oldest image of a region is never scored. Each
// image is analysed at most once. A non-nil analysis is returned together
// with the saga error when the detection was stored but a downstream step
// failed.
func (s *DetectionService) AnalyzeImage(ctx context.Context, img *database.Image) (*ImageAnalysis, error) {
	analysis := &ImageAnalysis{ImageID: img.ID}
	if img.Status != database.ImageStatusCompleted {
		analysis.Skipped = "image not processed"
		return analysis, nil
	}

	claim := s.db.WithContext(ctx).Model(&database.Image{}).
		Where("id = ? AND analyzed_at IS NULL", img.ID).
		Update("analyzed_at", s.now())
	if claim.Error != nil {
		return nil, fmt.Errorf("failed to claim image %d for analysis: %w", img.ID, claim.Error)
	}
	if claim.RowsAffected == 0 {
		analysis.Skipped = "already analysed"
		return analysis, nil
	}

	var ref database.Image
	err := s.db.WithContext(ctx).
		Where("region_id = ? AND status = ? AND id <> ?", img.RegionID, database.ImageStatusCompleted, img.ID).
		Where("capture_date < ?", img.CaptureDate).
		Order("capture_date ASC, id ASC").
		First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("DetectionService: No reference image for region %d, skipping image %s", img.RegionID, img.AssetID)
		s.releaseClaim(ctx, img.ID)
		analysis.Skipped = "no reference image"
		return analysis, nil
	}
	if err != nil {
		s.releaseClaim(ctx, img.ID)
		return nil, fmt.Errorf("failed to load reference image: %w", err)
	}

	cfg := s.combiner.Config()
	scores := scoring.ScoreAnomalies(img.Indices(), ref.Indices(), cfg.Epsilon)
	mlScore := 0.0
	if s.ml != nil {
		mlScore = s.ml.Score(ctx, img.AssetID, img.CenterLat, img.CenterLon)
	}
	analysis.Evaluation = s.combiner.Evaluate(scores, mlScore)
	if !analysis.Evaluation.Detected {
		return analysis, nil
	}

	det := &database.Detection{
		ImageID:           img.ID,
		RegionID:          img.RegionID,
		Latitude:          img.CenterLat,
		Longitude:         img.CenterLon,
		Type:              database.DetectionTypeMiningSite,
		NDVIAnomalyScore:  scores.NDVI,
		NDWIAnomalyScore:  scores.NDWI,
		NDTIAnomalyScore:  scores.NDTI,
		AnomalyConfidence: analysis.Evaluation.AnomalyConfidence,
		MLScore:           mlScore,
		ConfidenceScore:   analysis.Evaluation.Confidence,
		AreaHectares:      scoring.EstimateAffectedArea(scores),
		ValidationStatus:  database.ValidationDetected,
		AlgorithmVersion:  s.version,
		DetectionDate:     s.now(),
	}
	if err := s.db.WithContext(ctx).Create(det).Error; err != nil {
		s.releaseClaim(ctx, img.ID)
		return nil, fmt.Errorf("failed to store detection for image %s: %w", img.AssetID, err)
	}
	analysis.Detection = det

	s.metrics.RecordDetection(string(s.classifier.Classify(det.ConfidenceScore).Severity))
	s.events.Log(ctx, database.EventLog{
		Type:        database.EventDetectionCreated,
		Message:     fmt.Sprintf("Detection %d created with confidence %.2f", det.ID, det.ConfidenceScore),
		DetectionID: &det.ID,
		RegionID:    &det.RegionID,
		Metadata: database.JSONB{
			"image_id":           img.ID,
			"reference_image_id": ref.ID,
			"anomaly_confidence": det.AnomalyConfidence,
			"ml_score":           mlScore,
		},
	})
	log.Printf("DetectionService: Detection %d on image %s (confidence %.3f, anomaly %.3f, ml %.3f)",
		det.ID, img.AssetID, det.ConfidenceScore, det.AnomalyConfidence, mlScore)

	analysis.Downstream, err = s.EnsureDownstream(ctx, det)
	return analysis, err
}

// EnsureDownstream runs the alert, financial risk and investigation steps for
// a detection. Every step is attempted; the returned error joins one
// StepError per failed step.
func (s *DetectionService) EnsureDownstream(ctx context.Context, det *database.Detection) (Downstream, error) {
	var out Downstream
	var errs []error

	if err := s.ensureAlert(ctx, det, &out); err != nil {
		errs = append(errs, s.stepFailed(ctx, det, StepAlert, err))
	}
	if err := s.ensureRisk(ctx, det, &out); err != nil {
		errs = append(errs, s.stepFailed(ctx, det, StepFinancialRisk, err))
	}

	inv, created, err := s.investigations.CreateForDetection(ctx, det)
	if err != nil {
		errs = append(errs, s.stepFailed(ctx, det, StepInvestigation, err))
	} else {
		out.Investigation, out.InvestigationCreated = inv, created
	}

	return out, errors.Join(errs...)
}

func (s *DetectionService) ensureAlert(ctx context.Context, det *database.Detection, out *Downstream) error {
	var existing database.Alert
	err := s.db.WithContext(ctx).Where("detection_id = ?", det.ID).Order("id").First(&existing).Error
	if err == nil {
		out.Alert = &existing
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	alert := s.classifier.Build(det, s.now())
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return err
	}
	out.Alert, out.AlertCreated = alert, true

	s.events.Log(ctx, database.EventLog{
		Type:        database.EventAlertGenerated,
		Message:     fmt.Sprintf("%s alert generated for detection %d", alert.Severity, det.ID),
		DetectionID: &det.ID,
		AlertID:     &alert.ID,
		RegionID:    &det.RegionID,
	})

	if s.notifier != nil && alert.Severity.Notifiable() {
		if err := s.notifier.NotifyAlert(ctx, alert, det); err != nil {
			log.Printf("DetectionService: Failed to notify alert %d: %v", alert.ID, err)
		}
	}
	return nil
}

func (s *DetectionService) ensureRisk(ctx context.Context, det *database.Detection, out *Downstream) error {
	settings := s.estimator.Settings()
	a := s.estimator.Estimate(risk.Input{
		AreaHectares:        det.AreaHectares,
		Scores:              det.Scores(),
		SensitiveDistanceKm: settings.DefaultDistanceKm,
		OccurrenceCount:     settings.DefaultOccurrences,
	})
	fr := &database.FinancialRisk{
		DetectionID:         det.ID,
		AreaHectares:        a.AreaHectares,
		CostPerHectare:      a.CostPerHectare,
		IntensityFactor:     a.IntensityFactor,
		DistanceFactor:      a.DistanceFactor,
		OccurrenceFactor:    a.OccurrenceFactor,
		EstimatedLoss:       a.EstimatedLoss,
		SensitiveDistanceKm: a.SensitiveDistanceKm,
		OccurrenceCount:     a.OccurrenceCount,
		RiskLevel:           a.Level,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "detection_id"}}, DoNothing: true}).
		Create(fr)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var existing database.FinancialRisk
		if err := s.db.WithContext(ctx).Where("detection_id = ?", det.ID).First(&existing).Error; err != nil {
			return err
		}
		out.Risk = &existing
		return nil
	}
	out.Risk, out.RiskCreated = fr, true

	s.events.Log(ctx, database.EventLog{
		Type:        database.EventFinancialRiskCalculated,
		Message:     fmt.Sprintf("Financial risk calculated: %s FCFA", utils.FormatAmount(fr.EstimatedLoss)),
		DetectionID: &det.ID,
		RegionID:    &det.RegionID,
		Metadata:    database.JSONB{"risk_level": fr.RiskLevel, "amount": fr.EstimatedLoss},
	})
	return nil
}

func (s *DetectionService) stepFailed(ctx context.Context, det *database.Detection, step string, err error) error {
	log.Printf("DetectionService: %s step failed for detection %d: %v", step, det.ID, err)
	s.metrics.RecordSagaFailure(step)
	s.events.Log(ctx, database.EventLog{
		Type:        database.EventSystemError,
		Message:     fmt.Sprintf("Failed to create %s for detection %d: %v", step, det.ID, err),
		DetectionID: &det.ID,
		RegionID:    &det.RegionID,
		Metadata:    database.JSONB{"step": step},
	})
	return &StepError{Step: step, Err: err}
}

func (s *DetectionService) releaseClaim(ctx context.Context, imageID uint) {
	err := s.db.WithContext(context.WithoutCancel(ctx)).Model(&database.Image{}).
		Where("id = ?", imageID).
		Update("analyzed_at", nil).Error
	if err != nil {
		log.Printf("DetectionService: Failed to release analysis claim on image %d: %v", imageID, err)
	}
}

// FindIncompleteDetections lists detections created before cutoff that lack
// an alert, a financial risk or an investigation.
func (s *DetectionService) FindIncompleteDetections(ctx context.Context, cutoff time.Time, limit int) ([]database.Detection, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []database.Detection
	err := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Where("(NOT EXISTS (SELECT 1 FROM mining_alerts a WHERE a.detection_id = mining_detections.id)" +
			" OR NOT EXISTS (SELECT 1 FROM financial_risks r WHERE r.detection_id = mining_detections.id)" +
			" OR NOT EXISTS (SELECT 1 FROM investigations i WHERE i.detection_id = mining_detections.id))").
		Order("id").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RepairIncomplete re-runs the saga for incomplete detections older than
// grace. It returns how many detections are now complete.
func (s *DetectionService) RepairIncomplete(ctx context.Context, grace time.Duration, limit int) (int, error) {
	dets, err := s.FindIncompleteDetections(ctx, s.now().Add(-grace), limit)
	if err != nil {
		return 0, err
	}

	repaired := 0
	var errs []error
	for i := range dets {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.EnsureDownstream(ctx, &dets[i]); err != nil {
			errs = append(errs, fmt.Errorf("detection %d: %w", dets[i].ID, err))
			continue
		}
		repaired++
	}
	if repaired > 0 {
		log.Printf("DetectionService: Repaired %d of %d incomplete detections", repaired, len(dets))
	}
	return repaired, errors.Join(errs...)
}

// ValidateDetection records a manual review. A detection can be reviewed
// only once.
func (s *DetectionService) ValidateDetection(ctx context.Context, id uint, status database.ValidationStatus, actor *database.User) (*database.Detection, error) {
	if !status.IsReviewOutcome() {
		return nil, invalid("validation_status", "must be VALIDATED, CONFIRMED or FALSE_POSITIVE")
	}
	if actor == nil {
		return nil, precondition("an authenticated user is required")
	}

	res := s.db.WithContext(ctx).Model(&database.Detection{}).
		Where("id = ? AND validation_status = ?", id, database.ValidationDetected).
		Updates(map[string]interface{}{
			"validation_status": status,
			"validated_by_id":   actor.ID,
			"validated_at":      s.now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}

	det, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, precondition("detection %d was already reviewed (%s)", id, det.ValidationStatus)
	}

	s.events.Log(ctx, database.EventLog{
		Type:        database.EventDetectionValidated,
		Message:     fmt.Sprintf("Detection %d marked %s", id, status),
		UserID:      &actor.ID,
		DetectionID: &det.ID,
		RegionID:    &det.RegionID,
	})
	return det, nil
}

// Get loads a detection with its downstream records
func (s *DetectionService) Get(ctx context.Context, id uint) (*database.Detection, error) {
	var det database.Detection
	err := s.db.WithContext(ctx).
		Preload("Alerts").Preload("FinancialRisk").Preload("Investigation").
		First(&det, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("detection", id)
	}
	if err != nil {
		return nil, err
	}
	return &det, nil
}

// HighConfidenceThreshold is the confidence from which an unreviewed
// detection is listed as high confidence.
const HighConfidenceThreshold = 0.7

// DetectionFilter narrows a detection listing. Zero fields match everything.
type DetectionFilter struct {
	Type             database.DetectionType
	ValidationStatus database.ValidationStatus
	RegionID         uint
}

// List returns one page of detections, newest first.
func (s *DetectionService) List(ctx context.Context, f DetectionFilter, offset, limit int) ([]database.Detection, int64, error) {
	filtered := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&database.Detection{})
		if f.Type != "" {
			q = q.Where("type = ?", f.Type)
		}
		if f.ValidationStatus != "" {
			q = q.Where("validation_status = ?", f.ValidationStatus)
		}
		if f.RegionID != 0 {
			q = q.Where("region_id = ?", f.RegionID)
		}
		return q
	}
	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []database.Detection
	err := filtered().Order("detection_date DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// HighConfidence lists the unreviewed detections scoring at least
// HighConfidenceThreshold, most confident first.
func (s *DetectionService) HighConfidence(ctx context.Context) ([]database.Detection, error) {
	var out []database.Detection
	err := s.db.WithContext(ctx).
		Where("confidence_score >= ? AND validation_status = ?", HighConfidenceThreshold, database.ValidationDetected).
		Order("confidence_score DESC, id DESC").
		Find(&out).Error
	return out, err
}

// Delete removes a detection together with its alerts, financial risk and
// investigation. Feedback recorded against it is kept.
func (s *DetectionService) Delete(ctx context.Context, id uint, actor *database.User) error {
	det, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := database.DeleteDetection(s.db.WithContext(ctx), id); err != nil {
		return fmt.Errorf("failed to delete detection %d: %w", id, err)
	}

	entry := database.EventLog{
		Type:     database.EventDetectionDeleted,
		Message:  fmt.Sprintf("Detection %d deleted", id),
		RegionID: &det.RegionID,
		Metadata: database.JSONB{"detection_id": id, "image_id": det.ImageID},
	}
	if actor != nil {
		entry.UserID = &actor.ID
	}
	s.events.Log(ctx, entry)
	log.Printf("DetectionService: Deleted detection %d", id)
	return nil
}
