// Package ingestion guarantees one terminal processing outcome per imagery
// asset and runs the processing attempts on a retrying worker pool.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/imagery"
	"github.com/minewatch/minewatch/internal/metrics"
	"github.com/minewatch/minewatch/internal/models"
)

// Action describes what Ensure did for an asset.
type Action string

const (
	ActionQueued           Action = "queued"
	ActionRequeued         Action = "requeued"
	ActionSkippedCompleted Action = "skipped_completed"
	ActionSkippedInFlight  Action = "skipped_in_flight"
)

// StatisticsSource computes the spectral statistics of an asset.
type StatisticsSource interface {
	IndexStatistics(ctx context.Context, assetID string) (models.SpectralIndices, error)
}

// TaskQueue accepts processing tasks.
type TaskQueue interface {
	Enqueue(t Task) bool
	Pending(key string) bool
}

// EventRecorder persists audit events.
type EventRecorder interface {
	Log(ctx context.Context, entry database.EventLog)
}

// Controller owns the Image lifecycle.
type Controller struct {
	db      *gorm.DB
	stats   StatisticsSource
	queue   TaskQueue
	events  EventRecorder
	metrics *metrics.PipelineMetrics
	now     func() time.Time
}

// NewController creates a controller. events and m may be nil.
func NewController(db *gorm.DB, stats StatisticsSource, queue TaskQueue, events EventRecorder, m *metrics.PipelineMetrics) *Controller {
	return &Controller{
		db:      db,
		stats:   stats,
		queue:   queue,
		events:  events,
		metrics: m,
		now:     time.Now,
	}
}

// Ensure returns the record for an asset, creating it if needed, and queues
// processing when the asset is new, its last attempt ended in ERROR, or it is
// PENDING with no task behind it. The unique asset_id, conditional updates
// and the queue's key dedup keep concurrent callers from queueing the same
// asset twice.
func (c *Controller) Ensure(ctx context.Context, region *database.Region, asset imagery.Asset, requestedBy *uint) (*database.Image, Action, error) {
	if asset.ID == "" {
		return nil, "", fmt.Errorf("asset id is required")
	}

	img := c.newImage(region, asset, requestedBy)
	res := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "asset_id"}}, DoNothing: true}).
		Create(img)
	if res.Error != nil {
		return nil, "", fmt.Errorf("failed to register image %s: %w", asset.ID, res.Error)
	}
	if res.RowsAffected == 1 {
		if err := c.enqueue(ctx, img, false); err != nil {
			return img, "", err
		}
		log.Printf("IngestionController: Queued new image %s (id %d)", asset.ID, img.ID)
		c.metrics.RecordEnsure(string(ActionQueued))
		return img, ActionQueued, nil
	}

	existing, err := c.byAsset(ctx, asset.ID)
	if err != nil {
		return nil, "", err
	}

	key := Task{ImageID: existing.ID}.Key()
	switch existing.Status {
	case database.ImageStatusCompleted:
		c.metrics.RecordEnsure(string(ActionSkippedCompleted))
		return existing, ActionSkippedCompleted, nil
	case database.ImageStatusError:
		if c.queue.Pending(key) {
			// A retry is already scheduled.
			c.metrics.RecordEnsure(string(ActionSkippedInFlight))
			return existing, ActionSkippedInFlight, nil
		}
		claimed := c.db.WithContext(ctx).Model(&database.Image{}).
			Where("id = ? AND status = ?", existing.ID, database.ImageStatusError).
			Updates(map[string]interface{}{
				"status":           database.ImageStatusPending,
				"processing_error": "",
				"attempts":         0,
			})
		if claimed.Error != nil {
			return nil, "", fmt.Errorf("failed to reset image %s: %w", asset.ID, claimed.Error)
		}
		existing, err = c.byAsset(ctx, asset.ID)
		if err != nil {
			return nil, "", err
		}
		if claimed.RowsAffected == 0 {
			c.metrics.RecordEnsure(string(ActionSkippedInFlight))
			return existing, ActionSkippedInFlight, nil
		}
		if err := c.enqueue(ctx, existing, false); err != nil {
			return existing, "", err
		}
		log.Printf("IngestionController: Re-queued errored image %s (id %d)", asset.ID, existing.ID)
		c.metrics.RecordEnsure(string(ActionRequeued))
		return existing, ActionRequeued, nil
	case database.ImageStatusPending:
		if !c.queue.Enqueue(Task{ImageID: existing.ID, AssetID: existing.AssetID}) {
			c.metrics.RecordEnsure(string(ActionSkippedInFlight))
			return existing, ActionSkippedInFlight, nil
		}
		log.Printf("IngestionController: Re-queued orphaned pending image %s (id %d)", asset.ID, existing.ID)
		c.metrics.RecordEnsure(string(ActionRequeued))
		return existing, ActionRequeued, nil
	default:
		c.metrics.RecordEnsure(string(ActionSkippedInFlight))
		return existing, ActionSkippedInFlight, nil
	}
}

// ResumePending queues every PENDING image that has no task behind it, such
// as records left over when a previous process stopped with a non-empty
// queue. It returns the number of tasks queued.
func (c *Controller) ResumePending(ctx context.Context) (int, error) {
	var pending []database.Image
	if err := c.db.WithContext(ctx).
		Where("status = ?", database.ImageStatusPending).
		Order("capture_date ASC, id ASC").
		Find(&pending).Error; err != nil {
		return 0, fmt.Errorf("failed to list pending images: %w", err)
	}

	queued := 0
	for i := range pending {
		img := &pending[i]
		if c.queue.Pending(Task{ImageID: img.ID}.Key()) {
			continue
		}
		if !c.queue.Enqueue(Task{ImageID: img.ID, AssetID: img.AssetID}) {
			log.Printf("IngestionController: Could not resume image %s, queue is full", img.AssetID)
			continue
		}
		queued++
	}
	if queued > 0 {
		log.Printf("IngestionController: Resumed %d pending image(s)", queued)
	}
	return queued, nil
}

// Requeue force-processes an image regardless of its state. It is the only
// recovery path for a record stuck in PROCESSING.
func (c *Controller) Requeue(ctx context.Context, assetID string, actor *uint) (*database.Image, error) {
	img, err := c.byAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if c.queue.Pending(Task{ImageID: img.ID}.Key()) {
		return img, fmt.Errorf("image %s: %w", assetID, ErrTaskPending)
	}
	if err := c.db.WithContext(ctx).Model(img).Updates(map[string]interface{}{
		"status":           database.ImageStatusPending,
		"processing_error": "",
		"attempts":         0,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to reset image %s: %w", assetID, err)
	}
	if err := c.enqueue(ctx, img, true); err != nil {
		return img, err
	}

	c.logEvent(ctx, database.EventLog{
		Type:    database.EventImageRequeued,
		Message: fmt.Sprintf("Image %s re-queued by operator", assetID),
		UserID:  actor,
		Metadata: database.JSONB{
			"image_id": img.ID,
			"asset_id": assetID,
		},
	})
	log.Printf("IngestionController: Operator re-queued image %s (id %d)", assetID, img.ID)
	return c.byAsset(ctx, assetID)
}

// Process is the task body. A COMPLETED image is left alone unless forced;
// a lost claim is a no-op. Collaborator failures mark the image ERROR and
// return a TransientError.
func (c *Controller) Process(ctx context.Context, t Task) error {
	var img database.Image
	if err := c.db.WithContext(ctx).First(&img, t.ImageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("image %d not found", t.ImageID)
		}
		return &TransientError{Op: "load", AssetID: t.AssetID, Err: err}
	}

	if img.Status == database.ImageStatusCompleted && !t.Force {
		log.Printf("IngestionController: Image %s already completed, skipping", img.AssetID)
		return nil
	}

	now := c.now()
	claim := c.db.WithContext(ctx).Model(&database.Image{}).Where("id = ?", img.ID)
	if !t.Force {
		claim = claim.Where("status IN ?", []database.ImageStatus{database.ImageStatusPending, database.ImageStatusError})
	}
	res := claim.Updates(map[string]interface{}{
		"status":     database.ImageStatusProcessing,
		"claimed_at": now,
		"attempts":   gorm.Expr("attempts + 1"),
	})
	if res.Error != nil {
		return &TransientError{Op: "claim", AssetID: img.AssetID, Err: res.Error}
	}
	if res.RowsAffected == 0 {
		log.Printf("IngestionController: Image %s claimed elsewhere, skipping", img.AssetID)
		return nil
	}
	attempt := img.Attempts + 1

	stats, err := c.stats.IndexStatistics(ctx, img.AssetID)
	if err == nil && !hasAnyMean(stats) {
		err = errors.New("provider returned no index statistics")
	}
	if err != nil {
		c.markError(ctx, &img, attempt, err)
		return &TransientError{Op: "index statistics", AssetID: img.AssetID, Err: err}
	}

	done := c.now()
	if err := c.db.WithContext(ctx).Model(&database.Image{}).Where("id = ?", img.ID).Updates(map[string]interface{}{
		"status":           database.ImageStatusCompleted,
		"processing_error": "",
		"processed_at":     done,
		"ndvi_mean":        stats.NDVI.Mean,
		"ndvi_std_dev":     stats.NDVI.StdDev,
		"ndwi_mean":        stats.NDWI.Mean,
		"ndwi_std_dev":     stats.NDWI.StdDev,
		"ndti_mean":        stats.NDTI.Mean,
		"ndti_std_dev":     stats.NDTI.StdDev,
	}).Error; err != nil {
		c.markError(ctx, &img, attempt, err)
		return &TransientError{Op: "store statistics", AssetID: img.AssetID, Err: err}
	}

	c.logEvent(ctx, database.EventLog{
		Type:     database.EventImageProcessed,
		Message:  fmt.Sprintf("Image %s processed", img.AssetID),
		RegionID: &img.RegionID,
		Metadata: database.JSONB{"image_id": img.ID, "attempt": attempt},
	})
	log.Printf("IngestionController: Image %s completed on attempt %d", img.AssetID, attempt)
	return nil
}

// WaitTerminal polls until the image is COMPLETED, or ERROR with no retry
// pending, or ctx is done.
func (c *Controller) WaitTerminal(ctx context.Context, imageID uint, poll time.Duration) (*database.Image, error) {
	if poll <= 0 {
		poll = time.Second
	}
	key := Task{ImageID: imageID}.Key()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		var img database.Image
		if err := c.db.WithContext(ctx).First(&img, imageID).Error; err != nil {
			return nil, err
		}
		switch {
		case img.Status == database.ImageStatusCompleted:
			return &img, nil
		case img.Status == database.ImageStatusError && !c.queue.Pending(key):
			return &img, nil
		}
		select {
		case <-ctx.Done():
			return &img, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Controller) newImage(region *database.Region, asset imagery.Asset, requestedBy *uint) *database.Image {
	img := &database.Image{
		AssetID:         asset.ID,
		Name:            asset.Name,
		CaptureDate:     asset.CaptureDate,
		SatelliteSource: asset.Source,
		CloudCoverage:   asset.CloudCoverage,
		Resolution:      asset.Resolution,
		Status:          database.ImageStatusPending,
		RequestedByID:   requestedBy,
	}
	if img.Name == "" {
		img.Name = asset.ID
	}
	if img.SatelliteSource == "" {
		img.SatelliteSource = "SENTINEL2"
	}
	if img.Resolution == 0 {
		img.Resolution = 10
	}
	if region != nil {
		img.RegionID = region.ID
		img.CenterLat, img.CenterLon = region.CenterLat, region.CenterLon
	}
	if asset.CenterLat != nil && asset.CenterLon != nil {
		img.CenterLat, img.CenterLon = *asset.CenterLat, *asset.CenterLon
	}
	return img
}

func (c *Controller) enqueue(ctx context.Context, img *database.Image, force bool) error {
	if c.queue.Enqueue(Task{ImageID: img.ID, AssetID: img.AssetID, Force: force}) {
		return nil
	}
	if c.queue.Pending(Task{ImageID: img.ID}.Key()) {
		return nil
	}
	// Leave the record reclaimable by the next Ensure.
	c.markError(ctx, img, img.Attempts, ErrQueueUnavailable)
	return fmt.Errorf("failed to queue image %s: %w", img.AssetID, ErrQueueUnavailable)
}

func (c *Controller) markError(ctx context.Context, img *database.Image, attempt int, cause error) {
	msg := fmt.Sprintf("attempt %d: %v", attempt, cause)
	err := c.db.WithContext(context.WithoutCancel(ctx)).Model(&database.Image{}).
		Where("id = ?", img.ID).
		Updates(map[string]interface{}{
			"status":           database.ImageStatusError,
			"processing_error": msg,
		}).Error
	if err != nil {
		log.Printf("IngestionController: Failed to record error for image %s: %v", img.AssetID, err)
	}
	log.Printf("IngestionController: Image %s failed (%s)", img.AssetID, msg)
	c.logEvent(ctx, database.EventLog{
		Type:     database.EventSystemError,
		Message:  fmt.Sprintf("Processing failed for image %s: %s", img.AssetID, msg),
		RegionID: &img.RegionID,
		Metadata: database.JSONB{"image_id": img.ID, "asset_id": img.AssetID},
	})
}

func (c *Controller) byAsset(ctx context.Context, assetID string) (*database.Image, error) {
	var img database.Image
	if err := c.db.WithContext(ctx).Where("asset_id = ?", assetID).First(&img).Error; err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", assetID, err)
	}
	return &img, nil
}

func (c *Controller) logEvent(ctx context.Context, entry database.EventLog) {
	if c.events == nil {
		return
	}
	c.events.Log(context.WithoutCancel(ctx), entry)
}

func hasAnyMean(s models.SpectralIndices) bool {
	return s.NDVI.Mean != nil || s.NDWI.Mean != nil || s.NDTI.Mean != nil
}
