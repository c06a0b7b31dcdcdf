package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/config"
	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/imagery"
	"github.com/minewatch/minewatch/internal/ingestion"
	"github.com/minewatch/minewatch/internal/services"
)

// Ensurer registers an asset and queues it when needed
type Ensurer interface {
	Ensure(ctx context.Context, region *database.Region, asset imagery.Asset, requestedBy *uint) (*database.Image, ingestion.Action, error)
}

// ScanSummary counts the outcome of one scan per action
type ScanSummary struct {
	Listed  int
	Actions map[ingestion.Action]int
	Failed  int
}

func (s ScanSummary) String() string {
	return fmt.Sprintf("listed=%d queued=%d requeued=%d skipped_completed=%d skipped_in_flight=%d failed=%d",
		s.Listed,
		s.Actions[ingestion.ActionQueued],
		s.Actions[ingestion.ActionRequeued],
		s.Actions[ingestion.ActionSkippedCompleted],
		s.Actions[ingestion.ActionSkippedInFlight],
		s.Failed)
}

// ScanJob registers the recent imagery of a region so that the workers
// compute statistics ahead of the next analysis
type ScanJob struct {
	db         *gorm.DB
	regionCode string
	imagery    config.ImagerySettings
	lookback   time.Duration
	assets     services.AssetLister
	ensurer    Ensurer
	now        func() time.Time
}

// NewScanJob creates a scan job over the last lookback period
func NewScanJob(db *gorm.DB, regionCode string, settings config.ImagerySettings, lookback time.Duration, assets services.AssetLister, ensurer Ensurer) *ScanJob {
	return &ScanJob{
		db:         db,
		regionCode: regionCode,
		imagery:    settings,
		lookback:   lookback,
		assets:     assets,
		ensurer:    ensurer,
		now:        time.Now,
	}
}

// Run lists the window and ensures every asset
func (j *ScanJob) Run(ctx context.Context) (ScanSummary, error) {
	summary := ScanSummary{Actions: make(map[ingestion.Action]int)}

	region, err := database.GetRegionByCode(j.db.WithContext(ctx), j.regionCode)
	if err != nil {
		return summary, fmt.Errorf("region %s unavailable: %w", j.regionCode, err)
	}

	end := j.now()
	assets, err := j.assets.ListRecentAssets(ctx, imagery.Window{
		RegionCode:       region.Code,
		Start:            end.Add(-j.lookback),
		End:              end,
		MaxCloudCoverage: j.imagery.MaxCloudCoverage,
		Collection:       j.imagery.Collection,
	})
	if err != nil {
		return summary, fmt.Errorf("failed to list satellite images: %w", err)
	}
	summary.Listed = len(assets)

	for _, a := range assets {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		_, action, err := j.ensurer.Ensure(ctx, region, a, nil)
		if err != nil {
			log.Printf("ScanJob: Failed to ensure %s: %v", a.ID, err)
			summary.Failed++
			continue
		}
		summary.Actions[action]++
	}

	log.Printf("ScanJob: Scan of %s finished (%s)", region.Code, summary)
	return summary, nil
}
