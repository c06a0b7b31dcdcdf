package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/services"
)

// StuckProcessingMonitor reports images that stay PROCESSING, or PENDING
// without progress, longer than a threshold. It never recovers them;
// recovery is an operator requeue.
type StuckProcessingMonitor struct {
	db        *gorm.DB
	events    *services.EventLogService
	threshold time.Duration

	// reported holds the timestamp already reported per image, so a stuck
	// image is reported once per claim or pending period.
	reported map[uint]time.Time
	now      func() time.Time
}

// NewStuckProcessingMonitor creates a new stuck processing monitor
func NewStuckProcessingMonitor(db *gorm.DB, events *services.EventLogService, threshold time.Duration) *StuckProcessingMonitor {
	return &StuckProcessingMonitor{
		db:        db,
		events:    events,
		threshold: threshold,
		reported:  make(map[uint]time.Time),
		now:       time.Now,
	}
}

// Check reports newly stuck images and returns how many were reported
func (m *StuckProcessingMonitor) Check(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.threshold)

	var images []database.Image
	err := m.db.WithContext(ctx).
		Where("(status = ? AND claimed_at < ?) OR (status = ? AND updated_at < ?)",
			database.ImageStatusProcessing, cutoff, database.ImageStatusPending, cutoff).
		Order("id").
		Find(&images).Error
	if err != nil {
		return 0, err
	}

	stillStuck := make(map[uint]bool, len(images))
	reported := 0
	for _, img := range images {
		since := img.UpdatedAt
		if img.Status == database.ImageStatusProcessing && img.ClaimedAt != nil {
			since = *img.ClaimedAt
		}
		stillStuck[img.ID] = true
		if prev, ok := m.reported[img.ID]; ok && prev.Equal(since) {
			continue
		}
		m.reported[img.ID] = since

		age := m.now().Sub(since).Round(time.Minute)
		hint := "requeue it to recover"
		if img.Status == database.ImageStatusPending {
			hint = "no worker has picked it up"
		}
		log.Printf("StuckProcessingMonitor: Image %s has been %s for %s", img.AssetID, img.Status, age)
		m.events.Log(ctx, database.EventLog{
			Type:     database.EventSystemError,
			Message:  fmt.Sprintf("Image %s stuck in %s for %s; %s", img.AssetID, img.Status, age, hint),
			RegionID: &img.RegionID,
			Metadata: database.JSONB{"image_id": img.ID, "asset_id": img.AssetID, "status": img.Status, "since": since},
		})
		reported++
	}

	for id := range m.reported {
		if !stillStuck[id] {
			delete(m.reported, id)
		}
	}
	return reported, nil
}

// Start runs Check every interval until ctx is cancelled
func (m *StuckProcessingMonitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil {
				log.Printf("StuckProcessingMonitor: Check failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("StuckProcessingMonitor: Stopped")
			return
		}
	}
}
