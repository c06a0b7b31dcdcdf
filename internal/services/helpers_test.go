package services

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/config"
	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/testhelpers"
)

type env struct {
	db             *gorm.DB
	region         database.Region
	events         *EventLogService
	investigations *InvestigationService
	detections     *DetectionService
	notifier       *recordingNotifier
}

type fixedML float64

func (f fixedML) Score(ctx context.Context, assetID string, lat, lon float64) float64 {
	return float64(f)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []database.Alert
}

func (n *recordingNotifier) NotifyAlert(ctx context.Context, alert *database.Alert, d *database.Detection) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, *alert)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func newEnv(t *testing.T, ml MLScorer) *env {
	t.Helper()
	db := testhelpers.NewTestDB(t)
	e := &env{
		db:       db,
		region:   testhelpers.CreateRegion(t, db),
		events:   NewEventLogService(db),
		notifier: &recordingNotifier{},
	}
	e.investigations = NewInvestigationService(db, e.events)
	e.detections = NewDetectionService(db, config.DefaultDetectionSettings(), ml, e.investigations, e.events, e.notifier, nil)
	return e
}

// referenceImage stores an old COMPLETED image with the baseline means.
func (e *env) referenceImage(t *testing.T) database.Image {
	t.Helper()
	return testhelpers.NewImageBuilder(e.region.ID).
		WithStatus(database.ImageStatusCompleted).
		WithCaptureDate(time.Now().AddDate(0, 0, -200)).
		WithMeans(0.5, 0.1, 0.2, 0.5).
		Create(t, e.db)
}

// currentImage stores a recent COMPLETED image with the given means.
func (e *env) currentImage(t *testing.T, ndvi, ndwi, ndti float64) database.Image {
	t.Helper()
	return testhelpers.NewImageBuilder(e.region.ID).
		WithStatus(database.ImageStatusCompleted).
		WithCaptureDate(time.Now().AddDate(0, 0, -1)).
		WithMeans(ndvi, ndwi, ndti, 0.5).
		Create(t, e.db)
}

// openInvestigation creates a detection chain with an investigation in the
// given state, optionally assigned.
func (e *env) openInvestigation(t *testing.T, status database.InvestigationStatus, agentID *uint) database.Investigation {
	t.Helper()
	_, det := testhelpers.CreateDetectionChain(t, e.db, e.region.ID)
	b := testhelpers.NewInvestigationBuilder(det.ID)
	if agentID != nil {
		b.AssignedTo(*agentID)
	}
	return b.WithStatus(status).Create(t, e.db)
}

func (e *env) eventCount(t *testing.T, typ database.EventType) int64 {
	t.Helper()
	return testhelpers.CountRows(t, e.db, &database.EventLog{}, "type = ?", typ)
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
