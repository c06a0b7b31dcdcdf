package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/config"
	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/imagery"
	"github.com/minewatch/minewatch/internal/ingestion"
	"github.com/minewatch/minewatch/internal/services"
	"github.com/minewatch/minewatch/internal/testhelpers"
)

type scriptedEnsurer struct {
	mu      sync.Mutex
	actions map[string]ingestion.Action
	fail    map[string]bool
	seen    []string
}

func (e *scriptedEnsurer) Ensure(ctx context.Context, region *database.Region, asset imagery.Asset, requestedBy *uint) (*database.Image, ingestion.Action, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, asset.ID)
	if e.fail[asset.ID] {
		return nil, "", errors.New("queue unavailable")
	}
	action, ok := e.actions[asset.ID]
	if !ok {
		action = ingestion.ActionQueued
	}
	return &database.Image{AssetID: asset.ID}, action, nil
}

type countingRepairer struct {
	mu    sync.Mutex
	calls int
	grace time.Duration
	err   error
}

func (r *countingRepairer) RepairIncomplete(ctx context.Context, grace time.Duration, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.grace = grace
	return 2, r.err
}

func (r *countingRepairer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recordingAnalyzer struct {
	mu   sync.Mutex
	reqs []services.RunRequest
}

func (a *recordingAnalyzer) Run(ctx context.Context, req services.RunRequest) (*services.RunResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reqs = append(a.reqs, req)
	return &services.RunResult{Success: true}, nil
}

func TestScanJob_EnsuresEveryRecentAsset(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	testhelpers.CreateRegion(t, db)
	catalog := testhelpers.NewFakeCatalog()
	for i, id := range []string{"S2/A", "S2/B", "S2/C", "S2/D", "S2/E"} {
		catalog.AddAsset(imagery.Asset{ID: id, CaptureDate: time.Now().AddDate(0, 0, -i-1), CloudCoverage: 5}, 0.5, 0.1, 0.2, 0.1)
	}
	catalog.AddAsset(imagery.Asset{ID: "S2/OLD", CaptureDate: time.Now().AddDate(0, 0, -90), CloudCoverage: 5}, 0.5, 0.1, 0.2, 0.1)
	catalog.AddAsset(imagery.Asset{ID: "S2/CLOUDY", CaptureDate: time.Now().AddDate(0, 0, -1), CloudCoverage: 80}, 0.5, 0.1, 0.2, 0.1)

	ensurer := &scriptedEnsurer{
		actions: map[string]ingestion.Action{
			"S2/B": ingestion.ActionSkippedCompleted,
			"S2/C": ingestion.ActionRequeued,
			"S2/D": ingestion.ActionSkippedInFlight,
		},
		fail: map[string]bool{"S2/E": true},
	}
	job := NewScanJob(db, "BDK", config.DefaultDetectionSettings().Imagery, 30*24*time.Hour, catalog, ensurer)

	summary, err := job.Run(context.Background())
	testhelpers.AssertNoError(t, err, "scan")
	testhelpers.AssertEqual(t, 5, summary.Listed, "listed")
	testhelpers.AssertEqual(t, 1, summary.Actions[ingestion.ActionQueued], "queued")
	testhelpers.AssertEqual(t, 1, summary.Actions[ingestion.ActionSkippedCompleted], "skipped completed")
	testhelpers.AssertEqual(t, 1, summary.Actions[ingestion.ActionRequeued], "requeued")
	testhelpers.AssertEqual(t, 1, summary.Actions[ingestion.ActionSkippedInFlight], "skipped in flight")
	testhelpers.AssertEqual(t, 1, summary.Failed, "failed")
	testhelpers.AssertEqual(t, 5, len(ensurer.seen), "ensured assets")
}

func TestScanJob_UnknownRegion(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	job := NewScanJob(db, "NOPE", config.DefaultDetectionSettings().Imagery, time.Hour, testhelpers.NewFakeCatalog(), &scriptedEnsurer{})

	_, err := job.Run(context.Background())
	testhelpers.AssertError(t, err, "scan without region")
}

func TestScanJob_ListingFailure(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	testhelpers.CreateRegion(t, db)
	catalog := testhelpers.NewFakeCatalog()
	catalog.ListErr = errors.New("earth engine unavailable")
	ensurer := &scriptedEnsurer{}

	_, err := NewScanJob(db, "BDK", config.DefaultDetectionSettings().Imagery, time.Hour, catalog, ensurer).Run(context.Background())
	testhelpers.AssertError(t, err, "scan with failing catalog")
	testhelpers.AssertEqual(t, 0, len(ensurer.seen), "ensured assets")
}

func stuckImage(t *testing.T, db *gorm.DB, regionID uint, claimedAgo time.Duration) database.Image {
	t.Helper()
	img := testhelpers.NewImageBuilder(regionID).WithStatus(database.ImageStatusProcessing).Build()
	claimed := time.Now().Add(-claimedAgo)
	img.ClaimedAt = &claimed
	testhelpers.MustCreate(t, db, &img)
	return img
}

func TestStuckProcessingMonitor_ReportsOncePerClaim(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	region := testhelpers.CreateRegion(t, db)
	events := services.NewEventLogService(db)
	stuck := stuckImage(t, db, region.ID, 2*time.Hour)
	stuckImage(t, db, region.ID, 5*time.Minute)

	monitor := NewStuckProcessingMonitor(db, events, time.Hour)

	n, err := monitor.Check(context.Background())
	testhelpers.AssertNoError(t, err, "first check")
	testhelpers.AssertEqual(t, 1, n, "reported on first check")

	n, err = monitor.Check(context.Background())
	testhelpers.AssertNoError(t, err, "second check")
	testhelpers.AssertEqual(t, 0, n, "already reported")
	testhelpers.AssertEqual(t, int64(1), testhelpers.CountRows(t, db, &database.EventLog{}, "type = ?", database.EventSystemError), "system error events")

	var img database.Image
	db.First(&img, stuck.ID)
	testhelpers.AssertEqual(t, database.ImageStatusProcessing, img.Status, "monitor must not recover images")

	reclaimed := time.Now().Add(-3 * time.Hour)
	db.Model(&database.Image{}).Where("id = ?", stuck.ID).Update("claimed_at", reclaimed)
	n, err = monitor.Check(context.Background())
	testhelpers.AssertNoError(t, err, "check after new claim")
	testhelpers.AssertEqual(t, 1, n, "new claim is reported again")
}

func TestStuckProcessingMonitor_ReportsStalePending(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	region := testhelpers.CreateRegion(t, db)
	events := services.NewEventLogService(db)

	stale := testhelpers.NewImageBuilder(region.ID).Create(t, db)
	db.Model(&database.Image{}).Where("id = ?", stale.ID).UpdateColumn("updated_at", time.Now().Add(-2*time.Hour))
	testhelpers.NewImageBuilder(region.ID).Create(t, db)

	monitor := NewStuckProcessingMonitor(db, events, time.Hour)
	n, err := monitor.Check(context.Background())
	testhelpers.AssertNoError(t, err, "first check")
	testhelpers.AssertEqual(t, 1, n, "stale pending reported")

	n, err = monitor.Check(context.Background())
	testhelpers.AssertNoError(t, err, "second check")
	testhelpers.AssertEqual(t, 0, n, "already reported")

	var img database.Image
	db.First(&img, stale.ID)
	testhelpers.AssertEqual(t, database.ImageStatusPending, img.Status, "monitor must not recover images")
}

func TestStuckProcessingMonitor_IgnoresFreshAndSettledImages(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	region := testhelpers.CreateRegion(t, db)
	old := time.Now().Add(-5 * time.Hour)
	for _, status := range []database.ImageStatus{database.ImageStatusPending, database.ImageStatusCompleted, database.ImageStatusError} {
		img := testhelpers.NewImageBuilder(region.ID).WithStatus(status).Build()
		img.ClaimedAt = &old
		testhelpers.MustCreate(t, db, &img)
	}

	n, err := NewStuckProcessingMonitor(db, services.NewEventLogService(db), time.Hour).Check(context.Background())
	testhelpers.AssertNoError(t, err, "check")
	testhelpers.AssertEqual(t, 0, n, "reported")
}

func TestSagaRepairJob_RunAndStart(t *testing.T) {
	repairer := &countingRepairer{}
	job := NewSagaRepairJob(repairer, 10*time.Minute, 0)

	n, err := job.Run(context.Background())
	testhelpers.AssertNoError(t, err, "run")
	testhelpers.AssertEqual(t, 2, n, "repaired")
	testhelpers.AssertEqual(t, 10*time.Minute, repairer.grace, "grace")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for repairer.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	testhelpers.MustCompleteWithin(t, time.Second, func() { <-done })
	if repairer.count() < 3 {
		t.Errorf("expected periodic repair passes, got %d", repairer.count())
	}
}

func TestScheduler_RejectsInvalidSpec(t *testing.T) {
	s := NewScheduler(SchedulerConfig{AnalysisSchedule: "every now and then"}, nil, &recordingAnalyzer{})
	testhelpers.AssertError(t, s.Start(), "invalid cron spec")
	s.Stop()
}

func TestScheduler_RunAnalysisUsesConfiguredWindow(t *testing.T) {
	analyzer := &recordingAnalyzer{}
	s := NewScheduler(SchedulerConfig{AnalysisSchedule: "0 3 * * *", AnalysisMonthsBack: 4}, nil, analyzer)
	testhelpers.AssertNoError(t, s.Start(), "start")
	defer s.Stop()

	s.RunAnalysis()
	if len(analyzer.reqs) != 1 || analyzer.reqs[0].MonthsBack != 4 {
		t.Errorf("unexpected analysis requests: %+v", analyzer.reqs)
	}
}

func TestScheduler_NoJobsEnabled(t *testing.T) {
	s := NewScheduler(SchedulerConfig{}, nil, nil)
	testhelpers.AssertNoError(t, s.Start(), "start")
	s.Stop()
	s.Stop()
}
