package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/imagery"
	"github.com/minewatch/minewatch/internal/testhelpers"
)

// stubQueue records tasks without running them.
type stubQueue struct {
	mu      sync.Mutex
	tasks   []Task
	pending map[string]bool
	reject  bool
}

func newStubQueue() *stubQueue {
	return &stubQueue{pending: make(map[string]bool)}
}

func (q *stubQueue) Enqueue(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reject || q.pending[t.Key()] {
		return false
	}
	q.pending[t.Key()] = true
	q.tasks = append(q.tasks, t)
	return true
}

func (q *stubQueue) Pending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[key]
}

func (q *stubQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type recordedEvents struct {
	mu    sync.Mutex
	types []database.EventType
}

func (r *recordedEvents) Log(ctx context.Context, e database.EventLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.Type)
}

func (r *recordedEvents) has(t database.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.types {
		if got == t {
			return true
		}
	}
	return false
}

type fixture struct {
	db      *gorm.DB
	region  database.Region
	catalog *testhelpers.FakeCatalog
	events  *recordedEvents
}

func newFixture(t *testing.T) *fixture {
	db := testhelpers.NewTestDB(t)
	return &fixture{
		db:      db,
		region:  testhelpers.CreateRegion(t, db),
		catalog: testhelpers.NewFakeCatalog(),
		events:  &recordedEvents{},
	}
}

func (f *fixture) asset(id string) imagery.Asset {
	a := imagery.Asset{ID: id, Name: id, CaptureDate: time.Now().AddDate(0, 0, -3), CloudCoverage: 4}
	f.catalog.AddAsset(a, 0.2, 0.4, 0.3, 0.1)
	return a
}

// running wires the controller to a started queue.
func (f *fixture) running(t *testing.T, maxRetries int) (*Controller, *Queue) {
	q := NewQueue(QueueConfig{Workers: 2, MaxRetries: maxRetries, RetryDelay: 5 * time.Millisecond}, nil)
	c := NewController(f.db, f.catalog, q, f.events, nil)
	q.Start(context.Background(), c.Process)
	t.Cleanup(q.Stop)
	return c, q
}

func waitTerminal(t *testing.T, c *Controller, id uint) *database.Image {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	img, err := c.WaitTerminal(ctx, id, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("image %d did not reach a terminal state: %v", id, err)
	}
	return img
}

func TestEnsure_NewAssetIsProcessed(t *testing.T) {
	f := newFixture(t)
	c, _ := f.running(t, 3)

	img, action, err := c.Ensure(context.Background(), &f.region, f.asset("S2/A"), nil)
	testhelpers.AssertNoError(t, err, "ensure")
	testhelpers.AssertEqual(t, ActionQueued, action, "action")

	done := waitTerminal(t, c, img.ID)
	testhelpers.AssertEqual(t, database.ImageStatusCompleted, done.Status, "status")
	testhelpers.AssertEqual(t, 1, done.Attempts, "attempts")
	if done.NDVIMean == nil || *done.NDVIMean != 0.2 {
		t.Errorf("expected NDVI mean 0.2, got %v", done.NDVIMean)
	}
	if done.ProcessedAt == nil {
		t.Error("expected processed_at to be set")
	}
	if !f.events.has(database.EventImageProcessed) {
		t.Error("expected IMAGE_PROCESSED event")
	}
}

func TestEnsure_CompletedAssetIsSkipped(t *testing.T) {
	f := newFixture(t)
	c, _ := f.running(t, 3)
	a := f.asset("S2/B")

	img, _, err := c.Ensure(context.Background(), &f.region, a, nil)
	testhelpers.AssertNoError(t, err, "first ensure")
	waitTerminal(t, c, img.ID)

	again, action, err := c.Ensure(context.Background(), &f.region, a, nil)
	testhelpers.AssertNoError(t, err, "second ensure")
	testhelpers.AssertEqual(t, ActionSkippedCompleted, action, "action")
	testhelpers.AssertEqual(t, img.ID, again.ID, "image id")
	testhelpers.AssertEqual(t, 1, f.catalog.StatsCalls("S2/B"), "statistics calls")
}

func TestEnsure_ConcurrentCallersQueueOnce(t *testing.T) {
	f := newFixture(t)
	q := newStubQueue()
	c := NewController(f.db, f.catalog, q, nil, nil)
	a := f.asset("S2/C")

	var mu sync.Mutex
	actions := map[Action]int{}
	testhelpers.ConcurrentTest(t, 8, func(i int) {
		_, action, err := c.Ensure(context.Background(), &f.region, a, nil)
		if err != nil {
			t.Errorf("ensure %d: %v", i, err)
			return
		}
		mu.Lock()
		actions[action]++
		mu.Unlock()
	})

	// A caller that reads the new PENDING row before its creator has queued
	// it may hand over the task itself; either way exactly one task exists.
	testhelpers.AssertEqual(t, 1, actions[ActionQueued], "queued actions")
	testhelpers.AssertEqual(t, 7, actions[ActionSkippedInFlight]+actions[ActionRequeued], "other actions")
	if actions[ActionRequeued] > 1 {
		t.Errorf("at most one caller may hand over the task, got %d", actions[ActionRequeued])
	}
	testhelpers.AssertEqual(t, 1, q.count(), "enqueued tasks")
	testhelpers.AssertEqual(t, int64(1), testhelpers.CountRows(t, f.db, &database.Image{}, "asset_id = ?", "S2/C"), "image rows")
}

func TestEnsure_ErroredAssetIsRequeued(t *testing.T) {
	f := newFixture(t)
	q := newStubQueue()
	c := NewController(f.db, f.catalog, q, nil, nil)

	existing := testhelpers.NewImageBuilder(f.region.ID).WithAssetID("S2/D").WithStatus(database.ImageStatusError).Create(t, f.db)
	f.db.Model(&existing).Updates(map[string]interface{}{"attempts": 4, "processing_error": "attempt 4: boom"})

	img, action, err := c.Ensure(context.Background(), &f.region, f.asset("S2/D"), nil)
	testhelpers.AssertNoError(t, err, "ensure")
	testhelpers.AssertEqual(t, ActionRequeued, action, "action")
	testhelpers.AssertEqual(t, database.ImageStatusPending, img.Status, "status")
	testhelpers.AssertEqual(t, 0, img.Attempts, "attempts")
	testhelpers.AssertEqual(t, "", img.ProcessingError, "processing error")
	testhelpers.AssertEqual(t, 1, q.count(), "enqueued tasks")
}

func TestEnsure_ErroredAssetWithScheduledRetryIsSkipped(t *testing.T) {
	f := newFixture(t)
	q := newStubQueue()
	c := NewController(f.db, f.catalog, q, nil, nil)

	existing := testhelpers.NewImageBuilder(f.region.ID).WithAssetID("S2/D2").WithStatus(database.ImageStatusError).Create(t, f.db)
	f.db.Model(&existing).Updates(map[string]interface{}{"attempts": 2, "processing_error": "attempt 2: boom"})
	q.pending[Task{ImageID: existing.ID}.Key()] = true

	img, action, err := c.Ensure(context.Background(), &f.region, f.asset("S2/D2"), nil)
	testhelpers.AssertNoError(t, err, "ensure")
	testhelpers.AssertEqual(t, ActionSkippedInFlight, action, "action")
	testhelpers.AssertEqual(t, database.ImageStatusError, img.Status, "status")
	testhelpers.AssertEqual(t, 2, img.Attempts, "attempts")
	testhelpers.AssertEqual(t, 0, q.count(), "enqueued tasks")
}

func TestEnsure_OrphanedPendingIsRequeuedAfterRestart(t *testing.T) {
	f := newFixture(t)
	a := f.asset("S2/G")

	// The first process accepts the task and exits before a worker runs it.
	stopped := NewQueue(QueueConfig{Workers: 1}, nil)
	first := NewController(f.db, f.catalog, stopped, nil, nil)
	img, action, err := first.Ensure(context.Background(), &f.region, a, nil)
	testhelpers.AssertNoError(t, err, "first ensure")
	testhelpers.AssertEqual(t, ActionQueued, action, "first action")

	c, _ := f.running(t, 0)
	again, action, err := c.Ensure(context.Background(), &f.region, a, nil)
	testhelpers.AssertNoError(t, err, "ensure after restart")
	testhelpers.AssertEqual(t, ActionRequeued, action, "action after restart")
	testhelpers.AssertEqual(t, img.ID, again.ID, "image id")

	done := waitTerminal(t, c, img.ID)
	testhelpers.AssertEqual(t, database.ImageStatusCompleted, done.Status, "status")
	testhelpers.AssertEqual(t, 1, f.catalog.StatsCalls("S2/G"), "statistics calls")
}

func TestEnsure_PendingWithQueuedTaskIsSkipped(t *testing.T) {
	f := newFixture(t)
	q := newStubQueue()
	c := NewController(f.db, f.catalog, q, nil, nil)
	a := f.asset("S2/H")

	_, action, err := c.Ensure(context.Background(), &f.region, a, nil)
	testhelpers.AssertNoError(t, err, "first ensure")
	testhelpers.AssertEqual(t, ActionQueued, action, "first action")

	_, action, err = c.Ensure(context.Background(), &f.region, a, nil)
	testhelpers.AssertNoError(t, err, "second ensure")
	testhelpers.AssertEqual(t, ActionSkippedInFlight, action, "second action")
	testhelpers.AssertEqual(t, 1, q.count(), "enqueued tasks")
}

func TestResumePending_QueuesOnlyOrphans(t *testing.T) {
	f := newFixture(t)
	q := newStubQueue()
	c := NewController(f.db, f.catalog, q, nil, nil)

	orphan := testhelpers.NewImageBuilder(f.region.ID).Create(t, f.db)
	queued := testhelpers.NewImageBuilder(f.region.ID).Create(t, f.db)
	testhelpers.NewImageBuilder(f.region.ID).WithStatus(database.ImageStatusCompleted).Create(t, f.db)
	testhelpers.NewImageBuilder(f.region.ID).WithStatus(database.ImageStatusError).Create(t, f.db)
	q.pending[Task{ImageID: queued.ID}.Key()] = true

	n, err := c.ResumePending(context.Background())
	testhelpers.AssertNoError(t, err, "resume")
	testhelpers.AssertEqual(t, 1, n, "resumed")
	testhelpers.AssertEqual(t, 1, q.count(), "enqueued tasks")
	testhelpers.AssertEqual(t, orphan.ID, q.tasks[0].ImageID, "resumed image")
}

func TestResumePending_ProcessesLeftoverRecords(t *testing.T) {
	f := newFixture(t)
	a := f.asset("S2/I")
	img := testhelpers.NewImageBuilder(f.region.ID).WithAssetID(a.ID).Create(t, f.db)

	c, _ := f.running(t, 0)
	n, err := c.ResumePending(context.Background())
	testhelpers.AssertNoError(t, err, "resume")
	testhelpers.AssertEqual(t, 1, n, "resumed")

	done := waitTerminal(t, c, img.ID)
	testhelpers.AssertEqual(t, database.ImageStatusCompleted, done.Status, "status")
}

func TestEnsure_InFlightAssetIsSkipped(t *testing.T) {
	f := newFixture(t)
	q := newStubQueue()
	c := NewController(f.db, f.catalog, q, nil, nil)
	testhelpers.NewImageBuilder(f.region.ID).WithAssetID("S2/E").WithStatus(database.ImageStatusProcessing).Create(t, f.db)

	_, action, err := c.Ensure(context.Background(), &f.region, f.asset("S2/E"), nil)
	testhelpers.AssertNoError(t, err, "ensure")
	testhelpers.AssertEqual(t, ActionSkippedInFlight, action, "action")
	testhelpers.AssertEqual(t, 0, q.count(), "enqueued tasks")
}

func TestEnsure_RequiresAssetID(t *testing.T) {
	f := newFixture(t)
	c := NewController(f.db, f.catalog, newStubQueue(), nil, nil)

	_, _, err := c.Ensure(context.Background(), &f.region, imagery.Asset{}, nil)
	testhelpers.AssertError(t, err, "empty asset id")
}

func TestEnsure_QueueUnavailableLeavesRecordReclaimable(t *testing.T) {
	f := newFixture(t)
	q := newStubQueue()
	q.reject = true
	c := NewController(f.db, f.catalog, q, f.events, nil)

	_, _, err := c.Ensure(context.Background(), &f.region, f.asset("S2/F"), nil)
	if !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("expected ErrQueueUnavailable, got %v", err)
	}

	var img database.Image
	f.db.Where("asset_id = ?", "S2/F").First(&img)
	testhelpers.AssertEqual(t, database.ImageStatusError, img.Status, "status")

	q.mu.Lock()
	q.reject = false
	q.mu.Unlock()
	_, action, err := c.Ensure(context.Background(), &f.region, f.asset("S2/F"), nil)
	testhelpers.AssertNoError(t, err, "retry ensure")
	testhelpers.AssertEqual(t, ActionRequeued, action, "action")
}

func TestProcess_FailureMarksErrorAndIsTransient(t *testing.T) {
	f := newFixture(t)
	c := NewController(f.db, f.catalog, newStubQueue(), f.events, nil)
	img := testhelpers.NewImageBuilder(f.region.ID).WithAssetID("S2/G").Create(t, f.db)
	f.catalog.StatsErr = errors.New("earth engine unavailable")

	err := c.Process(context.Background(), Task{ImageID: img.ID, AssetID: img.AssetID})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}

	var got database.Image
	f.db.First(&got, img.ID)
	testhelpers.AssertEqual(t, database.ImageStatusError, got.Status, "status")
	if !strings.HasPrefix(got.ProcessingError, "attempt 1:") {
		t.Errorf("expected attempt prefix, got %q", got.ProcessingError)
	}
	if !f.events.has(database.EventSystemError) {
		t.Error("expected SYSTEM_ERROR event")
	}
}

func TestProcess_EmptyStatisticsIsAnError(t *testing.T) {
	f := newFixture(t)
	c := NewController(f.db, f.catalog, newStubQueue(), nil, nil)
	img := testhelpers.NewImageBuilder(f.region.ID).WithAssetID("S2/H").Create(t, f.db)
	f.catalog.Stats["S2/H"] = f.catalog.Stats["missing"]

	err := c.Process(context.Background(), Task{ImageID: img.ID, AssetID: img.AssetID})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestProcess_PartialStatisticsAccepted(t *testing.T) {
	f := newFixture(t)
	c := NewController(f.db, f.catalog, newStubQueue(), nil, nil)
	img := testhelpers.NewImageBuilder(f.region.ID).WithAssetID("S2/I").Create(t, f.db)
	f.asset("S2/I")
	s := f.catalog.Stats["S2/I"]
	s.NDTI.Mean, s.NDTI.StdDev = nil, nil
	f.catalog.Stats["S2/I"] = s

	testhelpers.AssertNoError(t, c.Process(context.Background(), Task{ImageID: img.ID, AssetID: img.AssetID}), "process")

	var got database.Image
	f.db.First(&got, img.ID)
	testhelpers.AssertEqual(t, database.ImageStatusCompleted, got.Status, "status")
	if got.NDTIMean != nil {
		t.Errorf("expected NDTI mean to stay absent, got %v", *got.NDTIMean)
	}
}

func TestProcess_CompletedWithoutForceIsNoop(t *testing.T) {
	f := newFixture(t)
	c := NewController(f.db, f.catalog, newStubQueue(), nil, nil)
	img := testhelpers.NewImageBuilder(f.region.ID).WithAssetID("S2/J").WithStatus(database.ImageStatusCompleted).Create(t, f.db)

	testhelpers.AssertNoError(t, c.Process(context.Background(), Task{ImageID: img.ID, AssetID: img.AssetID}), "process")
	testhelpers.AssertEqual(t, 0, f.catalog.StatsCalls("S2/J"), "statistics calls")
}

func TestProcess_RetriesThenCompletes(t *testing.T) {
	f := newFixture(t)
	c, _ := f.running(t, 3)
	a := f.asset("S2/K")
	f.catalog.FailFirst["S2/K"] = 2

	img, _, err := c.Ensure(context.Background(), &f.region, a, nil)
	testhelpers.AssertNoError(t, err, "ensure")

	done := waitTerminal(t, c, img.ID)
	testhelpers.AssertEqual(t, database.ImageStatusCompleted, done.Status, "status")
	testhelpers.AssertEqual(t, 3, done.Attempts, "attempts")
	testhelpers.AssertEqual(t, "", done.ProcessingError, "processing error")
}

func TestProcess_RetriesExhaustedEndInError(t *testing.T) {
	f := newFixture(t)
	c, _ := f.running(t, 2)
	a := f.asset("S2/L")
	f.catalog.FailFirst["S2/L"] = 100

	img, _, err := c.Ensure(context.Background(), &f.region, a, nil)
	testhelpers.AssertNoError(t, err, "ensure")

	done := waitTerminal(t, c, img.ID)
	testhelpers.AssertEqual(t, database.ImageStatusError, done.Status, "status")
	testhelpers.AssertEqual(t, 3, done.Attempts, "attempts")
	testhelpers.AssertEqual(t, 3, f.catalog.StatsCalls("S2/L"), "statistics calls")
	if !strings.HasPrefix(done.ProcessingError, "attempt 3:") {
		t.Errorf("expected last attempt recorded, got %q", done.ProcessingError)
	}
}

func TestRequeue_ForcesReprocessing(t *testing.T) {
	f := newFixture(t)
	c, q := f.running(t, 0)
	a := f.asset("S2/M")

	img, _, err := c.Ensure(context.Background(), &f.region, a, nil)
	testhelpers.AssertNoError(t, err, "ensure")
	waitTerminal(t, c, img.ID)

	actor := uint(42)
	_, err = c.Requeue(context.Background(), "S2/M", &actor)
	testhelpers.AssertNoError(t, err, "requeue")
	waitIdle(t, q)

	done := waitTerminal(t, c, img.ID)
	testhelpers.AssertEqual(t, database.ImageStatusCompleted, done.Status, "status")
	testhelpers.AssertEqual(t, 2, f.catalog.StatsCalls("S2/M"), "statistics calls")
	if !f.events.has(database.EventImageRequeued) {
		t.Error("expected IMAGE_REQUEUED event")
	}
}

func TestRequeue_RecoversStuckProcessing(t *testing.T) {
	f := newFixture(t)
	q := newStubQueue()
	c := NewController(f.db, f.catalog, q, nil, nil)
	testhelpers.NewImageBuilder(f.region.ID).WithAssetID("S2/N").WithStatus(database.ImageStatusProcessing).Create(t, f.db)

	img, err := c.Requeue(context.Background(), "S2/N", nil)
	testhelpers.AssertNoError(t, err, "requeue")
	testhelpers.AssertEqual(t, database.ImageStatusPending, img.Status, "status")
	if q.count() != 1 || !q.tasks[0].Force {
		t.Errorf("expected one forced task, got %+v", q.tasks)
	}

	_, err = c.Requeue(context.Background(), "S2/N", nil)
	if !errors.Is(err, ErrTaskPending) {
		t.Errorf("expected ErrTaskPending, got %v", err)
	}
}

func TestRequeue_UnknownAsset(t *testing.T) {
	f := newFixture(t)
	c := NewController(f.db, f.catalog, newStubQueue(), nil, nil)

	_, err := c.Requeue(context.Background(), "S2/none", nil)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestWaitTerminal_HonoursDeadline(t *testing.T) {
	f := newFixture(t)
	c := NewController(f.db, f.catalog, newStubQueue(), nil, nil)
	img := testhelpers.NewImageBuilder(f.region.ID).Create(t, f.db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.WaitTerminal(ctx, img.ID, 5*time.Millisecond); err == nil {
		t.Fatal("expected wait on a pending image to time out")
	}
}

func TestWaitTerminal_ErrorWithPendingRetryIsNotTerminal(t *testing.T) {
	f := newFixture(t)
	q := newStubQueue()
	c := NewController(f.db, f.catalog, q, nil, nil)
	img := testhelpers.NewImageBuilder(f.region.ID).WithStatus(database.ImageStatusError).Create(t, f.db)
	q.pending[Task{ImageID: img.ID}.Key()] = true

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.WaitTerminal(ctx, img.ID, 5*time.Millisecond); err == nil {
		t.Fatal("expected wait to time out while a retry is pending")
	}

	q.mu.Lock()
	delete(q.pending, Task{ImageID: img.ID}.Key())
	q.mu.Unlock()
	done := waitTerminal(t, c, img.ID)
	testhelpers.AssertEqual(t, database.ImageStatusError, done.Status, "status")
}
