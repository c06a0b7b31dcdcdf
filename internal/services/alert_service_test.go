package services

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/models"
	"github.com/minewatch/minewatch/internal/testhelpers"
)

func createAlert(t *testing.T, e *env, severity models.Severity, status database.AlertStatus) database.Alert {
	t.Helper()
	_, det := testhelpers.CreateDetectionChain(t, e.db, e.region.ID)
	alert := database.Alert{
		DetectionID: det.ID,
		RegionID:    e.region.ID,
		Name:        "Mining detection",
		Severity:    severity,
		Type:        database.AlertTypeSuspiciousActivity,
		Status:      status,
		SentAt:      time.Now(),
	}
	testhelpers.MustCreate(t, e.db, &alert)
	return alert
}

func TestAlertService_UpdateStatus(t *testing.T) {
	e := newEnv(t, nil)
	svc := NewAlertService(e.db, e.events)
	manager := testhelpers.NewUserBuilder().WithRole(database.RoleRegionalManager).Create(t, e.db)
	agent := testhelpers.NewUserBuilder().Create(t, e.db)
	alert := createAlert(t, e, models.SeverityHigh, database.AlertStatusActive)

	got, err := svc.UpdateStatus(context.Background(), AlertStatusUpdate{
		AlertID:  alert.ID,
		Status:   database.AlertStatusAcknowledged,
		AssignTo: &agent.ID,
		ActorID:  &manager.ID,
	})
	testhelpers.AssertNoError(t, err, "update")
	testhelpers.AssertEqual(t, database.AlertStatusAcknowledged, got.Status, "status")
	if !got.IsRead {
		t.Error("expected alert to be marked read")
	}
	if got.AssignedToID == nil || *got.AssignedToID != agent.ID {
		t.Errorf("expected assignee %d, got %v", agent.ID, got.AssignedToID)
	}
	testhelpers.AssertEqual(t, int64(1), e.eventCount(t, database.EventAlertStatusChanged), "status events")
}

func TestAlertService_UpdateStatusRejectsBadInput(t *testing.T) {
	e := newEnv(t, nil)
	svc := NewAlertService(e.db, e.events)
	inactive := testhelpers.NewUserBuilder().Inactive().Create(t, e.db)
	alert := createAlert(t, e, models.SeverityMedium, database.AlertStatusActive)

	_, err := svc.UpdateStatus(context.Background(), AlertStatusUpdate{AlertID: alert.ID, Status: "CLOSED"})
	if !IsValidation(err) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), AlertStatusUpdate{AlertID: alert.ID, Status: database.AlertStatusResolved, AssignTo: &inactive.ID})
	if !IsValidation(err) {
		t.Errorf("expected validation error for inactive assignee, got %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), AlertStatusUpdate{AlertID: 404, Status: database.AlertStatusResolved})
	if !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}

	unchanged, err := svc.Get(context.Background(), alert.ID)
	testhelpers.AssertNoError(t, err, "get")
	testhelpers.AssertEqual(t, database.AlertStatusActive, unchanged.Status, "status after rejected updates")
}

func TestAlertService_UpdateStatusRejectsConcurrentChange(t *testing.T) {
	e := newEnv(t, nil)
	svc := NewAlertService(e.db, e.events)
	agent := testhelpers.NewUserBuilder().Create(t, e.db)
	alert := createAlert(t, e, models.SeverityHigh, database.AlertStatusActive)

	// Another reviewer resolves the alert while the assignee is being loaded.
	err := e.db.Callback().Query().After("gorm:query").Register("test:resolve_alert", func(tx *gorm.DB) {
		if tx.Statement.Table != "users" {
			return
		}
		tx.Session(&gorm.Session{NewDB: true}).Model(&database.Alert{}).
			Where("id = ?", alert.ID).
			Update("status", database.AlertStatusResolved)
	})
	testhelpers.AssertNoError(t, err, "register callback")

	_, err = svc.UpdateStatus(context.Background(), AlertStatusUpdate{
		AlertID:  alert.ID,
		Status:   database.AlertStatusAcknowledged,
		AssignTo: &agent.ID,
	})
	if !IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	testhelpers.AssertNoError(t, e.db.Callback().Query().Remove("test:resolve_alert"), "remove callback")

	got, err := svc.Get(context.Background(), alert.ID)
	testhelpers.AssertNoError(t, err, "get")
	testhelpers.AssertEqual(t, database.AlertStatusResolved, got.Status, "status")
	if got.AssignedToID != nil {
		t.Errorf("expected no assignee, got %d", *got.AssignedToID)
	}
	testhelpers.AssertEqual(t, int64(0), e.eventCount(t, database.EventAlertStatusChanged), "status events")
}

func TestAlertService_Listings(t *testing.T) {
	e := newEnv(t, nil)
	svc := NewAlertService(e.db, e.events)
	medium := createAlert(t, e, models.SeverityMedium, database.AlertStatusActive)
	critical := createAlert(t, e, models.SeverityCritical, database.AlertStatusActive)
	high := createAlert(t, e, models.SeverityHigh, database.AlertStatusActive)
	createAlert(t, e, models.SeverityCritical, database.AlertStatusAcknowledged)
	createAlert(t, e, models.SeverityCritical, database.AlertStatusResolved)

	active, err := svc.Active(context.Background())
	testhelpers.AssertNoError(t, err, "active")
	if len(active) != 3 {
		t.Fatalf("expected 3 active alerts, got %d", len(active))
	}
	testhelpers.AssertEqual(t, critical.ID, active[0].ID, "most severe first")
	testhelpers.AssertEqual(t, high.ID, active[1].ID, "second")
	testhelpers.AssertEqual(t, medium.ID, active[2].ID, "least severe last")

	crit, err := svc.Critical(context.Background())
	testhelpers.AssertNoError(t, err, "critical")
	testhelpers.AssertEqual(t, 2, len(crit), "open critical alerts")

	byDet, err := svc.ByDetection(context.Background(), high.DetectionID)
	testhelpers.AssertNoError(t, err, "by detection")
	testhelpers.AssertEqual(t, 1, len(byDet), "alerts for detection")
}
