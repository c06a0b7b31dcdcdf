package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/models"
)

// AlertStatusUpdate changes the lifecycle state of an alert.
type AlertStatusUpdate struct {
	AlertID  uint
	Status   database.AlertStatus
	AssignTo *uint
	ActorID  *uint
}

// AlertService manages mining alerts
type AlertService struct {
	db     *gorm.DB
	events *EventLogService
}

// NewAlertService creates a new AlertService
func NewAlertService(db *gorm.DB, events *EventLogService) *AlertService {
	return &AlertService{db: db, events: events}
}

// Get retrieves an alert by ID
func (s *AlertService) Get(ctx context.Context, id uint) (*database.Alert, error) {
	var alert database.Alert
	err := s.db.WithContext(ctx).First(&alert, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("alert", id)
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// UpdateStatus sets a new status, marks the alert read and optionally
// reassigns it. The update applies only while the alert still has the
// status it was loaded with.
func (s *AlertService) UpdateStatus(ctx context.Context, req AlertStatusUpdate) (*database.Alert, error) {
	if !req.Status.Valid() {
		return nil, invalid("alert_status", "must be ACTIVE, ACKNOWLEDGED, RESOLVED or FALSE_ALARM")
	}

	alert, err := s.Get(ctx, req.AlertID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"status":  req.Status,
		"is_read": true,
	}
	if req.AssignTo != nil {
		var assignee database.User
		err := s.db.WithContext(ctx).First(&assignee, *req.AssignTo).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !assignee.Active) {
			return nil, invalid("assigned_to", "user not found or inactive")
		}
		if err != nil {
			return nil, err
		}
		updates["assigned_to_id"] = assignee.ID
	}

	res := s.db.WithContext(ctx).Model(&database.Alert{}).
		Where("id = ? AND status = ?", alert.ID, alert.Status).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update alert %d: %w", alert.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, precondition("alert %d changed concurrently, reload and retry", alert.ID)
	}

	previous := alert.Status
	s.events.Log(ctx, database.EventLog{
		Type:        database.EventAlertStatusChanged,
		Message:     fmt.Sprintf("Alert %d changed from %s to %s", alert.ID, previous, req.Status),
		UserID:      req.ActorID,
		DetectionID: &alert.DetectionID,
		AlertID:     &alert.ID,
		RegionID:    &alert.RegionID,
		Metadata:    database.JSONB{"from": previous, "to": req.Status},
	})
	return s.Get(ctx, alert.ID)
}

// Active lists ACTIVE alerts, most severe and newest first
func (s *AlertService) Active(ctx context.Context) ([]database.Alert, error) {
	var out []database.Alert
	err := s.db.WithContext(ctx).
		Where("status = ?", database.AlertStatusActive).
		Order(severityOrder).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// Critical lists CRITICAL alerts that are not closed
func (s *AlertService) Critical(ctx context.Context) ([]database.Alert, error) {
	var out []database.Alert
	err := s.db.WithContext(ctx).
		Where("severity = ? AND status IN ?", models.SeverityCritical,
			[]database.AlertStatus{database.AlertStatusActive, database.AlertStatusAcknowledged}).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// ByDetection lists the alerts of a detection
func (s *AlertService) ByDetection(ctx context.Context, detectionID uint) ([]database.Alert, error) {
	var out []database.Alert
	err := s.db.WithContext(ctx).Where("detection_id = ?", detectionID).Order("id").Find(&out).Error
	return out, err
}

const severityOrder = "CASE severity WHEN 'CRITICAL' THEN 0 WHEN 'HIGH' THEN 1 WHEN 'MEDIUM' THEN 2 ELSE 3 END"
