// Package alerts maps detection confidence onto alert severity and builds
// the alert record raised for a detection.
package alerts

import (
	"fmt"
	"time"

	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/models"
)

// Thresholds are the minimum confidences for each escalated tier.
type Thresholds struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
}

// DefaultThresholds returns the production tiers.
func DefaultThresholds() Thresholds {
	return Thresholds{Critical: 0.8, High: 0.6}
}

// Validate checks the tiers are ordered within [0,1].
func (t Thresholds) Validate() error {
	if t.High < 0 || t.Critical > 1 || t.High > t.Critical {
		return fmt.Errorf("alert thresholds must satisfy 0 <= high <= critical <= 1")
	}
	return nil
}

// Classification is the severity and category for a confidence.
type Classification struct {
	Severity models.Severity
	Type     database.AlertType
}

// Classifier assigns alert tiers.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier creates a classifier.
func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{thresholds: t}
}

// Classify maps a combined confidence onto a tier. The lowest tier emitted
// for a detection is MEDIUM.
func (c *Classifier) Classify(confidence float64) Classification {
	switch {
	case confidence >= c.thresholds.Critical:
		return Classification{Severity: models.SeverityCritical, Type: database.AlertTypeClandestineSite}
	case confidence >= c.thresholds.High:
		return Classification{Severity: models.SeverityHigh, Type: database.AlertTypeSuspiciousActivity}
	default:
		return Classification{Severity: models.SeverityMedium, Type: database.AlertTypeSuspiciousActivity}
	}
}

// Build returns a new ACTIVE, unread, unassigned alert for the detection.
// The record is not persisted.
func (c *Classifier) Build(d *database.Detection, now time.Time) *database.Alert {
	cls := c.Classify(d.ConfidenceScore)
	date := d.DetectionDate
	if date.IsZero() {
		date = now
	}
	return &database.Alert{
		DetectionID: d.ID,
		RegionID:    d.RegionID,
		Name:        fmt.Sprintf("Mining detection - %s", date.Format("2006-01-02")),
		Severity:    cls.Severity,
		Type:        cls.Type,
		Message: fmt.Sprintf("Gold-mining activity detected with confidence %.2f. Estimated area: %.1f hectares.",
			d.ConfidenceScore, d.AreaHectares),
		Status: database.AlertStatusActive,
		IsRead: false,
		SentAt: now,
	}
}
