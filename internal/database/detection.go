package database

import (
	"time"

	"github.com/minewatch/minewatch/internal/models"
	"gorm.io/gorm"
)

// DetectionType is the kind of land-use violation detected
type DetectionType string

const (
	DetectionTypeMiningSite      DetectionType = "MINING_SITE"
	DetectionTypeWaterPollution  DetectionType = "WATER_POLLUTION"
	DetectionTypeDeforestation   DetectionType = "DEFORESTATION"
	DetectionTypeSoilDisturbance DetectionType = "SOIL_DISTURBANCE"
)

// ValidationStatus tracks human review of a detection
type ValidationStatus string

const (
	ValidationDetected      ValidationStatus = "DETECTED"
	ValidationValidated     ValidationStatus = "VALIDATED"
	ValidationConfirmed     ValidationStatus = "CONFIRMED"
	ValidationFalsePositive ValidationStatus = "FALSE_POSITIVE"
)

// IsReviewOutcome reports whether s is a valid target of a review
func (s ValidationStatus) IsReviewOutcome() bool {
	return s == ValidationValidated || s == ValidationConfirmed || s == ValidationFalsePositive
}

// Detection is one scored event on an image. Alerts, the financial risk and
// the investigation are cascade-deleted with it.
type Detection struct {
	ID                uint             `gorm:"primaryKey" json:"id"`
	ImageID           uint             `gorm:"not null;index" json:"image_id"`
	RegionID          uint             `gorm:"not null;index" json:"region_id"`
	Latitude          float64          `json:"latitude"`
	Longitude         float64          `json:"longitude"`
	Type              DetectionType    `gorm:"size:30;not null" json:"detection_type"`
	NDVIAnomalyScore  *float64         `gorm:"column:ndvi_anomaly_score" json:"ndvi_anomaly_score,omitempty"`
	NDWIAnomalyScore  *float64         `gorm:"column:ndwi_anomaly_score" json:"ndwi_anomaly_score,omitempty"`
	NDTIAnomalyScore  *float64         `gorm:"column:ndti_anomaly_score" json:"ndti_anomaly_score,omitempty"`
	AnomalyConfidence float64          `json:"anomaly_confidence"`
	MLScore           float64          `json:"ml_score"`
	ConfidenceScore   float64          `gorm:"not null;index" json:"confidence_score"`
	AreaHectares      float64          `json:"area_hectares"`
	ValidationStatus  ValidationStatus `gorm:"size:20;not null;index" json:"validation_status"`
	ValidatedByID     *uint            `json:"validated_by_id,omitempty"`
	ValidatedAt       *time.Time       `json:"validated_at,omitempty"`
	AlgorithmVersion  string           `gorm:"size:20" json:"algorithm_version"`
	DetectionDate     time.Time        `gorm:"index" json:"detection_date"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`

	Image         Image          `gorm:"foreignKey:ImageID" json:"-"`
	Alerts        []Alert        `gorm:"foreignKey:DetectionID;constraint:OnDelete:CASCADE" json:"alerts,omitempty"`
	FinancialRisk *FinancialRisk `gorm:"foreignKey:DetectionID;constraint:OnDelete:CASCADE" json:"financial_risk,omitempty"`
	Investigation *Investigation `gorm:"foreignKey:DetectionID;constraint:OnDelete:CASCADE" json:"investigation,omitempty"`
}

// TableName specifies the table name
func (Detection) TableName() string {
	return "mining_detections"
}

// BeforeSave keeps the confidence within [0,1]
func (d *Detection) BeforeSave(tx *gorm.DB) error {
	switch {
	case d.ConfidenceScore < 0:
		d.ConfidenceScore = 0
	case d.ConfidenceScore > 1:
		d.ConfidenceScore = 1
	}
	return nil
}

// Scores returns the stored anomaly scores
func (d *Detection) Scores() models.AnomalyScores {
	return models.AnomalyScores{NDVI: d.NDVIAnomalyScore, NDWI: d.NDWIAnomalyScore, NDTI: d.NDTIAnomalyScore}
}

// IsReviewed reports whether the detection has left the DETECTED state
func (d *Detection) IsReviewed() bool {
	return d.ValidationStatus != "" && d.ValidationStatus != ValidationDetected
}

// AlertType categorises an alert
type AlertType string

const (
	AlertTypeClandestineSite    AlertType = "CLANDESTINE_SITE"
	AlertTypeSuspiciousActivity AlertType = "SUSPICIOUS_ACTIVITY"
	AlertTypeWaterPollution     AlertType = "WATER_POLLUTION"
	AlertTypeDeforestation      AlertType = "DEFORESTATION"
)

// AlertStatus is the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "ACTIVE"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusResolved     AlertStatus = "RESOLVED"
	AlertStatusFalseAlarm   AlertStatus = "FALSE_ALARM"
)

// Valid reports whether s is a known alert status
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusActive, AlertStatusAcknowledged, AlertStatusResolved, AlertStatusFalseAlarm:
		return true
	}
	return false
}

// Alert is raised for a detection
type Alert struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	DetectionID  uint            `gorm:"not null;index" json:"detection_id"`
	RegionID     uint            `gorm:"not null;index" json:"region_id"`
	Name         string          `gorm:"size:255;not null" json:"name"`
	Severity     models.Severity `gorm:"size:20;not null;index" json:"level"`
	Type         AlertType       `gorm:"size:30;not null" json:"alert_type"`
	Message      string          `gorm:"type:text" json:"message"`
	Status       AlertStatus     `gorm:"size:20;not null;index" json:"alert_status"`
	IsRead       bool            `gorm:"not null" json:"is_read"`
	AssignedToID *uint           `gorm:"index" json:"assigned_to_id,omitempty"`
	SentAt       time.Time       `json:"sent_at"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TableName specifies the table name
func (Alert) TableName() string {
	return "mining_alerts"
}

// FinancialRisk is the monetary impact estimate of one detection
type FinancialRisk struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	DetectionID         uint            `gorm:"uniqueIndex;not null" json:"detection_id"`
	AreaHectares        float64         `json:"area_hectares"`
	CostPerHectare      float64         `json:"cost_per_hectare"`
	IntensityFactor     float64         `json:"intensity_factor"`
	DistanceFactor      float64         `json:"distance_factor"`
	OccurrenceFactor    float64         `json:"occurrence_factor"`
	EstimatedLoss       float64         `gorm:"index" json:"estimated_loss"`
	SensitiveDistanceKm float64         `json:"sensitive_zone_distance_km"`
	OccurrenceCount     int             `json:"occurrence_count"`
	RiskLevel           models.Severity `gorm:"size:20;not null;index" json:"risk_level"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// TableName specifies the table name
func (FinancialRisk) TableName() string {
	return "financial_risks"
}
