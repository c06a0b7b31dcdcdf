package database

import (
	"time"
)

// InvestigationStatus is the workflow state of an investigation
type InvestigationStatus string

const (
	InvestigationPending    InvestigationStatus = "PENDING"
	InvestigationAssigned   InvestigationStatus = "ASSIGNED"
	InvestigationInProgress InvestigationStatus = "IN_PROGRESS"
	InvestigationCompleted  InvestigationStatus = "COMPLETED"
)

// OpenStatuses are the states that count towards an agent's workload
var OpenStatuses = []InvestigationStatus{InvestigationPending, InvestigationAssigned, InvestigationInProgress}

// InvestigationResult is the ground-truth outcome reported by the field agent
type InvestigationResult string

const (
	ResultConfirmed       InvestigationResult = "CONFIRMED"
	ResultFalsePositive   InvestigationResult = "FALSE_POSITIVE"
	ResultNeedsMonitoring InvestigationResult = "NEEDS_MONITORING"
)

// Valid reports whether r is a known result
func (r InvestigationResult) Valid() bool {
	switch r {
	case ResultConfirmed, ResultFalsePositive, ResultNeedsMonitoring:
		return true
	}
	return false
}

// ValidationStatus maps the field result onto the detection review state
func (r InvestigationResult) ValidationStatus() ValidationStatus {
	switch r {
	case ResultConfirmed:
		return ValidationConfirmed
	case ResultFalsePositive:
		return ValidationFalsePositive
	}
	return ValidationValidated
}

// Priority orders investigations for field agents
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// Investigation is the field follow-up of a detection. Every field is always
// present; Priority is set at creation and may be overridden on assignment.
type Investigation struct {
	ID                 uint                `gorm:"primaryKey" json:"id"`
	Reference          string              `gorm:"uniqueIndex;size:36;not null" json:"reference"`
	DetectionID        uint                `gorm:"uniqueIndex;not null" json:"detection_id"`
	TargetCoordinates  string              `gorm:"size:100" json:"target_coordinates"`
	AccessInstructions string              `gorm:"type:text" json:"access_instructions"`
	AssignedToID       *uint               `gorm:"index" json:"assigned_to_id,omitempty"`
	AssignedByID       *uint               `json:"assigned_by_id,omitempty"`
	AssignedAt         *time.Time          `json:"assigned_at,omitempty"`
	Priority           Priority            `gorm:"size:10;not null" json:"priority"`
	AssignmentNotes    string              `gorm:"type:text" json:"assignment_notes"`
	Status             InvestigationStatus `gorm:"size:20;not null;index" json:"status"`
	Result             InvestigationResult `gorm:"size:20" json:"result,omitempty"`
	FieldNotes         string              `gorm:"type:text" json:"field_notes"`
	InvestigationDate  *time.Time          `json:"investigation_date,omitempty"`
	StartedAt          *time.Time          `json:"started_at,omitempty"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`

	Detection  *Detection `gorm:"foreignKey:DetectionID;constraint:OnDelete:CASCADE" json:"detection,omitempty"`
	AssignedTo *User      `gorm:"foreignKey:AssignedToID" json:"assigned_to,omitempty"`
}

// TableName specifies the table name
func (Investigation) TableName() string {
	return "investigations"
}

// DetectionFeedback snapshots the original scores of a detection together with
// the field outcome. It is immutable except for UsedForTraining.
type DetectionFeedback struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	DetectionID          uint      `gorm:"uniqueIndex;not null" json:"detection_id"`
	InvestigationID      uint      `gorm:"uniqueIndex;not null" json:"investigation_id"`
	OriginalConfidence   float64   `json:"original_confidence"`
	OriginalNDVIScore    *float64  `json:"original_ndvi_score,omitempty"`
	OriginalNDWIScore    *float64  `json:"original_ndwi_score,omitempty"`
	OriginalNDTIScore    *float64  `json:"original_ndti_score,omitempty"`
	GroundTruthConfirmed bool      `gorm:"not null" json:"ground_truth_confirmed"`
	AgentConfidence      int       `gorm:"not null" json:"agent_confidence"`
	UsedForTraining      bool      `gorm:"not null;index" json:"used_for_training"`
	CreatedAt            time.Time `json:"created_at"`
}

// TableName specifies the table name
func (DetectionFeedback) TableName() string {
	return "detection_feedbacks"
}
