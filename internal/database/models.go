package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// UserRole is the role a user holds in the organisation
type UserRole string

const (
	RoleAdministrator   UserRole = "ADMINISTRATOR"
	RoleRegionalManager UserRole = "REGIONAL_MANAGER"
	RoleFieldAgent      UserRole = "FIELD_AGENT"
	RoleTechnicalAgent  UserRole = "TECHNICAL_AGENT"
	RoleAnalyst         UserRole = "ANALYST"
)

// Valid reports whether r is a known role
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdministrator, RoleRegionalManager, RoleFieldAgent, RoleTechnicalAgent, RoleAnalyst:
		return true
	}
	return false
}

// IsManager reports whether the role carries management authority
func (r UserRole) IsManager() bool {
	return r == RoleAdministrator || r == RoleRegionalManager
}

// Region is a monitored geographic area
type Region struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:100;not null" json:"name"`
	Code      string    `gorm:"uniqueIndex;size:10;not null" json:"code"`
	AreaKm2   float64   `json:"area_km2"`
	CenterLat float64   `json:"center_lat"`
	CenterLon float64   `json:"center_lon"`
	MinLat    float64   `json:"min_lat"`
	MaxLat    float64   `json:"max_lat"`
	MinLon    float64   `json:"min_lon"`
	MaxLon    float64   `json:"max_lon"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (Region) TableName() string {
	return "regions"
}

// Contains reports whether the point lies inside the region bounds
func (r *Region) Contains(lat, lon float64) bool {
	return lat >= r.MinLat && lat <= r.MaxLat && lon >= r.MinLon && lon <= r.MaxLon
}

// User is an operator of the system
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Email        string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	FirstName    string     `gorm:"size:100" json:"first_name"`
	LastName     string     `gorm:"size:100" json:"last_name"`
	PasswordHash string     `gorm:"size:255" json:"-"`
	Role         UserRole   `gorm:"size:30;not null;index" json:"role"`
	Active       bool       `gorm:"not null" json:"active"`
	Phone        string     `gorm:"size:30" json:"phone,omitempty"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}

// FullName returns "First Last", falling back to the email
func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	}
	return u.Email
}

// EventType classifies an audit log entry
type EventType string

const (
	EventDetectionCreated        EventType = "DETECTION_CREATED"
	EventDetectionValidated      EventType = "DETECTION_VALIDATED"
	EventDetectionDeleted        EventType = "DETECTION_DELETED"
	EventAlertGenerated          EventType = "ALERT_GENERATED"
	EventAlertStatusChanged      EventType = "ALERT_STATUS_CHANGED"
	EventFinancialRiskCalculated EventType = "FINANCIAL_RISK_CALCULATED"
	EventInvestigationCreated    EventType = "INVESTIGATION_CREATED"
	EventInvestigationAssigned   EventType = "INVESTIGATION_ASSIGNED"
	EventInvestigationStarted    EventType = "INVESTIGATION_STARTED"
	EventInvestigationCompleted  EventType = "INVESTIGATION_COMPLETED"
	EventFeedbackCreated         EventType = "FEEDBACK_CREATED"
	EventAnalysisStarted         EventType = "ANALYSIS_STARTED"
	EventAnalysisCompleted       EventType = "ANALYSIS_COMPLETED"
	EventImageProcessed          EventType = "IMAGE_PROCESSED"
	EventImageRequeued           EventType = "IMAGE_REQUEUED"
	EventSystemError             EventType = "SYSTEM_ERROR"
)

// EventLog is an append-only audit record of pipeline activity
type EventLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Type        EventType `gorm:"size:40;not null;index" json:"event_type"`
	Message     string    `gorm:"type:text" json:"message"`
	UserID      *uint     `gorm:"index" json:"user_id,omitempty"`
	DetectionID *uint     `gorm:"index" json:"detection_id,omitempty"`
	AlertID     *uint     `json:"alert_id,omitempty"`
	RegionID    *uint     `json:"region_id,omitempty"`
	Metadata    JSONB     `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name
func (EventLog) TableName() string {
	return "event_logs"
}
