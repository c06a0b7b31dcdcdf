package api

import (
	"time"

	"github.com/minewatch/minewatch/internal/database"
)

// ========== Auth ==========

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the issued token and the authenticated user.
type LoginResponse struct {
	Token     string         `json:"token"`
	ExpiresIn int            `json:"expires_in"`
	User      *database.User `json:"user"`
}

// ========== Analysis ==========

// DefaultMonthsBack is the analysis window used when a request names none.
const DefaultMonthsBack = 3

// RunAnalysisRequest is the body of POST /api/analysis/run. A missing
// months_back means DefaultMonthsBack.
type RunAnalysisRequest struct {
	MonthsBack *int `json:"months_back" validate:"omitempty,min=1,max=12"`
}

// Months returns the requested window or DefaultMonthsBack.
func (r RunAnalysisRequest) Months() int {
	if r.MonthsBack == nil {
		return DefaultMonthsBack
	}
	return *r.MonthsBack
}

// ========== Investigations ==========

// AssignInvestigationRequest is the body of PATCH /api/investigations/{id}/assign.
type AssignInvestigationRequest struct {
	AssignedTo uint   `json:"assigned_to" validate:"required"`
	Priority   string `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH"`
	Notes      string `json:"notes" validate:"max=2000"`
}

// SubmitResultRequest is the body of PATCH /api/investigations/{id}/result.
type SubmitResultRequest struct {
	Result            string `json:"result" validate:"required,oneof=CONFIRMED FALSE_POSITIVE NEEDS_MONITORING"`
	FieldNotes        string `json:"field_notes"`
	InvestigationDate string `json:"investigation_date" validate:"omitempty,datetime=2006-01-02"`
}

// SubmitResultResponse is the completed investigation with its feedback.
type SubmitResultResponse struct {
	Investigation *database.Investigation     `json:"investigation"`
	Feedback      *database.DetectionFeedback `json:"feedback"`
}

// ========== Alerts ==========

// UpdateAlertStatusRequest is the body of PATCH /api/alerts/{id}/status.
type UpdateAlertStatusRequest struct {
	AlertStatus string `json:"alert_status" validate:"required,oneof=ACTIVE ACKNOWLEDGED RESOLVED FALSE_ALARM"`
	AssignedTo  *uint  `json:"assigned_to"`
}

// ========== Detections ==========

// ValidateDetectionRequest is the body of PATCH /api/detections/{id}/validate.
type ValidateDetectionRequest struct {
	ValidationStatus string `json:"validation_status" validate:"required,oneof=VALIDATED CONFIRMED FALSE_POSITIVE"`
}

// ========== Feedback ==========

// MarkTrainingRequest is the body of POST /api/feedbacks/mark-used.
type MarkTrainingRequest struct {
	FeedbackIDs []uint `json:"feedback_ids" validate:"required,min=1"`
}

// ========== Images ==========

// RequeueImageRequest is the body of POST /api/images/requeue.
type RequeueImageRequest struct {
	AssetID string `json:"asset_id" validate:"required,max=255"`
}

// ========== Health ==========

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string    `json:"status"`
	Database   string    `json:"database"`
	QueueDepth int       `json:"queue_depth"`
	Time       time.Time `json:"time"`
}
