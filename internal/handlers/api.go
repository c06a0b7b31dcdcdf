package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/api"
	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/middleware"
	"github.com/minewatch/minewatch/internal/services"
)

// Analyzer runs a batch analysis.
type Analyzer interface {
	Run(ctx context.Context, req services.RunRequest) (*services.RunResult, error)
}

// Requeuer forces an image back onto the task queue.
type Requeuer interface {
	Requeue(ctx context.Context, assetID string, actor *uint) (*database.Image, error)
}

// APIDeps are the services behind the REST API.
type APIDeps struct {
	DB             *gorm.DB
	Analyzer       Analyzer
	Investigations *services.InvestigationService
	Alerts         *services.AlertService
	Detections     *services.DetectionService
	FinancialRisks *services.FinancialRiskService
	Feedback       *services.FeedbackService
	Events         *services.EventLogService
	Images         Requeuer
}

// APIHandler handles the /api endpoints
type APIHandler struct {
	APIDeps
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(deps APIDeps) *APIHandler {
	return &APIHandler{APIDeps: deps}
}

var (
	managers  = []database.UserRole{database.RoleAdministrator, database.RoleRegionalManager}
	reviewers = []database.UserRole{database.RoleAdministrator, database.RoleRegionalManager, database.RoleAnalyst}
)

// SetupRoutes sets up all API routes
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	handle := func(pattern string, fn http.HandlerFunc, roles ...database.UserRole) {
		var handler http.Handler = fn
		if len(roles) > 0 {
			handler = middleware.RequireRole(roles...)(handler)
		}
		mux.Handle(pattern, handler)
	}

	// Analysis
	handle("POST /api/analysis/run", h.handleRunAnalysis, reviewers...)

	// Investigations
	handle("GET /api/investigations", h.handleListInvestigations)
	handle("GET /api/investigations/pending", h.handlePendingInvestigations)
	handle("GET /api/investigations/mine", h.handleMyInvestigations)
	handle("GET /api/investigations/available-agents", h.handleAvailableAgents, managers...)
	handle("GET /api/investigations/{id}", h.handleGetInvestigation)
	handle("PATCH /api/investigations/{id}/assign", h.handleAssignInvestigation, managers...)
	handle("PATCH /api/investigations/{id}/start", h.handleStartInvestigation)
	handle("PATCH /api/investigations/{id}/result", h.handleSubmitResult)

	// Alerts
	handle("GET /api/alerts/active", h.handleActiveAlerts)
	handle("GET /api/alerts/critical", h.handleCriticalAlerts)
	handle("PATCH /api/alerts/{id}/status", h.handleUpdateAlertStatus)

	// Detections
	handle("GET /api/detections", h.handleListDetections)
	handle("GET /api/detections/high-confidence", h.handleHighConfidenceDetections)
	handle("GET /api/detections/{id}", h.handleGetDetection)
	handle("DELETE /api/detections/{id}", h.handleDeleteDetection, managers...)
	handle("GET /api/detections/{id}/alerts", h.handleDetectionAlerts)
	handle("GET /api/detections/{id}/events", h.handleDetectionEvents)
	handle("PATCH /api/detections/{id}/validate", h.handleValidateDetection, reviewers...)

	// Financial risks
	handle("GET /api/financial-risks", h.handleListFinancialRisks, managers...)
	handle("GET /api/financial-risks/high-impact", h.handleHighImpactRisks, managers...)

	// Feedback
	handle("GET /api/feedbacks/training-data", h.handleTrainingData, reviewers...)
	handle("POST /api/feedbacks/mark-used", h.handleMarkUsed, database.RoleAdministrator, database.RoleAnalyst)
	handle("GET /api/feedbacks/accuracy-stats", h.handleAccuracyStats)

	// Images and events
	handle("POST /api/images/requeue", h.handleRequeueImage, database.RoleAdministrator)
	handle("GET /api/events/recent", h.handleRecentEvents)
}

// currentUser loads the active user behind the request token. It writes the
// error response itself and returns nil when there is none.
func (h *APIHandler) currentUser(w http.ResponseWriter, r *http.Request) *database.User {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		api.RespondErrorWithCode(w, http.StatusUnauthorized, api.CodeUnauthorized, "Authentication required")
		return nil
	}

	var user database.User
	err := h.DB.WithContext(r.Context()).First(&user, p.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !user.Active) {
		api.RespondErrorWithCode(w, http.StatusUnauthorized, api.CodeUnauthorized, "User is no longer active")
		return nil
	}
	if err != nil {
		log.Printf("APIHandler: Failed to load user %d: %v", p.UserID, err)
		api.RespondServiceError(w, err)
		return nil
	}
	return &user
}

// decodeAndValidate reads a JSON body into dst and writes a 400/422 on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := api.DecodeJSON(r, dst); err != nil {
		api.RespondErrorWithCode(w, http.StatusBadRequest, api.CodeValidation, err.Error())
		return false
	}
	if errs := api.Validate(dst); errs != nil {
		api.RespondValidationError(w, errs)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := api.PathID(r, "id")
	if err != nil {
		api.RespondErrorWithCode(w, http.StatusBadRequest, api.CodeValidation, err.Error())
		return 0, false
	}
	return id, true
}
