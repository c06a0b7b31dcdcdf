package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/minewatch/minewatch/internal/database"
)

const (
	// HighWorkload is the open-investigation count from which an
	// assignment carries a warning.
	HighWorkload = 8

	// DefaultAgentConfidence is the agent confidence recorded on feedback
	// (1 low, 2 medium, 3 high).
	DefaultAgentConfidence = 2

	highPriorityConfidence   = 0.8
	mediumPriorityConfidence = 0.6
)

// Availability buckets a field agent by open workload.
type Availability string

const (
	AgentAvailable  Availability = "AVAILABLE"
	AgentBusy       Availability = "BUSY"
	AgentOverloaded Availability = "OVERLOADED"
)

// AvailabilityFor maps a workload onto its bucket: 0-3 available, 4-7 busy,
// 8 and above overloaded.
func AvailabilityFor(workload int64) Availability {
	switch {
	case workload <= 3:
		return AgentAvailable
	case workload < HighWorkload:
		return AgentBusy
	default:
		return AgentOverloaded
	}
}

// PriorityFor derives the initial priority from a detection confidence.
func PriorityFor(confidence float64) database.Priority {
	switch {
	case confidence >= highPriorityConfidence:
		return database.PriorityHigh
	case confidence >= mediumPriorityConfidence:
		return database.PriorityMedium
	default:
		return database.PriorityLow
	}
}

// AssignRequest assigns a PENDING investigation to a field agent.
type AssignRequest struct {
	InvestigationID uint
	AgentID         uint
	AssignerID      *uint
	Priority        database.Priority
	Notes           string
}

// AssignResult carries the assigned investigation and the agent's workload.
type AssignResult struct {
	Investigation *database.Investigation `json:"investigation"`
	AgentName     string                  `json:"agent_name"`
	NewWorkload   int64                   `json:"new_workload"`
	Warning       string                  `json:"warning,omitempty"`
}

// SubmitRequest closes an investigation with a field result.
type SubmitRequest struct {
	InvestigationID uint
	Actor           *database.User
	Result          database.InvestigationResult
	FieldNotes      string
	Date            *time.Time
}

// AgentWorkload is one row of the availability ranking.
type AgentWorkload struct {
	ID            uint         `json:"id"`
	FullName      string       `json:"full_name"`
	Email         string       `json:"email"`
	ActiveCount   int64        `json:"active_investigations_count"`
	PendingCount  int64        `json:"pending_investigations_count"`
	TotalWorkload int64        `json:"total_workload"`
	Availability  Availability `json:"availability_status"`
	LastLoginAt   *time.Time   `json:"last_login,omitempty"`
}

// AvailabilitySummary counts agents per bucket.
type AvailabilitySummary struct {
	TotalAgents      int `json:"total_agents"`
	AvailableAgents  int `json:"available_agents"`
	BusyAgents       int `json:"busy_agents"`
	OverloadedAgents int `json:"overloaded_agents"`
}

// AgentAvailabilityReport is the ranked list of field agents, least loaded first.
type AgentAvailabilityReport struct {
	Agents  []AgentWorkload     `json:"agents"`
	Summary AvailabilitySummary `json:"summary"`
}

// InvestigationService runs the investigation state machine:
// PENDING -> ASSIGNED -> IN_PROGRESS -> COMPLETED. Every transition is a
// conditional update on the expected source state, so a concurrent caller
// that loses the race gets a PreconditionError instead of overwriting.
type InvestigationService struct {
	db     *gorm.DB
	events *EventLogService
	now    func() time.Time
}

// NewInvestigationService creates an investigation service
func NewInvestigationService(db *gorm.DB, events *EventLogService) *InvestigationService {
	return &InvestigationService{db: db, events: events, now: time.Now}
}

// CreateForDetection opens the PENDING investigation of a detection. It
// returns the existing one, with created=false, when it was already opened.
func (s *InvestigationService) CreateForDetection(ctx context.Context, d *database.Detection) (*database.Investigation, bool, error) {
	access := fmt.Sprintf("GPS coordinates: %.4f, %.4f. Estimated area: %.1f hectares. Model confidence: %.2f",
		d.Latitude, d.Longitude, d.AreaHectares, d.ConfidenceScore)
	inv := &database.Investigation{
		Reference:          uuid.NewString(),
		DetectionID:        d.ID,
		TargetCoordinates:  fmt.Sprintf("%.4f, %.4f", d.Latitude, d.Longitude),
		AccessInstructions: access,
		Priority:           PriorityFor(d.ConfidenceScore),
		Status:             database.InvestigationPending,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "detection_id"}}, DoNothing: true}).
		Create(inv)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to create investigation for detection %d: %w", d.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		var existing database.Investigation
		if err := s.db.WithContext(ctx).Where("detection_id = ?", d.ID).First(&existing).Error; err != nil {
			return nil, false, fmt.Errorf("failed to load investigation for detection %d: %w", d.ID, err)
		}
		return &existing, false, nil
	}

	s.events.Log(ctx, database.EventLog{
		Type:        database.EventInvestigationCreated,
		Message:     fmt.Sprintf("Investigation created for detection %d", d.ID),
		DetectionID: &d.ID,
		RegionID:    &d.RegionID,
		Metadata:    database.JSONB{"investigation_id": inv.ID, "priority": inv.Priority},
	})
	return inv, true, nil
}

// Get loads an investigation with its detection and assignee
func (s *InvestigationService) Get(ctx context.Context, id uint) (*database.Investigation, error) {
	var inv database.Investigation
	err := s.db.WithContext(ctx).Preload("Detection").Preload("AssignedTo").First(&inv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("investigation", id)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Assign moves a PENDING investigation to ASSIGNED. The assignment is never
// blocked by workload; a high workload only adds a warning.
func (s *InvestigationService) Assign(ctx context.Context, req AssignRequest) (*AssignResult, error) {
	if req.AgentID == 0 {
		return nil, invalid("assigned_to", "is required")
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return nil, invalid("priority", "must be LOW, MEDIUM or HIGH")
	}

	var agent database.User
	err := s.db.WithContext(ctx).First(&agent, req.AgentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && (agent.Role != database.RoleFieldAgent || !agent.Active)) {
		return nil, invalid("assigned_to", "field agent not found or inactive")
	}
	if err != nil {
		return nil, err
	}

	inv, err := s.Get(ctx, req.InvestigationID)
	if err != nil {
		return nil, err
	}
	if inv.Status != database.InvestigationPending {
		return nil, precondition("investigation is %s; only PENDING investigations can be assigned", inv.Status)
	}

	now := s.now()
	updates := map[string]interface{}{
		"status":           database.InvestigationAssigned,
		"assigned_to_id":   agent.ID,
		"assigned_by_id":   req.AssignerID,
		"assigned_at":      now,
		"assignment_notes": req.Notes,
	}
	if req.Priority != "" {
		updates["priority"] = req.Priority
	}
	res := s.db.WithContext(ctx).Model(&database.Investigation{}).
		Where("id = ? AND status = ?", inv.ID, database.InvestigationPending).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to assign investigation %d: %w", inv.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, precondition("investigation %d is no longer PENDING", inv.ID)
	}

	workload, err := s.Workload(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	result := &AssignResult{AgentName: agent.FullName(), NewWorkload: workload}
	if workload >= HighWorkload {
		result.Warning = fmt.Sprintf("%s now has %d open investigations", agent.FullName(), workload)
		log.Printf("InvestigationService: High workload for agent %d: %d open investigations", agent.ID, workload)
	}

	var regionID *uint
	if inv.Detection != nil {
		regionID = &inv.Detection.RegionID
	}
	s.events.Log(ctx, database.EventLog{
		Type:        database.EventInvestigationAssigned,
		Message:     fmt.Sprintf("Investigation %d assigned to %s", inv.ID, agent.FullName()),
		UserID:      req.AssignerID,
		DetectionID: &inv.DetectionID,
		RegionID:    regionID,
		Metadata: database.JSONB{
			"investigation_id": inv.ID,
			"assigned_to_id":   agent.ID,
			"assigned_to_name": agent.FullName(),
			"workload":         workload,
		},
	})

	if result.Investigation, err = s.Get(ctx, inv.ID); err != nil {
		return nil, err
	}
	return result, nil
}

// Start moves an ASSIGNED investigation to IN_PROGRESS.
func (s *InvestigationService) Start(ctx context.Context, id uint, actor *database.User) (*database.Investigation, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeFieldWork(inv, actor); err != nil {
		return nil, err
	}
	if inv.Status != database.InvestigationAssigned {
		return nil, precondition("investigation is %s; only ASSIGNED investigations can be started", inv.Status)
	}

	res := s.db.WithContext(ctx).Model(&database.Investigation{}).
		Where("id = ? AND status = ?", id, database.InvestigationAssigned).
		Updates(map[string]interface{}{
			"status":     database.InvestigationInProgress,
			"started_at": s.now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to start investigation %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, precondition("investigation %d is no longer ASSIGNED", id)
	}

	s.events.Log(ctx, database.EventLog{
		Type:        database.EventInvestigationStarted,
		Message:     fmt.Sprintf("Investigation %d started", id),
		UserID:      &actor.ID,
		DetectionID: &inv.DetectionID,
		Metadata:    database.JSONB{"investigation_id": id},
	})
	return s.Get(ctx, id)
}

// SubmitResult completes an ASSIGNED or IN_PROGRESS investigation and writes
// its feedback record in the same transaction, so a COMPLETED investigation
// always has exactly one feedback.
func (s *InvestigationService) SubmitResult(ctx context.Context, req SubmitRequest) (*database.Investigation, *database.DetectionFeedback, error) {
	if !req.Result.Valid() {
		return nil, nil, invalid("result", "must be CONFIRMED, FALSE_POSITIVE or NEEDS_MONITORING")
	}

	inv, err := s.Get(ctx, req.InvestigationID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorizeFieldWork(inv, req.Actor); err != nil {
		return nil, nil, err
	}
	if inv.Status != database.InvestigationAssigned && inv.Status != database.InvestigationInProgress {
		return nil, nil, precondition("investigation is %s; only ASSIGNED or IN_PROGRESS investigations accept a result", inv.Status)
	}
	if inv.Detection == nil {
		return nil, nil, notFound("detection", inv.DetectionID)
	}

	now := s.now()
	date := now
	if req.Date != nil {
		date = *req.Date
	}
	det := inv.Detection
	feedback := &database.DetectionFeedback{
		DetectionID:          det.ID,
		InvestigationID:      inv.ID,
		OriginalConfidence:   det.ConfidenceScore,
		OriginalNDVIScore:    det.NDVIAnomalyScore,
		OriginalNDWIScore:    det.NDWIAnomalyScore,
		OriginalNDTIScore:    det.NDTIAnomalyScore,
		GroundTruthConfirmed: req.Result == database.ResultConfirmed,
		AgentConfidence:      DefaultAgentConfidence,
		UsedForTraining:      false,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&database.Investigation{}).
			Where("id = ? AND status IN ?", inv.ID, []database.InvestigationStatus{database.InvestigationAssigned, database.InvestigationInProgress}).
			Updates(map[string]interface{}{
				"status":             database.InvestigationCompleted,
				"result":             req.Result,
				"field_notes":        req.FieldNotes,
				"investigation_date": date,
				"completed_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return precondition("investigation %d was completed concurrently", inv.ID)
		}
		if err := tx.Create(feedback).Error; err != nil {
			return fmt.Errorf("failed to create feedback: %w", err)
		}
		return tx.Model(&database.Detection{}).Where("id = ?", det.ID).Updates(map[string]interface{}{
			"validation_status": req.Result.ValidationStatus(),
			"validated_by_id":   req.Actor.ID,
			"validated_at":      now,
		}).Error
	})
	if err != nil {
		return nil, nil, err
	}

	s.events.Log(ctx, database.EventLog{
		Type:        database.EventInvestigationCompleted,
		Message:     fmt.Sprintf("Investigation %d completed: %s", inv.ID, req.Result),
		UserID:      &req.Actor.ID,
		DetectionID: &det.ID,
		RegionID:    &det.RegionID,
		Metadata:    database.JSONB{"investigation_id": inv.ID, "result": req.Result},
	})
	s.events.Log(ctx, database.EventLog{
		Type:        database.EventFeedbackCreated,
		Message:     fmt.Sprintf("Feedback recorded for detection %d", det.ID),
		DetectionID: &det.ID,
		Metadata:    database.JSONB{"feedback_id": feedback.ID, "ground_truth_confirmed": feedback.GroundTruthConfirmed},
	})
	log.Printf("InvestigationService: Investigation %d completed with %s", inv.ID, req.Result)

	completed, err := s.Get(ctx, inv.ID)
	if err != nil {
		return nil, nil, err
	}
	return completed, feedback, nil
}

// Workload counts the open investigations assigned to an agent.
func (s *InvestigationService) Workload(ctx context.Context, agentID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&database.Investigation{}).
		Where("assigned_to_id = ? AND status IN ?", agentID, database.OpenStatuses).
		Count(&n).Error
	return n, err
}

// AvailableAgents ranks the active field agents by open workload.
func (s *InvestigationService) AvailableAgents(ctx context.Context) (*AgentAvailabilityReport, error) {
	var agents []database.User
	if err := s.db.WithContext(ctx).
		Where("role = ? AND active = ?", database.RoleFieldAgent, true).
		Order("id").
		Find(&agents).Error; err != nil {
		return nil, err
	}

	report := &AgentAvailabilityReport{Agents: make([]AgentWorkload, 0, len(agents))}
	if len(agents) == 0 {
		return report, nil
	}

	ids := make([]uint, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}

	var rows []struct {
		AssignedToID uint
		Status       database.InvestigationStatus
		N            int64
	}
	if err := s.db.WithContext(ctx).Model(&database.Investigation{}).
		Select("assigned_to_id, status, COUNT(*) AS n").
		Where("assigned_to_id IN ? AND status IN ?", ids, database.OpenStatuses).
		Group("assigned_to_id, status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	active := make(map[uint]int64)
	pending := make(map[uint]int64)
	for _, r := range rows {
		if r.Status == database.InvestigationPending {
			pending[r.AssignedToID] += r.N
		} else {
			active[r.AssignedToID] += r.N
		}
	}

	for _, a := range agents {
		total := active[a.ID] + pending[a.ID]
		w := AgentWorkload{
			ID:            a.ID,
			FullName:      a.FullName(),
			Email:         a.Email,
			ActiveCount:   active[a.ID],
			PendingCount:  pending[a.ID],
			TotalWorkload: total,
			Availability:  AvailabilityFor(total),
			LastLoginAt:   a.LastLoginAt,
		}
		report.Agents = append(report.Agents, w)
		switch w.Availability {
		case AgentAvailable:
			report.Summary.AvailableAgents++
		case AgentBusy:
			report.Summary.BusyAgents++
		case AgentOverloaded:
			report.Summary.OverloadedAgents++
		}
	}
	report.Summary.TotalAgents = len(report.Agents)

	sort.SliceStable(report.Agents, func(i, j int) bool {
		return report.Agents[i].TotalWorkload < report.Agents[j].TotalWorkload
	})
	return report, nil
}

// Pending lists the unassigned investigations, highest priority first.
func (s *InvestigationService) Pending(ctx context.Context) ([]database.Investigation, error) {
	var out []database.Investigation
	err := s.db.WithContext(ctx).Preload("Detection").
		Where("status = ?", database.InvestigationPending).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:  "CASE priority WHEN ? THEN 0 WHEN ? THEN 1 ELSE 2 END, created_at ASC",
			Vars: []interface{}{database.PriorityHigh, database.PriorityMedium},
		}}).
		Find(&out).Error
	return out, err
}

// AssignedTo lists the ASSIGNED and IN_PROGRESS investigations of an agent.
func (s *InvestigationService) AssignedTo(ctx context.Context, agentID uint) ([]database.Investigation, error) {
	var out []database.Investigation
	err := s.db.WithContext(ctx).Preload("Detection").
		Where("assigned_to_id = ? AND status IN ?", agentID,
			[]database.InvestigationStatus{database.InvestigationAssigned, database.InvestigationInProgress}).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// List pages through investigations, optionally filtered by status.
func (s *InvestigationService) List(ctx context.Context, status database.InvestigationStatus, offset, limit int) ([]database.Investigation, int64, error) {
	filtered := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&database.Investigation{})
		if status != "" {
			q = q.Where("status = ?", status)
		}
		return q
	}
	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []database.Investigation
	err := filtered().Preload("AssignedTo").Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// authorizeFieldWork allows the assignee and managers.
func authorizeFieldWork(inv *database.Investigation, actor *database.User) error {
	if actor == nil {
		return precondition("an authenticated user is required")
	}
	if actor.Role.IsManager() {
		return nil
	}
	if inv.AssignedToID != nil && *inv.AssignedToID == actor.ID {
		return nil
	}
	return precondition("only the assigned agent or a manager can act on investigation %d", inv.ID)
}
