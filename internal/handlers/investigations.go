package handlers

import (
	"net/http"

	"github.com/minewatch/minewatch/internal/api"
	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/services"
)

func (h *APIHandler) handleRunAnalysis(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req api.RunAnalysisRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.Analyzer.Run(r.Context(), services.RunRequest{MonthsBack: req.Months(), RequestedBy: &user.ID})
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, result)
}

func (h *APIHandler) handleListInvestigations(w http.ResponseWriter, r *http.Request) {
	status := database.InvestigationStatus(r.URL.Query().Get("status"))
	switch status {
	case "", database.InvestigationPending, database.InvestigationAssigned,
		database.InvestigationInProgress, database.InvestigationCompleted:
	default:
		api.RespondValidationError(w, map[string]string{"status": "must be one of: PENDING ASSIGNED IN_PROGRESS COMPLETED"})
		return
	}

	p := api.ParsePagination(r)
	rows, total, err := h.Investigations.List(r.Context(), status, p.Offset(), p.PerPage)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.NewPage(p, rows, total))
}

func (h *APIHandler) handlePendingInvestigations(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Investigations.Pending(r.Context())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, orEmpty(rows))
}

func (h *APIHandler) handleMyInvestigations(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	rows, err := h.Investigations.AssignedTo(r.Context(), user.ID)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, orEmpty(rows))
}

func (h *APIHandler) handleAvailableAgents(w http.ResponseWriter, r *http.Request) {
	report, err := h.Investigations.AvailableAgents(r.Context())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, report)
}

func (h *APIHandler) handleGetInvestigation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inv, err := h.Investigations.Get(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, inv)
}

func (h *APIHandler) handleAssignInvestigation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req api.AssignInvestigationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.Investigations.Assign(r.Context(), services.AssignRequest{
		InvestigationID: id,
		AgentID:         req.AssignedTo,
		AssignerID:      &user.ID,
		Priority:        database.Priority(req.Priority),
		Notes:           req.Notes,
	})
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, result)
}

func (h *APIHandler) handleStartInvestigation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	inv, err := h.Investigations.Start(r.Context(), id, user)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, inv)
}

func (h *APIHandler) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req api.SubmitResultRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	date, err := api.ParseDate(req.InvestigationDate)
	if err != nil {
		api.RespondValidationError(w, map[string]string{"investigation_date": err.Error()})
		return
	}

	inv, feedback, err := h.Investigations.SubmitResult(r.Context(), services.SubmitRequest{
		InvestigationID: id,
		Actor:           user,
		Result:          database.InvestigationResult(req.Result),
		FieldNotes:      req.FieldNotes,
		Date:            date,
	})
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.SubmitResultResponse{Investigation: inv, Feedback: feedback})
}

func orEmpty[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
