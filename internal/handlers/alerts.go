package handlers

import (
	"net/http"

	"github.com/minewatch/minewatch/internal/api"
	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/services"
)

func (h *APIHandler) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.Alerts.Active(r.Context())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, orEmpty(alerts))
}

func (h *APIHandler) handleCriticalAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.Alerts.Critical(r.Context())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, orEmpty(alerts))
}

func (h *APIHandler) handleUpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req api.UpdateAlertStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	alert, err := h.Alerts.UpdateStatus(r.Context(), services.AlertStatusUpdate{
		AlertID:  id,
		Status:   database.AlertStatus(req.AlertStatus),
		AssignTo: req.AssignedTo,
		ActorID:  &user.ID,
	})
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, alert)
}
