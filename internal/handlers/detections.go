package handlers

import (
	"net/http"
	"strconv"

	"github.com/minewatch/minewatch/internal/api"
	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/services"
)

// HighConfidenceResponse is the body of GET /api/detections/high-confidence
type HighConfidenceResponse struct {
	Count   int                  `json:"count"`
	Results []database.Detection `json:"results"`
}

func (h *APIHandler) handleListDetections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := services.DetectionFilter{
		Type:             database.DetectionType(q.Get("detection_type")),
		ValidationStatus: database.ValidationStatus(q.Get("validation_status")),
	}
	errs := map[string]string{}
	switch filter.Type {
	case "", database.DetectionTypeMiningSite, database.DetectionTypeWaterPollution,
		database.DetectionTypeDeforestation, database.DetectionTypeSoilDisturbance:
	default:
		errs["detection_type"] = "must be one of: MINING_SITE WATER_POLLUTION DEFORESTATION SOIL_DISTURBANCE"
	}
	if filter.ValidationStatus != "" && filter.ValidationStatus != database.ValidationDetected && !filter.ValidationStatus.IsReviewOutcome() {
		errs["validation_status"] = "must be one of: DETECTED VALIDATED CONFIRMED FALSE_POSITIVE"
	}
	if v := q.Get("region"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil || id == 0 {
			errs["region"] = "must be a positive integer"
		}
		filter.RegionID = uint(id)
	}
	if len(errs) > 0 {
		api.RespondValidationError(w, errs)
		return
	}

	p := api.ParsePagination(r)
	rows, total, err := h.Detections.List(r.Context(), filter, p.Offset(), p.PerPage)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.NewPage(p, rows, total))
}

func (h *APIHandler) handleHighConfidenceDetections(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Detections.HighConfidence(r.Context())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, HighConfidenceResponse{Count: len(rows), Results: orEmpty(rows)})
}

func (h *APIHandler) handleGetDetection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	det, err := h.Detections.Get(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, det)
}

func (h *APIHandler) handleDeleteDetection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	if err := h.Detections.Delete(r.Context(), id, user); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) handleDetectionAlerts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.Detections.Get(r.Context(), id); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	alerts, err := h.Alerts.ByDetection(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, orEmpty(alerts))
}

func (h *APIHandler) handleDetectionEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.Detections.Get(r.Context(), id); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	events, err := h.Events.ForDetection(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, orEmpty(events))
}

func (h *APIHandler) handleValidateDetection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req api.ValidateDetectionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	det, err := h.Detections.ValidateDetection(r.Context(), id, database.ValidationStatus(req.ValidationStatus), user)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, det)
}

func (h *APIHandler) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	var types []database.EventType
	if t := r.URL.Query().Get("type"); t != "" {
		types = append(types, database.EventType(t))
	}
	events, err := h.Events.Recent(r.Context(), limit, types...)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, orEmpty(events))
}
