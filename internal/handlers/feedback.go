package handlers

import (
	"log"
	"net/http"

	"github.com/minewatch/minewatch/internal/api"
	"github.com/minewatch/minewatch/internal/services"
)

func (h *APIHandler) handleTrainingData(w http.ResponseWriter, r *http.Request) {
	data, err := h.Feedback.TrainingData(r.Context())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, data)
}

func (h *APIHandler) handleMarkUsed(w http.ResponseWriter, r *http.Request) {
	var req api.MarkTrainingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	n, err := h.Feedback.MarkUsedForTraining(r.Context(), req.FeedbackIDs)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

func (h *APIHandler) handleAccuracyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Feedback.AccuracyStats(r.Context())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	if stats == nil {
		api.RespondJSON(w, http.StatusOK, map[string]string{"message": "No feedback data available"})
		return
	}
	api.RespondJSON(w, http.StatusOK, stats)
}

func (h *APIHandler) handleRequeueImage(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req api.RequeueImageRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	img, err := h.Images.Requeue(r.Context(), req.AssetID, &user.ID)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	log.Printf("APIHandler: %s requeued image %s", user.Email, req.AssetID)
	api.RespondJSON(w, http.StatusAccepted, img)
}

var _ Analyzer = (*services.AnalysisOrchestrator)(nil)
