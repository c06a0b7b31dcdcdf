package handlers

import (
	"net/http"

	"github.com/minewatch/minewatch/internal/api"
	"github.com/minewatch/minewatch/internal/models"
)

func (h *APIHandler) handleListFinancialRisks(w http.ResponseWriter, r *http.Request) {
	level := models.Severity(r.URL.Query().Get("risk_level"))
	p := api.ParsePagination(r)
	rows, total, err := h.FinancialRisks.List(r.Context(), level, p.Offset(), p.PerPage)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.NewPage(p, rows, total))
}

func (h *APIHandler) handleHighImpactRisks(w http.ResponseWriter, r *http.Request) {
	out, err := h.FinancialRisks.HighImpact(r.Context())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, out)
}
