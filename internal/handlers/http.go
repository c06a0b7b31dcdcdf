package handlers

import (
	"context"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/api"
)

// QueueInspector reports the task queue backlog.
type QueueInspector interface {
	Len() int
}

// HTTPHandler serves the unauthenticated operational endpoints
type HTTPHandler struct {
	db      *gorm.DB
	queue   QueueInspector
	metrics http.Handler
}

// NewHTTPHandler creates a new HTTP handler. metrics may be nil.
func NewHTTPHandler(db *gorm.DB, queue QueueInspector, metrics http.Handler) *HTTPHandler {
	return &HTTPHandler{db: db, queue: queue, metrics: metrics}
}

// SetupRoutes configures the health and metrics routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
}

// handleHealth reports database reachability and queue depth
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{Status: "ok", Database: "ok", Time: time.Now().UTC()}
	if h.queue != nil {
		resp.QueueDepth = h.queue.Len()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		api.RespondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	api.RespondJSON(w, http.StatusOK, resp)
}
