package handler

import (
	"net/http"

	"quotaledger/internal/middleware"
	"quotaledger/internal/model"
	"quotaledger/internal/service"

	"github.com/rs/zerolog"
)

type AnalyticsHandler struct {
	analyticsService service.AnalyticsService
	logger           zerolog.Logger
}

func NewAnalyticsHandler(analyticsService service.AnalyticsService, logger zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analyticsService: analyticsService, logger: logger}
}

func (h *AnalyticsHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("GET /admin/metrics", authMw(middleware.RequireAdmin(http.HandlerFunc(h.getMetrics))))
}

// getMetrics godoc
// @Summary Business and usage metrics
// @Description Admin only. Rates are fractions between 0 and 1.
// @Tags admin
// @Produce json
// @Param range query string false "7d, 30d, 90d or all" default(30d)
// @Success 200 {object} model.MetricsSnapshot
// @Failure 400 {string} string "unsupported time range"
// @Failure 403 {string} string "forbidden"
// @Router /admin/metrics [get]
func (h *AnalyticsHandler) getMetrics(w http.ResponseWriter, r *http.Request) {
	tr, err := model.ParseTimeRange(r.URL.Query().Get("range"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap, err := h.analyticsService.ComputeMetrics(r.Context(), tr)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, snap, h.logger)
}
