package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"quotaledger/internal/api/v1/dto"
	"quotaledger/internal/model"
	"quotaledger/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// UsageHandler serves quota pre-checks and post-action bookkeeping.
type UsageHandler struct {
	quotaService service.QuotaService
	usageService service.UsageService
	validate     *validator.Validate
	logger       zerolog.Logger
}

func NewUsageHandler(quotaService service.QuotaService, usageService service.UsageService, v *validator.Validate, logger zerolog.Logger) *UsageHandler {
	return &UsageHandler{quotaService: quotaService, usageService: usageService, validate: v, logger: logger}
}

func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("GET /quota/{action}", authMw(http.HandlerFunc(h.checkQuota)))
	mux.Handle("POST /quota/{action}/authorize", authMw(http.HandlerFunc(h.authorizeAction)))
	mux.Handle("POST /usage", authMw(http.HandlerFunc(h.recordUsage)))
	mux.Handle("POST /performance", authMw(http.HandlerFunc(h.recordPerformance)))
	mux.Handle("POST /ratings", authMw(http.HandlerFunc(h.recordRating)))
}

// checkQuota godoc
// @Summary Check whether the caller may perform an action
// @Tags usage
// @Produce json
// @Param action path string true "message or document"
// @Success 200 {object} dto.QuotaResponseDTO
// @Failure 400 {string} string "unknown action"
// @Failure 401 {string} string "unauthorized"
// @Router /quota/{action} [get]
func (h *UsageHandler) checkQuota(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	action, err := model.ParseAction(r.PathValue("action"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ent, err := h.quotaService.Check(r.Context(), p.UserID, action)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.QuotaResponseDTO{
		Action:    string(action),
		Allowed:   ent.Allowed,
		Remaining: ent.Remaining,
		Limit:     ent.Limit,
	}, h.logger)
}

// authorizeAction godoc
// @Summary Gate an action before it is dispatched
// @Description Answers 402 with an upgrade hint when the caller's plan does not allow the action.
// @Tags usage
// @Produce json
// @Param action path string true "message or document"
// @Success 200 {object} dto.QuotaResponseDTO
// @Failure 400 {string} string "unknown action"
// @Failure 402 {object} dto.ErrorResponseDTO
// @Router /quota/{action}/authorize [post]
func (h *UsageHandler) authorizeAction(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	action, err := model.ParseAction(r.PathValue("action"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ent, err := h.quotaService.Require(r.Context(), p.UserID, action)
	if err != nil {
		if service.IsQuotaExceeded(err) {
			h.logger.Info().Str("user_id", p.UserID).Str("action", string(action)).Msg("Action denied, quota exhausted")
		}
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.QuotaResponseDTO{
		Action:    string(action),
		Allowed:   ent.Allowed,
		Remaining: ent.Remaining,
		Limit:     ent.Limit,
	}, h.logger)
}

// recordUsage godoc
// @Summary Record one consumed action
// @Description Call after the gated action was dispatched. 202 means the write was queued for retry.
// @Tags usage
// @Accept json
// @Produce json
// @Param usage body dto.UsageRecordDTO true "Action to record"
// @Success 200 {object} dto.UsageRecordResponseDTO
// @Success 202 {object} dto.UsageRecordResponseDTO
// @Failure 400 {string} string "invalid request payload"
// @Failure 404 {string} string "account not found"
// @Failure 503 {string} string "usage could not be recorded"
// @Router /usage [post]
func (h *UsageHandler) recordUsage(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req dto.UsageRecordDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	err := h.usageService.RecordUsage(r.Context(), p.UserID, model.ActionType(req.Action))
	var re *service.RecordingError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, dto.UsageRecordResponseDTO{Status: "recorded"}, h.logger)
	case errors.As(err, &re) && re.Queued:
		writeJSON(w, http.StatusAccepted, dto.UsageRecordResponseDTO{Status: "queued"}, h.logger)
	case errors.As(err, &re) && errors.Is(err, service.ErrUserNotFound):
		http.Error(w, "account not found", http.StatusNotFound)
	case errors.As(err, &re):
		h.logger.Error().Err(err).Str("user_id", p.UserID).Msg("usage could not be recorded")
		http.Error(w, "usage could not be recorded", http.StatusServiceUnavailable)
	default:
		writeServiceError(w, err, h.logger)
	}
}

// recordPerformance godoc
// @Summary Record latency and outcome of a served request
// @Tags usage
// @Accept json
// @Param performance body dto.PerformanceRecordDTO true "Performance sample"
// @Success 204
// @Failure 400 {string} string "invalid request payload"
// @Router /performance [post]
func (h *UsageHandler) recordPerformance(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req dto.PerformanceRecordDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.usageService.TrackPerformance(r.Context(), p.UserID, *req.LatencyMs, *req.Success); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recordRating godoc
// @Summary Record a satisfaction rating
// @Tags usage
// @Accept json
// @Param rating body dto.RatingDTO true "Score between 1 and 5"
// @Success 204
// @Failure 400 {string} string "rating must be between 1 and 5"
// @Router /ratings [post]
func (h *UsageHandler) recordRating(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req dto.RatingDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, service.ErrInvalidRating.Error(), http.StatusBadRequest)
		return
	}
	if err := h.usageService.TrackRating(r.Context(), p.UserID, req.Score); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
