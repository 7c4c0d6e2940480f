package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"quotaledger/internal/api/v1/dto"
	"quotaledger/internal/middleware"
	"quotaledger/internal/service"

	"github.com/rs/zerolog"
)

func writeJSON(w http.ResponseWriter, status int, v any, logger zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

// principal extracts the caller or answers 401.
func principal(w http.ResponseWriter, r *http.Request) (middleware.Principal, bool) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return p, ok
}

// writeServiceError maps service errors onto status codes.
func writeServiceError(w http.ResponseWriter, err error, logger zerolog.Logger) {
	var (
		qe *service.QuotaExceededError
		re *service.RejectedError
	)
	switch {
	case errors.As(err, &qe):
		writeJSON(w, http.StatusPaymentRequired, dto.ErrorResponseDTO{
			Error:   "quota exhausted, upgrade to premium to continue",
			Action:  string(qe.Action),
			Upgrade: true,
		}, logger)
	case errors.As(err, &re):
		status := http.StatusPaymentRequired
		switch re.Reason {
		case service.RejectTimeout:
			status = http.StatusGatewayTimeout
		case service.RejectInProgress:
			status = http.StatusConflict
		case service.RejectAccountNotFound:
			status = http.StatusNotFound
		}
		writeJSON(w, status, dto.ErrorResponseDTO{
			Error:  "upgrade not completed, please contact support if you were charged",
			Reason: string(re.Reason),
		}, logger)
	case errors.Is(err, service.ErrUserNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidRating):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Error().Err(err).Msg("request failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
