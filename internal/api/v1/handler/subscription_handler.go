package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"quotaledger/internal/api/v1/dto"
	"quotaledger/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const maxWebhookBodyBytes = 65536

// SubscriptionHandler handles subscription-related endpoints.
type SubscriptionHandler struct {
	stripeSvc *service.StripeService
	planSvc   service.PlanService
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(stripeSvc *service.StripeService, planSvc service.PlanService, v *validator.Validate, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{stripeSvc: stripeSvc, planSvc: planSvc, validate: v, logger: logger}
}

// RegisterRoutes registers the subscription endpoints. The webhook is authenticated by its
// Stripe signature, not by a bearer token.
func (h *SubscriptionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("POST /subscriptions/checkout", authMiddleware(http.HandlerFunc(h.Checkout)))
	mux.Handle("POST /subscriptions/confirm", authMiddleware(http.HandlerFunc(h.Confirm)))
	mux.Handle("GET /subscriptions/portal", authMiddleware(http.HandlerFunc(h.Portal)))
	mux.HandleFunc("POST /webhooks/stripe", h.Webhook)
}

// Checkout godoc
// @Summary Initiate a Stripe Checkout session for plan upgrade
// @Description Creates a Stripe Checkout session tagged with the caller's user id and returns its URL.
// @Tags subscriptions
// @Produce json
// @Success 200 {object} dto.CheckoutResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "user not found"
// @Failure 500 {string} string "failed to create checkout session"
// @Router /subscriptions/checkout [post]
func (h *SubscriptionHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	sess, err := h.stripeSvc.CreateCheckoutSession(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Msg("failed to create checkout session")
		http.Error(w, "failed to create checkout session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dto.CheckoutResponseDTO{SessionID: sess.SessionID, URL: sess.URL}, h.logger)
}

// Confirm godoc
// @Summary Confirm a completed checkout and upgrade the caller
// @Description Verifies the checkout session with Stripe before upgrading. Confirming the same session twice is a no-op.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param confirm body dto.ConfirmUpgradeDTO true "Checkout session id"
// @Success 200 {object} dto.TransitionResponseDTO
// @Failure 400 {string} string "invalid request payload"
// @Failure 402 {object} dto.ErrorResponseDTO
// @Failure 409 {object} dto.ErrorResponseDTO
// @Failure 504 {object} dto.ErrorResponseDTO
// @Router /subscriptions/confirm [post]
func (h *SubscriptionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req dto.ConfirmUpgradeDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.planSvc.Upgrade(r.Context(), p.UserID, req.SessionID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.TransitionResponseDTO{Outcome: string(res.Outcome), Conversion: res.Conversion}, h.logger)
}

// Portal godoc
// @Summary Create a Stripe Customer Portal session
// @Description Generates a Stripe Customer Portal session URL for the authenticated user.
// @Tags subscriptions
// @Produce json
// @Success 200 {object} dto.PortalResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "failed to create portal session"
// @Router /subscriptions/portal [get]
func (h *SubscriptionHandler) Portal(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	url, err := h.stripeSvc.CreatePortalSession(r.Context(), p.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, service.ErrInvalidInput):
			http.Error(w, "no billing account for user", http.StatusBadRequest)
		default:
			h.logger.Error().Err(err).Msg("failed to create portal session")
			http.Error(w, "failed to create portal session", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, dto.PortalResponseDTO{URL: url}, h.logger)
}

// Webhook godoc
// @Summary Stripe webhook receiver
// @Description Verifies the Stripe-Signature header and applies the event. 5xx responses make Stripe redeliver.
// @Tags subscriptions
// @Accept json
// @Success 200
// @Failure 400 {string} string "signature verification failed"
// @Failure 500 {string} string "failed to process event"
// @Router /webhooks/stripe [post]
func (h *SubscriptionHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read Stripe webhook payload")
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	err = h.stripeSvc.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, service.ErrInvalidSignature):
		http.Error(w, "signature verification failed", http.StatusBadRequest)
	case errors.Is(err, service.ErrInvalidPayload):
		http.Error(w, "invalid event payload", http.StatusBadRequest)
	default:
		http.Error(w, "failed to process event", http.StatusInternalServerError)
	}
}
