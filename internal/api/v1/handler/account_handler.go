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

type AccountHandler struct {
	accountService service.AccountService
	validate       *validator.Validate
	logger         zerolog.Logger
}

func NewAccountHandler(accountService service.AccountService, v *validator.Validate, logger zerolog.Logger) *AccountHandler {
	return &AccountHandler{accountService: accountService, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 account routes
func (h *AccountHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/accounts/me", authMw(http.HandlerFunc(h.handleAccount)))
}

func (h *AccountHandler) handleAccount(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createAccount(w, r)
	case http.MethodGet:
		h.getAccount(w, r)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// createAccount godoc
// @Summary Sign up the authenticated user
// @Description Creates a Free account with zero counters. Repeating the call returns the existing account.
// @Tags accounts
// @Accept json
// @Produce json
// @Param account body dto.AccountCreateDTO false "Profile details"
// @Success 201 {object} dto.AccountResponseDTO
// @Success 200 {object} dto.AccountResponseDTO
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Router /accounts/me [post]
func (h *AccountHandler) createAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req dto.AccountCreateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	u, created, err := h.accountService.Signup(r.Context(), p.UserID, req.Email, req.FullName)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, dto.NewAccountResponse(u), h.logger)
}

// getAccount godoc
// @Summary Get the authenticated user's account
// @Tags accounts
// @Produce json
// @Success 200 {object} dto.AccountResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "user not found"
// @Router /accounts/me [get]
func (h *AccountHandler) getAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	u, err := h.accountService.Get(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewAccountResponse(u), h.logger)
}
