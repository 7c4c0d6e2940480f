package dto

import "quotaledger/internal/model"

type CheckoutResponseDTO struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type PortalResponseDTO struct {
	URL string `json:"url"`
}

// ConfirmUpgradeDTO carries the checkout session returned to the success URL.
type ConfirmUpgradeDTO struct {
	SessionID string `json:"session_id" validate:"required,max=255"`
}

type TransitionResponseDTO struct {
	Outcome    string                  `json:"outcome"`
	Conversion *model.ConversionRecord `json:"conversion,omitempty"`
}

// ErrorResponseDTO is the body of 402 and 504 responses.
type ErrorResponseDTO struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Action  string `json:"action,omitempty"`
	Upgrade bool   `json:"upgrade,omitempty"`
}
