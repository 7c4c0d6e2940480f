package dto

import (
	"time"

	"quotaledger/internal/model"
)

// AccountCreateDTO is used for signup requests. Identity comes from the bearer token.
type AccountCreateDTO struct {
	Email    string `json:"email" validate:"omitempty,email"`
	FullName string `json:"full_name" validate:"omitempty,max=200"`
}

type LimitsDTO struct {
	Messages  int `json:"messages"`
	Documents int `json:"documents"`
}

type SubscriptionDTO struct {
	Status           string     `json:"status,omitempty"`
	CustomerID       string     `json:"customer_id,omitempty"`
	SubscriptionID   string     `json:"subscription_id,omitempty"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
}

// AccountResponseDTO is returned in API responses for accounts
type AccountResponseDTO struct {
	ID                string           `json:"id"`
	Email             string           `json:"email"`
	FullName          string           `json:"full_name"`
	Role              string           `json:"role"`
	Plan              string           `json:"plan"`
	MessagesSent      int64            `json:"messages_sent"`
	DocumentsUploaded int64            `json:"documents_uploaded"`
	Limits            LimitsDTO        `json:"limits"`
	Subscription      *SubscriptionDTO `json:"subscription,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	LastActiveAt      time.Time        `json:"last_active_at"`
	PlanChangedAt     time.Time        `json:"plan_changed_at"`
}

// NewAccountResponse maps an account, reporting the limits that are actually enforced.
func NewAccountResponse(u *model.UserAccount) AccountResponseDTO {
	limits := u.EffectiveLimits()
	resp := AccountResponseDTO{
		ID:                u.ID,
		Email:             u.Email,
		FullName:          u.FullName,
		Role:              string(u.Role),
		Plan:              string(u.Plan),
		MessagesSent:      u.MessagesSent,
		DocumentsUploaded: u.DocumentsUploaded,
		Limits:            LimitsDTO{Messages: limits.MessageLimit, Documents: limits.DocumentLimit},
		CreatedAt:         u.CreatedAt,
		LastActiveAt:      u.LastActiveAt,
		PlanChangedAt:     u.PlanChangedAt,
	}
	if s := u.Subscription; s != nil {
		resp.Subscription = &SubscriptionDTO{
			Status:           string(s.Status),
			CustomerID:       s.ExternalCustomerID,
			SubscriptionID:   s.ExternalSubscriptionID,
			CurrentPeriodEnd: s.CurrentPeriodEnd,
		}
	}
	return resp
}
