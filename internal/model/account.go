package model

import "time"

// Plan is the billing tier of an account.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// Role gates administrative endpoints such as analytics.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Unlimited marks a limit that is never reached.
const Unlimited = -1

// Limits holds the per-action ceilings of an account.
type Limits struct {
	MessageLimit  int `db:"message_limit" json:"message_limit"`
	DocumentLimit int `db:"document_limit" json:"document_limit"`
}

// UnlimitedLimits is what every Premium account is entitled to.
var UnlimitedLimits = Limits{MessageLimit: Unlimited, DocumentLimit: Unlimited}

// For returns the ceiling configured for action.
func (l Limits) For(action ActionType) int {
	if action == ActionDocument {
		return l.DocumentLimit
	}
	return l.MessageLimit
}

// SubscriptionStatus mirrors the payment provider's subscription status.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

// Subscription links an account to the payment provider.
type Subscription struct {
	ExternalCustomerID     string             `db:"stripe_customer_id" json:"customer_id,omitempty"`
	ExternalSubscriptionID string             `db:"stripe_subscription_id" json:"subscription_id,omitempty"`
	Status                 SubscriptionStatus `db:"subscription_status" json:"status,omitempty"`
	CurrentPeriodEnd       *time.Time         `db:"subscription_period_end" json:"current_period_end,omitempty"`
}

// CurrentSchemaVersion is the account shape written by this build. Older rows are
// backfilled by the migrate command.
const CurrentSchemaVersion = 2

// UserAccount is the per-user ledger row. Accounts are never hard-deleted.
type UserAccount struct {
	ID                string        `db:"id" json:"id"`
	Email             string        `db:"email" json:"email"`
	FullName          string        `db:"full_name" json:"full_name"`
	Role              Role          `db:"role" json:"role"`
	Plan              Plan          `db:"plan" json:"plan"`
	MessagesSent      int64         `db:"messages_sent" json:"messages_sent"`
	DocumentsUploaded int64         `db:"documents_uploaded" json:"documents_uploaded"`
	Limits            Limits        `json:"limits"`
	Subscription      *Subscription `json:"subscription,omitempty"`
	SchemaVersion     int           `db:"schema_version" json:"-"`
	LastActiveAt      time.Time     `db:"last_active_at" json:"last_active_at"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	PlanChangedAt     time.Time     `db:"plan_changed_at" json:"plan_changed_at"`
}

// NewFreeAccount returns a fresh signup with zero counters and the given Free limits.
func NewFreeAccount(id, email, fullName string, limits Limits, now time.Time) *UserAccount {
	return &UserAccount{
		ID:            id,
		Email:         email,
		FullName:      fullName,
		Role:          RoleUser,
		Plan:          PlanFree,
		Limits:        limits,
		SchemaVersion: CurrentSchemaVersion,
		LastActiveAt:  now,
		CreatedAt:     now,
		PlanChangedAt: now,
	}
}

// EffectiveLimits applies the Premium override regardless of stored values.
func (u *UserAccount) EffectiveLimits() Limits {
	if u.Plan == PlanPremium {
		return UnlimitedLimits
	}
	return u.Limits
}

// Used returns the counter that action consumes.
func (u *UserAccount) Used(action ActionType) int64 {
	if action == ActionDocument {
		return u.DocumentsUploaded
	}
	return u.MessagesSent
}
