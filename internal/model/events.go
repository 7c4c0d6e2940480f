package model

import (
	"fmt"
	"time"

	"quotaledger/internal/money"
)

// ActionType is a quota-gated user action.
type ActionType string

const (
	ActionMessage  ActionType = "message"
	ActionDocument ActionType = "document"
)

func ParseAction(s string) (ActionType, error) {
	switch ActionType(s) {
	case ActionMessage, ActionDocument:
		return ActionType(s), nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// EventType is the usage event recorded for an action.
func (a ActionType) EventType() UsageEventType {
	if a == ActionDocument {
		return EventDocumentUploaded
	}
	return EventMessageSent
}

type UsageEventType string

const (
	EventMessageSent      UsageEventType = "message_sent"
	EventDocumentUploaded UsageEventType = "document_uploaded"
)

// UsageEvent is one row of the append-only usage log.
type UsageEvent struct {
	ID        string         `db:"id" json:"id"`
	UserID    string         `db:"user_id" json:"user_id"`
	EventType UsageEventType `db:"event_type" json:"event_type"`
	Timestamp time.Time      `db:"occurred_at" json:"timestamp"`
}

// PerformanceRecord captures latency and outcome of a served request.
type PerformanceRecord struct {
	UserID    string    `db:"user_id" json:"user_id"`
	LatencyMs float64   `db:"latency_ms" json:"latency_ms"`
	Success   bool      `db:"success" json:"success"`
	Timestamp time.Time `db:"recorded_at" json:"timestamp"`
}

const (
	MinRating = 1
	MaxRating = 5
)

// RatingEvent is a user satisfaction score in [MinRating, MaxRating].
type RatingEvent struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Score     int       `db:"score" json:"score"`
	Timestamp time.Time `db:"rated_at" json:"timestamp"`
}

// ConversionRecord is written exactly once per successful Free to Premium upgrade.
type ConversionRecord struct {
	ID                string       `db:"id" json:"id"`
	UserID            string       `db:"user_id" json:"user_id"`
	ConvertedAt       time.Time    `db:"converted_at" json:"converted_at"`
	PlanBefore        Plan         `db:"plan_before" json:"plan_before"`
	PlanAfter         Plan         `db:"plan_after" json:"plan_after"`
	ExternalSessionID string       `db:"external_session_id" json:"external_session_id"`
	AmountPaid        money.Amount `db:"amount_paid" json:"amount_paid"`
	Currency          string       `db:"currency" json:"currency"`
}

// UpgradeParams carries a verified payment into the upgrade transaction.
type UpgradeParams struct {
	ConversionID   string
	UserID         string
	SessionRef     string
	CustomerID     string
	SubscriptionID string
	PeriodEnd      *time.Time
	AmountPaid     money.Amount
	Currency       string
	At             time.Time
}

// PaymentEvent is the raw provider webhook log, deduplicated by EventID.
type PaymentEvent struct {
	EventID         string     `db:"event_id" json:"event_id"`
	EventType       string     `db:"event_type" json:"event_type"`
	Payload         []byte     `db:"payload" json:"-"`
	ReceivedAt      time.Time  `db:"received_at" json:"received_at"`
	ProcessedAt     *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingError *string    `db:"processing_error" json:"processing_error,omitempty"`
}

// UsageRetryJob is the queued form of a usage write that could not be applied inline.
type UsageRetryJob struct {
	UserID     string     `json:"user_id"`
	Action     ActionType `json:"action"`
	OccurredAt time.Time  `json:"occurred_at"`
	LastError  string     `json:"last_error,omitempty"`
}
