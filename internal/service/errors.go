package service

import (
	"errors"
	"fmt"

	"quotaledger/internal/model"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidRating = fmt.Errorf("rating must be between %d and %d", model.MinRating, model.MaxRating)
	ErrInvalidInput  = errors.New("invalid input")
)

// QuotaExceededError is returned when a Free account has no remaining allowance for an action.
type QuotaExceededError struct {
	Action model.ActionType
	Used   int64
	Limit  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: used %d of %d", e.Action, e.Used, e.Limit)
}

// IsQuotaExceeded checks if an error is a quota exceeded error.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// RecordingError reports a usage write that did not land inline. Queued tells whether the
// job was handed to the retry queue.
type RecordingError struct {
	UserID string
	Action model.ActionType
	Queued bool
	Err    error
}

func (e *RecordingError) Error() string {
	state := "dropped"
	if e.Queued {
		state = "queued for retry"
	}
	return fmt.Sprintf("recording %s usage for user %s failed (%s): %v", e.Action, e.UserID, state, e.Err)
}

func (e *RecordingError) Unwrap() error {
	return e.Err
}

// RejectReason explains why a plan transition was refused.
type RejectReason string

const (
	RejectPaymentUnverified  RejectReason = "payment_unverified"
	RejectTimeout            RejectReason = "timeout"
	RejectVerificationFailed RejectReason = "verification_failed"
	RejectUserMismatch       RejectReason = "user_mismatch"
	RejectAccountNotFound    RejectReason = "account_not_found"
	RejectInProgress         RejectReason = "in_progress"
)

// RejectedError is returned by Upgrade when payment could not be confirmed. The plan is unchanged.
type RejectedError struct {
	Reason RejectReason
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plan transition rejected (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("plan transition rejected (%s)", e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// AsRejected returns the RejectedError in err's chain, if any.
func AsRejected(err error) (*RejectedError, bool) {
	var re *RejectedError
	ok := errors.As(err, &re)
	return re, ok
}

// Retryable reports whether a later attempt with the same inputs could succeed.
func (e *RejectedError) Retryable() bool {
	switch e.Reason {
	case RejectTimeout, RejectVerificationFailed, RejectInProgress, RejectPaymentUnverified:
		return true
	}
	return false
}
