package model

import "time"

type EventType string

const (
	EventCheckoutCompleted     EventType = "checkout.session.completed"
	EventAsyncPaymentSucceeded EventType = "checkout.session.async_payment_succeeded"
)

// VerifiedEvent is a processor notification whose signature has been checked.
// UserID and Quantity are what the processor reported; the engine trusts the
// stored intent over both.
type VerifiedEvent struct {
	NotificationID string
	Type           EventType
	IntentID       string
	UserID         string
	Quantity       int64
	// Paid is false for a completed checkout whose payment is still settling.
	Paid       bool
	ReceivedAt time.Time
}

// IsCompletion reports whether the event finishes a purchase and should credit the owner.
func (e VerifiedEvent) IsCompletion() bool {
	switch e.Type {
	case EventCheckoutCompleted, EventAsyncPaymentSucceeded:
		return e.Paid
	default:
		return false
	}
}

type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeUnresolved Outcome = "unresolved"
)

type ReconcileResult struct {
	Outcome    Outcome `json:"outcome"`
	UserID     string  `json:"user_id,omitempty"`
	Quantity   int64   `json:"quantity,omitempty"`
	NewBalance int64   `json:"new_balance,omitempty"`
}

// ProcessedNotification proves a notification was accepted. Never updated.
type ProcessedNotification struct {
	ID         string
	IntentID   string
	EventType  EventType
	ReceivedAt time.Time
}

// ReviewRecord holds a verified notification that could not be mapped to an owner.
type ReviewRecord struct {
	ID             string    `json:"id"`
	NotificationID string    `json:"notification_id"`
	IntentID       string    `json:"intent_id"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}
