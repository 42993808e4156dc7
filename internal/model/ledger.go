package model

import "time"

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentFulfilled IntentStatus = "fulfilled"
)

// Intent is a purchase request issued to the payment processor. ID is assigned by the processor.
type Intent struct {
	ID          string       `json:"intent_id"`
	UserID      string       `json:"user_id"`
	Quantity    int64        `json:"quantity"`
	Status      IntentStatus `json:"status"`
	RedirectURL string       `json:"url"`
	CreatedAt   time.Time    `json:"created_at"`
	FulfilledAt *time.Time   `json:"fulfilled_at,omitempty"`
}

type SpendRequest struct {
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

const (
	SpendStatusSuccess   = "SUCCESS"
	SpendStatusDuplicate = "DUPLICATE"
)

type SpendResult struct {
	NewBalance int64  `json:"new_balance"`
	Status     string `json:"status"`
}

// SpendReceipt is the durable record of an idempotent spend.
type SpendReceipt struct {
	Key          string
	UserID       string
	Amount       int64
	BalanceAfter int64
	CreatedAt    time.Time
}

type EntryKind string

const (
	EntryCredit EntryKind = "credit"
	EntryDebit  EntryKind = "debit"
)

// LedgerEntry is published after every committed balance mutation and projected
// into the journal table by the worker.
type LedgerEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Kind         EntryKind `json:"kind"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Reference    string    `json:"reference"`
	CreatedAt    time.Time `json:"created_at"`
}
