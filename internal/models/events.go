package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeSessionCreated    = "SESSION_CREATED"
	EventTypeSessionApproved   = "SESSION_APPROVED"
	EventTypeSessionRejected   = "SESSION_REJECTED"
	EventTypeSessionConsumed   = "SESSION_CONSUMED"
	EventTypeRedemptionSettled = "REDEMPTION_SETTLED"
	EventTypeSettlementFailed  = "SETTLEMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionCreatedEvent published when a shop opens a redemption session
type SessionCreatedEvent struct {
	BaseEvent
	SessionID       string          `json:"session_id"`
	ShopID          string          `json:"shop_id"`
	CustomerAddress string          `json:"customer_address"`
	MaxAmount       decimal.Decimal `json:"max_amount"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// SessionApprovedEvent published when the customer approves. Lets shop
// clients subscribe instead of polling; polling stays available either way.
type SessionApprovedEvent struct {
	BaseEvent
	SessionID       string `json:"session_id"`
	ShopID          string `json:"shop_id"`
	CustomerAddress string `json:"customer_address"`
}

// SessionRejectedEvent published on customer rejection or shop cancellation
type SessionRejectedEvent struct {
	BaseEvent
	SessionID       string `json:"session_id"`
	ShopID          string `json:"shop_id"`
	CancelledByShop bool   `json:"cancelled_by_shop"`
}

// SessionConsumedEvent published when validate-and-consume wins
type SessionConsumedEvent struct {
	BaseEvent
	SessionID string          `json:"session_id"`
	ShopID    string          `json:"shop_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// RedemptionSettledEvent published after a fully settled redemption
type RedemptionSettledEvent struct {
	BaseEvent
	SessionID            string          `json:"session_id"`
	ShopID               string          `json:"shop_id"`
	CustomerAddress      string          `json:"customer_address"`
	Amount               decimal.Decimal `json:"amount"`
	AmountFromBlockchain decimal.Decimal `json:"amount_from_blockchain"`
	AmountFromDatabase   decimal.Decimal `json:"amount_from_database"`
	Strategy             string          `json:"strategy"`
	BurnTxHash           string          `json:"burn_tx_hash,omitempty"`
	TransactionID        *int64          `json:"transaction_id,omitempty"`
}

// SettlementFailedEvent published to the reconciliation topic when a burn
// committed but the off-chain debit did not
type SettlementFailedEvent struct {
	BaseEvent
	FailureID       int64           `json:"failure_id"`
	SessionID       string          `json:"session_id"`
	ShopID          string          `json:"shop_id"`
	CustomerAddress string          `json:"customer_address"`
	BurnTxHash      string          `json:"burn_tx_hash"`
	BurnAmount      decimal.Decimal `json:"burn_amount"`
	DBAmount        decimal.Decimal `json:"db_amount"`
	Reason          string          `json:"reason"`
}
