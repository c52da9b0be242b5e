package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types
const (
	TransactionTypeEarn   = "EARN"
	TransactionTypeRedeem = "REDEEM"
)

// Settlement strategies
const (
	StrategyBlockchainOnly = "blockchain_only"
	StrategyDatabaseOnly   = "database_only"
	StrategyHybrid         = "hybrid"
)

// Settlement failure statuses
const (
	SettlementFailurePending  = "PENDING"
	SettlementFailureResolved = "RESOLVED"
)

// CustomerBalance is the off-chain ledger position for a customer within a
// scope (the base token or an affiliate group). Invariant:
// balance = lifetime_earned - lifetime_redeemed, balance >= 0.
type CustomerBalance struct {
	CustomerAddress  string          `db:"customer_address" json:"customer_address"`
	Scope            string          `db:"scope" json:"scope"`
	Balance          decimal.Decimal `db:"balance" json:"balance"`
	LifetimeEarned   decimal.Decimal `db:"lifetime_earned" json:"lifetime_earned"`
	LifetimeRedeemed decimal.Decimal `db:"lifetime_redeemed" json:"lifetime_redeemed"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Transaction is the audit record paired with every balance mutation.
type Transaction struct {
	ID              int64           `db:"id" json:"id"`
	Type            string          `db:"type" json:"type"`
	CustomerAddress string          `db:"customer_address" json:"customer_address"`
	Scope           string          `db:"scope" json:"scope"`
	ShopID          *string         `db:"shop_id" json:"shop_id,omitempty"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	BalanceBefore   decimal.Decimal `db:"balance_before" json:"balance_before"`
	BalanceAfter    decimal.Decimal `db:"balance_after" json:"balance_after"`
	Reference       string          `db:"reference" json:"reference,omitempty"`
	Metadata        []byte          `db:"metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// SettlementFailure records a redemption whose burn committed on-chain while
// the off-chain debit failed. Rows stay PENDING until the reconciliation
// worker (or an operator) resolves them.
type SettlementFailure struct {
	ID              int64           `db:"id" json:"id"`
	SessionID       string          `db:"session_id" json:"session_id"`
	CustomerAddress string          `db:"customer_address" json:"customer_address"`
	ShopID          string          `db:"shop_id" json:"shop_id"`
	BurnTxHash      string          `db:"burn_tx_hash" json:"burn_tx_hash"`
	BurnAmount      decimal.Decimal `db:"burn_amount" json:"burn_amount"`
	DBAmount        decimal.Decimal `db:"db_amount" json:"db_amount"`
	Reason          string          `db:"reason" json:"reason"`
	Status          string          `db:"status" json:"status"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	ResolvedAt      *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
}
