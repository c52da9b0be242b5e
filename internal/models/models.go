package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Session statuses
const (
	SessionStatusPending  = "PENDING"
	SessionStatusApproved = "APPROVED"
	SessionStatusRejected = "REJECTED"
	SessionStatusExpired  = "EXPIRED"
	SessionStatusUsed     = "USED"
)

// RedemptionSession is a time-boxed, customer-approved authorization for a
// shop to redeem up to MaxAmount RCN. Sessions are never hard-deleted.
type RedemptionSession struct {
	ID              string              `db:"id" json:"id"`
	CustomerAddress string              `db:"customer_address" json:"customer_address"`
	ShopID          string              `db:"shop_id" json:"shop_id"`
	MaxAmount       decimal.Decimal     `db:"max_amount" json:"max_amount"`
	RedeemedAmount  decimal.NullDecimal `db:"redeemed_amount" json:"redeemed_amount,omitempty"`
	Status          string              `db:"status" json:"status"`
	Signature       string              `db:"signature" json:"signature,omitempty"`
	CancelledByShop bool                `db:"cancelled_by_shop" json:"cancelled_by_shop"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	ExpiresAt       time.Time           `db:"expires_at" json:"expires_at"`
	ApprovedAt      *time.Time          `db:"approved_at" json:"approved_at,omitempty"`
	UsedAt          *time.Time          `db:"used_at" json:"used_at,omitempty"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// IsTerminalStatus reports whether a session in the given status accepts no
// further transitions.
func IsTerminalStatus(status string) bool {
	switch status {
	case SessionStatusRejected, SessionStatusExpired, SessionStatusUsed:
		return true
	}
	return false
}

// IsExpired reports whether the session deadline has passed at the given instant.
func (s *RedemptionSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// OwnedBy compares the session owner to an address, case-insensitive
// (addresses are hex strings and arrive in mixed case from wallets).
func (s *RedemptionSession) OwnedBy(address string) bool {
	return strings.EqualFold(s.CustomerAddress, address)
}

// ExpiryAt maps a creation instant to the session deadline. Kept pure so the
// same policy applies on creation, in the sweeper, and in tests.
func ExpiryAt(createdAt time.Time, ttl time.Duration) time.Time {
	return createdAt.Add(ttl)
}

// Shop is the directory projection the engine needs: eligibility gates, the
// wallet used for self-redemption checks, and redemption aggregates.
type Shop struct {
	ID               string          `db:"id" json:"id"`
	Name             string          `db:"name" json:"name"`
	WalletAddress    string          `db:"wallet_address" json:"wallet_address"`
	IsActive         bool            `db:"is_active" json:"is_active"`
	IsVerified       bool            `db:"is_verified" json:"is_verified"`
	TotalRedemptions decimal.Decimal `db:"total_redemptions" json:"total_redemptions"`
	LastActivity     *time.Time      `db:"last_activity" json:"last_activity,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// Eligible reports whether the shop may open redemption sessions.
func (s *Shop) Eligible() bool {
	return s.IsActive && s.IsVerified
}

// ProcessedEvent for consumer idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
