package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Input validation errors. Rejected before any store access.
var (
	ErrInvalidAddress   = errors.New("invalid wallet address")
	ErrAmountOutOfRange = errors.New("amount out of allowed range")
	ErrSelfRedemption   = errors.New("shop cannot redeem against its own wallet")
	ErrInvalidSignature = errors.New("approval signature verification failed")
)

// Session precondition errors. Derived from the diagnostic read when a
// conditional transition affects zero rows.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionAlreadyUsed = errors.New("session already used")
	ErrSessionNotApproved = errors.New("session not approved")
	ErrSessionNotPending  = errors.New("session no longer pending")
	ErrShopMismatch       = errors.New("session belongs to a different shop")
	ErrCustomerMismatch   = errors.New("session belongs to a different customer")
	ErrAmountExceedsLimit = errors.New("amount exceeds session limit")
	ErrRateLimited        = errors.New("too many sessions for this customer, try again later")
	ErrShopNotEligible    = errors.New("shop is not active and verified")
	ErrShopNotFound       = errors.New("shop not found")
)

// Promo reservation errors.
var (
	ErrPromoNotFound          = errors.New("promo code not found")
	ErrPromoInactive          = errors.New("promo code is deactivated")
	ErrPromoNotYetActive      = errors.New("promo code is not active yet")
	ErrPromoExpired           = errors.New("promo code has expired")
	ErrPromoUsageLimitReached = errors.New("promo code usage limit reached")
	ErrPromoPerCustomerLimit  = errors.New("per-customer usage limit reached for promo code")
	ErrReservationNotFound    = errors.New("promo reservation not found")
)

// Ledger and settlement errors.
var (
	ErrBalanceNotFound           = errors.New("balance not found")
	ErrInsufficientBalance       = errors.New("insufficient off-chain balance")
	ErrBurnFailed                = errors.New("on-chain burn failed")
	ErrSettlementPartiallyFailed = errors.New("burn succeeded but off-chain settlement failed")
	ErrSettlementFailureNotFound = errors.New("settlement failure not found")
)

// PartialSettlementError carries the data reconciliation needs when tokens
// were burned on-chain but the off-chain debit did not commit. It unwraps to
// ErrSettlementPartiallyFailed so callers can match with errors.Is.
type PartialSettlementError struct {
	SessionID  string
	BurnTxHash string
	BurnAmount decimal.Decimal
	DBAmount   decimal.Decimal
	Cause      error
}

func (e *PartialSettlementError) Error() string {
	return fmt.Sprintf("settlement partially failed for session %s: burned %s (tx %s), off-chain debit of %s not recorded: %v",
		e.SessionID, e.BurnAmount, e.BurnTxHash, e.DBAmount, e.Cause)
}

func (e *PartialSettlementError) Unwrap() error {
	return ErrSettlementPartiallyFailed
}
