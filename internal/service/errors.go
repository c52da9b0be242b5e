package service

import (
	"errors"

	"redemption-engine/internal/models"
)

// errReason maps an engine error to a stable, low-cardinality metric label.
func errReason(err error) string {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, models.ErrSessionExpired):
		return "expired"
	case errors.Is(err, models.ErrSessionAlreadyUsed):
		return "already_used"
	case errors.Is(err, models.ErrSessionNotApproved):
		return "not_approved"
	case errors.Is(err, models.ErrSessionNotPending):
		return "not_pending"
	case errors.Is(err, models.ErrShopMismatch):
		return "shop_mismatch"
	case errors.Is(err, models.ErrCustomerMismatch):
		return "customer_mismatch"
	case errors.Is(err, models.ErrAmountExceedsLimit):
		return "amount_exceeds_limit"
	case errors.Is(err, models.ErrPromoNotFound):
		return "not_found"
	case errors.Is(err, models.ErrPromoInactive):
		return "inactive"
	case errors.Is(err, models.ErrPromoNotYetActive):
		return "not_yet_active"
	case errors.Is(err, models.ErrPromoExpired):
		return "expired"
	case errors.Is(err, models.ErrPromoUsageLimitReached):
		return "usage_limit"
	case errors.Is(err, models.ErrPromoPerCustomerLimit):
		return "per_customer_limit"
	case errors.Is(err, models.ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "other"
	}
}
