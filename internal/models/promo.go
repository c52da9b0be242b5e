package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bonus types
const (
	BonusTypeFixed      = "FIXED"
	BonusTypePercentage = "PERCENTAGE"
)

// PromoCode is a limited-use bonus multiplier on reward issuance. Codes are
// unique per shop, matched case-insensitively, and soft-deactivated rather
// than deleted. TimesUsed and TotalBonusIssued are denormalized from the
// promo_code_uses log and mutated only inside the reservation transaction.
type PromoCode struct {
	ID               int64               `db:"id" json:"id"`
	ShopID           string              `db:"shop_id" json:"shop_id"`
	Code             string              `db:"code" json:"code"`
	BonusType        string              `db:"bonus_type" json:"bonus_type"`
	BonusValue       decimal.Decimal     `db:"bonus_value" json:"bonus_value"`
	MaxBonus         decimal.NullDecimal `db:"max_bonus" json:"max_bonus,omitempty"`
	StartDate        time.Time           `db:"start_date" json:"start_date"`
	EndDate          time.Time           `db:"end_date" json:"end_date"`
	TotalUsageLimit  *int64              `db:"total_usage_limit" json:"total_usage_limit,omitempty"`
	PerCustomerLimit int64               `db:"per_customer_limit" json:"per_customer_limit"`
	TimesUsed        int64               `db:"times_used" json:"times_used"`
	TotalBonusIssued decimal.Decimal     `db:"total_bonus_issued" json:"total_bonus_issued"`
	IsActive         bool                `db:"is_active" json:"is_active"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updated_at"`
}

// BonusFor computes the bonus for a base reward. Percentage bonuses round to
// two decimal places and are capped at MaxBonus when one is set. Decimal
// arithmetic throughout; never float64.
func (p *PromoCode) BonusFor(baseReward decimal.Decimal) decimal.Decimal {
	if p.BonusType == BonusTypeFixed {
		return p.BonusValue
	}

	bonus := baseReward.Mul(p.BonusValue).Div(decimal.NewFromInt(100)).Round(2)
	if p.MaxBonus.Valid && bonus.GreaterThan(p.MaxBonus.Decimal) {
		bonus = p.MaxBonus.Decimal
	}
	return bonus
}

// Redeemable checks every reservation precondition against the given instant
// and the customer's prior use count, returning the first violated one.
// Callers must hold the row lock for the check to be authoritative.
func (p *PromoCode) Redeemable(now time.Time, customerUses int64) error {
	if !p.IsActive {
		return ErrPromoInactive
	}
	if now.Before(p.StartDate) {
		return ErrPromoNotYetActive
	}
	if now.After(p.EndDate) {
		return ErrPromoExpired
	}
	if p.TotalUsageLimit != nil && p.TimesUsed >= *p.TotalUsageLimit {
		return ErrPromoUsageLimitReached
	}
	if customerUses >= p.PerCustomerLimit {
		return ErrPromoPerCustomerLimit
	}
	return nil
}

// PromoCodeUse is the append-only reservation log. Rows are written exactly
// once per successful reservation and deleted only by a compensating rollback.
type PromoCodeUse struct {
	ID              int64           `db:"id" json:"id"`
	PromoCodeID     int64           `db:"promo_code_id" json:"promo_code_id"`
	CustomerAddress string          `db:"customer_address" json:"customer_address"`
	ShopID          string          `db:"shop_id" json:"shop_id"`
	BaseReward      decimal.Decimal `db:"base_reward" json:"base_reward"`
	BonusAmount     decimal.Decimal `db:"bonus_amount" json:"bonus_amount"`
	TotalReward     decimal.Decimal `db:"total_reward" json:"total_reward"`
	UsedAt          time.Time       `db:"used_at" json:"used_at"`
}
