package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"redemption-engine/internal/models"

	"github.com/shopspring/decimal"
)

// CreatePromoCode inserts a new promo code for a shop.
func (s *Store) CreatePromoCode(ctx context.Context, code *models.PromoCode) error {
	query := `
		INSERT INTO promo_codes
			(shop_id, code, bonus_type, bonus_value, max_bonus, start_date, end_date,
			 total_usage_limit, per_customer_limit, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, times_used, total_bonus_issued, created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		code.ShopID, code.Code, code.BonusType, code.BonusValue, code.MaxBonus,
		code.StartDate, code.EndDate, code.TotalUsageLimit, code.PerCustomerLimit,
		code.IsActive).
		Scan(&code.ID, &code.TimesUsed, &code.TotalBonusIssued, &code.CreatedAt, &code.UpdatedAt)
}

// GetPromoCode looks up a code case-insensitively within a shop.
func (s *Store) GetPromoCode(ctx context.Context, shopID, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := s.db.GetContext(ctx, &promo,
		"SELECT * FROM promo_codes WHERE shop_id = $1 AND lower(code) = lower($2)",
		shopID, code)
	if err == sql.ErrNoRows {
		return nil, models.ErrPromoNotFound
	}
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

// ListPromoCodes returns all codes for a shop, newest first.
func (s *Store) ListPromoCodes(ctx context.Context, shopID string) ([]models.PromoCode, error) {
	var codes []models.PromoCode
	err := s.db.SelectContext(ctx, &codes,
		"SELECT * FROM promo_codes WHERE shop_id = $1 ORDER BY created_at DESC", shopID)
	return codes, err
}

// ReserveUse performs the whole validate-and-reserve sequence inside one
// transaction with the code row locked: lookup FOR UPDATE, check activity
// window and both usage limits, compute the bonus, append the use row, and
// bump the denormalized counters. Holding the lock across the checks is the
// defense against two callers both observing times_used < limit.
func (s *Store) ReserveUse(ctx context.Context, shopID, code, customerAddress string, baseReward decimal.Decimal) (*models.PromoCodeUse, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var promo models.PromoCode
	err = tx.GetContext(ctx, &promo,
		"SELECT * FROM promo_codes WHERE shop_id = $1 AND lower(code) = lower($2) FOR UPDATE",
		shopID, code)
	if err == sql.ErrNoRows {
		return nil, models.ErrPromoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock promo code: %w", err)
	}

	var customerUses int64
	err = tx.GetContext(ctx, &customerUses,
		"SELECT COUNT(*) FROM promo_code_uses WHERE promo_code_id = $1 AND lower(customer_address) = lower($2)",
		promo.ID, customerAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to count customer uses: %w", err)
	}

	if err := promo.Redeemable(time.Now().UTC(), customerUses); err != nil {
		return nil, err
	}

	bonus := promo.BonusFor(baseReward)
	use := &models.PromoCodeUse{
		PromoCodeID:     promo.ID,
		CustomerAddress: customerAddress,
		ShopID:          shopID,
		BaseReward:      baseReward,
		BonusAmount:     bonus,
		TotalReward:     baseReward.Add(bonus),
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO promo_code_uses
			(promo_code_id, customer_address, shop_id, base_reward, bonus_amount, total_reward)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, used_at`,
		use.PromoCodeID, use.CustomerAddress, use.ShopID,
		use.BaseReward, use.BonusAmount, use.TotalReward).
		Scan(&use.ID, &use.UsedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert promo use: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE promo_codes
		SET times_used = times_used + 1,
		    total_bonus_issued = total_bonus_issued + $1,
		    updated_at = NOW()
		WHERE id = $2`,
		bonus, promo.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to increment promo counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return use, nil
}

// RollbackUse compensates a reservation whose caller failed afterward:
// deletes the use row and restores the counters in one transaction. A second
// rollback of the same reservation finds no row and reports
// ErrReservationNotFound rather than double-decrementing.
func (s *Store) RollbackUse(ctx context.Context, useID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var promoCodeID int64
	var bonus decimal.Decimal
	err = tx.QueryRowxContext(ctx,
		"DELETE FROM promo_code_uses WHERE id = $1 RETURNING promo_code_id, bonus_amount",
		useID).Scan(&promoCodeID, &bonus)
	if err == sql.ErrNoRows {
		return models.ErrReservationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete promo use: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE promo_codes
		SET times_used = times_used - 1,
		    total_bonus_issued = total_bonus_issued - $1,
		    updated_at = NOW()
		WHERE id = $2`,
		bonus, promoCodeID)
	if err != nil {
		return fmt.Errorf("failed to decrement promo counters: %w", err)
	}

	return tx.Commit()
}

// DeactivatePromoCode soft-deletes a code. Blocks new reservations only;
// a reservation that already committed stays honored.
func (s *Store) DeactivatePromoCode(ctx context.Context, shopID string, promoCodeID int64) error {
	ok, err := applyTransition(ctx, s.db, `
		UPDATE promo_codes
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND shop_id = $2 AND is_active = TRUE`,
		promoCodeID, shopID)
	if err != nil {
		return err
	}
	if !ok {
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			"SELECT EXISTS(SELECT 1 FROM promo_codes WHERE id = $1 AND shop_id = $2)",
			promoCodeID, shopID); err != nil {
			return err
		}
		if !exists {
			return models.ErrPromoNotFound
		}
		// already inactive, deactivation is idempotent
	}
	return nil
}

// CountPromoUses returns the authoritative use count and bonus sum from the
// append-only log. Integrity checks compare these with the denormalized
// counters.
func (s *Store) CountPromoUses(ctx context.Context, promoCodeID int64) (int64, decimal.Decimal, error) {
	var row struct {
		Count int64           `db:"count"`
		Total decimal.Decimal `db:"total"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT COUNT(*) AS count, COALESCE(SUM(bonus_amount), 0) AS total
		FROM promo_code_uses WHERE promo_code_id = $1`, promoCodeID)
	if err != nil {
		return 0, decimal.Zero, err
	}
	return row.Count, row.Total, nil
}
