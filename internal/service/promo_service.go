package service

import (
	"context"
	"fmt"
	"time"

	"redemption-engine/internal/models"
	"redemption-engine/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PromoService is the promo reservation engine. The store performs the
// validate-and-reserve sequence under a row lock; this layer adds input
// validation, metrics, and the compensating rollback entry point.
type PromoService struct {
	store  PromoStore
	shops  ShopDirectory
	logger *zap.Logger
}

// NewPromoService creates a new promo service
func NewPromoService(store PromoStore, shops ShopDirectory) *PromoService {
	return &PromoService{
		store:  store,
		shops:  shops,
		logger: util.GetLogger(),
	}
}

// CreatePromoCodeRequest represents a request to create a promo code
type CreatePromoCodeRequest struct {
	ShopID           string              `json:"shop_id" binding:"required"`
	Code             string              `json:"code" binding:"required"`
	BonusType        string              `json:"bonus_type" binding:"required"`
	BonusValue       decimal.Decimal     `json:"bonus_value" binding:"required"`
	MaxBonus         decimal.NullDecimal `json:"max_bonus"`
	StartDate        time.Time           `json:"start_date" binding:"required"`
	EndDate          time.Time           `json:"end_date" binding:"required"`
	TotalUsageLimit  *int64              `json:"total_usage_limit"`
	PerCustomerLimit int64               `json:"per_customer_limit"`
}

// Create validates and persists a new promo code for a shop.
func (p *PromoService) Create(ctx context.Context, req *CreatePromoCodeRequest) (*models.PromoCode, error) {
	ctx, span := util.StartSpan(ctx, "PromoService.Create")
	defer span.End()

	if req.BonusType != models.BonusTypeFixed && req.BonusType != models.BonusTypePercentage {
		return nil, fmt.Errorf("invalid bonus type %q", req.BonusType)
	}
	if !req.BonusValue.IsPositive() {
		return nil, fmt.Errorf("bonus value must be positive")
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, fmt.Errorf("end date must be after start date")
	}
	if req.TotalUsageLimit != nil && *req.TotalUsageLimit < 1 {
		return nil, fmt.Errorf("total usage limit must be at least 1")
	}
	if req.PerCustomerLimit < 1 {
		req.PerCustomerLimit = 1
	}

	if _, err := p.shops.GetShop(ctx, req.ShopID); err != nil {
		return nil, err
	}

	code := &models.PromoCode{
		ShopID:           req.ShopID,
		Code:             req.Code,
		BonusType:        req.BonusType,
		BonusValue:       req.BonusValue,
		MaxBonus:         req.MaxBonus,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		TotalUsageLimit:  req.TotalUsageLimit,
		PerCustomerLimit: req.PerCustomerLimit,
		IsActive:         true,
	}

	if err := p.store.CreatePromoCode(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to create promo code: %w", err)
	}

	p.logger.Info("Promo code created",
		zap.String("shop_id", code.ShopID),
		zap.Int64("promo_code_id", code.ID))
	return code, nil
}

// ReservationResponse represents a successful promo reservation
type ReservationResponse struct {
	ReservationID int64           `json:"reservation_id"`
	PromoCodeID   int64           `json:"promo_code_id"`
	BonusAmount   decimal.Decimal `json:"bonus_amount"`
	TotalReward   decimal.Decimal `json:"total_reward"`
}

// ValidateAndReserve atomically claims one use of a promo code for a
// customer and returns the computed bonus. If the caller's reward issuance
// fails afterward it must call Rollback with the reservation ID.
func (p *PromoService) ValidateAndReserve(ctx context.Context, shopID, code, customerAddress string, baseReward decimal.Decimal) (*ReservationResponse, error) {
	ctx, span := util.StartSpan(ctx, "PromoService.ValidateAndReserve")
	defer span.End()

	if !addressPattern.MatchString(customerAddress) {
		return nil, models.ErrInvalidAddress
	}
	if baseReward.IsNegative() {
		return nil, models.ErrAmountOutOfRange
	}

	use, err := p.store.ReserveUse(ctx, shopID, code, customerAddress, baseReward)
	if err != nil {
		util.PromoReservationsFailed.WithLabelValues(errReason(err)).Inc()
		return nil, err
	}

	util.PromoReservationsTotal.Inc()
	p.logger.Info("Promo reservation made",
		zap.Int64("use_id", use.ID),
		zap.Int64("promo_code_id", use.PromoCodeID),
		zap.String("bonus", use.BonusAmount.String()))

	return &ReservationResponse{
		ReservationID: use.ID,
		PromoCodeID:   use.PromoCodeID,
		BonusAmount:   use.BonusAmount,
		TotalReward:   use.TotalReward,
	}, nil
}

// Rollback compensates a reservation whose caller failed afterward,
// restoring the code's counters exactly. Rolling back twice reports
// ErrReservationNotFound instead of double-decrementing.
func (p *PromoService) Rollback(ctx context.Context, reservationID int64) error {
	ctx, span := util.StartSpan(ctx, "PromoService.Rollback")
	defer span.End()

	if err := p.store.RollbackUse(ctx, reservationID); err != nil {
		return err
	}

	util.PromoRollbacksTotal.Inc()
	p.logger.Info("Promo reservation rolled back", zap.Int64("use_id", reservationID))
	return nil
}

// Deactivate soft-deletes a promo code. New reservations are blocked from
// this point on; reservations that already committed stay honored.
func (p *PromoService) Deactivate(ctx context.Context, shopID string, promoCodeID int64) error {
	ctx, span := util.StartSpan(ctx, "PromoService.Deactivate")
	defer span.End()

	if err := p.store.DeactivatePromoCode(ctx, shopID, promoCodeID); err != nil {
		return err
	}

	p.logger.Info("Promo code deactivated",
		zap.String("shop_id", shopID),
		zap.Int64("promo_code_id", promoCodeID))
	return nil
}

// List returns a shop's promo codes.
func (p *PromoService) List(ctx context.Context, shopID string) ([]models.PromoCode, error) {
	return p.store.ListPromoCodes(ctx, shopID)
}
