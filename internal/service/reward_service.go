package service

import (
	"context"
	"encoding/json"
	"fmt"

	"redemption-engine/internal/models"
	"redemption-engine/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RewardService issues off-chain RCN for completed repairs, applying an
// optional promo code. The promo reservation and the ledger credit are not
// one transaction, so a failed credit compensates the reservation; counters
// never drift from rewards actually issued.
type RewardService struct {
	promos *PromoService
	ledger LedgerStore
	shops  ShopDirectory
	scope  string
	logger *zap.Logger
}

// NewRewardService creates a new reward service
func NewRewardService(promos *PromoService, ledger LedgerStore, shops ShopDirectory, scope string) *RewardService {
	return &RewardService{
		promos: promos,
		ledger: ledger,
		shops:  shops,
		scope:  scope,
		logger: util.GetLogger(),
	}
}

// IssueRewardRequest represents a shop issuing a reward to a customer
type IssueRewardRequest struct {
	CustomerAddress string          `json:"customer_address" binding:"required"`
	ShopID          string          `json:"shop_id" binding:"required"`
	BaseAmount      decimal.Decimal `json:"base_amount" binding:"required"`
	PromoCode       string          `json:"promo_code"`
	Reference       string          `json:"reference"`
}

// RewardResult describes an issued reward
type RewardResult struct {
	TransactionID int64           `json:"transaction_id"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	BonusAmount   decimal.Decimal `json:"bonus_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	ReservationID *int64          `json:"reservation_id,omitempty"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
}

type rewardMetadata struct {
	PromoCode   string `json:"promo_code,omitempty"`
	BaseAmount  string `json:"base_amount"`
	BonusAmount string `json:"bonus_amount,omitempty"`
}

// IssueReward credits a customer's off-chain balance with the base reward
// plus any promo bonus.
func (rs *RewardService) IssueReward(ctx context.Context, req *IssueRewardRequest) (*RewardResult, error) {
	ctx, span := util.StartSpan(ctx, "RewardService.IssueReward")
	defer span.End()

	if !addressPattern.MatchString(req.CustomerAddress) {
		return nil, models.ErrInvalidAddress
	}
	if !req.BaseAmount.IsPositive() {
		return nil, models.ErrAmountOutOfRange
	}

	shop, err := rs.shops.GetShop(ctx, req.ShopID)
	if err != nil {
		return nil, err
	}
	if !shop.Eligible() {
		return nil, models.ErrShopNotEligible
	}

	bonus := decimal.Zero
	var reservationID *int64
	if req.PromoCode != "" {
		reservation, err := rs.promos.ValidateAndReserve(ctx, req.ShopID, req.PromoCode, req.CustomerAddress, req.BaseAmount)
		if err != nil {
			return nil, err
		}
		bonus = reservation.BonusAmount
		reservationID = &reservation.ReservationID
	}

	total := req.BaseAmount.Add(bonus)
	reference := req.Reference
	if reference == "" {
		reference = uuid.New().String()
	}
	metadata, _ := json.Marshal(rewardMetadata{
		PromoCode:   req.PromoCode,
		BaseAmount:  req.BaseAmount.String(),
		BonusAmount: bonus.String(),
	})

	entry, err := rs.ledger.Credit(ctx, req.CustomerAddress, rs.scope, total, &req.ShopID, reference, metadata)
	if err != nil {
		// compensate the reservation so the promo slot is not burned on a
		// reward that never landed
		if reservationID != nil {
			if rbErr := rs.promos.Rollback(ctx, *reservationID); rbErr != nil {
				rs.logger.Error("Failed to roll back promo reservation after credit failure",
					zap.Int64("reservation_id", *reservationID),
					zap.Error(rbErr))
			}
		}
		return nil, fmt.Errorf("failed to credit reward: %w", err)
	}

	util.RewardsIssuedTotal.Inc()
	rs.logger.Info("Reward issued",
		zap.String("customer", entry.CustomerAddress),
		zap.String("shop_id", req.ShopID),
		zap.String("total", total.String()))

	return &RewardResult{
		TransactionID: entry.ID,
		BaseAmount:    req.BaseAmount,
		BonusAmount:   bonus,
		TotalAmount:   total,
		ReservationID: reservationID,
		BalanceAfter:  entry.BalanceAfter,
	}, nil
}

// Balance returns a customer's off-chain position.
func (rs *RewardService) Balance(ctx context.Context, customerAddress string) (*models.CustomerBalance, error) {
	if !addressPattern.MatchString(customerAddress) {
		return nil, models.ErrInvalidAddress
	}
	return rs.ledger.GetBalance(ctx, customerAddress, rs.scope)
}
