package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"redemption-engine/internal/models"
	"redemption-engine/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SettlementService coordinates how an approved redemption is satisfied:
// as much as possible from the customer's on-chain balance via burn, the
// remainder from the off-chain ledger. A failed burn degrades the whole
// amount to the ledger; a failed ledger write after a committed burn is
// recorded and surfaced as a distinct retryable error, never absorbed.
type SettlementService struct {
	sessions  *SessionService
	ledger    LedgerStore
	chain     ChainClient
	shops     ShopDirectory
	publisher Publisher
	scope     string
	logger    *zap.Logger
}

// NewSettlementService creates a new settlement coordinator
func NewSettlementService(
	sessions *SessionService,
	ledger LedgerStore,
	chain ChainClient,
	shops ShopDirectory,
	publisher Publisher,
	scope string,
) *SettlementService {
	return &SettlementService{
		sessions:  sessions,
		ledger:    ledger,
		chain:     chain,
		shops:     shops,
		publisher: publisher,
		scope:     scope,
		logger:    util.GetLogger(),
	}
}

// RedeemRequest is the shop's request to settle against an approved session
type RedeemRequest struct {
	SessionID string          `json:"session_id" binding:"required"`
	ShopID    string          `json:"shop_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
}

// SettlementResult describes how a redemption was satisfied
type SettlementResult struct {
	SessionID            string          `json:"session_id"`
	TransactionID        *int64          `json:"transaction_id"`
	AmountFromBlockchain decimal.Decimal `json:"amount_from_blockchain"`
	AmountFromDatabase   decimal.Decimal `json:"amount_from_database"`
	Strategy             string          `json:"strategy"`
	BurnTxHash           string          `json:"burn_tx_hash,omitempty"`
}

type settlementMetadata struct {
	SessionID            string `json:"session_id"`
	Strategy             string `json:"strategy"`
	AmountFromBlockchain string `json:"amount_from_blockchain"`
	AmountFromDatabase   string `json:"amount_from_database"`
	BurnTxHash           string `json:"burn_tx_hash,omitempty"`
	Reconciliation       bool   `json:"reconciliation,omitempty"`
}

// Redeem consumes the session and settles the debit across both sources of
// truth.
func (ss *SettlementService) Redeem(ctx context.Context, req *RedeemRequest) (*SettlementResult, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.Redeem")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SettlementLatency.Observe(time.Since(start).Seconds())
	}()

	shop, err := ss.shops.GetShop(ctx, req.ShopID)
	if err != nil {
		return nil, err
	}

	// Self-redemption is rejected before any store mutation.
	preview, err := ss.sessions.Status(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(shop.WalletAddress, preview.CustomerAddress) {
		return nil, models.ErrSelfRedemption
	}

	session, err := ss.sessions.ValidateAndConsume(ctx, req.SessionID, req.ShopID, req.Amount)
	if err != nil {
		return nil, err
	}
	customer := session.CustomerAddress

	onChain, err := ss.chain.GetBalance(ctx, customer)
	if err != nil {
		ss.logger.Warn("Chain balance read failed, settling off-chain only",
			zap.String("session_id", session.ID),
			zap.Error(err))
		onChain = decimal.Zero
	}

	fromChain := decimal.Min(onChain, req.Amount)
	fromDB := req.Amount.Sub(fromChain)
	burnTxHash := ""

	if fromChain.IsPositive() {
		burn, burnErr := ss.chain.Burn(ctx, customer, fromChain)
		if burnErr != nil || !burn.Success {
			// Burn is all-or-nothing: on failure the whole amount moves to
			// the ledger rather than leaving a partially burned split.
			util.BurnFailuresTotal.Inc()
			ss.logger.Warn("Burn failed, falling back to database-only settlement",
				zap.String("session_id", session.ID),
				zap.String("amount", fromChain.String()),
				zap.Error(burnErr))
			fromChain = decimal.Zero
			fromDB = req.Amount
		} else {
			burnTxHash = burn.TxHash
		}
	}

	strategy := settlementStrategy(fromChain, fromDB)

	var txID *int64
	if fromDB.IsPositive() {
		metadata, _ := json.Marshal(settlementMetadata{
			SessionID:            session.ID,
			Strategy:             strategy,
			AmountFromBlockchain: fromChain.String(),
			AmountFromDatabase:   fromDB.String(),
			BurnTxHash:           burnTxHash,
		})

		entry, debitErr := ss.ledger.Debit(ctx, customer, ss.scope, fromDB, &req.ShopID, session.ID, metadata)
		if debitErr != nil {
			return nil, ss.recordFailure(ctx, session, burnTxHash, fromChain, fromDB, debitErr)
		}
		txID = &entry.ID
	}

	if err := ss.ledger.UpdateShopStats(ctx, req.ShopID, req.Amount); err != nil {
		if burnTxHash != "" && txID == nil {
			return nil, ss.recordFailure(ctx, session, burnTxHash, fromChain, fromDB, err)
		}
		// The debit committed; aggregates are recomputable from the
		// transaction log, so this is logged rather than failed.
		ss.logger.Error("Failed to update shop stats",
			zap.String("shop_id", req.ShopID),
			zap.Error(err))
	}

	util.SettlementsTotal.WithLabelValues(strategy).Inc()
	ss.logger.Info("Redemption settled",
		zap.String("session_id", session.ID),
		zap.String("strategy", strategy),
		zap.String("from_chain", fromChain.String()),
		zap.String("from_db", fromDB.String()))

	if ss.publisher != nil {
		event := &models.RedemptionSettledEvent{
			BaseEvent:            newBaseEvent(models.EventTypeRedemptionSettled),
			SessionID:            session.ID,
			ShopID:               req.ShopID,
			CustomerAddress:      customer,
			Amount:               req.Amount,
			AmountFromBlockchain: fromChain,
			AmountFromDatabase:   fromDB,
			Strategy:             strategy,
			BurnTxHash:           burnTxHash,
			TransactionID:        txID,
		}
		if err := ss.publisher.PublishRedemptionSettled(ctx, event); err != nil {
			ss.logger.Error("Failed to publish RedemptionSettled event", zap.Error(err))
		}
	}

	return &SettlementResult{
		SessionID:            session.ID,
		TransactionID:        txID,
		AmountFromBlockchain: fromChain,
		AmountFromDatabase:   fromDB,
		Strategy:             strategy,
		BurnTxHash:           burnTxHash,
	}, nil
}

// recordFailure persists a reconciliation record for a consumed session
// whose off-chain settlement did not commit, queues it for the retry
// worker, and returns the error the caller must surface. When tokens were
// already burned the error is the distinct retryable partial-settlement
// one, carrying the burn hash and amounts.
func (ss *SettlementService) recordFailure(ctx context.Context, session *models.RedemptionSession, burnTxHash string, fromChain, fromDB decimal.Decimal, cause error) error {
	failure := &models.SettlementFailure{
		SessionID:       session.ID,
		CustomerAddress: session.CustomerAddress,
		ShopID:          session.ShopID,
		BurnTxHash:      burnTxHash,
		BurnAmount:      fromChain,
		DBAmount:        fromDB,
		Reason:          cause.Error(),
	}
	if err := ss.ledger.RecordSettlementFailure(ctx, failure); err != nil {
		ss.logger.Error("Failed to record settlement failure",
			zap.String("session_id", session.ID),
			zap.Error(err))
	}

	if ss.publisher != nil {
		event := &models.SettlementFailedEvent{
			BaseEvent:       newBaseEvent(models.EventTypeSettlementFailed),
			FailureID:       failure.ID,
			SessionID:       session.ID,
			ShopID:          session.ShopID,
			CustomerAddress: session.CustomerAddress,
			BurnTxHash:      burnTxHash,
			BurnAmount:      fromChain,
			DBAmount:        fromDB,
			Reason:          cause.Error(),
		}
		if err := ss.publisher.PublishSettlementFailed(ctx, event); err != nil {
			ss.logger.Error("Failed to publish SettlementFailed event", zap.Error(err))
		}
	}

	if burnTxHash != "" {
		util.SettlementPartialFailures.Inc()
		return &models.PartialSettlementError{
			SessionID:  session.ID,
			BurnTxHash: burnTxHash,
			BurnAmount: fromChain,
			DBAmount:   fromDB,
			Cause:      cause,
		}
	}
	return fmt.Errorf("settlement failed for session %s: %w", session.ID, cause)
}

// RetrySettlement re-attempts the off-chain leg of a failed settlement.
// Called by the reconciliation worker; the debit and the PENDING -> RESOLVED
// transition commit together in the store, so a redelivered event can never
// debit the customer twice.
func (ss *SettlementService) RetrySettlement(ctx context.Context, event *models.SettlementFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "SettlementService.RetrySettlement")
	defer span.End()

	metadata, _ := json.Marshal(settlementMetadata{
		SessionID:          event.SessionID,
		Strategy:           models.StrategyDatabaseOnly,
		AmountFromDatabase: event.DBAmount.String(),
		BurnTxHash:         event.BurnTxHash,
		Reconciliation:     true,
	})

	// the original settlement never reached its stats update, so the lost
	// aggregate covers both legs
	statsAmount := event.BurnAmount.Add(event.DBAmount)

	entry, resolved, err := ss.ledger.ReconcileFailure(ctx, event.FailureID,
		event.CustomerAddress, ss.scope, event.DBAmount, statsAmount,
		event.ShopID, event.SessionID, metadata)
	if err != nil {
		util.ReconciliationRetriesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("reconciliation failed for session %s: %w", event.SessionID, err)
	}
	if !resolved {
		ss.logger.Info("Settlement failure already resolved",
			zap.Int64("failure_id", event.FailureID))
		return nil
	}

	util.ReconciliationRetriesTotal.WithLabelValues("resolved").Inc()
	fields := []zap.Field{
		zap.String("session_id", event.SessionID),
		zap.Int64("failure_id", event.FailureID),
	}
	if entry != nil {
		fields = append(fields, zap.Int64("transaction_id", entry.ID))
	}
	ss.logger.Info("Settlement failure reconciled", fields...)
	return nil
}

func settlementStrategy(fromChain, fromDB decimal.Decimal) string {
	switch {
	case fromDB.IsZero():
		return models.StrategyBlockchainOnly
	case fromChain.IsZero():
		return models.StrategyDatabaseOnly
	default:
		return models.StrategyHybrid
	}
}
