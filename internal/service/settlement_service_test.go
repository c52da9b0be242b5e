package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"redemption-engine/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settlementFixture struct {
	sessions *memSessionStore
	shops    *memShops
	ledger   *memLedger
	chain    *stubChain
	pub      *capturePublisher
	svc      *SettlementService
}

func newSettlementFixture(onChain, offChain string) *settlementFixture {
	f := &settlementFixture{
		sessions: newMemSessionStore(),
		shops:    newMemShops(testShop("shop-1")),
		ledger:   newMemLedger(),
		chain:    &stubChain{balance: dec(onChain)},
		pub:      &capturePublisher{},
	}
	f.ledger.setBalance(testCustomer, dec(offChain))

	sessionSvc := NewSessionService(f.sessions, f.shops, &stubLimiter{allowed: true}, f.pub, nil,
		5*time.Minute, dec("0.1"), dec("1000"))
	f.svc = NewSettlementService(sessionSvc, f.ledger, f.chain, f.shops, f.pub, "rcn")
	return f
}

func (f *settlementFixture) approvedSession(maxAmount string) *models.RedemptionSession {
	now := time.Now().UTC()
	session := &models.RedemptionSession{
		ID:              uuid.New().String(),
		CustomerAddress: testCustomer,
		ShopID:          "shop-1",
		MaxAmount:       dec(maxAmount),
		Status:          models.SessionStatusApproved,
		CreatedAt:       now,
		ExpiresAt:       now.Add(5 * time.Minute),
	}
	f.sessions.put(session)
	return session
}

func TestRedeemHybrid(t *testing.T) {
	f := newSettlementFixture("30", "100")
	session := f.approvedSession("100")

	result, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		SessionID: session.ID, ShopID: "shop-1", Amount: dec("50"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StrategyHybrid, result.Strategy)
	assert.True(t, dec("30").Equal(result.AmountFromBlockchain))
	assert.True(t, dec("20").Equal(result.AmountFromDatabase))
	assert.Equal(t, "0xburned", result.BurnTxHash)
	require.NotNil(t, result.TransactionID)

	require.Len(t, f.chain.burnCalls, 1)
	assert.True(t, dec("30").Equal(f.chain.burnCalls[0]))

	require.Len(t, f.ledger.debits, 1)
	assert.True(t, dec("20").Equal(f.ledger.debits[0].Amount))
	assert.True(t, dec("50").Equal(f.ledger.stats["shop-1"]))
	assert.Contains(t, f.pub.published(), models.EventTypeRedemptionSettled)
}

func TestRedeemDatabaseOnly(t *testing.T) {
	f := newSettlementFixture("0", "100")
	session := f.approvedSession("100")

	result, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		SessionID: session.ID, ShopID: "shop-1", Amount: dec("50"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StrategyDatabaseOnly, result.Strategy)
	assert.True(t, result.AmountFromBlockchain.IsZero())
	assert.True(t, dec("50").Equal(result.AmountFromDatabase))
	assert.Empty(t, result.BurnTxHash)
	assert.Empty(t, f.chain.burnCalls, "burn must not run with no on-chain balance")
}

func TestRedeemBlockchainOnly(t *testing.T) {
	f := newSettlementFixture("100", "0")
	session := f.approvedSession("100")

	result, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		SessionID: session.ID, ShopID: "shop-1", Amount: dec("50"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StrategyBlockchainOnly, result.Strategy)
	assert.True(t, dec("50").Equal(result.AmountFromBlockchain))
	assert.True(t, result.AmountFromDatabase.IsZero())
	assert.Nil(t, result.TransactionID, "no ledger transaction when fully burned")
	assert.Empty(t, f.ledger.debits)
}

func TestRedeemBurnFailureFallsBackToLedger(t *testing.T) {
	f := newSettlementFixture("30", "100")
	f.chain.burnFail = true
	session := f.approvedSession("100")

	result, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		SessionID: session.ID, ShopID: "shop-1", Amount: dec("50"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StrategyDatabaseOnly, result.Strategy)
	assert.True(t, result.AmountFromBlockchain.IsZero())
	assert.True(t, dec("50").Equal(result.AmountFromDatabase))
	assert.Empty(t, result.BurnTxHash)
	require.Len(t, f.ledger.debits, 1)
	assert.True(t, dec("50").Equal(f.ledger.debits[0].Amount))
}

func TestRedeemChainReadFailureSettlesOffChain(t *testing.T) {
	f := newSettlementFixture("30", "100")
	f.chain.balanceErr = errors.New("rpc timeout")
	session := f.approvedSession("100")

	result, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		SessionID: session.ID, ShopID: "shop-1", Amount: dec("50"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StrategyDatabaseOnly, result.Strategy)
	assert.Empty(t, f.chain.burnCalls)
}

func TestRedeemPartialFailure(t *testing.T) {
	f := newSettlementFixture("30", "100")
	f.ledger.failDebit = errors.New("connection reset")
	session := f.approvedSession("100")

	_, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		SessionID: session.ID, ShopID: "shop-1", Amount: dec("50"),
	})
	require.Error(t, err)

	// the burn committed, so the error is the distinct retryable one
	assert.ErrorIs(t, err, models.ErrSettlementPartiallyFailed)
	var partial *models.PartialSettlementError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, session.ID, partial.SessionID)
	assert.Equal(t, "0xburned", partial.BurnTxHash)
	assert.True(t, dec("30").Equal(partial.BurnAmount))
	assert.True(t, dec("20").Equal(partial.DBAmount))

	require.Len(t, f.ledger.failures, 1)
	assert.Equal(t, models.SettlementFailurePending, f.ledger.failures[0].Status)
	assert.Contains(t, f.pub.published(), models.EventTypeSettlementFailed)
}

func TestRedeemDebitFailureWithoutBurn(t *testing.T) {
	f := newSettlementFixture("0", "100")
	f.ledger.failDebit = errors.New("connection reset")
	session := f.approvedSession("100")

	_, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		SessionID: session.ID, ShopID: "shop-1", Amount: dec("50"),
	})
	require.Error(t, err)

	// nothing burned, so this is an ordinary failure, not a partial one
	assert.NotErrorIs(t, err, models.ErrSettlementPartiallyFailed)
	require.Len(t, f.ledger.failures, 1)
}

func TestRedeemInsufficientLedgerBalance(t *testing.T) {
	f := newSettlementFixture("0", "10")
	session := f.approvedSession("100")

	_, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		SessionID: session.ID, ShopID: "shop-1", Amount: dec("50"),
	})
	assert.ErrorIs(t, err, models.ErrInsufficientBalance)
}

func TestRedeemSelfRedemptionBeforeConsume(t *testing.T) {
	f := newSettlementFixture("0", "100")
	session := f.approvedSession("100")
	session.CustomerAddress = testShopWall
	f.sessions.put(session)

	_, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		SessionID: session.ID, ShopID: "shop-1", Amount: dec("50"),
	})
	assert.ErrorIs(t, err, models.ErrSelfRedemption)

	// the session must not have been consumed by the rejected attempt
	stored, _ := f.sessions.GetSession(context.Background(), session.ID)
	assert.Equal(t, models.SessionStatusApproved, stored.Status)
}

func TestRedeemUnknownShop(t *testing.T) {
	f := newSettlementFixture("0", "100")
	session := f.approvedSession("100")

	_, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		SessionID: session.ID, ShopID: "nope", Amount: dec("50"),
	})
	assert.ErrorIs(t, err, models.ErrShopNotFound)
}

func TestRetrySettlement(t *testing.T) {
	f := newSettlementFixture("0", "100")

	event := &models.SettlementFailedEvent{
		BaseEvent:       models.BaseEvent{EventID: uuid.New().String(), EventType: models.EventTypeSettlementFailed},
		FailureID:       1,
		SessionID:       "session-1",
		ShopID:          "shop-1",
		CustomerAddress: testCustomer,
		BurnTxHash:      "0xburned",
		BurnAmount:      dec("30"),
		DBAmount:        dec("20"),
	}

	require.NoError(t, f.svc.RetrySettlement(context.Background(), event))

	require.Len(t, f.ledger.debits, 1)
	assert.True(t, dec("20").Equal(f.ledger.debits[0].Amount))
	assert.True(t, f.ledger.resolved[1])
	// the lost stats update covered the burned leg too
	assert.True(t, dec("50").Equal(f.ledger.stats["shop-1"]))
}

func TestRetrySettlementRedelivered(t *testing.T) {
	f := newSettlementFixture("0", "100")

	event := &models.SettlementFailedEvent{
		BaseEvent:       models.BaseEvent{EventID: uuid.New().String(), EventType: models.EventTypeSettlementFailed},
		FailureID:       1,
		SessionID:       "session-1",
		ShopID:          "shop-1",
		CustomerAddress: testCustomer,
		BurnTxHash:      "0xburned",
		BurnAmount:      dec("30"),
		DBAmount:        dec("20"),
	}

	require.NoError(t, f.svc.RetrySettlement(context.Background(), event))
	require.NoError(t, f.svc.RetrySettlement(context.Background(), event))

	// the second delivery found the row resolved and must not debit again
	require.Len(t, f.ledger.debits, 1)
	assert.True(t, dec("50").Equal(f.ledger.stats["shop-1"]))

	balance, err := f.ledger.GetBalance(context.Background(), testCustomer, "rcn")
	require.NoError(t, err)
	assert.True(t, dec("80").Equal(balance.Balance))
}

func TestRetrySettlementStillFailing(t *testing.T) {
	f := newSettlementFixture("0", "100")
	f.ledger.failDebit = errors.New("still down")

	event := &models.SettlementFailedEvent{
		FailureID:       1,
		SessionID:       "session-1",
		ShopID:          "shop-1",
		CustomerAddress: testCustomer,
		DBAmount:        dec("20"),
	}

	err := f.svc.RetrySettlement(context.Background(), event)
	require.Error(t, err)
	assert.False(t, f.ledger.resolved[1], "unresolved failures stay pending")
}

func TestRetrySettlementStatsFailureLeavesPending(t *testing.T) {
	f := newSettlementFixture("0", "100")
	f.ledger.failStats = errors.New("still down")

	event := &models.SettlementFailedEvent{
		FailureID:  2,
		SessionID:  "session-2",
		ShopID:     "shop-1",
		BurnAmount: dec("50"),
		DBAmount:   dec("0"),
	}

	err := f.svc.RetrySettlement(context.Background(), event)
	require.Error(t, err)
	assert.False(t, f.ledger.resolved[2])
}

func TestRetrySettlementStatsOnly(t *testing.T) {
	// fully burned settlement whose stats update was the only loss
	f := newSettlementFixture("0", "100")

	event := &models.SettlementFailedEvent{
		FailureID:  2,
		SessionID:  "session-2",
		ShopID:     "shop-1",
		BurnAmount: dec("50"),
		DBAmount:   dec("0"),
	}

	require.NoError(t, f.svc.RetrySettlement(context.Background(), event))
	assert.Empty(t, f.ledger.debits, "no debit for a fully burned settlement")
	assert.True(t, dec("50").Equal(f.ledger.stats["shop-1"]))
	assert.True(t, f.ledger.resolved[2])
}

func TestSettlementStrategy(t *testing.T) {
	assert.Equal(t, models.StrategyBlockchainOnly, settlementStrategy(dec("50"), dec("0")))
	assert.Equal(t, models.StrategyDatabaseOnly, settlementStrategy(dec("0"), dec("50")))
	assert.Equal(t, models.StrategyHybrid, settlementStrategy(dec("30"), dec("20")))
}
