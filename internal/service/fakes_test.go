package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"redemption-engine/internal/models"

	"github.com/shopspring/decimal"
)

// In-memory fakes honoring the same transition contracts as the SQL store:
// every precondition checked and applied under one lock.

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.RedemptionSession
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*models.RedemptionSession)}
}

func (m *memSessionStore) put(s *models.RedemptionSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
}

func (m *memSessionStore) CreateSession(ctx context.Context, session *models.RedemptionSession) error {
	m.put(session)
	return nil
}

func (m *memSessionStore) GetSession(ctx context.Context, sessionID string) (*models.RedemptionSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessionStore) ApproveSession(ctx context.Context, sessionID, customerAddress, signature string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	now := time.Now().UTC()
	if !ok || !strings.EqualFold(s.CustomerAddress, customerAddress) ||
		s.Status != models.SessionStatusPending || !now.Before(s.ExpiresAt) {
		return false, nil
	}
	s.Status = models.SessionStatusApproved
	s.Signature = signature
	s.ApprovedAt = &now
	return true, nil
}

func (m *memSessionStore) RejectSession(ctx context.Context, sessionID, customerAddress string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !strings.EqualFold(s.CustomerAddress, customerAddress) ||
		s.Status != models.SessionStatusPending {
		return false, nil
	}
	s.Status = models.SessionStatusRejected
	return true, nil
}

func (m *memSessionStore) CancelSession(ctx context.Context, sessionID, shopID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.ShopID != shopID || s.Status != models.SessionStatusPending {
		return false, nil
	}
	s.Status = models.SessionStatusRejected
	s.CancelledByShop = true
	return true, nil
}

func (m *memSessionStore) ConsumeSession(ctx context.Context, sessionID, shopID string, amount decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	now := time.Now().UTC()
	if !ok || s.ShopID != shopID || s.Status != models.SessionStatusApproved ||
		!now.Before(s.ExpiresAt) || s.UsedAt != nil || s.MaxAmount.LessThan(amount) {
		return false, nil
	}
	s.Status = models.SessionStatusUsed
	s.RedeemedAmount = decimal.NullDecimal{Valid: true, Decimal: amount}
	s.UsedAt = &now
	return true, nil
}

func (m *memSessionStore) CountRecentSessions(ctx context.Context, shopID, customerAddress string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.sessions {
		if s.ShopID == shopID && strings.EqualFold(s.CustomerAddress, customerAddress) &&
			!s.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type memShops struct {
	mu    sync.Mutex
	shops map[string]*models.Shop
}

func newMemShops(shops ...*models.Shop) *memShops {
	m := &memShops{shops: make(map[string]*models.Shop)}
	for _, s := range shops {
		m.shops[s.ID] = s
	}
	return m
}

func (m *memShops) GetShop(ctx context.Context, shopID string) (*models.Shop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shops[shopID]
	if !ok {
		return nil, models.ErrShopNotFound
	}
	cp := *s
	return &cp, nil
}

type memPresence struct {
	mu   sync.Mutex
	keys map[string]time.Time
}

func newMemPresence() *memPresence {
	return &memPresence{keys: make(map[string]time.Time)}
}

func (m *memPresence) SetPresence(ctx context.Context, kind, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[kind+":"+id] = time.Now().UTC().Add(ttl)
	return nil
}

func (m *memPresence) ClearPresence(ctx context.Context, kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, kind+":"+id)
	return nil
}

func (m *memPresence) CheckPresence(ctx context.Context, kind, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline, ok := m.keys[kind+":"+id]
	return ok && time.Now().UTC().Before(deadline), nil
}

type stubLimiter struct {
	allowed bool
	err     error
}

func (l *stubLimiter) Permit(ctx context.Context, shopID, customerAddress string) (bool, error) {
	return l.allowed, l.err
}

type capturePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *capturePublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *capturePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *capturePublisher) PublishSessionCreated(ctx context.Context, e *models.SessionCreatedEvent) error {
	return p.record(e.EventType)
}

func (p *capturePublisher) PublishSessionApproved(ctx context.Context, e *models.SessionApprovedEvent) error {
	return p.record(e.EventType)
}

func (p *capturePublisher) PublishSessionRejected(ctx context.Context, e *models.SessionRejectedEvent) error {
	return p.record(e.EventType)
}

func (p *capturePublisher) PublishSessionConsumed(ctx context.Context, e *models.SessionConsumedEvent) error {
	return p.record(e.EventType)
}

func (p *capturePublisher) PublishRedemptionSettled(ctx context.Context, e *models.RedemptionSettledEvent) error {
	return p.record(e.EventType)
}

func (p *capturePublisher) PublishSettlementFailed(ctx context.Context, e *models.SettlementFailedEvent) error {
	return p.record(e.EventType)
}

type memPromoStore struct {
	mu      sync.Mutex
	promos  map[int64]*models.PromoCode
	byKey   map[string]int64
	uses    map[int64]*models.PromoCodeUse
	nextID  int64
	nextUse int64
}

func newMemPromoStore() *memPromoStore {
	return &memPromoStore{
		promos: make(map[int64]*models.PromoCode),
		byKey:  make(map[string]int64),
		uses:   make(map[int64]*models.PromoCodeUse),
	}
}

func promoKey(shopID, code string) string {
	return shopID + "/" + strings.ToLower(code)
}

func (m *memPromoStore) CreatePromoCode(ctx context.Context, code *models.PromoCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	code.ID = m.nextID
	code.CreatedAt = time.Now().UTC()
	code.UpdatedAt = code.CreatedAt
	cp := *code
	m.promos[code.ID] = &cp
	m.byKey[promoKey(code.ShopID, code.Code)] = code.ID
	return nil
}

func (m *memPromoStore) GetPromoCode(ctx context.Context, shopID, code string) (*models.PromoCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[promoKey(shopID, code)]
	if !ok {
		return nil, models.ErrPromoNotFound
	}
	cp := *m.promos[id]
	return &cp, nil
}

func (m *memPromoStore) ListPromoCodes(ctx context.Context, shopID string) ([]models.PromoCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var codes []models.PromoCode
	for _, p := range m.promos {
		if p.ShopID == shopID {
			codes = append(codes, *p)
		}
	}
	return codes, nil
}

func (m *memPromoStore) ReserveUse(ctx context.Context, shopID, code, customerAddress string, baseReward decimal.Decimal) (*models.PromoCodeUse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byKey[promoKey(shopID, code)]
	if !ok {
		return nil, models.ErrPromoNotFound
	}
	promo := m.promos[id]

	var customerUses int64
	for _, u := range m.uses {
		if u.PromoCodeID == id && strings.EqualFold(u.CustomerAddress, customerAddress) {
			customerUses++
		}
	}

	if err := promo.Redeemable(time.Now().UTC(), customerUses); err != nil {
		return nil, err
	}

	bonus := promo.BonusFor(baseReward)
	m.nextUse++
	use := &models.PromoCodeUse{
		ID:              m.nextUse,
		PromoCodeID:     id,
		CustomerAddress: customerAddress,
		ShopID:          shopID,
		BaseReward:      baseReward,
		BonusAmount:     bonus,
		TotalReward:     baseReward.Add(bonus),
		UsedAt:          time.Now().UTC(),
	}
	m.uses[use.ID] = use
	promo.TimesUsed++
	promo.TotalBonusIssued = promo.TotalBonusIssued.Add(bonus)
	cp := *use
	return &cp, nil
}

func (m *memPromoStore) RollbackUse(ctx context.Context, useID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	use, ok := m.uses[useID]
	if !ok {
		return models.ErrReservationNotFound
	}
	delete(m.uses, useID)
	promo := m.promos[use.PromoCodeID]
	promo.TimesUsed--
	promo.TotalBonusIssued = promo.TotalBonusIssued.Sub(use.BonusAmount)
	return nil
}

func (m *memPromoStore) DeactivatePromoCode(ctx context.Context, shopID string, promoCodeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	promo, ok := m.promos[promoCodeID]
	if !ok || promo.ShopID != shopID {
		return models.ErrPromoNotFound
	}
	promo.IsActive = false
	return nil
}

type memLedger struct {
	mu         sync.Mutex
	balances   map[string]decimal.Decimal
	earned     map[string]decimal.Decimal
	redeemed   map[string]decimal.Decimal
	debits     []*models.Transaction
	credits    []*models.Transaction
	failures   []*models.SettlementFailure
	resolved   map[int64]bool
	stats      map[string]decimal.Decimal
	failDebit  error
	failCredit error
	failStats  error
	nextTxID   int64
	nextFail   int64
}

func newMemLedger() *memLedger {
	return &memLedger{
		balances: make(map[string]decimal.Decimal),
		earned:   make(map[string]decimal.Decimal),
		redeemed: make(map[string]decimal.Decimal),
		resolved: make(map[int64]bool),
		stats:    make(map[string]decimal.Decimal),
	}
}

func (m *memLedger) setBalance(address string, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(address)
	m.balances[key] = balance
	m.earned[key] = balance
}

func (m *memLedger) Debit(ctx context.Context, customerAddress, scope string, amount decimal.Decimal, shopID *string, reference string, metadata []byte) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDebit != nil {
		return nil, m.failDebit
	}
	key := strings.ToLower(customerAddress)
	balance := m.balances[key]
	if balance.LessThan(amount) {
		return nil, models.ErrInsufficientBalance
	}
	m.balances[key] = balance.Sub(amount)
	m.redeemed[key] = m.redeemed[key].Add(amount)
	m.nextTxID++
	entry := &models.Transaction{
		ID:              m.nextTxID,
		Type:            models.TransactionTypeRedeem,
		CustomerAddress: key,
		Scope:           scope,
		ShopID:          shopID,
		Amount:          amount,
		BalanceBefore:   balance,
		BalanceAfter:    balance.Sub(amount),
		Reference:       reference,
		Metadata:        metadata,
	}
	m.debits = append(m.debits, entry)
	return entry, nil
}

func (m *memLedger) Credit(ctx context.Context, customerAddress, scope string, amount decimal.Decimal, shopID *string, reference string, metadata []byte) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCredit != nil {
		return nil, m.failCredit
	}
	key := strings.ToLower(customerAddress)
	before := m.balances[key]
	m.balances[key] = before.Add(amount)
	m.earned[key] = m.earned[key].Add(amount)
	m.nextTxID++
	tx := &models.Transaction{
		ID:              m.nextTxID,
		Type:            models.TransactionTypeEarn,
		CustomerAddress: key,
		Scope:           scope,
		ShopID:          shopID,
		Amount:          amount,
		BalanceBefore:   before,
		BalanceAfter:    m.balances[key],
		Reference:       reference,
	}
	m.credits = append(m.credits, tx)
	return tx, nil
}

func (m *memLedger) GetBalance(ctx context.Context, customerAddress, scope string) (*models.CustomerBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(customerAddress)
	balance, ok := m.balances[key]
	if !ok {
		return nil, models.ErrBalanceNotFound
	}
	return &models.CustomerBalance{
		CustomerAddress:  key,
		Scope:            scope,
		Balance:          balance,
		LifetimeEarned:   m.earned[key],
		LifetimeRedeemed: m.redeemed[key],
	}, nil
}

func (m *memLedger) RecordSettlementFailure(ctx context.Context, failure *models.SettlementFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFail++
	failure.ID = m.nextFail
	failure.Status = models.SettlementFailurePending
	failure.CreatedAt = time.Now().UTC()
	cp := *failure
	m.failures = append(m.failures, &cp)
	return nil
}

func (m *memLedger) ReconcileFailure(ctx context.Context, failureID int64, customerAddress, scope string, debitAmount, statsAmount decimal.Decimal, shopID, reference string, metadata []byte) (*models.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolved[failureID] {
		return nil, false, nil
	}
	if m.failStats != nil {
		return nil, false, m.failStats
	}

	var entry *models.Transaction
	if debitAmount.IsPositive() {
		if m.failDebit != nil {
			return nil, false, m.failDebit
		}
		key := strings.ToLower(customerAddress)
		balance := m.balances[key]
		if balance.LessThan(debitAmount) {
			return nil, false, models.ErrInsufficientBalance
		}
		m.balances[key] = balance.Sub(debitAmount)
		m.redeemed[key] = m.redeemed[key].Add(debitAmount)
		m.nextTxID++
		entry = &models.Transaction{
			ID:              m.nextTxID,
			Type:            models.TransactionTypeRedeem,
			CustomerAddress: key,
			Scope:           scope,
			ShopID:          &shopID,
			Amount:          debitAmount,
			BalanceBefore:   balance,
			BalanceAfter:    m.balances[key],
			Reference:       reference,
			Metadata:        metadata,
		}
		m.debits = append(m.debits, entry)
	}

	m.stats[shopID] = m.stats[shopID].Add(statsAmount)
	m.resolved[failureID] = true
	return entry, true, nil
}

func (m *memLedger) UpdateShopStats(ctx context.Context, shopID string, redeemed decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStats != nil {
		return m.failStats
	}
	m.stats[shopID] = m.stats[shopID].Add(redeemed)
	return nil
}

type stubChain struct {
	mu         sync.Mutex
	balance    decimal.Decimal
	balanceErr error
	burnFail   bool
	burnCalls  []decimal.Decimal
}

func (c *stubChain) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if c.balanceErr != nil {
		return decimal.Zero, c.balanceErr
	}
	return c.balance, nil
}

func (c *stubChain) Burn(ctx context.Context, address string, amount decimal.Decimal) (*BurnResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.burnCalls = append(c.burnCalls, amount)
	if c.burnFail {
		return &BurnResult{Success: false}, models.ErrBurnFailed
	}
	c.balance = c.balance.Sub(amount)
	return &BurnResult{Success: true, TxHash: "0xburned"}, nil
}
