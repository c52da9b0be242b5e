package service

import (
	"context"
	"time"

	"redemption-engine/internal/models"

	"github.com/shopspring/decimal"
)

// The services declare the slice of the durable store and the collaborators
// they need as interfaces; *store.Store satisfies all of them, and tests
// substitute in-memory fakes.

// SessionStore is the durable session record with its conditional transitions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.RedemptionSession) error
	GetSession(ctx context.Context, sessionID string) (*models.RedemptionSession, error)
	ApproveSession(ctx context.Context, sessionID, customerAddress, signature string) (bool, error)
	RejectSession(ctx context.Context, sessionID, customerAddress string) (bool, error)
	CancelSession(ctx context.Context, sessionID, shopID string) (bool, error)
	ConsumeSession(ctx context.Context, sessionID, shopID string, amount decimal.Decimal) (bool, error)
	CountRecentSessions(ctx context.Context, shopID, customerAddress string, since time.Time) (int, error)
}

// PromoStore is the durable promo-code record with its atomic reservation.
type PromoStore interface {
	CreatePromoCode(ctx context.Context, code *models.PromoCode) error
	GetPromoCode(ctx context.Context, shopID, code string) (*models.PromoCode, error)
	ListPromoCodes(ctx context.Context, shopID string) ([]models.PromoCode, error)
	ReserveUse(ctx context.Context, shopID, code, customerAddress string, baseReward decimal.Decimal) (*models.PromoCodeUse, error)
	RollbackUse(ctx context.Context, useID int64) error
	DeactivatePromoCode(ctx context.Context, shopID string, promoCodeID int64) error
}

// LedgerStore is the off-chain balance ledger plus reconciliation records.
type LedgerStore interface {
	Debit(ctx context.Context, customerAddress, scope string, amount decimal.Decimal, shopID *string, reference string, metadata []byte) (*models.Transaction, error)
	Credit(ctx context.Context, customerAddress, scope string, amount decimal.Decimal, shopID *string, reference string, metadata []byte) (*models.Transaction, error)
	GetBalance(ctx context.Context, customerAddress, scope string) (*models.CustomerBalance, error)
	RecordSettlementFailure(ctx context.Context, failure *models.SettlementFailure) error
	ReconcileFailure(ctx context.Context, failureID int64, customerAddress, scope string, debitAmount, statsAmount decimal.Decimal, shopID, reference string, metadata []byte) (*models.Transaction, bool, error)
	UpdateShopStats(ctx context.Context, shopID string, redeemed decimal.Decimal) error
}

// ShopDirectory is the shop/customer directory collaborator.
type ShopDirectory interface {
	GetShop(ctx context.Context, shopID string) (*models.Shop, error)
}

// RateLimiter bounds session creations per (shop, customer).
type RateLimiter interface {
	Permit(ctx context.Context, shopID, customerAddress string) (bool, error)
}

// PresenceStore holds ephemeral live-session markers with a TTL matching the
// session deadline, so wallet clients can poll liveness without hitting
// Postgres. Optional; the durable store stays authoritative.
type PresenceStore interface {
	SetPresence(ctx context.Context, kind, id string, ttl time.Duration) error
	ClearPresence(ctx context.Context, kind, id string) error
	CheckPresence(ctx context.Context, kind, id string) (bool, error)
}

// Publisher is the slice of the event publisher the services use.
type Publisher interface {
	PublishSessionCreated(ctx context.Context, event *models.SessionCreatedEvent) error
	PublishSessionApproved(ctx context.Context, event *models.SessionApprovedEvent) error
	PublishSessionRejected(ctx context.Context, event *models.SessionRejectedEvent) error
	PublishSessionConsumed(ctx context.Context, event *models.SessionConsumedEvent) error
	PublishRedemptionSettled(ctx context.Context, event *models.RedemptionSettledEvent) error
	PublishSettlementFailed(ctx context.Context, event *models.SettlementFailedEvent) error
}

// BurnResult is the outcome of an on-chain burn.
type BurnResult struct {
	Success bool
	TxHash  string
}

// ChainClient is the blockchain collaborator.
type ChainClient interface {
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	Burn(ctx context.Context, address string, amount decimal.Decimal) (*BurnResult, error)
}
