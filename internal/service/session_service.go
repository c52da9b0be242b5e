package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"redemption-engine/internal/models"
	"redemption-engine/internal/signature"
	"redemption-engine/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// SessionService is the session manager: it orchestrates the redemption
// session lifecycle on top of the store's conditional transitions. All
// cross-request coordination lives in those transitions; the service holds
// no locks and no session cache, so it stays correct across instances.
type SessionService struct {
	store     SessionStore
	shops     ShopDirectory
	limiter   RateLimiter
	publisher Publisher
	presence  PresenceStore
	ttl       time.Duration
	minAmount decimal.Decimal
	maxAmount decimal.Decimal
	logger    *zap.Logger
}

// NewSessionService creates a new session service
func NewSessionService(
	store SessionStore,
	shops ShopDirectory,
	limiter RateLimiter,
	publisher Publisher,
	presence PresenceStore,
	ttl time.Duration,
	minAmount, maxAmount decimal.Decimal,
) *SessionService {
	return &SessionService{
		store:     store,
		shops:     shops,
		limiter:   limiter,
		publisher: publisher,
		presence:  presence,
		ttl:       ttl,
		minAmount: minAmount,
		maxAmount: maxAmount,
		logger:    util.GetLogger(),
	}
}

// CreateSessionRequest represents a shop's request to open a session
type CreateSessionRequest struct {
	CustomerAddress string          `json:"customer_address" binding:"required"`
	ShopID          string          `json:"shop_id" binding:"required"`
	MaxAmount       decimal.Decimal `json:"max_amount" binding:"required"`
}

// CreateSessionResponse represents the response after opening a session
type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSession opens a redemption session after validating the request,
// the shop's eligibility, and the per-customer rate limit.
func (s *SessionService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error) {
	ctx, span := util.StartSpan(ctx, "SessionService.CreateSession")
	defer span.End()

	if !addressPattern.MatchString(req.CustomerAddress) {
		return nil, models.ErrInvalidAddress
	}
	if req.MaxAmount.LessThan(s.minAmount) || req.MaxAmount.GreaterThan(s.maxAmount) {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]",
			models.ErrAmountOutOfRange, req.MaxAmount, s.minAmount, s.maxAmount)
	}

	shop, err := s.shops.GetShop(ctx, req.ShopID)
	if err != nil {
		return nil, err
	}
	if !shop.Eligible() {
		return nil, models.ErrShopNotEligible
	}
	if strings.EqualFold(shop.WalletAddress, req.CustomerAddress) {
		return nil, models.ErrSelfRedemption
	}

	allowed, err := s.limiter.Permit(ctx, req.ShopID, req.CustomerAddress)
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if !allowed {
		util.SessionsRateLimitedTotal.Inc()
		return nil, models.ErrRateLimited
	}

	now := time.Now().UTC()
	session := &models.RedemptionSession{
		ID:              uuid.New().String(),
		CustomerAddress: strings.ToLower(req.CustomerAddress),
		ShopID:          req.ShopID,
		MaxAmount:       req.MaxAmount,
		Status:          models.SessionStatusPending,
		CreatedAt:       now,
		ExpiresAt:       models.ExpiryAt(now, s.ttl),
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	util.SessionsCreatedTotal.Inc()
	s.logger.Info("Session created",
		zap.String("session_id", session.ID),
		zap.String("shop_id", session.ShopID))

	s.markLive(ctx, session.ID)

	s.publish(ctx, func() error {
		return s.publisher.PublishSessionCreated(ctx, &models.SessionCreatedEvent{
			BaseEvent:       newBaseEvent(models.EventTypeSessionCreated),
			SessionID:       session.ID,
			ShopID:          session.ShopID,
			CustomerAddress: session.CustomerAddress,
			MaxAmount:       session.MaxAmount,
			ExpiresAt:       session.ExpiresAt,
		})
	})

	return &CreateSessionResponse{
		SessionID: session.ID,
		Status:    session.Status,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// Approve records the customer's approval. The signature must recover to
// the session owner's address; a well-formed but wrong signature is refused.
func (s *SessionService) Approve(ctx context.Context, sessionID, customerAddress, sig string) error {
	ctx, span := util.StartSpan(ctx, "SessionService.Approve")
	defer span.End()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.OwnedBy(customerAddress) {
		return models.ErrCustomerMismatch
	}

	message := signature.ApprovalMessage(session.ID, session.ShopID, session.MaxAmount.String())
	verified, err := signature.Verify(message, sig, session.CustomerAddress)
	if err != nil || !verified {
		return models.ErrInvalidSignature
	}

	ok, err := s.store.ApproveSession(ctx, sessionID, customerAddress, sig)
	if err != nil {
		return fmt.Errorf("failed to approve session: %w", err)
	}
	if !ok {
		return s.diagnosePending(ctx, sessionID, "approve")
	}

	util.SessionsApprovedTotal.Inc()
	s.logger.Info("Session approved", zap.String("session_id", sessionID))

	s.publish(ctx, func() error {
		return s.publisher.PublishSessionApproved(ctx, &models.SessionApprovedEvent{
			BaseEvent:       newBaseEvent(models.EventTypeSessionApproved),
			SessionID:       sessionID,
			ShopID:          session.ShopID,
			CustomerAddress: session.CustomerAddress,
		})
	})
	return nil
}

// Reject records the customer's rejection. Terminal.
func (s *SessionService) Reject(ctx context.Context, sessionID, customerAddress string) error {
	ctx, span := util.StartSpan(ctx, "SessionService.Reject")
	defer span.End()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.OwnedBy(customerAddress) {
		return models.ErrCustomerMismatch
	}

	ok, err := s.store.RejectSession(ctx, sessionID, customerAddress)
	if err != nil {
		return fmt.Errorf("failed to reject session: %w", err)
	}
	if !ok {
		return s.diagnosePending(ctx, sessionID, "reject")
	}

	util.SessionsRejectedTotal.WithLabelValues("customer").Inc()
	s.logger.Info("Session rejected", zap.String("session_id", sessionID))
	s.clearLive(ctx, sessionID)

	s.publish(ctx, func() error {
		return s.publisher.PublishSessionRejected(ctx, &models.SessionRejectedEvent{
			BaseEvent:       newBaseEvent(models.EventTypeSessionRejected),
			SessionID:       sessionID,
			ShopID:          session.ShopID,
			CancelledByShop: false,
		})
	})
	return nil
}

// Cancel is the shop-initiated withdrawal of a pending session. It lands in
// REJECTED with the cancelled-by-shop marker set.
func (s *SessionService) Cancel(ctx context.Context, sessionID, shopID string) error {
	ctx, span := util.StartSpan(ctx, "SessionService.Cancel")
	defer span.End()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.ShopID != shopID {
		return models.ErrShopMismatch
	}

	ok, err := s.store.CancelSession(ctx, sessionID, shopID)
	if err != nil {
		return fmt.Errorf("failed to cancel session: %w", err)
	}
	if !ok {
		return s.diagnosePending(ctx, sessionID, "cancel")
	}

	util.SessionsRejectedTotal.WithLabelValues("shop").Inc()
	s.logger.Info("Session cancelled by shop",
		zap.String("session_id", sessionID),
		zap.String("shop_id", shopID))
	s.clearLive(ctx, sessionID)

	s.publish(ctx, func() error {
		return s.publisher.PublishSessionRejected(ctx, &models.SessionRejectedEvent{
			BaseEvent:       newBaseEvent(models.EventTypeSessionRejected),
			SessionID:       sessionID,
			ShopID:          shopID,
			CancelledByShop: true,
		})
	})
	return nil
}

// Status returns a read-only snapshot for shop-side polling. A live row past
// its deadline reads as EXPIRED even before the sweeper has visited it.
func (s *SessionService) Status(ctx context.Context, sessionID string) (*models.RedemptionSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !models.IsTerminalStatus(session.Status) && session.IsExpired(time.Now().UTC()) {
		session.Status = models.SessionStatusExpired
	}
	return session, nil
}

// ValidateAndConsume is the settlement coordinator's entry point: one atomic
// conditional update checks approved + live + unused + owning shop + amount
// within limit. On a zero-row result a second, non-authoritative read names
// the violated precondition; the decision to proceed rests solely on the
// conditional update.
func (s *SessionService) ValidateAndConsume(ctx context.Context, sessionID, shopID string, amount decimal.Decimal) (*models.RedemptionSession, error) {
	ctx, span := util.StartSpan(ctx, "SessionService.ValidateAndConsume")
	defer span.End()

	if !amount.IsPositive() {
		return nil, models.ErrAmountOutOfRange
	}

	ok, err := s.store.ConsumeSession(ctx, sessionID, shopID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to consume session: %w", err)
	}
	if !ok {
		err := s.diagnoseConsume(ctx, sessionID, shopID, amount)
		util.SessionTransitionsFailed.WithLabelValues(errReason(err)).Inc()
		return nil, err
	}

	util.SessionsConsumedTotal.Inc()
	s.logger.Info("Session consumed",
		zap.String("session_id", sessionID),
		zap.String("amount", amount.String()))
	s.clearLive(ctx, sessionID)

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, func() error {
		return s.publisher.PublishSessionConsumed(ctx, &models.SessionConsumedEvent{
			BaseEvent: newBaseEvent(models.EventTypeSessionConsumed),
			SessionID: sessionID,
			ShopID:    shopID,
			Amount:    amount,
		})
	})
	return session, nil
}

// diagnosePending names the precondition that made a pending-state
// transition lose. The caller already checked ownership against a snapshot,
// so a zero-row result means the session left PENDING or expired.
func (s *SessionService) diagnosePending(ctx context.Context, sessionID, op string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	switch {
	case session.Status == models.SessionStatusUsed:
		return models.ErrSessionAlreadyUsed
	case session.Status == models.SessionStatusExpired:
		return models.ErrSessionExpired
	case session.Status == models.SessionStatusPending && session.IsExpired(now):
		return models.ErrSessionExpired
	default:
		return fmt.Errorf("%w: cannot %s session in status %s",
			models.ErrSessionNotPending, op, session.Status)
	}
}

// diagnoseConsume names the precondition that made validate-and-consume
// lose. Non-authoritative: the state may move again between the update and
// this read, so the result is used for error messaging only.
func (s *SessionService) diagnoseConsume(ctx context.Context, sessionID, shopID string, amount decimal.Decimal) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	switch {
	case session.ShopID != shopID:
		return models.ErrShopMismatch
	case session.Status == models.SessionStatusUsed:
		return models.ErrSessionAlreadyUsed
	case session.Status == models.SessionStatusExpired || session.IsExpired(now):
		return models.ErrSessionExpired
	case session.Status != models.SessionStatusApproved:
		return models.ErrSessionNotApproved
	case session.MaxAmount.LessThan(amount):
		return models.ErrAmountExceedsLimit
	default:
		// The row changed again between the update and this read; the
		// transition definitively lost either way.
		return models.ErrSessionAlreadyUsed
	}
}

// Live is the cheap poll path for wallet clients waiting on a session: one
// Redis key lookup, no Postgres. The key carries the session TTL, so expiry
// clears it without the sweeper. Falls back to the store when Redis is out.
func (s *SessionService) Live(ctx context.Context, sessionID string) (bool, error) {
	if s.presence != nil {
		live, err := s.presence.CheckPresence(ctx, "session", sessionID)
		if err == nil {
			return live, nil
		}
		s.logger.Warn("Presence check failed, falling back to store",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return !models.IsTerminalStatus(session.Status) && !session.IsExpired(time.Now().UTC()), nil
}

func (s *SessionService) markLive(ctx context.Context, sessionID string) {
	if s.presence == nil {
		return
	}
	if err := s.presence.SetPresence(ctx, "session", sessionID, s.ttl); err != nil {
		s.logger.Warn("Failed to set session presence", zap.Error(err))
	}
}

func (s *SessionService) clearLive(ctx context.Context, sessionID string) {
	if s.presence == nil {
		return
	}
	if err := s.presence.ClearPresence(ctx, "session", sessionID); err != nil {
		s.logger.Warn("Failed to clear session presence", zap.Error(err))
	}
}

func (s *SessionService) publish(ctx context.Context, fn func() error) {
	if s.publisher == nil {
		return
	}
	if err := fn(); err != nil {
		s.logger.Error("Failed to publish event", zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}
