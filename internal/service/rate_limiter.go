package service

import (
	"context"
	"time"

	"redemption-engine/internal/redisclient"
	"redemption-engine/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SlidingWindowLimiter bounds how many sessions a shop may open against one
// customer in a trailing window. The fast path is an atomic Redis Lua
// script; when Redis is unavailable it falls back to counting rows in the
// session store so creation never depends on Redis being up.
type SlidingWindowLimiter struct {
	redis    *redisclient.Client
	sessions SessionStore
	limit    int
	window   time.Duration
	logger   *zap.Logger
}

// NewSlidingWindowLimiter creates a new rate limiter
func NewSlidingWindowLimiter(redis *redisclient.Client, sessions SessionStore, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:    redis,
		sessions: sessions,
		limit:    limit,
		window:   window,
		logger:   util.GetLogger(),
	}
}

// Permit reports whether (shop, customer) may open another session now.
func (l *SlidingWindowLimiter) Permit(ctx context.Context, shopID, customerAddress string) (bool, error) {
	member := uuid.New().String()

	allowed, err := l.redis.AllowSession(ctx, shopID, customerAddress, l.limit, l.window, member)
	if err != nil {
		l.logger.Warn("Redis rate limit failed, falling back to DB count",
			zap.String("shop_id", shopID),
			zap.Error(err))
		return l.permitDB(ctx, shopID, customerAddress)
	}

	return allowed, nil
}

// permitDB counts recent sessions in the store. The count-then-insert here
// is not atomic across instances; the Redis path is, and the DB fallback
// only bounds abuse while Redis is down.
func (l *SlidingWindowLimiter) permitDB(ctx context.Context, shopID, customerAddress string) (bool, error) {
	since := time.Now().UTC().Add(-l.window)
	count, err := l.sessions.CountRecentSessions(ctx, shopID, customerAddress, since)
	if err != nil {
		return false, err
	}
	return count < l.limit, nil
}
