package store

import (
	"context"
	"database/sql"
	"time"

	"redemption-engine/internal/models"

	"github.com/shopspring/decimal"
)

// CreateSession inserts a new redemption session. The caller computes
// created_at and expires_at so the expiry policy has one authority.
func (s *Store) CreateSession(ctx context.Context, session *models.RedemptionSession) error {
	query := `
		INSERT INTO redemption_sessions
			(id, customer_address, shop_id, max_amount, status, created_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $6)`

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.CustomerAddress, session.ShopID, session.MaxAmount,
		session.Status, session.CreatedAt, session.ExpiresAt)
	return err
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.RedemptionSession, error) {
	var session models.RedemptionSession
	err := s.db.GetContext(ctx, &session,
		"SELECT * FROM redemption_sessions WHERE id = $1", sessionID)
	if err == sql.ErrNoRows {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ApproveSession transitions PENDING -> APPROVED for the owning customer
// while the session is still live. Returns false when no row satisfied every
// precondition; use GetSession to name the one that failed.
func (s *Store) ApproveSession(ctx context.Context, sessionID, customerAddress, signature string) (bool, error) {
	return applyTransition(ctx, s.db, `
		UPDATE redemption_sessions
		SET status = $1, signature = $2, approved_at = NOW(), updated_at = NOW()
		WHERE id = $3
		  AND lower(customer_address) = lower($4)
		  AND status = $5
		  AND expires_at > NOW()`,
		models.SessionStatusApproved, signature, sessionID, customerAddress, models.SessionStatusPending)
}

// RejectSession transitions PENDING -> REJECTED for the owning customer.
func (s *Store) RejectSession(ctx context.Context, sessionID, customerAddress string) (bool, error) {
	return applyTransition(ctx, s.db, `
		UPDATE redemption_sessions
		SET status = $1, updated_at = NOW()
		WHERE id = $2
		  AND lower(customer_address) = lower($3)
		  AND status = $4`,
		models.SessionStatusRejected, sessionID, customerAddress, models.SessionStatusPending)
}

// CancelSession is the shop-initiated PENDING -> REJECTED transition, marked
// so customer rejection and shop cancellation stay distinguishable.
func (s *Store) CancelSession(ctx context.Context, sessionID, shopID string) (bool, error) {
	return applyTransition(ctx, s.db, `
		UPDATE redemption_sessions
		SET status = $1, cancelled_by_shop = TRUE, updated_at = NOW()
		WHERE id = $2
		  AND shop_id = $3
		  AND status = $4`,
		models.SessionStatusRejected, sessionID, shopID, models.SessionStatusPending)
}

// ConsumeSession is the single atomic validate-and-consume update. Every
// precondition (approved, live, unused, owning shop, amount within limit)
// sits in the WHERE clause so concurrent callers serialize on the row and at
// most one observes success.
func (s *Store) ConsumeSession(ctx context.Context, sessionID, shopID string, amount decimal.Decimal) (bool, error) {
	return applyTransition(ctx, s.db, `
		UPDATE redemption_sessions
		SET status = $1, redeemed_amount = $2, used_at = NOW(), updated_at = NOW()
		WHERE id = $3
		  AND shop_id = $4
		  AND status = $5
		  AND expires_at > NOW()
		  AND used_at IS NULL
		  AND max_amount >= $2`,
		models.SessionStatusUsed, amount, sessionID, shopID, models.SessionStatusApproved)
}

// CountRecentSessions counts sessions a shop opened against a customer since
// the given instant. Rate-limiter fallback when Redis is unavailable.
func (s *Store) CountRecentSessions(ctx context.Context, shopID, customerAddress string, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM redemption_sessions
		WHERE shop_id = $1
		  AND lower(customer_address) = lower($2)
		  AND created_at >= $3`,
		shopID, customerAddress, since)
	return count, err
}

// ExpirePending marks past-deadline live sessions EXPIRED. Idempotent single
// statement; the consume guard already rejects expired rows, this only keeps
// polled statuses truthful.
func (s *Store) ExpirePending(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE redemption_sessions
		SET status = $1, updated_at = NOW()
		WHERE status IN ($2, $3)
		  AND expires_at <= NOW()`,
		models.SessionStatusExpired, models.SessionStatusPending, models.SessionStatusApproved)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
