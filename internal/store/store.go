package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"redemption-engine/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection (tests).
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetShop retrieves a shop by ID
func (s *Store) GetShop(ctx context.Context, shopID string) (*models.Shop, error) {
	var shop models.Shop
	err := s.db.GetContext(ctx, &shop, "SELECT * FROM shops WHERE id = $1", shopID)
	if err == sql.ErrNoRows {
		return nil, models.ErrShopNotFound
	}
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

// UpdateShopStats bumps the shop's redemption aggregate after a settlement.
func (s *Store) UpdateShopStats(ctx context.Context, shopID string, redeemed decimal.Decimal) error {
	return bumpShopStats(ctx, s.db, shopID, redeemed)
}

func bumpShopStats(ctx context.Context, e execer, shopID string, redeemed decimal.Decimal) error {
	_, err := e.ExecContext(ctx,
		"UPDATE shops SET total_redemptions = total_redemptions + $1, last_activity = NOW() WHERE id = $2",
		redeemed, shopID)
	return err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

// PruneProcessedEvents drops idempotency markers older than the retention
// window. Single statement, safe to run concurrently with itself.
func (s *Store) PruneProcessedEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM processed_events WHERE processed_at < NOW() - $1::interval",
		fmt.Sprintf("%d seconds", int64(olderThan.Seconds())))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
