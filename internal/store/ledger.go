package store

import (
	"context"
	"database/sql"
	"fmt"

	"redemption-engine/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Debit subtracts from a customer's off-chain balance with the balance row
// locked, enforcing balance >= 0, and writes the paired Transaction record
// with before/after amounts in the same transaction.
func (s *Store) Debit(ctx context.Context, customerAddress, scope string, amount decimal.Decimal, shopID *string, reference string, metadata []byte) (*models.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := debitTx(ctx, tx, customerAddress, scope, amount, shopID, reference, metadata)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

func debitTx(ctx context.Context, tx *sqlx.Tx, customerAddress, scope string, amount decimal.Decimal, shopID *string, reference string, metadata []byte) (*models.Transaction, error) {
	var balance models.CustomerBalance
	err := tx.GetContext(ctx, &balance, `
		SELECT * FROM customer_balances
		WHERE lower(customer_address) = lower($1) AND scope = $2
		FOR UPDATE`,
		customerAddress, scope)
	if err == sql.ErrNoRows {
		return nil, models.ErrInsufficientBalance
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock balance: %w", err)
	}

	if balance.Balance.LessThan(amount) {
		return nil, models.ErrInsufficientBalance
	}

	after := balance.Balance.Sub(amount)
	_, err = tx.ExecContext(ctx, `
		UPDATE customer_balances
		SET balance = balance - $1,
		    lifetime_redeemed = lifetime_redeemed + $1,
		    updated_at = NOW()
		WHERE lower(customer_address) = lower($2) AND scope = $3`,
		amount, customerAddress, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to debit balance: %w", err)
	}

	entry := &models.Transaction{
		Type:            models.TransactionTypeRedeem,
		CustomerAddress: balance.CustomerAddress,
		Scope:           scope,
		ShopID:          shopID,
		Amount:          amount,
		BalanceBefore:   balance.Balance,
		BalanceAfter:    after,
		Reference:       reference,
		Metadata:        metadata,
	}
	if err := insertTransaction(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Credit adds to a customer's off-chain balance, creating the balance row on
// first use, and writes the paired Transaction record in the same transaction.
func (s *Store) Credit(ctx context.Context, customerAddress, scope string, amount decimal.Decimal, shopID *string, reference string, metadata []byte) (*models.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO customer_balances (customer_address, scope)
		VALUES (lower($1), $2)
		ON CONFLICT (customer_address, scope) DO NOTHING`,
		customerAddress, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	var balance models.CustomerBalance
	err = tx.GetContext(ctx, &balance, `
		SELECT * FROM customer_balances
		WHERE lower(customer_address) = lower($1) AND scope = $2
		FOR UPDATE`,
		customerAddress, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to lock balance: %w", err)
	}

	after := balance.Balance.Add(amount)
	_, err = tx.ExecContext(ctx, `
		UPDATE customer_balances
		SET balance = balance + $1,
		    lifetime_earned = lifetime_earned + $1,
		    updated_at = NOW()
		WHERE lower(customer_address) = lower($2) AND scope = $3`,
		amount, customerAddress, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to credit balance: %w", err)
	}

	entry := &models.Transaction{
		Type:            models.TransactionTypeEarn,
		CustomerAddress: balance.CustomerAddress,
		Scope:           scope,
		ShopID:          shopID,
		Amount:          amount,
		BalanceBefore:   balance.Balance,
		BalanceAfter:    after,
		Reference:       reference,
		Metadata:        metadata,
	}
	if err := insertTransaction(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, entry *models.Transaction) error {
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO transactions
			(type, customer_address, scope, shop_id, amount, balance_before, balance_after, reference, metadata)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		entry.Type, entry.CustomerAddress, entry.Scope, entry.ShopID,
		entry.Amount, entry.BalanceBefore, entry.BalanceAfter,
		entry.Reference, entry.Metadata).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

// GetBalance retrieves a customer's balance for a scope.
func (s *Store) GetBalance(ctx context.Context, customerAddress, scope string) (*models.CustomerBalance, error) {
	var balance models.CustomerBalance
	err := s.db.GetContext(ctx, &balance, `
		SELECT * FROM customer_balances
		WHERE lower(customer_address) = lower($1) AND scope = $2`,
		customerAddress, scope)
	if err == sql.ErrNoRows {
		return nil, models.ErrBalanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// RecordSettlementFailure persists a PENDING reconciliation record for a
// redemption whose burn committed while the off-chain debit failed.
func (s *Store) RecordSettlementFailure(ctx context.Context, failure *models.SettlementFailure) error {
	return s.db.QueryRowxContext(ctx, `
		INSERT INTO settlement_failures
			(session_id, customer_address, shop_id, burn_tx_hash, burn_amount, db_amount, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		failure.SessionID, failure.CustomerAddress, failure.ShopID,
		failure.BurnTxHash, failure.BurnAmount, failure.DBAmount,
		failure.Reason, models.SettlementFailurePending).
		Scan(&failure.ID, &failure.CreatedAt)
}

// GetSettlementFailure retrieves a reconciliation record by ID.
func (s *Store) GetSettlementFailure(ctx context.Context, id int64) (*models.SettlementFailure, error) {
	var failure models.SettlementFailure
	err := s.db.GetContext(ctx, &failure,
		"SELECT * FROM settlement_failures WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, models.ErrSettlementFailureNotFound
	}
	if err != nil {
		return nil, err
	}
	return &failure, nil
}

// ReconcileFailure retries the off-chain leg of a partially failed
// settlement. The PENDING -> RESOLVED transition, the debit, and the shop
// stats bump commit or roll back together; a redelivered event finds the row
// already resolved and reports false instead of debiting the customer again.
func (s *Store) ReconcileFailure(ctx context.Context, failureID int64, customerAddress, scope string, debitAmount, statsAmount decimal.Decimal, shopID, reference string, metadata []byte) (*models.Transaction, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	won, err := applyTransition(ctx, tx, `
		UPDATE settlement_failures
		SET status = $1, resolved_at = NOW()
		WHERE id = $2 AND status = $3`,
		models.SettlementFailureResolved, failureID, models.SettlementFailurePending)
	if err != nil {
		return nil, false, err
	}
	if !won {
		return nil, false, nil
	}

	var entry *models.Transaction
	if debitAmount.IsPositive() {
		entry, err = debitTx(ctx, tx, customerAddress, scope, debitAmount, &shopID, reference, metadata)
		if err != nil {
			return nil, false, err
		}
	}

	if err := bumpShopStats(ctx, tx, shopID, statsAmount); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return entry, true, nil
}
