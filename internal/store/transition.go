package store

import (
	"context"
	"database/sql"
)

// execer is satisfied by both *sqlx.DB and *sqlx.Tx so conditional
// transitions compose with or without an enclosing transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// applyTransition executes a conditional UPDATE whose WHERE clause encodes
// every precondition of a state transition, and reports whether exactly one
// row transitioned. Zero rows means some precondition did not hold at commit
// time; the caller may then do a non-authoritative diagnostic read to name
// the violated one, but must never proceed on the basis of that read.
//
// Both the session state machine and the promo counters route their
// winner-take-all updates through here.
func applyTransition(ctx context.Context, e execer, query string, args ...interface{}) (bool, error) {
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
