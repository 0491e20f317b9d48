package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Transactor runs fn inside a single database transaction. Repositories
// called with the ctx passed to fn see the transaction via TxFromContext.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Beginner starts transactions. Both *pgxpool.Pool and *pgxpool.Conn
// satisfy it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type txRunner struct {
	fallback Beginner
}

// NewTransactor returns a Transactor that begins on the request connection
// when one is present and on fallback otherwise.
func NewTransactor(fallback Beginner) Transactor {
	return &txRunner{fallback: fallback}
}

func (t *txRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	// Nested calls join the outer transaction.
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var b Beginner = t.fallback
	if c := ConnFromContext(ctx); c != nil {
		b = c
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithTx returns a copy of ctx carrying tx.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// TxFromContext returns the transaction started by InTx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}
