package store

import (
	"context"
	"database/sql"
	"fmt"
)

type contextKey string

const txContextKey contextKey = "sql_tx"

// DBTX is the subset of *sql.DB and *sql.Tx used by repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxManager runs functions inside a database transaction carried by the context.
type TxManager struct {
	db *sql.DB
}

func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

// RunInTx begins a transaction, exposes it to repositories through txCtx and
// commits when fn returns nil. Any error or panic rolls the transaction back.
// Nested calls reuse the outer transaction.
func (m *TxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) (err error) {
	if _, ok := ctx.Value(txContextKey).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(context.WithValue(ctx, txContextKey, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// conn returns the transaction in ctx if present, otherwise db.
func conn(ctx context.Context, db *sql.DB) DBTX {
	if tx, ok := ctx.Value(txContextKey).(*sql.Tx); ok {
		return tx
	}
	return db
}
