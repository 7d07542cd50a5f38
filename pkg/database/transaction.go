package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type txContextKey struct{}

type Tx interface {
	Querier
	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transaction wraps sqlx.Tx. Only the owner (the call that began it) commits or rolls back;
// callers that joined an outer transaction get no-op Commit/Rollback.
type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	isClosed bool
	owner    bool
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) *Transaction {
	return &Transaction{
		Tx:     tx,
		logger: logger,
		owner:  true,
	}
}

func txFromContext(ctx context.Context) *Transaction {
	tx, ok := ctx.Value(txContextKey{}).(*Transaction)
	if !ok || tx == nil || !tx.IsOpen() {
		return nil
	}
	return tx
}

func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if outer := txFromContext(ctx); outer != nil {
		return ctx, &joinedTx{Transaction: outer}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction")
	}

	newTx := NewTx(tx, logger)
	return context.WithValue(ctx, txContextKey{}, newTx), newTx, nil
}

func (t *Transaction) IsOpen() bool {
	return !t.isClosed
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.isClosed {
		return nil
	}

	t.isClosed = true
	if err := t.Tx.Rollback(); err != nil && err != sql.ErrTxDone {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction")
	}

	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.isClosed {
		return nil
	}

	t.isClosed = true
	if err := t.Tx.Commit(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction")
	}

	return nil
}

// joinedTx is handed to callers that joined an outer transaction.
type joinedTx struct {
	*Transaction
}

func (j *joinedTx) Commit(ctx context.Context) error {
	return nil
}

func (j *joinedTx) Rollback(ctx context.Context) error {
	return nil
}
