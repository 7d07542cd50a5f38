package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

// Querier is the query surface shared by *sqlx.DB and *sqlx.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
}

// Transactor runs fn inside a transaction carried by the context passed to fn.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type DB interface {
	Querier
	Transactor
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	PingContext(ctx context.Context) error
	Close() error
	SetConnMaxLifetime(d time.Duration)
	SetMaxIdleConns(n int)
	SetMaxOpenConns(n int)
	Stats() sql.DBStats
	Raw() *sql.DB
	// GetTx joins the transaction already carried by ctx or begins a new one.
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error)
	// Conn returns the transaction carried by ctx, or the pool.
	Conn(ctx context.Context) Querier
}

type DatabaseInstance struct {
	*sqlx.DB
	logger ectologger.Logger
}

func NewDatabaseInstance(db *sqlx.DB, logger ectologger.Logger) DB {
	return &DatabaseInstance{
		DB:     db,
		logger: logger,
	}
}

// Connect opens a pooled postgres connection and verifies it.
func Connect(ctx context.Context, driver, dsn string, logger ectologger.Logger) (DB, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("Failed to connect to database")
		return nil, err
	}
	return NewDatabaseInstance(db, logger), nil
}

func (db *DatabaseInstance) Raw() *sql.DB {
	return db.DB.DB
}

func (db *DatabaseInstance) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error) {
	return GetTx(ctx, db.logger, db, opts)
}

func (db *DatabaseInstance) Conn(ctx context.Context) Querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return db.DB
}

func (db *DatabaseInstance) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctxTx, tx, err := db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctxTx)

	if err := fn(ctxTx); err != nil {
		return err
	}

	return tx.Commit(ctxTx)
}
