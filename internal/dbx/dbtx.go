// Package dbx provides the small DB abstractions shared by repositories:
// a minimal interface (DBTX) implemented by both *sql.DB and *sql.Tx,
// a helper that runs a function inside a transaction, and a Transactor
// that services depend on instead of a concrete *sql.DB.
package dbx

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of database/sql used by our repos.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxFunc is the unit of work executed by a Transactor.
type TxFunc func(ctx context.Context, tx DBTX) error

// Transactor runs a unit of work atomically. Either every write made through
// tx becomes durable, or none does.
type Transactor interface {
	InTx(ctx context.Context, fn TxFunc) error
}

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
//
// Typical use:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// SQLTransactor is a Transactor over *sql.DB. Transactions aborted by
// PostgreSQL because of a serialization failure or a deadlock are retried
// up to MaxRetries times, so fn must be safe to run more than once.
type SQLTransactor struct {
	DB         *sql.DB
	Opts       *sql.TxOptions
	MaxRetries int
}

// NewSQLTransactor returns a transactor that uses read-committed isolation.
// Repositories lock the rows they mutate, which is what the services rely on.
func NewSQLTransactor(db *sql.DB) *SQLTransactor {
	return &SQLTransactor{
		DB:         db,
		Opts:       &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		MaxRetries: 3,
	}
}

// InTx implements Transactor.
func (t *SQLTransactor) InTx(ctx context.Context, fn TxFunc) error {
	var err error
	for attempt := 0; attempt <= t.MaxRetries; attempt++ {
		err = WithTx(ctx, t.DB, t.Opts, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

// IsRetryable reports whether err is a PostgreSQL serialization failure
// (40001) or detected deadlock (40P01).
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (23505), optionally restricted to the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
