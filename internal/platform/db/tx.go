package db

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

// DBTxKey is the context key under which an open transaction is stored.
// Repositories check it first so multi-record operations share one commit.
const DBTxKey contextKey = "db_tx"

// TxFromContext retrieves the transaction from context, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx returns a context carrying the given transaction.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// InTx runs fn inside a transaction stored on the derived context. The
// transaction is committed when fn returns nil and rolled back otherwise.
func InTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RetryOptions bounds InTxWithRetry's backoff behaviour.
type RetryOptions struct {
	Attempts    int
	BaseBackoff time.Duration
}

// DefaultRetryOptions matches the engine's contention policy: three attempts
// with exponential backoff starting at 25ms.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{Attempts: 3, BaseBackoff: 25 * time.Millisecond}
}

// InTxWithRetry runs fn inside a transaction, retrying on serialization and
// deadlock failures with jittered exponential backoff. Non-retryable errors
// and exhausted attempts are returned to the caller.
func InTxWithRetry(ctx context.Context, pool *pgxpool.Pool, opts RetryOptions, fn func(ctx context.Context) error) error {
	if opts.Attempts <= 0 {
		opts = DefaultRetryOptions()
	}

	var lastErr error
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		if attempt > 0 {
			backoff := opts.BaseBackoff << (attempt - 1)
			jitter := time.Duration(rand.Int63n(int64(backoff) + 1))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = InTx(ctx, pool, fn)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// IsRetryable reports whether the error is a transient contention failure
// that InTxWithRetry would have retried.
func IsRetryable(err error) bool {
	return retryable(err)
}

// Postgres class 40 (transaction rollback) codes: serialization failure and
// deadlock detected.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
