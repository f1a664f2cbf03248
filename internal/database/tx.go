package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so read helpers can run
// inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type TxOptions struct {
	IsolationLevel sql.IsolationLevel
	ReadOnly       bool
	MaxRetries     int
	InitialBackoff time.Duration
	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, err error)
}

func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		ReadOnly:       false,
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
	}
}

// SerializableTxOptions is used for every stock-affecting unit of work.
// Read committed lets two approvals pass the same quantity check.
func SerializableTxOptions() TxOptions {
	opts := DefaultTxOptions()
	opts.IsolationLevel = sql.LevelSerializable
	opts.MaxRetries = 5
	return opts
}

func WithTransaction(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	_, err := runOnce(ctx, db, opts, fn)
	return err
}

// WithRetry runs fn in a fresh transaction until it commits, fails with a
// permanent error, or exhausts opts.MaxRetries.
func WithRetry(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = 50 * time.Millisecond
	}
	b.RandomizationFactor = 0.25
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(opts.MaxRetries)), ctx)

	var (
		stage     txStage
		permanent bool
		attempt   int
	)
	err := backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			permanent = true
			return backoff.Permanent(err)
		}

		var err error
		stage, err = runOnce(ctx, db, opts, fn)
		if err != nil && (stage == stageBegin || ClassifyError(err) == ErrorClassPermanent) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, _ time.Duration) {
		attempt++
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}
	})

	if err != nil && !permanent && ctx.Err() == nil {
		return fmt.Errorf("%w: max retries (%d) exceeded%s: %w", ErrRetriesExhausted, opts.MaxRetries, stage, err)
	}
	return err
}

type txStage string

const (
	stageBegin  txStage = " on begin"
	stageBody   txStage = ""
	stageCommit txStage = " on commit"
)

func runOnce(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) (txStage, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{
		Isolation: opts.IsolationLevel,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return stageBegin, fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return stageBody, fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return stageBody, err
	}

	if err := tx.Commit(); err != nil {
		return stageCommit, fmt.Errorf("commit transaction: %w", err)
	}

	return stageBody, nil
}
