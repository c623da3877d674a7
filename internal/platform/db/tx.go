package db

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const (
	// DefaultMaxRetries bounds how often a conflicting transaction is replayed.
	DefaultMaxRetries = 3
	defaultBaseDelay  = 20 * time.Millisecond
)

// TxManager runs closures inside RepeatableRead transactions and replays them
// on serialization failures and deadlocks.
type TxManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
	onRetry    func(attempt int, err error)
}

// Option customises a TxManager.
type Option func(*TxManager)

// WithMaxRetries sets the number of replays after the first attempt.
func WithMaxRetries(n int) Option {
	return func(m *TxManager) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

// WithRetryHook registers a callback invoked before each replay.
func WithRetryHook(fn func(attempt int, err error)) Option {
	return func(m *TxManager) { m.onRetry = fn }
}

// NewTxManager constructs a TxManager.
func NewTxManager(pool *pgxpool.Pool, opts ...Option) *TxManager {
	m := &TxManager{pool: pool, maxRetries: DefaultMaxRetries, baseDelay: defaultBaseDelay}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Pool exposes the underlying pool for non-transactional reads.
func (m *TxManager) Pool() *pgxpool.Pool {
	return m.pool
}

// WithTx executes fn in a transaction. Conflicts are replayed up to the
// configured bound and then surfaced as shared.ErrInternal; every other error
// is returned unchanged after rollback.
func (m *TxManager) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			if m.onRetry != nil {
				m.onRetry(attempt, lastErr)
			}
			if err := sleepBackoff(ctx, m.baseDelay, attempt); err != nil {
				return err
			}
		}
		lastErr = WithTx(ctx, m.pool, fn)
		if lastErr == nil || !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: transaction conflict after %d attempts: %v", shared.ErrInternal, m.maxRetries+1, lastErr)
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// IsRetryable reports serialization failures (40001) and deadlocks (40P01).
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// IsUniqueViolation reports unique constraint violations (23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	delay := base * time.Duration(1<<(attempt-1))
	delay += time.Duration(rand.Int64N(int64(base)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
