package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookshop-orders/internal/domain/checkout"
)

const setTimeoutsSQL = `SELECT set_config('statement_timeout', $1, true), set_config('lock_timeout', $2, true)`

// SQLSTATE codes that indicate a retryable failure.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

var _ checkout.UnitOfWork = (*UnitOfWork)(nil)

// UnitOfWorkConfig bounds every transaction.
type UnitOfWorkConfig struct {
	// TxTimeout caps the whole transaction and its statements.
	TxTimeout time.Duration
	// LockTimeout caps waiting for a single row lock.
	LockTimeout time.Duration
	// Events enables writing domain events to the outbox table.
	Events bool
}

// UnitOfWork runs checkout work in READ COMMITTED transactions with bounded
// statement and lock timeouts.
type UnitOfWork struct {
	pool *pgxpool.Pool
	cfg  UnitOfWorkConfig
}

// NewUnitOfWork returns a UnitOfWork over pool.
func NewUnitOfWork(pool *pgxpool.Pool, cfg UnitOfWorkConfig) *UnitOfWork {
	return &UnitOfWork{pool: pool, cfg: cfg}
}

// Do begins a transaction, binds the repositories to it and runs fn.
// Errors caused by contention or timeouts are marked with checkout.ErrTransient.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, r checkout.Repos) error) error {
	if u.cfg.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.TxTimeout)
		defer cancel()
	}

	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("beginning transaction: %w", err))
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if u.cfg.TxTimeout > 0 || u.cfg.LockTimeout > 0 {
		if _, err := tx.Exec(ctx, setTimeoutsSQL, millis(u.cfg.TxTimeout), millis(u.cfg.LockTimeout)); err != nil {
			return classify(fmt.Errorf("setting transaction timeouts: %w", err))
		}
	}

	if err := fn(ctx, u.repos(tx)); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

func (u *UnitOfWork) repos(tx pgx.Tx) checkout.Repos {
	r := checkout.Repos{
		Books:    NewBookRepository(tx),
		Carts:    NewCartRepository(tx),
		Orders:   NewOrderRepository(tx),
		Payments: NewPaymentRepository(tx),
	}
	if u.cfg.Events {
		r.Events = NewOutboxRepository(tx)
	}
	return r
}

// millis renders d for set_config; zero disables the timeout.
func millis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

// transientError marks err as retryable without hiding the cause.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

func (e *transientError) Is(target error) bool { return target == checkout.ErrTransient }

func classify(err error) error {
	if err == nil || errors.Is(err, checkout.ErrTransient) {
		return err
	}
	if IsTransient(err) {
		return &transientError{err: err}
	}
	return err
}

// IsTransient reports whether err is a lock, serialization or timeout
// failure after which the whole transaction can be retried.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
			return true
		}
	}
	return errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err)
}
