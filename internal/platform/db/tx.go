package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE codes the engine reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// ParseIsolation maps a config value to a pgx isolation level.
func ParseIsolation(s string) (pgx.TxIsoLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "read_committed":
		return pgx.ReadCommitted, nil
	case "repeatable_read":
		return pgx.RepeatableRead, nil
	case "serializable":
		return pgx.Serializable, nil
	}
	return "", fmt.Errorf("unknown transaction isolation %q", s)
}

type beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxRunner runs units of work inside a single database transaction.
type TxRunner struct {
	pool *pgxpool.Pool
	iso  pgx.TxIsoLevel
}

func NewTxRunner(pool *pgxpool.Pool, iso pgx.TxIsoLevel) *TxRunner {
	return &TxRunner{pool: pool, iso: iso}
}

// InTx calls fn with a context carrying an open transaction. The transaction
// commits when fn returns nil and rolls back otherwise. A transaction already
// present in ctx is joined rather than nested.
func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var b beginner = r.pool
	if conn := ConnFromContext(ctx); conn != nil {
		b = conn
	}

	tx, err := b.BeginTx(ctx, pgx.TxOptions{IsoLevel: r.iso})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Rollback must still reach the server after ctx hits its deadline.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(context.WithValue(ctx, DBTxKey, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsTransient reports whether err is a failure the caller may retry as a
// whole: serialization failures, deadlocks, lock timeouts, lost connections
// and expired deadlines.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return true
		}
		// Class 08: connection exception.
		return strings.HasPrefix(pgErr.Code, "08")
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

// IsUniqueViolation reports whether err is a unique constraint violation. A
// non-empty constraint narrows the match to that constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
