package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AdamBeresnev/bracket-engine/internal/apperror"
	"github.com/jmoiron/sqlx"
)

// TxFunc is a unit of work. It may run again on a transient failure, so every
// statement in it has to be safe to repeat: inserts guarded by a unique key,
// updates written as absolute assignments.
type TxFunc func(ctx context.Context, tx *sqlx.Tx) error

// InTx runs fn inside one transaction on a single connection. The transaction
// commits when fn returns nil and rolls back otherwise. Attempts default to at
// most two regardless of the configured maximum.
func (e *Executor) InTx(ctx context.Context, op string, fn TxFunc, opts ...CallOption) error {
	o := e.options(min(e.policy.MaxAttempts, maxTxAttempts), opts)
	return e.execute(ctx, op, o, func(ctx context.Context) error {
		return e.withConn(ctx, op, o, func(conn *sqlx.Conn) error {
			return runTx(ctx, op, conn, fn)
		})
	})
}

func runTx(ctx context.Context, op string, conn *sqlx.Conn, fn TxFunc) error {
	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			rollback(tx, op, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		rollback(tx, op, err)
		return err
	}

	if err := tx.Commit(); err != nil {
		return commitError(op, err)
	}
	return nil
}

// rollback never replaces cause, a failed rollback is only logged.
func rollback(tx *sqlx.Tx, op string, cause error) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Error("Rollback failed", "op", op, "error", err, "cause", cause)
	}
}

func commitError(op string, err error) error {
	appErr := asAppError(op, "", err)
	if appErr.Retryable() {
		return appErr
	}
	appErr.Kind = apperror.KindTransactionFailed
	return appErr
}
