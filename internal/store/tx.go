package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const (
	txMaxAttempts = 3
	txBaseDelay   = 50 * time.Millisecond
)

// withTx runs fn inside a single transaction. The transaction commits only
// if fn returns nil; any error or panic rolls it back. Lock conflicts are
// retried with exponential backoff: 50ms, 100ms.
func withTx(ctx context.Context, db *sql.DB, logger *slog.Logger, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < txMaxAttempts; attempt++ {
		err = runTx(ctx, db, fn)
		if err == nil || !IsConflictError(err) || attempt == txMaxAttempts-1 {
			break
		}
		delay := txBaseDelay * time.Duration(1<<attempt)
		logger.Debug("transaction conflict, retrying", "attempt", attempt+1, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func runTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
