package store

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/mjrerr"
)

// TxMode selects the sqlite transaction mode.
type TxMode string

const (
	TxDeferred  TxMode = "DEFERRED"
	TxImmediate TxMode = "IMMEDIATE"
	TxExclusive TxMode = "EXCLUSIVE"
)

// scopedTx pins a single connection for the duration of a transaction
// scope. It travels on the context so nested store calls route through
// the same connection without opening a new transaction.
type scopedTx struct {
	tx *sql.Conn
}

type txContextKey struct{}

func txFromContext(ctx context.Context) *scopedTx {
	tx, _ := ctx.Value(txContextKey{}).(*scopedTx)
	return tx
}

// WithTx runs fn inside an IMMEDIATE transaction. See WithTxMode.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.WithTxMode(ctx, TxImmediate, fn)
}

// WithTxMode runs fn inside a transaction of the given mode. If ctx
// already carries a transaction scope the call nests: fn runs on the
// outer connection and no new transaction is opened. Commit or rollback
// is guaranteed on every exit path, including panics in fn.
func (s *Store) WithTxMode(ctx context.Context, mode TxMode, fn func(ctx context.Context) error) (err error) {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return mjrerr.Wrap(mjrerr.CodeDBError, err, "acquire connection")
	}
	defer func() { _ = conn.Close() }()

	if err := s.beginWithRetry(ctx, conn, mode); err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, txContextKey{}, &scopedTx{tx: conn})

	committed := false
	defer func() {
		if committed {
			return
		}
		// Rollback on error or panic. A failed rollback usually means
		// the transaction already aborted; log and move on.
		rbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, rbErr := conn.ExecContext(rbCtx, "ROLLBACK"); rbErr != nil {
			s.log.Debug("store: rollback failed", zap.Error(rbErr))
		}
	}()

	if err = fn(txCtx); err != nil {
		return err
	}

	if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
		return mjrerr.Wrap(mjrerr.CodeDBError, err, "commit")
	}
	committed = true
	return nil
}

// beginWithRetry opens the transaction, retrying BEGIN on busy errors.
// IMMEDIATE is the default everywhere to take the write lock up front
// and avoid deferred-upgrade deadlocks.
func (s *Store) beginWithRetry(ctx context.Context, conn *sql.Conn, mode TxMode) error {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		_, err := conn.ExecContext(ctx, "BEGIN "+string(mode))
		if err == nil {
			return nil
		}
		lastErr = err
		if !isBusy(err) {
			break
		}
		select {
		case <-time.After(backoffDelay(attempt)):
		case <-ctx.Done():
			return mjrerr.Wrap(mjrerr.CodeTimeout, ctx.Err(), "cancelled waiting for write lock")
		}
	}
	return mjrerr.Wrap(mjrerr.CodeDBError, lastErr, "begin %s", mode)
}
