// Package store wraps the embedded sqlite database behind a bounded
// connection pool with per-statement deadlines, busy-retry and scoped
// IMMEDIATE transactions that nest transparently.
//
// The driver must be built with the sqlite_fts5 build tag; the schema
// depends on FTS5 virtual tables.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/standardbeagle/mjrindex/internal/mjrerr"
)

// Error is the class wrapping all store-level failures.
var Error = errs.Class("store")

const (
	driverName = "sqlite3_mjrindex"

	// Busy retry policy: exponential backoff with jitter.
	retryAttempts = 6
	retryBase     = 50 * time.Millisecond
	retryCap      = 750 * time.Millisecond
)

var registerOnce sync.Once

// Options configures the pool at Open time.
type Options struct {
	PoolSize         int
	StatementTimeout time.Duration
	BusyTimeout      time.Duration
	CacheSizeKB      int
}

func (o *Options) fill() {
	if o.PoolSize <= 0 {
		o.PoolSize = 8
	}
	if o.StatementTimeout <= 0 {
		o.StatementTimeout = 15 * time.Second
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 5 * time.Second
	}
	if o.CacheSizeKB <= 0 {
		o.CacheSizeKB = 64 * 1024
	}
}

// Store owns the sqlite connections. All access goes through Execute,
// Query, ExecuteMany, ExecuteScript or a transaction scope.
type Store struct {
	db   *sql.DB
	log  *zap.Logger
	opts Options

	// sem bounds concurrent pool statements to the pool size, so
	// callers block in Acquire (which observes cancellation) instead
	// of queueing unbounded inside database/sql. Transaction scopes
	// already hold a connection and bypass it.
	sem *semaphore.Weighted
}

// Open opens (creating if needed) the database at path.
func Open(path string, opts Options, log *zap.Logger) (*Store, error) {
	opts.fill()
	if log == nil {
		log = zap.NewNop()
	}

	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return applyPragmas(conn, opts)
			},
		})
	})

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		path, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	db.SetMaxOpenConns(opts.PoolSize)
	db.SetMaxIdleConns(opts.PoolSize)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:   db,
		log:  log,
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.PoolSize)),
	}
	if err := s.db.Ping(); err != nil {
		_ = db.Close()
		return nil, Error.Wrap(err)
	}
	return s, nil
}

// applyPragmas sets the fixed per-connection pragma set. Failures here
// poison the connection, so any error aborts the open.
func applyPragmas(conn *sqlite3.SQLiteConn, opts Options) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA cache_size=-%d", opts.CacheSizeKB),
		"PRAGMA temp_store=MEMORY",
		fmt.Sprintf("PRAGMA busy_timeout=%d", opts.BusyTimeout.Milliseconds()),
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p, nil); err != nil {
			return mjrerr.Wrap(mjrerr.CodePragmaFailed, err, "%s", p)
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return Error.Wrap(s.db.Close())
}

// Execute runs a single statement and returns the affected-row count
// and last insert id. Statements route through an active transaction
// scope on ctx when one exists.
func (s *Store) Execute(ctx context.Context, query string, args ...any) (lastID int64, affected int64, err error) {
	err = s.withRetry(ctx, query, func(ctx context.Context) error {
		res, execErr := s.execer(ctx).ExecContext(ctx, query, args...)
		if execErr != nil {
			return execErr
		}
		lastID, _ = res.LastInsertId()
		affected, _ = res.RowsAffected()
		return nil
	})
	return lastID, affected, err
}

// Query runs a read statement. The caller owns the returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := s.withRetry(ctx, query, func(ctx context.Context) error {
		var qErr error
		rows, qErr = s.execer(ctx).QueryContext(ctx, query, args...)
		return qErr
	})
	return rows, err
}

// QueryRow runs a read statement expected to yield at most one row.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.execer(ctx).QueryRowContext(s.statementContextNoCancel(ctx), query, args...)
}

// ExecuteMany runs one statement repeatedly for each argument tuple
// inside a single immediate transaction.
func (s *Store) ExecuteMany(ctx context.Context, query string, argBatch [][]any) (affected int64, err error) {
	err = s.WithTx(ctx, func(ctx context.Context) error {
		for _, args := range argBatch {
			_, n, execErr := s.Execute(ctx, query, args...)
			if execErr != nil {
				return execErr
			}
			affected += n
		}
		return nil
	})
	return affected, err
}

// ExecuteScript runs a multi-statement SQL script. Used for DDL only;
// statements are split on semicolons outside of quotes well enough for
// our own schema text.
func (s *Store) ExecuteScript(ctx context.Context, script string) error {
	for _, stmt := range splitScript(script) {
		if _, _, err := s.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// HasTable reports whether a table or virtual table exists.
func (s *Store) HasTable(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.QueryRow(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table','view') AND name = ?`,
		name).Scan(&n)
	if err != nil {
		return false, Error.Wrap(err)
	}
	return n > 0, nil
}

// Vacuum compacts the database file. Must run outside any transaction.
func (s *Store) Vacuum(ctx context.Context) error {
	if txFromContext(ctx) != nil {
		return mjrerr.New(mjrerr.CodeInvalidInput, "vacuum inside transaction")
	}
	_, _, err := s.Execute(ctx, "VACUUM")
	return err
}

// execer returns the active transaction on ctx, or the pool.
func (s *Store) execer(ctx context.Context) execContexter {
	if tx := txFromContext(ctx); tx != nil {
		return tx.tx
	}
	return s.db
}

type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withRetry applies the statement deadline and the busy-retry policy.
// Inside a transaction scope retries are skipped; a busy transaction
// must surface so the scope can roll back as a unit.
func (s *Store) withRetry(ctx context.Context, query string, fn func(context.Context) error) error {
	inTx := txFromContext(ctx) != nil

	if !inTx {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return mjrerr.Wrap(mjrerr.CodeTimeout, err, "statement queue")
		}
		defer s.sem.Release(1)
	}

	attempts := retryAttempts
	if inTx {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		stmtCtx, cancel := context.WithTimeout(ctx, s.opts.StatementTimeout)
		err := fn(stmtCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if stmtCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return mjrerr.Wrap(mjrerr.CodeTimeout, err, "statement exceeded %v", s.opts.StatementTimeout)
		}
		if ctx.Err() != nil {
			return mjrerr.Wrap(mjrerr.CodeTimeout, ctx.Err(), "caller cancelled")
		}
		if !isBusy(err) {
			break
		}

		delay := backoffDelay(attempt)
		s.log.Debug("store: busy, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.String("query", truncateQuery(query)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return mjrerr.Wrap(mjrerr.CodeTimeout, ctx.Err(), "caller cancelled during backoff")
		}
	}
	return mjrerr.Wrap(mjrerr.CodeDBError, lastErr, "statement failed")
}

// statementContextNoCancel applies the deadline only; QueryRow defers
// the error to Scan, so retry cannot wrap it.
func (s *Store) statementContextNoCancel(ctx context.Context) context.Context {
	// database/sql keeps the context alive until Scan for QueryRow, so
	// attaching a cancel here would close rows early. The deadline is
	// still enforced by sqlite's busy handler.
	return ctx
}

// isBusy reports whether the error is a transient lock error.
func isBusy(err error) bool {
	var se sqlite3.Error
	if errsAs(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

func errsAs(err error, target *sqlite3.Error) bool {
	for err != nil {
		if se, ok := err.(sqlite3.Error); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// backoffDelay computes the jittered exponential delay for an attempt.
func backoffDelay(attempt int) time.Duration {
	d := retryBase << attempt
	if d > retryCap {
		d = retryCap
	}
	// Jitter to half-to-full delay so retrying writers spread out.
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

// splitScript splits a DDL script into statements. Our schema text
// contains BEGIN...END trigger bodies, which must stay intact.
func splitScript(script string) []string {
	var stmts []string
	var current strings.Builder
	depth := 0
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		upper := strings.ToUpper(trimmed)
		if strings.HasSuffix(upper, "BEGIN") {
			depth++
		}
		if strings.HasPrefix(upper, "END;") || upper == "END;" {
			depth--
		}
		if depth == 0 && strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" {
				stmts = append(stmts, stmt)
			}
			current.Reset()
		}
	}
	if trailing := strings.TrimSpace(current.String()); trailing != "" {
		stmts = append(stmts, trailing)
	}
	return stmts
}

func truncateQuery(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if len(q) > 80 {
		return q[:80] + "..."
	}
	return q
}
