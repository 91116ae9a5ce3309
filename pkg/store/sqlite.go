package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/rmax-ai/linkd/pkg/errs"
)

// Store manages the SQLite connection and schema.
//
// The same schema backs the graph store of the connections service and the
// notification store of the notifications service; each service opens its own
// database file.
type Store struct {
	db *sql.DB
}

// DefaultBusyTimeout is how long BEGIN waits for another writer unless
// WithBusyTimeout says otherwise.
const DefaultBusyTimeout = 2 * time.Second

type options struct {
	busyTimeout time.Duration
}

// Option tunes NewStore.
type Option func(*options)

// WithBusyTimeout bounds how long a transaction waits for the write lock.
// SQLite's busy handler does not observe context deadlines, so this is the
// real bound of one transaction attempt.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// NewStore initializes the SQLite database connection.
// It enables WAL mode for concurrency and durability. Transactions take the
// write lock on BEGIN so a validation read and the write that depends on it
// form one serializable unit.
func NewStore(dbPath string, opts ...Option) (*Store, error) {
	o := options{busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	busyMs := o.busyTimeout.Milliseconds()
	if busyMs < 1 {
		busyMs = 1
	}
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=%d&_foreign_keys=on", dbPath, busyMs)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the necessary tables if they don't exist.
func (s *Store) migrate() error {
	// Timestamps are unix nanoseconds so ordering is exact.
	query := `
	CREATE TABLE IF NOT EXISTS persons (
		user_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- Directed REQUESTED_TO edges. One pending request per ordered pair.
	CREATE TABLE IF NOT EXISTS request_edges (
		sender_id INTEGER NOT NULL REFERENCES persons(user_id),
		receiver_id INTEGER NOT NULL REFERENCES persons(user_id),
		created_at INTEGER NOT NULL,
		PRIMARY KEY (sender_id, receiver_id),
		CHECK (sender_id <> receiver_id)
	);
	CREATE INDEX IF NOT EXISTS idx_request_edges_receiver ON request_edges(receiver_id);

	-- Undirected CONNECTED_TO edges stored once per unordered pair (user_lo < user_hi).
	CREATE TABLE IF NOT EXISTS connection_edges (
		user_lo INTEGER NOT NULL REFERENCES persons(user_id),
		user_hi INTEGER NOT NULL REFERENCES persons(user_id),
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_lo, user_hi),
		CHECK (user_lo < user_hi)
	);
	CREATE INDEX IF NOT EXISTS idx_connection_edges_hi ON connection_edges(user_hi);

	CREATE TABLE IF NOT EXISTS outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		event JSON NOT NULL,
		created_at INTEGER NOT NULL,
		published_at INTEGER,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox(published_at, id);

	CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		message TEXT NOT NULL,
		event_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (event_id, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications(user_id, created_at DESC, id DESC);

	-- Messages a consumer group could never handle. One row per (event, group).
	CREATE TABLE IF NOT EXISTS dead_letters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		consumer_group TEXT NOT NULL,
		event JSON NOT NULL,
		error TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (event_id, consumer_group)
	);

	-- Relay leadership. epoch grows on every change of holder.
	CREATE TABLE IF NOT EXISTS leases (
		name TEXT PRIMARY KEY,
		holder_id TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		version INTEGER NOT NULL,
		epoch INTEGER NOT NULL DEFAULT 1
	);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// InTx runs fn inside one immediate transaction. fn's error aborts the
// transaction and is returned unchanged.
func (s *Store) InTx(ctx context.Context, fn func(g *Graph) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("store.begin", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(&Graph{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("store.commit", err)
	}
	return nil
}

// classify maps driver errors onto error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return errs.Wrap(errs.KindConflict, op, err)
		case sqlite3.ErrConstraintForeignKey:
			return errs.Wrap(errs.KindNotFound, op, err)
		case sqlite3.ErrConstraintCheck:
			return errs.Wrap(errs.KindBadRequest, op, err)
		}
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrInterrupt:
			return errs.Wrap(errs.KindTimeout, op, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindTimeout, op, err)
	}
	return errs.Wrap(errs.KindInternal, op, err)
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
