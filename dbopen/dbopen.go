// Package dbopen opens the SQLite database that holds kwalarm's persistent
// state (the keyword lists) with a fixed set of pragmas:
//
//	journal_mode = WAL
//	busy_timeout = 5000
//	synchronous  = NORMAL
//	foreign_keys = ON
//
// The pure-Go modernc.org/sqlite driver is registered by this package, so
// callers need no blank import.
//
//	db, err := dbopen.Open("~/.local/state/kwalarm/kwalarm.db", dbopen.WithMkdirAll())
//
// Tests use an isolated in-memory database:
//
//	db := dbopen.OpenMemory(t, dbopen.WithSchema(keystore.Schema))
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// Driver is the database/sql driver name registered by modernc.org/sqlite.
const Driver = "sqlite"

type options struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
	schemas     []string
	ping        bool
}

// Option customises Open.
type Option func(*options)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds.
func WithBusyTimeout(ms int) Option { return func(o *options) { o.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous.
func WithSynchronous(mode string) Option { return func(o *options) { o.synchronous = mode } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(o *options) { o.mkdirAll = true } }

// WithSchema runs s once the pragmas are applied. Statements must be
// idempotent (CREATE ... IF NOT EXISTS).
func WithSchema(s string) Option { return func(o *options) { o.schemas = append(o.schemas, s) } }

// WithoutPing skips the connectivity check.
func WithoutPing() Option { return func(o *options) { o.ping = false } }

// Open opens the database at path. A leading "~/" expands to the home
// directory.
func Open(path string, opts ...Option) (*sql.DB, error) {
	o := options{busyTimeout: 5000, synchronous: "NORMAL", ping: true}
	for _, fn := range opts {
		fn(&o)
	}

	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	if o.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open(Driver, path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if err := setup(db, &o); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func setup(db *sql.DB, o *options) error {
	stmts := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", o.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", o.synchronous),
		"PRAGMA foreign_keys = ON",
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("dbopen: %s: %w", s, err)
		}
	}
	for _, s := range o.schemas {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("dbopen: schema: %w", err)
		}
	}
	if o.ping {
		if err := db.Ping(); err != nil {
			return fmt.Errorf("dbopen: ping: %w", err)
		}
	}
	return nil
}

// OpenMemory opens a private in-memory database for a test and closes it on
// cleanup. The pool is pinned to one connection: every new connection to
// ":memory:" would otherwise see an empty database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func expandHome(path string) (string, error) {
	if len(path) < 2 || path[:2] != "~/" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("dbopen: home dir: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
