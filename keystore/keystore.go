// Package keystore persists the user-editable keyword lists, one per site,
// in SQLite.
//
// A list is stored as a JSON array under the key "__keyword_alarm_list__:<site>".
// A site without a stored list uses DefaultKeywords. Every write bumps a
// store-wide revision so other processes can notice edits by polling
// MAX(revision) (see package watch).
package keystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hazyhaar/kwalarm/dbopen"
)

// Schema creates the keyword list table.
const Schema = `
CREATE TABLE IF NOT EXISTS keyword_lists (
	key        TEXT PRIMARY KEY,
	phrases    TEXT NOT NULL DEFAULT '',
	revision   INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Table and RevisionColumn name what watchers should poll.
const (
	Table          = "keyword_lists"
	RevisionColumn = "revision"
)

// KeyPrefix prefixes every storage key.
const KeyPrefix = "__keyword_alarm_list__:"

// ErrEmptyList is returned by Save when no phrase survives cleaning.
var ErrEmptyList = errors.New("keystore: keyword list cannot be empty")

var defaultKeywords = []string{
	"sponsorship", "sponsor", "visa", "citizen", "citizens",
	"citizenship", "clearance", "clearence", "top secret",
	"ts", "sci", "ts/sci", "ts sci", "polygraph", "export",
	"dod", "be authorized",
}

// DefaultKeywords returns a fresh copy of the built-in keyword list.
func DefaultKeywords() []string { return slices.Clone(defaultKeywords) }

// StorageKey returns the key a site's list is stored under.
func StorageKey(site string) string { return KeyPrefix + site }

// Clean trims every phrase and drops the blank ones. Order and duplicates
// are kept.
func Clean(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ParseLines splits editor input into phrases: one per line, CRLF or LF,
// trimmed, blank lines dropped.
func ParseLines(text string) []string {
	return Clean(strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n"))
}

// Store is the SQLite keyword store. It is safe for concurrent use.
type Store struct {
	db       *sql.DB
	defaults []string
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithDefaults replaces the list returned for sites without a stored list.
func WithDefaults(list []string) Option {
	return func(s *Store) {
		if c := Clean(list); len(c) > 0 {
			s.defaults = c
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New wraps db, which must already carry Schema.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, defaults: DefaultKeywords(), logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open opens (creating if needed) the database at path and applies Schema.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	return New(db, opts...), nil
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Load returns the stored list of site, or the defaults when none is stored
// or the stored value is unreadable.
func (s *Store) Load(ctx context.Context, site string) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT phrases FROM keyword_lists WHERE key = ?`, StorageKey(site)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && raw == "") {
		return slices.Clone(s.defaults), nil
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: load %s: %w", site, err)
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil || len(Clean(list)) == 0 {
		s.logger.Warn("keystore: stored list unreadable, using defaults", "site", site, "error", err)
		return slices.Clone(s.defaults), nil
	}
	return Clean(list), nil
}

// Stored reports whether site has a list of its own.
func (s *Store) Stored(ctx context.Context, site string) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT phrases FROM keyword_lists WHERE key = ?`, StorageKey(site)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("keystore: stored %s: %w", site, err)
	}
	return raw != "", nil
}

// Save stores list for site after cleaning it. Saving the list already
// stored is a no-op and does not bump the revision.
func (s *Store) Save(ctx context.Context, site string, list []string) error {
	list = Clean(list)
	if len(list) == 0 {
		return ErrEmptyList
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("keystore: encode: %w", err)
	}
	return s.put(ctx, site, string(data))
}

// Reset drops the stored list of site so Load returns the defaults again.
func (s *Store) Reset(ctx context.Context, site string) error {
	return s.put(ctx, site, "")
}

func (s *Store) put(ctx context.Context, site, phrases string) error {
	key := StorageKey(site)
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT phrases FROM keyword_lists WHERE key = ?`, key).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if phrases == "" {
				return nil
			}
		case err != nil:
			return err
		case current == phrases:
			return nil
		}

		var rev int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(revision), 0) + 1 FROM keyword_lists`).Scan(&rev); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO keyword_lists (key, phrases, revision, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				phrases = excluded.phrases,
				revision = excluded.revision,
				updated_at = excluded.updated_at`,
			key, phrases, rev, s.now().UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("keystore: save %s: %w", site, err)
	}
	return nil
}

// Revision returns the store-wide revision, 0 for an untouched store.
func (s *Store) Revision(ctx context.Context) (int64, error) {
	var rev int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(revision), 0) FROM keyword_lists`).Scan(&rev); err != nil {
		return 0, fmt.Errorf("keystore: revision: %w", err)
	}
	return rev, nil
}

// Entry describes one stored list.
type Entry struct {
	Site      string    `json:"site"`
	Keywords  []string  `json:"keywords"`
	Revision  int64     `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// List returns every site with a list of its own, by site name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, phrases, revision, updated_at FROM keyword_lists
		WHERE phrases != '' ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("keystore: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var key, raw string
		var e Entry
		var ms int64
		if err := rows.Scan(&key, &raw, &e.Revision, &ms); err != nil {
			return nil, fmt.Errorf("keystore: list: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &e.Keywords); err != nil {
			continue
		}
		e.Site = strings.TrimPrefix(key, KeyPrefix)
		e.UpdatedAt = time.UnixMilli(ms).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
