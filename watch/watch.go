// Package watch polls a SQLite database for a version change and runs a
// reload action once the change has settled. kwalarm uses it to pick up
// keyword lists edited by another process (`kwalarm keywords set` while a
// watcher is running).
//
//	w := watch.New(store.DB(), watch.Options{Detector: watch.MaxColumn(keystore.Table, keystore.RevisionColumn)})
//	go w.OnChange(ctx, func(ctx context.Context) error { return coord.Reload(ctx) })
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Detector reads a version token. Two different tokens mean something
// changed in between.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes a Watcher.
type Options struct {
	// Interval between polls. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period a new version must survive before the
	// action runs. Zero fires on the poll that saw the change.
	Debounce time.Duration
	// Detector defaults to DataVersion.
	Detector Detector
	Logger   *slog.Logger
}

// Stats are point-in-time counters.
type Stats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Reloads int64 `json:"reloads"`
	Errors  int64 `json:"errors"`
}

// Watcher runs one poll loop per OnChange call.
type Watcher struct {
	db   *sql.DB
	opts Options

	version atomic.Int64
	checks  atomic.Int64
	changes atomic.Int64
	reloads atomic.Int64
	errors  atomic.Int64
}

// New returns a Watcher over db.
func New(db *sql.DB, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Detector == nil {
		opts.Detector = DataVersion
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{db: db, opts: opts}
}

// Version returns the last version the action ran successfully for, or the
// version seen at start.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Stats returns the counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:  w.checks.Load(),
		Changes: w.changes.Load(),
		Reloads: w.reloads.Load(),
		Errors:  w.errors.Load(),
	}
}

// OnChange blocks until ctx is done. The version present at start is the
// baseline and does not trigger action. When action fails the version is
// not advanced, so the next poll tries again.
func (w *Watcher) OnChange(ctx context.Context, action func(context.Context) error) {
	log := w.opts.Logger
	if v, err := w.opts.Detector(ctx, w.db); err != nil {
		log.Warn("watch: initial version check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var (
		settle  *time.Timer
		settleC <-chan time.Time
		pending int64 = -1
	)
	stopSettle := func() {
		if settle != nil {
			settle.Stop()
		}
		settleC = nil
	}
	defer stopSettle()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.errors.Add(1)
				log.Warn("watch: version check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || cur == pending {
				if cur == w.version.Load() {
					pending = -1
					stopSettle()
				}
				continue
			}
			w.changes.Add(1)
			pending = cur
			if w.opts.Debounce <= 0 {
				w.fire(ctx, action, cur)
				pending = -1
				continue
			}
			stopSettle()
			settle = time.NewTimer(w.opts.Debounce)
			settleC = settle.C
			log.Debug("watch: change detected", "version", cur)

		case <-settleC:
			settleC = nil
			if pending >= 0 {
				w.fire(ctx, action, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) fire(ctx context.Context, action func(context.Context) error, v int64) {
	start := time.Now()
	if err := action(ctx); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("watch: reload failed", "version", v, "error", err)
		return
	}
	w.reloads.Add(1)
	w.version.Store(v)
	w.opts.Logger.Info("watch: reloaded", "version", v, "duration", time.Since(start))
}

// DataVersion reads PRAGMA data_version, which moves when another connection
// commits to the same database file.
func DataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// MaxColumn returns a Detector reading MAX(column) of table. Identifiers are
// quoted.
func MaxColumn(table, column string) Detector {
	q := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, q).Scan(&v)
		return v, err
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
