package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Attempts is how many times a busy statement is tried before giving up.
const Attempts = 3

// IsBusy reports whether err is SQLite refusing work because another
// connection holds a lock.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"SQLITE_BUSY", "database is locked", "database table is locked"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// retry runs fn until it succeeds, fails with a non-busy error, or Attempts
// is reached. The back-off grows linearly from 50ms.
func retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 1; i <= Attempts; i++ {
		if err = fn(); err == nil || !IsBusy(err) {
			return err
		}
		if i == Attempts {
			break
		}
		t := time.NewTimer(time.Duration(i) * 50 * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("dbopen: %s: %w", op, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("dbopen: %s: still busy after %d attempts: %w", op, Attempts, err)
}

// Exec runs one statement, retrying while the database is busy.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retry(ctx, "exec", func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// RunTx runs fn in a transaction, retrying the whole transaction while the
// database is busy. fn may run more than once.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return retry(ctx, "tx", func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
