package watch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/kwalarm/dbopen"
	"github.com/hazyhaar/kwalarm/keystore"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func userVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

func TestMaxColumn(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE "odd ""name""" (rev INTEGER)`))
	ctx := context.Background()
	det := MaxColumn(`odd "name"`, "rev")

	if v, err := det(ctx, db); err != nil || v != 0 {
		t.Fatalf("empty table: v=%d err=%v", v, err)
	}
	db.Exec(`INSERT INTO "odd ""name""" VALUES (41), (42)`)
	if v, _ := det(ctx, db); v != 42 {
		t.Errorf("MaxColumn = %d, want 42", v)
	}
}

func TestDataVersion(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if _, err := DataVersion(context.Background(), db); err != nil {
		t.Fatal(err)
	}
}

func TestOnChange_KeystoreEdits(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(keystore.Schema))
	store := keystore.New(db)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A list saved before the watcher starts is the baseline.
	store.Save(ctx, "indeed", []string{"visa"})

	var reloads atomic.Int32
	w := New(db, Options{
		Interval: 10 * time.Millisecond,
		Detector: MaxColumn(keystore.Table, keystore.RevisionColumn),
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.OnChange(ctx, func(context.Context) error {
			reloads.Add(1)
			return nil
		})
	}()
	waitFor(t, "first poll", func() bool { return w.Stats().Checks > 0 })
	if reloads.Load() != 0 {
		t.Fatal("baseline version triggered a reload")
	}

	store.Save(ctx, "indeed", []string{"visa", "dod"})
	waitFor(t, "reload", func() bool { return reloads.Load() == 1 })
	if w.Version() != 2 {
		t.Errorf("Version = %d, want 2", w.Version())
	}

	cancel()
	<-done
}

func TestOnChange_Debounce(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	w := New(db, Options{
		Interval: 10 * time.Millisecond,
		Debounce: 150 * time.Millisecond,
		Detector: userVersion,
	})
	go w.OnChange(ctx, func(context.Context) error {
		reloads.Add(1)
		return nil
	})
	waitFor(t, "first poll", func() bool { return w.Stats().Checks > 0 })

	for i := 1; i <= 4; i++ {
		db.Exec(fmt.Sprintf("PRAGMA user_version = %d", i))
		time.Sleep(20 * time.Millisecond)
	}
	if got := reloads.Load(); got != 0 {
		t.Fatalf("reloaded %d times inside the debounce window", got)
	}
	waitFor(t, "debounced reload", func() bool { return reloads.Load() == 1 })
	if w.Version() != 4 {
		t.Errorf("Version = %d, want 4", w.Version())
	}
	time.Sleep(50 * time.Millisecond)
	if got := reloads.Load(); got != 1 {
		t.Errorf("reloads = %d, want 1", got)
	}
}

func TestOnChange_FailureRetried(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	w := New(db, Options{Interval: 10 * time.Millisecond, Detector: userVersion})
	go w.OnChange(ctx, func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("store unavailable")
		}
		return nil
	})
	waitFor(t, "first poll", func() bool { return w.Stats().Checks > 0 })

	db.Exec("PRAGMA user_version = 7")
	waitFor(t, "retry", func() bool { return w.Version() == 7 })

	s := w.Stats()
	if calls.Load() != 2 || s.Errors != 1 || s.Reloads != 1 {
		t.Errorf("calls=%d stats=%+v", calls.Load(), s)
	}
}

func TestOnChange_StopsOnCancel(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	w := New(db, Options{Interval: 10 * time.Millisecond})
	done := make(chan struct{})
	go func() {
		w.OnChange(ctx, func(context.Context) error { return nil })
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnChange did not return after cancel")
	}
}
