package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hazyhaar/kwalarm/alarm"
	"github.com/hazyhaar/kwalarm/alert"
	"github.com/hazyhaar/kwalarm/dom"
	"github.com/hazyhaar/kwalarm/keystore"
	"github.com/hazyhaar/kwalarm/server"
	"github.com/hazyhaar/kwalarm/watch"
)

// live is a running coordinator with its keyword store.
type live struct {
	coord *alarm.Coordinator
	store *keystore.Store
	site  string
}

// newLive opens the store, loads the keyword list of the page's site and
// builds a coordinator over doc.
func newLive(ctx context.Context, e *env, doc *dom.Document, pageURL string) (*live, error) {
	res, err := e.cfg.Resolver()
	if err != nil {
		return nil, err
	}
	delays, err := e.cfg.AlarmDelays()
	if err != nil {
		return nil, err
	}
	store, err := e.openStore()
	if err != nil {
		return nil, err
	}
	site := res.Detect(pageURL)
	list, err := store.Load(ctx, site)
	if err != nil {
		store.Close()
		return nil, err
	}
	cfg, err := alarm.NewConfig(list, 1)
	if err != nil {
		store.Close()
		return nil, err
	}

	opts := alarm.Options{
		ScannerOptions: alarm.ScannerOptions{
			Resolver:  res,
			Presenter: e.cfg.Presenter(e.logger, os.Stdout),
			TopN:      e.cfg.Alert.TopN,
			Site:      site,
			Logger:    e.logger,
		},
		Store:  store,
		Delays: delays,
	}
	if e.cfg.Alert.Bell {
		opts.Bell, opts.Beeper = true, alert.NewBell(os.Stderr)
	}
	e.logger.Info("kwalarm: keywords loaded", "site", site, "count", len(cfg.Keywords))
	return &live{coord: alarm.New(doc, cfg, opts), store: store, site: site}, nil
}

// watchStore applies keyword edits made by other processes.
func (l *live) watchStore(ctx context.Context, e *env) {
	w := watch.New(l.store.DB(), watch.Options{
		Interval: e.cfg.Store.WatchInterval,
		Debounce: e.cfg.Store.WatchDebounce,
		Detector: watch.MaxColumn(keystore.Table, keystore.RevisionColumn),
		Logger:   e.logger,
	})
	w.OnChange(ctx, l.coord.Reload)
}

// serveHTTP runs the control surface on addr until ctx ends.
func (l *live) serveHTTP(ctx context.Context, e *env, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(l.coord, server.WithLogger(e.logger)).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown(srv, e.logger, shutdownTimeout)
	}()
	e.logger.Info("kwalarm: control surface listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdownTimeout bounds how long in-flight requests may finish on exit.
const shutdownTimeout = 5 * time.Second

func shutdown(srv *http.Server, logger *slog.Logger, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("kwalarm: control surface shutdown", "addr", srv.Addr, "error", err)
	}
}
