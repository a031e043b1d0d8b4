package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/kwalarm/browser"
	"github.com/hazyhaar/kwalarm/dom"
)

var watchHTTP bool

var watchCmd = &cobra.Command{
	Use:   "watch <url>",
	Short: "Scan a live Chrome tab as it changes",
	Long: "Watch opens the URL in headless Chrome, mirrors the rendered page and rescans it on\n" +
		"every load, navigation, scroll, resize and DOM change. Keyword edits made with\n" +
		"'kwalarm keywords set' while it runs are picked up from the store.",
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchHTTP, "http", false, "also serve the control surface on the configured address")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	l, err := newLive(ctx, e, dom.New(nil), args[0])
	if err != nil {
		return err
	}
	defer l.store.Close()

	mgr := browser.NewManager(e.cfg.BrowserManager(e.logger))
	defer mgr.Close()
	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	tab, err := browser.OpenTab(ctx, mgr, args[0])
	if err != nil {
		return err
	}
	defer tab.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.coord.Run(ctx) })
	g.Go(func() error {
		defer cancel()
		return browser.NewMirror(tab, l.coord, e.logger).Run(ctx, tab.Events())
	})
	g.Go(func() error {
		l.watchStore(ctx, e)
		return nil
	})
	if watchHTTP {
		g.Go(func() error { return l.serveHTTP(ctx, e, e.cfg.HTTP.Addr) })
	}
	return ignoreCanceled(g.Wait())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
