package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/kwalarm/alarm"
	"github.com/hazyhaar/kwalarm/dom"
	"github.com/hazyhaar/kwalarm/server"
)

var (
	serveAddr  string
	serveStdio bool
)

var serveCmd = &cobra.Command{
	Use:   "serve [file|url]",
	Short: "Serve the HTTP and MCP control surface over one page",
	Long: "Serve loads the page, if given, scans it and exposes the scanner: status, keyword\n" +
		"edits, rescan, reset, navigation and reports over HTTP, with the same operations as\n" +
		"MCP tools under /mcp or, with --stdio, on standard input and output.",
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "serve MCP on stdin/stdout instead of HTTP")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	doc, pageURL := dom.New(nil), ""
	if len(args) == 1 {
		if doc, err = loadDocument(ctx, e, args[0]); err != nil {
			return err
		}
		pageURL = doc.URL()
	}

	l, err := newLive(ctx, e, doc, pageURL)
	if err != nil {
		return err
	}
	defer l.store.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.coord.Run(ctx) })
	g.Go(func() error {
		l.watchStore(ctx, e)
		return nil
	})
	l.coord.Signal(alarm.SignalLoad)

	if serveStdio {
		g.Go(func() error {
			defer cancel()
			return server.New(l.coord, server.WithLogger(e.logger)).ServeStdio(ctx)
		})
	} else {
		addr := serveAddr
		if addr == "" {
			addr = e.cfg.HTTP.Addr
		}
		g.Go(func() error { return l.serveHTTP(ctx, e, addr) })
	}
	return ignoreCanceled(g.Wait())
}
