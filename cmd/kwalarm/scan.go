package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/kwalarm/alarm"
	"github.com/hazyhaar/kwalarm/alert"
	"github.com/hazyhaar/kwalarm/dom"
	"github.com/hazyhaar/kwalarm/fetch"
	"github.com/hazyhaar/kwalarm/report"
)

var (
	scanFormat      string
	scanKeywords    []string
	scanFailOnMatch bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <file|url>",
	Short: "Scan a saved page or a fetched URL once",
	Long: "Scan resolves the posting's description, counts the keyword phrases it contains and\n" +
		"prints the alert banner (text), the full report (json), or the highlighted content\n" +
		"(markdown, html). Keywords come from --keywords or the keyword store.",
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanFormat, "format", "text", "output format: text, json, markdown or html")
	scanCmd.Flags().StringArrayVar(&scanKeywords, "keywords", nil, "phrase to flag instead of the stored list (repeatable)")
	scanCmd.Flags().BoolVar(&scanFailOnMatch, "fail-on-match", false, "exit with status 3 when terms are found")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	switch scanFormat {
	case "text", "json", "markdown", "html":
	default:
		return fmt.Errorf("unknown format %q", scanFormat)
	}
	e, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	doc, err := loadDocument(ctx, e, args[0])
	if err != nil {
		return err
	}
	res, err := e.cfg.Resolver()
	if err != nil {
		return err
	}
	site := res.Detect(doc.URL())

	list := scanKeywords
	if len(list) == 0 {
		store, err := e.openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		if list, err = store.Load(ctx, site); err != nil {
			return err
		}
	}
	cfg, err := alarm.NewConfig(list, 1)
	if err != nil {
		return err
	}

	opts := alarm.ScannerOptions{
		Resolver: res,
		TopN:     e.cfg.Alert.TopN,
		Site:     site,
		Logger:   e.logger,
	}
	if scanFormat == "text" {
		opts.Presenter = alert.NewText(out)
	}
	if e.cfg.Alert.Bell {
		opts.Bell, opts.Beeper = true, alert.NewBell(os.Stderr)
	}
	result := alarm.NewScanner(doc, opts).Cycle(ctx, cfg)
	if result.Outcome == alarm.NoTarget {
		return errors.New("no scan target in page")
	}

	if err := writeScan(out, doc, result, scanFormat); err != nil {
		return err
	}
	if scanFailOnMatch && result.Outcome == alarm.Alerted {
		return errMatched
	}
	return nil
}

func writeScan(out io.Writer, doc *dom.Document, res alarm.Result, format string) error {
	if format == "text" {
		if res.Outcome != alarm.Alerted {
			fmt.Fprintln(out, "No restricted terms found.")
		}
		return nil
	}
	rep, err := report.NewExporter().Build(res.Target, doc.URL(), res.Summary)
	if err != nil {
		return err
	}
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "markdown":
		_, err = fmt.Fprintln(out, rep.Markdown)
		return err
	case "html":
		page, err := report.Page(rep, time.Now())
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, page)
		return err
	}
	return fmt.Errorf("unknown format %q", format)
}

// loadDocument fetches src when it is an http(s) URL and reads it as a file
// otherwise.
func loadDocument(ctx context.Context, e *env, src string) (*dom.Document, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return fetch.ReadFile(src)
	}
	p, err := fetch.New(fetch.WithLogger(e.logger)).Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	if p.Truncated {
		e.logger.Warn("scan: page truncated", "url", p.URL, "limit", fetch.MaxBody)
	}
	if !fetch.Sufficient(p.Doc) {
		e.logger.Warn("scan: page looks script-rendered, the watch command may see more", "url", p.URL)
	}
	return p.Doc, nil
}
