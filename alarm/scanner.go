package alarm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/kwalarm/alert"
	"github.com/hazyhaar/kwalarm/dom"
	"github.com/hazyhaar/kwalarm/fingerprint"
	"github.com/hazyhaar/kwalarm/highlight"
	"github.com/hazyhaar/kwalarm/idgen"
	"github.com/hazyhaar/kwalarm/phrase"
)

// Outcome is what a cycle did.
type Outcome int

const (
	// NoTarget: the resolver found nothing to scan.
	NoTarget Outcome = iota
	// Skipped: the target text is unchanged since the last cycle.
	Skipped
	// Cleared: the text changed and nothing matched.
	Cleared
	// Alerted: matches were highlighted and shown.
	Alerted
)

func (o Outcome) String() string {
	switch o {
	case NoTarget:
		return "no_target"
	case Skipped:
		return "skipped"
	case Cleared:
		return "cleared"
	case Alerted:
		return "alerted"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result reports one cycle.
type Result struct {
	Outcome  Outcome
	Target   *html.Node
	Reset    bool // the target changed and the navigation reset ran
	Markers  int
	Summary  *alert.Summary
	Duration time.Duration
}

// StyleAttr marks the style element injected for markers.
const StyleAttr = "data-kw-alarm-style"

// ScannerOptions configures a Scanner. Zero values select the defaults.
type ScannerOptions struct {
	Resolver  Resolver  // default Body
	Presenter Presenter // default: discard
	Beeper    Beeper
	Bell      bool // beep on every alerting cycle
	TopN      int  // default alert.DefaultTop
	Site      string
	IDs       idgen.Generator // default idgen.Scan
	Logger    *slog.Logger
	Now       func() time.Time
}

// Scanner runs scan cycles over one document. It keeps the previous target
// and fingerprint between cycles. It is not safe for concurrent use.
type Scanner struct {
	doc  *dom.Document
	opts ScannerOptions

	target  *html.Node
	fp      fingerprint.Fingerprint
	shown   bool
	rebased bool
	style   *html.Node
}

// NewScanner returns a Scanner over doc.
func NewScanner(doc *dom.Document, opts ScannerOptions) *Scanner {
	if opts.Resolver == nil {
		opts.Resolver = Body
	}
	if opts.Presenter == nil {
		opts.Presenter = nopPresenter{}
	}
	if opts.TopN <= 0 {
		opts.TopN = alert.DefaultTop
	}
	if opts.IDs == nil {
		opts.IDs = idgen.Scan
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scanner{doc: doc, opts: opts}
}

// Document returns the scanned document.
func (s *Scanner) Document() *dom.Document { return s.doc }

// Target returns the target of the last cycle, or nil.
func (s *Scanner) Target() *html.Node { return s.target }

// Invalidate forgets the fingerprint so the next cycle rescans.
func (s *Scanner) Invalidate() { s.fp = fingerprint.Fingerprint{} }

// ResetNavigation withdraws the alert, removes the markers of the previous
// target and forgets the fingerprint.
func (s *Scanner) ResetNavigation(ctx context.Context) {
	s.clear(ctx)
	if s.target != nil {
		highlight.Cleanup(s.doc, s.target)
	}
	s.Invalidate()
}

// Rebase tells the scanner its document tree was swapped for a fresh copy
// of the same page. The next target change keeps the alert up and skips
// the cleanup of the detached tree.
func (s *Scanner) Rebase() {
	s.rebased = true
	s.Invalidate()
}

// Cycle runs one scan with cfg.
func (s *Scanner) Cycle(ctx context.Context, cfg *Config) Result {
	start := s.opts.Now()
	res := s.cycle(ctx, cfg)
	res.Duration = s.opts.Now().Sub(start)
	return res
}

func (s *Scanner) cycle(ctx context.Context, cfg *Config) Result {
	target := s.opts.Resolver.Resolve(s.doc)
	var res Result
	if target != nil && target != s.target {
		if s.rebased {
			s.Invalidate()
		} else {
			s.ResetNavigation(ctx)
		}
		s.rebased = false
		s.target = target
		res.Reset = true
	}
	res.Target = target
	if target == nil {
		res.Outcome = NoTarget
		return res
	}

	text := strings.TrimSpace(dom.InnerText(target))
	fp := fingerprint.Of(text)
	if fp.Equal(s.fp) {
		res.Outcome = Skipped
		return res
	}
	s.fp = fp

	var p *phrase.Pattern
	if cfg != nil {
		p = cfg.Pattern
	}
	tally := phrase.Count(text, p)

	highlight.Cleanup(s.doc, target)
	s.ensureStyle()

	if tally.Empty() {
		s.clear(ctx)
		res.Outcome = Cleared
		return res
	}

	res.Markers = highlight.Highlight(s.doc, target, p)
	sum := alert.Summarize(tally, s.opts.TopN)
	sum.ScanID = s.opts.IDs()
	sum.URL = s.doc.URL()
	sum.Site = s.opts.Site
	sum.At = s.opts.Now().UTC()
	res.Summary = &sum
	res.Outcome = Alerted

	if err := s.opts.Presenter.Show(ctx, sum); err != nil {
		s.opts.Logger.Warn("alarm: show alert failed", "scan_id", sum.ScanID, "error", err)
	}
	s.shown = true
	if s.opts.Bell && s.opts.Beeper != nil {
		if err := s.opts.Beeper.Beep(); err != nil {
			s.opts.Logger.Debug("alarm: bell unavailable", "error", err)
		}
	}
	return res
}

func (s *Scanner) clear(ctx context.Context) {
	if !s.shown {
		return
	}
	s.shown = false
	if err := s.opts.Presenter.Clear(ctx); err != nil {
		s.opts.Logger.Warn("alarm: clear alert failed", "error", err)
	}
}

// ensureStyle adds the marker style sheet once per document tree.
func (s *Scanner) ensureStyle() {
	if s.style != nil && s.doc.Contains(s.style) {
		return
	}
	parent := s.doc.DocumentElement()
	if parent == nil {
		return
	}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Head {
			parent = c
			break
		}
	}
	style := &html.Node{
		Type:     html.ElementNode,
		Data:     "style",
		DataAtom: atom.Style,
		Attr:     []html.Attribute{{Key: StyleAttr, Val: "1"}},
	}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: highlight.StyleSheet})
	s.doc.AppendChild(parent, style)
	s.style = style
}
