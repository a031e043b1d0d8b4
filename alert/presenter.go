package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Presenter displays the current alert. Show replaces whatever alert is
// shown; Clear removes it and is a no-op when nothing is shown.
type Presenter interface {
	Show(ctx context.Context, s Summary) error
	Clear(ctx context.Context) error
}

// ErrNoBell is returned by a Bell without an output.
var ErrNoBell = errors.New("alert: bell unsupported")

// Log reports alerts through slog.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a Log presenter. A nil logger means slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Show(ctx context.Context, s Summary) error {
	top := make([]any, 0, len(s.Top))
	for _, h := range s.Top {
		top = append(top, slog.Int(h.Phrase, h.Count))
	}
	l.logger.WarnContext(ctx, "alert: restricted terms found",
		"scan_id", s.ScanID,
		"url", s.URL,
		"total", s.Total,
		"distinct", s.Distinct,
		slog.Group("top", top...),
	)
	return nil
}

func (l *Log) Clear(ctx context.Context) error {
	l.logger.DebugContext(ctx, "alert: cleared")
	return nil
}

// Lines writes one JSON object per Show or Clear to an io.Writer.
type Lines struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLines returns a Lines presenter. A nil writer means os.Stdout.
func NewLines(w io.Writer) *Lines {
	if w == nil {
		w = os.Stdout
	}
	return &Lines{w: w}
}

func (l *Lines) Show(_ context.Context, s Summary) error {
	return l.write(envelope{Type: "show", Alert: &s})
}

func (l *Lines) Clear(_ context.Context) error {
	return l.write(envelope{Type: "clear"})
}

func (l *Lines) write(e envelope) error {
	b, err := e.marshal()
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("alert: lines: %w", err)
	}
	return nil
}

// Text prints the banner text to an io.Writer, for terminals. Clear prints
// nothing.
type Text struct {
	mu sync.Mutex
	w  io.Writer
}

// NewText returns a Text presenter. A nil writer means os.Stdout.
func NewText(w io.Writer) *Text {
	if w == nil {
		w = os.Stdout
	}
	return &Text{w: w}
}

func (t *Text) Show(_ context.Context, s Summary) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, "⚠ %s\n", s.Banner())
	return err
}

func (t *Text) Clear(context.Context) error { return nil }

// ShowFunc and ClearFunc are the callbacks of a Callback presenter.
type (
	ShowFunc  func(ctx context.Context, s Summary) error
	ClearFunc func(ctx context.Context) error
)

// Callback delivers alerts as Go function calls. Either function may be nil.
type Callback struct {
	onShow  ShowFunc
	onClear ClearFunc
}

// NewCallback returns a Callback presenter.
func NewCallback(onShow ShowFunc, onClear ClearFunc) *Callback {
	return &Callback{onShow: onShow, onClear: onClear}
}

func (c *Callback) Show(ctx context.Context, s Summary) error {
	if c.onShow != nil {
		return c.onShow(ctx, s)
	}
	return nil
}

func (c *Callback) Clear(ctx context.Context) error {
	if c.onClear != nil {
		return c.onClear(ctx)
	}
	return nil
}

// Router fans alerts out to several presenters. A failing presenter does
// not stop the others; the first error is returned.
type Router struct {
	presenters []Presenter
	logger     *slog.Logger
}

// NewRouter returns a Router over presenters.
func NewRouter(logger *slog.Logger, presenters ...Presenter) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{presenters: presenters, logger: logger}
}

func (r *Router) Show(ctx context.Context, s Summary) error {
	return r.each("show", func(p Presenter) error { return p.Show(ctx, s) })
}

func (r *Router) Clear(ctx context.Context) error {
	return r.each("clear", func(p Presenter) error { return p.Clear(ctx) })
}

func (r *Router) each(op string, fn func(Presenter) error) error {
	var first error
	for _, p := range r.presenters {
		if err := fn(p); err != nil {
			r.logger.Warn("alert: presenter failed", "op", op, "presenter", fmt.Sprintf("%T", p), "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Bell rings the terminal bell.
type Bell struct {
	mu sync.Mutex
	w  io.Writer
}

// NewBell returns a Bell writing to w, usually os.Stderr.
func NewBell(w io.Writer) *Bell { return &Bell{w: w} }

// Beep writes one BEL character.
func (b *Bell) Beep() error {
	if b == nil || b.w == nil {
		return ErrNoBell
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.w.Write([]byte{'\a'})
	return err
}
