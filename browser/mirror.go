package browser

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/kwalarm/alarm"
)

// Page is the live page a Mirror copies from. *Tab implements it.
type Page interface {
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
}

// Mirror keeps a Coordinator's document in step with a live page. It only
// reads from the page: markers exist in the mirrored copy, where reports
// and the control surface see them, and never in the browser.
type Mirror struct {
	page   Page
	coord  *alarm.Coordinator
	logger *slog.Logger
	last   [sha256.Size]byte
	synced bool
}

// NewMirror returns a Mirror from page into coord.
func NewMirror(page Page, coord *alarm.Coordinator, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{page: page, coord: coord, logger: logger}
}

// Sync copies the page's current DOM into the coordinator when it differs
// from the last copy. It reports whether a copy was made.
func (m *Mirror) Sync(ctx context.Context) (bool, error) {
	src, err := m.page.HTML(ctx)
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256([]byte(src))
	if m.synced && sum == m.last {
		return false, nil
	}
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return false, fmt.Errorf("browser: parse DOM: %w", err)
	}
	if err := m.coord.Replace(ctx, root); err != nil {
		return false, err
	}
	m.last, m.synced = sum, true
	return true, nil
}

// Run mirrors until events is closed or ctx ends. A navigate event reports
// the new URL before copying; every other event copies and is forwarded as
// the matching scan signal.
func (m *Mirror) Run(ctx context.Context, events <-chan Event) error {
	u, err := m.page.URL(ctx)
	if err != nil {
		return err
	}
	if err := m.coord.Navigate(ctx, u); err != nil {
		return err
	}
	if _, err := m.Sync(ctx); err != nil {
		return err
	}
	m.coord.Signal(alarm.SignalLoad)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := m.handle(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.logger.Warn("browser: mirror event failed", "kind", ev.Kind, "error", err)
			}
		}
	}
}

func (m *Mirror) handle(ctx context.Context, ev Event) error {
	sig, err := alarm.ParseSignal(ev.Kind)
	if err != nil {
		m.logger.Debug("browser: unknown event", "kind", ev.Kind)
		return nil
	}
	if sig == alarm.SignalNavigate && ev.URL != "" {
		if err := m.coord.Navigate(ctx, ev.URL); err != nil {
			return err
		}
	}
	changed, err := m.Sync(ctx)
	if err != nil {
		return err
	}
	// Navigate already scheduled its own scan.
	if sig != alarm.SignalNavigate {
		m.coord.Signal(sig)
	}
	m.logger.Debug("browser: event", "kind", ev.Kind, "copied", changed)
	return nil
}
