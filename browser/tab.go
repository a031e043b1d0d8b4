package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

//go:embed signals.js
var signalsJS string

// bindingName is the page global the signal script reports through.
const bindingName = "__kwalarm_signal"

// Event is one page event reported by the signal script.
type Event struct {
	Kind string `json:"kind"` // navigate, load, mutation, scroll, resize
	URL  string `json:"url"`
}

// Tab is a browser page with the signal script installed.
type Tab struct {
	page   *rod.Page
	mgr    *Manager
	hijack *rod.HijackRouter
	events chan Event
}

// OpenTab opens a tab, installs the signal script for this and every
// later document, and navigates to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	log := mgr.cfg.Logger

	var page *rod.Page
	var err error
	if mgr.cfg.NoStealth {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		page, err = stealth.Page(b)
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	page = page.Context(ctx)

	t := &Tab{
		page:   page,
		mgr:    mgr,
		events: make(chan Event, 64),
	}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.hijack = blockResources(page, mgr.cfg.ResourceBlocking)
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: add binding: %w", err)
	}
	if _, err := page.EvalOnNewDocument("(" + signalsJS + ")()"); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: install signal script: %w", err)
	}
	go t.listen(ctx)

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return t, nil
}

// listen forwards binding calls to the events channel until ctx ends.
// Events that find the channel full are dropped: the next one carries
// the same information.
func (t *Tab) listen(ctx context.Context) {
	defer close(t.events)
	log := t.mgr.cfg.Logger
	t.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var ev Event
		if err := json.Unmarshal([]byte(e.Payload), &ev); err != nil {
			log.Warn("browser: bad signal payload", "error", err)
			return
		}
		select {
		case t.events <- ev:
		default:
		}
	})()
}

// Events delivers page events. It is closed when the tab's context ends.
func (t *Tab) Events() <-chan Event { return t.events }

// HTML serialises the live document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	res, err := t.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// URL returns the page's current URL.
func (t *Tab) URL(ctx context.Context) (string, error) {
	res, err := t.page.Context(ctx).Eval(`() => location.href`)
	if err != nil {
		return "", fmt.Errorf("browser: get URL: %w", err)
	}
	return res.Value.Str(), nil
}

// Close closes the page.
func (t *Tab) Close() error {
	if t.hijack != nil {
		t.hijack.Stop()
	}
	return t.page.Close()
}
