package alarm

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/kwalarm/alert"
	"github.com/hazyhaar/kwalarm/dom"
)

// signalBuffer bounds queued signals. A full buffer drops new signals: any
// queued signal already guarantees a later cycle.
const signalBuffer = 256

// Options configures a Coordinator.
type Options struct {
	ScannerOptions

	// Store persists keyword edits; nil keeps them in memory only.
	Store KeywordStore
	// Delays overrides DefaultDelays entry by entry.
	Delays Delays
	// OnCycle, if set, observes every cycle on the loop goroutine.
	OnCycle func(Result)
}

// Status is a point-in-time view of a Coordinator.
type Status struct {
	State         State          `json:"-"`
	StateName     string         `json:"state"`
	URL           string         `json:"url,omitempty"`
	Site          string         `json:"site,omitempty"`
	Keywords      []string       `json:"keywords"`
	ConfigVersion int64          `json:"config_version"`
	Cycles        int64          `json:"cycles"`
	Scans         int64          `json:"scans"`
	Skips         int64          `json:"skips"`
	Alerts        int64          `json:"alerts"`
	Dropped       int64          `json:"dropped_signals"`
	LastOutcome   string         `json:"last_outcome,omitempty"`
	LastCycle     time.Time      `json:"last_cycle,omitzero"`
	Alert         *alert.Summary `json:"alert,omitempty"`
}

// command runs on the loop. A true second result schedules the returned
// signal afterwards.
type command struct {
	fn   func(ctx context.Context) (Signal, bool)
	done chan struct{}
}

// Coordinator schedules scan cycles over one document. Signals and
// commands may come from any goroutine; cycles, commands and document
// writes all run on the goroutine executing Run. Alerts reach the
// presenter from a separate delivery goroutine, in order.
type Coordinator struct {
	scanner *Scanner
	alerts  *alert.Async
	store   KeywordStore
	delays  Delays
	onCycle func(Result)
	logger  *slog.Logger
	site    string

	cfg     atomic.Pointer[Config]
	signals chan Signal
	cmds    chan command
	running atomic.Bool
	stopped chan struct{}
	stopMu  sync.Once
	dropped atomic.Int64

	// loop-owned
	pending Signal
	url     string

	mu     sync.Mutex
	status Status
}

// New returns a Coordinator over doc with the initial configuration cfg.
// Call Run to start it.
func New(doc *dom.Document, cfg *Config, opts Options) *Coordinator {
	delays := DefaultDelays()
	for k, v := range opts.Delays {
		delays[k] = v
	}
	var alerts *alert.Async
	if opts.Presenter != nil {
		alerts = alert.NewAsync(opts.Presenter, opts.Logger)
		opts.Presenter = alerts
	}
	sc := NewScanner(doc, opts.ScannerOptions)
	c := &Coordinator{
		scanner: sc,
		alerts:  alerts,
		store:   opts.Store,
		delays:  delays,
		onCycle: opts.OnCycle,
		logger:  sc.opts.Logger,
		site:    opts.Site,
		signals: make(chan Signal, signalBuffer),
		cmds:    make(chan command),
		stopped: make(chan struct{}),
		url:     doc.URL(),
	}
	c.cfg.Store(cfg)
	c.status = Status{State: Idle, StateName: Idle.String(), URL: c.url, Site: c.site}
	if cfg != nil {
		c.status.Keywords = slices.Clone(cfg.Keywords)
		c.status.ConfigVersion = cfg.Version
	}
	return c
}

// Config returns the active configuration.
func (c *Coordinator) Config() *Config { return c.cfg.Load() }

// Signal requests a scan after the signal's delay. It never blocks.
func (c *Coordinator) Signal(s Signal) {
	select {
	case c.signals <- s:
	default:
		c.dropped.Add(1)
	}
}

// Run executes the loop until ctx is done. It must be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		panic("alarm: Coordinator.Run called twice")
	}
	defer c.stopMu.Do(func() { close(c.stopped) })

	if c.alerts != nil {
		delivered := make(chan struct{})
		go func() {
			defer close(delivered)
			c.alerts.Run(ctx)
		}()
		defer func() { <-delivered }()
	}

	cancelObs := c.scanner.doc.Observe(func(dom.Mutation) { c.Signal(SignalMutation) })
	defer cancelObs()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	var fire <-chan time.Time

	schedule := func(s Signal) {
		timer.Stop()
		timer.Reset(c.delays.Of(s))
		fire = timer.C
		c.pending = s
		c.setState(Pending)
	}

	c.logger.Info("alarm: coordinator started", "url", c.url, "site", c.site)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("alarm: coordinator stopped")
			return nil

		case s := <-c.signals:
			schedule(s)

		case cmd := <-c.cmds:
			sig, ok := cmd.fn(ctx)
			close(cmd.done)
			if ok {
				schedule(sig)
			}

		case <-fire:
			fire = nil
			c.setState(Scanning)
			res := c.scanner.Cycle(ctx, c.cfg.Load())
			c.record(res)
			c.setState(Idle)
			c.logger.Debug("alarm: cycle", "trigger", c.pending, "outcome", res.Outcome, "markers", res.Markers, "reset", res.Reset, "duration", res.Duration)
			if c.onCycle != nil {
				c.onCycle(res)
			}
		}
	}
}

// do runs fn on the loop and waits for it.
func (c *Coordinator) do(ctx context.Context, fn func(ctx context.Context) (Signal, bool)) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case c.cmds <- cmd:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Navigate reports the page URL. A URL different from the last one runs the
// navigation reset and schedules an immediate scan; the same URL is ignored.
func (c *Coordinator) Navigate(ctx context.Context, url string) error {
	return c.do(ctx, func(ctx context.Context) (Signal, bool) {
		if url == c.url {
			return 0, false
		}
		c.logger.Info("alarm: navigated", "from", c.url, "to", url)
		c.url = url
		c.scanner.doc.SetURL(url)
		c.scanner.ResetNavigation(ctx)
		c.mu.Lock()
		c.status.URL = url
		c.status.Alert = nil
		c.mu.Unlock()
		return SignalNavigate, true
	})
}

// Reset withdraws the alert and markers and rescans immediately.
func (c *Coordinator) Reset(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) (Signal, bool) {
		c.scanner.ResetNavigation(ctx)
		c.mu.Lock()
		c.status.Alert = nil
		c.mu.Unlock()
		return SignalReset, true
	})
}

// Rescan forgets the fingerprint and schedules a scan with the SignalForce
// delay.
func (c *Coordinator) Rescan(ctx context.Context) error {
	return c.do(ctx, func(context.Context) (Signal, bool) {
		c.scanner.Invalidate()
		return SignalForce, true
	})
}

// UpdateKeywords replaces the keyword list. Phrases are trimmed and blank
// ones dropped; an empty result returns ErrEmptyKeywords and leaves the
// active configuration untouched. An accepted list is persisted, published
// and triggers an immediate rescan. A persistence failure is logged and
// does not undo the edit.
func (c *Coordinator) UpdateKeywords(ctx context.Context, list []string) error {
	cfg, err := NewConfig(list, 0)
	if err != nil {
		return err
	}
	if c.store != nil {
		if err := c.store.Save(ctx, c.site, cfg.Keywords); err != nil {
			c.logger.Warn("alarm: keyword list not persisted", "site", c.site, "error", err)
		}
	}
	return c.publish(ctx, cfg)
}

// Reload re-reads the keyword list from the store and applies it when it
// differs from the active one. It does not write to the store.
func (c *Coordinator) Reload(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	list, err := c.store.Load(ctx, c.site)
	if err != nil {
		return err
	}
	if c.cfg.Load().Same(list) {
		return nil
	}
	cfg, err := NewConfig(list, 0)
	if err != nil {
		return err
	}
	c.logger.Info("alarm: keyword list reloaded", "site", c.site, "count", len(cfg.Keywords))
	return c.publish(ctx, cfg)
}

// publish versions cfg after the active configuration and swaps it in.
func (c *Coordinator) publish(ctx context.Context, cfg *Config) error {
	return c.do(ctx, func(context.Context) (Signal, bool) {
		cfg.Version = 1
		if prev := c.cfg.Load(); prev != nil {
			cfg.Version = prev.Version + 1
		}
		c.cfg.Store(cfg)
		c.scanner.Invalidate()
		c.mu.Lock()
		c.status.Keywords = slices.Clone(cfg.Keywords)
		c.status.ConfigVersion = cfg.Version
		c.mu.Unlock()
		return SignalKeywords, true
	})
}

// Replace swaps the document tree for root, a fresh copy of the same page.
// The reset notifies observers like any write, which schedules a scan.
// Unlike a navigation the alert stays up until the new tree is scanned.
func (c *Coordinator) Replace(ctx context.Context, root *html.Node) error {
	return c.do(ctx, func(context.Context) (Signal, bool) {
		c.scanner.Rebase()
		c.scanner.doc.Reset(root)
		return 0, false
	})
}

// Inspect runs fn on the loop with the document and the last scan target
// (nil before the first cycle). fn must not write to the document.
func (c *Coordinator) Inspect(ctx context.Context, fn func(doc *dom.Document, target *html.Node)) error {
	return c.do(ctx, func(context.Context) (Signal, bool) {
		fn(c.scanner.doc, c.scanner.Target())
		return 0, false
	})
}

// Status returns a snapshot of the coordinator.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.Keywords = slices.Clone(s.Keywords)
	s.Dropped = c.dropped.Load()
	return s
}

func (c *Coordinator) setState(st State) {
	c.mu.Lock()
	c.status.State = st
	c.status.StateName = st.String()
	c.mu.Unlock()
}

func (c *Coordinator) record(res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Cycles++
	c.status.LastOutcome = res.Outcome.String()
	c.status.LastCycle = time.Now().UTC()
	switch res.Outcome {
	case Skipped:
		c.status.Skips++
	case Cleared:
		c.status.Scans++
		c.status.Alert = nil
	case Alerted:
		c.status.Scans++
		c.status.Alerts++
		c.status.Alert = res.Summary
	}
	if res.Reset && res.Outcome != Alerted {
		c.status.Alert = nil
	}
}
