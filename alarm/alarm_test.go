package alarm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/kwalarm/alert"
	"github.com/hazyhaar/kwalarm/dom"
	"github.com/hazyhaar/kwalarm/highlight"
	"github.com/hazyhaar/kwalarm/idgen"
)

const jobHTML = `<html><head></head><body>
<div id="a">Must have US sponsorship and a valid visa.</div>
<div id="b">Requires TS SCI clearance.</div>
</body></html>`

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func parse(t *testing.T, s string) *dom.Document {
	t.Helper()
	d, err := dom.ParseString(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func byID(doc *dom.Document, id string) *html.Node {
	var found *html.Node
	dom.Walk(doc.Root(), func(n *html.Node) bool {
		if v, ok := dom.Attr(n, "id"); ok && v == id && found == nil {
			found = n
		}
		return found == nil
	})
	return found
}

// recorder is a Presenter logging every call.
type recorder struct {
	mu    sync.Mutex
	calls []string
	last  alert.Summary
	fail  error
}

func (r *recorder) Show(_ context.Context, s alert.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "show")
	r.last = s
	return r.fail
}

func (r *recorder) Clear(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "clear")
	return r.fail
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

type beeper struct {
	n   atomic.Int32
	err error
}

func (b *beeper) Beep() error { b.n.Add(1); return b.err }

type memStore struct {
	mu    sync.Mutex
	lists map[string][]string
	saves int
	fail  error
}

func (m *memStore) Load(_ context.Context, site string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lists[site]; ok {
		return slices.Clone(l), nil
	}
	return []string{"visa"}, nil
}

func (m *memStore) Save(_ context.Context, site string, list []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.fail != nil {
		return m.fail
	}
	if m.lists == nil {
		m.lists = make(map[string][]string)
	}
	m.lists[site] = slices.Clone(list)
	return nil
}

func scanner(doc *dom.Document, opts ScannerOptions) *Scanner {
	if opts.Logger == nil {
		opts.Logger = quiet()
	}
	if opts.IDs == nil {
		opts.IDs = idgen.Sequence("scan_")
	}
	return NewScanner(doc, opts)
}

func TestNewConfig(t *testing.T) {
	if _, err := NewConfig([]string{" ", ""}, 1); !errors.Is(err, ErrEmptyKeywords) {
		t.Errorf("blank list: got %v", err)
	}
	if _, err := NewConfig(nil, 1); !errors.Is(err, ErrEmptyKeywords) {
		t.Errorf("nil list: got %v", err)
	}
	c, err := NewConfig([]string{" visa ", "", "dod"}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(c.Keywords, []string{"visa", "dod"}) || c.Version != 3 {
		t.Errorf("config: %+v", c)
	}
	if !c.Same([]string{"visa", " dod"}) || c.Same([]string{"dod", "visa"}) {
		t.Error("Same")
	}
}

func TestScanner_AlertThenSkip(t *testing.T) {
	doc := parse(t, jobHTML)
	rec := &recorder{}
	s := scanner(doc, ScannerOptions{Presenter: rec, Site: "linkedin"})
	doc.SetURL("https://www.linkedin.com/jobs/view/1")
	cfg := MustConfig("sponsorship", "visa", "ts/sci")

	res := s.Cycle(context.Background(), cfg)
	if res.Outcome != Alerted || !res.Reset {
		t.Fatalf("first cycle: %+v", res)
	}
	if res.Markers != 3 || res.Summary.Total != 3 {
		t.Errorf("markers=%d total=%d", res.Markers, res.Summary.Total)
	}
	if rec.last.ScanID != "scan_1" || rec.last.URL != "https://www.linkedin.com/jobs/view/1" || rec.last.Site != "linkedin" {
		t.Errorf("summary: %+v", rec.last)
	}
	if got := len(highlight.Markers(doc.Root())); got != 3 {
		t.Errorf("markers in doc = %d", got)
	}

	writes := 0
	cancel := doc.Observe(func(dom.Mutation) { writes++ })
	defer cancel()
	res = s.Cycle(context.Background(), cfg)
	if res.Outcome != Skipped {
		t.Fatalf("second cycle: %v", res.Outcome)
	}
	if writes != 0 {
		t.Errorf("skipped cycle wrote %d times", writes)
	}
	if !slices.Equal(rec.Calls(), []string{"show"}) {
		t.Errorf("calls: %v", rec.Calls())
	}
}

func TestScanner_StyleInjectedOnce(t *testing.T) {
	doc := parse(t, jobHTML)
	s := scanner(doc, ScannerOptions{})
	cfg := MustConfig("visa")
	s.Cycle(context.Background(), cfg)
	s.Invalidate()
	s.Cycle(context.Background(), cfg)

	n := 0
	dom.Walk(doc.Root(), func(x *html.Node) bool {
		if _, ok := dom.Attr(x, StyleAttr); ok {
			n++
		}
		return true
	})
	if n != 1 {
		t.Errorf("style elements = %d, want 1", n)
	}
}

func TestScanner_NavigationResetClearsOldTarget(t *testing.T) {
	doc := parse(t, jobHTML)
	a, b := byID(doc, "a"), byID(doc, "b")
	current := a
	rec := &recorder{}
	s := scanner(doc, ScannerOptions{
		Presenter: rec,
		Resolver:  ResolverFunc(func(*dom.Document) *html.Node { return current }),
	})
	cfg := MustConfig("sponsorship", "visa", "ts/sci")

	if res := s.Cycle(context.Background(), cfg); res.Outcome != Alerted {
		t.Fatalf("A: %v", res.Outcome)
	}
	if len(highlight.Markers(a)) != 2 {
		t.Fatalf("A markers = %d", len(highlight.Markers(a)))
	}

	current = b
	res := s.Cycle(context.Background(), cfg)
	if !res.Reset || res.Outcome != Alerted || res.Target != b {
		t.Fatalf("B: %+v", res)
	}
	if len(highlight.Markers(a)) != 0 {
		t.Error("A keeps markers after switching target")
	}
	if dom.TextContent(a) != "Must have US sponsorship and a valid visa." {
		t.Errorf("A text: %q", dom.TextContent(a))
	}
	if got := rec.Calls(); !slices.Equal(got, []string{"show", "clear", "show"}) {
		t.Errorf("calls: %v", got)
	}
	if rec.last.Top[0].Phrase != "ts sci" {
		t.Errorf("B summary: %+v", rec.last)
	}
}

func TestScanner_RebaseSkipsNavigationReset(t *testing.T) {
	doc := parse(t, jobHTML)
	rec := &recorder{}
	s := scanner(doc, ScannerOptions{Presenter: rec})
	cfg := MustConfig("visa")
	s.Cycle(context.Background(), cfg)
	old := s.Target()

	s.Rebase()
	root, _ := html.Parse(strings.NewReader(jobHTML))
	doc.Reset(root)
	res := s.Cycle(context.Background(), cfg)
	if res.Outcome != Alerted || !res.Reset || res.Target == old {
		t.Fatalf("after rebase: %+v", res)
	}
	if len(highlight.Markers(old)) != 1 {
		t.Error("detached tree was cleaned up")
	}
	if got := rec.Calls(); !slices.Equal(got, []string{"show", "show"}) {
		t.Errorf("presenter calls: %v", got)
	}
}

func TestScanner_ChangedTextWithoutMatchClears(t *testing.T) {
	doc := parse(t, `<body><p id="p">needs a visa</p></body>`)
	rec := &recorder{}
	s := scanner(doc, ScannerOptions{Presenter: rec})
	cfg := MustConfig("visa")
	s.Cycle(context.Background(), cfg)

	p := byID(doc, "p")
	doc.RemoveNode(p)
	doc.AppendChild(doc.Body(), &html.Node{Type: html.TextNode, Data: "nothing to see"})
	if res := s.Cycle(context.Background(), cfg); res.Outcome != Cleared {
		t.Fatalf("outcome: %v", res.Outcome)
	}
	if res := s.Cycle(context.Background(), cfg); res.Outcome != Skipped {
		t.Fatalf("outcome: %v", res.Outcome)
	}
	if got := rec.Calls(); !slices.Equal(got, []string{"show", "clear"}) {
		t.Errorf("calls: %v", got)
	}
}

func TestScanner_NoMatchNeverShownNoClear(t *testing.T) {
	doc := parse(t, `<p>plain text</p>`)
	rec := &recorder{}
	s := scanner(doc, ScannerOptions{Presenter: rec})
	if res := s.Cycle(context.Background(), MustConfig("visa")); res.Outcome != Cleared {
		t.Fatalf("outcome: %v", res.Outcome)
	}
	if len(rec.Calls()) != 0 {
		t.Errorf("calls: %v", rec.Calls())
	}
}

func TestScanner_NoTarget(t *testing.T) {
	doc := parse(t, `<p>visa</p>`)
	s := scanner(doc, ScannerOptions{Resolver: ResolverFunc(func(*dom.Document) *html.Node { return nil })})
	if res := s.Cycle(context.Background(), MustConfig("visa")); res.Outcome != NoTarget {
		t.Errorf("outcome: %v", res.Outcome)
	}
}

func TestScanner_BellAndPresenterErrorsSwallowed(t *testing.T) {
	doc := parse(t, `<p>visa</p>`)
	bell := &beeper{err: errors.New("no audio device")}
	rec := &recorder{fail: errors.New("display gone")}
	s := scanner(doc, ScannerOptions{Presenter: rec, Beeper: bell, Bell: true})
	if res := s.Cycle(context.Background(), MustConfig("visa")); res.Outcome != Alerted {
		t.Fatalf("outcome: %v", res.Outcome)
	}
	if bell.n.Load() != 1 {
		t.Errorf("beeps = %d", bell.n.Load())
	}

	off := &beeper{}
	s2 := scanner(parse(t, `<p>visa</p>`), ScannerOptions{Beeper: off})
	s2.Cycle(context.Background(), MustConfig("visa"))
	if off.n.Load() != 0 {
		t.Error("bell rang while disabled")
	}
}

// harness runs a Coordinator and collects its cycles.
type harness struct {
	c      *Coordinator
	doc    *dom.Document
	rec    *recorder
	cycles chan cycle
	writes atomic.Int64
	cancel context.CancelFunc
	done   chan struct{}
}

type cycle struct {
	Result
	writes int64 // document writes seen so far
}

func start(t *testing.T, doc *dom.Document, cfg *Config, opts Options) *harness {
	t.Helper()
	h := &harness{doc: doc, rec: &recorder{}, cycles: make(chan cycle, 64), done: make(chan struct{})}
	if opts.Presenter == nil {
		opts.Presenter = h.rec
	}
	if opts.Logger == nil {
		opts.Logger = quiet()
	}
	if opts.Delays == nil {
		opts.Delays = Delays{SignalMutation: 10 * time.Millisecond, SignalForce: time.Millisecond}
	}
	opts.OnCycle = func(r Result) { h.cycles <- cycle{Result: r, writes: h.writes.Load()} }
	doc.Observe(func(dom.Mutation) { h.writes.Add(1) })
	h.c = New(doc, cfg, opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		h.c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) next(t *testing.T) cycle {
	t.Helper()
	select {
	case c := <-h.cycles:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a cycle")
		return cycle{}
	}
}

func (h *harness) none(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case c := <-h.cycles:
		t.Fatalf("unexpected cycle: %v", c.Outcome)
	case <-time.After(within):
	}
}

// delivered waits for the presenter to have seen exactly want.
func (h *harness) delivered(t *testing.T, want ...string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := h.rec.Calls()
		if slices.Equal(got, want) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("presenter calls: %v, want %v", got, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCoordinator_OwnWritesDoNotRematch(t *testing.T) {
	h := start(t, parse(t, jobHTML), MustConfig("visa", "sponsorship"), Options{})
	h.c.Signal(SignalForce)

	first := h.next(t)
	if first.Outcome != Alerted {
		t.Fatalf("first: %v", first.Outcome)
	}
	if first.writes == 0 {
		t.Fatal("highlighting produced no mutation notifications")
	}
	second := h.next(t)
	if second.Outcome != Skipped {
		t.Fatalf("second: %v", second.Outcome)
	}
	if second.writes != first.writes {
		t.Errorf("skipped cycle wrote: %d -> %d", first.writes, second.writes)
	}
	h.none(t, 100*time.Millisecond)

	st := h.c.Status()
	if st.Cycles != 2 || st.Scans != 1 || st.Skips != 1 || st.Alerts != 1 {
		t.Errorf("status: %+v", st)
	}
	if st.Alert == nil || st.Alert.Total != 2 || st.StateName != "idle" {
		t.Errorf("status alert/state: %+v", st)
	}
	h.delivered(t, "show")
}

func TestCoordinator_DebounceLastWriteWins(t *testing.T) {
	delays := Delays{SignalResize: time.Hour, SignalForce: 5 * time.Millisecond, SignalMutation: time.Hour}

	h := start(t, parse(t, `<p>visa</p>`), MustConfig("visa"), Options{Delays: delays})
	h.c.Signal(SignalResize)
	h.c.Signal(SignalForce)
	if c := h.next(t); c.Outcome != Alerted {
		t.Fatalf("outcome: %v", c.Outcome)
	}

	h2 := start(t, parse(t, `<p>visa</p>`), MustConfig("visa"), Options{Delays: delays})
	h2.c.Signal(SignalForce)
	h2.c.Signal(SignalResize)
	h2.none(t, 100*time.Millisecond)
	if st := h2.c.Status(); st.State != Pending {
		t.Errorf("state: %v, want pending", st.State)
	}
}

func TestCoordinator_UpdateKeywords(t *testing.T) {
	store := &memStore{}
	h := start(t, parse(t, jobHTML), MustConfig("visa"), Options{
		Store:          store,
		ScannerOptions: ScannerOptions{Site: "indeed"},
	})
	ctx := context.Background()
	h.c.Signal(SignalForce)
	if c := h.next(t); c.Summary == nil || c.Summary.Total != 1 {
		t.Fatalf("first: %+v", c)
	}
	h.next(t) // skip caused by our own writes

	if err := h.c.UpdateKeywords(ctx, []string{"  ", ""}); !errors.Is(err, ErrEmptyKeywords) {
		t.Fatalf("empty edit: got %v", err)
	}
	if !h.c.Config().Same([]string{"visa"}) || store.saves != 0 {
		t.Fatal("empty edit changed config or store")
	}

	if err := h.c.UpdateKeywords(ctx, []string{"visa", " ts/sci "}); err != nil {
		t.Fatal(err)
	}
	// Unchanged text, new keywords: the edit must still rescan.
	c := h.next(t)
	if c.Outcome != Alerted || c.Summary.Total != 2 {
		t.Fatalf("after edit: %v %+v", c.Outcome, c.Summary)
	}
	if got := store.lists["indeed"]; !slices.Equal(got, []string{"visa", "ts/sci"}) {
		t.Errorf("stored: %v", got)
	}
	st := h.c.Status()
	if st.ConfigVersion != 2 || !slices.Equal(st.Keywords, []string{"visa", "ts/sci"}) {
		t.Errorf("status: %+v", st)
	}
}

func TestCoordinator_UpdateKeywordsStoreFailure(t *testing.T) {
	store := &memStore{fail: errors.New("disk full")}
	h := start(t, parse(t, `<p>dod</p>`), MustConfig("visa"), Options{Store: store})
	if err := h.c.UpdateKeywords(context.Background(), []string{"dod"}); err != nil {
		t.Fatalf("UpdateKeywords: %v", err)
	}
	if c := h.next(t); c.Outcome != Alerted {
		t.Errorf("outcome: %v", c.Outcome)
	}
}

func TestCoordinator_Reload(t *testing.T) {
	store := &memStore{lists: map[string][]string{"glassdoor": {"visa"}}}
	h := start(t, parse(t, `<p>export control applies</p>`), MustConfig("visa"), Options{
		Store:          store,
		ScannerOptions: ScannerOptions{Site: "glassdoor"},
	})
	ctx := context.Background()

	if err := h.c.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	h.none(t, 50*time.Millisecond)

	store.Save(ctx, "glassdoor", []string{"export"})
	saves := store.saves
	if err := h.c.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if c := h.next(t); c.Outcome != Alerted {
		t.Fatalf("outcome: %v", c.Outcome)
	}
	if store.saves != saves {
		t.Error("Reload wrote to the store")
	}
}

func TestCoordinator_Navigate(t *testing.T) {
	doc := parse(t, jobHTML)
	doc.SetURL("https://www.indeed.com/viewjob?jk=1")
	h := start(t, doc, MustConfig("visa"), Options{})
	ctx := context.Background()

	h.c.Signal(SignalForce)
	h.next(t)
	h.next(t)

	if err := h.c.Navigate(ctx, "https://www.indeed.com/viewjob?jk=1"); err != nil {
		t.Fatal(err)
	}
	h.none(t, 50*time.Millisecond)

	if err := h.c.Navigate(ctx, "https://www.indeed.com/viewjob?jk=2"); err != nil {
		t.Fatal(err)
	}
	c := h.next(t)
	if c.Outcome != Alerted {
		t.Fatalf("outcome after navigate: %v", c.Outcome)
	}
	h.delivered(t, "show", "clear", "show")
	if h.rec.last.URL != "https://www.indeed.com/viewjob?jk=2" {
		t.Errorf("summary url: %s", h.rec.last.URL)
	}
	if st := h.c.Status(); st.URL != "https://www.indeed.com/viewjob?jk=2" {
		t.Errorf("status url: %s", st.URL)
	}
}

func TestCoordinator_ResetAndRescan(t *testing.T) {
	h := start(t, parse(t, `<p>visa</p>`), MustConfig("visa"), Options{})
	ctx := context.Background()
	h.c.Signal(SignalForce)
	h.next(t)
	h.next(t)

	if err := h.c.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if c := h.next(t); c.Outcome != Alerted {
		t.Fatalf("after reset: %v", c.Outcome)
	}
	h.next(t)

	if err := h.c.Rescan(ctx); err != nil {
		t.Fatal(err)
	}
	if c := h.next(t); c.Outcome != Alerted {
		t.Fatalf("after rescan: %v", c.Outcome)
	}
}

func TestCoordinator_ReplaceScansNewTree(t *testing.T) {
	h := start(t, parse(t, `<p>nothing</p>`), MustConfig("clearance"), Options{})
	ctx := context.Background()
	h.c.Signal(SignalForce)
	if c := h.next(t); c.Outcome != Cleared {
		t.Fatalf("first: %v", c.Outcome)
	}
	h.next(t) // style injection write

	root, _ := html.Parse(strings.NewReader(`<p>Active clearance required</p>`))
	if err := h.c.Replace(ctx, root); err != nil {
		t.Fatal(err)
	}
	c := h.next(t)
	if c.Outcome != Alerted || !c.Reset {
		t.Fatalf("after replace: %+v", c)
	}

	var markers int
	h.c.Inspect(ctx, func(_ *dom.Document, target *html.Node) {
		markers = len(highlight.Markers(target))
	})
	if markers != 1 {
		t.Errorf("markers = %d", markers)
	}
}

func TestCoordinator_ReplaceKeepsAlert(t *testing.T) {
	h := start(t, parse(t, jobHTML), MustConfig("visa"), Options{})
	ctx := context.Background()
	h.c.Signal(SignalForce)
	if c := h.next(t); c.Outcome != Alerted {
		t.Fatalf("first: %v", c.Outcome)
	}
	h.next(t) // own writes

	root, _ := html.Parse(strings.NewReader(jobHTML))
	if err := h.c.Replace(ctx, root); err != nil {
		t.Fatal(err)
	}
	c := h.next(t)
	if c.Outcome != Alerted || !c.Reset || c.Markers != 1 {
		t.Fatalf("after replace: %+v", c)
	}
	h.delivered(t, "show", "show")
}

// stuck is a Presenter that holds every call until released or canceled.
type stuck struct {
	release chan struct{}
	calls   atomic.Int32
}

func (p *stuck) wait(ctx context.Context) error {
	p.calls.Add(1)
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *stuck) Show(ctx context.Context, _ alert.Summary) error { return p.wait(ctx) }
func (p *stuck) Clear(ctx context.Context) error                 { return p.wait(ctx) }

func TestCoordinator_SlowPresenterDoesNotBlockCommands(t *testing.T) {
	p := &stuck{release: make(chan struct{})}
	defer close(p.release)
	doc := parse(t, jobHTML)
	doc.SetURL("https://example.com/a")
	h := start(t, doc, MustConfig("visa"), Options{ScannerOptions: ScannerOptions{Presenter: p}})

	h.c.Signal(SignalForce)
	if c := h.next(t); c.Outcome != Alerted {
		t.Fatalf("first: %v", c.Outcome)
	}
	h.next(t) // own writes

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	began := time.Now()
	if err := h.c.Navigate(ctx, "https://example.com/b"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if d := time.Since(began); d > 250*time.Millisecond {
		t.Errorf("Navigate took %v", d)
	}
	if c := h.next(t); c.Outcome != Alerted || c.Summary.URL != "https://example.com/b" {
		t.Fatalf("after navigate: %+v", c)
	}
	if err := h.c.Rescan(ctx); err != nil {
		t.Errorf("Rescan: %v", err)
	}
	if p.calls.Load() != 1 {
		t.Errorf("presenter entered %d times, want 1 while stuck", p.calls.Load())
	}
}

func TestCoordinator_StoppedCommands(t *testing.T) {
	c := New(parse(t, `<p>x</p>`), MustConfig("x"), Options{ScannerOptions: ScannerOptions{Logger: quiet()}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()
	cancel()
	<-done
	if err := c.Reset(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Reset after stop: got %v", err)
	}
}

func TestSignalNames(t *testing.T) {
	for s := SignalKeywords; s <= SignalForce; s++ {
		got, err := ParseSignal(s.String())
		if err != nil || got != s {
			t.Errorf("ParseSignal(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseSignal("hover"); err == nil {
		t.Error("unknown signal accepted")
	}
	d := DefaultDelays()
	if d.Of(SignalMutation) != 300*time.Millisecond || d.Of(SignalResize) != 800*time.Millisecond {
		t.Errorf("defaults: %v", d)
	}
}
