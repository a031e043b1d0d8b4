// Package server is the kwalarm control surface: a chi HTTP API and MCP
// tools over one running alarm.Coordinator. Both transports call the same
// kit endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/kwalarm/alarm"
	"github.com/hazyhaar/kwalarm/dom"
	"github.com/hazyhaar/kwalarm/keystore"
	"github.com/hazyhaar/kwalarm/kit"
	"github.com/hazyhaar/kwalarm/report"
)

// ErrNoReport is returned when no scan target exists yet.
var ErrNoReport = errors.New("server: nothing scanned yet")

// errBadRequest marks malformed input.
var errBadRequest = errors.New("server: bad request")

// Report formats.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// Server exposes a Coordinator.
type Server struct {
	coord    *alarm.Coordinator
	exporter *report.Exporter
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time

	status      kit.Endpoint
	keywords    kit.Endpoint
	setKeywords kit.Endpoint
	rescan      kit.Endpoint
	reset       kit.Endpoint
	navigate    kit.Endpoint
	report      kit.Endpoint
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithTimeout bounds each call. Default: 10s.
func WithTimeout(d time.Duration) Option { return func(s *Server) { s.timeout = d } }

// WithClock sets the report timestamp source.
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// New builds a Server over coord.
func New(coord *alarm.Coordinator, opts ...Option) *Server {
	s := &Server{
		coord:    coord,
		exporter: report.NewExporter(),
		logger:   slog.Default(),
		timeout:  10 * time.Second,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	wrap := func(op string, ep kit.Endpoint) kit.Endpoint {
		return kit.Chain(
			kit.Recovery(s.logger),
			kit.Logging(s.logger, op),
			kit.Timeout(s.timeout),
		)(ep)
	}
	s.status = wrap("status", s.doStatus)
	s.keywords = wrap("keywords", s.doKeywords)
	s.setKeywords = wrap("set_keywords", s.doSetKeywords)
	s.rescan = wrap("rescan", s.doRescan)
	s.reset = wrap("reset", s.doReset)
	s.navigate = wrap("navigate", s.doNavigate)
	s.report = wrap("report", s.doReport)
	return s
}

// --- requests and responses ---

// KeywordsRequest replaces the keyword list. Keywords wins over Text; Text
// holds one phrase per line.
type KeywordsRequest struct {
	Keywords []string `json:"keywords,omitempty"`
	Text     string   `json:"text,omitempty"`
}

func (r *KeywordsRequest) list() []string {
	if len(r.Keywords) > 0 {
		return r.Keywords
	}
	return keystore.ParseLines(r.Text)
}

// KeywordsResponse is the active keyword list.
type KeywordsResponse struct {
	Keywords []string `json:"keywords"`
	Version  int64    `json:"version"`
}

// NavigateRequest reports a new page URL.
type NavigateRequest struct {
	URL string `json:"url"`
}

// ReportRequest selects a report format.
type ReportRequest struct {
	Format string `json:"format,omitempty"`
}

// Ack acknowledges a command.
type Ack struct {
	OK bool `json:"ok"`
}

// --- endpoints ---

func (s *Server) doStatus(_ context.Context, _ any) (any, error) {
	return s.coord.Status(), nil
}

func (s *Server) doKeywords(_ context.Context, _ any) (any, error) {
	return s.activeKeywords(), nil
}

func (s *Server) activeKeywords() KeywordsResponse {
	cfg := s.coord.Config()
	if cfg == nil {
		return KeywordsResponse{Keywords: []string{}}
	}
	return KeywordsResponse{Keywords: cfg.Keywords, Version: cfg.Version}
}

func (s *Server) doSetKeywords(ctx context.Context, req any) (any, error) {
	r := req.(*KeywordsRequest)
	if err := s.coord.UpdateKeywords(ctx, r.list()); err != nil {
		return nil, err
	}
	return s.activeKeywords(), nil
}

func (s *Server) doRescan(ctx context.Context, _ any) (any, error) {
	if err := s.coord.Rescan(ctx); err != nil {
		return nil, err
	}
	return Ack{OK: true}, nil
}

func (s *Server) doReset(ctx context.Context, _ any) (any, error) {
	if err := s.coord.Reset(ctx); err != nil {
		return nil, err
	}
	return Ack{OK: true}, nil
}

func (s *Server) doNavigate(ctx context.Context, req any) (any, error) {
	r := req.(*NavigateRequest)
	if strings.TrimSpace(r.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", errBadRequest)
	}
	if err := s.coord.Navigate(ctx, r.URL); err != nil {
		return nil, err
	}
	return Ack{OK: true}, nil
}

// doReport returns a *report.Report for FormatJSON and a string otherwise.
func (s *Server) doReport(ctx context.Context, req any) (any, error) {
	r := req.(*ReportRequest)
	format := r.Format
	if format == "" {
		format = FormatJSON
	}
	switch format {
	case FormatJSON, FormatMarkdown, FormatHTML:
	default:
		return nil, fmt.Errorf("%w: unknown format %q", errBadRequest, format)
	}

	sum := s.coord.Status().Alert
	var rep *report.Report
	var buildErr error
	err := s.coord.Inspect(ctx, func(doc *dom.Document, target *html.Node) {
		if target == nil {
			buildErr = ErrNoReport
			return
		}
		rep, buildErr = s.exporter.Build(target, doc.URL(), sum)
	})
	if err != nil {
		return nil, err
	}
	if buildErr != nil {
		return nil, buildErr
	}

	switch format {
	case FormatMarkdown:
		return rep.Markdown, nil
	case FormatHTML:
		return report.Page(rep, s.now())
	}
	return rep, nil
}
