// Package fetch is the browserless acquisition path: one HTTP GET, decoded
// to UTF-8 and parsed into a dom.Document. It suits server-rendered job
// pages; script-rendered shells need the browser package.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/hazyhaar/kwalarm/dom"
)

// MaxBody caps the bytes read from a response.
const MaxBody = 10 << 20

// ErrStatus is returned, wrapped, for non-2xx responses.
var ErrStatus = errors.New("fetch: unexpected status")

// Page is a fetched and parsed page.
type Page struct {
	// URL is the final URL after redirects.
	URL         string
	StatusCode  int
	ContentType string
	Truncated   bool
	Doc         *dom.Document
}

// Fetcher performs HTTP GETs.
type Fetcher struct {
	client *http.Client
	ua     string
	max    int64
	logger *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.ua = ua }
}

// WithMaxBody overrides MaxBody.
func WithMaxBody(n int64) Option {
	return func(f *Fetcher) { f.max = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher with a 30s client timeout.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (compatible; kwalarm/1.0)",
		max:    MaxBody,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs pageURL and parses the body. The body is transcoded to UTF-8
// from the charset declared in the Content-Type header or the document.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %d", ErrStatus, pageURL, resp.StatusCode)
	}

	// One byte past the cap tells a truncated body from one that fits.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.max+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	truncated := int64(len(raw)) > f.max
	if truncated {
		raw = raw[:f.max]
	}
	ct := resp.Header.Get("Content-Type")
	body, err := charset.NewReader(bytes.NewReader(raw), ct)
	if err != nil {
		return nil, fmt.Errorf("fetch: charset: %w", err)
	}
	doc, err := dom.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("fetch: parse: %w", err)
	}

	final := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	doc.SetURL(final)

	p := &Page{
		URL:         final,
		StatusCode:  resp.StatusCode,
		ContentType: ct,
		Truncated:   truncated,
		Doc:         doc,
	}
	f.logger.Debug("fetch: fetched",
		"url", final, "status", resp.StatusCode,
		"truncated", p.Truncated, "sufficient", Sufficient(doc))
	return p, nil
}

// ReadFile parses a saved HTML page. The encoding is sniffed from the
// first bytes and any meta charset declaration.
func ReadFile(path string) (*dom.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fetch: open: %w", err)
	}
	defer f.Close()
	body, err := charset.NewReader(f, "")
	if err != nil {
		return nil, fmt.Errorf("fetch: charset: %w", err)
	}
	doc, err := dom.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("fetch: parse: %w", err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		doc.SetURL((&url.URL{Scheme: "file", Path: abs}).String())
	}
	return doc, nil
}
