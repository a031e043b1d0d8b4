// Package resolver picks the scan target of a page: the element holding the
// job description on known job boards, or the whole body elsewhere.
package resolver

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/kwalarm/dom"
)

// Generic is the site name used for hosts no Site claims.
const Generic = "generic"

// Site describes one job board: the registrable domain it is served from and
// the CSS selectors of its description container, most specific first.
type Site struct {
	Name      string   `yaml:"name" json:"name"`
	Domain    string   `yaml:"domain" json:"domain"`
	Selectors []string `yaml:"selectors" json:"selectors"`
}

// Sites are the built-in job boards.
var Sites = []Site{
	{
		Name:   "linkedin",
		Domain: "linkedin.com",
		Selectors: []string{
			`div[data-test-id="job-details"]`,
			"section.jobs-description",
			"div.jobs-description__container",
			"div.show-more-less-html__markup",
			"div.jobs-description-content__text",
			"div.jobs-box__html-content",
			"div.jobs-details__main-content",
			"div.jobs-search__job-details--container",
		},
	},
	{
		Name:   "indeed",
		Domain: "indeed.com",
		Selectors: []string{
			"#jobDescriptionText",
			".jobsearch-jobDescriptionText",
			`[data-testid="jobsearch-JobComponent-description"]`,
			"#mosaic-jobContent",
			`div[id^="jobDescriptionText"]`,
		},
	},
	{
		Name:   "glassdoor",
		Domain: "glassdoor.com",
		Selectors: []string{
			`[class^="TwoColumnLayout_columnRight__"] [data-test="jobDescriptionContent"]`,
			`[class^="TwoColumnLayout_columnRight__"] [data-test="jobDescriptionText"]`,
			`[class^="TwoColumnLayout_columnRight__"] div.jobDescriptionContent`,
			`[class^="TwoColumnLayout_columnRight__"] div.jobDescription`,
			`[class^="TwoColumnLayout_columnRight__"]`,
		},
	},
}

type compiledSite struct {
	Site
	matchers []cascadia.Selector
}

// Resolver maps a document to its scan target.
type Resolver struct {
	sites        []compiledSite
	requireKnown bool
	forced       string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRequireKnownSite makes Resolve return nil for hosts no Site claims,
// instead of falling back to the body.
func WithRequireKnownSite() Option {
	return func(r *Resolver) { r.requireKnown = true }
}

// WithSite forces every document to be resolved as the named site,
// regardless of its URL. Useful for local files.
func WithSite(name string) Option {
	return func(r *Resolver) { r.forced = name }
}

// New compiles the selectors of sites. An invalid selector is an error.
func New(sites []Site, opts ...Option) (*Resolver, error) {
	r := &Resolver{}
	for _, s := range sites {
		if s.Name == "" || s.Domain == "" {
			return nil, fmt.Errorf("resolver: site %q: name and domain are required", s.Name)
		}
		cs := compiledSite{Site: s}
		for _, sel := range s.Selectors {
			m, err := cascadia.Compile(sel)
			if err != nil {
				return nil, fmt.Errorf("resolver: site %s: selector %q: %w", s.Name, sel, err)
			}
			cs.matchers = append(cs.matchers, m)
		}
		r.sites = append(r.sites, cs)
	}
	for _, o := range opts {
		o(r)
	}
	if r.forced != "" && r.site(r.forced) == nil {
		return nil, fmt.Errorf("resolver: unknown site %q", r.forced)
	}
	return r, nil
}

// Default returns a Resolver over the built-in Sites.
func Default(opts ...Option) *Resolver {
	r, err := New(Sites, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Detect returns the name of the site serving rawURL, or Generic. Hosts
// match a site's domain exactly or as a subdomain, case-insensitively.
func (r *Resolver) Detect(rawURL string) string {
	if r.forced != "" {
		return r.forced
	}
	host := hostOf(rawURL)
	if host == "" {
		return Generic
	}
	for _, s := range r.sites {
		d := strings.ToLower(s.Domain)
		if host == d || strings.HasSuffix(host, "."+d) {
			return s.Name
		}
	}
	return Generic
}

// Resolve returns the scan target of doc: the first element matching the
// detected site's selectors in order, otherwise <body>, otherwise the
// document element.
func (r *Resolver) Resolve(doc *dom.Document) *html.Node {
	if doc == nil || doc.Root() == nil {
		return nil
	}
	name := r.Detect(doc.URL())
	if s := r.site(name); s != nil {
		q := goquery.NewDocumentFromNode(doc.Root())
		for _, m := range s.matchers {
			if sel := q.FindMatcher(m).First(); len(sel.Nodes) > 0 {
				return sel.Nodes[0]
			}
		}
	} else if r.requireKnown {
		return nil
	}
	if b := doc.Body(); b != nil {
		return b
	}
	return doc.DocumentElement()
}

func (r *Resolver) site(name string) *compiledSite {
	for i := range r.sites {
		if r.sites[i].Name == name {
			return &r.sites[i]
		}
	}
	return nil
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
