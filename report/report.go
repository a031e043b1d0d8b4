// Package report exports the highlighted scan target: as sanitized HTML
// (standalone page or fragment), as Markdown with matches in bold, and as
// short per-match excerpts.
package report

import (
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/kwalarm/alert"
	"github.com/hazyhaar/kwalarm/dom"
	"github.com/hazyhaar/kwalarm/highlight"
)

// Report is the exported view of one scan.
type Report struct {
	URL      string         `json:"url,omitempty"`
	Alert    *alert.Summary `json:"alert,omitempty"`
	HTML     string         `json:"html"`
	Markdown string         `json:"markdown"`
	Excerpts []Excerpt      `json:"excerpts"`
}

// Excerpt is one highlighted match with the text around it.
type Excerpt struct {
	Phrase string `json:"phrase"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Radius is the number of runes of context an excerpt keeps on each side.
const Radius = 60

// Exporter renders reports. It is safe for concurrent use once built.
type Exporter struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

// NewExporter returns an Exporter whose sanitizer keeps ordinary content
// markup and the highlight markers, and drops scripts, styles, event
// handlers and inline style.
func NewExporter() *Exporter {
	p := bluemonday.UGCPolicy()
	p.AllowElements("mark")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^` + highlight.MarkerClass + `$`)).OnElements("mark")
	p.RequireNoFollowOnLinks(true)

	return &Exporter{
		policy: p,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Build assembles the report of target. target may belong to a document
// that is being scanned; Build only reads it.
func (e *Exporter) Build(target *html.Node, pageURL string, sum *alert.Summary) (*Report, error) {
	if target == nil {
		return nil, fmt.Errorf("report: no scan target")
	}
	md, err := e.Markdown(target, pageURL)
	if err != nil {
		return nil, err
	}
	return &Report{
		URL:      pageURL,
		Alert:    sum,
		HTML:     e.Fragment(target),
		Markdown: md,
		Excerpts: Excerpts(target, Radius),
	}, nil
}

// Fragment returns the sanitized inner HTML of target, markers included.
func (e *Exporter) Fragment(target *html.Node) string {
	return e.policy.Sanitize(dom.RenderChildren(target))
}

// Markdown converts target to Markdown with every match in bold. Relative
// links resolve against pageURL when given.
func (e *Exporter) Markdown(target *html.Node, pageURL string) (string, error) {
	c := dom.Clone(target)
	for _, m := range highlight.Markers(c) {
		m.Data = "strong"
		m.DataAtom = atom.Strong
		m.Attr = nil
	}
	src := e.policy.Sanitize(dom.RenderChildren(c))
	var out string
	var err error
	if pageURL != "" {
		out, err = e.md.ConvertString(src, converter.WithDomain(pageURL))
	} else {
		out, err = e.md.ConvertString(src)
	}
	if err != nil {
		return "", fmt.Errorf("report: markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Excerpts lists every marker under target with up to radius runes of the
// surrounding block's text on each side, whitespace collapsed.
func Excerpts(target *html.Node, radius int) []Excerpt {
	out := []Excerpt{}
	goquery.NewDocumentFromNode(target).Find("mark." + highlight.MarkerClass).Each(func(_ int, m *goquery.Selection) {
		before, after := around(m.Nodes[0])
		out = append(out, Excerpt{
			Phrase: m.Text(),
			Before: tailRunes(squash(before), radius),
			After:  headRunes(squash(after), radius),
		})
	})
	return out
}

// around returns the text of the marker's nearest block ancestor that
// comes before and after the marker.
func around(mark *html.Node) (before, after string) {
	block := dom.Closest(mark.Parent, func(n *html.Node) bool {
		switch n.DataAtom {
		case atom.P, atom.Li, atom.Div, atom.Td, atom.Section, atom.Article, atom.Body, atom.Dd, atom.Blockquote:
			return true
		}
		return false
	})
	if block == nil {
		block = mark.Parent
	}
	var b, a strings.Builder
	seen := false
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c == mark:
				seen = true
			case c.Type == html.TextNode:
				if seen {
					a.WriteString(c.Data)
				} else {
					b.WriteString(c.Data)
				}
			case c.Type == html.ElementNode && c.DataAtom != atom.Script && c.DataAtom != atom.Style:
				walk(c)
			}
		}
	}
	walk(block)
	return b.String(), a.String()
}

func squash(s string) string { return strings.Join(strings.Fields(s), " ") }

func headRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func tailRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>kwalarm report{{with .URL}}: {{.}}{{end}}</title>
<style>
{{.Style}}
.kw-alarm-banner { background: #b00020; color: #fff; padding: 12px 16px; border-radius: 12px; font-family: system-ui, sans-serif; font-size: 14px; }
.kw-alarm-banner .title { font-weight: 700; }
</style>
</head>
<body>
{{with .Alert}}<div class="kw-alarm-banner"><div class="title">{{.Title}}</div><div>{{.Examples}}</div><div><small>{{$.Generated}}</small></div></div>{{end}}
{{if .URL}}<p><a href="{{.URL}}" rel="nofollow">{{.URL}}</a></p>{{end}}
<article>
{{.Body}}
</article>
</body>
</html>
`))

// Page renders r as a standalone HTML document.
func Page(r *Report, now time.Time) (string, error) {
	var b strings.Builder
	err := pageTmpl.Execute(&b, map[string]any{
		"URL":       r.URL,
		"Alert":     r.Alert,
		"Style":     template.CSS(highlight.StyleSheet),
		"Body":      template.HTML(r.HTML),
		"Generated": now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("report: page: %w", err)
	}
	return b.String(), nil
}
