package dom

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// TextContent concatenates every descendant text node, like Node.textContent.
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// hidden elements contribute nothing to rendered text.
var hidden = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Title:    true,
}

// blocks break the line before and after their content.
var blocks = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Dd: true, atom.Details: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Fieldset: true, atom.Figcaption: true, atom.Figure: true, atom.Footer: true,
	atom.Form: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Header: true, atom.Hr: true, atom.Li: true,
	atom.Main: true, atom.Nav: true, atom.Ol: true, atom.P: true, atom.Pre: true,
	atom.Section: true, atom.Summary: true, atom.Table: true, atom.Tr: true,
	atom.Ul: true, atom.Caption: true, atom.Body: true, atom.Html: true,
}

// InnerText approximates HTMLElement.innerText for an unstyled tree: hidden
// elements are skipped, block elements require a line break (two for <p>),
// <br> is a literal newline, table cells are tab separated, and whitespace
// inside text collapses to one space except under <pre>. Inline wrappers
// such as <mark> never change the result, which is what keeps the
// fingerprint stable across highlighting.
func InnerText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var r textRun
	var walk func(n *html.Node, pre bool)
	walk = func(n *html.Node, pre bool) {
		switch n.Type {
		case html.TextNode:
			if pre {
				r.raw(n.Data)
			} else {
				r.text(n.Data)
			}
			return
		case html.ElementNode:
			if hidden[n.DataAtom] || hasAttr(n, "hidden") {
				return
			}
			switch n.DataAtom {
			case atom.Br:
				r.literal("\n")
				return
			case atom.Td, atom.Th:
				if n.PrevSibling != nil {
					r.literal("\t")
				}
			case atom.Pre:
				pre = true
			}
		}
		brk := 0
		if n.Type == html.ElementNode && blocks[n.DataAtom] {
			brk = 1
			if n.DataAtom == atom.P {
				brk = 2
			}
		}
		r.requireBreak(brk)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, pre)
		}
		r.requireBreak(brk)
	}
	walk(n, false)
	return r.b.String()
}

// textRun accumulates rendered text with pending collapsible space and
// pending required line breaks.
type textRun struct {
	b      strings.Builder
	breaks int
	space  bool
}

func (r *textRun) text(s string) {
	for _, c := range s {
		if unicode.IsSpace(c) {
			r.space = true
			continue
		}
		r.flush()
		r.b.WriteRune(c)
	}
}

func (r *textRun) raw(s string) {
	for _, c := range s {
		if c == '\n' {
			r.literal("\n")
			continue
		}
		r.flush()
		r.b.WriteRune(c)
	}
}

func (r *textRun) literal(s string) {
	r.space = false
	r.flush()
	r.b.WriteString(s)
}

func (r *textRun) requireBreak(n int) {
	if n > r.breaks {
		r.breaks = n
	}
	if n > 0 {
		r.space = false
	}
}

func (r *textRun) flush() {
	if r.breaks > 0 {
		if r.b.Len() > 0 {
			r.b.WriteString(strings.Repeat("\n", r.breaks))
		}
		r.breaks = 0
		r.space = false
		return
	}
	if r.space {
		if s := r.b.String(); len(s) > 0 && s[len(s)-1] != '\n' && s[len(s)-1] != '\t' {
			r.b.WriteByte(' ')
		}
		r.space = false
	}
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
