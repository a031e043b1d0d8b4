// Package highlight wraps keyword matches found in a subtree's text nodes in
// <mark> elements and reverses that transformation without residue.
//
// Highlight and Cleanup are used as a pair per scan cycle: cleanup first,
// then highlight, so markers from an earlier cycle never stack up.
package highlight

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/kwalarm/dom"
	"github.com/hazyhaar/kwalarm/phrase"
)

// MarkerClass identifies highlight markers.
const MarkerClass = "kw-alarm-mark"

// markerStyle is the inline style put on every marker, so a marker stays
// visible even where the page strips foreign style sheets.
const markerStyle = "padding:0 .15em;border-radius:.15em;background:yellow;font-weight:700"

// StyleSheet is the CSS rule set injected once into pages that render markers.
const StyleSheet = `mark.kw-alarm-mark {
  background: yellow !important;
  color: inherit !important;
  font-weight: 700 !important;
  padding: 0 .15em !important;
  border-radius: .15em !important;
}`

// skipped elements never receive markers: their text is not rendered.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Textarea: true,
}

// IsMarker reports whether n is a highlight marker.
func IsMarker(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && n.DataAtom == atom.Mark && dom.HasClass(n, MarkerClass)
}

// Markers returns the markers under root in document order.
func Markers(root *html.Node) []*html.Node {
	var out []*html.Node
	dom.Walk(root, func(n *html.Node) bool {
		if IsMarker(n) {
			out = append(out, n)
			return false
		}
		return true
	})
	return out
}

// Cleanup replaces every marker under container with a plain text node
// holding its text, then normalizes the affected parents so adjacent text
// nodes merge back together. It returns the number of markers removed and
// is a no-op, with no mutations, when there are none.
func Cleanup(doc *dom.Document, container *html.Node) int {
	if container == nil {
		return 0
	}
	marks := Markers(container)
	if len(marks) == 0 {
		return 0
	}

	var parents []*html.Node
	seen := make(map[*html.Node]bool)
	removed := 0
	for _, m := range marks {
		parent := m.Parent
		if parent == nil {
			continue
		}
		t := &html.Node{Type: html.TextNode, Data: dom.TextContent(m)}
		if !doc.ReplaceNode(m, t) {
			continue
		}
		removed++
		if !seen[parent] {
			seen[parent] = true
			parents = append(parents, parent)
		}
	}
	for _, p := range parents {
		doc.Normalize(p)
	}
	return removed
}

// Highlight wraps every match of p in the qualifying text nodes under
// container. Qualifying text nodes are collected before any write; each one
// that matches is then replaced by its fragment sequence in a single write.
// Nodes detached in between are skipped. It returns the number of markers
// inserted.
func Highlight(doc *dom.Document, container *html.Node, p *phrase.Pattern) int {
	if container == nil || p == nil {
		return 0
	}
	inserted := 0
	for _, tn := range textNodes(container) {
		if tn.Parent == nil {
			continue
		}
		locs := p.FindAllIndex(tn.Data)
		if len(locs) == 0 {
			continue
		}
		frags := fragments(tn.Data, locs)
		if doc.ReplaceNode(tn, frags...) {
			inserted += len(locs)
		}
	}
	return inserted
}

// fragments splits text into plain and marker nodes following locs.
func fragments(text string, locs [][]int) []*html.Node {
	out := make([]*html.Node, 0, 2*len(locs)+1)
	last := 0
	for _, loc := range locs {
		if before := text[last:loc[0]]; before != "" {
			out = append(out, &html.Node{Type: html.TextNode, Data: before})
		}
		out = append(out, newMarker(text[loc[0]:loc[1]]))
		last = loc[1]
	}
	if after := text[last:]; after != "" {
		out = append(out, &html.Node{Type: html.TextNode, Data: after})
	}
	return out
}

func newMarker(hit string) *html.Node {
	m := &html.Node{
		Type:     html.ElementNode,
		Data:     "mark",
		DataAtom: atom.Mark,
		Attr: []html.Attribute{
			{Key: "class", Val: MarkerClass},
			{Key: "style", Val: markerStyle},
		},
	}
	m.AppendChild(&html.Node{Type: html.TextNode, Data: hit})
	return m
}
