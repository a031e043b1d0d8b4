package highlight

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/kwalarm/dom"
)

// textNodes returns the text nodes under root that may receive markers:
// non-blank, attached, outside non-rendered elements, outside editable
// regions, and not already inside a marker.
func textNodes(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node, editable bool)
	walk = func(n *html.Node, editable bool) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				if !editable && strings.TrimSpace(c.Data) != "" {
					out = append(out, c)
				}
			case html.ElementNode:
				if skipped[c.DataAtom] || IsMarker(c) {
					continue
				}
				walk(c, editableState(c, editable))
			}
		}
	}
	walk(root, inheritedEditable(root))
	if excludedByAncestor(root) {
		return nil
	}
	return out
}

// editableState applies n's contenteditable attribute, if any, to the
// inherited state.
func editableState(n *html.Node, inherited bool) bool {
	v, ok := dom.Attr(n, "contenteditable")
	if !ok {
		return inherited
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "true", "plaintext-only":
		return true
	case "false":
		return false
	}
	return inherited
}

// inheritedEditable computes whether root itself sits in an editable region.
func inheritedEditable(root *html.Node) bool {
	var chain []*html.Node
	for p := root; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			chain = append(chain, p)
		}
	}
	editable := false
	for i := len(chain) - 1; i >= 0; i-- {
		editable = editableState(chain[i], editable)
	}
	return editable
}

// excludedByAncestor reports whether root lies inside a marker or a
// non-rendered element, in which case nothing under it qualifies.
func excludedByAncestor(root *html.Node) bool {
	for p := root; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && (skipped[p.DataAtom] || IsMarker(p)) {
			return true
		}
	}
	return false
}
