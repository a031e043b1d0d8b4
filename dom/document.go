// Package dom holds the single in-memory HTML document a scan operates on.
//
// A Document wraps an x/net/html tree and is the only place tree writes
// happen. Every write notifies the registered observers synchronously, the
// same way a browser MutationObserver sees childList records. A Document is not safe for concurrent use: its owner (the scan
// coordinator loop) serialises all access.
package dom

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MutationKind classifies a tree write.
type MutationKind int

const (
	ChildList MutationKind = iota
	DocumentReset
)

func (k MutationKind) String() string {
	switch k {
	case ChildList:
		return "childList"
	case DocumentReset:
		return "reset"
	}
	return fmt.Sprintf("MutationKind(%d)", int(k))
}

// Mutation describes one write. Target is the node whose children or text
// changed (the new root for DocumentReset).
type Mutation struct {
	Kind   MutationKind
	Target *html.Node
}

// Observer receives mutation notifications.
type Observer func(Mutation)

// Document is an observed HTML tree.
type Document struct {
	root      *html.Node
	url       string
	observers map[int]Observer
	nextID    int
}

// New wraps an already parsed tree. A nil root yields an empty document.
func New(root *html.Node) *Document {
	if root == nil {
		root = &html.Node{Type: html.DocumentNode}
	}
	return &Document{root: root, observers: make(map[int]Observer)}
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return New(root), nil
}

// ParseString is Parse for an in-memory string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// URL returns the address the document was loaded from, if known.
func (d *Document) URL() string { return d.url }

// SetURL records the document address. It is not a tree write.
func (d *Document) SetURL(u string) { d.url = u }

// DocumentElement returns the <html> element, or nil.
func (d *Document) DocumentElement() *html.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// Body returns the <body> element, or nil.
func (d *Document) Body() *html.Node {
	de := d.DocumentElement()
	if de == nil {
		return nil
	}
	for c := de.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Body {
			return c
		}
	}
	return nil
}

// Observe registers fn for every subsequent write. The returned function
// removes the registration.
func (d *Document) Observe(fn Observer) (cancel func()) {
	id := d.nextID
	d.nextID++
	d.observers[id] = fn
	return func() { delete(d.observers, id) }
}

func (d *Document) notify(kind MutationKind, target *html.Node) {
	m := Mutation{Kind: kind, Target: target}
	for _, fn := range d.observers {
		fn(m)
	}
}

// Contains reports whether n is attached to this document's tree.
func (d *Document) Contains(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// Reset swaps the whole tree, as a document.open or a full mirror refresh
// would. Nodes of the previous tree become detached.
func (d *Document) Reset(root *html.Node) {
	if root == nil {
		root = &html.Node{Type: html.DocumentNode}
	}
	d.root = root
	d.notify(DocumentReset, root)
}

// ReplaceNode replaces old with nodes, in order, in a single write. It returns
// false, and changes nothing, when old is no longer attached to a parent.
// The replacement nodes must be detached.
func (d *Document) ReplaceNode(old *html.Node, nodes ...*html.Node) bool {
	parent := old.Parent
	if parent == nil {
		return false
	}
	for _, n := range nodes {
		parent.InsertBefore(n, old)
	}
	parent.RemoveChild(old)
	d.notify(ChildList, parent)
	return true
}

// AppendChild appends child to parent.
func (d *Document) AppendChild(parent, child *html.Node) {
	parent.AppendChild(child)
	d.notify(ChildList, parent)
}

// RemoveNode detaches n from its parent. Detached nodes are ignored.
func (d *Document) RemoveNode(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	parent.RemoveChild(n)
	d.notify(ChildList, parent)
}

// Normalize merges adjacent text nodes and drops empty ones throughout the
// subtree rooted at n, like Node.normalize(). It notifies once per parent
// whose child list actually changed.
func (d *Document) Normalize(n *html.Node) {
	changed := false
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type != html.TextNode {
			d.Normalize(c)
			c = next
			continue
		}
		if c.Data == "" {
			n.RemoveChild(c)
			changed = true
			c = next
			continue
		}
		for next != nil && next.Type == html.TextNode {
			c.Data += next.Data
			after := next.NextSibling
			n.RemoveChild(next)
			changed = true
			next = after
		}
		c = next
	}
	if changed {
		d.notify(ChildList, n)
	}
}
