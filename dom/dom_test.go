package dom

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func parse(t *testing.T, s string) *Document {
	t.Helper()
	d, err := ParseString(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

func text(s string) *html.Node { return &html.Node{Type: html.TextNode, Data: s} }

func TestDocument_BodyAndElement(t *testing.T) {
	d := parse(t, `<p>hi</p>`)
	if de := d.DocumentElement(); de == nil || de.DataAtom != atom.Html {
		t.Fatalf("DocumentElement: got %v", de)
	}
	if b := d.Body(); b == nil || b.DataAtom != atom.Body {
		t.Fatalf("Body: got %v", b)
	}
}

func TestDocument_ObserveReplace(t *testing.T) {
	d := parse(t, `<div id="x">alpha beta</div>`)
	var got []Mutation
	cancel := d.Observe(func(m Mutation) { got = append(got, m) })

	div := d.Body().FirstChild
	old := div.FirstChild
	if !d.ReplaceNode(old, text("alpha "), text("beta")) {
		t.Fatal("ReplaceNode: got false")
	}
	if len(got) != 1 || got[0].Kind != ChildList || got[0].Target != div {
		t.Fatalf("mutations: got %+v", got)
	}
	if TextContent(div) != "alpha beta" {
		t.Errorf("TextContent: got %q", TextContent(div))
	}

	cancel()
	d.Normalize(div)
	if len(got) != 1 {
		t.Errorf("cancelled observer still notified: %d", len(got))
	}
	if div.FirstChild == nil || div.FirstChild != div.LastChild {
		t.Error("Normalize: adjacent text nodes not merged")
	}
}

func TestDocument_ReplaceDetached(t *testing.T) {
	d := parse(t, `<div>x</div>`)
	calls := 0
	d.Observe(func(Mutation) { calls++ })
	orphan := text("orphan")
	if d.ReplaceNode(orphan, text("y")) {
		t.Error("ReplaceNode on detached node: got true")
	}
	if calls != 0 {
		t.Errorf("detached replace notified %d times", calls)
	}
}

func TestDocument_NormalizeNoChangeNoNotify(t *testing.T) {
	d := parse(t, `<div><p>one</p><p>two</p></div>`)
	calls := 0
	d.Observe(func(Mutation) { calls++ })
	d.Normalize(d.Body())
	if calls != 0 {
		t.Errorf("Normalize on normalized tree notified %d times", calls)
	}
}

func TestDocument_NormalizeDropsEmpty(t *testing.T) {
	d := parse(t, `<div>a</div>`)
	div := d.Body().FirstChild
	div.AppendChild(text(""))
	div.AppendChild(text("b"))
	d.Normalize(div)
	if div.FirstChild.Data != "ab" || div.FirstChild.NextSibling != nil {
		t.Errorf("got %q", RenderChildren(div))
	}
}

func TestDocument_ResetDetachesOldTree(t *testing.T) {
	d := parse(t, `<div id="old">x</div>`)
	oldBody := d.Body()
	var kinds []MutationKind
	d.Observe(func(m Mutation) { kinds = append(kinds, m.Kind) })

	next, _ := html.Parse(strings.NewReader(`<div id="new">y</div>`))
	d.Reset(next)
	if d.Contains(oldBody) {
		t.Error("old body still contained after Reset")
	}
	if !d.Contains(d.Body()) {
		t.Error("new body not contained")
	}
	if len(kinds) != 1 || kinds[0] != DocumentReset {
		t.Errorf("kinds: got %v", kinds)
	}
}

func TestInnerText(t *testing.T) {
	d := parse(t, `<html><head><title>T</title><style>.a{}</style></head><body>
		<div>Must   have <b>US</b>
		sponsorship</div><script>var visa = 1</script>
		<p>valid visa.</p><noscript>nope</noscript><ul><li>one</li><li>two</li></ul>
		<p>line<br>break</p><div hidden>secret</div></body></html>`)

	got := InnerText(d.Body())
	want := "Must have US sponsorship\n\nvalid visa.\n\none\ntwo\n\nline\nbreak"
	if got != want {
		t.Errorf("InnerText:\n got %q\nwant %q", got, want)
	}
}

func TestInnerText_StableUnderInlineSplit(t *testing.T) {
	d := parse(t, `<p>needs a valid visa today</p>`)
	p := d.Body().FirstChild
	before := InnerText(p)

	mark := &html.Node{Type: html.ElementNode, Data: "mark", DataAtom: atom.Mark}
	mark.AppendChild(text("visa"))
	d.ReplaceNode(p.FirstChild, text("needs a valid "), mark, text(" today"))

	if after := InnerText(p); after != before {
		t.Errorf("InnerText changed: %q -> %q", before, after)
	}
}

func TestTextContentIncludesScript(t *testing.T) {
	d := parse(t, `<div>a<script>b</script>c</div>`)
	if got := TextContent(d.Body().FirstChild); got != "abc" {
		t.Errorf("TextContent: got %q", got)
	}
}

func TestClosestAndHasClass(t *testing.T) {
	d := parse(t, `<div class="outer x"><span><i>deep</i></span></div>`)
	i := d.Body().FirstChild.FirstChild.FirstChild
	got := Closest(i, func(n *html.Node) bool { return HasClass(n, "outer") })
	if got == nil || got.DataAtom != atom.Div {
		t.Errorf("Closest: got %v", got)
	}
	if Closest(i, func(n *html.Node) bool { return HasClass(n, "missing") }) != nil {
		t.Error("Closest: expected nil")
	}
}

func TestClone(t *testing.T) {
	d := parse(t, `<div class="c"><p>x</p></div>`)
	div := d.Body().FirstChild
	c := Clone(div)
	if c.Parent != nil {
		t.Error("clone must be detached")
	}
	if Render(c) != Render(div) {
		t.Errorf("clone: got %s want %s", Render(c), Render(div))
	}
	c.FirstChild.FirstChild.Data = "changed"
	if TextContent(div) != "x" {
		t.Error("clone shares nodes with source")
	}
}
