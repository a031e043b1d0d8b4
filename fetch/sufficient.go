package fetch

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/kwalarm/dom"
)

// minText is the visible text, in runes, a page needs before a static fetch
// is trusted to show what a browser would.
const minText = 200

// shellIDs are mount points of client-rendered apps.
var shellIDs = map[string]bool{"root": true, "app": true, "__next": true}

// Sufficient reports whether doc looks server-rendered: enough visible body
// text and no empty single-page-app mount point.
func Sufficient(doc *dom.Document) bool {
	body := doc.Body()
	if body == nil {
		return false
	}
	if len([]rune(strings.TrimSpace(dom.InnerText(body)))) < minText {
		return false
	}
	shell := false
	dom.Walk(body, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if id, ok := dom.Attr(n, "id"); ok && shellIDs[id] && strings.TrimSpace(dom.TextContent(n)) == "" {
			shell = true
			return false
		}
		return true
	})
	return !shell
}
