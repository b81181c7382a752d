package build

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/folio/internal/render"
)

// InjectLiveReload appends the live reload client script to the body of an
// HTML document. Documents with a script element that already references
// the live reload endpoint are returned unchanged.
func InjectLiveReload(document []byte) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	if hasLiveReloadScript(doc) {
		return document, nil
	}

	body := findElement(doc, atom.Body)
	if body == nil {
		// html.Parse always synthesizes a body.
		return nil, fmt.Errorf("document has no body")
	}

	script := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Script,
		Data:     "script",
	}
	script.AppendChild(&html.Node{Type: html.TextNode, Data: render.LiveReloadScript})
	body.AppendChild(script)

	var out bytes.Buffer
	if err := html.Render(&out, doc); err != nil {
		return nil, fmt.Errorf("rendering html: %w", err)
	}
	return out.Bytes(), nil
}

func hasLiveReloadScript(n *html.Node) bool {
	if n.Type == html.ElementNode && n.DataAtom == atom.Script {
		for _, attr := range n.Attr {
			if attr.Key == "src" && strings.Contains(attr.Val, render.LiveReloadPath) {
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode && strings.Contains(c.Data, render.LiveReloadPath) {
				return true
			}
		}
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasLiveReloadScript(c) {
			return true
		}
	}
	return false
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
