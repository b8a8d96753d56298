// internal/browser/shadowdom/shadow.go
package shadowdom

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-pilot/internal/browser/parser"
)

// RootData marks the detached document node that stands in for a shadow root.
const RootData = "shadow-root-boundary"

// Mode is the shadow root mode declared on the template.
type Mode string

const (
	ModeOpen   Mode = "open"
	ModeClosed Mode = "closed"
)

// Attachment is one instantiated shadow root.
type Attachment struct {
	Host   *html.Node
	Root   *html.Node
	Mode   Mode
	Sheets []parser.StyleSheet
}

// Engine instantiates declarative shadow roots (<template shadowrootmode>).
type Engine struct{}

// DetectShadowHost reports whether node has a direct template child that
// declares a shadow root.
func (e Engine) DetectShadowHost(node *html.Node) bool {
	return declarativeTemplate(node) != nil
}

// InstantiateShadowRoot moves the declaring template's content into a new
// shadow root, removes the template from the host and extracts <style>
// elements as scoped sheets. Nested declarative templates are left inert.
func (e Engine) InstantiateShadowRoot(host *html.Node) (*html.Node, Mode, []parser.StyleSheet) {
	tmpl := declarativeTemplate(host)
	if tmpl == nil {
		return nil, "", nil
	}
	mode := Mode(strings.ToLower(getAttr(tmpl, "shadowrootmode")))

	root := &html.Node{Type: html.DocumentNode, Data: RootData}
	for c := tmpl.FirstChild; c != nil; {
		next := c.NextSibling
		tmpl.RemoveChild(c)
		root.AppendChild(c)
		c = next
	}
	host.RemoveChild(tmpl)

	var sheets []parser.StyleSheet
	var styles []*html.Node
	var collect func(n *html.Node)
	collect = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.Data == "template" {
				continue
			}
			if c.Data == "style" {
				styles = append(styles, c)
				continue
			}
			collect(c)
		}
	}
	collect(root)
	for _, s := range styles {
		sheets = append(sheets, parser.NewParser(textOf(s)).Parse())
		s.Parent.RemoveChild(s)
	}
	return root, mode, sheets
}

// AttachAll instantiates every declarative shadow root under root, including
// those nested inside other shadow roots, in tree order.
func (e Engine) AttachAll(root *html.Node) []Attachment {
	var out []Attachment
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if e.DetectShadowHost(c) {
				sr, mode, sheets := e.InstantiateShadowRoot(c)
				out = append(out, Attachment{Host: c, Root: sr, Mode: mode, Sheets: sheets})
				walk(sr)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func declarativeTemplate(node *html.Node) *html.Node {
	if node == nil || node.Type != html.ElementNode {
		return nil
	}
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "template" {
			switch strings.ToLower(getAttr(c, "shadowrootmode")) {
			case string(ModeOpen), string(ModeClosed):
				return c
			}
		}
	}
	return nil
}

func getAttr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, key) {
			return attr.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}
