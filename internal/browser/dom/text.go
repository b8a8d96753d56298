// internal/browser/dom/text.go
package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// TextContent concatenates the data of every descendant text node in the
// light tree.
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	walkLight(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

// InnerText approximates HTMLElement.innerText: rendered text only,
// whitespace collapsed, one line per block box and <br>. Elements that are
// not rendered return their textContent, as browsers do.
func (d *Document) InnerText(n *html.Node) string {
	if !IsElement(n) {
		return TextContent(n)
	}
	if !d.Rendered(n) {
		return TextContent(n)
	}
	var b strings.Builder
	d.collectInnerText(n, &b)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func (d *Document) collectInnerText(n *html.Node, b *strings.Builder) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			b.WriteString(collapseWhitespace(c.Data))
		case html.ElementNode:
			if c.DataAtom == atom.Br {
				b.WriteByte('\n')
				continue
			}
			cs := d.ComputedStyle(c)
			if !cs.Rendered() {
				continue
			}
			block := isBlockDisplay(cs.Display)
			if block {
				b.WriteByte('\n')
			}
			if !cs.Hidden() {
				d.collectInnerText(c, b)
			}
			if block {
				b.WriteByte('\n')
			}
		}
	}
}

func isBlockDisplay(display string) bool {
	switch display {
	case "block", "list-item", "flex", "grid", "table", "table-row", "flow-root":
		return true
	}
	return false
}

func collapseWhitespace(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	space := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	if space {
		b.WriteByte(' ')
	}
	return b.String()
}

// NormalizeSpace trims and collapses internal whitespace runs.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Preview returns the first max runes of normalized text.
func Preview(s string, max int) string {
	s = NormalizeSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
