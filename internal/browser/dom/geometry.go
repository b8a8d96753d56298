// internal/browser/dom/geometry.go
package dom

import (
	"strconv"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/parser"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/style"
)

// Text metrics for the box approximation.
const (
	charWidth      = 8.0
	lineHeight     = 18.0
	maxTextColumns = 80
)

// ComputedStyle returns the computed style of an element. Inheritance
// follows the flat tree: children of a shadow root inherit from the host.
func (d *Document) ComputedStyle(n *html.Node) style.Computed {
	if !IsElement(n) {
		return style.Initial()
	}
	if c, ok := d.computedCache[n]; ok {
		return c
	}
	parent := style.Initial()
	if p := d.ParentElementOrHost(n); p != nil {
		parent = d.ComputedStyle(p)
	}
	c := style.Resolve(d.styles.Cascade(n, d.sheetsFor(n)), parent, d.viewport)
	d.computedCache[n] = c
	return c
}

func (d *Document) sheetsFor(n *html.Node) []parser.StyleSheet {
	r := RootNode(n)
	if host, ok := d.hosts[r]; ok {
		return d.shadows[host].sheets
	}
	return d.sheets
}

// Rendered reports whether the element and every flat-tree ancestor
// generate boxes, and the node is connected.
func (d *Document) Rendered(n *html.Node) bool {
	if !d.IsConnected(n) {
		return false
	}
	if n.Type == html.TextNode {
		n = d.ParentElementOrHost(n)
	}
	for p := n; p != nil; p = d.ParentElementOrHost(p) {
		if !d.ComputedStyle(p).Rendered() {
			return false
		}
	}
	return n != nil
}

// BoundingClientRect approximates getBoundingClientRect. There is no flow
// layout: a box sits at its parent's origin shifted by explicit left/top
// (fixed boxes are placed against the viewport), uses explicit width/height
// when set, and otherwise grows to cover its rendered children and text.
// Unrendered nodes get a zero rect.
func (d *Document) BoundingClientRect(n *html.Node) schemas.Rect {
	if !IsElement(n) || !d.Rendered(n) {
		return schemas.Rect{}
	}
	if r, ok := d.rectCache[n]; ok {
		return r
	}
	r := d.layoutBox(n)
	d.rectCache[n] = r
	return r
}

func (d *Document) layoutBox(n *html.Node) schemas.Rect {
	cs := d.ComputedStyle(n)
	r := d.layoutOrigin(n)
	if cs.Width.Set && cs.Height.Set {
		r.Width, r.Height = cs.Width.Px, cs.Height.Px
		return r
	}

	w, h := d.intrinsicSize(n, r)
	if cs.Width.Set {
		w = cs.Width.Px
	}
	if cs.Height.Set {
		h = cs.Height.Px
	}
	r.Width, r.Height = w, h
	return r
}

// intrinsicSize covers direct text, <img> attributes and rendered child
// boxes relative to the element's own origin.
func (d *Document) intrinsicSize(n *html.Node, own schemas.Rect) (float64, float64) {
	if n.DataAtom == atom.Img {
		w, _ := strconv.ParseFloat(AttrOr(n, "width"), 64)
		h, _ := strconv.ParseFloat(AttrOr(n, "height"), 64)
		return w, h
	}

	var w, h float64
	columns := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			columns += utf8.RuneCountInString(NormalizeSpace(c.Data))
		}
	}
	if columns > 0 {
		w = float64(min(columns, maxTextColumns)) * charWidth
		h = lineHeight
	}

	extend := func(child *html.Node) {
		cr := d.BoundingClientRect(child)
		if cr.Area() == 0 {
			return
		}
		w = max(w, cr.X+cr.Width-own.X)
		h = max(h, cr.Y+cr.Height-own.Y)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if IsElement(c) {
			extend(c)
		}
	}
	if sr, ok := d.shadows[n]; ok {
		for c := sr.root.FirstChild; c != nil; c = c.NextSibling {
			if IsElement(c) {
				extend(c)
			}
		}
	}
	return max(w, 0), max(h, 0)
}

// layoutOrigin is the top-left corner of n. It depends only on ancestor
// origins, never on ancestor sizes.
func (d *Document) layoutOrigin(n *html.Node) schemas.Rect {
	cs := d.ComputedStyle(n)
	var r schemas.Rect
	if cs.Position != "fixed" {
		if p := d.ParentElementOrHost(n); p != nil {
			r = d.layoutOrigin(p)
		}
	}
	if cs.Position != "static" {
		r.X += cs.Left.Px
		r.Y += cs.Top.Px
	}
	return r
}

// OffsetParent approximates HTMLElement.offsetParent. It is nil for
// unrendered and fixed-position elements, for <body> and <html>, and for
// every element inside a shadow tree.
func (d *Document) OffsetParent(n *html.Node) *html.Node {
	if !IsHTMLElement(n) || !d.Rendered(n) {
		return nil
	}
	if n.DataAtom == atom.Body || n.DataAtom == atom.Html {
		return nil
	}
	if d.ComputedStyle(n).Position == "fixed" {
		return nil
	}
	if d.InShadowTree(n) {
		return nil
	}
	for p := n.Parent; p != nil && p.Type == html.ElementNode; p = p.Parent {
		switch p.DataAtom {
		case atom.Body, atom.Td, atom.Th, atom.Table:
			return p
		}
		if d.ComputedStyle(p).Position != "static" {
			return p
		}
	}
	return d.Body()
}

// ScrollIntoView records the scroll target.
func (d *Document) ScrollIntoView(n *html.Node) {
	d.scrolledTo = n
}

// ScrolledTo returns the last element scrolled into view.
func (d *Document) ScrolledTo() *html.Node { return d.scrolledTo }
