// internal/browser/primitives/describe.go
package primitives

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
)

const (
	textPreviewLength  = 80
	selectorTextLength = 40
	labelLength        = 80
)

// roleOf returns the explicit role, else the implicit role of common controls.
func roleOf(n *html.Node) string {
	if r := strings.TrimSpace(dom.AttrOr(n, "role")); r != "" {
		return strings.ToLower(strings.Fields(r)[0])
	}
	switch n.DataAtom {
	case atom.Button:
		return "button"
	case atom.A:
		if dom.HasAttr(n, "href") {
			return "link"
		}
	case atom.Textarea:
		return "textbox"
	case atom.Select:
		return "combobox"
	case atom.Dialog:
		return "dialog"
	case atom.Input:
		switch dom.InputType(n) {
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "submit", "button", "reset", "image":
			return "button"
		case "search":
			return "searchbox"
		case "hidden":
			return ""
		}
		if dom.IsTextEntry(n) {
			return "textbox"
		}
	}
	return ""
}

// isTextbox reports elements that take typed text.
func (p *page) isTextbox(n *html.Node) bool {
	return dom.IsTextEntry(n) || p.doc.IsContentEditable(n) || roleOf(n) == "textbox" || roleOf(n) == "searchbox"
}

func (p *page) text(n *html.Node) string {
	if dom.IsHTMLElement(n) {
		return p.doc.InnerText(n)
	}
	return dom.TextContent(n)
}

func (p *page) textPreview(n *html.Node) string {
	return dom.Preview(p.text(n), textPreviewLength)
}

// label returns the best human-readable name of an element.
func (p *page) label(n *html.Node) string {
	if v := dom.NormalizeSpace(dom.AttrOr(n, "aria-label")); v != "" {
		return dom.Preview(v, labelLength)
	}
	if ids := strings.Fields(dom.AttrOr(n, "aria-labelledby")); len(ids) > 0 {
		var parts []string
		for _, id := range ids {
			if ref := dom.GetElementByID(dom.RootNode(n), id); ref != nil {
				parts = append(parts, p.text(ref))
			}
		}
		if v := dom.NormalizeSpace(strings.Join(parts, " ")); v != "" {
			return dom.Preview(v, labelLength)
		}
	}
	if v := p.associatedLabel(n); v != "" {
		return dom.Preview(v, labelLength)
	}
	if v := dom.NormalizeSpace(dom.AttrOr(n, "placeholder")); v != "" {
		return dom.Preview(v, labelLength)
	}
	if n.DataAtom == atom.Input {
		switch dom.InputType(n) {
		case "submit", "button", "reset":
			if v := dom.NormalizeSpace(dom.AttrOr(n, "value")); v != "" {
				return dom.Preview(v, labelLength)
			}
		}
	}
	if v := dom.NormalizeSpace(p.text(n)); v != "" {
		return dom.Preview(v, labelLength)
	}
	for _, attr := range []string{"title", "alt", "name"} {
		if v := dom.NormalizeSpace(dom.AttrOr(n, attr)); v != "" {
			return dom.Preview(v, labelLength)
		}
	}
	return ""
}

// associatedLabel returns the text of <label for=id> or a wrapping label.
func (p *page) associatedLabel(n *html.Node) string {
	if n.DataAtom == atom.Label {
		return ""
	}
	if id := dom.AttrOr(n, "id"); id != "" {
		var text string
		dom.WalkLight(dom.RootNode(n), func(c *html.Node) bool {
			if text != "" {
				return false
			}
			if c.DataAtom == atom.Label && dom.AttrOr(c, "for") == id {
				text = dom.NormalizeSpace(dom.TextContent(c))
			}
			return true
		})
		if text != "" {
			return text
		}
	}
	for a := n.Parent; a != nil && a.Type == html.ElementNode; a = a.Parent {
		if a.DataAtom == atom.Label {
			return dom.NormalizeSpace(dom.TextContent(a))
		}
	}
	return ""
}

// -- Selector Synthesis --

// selectorFor builds a selector that resolves back to n from the document:
// a base selector wrapped in host >>> segments for shadow trees, with an
// :nth-match suffix when the base alone is not unique. fallback is the CSS
// the element was found with, used when nothing more specific round-trips.
func (p *page) selectorFor(n *html.Node, fallback string) string {
	var hosts []*html.Node
	for r := dom.RootNode(n); p.doc.IsShadowRoot(r); r = dom.RootNode(hosts[0]) {
		hosts = append([]*html.Node{p.doc.Host(r)}, hosts...)
	}
	segments := make([]string, 0, len(hosts)+1)
	for _, h := range hosts {
		segments = append(segments, p.uniqueWithin(h, p.baseSelector(h, dom.TagName(h))))
	}
	segments = append(segments, p.baseSelector(n, fallback))
	return p.uniqueWithin(n, strings.Join(segments, " "+DeepCombinator+" "))
}

// uniqueWithin adds :nth-match(k) when selector names more than n from the
// document (or from n's tree for a plain segment).
func (p *page) uniqueWithin(n *html.Node, selector string) string {
	root := p.root()
	if !strings.Contains(selector, DeepCombinator) {
		root = dom.RootNode(n)
	}
	all, err := p.resolveElements(selector, root)
	if err != nil || len(all) < 2 {
		return selector
	}
	for i, m := range all {
		if m == n {
			return fmt.Sprintf("%s:nth-match(%d)", selector, i+1)
		}
	}
	return selector
}

// baseSelector picks the most specific selector, relative to n's own tree,
// whose matches include n: id, control name, aria-label, placeholder, a
// text snippet, then fallback.
func (p *page) baseSelector(n *html.Node, fallback string) string {
	root := dom.RootNode(n)
	tag := dom.TagName(n)
	var options []string
	if id := dom.AttrOr(n, "id"); id != "" {
		if isPlainIdent(id) {
			options = append(options, "#"+id)
		} else {
			options = append(options, "[id="+cssString(id)+"]")
		}
	}
	if name := dom.AttrOr(n, "name"); name != "" {
		switch n.DataAtom {
		case atom.Input, atom.Select, atom.Textarea:
			options = append(options, tag+"[name="+cssString(name)+"]")
		}
	}
	if v := dom.AttrOr(n, "aria-label"); v != "" {
		options = append(options, "[aria-label="+cssString(v)+"]")
	}
	if v := dom.AttrOr(n, "placeholder"); v != "" {
		options = append(options, "[placeholder="+cssString(v)+"]")
	}
	if t := dom.Preview(p.text(n), selectorTextLength); t != "" && !strings.Contains(t, DeepCombinator) {
		options = append(options, "text="+t)
	}
	if fallback == "" {
		fallback = tag
	}
	options = append(options, fallback)

	for _, sel := range options {
		matches, err := p.resolveElements(sel, root)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if m == n {
				return sel
			}
		}
	}
	return tag
}

func isPlainIdent(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r >= 0x80:
		case r >= '0' && r <= '9', r == '-':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return s != ""
}

func cssString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\a `)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// -- Evidence --

func (p *page) evidence(n *html.Node, selector string, opts schemas.ActionOptions) *schemas.MatchEvidence {
	if selector == "" {
		selector = p.selectorFor(n, "")
	}
	return &schemas.MatchEvidence{
		Tag:           dom.TagName(n),
		Role:          roleOf(n),
		AriaLabel:     dom.AttrOr(n, "aria-label"),
		TextPreview:   p.textPreview(n),
		Selector:      selector,
		ElementID:     p.handles.idFor(n),
		ScopeSelector: opts.ScopeSelector,
		ScopeRect:     opts.ScopeRect,
	}
}

func (p *page) candidate(n *html.Node) schemas.Candidate {
	return schemas.Candidate{
		Tag:         dom.TagName(n),
		Role:        roleOf(n),
		AriaLabel:   dom.AttrOr(n, "aria-label"),
		TextPreview: p.textPreview(n),
		Selector:    p.selectorFor(n, ""),
		ElementID:   p.handles.idFor(n),
		Visible:     p.isVisible(n),
	}
}

func (p *page) candidates(nodes []*html.Node) []schemas.Candidate {
	limit := min(len(nodes), p.e.settings.CandidateLimit)
	out := make([]schemas.Candidate, 0, limit)
	for _, n := range nodes[:limit] {
		out = append(out, p.candidate(n))
	}
	return out
}
