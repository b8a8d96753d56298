// internal/browser/primitives/scan.go
package primitives

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
)

type interactivePart struct {
	css   string
	group cascadia.SelectorGroup
}

// interactiveParts keeps each entry of InteractiveSelector compiled on its
// own so an element can report which one found it.
var interactiveParts = func() []interactivePart {
	var parts []interactivePart
	for _, css := range strings.Split(InteractiveSelector, ", ") {
		parts = append(parts, interactivePart{css: css, group: mustGroup(css)})
	}
	return parts
}()

func matchedInteractive(n *html.Node) string {
	for _, part := range interactiveParts {
		if part.group.Match(n) {
			return part.css
		}
	}
	return ""
}

// listInteractive enumerates interactive elements in flat-tree order.
func (p *page) listInteractive(action schemas.Action, selector string, opts schemas.ActionOptions) schemas.ActionResult {
	root := p.root()
	if opts.ScopeSelector != "" {
		scope, f := p.resolveScope(action, selector, opts.ScopeSelector)
		if f != nil {
			return *f
		}
		root = scope
	}

	limit := p.e.settings.ListLimit
	var nodes []*html.Node
	seen := make(map[*html.Node]struct{})
	p.walkDeep(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode || !interactiveGroup.Match(n) {
			return true
		}
		if _, dup := seen[n]; dup {
			return true
		}
		seen[n] = struct{}{}
		if opts.ScopeRect != nil && !p.doc.BoundingClientRect(n).Intersects(*opts.ScopeRect) {
			return true
		}
		if opts.VisibleOnly && !p.isVisible(n) {
			return true
		}
		nodes = append(nodes, n)
		return len(nodes) < limit
	})

	elements := make([]schemas.InteractiveElement, 0, len(nodes))
	for i, n := range nodes {
		el := schemas.InteractiveElement{
			Index:       i,
			ElementType: elementType(n),
			Tag:         dom.TagName(n),
			Selector:    p.selectorFor(n, matchedInteractive(n)),
			ElementID:   p.handles.idFor(n),
			Label:       p.label(n),
			Role:        roleOf(n),
			Placeholder: dom.AttrOr(n, "placeholder"),
			Visible:     p.isVisible(n),
		}
		if n.DataAtom == atom.Input {
			el.Type = dom.InputType(n)
		}
		elements = append(elements, el)
	}

	return schemas.ActionResult{
		Success:  true,
		Action:   action,
		Selector: selector,
		Value:    len(elements),
		Elements: elements,
	}
}

// elementType is the semantic class reported per element.
func elementType(n *html.Node) string {
	switch n.DataAtom {
	case atom.A:
		return "link"
	case atom.Button:
		return "button"
	case atom.Select:
		return "select"
	case atom.Textarea:
		return "textarea"
	case atom.Input:
		switch dom.InputType(n) {
		case "checkbox", "radio":
			return "checkbox"
		case "submit", "button", "reset", "image":
			return "button"
		}
		return "input"
	}
	switch roleOf(n) {
	case "button", "link", "tab", "menuitem", "checkbox":
		return roleOf(n)
	case "textbox":
		return "input"
	}
	return "interactive"
}
