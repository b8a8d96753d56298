// internal/browser/primitives/resolver.go
package primitives

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
)

// DeepCombinator separates a shadow host selector from a selector evaluated
// inside its shadow root.
const DeepCombinator = ">>>"

var (
	nthMatchPattern = regexp.MustCompile(`^(.+?):nth-match\(\s*([-+]?\d+)\s*\)\s*$`)

	// textTargets are the ancestors a text= match prefers over the text's parent.
	textTargets = mustGroup(`a, button, [role="button"], [role="link"], label, summary`)

	labelControls = mustGroup(`input, select, textarea`)
)

// mustGroup parses a selector group known at compile time.
func mustGroup(selector string) cascadia.SelectorGroup {
	group, err := cascadia.ParseGroup(selector)
	if err != nil {
		panic("primitives: bad built-in selector " + selector + ": " + err.Error())
	}
	return group
}

// parsedSelector is a selector with its :nth-match suffix split off.
type parsedSelector struct {
	base   string
	nth    int // 1-based; values below 1 match nothing
	hasNth bool
}

func parseSelector(selector string) parsedSelector {
	ps := parsedSelector{base: strings.TrimSpace(selector)}
	if m := nthMatchPattern.FindStringSubmatch(ps.base); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil {
			ps.base = strings.TrimSpace(m[1])
			ps.nth = n
			ps.hasNth = true
		}
	}
	return ps
}

// HasNthMatch reports whether selector ends in :nth-match(N).
func HasNthMatch(selector string) bool {
	return parseSelector(selector).hasNth
}

func splitSemantic(selector string) (prefix, value string, ok bool) {
	for _, p := range []string{"text=", "role=", "placeholder=", "label=", "aria-label="} {
		if strings.HasPrefix(selector, p) {
			return strings.TrimSuffix(p, "="), strings.TrimSpace(selector[len(p):]), true
		}
	}
	return "", "", false
}

// -- Resolution --

// resolveElement returns the single element a selector names inside scope,
// or nil. CSS selectors take the light-tree fast path before searching
// shadow roots; semantic selectors prefer the first visible match.
func (p *page) resolveElement(selector string, scope *html.Node) (*html.Node, error) {
	ps := parseSelector(selector)
	if ps.base == "" {
		return nil, nil
	}
	if ps.hasNth {
		all, err := p.resolveElements(selector, scope)
		if err != nil || len(all) == 0 {
			return nil, err
		}
		return all[0], nil
	}
	if strings.Contains(ps.base, DeepCombinator) {
		root, last, err := p.descendHosts(ps.base, scope)
		if root == nil || err != nil {
			return nil, err
		}
		return p.resolveElement(last, root)
	}
	if prefix, value, ok := splitSemantic(ps.base); ok {
		return p.preferVisible(p.semantic(prefix, value, scope)), nil
	}

	group, err := dom.Compile(ps.base)
	if err != nil {
		return nil, err
	}
	if n := cascadia.Query(scope, group); n != nil {
		return n, nil
	}
	all := p.queryAllDeep(scope, group, 0)
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

// resolveElements returns every element the selector names inside scope in
// a stable order: light-tree matches first, then each open shadow root in
// tree order.
func (p *page) resolveElements(selector string, scope *html.Node) ([]*html.Node, error) {
	ps := parseSelector(selector)
	if ps.base == "" {
		return nil, nil
	}
	if ps.hasNth {
		if ps.nth < 1 {
			return nil, nil
		}
		all, err := p.resolveElements(ps.base, scope)
		if err != nil || ps.nth > len(all) {
			return nil, err
		}
		return []*html.Node{all[ps.nth-1]}, nil
	}
	if strings.Contains(ps.base, DeepCombinator) {
		root, last, err := p.descendHosts(ps.base, scope)
		if root == nil || err != nil {
			return nil, err
		}
		return p.resolveElements(last, root)
	}
	if prefix, value, ok := splitSemantic(ps.base); ok {
		return p.semantic(prefix, value, scope), nil
	}

	group, err := dom.Compile(ps.base)
	if err != nil {
		return nil, err
	}
	return dedupe(p.queryAllDeep(scope, group, 0)), nil
}

// descendHosts resolves every host segment of a deep selector and returns
// the innermost shadow root with the final segment.
func (p *page) descendHosts(selector string, scope *html.Node) (*html.Node, string, error) {
	segments := strings.Split(selector, DeepCombinator)
	for i := range segments {
		segments[i] = strings.TrimSpace(segments[i])
		if segments[i] == "" {
			return nil, "", nil
		}
	}
	root := scope
	for _, seg := range segments[:len(segments)-1] {
		host, err := p.resolveElement(seg, root)
		if host == nil || err != nil {
			return nil, "", err
		}
		root = p.doc.ShadowRoot(host)
		if root == nil {
			return nil, "", nil
		}
	}
	return root, segments[len(segments)-1], nil
}

// queryAllDeep runs a compiled selector in root and in every open shadow
// root beneath it, bounded by the shadow depth setting.
func (p *page) queryAllDeep(root *html.Node, group cascadia.SelectorGroup, depth int) []*html.Node {
	out := cascadia.QueryAll(root, group)
	if depth >= p.e.settings.ShadowDepth {
		return out
	}
	for _, sr := range p.openShadowRoots(root) {
		out = append(out, p.queryAllDeep(sr, group, depth+1)...)
	}
	return out
}

// openShadowRoots lists the open shadow roots hosted by root or by an
// element of its light tree.
func (p *page) openShadowRoots(root *html.Node) []*html.Node {
	var roots []*html.Node
	if sr := p.doc.ShadowRoot(root); sr != nil && root.Type == html.ElementNode {
		roots = append(roots, sr)
	}
	dom.WalkLight(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if sr := p.doc.ShadowRoot(n); sr != nil {
				roots = append(roots, sr)
			}
		}
		return true
	})
	return roots
}

// walkDeep visits every node under root in flat-tree order: a host, then
// its shadow tree, then its light children. A root that is itself a host
// starts with its own shadow tree. fn returns false to stop.
func (p *page) walkDeep(root *html.Node, fn func(n *html.Node) bool) {
	var walk func(n *html.Node, depth int) bool
	walk = func(n *html.Node, depth int) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !fn(c) {
				return false
			}
			if c.Type == html.ElementNode && depth < p.e.settings.ShadowDepth {
				if sr := p.doc.ShadowRoot(c); sr != nil {
					if !walk(sr, depth+1) {
						return false
					}
				}
			}
			if !walk(c, depth) {
				return false
			}
		}
		return true
	}
	if root.Type == html.ElementNode {
		if sr := p.doc.ShadowRoot(root); sr != nil && !walk(sr, 1) {
			return
		}
	}
	walk(root, 0)
}

// -- Semantic Selectors --

func (p *page) semantic(prefix, value string, scope *html.Node) []*html.Node {
	if value == "" {
		return nil
	}
	switch prefix {
	case "text":
		return p.byText(value, scope)
	case "role", "placeholder":
		return p.byAttr(prefix, value, scope)
	case "label":
		return p.byLabel(value, scope)
	case "aria-label":
		exact := p.byAttr("aria-label", value, scope)
		if len(exact) > 0 {
			return exact
		}
		return p.filterElements(scope, func(n *html.Node) bool {
			v, ok := dom.Attr(n, "aria-label")
			return ok && strings.HasPrefix(v, value)
		})
	}
	return nil
}

func (p *page) byText(value string, scope *html.Node) []*html.Node {
	var out []*html.Node
	p.walkDeep(scope, func(n *html.Node) bool {
		if n.Type != html.TextNode || n.Parent == nil {
			return true
		}
		if n.Parent.DataAtom == atom.Script || n.Parent.DataAtom == atom.Style {
			return true
		}
		if !strings.Contains(strings.TrimSpace(n.Data), value) {
			return true
		}
		if target := closestLight(n.Parent, textTargets); target != nil {
			out = append(out, target)
		} else if dom.IsElement(n.Parent) {
			out = append(out, n.Parent)
		}
		return true
	})
	return dedupe(out)
}

func (p *page) byAttr(key, value string, scope *html.Node) []*html.Node {
	return p.filterElements(scope, func(n *html.Node) bool {
		v, ok := dom.Attr(n, key)
		return ok && v == value
	})
}

func (p *page) byLabel(value string, scope *html.Node) []*html.Node {
	labels := p.filterElements(scope, func(n *html.Node) bool {
		return n.DataAtom == atom.Label && strings.Contains(dom.TextContent(n), value)
	})
	var out []*html.Node
	for _, label := range labels {
		if id, ok := dom.Attr(label, "for"); ok && id != "" {
			target := dom.GetElementByID(scope, id)
			if target == nil && scope == p.root() {
				target = dom.GetElementByID(dom.RootNode(label), id)
			}
			if target != nil {
				out = append(out, target)
				continue
			}
		}
		if nested := cascadia.Query(label, labelControls); nested != nil {
			out = append(out, nested)
			continue
		}
		out = append(out, label)
	}
	return dedupe(out)
}

func (p *page) filterElements(scope *html.Node, keep func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	p.walkDeep(scope, func(n *html.Node) bool {
		if n.Type == html.ElementNode && keep(n) {
			out = append(out, n)
		}
		return true
	})
	return out
}

func (p *page) preferVisible(nodes []*html.Node) *html.Node {
	for _, n := range nodes {
		if p.isVisible(n) {
			return n
		}
	}
	if len(nodes) > 0 {
		return nodes[0]
	}
	return nil
}

// closestLight mirrors Element.closest: it walks parents within one tree.
func closestLight(n *html.Node, group cascadia.SelectorGroup) *html.Node {
	for c := n; c != nil && c.Type == html.ElementNode; c = c.Parent {
		if group.Match(c) {
			return c
		}
	}
	return nil
}

func dedupe(nodes []*html.Node) []*html.Node {
	if len(nodes) < 2 {
		return nodes
	}
	seen := make(map[*html.Node]struct{}, len(nodes))
	out := nodes[:0:0]
	for _, n := range nodes {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// -- Visibility --

// isVisible reports whether n draws on screen. display:none and
// visibility:hidden hide it; an element without an offsetParent that is not
// fixed or sticky needs a non-empty box, which keeps rendered shadow-tree
// elements visible.
func (p *page) isVisible(n *html.Node) bool {
	if !dom.IsElement(n) || !p.doc.Rendered(n) {
		return false
	}
	cs := p.doc.ComputedStyle(n)
	if cs.Hidden() {
		return false
	}
	if p.doc.OffsetParent(n) == nil && cs.Position != "fixed" && cs.Position != "sticky" {
		return p.doc.BoundingClientRect(n).Area() > 0
	}
	return true
}

// isActionable is isVisible plus enabled and hit-testable.
func (p *page) isActionable(n *html.Node) bool {
	return p.isVisible(n) && !p.doc.Disabled(n) && p.doc.ComputedStyle(n).PointerEvents != "none"
}
