// internal/browser/primitives/classify.go
package primitives

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
)

// InteractiveSelector is the fixed list list_interactive enumerates.
const InteractiveSelector = `a[href], button, input, select, textarea, [role="button"], [role="link"], ` +
	`[role="tab"], [role="menuitem"], [contenteditable="true"], [onclick], [tabindex]`

var interactiveGroup = mustGroup(InteractiveSelector)

// target is a resolved single element with the evidence of how it was found.
type target struct {
	node     *html.Node
	strategy schemas.MatchStrategy
	scope    *html.Node
}

// failure is a short-circuit result from resolution.
type failure = *schemas.ActionResult

func fail(action schemas.Action, selector string, kind schemas.ErrorKind, format string, args ...any) failure {
	res := schemas.Fail(action, selector, kind, fmt.Sprintf(format, args...))
	return &res
}

// resolveScope resolves scope_selector to one container. Several matches
// are ranked by scoreScope.
func (p *page) resolveScope(action schemas.Action, selector, scopeSelector string) (*html.Node, failure) {
	containers, err := p.resolveElements(scopeSelector, p.root())
	if err != nil {
		return nil, fail(action, selector, schemas.ErrInvalidSelector, "Invalid scope_selector %q: %v", scopeSelector, err)
	}
	containers = dedupe(containers)
	switch len(containers) {
	case 0:
		return nil, fail(action, selector, schemas.ErrScopeNotFound, "No element matches scope_selector %q", scopeSelector)
	case 1:
		return containers[0], nil
	}
	best, bestScore := containers[0], p.scoreScope(containers[0])
	for _, c := range containers[1:] {
		if s := p.scoreScope(c); s > bestScore {
			best, bestScore = c, s
		}
	}
	p.logger.Debug("Disambiguated scope container.",
		zap.String("scope_selector", scopeSelector),
		zap.Int("containers", len(containers)),
		zap.Float64("score", bestScore))
	return best, nil
}

// scoreScope ranks a candidate container. Visible text boxes and
// submit-labelled buttons dominate; density and area only break ties.
func (p *page) scoreScope(container *html.Node) float64 {
	var score float64
	for _, n := range p.interactiveWithin(container) {
		if !p.isVisible(n) {
			score -= 0.5
			continue
		}
		score++
		if p.isTextbox(n) {
			score += 1000
		}
		if isButtonLike(n) && matchesAny(p.label(n), submitVerbs) {
			score += 250
		}
	}
	return score + min(p.doc.BoundingClientRect(container).Area()/10000, 40)
}

func (p *page) interactiveWithin(container *html.Node) []*html.Node {
	return dedupe(p.queryAllDeep(container, interactiveGroup, 0))
}

// resolveTarget picks exactly one element for a mutating action.
func (p *page) resolveTarget(action schemas.Action, selector string, opts schemas.ActionOptions) (target, failure) {
	var scope *html.Node
	if opts.ScopeSelector != "" {
		s, f := p.resolveScope(action, selector, opts.ScopeSelector)
		if f != nil {
			return target{}, f
		}
		scope = s
	}

	if opts.ElementID != "" {
		return p.resolveByHandle(action, selector, opts.ElementID, scope)
	}
	if selector == "" {
		return target{}, fail(action, selector, schemas.ErrElementNotFound, "A selector or element_id is required")
	}

	root := p.root()
	if scope != nil {
		root = scope
	}
	nodes, err := p.resolveElements(selector, root)
	if err != nil {
		return target{}, fail(action, selector, schemas.ErrInvalidSelector, "Invalid selector %q: %v", selector, err)
	}
	nodes = dedupe(nodes)
	if opts.ScopeRect != nil {
		nodes = p.intersecting(nodes, *opts.ScopeRect)
	}

	viable := make([]*html.Node, 0, len(nodes))
	for _, n := range nodes {
		if p.isActionable(n) {
			viable = append(viable, n)
		}
	}
	if len(viable) == 0 {
		viable = nodes
	}

	switch {
	case len(viable) == 0:
		return target{}, fail(action, selector, schemas.ErrElementNotFound, "No element matches selector %q", selector)
	case len(viable) > 1:
		f := fail(action, selector, schemas.ErrAmbiguousTarget,
			"Selector %q matches %d actionable elements; narrow it with scope_selector, element_id or :nth-match(N)", selector, len(viable))
		f.MatchCount = len(viable)
		f.MatchStrategy = schemas.StrategyAmbiguousSelector
		f.Candidates = p.candidates(viable)
		return target{}, f
	}

	strategy := schemas.StrategySelector
	switch {
	case HasNthMatch(selector):
		strategy = schemas.StrategyNthMatchSelector
	case scope != nil || opts.ScopeRect != nil:
		strategy = schemas.StrategyScopedSelector
	}
	return target{node: viable[0], strategy: strategy, scope: scope}, nil
}

// resolveFirst keeps first-match resolution for read-only actions.
func (p *page) resolveFirst(action schemas.Action, selector string, opts schemas.ActionOptions) (target, failure) {
	var scope *html.Node
	if opts.ScopeSelector != "" {
		s, f := p.resolveScope(action, selector, opts.ScopeSelector)
		if f != nil {
			return target{}, f
		}
		scope = s
	}
	if opts.ElementID != "" {
		return p.resolveByHandle(action, selector, opts.ElementID, scope)
	}
	root := p.root()
	if scope != nil {
		root = scope
	}
	n, err := p.resolveElement(selector, root)
	if err != nil {
		return target{}, fail(action, selector, schemas.ErrInvalidSelector, "Invalid selector %q: %v", selector, err)
	}
	if n == nil {
		return target{}, fail(action, selector, schemas.ErrElementNotFound, "No element matches selector %q", selector)
	}
	strategy := schemas.StrategySelector
	switch {
	case HasNthMatch(selector):
		strategy = schemas.StrategyNthMatchSelector
	case scope != nil:
		strategy = schemas.StrategyScopedSelector
	}
	return target{node: n, strategy: strategy, scope: scope}, nil
}

func (p *page) resolveByHandle(action schemas.Action, selector, id string, scope *html.Node) (target, failure) {
	n := p.handles.lookup(p.doc, id)
	if n == nil {
		return target{}, fail(action, selector, schemas.ErrStaleElementID,
			"Element handle %q is unknown or detached; run list_interactive again", id)
	}
	if scope != nil && !p.doc.ContainsDeep(scope, n) {
		return target{}, fail(action, selector, schemas.ErrElementIDScopeMismatch,
			"Element handle %q is outside the requested scope", id)
	}
	return target{node: n, strategy: schemas.StrategyElementID, scope: scope}, nil
}

func (p *page) intersecting(nodes []*html.Node, rect schemas.Rect) []*html.Node {
	out := nodes[:0:0]
	for _, n := range nodes {
		if p.doc.BoundingClientRect(n).Intersects(rect) {
			out = append(out, n)
		}
	}
	return out
}
