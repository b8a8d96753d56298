// internal/browser/primitives/intents.go
package primitives

import (
	"sort"
	"strings"

	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
)

// Label vocabularies, matched case-insensitively on word boundaries.
var (
	composerPhrases = []string{
		"what's on your mind", "what is on your mind", "what's happening", "start a post",
		"create a post", "create post", "write a post", "new post", "share your thoughts",
		"write something", "start writing", "compose",
	}
	postVerbs    = []string{"post", "compose", "write", "create", "new", "share", "tweet", "reply"}
	submitVerbs  = []string{"post", "send", "submit", "publish", "share", "save", "confirm", "ok", "yes", "continue", "done", "apply", "reply", "tweet", "create", "next", "accept", "allow"}
	dismissVerbs = []string{"close", "dismiss", "cancel", "no thanks", "not now", "skip", "later", "maybe later", "got it", "no", "×", "✕", "x", "decline"}
)

var (
	composerPool = mustGroup(`button, a, [role="button"], [role="link"], [role="textbox"], input, textarea, [contenteditable="true"]`)
	submitPool   = mustGroup(`button, input[type="submit"], input[type="button"], [role="button"]`)
	dismissPool  = mustGroup(`button, a, [role="button"], input[type="button"], [aria-label], [title]`)
	dialogGroup  = mustGroup(`[role="dialog"], [role="alertdialog"], [aria-modal="true"], dialog[open]`)
	overlayGroup = mustGroup(`[role="dialog"], [role="alertdialog"], [aria-modal="true"], dialog[open], ` +
		`[class*="overlay"], [class*="modal"], [class*="popup"], [class*="popover"], [class*="banner"]`)
)

// matchesAny reports whether label contains one of the phrases as whole words.
func matchesAny(label string, phrases []string) bool {
	label = " " + wordsOf(label) + " "
	for _, ph := range phrases {
		if strings.Contains(label, " "+wordsOf(ph)+" ") {
			return true
		}
	}
	return false
}

// wordsOf lowercases s and collapses everything but letters, digits,
// apostrophes and symbols such as × into single spaces.
func wordsOf(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		keep := r == '\'' || r == '’' || r > 0x7f || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !keep {
			if !space {
				b.WriteByte(' ')
				space = true
			}
			continue
		}
		if r == '’' {
			r = '\''
		}
		b.WriteRune(r)
		space = false
	}
	return strings.TrimSpace(b.String())
}

func isButtonLike(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Button:
		return true
	case atom.Input:
		switch dom.InputType(n) {
		case "submit", "button", "reset", "image":
			return true
		}
	}
	return roleOf(n) == "button"
}

// -- Geometry Signals --

// effectiveZ is the highest explicit z-index on n or any flat-tree ancestor.
func (p *page) effectiveZ(n *html.Node) int {
	z := 0
	for c := n; c != nil; c = p.doc.ParentElementOrHost(c) {
		cs := p.doc.ComputedStyle(c)
		if !cs.ZIndexAuto && cs.ZIndex > z {
			z = cs.ZIndex
		}
	}
	return z
}

func (p *page) areaBonus(n *html.Node, limit float64) float64 {
	return min(p.doc.BoundingClientRect(n).Area()/1000, limit)
}

func (p *page) layerBonus(n *html.Node) float64 {
	return min(float64(p.effectiveZ(n))/100, 50)
}

// topLayer picks the visible dialog (or overlay) drawn above the others:
// z-index dominates, area breaks ties, enumeration order breaks the rest.
func (p *page) topLayer(group cascadia.SelectorGroup) *html.Node {
	var best *html.Node
	bestRank := -1.0
	i := 0
	p.walkDeep(p.root(), func(n *html.Node) bool {
		if n.Type != html.ElementNode || !group.Match(n) || !p.isVisible(n) {
			return true
		}
		rank := float64(p.effectiveZ(n))*1000 + p.areaBonus(n, 500) + float64(i)
		i++
		if rank > bestRank {
			best, bestRank = n, rank
		}
		return true
	})
	return best
}

// -- Intent Resolution --

type scored struct {
	node  *html.Node
	score float64
}

type intentSpec struct {
	pool     cascadia.SelectorGroup
	score    func(p *page, n *html.Node, label string) (float64, bool)
	notFound schemas.ErrorKind
}

var intents = map[schemas.Action]intentSpec{
	schemas.ActionOpenComposer: {
		pool: composerPool,
		score: func(p *page, n *html.Node, label string) (float64, bool) {
			phrase := matchesAny(label, composerPhrases)
			verb := matchesAny(label, postVerbs)
			var s float64
			if phrase {
				s += 700
			}
			if verb {
				s += 280
			}
			if p.isTextbox(n) {
				s += 220
			}
			if isButtonLike(n) {
				s += 80
			}
			return s + p.areaBonus(n, 40) + p.layerBonus(n), phrase || verb
		},
		notFound: schemas.ErrComposerNotFound,
	},
	schemas.ActionSubmitActiveComposer: {
		pool:     submitPool,
		score:    scoreSubmit,
		notFound: schemas.ErrSubmitNotFound,
	},
	schemas.ActionConfirmTopDialog: {
		pool:     submitPool,
		score:    scoreSubmit,
		notFound: schemas.ErrConfirmNotFound,
	},
	schemas.ActionDismissTopOverlay: {
		pool: dismissPool,
		score: func(p *page, n *html.Node, label string) (float64, bool) {
			dismiss := matchesAny(label, dismissVerbs)
			var s float64
			if dismiss {
				s += 800
			}
			if matchesAny(label, submitVerbs) {
				s -= 550
			}
			return s + p.areaBonus(n, 40) + p.layerBonus(n), dismiss
		},
		notFound: schemas.ErrDismissNotFound,
	},
}

func scoreSubmit(p *page, n *html.Node, label string) (float64, bool) {
	submit := matchesAny(label, submitVerbs)
	var s float64
	if submit {
		s += 700
	}
	if matchesAny(label, dismissVerbs) {
		s -= 500
	}
	return s + p.areaBonus(n, 40) + p.layerBonus(n), submit
}

// intentScope finds the container an intent searches.
func (p *page) intentScope(action schemas.Action, selector string, opts schemas.ActionOptions) (*html.Node, failure) {
	if opts.ScopeSelector != "" {
		return p.resolveScope(action, selector, opts.ScopeSelector)
	}
	switch action {
	case schemas.ActionSubmitActiveComposer:
		if d := p.activeComposer(); d != nil {
			return d, nil
		}
		return p.root(), nil
	case schemas.ActionConfirmTopDialog:
		if d := p.topLayer(dialogGroup); d != nil {
			return d, nil
		}
		return nil, fail(action, selector, schemas.ErrDialogNotFound, "No visible dialog is open")
	case schemas.ActionDismissTopOverlay:
		if d := p.topLayer(overlayGroup); d != nil {
			return d, nil
		}
		return nil, fail(action, selector, schemas.ErrOverlayNotFound, "No visible dialog or overlay is open")
	}
	return p.root(), nil
}

// activeComposer is the visible dialog holding a text box with the best
// scope score.
func (p *page) activeComposer() *html.Node {
	var best *html.Node
	var bestScore float64
	p.walkDeep(p.root(), func(n *html.Node) bool {
		if n.Type != html.ElementNode || !dialogGroup.Match(n) || !p.isVisible(n) {
			return true
		}
		hasTextbox := false
		for _, c := range p.interactiveWithin(n) {
			if p.isTextbox(c) && p.isVisible(c) {
				hasTextbox = true
				break
			}
		}
		if !hasTextbox {
			return true
		}
		if s := p.scoreScope(n); best == nil || s > bestScore {
			best, bestScore = n, s
		}
		return true
	})
	return best
}

// resolveIntent ranks the pool inside the intent's scope. A strict winner is
// returned; a tie at the top score is an ambiguity, never a guess.
func (p *page) resolveIntent(action schemas.Action, selector string, opts schemas.ActionOptions) (target, float64, failure) {
	spec := intents[action]
	scope, f := p.intentScope(action, selector, opts)
	if f != nil {
		return target{}, 0, f
	}

	var ranked []scored
	for _, n := range dedupe(p.queryAllDeep(scope, spec.pool, 0)) {
		if !p.isActionable(n) {
			continue
		}
		label := p.label(n)
		if label == "" {
			continue
		}
		s, signal := spec.score(p, n, label)
		if !signal || s <= 0 {
			continue
		}
		ranked = append(ranked, scored{node: n, score: s})
	}
	if len(ranked) == 0 {
		return target{}, 0, fail(action, selector, spec.notFound, "No candidate for %s", action)
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	p.logger.Debug("Ranked intent candidates.",
		zap.String("action", string(action)),
		zap.Int("viable", len(ranked)),
		zap.Float64("top_score", ranked[0].score))

	if len(ranked) > 1 && ranked[1].score == ranked[0].score {
		var tied []*html.Node
		for _, r := range ranked {
			if r.score == ranked[0].score {
				tied = append(tied, r.node)
			}
		}
		f := fail(action, selector, schemas.ErrAmbiguousTarget,
			"%d candidates tie for %s; pass scope_selector or element_id", len(tied), action)
		f.MatchCount = len(tied)
		f.MatchStrategy = schemas.StrategyAmbiguousSelector
		f.Candidates = p.candidates(tied)
		for i := range f.Candidates {
			f.Candidates[i].Score = ranked[0].score
		}
		return target{}, 0, f
	}

	var scopeNode *html.Node
	if scope != p.root() {
		scopeNode = scope
	}
	return target{node: ranked[0].node, strategy: schemas.StrategyIntent, scope: scopeNode}, ranked[0].score, nil
}

// runIntent executes the default action for the winning candidate: focus
// for text boxes found by open_composer, click for everything else.
func (p *page) runIntent(action schemas.Action, selector string, n *html.Node) schemas.ActionResult {
	if action == schemas.ActionOpenComposer && p.isTextbox(n) {
		if !p.doc.Focus(n) {
			return schemas.Fail(action, selector, schemas.ErrNotFocusable, "Composer <"+dom.TagName(n)+"> cannot take focus")
		}
		return schemas.ActionResult{Success: true, Action: action, Selector: selector, Value: "focused"}
	}
	p.doc.ScrollIntoView(n)
	p.doc.Click(n)
	return schemas.ActionResult{Success: true, Action: action, Selector: selector, Value: "clicked"}
}
