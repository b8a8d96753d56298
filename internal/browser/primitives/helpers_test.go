package primitives

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
)

func newRealm(t *testing.T, src string) (*Engine, *dom.Realm) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	doc, err := dom.ParseString(src, dom.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(doc.Loop().Close)
	realm := dom.NewRealm(doc, dom.WorldIsolated, dom.FrameInfo{ID: 0, Index: -1})
	return NewEngine(DefaultSettings(), logger), realm
}

func runAction(t *testing.T, e *Engine, realm *dom.Realm, action schemas.Action, selector string, opts schemas.ActionOptions) schemas.ActionResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := e.Primitive(ctx, realm, action, selector, opts)
	require.NoError(t, err)
	return res
}

// find locates an element by id across open shadow roots.
func find(t *testing.T, realm *dom.Realm, id string) *html.Node {
	t.Helper()
	doc := realm.Document()
	var found *html.Node
	var walk func(root *html.Node)
	walk = func(root *html.Node) {
		dom.WalkLight(root, func(n *html.Node) bool {
			if found != nil {
				return false
			}
			if dom.IsElement(n) && dom.AttrOr(n, "id") == id {
				found = n
				return false
			}
			if sr := doc.ShadowRoot(n); sr != nil {
				walk(sr)
			}
			return true
		})
	}
	walk(doc.Root())
	require.NotNil(t, found, "no element with id %q", id)
	return found
}

// inPage runs fn against the page view inside one loop task.
func inPage(e *Engine, realm *dom.Realm, fn func(p *page)) {
	p := e.page(realm)
	p.loop.Do(func() { fn(p) })
}

// countClicks records click targets by id.
func countClicks(realm *dom.Realm) map[string]int {
	doc := realm.Document()
	clicks := make(map[string]int)
	doc.AddEventListener(doc.Root(), "click", func(ev *dom.Event) {
		clicks[dom.AttrOr(ev.Target, "id")]++
	})
	return clicks
}

func boolPtr(b bool) *bool { return &b }
