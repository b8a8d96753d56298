package primitives

import (
	"context"
	"testing"
	"time"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
)

var fuzzActions = []schemas.Action{
	schemas.ActionClick, schemas.ActionType, schemas.ActionSelect, schemas.ActionCheck,
	schemas.ActionSetAttribute, schemas.ActionPaste, schemas.ActionKeyPress, schemas.ActionFocus,
	schemas.ActionScrollTo, schemas.ActionGetText, schemas.ActionGetValue, schemas.ActionGetAttribute,
	schemas.ActionWaitFor, schemas.ActionListInteractive, schemas.ActionOpenComposer,
	schemas.ActionSubmitActiveComposer, schemas.ActionConfirmTopDialog, schemas.ActionDismissTopOverlay,
}

const fuzzPage = `<!DOCTYPE html>
<html><body>
  <form id="f"><input name="q"><button type="submit">Send</button></form>
  <div role="dialog"><textarea></textarea><button>Post</button><button>Cancel</button></div>
  <div id="ed" contenteditable="true"></div>
  <select id="s"><option value="1">One</option></select>
  <div id="host"><template shadowrootmode="open"><button id="inner">Inner</button></template></div>
</body></html>`

// FuzzPrimitive drives arbitrary actions, selectors and options through the
// engine. Every call must produce a result that names its action and either
// succeeds or carries an error kind.
func FuzzPrimitive(f *testing.F) {
	f.Add([]byte("click#inner"))
	f.Add([]byte("text=Post:nth-match(1)"))
	f.Add([]byte("#host >>> #inner"))

	settings := Settings{SettleFallback: time.Millisecond, FrameSettle: time.Millisecond, WaitPollInterval: time.Millisecond}

	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		idx, err := consumer.GetInt()
		if err != nil {
			return
		}
		selector, err := consumer.GetString()
		if err != nil {
			return
		}
		var opts schemas.ActionOptions
		if err := consumer.GenerateStruct(&opts); err != nil {
			return
		}
		if idx < 0 {
			idx = -idx
		}
		action := fuzzActions[idx%len(fuzzActions)]

		doc, err := dom.ParseString(fuzzPage, dom.WithLogger(zap.NewNop()))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		defer doc.Loop().Close()
		realm := dom.NewRealm(doc, dom.WorldIsolated, dom.FrameInfo{Index: -1})
		e := NewEngine(settings, zap.NewNop())

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		res, err := e.Primitive(ctx, realm, action, selector, opts)
		if err != nil {
			t.Fatalf("%s %q did not finish: %v", action, selector, err)
		}
		if res.Action != action {
			t.Fatalf("result action %q, want %q", res.Action, action)
		}
		if !res.Success && res.Error == "" {
			t.Fatalf("%s %q failed without an error kind", action, selector)
		}
	})
}
