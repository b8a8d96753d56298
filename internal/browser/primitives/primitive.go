// internal/browser/primitives/primitive.go
package primitives

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
)

// Primitive resolves selector in the realm's document and runs action on the
// result. In-page failures come back as unsuccessful results; the error is
// only set when ctx ends before the result is final. Mutating actions block
// until the DOM settles.
func (e *Engine) Primitive(ctx context.Context, realm *dom.Realm, action schemas.Action, selector string, opts schemas.ActionOptions) (schemas.ActionResult, error) {
	p := e.page(realm)
	done := make(chan schemas.ActionResult, 1)
	finish := func(res schemas.ActionResult) { done <- res }

	p.loop.Do(func() { p.run(action, selector, opts, finish) })
	return await(ctx, done)
}

func await(ctx context.Context, done <-chan schemas.ActionResult) (schemas.ActionResult, error) {
	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return schemas.ActionResult{}, fmt.Errorf("primitive abandoned: %w", ctx.Err())
	}
}

// run is the in-page entry point. It calls finish exactly once, either
// before returning or from a later loop task.
func (p *page) run(action schemas.Action, selector string, opts schemas.ActionOptions, finish func(schemas.ActionResult)) {
	p.logger.Debug("Running primitive.", zap.String("action", string(action)), zap.String("selector", selector))

	switch action.Kind() {
	case schemas.KindMutating:
		t, f := p.resolveTarget(action, selector, opts)
		if f != nil {
			finish(*f)
			return
		}
		evidence := p.evidence(t.node, selector, opts)
		p.track(action, opts, func() schemas.ActionResult {
			res := p.mutate(action, selector, t.node, opts)
			if res.Success {
				res.Matched = evidence
				res.MatchCount = 1
				res.MatchStrategy = t.strategy
			}
			return res
		}, finish)

	case schemas.KindRead:
		t, f := p.resolveFirst(action, selector, opts)
		if f != nil {
			finish(*f)
			return
		}
		res := p.read(action, selector, t.node, opts)
		if res.Success {
			res.Matched = p.evidence(t.node, selector, opts)
			res.MatchStrategy = t.strategy
		}
		finish(res)

	case schemas.KindScan:
		finish(p.listInteractive(action, selector, opts))

	case schemas.KindIntent:
		t, score, f := p.resolveIntent(action, selector, opts)
		if f != nil {
			finish(*f)
			return
		}
		evidence := p.evidence(t.node, "", opts)
		p.track(action, opts, func() schemas.ActionResult {
			res := p.runIntent(action, selector, t.node)
			if res.Success {
				res.Matched = evidence
				res.MatchCount = 1
				res.MatchStrategy = schemas.StrategyIntent
				res.IntentScore = score
			}
			return res
		}, finish)

	default:
		finish(schemas.Fail(action, selector, schemas.ErrUnknownAction, fmt.Sprintf("Unknown action %q", action)))
	}
}

// -- Wait For --

// WaitFor blocks until selector resolves in the realm's document or timeout
// passes. The selector is re-checked after every mutation and on a fixed
// poll; the deadline timer always ends the wait with a timeout result.
func (e *Engine) WaitFor(ctx context.Context, realm *dom.Realm, selector string, timeout time.Duration) (schemas.ActionResult, error) {
	if timeout <= 0 {
		timeout = e.settings.DefaultWaitTimeout
	}
	p := e.page(realm)
	done := make(chan schemas.ActionResult, 1)

	p.loop.Do(func() { p.waitFor(selector, timeout, func(res schemas.ActionResult) { done <- res }) })
	return await(ctx, done)
}

func (p *page) waitFor(selector string, timeout time.Duration, finish func(schemas.ActionResult)) {
	const action = schemas.ActionWaitFor
	resolved := false
	var observer *dom.MutationObserver
	var pollTimer, deadlineTimer int

	settle := func(res schemas.ActionResult) {
		if resolved {
			return
		}
		resolved = true
		p.loop.ClearTimeout(pollTimer)
		p.loop.ClearTimeout(deadlineTimer)
		if observer != nil {
			observer.Disconnect()
		}
		finish(res)
	}
	check := func() bool {
		n, err := p.resolveElement(selector, p.root())
		if err != nil {
			settle(schemas.Fail(action, selector, schemas.ErrInvalidSelector, fmt.Sprintf("Invalid selector %q: %v", selector, err)))
			return true
		}
		if n == nil {
			return false
		}
		res := p.read(action, selector, n, schemas.ActionOptions{})
		res.Matched = p.evidence(n, selector, schemas.ActionOptions{})
		res.MatchStrategy = schemas.StrategySelector
		settle(res)
		return true
	}

	if check() {
		return
	}

	observer = p.doc.NewMutationObserver(func([]dom.MutationRecord, *dom.MutationObserver) { check() })
	if target := p.doc.DocumentElement(); target != nil {
		observer.Observe(target, dom.ObserveOptions{ChildList: true, Subtree: true, Attributes: true})
	}

	var poll func()
	poll = func() {
		if !check() && !resolved {
			pollTimer = p.loop.SetTimeout(p.e.settings.WaitPollInterval, poll)
		}
	}
	pollTimer = p.loop.SetTimeout(p.e.settings.WaitPollInterval, poll)
	deadlineTimer = p.loop.SetTimeout(timeout, func() {
		settle(schemas.Fail(action, selector, schemas.ErrTimeout,
			fmt.Sprintf("Timed out after %dms waiting for %q", timeout.Milliseconds(), selector)))
	})
	if deadlineTimer == 0 {
		settle(schemas.Fail(action, selector, schemas.ErrTimeout, "Event loop closed while waiting"))
	}
}

// -- Frame Probe --

// FrameTarget is a frame request: a parent-relative index or a CSS selector
// matched against the frame's embedding element.
type FrameTarget struct {
	Index    int
	Selector string
	ByIndex  bool
}

// FrameProbe reports whether the realm's frame is the one target names. The
// top frame and frames that hide their embedder never match.
func (e *Engine) FrameProbe(realm *dom.Realm, t FrameTarget) bool {
	var matched bool
	realm.Loop().Do(func() {
		frame := realm.Frame()
		if frame.Element == nil {
			return
		}
		if t.ByIndex {
			matched = frame.Index == t.Index
			return
		}
		ok, err := dom.Matches(frame.Element, t.Selector)
		matched = ok && err == nil
	})
	return matched
}
