// internal/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/primitives"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/tab"
)

// World preferences accepted in the world param.
const (
	WorldAuto     = "auto"
	WorldMain     = "main"
	WorldIsolated = "isolated"
)

// World statuses reported when a fallback happened.
const (
	statusSuccess = "success"
	statusError   = "error"
)

// Tabs looks up tabs by id. Id 0 is the active tab.
type Tabs interface {
	Tab(id int) (*tab.Tab, error)
}

// Settings tune routing. Zero fields take the defaults.
type Settings struct {
	// DefaultWorld applies when a query names no world: auto, main or isolated.
	DefaultWorld string
	// ProbeWorld is where frame probes run: main or isolated.
	ProbeWorld string
}

// Dispatcher routes one DOM action to the right frames and world of a tab
// and reduces the per-frame results to one.
type Dispatcher struct {
	engine   *primitives.Engine
	tabs     Tabs
	settings Settings
	logger   *zap.Logger
}

// New creates a dispatcher.
func New(engine *primitives.Engine, tabs Tabs, settings Settings, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.DefaultWorld == "" {
		settings.DefaultWorld = WorldAuto
	}
	if settings.ProbeWorld == "" {
		settings.ProbeWorld = WorldIsolated
	}
	return &Dispatcher{engine: engine, tabs: tabs, settings: settings, logger: logger.Named("dispatch")}
}

// route is the ordered list of worlds an action may run in.
type route struct {
	first    dom.World
	fallback bool
}

func parseRoute(world string) (route, error) {
	switch strings.ToLower(strings.TrimSpace(world)) {
	case WorldAuto:
		return route{first: dom.WorldMain, fallback: true}, nil
	case WorldMain:
		return route{first: dom.WorldMain}, nil
	case WorldIsolated:
		return route{first: dom.WorldIsolated}, nil
	}
	return route{}, fmt.Errorf("unknown world %q, expected auto, main or isolated", world)
}

func worldName(w dom.World) string { return strings.ToLower(string(w)) }

// Dispatch runs params against tab tabID. It never returns a Go error:
// host failures come back as execution_error results.
func (d *Dispatcher) Dispatch(ctx context.Context, tabID int, params schemas.DOMActionParams) schemas.ActionResult {
	action := params.EffectiveAction()
	selector := params.Selector
	start := time.Now()
	logger := d.logger.With(zap.Int("tab_id", tabID), zap.String("action", string(action)))

	t, err := d.tabs.Tab(tabID)
	if err != nil {
		logger.Warn("Tab lookup failed.", zap.Error(err))
		return schemas.Fail(action, selector, schemas.ErrExecution, fmt.Sprintf("tab %d: %v", tabID, err))
	}
	resolvedID, resolvedURL := t.ID(), t.URL()

	res := d.dispatch(ctx, t, action, selector, params)
	res.ResolvedTabID = resolvedID
	res.ResolvedURL = resolvedURL
	if res.Success {
		res.EffectiveTabID = t.ID()
		res.EffectiveURL = t.URL()
	}

	logger.Info("Dispatched DOM action.",
		zap.Bool("success", res.Success),
		zap.String("error", string(res.Error)),
		zap.String("world", res.ExecutionWorld),
		zap.Duration("elapsed", time.Since(start)))
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, t *tab.Tab, action schemas.Action, selector string, params schemas.DOMActionParams) schemas.ActionResult {
	world := params.World
	if world == "" {
		world = d.settings.DefaultWorld
	}
	rt, err := parseRoute(world)
	if err != nil {
		return schemas.Fail(action, selector, schemas.ErrInvalidParams, err.Error())
	}

	spec, err := normalizeFrame(params.Frame)
	if err != nil {
		return schemas.Fail(action, selector, schemas.ErrInvalidFrame, err.Error())
	}

	target := tab.Target{AllFrames: true}
	if !spec.all {
		ids, err := d.probe(ctx, t, spec.target)
		if err != nil {
			return schemas.Fail(action, selector, schemas.ErrExecution, fmt.Sprintf("frame probe failed: %v", err))
		}
		if len(ids) == 0 {
			return schemas.Fail(action, selector, schemas.ErrFrameNotFound, fmt.Sprintf("No frame matches %s", describeFrame(spec.target)))
		}
		target = tab.Target{FrameIDs: ids}
	}

	opts := params.ActionOptions
	script := func(ctx context.Context, realm *dom.Realm) (schemas.ActionResult, error) {
		return d.engine.Primitive(ctx, realm, action, selector, opts)
	}
	res := d.execute(ctx, t, target, rt, action, selector, script)
	if action != schemas.ActionWaitFor || res.Error != schemas.ErrElementNotFound {
		return res
	}

	d.logger.Debug("Quick check missed, waiting for element.", zap.String("selector", selector))
	return d.waitFor(ctx, t, target, rt, selector, time.Duration(opts.TimeoutMs)*time.Millisecond)
}

// waitFor polls every targeted frame until one resolves selector. The first
// frame to succeed releases the others. All frames wait concurrently
// regardless of the tab's frame concurrency.
func (d *Dispatcher) waitFor(ctx context.Context, t *tab.Tab, target tab.Target, rt route, selector string, timeout time.Duration) schemas.ActionResult {
	const action = schemas.ActionWaitFor
	target.Unbounded = true
	waitCtx, release := context.WithCancel(ctx)
	defer release()

	script := func(_ context.Context, realm *dom.Realm) (schemas.ActionResult, error) {
		res, err := d.engine.WaitFor(waitCtx, realm, selector, timeout)
		if err == nil {
			if res.Success {
				release()
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return res, err
		}
		return schemas.Fail(action, selector, schemas.ErrElementNotFound, "Matched in another frame first"), nil
	}
	return d.execute(ctx, t, target, rt, action, selector, script)
}

// probe returns the ids of the frames that match target.
func (d *Dispatcher) probe(ctx context.Context, t *tab.Tab, target primitives.FrameTarget) ([]int, error) {
	world := dom.WorldIsolated
	if strings.EqualFold(d.settings.ProbeWorld, WorldMain) {
		world = dom.WorldMain
	}
	results, err := t.ExecuteScript(ctx, tab.Target{AllFrames: true}, world,
		func(_ context.Context, realm *dom.Realm) (schemas.ActionResult, error) {
			return schemas.ActionResult{Success: d.engine.FrameProbe(realm, target)}, nil
		})
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, r := range results {
		if r.Result.Success {
			ids = append(ids, r.FrameID)
		}
	}
	d.logger.Debug("Probed frames.", zap.String("frame", describeFrame(target)), zap.Ints("matched", ids))
	return ids, nil
}

func describeFrame(t primitives.FrameTarget) string {
	if t.ByIndex {
		return fmt.Sprintf("index %d", t.Index)
	}
	return fmt.Sprintf("selector %q", t.Selector)
}

// execute injects script following rt and annotates the reduced result with
// the world it ran in. A failed MAIN injection is retried once in ISOLATED
// when rt allows it.
func (d *Dispatcher) execute(ctx context.Context, t *tab.Tab, target tab.Target, rt route, action schemas.Action, selector string, script tab.Script) schemas.ActionResult {
	results, err := t.ExecuteScript(ctx, target, rt.first, script)
	if err == nil {
		res := d.reduce(action, selector, results)
		res.ExecutionWorld = worldName(rt.first)
		return res
	}
	if !rt.fallback || ctx.Err() != nil || errors.Is(err, tab.ErrTabClosed) {
		res := schemas.Fail(action, selector, schemas.ErrExecution, err.Error())
		res.ExecutionWorld = worldName(rt.first)
		return res
	}

	d.logger.Warn("Main world injection failed, falling back to isolated world.",
		zap.String("action", string(action)),
		zap.Error(err))

	var res schemas.ActionResult
	results, ferr := t.ExecuteScript(ctx, target, dom.WorldIsolated, script)
	if ferr != nil {
		res = schemas.Fail(action, selector, schemas.ErrExecution,
			fmt.Sprintf("main world: %v; isolated world: %v", err, ferr))
	} else {
		res = d.reduce(action, selector, results)
	}
	isolated := statusError
	if res.Success {
		isolated = statusSuccess
	}
	res.ExecutionWorld = WorldIsolated
	res.FallbackAttempted = true
	res.MainWorldStatus = statusError
	res.IsolatedWorldStatus = isolated
	res.FallbackSummary = fmt.Sprintf("Error: MAIN world execution FAILED. Fallback in ISOLATED is %s.", strings.ToUpper(isolated))
	return res
}

// reduce turns per-frame results into the single reported result.
func (d *Dispatcher) reduce(action schemas.Action, selector string, results []tab.InjectionResult) schemas.ActionResult {
	var (
		res     schemas.ActionResult
		frameID int
		ok      bool
	)
	if action == schemas.ActionListInteractive {
		res, frameID, ok = mergeInteractive(results, d.engine.Settings().ListLimit)
	} else {
		var picked tab.InjectionResult
		picked, ok = pickFrameResult(results)
		res, frameID = picked.Result, picked.FrameID
	}
	if !ok {
		return schemas.Fail(action, selector, schemas.ErrFrameNotFound, "No frame ran the action")
	}
	res.FrameID = &frameID
	return res
}
