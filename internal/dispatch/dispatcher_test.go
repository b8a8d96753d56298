package dispatch

import (
	"context"
	stdjson "encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/primitives"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/tab"
)

const checkoutPage = `<!DOCTYPE html>
<html><head><title>Checkout</title></head><body>
  <button id="top-btn">Top</button>
  <iframe id="pay" name="pay" srcdoc="<button id='pay-btn'>Pay</button>"></iframe>
  <iframe id="ads" srcdoc="<button id='pay-btn'>Ad</button>"></iframe>
</body></html>`

const pageURL = "https://shop.test/checkout"

type fixture struct {
	d   *Dispatcher
	tab *tab.Tab
}

func newFixture(t *testing.T, settings primitives.Settings, opts ...tab.Option) fixture {
	t.Helper()
	return newPageFixture(t, checkoutPage, settings, opts...)
}

func newPageFixture(t *testing.T, src string, settings primitives.Settings, opts ...tab.Option) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := tab.NewRegistry()
	tb := tab.New(1, append([]tab.Option{tab.WithLogger(logger)}, opts...)...)
	require.NoError(t, tb.LoadHTML(pageURL, src))
	reg.Add(tb)
	t.Cleanup(reg.Close)

	engine := primitives.NewEngine(settings, logger)
	return fixture{d: New(engine, reg, Settings{}, logger), tab: tb}
}

func dispatch(t *testing.T, f fixture, params schemas.DOMActionParams) schemas.ActionResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.d.Dispatch(ctx, 0, params)
}

func frameOf(t *testing.T, res schemas.ActionResult) int {
	t.Helper()
	require.NotNil(t, res.FrameID, "result carries a frame id")
	return *res.FrameID
}

func TestNormalizeFrame(t *testing.T) {
	tests := []struct {
		raw      string
		all      bool
		index    int
		byIndex  bool
		selector string
		wantErr  bool
	}{
		{raw: ``, all: true},
		{raw: `null`, all: true},
		{raw: `"all"`, all: true},
		{raw: `0`, byIndex: true},
		{raw: `2`, index: 2, byIndex: true},
		{raw: `"3"`, index: 3, byIndex: true},
		{raw: `" 1 "`, index: 1, byIndex: true},
		{raw: `2.0`, index: 2, byIndex: true},
		{raw: `"iframe[name=pay]"`, selector: "iframe[name=pay]"},
		{raw: `"#ads"`, selector: "#ads"},
		{raw: `-1`, wantErr: true},
		{raw: `"-2"`, wantErr: true},
		{raw: `1.5`, wantErr: true},
		{raw: `""`, wantErr: true},
		{raw: `"   "`, wantErr: true},
		{raw: `true`, wantErr: true},
		{raw: `{"index":1}`, wantErr: true},
		{raw: `[1]`, wantErr: true},
		{raw: `1e99`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			spec, err := normalizeFrame([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.all, spec.all)
			assert.Equal(t, tt.byIndex, spec.target.ByIndex)
			assert.Equal(t, tt.index, spec.target.Index)
			assert.Equal(t, tt.selector, spec.target.Selector)
		})
	}
}

func TestPickFrameResult(t *testing.T) {
	ok := func(id int) tab.InjectionResult {
		return tab.InjectionResult{FrameID: id, Result: schemas.ActionResult{Success: true}}
	}
	bad := func(id int) tab.InjectionResult {
		return tab.InjectionResult{FrameID: id, Result: schemas.ActionResult{Error: schemas.ErrElementNotFound}}
	}
	tests := []struct {
		name    string
		results []tab.InjectionResult
		want    int
	}{
		{"Main Success Wins", []tab.InjectionResult{bad(1), ok(2), ok(0)}, 0},
		{"First Success", []tab.InjectionResult{bad(0), bad(1), ok(2), ok(3)}, 2},
		{"Main Failure", []tab.InjectionResult{bad(1), bad(0)}, 0},
		{"First Result", []tab.InjectionResult{bad(3), bad(1)}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := pickFrameResult(tt.results)
			require.True(t, found)
			assert.Equal(t, tt.want, got.FrameID)
		})
	}

	_, found := pickFrameResult(nil)
	assert.False(t, found)
}

func TestMergeInteractive(t *testing.T) {
	frame := func(id int, n int) tab.InjectionResult {
		res := schemas.ActionResult{Success: true, Action: schemas.ActionListInteractive}
		for i := 0; i < n; i++ {
			res.Elements = append(res.Elements, schemas.InteractiveElement{Index: i, Tag: "button"})
		}
		res.Value = n
		return tab.InjectionResult{FrameID: id, Result: res}
	}

	merged, picked, ok := mergeInteractive([]tab.InjectionResult{frame(0, 2), frame(1, 0), frame(2, 3)}, 4)
	require.True(t, ok)
	assert.Equal(t, 0, picked)
	require.Len(t, merged.Elements, 4)
	assert.Equal(t, 4, merged.Value)
	wantFrames := []int{0, 0, 2, 2}
	for i, el := range merged.Elements {
		assert.Equal(t, i, el.Index)
		require.NotNil(t, el.FrameID)
		assert.Equal(t, wantFrames[i], *el.FrameID)
	}

	failed := tab.InjectionResult{FrameID: 0, Result: schemas.Fail(schemas.ActionListInteractive, "", schemas.ErrScopeNotFound, "no scope")}
	res, _, ok := mergeInteractive([]tab.InjectionResult{failed}, 100)
	require.True(t, ok)
	assert.False(t, res.Success)
	assert.Equal(t, schemas.ErrScopeNotFound, res.Error)
}

func TestDispatchFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("Broadcast Prefers Main Frame", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		res := dispatch(t, f, schemas.DOMActionParams{Action: schemas.ActionClick, Selector: "#top-btn"})
		require.True(t, res.Success, res.Message)
		assert.Equal(t, 0, frameOf(t, res))
		assert.Equal(t, WorldMain, res.ExecutionWorld)
		assert.False(t, res.FallbackAttempted)
	})

	t.Run("Broadcast Takes First Success", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		res := dispatch(t, f, schemas.DOMActionParams{Action: schemas.ActionGetText, Selector: "#pay-btn"})
		require.True(t, res.Success, res.Message)
		assert.Equal(t, 1, frameOf(t, res))
		assert.Equal(t, "Pay", res.Value)
	})

	t.Run("Broadcast Miss Reports Main Frame", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		res := dispatch(t, f, schemas.DOMActionParams{Action: schemas.ActionClick, Selector: "#nope"})
		assert.False(t, res.Success)
		assert.Equal(t, schemas.ErrElementNotFound, res.Error)
		assert.Equal(t, 0, frameOf(t, res))
		assert.Zero(t, res.EffectiveTabID, "effective fields only on success")
		assert.Equal(t, 1, res.ResolvedTabID)
	})

	t.Run("Targeted Frames", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		tests := []struct {
			frame string
			want  int
			text  string
		}{
			{`0`, 1, "Pay"},
			{`1`, 2, "Ad"},
			{`"1"`, 2, "Ad"},
			{`"#ads"`, 2, "Ad"},
			{`"iframe[name=pay]"`, 1, "Pay"},
			{`"all"`, 1, "Pay"},
		}
		for _, tt := range tests {
			t.Run(tt.frame, func(t *testing.T) {
				res := dispatch(t, f, schemas.DOMActionParams{
					Action:   schemas.ActionGetText,
					Selector: "#pay-btn",
					Frame:    stdjson.RawMessage(tt.frame),
				})
				require.True(t, res.Success, res.Message)
				assert.Equal(t, tt.want, frameOf(t, res))
				assert.Equal(t, tt.text, res.Value)
			})
		}
	})

	t.Run("Frame Errors", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		tests := []struct {
			frame string
			want  schemas.ErrorKind
		}{
			{`5`, schemas.ErrFrameNotFound},
			{`"#missing"`, schemas.ErrFrameNotFound},
			{`-1`, schemas.ErrInvalidFrame},
			{`""`, schemas.ErrInvalidFrame},
			{`0.5`, schemas.ErrInvalidFrame},
			{`true`, schemas.ErrInvalidFrame},
		}
		for _, tt := range tests {
			t.Run(tt.frame, func(t *testing.T) {
				res := dispatch(t, f, schemas.DOMActionParams{
					Action:   schemas.ActionClick,
					Selector: "#pay-btn",
					Frame:    stdjson.RawMessage(tt.frame),
				})
				assert.False(t, res.Success)
				assert.Equal(t, tt.want, res.Error)
				assert.Nil(t, res.Value)
			})
		}
	})

	t.Run("List Interactive Merges Frames", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		res := dispatch(t, f, schemas.DOMActionParams{Action: schemas.ActionListInteractive})
		require.True(t, res.Success, res.Message)
		require.Len(t, res.Elements, 3)
		assert.Equal(t, 3, res.Value)
		for i, el := range res.Elements {
			assert.Equal(t, i, el.Index)
			require.NotNil(t, el.FrameID)
			assert.Equal(t, i, *el.FrameID)
		}

		capped := newFixture(t, primitives.Settings{ListLimit: 2})
		res = dispatch(t, capped, schemas.DOMActionParams{Action: schemas.ActionListInteractive})
		require.True(t, res.Success, res.Message)
		assert.Len(t, res.Elements, 2)
	})

	t.Run("Handles Are Unique Across Frames", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		res := dispatch(t, f, schemas.DOMActionParams{Action: schemas.ActionListInteractive})
		require.True(t, res.Success, res.Message)
		require.Len(t, res.Elements, 3)

		seen := make(map[string]int)
		for _, el := range res.Elements {
			seen[el.ElementID]++
		}
		assert.Len(t, seen, len(res.Elements), "every listed element needs its own handle: %v", seen)

		clicks := make(map[int]int)
		f.tab.Loop().Do(func() {
			for id := 0; id <= 2; id++ {
				frame, err := f.tab.Frame(id)
				require.NoError(t, err)
				frame.Doc.AddEventListener(frame.Doc.Root(), "click", func(*dom.Event) { clicks[id]++ })
			}
		})

		ad := res.Elements[2]
		click := dispatch(t, f, schemas.DOMActionParams{
			Action:        schemas.ActionClick,
			ActionOptions: schemas.ActionOptions{ElementID: ad.ElementID},
		})
		require.True(t, click.Success, click.Message)
		assert.Equal(t, 2, frameOf(t, click))
		assert.Equal(t, map[int]int{2: 1}, clicks, "a handle clicks one element in one frame")
	})

	t.Run("Resolved And Effective Tab", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		res := dispatch(t, f, schemas.DOMActionParams{Action: schemas.ActionClick, Selector: "#top-btn"})
		require.True(t, res.Success)
		assert.Equal(t, 1, res.ResolvedTabID)
		assert.Equal(t, pageURL, res.ResolvedURL)
		assert.Equal(t, 1, res.EffectiveTabID)
		assert.Equal(t, pageURL, res.EffectiveURL)
	})

	t.Run("Unknown Tab", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		res := f.d.Dispatch(context.Background(), 42, schemas.DOMActionParams{Action: schemas.ActionClick, Selector: "#top-btn"})
		assert.Equal(t, schemas.ErrExecution, res.Error)
		assert.Contains(t, res.Message, "tab 42")
	})

	t.Run("Closed Tab", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		f.tab.Close()
		res := dispatch(t, f, schemas.DOMActionParams{Action: schemas.ActionClick, Selector: "#top-btn"})
		assert.Equal(t, schemas.ErrExecution, res.Error)
		assert.False(t, res.FallbackAttempted, "a closed tab is not retried")
	})
}

func TestDispatchWorlds(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("Fallback To Isolated", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{}, tab.WithMainWorldBlocked(true))
		res := dispatch(t, f, schemas.DOMActionParams{Action: schemas.ActionClick, Selector: "#top-btn"})
		require.True(t, res.Success, res.Message)
		assert.Equal(t, WorldIsolated, res.ExecutionWorld)
		assert.True(t, res.FallbackAttempted)
		assert.Equal(t, "error", res.MainWorldStatus)
		assert.Equal(t, "success", res.IsolatedWorldStatus)
		assert.Equal(t, "Error: MAIN world execution FAILED. Fallback in ISOLATED is SUCCESS.", res.FallbackSummary)
	})

	t.Run("Fallback Result Fails", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{}, tab.WithMainWorldBlocked(true))
		res := dispatch(t, f, schemas.DOMActionParams{Action: schemas.ActionClick, Selector: "#nope"})
		assert.Equal(t, schemas.ErrElementNotFound, res.Error)
		assert.Equal(t, "error", res.IsolatedWorldStatus)
		assert.Equal(t, "Error: MAIN world execution FAILED. Fallback in ISOLATED is ERROR.", res.FallbackSummary)
	})

	t.Run("Main Pinned", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{}, tab.WithMainWorldBlocked(true))
		res := dispatch(t, f, schemas.DOMActionParams{Action: schemas.ActionClick, Selector: "#top-btn", World: "main"})
		assert.Equal(t, schemas.ErrExecution, res.Error)
		assert.Contains(t, res.Message, "content security policy")
		assert.Equal(t, WorldMain, res.ExecutionWorld)
		assert.False(t, res.FallbackAttempted)
	})

	t.Run("Isolated Only", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		res := dispatch(t, f, schemas.DOMActionParams{Action: schemas.ActionClick, Selector: "#top-btn", World: "ISOLATED"})
		require.True(t, res.Success, res.Message)
		assert.Equal(t, WorldIsolated, res.ExecutionWorld)
		assert.False(t, res.FallbackAttempted)
	})

	t.Run("Unknown World", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		res := dispatch(t, f, schemas.DOMActionParams{Action: schemas.ActionClick, Selector: "#top-btn", World: "page"})
		assert.Equal(t, schemas.ErrInvalidParams, res.Error)
	})
}

func TestDispatchWaitFor(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("Quick Check", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		res := dispatch(t, f, schemas.DOMActionParams{Action: schemas.ActionWaitFor, Selector: "#top-btn"})
		require.True(t, res.Success, res.Message)
		assert.Equal(t, true, res.Value)
		assert.Equal(t, 0, frameOf(t, res))
	})

	t.Run("Escalates Until The Element Appears", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		frame, err := f.tab.Frame(2)
		require.NoError(t, err)

		go func() {
			time.Sleep(40 * time.Millisecond)
			f.tab.Loop().Do(func() {
				n := frame.Doc.CreateElement("div")
				frame.Doc.SetAttribute(n, "id", "receipt")
				frame.Doc.AppendChild(frame.Doc.Body(), n)
			})
		}()

		start := time.Now()
		res := dispatch(t, f, schemas.DOMActionParams{
			Action:        schemas.ActionWaitFor,
			Selector:      "#receipt",
			ActionOptions: schemas.ActionOptions{TimeoutMs: 2000},
		})
		require.True(t, res.Success, res.Message)
		assert.Equal(t, 2, frameOf(t, res))
		assert.Less(t, time.Since(start), 1500*time.Millisecond, "other frames are released once one matches")
	})

	t.Run("Times Out", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		res := dispatch(t, f, schemas.DOMActionParams{
			Action:        schemas.ActionWaitFor,
			Selector:      "#never",
			Frame:         stdjson.RawMessage(`0`),
			ActionOptions: schemas.ActionOptions{TimeoutMs: 100},
		})
		assert.False(t, res.Success)
		assert.Equal(t, schemas.ErrTimeout, res.Error)
		assert.Equal(t, 1, frameOf(t, res))
	})

	t.Run("More Frames Than The Concurrency Limit", func(t *testing.T) {
		const sixFrames = `<body>
  <iframe srcdoc="<p>1</p>"></iframe><iframe srcdoc="<p>2</p>"></iframe>
  <iframe srcdoc="<p>3</p>"></iframe><iframe srcdoc="<p>4</p>"></iframe>
  <iframe srcdoc="<p>5</p>"></iframe><iframe srcdoc="<p>6</p>"></iframe>
</body>`
		f := newPageFixture(t, sixFrames, primitives.Settings{}, tab.WithFrameConcurrency(2))
		frame, err := f.tab.Frame(6)
		require.NoError(t, err)

		go func() {
			time.Sleep(30 * time.Millisecond)
			f.tab.Loop().Do(func() {
				n := frame.Doc.CreateElement("div")
				frame.Doc.SetAttribute(n, "id", "late")
				frame.Doc.AppendChild(frame.Doc.Body(), n)
			})
		}()

		start := time.Now()
		res := dispatch(t, f, schemas.DOMActionParams{
			Action:        schemas.ActionWaitFor,
			Selector:      "#late",
			ActionOptions: schemas.ActionOptions{TimeoutMs: 1000},
		})
		require.True(t, res.Success, res.Message)
		assert.Equal(t, 6, frameOf(t, res))
		assert.Less(t, time.Since(start), 500*time.Millisecond, "the last frame must not wait for a free slot")

		start = time.Now()
		missing := dispatch(t, f, schemas.DOMActionParams{
			Action:        schemas.ActionWaitFor,
			Selector:      "#never",
			ActionOptions: schemas.ActionOptions{TimeoutMs: 200},
		})
		assert.Equal(t, schemas.ErrTimeout, missing.Error)
		assert.Less(t, time.Since(start), 400*time.Millisecond, "every frame times out together")
	})

	t.Run("Caller Cancels", func(t *testing.T) {
		f := newFixture(t, primitives.Settings{})
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		res := f.d.Dispatch(ctx, 1, schemas.DOMActionParams{
			Action:        schemas.ActionWaitFor,
			Selector:      "#never",
			ActionOptions: schemas.ActionOptions{TimeoutMs: 1000},
		})
		assert.Equal(t, schemas.ErrExecution, res.Error)
		assert.False(t, res.FallbackAttempted)
	})
}
