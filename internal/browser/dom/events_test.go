package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchEventBubblesThroughShadowHosts(t *testing.T) {
	d := mustParse(t, shadowPage)
	deep := byID(t, d, "deep")
	outer := byID(t, d, "outer-host")

	var path []string
	d.AddEventListener(deep, "click", func(e *Event) { path = append(path, "deep") })
	d.AddEventListener(outer, "click", func(e *Event) { path = append(path, "outer") })
	d.AddEventListener(d.Root(), "click", func(e *Event) { path = append(path, "document") })

	d.Loop().Do(func() { d.Click(deep) })
	assert.Equal(t, []string{"deep", "outer", "document"}, path)

	t.Run("StopPropagation", func(t *testing.T) {
		path = nil
		d.AddEventListener(deep, "click", func(e *Event) { e.StopPropagation() })
		d.Loop().Do(func() { d.Click(deep) })
		assert.Equal(t, []string{"deep"}, path)
	})
}

func TestClick(t *testing.T) {
	t.Run("Checkbox Toggles And Fires Change", func(t *testing.T) {
		d := mustParse(t, formPage)
		box := byID(t, d, "box")
		var events []string
		for _, typ := range []string{"click", "input", "change"} {
			typ := typ
			d.AddEventListener(box, typ, func(*Event) { events = append(events, typ) })
		}
		d.Loop().Do(func() { d.Click(box) })
		assert.True(t, d.Checked(box))
		assert.Equal(t, []string{"click", "input", "change"}, events)
	})

	t.Run("Cancelled Click Reverts", func(t *testing.T) {
		d := mustParse(t, formPage)
		box := byID(t, d, "box")
		d.AddEventListener(box, "click", func(e *Event) { e.PreventDefault() })
		d.Loop().Do(func() { d.Click(box) })
		assert.False(t, d.Checked(box))
	})

	t.Run("Submit Button Submits Form", func(t *testing.T) {
		d := mustParse(t, formPage)
		submitted := 0
		d.AddEventListener(byID(t, d, "f"), "submit", func(e *Event) { submitted++ })
		d.Loop().Do(func() {
			d.Click(byID(t, d, "submit"))
			d.Click(byID(t, d, "plain"))
			d.Click(byID(t, d, "fsbtn"))
		})
		assert.Equal(t, 1, submitted)
	})

	t.Run("Label Forwards To Control", func(t *testing.T) {
		d := mustParse(t, formPage)
		d.Loop().Do(func() { d.Click(byID(t, d, "wrap")) })
		assert.True(t, d.Checked(byID(t, d, "agree")))
	})

	t.Run("Summary Toggles Details", func(t *testing.T) {
		d := mustParse(t, `<body><details id="det"><summary id="sum">More</summary>Body</details></body>`)
		d.Loop().Do(func() { d.Click(byID(t, d, "sum")) })
		assert.True(t, HasAttr(byID(t, d, "det"), "open"))
	})
}

func TestFocus(t *testing.T) {
	d := mustParse(t, `<body>
		<input id="a"><div id="plain">x</div><button id="b">B</button>
		<div id="ed" contenteditable="true"></div><input id="gone" style="display:none">
	</body>`)
	a, b := byID(t, d, "a"), byID(t, d, "b")

	var log []string
	d.AddEventListener(a, "blur", func(*Event) { log = append(log, "a:blur") })
	d.AddEventListener(b, "focus", func(*Event) { log = append(log, "b:focus") })

	d.Loop().Do(func() {
		require.True(t, d.Focus(a))
		require.True(t, d.Focus(b))
		assert.False(t, d.Focus(byID(t, d, "plain")))
		assert.False(t, d.Focus(byID(t, d, "gone")))
	})
	assert.Equal(t, b, d.ActiveElement())
	assert.Equal(t, []string{"a:blur", "b:focus"}, log)
	assert.True(t, d.IsFocusable(byID(t, d, "ed")))

	d.Loop().Do(d.Blur)
	assert.Equal(t, d.Body(), d.ActiveElement())
}

func TestPressKey(t *testing.T) {
	d := mustParse(t, formPage)
	name := byID(t, d, "name")

	var keys []string
	for _, typ := range []string{"keydown", "keypress", "keyup"} {
		typ := typ
		d.AddEventListener(name, typ, func(e *Event) { keys = append(keys, typ+":"+e.Key) })
	}
	submitted := false
	d.AddEventListener(byID(t, d, "f"), "submit", func(*Event) { submitted = true })

	d.Loop().Do(func() {
		d.Focus(name)
		d.PressKey(name, "Enter")
	})
	assert.Equal(t, []string{"keydown:Enter", "keypress:Enter", "keyup:Enter"}, keys)
	assert.True(t, submitted)

	t.Run("Tab Moves Focus", func(t *testing.T) {
		keys = nil
		d.Loop().Do(func() { d.PressKey(name, "Tab") })
		assert.Equal(t, []string{"keydown:Tab", "keyup:Tab"}, keys)
		assert.NotEqual(t, name, d.ActiveElement())
	})
}
