package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentEditable(t *testing.T) {
	d := mustParse(t, `<body>
		<div id="host" contenteditable="true"><p id="inner">x</p><span id="off" contenteditable="false">no</span></div>
		<div id="plain">y</div>
	</body>`)

	assert.True(t, d.IsContentEditable(byID(t, d, "inner")))
	assert.False(t, d.IsContentEditable(byID(t, d, "off")))
	assert.False(t, d.IsContentEditable(byID(t, d, "plain")))
	assert.Equal(t, byID(t, d, "host"), d.EditingHost(byID(t, d, "inner")))
}

func TestExecCommand(t *testing.T) {
	d := mustParse(t, `<body><div id="ed" contenteditable="true">old</div><div id="plain"></div></body>`)
	ed := byID(t, d, "ed")

	var inputs []string
	d.AddEventListener(ed, "input", func(e *Event) { inputs = append(inputs, e.InputType) })

	t.Run("Requires Focused Editable", func(t *testing.T) {
		d.Loop().Do(func() {
			assert.False(t, d.ExecCommand(CommandInsertText, "nope"))
		})
		assert.Empty(t, d.EditLog())
	})

	d.Loop().Do(func() {
		require.True(t, d.Focus(ed))
		assert.True(t, d.ExecCommand(CommandSelectAll, ""))
		assert.True(t, d.ExecCommand(CommandInsertText, "a"))
		assert.True(t, d.ExecCommand(CommandInsertParagraph, ""))
		assert.True(t, d.ExecCommand(CommandInsertText, "b"))
		assert.False(t, d.ExecCommand("bold", ""))
	})

	assert.Equal(t, []EditCommand{
		{Name: CommandSelectAll},
		{Name: CommandInsertText, Value: "a"},
		{Name: CommandInsertParagraph},
		{Name: CommandInsertText, Value: "b"},
	}, d.EditLog())
	assert.Equal(t, []string{CommandInsertText, CommandInsertParagraph, CommandInsertText}, inputs)
	assert.Equal(t, "a\nb", d.InnerText(ed))

	t.Run("Delete", func(t *testing.T) {
		d.Loop().Do(func() { d.ExecCommand(CommandDelete, "") })
		assert.Equal(t, "a", d.InnerText(ed))
	})
}
