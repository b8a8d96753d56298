package style

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-pilot/internal/browser/parser"
)

func parseHTMLAndFind(t *testing.T, input, id string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(input))
	require.NoError(t, err)
	var found *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Key == "id" && a.Val == id {
					found = n
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	require.NotNil(t, found, "no element with id %q", id)
	return found
}

func sheets(css string) []parser.StyleSheet {
	return []parser.StyleSheet{parser.NewParser(css).Parse()}
}

func TestCascade(t *testing.T) {
	engine := NewEngine()
	target := parseHTMLAndFind(t, `<p id="target" class="highlight">Test</p>`, "target")

	t.Run("Specificity Ordering", func(t *testing.T) {
		styles := engine.Cascade(target, sheets(`
			#target { color: id; }
			p.highlight { color: class; }
			p { color: tag; }
		`))
		assert.Equal(t, parser.Value("id"), styles["color"])
	})

	t.Run("Source Order Breaks Ties", func(t *testing.T) {
		styles := engine.Cascade(target, sheets(`.highlight { color: first; } .highlight { color: second; }`))
		assert.Equal(t, parser.Value("second"), styles["color"])
	})

	t.Run("Important Beats Inline", func(t *testing.T) {
		inline := parseHTMLAndFind(t, `<p id="t" style="display: inline">x</p>`, "t")
		styles := engine.Cascade(inline, sheets(`p { display: none !important; }`))
		assert.Equal(t, parser.Value("none"), styles["display"])
	})

	t.Run("Inline Beats Author", func(t *testing.T) {
		inline := parseHTMLAndFind(t, `<p id="t" style="display: inline">x</p>`, "t")
		styles := engine.Cascade(inline, sheets(`#t { display: none; }`))
		assert.Equal(t, parser.Value("inline"), styles["display"])
	})

	t.Run("User Agent Defaults", func(t *testing.T) {
		input := parseHTMLAndFind(t, `<input id="i" type="checkbox">`, "i")
		styles := engine.Cascade(input, nil)
		assert.Equal(t, parser.Value("13px"), styles["width"])
		assert.Equal(t, parser.Value("inline-block"), styles["display"])
	})
}

func TestResolveInheritance(t *testing.T) {
	vp := Viewport{Width: 1000, Height: 800}
	parent := Resolve(map[parser.Property]parser.Value{"visibility": "hidden", "display": "block"}, Initial(), vp)
	require.True(t, parent.Hidden())

	child := Resolve(map[parser.Property]parser.Value{}, parent, vp)
	assert.True(t, child.Hidden(), "visibility inherits")
	assert.Equal(t, "inline", child.Display, "display does not inherit")

	revealed := Resolve(map[parser.Property]parser.Value{"visibility": "visible"}, parent, vp)
	assert.False(t, revealed.Hidden())
}

func TestResolveGeometryAndZIndex(t *testing.T) {
	vp := Viewport{Width: 1000, Height: 800}
	c := Resolve(map[parser.Property]parser.Value{
		"left":    "10px",
		"top":     "5%",
		"width":   "50vw",
		"height":  "auto",
		"z-index": "30",
	}, Initial(), vp)
	assert.Equal(t, Length{Px: 10, Set: true}, c.Left)
	assert.Equal(t, Length{Px: 40, Set: true}, c.Top)
	assert.Equal(t, Length{Px: 500, Set: true}, c.Width)
	assert.False(t, c.Height.Set)
	assert.Equal(t, 30, c.ZIndex)
	assert.False(t, c.ZIndexAuto)

	auto := Resolve(map[parser.Property]parser.Value{"z-index": "auto"}, Initial(), vp)
	assert.True(t, auto.ZIndexAuto)
	assert.Equal(t, 0, auto.ZIndex)
}

func TestParseLength(t *testing.T) {
	vp := Viewport{Width: 200, Height: 100}
	tests := []struct {
		in   string
		want Length
	}{
		{"12px", Length{Px: 12, Set: true}},
		{"2rem", Length{Px: 32, Set: true}},
		{"1.5em", Length{Px: 24, Set: true}},
		{"10vmin", Length{Px: 10, Set: true}},
		{"10vmax", Length{Px: 20, Set: true}},
		{"7", Length{Px: 7, Set: true}},
		{"auto", Length{}},
		{"calc(1px + 2px)", Length{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLength(tt.in, 50, vp))
		})
	}
}
