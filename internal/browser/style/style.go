// internal/browser/style/style.go
package style

import (
	"sort"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-pilot/internal/browser/parser"
)

// -- Constants and Configuration --

const BaseFontSize = 16.0

// DefaultUserAgentCSS covers what visibility and geometry need: which
// elements render at all, block versus inline, and intrinsic control sizes.
const DefaultUserAgentCSS = `
html, body, div, p, h1, h2, h3, h4, h5, h6, ul, ol, form, header, footer,
section, article, nav, main, aside, fieldset, details, summary, dialog, figure, pre, blockquote, table {
    display: block;
}
li { display: list-item; }
head, script, style, template, title, meta, link, base, noscript, datalist, param { display: none; }
[hidden] { display: none; }
dialog { display: none; position: absolute; }
dialog[open] { display: block; }
input, button, textarea, select { display: inline-block; }
input[type="hidden"] { display: none; }
input { width: 170px; height: 22px; }
textarea { width: 180px; height: 36px; }
select { width: 120px; height: 22px; }
input[type="checkbox"], input[type="radio"] { width: 13px; height: 13px; }
option { display: block; }
`

// -- Style Engine --

// Origin orders declarations in the cascade.
type Origin int

const (
	OriginUserAgent Origin = iota
	OriginAuthor
	OriginInline
)

type declarationWithContext struct {
	declaration parser.Declaration
	specificity cascadia.Specificity
	origin      Origin
	order       int
}

// Engine runs the cascade for single elements. It is safe for concurrent use
// once built; sheets are supplied per call so that shadow trees can carry
// their own scoped sheets.
type Engine struct {
	userAgentSheets []parser.StyleSheet
}

// NewEngine creates an engine seeded with the default user agent sheet.
func NewEngine() *Engine {
	ua := parser.NewParser(DefaultUserAgentCSS).Parse()
	return &Engine{userAgentSheets: []parser.StyleSheet{ua}}
}

// Cascade returns the cascaded declared values for node given the author
// sheets in scope for its tree.
func (se *Engine) Cascade(node *html.Node, authorSheets []parser.StyleSheet) map[parser.Property]parser.Value {
	styles := make(map[parser.Property]parser.Value)
	if node == nil || node.Type != html.ElementNode {
		return styles
	}

	var declarations []declarationWithContext
	order := 0
	processSheets := func(sheets []parser.StyleSheet, origin Origin) {
		for _, sheet := range sheets {
			for _, rule := range sheet.Rules {
				spec, ok := matchSpecificity(node, rule.Selectors)
				if !ok {
					continue
				}
				for _, decl := range rule.Declarations {
					declarations = append(declarations, declarationWithContext{
						declaration: decl,
						specificity: spec,
						origin:      origin,
						order:       order,
					})
					order++
				}
			}
		}
	}

	processSheets(se.userAgentSheets, OriginUserAgent)
	processSheets(authorSheets, OriginAuthor)

	for _, attr := range node.Attr {
		if attr.Key != "style" {
			continue
		}
		for _, decl := range parser.ParseInline(attr.Val) {
			declarations = append(declarations, declarationWithContext{
				declaration: decl,
				specificity: cascadia.Specificity{1, 0, 0},
				origin:      OriginInline,
				order:       order,
			})
			order++
		}
	}

	sort.SliceStable(declarations, func(i, j int) bool {
		d1, d2 := declarations[i], declarations[j]
		p1, p2 := cascadePriority(d1), cascadePriority(d2)
		if p1 != p2 {
			return p1 < p2
		}
		if d1.specificity != d2.specificity {
			return d1.specificity.Less(d2.specificity)
		}
		return d1.order < d2.order
	})

	for _, dc := range declarations {
		styles[dc.declaration.Property] = parser.Value(strings.TrimSpace(string(dc.declaration.Value)))
	}
	expandInset(styles)
	return styles
}

// matchSpecificity returns the highest specificity among the selectors of
// the group that match node.
func matchSpecificity(node *html.Node, group cascadia.SelectorGroup) (cascadia.Specificity, bool) {
	var best cascadia.Specificity
	matched := false
	for _, sel := range group {
		if !sel.Match(node) {
			continue
		}
		spec := sel.Specificity()
		if !matched || best.Less(spec) {
			best = spec
		}
		matched = true
	}
	return best, matched
}

func cascadePriority(d declarationWithContext) int {
	important := d.declaration.Important
	switch d.origin {
	case OriginUserAgent:
		if important {
			return 5
		}
		return 1
	case OriginAuthor:
		if important {
			return 4
		}
		return 2
	case OriginInline:
		if important {
			return 4
		}
		return 3
	}
	return 0
}

// expandInset splits the inset shorthand into its four sides.
func expandInset(styles map[parser.Property]parser.Value) {
	val, ok := styles["inset"]
	if !ok {
		return
	}
	parts := strings.Fields(string(val))
	var top, right, bottom, left string
	switch len(parts) {
	case 1:
		top, right, bottom, left = parts[0], parts[0], parts[0], parts[0]
	case 2:
		top, right, bottom, left = parts[0], parts[1], parts[0], parts[1]
	case 3:
		top, right, bottom, left = parts[0], parts[1], parts[2], parts[1]
	case 4:
		top, right, bottom, left = parts[0], parts[1], parts[2], parts[3]
	default:
		return
	}
	setIfAbsent := func(p parser.Property, v string) {
		if _, exists := styles[p]; !exists {
			styles[p] = parser.Value(v)
		}
	}
	setIfAbsent("top", top)
	setIfAbsent("right", right)
	setIfAbsent("bottom", bottom)
	setIfAbsent("left", left)
}

// -- Computed Style --

// Length is a resolved pixel length; Set is false for auto or absent values.
type Length struct {
	Px  float64
	Set bool
}

// Computed is the subset of computed style the page model reads.
type Computed struct {
	Display       string
	Visibility    string
	Position      string
	PointerEvents string
	Opacity       float64
	ZIndex        int
	ZIndexAuto    bool
	Left          Length
	Top           Length
	Width         Length
	Height        Length
}

// Viewport is the reference box for vw/vh units.
type Viewport struct {
	Width  float64
	Height float64
}

// Initial is the computed style of the root's parent.
func Initial() Computed {
	return Computed{
		Display:       "inline",
		Visibility:    "visible",
		Position:      "static",
		PointerEvents: "auto",
		Opacity:       1,
		ZIndexAuto:    true,
	}
}

// Resolve computes a style from cascaded values and the parent's computed
// style. Visibility and pointer-events inherit; the rest do not.
func Resolve(cascaded map[parser.Property]parser.Value, parent Computed, vp Viewport) Computed {
	c := Initial()
	c.Visibility = parent.Visibility
	c.PointerEvents = parent.PointerEvents

	lookup := func(p parser.Property) (string, bool) {
		v, ok := cascaded[p]
		if !ok {
			return "", false
		}
		s := strings.ToLower(string(v))
		if s == "inherit" {
			return "", false
		}
		return s, true
	}

	if v, ok := lookup("display"); ok {
		c.Display = v
	}
	if v, ok := lookup("visibility"); ok {
		c.Visibility = v
	}
	if v, ok := lookup("pointer-events"); ok {
		c.PointerEvents = v
	}
	if v, ok := lookup("position"); ok {
		c.Position = v
	}
	if v, ok := lookup("opacity"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Opacity = f
		}
	}
	if v, ok := lookup("z-index"); ok && v != "auto" {
		if z, err := strconv.Atoi(v); err == nil {
			c.ZIndex = z
			c.ZIndexAuto = false
		}
	}
	if v, ok := lookup("left"); ok {
		c.Left = ParseLength(v, vp.Width, vp)
	}
	if v, ok := lookup("top"); ok {
		c.Top = ParseLength(v, vp.Height, vp)
	}
	if v, ok := lookup("width"); ok {
		c.Width = ParseLength(v, vp.Width, vp)
	}
	if v, ok := lookup("height"); ok {
		c.Height = ParseLength(v, vp.Height, vp)
	}
	return c
}

// Rendered reports whether the element generates a box.
func (c Computed) Rendered() bool { return c.Display != "none" }

// Hidden reports visibility hidden or collapse.
func (c Computed) Hidden() bool {
	return c.Visibility == "hidden" || c.Visibility == "collapse"
}

// ParseLength resolves a CSS length to pixels. Percentages resolve against
// reference. Unitless numbers are treated as px.
func ParseLength(value string, reference float64, vp Viewport) Length {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" || value == "auto" || value == "normal" {
		return Length{}
	}
	numeric := func(suffix string) (float64, bool) {
		f, err := strconv.ParseFloat(strings.TrimSuffix(value, suffix), 64)
		return f, err == nil
	}
	type unit struct {
		suffix string
		scale  func(float64) float64
	}
	// rem before em, vmin/vmax before the shorter suffixes.
	units := []unit{
		{"px", func(f float64) float64 { return f }},
		{"%", func(f float64) float64 { return reference * f / 100 }},
		{"rem", func(f float64) float64 { return f * BaseFontSize }},
		{"em", func(f float64) float64 { return f * BaseFontSize }},
		{"vmin", func(f float64) float64 { return min(vp.Width, vp.Height) * f / 100 }},
		{"vmax", func(f float64) float64 { return max(vp.Width, vp.Height) * f / 100 }},
		{"vw", func(f float64) float64 { return vp.Width * f / 100 }},
		{"vh", func(f float64) float64 { return vp.Height * f / 100 }},
	}
	for _, u := range units {
		if strings.HasSuffix(value, u.suffix) {
			if f, ok := numeric(u.suffix); ok {
				return Length{Px: u.scale(f), Set: true}
			}
			return Length{}
		}
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return Length{Px: f, Set: true}
	}
	return Length{}
}
