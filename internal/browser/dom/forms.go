// internal/browser/dom/forms.go
package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// controlState holds the dirty IDL state of a form control. Attributes keep
// the defaults; this holds what script or the user changed.
type controlState struct {
	value    *string
	checked  *bool
	selected *bool
}

func (d *Document) control(n *html.Node) *controlState {
	cs, ok := d.controls[n]
	if !ok {
		cs = &controlState{}
		d.controls[n] = cs
	}
	return cs
}

// InputType returns the lowercased type of an <input>, "text" by default.
func InputType(n *html.Node) string {
	if n == nil || n.DataAtom != atom.Input {
		return ""
	}
	t := strings.ToLower(strings.TrimSpace(AttrOr(n, "type")))
	if t == "" {
		return "text"
	}
	return t
}

// textEntryTypes accept typed text.
var textEntryTypes = map[string]bool{
	"text": true, "search": true, "email": true, "password": true, "tel": true,
	"url": true, "number": true, "date": true, "datetime-local": true,
	"month": true, "time": true, "week": true,
}

// IsTextEntry reports <textarea> or a text-like <input>.
func IsTextEntry(n *html.Node) bool {
	if !IsHTMLElement(n) {
		return false
	}
	if n.DataAtom == atom.Textarea {
		return true
	}
	return n.DataAtom == atom.Input && textEntryTypes[InputType(n)]
}

// IsCheckable reports checkbox and radio inputs.
func IsCheckable(n *html.Node) bool {
	t := InputType(n)
	return t == "checkbox" || t == "radio"
}

// HasValueProperty mirrors `'value' in el` for HTML elements.
func HasValueProperty(n *html.Node) bool {
	if !IsHTMLElement(n) {
		return false
	}
	switch n.DataAtom {
	case atom.Input, atom.Textarea, atom.Select, atom.Button, atom.Option,
		atom.Output, atom.Data, atom.Meter, atom.Progress, atom.Li, atom.Param:
		return true
	}
	return false
}

// Disabled reports a disabled form control, including via a disabled fieldset.
func (d *Document) Disabled(n *html.Node) bool {
	if !IsHTMLElement(n) {
		return false
	}
	switch n.DataAtom {
	case atom.Input, atom.Textarea, atom.Select, atom.Button, atom.Option, atom.Fieldset:
	default:
		return false
	}
	if HasAttr(n, "disabled") {
		return true
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.DataAtom == atom.Fieldset && HasAttr(p, "disabled") {
			return true
		}
	}
	return false
}

// Value returns the current value of a control.
func (d *Document) Value(n *html.Node) string {
	if !HasValueProperty(n) {
		return ""
	}
	if cs, ok := d.controls[n]; ok && cs.value != nil {
		return *cs.value
	}
	switch n.DataAtom {
	case atom.Textarea:
		return TextContent(n)
	case atom.Select:
		if opt := d.SelectedOption(n); opt != nil {
			return d.Value(opt)
		}
		return ""
	case atom.Option:
		if v, ok := Attr(n, "value"); ok {
			return v
		}
		return NormalizeSpace(TextContent(n))
	case atom.Output:
		return TextContent(n)
	case atom.Input:
		if v, ok := Attr(n, "value"); ok {
			return v
		}
		if IsCheckable(n) {
			return "on"
		}
		return ""
	case atom.Li, atom.Meter, atom.Progress:
		if v, ok := Attr(n, "value"); ok {
			return v
		}
		return "0"
	}
	return AttrOr(n, "value")
}

// SetValue sets the IDL value. For <select> it selects the first option
// whose value matches and reports whether one did.
func (d *Document) SetValue(n *html.Node, v string) bool {
	if !HasValueProperty(n) {
		return false
	}
	if n.DataAtom == atom.Select {
		var match *html.Node
		for _, opt := range d.Options(n) {
			if match == nil && d.Value(opt) == v {
				match = opt
			}
		}
		d.selectOnly(n, match)
		return match != nil
	}
	val := v
	d.control(n).value = &val
	d.invalidate()
	return true
}

// Options returns the <option> descendants of a <select>.
func (d *Document) Options(sel *html.Node) []*html.Node {
	var opts []*html.Node
	walkLight(sel, func(c *html.Node) bool {
		if c.Type == html.ElementNode && c.DataAtom == atom.Option {
			opts = append(opts, c)
			return false
		}
		return true
	})
	return opts
}

// Selected reports an option's selectedness.
func (d *Document) Selected(opt *html.Node) bool {
	if cs, ok := d.controls[opt]; ok && cs.selected != nil {
		return *cs.selected
	}
	return HasAttr(opt, "selected")
}

// SelectedOption returns the selected option of a single <select>. With no
// option marked in markup it falls back to the first; once script has set
// the selection, an empty selection stays empty.
func (d *Document) SelectedOption(sel *html.Node) *html.Node {
	opts := d.Options(sel)
	var last *html.Node
	dirty := false
	for _, opt := range opts {
		if cs, ok := d.controls[opt]; ok && cs.selected != nil {
			dirty = true
		}
		if d.Selected(opt) {
			last = opt
		}
	}
	if last != nil {
		return last
	}
	if len(opts) > 0 && !dirty && !HasAttr(sel, "multiple") {
		return opts[0]
	}
	return nil
}

// SelectOption selects opt and deselects its siblings.
func (d *Document) SelectOption(sel, opt *html.Node) {
	d.selectOnly(sel, opt)
}

func (d *Document) selectOnly(sel, opt *html.Node) {
	for _, o := range d.Options(sel) {
		on := o == opt
		d.control(o).selected = &on
	}
	d.invalidate()
}

// Checked returns checkedness.
func (d *Document) Checked(n *html.Node) bool {
	if cs, ok := d.controls[n]; ok && cs.checked != nil {
		return *cs.checked
	}
	return HasAttr(n, "checked")
}

// SetChecked sets checkedness; checking a radio unchecks its group.
func (d *Document) SetChecked(n *html.Node, checked bool) {
	if !IsCheckable(n) {
		return
	}
	if checked && InputType(n) == "radio" {
		for _, other := range d.radioGroup(n) {
			if other != n {
				off := false
				d.control(other).checked = &off
			}
		}
	}
	v := checked
	d.control(n).checked = &v
	d.invalidate()
}

func (d *Document) radioGroup(n *html.Node) []*html.Node {
	name := AttrOr(n, "name")
	if name == "" {
		return nil
	}
	form := d.Form(n)
	var group []*html.Node
	walkLight(RootNode(n), func(c *html.Node) bool {
		if InputType(c) == "radio" && AttrOr(c, "name") == name && d.Form(c) == form {
			group = append(group, c)
		}
		return true
	})
	return group
}

// Form returns the form owner through ancestry.
func (d *Document) Form(n *html.Node) *html.Node {
	if id, ok := Attr(n, "form"); ok {
		if f := GetElementByID(RootNode(n), id); f != nil && f.DataAtom == atom.Form {
			return f
		}
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == atom.Form {
			return p
		}
	}
	return nil
}

// IsSubmitButton reports buttons that submit their form on activation.
func IsSubmitButton(n *html.Node) bool {
	if !IsHTMLElement(n) {
		return false
	}
	switch n.DataAtom {
	case atom.Button:
		t := strings.ToLower(AttrOr(n, "type"))
		return t == "" || t == "submit"
	case atom.Input:
		t := InputType(n)
		return t == "submit" || t == "image"
	}
	return false
}

// LabeledControl returns the control a <label> points at.
func (d *Document) LabeledControl(label *html.Node) *html.Node {
	if label == nil || label.DataAtom != atom.Label {
		return nil
	}
	if id, ok := Attr(label, "for"); ok {
		return GetElementByID(RootNode(label), id)
	}
	var found *html.Node
	walkLight(label, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if isLabelable(c) {
			found = c
			return false
		}
		return true
	})
	return found
}

func isLabelable(n *html.Node) bool {
	if !IsHTMLElement(n) {
		return false
	}
	switch n.DataAtom {
	case atom.Button, atom.Meter, atom.Output, atom.Progress, atom.Select, atom.Textarea:
		return true
	case atom.Input:
		return InputType(n) != "hidden"
	}
	return false
}
