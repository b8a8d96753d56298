// internal/browser/dom/events.go
package dom

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Event is a synthetic DOM event. Key is set for keyboard events, Data for
// input and clipboard events.
type Event struct {
	Type          string
	Target        *html.Node
	CurrentTarget *html.Node
	Bubbles       bool
	Cancelable    bool
	Key           string
	Data          string
	InputType     string

	defaultPrevented bool
	stopped          bool
}

// NewEvent returns a bubbling, cancelable event.
func NewEvent(typ string) *Event {
	return &Event{Type: typ, Bubbles: true, Cancelable: true}
}

// PreventDefault cancels the default action of a cancelable event.
func (e *Event) PreventDefault() {
	if e.Cancelable {
		e.defaultPrevented = true
	}
}

// DefaultPrevented reports whether a listener cancelled the event.
func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// StopPropagation stops the event after the current node.
func (e *Event) StopPropagation() { e.stopped = true }

// Listener handles an event. Listeners run inside the current loop task.
type Listener func(e *Event)

// AddEventListener registers fn for typ on n. The document node itself is a
// valid target.
func (d *Document) AddEventListener(n *html.Node, typ string, fn Listener) {
	byType, ok := d.listeners[n]
	if !ok {
		byType = make(map[string][]Listener)
		d.listeners[n] = byType
	}
	byType[typ] = append(byType[typ], fn)
}

// DispatchEvent runs listeners on the target and, for bubbling events, on
// every flat-tree ancestor up to the document. It returns false when the
// default action was prevented.
func (d *Document) DispatchEvent(target *html.Node, e *Event) bool {
	e.Target = target
	path := []*html.Node{target}
	if e.Bubbles {
		for p := d.ParentOrHost(target); p != nil; p = d.ParentOrHost(p) {
			path = append(path, p)
		}
	}
	for _, n := range path {
		listeners := d.listeners[n][e.Type]
		if len(listeners) == 0 {
			continue
		}
		e.CurrentTarget = n
		for _, fn := range append([]Listener(nil), listeners...) {
			fn(e)
		}
		if e.stopped {
			break
		}
	}
	e.CurrentTarget = nil
	return !e.defaultPrevented
}

// Fire dispatches a bubbling, non-cancelable event of typ.
func (d *Document) Fire(target *html.Node, typ string) {
	d.DispatchEvent(target, &Event{Type: typ, Bubbles: true})
}

// Click mirrors HTMLElement.click(): disabled controls ignore it, checkable
// inputs toggle before dispatch and revert when cancelled, and uncancelled
// clicks run activation behaviour (form submission, label forwarding,
// <summary> toggling).
func (d *Document) Click(n *html.Node) {
	if !IsElement(n) || d.Disabled(n) {
		return
	}

	var restore func()
	if IsCheckable(n) {
		was := d.Checked(n)
		group := d.radioGroup(n)
		var groupState map[*html.Node]bool
		if InputType(n) == "radio" {
			groupState = make(map[*html.Node]bool, len(group))
			for _, r := range group {
				groupState[r] = d.Checked(r)
			}
			d.SetChecked(n, true)
		} else {
			d.SetChecked(n, !was)
		}
		restore = func() {
			for r, c := range groupState {
				v := c
				d.control(r).checked = &v
			}
			v := was
			d.control(n).checked = &v
			d.invalidate()
		}
		if was == d.Checked(n) {
			restore = nil
		}
	}

	ev := NewEvent("click")
	if !d.DispatchEvent(n, ev) {
		if restore != nil {
			restore()
		}
		return
	}
	if restore != nil {
		d.Fire(n, "input")
		d.Fire(n, "change")
	}
	d.activate(n)
}

func (d *Document) activate(n *html.Node) {
	switch {
	case IsSubmitButton(n):
		if form := d.Form(n); form != nil {
			d.RequestSubmit(form)
		}
	case n.DataAtom == atom.Label:
		if ctl := d.LabeledControl(n); ctl != nil && ctl != n {
			d.Click(ctl)
		}
	case n.DataAtom == atom.Summary:
		if details := n.Parent; details != nil && details.DataAtom == atom.Details {
			if HasAttr(details, "open") {
				d.RemoveAttribute(details, "open")
			} else {
				d.SetAttribute(details, "open", "")
			}
		}
	}
}

// RequestSubmit dispatches a cancelable submit event on form. Navigation is
// out of scope; listeners observe the submission.
func (d *Document) RequestSubmit(form *html.Node) bool {
	return d.DispatchEvent(form, NewEvent("submit"))
}

// IsFocusable reports elements that accept focus().
func (d *Document) IsFocusable(n *html.Node) bool {
	if !IsHTMLElement(n) || d.Disabled(n) || !d.Rendered(n) {
		return false
	}
	if HasAttr(n, "tabindex") || d.IsContentEditable(n) {
		return true
	}
	switch n.DataAtom {
	case atom.Input:
		return InputType(n) != "hidden"
	case atom.Select, atom.Textarea, atom.Button, atom.Summary, atom.Iframe:
		return true
	case atom.A, atom.Area:
		return HasAttr(n, "href")
	}
	return false
}

// Focus mirrors HTMLElement.focus(). It returns whether n is focused after
// the call; unfocusable elements are ignored without error.
func (d *Document) Focus(n *html.Node) bool {
	if !d.IsFocusable(n) {
		return false
	}
	if d.focused == n {
		return true
	}
	d.Blur()
	d.focused = n
	if d.IsContentEditable(n) {
		d.caret = n
		d.selectAll = false
	}
	d.DispatchEvent(n, &Event{Type: "focus"})
	d.DispatchEvent(n, &Event{Type: "focusin", Bubbles: true})
	return true
}

// Blur removes focus from the active element.
func (d *Document) Blur() {
	prev := d.focused
	if prev == nil {
		return
	}
	d.focused = nil
	d.caret = nil
	d.selectAll = false
	d.DispatchEvent(prev, &Event{Type: "blur"})
	d.DispatchEvent(prev, &Event{Type: "focusout", Bubbles: true})
}

// ActiveElement returns the focused element, or <body>.
func (d *Document) ActiveElement() *html.Node {
	if d.focused != nil && d.IsConnected(d.focused) {
		return d.focused
	}
	return d.Body()
}

// FocusableElements lists focusable elements in flat tree order.
func (d *Document) FocusableElements() []*html.Node {
	var out []*html.Node
	var walk func(root *html.Node)
	walk = func(root *html.Node) {
		for c := root.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if d.IsFocusable(c) && AttrOr(c, "tabindex") != "-1" {
				out = append(out, c)
			}
			if rec, ok := d.shadows[c]; ok {
				walk(rec.root)
			}
			walk(c)
		}
	}
	walk(d.root)
	return out
}

// PressKey dispatches keydown, keypress (for keys that produce one) and
// keyup on target. Uncancelled Tab moves focus forward and uncancelled Enter
// in a text input submits its form.
func (d *Document) PressKey(target *html.Node, key string) {
	down := NewEvent("keydown")
	down.Key = key
	proceed := d.DispatchEvent(target, down)

	if proceed && producesKeypress(key) {
		press := NewEvent("keypress")
		press.Key = key
		proceed = d.DispatchEvent(target, press)
	}

	if proceed {
		switch key {
		case "Tab":
			d.focusNext(target)
		case "Enter":
			if target.DataAtom == atom.Input && IsTextEntry(target) {
				if form := d.Form(target); form != nil {
					d.RequestSubmit(form)
				}
			}
		}
	}

	up := NewEvent("keyup")
	up.Key = key
	d.DispatchEvent(target, up)
}

func producesKeypress(key string) bool {
	if key == "Enter" || key == " " || key == "Space" {
		return true
	}
	return len([]rune(key)) == 1
}

func (d *Document) focusNext(from *html.Node) {
	order := d.FocusableElements()
	if len(order) == 0 {
		return
	}
	for i, n := range order {
		if n == from {
			d.Focus(order[(i+1)%len(order)])
			return
		}
	}
	d.Focus(order[0])
}
