// internal/browser/primitives/actions.go
package primitives

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
)

// DefaultKey is pressed by key_press when no key is given.
const DefaultKey = "Enter"

// -- Mutating Handlers --

// mutate runs the element-level part of a mutating action. It never resolves
// targets itself, so an ambiguous selector can never reach it.
func (p *page) mutate(action schemas.Action, selector string, n *html.Node, opts schemas.ActionOptions) schemas.ActionResult {
	ok := schemas.ActionResult{Success: true, Action: action, Selector: selector}
	switch action {
	case schemas.ActionClick:
		if !dom.IsHTMLElement(n) {
			return schemas.Fail(action, selector, schemas.ErrNotInteractive, "Element <"+dom.TagName(n)+"> cannot be clicked")
		}
		p.doc.ScrollIntoView(n)
		p.doc.Click(n)

	case schemas.ActionType:
		if !p.typeable(n) {
			return schemas.Fail(action, selector, schemas.ErrNotTypeable, "Element <"+dom.TagName(n)+"> does not accept text")
		}
		ok.Value = p.typeInto(n, opts.Text, opts.Clear)

	case schemas.ActionSelect:
		if n.DataAtom != atom.Select || !dom.IsHTMLElement(n) {
			return schemas.Fail(action, selector, schemas.ErrNotSelect, "Element <"+dom.TagName(n)+"> is not a <select>")
		}
		ok.Value = p.selectOption(n, opts.Value)

	case schemas.ActionCheck:
		if !dom.IsCheckable(n) {
			return schemas.Fail(action, selector, schemas.ErrNotCheckable, "Element <"+dom.TagName(n)+"> is not a checkbox or radio")
		}
		want := true
		if opts.Checked != nil {
			want = *opts.Checked
		}
		if p.doc.Checked(n) != want {
			p.doc.Click(n)
		}
		ok.Value = p.doc.Checked(n)

	case schemas.ActionSetAttribute:
		if opts.Name == "" {
			return schemas.Fail(action, selector, schemas.ErrInvalidParams, "set_attribute requires name")
		}
		p.doc.SetAttribute(n, opts.Name, opts.Value)
		ok.Value = opts.Value

	case schemas.ActionPaste:
		if !p.typeable(n) {
			return schemas.Fail(action, selector, schemas.ErrNotTypeable, "Element <"+dom.TagName(n)+"> does not accept pasted text")
		}
		ok.Value = p.paste(n, opts.Text)

	case schemas.ActionKeyPress:
		if !dom.IsElement(n) {
			return schemas.Fail(action, selector, schemas.ErrNotInteractive, "Target is not an element")
		}
		key := opts.Text
		if key == "" {
			key = DefaultKey
		}
		p.doc.Focus(n)
		p.doc.PressKey(n, key)
		ok.Value = key

	case schemas.ActionFocus:
		if !p.doc.Focus(n) {
			return schemas.Fail(action, selector, schemas.ErrNotFocusable, "Element <"+dom.TagName(n)+"> cannot take focus")
		}

	case schemas.ActionScrollTo:
		if !dom.IsElement(n) {
			return schemas.Fail(action, selector, schemas.ErrNotInteractive, "Target is not an element")
		}
		p.doc.ScrollIntoView(n)

	default:
		return schemas.Fail(action, selector, schemas.ErrUnknownAction, "Unknown action "+string(action))
	}
	return ok
}

func (p *page) typeable(n *html.Node) bool {
	return dom.IsTextEntry(n) || p.doc.IsContentEditable(n)
}

// typeInto focuses n and inserts text. Form controls get the value set and
// input/change events; editing hosts go through execCommand so that
// editors listening for input events see native edits.
func (p *page) typeInto(n *html.Node, text string, clear bool) any {
	p.doc.Focus(n)
	if dom.IsTextEntry(n) {
		value := text
		if !clear {
			value = p.doc.Value(n) + text
		}
		p.doc.SetValue(n, value)
		p.doc.DispatchEvent(n, &dom.Event{Type: "input", Bubbles: true, InputType: dom.CommandInsertText, Data: text})
		p.doc.Fire(n, "change")
		return p.doc.Value(n)
	}

	if clear {
		p.doc.ExecCommand(dom.CommandSelectAll, "")
		p.doc.ExecCommand(dom.CommandDelete, "")
	}
	// Each newline becomes its own paragraph; empty lines add no text.
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			p.doc.ExecCommand(dom.CommandInsertParagraph, "")
		}
		if line != "" {
			p.doc.ExecCommand(dom.CommandInsertText, line)
		}
	}
	return p.doc.InnerText(n)
}

// selectOption selects by option value first, then by option text.
func (p *page) selectOption(sel *html.Node, want string) string {
	var match *html.Node
	for _, opt := range p.doc.Options(sel) {
		if p.doc.Value(opt) == want {
			match = opt
			break
		}
	}
	if match == nil {
		for _, opt := range p.doc.Options(sel) {
			if dom.NormalizeSpace(dom.TextContent(opt)) == strings.TrimSpace(want) {
				match = opt
				break
			}
		}
	}
	if match != nil {
		p.doc.SelectOption(sel, match)
	} else {
		p.doc.SetValue(sel, want)
	}
	p.doc.Fire(sel, "input")
	p.doc.Fire(sel, "change")
	return p.doc.Value(sel)
}

// paste fires a cancelable paste event carrying text and inserts the text
// when no listener prevented it.
func (p *page) paste(n *html.Node, text string) any {
	p.doc.Focus(n)
	ev := dom.NewEvent("paste")
	ev.Data = text
	if !p.doc.DispatchEvent(n, ev) {
		return nil
	}
	if dom.IsTextEntry(n) {
		p.doc.SetValue(n, p.doc.Value(n)+text)
		p.doc.DispatchEvent(n, &dom.Event{Type: "input", Bubbles: true, InputType: "insertFromPaste", Data: text})
		return p.doc.Value(n)
	}
	p.doc.ExecCommand(dom.CommandInsertText, text)
	return p.doc.InnerText(n)
}

// -- Read Handlers --

func (p *page) read(action schemas.Action, selector string, n *html.Node, opts schemas.ActionOptions) schemas.ActionResult {
	res := schemas.ActionResult{Success: true, Action: action, Selector: selector}
	switch action {
	case schemas.ActionGetText:
		if text := p.text(n); text != "" {
			res.Value = text
		} else {
			res.Reason = schemas.ReasonNoTextContent
		}

	case schemas.ActionGetValue:
		if !dom.HasValueProperty(n) {
			return schemas.Fail(action, selector, schemas.ErrNoValueProperty, "Element <"+dom.TagName(n)+"> has no value property")
		}
		if v := p.doc.Value(n); v != "" {
			res.Value = v
		} else {
			res.Reason = schemas.ReasonNoValue
		}

	case schemas.ActionGetAttribute:
		if opts.Name == "" {
			return schemas.Fail(action, selector, schemas.ErrInvalidParams, "get_attribute requires name")
		}
		if v, ok := dom.Attr(n, strings.ToLower(opts.Name)); ok {
			res.Value = v
		} else {
			res.Reason = schemas.ReasonAttributeNotFound
		}

	case schemas.ActionWaitFor:
		res.Value = true
	}
	return res
}
