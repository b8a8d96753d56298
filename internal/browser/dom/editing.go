// internal/browser/dom/editing.go
package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Editing command names accepted by ExecCommand.
const (
	CommandInsertText      = "insertText"
	CommandInsertParagraph = "insertParagraph"
	CommandInsertLineBreak = "insertLineBreak"
	CommandSelectAll       = "selectAll"
	CommandDelete          = "delete"
)

// EditCommand is one recorded execCommand call.
type EditCommand struct {
	Name  string
	Value string
}

// IsContentEditable reports whether n is editable through the contenteditable
// attribute on itself or a light-tree ancestor.
func (d *Document) IsContentEditable(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		v, ok := Attr(p, "contenteditable")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "true", "plaintext-only":
			return true
		case "false":
			return false
		}
	}
	return false
}

// EditingHost returns the outermost editable ancestor of n, or nil.
func (d *Document) EditingHost(n *html.Node) *html.Node {
	if !d.IsContentEditable(n) {
		return nil
	}
	host := n
	for p := n.Parent; p != nil && p.Type == html.ElementNode && d.IsContentEditable(p); p = p.Parent {
		host = p
	}
	return host
}

// EditLog returns every command ExecCommand accepted, in order.
func (d *Document) EditLog() []EditCommand {
	return append([]EditCommand(nil), d.edits...)
}

// ExecCommand mirrors document.execCommand against the focused editing
// host. It returns false when nothing editable has focus or the command is
// unknown. Accepted commands are recorded in EditLog and (except selectAll)
// fire an input event on the host.
func (d *Document) ExecCommand(name, value string) bool {
	host := d.EditingHost(d.focused)
	if host == nil {
		return false
	}
	if d.caret == nil || !d.ContainsDeep(host, d.caret) {
		d.caret = host
	}

	switch name {
	case CommandSelectAll:
		d.selectAll = true
	case CommandInsertText:
		d.replaceSelection(host)
		d.insertText(value)
	case CommandInsertParagraph:
		d.replaceSelection(host)
		para := d.CreateElement("div")
		para.AppendChild(d.CreateElement("br"))
		d.AppendChild(host, para)
		d.caret = para
	case CommandInsertLineBreak:
		d.replaceSelection(host)
		d.AppendChild(d.caret, d.CreateElement("br"))
	case CommandDelete:
		if d.selectAll {
			d.replaceSelection(host)
		} else {
			d.deleteBackward(host)
		}
	default:
		return false
	}

	d.edits = append(d.edits, EditCommand{Name: name, Value: value})
	if name != CommandSelectAll {
		ev := &Event{Type: "input", Bubbles: true, InputType: name, Data: value}
		d.DispatchEvent(host, ev)
	}
	return true
}

// replaceSelection empties the host when everything is selected.
func (d *Document) replaceSelection(host *html.Node) {
	if !d.selectAll {
		return
	}
	d.selectAll = false
	d.SetTextContent(host, "")
	d.caret = host
}

func (d *Document) insertText(text string) {
	if text == "" {
		return
	}
	c := d.caret
	// A fresh paragraph holds a placeholder <br> until it gets text.
	if last := c.LastChild; last != nil && last.DataAtom == atom.Br && last.PrevSibling == nil && c != d.EditingHost(c) {
		d.RemoveChild(c, last)
	}
	if last := c.LastChild; last != nil && last.Type == html.TextNode {
		d.SetData(last, last.Data+text)
		return
	}
	d.AppendChild(c, d.CreateTextNode(text))
}

func (d *Document) deleteBackward(host *html.Node) {
	var last *html.Node
	walkLight(host, func(c *html.Node) bool {
		if c.Type == html.TextNode && c.Data != "" {
			last = c
		}
		return true
	})
	if last == nil {
		return
	}
	r := []rune(last.Data)
	d.SetData(last, string(r[:len(r)-1]))
}
