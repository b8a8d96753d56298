// internal/browser/dom/document.go
package dom

import (
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/parser"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/shadowdom"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/style"
)

// DefaultViewport matches a common desktop window.
var DefaultViewport = style.Viewport{Width: 1280, Height: 800}

type shadowRecord struct {
	root   *html.Node
	mode   shadowdom.Mode
	sheets []parser.StyleSheet
}

// Document is a parsed page plus the state a browser keeps beside the tree:
// shadow roots, form control state, listeners, focus, observers and an
// editing log. Every method must run on the document's event loop once the
// document is shared with other goroutines.
type Document struct {
	root     *html.Node
	url      string
	loop     *EventLoop
	logger   *zap.Logger
	styles   *style.Engine
	sheets   []parser.StyleSheet
	viewport style.Viewport

	shadows map[*html.Node]*shadowRecord
	hosts   map[*html.Node]*html.Node

	controls  map[*html.Node]*controlState
	listeners map[*html.Node]map[string][]Listener

	observers     []*MutationObserver
	observerStats ObserverStats

	focused       *html.Node
	caret         *html.Node
	selectAll     bool
	edits         []EditCommand
	scrolledTo    *html.Node
	version       uint64
	computedCache map[*html.Node]style.Computed
	rectCache     map[*html.Node]schemas.Rect
}

// Option configures a Document.
type Option func(*Document)

// WithURL sets document.URL.
func WithURL(u string) Option { return func(d *Document) { d.url = u } }

// WithLoop shares an event loop, usually the tab's.
func WithLoop(l *EventLoop) Option { return func(d *Document) { d.loop = l } }

// WithViewport sets the layout viewport.
func WithViewport(vp style.Viewport) Option { return func(d *Document) { d.viewport = vp } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(d *Document) { d.logger = l } }

// Parse builds a document from HTML, instantiating declarative shadow roots.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	d := &Document{
		root:          root,
		url:           "about:blank",
		viewport:      DefaultViewport,
		styles:        style.NewEngine(),
		shadows:       make(map[*html.Node]*shadowRecord),
		hosts:         make(map[*html.Node]*html.Node),
		controls:      make(map[*html.Node]*controlState),
		listeners:     make(map[*html.Node]map[string][]Listener),
		computedCache: make(map[*html.Node]style.Computed),
		rectCache:     make(map[*html.Node]schemas.Rect),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.loop == nil {
		d.loop = NewEventLoop(d.logger)
	}

	for _, a := range (shadowdom.Engine{}).AttachAll(root) {
		d.shadows[a.Host] = &shadowRecord{root: a.Root, mode: a.Mode, sheets: a.Sheets}
		d.hosts[a.Root] = a.Host
	}
	walkLight(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Style {
			d.sheets = append(d.sheets, parser.NewParser(TextContent(n)).Parse())
		}
		return true
	})
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Loop returns the event loop the document runs on.
func (d *Document) Loop() *EventLoop { return d.loop }

// URL returns the document URL.
func (d *Document) URL() string { return d.url }

// Viewport returns the layout viewport.
func (d *Document) Viewport() style.Viewport { return d.viewport }

// DocumentElement returns <html>.
func (d *Document) DocumentElement() *html.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// Body returns <body>, or nil for documents without one.
func (d *Document) Body() *html.Node {
	de := d.DocumentElement()
	if de == nil {
		return nil
	}
	for c := de.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Body {
			return c
		}
	}
	return nil
}

// Title returns the trimmed <title> text.
func (d *Document) Title() string {
	var title string
	walkLight(d.root, func(n *html.Node) bool {
		if title == "" && n.Type == html.ElementNode && n.DataAtom == atom.Title {
			title = strings.TrimSpace(TextContent(n))
		}
		return title == ""
	})
	return title
}

// -- Shadow Trees --

// ShadowRoot returns the open shadow root of host, nil for closed or absent.
func (d *Document) ShadowRoot(host *html.Node) *html.Node {
	rec, ok := d.shadows[host]
	if !ok || rec.mode != shadowdom.ModeOpen {
		return nil
	}
	return rec.root
}

// Host returns the host of a shadow root.
func (d *Document) Host(shadowRoot *html.Node) *html.Node {
	return d.hosts[shadowRoot]
}

// IsShadowRoot reports whether n is a shadow root of this document.
func (d *Document) IsShadowRoot(n *html.Node) bool {
	_, ok := d.hosts[n]
	return ok
}

// AttachShadow creates an empty open shadow root on host.
func (d *Document) AttachShadow(host *html.Node) *html.Node {
	if rec, ok := d.shadows[host]; ok {
		return rec.root
	}
	sr := &html.Node{Type: html.DocumentNode, Data: shadowdom.RootData}
	d.shadows[host] = &shadowRecord{root: sr, mode: shadowdom.ModeOpen}
	d.hosts[sr] = host
	d.invalidate()
	return sr
}

// RootNode mirrors getRootNode(): the document or the containing shadow root.
func RootNode(n *html.Node) *html.Node {
	for n != nil && n.Parent != nil {
		n = n.Parent
	}
	return n
}

// ParentOrHost returns the parent, crossing from a shadow root to its host.
func (d *Document) ParentOrHost(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	if n.Parent != nil {
		return n.Parent
	}
	return d.hosts[n]
}

// ParentElementOrHost returns the nearest element up the flat tree.
func (d *Document) ParentElementOrHost(n *html.Node) *html.Node {
	for p := d.ParentOrHost(n); p != nil; p = d.ParentOrHost(p) {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

// IsConnected reports whether n is reachable from the document, through
// shadow hosts if needed.
func (d *Document) IsConnected(n *html.Node) bool {
	for n != nil {
		r := RootNode(n)
		if r == d.root {
			return true
		}
		host, ok := d.hosts[r]
		if !ok {
			return false
		}
		n = host
	}
	return false
}

// InShadowTree reports whether n lives inside some shadow root.
func (d *Document) InShadowTree(n *html.Node) bool {
	return d.IsShadowRoot(RootNode(n))
}

// ContainsDeep reports whether n is ancestor itself or a descendant of it,
// crossing shadow boundaries.
func (d *Document) ContainsDeep(ancestor, n *html.Node) bool {
	for p := n; p != nil; p = d.ParentOrHost(p) {
		if p == ancestor {
			return true
		}
	}
	return false
}

// -- Queries --

// Compile parses a CSS selector list.
func Compile(selector string) (cascadia.SelectorGroup, error) {
	group, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return group, nil
}

// QuerySelector returns the first descendant of scope matching selector.
func (d *Document) QuerySelector(scope *html.Node, selector string) (*html.Node, error) {
	group, err := Compile(selector)
	if err != nil {
		return nil, err
	}
	return cascadia.Query(scope, group), nil
}

// QuerySelectorAll returns every descendant of scope matching selector in
// tree order. Shadow trees are not entered.
func (d *Document) QuerySelectorAll(scope *html.Node, selector string) ([]*html.Node, error) {
	group, err := Compile(selector)
	if err != nil {
		return nil, err
	}
	return cascadia.QueryAll(scope, group), nil
}

// Matches mirrors Element.matches.
func Matches(n *html.Node, selector string) (bool, error) {
	group, err := Compile(selector)
	if err != nil {
		return false, err
	}
	return n != nil && n.Type == html.ElementNode && group.Match(n), nil
}

// GetElementByID searches the light tree of a document or shadow root.
func GetElementByID(root *html.Node, id string) *html.Node {
	var found *html.Node
	walkLight(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode {
			if v, ok := Attr(n, "id"); ok && v == id {
				found = n
				return false
			}
		}
		return true
	})
	return found
}

// walkLight visits descendants of root in tree order without entering
// shadow roots; fn returns false to skip a node's children.
func walkLight(root *html.Node, fn func(*html.Node) bool) {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if fn(c) {
			walkLight(c, fn)
		}
	}
}

// WalkLight exports the light tree walker.
func WalkLight(root *html.Node, fn func(*html.Node) bool) { walkLight(root, fn) }

// -- Elements --

// Attr returns an attribute value.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil || n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// AttrOr returns an attribute value or "".
func AttrOr(n *html.Node, key string) string {
	v, _ := Attr(n, key)
	return v
}

// HasAttr reports attribute presence.
func HasAttr(n *html.Node, key string) bool {
	_, ok := Attr(n, key)
	return ok
}

// IsElement reports whether n is an element.
func IsElement(n *html.Node) bool { return n != nil && n.Type == html.ElementNode }

// IsHTMLElement reports whether n is an element in the HTML namespace.
func IsHTMLElement(n *html.Node) bool { return IsElement(n) && n.Namespace == "" }

// TagName returns the lowercase local name.
func TagName(n *html.Node) string {
	if !IsElement(n) {
		return ""
	}
	return strings.ToLower(n.Data)
}

// -- Mutation --

// CreateElement returns a detached HTML element.
func (d *Document) CreateElement(tag string) *html.Node {
	tag = strings.ToLower(tag)
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

// CreateTextNode returns a detached text node.
func (d *Document) CreateTextNode(data string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: data}
}

// SetAttribute sets or replaces an attribute and records the mutation.
func (d *Document) SetAttribute(n *html.Node, key, val string) {
	if !IsElement(n) {
		return
	}
	key = strings.ToLower(key)
	old, had := Attr(n, key)
	if had {
		for i := range n.Attr {
			if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
				n.Attr[i].Val = val
			}
		}
	} else {
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	}
	d.notify(MutationRecord{Type: MutationAttributes, Target: n, AttributeName: key, OldValue: old, HasOldValue: had})
}

// RemoveAttribute removes an attribute if present.
func (d *Document) RemoveAttribute(n *html.Node, key string) {
	old, had := Attr(n, key)
	if !had {
		return
	}
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if !(a.Namespace == "" && a.Key == key) {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
	d.notify(MutationRecord{Type: MutationAttributes, Target: n, AttributeName: key, OldValue: old, HasOldValue: true})
}

// AppendChild moves child to the end of parent.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.InsertBefore(parent, child, nil)
}

// InsertBefore inserts child before ref (append when ref is nil).
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	if child.Parent != nil {
		d.RemoveChild(child.Parent, child)
	}
	parent.InsertBefore(child, ref)
	d.notify(MutationRecord{Type: MutationChildList, Target: parent, AddedNodes: []*html.Node{child}})
}

// RemoveChild detaches child from parent.
func (d *Document) RemoveChild(parent, child *html.Node) {
	if child.Parent != parent {
		return
	}
	if d.focused != nil && (d.focused == child || isLightAncestor(child, d.focused)) {
		d.focused = nil
	}
	parent.RemoveChild(child)
	d.notify(MutationRecord{Type: MutationChildList, Target: parent, RemovedNodes: []*html.Node{child}})
}

// Remove detaches n from its parent.
func (d *Document) Remove(n *html.Node) {
	if n != nil && n.Parent != nil {
		d.RemoveChild(n.Parent, n)
	}
}

// SetTextContent replaces all children with one text node.
func (d *Document) SetTextContent(n *html.Node, text string) {
	var removed []*html.Node
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		removed = append(removed, c)
		c = next
	}
	var added []*html.Node
	if text != "" {
		t := d.CreateTextNode(text)
		n.AppendChild(t)
		added = append(added, t)
	}
	if len(removed) > 0 || len(added) > 0 {
		d.notify(MutationRecord{Type: MutationChildList, Target: n, AddedNodes: added, RemovedNodes: removed})
	}
}

// SetData replaces a text node's data.
func (d *Document) SetData(n *html.Node, data string) {
	if n == nil || n.Type != html.TextNode {
		return
	}
	old := n.Data
	n.Data = data
	d.notify(MutationRecord{Type: MutationCharacterData, Target: n, OldValue: old, HasOldValue: true})
}

// invalidate drops style and geometry caches after any mutation.
func (d *Document) invalidate() {
	d.version++
	if len(d.computedCache) > 0 {
		d.computedCache = make(map[*html.Node]style.Computed)
	}
	if len(d.rectCache) > 0 {
		d.rectCache = make(map[*html.Node]schemas.Rect)
	}
}

// Version increments on every mutation.
func (d *Document) Version() uint64 { return d.version }
