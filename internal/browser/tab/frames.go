// internal/browser/tab/frames.go
package tab

import (
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
)

// SrcdocURL is the URL of a frame built from its srcdoc attribute.
const SrcdocURL = "about:srcdoc"

// BlankURL is the URL of an iframe with neither a snapshot nor srcdoc.
const BlankURL = "about:blank"

// Frame is one document in the tab's frame tree. Frames are numbered
// depth-first from the top document, which is always 0.
type Frame struct {
	ID  int
	URL string
	// Index is the position among the parent's child frames, -1 for the top.
	Index  int
	Parent *Frame
	// Element is the embedding <iframe> in the parent document.
	Element *html.Node
	Doc     *dom.Document

	// opaque frames (sandboxed without allow-same-origin) hide their
	// embedder from script.
	opaque bool
	realms map[dom.World]*dom.Realm
}

// Info is the script-visible frame identity.
func (f *Frame) Info() dom.FrameInfo {
	info := dom.FrameInfo{ID: f.ID, Index: f.Index}
	if !f.opaque {
		info.Element = f.Element
	}
	return info
}

// realm returns the frame's realm for world, creating it on first use.
func (f *Frame) realm(world dom.World) *dom.Realm {
	if r, ok := f.realms[world]; ok {
		return r
	}
	r := dom.NewRealm(f.Doc, world, f.Info())
	f.realms[world] = r
	return r
}

type frameBuilder struct {
	tab    *Tab
	loop   *dom.EventLoop
	frames []*Frame
}

func (b *frameBuilder) build(snap Snapshot, parent *Frame, index int, element *html.Node) (*Frame, error) {
	doc, err := dom.ParseString(snap.HTML,
		dom.WithURL(snap.URL),
		dom.WithLoop(b.loop),
		dom.WithViewport(b.tab.viewport),
		dom.WithLogger(b.tab.logger))
	if err != nil {
		return nil, err
	}
	f := &Frame{
		ID:      len(b.frames),
		URL:     snap.URL,
		Index:   index,
		Parent:  parent,
		Element: element,
		Doc:     doc,
		opaque:  element != nil && isOpaqueSandbox(element),
		realms:  make(map[dom.World]*dom.Realm),
	}
	b.frames = append(b.frames, f)

	for i, iframe := range iframesOf(doc) {
		child := Snapshot{URL: BlankURL}
		switch {
		case i < len(snap.Frames):
			child = snap.Frames[i]
		case dom.HasAttr(iframe, "srcdoc"):
			child = Snapshot{URL: SrcdocURL, HTML: dom.AttrOr(iframe, "srcdoc")}
		}
		if _, err := b.build(child, f, i, iframe); err != nil {
			return nil, err
		}
	}
	if len(snap.Frames) > len(iframesOf(doc)) {
		b.tab.logger.Debug("Dropped snapshot frames without an embedding iframe.",
			zap.String("url", snap.URL),
			zap.Int("snapshots", len(snap.Frames)))
	}
	return f, nil
}

// iframesOf lists the document's iframes in flat-tree order, open shadow
// roots included.
func iframesOf(doc *dom.Document) []*html.Node {
	var out []*html.Node
	var walk func(root *html.Node)
	walk = func(root *html.Node) {
		dom.WalkLight(root, func(n *html.Node) bool {
			if n.Type != html.ElementNode {
				return true
			}
			if n.DataAtom == atom.Iframe {
				out = append(out, n)
				return false
			}
			if sr := doc.ShadowRoot(n); sr != nil {
				walk(sr)
			}
			return true
		})
	}
	walk(doc.Root())
	return out
}

// isOpaqueSandbox reports a sandbox attribute without allow-same-origin.
func isOpaqueSandbox(iframe *html.Node) bool {
	v, ok := dom.Attr(iframe, "sandbox")
	if !ok {
		return false
	}
	for _, token := range strings.Fields(strings.ToLower(v)) {
		if token == "allow-same-origin" {
			return false
		}
	}
	return true
}

// -- Frame Access --

// FrameIDs lists every frame id in depth-first order.
func (t *Tab) FrameIDs() ([]int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, ErrTabClosed
	}
	ids := make([]int, len(t.frames))
	for i, f := range t.frames {
		ids[i] = f.ID
	}
	return ids, nil
}

// Frame returns a frame by id.
func (t *Tab) Frame(id int) (*Frame, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frameLocked(id)
}

func (t *Tab) frameLocked(id int) (*Frame, error) {
	if t.closed {
		return nil, ErrTabClosed
	}
	if len(t.frames) == 0 {
		return nil, ErrNotLoaded
	}
	if id < 0 || id >= len(t.frames) {
		return nil, ErrNoSuchFrame
	}
	return t.frames[id], nil
}

// Realm returns the realm of frame id in world. Realms persist until the
// next Load or Reload.
func (t *Tab) Realm(id int, world dom.World) (*dom.Realm, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := t.frameLocked(id)
	if err != nil {
		return nil, err
	}
	if world == dom.WorldMain && t.mainBlocked {
		return nil, ErrWorldBlocked
	}
	return f.realm(world), nil
}
