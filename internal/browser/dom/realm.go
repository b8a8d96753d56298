// internal/browser/dom/realm.go
package dom

import (
	"sync"

	"golang.org/x/net/html"
)

// World names an execution world.
type World string

const (
	// WorldMain is the page's own script context.
	WorldMain World = "MAIN"
	// WorldIsolated shares the DOM but not globals with the page.
	WorldIsolated World = "ISOLATED"
)

// FrameInfo describes where a realm's document sits in its tab.
type FrameInfo struct {
	// ID is the tab-wide frame id; the top frame is 0.
	ID int
	// Index is the position among the parent's child frames, -1 for the top.
	Index int
	// Element is window.frameElement. It is nil for the top frame and for
	// frames whose sandbox hides the embedder.
	Element *html.Node
}

// Top reports whether this is the main frame.
func (f FrameInfo) Top() bool { return f.ID == 0 }

// Realm is one global environment over a document. Two worlds over the same
// document share the tree but not globals.
type Realm struct {
	doc   *Document
	world World
	frame FrameInfo

	mu      sync.Mutex
	globals map[string]any
}

// NewRealm creates a realm with empty globals.
func NewRealm(doc *Document, world World, frame FrameInfo) *Realm {
	return &Realm{doc: doc, world: world, frame: frame, globals: make(map[string]any)}
}

// Document returns the realm's document.
func (r *Realm) Document() *Document { return r.doc }

// Loop returns the event loop of the realm's document.
func (r *Realm) Loop() *EventLoop { return r.doc.loop }

// World returns the execution world.
func (r *Realm) World() World { return r.world }

// Frame returns the frame description.
func (r *Realm) Frame() FrameInfo { return r.frame }

// Global returns a value from the realm's global object.
func (r *Realm) Global(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.globals[key]
	return v, ok
}

// SetGlobal stores a value on the realm's global object.
func (r *Realm) SetGlobal(key string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globals[key] = v
}

// GlobalOrInit returns the value under key, storing init() first when absent.
func (r *Realm) GlobalOrInit(key string, init func() any) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.globals[key]; ok {
		return v
	}
	v := init()
	r.globals[key] = v
	return v
}
