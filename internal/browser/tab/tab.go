// internal/browser/tab/tab.go
package tab

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/style"
)

var (
	// ErrTabClosed is returned by every operation on a closed tab.
	ErrTabClosed = errors.New("tab is closed")
	// ErrNoSuchFrame is returned when a frame id does not exist in the
	// current document.
	ErrNoSuchFrame = errors.New("no frame with that id")
	// ErrWorldBlocked is returned when the page's content security policy
	// refuses main-world script injection.
	ErrWorldBlocked = errors.New("main world injection blocked by content security policy")
	// ErrNotLoaded is returned before the first Load.
	ErrNotLoaded = errors.New("tab has no document")
)

// Snapshot is the serialized state of one frame and its child frames.
// Children pair with the frame's <iframe> elements in document order; an
// iframe without a child snapshot is built from its srcdoc attribute.
type Snapshot struct {
	URL    string     `json:"url"`
	Title  string     `json:"title,omitempty"`
	HTML   string     `json:"html"`
	Frames []Snapshot `json:"frames,omitempty"`
}

// Option configures a Tab.
type Option func(*Tab)

// WithLogger sets the tab's logger.
func WithLogger(l *zap.Logger) Option { return func(t *Tab) { t.logger = l } }

// WithViewport sets the layout viewport of every frame.
func WithViewport(vp style.Viewport) Option { return func(t *Tab) { t.viewport = vp } }

// WithMainWorldBlocked marks the tab as carrying a CSP that refuses main
// world injection.
func WithMainWorldBlocked(blocked bool) Option { return func(t *Tab) { t.mainBlocked = blocked } }

// WithFrameConcurrency bounds parallel per-frame injections.
func WithFrameConcurrency(n int) Option { return func(t *Tab) { t.concurrency = n } }

// Tab is one browser tab: a frame tree sharing a single event loop. Loading
// a document replaces the frame tree, the loop and every realm.
type Tab struct {
	id          int
	logger      *zap.Logger
	viewport    style.Viewport
	concurrency int

	mu          sync.RWMutex
	snapshot    *Snapshot
	loop        *dom.EventLoop
	frames      []*Frame
	closed      bool
	hidden      bool
	noFrames    bool
	mainBlocked bool
	navigations int

	closeOnce sync.Once
}

// New creates an empty tab.
func New(id int, opts ...Option) *Tab {
	t := &Tab{id: id, viewport: dom.DefaultViewport}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	t.logger = t.logger.Named("tab").With(zap.Int("tab_id", id))
	return t
}

// ID returns the tab id.
func (t *Tab) ID() int { return t.id }

// Load navigates the tab to snap. The previous documents, timers, realms and
// element handles are discarded.
func (t *Tab) Load(snap Snapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTabClosed
	}
	return t.loadLocked(snap)
}

// LoadHTML loads a single-frame document.
func (t *Tab) LoadHTML(url, src string) error {
	return t.Load(Snapshot{URL: url, HTML: src})
}

// Reload re-parses the current snapshot.
func (t *Tab) Reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTabClosed
	}
	if t.snapshot == nil {
		return ErrNotLoaded
	}
	return t.loadLocked(*t.snapshot)
}

func (t *Tab) loadLocked(snap Snapshot) error {
	if t.loop != nil {
		t.loop.Close()
	}
	loop := dom.NewEventLoop(t.logger)
	loop.SetHidden(t.hidden)
	loop.SetAnimationFramesSupported(!t.noFrames)

	b := &frameBuilder{tab: t, loop: loop}
	if _, err := b.build(snap, nil, -1, nil); err != nil {
		loop.Close()
		return fmt.Errorf("failed to load %s: %w", snap.URL, err)
	}

	t.snapshot = &snap
	t.loop = loop
	t.frames = b.frames
	t.navigations++
	t.logger.Info("Loaded document.",
		zap.String("url", snap.URL),
		zap.Int("frames", len(b.frames)),
		zap.Int("navigation", t.navigations))
	return nil
}

// URL returns the top-level document URL.
func (t *Tab) URL() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.frames) == 0 {
		return ""
	}
	return t.frames[0].URL
}

// Title returns the top-level document title. A snapshot title wins over
// the parsed <title>.
func (t *Tab) Title() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.snapshot == nil || len(t.frames) == 0 {
		return ""
	}
	if t.snapshot.Title != "" {
		return t.snapshot.Title
	}
	var title string
	t.loop.Do(func() { title = t.frames[0].Doc.Title() })
	return title
}

// Loop returns the tab's current event loop, nil before the first Load.
func (t *Tab) Loop() *dom.EventLoop {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loop
}

// SetHidden moves the tab to the background or brings it back.
// Background tabs hold animation frames until they are visible again.
func (t *Tab) SetHidden(hidden bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hidden = hidden
	if t.loop != nil {
		t.loop.SetHidden(hidden)
	}
}

// SetAnimationFramesSupported toggles requestAnimationFrame for every frame.
func (t *Tab) SetAnimationFramesSupported(supported bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.noFrames = !supported
	if t.loop != nil {
		t.loop.SetAnimationFramesSupported(supported)
	}
}

// SetMainWorldBlocked sets the CSP flag that refuses main-world injection.
func (t *Tab) SetMainWorldBlocked(blocked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mainBlocked = blocked
}

// Close stops the event loop. Further calls fail with ErrTabClosed.
func (t *Tab) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.closed = true
		if t.loop != nil {
			t.loop.Close()
		}
		t.logger.Info("Closed tab.")
	})
}
