// internal/browser/primitives/engine.go
package primitives

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
)

// Settings tune the primitives. Zero fields take the defaults.
type Settings struct {
	// SettleFallback always finishes a tracked action, whether or not the
	// tab runs animation frames.
	SettleFallback time.Duration
	// FrameSettle is the wait after the next animation frame.
	FrameSettle        time.Duration
	WaitPollInterval   time.Duration
	DefaultWaitTimeout time.Duration
	ListLimit          int
	ShadowDepth        int
	CandidateLimit     int
	MutationLimit      int
}

// DefaultSettings returns the production tuning.
func DefaultSettings() Settings {
	return Settings{
		SettleFallback:     80 * time.Millisecond,
		FrameSettle:        50 * time.Millisecond,
		WaitPollInterval:   80 * time.Millisecond,
		DefaultWaitTimeout: 5 * time.Second,
		ListLimit:          100,
		ShadowDepth:        10,
		CandidateLimit:     8,
		MutationLimit:      50,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.SettleFallback <= 0 {
		s.SettleFallback = def.SettleFallback
	}
	if s.FrameSettle <= 0 {
		s.FrameSettle = def.FrameSettle
	}
	if s.WaitPollInterval <= 0 {
		s.WaitPollInterval = def.WaitPollInterval
	}
	if s.DefaultWaitTimeout <= 0 {
		s.DefaultWaitTimeout = def.DefaultWaitTimeout
	}
	if s.ListLimit <= 0 {
		s.ListLimit = def.ListLimit
	}
	if s.ShadowDepth <= 0 {
		s.ShadowDepth = def.ShadowDepth
	}
	if s.CandidateLimit <= 0 {
		s.CandidateLimit = def.CandidateLimit
	}
	if s.MutationLimit <= 0 {
		s.MutationLimit = def.MutationLimit
	}
	return s
}

// Engine runs DOM primitives against a realm. Page state that outlives a
// call lives on the realm's globals, so one Engine serves every tab and
// frame. The engine only owns the handle counter, which keeps element
// handles unique across all of those realms.
type Engine struct {
	settings  Settings
	logger    *zap.Logger
	handleSeq atomic.Uint64
}

// NewEngine creates an engine.
func NewEngine(settings Settings, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{settings: settings.withDefaults(), logger: logger.Named("primitives")}
}

// Settings returns the effective tuning.
func (e *Engine) Settings() Settings { return e.settings }

// page is the per-call view of a realm. It must only be used inside a task
// on the realm's event loop.
type page struct {
	e       *Engine
	realm   *dom.Realm
	doc     *dom.Document
	loop    *dom.EventLoop
	handles *handleStore
	logger  *zap.Logger
}

func (e *Engine) page(realm *dom.Realm) *page {
	return &page{
		e:       e,
		realm:   realm,
		doc:     realm.Document(),
		loop:    realm.Loop(),
		handles: handlesFor(realm, &e.handleSeq),
		logger:  e.logger.With(zap.Int("frame_id", realm.Frame().ID), zap.String("world", string(realm.World()))),
	}
}

func (p *page) root() *html.Node { return p.doc.Root() }
