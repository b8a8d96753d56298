// internal/browser/primitives/handles.go
package primitives

import (
	"strconv"
	"sync"
	"sync/atomic"
	"weak"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
)

// handleStoreKey is the realm global that carries the handle store between
// calls. It lives as long as the realm and is gone after a reload.
const handleStoreKey = "__pilot_element_handles"

// HandlePrefix starts every element handle.
const HandlePrefix = "el_"

// handleStore maps nodes to opaque ids without owning the nodes. Ids come
// from a monotonic counter, so structurally identical nodes get distinct ids
// and a node keeps its id however the page is enumerated. The counter is
// shared by every store of an engine: a handle names one node in one frame,
// and ids are never reused after a reload.
type handleStore struct {
	mu     sync.Mutex
	seq    *atomic.Uint64
	byNode map[weak.Pointer[html.Node]]string
	byID   map[string]weak.Pointer[html.Node]
}

func newHandleStore(seq *atomic.Uint64) *handleStore {
	return &handleStore{
		seq:    seq,
		byNode: make(map[weak.Pointer[html.Node]]string),
		byID:   make(map[string]weak.Pointer[html.Node]),
	}
}

func handlesFor(realm *dom.Realm, seq *atomic.Uint64) *handleStore {
	return realm.GlobalOrInit(handleStoreKey, func() any { return newHandleStore(seq) }).(*handleStore)
}

// idFor returns the node's handle, creating one on first sight.
func (s *handleStore) idFor(n *html.Node) string {
	if n == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := weak.Make(n)
	if id, ok := s.byNode[key]; ok {
		return id
	}
	id := HandlePrefix + strconv.FormatUint(s.seq.Add(1), 36)
	s.byNode[key] = id
	s.byID[id] = key
	return id
}

// lookup resolves a handle. Collected or disconnected nodes are evicted and
// reported as missing.
func (s *handleStore) lookup(doc *dom.Document, id string) *html.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return nil
	}
	n := key.Value()
	if n == nil || !doc.IsConnected(n) {
		delete(s.byID, id)
		delete(s.byNode, key)
		return nil
	}
	return n
}

// size reports live entries.
func (s *handleStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
