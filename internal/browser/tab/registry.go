// internal/browser/tab/registry.go
package tab

import (
	"errors"
	"sort"
	"sync"
)

// ErrNoSuchTab is returned for unknown tab ids.
var ErrNoSuchTab = errors.New("no tab with that id")

// Registry tracks open tabs and which one is active. Looking up id 0
// returns the active tab.
type Registry struct {
	mu     sync.RWMutex
	tabs   map[int]*Tab
	active int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tabs: make(map[int]*Tab)}
}

// Add registers t. The first tab added becomes active.
func (r *Registry) Add(t *Tab) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tabs[t.ID()] = t
	if r.active == 0 {
		r.active = t.ID()
	}
}

// Remove closes and forgets a tab.
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	t, ok := r.tabs[id]
	delete(r.tabs, id)
	if r.active == id {
		r.active = 0
		for _, other := range r.idsLocked() {
			r.active = other
			break
		}
	}
	r.mu.Unlock()
	if ok {
		t.Close()
	}
}

// Activate makes id the active tab.
func (r *Registry) Activate(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tabs[id]; !ok {
		return ErrNoSuchTab
	}
	r.active = id
	return nil
}

// Tab returns the tab with id, or the active tab for id 0.
func (r *Registry) Tab(id int) (*Tab, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == 0 {
		id = r.active
	}
	t, ok := r.tabs[id]
	if !ok {
		return nil, ErrNoSuchTab
	}
	return t, nil
}

// IDs lists the registered tab ids in ascending order.
func (r *Registry) IDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idsLocked()
}

func (r *Registry) idsLocked() []int {
	ids := make([]int, 0, len(r.tabs))
	for id := range r.tabs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Close closes every tab.
func (r *Registry) Close() {
	r.mu.Lock()
	tabs := r.tabs
	r.tabs = make(map[int]*Tab)
	r.active = 0
	r.mu.Unlock()
	for _, t := range tabs {
		t.Close()
	}
}
