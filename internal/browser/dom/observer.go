// internal/browser/dom/observer.go
package dom

import (
	"golang.org/x/net/html"
)

// Mutation record types.
const (
	MutationChildList     = "childList"
	MutationAttributes    = "attributes"
	MutationCharacterData = "characterData"
)

// MutationRecord mirrors the DOM MutationRecord.
type MutationRecord struct {
	Type          string
	Target        *html.Node
	AddedNodes    []*html.Node
	RemovedNodes  []*html.Node
	AttributeName string
	OldValue      string
	HasOldValue   bool
}

// ObserveOptions mirrors MutationObserverInit.
type ObserveOptions struct {
	ChildList             bool
	Attributes            bool
	CharacterData         bool
	Subtree               bool
	AttributeOldValue     bool
	CharacterDataOldValue bool
	AttributeFilter       []string
}

// MutationCallback receives batched records during microtask delivery.
type MutationCallback func(records []MutationRecord, observer *MutationObserver)

type registration struct {
	target *html.Node
	opts   ObserveOptions
}

// MutationObserver batches records for its registered targets and delivers
// them as a microtask on the document's event loop.
type MutationObserver struct {
	doc           *Document
	callback      MutationCallback
	registrations []registration
	queue         []MutationRecord
	scheduled     bool
	disconnected  bool
}

// ObserverStats counts observer lifecycle events for a document.
type ObserverStats struct {
	Created      int
	Disconnected int
	Active       int
}

// NewMutationObserver creates an observer bound to the document.
func (d *Document) NewMutationObserver(cb MutationCallback) *MutationObserver {
	o := &MutationObserver{doc: d, callback: cb}
	d.observerStats.Created++
	return o
}

// Observe registers target. Observing the same target again replaces its
// options.
func (o *MutationObserver) Observe(target *html.Node, opts ObserveOptions) {
	if target == nil {
		return
	}
	if opts.AttributeOldValue || len(opts.AttributeFilter) > 0 {
		opts.Attributes = true
	}
	if opts.CharacterDataOldValue {
		opts.CharacterData = true
	}
	for i := range o.registrations {
		if o.registrations[i].target == target {
			o.registrations[i].opts = opts
			return
		}
	}
	if len(o.registrations) == 0 || o.disconnected {
		o.doc.observers = append(o.doc.observers, o)
		o.doc.observerStats.Active++
		o.disconnected = false
	}
	o.registrations = append(o.registrations, registration{target: target, opts: opts})
}

// TakeRecords empties and returns the pending queue.
func (o *MutationObserver) TakeRecords() []MutationRecord {
	records := o.queue
	o.queue = nil
	return records
}

// Disconnect stops observation and drops pending records. Every call is
// counted, including redundant ones.
func (o *MutationObserver) Disconnect() {
	o.doc.observerStats.Disconnected++
	if o.disconnected || len(o.registrations) == 0 {
		o.disconnected = true
		return
	}
	o.disconnected = true
	o.registrations = nil
	o.queue = nil
	o.doc.observerStats.Active--
	kept := o.doc.observers[:0]
	for _, other := range o.doc.observers {
		if other != o {
			kept = append(kept, other)
		}
	}
	o.doc.observers = kept
}

// ObserverStats reports observer lifecycle counters.
func (d *Document) ObserverStats() ObserverStats {
	return d.observerStats
}

func (o *MutationObserver) interested(rec MutationRecord) (ObserveOptions, bool) {
	for _, reg := range o.registrations {
		if reg.target != rec.Target && !(reg.opts.Subtree && isLightAncestor(reg.target, rec.Target)) {
			continue
		}
		switch rec.Type {
		case MutationChildList:
			if !reg.opts.ChildList {
				continue
			}
		case MutationAttributes:
			if !reg.opts.Attributes {
				continue
			}
			if len(reg.opts.AttributeFilter) > 0 && !contains(reg.opts.AttributeFilter, rec.AttributeName) {
				continue
			}
		case MutationCharacterData:
			if !reg.opts.CharacterData {
				continue
			}
		}
		return reg.opts, true
	}
	return ObserveOptions{}, false
}

// notify queues rec for every interested observer.
func (d *Document) notify(rec MutationRecord) {
	d.invalidate()
	for _, o := range d.observers {
		opts, ok := o.interested(rec)
		if !ok {
			continue
		}
		r := rec
		keepOld := (r.Type == MutationAttributes && opts.AttributeOldValue) ||
			(r.Type == MutationCharacterData && opts.CharacterDataOldValue)
		if !keepOld {
			r.OldValue = ""
			r.HasOldValue = false
		}
		o.queue = append(o.queue, r)
		if !o.scheduled {
			o.scheduled = true
			observer := o
			d.loop.QueueMicrotask(func() { observer.deliver() })
		}
	}
}

func (o *MutationObserver) deliver() {
	o.scheduled = false
	if o.disconnected || len(o.queue) == 0 {
		return
	}
	records := o.TakeRecords()
	if o.callback != nil {
		o.callback(records, o)
	}
}

// isLightAncestor walks Parent links only; observers do not see into shadow trees.
func isLightAncestor(ancestor, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
