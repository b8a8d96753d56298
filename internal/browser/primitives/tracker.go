// internal/browser/primitives/tracker.go
package primitives

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/dom"
)

// track runs handler under a MutationObserver on <body> and hands the final
// result to finish. Failures finish at once. Successes wait for the settle
// window: the fallback timer always ends it, and an animation frame followed
// by FrameSettle may end it sooner. Whichever path comes first wins and the
// observer is disconnected exactly once.
//
// track must run inside a loop task; finish runs inside a later one.
func (p *page) track(action schemas.Action, opts schemas.ActionOptions, handler func() schemas.ActionResult, finish func(schemas.ActionResult)) {
	start := time.Now()
	var records []dom.MutationRecord

	observed := p.doc.Body()
	if observed == nil {
		observed = p.doc.DocumentElement()
	}
	observer := p.doc.NewMutationObserver(func(batch []dom.MutationRecord, _ *dom.MutationObserver) {
		records = append(records, batch...)
	})
	if observed != nil {
		observer.Observe(observed, dom.ObserveOptions{
			ChildList:         true,
			Subtree:           true,
			Attributes:        true,
			AttributeOldValue: opts.ObserveMutations,
		})
	}

	res := handler()
	if !res.Success {
		observer.Disconnect()
		finish(res)
		return
	}

	resolved := false
	var fallbackTimer, frameTimer int
	complete := func(path string) {
		if resolved {
			return
		}
		resolved = true
		p.loop.ClearTimeout(fallbackTimer)
		p.loop.ClearTimeout(frameTimer)
		records = append(records, observer.TakeRecords()...)
		observer.Disconnect()

		p.summarize(&res, records, opts, time.Since(start))
		res.Settled = true
		p.logger.Debug("Action settled.",
			zap.String("action", string(action)),
			zap.String("path", path),
			zap.Int("records", len(records)))
		finish(res)
	}

	fallbackTimer = p.loop.SetTimeout(p.e.settings.SettleFallback, func() { complete("timeout") })
	if fallbackTimer == 0 {
		// The loop is closed; nothing will ever fire.
		complete("closed")
		return
	}
	p.loop.RequestAnimationFrame(func() {
		if resolved {
			return
		}
		frameTimer = p.loop.SetTimeout(p.e.settings.FrameSettle, func() { complete("animation_frame") })
	})
}

// summarize attaches dom_summary and the optional analyze and
// observe_mutations payloads.
func (p *page) summarize(res *schemas.ActionResult, records []dom.MutationRecord, opts schemas.ActionOptions, elapsed time.Duration) {
	var added, removed, modified int
	for _, r := range records {
		switch r.Type {
		case dom.MutationChildList:
			added += len(r.AddedNodes)
			removed += len(r.RemovedNodes)
		case dom.MutationAttributes:
			modified++
		}
	}
	res.DOMSummary = summaryLine(added, removed, modified)

	if opts.Analyze {
		res.Timing = &schemas.Timing{TotalMs: elapsed.Milliseconds()}
		res.DOMChanges = &schemas.DOMChanges{Added: added, Removed: removed, Modified: modified, Summary: res.DOMSummary}
		res.Analysis = analysisLine(res.Action, added, removed, modified, elapsed)
	}
	if opts.ObserveMutations {
		res.DOMMutations = p.mutationEntries(records)
	}
}

func summaryLine(added, removed, modified int) string {
	var parts []string
	if added > 0 {
		parts = append(parts, fmt.Sprintf("%d added", added))
	}
	if removed > 0 {
		parts = append(parts, fmt.Sprintf("%d removed", removed))
	}
	if modified > 0 {
		parts = append(parts, fmt.Sprintf("%d modified", modified))
	}
	if len(parts) == 0 {
		return "no DOM changes"
	}
	return strings.Join(parts, ", ")
}

func analysisLine(action schemas.Action, added, removed, modified int, elapsed time.Duration) string {
	total := added + removed + modified
	switch {
	case total == 0:
		return fmt.Sprintf("%s completed in %dms with no DOM changes; the page may not have reacted", action, elapsed.Milliseconds())
	case added > 0 && removed == 0:
		return fmt.Sprintf("%s completed in %dms; %d nodes appeared (new content or UI opened)", action, elapsed.Milliseconds(), added)
	case removed > 0 && added == 0:
		return fmt.Sprintf("%s completed in %dms; %d nodes disappeared (content closed or removed)", action, elapsed.Milliseconds(), removed)
	}
	return fmt.Sprintf("%s completed in %dms; %s", action, elapsed.Milliseconds(), summaryLine(added, removed, modified))
}

func (p *page) mutationEntries(records []dom.MutationRecord) []schemas.DOMMutation {
	limit := p.e.settings.MutationLimit
	var out []schemas.DOMMutation
	push := func(m schemas.DOMMutation) bool {
		if len(out) >= limit {
			return false
		}
		out = append(out, m)
		return true
	}
	for _, r := range records {
		switch r.Type {
		case dom.MutationChildList:
			for _, n := range r.AddedNodes {
				if !push(nodeMutation("added", n)) {
					return out
				}
			}
			for _, n := range r.RemovedNodes {
				if !push(nodeMutation("removed", n)) {
					return out
				}
			}
		case dom.MutationAttributes:
			m := schemas.DOMMutation{
				Type:      "attribute",
				Tag:       dom.TagName(r.Target),
				ID:        dom.AttrOr(r.Target, "id"),
				Attribute: r.AttributeName,
				OldValue:  r.OldValue,
				NewValue:  dom.AttrOr(r.Target, r.AttributeName),
			}
			if !push(m) {
				return out
			}
		}
	}
	return out
}

func nodeMutation(kind string, n *html.Node) schemas.DOMMutation {
	m := schemas.DOMMutation{Type: kind}
	if n.Type == html.TextNode {
		m.Tag = "#text"
		m.Text = dom.Preview(n.Data, textPreviewLength)
		return m
	}
	m.Tag = dom.TagName(n)
	m.ID = dom.AttrOr(n, "id")
	m.Class = dom.AttrOr(n, "class")
	m.Text = dom.Preview(dom.TextContent(n), textPreviewLength)
	return m
}
