// internal/dispatch/frames.go
package dispatch

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/primitives"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/tab"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// frameSpec is a validated frame request. all means broadcast to every
// frame; otherwise target is probed in each frame.
type frameSpec struct {
	all    bool
	target primitives.FrameTarget
}

// normalizeFrame validates the raw frame param. Absent, null and "all"
// broadcast. A non-negative integer, as a number or a numeric string, is a
// parent-relative index. Any other non-empty string is a CSS selector for
// the embedding element.
func normalizeFrame(raw []byte) (frameSpec, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return frameSpec{all: true}, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return frameSpec{}, fmt.Errorf("frame must be a number or a string: %w", err)
		}
		return frameFromString(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return frameSpec{}, fmt.Errorf("frame %s is not a number", raw)
		}
		return frameFromNumber(f)
	default:
		return frameSpec{}, fmt.Errorf("frame must be a number or a string, got %s", raw)
	}
}

func frameFromString(s string) (frameSpec, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return frameSpec{}, fmt.Errorf("frame must not be an empty string")
	}
	if trimmed == "all" {
		return frameSpec{all: true}, nil
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		if n < 0 {
			return frameSpec{}, fmt.Errorf("frame index %d is negative", n)
		}
		return frameSpec{target: primitives.FrameTarget{Index: n, ByIndex: true}}, nil
	}
	return frameSpec{target: primitives.FrameTarget{Selector: trimmed}}, nil
}

func frameFromNumber(f float64) (frameSpec, error) {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return frameSpec{}, fmt.Errorf("frame %v is not a finite number", f)
	case f < 0:
		return frameSpec{}, fmt.Errorf("frame index %v is negative", f)
	case f != math.Trunc(f):
		return frameSpec{}, fmt.Errorf("frame index %v is not an integer", f)
	case f > math.MaxInt32:
		return frameSpec{}, fmt.Errorf("frame index %v is out of range", f)
	}
	return frameSpec{target: primitives.FrameTarget{Index: int(f), ByIndex: true}}, nil
}

// -- Result Reduction --

// pickFrameResult chooses the one result reported for a multi-frame call:
// main frame success, then the first success, then the main frame failure,
// then the first result.
func pickFrameResult(results []tab.InjectionResult) (tab.InjectionResult, bool) {
	if len(results) == 0 {
		return tab.InjectionResult{}, false
	}
	var main *tab.InjectionResult
	var firstSuccess *tab.InjectionResult
	for i := range results {
		r := &results[i]
		if r.FrameID == 0 && main == nil {
			main = r
		}
		if r.Result.Success && firstSuccess == nil {
			firstSuccess = r
		}
	}
	switch {
	case main != nil && main.Result.Success:
		return *main, true
	case firstSuccess != nil:
		return *firstSuccess, true
	case main != nil:
		return *main, true
	}
	return results[0], true
}

// mergeInteractive combines list_interactive results across frames. Elements
// keep frame order, are re-indexed from zero, capped at limit and tagged
// with their frame id. The merged result is only successful when some frame
// succeeded.
func mergeInteractive(results []tab.InjectionResult, limit int) (schemas.ActionResult, int, bool) {
	picked, ok := pickFrameResult(results)
	if !ok {
		return schemas.ActionResult{}, 0, false
	}
	if !picked.Result.Success {
		return picked.Result, picked.FrameID, true
	}

	merged := picked.Result
	merged.Elements = nil
	for _, r := range results {
		if !r.Result.Success {
			continue
		}
		for _, el := range r.Result.Elements {
			if limit > 0 && len(merged.Elements) >= limit {
				break
			}
			frameID := r.FrameID
			el.FrameID = &frameID
			el.Index = len(merged.Elements)
			merged.Elements = append(merged.Elements, el)
		}
	}
	merged.Value = len(merged.Elements)
	return merged, picked.FrameID, true
}
