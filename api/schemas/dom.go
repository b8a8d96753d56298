// api/schemas/dom.go
package schemas

// -- DOM Action Vocabulary --

// Action names one DOM primitive. The set is closed; anything else is
// rejected with ErrUnknownAction.
type Action string

const (
	ActionClick           Action = "click"
	ActionType            Action = "type"
	ActionSelect          Action = "select"
	ActionCheck           Action = "check"
	ActionSetAttribute    Action = "set_attribute"
	ActionPaste           Action = "paste"
	ActionKeyPress        Action = "key_press"
	ActionFocus           Action = "focus"
	ActionScrollTo        Action = "scroll_to"
	ActionGetText         Action = "get_text"
	ActionGetValue        Action = "get_value"
	ActionGetAttribute    Action = "get_attribute"
	ActionWaitFor         Action = "wait_for"
	ActionListInteractive Action = "list_interactive"

	ActionOpenComposer         Action = "open_composer"
	ActionSubmitActiveComposer Action = "submit_active_composer"
	ActionConfirmTopDialog     Action = "confirm_top_dialog"
	ActionDismissTopOverlay    Action = "dismiss_top_overlay"
)

// ActionKind classifies how an action resolves targets and whether it is
// mutation tracked.
type ActionKind int

const (
	KindUnknown ActionKind = iota
	// KindMutating actions resolve exactly one target and run under the
	// mutation tracker.
	KindMutating
	// KindRead actions keep first-match resolution and return immediately.
	KindRead
	// KindScan is list_interactive.
	KindScan
	// KindIntent actions pick their own target by scoring.
	KindIntent
)

// Kind reports the action's class, KindUnknown for anything outside the vocabulary.
func (a Action) Kind() ActionKind {
	switch a {
	case ActionClick, ActionType, ActionSelect, ActionCheck, ActionSetAttribute,
		ActionPaste, ActionKeyPress, ActionFocus, ActionScrollTo:
		return KindMutating
	case ActionGetText, ActionGetValue, ActionGetAttribute, ActionWaitFor:
		return KindRead
	case ActionListInteractive:
		return KindScan
	case ActionOpenComposer, ActionSubmitActiveComposer, ActionConfirmTopDialog, ActionDismissTopOverlay:
		return KindIntent
	}
	return KindUnknown
}

// Valid reports whether the action is part of the vocabulary.
func (a Action) Valid() bool { return a.Kind() != KindUnknown }

// -- Error Taxonomy --

// ErrorKind is the machine-readable failure code carried by an ActionResult.
type ErrorKind string

const (
	ErrElementNotFound        ErrorKind = "element_not_found"
	ErrScopeNotFound          ErrorKind = "scope_not_found"
	ErrStaleElementID         ErrorKind = "stale_element_id"
	ErrElementIDScopeMismatch ErrorKind = "element_id_scope_mismatch"
	ErrAmbiguousTarget        ErrorKind = "ambiguous_target"
	ErrNotInteractive         ErrorKind = "not_interactive"
	ErrNotTypeable            ErrorKind = "not_typeable"
	ErrNotSelect              ErrorKind = "not_select"
	ErrNotCheckable           ErrorKind = "not_checkable"
	ErrNotFocusable           ErrorKind = "not_focusable"
	ErrNoValueProperty        ErrorKind = "no_value_property"
	ErrInvalidFrame           ErrorKind = "invalid_frame"
	ErrFrameNotFound          ErrorKind = "frame_not_found"
	ErrTimeout                ErrorKind = "timeout"
	ErrUnknownAction          ErrorKind = "unknown_action"
	ErrInvalidParams          ErrorKind = "invalid_params"
	ErrMissingAction          ErrorKind = "missing_action"
	ErrMissingSelector        ErrorKind = "missing_selector"
	ErrInvalidSelector        ErrorKind = "invalid_selector"
	ErrExecution              ErrorKind = "execution_error"

	ErrComposerNotFound ErrorKind = "composer_not_found"
	ErrSubmitNotFound   ErrorKind = "submit_not_found"
	ErrDialogNotFound   ErrorKind = "dialog_not_found"
	ErrConfirmNotFound  ErrorKind = "confirm_not_found"
	ErrOverlayNotFound  ErrorKind = "overlay_not_found"
	ErrDismissNotFound  ErrorKind = "dismiss_not_found"
)

// Reasons attached to successful reads whose value is null.
const (
	ReasonNoTextContent     = "no_text_content"
	ReasonNoValue           = "no_value"
	ReasonAttributeNotFound = "attribute_not_found"
)

// MatchStrategy records how the acted-on element was chosen.
type MatchStrategy string

const (
	StrategySelector          MatchStrategy = "selector"
	StrategyScopedSelector    MatchStrategy = "scoped_selector"
	StrategyNthMatchSelector  MatchStrategy = "nth_match_selector"
	StrategyElementID         MatchStrategy = "element_id"
	StrategyIntent            MatchStrategy = "intent"
	StrategyAmbiguousSelector MatchStrategy = "ambiguous_selector"
)

// -- Options --

// Rect is a viewport-relative rectangle in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns width times height, zero for degenerate rects.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Intersects reports whether two rects share a region of positive area.
func (r Rect) Intersects(o Rect) bool {
	if r.Area() == 0 || o.Area() == 0 {
		return false
	}
	return r.X < o.X+o.Width && o.X < r.X+r.Width &&
		r.Y < o.Y+o.Height && o.Y < r.Y+r.Height
}

// ActionOptions modify a primitive. Each field only affects the actions that
// read it; the rest ignore it.
type ActionOptions struct {
	Text             string `json:"text,omitempty"`
	Value            string `json:"value,omitempty"`
	Clear            bool   `json:"clear,omitempty"`
	Checked          *bool  `json:"checked,omitempty"`
	Name             string `json:"name,omitempty"`
	TimeoutMs        int    `json:"timeout_ms,omitempty"`
	Analyze          bool   `json:"analyze,omitempty"`
	ScopeSelector    string `json:"scope_selector,omitempty"`
	ScopeRect        *Rect  `json:"scope_rect,omitempty"`
	ElementID        string `json:"element_id,omitempty"`
	ObserveMutations bool   `json:"observe_mutations,omitempty"`
	VisibleOnly      bool   `json:"visible_only,omitempty"`
}

// -- Results --

// MatchEvidence describes the element an action ran against.
type MatchEvidence struct {
	Tag           string `json:"tag"`
	Role          string `json:"role,omitempty"`
	AriaLabel     string `json:"aria_label,omitempty"`
	TextPreview   string `json:"text_preview,omitempty"`
	Selector      string `json:"selector,omitempty"`
	ElementID     string `json:"element_id"`
	ScopeSelector string `json:"scope_selector,omitempty"`
	ScopeRect     *Rect  `json:"scope_rect,omitempty"`
}

// Candidate is one entry of an ambiguous_target report.
type Candidate struct {
	Tag         string  `json:"tag"`
	Role        string  `json:"role,omitempty"`
	AriaLabel   string  `json:"aria_label,omitempty"`
	TextPreview string  `json:"text_preview,omitempty"`
	Selector    string  `json:"selector"`
	ElementID   string  `json:"element_id"`
	Visible     bool    `json:"visible"`
	Score       float64 `json:"score,omitempty"`
}

// Timing is reported with analyze.
type Timing struct {
	TotalMs int64 `json:"total_ms"`
}

// DOMChanges is the analyze breakdown of recorded mutations.
type DOMChanges struct {
	Added    int    `json:"added"`
	Removed  int    `json:"removed"`
	Modified int    `json:"modified"`
	Summary  string `json:"summary"`
}

// DOMMutation is one observe_mutations entry.
type DOMMutation struct {
	Type      string `json:"type"`
	Tag       string `json:"tag,omitempty"`
	ID        string `json:"id,omitempty"`
	Class     string `json:"class,omitempty"`
	Text      string `json:"text,omitempty"`
	Attribute string `json:"attribute,omitempty"`
	OldValue  string `json:"old_value,omitempty"`
	NewValue  string `json:"new_value,omitempty"`
}

// InteractiveElement is one list_interactive entry.
type InteractiveElement struct {
	Index       int    `json:"index"`
	ElementType string `json:"element_type"`
	Tag         string `json:"tag"`
	Type        string `json:"type,omitempty"`
	Selector    string `json:"selector"`
	ElementID   string `json:"element_id"`
	Label       string `json:"label,omitempty"`
	Role        string `json:"role,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Visible     bool   `json:"visible"`
	FrameID     *int   `json:"frame_id,omitempty"`
}

// ActionResult is the single result shape of every primitive. Success
// discriminates which of the optional fields are meaningful.
type ActionResult struct {
	Success  bool   `json:"success"`
	Action   Action `json:"action"`
	Selector string `json:"selector"`
	// Value is always serialized so that null reads are explicit.
	Value  any    `json:"value"`
	Reason string `json:"reason,omitempty"`

	DOMSummary   string        `json:"dom_summary,omitempty"`
	Timing       *Timing       `json:"timing,omitempty"`
	DOMChanges   *DOMChanges   `json:"dom_changes,omitempty"`
	Analysis     string        `json:"analysis,omitempty"`
	DOMMutations []DOMMutation `json:"dom_mutations,omitempty"`

	Matched       *MatchEvidence `json:"matched,omitempty"`
	MatchCount    int            `json:"match_count,omitempty"`
	MatchStrategy MatchStrategy  `json:"match_strategy,omitempty"`
	Candidates    []Candidate    `json:"candidates,omitempty"`
	IntentScore   float64        `json:"intent_score,omitempty"`

	Elements []InteractiveElement `json:"elements,omitempty"`

	Error   ErrorKind `json:"error,omitempty"`
	Message string    `json:"message,omitempty"`

	// Set by the dispatcher.
	FrameID             *int   `json:"frame_id,omitempty"`
	ExecutionWorld      string `json:"execution_world,omitempty"`
	FallbackAttempted   bool   `json:"fallback_attempted,omitempty"`
	MainWorldStatus     string `json:"main_world_status,omitempty"`
	IsolatedWorldStatus string `json:"isolated_world_status,omitempty"`
	FallbackSummary     string `json:"fallback_summary,omitempty"`
	ResolvedTabID       int    `json:"resolved_tab_id,omitempty"`
	ResolvedURL         string `json:"resolved_url,omitempty"`
	EffectiveTabID      int    `json:"effective_tab_id,omitempty"`
	EffectiveURL        string `json:"effective_url,omitempty"`

	// Settled is true when the result waited out the mutation settle window.
	Settled bool `json:"-"`
}

// Fail builds a failure result.
func Fail(action Action, selector string, kind ErrorKind, message string) ActionResult {
	return ActionResult{
		Action:   action,
		Selector: selector,
		Error:    kind,
		Message:  message,
	}
}
