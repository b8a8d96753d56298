// api/schemas/query.go
package schemas

import (
	"encoding/json"
	"time"
)

// QueryTypeDOMAction is the envelope type routed to the DOM pilot.
const QueryTypeDOMAction = "dom_action"

// Command statuses reported back through sendAsyncResult.
const (
	StatusComplete = "complete"
	StatusError    = "error"
	StatusTimeout  = "timeout"
)

// AsyncCommandTimeout bounds how long the server waits for a queued command.
const AsyncCommandTimeout = 30 * time.Second

// -- Query Envelope --

// PendingQuery is one command delivered to the pilot. Params is either a JSON
// object or a JSON string that encodes one.
type PendingQuery struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	TabID         int             `json:"tab_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Params        json.RawMessage `json:"params"`
}

// DOMActionParams is the decoded params object of a dom_action query.
type DOMActionParams struct {
	Action Action `json:"action"`
	// What is an accepted alias of Action.
	What     Action `json:"what,omitempty"`
	Selector string `json:"selector,omitempty"`
	Reason   string `json:"reason,omitempty"`
	// Frame is a number, a string, or absent; validated by the dispatcher.
	Frame json.RawMessage `json:"frame,omitempty"`
	World string          `json:"world,omitempty"`

	ActionOptions
}

// EffectiveAction returns Action, falling back to the What alias.
func (p DOMActionParams) EffectiveAction() Action {
	if p.Action != "" {
		return p.Action
	}
	return p.What
}

// -- Sync Protocol --

// SyncRequest is the POST body of /sync.
type SyncRequest struct {
	SessionID        string              `json:"session_id"`
	ExtensionVersion string              `json:"extension_version,omitempty"`
	Settings         *SyncSettings       `json:"settings,omitempty"`
	LastCommandAck   string              `json:"last_command_ack,omitempty"`
	CommandResults   []SyncCommandResult `json:"command_results,omitempty"`
}

// SyncSettings advertises pilot state to the server.
type SyncSettings struct {
	PilotEnabled    bool   `json:"pilot_enabled"`
	TrackingEnabled bool   `json:"tracking_enabled"`
	TrackedTabID    int    `json:"tracked_tab_id"`
	TrackedTabURL   string `json:"tracked_tab_url"`
	TrackedTabTitle string `json:"tracked_tab_title"`
}

// SyncCommandResult is one async result carried on the next sync.
type SyncCommandResult struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Status        string          `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// SyncResponse is the /sync response body.
type SyncResponse struct {
	Ack           bool          `json:"ack"`
	Commands      []SyncCommand `json:"commands"`
	NextPollMs    int           `json:"next_poll_ms"`
	ServerTime    string        `json:"server_time"`
	ServerVersion string        `json:"server_version,omitempty"`
}

// SyncCommand is a server to pilot command.
type SyncCommand struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	TabID         int             `json:"tab_id,omitempty"`
	Params        json.RawMessage `json:"params"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// Query converts the wire command into a PendingQuery.
func (c SyncCommand) Query() PendingQuery {
	return PendingQuery{
		ID:            c.ID,
		Type:          c.Type,
		TabID:         c.TabID,
		CorrelationID: c.CorrelationID,
		Params:        c.Params,
	}
}
