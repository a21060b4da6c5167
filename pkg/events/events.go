// Package events provides the lifecycle event model and a fan-out publisher
// used by the execution engine for observability. Subscribers receive events
// in publish order on their own goroutine; one subscriber's failure or panic
// never reaches the publisher or other subscribers.
package events

import (
	"encoding/json"
	"time"

	"github.com/flowforge-io/flowforge/pkg/errors"
)

// Type identifies a lifecycle event kind.
type Type string

const (
	TypePipelineStarted   Type = "PipelineStarted"
	TypeNodeExecuting     Type = "NodeExecuting"
	TypeNodeCompleted     Type = "NodeCompleted"
	TypePipelineCompleted Type = "PipelineCompleted"
	TypePipelineError     Type = "PipelineError"

	// TypeAll subscribes a handler to every event kind.
	TypeAll Type = "*"
)

// Event is a single lifecycle event. Fields not applicable to a kind are
// left zero and omitted from the JSON shape.
type Event struct {
	Type       Type   `json:"type"`
	PipelineID string `json:"pipeline_id"`
	RunID      string `json:"run_id,omitempty"`
	NodeID     string `json:"node_id,omitempty"`
	Timestamp  string `json:"timestamp"`

	// PipelineStarted
	NodeCount int `json:"node_count,omitempty"`

	// NodeCompleted
	Outputs         map[string]interface{} `json:"outputs,omitempty"`
	ExecutionTimeMs int64                  `json:"execution_time_ms,omitempty"`

	// PipelineCompleted
	NodesExecuted int `json:"nodes_executed,omitempty"`

	// PipelineError
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorType    string         `json:"error_type,omitempty"`
	ErrorDetail  *errors.Detail `json:"error,omitempty"`
}

// New creates an event with the timestamp set to now (RFC3339 nanoseconds).
func New(t Type, pipelineID string) Event {
	return Event{
		Type:       t,
		PipelineID: pipelineID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Marshal encodes the event to its JSON wire shape.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// IsTerminal reports whether the event ends a pipeline's event stream.
func (e Event) IsTerminal() bool {
	return e.Type == TypePipelineCompleted || e.Type == TypePipelineError
}
