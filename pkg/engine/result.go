package engine

import (
	"time"

	"github.com/flowforge-io/flowforge/pkg/errors"
)

// Result is the outcome of one pipeline execution. Status is "completed"
// or "error"; on error the data store still holds every output produced
// before the failure.
type Result struct {
	PipelineID string `json:"pipeline_id"`
	RunID      string `json:"run_id"`
	Status     string `json:"status"`

	// DataStore maps node id to its final output pin values.
	DataStore map[string]map[string]interface{} `json:"data_store"`

	// Variables is the final state of the pipeline's global variables.
	Variables map[string]interface{} `json:"variables"`

	// NodesExecuted lists nodes in completion order. Skipped branch arms
	// do not appear.
	NodesExecuted []string `json:"nodes_executed"`

	// NodeStatuses holds the terminal status of every node the schedule
	// visited; untaken branch arms show as skipped, never completed.
	NodeStatuses map[string]Status `json:"node_statuses"`

	// ExecutionTimes records per-node wall time.
	ExecutionTimes map[string]time.Duration `json:"execution_times"`

	TotalTime time.Duration `json:"total_time"`

	// FailedNode and Error are set when Status is "error".
	FailedNode string         `json:"failed_node,omitempty"`
	Error      *errors.Detail `json:"error,omitempty"`
}

const (
	StatusResultCompleted = "completed"
	StatusResultError     = "error"
)

// Succeeded reports whether the run completed without error.
func (r *Result) Succeeded() bool { return r.Status == StatusResultCompleted }
