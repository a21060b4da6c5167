// Package errors defines the engine's error taxonomy. Validation and cycle
// errors are detected before any node runs; node-level failures are wrapped
// as NodeExecutionError with the original cause preserved for unwrapping.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPipelineStopped indicates a cooperative stop was requested.
	ErrPipelineStopped = errors.New("pipeline stopped")

	// ErrCompositeNotFound indicates an unknown composite id.
	ErrCompositeNotFound = errors.New("composite definition not found")

	// ErrMissingInput indicates a required input pin had no value.
	ErrMissingInput = errors.New("required input missing")

	// ErrCircuitOpen indicates the device circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrMaxCompositeDepth indicates composite nesting exceeded the limit.
	ErrMaxCompositeDepth = errors.New("maximum composite nesting depth exceeded")
)

// ValidationError reports bad configuration, an unknown pin reference or an
// incompatible pin type. It is always raised before or during dispatch,
// never mid-write.
type ValidationError struct {
	NodeID  string
	Pin     string
	Message string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.NodeID != "" {
		fmt.Fprintf(&b, " for node %q", e.NodeID)
	}
	if e.Pin != "" {
		fmt.Fprintf(&b, " pin %q", e.Pin)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// NewValidationError creates a validation error naming the offending node/pin.
func NewValidationError(nodeID, pin, format string, args ...interface{}) *ValidationError {
	return &ValidationError{NodeID: nodeID, Pin: pin, Message: fmt.Sprintf(format, args...)}
}

// CircularDependencyError reports that the node/edge graph contains cycles.
// Cycle holds the first cycle found as an ordered node-id list with the start
// node repeated at the end; AllCycles holds every distinct cycle detected.
type CircularDependencyError struct {
	Cycle     []string
	AllCycles [][]string
}

func (e *CircularDependencyError) Error() string {
	if len(e.AllCycles) > 1 {
		return fmt.Sprintf("circular dependency detected: %s (%d cycles total)",
			strings.Join(e.Cycle, " -> "), len(e.AllCycles))
	}
	return "circular dependency detected: " + strings.Join(e.Cycle, " -> ")
}

// NodeExecutionError wraps any node-level failure, including device errors,
// with the failing node id and the original cause.
type NodeExecutionError struct {
	NodeID string
	Kind   string
	Cause  error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q (%s) failed: %v", e.NodeID, e.Kind, e.Cause)
}

func (e *NodeExecutionError) Unwrap() error { return e.Cause }

// NewNodeExecutionError wraps cause as a node execution failure.
func NewNodeExecutionError(nodeID, kind string, cause error) *NodeExecutionError {
	return &NodeExecutionError{NodeID: nodeID, Kind: kind, Cause: cause}
}

// DeviceNotFoundError indicates no device plugin is registered for an id.
type DeviceNotFoundError struct {
	PluginID string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("device plugin %q not found", e.PluginID)
}

// DeviceFunctionError indicates a device function call failed.
type DeviceFunctionError struct {
	PluginID   string
	FunctionID string
	Cause      error
}

func (e *DeviceFunctionError) Error() string {
	return fmt.Sprintf("device function %s/%s failed: %v", e.PluginID, e.FunctionID, e.Cause)
}

func (e *DeviceFunctionError) Unwrap() error { return e.Cause }

// ComputeTimeoutError indicates a worker-pool task exceeded its bound.
type ComputeTimeoutError struct {
	NodeID  string
	Timeout string
}

func (e *ComputeTimeoutError) Error() string {
	return fmt.Sprintf("compute task for node %q exceeded timeout %s", e.NodeID, e.Timeout)
}

// TooManyConcurrentPipelinesError indicates the engine's pipeline capacity
// was exceeded under the Reject policy.
type TooManyConcurrentPipelinesError struct {
	Limit int
}

func (e *TooManyConcurrentPipelinesError) Error() string {
	return fmt.Sprintf("too many concurrent pipelines (limit %d)", e.Limit)
}

// Detail is the JSON shape of one link in a serialized cause chain.
type Detail struct {
	Type    string  `json:"type"`
	Message string  `json:"message"`
	Details *Detail `json:"details,omitempty"`
}

// Serialize renders err and its wrapped causes as a nested Detail chain.
func Serialize(err error) *Detail {
	if err == nil {
		return nil
	}
	d := &Detail{Type: TypeName(err), Message: err.Error()}
	if cause := errors.Unwrap(err); cause != nil {
		d.Details = Serialize(cause)
	}
	return d
}

// TypeName maps an error to its taxonomy name for serialization.
func TypeName(err error) string {
	switch err.(type) {
	case *ValidationError:
		return "ValidationError"
	case *CircularDependencyError:
		return "CircularDependencyError"
	case *NodeExecutionError:
		return "NodeExecutionError"
	case *DeviceNotFoundError:
		return "DeviceNotFoundError"
	case *DeviceFunctionError:
		return "DeviceFunctionError"
	case *ComputeTimeoutError:
		return "ComputeTimeoutError"
	case *TooManyConcurrentPipelinesError:
		return "TooManyConcurrentPipelinesError"
	default:
		return "Error"
	}
}

// IsValidation reports whether err is (or wraps) a validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsCircular reports whether err is (or wraps) a circular dependency error.
func IsCircular(err error) bool {
	var ce *CircularDependencyError
	return errors.As(err, &ce)
}
