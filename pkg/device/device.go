// Package device defines the capability interfaces for device plugins — the
// external collaborators that actually drive hardware functions — plus the
// registry that resolves them by plugin id and the pin-metadata provider the
// router uses for input/output validation.
package device

import (
	"context"

	"github.com/flowforge-io/flowforge/pkg/pipeline"
)

// Executor is the capability interface a device plugin implements. A single
// plugin exposes one or more functions addressed by function id. Execute
// blocks until the device call finishes or ctx is done.
type Executor interface {
	Execute(ctx context.Context, functionID string, inputs map[string]interface{}) (map[string]interface{}, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, functionID string, inputs map[string]interface{}) (map[string]interface{}, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, functionID string, inputs map[string]interface{}) (map[string]interface{}, error) {
	return f(ctx, functionID, inputs)
}

// MetadataProvider resolves a function's declared pins so the router can
// validate routed values against declared types before dispatch.
type MetadataProvider interface {
	FunctionPins(pluginID, functionID string) (inputs, outputs []pipeline.Pin, err error)
}

// StaticMetadata is a MetadataProvider backed by a fixed table. Suitable for
// embedded plugins and tests; a live deployment wires the plugin host's
// catalog instead.
type StaticMetadata struct {
	pins map[string]functionPins
}

type functionPins struct {
	inputs  []pipeline.Pin
	outputs []pipeline.Pin
}

// NewStaticMetadata creates an empty metadata table.
func NewStaticMetadata() *StaticMetadata {
	return &StaticMetadata{pins: make(map[string]functionPins)}
}

// Declare registers the pin signature for plugin/function.
func (m *StaticMetadata) Declare(pluginID, functionID string, inputs, outputs []pipeline.Pin) {
	m.pins[pluginID+"/"+functionID] = functionPins{inputs: inputs, outputs: outputs}
}

// FunctionPins implements MetadataProvider. Unknown functions return empty
// pin sets and no error; validation then falls back to the node's declared
// pins.
func (m *StaticMetadata) FunctionPins(pluginID, functionID string) ([]pipeline.Pin, []pipeline.Pin, error) {
	fp, ok := m.pins[pluginID+"/"+functionID]
	if !ok {
		return nil, nil, nil
	}
	return fp.inputs, fp.outputs, nil
}
