// Package builtin ships the stock device plugins: string, math, datetime
// and JSON functions that pipelines can use without registering external
// plugins. Each plugin registers under a stable "builtin.*" id with its
// pin metadata declared, so the router can type-check routed inputs.
package builtin

import (
	"github.com/flowforge-io/flowforge/pkg/device"
	"github.com/flowforge-io/flowforge/pkg/pipeline"
)

// Plugin ids.
const (
	PluginStrings  = "builtin.strings"
	PluginMath     = "builtin.math"
	PluginDateTime = "builtin.datetime"
	PluginJSON     = "builtin.json"
)

// Register installs every builtin plugin into the registry and, when
// metadata is non-nil, declares its function pins.
func Register(registry *device.Registry, metadata *device.StaticMetadata) {
	plugins := []struct {
		id   string
		exec device.Executor
		pins map[string]functionPins
	}{
		{PluginStrings, device.ExecutorFunc(executeStrings), stringPins},
		{PluginMath, device.ExecutorFunc(executeMath), mathPins},
		{PluginDateTime, device.ExecutorFunc(executeDateTime), dateTimePins},
		{PluginJSON, device.ExecutorFunc(executeJSON), jsonPins},
	}
	for _, p := range plugins {
		registry.Register(p.id, p.exec)
		if metadata != nil {
			for fn, fp := range p.pins {
				metadata.Declare(p.id, fn, fp.inputs, fp.outputs)
			}
		}
	}
}

type functionPins struct {
	inputs  []pipeline.Pin
	outputs []pipeline.Pin
}

func pins(ps ...pipeline.Pin) []pipeline.Pin { return ps }

func pin(name string, t pipeline.PinType) pipeline.Pin {
	return pipeline.Pin{Name: name, Type: t}
}
