package engine

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/flowforge-io/flowforge/pkg/device"
	"github.com/flowforge-io/flowforge/pkg/errors"
	"github.com/flowforge-io/flowforge/pkg/graph"
	"github.com/flowforge-io/flowforge/pkg/pipeline"
)

// Router assembles a node's inputs from config defaults, upstream outputs
// and variable substitution, then checks every value against the target
// pin's declared type with the engine's coercion rules.
type Router struct {
	metadata device.MetadataProvider
}

// NewRouter creates a router. metadata may be nil, in which case function
// nodes validate against their own declared pins only.
func NewRouter(metadata device.MetadataProvider) *Router {
	return &Router{metadata: metadata}
}

var variablePattern = regexp.MustCompile(`\{\{global\.([A-Za-z0-9_]+)\}\}`)

// reserved config keys that never route as pin defaults.
var reservedConfigKeys = map[string]bool{
	"retry":          true,
	"retry_delay_ms": true,
	"timeout_ms":     true,
	"compute":        true,
	"operator":       true,
	"threshold":      true,
	"max_iterations": true,
	"name":           true,
	"default":        true,
}

// CollectInputs merges, in override order: node config defaults, values
// routed over edges targeting the node, injected composite inputs, then
// applies {{global.NAME}} substitution and type-checks the result.
func (r *Router) CollectInputs(node *pipeline.NodeDefinition, dep *graph.Dependency, ectx *Context) (map[string]interface{}, error) {
	inputs := make(map[string]interface{})

	// (1) config defaults
	for k, v := range node.Config {
		if reservedConfigKeys[k] {
			continue
		}
		inputs[k] = v
	}

	// (2) composite input seeding, if any
	for pin, v := range ectx.InjectedFor(node.ID) {
		inputs[pin] = v
	}

	// (3) upstream edge values; an absent upstream pin leaves the default
	for _, e := range dep.InEdges(node.ID) {
		if v, ok := ectx.Output(e.SourceNode, e.SourcePin); ok {
			inputs[e.TargetPin] = v
		}
	}

	// (4) variable substitution on string values
	for k, v := range inputs {
		inputs[k] = r.substitute(v, ectx)
	}

	// (5) type check and coercion against declared pins
	declared := node.Inputs
	if node.Kind == pipeline.KindFunction && r.metadata != nil {
		if ins, _, err := r.metadata.FunctionPins(node.PluginID, node.FunctionID); err == nil && len(ins) > 0 {
			declared = ins
		}
	}
	for _, pin := range declared {
		v, ok := inputs[pin.Name]
		if !ok {
			continue
		}
		coerced, err := Coerce(v, pin.Type)
		if err != nil {
			return nil, errors.NewValidationError(node.ID, pin.Name,
				"expected %s, got %s", pin.Type, valueTypeName(v))
		}
		inputs[pin.Name] = coerced
	}

	return inputs, nil
}

// substitute replaces {{global.NAME}} references in string values. A string
// that is exactly one reference resolves to the variable's raw value,
// preserving its type; embedded references interpolate as text. A missing
// variable leaves the reference literal, unchanged.
func (r *Router) substitute(v interface{}, ectx *Context) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if m := variablePattern.FindStringSubmatch(s); m != nil && m[0] == s {
		if value, found := ectx.Variable(m[1]); found {
			return value
		}
		return s
	}
	return variablePattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := variablePattern.FindStringSubmatch(ref)[1]
		if value, found := ectx.Variable(name); found {
			return fmt.Sprintf("%v", value)
		}
		return ref
	})
}

// Coerce checks value against the declared pin type, applying the engine's
// coercion rules: numeric<->boolean (0/1), number->string, and array-wrap
// of scalars. Incompatible combinations return an error.
func Coerce(value interface{}, t pipeline.PinType) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch t {
	case pipeline.PinAny, pipeline.PinTrigger:
		return value, nil

	case pipeline.PinNumber:
		if f, ok := toFloat64(value); ok {
			return f, nil
		}
		if b, ok := value.(bool); ok {
			if b {
				return float64(1), nil
			}
			return float64(0), nil
		}
		return nil, fmt.Errorf("cannot coerce %T to number", value)

	case pipeline.PinBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		if f, ok := toFloat64(value); ok {
			return f != 0, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to boolean", value)

	case pipeline.PinString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		if f, ok := toFloat64(value); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
		return nil, fmt.Errorf("cannot coerce %T to string", value)

	case pipeline.PinArray:
		if arr, ok := value.([]interface{}); ok {
			return arr, nil
		}
		switch value.(type) {
		case map[string]interface{}:
			return nil, fmt.Errorf("cannot coerce object to array")
		}
		return []interface{}{value}, nil

	case pipeline.PinObject:
		if obj, ok := value.(map[string]interface{}); ok {
			return obj, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to object", value)

	case pipeline.PinImage:
		switch value.(type) {
		case []byte, string, map[string]interface{}:
			return value, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to image", value)
	}
	return value, nil
}

// toFloat64 normalizes the numeric types the engine encounters (JSON
// decodes to float64; in-process callers pass Go ints).
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func valueTypeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	case []byte:
		return "image"
	}
	if _, ok := toFloat64(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

// Truthy evaluates a value the way branch gating does: nil, false, zero and
// the empty string are false, everything else true.
func Truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case []interface{}:
		return len(x) > 0
	case map[string]interface{}:
		return len(x) > 0
	}
	if f, ok := toFloat64(v); ok {
		return f != 0
	}
	return true
}
