package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/flowforge-io/flowforge/pkg/errors"
	"github.com/flowforge-io/flowforge/pkg/pipeline"
)

var jsonPins = map[string]functionPins{
	"parse": {
		inputs:  pins(pin("value", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinAny)),
	},
	"stringify": {
		inputs:  pins(pin("value", pipeline.PinAny)),
		outputs: pins(pin("value", pipeline.PinString)),
	},
	"get": {
		inputs:  pins(pin("value", pipeline.PinAny), pin("path", pipeline.PinString)),
		outputs: pins(pin("value", pipeline.PinAny)),
	},
	"merge": {
		inputs:  pins(pin("a", pipeline.PinObject), pin("b", pipeline.PinObject)),
		outputs: pins(pin("value", pipeline.PinObject)),
	},
	"keys": {
		inputs:  pins(pin("value", pipeline.PinObject)),
		outputs: pins(pin("value", pipeline.PinArray)),
	},
}

func executeJSON(_ context.Context, functionID string, inputs map[string]interface{}) (map[string]interface{}, error) {
	switch functionID {
	case "parse":
		var out interface{}
		if err := json.Unmarshal([]byte(getString(inputs, "value", "")), &out); err != nil {
			return nil, jsonError(functionID, err)
		}
		return single(out), nil

	case "stringify":
		data, err := json.Marshal(inputs["value"])
		if err != nil {
			return nil, jsonError(functionID, err)
		}
		return single(string(data)), nil

	case "get":
		v, err := navigate(inputs["value"], getString(inputs, "path", ""))
		if err != nil {
			return nil, jsonError(functionID, err)
		}
		return single(v), nil

	case "merge":
		a, _ := inputs["a"].(map[string]interface{})
		b, _ := inputs["b"].(map[string]interface{})
		merged := make(map[string]interface{}, len(a)+len(b))
		for k, v := range a {
			merged[k] = v
		}
		for k, v := range b {
			merged[k] = v
		}
		return single(merged), nil

	case "keys":
		obj, ok := inputs["value"].(map[string]interface{})
		if !ok {
			return nil, jsonError(functionID, fmt.Errorf("input is not an object"))
		}
		keys := make([]interface{}, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		return single(keys), nil
	}
	return nil, jsonError(functionID, fmt.Errorf("unknown function"))
}

// navigate walks a dotted path through nested objects and arrays, e.g.
// "items.0.name".
func navigate(v interface{}, path string) (interface{}, error) {
	if path == "" {
		return v, nil
	}
	for _, seg := range strings.Split(path, ".") {
		switch cur := v.(type) {
		case map[string]interface{}:
			next, ok := cur[seg]
			if !ok {
				return nil, fmt.Errorf("path segment %q not found", seg)
			}
			v = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur) {
				return nil, fmt.Errorf("invalid array index %q", seg)
			}
			v = cur[idx]
		default:
			return nil, fmt.Errorf("cannot descend into %T at %q", v, seg)
		}
	}
	return v, nil
}

func jsonError(functionID string, cause error) error {
	return &errors.DeviceFunctionError{
		PluginID:   PluginJSON,
		FunctionID: functionID,
		Cause:      cause,
	}
}
