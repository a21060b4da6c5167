package builtin

import (
	"context"
	"fmt"
	"math"

	"github.com/flowforge-io/flowforge/pkg/errors"
	"github.com/flowforge-io/flowforge/pkg/pipeline"
)

var binaryMathPins = functionPins{
	inputs:  pins(pin("a", pipeline.PinNumber), pin("b", pipeline.PinNumber)),
	outputs: pins(pin("value", pipeline.PinNumber)),
}

var unaryMathPins = functionPins{
	inputs:  pins(pin("a", pipeline.PinNumber)),
	outputs: pins(pin("value", pipeline.PinNumber)),
}

var mathPins = map[string]functionPins{
	"add":   binaryMathPins,
	"sub":   binaryMathPins,
	"mul":   binaryMathPins,
	"div":   binaryMathPins,
	"mod":   binaryMathPins,
	"min":   binaryMathPins,
	"max":   binaryMathPins,
	"pow":   binaryMathPins,
	"abs":   unaryMathPins,
	"round": unaryMathPins,
	"floor": unaryMathPins,
	"ceil":  unaryMathPins,
	"sqrt":  unaryMathPins,
}

func executeMath(_ context.Context, functionID string, inputs map[string]interface{}) (map[string]interface{}, error) {
	a, err := getNumber(inputs, "a")
	if err != nil {
		return nil, mathError(functionID, err)
	}

	switch functionID {
	case "abs":
		return single(math.Abs(a)), nil
	case "round":
		return single(math.Round(a)), nil
	case "floor":
		return single(math.Floor(a)), nil
	case "ceil":
		return single(math.Ceil(a)), nil
	case "sqrt":
		if a < 0 {
			return nil, mathError(functionID, fmt.Errorf("square root of negative number"))
		}
		return single(math.Sqrt(a)), nil
	}

	b, err := getNumber(inputs, "b")
	if err != nil {
		return nil, mathError(functionID, err)
	}
	switch functionID {
	case "add":
		return single(a + b), nil
	case "sub":
		return single(a - b), nil
	case "mul":
		return single(a * b), nil
	case "div":
		if b == 0 {
			return nil, mathError(functionID, fmt.Errorf("division by zero"))
		}
		return single(a / b), nil
	case "mod":
		if b == 0 {
			return nil, mathError(functionID, fmt.Errorf("modulo by zero"))
		}
		return single(math.Mod(a, b)), nil
	case "min":
		return single(math.Min(a, b)), nil
	case "max":
		return single(math.Max(a, b)), nil
	case "pow":
		return single(math.Pow(a, b)), nil
	}
	return nil, mathError(functionID, fmt.Errorf("unknown function"))
}

func mathError(functionID string, cause error) error {
	return &errors.DeviceFunctionError{
		PluginID:   PluginMath,
		FunctionID: functionID,
		Cause:      cause,
	}
}

func getNumber(m map[string]interface{}, key string) (float64, error) {
	switch v := m[key].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case nil:
		return 0, fmt.Errorf("input %q missing", key)
	default:
		return 0, fmt.Errorf("input %q is not a number", key)
	}
}
