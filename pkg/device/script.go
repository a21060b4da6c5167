package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/flowforge-io/flowforge/pkg/errors"
)

// ScriptExecutor is an embedded device plugin that evaluates JavaScript
// functions over node inputs. It exists for derivation steps (unit
// conversion, thresholding, result shaping) that don't warrant a hardware
// plugin. Each function id maps to a script whose source must evaluate to
// an object; that object becomes the node's outputs.
//
// The script sees a global `inputs` object carrying the routed input pins.
type ScriptExecutor struct {
	mu      sync.RWMutex
	scripts map[string]*goja.Program
}

// NewScriptExecutor compiles the given function-id -> source table.
func NewScriptExecutor(sources map[string]string) (*ScriptExecutor, error) {
	e := &ScriptExecutor{scripts: make(map[string]*goja.Program, len(sources))}
	for id, src := range sources {
		prog, err := goja.Compile(id, src, true)
		if err != nil {
			return nil, fmt.Errorf("failed to compile script %q: %w", id, err)
		}
		e.scripts[id] = prog
	}
	return e, nil
}

// AddFunction compiles and registers one more script function.
func (e *ScriptExecutor) AddFunction(functionID, source string) error {
	prog, err := goja.Compile(functionID, source, true)
	if err != nil {
		return fmt.Errorf("failed to compile script %q: %w", functionID, err)
	}
	e.mu.Lock()
	e.scripts[functionID] = prog
	e.mu.Unlock()
	return nil
}

// Execute implements Executor. The runtime is interrupted if ctx ends while
// the script runs.
func (e *ScriptExecutor) Execute(ctx context.Context, functionID string, inputs map[string]interface{}) (outputs map[string]interface{}, err error) {
	e.mu.RLock()
	prog, ok := e.scripts[functionID]
	e.mu.RUnlock()
	if !ok {
		return nil, &errors.DeviceFunctionError{
			PluginID:   "script",
			FunctionID: functionID,
			Cause:      fmt.Errorf("no script registered"),
		}
	}

	vm := goja.New()
	if err := vm.Set("inputs", inputs); err != nil {
		return nil, fmt.Errorf("failed to bind inputs: %w", err)
	}

	watchdone := make(chan struct{})
	defer close(watchdone)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-watchdone:
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err = &errors.DeviceFunctionError{
				PluginID:   "script",
				FunctionID: functionID,
				Cause:      fmt.Errorf("script panicked: %v", r),
			}
		}
	}()

	value, err := vm.RunProgram(prog)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errors.DeviceFunctionError{PluginID: "script", FunctionID: functionID, Cause: err}
	}

	exported := value.Export()
	result, ok := exported.(map[string]interface{})
	if !ok {
		return nil, &errors.DeviceFunctionError{
			PluginID:   "script",
			FunctionID: functionID,
			Cause:      fmt.Errorf("script must evaluate to an object, got %T", exported),
		}
	}
	return result, nil
}
