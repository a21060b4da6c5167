package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge-io/flowforge/pkg/device"
	"github.com/flowforge-io/flowforge/pkg/errors"
	"github.com/flowforge-io/flowforge/pkg/graph"
	"github.com/flowforge-io/flowforge/pkg/pipeline"
	"github.com/flowforge-io/flowforge/pkg/workerpool"
)

// SignalKind identifies a loop control signal.
type SignalKind int

const (
	SignalBreak SignalKind = iota
	SignalContinue
)

// Signal is the value a break or continue node yields. It travels up the
// call stack as a return value and is consumed by the innermost enclosing
// loop.
type Signal struct {
	Kind   SignalKind
	NodeID string
}

// Dispatcher executes individual nodes. It owns input assembly via the
// router, function dispatch through the device registry, compute offload
// to the worker pool, and the per-kind semantics of the logic nodes.
type Dispatcher struct {
	router     *Router
	devices    *device.Registry
	pool       *workerpool.Pool
	composites *Invoker
	logger     *zap.Logger
}

// NewDispatcher wires a dispatcher. pool may be nil when compute offload
// is disabled; composites is attached by the engine after construction.
func NewDispatcher(router *Router, devices *device.Registry, pool *workerpool.Pool, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{router: router, devices: devices, pool: pool, logger: logger}
}

// Eligible reports whether a node may run: every predecessor in the
// schedule must have finished its level (completed or skipped), and when
// in-edges exist at least one must carry a value. Edges leaving a branch
// pin only carry when the pin's value is truthy, which is how untaken
// branch arms are skipped; a skipped predecessor produced no outputs, so
// the skip cascades through the value check below.
func (d *Dispatcher) Eligible(node *pipeline.NodeDefinition, dep *graph.Dependency, ectx *Context) bool {
	edges := dep.InEdges(node.ID)
	for _, e := range edges {
		// A loop node stays Running while it drives its own body passes.
		if src, found := dep.Node(e.SourceNode); found &&
			src.Kind == pipeline.KindLoop && dep.LoopBody(e.SourceNode)[node.ID] {
			continue
		}
		if st := ectx.StatusOf(e.SourceNode); st != StatusCompleted && st != StatusSkipped {
			return false
		}
	}
	if len(edges) == 0 {
		return true
	}
	for _, e := range edges {
		v, ok := ectx.Output(e.SourceNode, e.SourcePin)
		if !ok {
			continue
		}
		src, found := dep.Node(e.SourceNode)
		if found && src.Kind == pipeline.KindBranch && isBranchPin(e.SourcePin) && !Truthy(v) {
			continue
		}
		return true
	}
	return false
}

func isBranchPin(pin string) bool {
	return pin == pipeline.PinNameTrue || pin == pipeline.PinNameFalse
}

// Execute runs a single node and returns its outputs, an optional loop
// control signal, and an error. Loop nodes are not handled here; the
// controller drives them through runLoop.
func (d *Dispatcher) Execute(ctx context.Context, node *pipeline.NodeDefinition, dep *graph.Dependency, ectx *Context) (map[string]interface{}, *Signal, error) {
	switch node.Kind {
	case pipeline.KindFunction:
		out, err := d.executeFunction(ctx, node, dep, ectx)
		return out, nil, err

	case pipeline.KindBranch:
		out, err := d.executeBranch(node, dep, ectx)
		return out, nil, err

	case pipeline.KindVariableGet:
		return d.executeVariableGet(node, ectx), nil, nil

	case pipeline.KindVariableSet:
		out, err := d.executeVariableSet(node, dep, ectx)
		return out, nil, err

	case pipeline.KindBreak:
		return nil, &Signal{Kind: SignalBreak, NodeID: node.ID}, nil

	case pipeline.KindContinue:
		return nil, &Signal{Kind: SignalContinue, NodeID: node.ID}, nil

	case pipeline.KindComposite:
		if d.composites == nil {
			return nil, nil, errors.ErrCompositeNotFound
		}
		return d.composites.Invoke(ctx, node, dep, ectx)

	case pipeline.KindLoop:
		return nil, nil, fmt.Errorf("loop node %s dispatched outside loop controller", node.ID)
	}
	return nil, nil, fmt.Errorf("unknown node kind %q on node %s", node.Kind, node.ID)
}

func (d *Dispatcher) executeFunction(ctx context.Context, node *pipeline.NodeDefinition, dep *graph.Dependency, ectx *Context) (map[string]interface{}, error) {
	inputs, err := d.router.CollectInputs(node, dep, ectx)
	if err != nil {
		return nil, err
	}
	for _, pin := range node.Inputs {
		if pin.Required {
			if _, ok := inputs[pin.Name]; !ok {
				return nil, &errors.ValidationError{
					NodeID:  node.ID,
					Pin:     pin.Name,
					Message: fmt.Sprintf("required input %q missing: %v", pin.Name, errors.ErrMissingInput),
				}
			}
		}
	}

	executor, err := d.devices.Resolve(node.PluginID)
	if err != nil {
		return nil, err
	}

	retries := configInt(node.Config, "retry", 0)
	retryDelay := time.Duration(configInt(node.Config, "retry_delay_ms", 0)) * time.Millisecond
	timeout := time.Duration(configInt(node.Config, "timeout_ms", 0)) * time.Millisecond
	offload := configBool(node.Config, "compute")

	run := func(ctx context.Context) (map[string]interface{}, error) {
		if offload && d.pool != nil {
			return d.pool.Execute(ctx, node.ID, func(tctx context.Context) (map[string]interface{}, error) {
				return executor.Execute(tctx, node.FunctionID, inputs)
			})
		}
		return executor.Execute(ctx, node.FunctionID, inputs)
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			d.logger.Debug("retrying node",
				zap.String("node_id", node.ID),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			if retryDelay > 0 {
				select {
				case <-time.After(retryDelay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
		callCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		out, err := func() (out map[string]interface{}, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic in node %s: %v", node.ID, r)
				}
			}()
			return run(callCtx)
		}()
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// executeBranch evaluates the condition and writes both arm pins. The
// true pin carries the condition's value and the false pin its negation,
// so edge gating downstream follows exactly one arm.
func (d *Dispatcher) executeBranch(node *pipeline.NodeDefinition, dep *graph.Dependency, ectx *Context) (map[string]interface{}, error) {
	inputs, err := d.router.CollectInputs(node, dep, ectx)
	if err != nil {
		return nil, err
	}
	cond, err := evaluateCondition(node, inputs)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		pipeline.PinNameTrue:  cond,
		pipeline.PinNameFalse: !cond,
	}, nil
}

// evaluateCondition supports a direct boolean condition input as well as
// an operator/threshold comparison configured on the node.
func evaluateCondition(node *pipeline.NodeDefinition, inputs map[string]interface{}) (bool, error) {
	v, ok := inputs[pipeline.PinNameCondition]
	if !ok {
		return false, &errors.ValidationError{
			NodeID:  node.ID,
			Pin:     pipeline.PinNameCondition,
			Message: "branch has no condition input",
		}
	}
	op, hasOp := node.Config["operator"].(string)
	if !hasOp {
		return Truthy(v), nil
	}
	left, ok := toFloat64(v)
	if !ok {
		return false, &errors.ValidationError{
			NodeID:  node.ID,
			Pin:     pipeline.PinNameCondition,
			Message: fmt.Sprintf("operator %q needs a numeric condition, got %s", op, valueTypeName(v)),
		}
	}
	right, _ := toFloat64(node.Config["threshold"])
	switch op {
	case "==", "eq":
		return left == right, nil
	case "!=", "ne":
		return left != right, nil
	case ">", "gt":
		return left > right, nil
	case ">=", "gte":
		return left >= right, nil
	case "<", "lt":
		return left < right, nil
	case "<=", "lte":
		return left <= right, nil
	}
	return false, &errors.ValidationError{
		NodeID:  node.ID,
		Pin:     pipeline.PinNameCondition,
		Message: fmt.Sprintf("unknown operator %q", op),
	}
}

// executeVariableGet reads a pipeline variable. An undefined variable
// resolves to the configured default, or nil; the node never fails.
func (d *Dispatcher) executeVariableGet(node *pipeline.NodeDefinition, ectx *Context) map[string]interface{} {
	name, _ := node.Config["name"].(string)
	v, ok := ectx.Variable(name)
	if !ok {
		v = node.Config["default"]
	}
	return map[string]interface{}{pipeline.PinNameValue: v}
}

func (d *Dispatcher) executeVariableSet(node *pipeline.NodeDefinition, dep *graph.Dependency, ectx *Context) (map[string]interface{}, error) {
	name, _ := node.Config["name"].(string)
	if name == "" {
		return nil, &errors.ValidationError{
			NodeID:  node.ID,
			Pin:     "name",
			Message: "variable-set requires a name",
		}
	}
	inputs, err := d.router.CollectInputs(node, dep, ectx)
	if err != nil {
		return nil, err
	}
	v, ok := inputs[pipeline.PinNameValue]
	if !ok {
		return nil, &errors.ValidationError{
			NodeID:  node.ID,
			Pin:     pipeline.PinNameValue,
			Message: fmt.Sprintf("no value routed to variable %q: %v", name, errors.ErrMissingInput),
		}
	}
	ectx.SetVariable(name, v)
	return map[string]interface{}{pipeline.PinNameValue: v}, nil
}

func configInt(cfg map[string]interface{}, key string, def int) int {
	if cfg == nil {
		return def
	}
	if f, ok := toFloat64(cfg[key]); ok {
		return int(f)
	}
	return def
}

func configBool(cfg map[string]interface{}, key string) bool {
	if cfg == nil {
		return false
	}
	b, _ := cfg[key].(bool)
	return b
}
