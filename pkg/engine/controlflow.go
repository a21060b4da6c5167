package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge-io/flowforge/pkg/errors"
	"github.com/flowforge-io/flowforge/pkg/events"
	"github.com/flowforge-io/flowforge/pkg/graph"
	"github.com/flowforge-io/flowforge/pkg/pipeline"
)

const defaultMaxIterations = 10000

// run carries the mutable state of a single pipeline execution: the
// dependency graph, the execution context, per-node timings and the
// ordered list of nodes that actually ran.
type run struct {
	engine *Engine
	dep    *graph.Dependency
	def    *pipeline.Definition
	ectx   *Context
	events *events.Publisher

	mu       sync.Mutex
	times    map[string]time.Duration
	executed []string
}

func (r *run) record(nodeID string, elapsed time.Duration) {
	r.mu.Lock()
	r.times[nodeID] = elapsed
	r.executed = append(r.executed, nodeID)
	r.mu.Unlock()
}

// runLevels executes the given levels in order, nodes within a level
// concurrently up to MaxParallelPerLevel. It returns the first loop
// control signal raised by a node in these levels, if any.
func (r *run) runLevels(ctx context.Context, levels [][]string) (*Signal, error) {
	for _, level := range levels {
		sig, err := r.runLevel(ctx, level)
		if err != nil {
			return nil, err
		}
		if sig != nil {
			return sig, nil
		}
	}
	return nil, nil
}

func (r *run) runLevel(ctx context.Context, level []string) (*Signal, error) {
	if len(level) == 0 {
		return nil, nil
	}
	if len(level) == 1 {
		return r.runNode(ctx, level[0])
	}

	levelCtx := ctx
	var cancel context.CancelFunc
	if r.engine.cfg.FailFast {
		levelCtx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	parallel := r.engine.cfg.MaxParallelPerLevel
	if parallel <= 0 || parallel > len(level) {
		parallel = len(level)
	}
	sem := make(chan struct{}, parallel)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	var firstSig *Signal

	for _, nodeID := range level {
		nodeID := nodeID
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if levelCtx.Err() != nil {
				return
			}
			sig, err := r.runNode(levelCtx, nodeID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
				if cancel != nil {
					cancel()
				}
			}
			if sig != nil && firstSig == nil {
				firstSig = sig
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return firstSig, nil
}

// runNode executes one node if it is eligible. Ineligible nodes (their
// triggering branch arm was not taken) are marked Skipped without running;
// they never reach Completed and produce no outputs.
func (r *run) runNode(ctx context.Context, nodeID string) (*Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.ErrPipelineStopped
	}
	node, found := r.dep.Node(nodeID)
	if !found {
		return nil, fmt.Errorf("node %s not in graph", nodeID)
	}
	if !r.engine.dispatcher.Eligible(node, r.dep, r.ectx) {
		r.ectx.SetStatus(nodeID, StatusSkipped)
		return nil, nil
	}

	r.ectx.SetStatus(nodeID, StatusRunning)
	r.publishNodeEvent(events.TypeNodeExecuting, nodeID, nil, 0)

	start := time.Now()
	var (
		outputs map[string]interface{}
		sig     *Signal
		err     error
	)
	if node.Kind == pipeline.KindLoop {
		err = r.runLoop(ctx, node)
	} else {
		outputs, sig, err = r.engine.dispatcher.Execute(ctx, node, r.dep, r.ectx)
	}
	elapsed := time.Since(start)

	if err != nil {
		r.ectx.SetStatus(nodeID, StatusError)
		r.engine.logger.Error("node failed",
			zap.String("pipeline_id", r.ectx.ID()),
			zap.String("node_id", nodeID),
			zap.String("kind", string(node.Kind)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, errors.NewNodeExecutionError(nodeID, string(node.Kind), err)
	}

	if node.Kind != pipeline.KindLoop {
		r.ectx.SetOutputs(nodeID, outputs)
	}
	r.ectx.SetStatus(nodeID, StatusCompleted)
	r.record(nodeID, elapsed)
	finalOutputs, _ := r.ectx.Outputs(nodeID)
	if r.engine.telemetry != nil && len(finalOutputs) > 0 {
		r.engine.telemetry.Publish("pipeline."+r.ectx.ID()+"."+nodeID, finalOutputs)
	}
	r.publishNodeEvent(events.TypeNodeCompleted, nodeID, finalOutputs, elapsed)
	return sig, nil
}

// runLoop drives a loop node: for mode runs a fixed iteration count,
// while mode re-collects the condition input before every pass. Each
// iteration resets the body nodes and replays the body levels; break and
// continue signals from the body are consumed here.
func (r *run) runLoop(ctx context.Context, node *pipeline.NodeDefinition) error {
	bodyLevels := r.dep.BodyLevels(node.ID)
	body := r.dep.LoopBody(node.ID)
	maxIter := configInt(node.Config, "max_iterations", defaultMaxIterations)

	isFor := node.LoopMode != pipeline.LoopModeWhile
	var count int
	if isFor {
		inputs, err := r.engine.dispatcher.router.CollectInputs(node, r.dep, r.ectx)
		if err != nil {
			return err
		}
		n, ok := toFloat64(inputs[pipeline.PinNameIterations])
		if !ok {
			return &errors.ValidationError{
				NodeID:  node.ID,
				Pin:     pipeline.PinNameIterations,
				Message: "for loop requires a numeric iterations input",
			}
		}
		count = int(n)
	}

	index := 0
	for {
		if err := ctx.Err(); err != nil {
			return errors.ErrPipelineStopped
		}
		if isFor {
			if index >= count {
				break
			}
		} else {
			if index >= maxIter {
				break
			}
			inputs, err := r.engine.dispatcher.router.CollectInputs(node, r.dep, r.ectx)
			if err != nil {
				return err
			}
			cond, ok := inputs[pipeline.PinNameCondition]
			if !ok {
				return &errors.ValidationError{
					NodeID:  node.ID,
					Pin:     pipeline.PinNameCondition,
					Message: "while loop requires a condition input",
				}
			}
			if !Truthy(cond) {
				break
			}
		}

		r.resetBody(body)
		r.ectx.SetOutputs(node.ID, map[string]interface{}{
			pipeline.PinNameLoopBody: true,
			pipeline.PinNameIndex:    float64(index),
		})

		sig, err := r.runLevels(ctx, bodyLevels)
		if err != nil {
			return err
		}
		index++
		if sig != nil && sig.Kind == SignalBreak {
			break
		}
	}

	r.resetBody(body)
	r.ectx.SetOutputs(node.ID, map[string]interface{}{
		pipeline.PinNameComplete: true,
		pipeline.PinNameIndex:    float64(index),
	})
	return nil
}

// resetBody clears body node state so the next iteration starts fresh.
func (r *run) resetBody(body map[string]bool) {
	r.ectx.ResetNodes(body)
}

func (r *run) publishNodeEvent(t events.Type, nodeID string, outputs map[string]interface{}, elapsed time.Duration) {
	if r.events == nil {
		return
	}
	ev := events.New(t, r.ectx.ID())
	ev.RunID = r.ectx.runID
	ev.NodeID = nodeID
	if outputs != nil {
		ev.Outputs = outputs
	}
	if elapsed > 0 {
		ev.ExecutionTimeMs = elapsed.Milliseconds()
	}
	r.events.Publish(ev)
}
