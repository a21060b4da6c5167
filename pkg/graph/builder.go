// Package graph builds and validates the dependency structure of a pipeline
// definition and assigns nodes to concurrency levels for scheduling.
package graph

import (
	"fmt"
	"sort"

	"github.com/flowforge-io/flowforge/pkg/errors"
	"github.com/flowforge-io/flowforge/pkg/pipeline"
)

// Dependency is the validated adjacency structure for one node/edge set.
// It is built once per pipeline (or composite subgraph, or loop body pass)
// and read concurrently by the scheduler and dispatcher.
type Dependency struct {
	nodes map[string]*pipeline.NodeDefinition

	preds map[string][]string
	succs map[string][]string

	// inEdges groups edges by target node, outEdges by source node.
	inEdges  map[string][]pipeline.EdgeDefinition
	outEdges map[string][]pipeline.EdgeDefinition

	// loopBodies maps a loop node id to the set of node ids reachable from
	// its loop_body pin. Body nodes are excluded from the enclosing
	// scheduler pass and re-dispatched by the loop runtime each iteration.
	loopBodies map[string]map[string]bool
}

// Build validates nodes and edges and produces the dependency structure.
// It rejects duplicate node ids, unknown node or pin references, fan-in into
// a single target pin, break/continue nodes outside any loop body, and
// cyclic graphs. Cycle failures carry the offending cycles as ordered
// node-id lists.
func Build(nodes []pipeline.NodeDefinition, edges []pipeline.EdgeDefinition) (*Dependency, error) {
	d := &Dependency{
		nodes:      make(map[string]*pipeline.NodeDefinition, len(nodes)),
		preds:      make(map[string][]string),
		succs:      make(map[string][]string),
		inEdges:    make(map[string][]pipeline.EdgeDefinition),
		outEdges:   make(map[string][]pipeline.EdgeDefinition),
		loopBodies: make(map[string]map[string]bool),
	}

	for i := range nodes {
		n := &nodes[i]
		if n.ID == "" {
			return nil, errors.NewValidationError("", "", "node at index %d has empty id", i)
		}
		if _, exists := d.nodes[n.ID]; exists {
			return nil, errors.NewValidationError(n.ID, "", "duplicate node id")
		}
		d.nodes[n.ID] = n
	}

	seenTargetPins := make(map[string]string)
	for _, e := range edges {
		src, ok := d.nodes[e.SourceNode]
		if !ok {
			return nil, errors.NewValidationError(e.SourceNode, e.SourcePin,
				"edge %s references unknown source node", e)
		}
		tgt, ok := d.nodes[e.TargetNode]
		if !ok {
			return nil, errors.NewValidationError(e.TargetNode, e.TargetPin,
				"edge %s references unknown target node", e)
		}
		if !hasOutputPin(src, e.SourcePin) {
			return nil, errors.NewValidationError(e.SourceNode, e.SourcePin,
				"edge %s references undeclared source pin", e)
		}
		if !hasInputPin(tgt, e.TargetPin) {
			return nil, errors.NewValidationError(e.TargetNode, e.TargetPin,
				"edge %s references undeclared target pin", e)
		}
		key := e.TargetNode + "." + e.TargetPin
		if prev, dup := seenTargetPins[key]; dup {
			return nil, errors.NewValidationError(e.TargetNode, e.TargetPin,
				"multiple edges write the same target pin (from %s and %s)", prev, e.SourceNode)
		}
		seenTargetPins[key] = e.SourceNode

		if e.SourceNode == e.TargetNode {
			return nil, &errors.CircularDependencyError{
				Cycle:     []string{e.SourceNode, e.SourceNode},
				AllCycles: [][]string{{e.SourceNode, e.SourceNode}},
			}
		}

		d.inEdges[e.TargetNode] = append(d.inEdges[e.TargetNode], e)
		d.outEdges[e.SourceNode] = append(d.outEdges[e.SourceNode], e)
		if !contains(d.preds[e.TargetNode], e.SourceNode) {
			d.preds[e.TargetNode] = append(d.preds[e.TargetNode], e.SourceNode)
		}
		if !contains(d.succs[e.SourceNode], e.TargetNode) {
			d.succs[e.SourceNode] = append(d.succs[e.SourceNode], e.TargetNode)
		}
	}

	if err := d.detectCycles(); err != nil {
		return nil, err
	}

	d.computeLoopBodies()

	if err := d.validateSignalNodes(); err != nil {
		return nil, err
	}

	return d, nil
}

// hasOutputPin checks declared outputs plus the implicit pins control-flow
// kinds expose without declaration.
func hasOutputPin(n *pipeline.NodeDefinition, pin string) bool {
	if _, ok := n.OutputPin(pin); ok {
		return true
	}
	switch n.Kind {
	case pipeline.KindLoop:
		return pin == pipeline.PinNameLoopBody || pin == pipeline.PinNameComplete || pin == pipeline.PinNameIndex
	case pipeline.KindBranch:
		return pin == pipeline.PinNameTrue || pin == pipeline.PinNameFalse
	case pipeline.KindVariableGet, pipeline.KindVariableSet:
		// variable-set forwards the written value downstream.
		return pin == pipeline.PinNameValue
	}
	return false
}

// hasInputPin mirrors hasOutputPin for target pins.
func hasInputPin(n *pipeline.NodeDefinition, pin string) bool {
	if _, ok := n.InputPin(pin); ok {
		return true
	}
	switch n.Kind {
	case pipeline.KindLoop:
		return pin == pipeline.PinNameIterations || pin == pipeline.PinNameCondition || pin == pipeline.PinNameTrigger
	case pipeline.KindBranch:
		return pin == pipeline.PinNameCondition
	case pipeline.KindVariableSet:
		return pin == pipeline.PinNameValue || pin == pipeline.PinNameTrigger
	case pipeline.KindVariableGet, pipeline.KindComposite:
		return pin == pipeline.PinNameTrigger
	case pipeline.KindBreak, pipeline.KindContinue:
		return pin == pipeline.PinNameTrigger
	}
	return false
}

// detectCycles runs a DFS with a recursion stack over the full edge set.
// All distinct cycles are collected for diagnostics; the first found is the
// canonical one reported in the error.
func (d *Dependency) detectCycles() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(d.nodes))
	var stack []string
	var cycles [][]string
	seen := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		stack = append(stack, id)
		for _, succ := range d.succs[id] {
			switch color[succ] {
			case grey:
				// Found a back-edge; slice the cycle out of the stack.
				start := -1
				for i, s := range stack {
					if s == succ {
						start = i
						break
					}
				}
				if start >= 0 {
					cycle := append(append([]string{}, stack[start:]...), succ)
					key := canonicalCycleKey(cycle)
					if !seen[key] {
						seen[key] = true
						cycles = append(cycles, cycle)
					}
				}
			case white:
				visit(succ)
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	ids := make([]string, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}

	if len(cycles) > 0 {
		return &errors.CircularDependencyError{Cycle: cycles[0], AllCycles: cycles}
	}
	return nil
}

// canonicalCycleKey normalizes a cycle (rotation-insensitive) for dedupe.
func canonicalCycleKey(cycle []string) string {
	body := cycle[:len(cycle)-1]
	min := 0
	for i := range body {
		if body[i] < body[min] {
			min = i
		}
	}
	key := ""
	for i := 0; i < len(body); i++ {
		key += body[(min+i)%len(body)] + "|"
	}
	return key
}

// computeLoopBodies walks edges out of each loop node's loop_body pin and
// records everything transitively reachable as that loop's body.
func (d *Dependency) computeLoopBodies() {
	for id, n := range d.nodes {
		if n.Kind != pipeline.KindLoop {
			continue
		}
		body := make(map[string]bool)
		var queue []string
		for _, e := range d.outEdges[id] {
			if e.SourcePin == pipeline.PinNameLoopBody || e.SourcePin == pipeline.PinNameIndex {
				queue = append(queue, e.TargetNode)
			}
		}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if body[cur] {
				continue
			}
			body[cur] = true
			queue = append(queue, d.succs[cur]...)
		}
		d.loopBodies[id] = body
	}
}

// validateSignalNodes ensures break/continue nodes are reachable only from
// within a loop body; outside one, the signal would have no handler.
func (d *Dependency) validateSignalNodes() error {
	for id, n := range d.nodes {
		if n.Kind != pipeline.KindBreak && n.Kind != pipeline.KindContinue {
			continue
		}
		enclosed := false
		for _, body := range d.loopBodies {
			if body[id] {
				enclosed = true
				break
			}
		}
		if !enclosed {
			return errors.NewValidationError(id, "",
				"%s node is not inside any loop body", n.Kind)
		}
	}
	return nil
}

// Node returns the definition for a node id.
func (d *Dependency) Node(id string) (*pipeline.NodeDefinition, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// NodeCount returns the number of nodes in the graph.
func (d *Dependency) NodeCount() int { return len(d.nodes) }

// Predecessors returns the direct predecessors of a node.
func (d *Dependency) Predecessors(id string) []string { return d.preds[id] }

// Successors returns the direct successors of a node.
func (d *Dependency) Successors(id string) []string { return d.succs[id] }

// InEdges returns the edges targeting a node.
func (d *Dependency) InEdges(id string) []pipeline.EdgeDefinition { return d.inEdges[id] }

// OutEdges returns the edges originating at a node.
func (d *Dependency) OutEdges(id string) []pipeline.EdgeDefinition { return d.outEdges[id] }

// LoopBody returns the body node set for a loop node.
func (d *Dependency) LoopBody(loopID string) map[string]bool { return d.loopBodies[loopID] }

// InAnyLoopBody reports whether a node belongs to any loop's body.
func (d *Dependency) InAnyLoopBody(id string) bool {
	for _, body := range d.loopBodies {
		if body[id] {
			return true
		}
	}
	return false
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Describe renders a short human-readable summary for logging.
func (d *Dependency) Describe() string {
	edges := 0
	for _, es := range d.inEdges {
		edges += len(es)
	}
	return fmt.Sprintf("%d nodes, %d edges, %d loops", len(d.nodes), edges, len(d.loopBodies))
}
