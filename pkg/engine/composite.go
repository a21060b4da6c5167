package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge-io/flowforge/pkg/errors"
	"github.com/flowforge-io/flowforge/pkg/graph"
	"github.com/flowforge-io/flowforge/pkg/pipeline"
)

// CompositeRegistry holds published composite definitions in a flat,
// id-keyed map and caches the compiled dependency graph per composite.
// Definitions are immutable once registered; revisions register under a
// new id or replace the entry wholesale.
type CompositeRegistry struct {
	mu       sync.RWMutex
	defs     map[string]*pipeline.CompositeDefinition
	compiled map[string]*graph.Dependency
}

func NewCompositeRegistry() *CompositeRegistry {
	return &CompositeRegistry{
		defs:     make(map[string]*pipeline.CompositeDefinition),
		compiled: make(map[string]*graph.Dependency),
	}
}

// Register validates the composite's subgraph and pin mappings, then
// stores it. Registration fails on cyclic subgraphs or mappings that
// reference nodes and pins absent from the subgraph.
func (cr *CompositeRegistry) Register(def *pipeline.CompositeDefinition) error {
	if def == nil || def.CompositeID == "" {
		return fmt.Errorf("composite definition requires an id")
	}
	dep, err := graph.Build(def.Subgraph.Nodes, def.Subgraph.Edges)
	if err != nil {
		return fmt.Errorf("composite %s: %w", def.CompositeID, err)
	}
	for _, m := range def.Inputs {
		nodeID, _, err := pipeline.ParsePinRef(m.MapsTo)
		if err != nil {
			return fmt.Errorf("composite %s input %q: %w", def.CompositeID, m.Name, err)
		}
		if _, ok := dep.Node(nodeID); !ok {
			return fmt.Errorf("composite %s input %q maps to unknown node %q", def.CompositeID, m.Name, nodeID)
		}
	}
	for _, m := range def.Outputs {
		nodeID, _, err := pipeline.ParsePinRef(m.MapsFrom)
		if err != nil {
			return fmt.Errorf("composite %s output %q: %w", def.CompositeID, m.Name, err)
		}
		if _, ok := dep.Node(nodeID); !ok {
			return fmt.Errorf("composite %s output %q maps from unknown node %q", def.CompositeID, m.Name, nodeID)
		}
	}
	cr.mu.Lock()
	cr.defs[def.CompositeID] = def
	cr.compiled[def.CompositeID] = dep
	cr.mu.Unlock()
	return nil
}

// Resolve returns the definition and its compiled graph.
func (cr *CompositeRegistry) Resolve(id string) (*pipeline.CompositeDefinition, *graph.Dependency, error) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	def, ok := cr.defs[id]
	if !ok {
		return nil, nil, fmt.Errorf("composite %q: %w", id, errors.ErrCompositeNotFound)
	}
	return def, cr.compiled[id], nil
}

// List returns the registered composite ids, sorted.
func (cr *CompositeRegistry) List() []string {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	ids := make([]string, 0, len(cr.defs))
	for id := range cr.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type depthKey struct{}

func compositeDepth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// Invoker executes composite nodes: it maps the node's inputs onto the
// subgraph, runs the subgraph in an isolated execution context, and maps
// the declared outputs back. Nesting depth travels on the context so
// recursive composites cannot run away.
type Invoker struct {
	engine   *Engine
	registry *CompositeRegistry
	maxDepth int
}

func NewInvoker(engine *Engine, registry *CompositeRegistry, maxDepth int) *Invoker {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	return &Invoker{engine: engine, registry: registry, maxDepth: maxDepth}
}

// Invoke runs a composite node. The nested context gets a hierarchical id
// and an empty variable scope; nothing from the parent leaks in except
// the values explicitly mapped through the composite's input pins.
func (inv *Invoker) Invoke(ctx context.Context, node *pipeline.NodeDefinition, dep *graph.Dependency, ectx *Context) (map[string]interface{}, *Signal, error) {
	depth := compositeDepth(ctx) + 1
	if depth > inv.maxDepth {
		return nil, nil, fmt.Errorf("composite %s at depth %d: %w", node.CompositeID, depth, errors.ErrMaxCompositeDepth)
	}
	ctx = context.WithValue(ctx, depthKey{}, depth)

	def, subDep, err := inv.registry.Resolve(node.CompositeID)
	if err != nil {
		return nil, nil, err
	}

	inputs, err := inv.engine.dispatcher.router.CollectInputs(node, dep, ectx)
	if err != nil {
		return nil, nil, err
	}

	nested := NewContext(ectx.Child(node.ID), nil)
	nested.runID = ectx.runID
	for _, m := range def.Inputs {
		v, ok := inputs[m.Name]
		if !ok {
			continue
		}
		coerced, cerr := Coerce(v, m.Type)
		if cerr != nil {
			return nil, nil, errors.NewValidationError(node.ID, m.Name,
				"composite input: expected %s, got %s", m.Type, valueTypeName(v))
		}
		targetNode, targetPin, _ := pipeline.ParsePinRef(m.MapsTo)
		nested.Inject(targetNode, targetPin, coerced)
	}

	inv.engine.logger.Debug("invoking composite",
		zap.String("composite_id", def.CompositeID),
		zap.String("context_id", nested.ID()),
		zap.Int("depth", depth))

	// Nested node events publish under the hierarchical context id.
	sub := &run{
		engine: inv.engine,
		dep:    subDep,
		ectx:   nested,
		events: inv.engine.events,
		times:  make(map[string]time.Duration),
	}
	if _, err := sub.runLevels(ctx, subDep.Levels()); err != nil {
		return nil, nil, fmt.Errorf("composite %s: %w", def.CompositeID, err)
	}

	outputs := make(map[string]interface{}, len(def.Outputs))
	for _, m := range def.Outputs {
		srcNode, srcPin, _ := pipeline.ParsePinRef(m.MapsFrom)
		v, ok := nested.Output(srcNode, srcPin)
		if !ok {
			continue
		}
		coerced, cerr := Coerce(v, m.Type)
		if cerr != nil {
			return nil, nil, errors.NewValidationError(node.ID, m.Name,
				"composite output: expected %s, got %s", m.Type, valueTypeName(v))
		}
		outputs[m.Name] = coerced
	}
	return outputs, nil, nil
}
