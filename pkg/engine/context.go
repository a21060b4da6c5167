// Package engine executes pipeline definitions: it validates the graph,
// schedules nodes into concurrency levels, routes typed data between them,
// runs loop/branch control flow and nested composites, and emits lifecycle
// events. The ExecutionEngine façade at the bottom of the package owns
// concurrency limits and context lifecycles.
package engine

import (
	"sync"
)

// Status is the per-node dispatch state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"

	// StatusSkipped marks a node whose triggering branch arm was not
	// taken. Skipped nodes never run and produce no outputs.
	StatusSkipped Status = "skipped"
)

// Context is the isolated state of one pipeline run or one composite
// invocation: node outputs, the variable scope and per-node status. A
// context is owned exclusively by the run that created it; nested composite
// invocations get their own context and never share this one's mutex.
type Context struct {
	id string

	// runID is the engine run this context (and its nested composite
	// contexts) belongs to. Stamped on every event the run publishes.
	runID string

	mu        sync.Mutex
	dataStore map[string]map[string]interface{}
	variables map[string]interface{}
	status    map[string]Status

	// injected holds composite input values seeded onto subgraph node pins
	// before the subgraph runs. Read by the router between config defaults
	// and edge values.
	injected map[string]map[string]interface{}
}

// NewContext creates a context with the given hierarchical id (for example
// "pipelineA" or "pipelineA.compositeNode7") and a variable scope seeded
// from globals. The globals map is copied, never aliased.
func NewContext(id string, globals map[string]interface{}) *Context {
	vars := make(map[string]interface{}, len(globals))
	for k, v := range globals {
		vars[k] = v
	}
	return &Context{
		id:        id,
		dataStore: make(map[string]map[string]interface{}),
		variables: vars,
		status:    make(map[string]Status),
		injected:  make(map[string]map[string]interface{}),
	}
}

// ID returns the context's hierarchical id.
func (c *Context) ID() string { return c.id }

// Child derives the id for a nested composite invocation's context.
func (c *Context) Child(nodeID string) string { return c.id + "." + nodeID }

// SetOutputs stores a node's outputs, replacing any previous pass's values.
func (c *Context) SetOutputs(nodeID string, outputs map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := make(map[string]interface{}, len(outputs))
	for k, v := range outputs {
		stored[k] = v
	}
	c.dataStore[nodeID] = stored
}

// Output reads one pin of a node's stored outputs.
func (c *Context) Output(nodeID, pin string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	outputs, ok := c.dataStore[nodeID]
	if !ok {
		return nil, false
	}
	v, ok := outputs[pin]
	return v, ok
}

// Outputs returns a copy of a node's stored outputs.
func (c *Context) Outputs(nodeID string) (map[string]interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	outputs, ok := c.dataStore[nodeID]
	if !ok {
		return nil, false
	}
	cp := make(map[string]interface{}, len(outputs))
	for k, v := range outputs {
		cp[k] = v
	}
	return cp, true
}

// ClearOutputs removes a node's stored outputs (loop body reset).
func (c *Context) ClearOutputs(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dataStore, nodeID)
}

// SetVariable writes to the context's variable scope.
func (c *Context) SetVariable(name string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

// Variable reads from the context's variable scope.
func (c *Context) Variable(name string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.variables[name]
	return v, ok
}

// SetStatus updates a node's dispatch status.
func (c *Context) SetStatus(nodeID string, s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[nodeID] = s
}

// StatusOf returns a node's dispatch status; unknown nodes are Pending.
func (c *Context) StatusOf(nodeID string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.status[nodeID]
	if !ok {
		return StatusPending
	}
	return s
}

// Inject seeds a composite input value onto a subgraph node's input pin.
func (c *Context) Inject(nodeID, pin string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.injected[nodeID] == nil {
		c.injected[nodeID] = make(map[string]interface{})
	}
	c.injected[nodeID][pin] = value
}

// InjectedFor returns a copy of the injected values for a node.
func (c *Context) InjectedFor(nodeID string) map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	inj, ok := c.injected[nodeID]
	if !ok {
		return nil
	}
	cp := make(map[string]interface{}, len(inj))
	for k, v := range inj {
		cp[k] = v
	}
	return cp
}

// ResetNodes puts the given nodes back to Pending and clears their outputs.
// Used by the loop runtime before each body iteration.
func (c *Context) ResetNodes(nodeIDs map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range nodeIDs {
		c.status[id] = StatusPending
		delete(c.dataStore, id)
	}
}

// SnapshotData returns deep-enough copies of the data store and variables
// for the execution result. Pin values themselves are shared, never
// mutated by the engine after completion.
func (c *Context) SnapshotData() (map[string]map[string]interface{}, map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := make(map[string]map[string]interface{}, len(c.dataStore))
	for nodeID, outputs := range c.dataStore {
		cp := make(map[string]interface{}, len(outputs))
		for k, v := range outputs {
			cp[k] = v
		}
		data[nodeID] = cp
	}
	vars := make(map[string]interface{}, len(c.variables))
	for k, v := range c.variables {
		vars[k] = v
	}
	return data, vars
}

// SnapshotStatus returns a copy of the per-node status map.
func (c *Context) SnapshotStatus() map[string]Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make(map[string]Status, len(c.status))
	for k, v := range c.status {
		cp[k] = v
	}
	return cp
}
