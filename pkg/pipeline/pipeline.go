// Package pipeline defines the declarative data model for node-based
// automation pipelines: node and edge definitions, pin typing, composite
// subgraph definitions and the JSON wire shape shared with the persistence
// layer. Definitions are immutable once loaded; the execution engine never
// mutates them.
package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NodeKind identifies the execution path for a node.
type NodeKind string

const (
	KindFunction    NodeKind = "function"
	KindBranch      NodeKind = "logic-branch"
	KindLoop        NodeKind = "logic-loop"
	KindBreak       NodeKind = "logic-break"
	KindContinue    NodeKind = "logic-continue"
	KindVariableGet NodeKind = "variable-get"
	KindVariableSet NodeKind = "variable-set"
	KindComposite   NodeKind = "composite"
)

// PinType is the declared type of a node input or output pin.
type PinType string

const (
	PinTrigger PinType = "trigger"
	PinNumber  PinType = "number"
	PinString  PinType = "string"
	PinBoolean PinType = "boolean"
	PinArray   PinType = "array"
	PinObject  PinType = "object"
	PinImage   PinType = "image"
	PinAny     PinType = "any"
)

// Well-known pin names used by control-flow nodes.
const (
	PinNameLoopBody   = "loop_body"
	PinNameComplete   = "complete"
	PinNameCondition  = "condition"
	PinNameIterations = "iterations"
	PinNameIndex      = "index"
	PinNameTrue       = "true"
	PinNameFalse      = "false"
	PinNameTrigger    = "trigger"
	PinNameValue      = "value"
)

// Loop modes for logic-loop nodes.
const (
	LoopModeFor   = "for"
	LoopModeWhile = "while"
)

// Pin declares a named, typed input or output of a node.
type Pin struct {
	Name     string  `json:"name"`
	Type     PinType `json:"type"`
	Required bool    `json:"required,omitempty"`
}

// NodeDefinition describes a single node in a pipeline graph.
// Config carries kind-specific settings (defaults, operators, retry policy).
type NodeDefinition struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"kind"`

	// PluginID and FunctionID select the device function for function nodes.
	PluginID   string `json:"plugin_id,omitempty"`
	FunctionID string `json:"function_id,omitempty"`

	// CompositeID references a CompositeDefinition for composite nodes.
	CompositeID string `json:"composite_id,omitempty"`

	// LoopMode distinguishes "for" and "while" loop nodes.
	LoopMode string `json:"loop_mode,omitempty"`

	Config  map[string]interface{} `json:"config,omitempty"`
	Inputs  []Pin                  `json:"inputs,omitempty"`
	Outputs []Pin                  `json:"outputs,omitempty"`
}

// InputPin returns the declared input pin with the given name.
func (n *NodeDefinition) InputPin(name string) (Pin, bool) {
	for _, p := range n.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return Pin{}, false
}

// OutputPin returns the declared output pin with the given name.
func (n *NodeDefinition) OutputPin(name string) (Pin, bool) {
	for _, p := range n.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return Pin{}, false
}

// EdgeDefinition connects a source node's output pin to a target node's
// input pin. Many-to-one into a single target pin is a validation error.
type EdgeDefinition struct {
	SourceNode string `json:"source_node"`
	SourcePin  string `json:"source_pin"`
	TargetNode string `json:"target_node"`
	TargetPin  string `json:"target_pin"`
}

// String renders the edge in "node.pin -> node.pin" form for diagnostics.
func (e EdgeDefinition) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", e.SourceNode, e.SourcePin, e.TargetNode, e.TargetPin)
}

// Variables holds the pipeline's variable scopes. Only the global scope is
// defined; the engine seeds each run's variable map from it.
type Variables struct {
	Global map[string]interface{} `json:"global,omitempty"`
}

// Definition is the immutable description of one pipeline run.
type Definition struct {
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Nodes     []NodeDefinition `json:"nodes"`
	Edges     []EdgeDefinition `json:"edges"`
	Variables Variables        `json:"variables"`
}

// Node returns the node definition with the given id.
func (d *Definition) Node(id string) (*NodeDefinition, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// Subgraph is the node/edge set embedded in a composite definition.
type Subgraph struct {
	Nodes []NodeDefinition `json:"nodes"`
	Edges []EdgeDefinition `json:"edges"`
}

// Node returns the subgraph node with the given id.
func (s *Subgraph) Node(id string) (*NodeDefinition, bool) {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i], true
		}
	}
	return nil, false
}

// CompositePinMapping binds a composite-level pin to a pin on a node inside
// the composite's subgraph. Target uses "node.pin" notation and must resolve
// inside the subgraph only.
type CompositePinMapping struct {
	Name string  `json:"name"`
	Type PinType `json:"type"`
	// MapsTo is set on inputs: composite input -> subgraph node input pin.
	MapsTo string `json:"maps_to,omitempty"`
	// MapsFrom is set on outputs: subgraph node output pin -> composite output.
	MapsFrom string `json:"maps_from,omitempty"`
}

// CompositeDefinition is a reusable subgraph published under a stable id.
// Immutable once published; revisions bump Version.
type CompositeDefinition struct {
	CompositeID string                `json:"composite_id"`
	Version     int                   `json:"version"`
	Subgraph    Subgraph              `json:"subgraph"`
	Inputs      []CompositePinMapping `json:"inputs,omitempty"`
	Outputs     []CompositePinMapping `json:"outputs,omitempty"`
}

// ParsePinRef splits a "node.pin" reference into its parts.
// Node ids may not contain dots; the first dot is the separator.
func ParsePinRef(ref string) (nodeID, pin string, err error) {
	idx := strings.Index(ref, ".")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", fmt.Errorf("malformed pin reference %q, want \"node.pin\"", ref)
	}
	return ref[:idx], ref[idx+1:], nil
}

// ParseDefinition decodes a pipeline definition from its JSON wire shape.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline definition: %w", err)
	}
	return &def, nil
}

// ParseComposite decodes a composite definition from JSON.
func ParseComposite(data []byte) (*CompositeDefinition, error) {
	var def CompositeDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse composite definition: %w", err)
	}
	return &def, nil
}

// Marshal encodes the definition to its JSON wire shape.
func (d *Definition) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// Marshal encodes the composite definition to JSON.
func (c *CompositeDefinition) Marshal() ([]byte, error) {
	return json.Marshal(c)
}
