package graph

import (
	"sort"
)

// Levels groups the graph's top-level nodes into concurrency levels using
// Kahn's algorithm. Level 0 holds nodes with no predecessors; level k holds
// nodes whose predecessors all sit in earlier levels. Nodes within one level
// have no dependency relationship and may run concurrently; no ordering is
// promised within a level.
//
// Loop-body nodes are excluded: a loop node occupies one slot in its
// enclosing graph and re-dispatches its body itself each iteration.
func (d *Dependency) Levels() [][]string {
	return d.levelsFor(func(id string) bool { return !d.InAnyLoopBody(id) })
}

// BodyLevels groups the direct body of a loop node into levels. Bodies of
// loops nested inside this one are excluded the same way loop bodies are
// excluded at the top level.
func (d *Dependency) BodyLevels(loopID string) [][]string {
	body := d.loopBodies[loopID]
	return d.levelsFor(func(id string) bool {
		if !body[id] {
			return false
		}
		for nested, nestedBody := range d.loopBodies {
			if nested != loopID && body[nested] && nestedBody[id] {
				return false
			}
		}
		return true
	})
}

// levelsFor runs Kahn's algorithm over the subset of nodes selected by
// include. Edges from excluded nodes do not count toward in-degree, so a
// subset schedules independently of the surrounding graph.
func (d *Dependency) levelsFor(include func(string) bool) [][]string {
	inDegree := make(map[string]int)
	for id := range d.nodes {
		if !include(id) {
			continue
		}
		deg := 0
		for _, pred := range d.preds[id] {
			if include(pred) {
				deg++
			}
		}
		inDegree[id] = deg
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var levels [][]string
	for len(queue) > 0 {
		levels = append(levels, queue)

		var next []string
		for _, id := range queue {
			for _, succ := range d.succs[id] {
				if _, ok := inDegree[succ]; !ok {
					continue
				}
				inDegree[succ]--
				if inDegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		sort.Strings(next)
		queue = next
	}

	return levels
}
