package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Node is one resource in the dependency graph.
type Node struct {
	Spec ResourceSpec

	// Refs are the output references this node's attributes carry, one per
	// upstream attribute consumed at dispatch time.
	Refs []Reference
}

// Graph is an immutable dependency DAG over a set of resource specs. Edges
// point from a resource to the resources it depends on. Build validates the
// graph fully, so a constructed Graph is guaranteed acyclic with no dangling
// references.
type Graph struct {
	nodes map[string]*Node

	// deps maps a node id to the ids it depends on, sorted.
	deps map[string][]string

	// dependents is the reverse adjacency, sorted.
	dependents map[string][]string
}

// BuildGraph validates the specs and constructs the dependency graph. Edges
// come from explicit DependsOn entries and from ${id.attr} references found
// in attributes. Duplicate ids, references to undeclared resources, and
// dependency cycles all return a ValidationError.
func BuildGraph(specs []ResourceSpec) (*Graph, error) {
	g := &Graph{
		nodes:      make(map[string]*Node, len(specs)),
		deps:       make(map[string][]string, len(specs)),
		dependents: make(map[string][]string, len(specs)),
	}

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, &ValidationError{Err: err}
		}
		if _, ok := g.nodes[spec.ID]; ok {
			return nil, &ValidationError{Err: fmt.Errorf("duplicate resource id %q", spec.ID)}
		}
		g.nodes[spec.ID] = &Node{Spec: spec, Refs: References(spec.Attributes)}
	}

	for id, node := range g.nodes {
		depSet := make(map[string]struct{})
		for _, dep := range node.Spec.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &ValidationError{Err: &DanglingReferenceError{From: id, To: dep}}
			}
			depSet[dep] = struct{}{}
		}
		for _, ref := range node.Refs {
			if _, ok := g.nodes[ref.ID]; !ok {
				return nil, &ValidationError{Err: &DanglingReferenceError{From: id, To: ref.ID}}
			}
			depSet[ref.ID] = struct{}{}
		}
		if _, ok := depSet[id]; ok {
			return nil, &ValidationError{Err: &CycleError{Cycle: []string{id, id}}}
		}

		deps := make([]string, 0, len(depSet))
		for dep := range depSet {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		g.deps[id] = deps
		for _, dep := range deps {
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}
	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &ValidationError{Err: &CycleError{Cycle: cycle}}
	}
	return g, nil
}

// findCycle runs a DFS over the dependency edges and returns the first cycle
// found as a closed path, or nil for an acyclic graph. Iteration order is
// sorted so error output is stable.
func (g *Graph) findCycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.nodes))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		path = append(path, id)
		for _, dep := range g.deps[id] {
			switch color[dep] {
			case gray:
				// Close the loop from the first occurrence of dep on the path.
				for i, p := range path {
					if p == dep {
						cycle := append([]string{}, path[i:]...)
						return append(cycle, dep)
					}
				}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.IDs() {
		if color[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Node returns the node for id, or nil if the id is not in the graph.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// IDs returns all node ids, sorted.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DependenciesOf returns the ids this node depends on, sorted.
func (g *Graph) DependenciesOf(id string) []string {
	return g.deps[id]
}

// DependentsOf returns the ids that depend on this node, sorted.
func (g *Graph) DependentsOf(id string) []string {
	return g.dependents[id]
}

// Levels partitions the graph into topological levels using Kahn's
// algorithm. Level 0 holds nodes with no dependencies; every node appears in
// the level after its deepest dependency. Nodes within a level are sorted.
// The levels are a reporting and planning aid; execution dispatches nodes
// individually as their dependencies become ready.
func (g *Graph) Levels() [][]string {
	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.deps[id])
	}

	var levels [][]string
	frontier := make([]string, 0)
	for id, d := range indegree {
		if d == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	for len(frontier) > 0 {
		levels = append(levels, frontier)
		var next []string
		for _, id := range frontier {
			for _, dep := range g.dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(next)
		frontier = next
	}
	return levels
}

// TopoOrder returns a topological order of all node ids, dependencies first.
func (g *Graph) TopoOrder() []string {
	order := make([]string, 0, len(g.nodes))
	for _, level := range g.Levels() {
		order = append(order, level...)
	}
	return order
}

// DOT renders the graph in Graphviz dot syntax, edges pointing from a
// resource to its dependencies.
func (g *Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph resources {\n")
	b.WriteString("  rankdir=BT;\n")
	for _, id := range g.IDs() {
		node := g.nodes[id]
		fmt.Fprintf(&b, "  %q [label=\"%s\\n%s\"];\n", id, id, node.Spec.Kind)
	}
	for _, id := range g.IDs() {
		for _, dep := range g.deps[id] {
			fmt.Fprintf(&b, "  %q -> %q;\n", id, dep)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
