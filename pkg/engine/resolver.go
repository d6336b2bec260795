package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is a dependency graph over string identifiers.
// An edge id -> dep means id must come after dep.
type Graph struct {
	// deps maps node IDs to the IDs they depend on
	deps map[string][]string

	// dependents maps node IDs to the IDs that depend on them
	dependents map[string][]string
}

// Edge is a dependency reference from one node to another.
type Edge struct {
	From string
	To   string
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// AddNode registers a node. Adding a node twice is a no-op.
func (g *Graph) AddNode(id string) {
	if _, ok := g.deps[id]; !ok {
		g.deps[id] = nil
	}
}

// HasNode reports whether id was registered.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.deps[id]
	return ok
}

// AddDependency records that id depends on dep. Both need not exist yet;
// use Missing to find references to unregistered nodes.
func (g *Graph) AddDependency(id, dep string) {
	g.AddNode(id)
	g.deps[id] = append(g.deps[id], dep)
	g.dependents[dep] = append(g.dependents[dep], id)
}

// Nodes returns all node IDs in sorted order.
func (g *Graph) Nodes() []string {
	ids := make([]string, 0, len(g.deps))
	for id := range g.deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id string) []string {
	return g.deps[id]
}

// Missing returns dependency references to unregistered nodes, sorted.
func (g *Graph) Missing() []Edge {
	var missing []Edge
	for _, id := range g.Nodes() {
		for _, dep := range g.deps[id] {
			if !g.HasNode(dep) {
				missing = append(missing, Edge{From: id, To: dep})
			}
		}
	}
	return missing
}

// FindCycle returns a cycle as a path whose first and last element are equal,
// or nil if the graph is acyclic. Traversal follows sorted node order so the
// reported cycle is stable across calls.
func (g *Graph) FindCycle() []string {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(g.deps))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = onStack
		path = append(path, id)

		deps := append([]string(nil), g.deps[id]...)
		sort.Strings(deps)
		for _, dep := range deps {
			if !g.HasNode(dep) {
				continue
			}
			switch state[dep] {
			case unvisited:
				if visit(dep) {
					return true
				}
			case onStack:
				for i, p := range path {
					if p == dep {
						cycle = append(append([]string(nil), path[i:]...), dep)
						return true
					}
				}
			}
		}

		path = path[:len(path)-1]
		state[id] = done
		return false
	}

	for _, id := range g.Nodes() {
		if state[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}

// Sort returns a topological order where every node follows its dependencies.
// Ties among ready nodes are broken by identifier. ok is false when a cycle
// prevents a complete order.
func (g *Graph) Sort() (order []string, ok bool) {
	levels, ok := g.levels()
	for _, level := range levels {
		order = append(order, level...)
	}
	return order, ok
}

// Levels groups nodes into batches that can run in parallel. Each batch only
// depends on earlier batches.
func (g *Graph) Levels() [][]string {
	levels, _ := g.levels()
	return levels
}

// levels runs Kahn's algorithm, emitting nodes level by level in identifier
// order. Nodes stuck on a cycle are omitted.
func (g *Graph) levels() ([][]string, bool) {
	inDegree := make(map[string]int, len(g.deps))
	for id, deps := range g.deps {
		for _, dep := range deps {
			if g.HasNode(dep) {
				inDegree[id]++
			}
		}
	}

	current := make([]string, 0)
	for _, id := range g.Nodes() {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	var levels [][]string
	processed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		processed += len(current)

		next := make([]string, 0)
		for _, id := range current {
			for _, dependent := range g.dependents[id] {
				if !g.HasNode(dependent) {
					continue
				}
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	return levels, processed == len(g.deps)
}

// ToDOT generates a DOT format representation of the graph for visualization.
func (g *Graph) ToDOT(name string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "digraph %q {\n", name)
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.Levels() {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n", level)
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			fmt.Fprintf(&sb, "    %q;\n", id)
		}
		sb.WriteString("  }\n\n")
	}

	for _, id := range g.Nodes() {
		for _, dep := range g.deps[id] {
			fmt.Fprintf(&sb, "  %q -> %q;\n", dep, id)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// FormatCycle formats a cycle path for error messages.
func FormatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

// Resolve computes an installation order for components: every component
// appears after all of its dependencies, and repeated calls on the same input
// produce the same order.
func Resolve(components []Component) ([]string, error) {
	g, err := ComponentGraph(components)
	if err != nil {
		return nil, err
	}

	if cycle := g.FindCycle(); cycle != nil {
		return nil, NewStructuralError(
			fmt.Sprintf("circular component dependency: %s", FormatCycle(cycle)), nil,
		).WithCode(ErrCodeCycleDetected).WithDetail("cycle", cycle)
	}

	order, ok := g.Sort()
	if !ok {
		return nil, NewStructuralError("failed to order all components - possible cycle", nil).
			WithCode(ErrCodeInternal)
	}
	return order, nil
}

// ComponentGraph builds the dependency graph of components, rejecting empty or
// duplicate IDs and references to components outside the set.
func ComponentGraph(components []Component) (*Graph, error) {
	g := NewGraph()
	for _, c := range components {
		if c.ID == "" {
			return nil, NewStructuralError("component has empty ID", nil).
				WithCode(ErrCodeValidation)
		}
		if g.HasNode(c.ID) {
			return nil, NewStructuralError(fmt.Sprintf("duplicate component ID: %s", c.ID), nil).
				WithCode(ErrCodeValidation).WithResource(c.ID)
		}
		g.AddNode(c.ID)
	}

	for _, c := range components {
		for _, dep := range c.Dependencies {
			g.AddDependency(c.ID, dep)
		}
	}

	if missing := g.Missing(); len(missing) > 0 {
		m := missing[0]
		return nil, NewStructuralError(
			fmt.Sprintf("component %s depends on unknown component %s", m.From, m.To), nil,
		).WithCode(ErrCodeUnresolvedDependency).WithResource(m.From).WithDetail("missing", m.To)
	}

	return g, nil
}
