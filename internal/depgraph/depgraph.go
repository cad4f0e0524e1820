// Package depgraph builds the reference graph between registered entity
// types. A type that holds a foreign key to another type is that type's child.
package depgraph

import (
	"sort"

	"github.com/pezi/treedb/internal/registry"
)

// Node is one entity type in the graph.
type Node struct {
	Type     *registry.Type
	Parents  []string // types this type points at
	Children []string // types pointing at this type
	SelfRef  bool
}

// Graph is the result of Analyze. It is immutable.
type Graph struct {
	reg   *registry.Registry
	nodes map[string]*Node
}

// Analyze inspects the static foreign keys of every registered type,
// including fields inherited through the descriptor parent chain. The Base
// columns and polymorphic or composed references do not contribute edges:
// their targets are only known per record.
func Analyze(reg *registry.Registry) *Graph {
	parents := map[string]map[string]struct{}{}
	children := map[string]map[string]struct{}{}
	self := map[string]bool{}
	for _, t := range reg.Types() {
		parents[t.Name] = map[string]struct{}{}
		children[t.Name] = map[string]struct{}{}
	}
	for _, t := range reg.Types() {
		for _, f := range t.AllFields() {
			if f.Role != registry.RoleForeignKey {
				continue
			}
			if f.Target == t.Name {
				self[t.Name] = true
				continue
			}
			parents[t.Name][f.Target] = struct{}{}
			children[f.Target][t.Name] = struct{}{}
		}
	}
	g := &Graph{reg: reg, nodes: make(map[string]*Node, len(parents))}
	for _, t := range reg.Types() {
		g.nodes[t.Name] = &Node{
			Type:     t,
			Parents:  sortedKeys(parents[t.Name]),
			Children: sortedKeys(children[t.Name]),
			SelfRef:  self[t.Name],
		}
	}
	return g
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Node returns the node of the named type, or nil.
func (g *Graph) Node(name string) *Node { return g.nodes[name] }

// Parents returns the types name points at.
func (g *Graph) Parents(name string) []string {
	if n := g.nodes[name]; n != nil {
		return n.Parents
	}
	return nil
}

// Children returns the types pointing at name.
func (g *Graph) Children(name string) []string {
	if n := g.nodes[name]; n != nil {
		return n.Children
	}
	return nil
}

// SelfReferencing reports whether name holds a foreign key to itself.
func (g *Graph) SelfReferencing(name string) bool {
	n := g.nodes[name]
	return n != nil && n.SelfRef
}

// Order returns every type with parents ahead of their children. Ties and
// cycles are resolved by ascending type tag, so the result is deterministic.
func (g *Graph) Order() []*registry.Type {
	types := g.reg.Types()
	sort.Slice(types, func(i, j int) bool { return types[i].Tag < types[j].Tag })

	pending := make(map[string]int, len(types))
	for _, t := range types {
		pending[t.Name] = len(g.nodes[t.Name].Parents)
	}
	out := make([]*registry.Type, 0, len(types))
	done := make(map[string]bool, len(types))
	for len(out) < len(types) {
		var next *registry.Type
		for _, t := range types {
			if !done[t.Name] && pending[t.Name] == 0 {
				next = t
				break
			}
		}
		if next == nil {
			// cycle: take the lowest remaining tag
			for _, t := range types {
				if !done[t.Name] {
					next = t
					break
				}
			}
		}
		done[next.Name] = true
		out = append(out, next)
		for _, c := range g.nodes[next.Name].Children {
			pending[c]--
		}
	}
	return out
}
