// Package graph answers dependency questions about what is installed, using
// only the runtime dependencies recorded in install receipts.
package graph

import (
	"sort"

	"github.com/blackwell-systems/keg/internal/cellar"
)

// Graph is the installed runtime dependency graph. Edges come from receipts,
// unioned over every installed version of a formula.
type Graph struct {
	deps      map[string][]string
	onRequest map[string]bool
	names     []string
}

// Build constructs the graph from a Cellar listing.
func Build(pkgs []cellar.InstalledPackage) *Graph {
	g := &Graph{
		deps:      make(map[string][]string),
		onRequest: make(map[string]bool),
	}

	seenEdge := make(map[[2]string]bool)
	for _, p := range pkgs {
		if _, ok := g.deps[p.Name]; !ok {
			g.deps[p.Name] = nil
			g.names = append(g.names, p.Name)
		}
		if p.OnRequest() {
			g.onRequest[p.Name] = true
		}
		for _, d := range p.Receipt.DependencyNames() {
			edge := [2]string{p.Name, d}
			if seenEdge[edge] {
				continue
			}
			seenEdge[edge] = true
			g.deps[p.Name] = append(g.deps[p.Name], d)
		}
	}
	sort.Strings(g.names)
	return g
}

// Names returns every installed formula name, sorted.
func (g *Graph) Names() []string {
	return append([]string(nil), g.names...)
}

// Installed reports whether name has at least one installed version.
func (g *Graph) Installed(name string) bool {
	_, ok := g.deps[name]
	return ok
}

// Dependencies returns the recorded runtime dependencies of name.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.deps[name]...)
}

// Dependents returns installed formulae whose receipts list name, sorted.
func (g *Graph) Dependents(name string) []string {
	var out []string
	for _, n := range g.names {
		for _, d := range g.deps[n] {
			if d == name {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// OnRequest returns the formulae the user asked for explicitly, sorted.
func (g *Graph) OnRequest() []string {
	var out []string
	for _, n := range g.names {
		if g.onRequest[n] {
			out = append(out, n)
		}
	}
	return out
}

// Leaves returns requested formulae that no other installed formula
// depends on.
func (g *Graph) Leaves() []string {
	depended := make(map[string]bool)
	for _, n := range g.names {
		for _, d := range g.deps[n] {
			depended[d] = true
		}
	}
	var out []string
	for _, n := range g.OnRequest() {
		if !depended[n] {
			out = append(out, n)
		}
	}
	return out
}

// Chain returns every formula reachable from name, breadth first, excluding
// name itself. Cycles terminate through the visited set.
func (g *Graph) Chain(name string) []string {
	reached := g.reach([]string{name})
	delete(reached.set, name)

	out := make([]string, 0, len(reached.order))
	for _, n := range reached.order {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// Required returns the set of names reachable from roots, roots included.
func (g *Graph) Required(roots []string) map[string]bool {
	return g.reach(roots).set
}

// Unrequired returns installed formulae that were not requested and are not
// reachable from any requested formula, sorted by name. Members of a cycle
// that nothing requested reaches are all returned.
func (g *Graph) Unrequired() []string {
	required := g.Required(g.OnRequest())
	var out []string
	for _, n := range g.names {
		if !required[n] {
			out = append(out, n)
		}
	}
	return out
}

type reachResult struct {
	set   map[string]bool
	order []string
}

func (g *Graph) reach(roots []string) reachResult {
	visited := make(map[string]bool)
	var order []string
	queue := append([]string(nil), roots...)
	for _, r := range roots {
		if !visited[r] {
			visited[r] = true
			order = append(order, r)
		}
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, d := range g.deps[n] {
			if visited[d] {
				continue
			}
			visited[d] = true
			order = append(order, d)
			queue = append(queue, d)
		}
	}
	return reachResult{set: visited, order: order}
}
