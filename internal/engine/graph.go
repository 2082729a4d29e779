package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stackform-io/stackform/internal/ir"
)

// Graph is the dependency graph used to order operations. Creation order
// is dependency-first; destruction order is the reverse.
type Graph struct {
	nodes    map[string]*graphNode
	order    []string
	revOrder []string
}

type graphNode struct {
	addr     string
	edges    []string // addresses this node depends on
	revEdges []string // addresses that depend on this node
}

// BuildGraph constructs the graph from declared resources, resolving both
// explicit dependsOn edges and implicit ref:// attribute references.
// Every edge must resolve to a node in the graph and the graph must be
// acyclic.
func BuildGraph(resources []*ir.Resource) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*graphNode)}

	for _, res := range resources {
		addr := res.Address()
		if _, dup := g.nodes[addr]; dup {
			return nil, fmt.Errorf("duplicate resource address %s", addr)
		}
		g.nodes[addr] = &graphNode{addr: addr}
	}

	for _, res := range resources {
		addr := res.Address()
		node := g.nodes[addr]

		for _, dep := range res.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, fmt.Errorf("resource %s depends on unknown resource %s", addr, dep)
			}
			node.edges = appendUnique(node.edges, dep)
		}

		for _, ref := range extractRefs(res.Properties) {
			depAddr := refToAddr(ref)
			if depAddr == "" {
				return nil, fmt.Errorf("resource %s has malformed reference %q", addr, ref)
			}
			if _, ok := g.nodes[depAddr]; !ok {
				return nil, fmt.Errorf("resource %s references unknown resource %s", addr, depAddr)
			}
			if depAddr != addr {
				node.edges = appendUnique(node.edges, depAddr)
			}
		}
	}

	if err := g.finish(); err != nil {
		return nil, err
	}
	return g, nil
}

// BuildGraphFromState constructs a graph from state records, used to order
// destroy operations. Edges recorded against resources that no longer
// exist in state are tolerated.
func BuildGraphFromState(resources []*ir.ResourceState) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*graphNode)}

	for _, res := range resources {
		g.nodes[res.Address()] = &graphNode{addr: res.Address()}
	}
	for _, res := range resources {
		node := g.nodes[res.Address()]
		for _, dep := range res.Dependencies {
			if _, ok := g.nodes[dep]; ok {
				node.edges = appendUnique(node.edges, dep)
			}
		}
	}

	if err := g.finish(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) finish() error {
	for addr, node := range g.nodes {
		for _, dep := range node.edges {
			g.nodes[dep].revEdges = append(g.nodes[dep].revEdges, addr)
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return err
	}
	g.order = order

	g.revOrder = make([]string, len(order))
	for i, addr := range order {
		g.revOrder[len(order)-1-i] = addr
	}
	return nil
}

// CreationOrder returns addresses in dependency-respecting creation order.
func (g *Graph) CreationOrder() []string {
	return g.order
}

// DestructionOrder returns addresses in reverse order: dependents first.
func (g *Graph) DestructionOrder() []string {
	return g.revOrder
}

// Dependencies returns the direct dependencies of the given address.
func (g *Graph) Dependencies(addr string) []string {
	if node, ok := g.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// Dependents returns the addresses that directly depend on the given one.
func (g *Graph) Dependents(addr string) []string {
	if node, ok := g.nodes[addr]; ok {
		return node.revEdges
	}
	return nil
}

// TransitiveDeps returns every address reachable through dependency edges.
func (g *Graph) TransitiveDeps(addr string) []string {
	return g.walk(addr, func(n *graphNode) []string { return n.edges })
}

// TransitiveDependents returns every address that transitively depends on
// the given one. Used to poison a subgraph after a fatal failure.
func (g *Graph) TransitiveDependents(addr string) []string {
	return g.walk(addr, func(n *graphNode) []string { return n.revEdges })
}

func (g *Graph) walk(start string, next func(*graphNode) []string) []string {
	seen := map[string]bool{start: true}
	var out []string
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, ok := g.nodes[cur]
		if !ok {
			continue
		}
		for _, n := range next(node) {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
				stack = append(stack, n)
			}
		}
	}
	sort.Strings(out)
	return out
}

// topoSort runs Kahn's algorithm. On failure the nodes left unsorted
// contain at least one cycle, which is traced and reported by name.
func (g *Graph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for addr, node := range g.nodes {
		inDegree[addr] = len(node.edges)
	}

	var queue []string
	for addr, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, addr)
		}
	}
	sort.Strings(queue) // deterministic ordering between independent nodes

	var sorted []string
	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		sorted = append(sorted, addr)

		var released []string
		for _, dependent := range g.nodes[addr].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		sort.Strings(released)
		queue = append(queue, released...)
	}

	if len(sorted) != len(g.nodes) {
		return nil, &CyclicDependencyError{Cycle: g.findCycle(inDegree)}
	}
	return sorted, nil
}

// findCycle walks dependency edges among the unsorted nodes until a node
// repeats, then returns the members of that loop.
func (g *Graph) findCycle(inDegree map[string]int) []string {
	remaining := make(map[string]bool)
	var start string
	for addr, deg := range inDegree {
		if deg > 0 {
			remaining[addr] = true
			if start == "" || addr < start {
				start = addr
			}
		}
	}

	visited := make(map[string]int) // addr -> position in path
	var path []string
	cur := start
	for {
		if pos, ok := visited[cur]; ok {
			return path[pos:]
		}
		visited[cur] = len(path)
		path = append(path, cur)

		next := ""
		for _, dep := range g.nodes[cur].edges {
			if remaining[dep] && (next == "" || dep < next) {
				next = dep
			}
		}
		if next == "" {
			// Shouldn't happen for nodes left by Kahn's, but fail safe.
			return path
		}
		cur = next
	}
}

func appendUnique(list []string, item string) []string {
	for _, v := range list {
		if v == item {
			return list
		}
	}
	return append(list, item)
}

const refScheme = "ref://"

// extractRefs collects all ref:// strings from an attribute value.
func extractRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, refScheme) {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	case map[any]any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	}
	return refs
}

// refToAddr converts a reference to the address of the resource it names.
// ref://aws:S3.Bucket/logs/arn -> aws:S3.Bucket.logs
func refToAddr(ref string) string {
	typ, name, _, ok := parseRef(ref)
	if !ok {
		return ""
	}
	return typ + "." + name
}

// parseRef splits ref://<type>/<name>/<attribute> into its parts. The
// attribute segment is optional and defaults to "id".
func parseRef(ref string) (typ, name, attr string, ok bool) {
	if !strings.HasPrefix(ref, refScheme) {
		return "", "", "", false
	}
	parts := strings.SplitN(ref[len(refScheme):], "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	attr = "id"
	if len(parts) == 3 && parts[2] != "" {
		attr = parts[2]
	}
	return parts[0], parts[1], attr, true
}
