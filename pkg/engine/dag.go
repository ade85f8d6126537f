package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is the task graph recorded in the cache: an edge runs from a child
// task to every parent whose trace holds a subtask_output record for it.
type Graph struct {
	// Nodes maps task keys to their graph nodes.
	Nodes map[string]*GraphNode `json:"nodes"`

	// Edges lists all child -> parent edges.
	Edges []GraphEdge `json:"edges"`

	// Roots are the keys of tasks with no subtask dependencies.
	Roots []string `json:"roots"`

	// Levels groups keys by topological level; level 0 holds the leaves.
	Levels [][]string `json:"levels"`
}

// GraphNode is one task in the graph.
type GraphNode struct {
	Key      string       `json:"key"`
	Identity TaskIdentity `json:"identity"`
	Level    int          `json:"level"`

	// Cached is false for tasks referenced by a trace without an entry of
	// their own.
	Cached bool `json:"cached"`

	// Dependencies are the child tasks this task consumed.
	Dependencies []string `json:"dependencies"`

	// Dependents are the tasks that consumed this task's output.
	Dependents []string `json:"dependents"`
}

// GraphEdge is a child -> parent edge.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Depth returns the number of levels.
func (g *Graph) Depth() int {
	return len(g.Levels)
}

// GraphBuilder builds a Graph from cache entries.
type GraphBuilder struct {
	nodes      map[string]*GraphNode
	dependents map[string][]string
	inDegree   map[string]int
	levels     [][]string
}

// NewGraphBuilder creates a new graph builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		nodes:      make(map[string]*GraphNode),
		dependents: make(map[string][]string),
		inDegree:   make(map[string]int),
	}
}

// Build constructs the graph, detects cycles and computes levels.
func (b *GraphBuilder) Build(entries []*CacheEntry) (*Graph, error) {
	b.initialize(entries)

	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeLevels(); err != nil {
		return nil, err
	}
	return b.graph(), nil
}

func (b *GraphBuilder) add(id TaskIdentity, cached bool) *GraphNode {
	key := id.Key()
	n, ok := b.nodes[key]
	if !ok {
		n = &GraphNode{Key: key, Identity: id}
		b.nodes[key] = n
		b.inDegree[key] = 0
	}
	n.Cached = n.Cached || cached
	return n
}

// initialize indexes entries and their subtask records.
func (b *GraphBuilder) initialize(entries []*CacheEntry) {
	for _, e := range entries {
		b.add(e.Identity, true)
	}

	for _, e := range entries {
		parent := b.nodes[e.Identity.Key()]
		seen := make(map[string]bool)
		for _, rec := range e.Trace.Records {
			if rec.Kind != RecordSubtaskOutput || rec.Task == nil {
				continue
			}
			child := b.add(*rec.Task, false)
			if seen[child.Key] {
				continue
			}
			seen[child.Key] = true

			parent.Dependencies = append(parent.Dependencies, child.Key)
			child.Dependents = append(child.Dependents, parent.Key)
			b.dependents[child.Key] = append(b.dependents[child.Key], parent.Key)
			b.inDegree[parent.Key]++
		}
	}
}

// detectCycles uses depth-first search over child -> parent edges.
func (b *GraphBuilder) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(key string, path []string) []string
	visit = func(key string, path []string) []string {
		visited[key] = true
		onStack[key] = true
		path = append(path, key)

		for _, next := range b.dependents[key] {
			if !visited[next] {
				if cycle := visit(next, path); cycle != nil {
					return cycle
				}
			} else if onStack[next] {
				for i, k := range path {
					if k == next {
						return append(append([]string(nil), path[i:]...), next)
					}
				}
			}
		}

		onStack[key] = false
		return nil
	}

	for _, key := range b.sortedKeys() {
		if visited[key] {
			continue
		}
		if cycle := visit(key, nil); cycle != nil {
			names := make([]string, len(cycle))
			for i, k := range cycle {
				names[i] = b.nodes[k].Identity.String()
			}
			return NewCycleError(names).WithOperation("inspect")
		}
	}
	return nil
}

// computeLevels assigns levels with Kahn's algorithm.
func (b *GraphBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for k, d := range b.inDegree {
		inDegree[k] = d
	}

	var current []string
	for _, key := range b.sortedKeys() {
		if inDegree[key] == 0 {
			current = append(current, key)
		}
	}

	processed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		processed += len(current)

		var next []string
		for _, key := range current {
			for _, dep := range b.dependents[key] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if processed != len(b.nodes) {
		return NewInternalError("failed to order all tasks", nil)
	}
	return nil
}

func (b *GraphBuilder) graph() *Graph {
	g := &Graph{
		Nodes:  b.nodes,
		Levels: b.levels,
	}
	for level, keys := range b.levels {
		for _, key := range keys {
			n := b.nodes[key]
			n.Level = level
			if len(n.Dependencies) == 0 {
				g.Roots = append(g.Roots, key)
			}
		}
	}
	for _, key := range b.sortedKeys() {
		for _, parent := range b.dependents[key] {
			g.Edges = append(g.Edges, GraphEdge{From: key, To: parent})
		}
	}
	return g
}

func (b *GraphBuilder) sortedKeys() []string {
	keys := make([]string, 0, len(b.nodes))
	for k := range b.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToDOT renders the graph in Graphviz DOT format, grouped by level.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph tasks {\n")
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, keys := range g.Levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, key := range keys {
			n := g.Nodes[key]
			color := "lightgreen"
			if !n.Cached {
				color = "lightgray"
			}
			sb.WriteString(fmt.Sprintf("    %q [label=%q, fillcolor=%q, style=\"filled,rounded\"];\n",
				n.Identity.String(), n.Identity.String(), color))
		}
		sb.WriteString("  }\n\n")
	}

	for _, e := range g.Edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q;\n",
			g.Nodes[e.From].Identity.String(), g.Nodes[e.To].Identity.String()))
	}

	sb.WriteString("}\n")
	return sb.String()
}
