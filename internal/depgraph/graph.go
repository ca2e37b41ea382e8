// Package depgraph maintains the per-namespace dependency graph derived
// from the remote repository tree.
package depgraph

import (
	"encoding/json"
	"sort"
)

// Node is one source file in the graph.
type Node struct {
	ID       string `json:"id"`
	Language string `json:"language,omitempty"`
	Size     int    `json:"size,omitempty"`
}

// Edge is a directed import relation between two files.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

// EdgeLabelImport is the only edge label the builder emits.
const EdgeLabelImport = "import"

// Metadata describes how a graph was produced.
type Metadata struct {
	GeneratedAtMs  int64 `json:"generated_at_ms"`
	FilesProcessed int   `json:"files_processed"`
	EdgesFound     int   `json:"edges_found"`
}

// Graph is the dependency graph for one namespace. Version is the repo
// head commit the graph was computed at.
type Graph struct {
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`
	Version  string   `json:"version"`
	Metadata Metadata `json:"metadata"`
}

// Normalize sorts nodes by id and edges by (source, target) so repeated
// builds at the same commit are byte-identical modulo generated_at_ms.
func (g *Graph) Normalize() {
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].Source != g.Edges[j].Source {
			return g.Edges[i].Source < g.Edges[j].Source
		}
		return g.Edges[i].Target < g.Edges[j].Target
	})
}

// Marshal serializes the graph.
func (g *Graph) Marshal() (string, error) {
	b, err := json.Marshal(g)
	return string(b), err
}

// Unmarshal parses a serialized graph.
func Unmarshal(raw string) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Neighbors returns the set of files adjacent to any of the given paths.
// Adjacency is undirected: both importers and importees count, so cycles
// are handled naturally. The given paths themselves are excluded.
func (g *Graph) Neighbors(paths []string) map[string]struct{} {
	requested := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		requested[p] = struct{}{}
	}

	out := make(map[string]struct{})
	for _, e := range g.Edges {
		if _, ok := requested[e.Source]; ok {
			if _, self := requested[e.Target]; !self {
				out[e.Target] = struct{}{}
			}
		}
		if _, ok := requested[e.Target]; ok {
			if _, self := requested[e.Source]; !self {
				out[e.Source] = struct{}{}
			}
		}
	}
	return out
}

// OrphanedDependents returns the files that import any of the released
// paths and are not themselves released, sorted for stable output.
func (g *Graph) OrphanedDependents(released []string) []string {
	releasedSet := make(map[string]struct{}, len(released))
	for _, p := range released {
		releasedSet[p] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, e := range g.Edges {
		if _, ok := releasedSet[e.Target]; !ok {
			continue
		}
		if _, ok := releasedSet[e.Source]; ok {
			continue
		}
		if _, dup := seen[e.Source]; dup {
			continue
		}
		seen[e.Source] = struct{}{}
		out = append(out, e.Source)
	}
	sort.Strings(out)
	return out
}
