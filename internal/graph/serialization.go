package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// document is the on-disk shape of a service graph. Timestamps round-trip
// as RFC 3339 via the standard time.Time JSON encoding.
type document struct {
	Nodes []ServiceNode    `json:"nodes"`
	Edges []DependencyEdge `json:"edges"`
}

// ToJSON serializes the graph to a JSON document with deterministic node
// and edge ordering.
func (g *ServiceGraph) ToJSON() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	doc := document{
		Nodes: make([]ServiceNode, 0, len(g.nodes)),
		Edges: make([]DependencyEdge, 0, len(g.edges)),
	}
	for _, n := range g.nodes {
		doc.Nodes = append(doc.Nodes, *n)
	}
	for _, e := range g.edges {
		doc.Edges = append(doc.Edges, *e)
	}
	sort.Slice(doc.Nodes, func(i, j int) bool { return doc.Nodes[i].ID < doc.Nodes[j].ID })
	sort.Slice(doc.Edges, func(i, j int) bool { return doc.Edges[i].ID() < doc.Edges[j].ID() })

	return json.MarshalIndent(doc, "", "  ")
}

// FromJSON builds a graph from a document produced by ToJSON. Node and edge
// timestamps are preserved, not reassigned.
func FromJSON(data []byte) (*ServiceGraph, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse graph document: %w", err)
	}

	g := NewServiceGraph()
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range doc.Nodes {
		n := doc.Nodes[i]
		g.nodes[n.ID] = &n
	}
	for i := range doc.Edges {
		e := doc.Edges[i]
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, fmt.Errorf("edge %q references unknown source", e.ID())
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, fmt.Errorf("edge %q references unknown target", e.ID())
		}
		if _, exists := g.edges[e.ID()]; !exists {
			g.outgoing[e.Source] = append(g.outgoing[e.Source], e.Target)
			g.incoming[e.Target] = append(g.incoming[e.Target], e.Source)
		}
		g.edges[e.ID()] = &e
	}
	return g, nil
}

// SaveFile writes the graph document to the given path.
func (g *ServiceGraph) SaveFile(path string) error {
	data, err := g.ToJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write graph file: %w", err)
	}
	return nil
}

// LoadFile reads a graph document from the given path.
func LoadFile(path string) (*ServiceGraph, error) {
	// #nosec G304 -- graph path is user-provided configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	return FromJSON(data)
}
