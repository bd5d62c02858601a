package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when a node or edge does not exist.
var ErrNotFound = fmt.Errorf("graph: not found")

// ServiceGraph is a typed directed graph of services and dependencies.
// All methods are safe for concurrent use; reads share a lock, writes are
// serialized by a single writer lock.
type ServiceGraph struct {
	mu       sync.RWMutex
	nodes    map[string]*ServiceNode
	edges    map[string]*DependencyEdge // keyed by EdgeID(source, target)
	outgoing map[string][]string        // node id -> ordered target ids
	incoming map[string][]string        // node id -> ordered source ids
}

// NewServiceGraph creates an empty service graph.
func NewServiceGraph() *ServiceGraph {
	return &ServiceGraph{
		nodes:    make(map[string]*ServiceNode),
		edges:    make(map[string]*DependencyEdge),
		outgoing: make(map[string][]string),
		incoming: make(map[string][]string),
	}
}

// AddService inserts a node or updates it in place when the id already
// exists. Repeated identical calls are no-ops beyond UpdatedAt.
func (g *ServiceGraph) AddService(node ServiceNode) *ServiceNode {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := g.nodes[node.ID]; ok {
		existing.Name = node.Name
		existing.Type = node.Type
		existing.Team = node.Team
		existing.Tier = node.Tier
		existing.Tags = node.Tags
		existing.Metadata = node.Metadata
		existing.UpdatedAt = now
		return existing
	}

	n := node
	n.CreatedAt = now
	n.UpdatedAt = now
	g.nodes[n.ID] = &n
	return &n
}

// GetService returns the node with the given id.
func (g *ServiceGraph) GetService(id string) (*ServiceNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// GetServiceByName performs a case-insensitive lookup by node name.
func (g *ServiceGraph) GetServiceByName(name string) (*ServiceNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		if strings.EqualFold(n.Name, name) {
			return n, true
		}
	}
	return nil, false
}

// RemoveService removes a node and all its incident edges atomically.
// Removing an unknown id returns ErrNotFound.
func (g *ServiceGraph) RemoveService(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("%w: service %q", ErrNotFound, id)
	}

	for _, target := range g.outgoing[id] {
		delete(g.edges, EdgeID(id, target))
		g.incoming[target] = removeString(g.incoming[target], id)
	}
	for _, source := range g.incoming[id] {
		delete(g.edges, EdgeID(source, id))
		g.outgoing[source] = removeString(g.outgoing[source], id)
	}
	delete(g.outgoing, id)
	delete(g.incoming, id)
	delete(g.nodes, id)
	return nil
}

// AddDependency adds a directed edge. An edge on an existing ordered pair
// overwrites the previous one (last write wins); the adjacency indexes keep
// a single entry per pair.
func (g *ServiceGraph) AddDependency(edge DependencyEdge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[edge.Source]; !ok {
		return fmt.Errorf("%w: source %q", ErrNotFound, edge.Source)
	}
	if _, ok := g.nodes[edge.Target]; !ok {
		return fmt.Errorf("%w: target %q", ErrNotFound, edge.Target)
	}
	if edge.Criticality == "" {
		edge.Criticality = CriticalityDegraded
	}

	id := edge.ID()
	_, exists := g.edges[id]
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now().UTC()
	}
	e := edge
	g.edges[id] = &e

	if !exists {
		g.outgoing[edge.Source] = append(g.outgoing[edge.Source], edge.Target)
		g.incoming[edge.Target] = append(g.incoming[edge.Target], edge.Source)
	}
	return nil
}

// RemoveDependency deletes the edge for the ordered pair.
func (g *ServiceGraph) RemoveDependency(source, target string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := EdgeID(source, target)
	if _, ok := g.edges[id]; !ok {
		return fmt.Errorf("%w: edge %q", ErrNotFound, id)
	}
	delete(g.edges, id)
	g.outgoing[source] = removeString(g.outgoing[source], target)
	g.incoming[target] = removeString(g.incoming[target], source)
	return nil
}

// GetDependency returns the edge for the ordered pair.
func (g *ServiceGraph) GetDependency(source, target string) (*DependencyEdge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[EdgeID(source, target)]
	return e, ok
}

// Dependencies returns the direct dependencies (outgoing edges) of a node.
func (g *ServiceGraph) Dependencies(id string) []*DependencyEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := make([]*DependencyEdge, 0, len(g.outgoing[id]))
	for _, target := range g.outgoing[id] {
		if e, ok := g.edges[EdgeID(id, target)]; ok {
			edges = append(edges, e)
		}
	}
	return edges
}

// Dependents returns the direct dependents (incoming edges) of a node.
func (g *ServiceGraph) Dependents(id string) []*DependencyEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := make([]*DependencyEdge, 0, len(g.incoming[id]))
	for _, source := range g.incoming[id] {
		if e, ok := g.edges[EdgeID(source, id)]; ok {
			edges = append(edges, e)
		}
	}
	return edges
}

// ListServices returns all nodes ordered by id.
func (g *ServiceGraph) ListServices() []*ServiceNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]*ServiceNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// FilterOptions narrows ListServices results. Zero values match everything.
type FilterOptions struct {
	Team string
	Type ServiceType
	Tag  string
	Tier Tier
}

// FilterServices returns all nodes matching the filter, ordered by id.
func (g *ServiceGraph) FilterServices(opts FilterOptions) []*ServiceNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*ServiceNode
	for _, n := range g.nodes {
		if opts.Team != "" && !strings.EqualFold(n.Team, opts.Team) {
			continue
		}
		if opts.Type != "" && n.Type != opts.Type {
			continue
		}
		if opts.Tier != "" && n.Tier != opts.Tier {
			continue
		}
		if opts.Tag != "" && !containsFold(n.Tags, opts.Tag) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Search matches the query against node ids, names, teams and tags
// (case-insensitive substring).
func (g *ServiceGraph) Search(query string) []*ServiceNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	q := strings.ToLower(query)
	var out []*ServiceNode
	for _, n := range g.nodes {
		if strings.Contains(strings.ToLower(n.ID), q) ||
			strings.Contains(strings.ToLower(n.Name), q) ||
			strings.Contains(strings.ToLower(n.Team), q) {
			out = append(out, n)
			continue
		}
		for _, tag := range n.Tags {
			if strings.Contains(strings.ToLower(tag), q) {
				out = append(out, n)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodeCount returns the number of nodes.
func (g *ServiceGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *ServiceGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func containsFold(s []string, v string) bool {
	for _, x := range s {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}
