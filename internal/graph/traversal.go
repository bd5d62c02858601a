package graph

// FindPath returns the shortest path from one node to another following
// outgoing edges (BFS). It returns nil when the target is unreachable and
// a single-element path when from == to.
func (g *ServiceGraph) FindPath(from, to string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[from]; !ok {
		return nil
	}
	if _, ok := g.nodes[to]; !ok {
		return nil
	}
	if from == to {
		return []string{from}
	}

	parent := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.outgoing[current] {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = current
			if next == to {
				return rebuildPath(parent, from, to)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

func rebuildPath(parent map[string]string, from, to string) []string {
	var reversed []string
	for cur := to; cur != ""; cur = parent[cur] {
		reversed = append(reversed, cur)
		if cur == from {
			break
		}
	}
	path := make([]string, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		path = append(path, reversed[i])
	}
	return path
}

// GetUpstreamImpact walks incoming edges from the given node up to maxDepth
// hops and returns one ImpactPath per reachable dependent. The criticality
// of each path is the minimum edge criticality along it.
func (g *ServiceGraph) GetUpstreamImpact(id string, maxDepth int) []ImpactPath {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.impact(id, maxDepth, g.incoming, func(from, to string) *DependencyEdge {
		// Upstream traversal follows edges dependent -> id, so the edge key
		// has the neighbour as source.
		return g.edges[EdgeID(to, from)]
	})
}

// GetDownstreamImpact walks outgoing edges from the given node up to
// maxDepth hops, symmetric to GetUpstreamImpact.
func (g *ServiceGraph) GetDownstreamImpact(id string, maxDepth int) []ImpactPath {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.impact(id, maxDepth, g.outgoing, func(from, to string) *DependencyEdge {
		return g.edges[EdgeID(from, to)]
	})
}

// impact performs a DFS over the given adjacency index. Each node is
// reported once, at its first (shortest observed) discovery.
func (g *ServiceGraph) impact(start string, maxDepth int, adjacency map[string][]string, edgeOf func(from, to string) *DependencyEdge) []ImpactPath {
	if _, ok := g.nodes[start]; !ok {
		return nil
	}
	if maxDepth <= 0 {
		maxDepth = 3
	}

	var paths []ImpactPath
	visited := map[string]bool{start: true}

	var walk func(current string, path []string, crit EdgeCriticality, depth int)
	walk = func(current string, path []string, crit EdgeCriticality, depth int) {
		if depth >= maxDepth {
			return
		}
		for _, next := range adjacency[current] {
			if visited[next] {
				continue
			}
			edge := edgeOf(current, next)
			if edge == nil {
				continue
			}
			visited[next] = true

			nextCrit := edge.Criticality
			if len(path) > 1 {
				nextCrit = mergeCriticality(crit, edge.Criticality)
			}
			nextPath := append(append([]string{}, path...), next)
			paths = append(paths, ImpactPath{
				Source:      start,
				Affected:    next,
				Path:        nextPath,
				Hops:        len(nextPath) - 1,
				Criticality: nextCrit,
			})
			walk(next, nextPath, nextCrit, depth+1)
		}
	}

	walk(start, []string{start}, CriticalityCritical, 0)
	return paths
}

// DetectCycles returns the simple cycles found by a coloured DFS over
// outgoing edges. Each cycle is reported as the list of node ids along it.
func (g *ServiceGraph) DetectCycles() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS stack
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.nodes))
	var cycles [][]string
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range g.outgoing[id] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				// Back edge: the cycle is the stack suffix starting at next.
				for i, n := range stack {
					if n == next {
						cycle := append([]string{}, stack[i:]...)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	// Iterate in sorted order for deterministic output.
	for _, n := range g.ListServicesLocked() {
		if color[n.ID] == white {
			visit(n.ID)
		}
	}
	return cycles
}

// ListServicesLocked returns nodes ordered by id without taking the lock.
// Callers must hold at least a read lock.
func (g *ServiceGraph) ListServicesLocked() []*ServiceNode {
	nodes := make([]*ServiceNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sortNodesByID(nodes)
	return nodes
}

func sortNodesByID(nodes []*ServiceNode) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j-1].ID > nodes[j].ID; j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
}
