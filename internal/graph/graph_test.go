package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T, ids ...string) *ServiceGraph {
	t.Helper()
	g := NewServiceGraph()
	for _, id := range ids {
		g.AddService(ServiceNode{ID: id, Name: id, Type: ServiceTypeService})
	}
	return g
}

func addEdge(t *testing.T, g *ServiceGraph, source, target string, crit EdgeCriticality) {
	t.Helper()
	require.NoError(t, g.AddDependency(DependencyEdge{
		Source:      source,
		Target:      target,
		Type:        "http",
		Criticality: crit,
	}))
}

func TestAddServiceUpdatesInPlace(t *testing.T) {
	g := NewServiceGraph()
	first := g.AddService(ServiceNode{ID: "api", Name: "api", Type: ServiceTypeService})
	created := first.CreatedAt

	time.Sleep(2 * time.Millisecond)
	second := g.AddService(ServiceNode{ID: "api", Name: "api-gateway", Type: ServiceTypeService, Team: "platform"})

	assert.Equal(t, 1, g.NodeCount())
	assert.Equal(t, "api-gateway", second.Name)
	assert.Equal(t, "platform", second.Team)
	assert.Equal(t, created, second.CreatedAt, "CreatedAt must survive updates")
	assert.True(t, second.UpdatedAt.After(created) || second.UpdatedAt.Equal(created))
}

func TestAddDependencyOverwritesOrderedPair(t *testing.T) {
	g := newTestGraph(t, "a", "b")
	addEdge(t, g, "a", "b", CriticalityOptional)
	addEdge(t, g, "a", "b", CriticalityCritical)

	assert.Equal(t, 1, g.EdgeCount())
	edge, ok := g.GetDependency("a", "b")
	require.True(t, ok)
	assert.Equal(t, CriticalityCritical, edge.Criticality)

	// Adjacency indexes must hold a single entry per pair.
	assert.Len(t, g.Dependencies("a"), 1)
	assert.Len(t, g.Dependents("b"), 1)
}

func TestRemoveServiceRemovesIncidentEdges(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c")
	addEdge(t, g, "a", "b", CriticalityCritical)
	addEdge(t, g, "b", "c", CriticalityCritical)
	addEdge(t, g, "c", "a", CriticalityCritical)

	require.NoError(t, g.RemoveService("b"))

	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 1, g.EdgeCount())
	_, ok := g.GetDependency("a", "b")
	assert.False(t, ok)
	_, ok = g.GetDependency("b", "c")
	assert.False(t, ok)
	assert.Empty(t, g.Dependencies("b"))
	assert.Empty(t, g.Dependents("b"))
	for _, e := range append(g.Dependencies("a"), g.Dependents("a")...) {
		assert.NotEqual(t, "b", e.Source)
		assert.NotEqual(t, "b", e.Target)
	}

	assert.ErrorIs(t, g.RemoveService("b"), ErrNotFound)
}

func TestFindPathShortest(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c", "d")
	addEdge(t, g, "a", "b", CriticalityCritical)
	addEdge(t, g, "b", "c", CriticalityCritical)
	addEdge(t, g, "a", "d", CriticalityCritical)
	addEdge(t, g, "d", "c", CriticalityCritical)

	path := g.FindPath("a", "c")
	require.Len(t, path, 3)
	assert.Equal(t, "a", path[0])
	assert.Equal(t, "c", path[2])

	assert.Nil(t, g.FindPath("c", "a"), "reverse direction is unreachable")
	assert.Equal(t, []string{"a"}, g.FindPath("a", "a"))
	assert.Nil(t, g.FindPath("a", "missing"))
}

func TestDetectCycles(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c")
	addEdge(t, g, "a", "b", CriticalityCritical)
	addEdge(t, g, "b", "c", CriticalityCritical)
	addEdge(t, g, "c", "a", CriticalityCritical)

	cycles := g.DetectCycles()
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycles[0])

	// A dangling forward edge must not create new cycles.
	g.AddService(ServiceNode{ID: "d", Name: "d", Type: ServiceTypeService})
	addEdge(t, g, "a", "d", CriticalityOptional)
	assert.Len(t, g.DetectCycles(), 1)
}

func TestDetectCyclesAcyclic(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c")
	addEdge(t, g, "a", "b", CriticalityCritical)
	addEdge(t, g, "b", "c", CriticalityCritical)
	assert.Empty(t, g.DetectCycles())
}

func TestDownstreamImpactCriticality(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c", "d")
	addEdge(t, g, "a", "b", CriticalityCritical)
	addEdge(t, g, "b", "c", CriticalityDegraded)
	addEdge(t, g, "c", "d", CriticalityCritical)

	paths := g.GetDownstreamImpact("a", 5)
	require.Len(t, paths, 3)

	byAffected := make(map[string]ImpactPath)
	for _, p := range paths {
		byAffected[p.Affected] = p
	}

	d := byAffected["d"]
	assert.Equal(t, []string{"a", "b", "c", "d"}, d.Path)
	assert.Equal(t, 3, d.Hops)
	assert.Equal(t, CriticalityDegraded, d.Criticality, "path criticality is the weakest edge")

	assert.Equal(t, CriticalityCritical, byAffected["b"].Criticality)
	assert.Equal(t, CriticalityDegraded, byAffected["c"].Criticality)
}

func TestUpstreamImpact(t *testing.T) {
	g := newTestGraph(t, "frontend", "api", "db")
	addEdge(t, g, "frontend", "api", CriticalityCritical)
	addEdge(t, g, "api", "db", CriticalityCritical)

	paths := g.GetUpstreamImpact("db", 5)
	require.Len(t, paths, 2)

	for _, p := range paths {
		assert.Equal(t, "db", p.Source)
		assert.Equal(t, p.Hops, len(p.Path)-1)
	}
}

func TestUpstreamImpactRespectsMaxDepth(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c", "d")
	addEdge(t, g, "a", "b", CriticalityCritical)
	addEdge(t, g, "b", "c", CriticalityCritical)
	addEdge(t, g, "c", "d", CriticalityCritical)

	paths := g.GetUpstreamImpact("d", 1)
	require.Len(t, paths, 1)
	assert.Equal(t, "c", paths[0].Affected)
}

func TestJSONRoundTrip(t *testing.T) {
	g := NewServiceGraph()
	g.AddService(ServiceNode{
		ID:       "payments",
		Name:     "payments",
		Type:     ServiceTypeService,
		Team:     "commerce",
		Tier:     TierCritical,
		Tags:     []string{"pci"},
		Metadata: map[string]string{"runtime": "go"},
	})
	g.AddService(ServiceNode{ID: "payments-db", Name: "payments-db", Type: ServiceTypeDatabase})
	addEdge(t, g, "payments", "payments-db", CriticalityCritical)

	data, err := g.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, g.NodeCount(), restored.NodeCount())
	assert.Equal(t, g.EdgeCount(), restored.EdgeCount())

	orig, _ := g.GetService("payments")
	got, ok := restored.GetService("payments")
	require.True(t, ok)
	assert.Equal(t, orig.Team, got.Team)
	assert.Equal(t, orig.Tier, got.Tier)
	assert.True(t, orig.CreatedAt.Equal(got.CreatedAt), "timestamps must round-trip")

	edge, ok := restored.GetDependency("payments", "payments-db")
	require.True(t, ok)
	assert.Equal(t, CriticalityCritical, edge.Criticality)
}

func TestFilterAndSearch(t *testing.T) {
	g := NewServiceGraph()
	g.AddService(ServiceNode{ID: "api", Name: "API Gateway", Type: ServiceTypeService, Team: "platform", Tier: TierCritical, Tags: []string{"edge"}})
	g.AddService(ServiceNode{ID: "db", Name: "orders-db", Type: ServiceTypeDatabase, Team: "commerce"})

	assert.Len(t, g.FilterServices(FilterOptions{Team: "platform"}), 1)
	assert.Len(t, g.FilterServices(FilterOptions{Type: ServiceTypeDatabase}), 1)
	assert.Len(t, g.FilterServices(FilterOptions{Tier: TierCritical}), 1)
	assert.Len(t, g.FilterServices(FilterOptions{Tag: "EDGE"}), 1)
	assert.Len(t, g.FilterServices(FilterOptions{}), 2)

	byName, ok := g.GetServiceByName("api gateway")
	require.True(t, ok)
	assert.Equal(t, "api", byName.ID)

	assert.Len(t, g.Search("orders"), 1)
	assert.Empty(t, g.Search("nothing"))
}

func TestAddDependencyUnknownNode(t *testing.T) {
	g := newTestGraph(t, "a")
	err := g.AddDependency(DependencyEdge{Source: "a", Target: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)
	err = g.AddDependency(DependencyEdge{Source: "ghost", Target: "a"})
	assert.ErrorIs(t, err, ErrNotFound)
}
