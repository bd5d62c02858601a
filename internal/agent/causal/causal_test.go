package causal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolNames(queries []Query) []string {
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		out = append(out, q.Tool)
	}
	return out
}

func TestBuildPlanMatchesPatterns(t *testing.T) {
	b := NewBuilder()

	plan := b.BuildPlan("h1", "orders-db connection pool is exhausted", 7, "orders-db")
	names := toolNames(plan.Queries)

	// connectivity, database and scaling vocabulary all match
	assert.Contains(t, names, "db_diagnostics")
	assert.Contains(t, names, "get_logs")
	assert.Contains(t, names, "list_services")
	assert.Equal(t, 7, plan.Priority)
}

func TestBuildPlanLatency(t *testing.T) {
	b := NewBuilder()

	plan := b.BuildPlan("h2", "p99 latency is elevated on checkout-api", 5, "checkout-api")
	names := toolNames(plan.Queries)
	assert.Contains(t, names, "get_metrics")
	assert.Contains(t, names, "get_traces")

	for _, q := range plan.Queries {
		if svc, ok := q.Args["service"]; ok {
			assert.Equal(t, "checkout-api", svc)
		}
	}
}

func TestBuildPlanFallsBackToGenericTrio(t *testing.T) {
	b := NewBuilder()

	plan := b.BuildPlan("h3", "something odd is going on", 3, "")
	require.Len(t, plan.Queries, 3)
	assert.ElementsMatch(t, []string{"get_alarms", "get_logs", "get_monitors"}, toolNames(plan.Queries))
}

func TestMergeOrdersDeduplicatesAndCaps(t *testing.T) {
	b := NewBuilder()
	b.MaxQueries = 4

	high := b.BuildPlan("h1", "orders-db pool exhausted", 9, "orders-db")
	low := b.BuildPlan("h2", "orders-db pool exhausted", 2, "orders-db")
	other := b.BuildPlan("h3", "checkout-api latency spike", 5, "checkout-api")

	merged := b.Merge([]Plan{low, other, high})
	require.LessOrEqual(t, len(merged), 4)

	// Duplicate (tool, args) pairs from h1 and h2 collapse to one
	seen := make(map[string]int)
	for _, q := range merged {
		seen[q.Tool+serializeArgs(q.Args)]++
	}
	for key, count := range seen {
		assert.Equal(t, 1, count, "duplicate query %s", key)
	}

	// Highest-priority plan's best query comes first
	assert.Equal(t, "db_diagnostics", merged[0].Tool)
}

func TestIsQueryTooBroad(t *testing.T) {
	assert.True(t, IsQueryTooBroad(Query{Tool: "get_logs", Args: nil}))
	assert.True(t, IsQueryTooBroad(Query{Tool: "get_logs", Args: map[string]interface{}{"filter": "ERROR"}}))
	assert.True(t, IsQueryTooBroad(Query{Tool: "get_logs", Args: map[string]interface{}{"service": "checkout-api"}}))
	assert.False(t, IsQueryTooBroad(Query{Tool: "get_logs", Args: map[string]interface{}{"service": "checkout-api", "filter": "ERROR"}}))
	assert.False(t, IsQueryTooBroad(Query{Tool: "db_diagnostics", Args: map[string]interface{}{"database": "orders-db"}}))
}

func TestSuggestQueryRefinements(t *testing.T) {
	broad := Query{Tool: "get_logs", Args: map[string]interface{}{}}

	refined := SuggestQueryRefinements(broad, RefinementContext{
		Service:   "checkout-api",
		ErrorType: "timeout",
		TimeRange: "2026-01-12T18:00:00Z",
	})

	assert.Equal(t, "checkout-api", refined.Args["service"])
	assert.Equal(t, "timeout", refined.Args["filter"])
	assert.NotEmpty(t, refined.Args["time_range"])
	assert.False(t, IsQueryTooBroad(refined))

	// The input query is not mutated
	assert.Empty(t, broad.Args)
}

func TestNormalizeTimeRangePassesThroughUnparseable(t *testing.T) {
	assert.Equal(t, "whenever", NormalizeTimeRange("whenever"))

	normalized := NormalizeTimeRange("2026-01-12 18:00")
	assert.Contains(t, normalized, "2026-01-12")
}
