// Package causal turns hypotheses into prioritized, concrete tool
// invocations. A built-in catalog maps failure vocabulary to query sets;
// statements matching nothing fall back to broad exploratory queries.
package causal

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	dps "github.com/markusmobius/go-dateparser"
)

// Query is one concrete, parameterized tool invocation.
type Query struct {
	Tool      string                 `json:"tool"`
	Args      map[string]interface{} `json:"args"`
	Rationale string                 `json:"rationale"`
	Relevance float64                `json:"relevance"`
}

// Plan is the ordered query set produced for one hypothesis.
type Plan struct {
	HypothesisID string  `json:"hypothesis_id"`
	Priority     int     `json:"priority"`
	Queries      []Query `json:"queries"`
}

// RefinementContext carries the investigation facts used to tighten broad
// queries.
type RefinementContext struct {
	Service   string
	ErrorType string
	TimeRange string
}

// pattern is one entry in the failure catalog.
type pattern struct {
	name     string
	keywords []string
	queries  func(service string) []Query
}

// catalog maps failure vocabulary to query sets. Order matters only for
// rationale text; all matching patterns contribute.
var catalog = []pattern{
	{
		name:     "latency",
		keywords: []string{"latency", "slow", "p99", "p95", "response time"},
		queries: func(service string) []Query {
			return []Query{
				{Tool: "get_metrics", Args: map[string]interface{}{"service": service, "metric": "p99_latency_ms", "statistic": "p99"}, Rationale: "quantify the latency regression", Relevance: 0.9},
				{Tool: "get_traces", Args: map[string]interface{}{"service": service}, Rationale: "locate the slow span", Relevance: 0.8},
			}
		},
	},
	{
		name:     "error_rate",
		keywords: []string{"error rate", "errors", "5xx", "failing", "failures"},
		queries: func(service string) []Query {
			return []Query{
				{Tool: "get_metrics", Args: map[string]interface{}{"service": service, "metric": "error_rate"}, Rationale: "measure the error rate", Relevance: 0.9},
				{Tool: "get_logs", Args: map[string]interface{}{"service": service, "filter": "ERROR"}, Rationale: "sample the failing requests", Relevance: 0.85},
			}
		},
	},
	{
		name:     "memory",
		keywords: []string{"memory", "oom", "heap", "leak"},
		queries: func(service string) []Query {
			return []Query{
				{Tool: "get_metrics", Args: map[string]interface{}{"service": service, "metric": "memory_utilization", "statistic": "max"}, Rationale: "check memory pressure", Relevance: 0.9},
				{Tool: "get_logs", Args: map[string]interface{}{"service": service, "filter": "OOM"}, Rationale: "find kill or OOM events", Relevance: 0.7},
			}
		},
	},
	{
		name:     "cpu",
		keywords: []string{"cpu", "throttl", "saturat"},
		queries: func(service string) []Query {
			return []Query{
				{Tool: "get_metrics", Args: map[string]interface{}{"service": service, "metric": "cpu_utilization", "statistic": "max"}, Rationale: "check CPU saturation", Relevance: 0.9},
			}
		},
	},
	{
		name:     "connectivity",
		keywords: []string{"connection", "refused", "unreachable", "network", "dns", "timeout"},
		queries: func(service string) []Query {
			return []Query{
				{Tool: "get_logs", Args: map[string]interface{}{"service": service, "filter": "connection"}, Rationale: "find connection failures", Relevance: 0.85},
				{Tool: "get_traces", Args: map[string]interface{}{"service": service}, Rationale: "see which hop fails", Relevance: 0.7},
			}
		},
	},
	{
		name:     "deployment",
		keywords: []string{"deploy", "release", "rollout", "config change", "version"},
		queries: func(service string) []Query {
			return []Query{
				{Tool: "describe_deployments", Args: map[string]interface{}{"service": service}, Rationale: "correlate with recent changes", Relevance: 0.9},
			}
		},
	},
	{
		name:     "database",
		keywords: []string{"database", "db", "query", "pool", "lock", "replication"},
		queries: func(service string) []Query {
			return []Query{
				{Tool: "db_diagnostics", Args: map[string]interface{}{"database": service}, Rationale: "inspect connections, locks and slow queries", Relevance: 0.9},
				{Tool: "get_metrics", Args: map[string]interface{}{"service": service, "metric": "database_connections"}, Rationale: "track connection usage", Relevance: 0.75},
			}
		},
	},
	{
		name:     "scaling",
		keywords: []string{"scale", "scaling", "capacity", "instances", "autoscal", "exhausted"},
		queries: func(service string) []Query {
			return []Query{
				{Tool: "list_services", Args: map[string]interface{}{}, Rationale: "check instance counts and health", Relevance: 0.7},
				{Tool: "get_metrics", Args: map[string]interface{}{"service": service, "metric": "instance_count"}, Rationale: "check scaling activity", Relevance: 0.7},
			}
		},
	},
}

// genericQueries are the exploratory fallback when no pattern matches.
func genericQueries() []Query {
	return []Query{
		{Tool: "get_alarms", Args: map[string]interface{}{"state": "ALARM"}, Rationale: "survey active alarms", Relevance: 0.5},
		{Tool: "get_logs", Args: map[string]interface{}{"filter": "ERROR"}, Rationale: "sample recent errors", Relevance: 0.5},
		{Tool: "get_monitors", Args: map[string]interface{}{"state": "triggered"}, Rationale: "check synthetic monitors", Relevance: 0.5},
	}
}

// Builder produces query plans for hypotheses.
type Builder struct {
	// MaxQueries caps the merged plan across hypotheses.
	MaxQueries int
}

// NewBuilder creates a builder with a default cap of 10 merged queries.
func NewBuilder() *Builder {
	return &Builder{MaxQueries: 10}
}

// BuildPlan scans a hypothesis statement against the failure catalog and
// returns its query plan. The service parameter pre-populates service
// filters; empty leaves them for refinement.
func (b *Builder) BuildPlan(hypothesisID, statement string, priority int, service string) Plan {
	lower := strings.ToLower(statement)

	var queries []Query
	for _, p := range catalog {
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				for _, q := range p.queries(service) {
					q.Rationale = fmt.Sprintf("%s pattern: %s", p.name, q.Rationale)
					queries = append(queries, q)
				}
				break
			}
		}
	}
	if len(queries) == 0 {
		queries = genericQueries()
	}

	return Plan{HypothesisID: hypothesisID, Priority: priority, Queries: queries}
}

// Merge combines plans across hypotheses: sorted by (plan priority
// descending, relevance descending), deduplicated by (tool, serialized
// args), capped at MaxQueries.
func (b *Builder) Merge(plans []Plan) []Query {
	type ranked struct {
		query    Query
		priority int
	}

	var all []ranked
	for _, plan := range plans {
		for _, q := range plan.Queries {
			all = append(all, ranked{query: q, priority: plan.Priority})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].priority != all[j].priority {
			return all[i].priority > all[j].priority
		}
		return all[i].query.Relevance > all[j].query.Relevance
	})

	max := b.MaxQueries
	if max <= 0 {
		max = 10
	}

	seen := make(map[string]bool)
	var out []Query
	for _, r := range all {
		key := r.query.Tool + "|" + serializeArgs(r.query.Args)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r.query)
		if len(out) >= max {
			break
		}
	}
	return out
}

// IsQueryTooBroad flags invocations that would return unbounded data:
// missing a filter pattern, missing a service scope, or missing arguments
// entirely.
func IsQueryTooBroad(q Query) bool {
	if len(q.Args) == 0 {
		return true
	}
	_, hasService := q.Args["service"]
	_, hasDatabase := q.Args["database"]
	if !hasService && !hasDatabase {
		return true
	}
	if q.Tool == "get_logs" {
		if filter, ok := q.Args["filter"].(string); !ok || filter == "" {
			return true
		}
	}
	return false
}

// SuggestQueryRefinements fills missing parameters from the investigation
// context. Free-text time ranges are normalized through the date parser so
// "30 minutes ago" and "2h" both become concrete bounds.
func SuggestQueryRefinements(q Query, ctx RefinementContext) Query {
	refined := Query{
		Tool:      q.Tool,
		Args:      make(map[string]interface{}, len(q.Args)+2),
		Rationale: q.Rationale,
		Relevance: q.Relevance,
	}
	for k, v := range q.Args {
		refined.Args[k] = v
	}

	if _, ok := refined.Args["service"]; !ok && ctx.Service != "" && q.Tool != "db_diagnostics" {
		refined.Args["service"] = ctx.Service
	}
	if q.Tool == "get_logs" {
		if filter, ok := refined.Args["filter"].(string); (!ok || filter == "") && ctx.ErrorType != "" {
			refined.Args["filter"] = ctx.ErrorType
		}
	}
	if _, ok := refined.Args["time_range"]; !ok && ctx.TimeRange != "" {
		refined.Args["time_range"] = NormalizeTimeRange(ctx.TimeRange)
	}
	return refined
}

// NormalizeTimeRange parses a free-text time expression into an RFC 3339
// instant. Unparseable input is returned unchanged so the tool can apply
// its own default.
func NormalizeTimeRange(expr string) string {
	parser := dps.Parser{}
	cfg := &dps.Configuration{
		PreferredDateSource: dps.CurrentPeriod,
	}
	parsed, err := parser.Parse(cfg, expr)
	if err != nil || parsed.IsZero() {
		return expr
	}
	return parsed.Time.UTC().Format("2006-01-02T15:04:05Z")
}

func serializeArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}
