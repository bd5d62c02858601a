package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// MockTool is a tool that returns canned responses for testing and demos.
type MockTool struct {
	name        string
	description string
	schema      map[string]interface{}
	response    *Result
	delay       time.Duration
}

func (t *MockTool) Name() string                        { return t.name }
func (t *MockTool) Description() string                 { return t.description }
func (t *MockTool) InputSchema() map[string]interface{} { return t.schema }

func (t *MockTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	if t.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.delay):
		}
	}

	if t.response == nil {
		return &Result{
			Success: true,
			Summary: fmt.Sprintf("Mock response for %s", t.name),
			Data:    map[string]interface{}{"mock": true},
		}, nil
	}

	return &Result{
		Success:         t.response.Success,
		Data:            t.response.Data,
		Error:           t.response.Error,
		Summary:         t.response.Summary,
		ExecutionTimeMs: t.delay.Milliseconds(),
	}, nil
}

// timeRangeSchema is shared by most observability tools.
func timeRangeSchema(extra map[string]interface{}) map[string]interface{} {
	properties := map[string]interface{}{
		"time_range": map[string]interface{}{
			"type":        "string",
			"description": "Time range to query, e.g. '30m', '2h' or a free-text expression like '30 minutes ago'",
		},
	}
	for k, v := range extra {
		properties[k] = v
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
}

// NewMockRegistry creates a tool registry with mock observability tools that
// return canned responses. This is used for tests and the --model mock mode
// without requiring real provider credentials.
func NewMockRegistry() *Registry {
	r := NewRegistry(slog.Default())

	r.register(&MockTool{
		name:        "get_metrics",
		description: "Query time-series metrics for a service (latency, error rate, CPU, memory, connections).",
		schema: timeRangeSchema(map[string]interface{}{
			"service":   map[string]interface{}{"type": "string", "description": "Service name to query"},
			"metric":    map[string]interface{}{"type": "string", "description": "Metric name, e.g. 'p99_latency_ms', 'error_rate'"},
			"statistic": map[string]interface{}{"type": "string", "description": "Aggregation: avg, max, p50, p99 (default: avg)"},
		}),
		response: &Result{
			Success: true,
			Summary: "p99 latency for checkout-api increased from 120ms to 2400ms",
			Data: map[string]interface{}{
				"service": "checkout-api",
				"metric":  "p99_latency_ms",
				"datapoints": []map[string]interface{}{
					{"timestamp": "2026-01-12T18:00:00Z", "value": 121.0},
					{"timestamp": "2026-01-12T18:15:00Z", "value": 540.0},
					{"timestamp": "2026-01-12T18:30:00Z", "value": 2400.0},
				},
				"status": "critical",
			},
		},
		delay: 50 * time.Millisecond,
	})

	r.register(&MockTool{
		name:        "get_logs",
		description: "Search structured logs for a service with an optional filter pattern.",
		schema: timeRangeSchema(map[string]interface{}{
			"service": map[string]interface{}{"type": "string", "description": "Service name to search logs for"},
			"filter":  map[string]interface{}{"type": "string", "description": "Filter pattern, e.g. 'ERROR', 'timeout'"},
			"limit":   map[string]interface{}{"type": "integer", "description": "Max log lines to return (default: 100)"},
		}),
		response: &Result{
			Success: true,
			Summary: "Found 42 ERROR lines for checkout-api, dominated by connection pool exhaustion",
			Data: map[string]interface{}{
				"service":     "checkout-api",
				"total_lines": 42,
				"has_errors":  true,
				"samples": []map[string]interface{}{
					{"timestamp": "2026-01-12T18:29:12Z", "level": "ERROR", "message": "pgx pool exhausted: all 20 connections in use, timeout after 5s"},
					{"timestamp": "2026-01-12T18:29:44Z", "level": "ERROR", "message": "upstream orders-db: connection refused"},
				},
			},
		},
		delay: 50 * time.Millisecond,
	})

	r.register(&MockTool{
		name:        "get_alarms",
		description: "List monitoring alarms, optionally filtered by state (ALARM, OK, INSUFFICIENT_DATA).",
		schema: timeRangeSchema(map[string]interface{}{
			"state":   map[string]interface{}{"type": "string", "description": "Alarm state filter (default: ALARM)"},
			"service": map[string]interface{}{"type": "string", "description": "Service name to filter alarms"},
		}),
		response: &Result{
			Success: true,
			Summary: "2 alarms in ALARM state",
			Data: map[string]interface{}{
				"alarms": []map[string]interface{}{
					{"name": "checkout-api-p99-latency", "state": "ALARM", "service": "checkout-api", "since": "2026-01-12T18:21:00Z"},
					{"name": "orders-db-connections", "state": "ALARM", "service": "orders-db", "since": "2026-01-12T18:17:00Z"},
				},
			},
		},
		delay: 50 * time.Millisecond,
	})

	r.register(&MockTool{
		name:        "get_traces",
		description: "Fetch distributed trace summaries for a service operation, including slowest spans.",
		schema: timeRangeSchema(map[string]interface{}{
			"service":   map[string]interface{}{"type": "string", "description": "Service name"},
			"operation": map[string]interface{}{"type": "string", "description": "Operation or endpoint to filter"},
		}),
		response: &Result{
			Success: true,
			Summary: "Slowest spans spend 95% of time waiting on orders-db",
			Data: map[string]interface{}{
				"service": "checkout-api",
				"spans": []map[string]interface{}{
					{"name": "POST /checkout", "duration_ms": 2350, "child": "orders-db.query", "child_duration_ms": 2230},
				},
			},
		},
		delay: 50 * time.Millisecond,
	})

	r.register(&MockTool{
		name:        "describe_deployments",
		description: "List recent deployments and configuration changes for a service.",
		schema: timeRangeSchema(map[string]interface{}{
			"service": map[string]interface{}{"type": "string", "description": "Service name"},
		}),
		response: &Result{
			Success: true,
			Summary: "1 deployment in window: orders-db connection pool resized 50→20",
			Data: map[string]interface{}{
				"deployments": []map[string]interface{}{
					{"service": "checkout-api", "version": "v2.14.0", "at": "2026-01-12T18:12:00Z", "change": "db_pool_size: 50 -> 20"},
				},
			},
		},
		delay: 50 * time.Millisecond,
	})

	r.register(&MockTool{
		name:        "get_monitors",
		description: "List triggered synthetic monitors and health checks.",
		schema: timeRangeSchema(map[string]interface{}{
			"state": map[string]interface{}{"type": "string", "description": "Monitor state filter (default: triggered)"},
		}),
		response: &Result{
			Success: true,
			Summary: "1 triggered monitor: checkout flow synthetic failing since 18:22Z",
			Data: map[string]interface{}{
				"monitors": []map[string]interface{}{
					{"name": "checkout-flow-synthetic", "state": "triggered", "since": "2026-01-12T18:22:00Z"},
				},
			},
		},
		delay: 50 * time.Millisecond,
	})

	r.register(&MockTool{
		name:        "list_services",
		description: "Inventory the services deployed in a region with instance counts and status.",
		schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"region": map[string]interface{}{"type": "string", "description": "Region to inventory (default: configured region)"},
			},
		},
		response: &Result{
			Success: true,
			Summary: "4 services in us-east-1, 1 unhealthy",
			Data: map[string]interface{}{
				"region": "us-east-1",
				"services": []map[string]interface{}{
					{"name": "checkout-api", "instances": 6, "status": "running", "health": "unhealthy"},
					{"name": "orders-db", "instances": 1, "status": "running", "health": "degraded"},
					{"name": "catalog-api", "instances": 4, "status": "running", "health": "healthy"},
					{"name": "session-cache", "instances": 3, "status": "running", "health": "healthy"},
				},
			},
		},
		delay: 50 * time.Millisecond,
	})

	r.register(&MockTool{
		name:        "db_diagnostics",
		description: "Run diagnostics against a database: connection counts, slow queries, lock waits, replication lag.",
		schema: timeRangeSchema(map[string]interface{}{
			"database": map[string]interface{}{"type": "string", "description": "Database identifier"},
		}),
		response: &Result{
			Success: true,
			Summary: "orders-db at max_connections, 14 queries waiting on locks",
			Data: map[string]interface{}{
				"database":        "orders-db",
				"connections":     200,
				"max_connections": 200,
				"lock_waits":      14,
				"slow_queries": []map[string]interface{}{
					{"query": "UPDATE orders SET ...", "duration_ms": 8200},
				},
				"status": "critical",
			},
		},
		delay: 50 * time.Millisecond,
	})

	return r
}
