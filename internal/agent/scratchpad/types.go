// Package scratchpad implements the durable, append-only record of an
// investigation's actions paired with an in-memory tiered index of tool
// results. Every entry is written to a JSONL log for crash safety and
// reproducibility; tool results additionally live in memory in one of three
// tiers (full, compact, cleared) controlled by the context compactor.
package scratchpad

import "time"

// EntryType identifies the kind of a scratchpad log entry.
type EntryType string

const (
	// EntryTypeInit marks the start of an investigation session.
	EntryTypeInit EntryType = "init"
	// EntryTypeThinking records a model reasoning trace.
	EntryTypeThinking EntryType = "thinking"
	// EntryTypeToolResult records a completed tool execution.
	EntryTypeToolResult EntryType = "tool_result"
	// EntryTypePhaseTransition records a state machine phase change.
	EntryTypePhaseTransition EntryType = "phase_transition"
)

// Entry is a single scratchpad log record. Unknown types and fields must be
// ignored by readers for backwards compatibility.
type Entry struct {
	Type      EntryType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Init fields
	Query     string `json:"query,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// Thinking fields
	Content string `json:"content,omitempty"`

	// Tool result fields
	ResultID   string                 `json:"result_id,omitempty"`
	ToolName   string                 `json:"tool_name,omitempty"`
	Args       map[string]interface{} `json:"args,omitempty"`
	Result     interface{}            `json:"result,omitempty"`
	DurationMs int64                  `json:"duration_ms,omitempty"`

	// Phase transition fields
	FromPhase string `json:"from_phase,omitempty"`
	ToPhase   string `json:"to_phase,omitempty"`
}

// Tier is the context-residency state of a tool result.
type Tier string

const (
	// TierFull includes the result verbatim in the rendered context.
	TierFull Tier = "full"
	// TierCompact includes a one-line summary keyed by result id.
	TierCompact Tier = "compact"
	// TierCleared removes the result from context; it stays retrievable by id.
	TierCleared Tier = "cleared"
)

// ToolResult is the immutable record of a completed tool execution.
// Results are never mutated after append; clearing archives, it does not delete.
type ToolResult struct {
	ResultID   string                 `json:"result_id"`
	ToolName   string                 `json:"tool_name"`
	Args       map[string]interface{} `json:"args"`
	Result     interface{}            `json:"result"`
	DurationMs int64                  `json:"duration_ms"`
	Timestamp  time.Time              `json:"timestamp"`
}

// HealthStatus is the coarse health indicator extracted from a tool result.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
	HealthUnknown  HealthStatus = "unknown"
)

// CompactSummary is the fixed-shape one-line summary of a tool result,
// produced once per result and used for compact-tier rendering and for
// compaction scoring.
type CompactSummary struct {
	ResultID     string       `json:"result_id"`
	ShortText    string       `json:"short_text"`
	Services     []string     `json:"services,omitempty"`
	HealthStatus HealthStatus `json:"health_status"`
	HasErrors    bool         `json:"has_errors"`
}

// CompactionPlan assigns a tier to each referenced result id. The compactor
// produces it; the scratchpad applies it.
type CompactionPlan struct {
	KeepFull []string `json:"keep_full"`
	Compact  []string `json:"compact"`
	Clear    []string `json:"clear"`
}

// CallCheck is the outcome of a soft rate-limit check. Allowed is always
// true; the scratchpad warns, it never blocks.
type CallCheck struct {
	Allowed bool
	Warning string
}
