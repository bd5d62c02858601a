package investigation

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sleuth-dev/sleuth/internal/agent/compaction"
	"github.com/sleuth-dev/sleuth/internal/agent/hypothesis"
	"github.com/sleuth-dev/sleuth/internal/agent/memory"
	"github.com/sleuth-dev/sleuth/internal/agent/provider"
	"github.com/sleuth-dev/sleuth/internal/agent/scratchpad"
	"github.com/sleuth-dev/sleuth/internal/agent/tools"
	"github.com/sleuth-dev/sleuth/internal/skills"
)

func toolUse(id, name, input string) provider.ToolUseBlock {
	return provider.ToolUseBlock{ID: id, Name: name, Input: json.RawMessage(input)}
}

func newTestDeps(t *testing.T, query string, p provider.Provider, registry *tools.Registry) Dependencies {
	t.Helper()

	pad, err := scratchpad.New(scratchpad.Config{
		LogPath:        filepath.Join(t.TempDir(), "session.jsonl"),
		DefaultToolCap: 8,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pad.Close() })

	mem, err := memory.New(memory.Config{Dir: t.TempDir()}, "sess-1", query)
	require.NoError(t, err)

	return Dependencies{
		Provider:   p,
		Tools:      registry,
		Scratchpad: pad,
		Memory:     mem,
		Hypotheses: hypothesis.NewEngine(hypothesis.DefaultConfig()),
	}
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(30 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event stream did not terminate; got %d events", len(events))
		}
	}
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestRunConfirmsSpecificRootCause(t *testing.T) {
	query := "orders-db connection pool exhaustion causing checkout-api latency"
	p := provider.NewMockProvider(
		&provider.Response{
			Thinking:   "The latency pattern points at orders-db; the error rate confirms user impact.",
			ToolCalls:  []provider.ToolUseBlock{toolUse("t1", "get_metrics", `{"service":"checkout-api","metric":"p99_latency_ms"}`)},
			StopReason: provider.StopReasonToolUse,
			Usage:      provider.Usage{InputTokens: 900, OutputTokens: 120},
		},
		&provider.Response{
			ToolCalls:  []provider.ToolUseBlock{toolUse("t2", "get_logs", `{"service":"checkout-api","filter":"ERROR"}`)},
			StopReason: provider.StopReasonToolUse,
			Usage:      provider.Usage{InputTokens: 1400, OutputTokens: 80},
		},
	)

	m, err := New(Config{SessionID: "sess-1", Query: query}, newTestDeps(t, query, p, tools.NewMockRegistry()))
	require.NoError(t, err)

	events := collect(t, m.Run(context.Background()))
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	require.NotNil(t, last.Answer)
	assert.Equal(t, query, last.Answer.RootCause)
	assert.GreaterOrEqual(t, last.Answer.Confidence, 0.85)
	assert.NotEmpty(t, last.Answer.Evidence)
	assert.Equal(t, "sess-1", last.InvestigationID)

	assert.NotEmpty(t, eventsOfType(events, EventThinking))
	starts := eventsOfType(events, EventToolStart)
	ends := eventsOfType(events, EventToolEnd)
	assert.Len(t, ends, len(starts))
	assert.NotEmpty(t, eventsOfType(events, EventAnswerStart))

	// LLM usage totals carried on the answer
	assert.Equal(t, 2, last.Answer.LLMRequests)
	assert.Equal(t, 2300, last.Answer.InputTokens)
	assert.Equal(t, 200, last.Answer.OutputTokens)
}

func TestRunTerminatesWhenModelStopsCallingTools(t *testing.T) {
	query := "is anything wrong with the platform"
	p := provider.NewMockProvider(
		&provider.Response{
			Content:    "Everything looks healthy; no further queries needed.",
			StopReason: provider.StopReasonEndTurn,
		},
	)

	m, err := New(Config{SessionID: "sess-1", Query: query}, newTestDeps(t, query, p, tools.NewMockRegistry()))
	require.NoError(t, err)

	events := collect(t, m.Run(context.Background()))
	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	require.NotNil(t, last.Answer)
	assert.Empty(t, last.Answer.RootCause)
	assert.Contains(t, last.Answer.Summary, "Everything looks healthy")
}

func TestRunIterationBudgetReportsFrontier(t *testing.T) {
	query := "something is slow and users are complaining"
	responses := make([]*provider.Response, 0, 4)
	for i := 0; i < 4; i++ {
		responses = append(responses, &provider.Response{
			ToolCalls:  []provider.ToolUseBlock{toolUse("t", "get_alarms", `{"state":"ALARM"}`)},
			StopReason: provider.StopReasonToolUse,
		})
	}

	m, err := New(
		Config{SessionID: "sess-1", Query: query, MaxIterations: 2, MaxTriageIterations: 1},
		newTestDeps(t, query, provider.NewMockProvider(responses...), tools.NewMockRegistry()),
	)
	require.NoError(t, err)

	events := collect(t, m.Run(context.Background()))
	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	require.NotNil(t, last.Answer)

	// Vague statement with strong evidence branches instead of confirming,
	// so the budget runs out with an open frontier.
	assert.Empty(t, last.Answer.RootCause)
	assert.NotEmpty(t, last.Answer.Frontier)
	assert.NotEmpty(t, last.Answer.OpenQuestions)
}

func TestRunCancelledEmitsCancelledEvent(t *testing.T) {
	query := "checkout-api errors"
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, err := New(Config{SessionID: "sess-1", Query: query}, newTestDeps(t, query, provider.NewMockProvider(), tools.NewMockRegistry()))
	require.NoError(t, err)

	events := collect(t, m.Run(ctx))
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventCancelled, last.Type)
	assert.NotEmpty(t, last.Err)
}

func TestRunEmitsToolLimitWarnings(t *testing.T) {
	query := "checkout-api degraded"
	p := provider.NewMockProvider(
		&provider.Response{
			ToolCalls: []provider.ToolUseBlock{
				toolUse("t1", "get_metrics", `{"service":"checkout-api"}`),
				toolUse("t2", "get_metrics", `{"service":"checkout-api"}`),
			},
			StopReason: provider.StopReasonToolUse,
		},
	)

	deps := newTestDeps(t, query, p, tools.NewMockRegistry())
	pad, err := scratchpad.New(scratchpad.Config{DefaultToolCap: 1})
	require.NoError(t, err)
	deps.Scratchpad = pad

	m, err := New(Config{SessionID: "sess-1", Query: query}, deps)
	require.NoError(t, err)

	events := collect(t, m.Run(context.Background()))
	limits := eventsOfType(events, EventToolLimit)
	require.NotEmpty(t, limits)

	found := false
	for _, ev := range limits {
		if ev.Tool == "get_metrics" && ev.Warning != "" {
			found = true
		}
	}
	assert.True(t, found, "expected a soft cap warning for get_metrics")
}

func TestPermanentToolErrorDisablesTool(t *testing.T) {
	query := "auth issues"
	executions := 0
	registry := tools.NewRegistry(nil)
	registry.Register(&tools.FuncTool{
		ToolName:        "get_audit_log",
		ToolDescription: "fetch audit log",
		Fn: func(_ context.Context, _ json.RawMessage) (*tools.Result, error) {
			executions++
			return &tools.Result{Success: false, Error: "401 unauthorized"}, nil
		},
	})

	p := provider.NewMockProvider(
		&provider.Response{
			ToolCalls:  []provider.ToolUseBlock{toolUse("t1", "get_audit_log", `{}`)},
			StopReason: provider.StopReasonToolUse,
		},
		&provider.Response{
			ToolCalls:  []provider.ToolUseBlock{toolUse("t2", "get_audit_log", `{}`)},
			StopReason: provider.StopReasonToolUse,
		},
	)

	m, err := New(
		Config{SessionID: "sess-1", Query: query, MaxTriageIterations: 5},
		newTestDeps(t, query, p, registry),
	)
	require.NoError(t, err)

	events := collect(t, m.Run(context.Background()))

	assert.Equal(t, 1, executions, "second call must be skipped once the tool is at-limit")
	assert.NotEmpty(t, eventsOfType(events, EventToolError))

	disabled := false
	for _, ev := range eventsOfType(events, EventToolLimit) {
		if ev.Tool == "get_audit_log" {
			disabled = true
		}
	}
	assert.True(t, disabled)
}

func TestCompactionEmitsContextCleared(t *testing.T) {
	query := "orders-db connection pool exhaustion causing checkout-api latency"
	p := provider.NewMockProvider(
		&provider.Response{
			ToolCalls:  []provider.ToolUseBlock{toolUse("t1", "get_metrics", `{"service":"checkout-api"}`)},
			StopReason: provider.StopReasonToolUse,
		},
		&provider.Response{
			ToolCalls:  []provider.ToolUseBlock{toolUse("t2", "get_logs", `{"service":"checkout-api","filter":"ERROR"}`)},
			StopReason: provider.StopReasonToolUse,
		},
	)

	deps := newTestDeps(t, query, p, tools.NewMockRegistry())
	compactCfg := compaction.DefaultConfig()
	compactCfg.MaxFullResults = 0
	compactCfg.MaxCompactResults = 1
	deps.Compactor = compaction.New(compactCfg)

	m, err := New(Config{SessionID: "sess-1", Query: query, TokenThreshold: 1}, deps)
	require.NoError(t, err)

	events := collect(t, m.Run(context.Background()))
	assert.NotEmpty(t, eventsOfType(events, EventContextCleared))
}

func TestConfirmedRootCauseRunsMatchingSkill(t *testing.T) {
	query := "orders-db connection pool exhaustion causing checkout-api latency"
	p := provider.NewMockProvider(
		&provider.Response{
			ToolCalls:  []provider.ToolUseBlock{toolUse("t1", "get_metrics", `{"service":"checkout-api"}`)},
			StopReason: provider.StopReasonToolUse,
		},
		&provider.Response{
			ToolCalls:  []provider.ToolUseBlock{toolUse("t2", "get_logs", `{"service":"checkout-api","filter":"ERROR"}`)},
			StopReason: provider.StopReasonToolUse,
		},
	)

	registry := tools.NewMockRegistry()
	deps := newTestDeps(t, query, p, registry)

	skillDir := t.TempDir()
	skillDoc := `name: check-pool
description: Inspect the database pool after exhaustion.
triggers:
  - connection pool
steps:
  - name: inspect pool
    tool: db_diagnostics
    args:
      database: orders-db
`
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "check-pool.yaml"), []byte(skillDoc), 0600))
	skillReg, err := skills.Load(skillDir, nil)
	require.NoError(t, err)
	deps.Skills = skillReg
	deps.SkillRunner = skills.NewRunner(registry, nil, nil)

	m, err := New(Config{SessionID: "sess-1", Query: query}, deps)
	require.NoError(t, err)

	events := collect(t, m.Run(context.Background()))
	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	require.NotNil(t, last.Answer)
	require.NotNil(t, last.Answer.Remediation)
	assert.Equal(t, "check-pool", last.Answer.Remediation.Skill)
	require.Len(t, last.Answer.Remediation.Steps, 1)
	assert.True(t, last.Answer.Remediation.Steps[0].Success)
}
