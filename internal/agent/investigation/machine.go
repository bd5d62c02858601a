// Package investigation drives the phased investigation loop, wiring the
// scratchpad, compactor, memory, hypothesis engine, causal query builder,
// and the context managers behind a single event-streaming state machine.
package investigation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sleuth-dev/sleuth/internal/agent/causal"
	"github.com/sleuth-dev/sleuth/internal/agent/compaction"
	"github.com/sleuth-dev/sleuth/internal/agent/hypothesis"
	"github.com/sleuth-dev/sleuth/internal/agent/infractx"
	"github.com/sleuth-dev/sleuth/internal/agent/knowledgectx"
	"github.com/sleuth-dev/sleuth/internal/agent/memory"
	"github.com/sleuth-dev/sleuth/internal/agent/provider"
	"github.com/sleuth-dev/sleuth/internal/agent/scratchpad"
	"github.com/sleuth-dev/sleuth/internal/agent/servicectx"
	"github.com/sleuth-dev/sleuth/internal/agent/tools"
	"github.com/sleuth-dev/sleuth/internal/logpattern"
	"github.com/sleuth-dev/sleuth/internal/skills"
)

// Phase is one state of the investigation loop.
type Phase string

const (
	PhaseTriage      Phase = "TRIAGE"
	PhaseHypothesize Phase = "HYPOTHESIZE"
	PhaseInvestigate Phase = "INVESTIGATE"
	PhaseEvaluate    Phase = "EVALUATE"
	PhaseConclude    Phase = "CONCLUDE"
	PhaseRemediate   Phase = "REMEDIATE"
)

var (
	llmRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sleuth_llm_requests_total",
		Help: "LLM chat requests issued by the investigation loop.",
	})
	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sleuth_llm_tokens_total",
		Help: "LLM tokens by direction.",
	}, []string{"direction"})
	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sleuth_tool_calls_total",
		Help: "Tool executions by tool name and outcome.",
	}, []string{"tool", "outcome"})
)

// Config controls the investigation loop.
type Config struct {
	// SessionID identifies the investigation; it names the scratchpad log
	// and the memory file.
	SessionID string

	// Query is the operator's investigation query.
	Query string

	// IncidentID links the investigation to an incident record.
	IncidentID string

	// MaxIterations bounds LLM-bearing iterations.
	MaxIterations int

	// MaxTriageIterations bounds the TRIAGE phase.
	MaxTriageIterations int

	// MaxQueriesPerBatch bounds machine-driven causal queries per
	// INVESTIGATE pass.
	MaxQueriesPerBatch int

	// TokenThreshold triggers context compaction when the scratchpad's
	// estimate exceeds it.
	TokenThreshold int

	// ToolTimeout applies per tool call, not per iteration.
	ToolTimeout time.Duration

	// EventBuffer is the event channel capacity.
	EventBuffer int
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       15,
		MaxTriageIterations: 2,
		MaxQueriesPerBatch:  3,
		TokenThreshold:      40000,
		ToolTimeout:         60 * time.Second,
		EventBuffer:         100,
	}
}

// Dependencies are the components the machine wires together. Provider,
// Tools, Scratchpad, Memory, and Hypotheses are required; the rest are
// optional and skipped when nil.
type Dependencies struct {
	Provider   provider.Provider
	Tools      *tools.Registry
	Scratchpad *scratchpad.Scratchpad
	Memory     *memory.Memory
	Hypotheses *hypothesis.Engine

	Compactor *compaction.Compactor
	Queries   *causal.Builder
	Knowledge *knowledgectx.Manager
	Infra     *infractx.Manager
	Services  *servicectx.Manager

	Skills      *skills.Registry
	SkillRunner *skills.Runner

	Logger *slog.Logger
}

// Machine is the investigation state machine. One machine drives one
// investigation; Run may be called once.
type Machine struct {
	config Config
	deps   Dependencies
	logger *slog.Logger
	tracer trace.Tracer

	phase  Phase
	events chan Event

	infraSnapshot     *infractx.Snapshot
	prevFacets        knowledgectx.InvestigationFacets
	currentHypothesis string
	atLimit           map[string]bool
	patterns          *logpattern.Miner

	llmRequests  int
	inputTokens  int
	outputTokens int
}

// New creates a state machine. Missing optional dependencies are defaulted
// where a pure default exists (compactor, query builder).
func New(cfg Config, deps Dependencies) (*Machine, error) {
	if deps.Provider == nil || deps.Tools == nil || deps.Scratchpad == nil || deps.Memory == nil || deps.Hypotheses == nil {
		return nil, fmt.Errorf("investigation: provider, tools, scratchpad, memory, and hypotheses are required")
	}
	def := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxTriageIterations <= 0 {
		cfg.MaxTriageIterations = def.MaxTriageIterations
	}
	if cfg.MaxQueriesPerBatch <= 0 {
		cfg.MaxQueriesPerBatch = def.MaxQueriesPerBatch
	}
	if cfg.TokenThreshold <= 0 {
		cfg.TokenThreshold = def.TokenThreshold
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = def.ToolTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if deps.Compactor == nil {
		deps.Compactor = compaction.New(compaction.DefaultConfig())
	}
	if deps.Queries == nil {
		deps.Queries = causal.NewBuilder()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Machine{
		config:  cfg,
		deps:    deps,
		logger:  deps.Logger.With("session", cfg.SessionID),
		tracer:  otel.Tracer("sleuth.investigation"),
		phase:    PhaseTriage,
		events:   make(chan Event, cfg.EventBuffer),
		atLimit:  make(map[string]bool),
		patterns: logpattern.NewMiner(logpattern.DefaultConfig(), 2),
	}, nil
}

// Run starts the investigation and returns the event stream. The channel is
// closed after the terminal event (done or cancelled).
func (m *Machine) Run(ctx context.Context) <-chan Event {
	go m.run(ctx)
	return m.events
}

func (m *Machine) run(ctx context.Context) {
	defer close(m.events)

	m.logger.Info("investigation started", "query", m.config.Query, "phase", m.phase)

	finalText := ""
	iterations := 0

	for m.phase != PhaseConclude {
		if ctx.Err() != nil {
			m.cancelled(ctx)
			return
		}

		switch m.phase {
		case PhaseHypothesize:
			m.hypothesize()
			continue
		case PhaseEvaluate:
			m.evaluate(iterations)
			continue
		}

		// LLM-bearing phases: TRIAGE and INVESTIGATE.
		if iterations >= m.config.MaxIterations {
			m.logger.Warn("iteration budget exhausted", "iterations", iterations)
			m.setPhase(PhaseConclude)
			break
		}
		iterations++
		iteration := m.deps.Memory.AdvanceIteration()

		text, done, err := m.iterate(ctx, iteration)
		if err != nil {
			if ctx.Err() != nil {
				m.cancelled(ctx)
				return
			}
			// Transient LLM failure: log and try the next iteration.
			m.logger.Error("iteration failed", "iteration", iteration, "error", err)
			m.emit(ctx, Event{Type: EventToolError, Iteration: iteration, Tool: "llm", Err: err.Error()})
			continue
		}
		if done {
			finalText = text
			m.setPhase(PhaseConclude)
			break
		}

		switch m.phase {
		case PhaseTriage:
			if iteration >= m.config.MaxTriageIterations || m.hasInitialContext() {
				m.setPhase(PhaseHypothesize)
			}
		case PhaseInvestigate:
			m.setPhase(PhaseEvaluate)
		}
	}

	m.conclude(ctx, finalText)
}

// iterate runs one LLM-bearing iteration: compaction check, phase-specific
// machine work, prompt assembly, the LLM call, and the requested tool calls.
// done is true when the model stopped calling tools.
func (m *Machine) iterate(ctx context.Context, iteration int) (text string, done bool, err error) {
	ctx, span := m.tracer.Start(ctx, "investigation.iteration",
		trace.WithAttributes(
			attribute.Int("iteration", iteration),
			attribute.String("phase", string(m.phase)),
		))
	defer span.End()

	m.maybeCompact(ctx, iteration)

	var planned []causal.Query
	switch m.phase {
	case PhaseTriage:
		m.triage(ctx, iteration)
	case PhaseInvestigate:
		planned = m.investigate(ctx, iteration)
	}

	resp, err := m.chat(ctx, planned)
	if err != nil {
		return "", false, err
	}

	if resp.Thinking != "" {
		m.emit(ctx, Event{Type: EventThinking, Iteration: iteration, Content: resp.Thinking})
		_ = m.deps.Scratchpad.Append(scratchpad.Entry{
			Type:      scratchpad.EntryTypeThinking,
			Timestamp: time.Now().UTC(),
			Content:   resp.Thinking,
		})
		if n, exErr := m.deps.Memory.ExtractFromThinking(resp.Thinking, ""); exErr == nil && n > 0 {
			m.logger.Debug("extracted findings from thinking", "count", n)
		}
	}

	for _, call := range resp.ToolCalls {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		m.executeToolCall(ctx, iteration, call.Name, call.Input)
	}

	m.refreshKnowledge(ctx, iteration)

	if len(resp.ToolCalls) == 0 {
		return resp.Content, true, nil
	}
	return resp.Content, false, nil
}

func (m *Machine) chat(ctx context.Context, planned []causal.Query) (*provider.Response, error) {
	messages := []provider.Message{{
		Role:    provider.RoleUser,
		Content: m.buildUserPrompt(planned),
	}}

	resp, err := m.deps.Provider.Chat(ctx, m.buildSystemPrompt(), messages, m.deps.Tools.ToProviderTools())
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}

	m.llmRequests++
	m.inputTokens += resp.Usage.InputTokens
	m.outputTokens += resp.Usage.OutputTokens
	llmRequestsTotal.Inc()
	llmTokensTotal.WithLabelValues("input").Add(float64(resp.Usage.InputTokens))
	llmTokensTotal.WithLabelValues("output").Add(float64(resp.Usage.OutputTokens))
	return resp, nil
}

// triage gathers the initial picture once: infra discovery and the initial
// knowledge query.
func (m *Machine) triage(ctx context.Context, iteration int) {
	if iteration > 1 {
		return
	}
	if m.deps.Infra != nil {
		snap, err := m.deps.Infra.Discover(ctx, false)
		if err != nil {
			m.logger.Warn("infra discovery failed", "error", err)
		} else {
			m.infraSnapshot = snap
		}
	}
	if m.deps.Knowledge != nil {
		ranked := m.deps.Knowledge.QueryForInvestigation(m.config.Query, nil)
		if len(ranked) > 0 {
			m.emit(ctx, Event{
				Type:      EventKnowledgeRetrieved,
				Iteration: iteration,
				Content:   fmt.Sprintf("%d knowledge chunks retrieved for the investigation query", len(ranked)),
			})
		}
	}
}

// hypothesize seeds the tree when empty and transitions once the frontier is
// non-empty.
func (m *Machine) hypothesize() {
	if len(m.deps.Hypotheses.All()) == 0 {
		root, err := m.deps.Hypotheses.Propose(m.config.Query, hypothesis.CategoryUnknown, 5, "")
		if err != nil {
			m.logger.Error("failed to seed hypothesis tree", "error", err)
			m.setPhase(PhaseConclude)
			return
		}
		_ = m.deps.Memory.AddHypothesisUpdate(root.ID, root.Statement, memory.ActionFormed, "initial hypothesis from the investigation query")
	}

	if len(m.deps.Hypotheses.Frontier()) == 0 {
		m.setPhase(PhaseConclude)
		return
	}
	m.setPhase(PhaseInvestigate)
}

// investigate executes a bounded batch of causal queries for the top
// frontier hypothesis and returns the full plan for prompt context.
func (m *Machine) investigate(ctx context.Context, iteration int) []causal.Query {
	frontier := m.deps.Hypotheses.Frontier()
	if len(frontier) == 0 {
		return nil
	}
	top := frontier[0]
	m.currentHypothesis = top.ID

	service := m.primaryService()
	plan := m.deps.Queries.BuildPlan(top.ID, top.Statement, top.Priority, service)
	queries := m.deps.Queries.Merge([]causal.Plan{plan})
	if len(queries) > m.config.MaxQueriesPerBatch {
		queries = queries[:m.config.MaxQueriesPerBatch]
	}

	refinement := causal.RefinementContext{Service: service, TimeRange: "30 minutes ago"}
	for _, q := range queries {
		if ctx.Err() != nil {
			return queries
		}
		if causal.IsQueryTooBroad(q) {
			q = causal.SuggestQueryRefinements(q, refinement)
		}
		input, err := json.Marshal(q.Args)
		if err != nil {
			continue
		}
		m.executeToolCall(ctx, iteration, q.Tool, input)
	}
	return queries
}

// evaluate applies the branch-vs-confirm policy to the current hypothesis
// and picks the next phase.
func (m *Machine) evaluate(iterations int) {
	id := m.currentHypothesis
	if id == "" {
		m.setPhase(PhaseConclude)
		return
	}

	action, err := m.deps.Hypotheses.Decide(id)
	if err != nil {
		// Unknown or inactive hypothesis: skip the step and move on.
		m.logger.Warn("hypothesis evaluation skipped", "hypothesis", id, "error", err)
		m.nextAfterEvaluate(iterations)
		return
	}

	node, _ := m.deps.Hypotheses.Get(id)
	switch action {
	case hypothesis.ActionConfirm:
		if err := m.deps.Hypotheses.Confirm(id, nil); err == nil {
			_ = m.deps.Memory.AddHypothesisUpdate(id, node.Statement, memory.ActionConfirmed, "strong supporting evidence")
			m.logger.Info("hypothesis confirmed", "hypothesis", id, "statement", node.Statement)
		}
	case hypothesis.ActionPrune:
		if err := m.deps.Hypotheses.Prune(id, "no supporting evidence"); err == nil {
			_ = m.deps.Memory.AddHypothesisUpdate(id, node.Statement, memory.ActionPruned, "no supporting evidence")
		}
	case hypothesis.ActionBranch:
		m.branch(node)
	case hypothesis.ActionKeep:
		// Needs more evidence; the next INVESTIGATE pass continues here.
	}

	m.nextAfterEvaluate(iterations)
}

func (m *Machine) nextAfterEvaluate(iterations int) {
	if m.deps.Hypotheses.IsComplete() || iterations >= m.config.MaxIterations {
		m.setPhase(PhaseConclude)
		return
	}
	m.setPhase(PhaseInvestigate)
}

// branch refines a vaguely-supported hypothesis into more specific children
// derived from its strong evidence.
func (m *Machine) branch(node *hypothesis.Node) {
	proposed := 0
	for _, ev := range node.Evidence {
		if ev.Strength != hypothesis.StrengthStrong || proposed >= 2 {
			continue
		}
		statement := fmt.Sprintf("%s, driven by: %s", node.Statement, ev.Content)
		child, err := m.deps.Hypotheses.Propose(statement, node.Category, node.Priority, node.ID)
		if err != nil {
			continue
		}
		_ = m.deps.Memory.AddHypothesisUpdate(child.ID, child.Statement, memory.ActionFormed, "branched from "+node.ID)
		proposed++
	}
}

// executeToolCall runs one tool call end to end: soft cap check, execution
// with the per-call timeout, scratchpad append, evidence attachment.
func (m *Machine) executeToolCall(ctx context.Context, iteration int, name string, input json.RawMessage) {
	if m.atLimit[name] {
		m.emit(ctx, Event{
			Type:      EventToolLimit,
			Iteration: iteration,
			Tool:      name,
			Warning:   "tool disabled for this session after a permanent error",
		})
		return
	}

	var args map[string]interface{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			// Contract violation: malformed tool input from the model.
			m.logger.Warn("malformed tool input", "tool", name, "error", err)
			m.emit(ctx, Event{Type: EventToolError, Iteration: iteration, Tool: name, Err: "malformed tool input: " + err.Error()})
			return
		}
	}

	if check := m.deps.Scratchpad.CanCallTool(name, string(input)); check.Warning != "" {
		m.emit(ctx, Event{Type: EventToolLimit, Iteration: iteration, Tool: name, Warning: check.Warning})
	}

	m.emit(ctx, Event{Type: EventToolStart, Iteration: iteration, Tool: name})

	tctx, span := m.tracer.Start(ctx, "investigation.tool",
		trace.WithAttributes(attribute.String("tool", name)))
	tctx, cancel := context.WithTimeout(tctx, m.config.ToolTimeout)
	result := m.deps.Tools.Execute(tctx, name, input)
	cancel()
	span.End()

	if !result.Success {
		toolCallsTotal.WithLabelValues(name, "error").Inc()
		m.emit(ctx, Event{Type: EventToolError, Iteration: iteration, Tool: name, Err: result.Error})
		if isPermanentError(result.Error) {
			m.atLimit[name] = true
			m.logger.Warn("tool marked at-limit for the session", "tool", name, "error", result.Error)
		}
	} else {
		toolCallsTotal.WithLabelValues(name, "ok").Inc()
	}

	id, err := m.deps.Scratchpad.AppendToolResult(name, args, result, result.ExecutionTimeMs)
	if err != nil {
		m.logger.Error("failed to append tool result", "tool", name, "error", err)
	}

	m.emit(ctx, Event{
		Type:       EventToolEnd,
		Iteration:  iteration,
		Tool:       name,
		ResultID:   id,
		DurationMs: result.ExecutionTimeMs,
		Err:        result.Error,
	})

	m.recordFindings(id)
	m.minePatterns(id, result)
}

// minePatterns clusters sampled log lines from a tool result and records
// each newly dominant pattern as a symptom.
func (m *Machine) minePatterns(resultID string, result *tools.Result) {
	if result == nil || !result.Success {
		return
	}
	service, lines := logSamples(result.Data)
	if len(lines) == 0 {
		return
	}

	m.patterns.Ingest(service, lines)
	for _, template := range m.patterns.NewDominantPatterns(service) {
		_ = m.deps.Memory.AddSymptom(logpattern.Describe(template), []string{service}, resultID)
	}
}

// logSamples extracts the service name and sampled log messages from a
// tool result payload, when the payload carries any.
func logSamples(data interface{}) (string, []string) {
	payload, ok := data.(map[string]interface{})
	if !ok {
		return "", nil
	}

	service, _ := payload["service"].(string)

	var lines []string
	appendMessage := func(entry map[string]interface{}) {
		if msg, ok := entry["message"].(string); ok && msg != "" {
			lines = append(lines, msg)
		}
	}

	switch samples := payload["samples"].(type) {
	case []map[string]interface{}:
		for _, entry := range samples {
			appendMessage(entry)
		}
	case []interface{}:
		for _, raw := range samples {
			if entry, ok := raw.(map[string]interface{}); ok {
				appendMessage(entry)
			}
		}
	}
	return service, lines
}

// recordFindings turns a result summary into memory notes and, during
// INVESTIGATE, into evidence on the current hypothesis.
func (m *Machine) recordFindings(resultID string) {
	summary, ok := m.deps.Scratchpad.GetSummary(resultID)
	if !ok || summary == nil {
		return
	}

	if summary.HasErrors || summary.HealthStatus == scratchpad.HealthCritical || summary.HealthStatus == scratchpad.HealthDegraded {
		_ = m.deps.Memory.AddSymptom(summary.ShortText, summary.Services, resultID)
	}

	if m.phase != PhaseInvestigate || m.currentHypothesis == "" {
		return
	}

	var strength hypothesis.Strength
	switch {
	case summary.HealthStatus == scratchpad.HealthCritical:
		strength = hypothesis.StrengthStrong
	case summary.HealthStatus == scratchpad.HealthDegraded || summary.HasErrors:
		strength = hypothesis.StrengthWeak
	case summary.HealthStatus == scratchpad.HealthOK:
		strength = hypothesis.StrengthNone
	default:
		return
	}

	if err := m.deps.Hypotheses.AttachEvidence(m.currentHypothesis, strength, summary.ShortText, []string{resultID}); err != nil {
		return
	}
	_ = m.deps.Memory.AddEvidence(m.currentHypothesis, memory.EvidenceStrength(strength), summary.ShortText, []string{resultID})
}

// refreshKnowledge re-queries the knowledge index for services and symptoms
// discovered since the previous iteration.
func (m *Machine) refreshKnowledge(ctx context.Context, iteration int) {
	if m.deps.Knowledge == nil {
		return
	}
	state := m.deps.Memory.State()
	facets := knowledgectx.InvestigationFacets{
		Services: state.ServicesDiscovered,
		Symptoms: state.SymptomsIdentified,
	}
	newServices := len(facets.Services) - len(m.prevFacets.Services)
	newSymptoms := len(facets.Symptoms) - len(m.prevFacets.Symptoms)
	if newServices <= 0 && newSymptoms <= 0 {
		return
	}
	ranked := m.deps.Knowledge.UpdateFromInvestigationState(facets, m.prevFacets)
	m.prevFacets = facets
	if len(ranked) > 0 {
		m.emit(ctx, Event{
			Type:      EventKnowledgeRetrieved,
			Iteration: iteration,
			Content:   fmt.Sprintf("knowledge context refreshed for %d new services and %d new symptoms", max(newServices, 0), max(newSymptoms, 0)),
		})
	}
}

func (m *Machine) maybeCompact(ctx context.Context, iteration int) {
	estimate := m.deps.Scratchpad.TokenEstimate()
	if estimate <= m.config.TokenThreshold {
		return
	}

	state := m.deps.Memory.State()
	citations := make(map[string][]compaction.Citation)
	for id, refs := range m.deps.Memory.Citations() {
		for _, ref := range refs {
			citations[id] = append(citations[id], compaction.Citation{
				Strength:         string(ref.Strength),
				HypothesisActive: ref.HypothesisActive,
			})
		}
	}

	plan := m.deps.Compactor.Compact(compaction.Input{
		Results:            m.deps.Scratchpad.Results(),
		Query:              m.config.Query,
		ServicesDiscovered: state.ServicesDiscovered,
		Symptoms:           state.SymptomsIdentified,
		Citations:          citations,
	})
	m.deps.Scratchpad.ApplyCompactionPlan(plan)

	if len(plan.Clear) > 0 || len(plan.Compact) > 0 {
		m.emit(ctx, Event{
			Type:      EventContextCleared,
			Iteration: iteration,
			Content:   fmt.Sprintf("context compacted: %d full, %d compact, %d cleared (was ~%d tokens)", len(plan.KeepFull), len(plan.Compact), len(plan.Clear), estimate),
		})
	}
}

// conclude emits the final answer and, when a confirmed root cause matches a
// skill, runs remediation first.
func (m *Machine) conclude(ctx context.Context, finalText string) {
	m.emit(ctx, Event{Type: EventAnswerStart})

	answer := &Answer{
		Summary:      m.deps.Memory.BuildFinalSummary(),
		LLMRequests:  m.llmRequests,
		InputTokens:  m.inputTokens,
		OutputTokens: m.outputTokens,
	}
	if finalText != "" {
		answer.Summary = finalText + "\n\n" + answer.Summary
	}

	if confirmed, ok := m.deps.Hypotheses.Confirmed(); ok {
		answer.RootCause = confirmed.Statement
		answer.Confidence = confidenceFor(confirmed)
		for _, ev := range confirmed.Evidence {
			if ev.Strength == hypothesis.StrengthStrong {
				answer.Evidence = append(answer.Evidence, ev.Content)
			}
		}
		m.remediate(ctx, answer)
	} else {
		// Insufficient evidence: report the remaining frontier instead of
		// guessing.
		for _, node := range m.deps.Hypotheses.Frontier() {
			answer.Frontier = append(answer.Frontier, fmt.Sprintf("%s [%s] %s", node.ID, node.EvidenceStrength, node.Statement))
			answer.OpenQuestions = append(answer.OpenQuestions, "what evidence would confirm or rule out: "+node.Statement)
		}
	}

	_ = m.deps.Memory.UpdateProgressSummary(answer.Summary)

	m.emit(ctx, Event{
		Type:            EventDone,
		Phase:           m.phase,
		InvestigationID: m.config.SessionID,
		Content:         answer.Summary,
		Answer:          answer,
	})
	m.logger.Info("investigation finished",
		"root_cause_confirmed", answer.RootCause != "",
		"llm_requests", m.llmRequests,
		"input_tokens", m.inputTokens,
		"output_tokens", m.outputTokens,
	)
}

func (m *Machine) remediate(ctx context.Context, answer *Answer) {
	if m.deps.Skills == nil || m.deps.SkillRunner == nil {
		return
	}
	state := m.deps.Memory.State()
	skill, ok := m.deps.Skills.Match(answer.RootCause, state.ServicesDiscovered)
	if !ok {
		return
	}

	m.setPhase(PhaseRemediate)
	m.logger.Info("running remediation skill", "skill", skill.Name)

	result, err := m.deps.SkillRunner.Run(ctx, skill)
	if err != nil {
		m.logger.Error("remediation failed", "skill", skill.Name, "error", err)
	}
	if result != nil {
		answer.Remediation = result
		for _, step := range result.Steps {
			if !step.Skipped {
				_ = m.deps.Memory.AddRemediationStep(fmt.Sprintf("%s: %s (%s)", skill.Name, step.Step, step.Tool))
			}
		}
	}
}

func (m *Machine) cancelled(ctx context.Context) {
	// Memory persists after every write; refresh the summary so the
	// snapshot reflects where the investigation stopped.
	_ = m.deps.Memory.UpdateProgressSummary("investigation cancelled: " + m.deps.Memory.BuildContextSummary())
	m.logger.Warn("investigation cancelled", "phase", m.phase)

	// The event must be delivered even though ctx is already done.
	m.events <- Event{
		Type:            EventCancelled,
		Phase:           m.phase,
		InvestigationID: m.config.SessionID,
		Timestamp:       time.Now().UTC(),
		Err:             context.Cause(ctx).Error(),
	}
}

func (m *Machine) setPhase(next Phase) {
	if next == m.phase {
		return
	}
	_ = m.deps.Scratchpad.Append(scratchpad.Entry{
		Type:      scratchpad.EntryTypePhaseTransition,
		Timestamp: time.Now().UTC(),
		FromPhase: string(m.phase),
		ToPhase:   string(next),
	})
	m.logger.Info("phase transition", "from", m.phase, "to", next)
	m.phase = next
}

func (m *Machine) emit(ctx context.Context, ev Event) {
	if ev.Phase == "" {
		ev.Phase = m.phase
	}
	if ev.InvestigationID == "" {
		ev.InvestigationID = m.config.SessionID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

func (m *Machine) primaryService() string {
	state := m.deps.Memory.State()
	if len(state.ServicesDiscovered) > 0 {
		return state.ServicesDiscovered[0]
	}
	return ""
}

func (m *Machine) hasInitialContext() bool {
	state := m.deps.Memory.State()
	return len(state.ServicesDiscovered) > 0 || len(state.SymptomsIdentified) > 0
}

func confidenceFor(node *hypothesis.Node) float64 {
	strong := 0
	for _, ev := range node.Evidence {
		if ev.Strength == hypothesis.StrengthStrong {
			strong++
		}
	}
	switch {
	case strong >= 2:
		return 0.95
	case strong == 1:
		return 0.85
	default:
		return 0.7
	}
}

var permanentErrorMarkers = []string{"401", "403", "unauthorized", "forbidden", "invalid api key", "permission denied"}

func isPermanentError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range permanentErrorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
