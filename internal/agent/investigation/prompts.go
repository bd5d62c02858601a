package investigation

import (
	"fmt"
	"strings"

	"github.com/sleuth-dev/sleuth/internal/agent/causal"
)

const systemPromptHeader = `You are an incident investigation agent assisting an on-call operator.
You investigate one incident at a time by calling read-only diagnostic tools,
reasoning about the evidence, and narrowing down the root cause.

Rules:
- Call tools to gather evidence; never invent tool output.
- Prefer specific, filtered queries over broad ones.
- When the evidence supports a conclusion, stop calling tools and state the
  root cause with the supporting result ids.
- When the evidence is insufficient, say so explicitly instead of guessing.`

var phaseGuidance = map[Phase]string{
	PhaseTriage: `Current phase: TRIAGE.
Gather the initial picture: which services are affected, what symptoms are
visible, and when the problem started.`,
	PhaseInvestigate: `Current phase: INVESTIGATE.
Work the current hypothesis: run the suggested diagnostic queries, compare
their results against the hypothesis, and look for disconfirming evidence.`,
}

func (m *Machine) buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString(systemPromptHeader)

	if guidance, ok := phaseGuidance[m.phase]; ok {
		b.WriteString("\n\n")
		b.WriteString(guidance)
	}

	if m.infraSnapshot != nil {
		b.WriteString("\n\n## Infrastructure\n")
		b.WriteString(m.infraSnapshot.BuildContext())
	}

	if m.deps.Knowledge != nil {
		if kb := m.deps.Knowledge.BuildContext(); kb != "" {
			b.WriteString("\n\n## Operational knowledge\n")
			b.WriteString(kb)
		}
	}

	if m.deps.Skills != nil {
		if all := m.deps.Skills.All(); len(all) > 0 {
			b.WriteString("\n\n## Available remediation skills\n")
			for _, skill := range all {
				fmt.Fprintf(&b, "- %s: %s\n", skill.Name, skill.Description)
			}
		}
	}

	return b.String()
}

// buildUserPrompt concatenates the tiered scratchpad context, the hypothesis
// frontier, the memory summary, and the per-service context. The scratchpad
// is the conversation memory; each iteration sends a single user message.
func (m *Machine) buildUserPrompt(planned []causal.Query) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Investigation query: %s\n", m.config.Query)
	if m.config.IncidentID != "" {
		fmt.Fprintf(&b, "Incident: %s\n", m.config.IncidentID)
	}

	if sp := m.deps.Scratchpad.BuildTieredContext(); sp != "" {
		b.WriteString("\n## Evidence gathered so far\n")
		b.WriteString(sp)
	}

	if hc := m.deps.Hypotheses.BuildContext(); hc != "" {
		b.WriteString("\n## Hypotheses\n")
		b.WriteString(hc)
	}

	if ms := m.deps.Memory.BuildContextSummary(); ms != "" {
		b.WriteString("\n## Investigation state\n")
		b.WriteString(ms)
	}

	if svc := m.primaryService(); svc != "" && m.deps.Services != nil {
		if sctx, err := m.deps.Services.BuildContext(svc); err == nil {
			b.WriteString("\n## Service context\n")
			b.WriteString(sctx.Render())
		}
	}

	if len(planned) > 0 {
		b.WriteString("\n## Suggested queries for the current hypothesis\n")
		for _, q := range planned {
			fmt.Fprintf(&b, "- %s %v (%s)\n", q.Tool, q.Args, q.Rationale)
		}
	}

	b.WriteString("\nContinue the investigation.")
	return b.String()
}
