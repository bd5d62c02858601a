// Package compaction scores tool results by importance and produces
// compaction plans that keep the investigation context within budget.
package compaction

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sleuth-dev/sleuth/internal/agent/scratchpad"
)

// Weights are the per-axis scoring weights. They should sum to 1.0 but the
// compactor does not enforce it; relative magnitude is what matters.
type Weights struct {
	Recency             float64 `json:"recency"`
	QueryRelevance      float64 `json:"query_relevance"`
	ErrorSignals        float64 `json:"error_signals"`
	HypothesisRelevance float64 `json:"hypothesis_relevance"`
	ServiceRelevance    float64 `json:"service_relevance"`
	CitedInNotes        float64 `json:"cited_in_notes"`
}

// BalancedWeights returns the default weight profile.
func BalancedWeights() Weights {
	return Weights{
		Recency:             0.20,
		QueryRelevance:      0.20,
		ErrorSignals:        0.20,
		HypothesisRelevance: 0.15,
		ServiceRelevance:    0.10,
		CitedInNotes:        0.15,
	}
}

// IncidentWeights tilt scoring toward error signals and hypothesis evidence,
// the axes that matter during an active incident.
func IncidentWeights() Weights {
	return Weights{
		Recency:             0.10,
		QueryRelevance:      0.10,
		ErrorSignals:        0.30,
		HypothesisRelevance: 0.25,
		ServiceRelevance:    0.10,
		CitedInNotes:        0.15,
	}
}

// ResearchWeights tilt scoring toward query relevance and recency for
// open-ended exploration sessions.
func ResearchWeights() Weights {
	return Weights{
		Recency:             0.25,
		QueryRelevance:      0.30,
		ErrorSignals:        0.10,
		HypothesisRelevance: 0.10,
		ServiceRelevance:    0.10,
		CitedInNotes:        0.15,
	}
}

// PresetWeights resolves a named weight profile.
func PresetWeights(name string) (Weights, error) {
	switch name {
	case "", "balanced":
		return BalancedWeights(), nil
	case "incident":
		return IncidentWeights(), nil
	case "research":
		return ResearchWeights(), nil
	default:
		return Weights{}, fmt.Errorf("unknown compaction preset %q (want incident, research or balanced)", name)
	}
}

// Config controls plan production.
type Config struct {
	Weights Weights

	// Count-based mode (the default).
	MaxFullResults    int
	MaxCompactResults int
	MinScoreForFull   float64
	MinScoreToKeep    float64

	// TokenBudget > 0 switches to budget-based mode: results are allocated
	// full then compact greedily while the estimated token total fits.
	TokenBudget int
}

// DefaultConfig returns count-based compaction with balanced weights.
func DefaultConfig() Config {
	return Config{
		Weights:           BalancedWeights(),
		MaxFullResults:    5,
		MaxCompactResults: 10,
		MinScoreForFull:   0.3,
		MinScoreToKeep:    0.1,
	}
}

// Citation records that an investigation note references a result as
// evidence for a hypothesis.
type Citation struct {
	// Strength is the evidence strength: strong, weak, none, contradicting.
	Strength string
	// HypothesisActive reports whether the cited hypothesis is still active.
	HypothesisActive bool
}

// Input is the scoring context for one compaction run.
type Input struct {
	// Results in append order, oldest first.
	Results []scratchpad.ScoredInput

	// Query is the operator's investigation query.
	Query string

	// ServicesDiscovered are service names the investigation has surfaced.
	ServicesDiscovered []string

	// Symptoms are symptom descriptions recorded so far.
	Symptoms []string

	// Citations maps resultId to the note citations referencing it.
	Citations map[string][]Citation
}

// ScoredResult is one result with its computed importance.
type ScoredResult struct {
	ResultID string
	Score    float64
	Axes     AxisScores
}

// AxisScores breaks a score down per axis for debugging and tests.
type AxisScores struct {
	Recency             float64
	QueryRelevance      float64
	ErrorSignals        float64
	HypothesisRelevance float64
	ServiceRelevance    float64
	CitedInNotes        float64
}

// Compactor ranks tool results and produces compaction plans.
type Compactor struct {
	config Config
}

// New creates a compactor. Zero limits fall back to defaults.
func New(cfg Config) *Compactor {
	defaults := DefaultConfig()
	if cfg.Weights == (Weights{}) {
		cfg.Weights = defaults.Weights
	}
	if cfg.MaxFullResults <= 0 {
		cfg.MaxFullResults = defaults.MaxFullResults
	}
	if cfg.MaxCompactResults <= 0 {
		cfg.MaxCompactResults = defaults.MaxCompactResults
	}
	return &Compactor{config: cfg}
}

// Compact scores every result and produces a plan. Cited results are never
// assigned below compact regardless of score.
func (c *Compactor) Compact(input Input) scratchpad.CompactionPlan {
	scored := c.Score(input)

	// Sort descending by score; equal scores keep the earlier result first.
	// Score preserves append order, so a stable sort gives the tie-break.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	var plan scratchpad.CompactionPlan
	if c.config.TokenBudget > 0 {
		plan = c.budgetPlan(scored, input)
	} else {
		plan = c.countPlan(scored)
	}

	return c.protectCited(plan, input)
}

func (c *Compactor) countPlan(scored []ScoredResult) scratchpad.CompactionPlan {
	var plan scratchpad.CompactionPlan
	for _, s := range scored {
		switch {
		case len(plan.KeepFull) < c.config.MaxFullResults && s.Score >= c.config.MinScoreForFull:
			plan.KeepFull = append(plan.KeepFull, s.ResultID)
		case len(plan.Compact) < c.config.MaxCompactResults && s.Score >= c.config.MinScoreToKeep:
			plan.Compact = append(plan.Compact, s.ResultID)
		default:
			plan.Clear = append(plan.Clear, s.ResultID)
		}
	}
	return plan
}

func (c *Compactor) budgetPlan(scored []ScoredResult, input Input) scratchpad.CompactionPlan {
	fullCost := make(map[string]int, len(input.Results))
	compactCost := make(map[string]int, len(input.Results))
	for _, r := range input.Results {
		fullCost[r.Result.ResultID] = len(serialize(r.Result.Result)) / 4
		if r.Summary != nil {
			compactCost[r.Result.ResultID] = len(r.Summary.ShortText) / 4
		}
	}

	var plan scratchpad.CompactionPlan
	used := 0
	for _, s := range scored {
		cost := fullCost[s.ResultID]
		if used+cost <= c.config.TokenBudget {
			plan.KeepFull = append(plan.KeepFull, s.ResultID)
			used += cost
			continue
		}
		cost = compactCost[s.ResultID]
		if used+cost <= c.config.TokenBudget {
			plan.Compact = append(plan.Compact, s.ResultID)
			used += cost
			continue
		}
		plan.Clear = append(plan.Clear, s.ResultID)
	}
	return plan
}

// protectCited promotes cleared results back to compact when a note cites them.
func (c *Compactor) protectCited(plan scratchpad.CompactionPlan, input Input) scratchpad.CompactionPlan {
	if len(input.Citations) == 0 {
		return plan
	}
	var cleared []string
	for _, id := range plan.Clear {
		if len(input.Citations[id]) > 0 {
			plan.Compact = append(plan.Compact, id)
		} else {
			cleared = append(cleared, id)
		}
	}
	plan.Clear = cleared
	return plan
}

// Score computes per-result importance in input order.
func (c *Compactor) Score(input Input) []ScoredResult {
	queryTokens := significantTokens(input.Query)
	n := len(input.Results)

	scored := make([]ScoredResult, 0, n)
	for i, r := range input.Results {
		axes := AxisScores{
			Recency:             recencyScore(i, n),
			QueryRelevance:      queryRelevance(queryTokens, r),
			ErrorSignals:        errorSignals(r),
			HypothesisRelevance: hypothesisRelevance(r, input),
			ServiceRelevance:    serviceRelevance(r, input.ServicesDiscovered),
			CitedInNotes:        citedScore(r.Result.ResultID, input.Citations),
		}
		w := c.config.Weights
		score := axes.Recency*w.Recency +
			axes.QueryRelevance*w.QueryRelevance +
			axes.ErrorSignals*w.ErrorSignals +
			axes.HypothesisRelevance*w.HypothesisRelevance +
			axes.ServiceRelevance*w.ServiceRelevance +
			axes.CitedInNotes*w.CitedInNotes
		scored = append(scored, ScoredResult{
			ResultID: r.Result.ResultID,
			Score:    score,
			Axes:     axes,
		})
	}
	return scored
}

// recencyScore is linear from 0.1 for the oldest to 1.0 for the newest.
func recencyScore(index, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	return 0.1 + 0.9*float64(index)/float64(total-1)
}

// queryRelevance is the fraction of significant query tokens that appear in
// the args or the serialized result.
func queryRelevance(queryTokens []string, r scratchpad.ScoredInput) float64 {
	if len(queryTokens) == 0 {
		return 0.0
	}
	haystack := strings.ToLower(serialize(r.Result.Args) + " " + serialize(r.Result.Result))
	hits := 0
	for _, token := range queryTokens {
		if strings.Contains(haystack, token) {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

var errorProbeKeywords = []string{"error", "fail", "timeout", "refused", "exhausted", "exception", "critical"}

// errorSignals maps the summary's health to a score, falling back to a
// keyword probe over the serialized result.
func errorSignals(r scratchpad.ScoredInput) float64 {
	if r.Summary != nil {
		if r.Summary.HasErrors || r.Summary.HealthStatus == scratchpad.HealthCritical {
			return 1.0
		}
		if r.Summary.HealthStatus == scratchpad.HealthDegraded {
			return 0.7
		}
	}
	haystack := strings.ToLower(serialize(r.Result.Result))
	hits := 0
	for _, kw := range errorProbeKeywords {
		if strings.Contains(haystack, kw) {
			hits++
		}
	}
	score := float64(hits) / 3.0
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// hypothesisRelevance scores evidence citations against active hypotheses,
// falling back to symptom prefix matches.
func hypothesisRelevance(r scratchpad.ScoredInput, input Input) float64 {
	best := 0.0
	for _, citation := range input.Citations[r.Result.ResultID] {
		if !citation.HypothesisActive {
			continue
		}
		switch citation.Strength {
		case "strong":
			return 1.0
		case "weak":
			if best < 0.7 {
				best = 0.7
			}
		}
	}
	if best > 0 {
		return best
	}

	haystack := strings.ToLower(serialize(r.Result.Args) + " " + serialize(r.Result.Result))
	for _, symptom := range input.Symptoms {
		prefix := strings.ToLower(symptom)
		if len(prefix) > 20 {
			prefix = prefix[:20]
		}
		if prefix != "" && strings.Contains(haystack, prefix) {
			return 0.5
		}
	}
	return 0.0
}

// serviceRelevance is 1.0 on a direct summary-service match against the
// discovered services, 0.8 on a textual match in the payload.
func serviceRelevance(r scratchpad.ScoredInput, discovered []string) float64 {
	if len(discovered) == 0 {
		return 0.0
	}
	if r.Summary != nil {
		for _, svc := range r.Summary.Services {
			for _, d := range discovered {
				if strings.EqualFold(svc, d) {
					return 1.0
				}
			}
		}
	}
	haystack := strings.ToLower(serialize(r.Result.Args) + " " + serialize(r.Result.Result))
	for _, d := range discovered {
		if strings.Contains(haystack, strings.ToLower(d)) {
			return 0.8
		}
	}
	return 0.0
}

func citedScore(id string, citations map[string][]Citation) float64 {
	if len(citations[id]) > 0 {
		return 1.0
	}
	return 0.0
}

func significantTokens(query string) []string {
	var out []string
	for _, token := range strings.Fields(strings.ToLower(query)) {
		token = strings.Trim(token, ".,!?:;\"'()")
		if len(token) > 2 {
			out = append(out, token)
		}
	}
	return out
}

func serialize(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
