// Package memory holds the structured investigation findings that survive
// context compaction. Notes are append-only per investigation and the whole
// state is persisted as one JSON file per session after every write.
package memory

import "time"

// NoteType classifies an investigation note.
type NoteType string

const (
	NoteTypeSymptom            NoteType = "symptom"
	NoteTypeEvidence           NoteType = "evidence"
	NoteTypeHypothesisUpdate   NoteType = "hypothesis_update"
	NoteTypeRootCauseCandidate NoteType = "root_cause_candidate"
	NoteTypeRemediationStep    NoteType = "remediation_step"
	NoteTypeEscalation         NoteType = "escalation"
	NoteTypeServiceImpact      NoteType = "service_impact"
)

// EvidenceStrength grades evidence attached to a hypothesis.
type EvidenceStrength string

const (
	StrengthPending       EvidenceStrength = "pending"
	StrengthNone          EvidenceStrength = "none"
	StrengthWeak          EvidenceStrength = "weak"
	StrengthStrong        EvidenceStrength = "strong"
	StrengthContradicting EvidenceStrength = "contradicting"
)

// HypothesisAction is the lifecycle action recorded by a hypothesis update.
type HypothesisAction string

const (
	ActionFormed    HypothesisAction = "formed"
	ActionPruned    HypothesisAction = "pruned"
	ActionConfirmed HypothesisAction = "confirmed"
)

// Note is a single typed finding. Notes are append-only.
type Note struct {
	ID               string           `json:"id"`
	Type             NoteType         `json:"type"`
	Content          string           `json:"content"`
	Confidence       float64          `json:"confidence"`
	EvidenceStrength EvidenceStrength `json:"evidence_strength,omitempty"`
	SourceResultIDs  []string         `json:"source_result_ids,omitempty"`
	ServicesInvolved []string         `json:"services_involved,omitempty"`
	HypothesisID     string           `json:"hypothesis_id,omitempty"`
	Iteration        int              `json:"iteration"`
	Timestamp        time.Time        `json:"timestamp"`
}

// ConfirmedRootCause is the statement and supporting evidence of the
// confirmed hypothesis.
type ConfirmedRootCause struct {
	HypothesisID string   `json:"hypothesis_id"`
	Statement    string   `json:"statement"`
	Evidence     []string `json:"evidence"`
}

// State is the full persisted investigation record.
type State struct {
	Query              string              `json:"query"`
	IncidentID         string              `json:"incident_id,omitempty"`
	SessionID          string              `json:"session_id"`
	Notes              []Note              `json:"notes"`
	ProgressSummary    string              `json:"progress_summary,omitempty"`
	ServicesDiscovered []string            `json:"services_discovered,omitempty"`
	SymptomsIdentified []string            `json:"symptoms_identified,omitempty"`
	ActiveHypotheses   []string            `json:"active_hypotheses,omitempty"`
	PrunedHypotheses   []string            `json:"pruned_hypotheses,omitempty"`
	ConfirmedRootCause *ConfirmedRootCause `json:"confirmed_root_cause,omitempty"`
	CurrentIteration   int                 `json:"current_iteration"`
	StartedAt          time.Time           `json:"started_at"`
	LastUpdatedAt      time.Time           `json:"last_updated_at"`
}

// Lexicons are the keyword sets used to classify model reasoning sentences.
// They are configuration, not code; DefaultLexicons covers common incident
// vocabulary and operators may extend them.
type Lexicons struct {
	RootCause []string `json:"root_cause"`
	Symptom   []string `json:"symptom"`
	Evidence  []string `json:"evidence"`
}

// DefaultLexicons returns the built-in classification keywords.
func DefaultLexicons() Lexicons {
	return Lexicons{
		RootCause: []string{
			"root cause", "caused by", "because of", "due to", "culprit",
			"the reason", "originates", "stems from", "triggered by",
		},
		Symptom: []string{
			"latency", "error rate", "timeout", "slow", "degraded", "failing",
			"unavailable", "spike", "elevated", "crash", "restart", "oom",
			"exhausted", "saturated", "refused",
		},
		Evidence: []string{
			"shows", "indicates", "confirms", "suggests", "correlates",
			"consistent with", "observed", "the logs", "the metrics",
			"the traces", "points to",
		},
	}
}
