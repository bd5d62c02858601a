package investigation

import (
	"time"

	"github.com/sleuth-dev/sleuth/internal/skills"
)

// EventType identifies a state machine event.
type EventType string

const (
	// EventThinking carries a model reasoning trace.
	EventThinking EventType = "thinking"
	// EventKnowledgeRetrieved reports new knowledge chunks entering context.
	EventKnowledgeRetrieved EventType = "knowledge_retrieved"
	// EventToolStart marks the beginning of a tool execution.
	EventToolStart EventType = "tool_start"
	// EventToolEnd marks a completed tool execution.
	EventToolEnd EventType = "tool_end"
	// EventToolError reports a failed tool execution.
	EventToolError EventType = "tool_error"
	// EventToolLimit warns about soft call caps or looping queries.
	EventToolLimit EventType = "tool_limit"
	// EventContextCleared reports results demoted out of full context.
	EventContextCleared EventType = "context_cleared"
	// EventAnswerStart precedes the final answer.
	EventAnswerStart EventType = "answer_start"
	// EventDone is the successful terminal event and carries the answer.
	EventDone EventType = "done"
	// EventCancelled is the terminal event after caller cancellation.
	EventCancelled EventType = "cancelled"
)

// Event is one entry of the investigation event stream.
type Event struct {
	Type            EventType `json:"type"`
	Phase           Phase     `json:"phase"`
	Iteration       int       `json:"iteration"`
	Timestamp       time.Time `json:"timestamp"`
	InvestigationID string    `json:"investigation_id"`

	// Content holds thinking text, answer text, or a human-readable note.
	Content string `json:"content,omitempty"`

	// Tool call fields
	Tool       string `json:"tool,omitempty"`
	ResultID   string `json:"result_id,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Warning    string `json:"warning,omitempty"`
	Err        string `json:"error,omitempty"`

	// Answer is set on the done event.
	Answer *Answer `json:"answer,omitempty"`
}

// Answer is the final outcome of an investigation. It carries either a
// confirmed root cause with confidence, or an explicit unknown-cause summary
// with the remaining frontier and open questions.
type Answer struct {
	RootCause     string   `json:"root_cause,omitempty"`
	Confidence    float64  `json:"confidence,omitempty"`
	Evidence      []string `json:"evidence,omitempty"`
	Summary       string   `json:"summary"`
	Frontier      []string `json:"frontier,omitempty"`
	OpenQuestions []string `json:"open_questions,omitempty"`

	// Remediation is set when a matching skill ran after confirmation.
	Remediation *skills.RunResult `json:"remediation,omitempty"`

	// LLM usage totals for the whole investigation.
	LLMRequests  int `json:"llm_requests"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
