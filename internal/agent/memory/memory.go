package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// serviceNamePattern matches hyphenated or dotted lowercase identifiers that
// look like service names in reasoning text.
var serviceNamePattern = regexp.MustCompile(`\b[a-z][a-z0-9]*(?:[-.][a-z0-9]+)+\b`)

// minSentenceLen is the minimum sentence length considered by
// ExtractFromThinking.
const minSentenceLen = 15

// Config controls memory behaviour.
type Config struct {
	// Dir is the investigations directory for {sessionId}.json files.
	// Empty disables persistence.
	Dir string

	// Lexicons classify reasoning sentences. Zero value uses the defaults.
	Lexicons Lexicons
}

// Memory is the investigation note store. It persists the full state after
// every write so findings survive crashes and context compaction.
type Memory struct {
	mu       sync.Mutex
	config   Config
	state    State
	noteSeq  int
	lexicons Lexicons
}

// New creates the memory for a session. When a prior {sessionId}.json exists
// under cfg.Dir it is loaded and the investigation resumes from it.
func New(cfg Config, sessionID, query string) (*Memory, error) {
	lex := cfg.Lexicons
	if len(lex.RootCause) == 0 && len(lex.Symptom) == 0 && len(lex.Evidence) == 0 {
		lex = DefaultLexicons()
	}

	m := &Memory{
		config:   cfg,
		lexicons: lex,
		state: State{
			Query:     query,
			SessionID: sessionID,
			StartedAt: time.Now().UTC(),
		},
	}

	if cfg.Dir != "" {
		if prior, err := Load(cfg.Dir, sessionID); err == nil {
			m.state = *prior
			m.noteSeq = len(prior.Notes)
		}
	}
	return m, nil
}

// Load reads a persisted investigation state by session id.
func Load(dir, sessionID string) (*State, error) {
	path := filepath.Join(dir, sessionID+".json")
	// #nosec G304 -- path is built from the configured investigations dir
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read investigation state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse investigation state: %w", err)
	}
	return &state, nil
}

// save writes the state to {sessionId}.json. Callers hold the lock.
func (m *Memory) save() error {
	m.state.LastUpdatedAt = time.Now().UTC()
	if m.config.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(m.config.Dir, 0750); err != nil {
		return fmt.Errorf("failed to create investigations dir: %w", err)
	}
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal investigation state: %w", err)
	}
	path := filepath.Join(m.config.Dir, m.state.SessionID+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write investigation state: %w", err)
	}
	return nil
}

// Save flushes the current state to disk.
func (m *Memory) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save()
}

func (m *Memory) appendNote(note Note) error {
	m.noteSeq++
	note.ID = fmt.Sprintf("n%d", m.noteSeq)
	note.Iteration = m.state.CurrentIteration
	if note.Timestamp.IsZero() {
		note.Timestamp = time.Now().UTC()
	}
	m.state.Notes = append(m.state.Notes, note)

	for _, svc := range note.ServicesInvolved {
		m.state.ServicesDiscovered = appendUnique(m.state.ServicesDiscovered, svc)
	}
	if note.Type == NoteTypeSymptom {
		m.state.SymptomsIdentified = appendUnique(m.state.SymptomsIdentified, note.Content)
	}
	return m.save()
}

// AddSymptom records an observed symptom.
func (m *Memory) AddSymptom(content string, services []string, sourceResultIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendNote(Note{
		Type:             NoteTypeSymptom,
		Content:          content,
		Confidence:       0.8,
		ServicesInvolved: services,
		SourceResultIDs:  sourceResultIDs,
	})
}

// AddEvidence records evidence for a hypothesis with its strength.
func (m *Memory) AddEvidence(hypothesisID string, strength EvidenceStrength, content string, sourceResultIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendNote(Note{
		Type:             NoteTypeEvidence,
		Content:          content,
		Confidence:       strengthConfidence(strength),
		EvidenceStrength: strength,
		HypothesisID:     hypothesisID,
		SourceResultIDs:  sourceResultIDs,
	})
}

// AddHypothesisUpdate records a hypothesis lifecycle change. Confirming a
// hypothesis populates the confirmed root cause with the statement and all
// strong evidence gathered for it.
func (m *Memory) AddHypothesisUpdate(hypothesisID, statement string, action HypothesisAction, reasoning string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	content := fmt.Sprintf("hypothesis %s: %s", action, statement)
	if reasoning != "" {
		content += " (" + reasoning + ")"
	}

	switch action {
	case ActionFormed:
		m.state.ActiveHypotheses = appendUnique(m.state.ActiveHypotheses, hypothesisID)
	case ActionPruned:
		m.state.ActiveHypotheses = removeString(m.state.ActiveHypotheses, hypothesisID)
		m.state.PrunedHypotheses = appendUnique(m.state.PrunedHypotheses, hypothesisID)
	case ActionConfirmed:
		m.state.ActiveHypotheses = removeString(m.state.ActiveHypotheses, hypothesisID)
		m.state.ConfirmedRootCause = &ConfirmedRootCause{
			HypothesisID: hypothesisID,
			Statement:    statement,
			Evidence:     m.strongEvidenceFor(hypothesisID),
		}
	}

	return m.appendNote(Note{
		Type:         NoteTypeHypothesisUpdate,
		Content:      content,
		Confidence:   0.9,
		HypothesisID: hypothesisID,
	})
}

// strongEvidenceFor aggregates strong evidence note contents for a
// hypothesis. Callers hold the lock.
func (m *Memory) strongEvidenceFor(hypothesisID string) []string {
	var out []string
	for _, note := range m.state.Notes {
		if note.Type == NoteTypeEvidence && note.HypothesisID == hypothesisID && note.EvidenceStrength == StrengthStrong {
			out = append(out, note.Content)
		}
	}
	return out
}

// AddRootCauseCandidate records a candidate root cause.
func (m *Memory) AddRootCauseCandidate(content string, confidence float64, sourceResultIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendNote(Note{
		Type:            NoteTypeRootCauseCandidate,
		Content:         content,
		Confidence:      confidence,
		SourceResultIDs: sourceResultIDs,
	})
}

// AddServiceImpact records that a service is affected.
func (m *Memory) AddServiceImpact(service, impact string, sourceResultIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendNote(Note{
		Type:             NoteTypeServiceImpact,
		Content:          fmt.Sprintf("%s: %s", service, impact),
		Confidence:       0.8,
		ServicesInvolved: []string{service},
		SourceResultIDs:  sourceResultIDs,
	})
}

// AddRemediationStep records a proposed or executed remediation action.
func (m *Memory) AddRemediationStep(content string, sourceResultIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendNote(Note{
		Type:            NoteTypeRemediationStep,
		Content:         content,
		Confidence:      0.7,
		SourceResultIDs: sourceResultIDs,
	})
}

// AddEscalation records that the investigation needs human attention.
func (m *Memory) AddEscalation(content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendNote(Note{
		Type:       NoteTypeEscalation,
		Content:    content,
		Confidence: 1.0,
	})
}

// ExtractFromThinking sentence-splits reasoning text, classifies each
// sentence against the lexicons and appends the resulting notes. Extraction
// is best-effort; unclassified sentences are skipped.
func (m *Memory) ExtractFromThinking(text, resultID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := 0
	for _, sentence := range splitSentences(text) {
		if len(sentence) <= minSentenceLen {
			continue
		}
		noteType, confidence := m.classify(sentence)
		if noteType == "" {
			continue
		}
		var sources []string
		if resultID != "" {
			sources = []string{resultID}
		}
		err := m.appendNote(Note{
			Type:             noteType,
			Content:          sentence,
			Confidence:       confidence,
			ServicesInvolved: extractServices(sentence),
			SourceResultIDs:  sources,
		})
		if err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// classify picks the note type for a sentence by lexicon match. Root-cause
// phrasing wins over symptom and evidence vocabulary.
func (m *Memory) classify(sentence string) (NoteType, float64) {
	lower := strings.ToLower(sentence)
	for _, kw := range m.lexicons.RootCause {
		if strings.Contains(lower, kw) {
			return NoteTypeRootCauseCandidate, 0.7
		}
	}
	for _, kw := range m.lexicons.Evidence {
		if strings.Contains(lower, kw) {
			return NoteTypeEvidence, 0.6
		}
	}
	for _, kw := range m.lexicons.Symptom {
		if strings.Contains(lower, kw) {
			return NoteTypeSymptom, 0.6
		}
	}
	return "", 0
}

func splitSentences(text string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func extractServices(sentence string) []string {
	seen := make(map[string]bool)
	for _, match := range serviceNamePattern.FindAllString(strings.ToLower(sentence), -1) {
		if strings.Count(match, ".") > 1 {
			continue
		}
		seen[match] = true
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// AdvanceIteration increments the iteration counter new notes are keyed by.
func (m *Memory) AdvanceIteration() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CurrentIteration++
	_ = m.save()
	return m.state.CurrentIteration
}

// UpdateProgressSummary replaces the running progress summary.
func (m *Memory) UpdateProgressSummary(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ProgressSummary = text
	return m.save()
}

// State returns a copy of the current investigation state.
func (m *Memory) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.state
	state.Notes = append([]Note(nil), m.state.Notes...)
	state.ServicesDiscovered = append([]string(nil), m.state.ServicesDiscovered...)
	state.SymptomsIdentified = append([]string(nil), m.state.SymptomsIdentified...)
	state.ActiveHypotheses = append([]string(nil), m.state.ActiveHypotheses...)
	state.PrunedHypotheses = append([]string(nil), m.state.PrunedHypotheses...)
	return state
}

// Citations returns the note citations per result id in the shape the
// compactor scores with: evidence strength plus whether the cited
// hypothesis is still active.
func (m *Memory) Citations() map[string][]ResultCitation {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make(map[string]bool, len(m.state.ActiveHypotheses))
	for _, id := range m.state.ActiveHypotheses {
		active[id] = true
	}

	out := make(map[string][]ResultCitation)
	for _, note := range m.state.Notes {
		for _, id := range note.SourceResultIDs {
			out[id] = append(out[id], ResultCitation{
				Strength:         note.EvidenceStrength,
				HypothesisActive: note.HypothesisID != "" && active[note.HypothesisID],
			})
		}
	}
	return out
}

// ResultCitation is one note's reference to a tool result.
type ResultCitation struct {
	Strength         EvidenceStrength
	HypothesisActive bool
}

// BuildContextSummary renders the compact per-iteration summary injected
// into the prompt.
func (m *Memory) BuildContextSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Iteration %d.", m.state.CurrentIteration)
	if m.state.ProgressSummary != "" {
		fmt.Fprintf(&b, " Progress: %s", m.state.ProgressSummary)
	}
	if len(m.state.SymptomsIdentified) > 0 {
		fmt.Fprintf(&b, "\nSymptoms: %s", strings.Join(m.state.SymptomsIdentified, "; "))
	}
	if len(m.state.ServicesDiscovered) > 0 {
		fmt.Fprintf(&b, "\nServices involved: %s", strings.Join(m.state.ServicesDiscovered, ", "))
	}
	if m.state.ConfirmedRootCause != nil {
		fmt.Fprintf(&b, "\nConfirmed root cause: %s", m.state.ConfirmedRootCause.Statement)
	}

	recent := m.recentNotes(5)
	if len(recent) > 0 {
		b.WriteString("\nRecent findings:")
		for _, note := range recent {
			fmt.Fprintf(&b, "\n- [%s] %s", note.Type, note.Content)
		}
	}
	return b.String()
}

func (m *Memory) recentNotes(n int) []Note {
	if len(m.state.Notes) <= n {
		return m.state.Notes
	}
	return m.state.Notes[len(m.state.Notes)-n:]
}

// BuildFinalSummary renders the concluding report from the accumulated
// findings.
func (m *Memory) BuildFinalSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Investigation: %s\n", m.state.Query)
	fmt.Fprintf(&b, "Session: %s, %d iterations\n", m.state.SessionID, m.state.CurrentIteration)

	if m.state.ConfirmedRootCause != nil {
		fmt.Fprintf(&b, "\nRoot cause: %s\n", m.state.ConfirmedRootCause.Statement)
		for _, ev := range m.state.ConfirmedRootCause.Evidence {
			fmt.Fprintf(&b, "- %s\n", ev)
		}
	} else {
		b.WriteString("\nNo root cause was confirmed.\n")
		for _, note := range m.state.Notes {
			if note.Type == NoteTypeRootCauseCandidate {
				fmt.Fprintf(&b, "- candidate: %s (confidence %.1f)\n", note.Content, note.Confidence)
			}
		}
	}

	if len(m.state.SymptomsIdentified) > 0 {
		fmt.Fprintf(&b, "\nSymptoms observed:\n")
		for _, s := range m.state.SymptomsIdentified {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if len(m.state.ServicesDiscovered) > 0 {
		fmt.Fprintf(&b, "\nServices involved: %s\n", strings.Join(m.state.ServicesDiscovered, ", "))
	}

	var impacts, remediations []Note
	for _, note := range m.state.Notes {
		switch note.Type {
		case NoteTypeServiceImpact:
			impacts = append(impacts, note)
		case NoteTypeRemediationStep:
			remediations = append(remediations, note)
		}
	}
	if len(impacts) > 0 {
		b.WriteString("\nService impact:\n")
		for _, note := range impacts {
			fmt.Fprintf(&b, "- %s\n", note.Content)
		}
	}
	if len(remediations) > 0 {
		b.WriteString("\nRemediation:\n")
		for _, note := range remediations {
			fmt.Fprintf(&b, "- %s\n", note.Content)
		}
	}
	return b.String()
}

func strengthConfidence(strength EvidenceStrength) float64 {
	switch strength {
	case StrengthStrong:
		return 0.9
	case StrengthWeak:
		return 0.5
	case StrengthContradicting:
		return 0.8
	default:
		return 0.3
	}
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, existing := range list {
		if existing != s {
			out = append(out, existing)
		}
	}
	return out
}
