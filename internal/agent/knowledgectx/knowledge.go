// Package knowledgectx keeps a small, ranked set of relevant knowledge
// chunks (runbooks, known issues, postmortems) in memory for the
// investigation, refreshing as new services and symptoms are discovered.
package knowledgectx

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ChunkType identifies a knowledge document kind.
type ChunkType string

const (
	TypeRunbook    ChunkType = "runbook"
	TypeKnownIssue ChunkType = "known_issue"
	TypePostmortem ChunkType = "postmortem"
)

// Chunk is one indexed knowledge document.
type Chunk struct {
	ID       string    `yaml:"id" json:"id"`
	Type     ChunkType `yaml:"type" json:"type"`
	Title    string    `yaml:"title" json:"title"`
	Services []string  `yaml:"services" json:"services"`
	Symptoms []string  `yaml:"symptoms" json:"symptoms,omitempty"`
	Body     string    `yaml:"body" json:"body"`

	// Known-issue fields
	Status     string `yaml:"status" json:"status,omitempty"`
	Workaround string `yaml:"workaround" json:"workaround,omitempty"`

	// Postmortem fields
	RootCause string `yaml:"root_cause" json:"root_cause,omitempty"`
	Date      string `yaml:"date" json:"date,omitempty"`
}

// Ranked pairs a chunk with its relevance to the current investigation.
type Ranked struct {
	Chunk Chunk
	Score float64
}

// Config bounds retrieval.
type Config struct {
	// Dir holds the knowledge YAML files (one document list per file).
	Dir string

	// Per-type retrieval limits.
	MaxRunbooks    int
	MaxKnownIssues int
	MaxPostmortems int

	// MinScore is the minimum relevance for a chunk to be retained.
	MinScore float64
}

// DefaultConfig returns the default retrieval bounds.
func DefaultConfig() Config {
	return Config{
		MaxRunbooks:    3,
		MaxKnownIssues: 3,
		MaxPostmortems: 2,
		MinScore:       0.1,
	}
}

// Manager owns the knowledge index and the currently-relevant chunk set.
type Manager struct {
	mu     sync.Mutex
	config Config
	logger *slog.Logger

	index   []Chunk
	current map[string]Ranked // by chunk id

	query        string
	seenServices map[string]bool
	seenSymptoms map[string]bool
}

// New creates a manager. Call Init before querying.
func New(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.MaxRunbooks <= 0 {
		cfg.MaxRunbooks = defaults.MaxRunbooks
	}
	if cfg.MaxKnownIssues <= 0 {
		cfg.MaxKnownIssues = defaults.MaxKnownIssues
	}
	if cfg.MaxPostmortems <= 0 {
		cfg.MaxPostmortems = defaults.MaxPostmortems
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = defaults.MinScore
	}
	return &Manager{
		config:       cfg,
		logger:       logger,
		current:      make(map[string]Ranked),
		seenServices: make(map[string]bool),
		seenSymptoms: make(map[string]bool),
	}
}

// Init builds the index from the knowledge directory. Known issues that are
// not active are excluded. A missing directory yields an empty index.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.index = nil
	if m.config.Dir == "" {
		return nil
	}

	entries, err := os.ReadDir(m.config.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read knowledge dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		path := filepath.Join(m.config.Dir, name)
		// #nosec G304 -- path is under the configured knowledge dir
		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Warn("skipping unreadable knowledge file", "path", path, "error", err)
			continue
		}
		var chunks []Chunk
		if err := yaml.Unmarshal(data, &chunks); err != nil {
			m.logger.Warn("skipping malformed knowledge file", "path", path, "error", err)
			continue
		}
		for _, chunk := range chunks {
			if chunk.Type == TypeKnownIssue && chunk.Status != "" && chunk.Status != "active" {
				continue
			}
			m.index = append(m.index, chunk)
		}
	}

	m.logger.Info("knowledge index built", "chunks", len(m.index))
	return nil
}

// QueryForInvestigation performs the initial retrieval for a query and the
// services already known to be involved.
func (m *Manager) QueryForInvestigation(query string, services []string) []Ranked {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.query = query
	for _, svc := range services {
		m.seenServices[strings.ToLower(svc)] = true
	}

	m.current = make(map[string]Ranked)
	m.mergeLocked(m.retrieveLocked(query, services, nil))
	return m.snapshotLocked()
}

// QueryForNewServices re-queries for services not seen before. Results merge
// into the current set, dedupe by id and re-trim to the per-type limits.
func (m *Manager) QueryForNewServices(newServices []string) []Ranked {
	m.mu.Lock()
	defer m.mu.Unlock()

	var unseen []string
	for _, svc := range newServices {
		key := strings.ToLower(svc)
		if !m.seenServices[key] {
			m.seenServices[key] = true
			unseen = append(unseen, svc)
		}
	}
	if len(unseen) > 0 {
		m.mergeLocked(m.retrieveLocked("", unseen, nil))
	}
	return m.snapshotLocked()
}

// QueryForNewSymptoms re-queries for previously-unseen symptoms.
func (m *Manager) QueryForNewSymptoms(newSymptoms []string) []Ranked {
	m.mu.Lock()
	defer m.mu.Unlock()

	var unseen []string
	for _, symptom := range newSymptoms {
		key := strings.ToLower(symptom)
		if !m.seenSymptoms[key] {
			m.seenSymptoms[key] = true
			unseen = append(unseen, symptom)
		}
	}
	if len(unseen) > 0 {
		m.mergeLocked(m.retrieveLocked("", nil, unseen))
	}
	return m.snapshotLocked()
}

// InvestigationFacets is the subset of investigation state the manager
// tracks deltas against.
type InvestigationFacets struct {
	Services []string
	Symptoms []string
}

// UpdateFromInvestigationState computes the service and symptom deltas since
// the previous call and re-queries only for the new facets.
func (m *Manager) UpdateFromInvestigationState(state, prev InvestigationFacets) []Ranked {
	newServices := diff(state.Services, prev.Services)
	newSymptoms := diff(state.Symptoms, prev.Symptoms)

	if len(newServices) > 0 {
		m.QueryForNewServices(newServices)
	}
	if len(newSymptoms) > 0 {
		m.QueryForNewSymptoms(newSymptoms)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// retrieveLocked scores every indexed chunk against the given facets.
func (m *Manager) retrieveLocked(query string, services, symptoms []string) []Ranked {
	var out []Ranked
	for _, chunk := range m.index {
		score := scoreChunk(chunk, query, services, symptoms)
		if score >= m.config.MinScore {
			out = append(out, Ranked{Chunk: chunk, Score: score})
		}
	}
	return out
}

// mergeLocked merges retrieved chunks into the current set (highest score
// wins per id) and re-trims each type to its limit by descending score.
func (m *Manager) mergeLocked(retrieved []Ranked) {
	for _, r := range retrieved {
		if existing, ok := m.current[r.Chunk.ID]; !ok || r.Score > existing.Score {
			m.current[r.Chunk.ID] = r
		}
	}

	byType := make(map[ChunkType][]Ranked)
	for _, r := range m.current {
		byType[r.Chunk.Type] = append(byType[r.Chunk.Type], r)
	}

	m.current = make(map[string]Ranked)
	for chunkType, ranked := range byType {
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].Score != ranked[j].Score {
				return ranked[i].Score > ranked[j].Score
			}
			return ranked[i].Chunk.ID < ranked[j].Chunk.ID
		})
		limit := m.limitFor(chunkType)
		if len(ranked) > limit {
			ranked = ranked[:limit]
		}
		for _, r := range ranked {
			m.current[r.Chunk.ID] = r
		}
	}
}

func (m *Manager) limitFor(chunkType ChunkType) int {
	switch chunkType {
	case TypeRunbook:
		return m.config.MaxRunbooks
	case TypeKnownIssue:
		return m.config.MaxKnownIssues
	case TypePostmortem:
		return m.config.MaxPostmortems
	default:
		return m.config.MaxRunbooks
	}
}

func (m *Manager) snapshotLocked() []Ranked {
	out := make([]Ranked, 0, len(m.current))
	for _, r := range m.current {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	return out
}

// BuildContext renders the current chunk set for prompt injection.
func (m *Manager) BuildContext() string {
	m.mu.Lock()
	chunks := m.snapshotLocked()
	m.mu.Unlock()

	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant knowledge:\n")
	for _, r := range chunks {
		fmt.Fprintf(&b, "- [%s] %s", r.Chunk.Type, r.Chunk.Title)
		if r.Chunk.RootCause != "" {
			fmt.Fprintf(&b, " (root cause: %s)", r.Chunk.RootCause)
		}
		if r.Chunk.Workaround != "" {
			fmt.Fprintf(&b, " (workaround: %s)", r.Chunk.Workaround)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// scoreChunk is token overlap between the facets and the chunk's services,
// symptoms and title. Service hits dominate.
func scoreChunk(chunk Chunk, query string, services, symptoms []string) float64 {
	score := 0.0

	for _, svc := range services {
		for _, cs := range chunk.Services {
			if strings.EqualFold(svc, cs) {
				score += 0.5
			}
		}
	}

	lowerTitle := strings.ToLower(chunk.Title)
	lowerBody := strings.ToLower(chunk.Body)
	for _, symptom := range symptoms {
		for _, cs := range chunk.Symptoms {
			if tokenOverlap(symptom, cs) > 0.3 {
				score += 0.4
			}
		}
		if strings.Contains(lowerTitle, strings.ToLower(symptom)) {
			score += 0.2
		}
	}

	if query != "" {
		for _, token := range strings.Fields(strings.ToLower(query)) {
			if len(token) <= 2 {
				continue
			}
			if strings.Contains(lowerTitle, token) {
				score += 0.15
			} else if strings.Contains(lowerBody, token) {
				score += 0.05
			}
			for _, cs := range chunk.Services {
				if strings.Contains(token, strings.ToLower(cs)) || strings.Contains(strings.ToLower(cs), token) {
					score += 0.3
					break
				}
			}
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func tokenOverlap(a, b string) float64 {
	setA := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(a)) {
		setA[t] = true
	}
	tokensB := strings.Fields(strings.ToLower(b))
	if len(setA) == 0 || len(tokensB) == 0 {
		return 0
	}
	hits := 0
	for _, t := range tokensB {
		if setA[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(tokensB))
}

func diff(current, prev []string) []string {
	seen := make(map[string]bool, len(prev))
	for _, s := range prev {
		seen[strings.ToLower(s)] = true
	}
	var out []string
	for _, s := range current {
		if !seen[strings.ToLower(s)] {
			out = append(out, s)
		}
	}
	return out
}
