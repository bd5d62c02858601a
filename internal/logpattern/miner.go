package logpattern

import "fmt"

// Miner feeds log lines from tool results into a Store and reports each
// dominant pattern exactly once, so the investigation can turn recurring
// errors into symptoms without repeating itself every iteration.
type Miner struct {
	store    *Store
	minCount int
	reported map[string]bool
}

// NewMiner creates a miner. Patterns are considered dominant once they
// have minCount occurrences (minimum 2).
func NewMiner(cfg Config, minCount int) *Miner {
	if minCount < 2 {
		minCount = 2
	}
	return &Miner{
		store:    NewStore(cfg),
		minCount: minCount,
		reported: make(map[string]bool),
	}
}

// Ingest clusters the lines under the given service.
func (m *Miner) Ingest(service string, lines []string) {
	if service == "" {
		service = "unknown"
	}
	for _, line := range lines {
		_, _ = m.store.Process(service, line)
	}
}

// NewDominantPatterns returns templates that crossed the dominance
// threshold since the last call, most common first.
func (m *Miner) NewDominantPatterns(service string) TemplateList {
	templates, err := m.store.Templates(service)
	if err != nil {
		return nil
	}

	var fresh TemplateList
	for _, template := range templates.FilterByMinCount(m.minCount) {
		if m.reported[template.ID] {
			continue
		}
		m.reported[template.ID] = true
		fresh = append(fresh, template)
	}
	return fresh
}

// Describe renders a template as a one-line symptom statement.
func Describe(t Template) string {
	return fmt.Sprintf("recurring log pattern for %s (%dx): %s", t.Service, t.Count, t.Pattern)
}
