package scratchpad

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when a result id was never assigned.
var ErrNotFound = fmt.Errorf("scratchpad: result not found")

// jaccardWarnThreshold is the similarity above which a repeated query for
// the same tool triggers a loop warning.
const jaccardWarnThreshold = 0.8

// Config controls scratchpad behaviour.
type Config struct {
	// LogPath is the JSONL log file. Empty disables the on-disk log.
	LogPath string

	// DefaultToolCap is the soft per-tool call cap when no override exists.
	DefaultToolCap int

	// ToolCaps overrides the soft cap per tool name.
	ToolCaps map[string]int
}

// DefaultConfig returns the default scratchpad configuration.
func DefaultConfig() Config {
	return Config{DefaultToolCap: 8}
}

type toolUsage struct {
	calls   int
	queries []string
}

// Scratchpad is the append-only audit log plus the tiered in-memory store of
// tool results. It is owned by a single investigation; concurrent use within
// that investigation is safe.
type Scratchpad struct {
	mu     sync.Mutex
	config Config

	file   *os.File
	writer *bufio.Writer

	entries   []Entry                // all appended entries in order
	order     []string               // result ids in append order
	results   map[string]*ToolResult // archive: never removed
	summaries map[string]*CompactSummary
	tiers     map[string]Tier
	usage     map[string]*toolUsage
	seq       int
}

// New creates a scratchpad. When cfg.LogPath names an existing log the prior
// entries are replayed: results are rebuilt with tier full (compaction
// re-runs lazily) and the id sequence continues where it left off.
func New(cfg Config) (*Scratchpad, error) {
	if cfg.DefaultToolCap <= 0 {
		cfg.DefaultToolCap = DefaultConfig().DefaultToolCap
	}

	s := &Scratchpad{
		config:    cfg,
		results:   make(map[string]*ToolResult),
		summaries: make(map[string]*CompactSummary),
		tiers:     make(map[string]Tier),
		usage:     make(map[string]*toolUsage),
	}

	if cfg.LogPath != "" {
		if data, err := os.ReadFile(cfg.LogPath); err == nil {
			s.replay(data)
		}

		// #nosec G304 -- log path is user-provided configuration
		file, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open scratchpad log: %w", err)
		}
		s.file = file
		s.writer = bufio.NewWriter(file)
	}

	return s, nil
}

// replay rebuilds in-memory state from a prior JSONL log. Unknown entry
// types and fields are ignored.
func (s *Scratchpad) replay(data []byte) {
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		s.entries = append(s.entries, entry)
		if entry.Type != EntryTypeToolResult || entry.ResultID == "" {
			continue
		}
		result := &ToolResult{
			ResultID:   entry.ResultID,
			ToolName:   entry.ToolName,
			Args:       entry.Args,
			Result:     entry.Result,
			DurationMs: entry.DurationMs,
			Timestamp:  entry.Timestamp,
		}
		s.results[entry.ResultID] = result
		s.order = append(s.order, entry.ResultID)
		s.tiers[entry.ResultID] = TierFull
		s.summaries[entry.ResultID] = Summarize(entry.ToolName, entry.Args, entry.Result)
		s.trackUsage(entry.ToolName, entry.Args)
		s.seq++
	}
}

// Append writes a typed entry to the log. I/O errors are surfaced but the
// in-memory state is updated regardless so the investigation can continue.
func (s *Scratchpad) Append(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(entry)
}

func (s *Scratchpad) append(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.entries = append(s.entries, entry)

	if s.writer == nil {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal scratchpad entry: %w", err)
	}
	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write scratchpad entry: %w", err)
	}
	if _, err := s.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	// Flush immediately for crash safety
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush scratchpad log: %w", err)
	}
	return nil
}

// AppendToolResult records a completed tool execution, assigns a stable
// result id, sets its tier to full and tracks tool usage. The returned id is
// valid for retrieval for the remainder of the investigation.
func (s *Scratchpad) AppendToolResult(tool string, args map[string]interface{}, result interface{}, durationMs int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := fmt.Sprintf("r%d", s.seq)
	now := time.Now().UTC()

	record := &ToolResult{
		ResultID:   id,
		ToolName:   tool,
		Args:       args,
		Result:     result,
		DurationMs: durationMs,
		Timestamp:  now,
	}
	s.results[id] = record
	s.order = append(s.order, id)
	s.tiers[id] = TierFull
	s.summaries[id] = Summarize(tool, args, result)
	s.trackUsage(tool, args)

	err := s.append(Entry{
		Type:       EntryTypeToolResult,
		Timestamp:  now,
		ResultID:   id,
		ToolName:   tool,
		Args:       args,
		Result:     result,
		DurationMs: durationMs,
	})
	return id, err
}

func (s *Scratchpad) trackUsage(tool string, args map[string]interface{}) {
	u := s.usage[tool]
	if u == nil {
		u = &toolUsage{}
		s.usage[tool] = u
	}
	u.calls++
	if args != nil {
		if data, err := json.Marshal(args); err == nil {
			u.queries = append(u.queries, string(data))
		}
	}
}

// CanCallTool performs the soft rate-limit check for a tool. The call is
// always allowed; a warning is emitted when the soft cap is reached, when it
// is one call away, or when the query is near-identical (Jaccard >= 0.8) to
// a previous query for the same tool.
func (s *Scratchpad) CanCallTool(tool, query string) CallCheck {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := s.config.DefaultToolCap
	if override, ok := s.config.ToolCaps[tool]; ok {
		limit = override
	}

	check := CallCheck{Allowed: true}
	u := s.usage[tool]
	calls := 0
	if u != nil {
		calls = u.calls
	}

	switch {
	case calls >= limit:
		check.Warning = fmt.Sprintf("tool %q has reached its soft limit (%d/%d calls); prefer retrieving prior results by id or trying a different tool", tool, limit, limit)
	case calls == limit-1:
		check.Warning = fmt.Sprintf("tool %q is one call away from its soft limit (%d/%d calls)", tool, calls, limit)
	}

	if query != "" && u != nil {
		for _, prior := range u.queries {
			if jaccardSimilarity(query, prior) >= jaccardWarnThreshold {
				similar := fmt.Sprintf("query is %.0f%%+ similar to a previous %q call; consider varying parameters or reusing the earlier result", jaccardWarnThreshold*100, tool)
				if check.Warning != "" {
					check.Warning += "; " + similar
				} else {
					check.Warning = similar
				}
				break
			}
		}
	}
	return check
}

// jaccardSimilarity computes token-set Jaccard similarity of two strings.
func jaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}
	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if token != "" {
			set[token] = true
		}
	}
	return set
}

// ApplyCompactionPlan moves each referenced result to the tier assigned by
// the plan. Cleared results stay retrievable via GetResultByID.
func (s *Scratchpad) ApplyCompactionPlan(plan CompactionPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range plan.KeepFull {
		if _, ok := s.results[id]; ok {
			s.tiers[id] = TierFull
		}
	}
	for _, id := range plan.Compact {
		if _, ok := s.results[id]; ok {
			s.tiers[id] = TierCompact
		}
	}
	for _, id := range plan.Clear {
		if _, ok := s.results[id]; ok {
			s.tiers[id] = TierCleared
		}
	}
}

// GetResultByID returns the archived full result regardless of tier. It
// fails only when the id was never assigned.
func (s *Scratchpad) GetResultByID(id string) (*ToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.results[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return result, nil
}

// GetSummary returns the compact summary for a result id.
func (s *Scratchpad) GetSummary(id string) (*CompactSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.summaries[id]
	return summary, ok
}

// Results returns all tool results in append order along with their tiers
// and summaries. The compactor consumes this snapshot for scoring.
func (s *Scratchpad) Results() []ScoredInput {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScoredInput, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, ScoredInput{
			Result:  s.results[id],
			Summary: s.summaries[id],
			Tier:    s.tiers[id],
		})
	}
	return out
}

// ScoredInput pairs a tool result with its summary and current tier.
type ScoredInput struct {
	Result  *ToolResult
	Summary *CompactSummary
	Tier    Tier
}

// ToolUsage returns the number of calls recorded for a tool.
func (s *Scratchpad) ToolUsage(tool string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.usage[tool]; u != nil {
		return u.calls
	}
	return 0
}

// TokenEstimate approximates the token footprint of the rendered context
// using the chars/4 heuristic.
func (s *Scratchpad) TokenEstimate() int {
	return len(s.BuildTieredContext()) / 4
}

// BuildTieredContext renders the tool results for prompt inclusion: full
// results verbatim, compact results as one-line summaries keyed by result
// id, and a count of cleared results with instructions to retrieve them by
// id if needed.
func (s *Scratchpad) BuildTieredContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	cleared := 0

	for _, id := range s.order {
		result := s.results[id]
		switch s.tiers[id] {
		case TierFull:
			data, err := json.Marshal(result.Result)
			if err != nil {
				data = []byte(fmt.Sprintf("%v", result.Result))
			}
			args, _ := json.Marshal(result.Args)
			fmt.Fprintf(&b, "[%s] %s(%s) (%dms):\n%s\n\n", id, result.ToolName, args, result.DurationMs, data)
		case TierCompact:
			line := result.ToolName
			if summary := s.summaries[id]; summary != nil {
				line = summary.ShortText
			}
			fmt.Fprintf(&b, "[%s] %s\n", id, line)
		case TierCleared:
			cleared++
		}
	}

	if cleared > 0 {
		fmt.Fprintf(&b, "\n%d earlier tool results were cleared from context to save space. Use get_result_by_id with the result id (e.g. %q) to retrieve any of them in full.\n", cleared, s.clearedIDsLocked())
	}
	return b.String()
}

func (s *Scratchpad) clearedIDsLocked() string {
	var ids []string
	for _, id := range s.order {
		if s.tiers[id] == TierCleared {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// Entries returns a copy of all appended entries in order.
func (s *Scratchpad) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Close flushes and closes the on-disk log.
func (s *Scratchpad) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return nil
	}
	var errs []error
	if err := s.writer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush scratchpad log: %w", err))
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close scratchpad log: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing scratchpad: %v", errs)
	}
	return nil
}
