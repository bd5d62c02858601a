// Package hypothesis implements the investigation's hypothesis tree: node
// lifecycle, evidence bookkeeping, the active frontier and the branch or
// confirm policy applied after each evaluation round.
package hypothesis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Status is a hypothesis lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPruned    Status = "pruned"
	StatusConfirmed Status = "confirmed"
)

// Strength grades the evidence gathered for a hypothesis.
type Strength string

const (
	StrengthPending       Strength = "pending"
	StrengthNone          Strength = "none"
	StrengthWeak          Strength = "weak"
	StrengthStrong        Strength = "strong"
	StrengthContradicting Strength = "contradicting"
)

// Category groups hypotheses by failure domain.
type Category string

const (
	CategoryInfrastructure Category = "infrastructure"
	CategoryDeployment     Category = "deployment"
	CategoryDependency     Category = "dependency"
	CategoryCapacity       Category = "capacity"
	CategoryConfiguration  Category = "configuration"
	CategoryExternal       Category = "external"
	CategoryUnknown        Category = "unknown"
)

// Node is one hypothesis in the tree.
type Node struct {
	ID               string    `json:"id"`
	ParentID         string    `json:"parent_id,omitempty"`
	Statement        string    `json:"statement"`
	Category         Category  `json:"category"`
	Priority         int       `json:"priority"`
	Status           Status    `json:"status"`
	EvidenceStrength Strength  `json:"evidence_strength"`
	Depth            int       `json:"depth"`
	CreatedAt        time.Time `json:"created_at"`
	Evidence         []Evidence `json:"evidence,omitempty"`
}

// Evidence is one piece of evidence attached to a hypothesis.
type Evidence struct {
	Strength        Strength  `json:"strength"`
	Content         string    `json:"content"`
	SourceResultIDs []string  `json:"source_result_ids,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Action is the policy outcome for a hypothesis after evaluation.
type Action string

const (
	// ActionBranch asks for child sub-hypotheses under a well-evidenced but
	// non-specific statement.
	ActionBranch Action = "branch"
	// ActionConfirm marks a specific, well-evidenced hypothesis confirmed.
	ActionConfirm Action = "confirm"
	// ActionKeep leaves the hypothesis active and schedules more queries.
	ActionKeep Action = "keep"
	// ActionPrune removes the hypothesis and its subtree from consideration.
	ActionPrune Action = "prune"
)

// ErrIllegalState is returned for operations on pruned or confirmed nodes.
var ErrIllegalState = fmt.Errorf("hypothesis: illegal state")

// ErrNotFound is returned for unknown hypothesis ids.
var ErrNotFound = fmt.Errorf("hypothesis: not found")

// ErrDepthExceeded is returned when a proposal would exceed the depth limit.
var ErrDepthExceeded = fmt.Errorf("hypothesis: depth limit exceeded")

// namedResourcePattern decides statement specificity: a statement naming a
// concrete resource (orders-db, checkout-api, payments.svc) is specific
// enough to confirm; a generic statement should branch instead.
var namedResourcePattern = regexp.MustCompile(`\b[a-z][a-z0-9]*(?:[-.][a-z0-9]+)+\b`)

// Config controls the tree.
type Config struct {
	// MaxDepth is the deepest allowed node. Root is depth 0.
	MaxDepth int
	// ConfirmThreshold is the strength required before confirm is allowed.
	ConfirmThreshold Strength
}

// DefaultConfig allows three levels of refinement below the root.
func DefaultConfig() Config {
	return Config{MaxDepth: 3, ConfirmThreshold: StrengthStrong}
}

// Engine owns the hypothesis tree for one investigation.
type Engine struct {
	mu      sync.Mutex
	config  Config
	nodes   map[string]*Node
	order   []string // creation order
	rootID  string
	seq     int
	confirmed string
}

// NewEngine creates an empty tree.
func NewEngine(cfg Config) *Engine {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}
	if cfg.ConfirmThreshold == "" {
		cfg.ConfirmThreshold = StrengthStrong
	}
	return &Engine{
		config: cfg,
		nodes:  make(map[string]*Node),
	}
}

// Propose creates a hypothesis. With an empty parentID the node becomes the
// root; only one root is allowed. Proposals beyond the depth limit or under
// pruned parents fail.
func (e *Engine) Propose(statement string, category Category, priority int, parentID string) (*Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	depth := 0
	if parentID == "" {
		if e.rootID != "" {
			// Additional top-level hypotheses hang off the root
			parentID = e.rootID
		}
	}
	if parentID != "" {
		parent, ok := e.nodes[parentID]
		if !ok {
			return nil, fmt.Errorf("%w: parent %q", ErrNotFound, parentID)
		}
		if parent.Status == StatusPruned {
			return nil, fmt.Errorf("%w: parent %q is pruned", ErrIllegalState, parentID)
		}
		depth = parent.Depth + 1
	}
	if depth > e.config.MaxDepth {
		return nil, fmt.Errorf("%w: depth %d > max %d", ErrDepthExceeded, depth, e.config.MaxDepth)
	}

	e.seq++
	node := &Node{
		ID:               fmt.Sprintf("h%d", e.seq),
		ParentID:         parentID,
		Statement:        statement,
		Category:         category,
		Priority:         priority,
		Status:           StatusActive,
		EvidenceStrength: StrengthPending,
		Depth:            depth,
		CreatedAt:        time.Now().UTC(),
	}
	e.nodes[node.ID] = node
	e.order = append(e.order, node.ID)
	if depth == 0 {
		e.rootID = node.ID
	}
	return cloneNode(node), nil
}

// AttachEvidence appends evidence to an active hypothesis and updates its
// aggregate strength to the strongest signal seen, with contradicting
// evidence dominating.
func (e *Engine) AttachEvidence(id string, strength Strength, content string, sourceResultIDs []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if node.Status != StatusActive {
		return fmt.Errorf("%w: hypothesis %q is %s", ErrIllegalState, id, node.Status)
	}

	node.Evidence = append(node.Evidence, Evidence{
		Strength:        strength,
		Content:         content,
		SourceResultIDs: sourceResultIDs,
		Timestamp:       time.Now().UTC(),
	})
	node.EvidenceStrength = combineStrength(node.EvidenceStrength, strength)
	return nil
}

// strengthRank orders aggregate strength; higher wins except contradicting,
// which dominates everything.
func strengthRank(s Strength) int {
	switch s {
	case StrengthPending:
		return 0
	case StrengthNone:
		return 1
	case StrengthWeak:
		return 2
	case StrengthStrong:
		return 3
	case StrengthContradicting:
		return 4
	default:
		return 0
	}
}

func combineStrength(current, incoming Strength) Strength {
	if strengthRank(incoming) > strengthRank(current) {
		return incoming
	}
	return current
}

// Prune marks a hypothesis and its entire subtree pruned. A pruned subtree
// never re-opens.
func (e *Engine) Prune(id, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if node.Status == StatusConfirmed {
		return fmt.Errorf("%w: cannot prune confirmed hypothesis %q", ErrIllegalState, id)
	}
	e.pruneSubtree(id)
	_ = reason
	return nil
}

func (e *Engine) pruneSubtree(id string) {
	e.nodes[id].Status = StatusPruned
	for _, childID := range e.order {
		child := e.nodes[childID]
		if child.ParentID == id && child.Status != StatusPruned {
			e.pruneSubtree(childID)
		}
	}
}

// Confirm marks a hypothesis confirmed. At most one node per tree can be
// confirmed; pruned nodes cannot be confirmed.
func (e *Engine) Confirm(id string, evidence []Evidence) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if node.Status != StatusActive {
		return fmt.Errorf("%w: hypothesis %q is %s", ErrIllegalState, id, node.Status)
	}
	if e.confirmed != "" {
		return fmt.Errorf("%w: hypothesis %q already confirmed", ErrIllegalState, e.confirmed)
	}

	for _, ev := range evidence {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		node.Evidence = append(node.Evidence, ev)
		node.EvidenceStrength = combineStrength(node.EvidenceStrength, ev.Strength)
	}
	node.Status = StatusConfirmed
	e.confirmed = id
	return nil
}

// Get returns a copy of a node.
func (e *Engine) Get(id string) (*Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	node, ok := e.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return cloneNode(node), nil
}

// Frontier returns the active leaf hypotheses still needing evidence
// (pending, none or weak), ordered by priority descending then creation
// order.
func (e *Engine) Frontier() []*Node {
	e.mu.Lock()
	defer e.mu.Unlock()

	hasActiveChild := make(map[string]bool)
	for _, id := range e.order {
		node := e.nodes[id]
		if node.Status == StatusActive && node.ParentID != "" {
			hasActiveChild[node.ParentID] = true
		}
	}

	var frontier []*Node
	for _, id := range e.order {
		node := e.nodes[id]
		if node.Status != StatusActive || hasActiveChild[id] {
			continue
		}
		switch node.EvidenceStrength {
		case StrengthPending, StrengthNone, StrengthWeak:
			frontier = append(frontier, cloneNode(node))
		}
	}

	sort.SliceStable(frontier, func(i, j int) bool {
		return frontier[i].Priority > frontier[j].Priority
	})
	return frontier
}

// Confirmed returns the confirmed node, if any.
func (e *Engine) Confirmed() (*Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.confirmed == "" {
		return nil, false
	}
	return cloneNode(e.nodes[e.confirmed]), true
}

// IsComplete reports whether the investigation can stop refining: a node is
// confirmed, or the frontier is empty, or every frontier node sits at the
// depth limit with no budget to branch.
func (e *Engine) IsComplete() bool {
	if _, ok := e.Confirmed(); ok {
		return true
	}
	frontier := e.Frontier()
	if len(frontier) == 0 {
		return true
	}
	for _, node := range frontier {
		if node.Depth < e.config.MaxDepth {
			return false
		}
	}
	return true
}

// All returns every node in creation order.
func (e *Engine) All() []*Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Node, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, cloneNode(e.nodes[id]))
	}
	return out
}

// Decide applies the branch or prune policy to a hypothesis given the
// aggregate strength of the evidence gathered this round.
func (e *Engine) Decide(id string) (Action, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.nodes[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if node.Status != StatusActive {
		return "", fmt.Errorf("%w: hypothesis %q is %s", ErrIllegalState, id, node.Status)
	}

	switch node.EvidenceStrength {
	case StrengthStrong:
		if IsSpecific(node.Statement) {
			return ActionConfirm, nil
		}
		if node.Depth >= e.config.MaxDepth {
			// No budget to branch; confirm the best statement we have
			return ActionConfirm, nil
		}
		return ActionBranch, nil
	case StrengthWeak:
		return ActionKeep, nil
	case StrengthNone, StrengthContradicting:
		return ActionPrune, nil
	default:
		return ActionKeep, nil
	}
}

// IsSpecific reports whether a statement names a concrete resource. A
// hypothesis like "orders-db connection pool is exhausted" is specific; "a
// database is overloaded" is not.
func IsSpecific(statement string) bool {
	return namedResourcePattern.MatchString(strings.ToLower(statement))
}

// BuildContext renders the active frontier for prompt injection.
func (e *Engine) BuildContext() string {
	frontier := e.Frontier()
	if len(frontier) == 0 {
		if node, ok := e.Confirmed(); ok {
			return fmt.Sprintf("Confirmed hypothesis: %s", node.Statement)
		}
		return "No active hypotheses."
	}

	var b strings.Builder
	b.WriteString("Active hypotheses (investigate in order):\n")
	for _, node := range frontier {
		fmt.Fprintf(&b, "- [%s] (%s, priority %d, evidence %s) %s\n",
			node.ID, node.Category, node.Priority, node.EvidenceStrength, node.Statement)
	}
	return b.String()
}

func cloneNode(node *Node) *Node {
	clone := *node
	clone.Evidence = append([]Evidence(nil), node.Evidence...)
	return &clone
}
