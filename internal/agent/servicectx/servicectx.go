// Package servicectx merges the service graph, ownership information and
// the knowledge index into a per-service context object the investigation
// loop injects into prompts.
package servicectx

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sleuth-dev/sleuth/internal/agent/knowledgectx"
	"github.com/sleuth-dev/sleuth/internal/graph"
)

// Config controls traversal depth.
type Config struct {
	// MaxDependencyDepth bounds the upstream-cause traversal.
	MaxDependencyDepth int
}

// DefaultConfig traverses two dependency hops.
func DefaultConfig() Config {
	return Config{MaxDependencyDepth: 2}
}

// Context is the merged per-service view.
type Context struct {
	Service              *graph.ServiceNode  `json:"service"`
	DirectDependencies   []Dependency        `json:"direct_dependencies,omitempty"`
	CriticalDependencies []Dependency        `json:"critical_dependencies,omitempty"`
	UpstreamCauses       []UpstreamCause     `json:"upstream_causes,omitempty"`
	BlastRadius          BlastRadius         `json:"blast_radius"`
	Runbooks             []knowledgectx.Chunk `json:"runbooks,omitempty"`
	KnownIssues          []knowledgectx.Chunk `json:"known_issues,omitempty"`
	Postmortems          []knowledgectx.Chunk `json:"postmortems,omitempty"`
}

// Dependency is one outgoing edge with its target resolved.
type Dependency struct {
	Target      *graph.ServiceNode    `json:"target"`
	Criticality graph.EdgeCriticality `json:"criticality"`
	Type        string                `json:"type,omitempty"`
}

// UpstreamCause is a dependency that could plausibly explain the service's
// symptoms, ranked by how failure-prone its kind is.
type UpstreamCause struct {
	Service     *graph.ServiceNode    `json:"service"`
	Depth       int                   `json:"depth"`
	Criticality graph.EdgeCriticality `json:"criticality"`
	Rank        float64               `json:"rank"`
}

// BlastRadius is the set of services affected when this one fails.
type BlastRadius struct {
	DirectDependents         []string           `json:"direct_dependents,omitempty"`
	TransitiveDependents     []string           `json:"transitive_dependents,omitempty"`
	CriticalServicesAffected []string           `json:"critical_services_affected,omitempty"`
	CriticalPaths            []graph.ImpactPath `json:"critical_paths,omitempty"`
}

// KnowledgeSource retrieves knowledge chunks relevant to a set of services.
type KnowledgeSource interface {
	QueryForNewServices(services []string) []knowledgectx.Ranked
}

// Manager builds per-service contexts.
type Manager struct {
	config    Config
	graph     *graph.ServiceGraph
	knowledge KnowledgeSource
	logger    *slog.Logger
}

// New creates a manager. The knowledge source may be nil; contexts then
// carry graph data only.
func New(cfg Config, g *graph.ServiceGraph, knowledge KnowledgeSource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxDependencyDepth <= 0 {
		cfg.MaxDependencyDepth = DefaultConfig().MaxDependencyDepth
	}
	return &Manager{config: cfg, graph: g, knowledge: knowledge, logger: logger}
}

// BuildContext assembles the merged context for a service, resolved by id
// or case-insensitive name.
func (m *Manager) BuildContext(service string) (*Context, error) {
	node, ok := m.graph.GetService(service)
	if !ok {
		node, ok = m.graph.GetServiceByName(service)
		if !ok {
			return nil, fmt.Errorf("unknown service %q", service)
		}
	}

	ctx := &Context{Service: node}
	m.fillDependencies(ctx, node)
	m.fillUpstreamCauses(ctx, node)
	m.fillBlastRadius(ctx, node)
	m.fillKnowledge(ctx, node)
	return ctx, nil
}

func (m *Manager) fillDependencies(ctx *Context, node *graph.ServiceNode) {
	for _, edge := range m.graph.Dependencies(node.ID) {
		target, ok := m.graph.GetService(edge.Target)
		if !ok {
			continue
		}
		dep := Dependency{Target: target, Criticality: edge.Criticality, Type: edge.Type}
		ctx.DirectDependencies = append(ctx.DirectDependencies, dep)
		if edge.Criticality == graph.CriticalityCritical {
			ctx.CriticalDependencies = append(ctx.CriticalDependencies, dep)
		}
	}
}

// fillUpstreamCauses walks the dependency edges up to MaxDependencyDepth
// and ranks reachable services by failure-proneness: critical edges first,
// then databases and caches, then everything else, closer hops preferred.
func (m *Manager) fillUpstreamCauses(ctx *Context, node *graph.ServiceNode) {
	impacts := m.graph.GetDownstreamImpact(node.ID, m.config.MaxDependencyDepth)
	for _, impact := range impacts {
		target, ok := m.graph.GetService(impact.Affected)
		if !ok {
			continue
		}
		rank := 0.0
		if impact.Criticality == graph.CriticalityCritical {
			rank += 0.5
		}
		switch target.Type {
		case graph.ServiceTypeDatabase:
			rank += 0.3
		case graph.ServiceTypeCache:
			rank += 0.2
		case graph.ServiceTypeQueue:
			rank += 0.15
		}
		rank += 0.2 / float64(impact.Hops)

		ctx.UpstreamCauses = append(ctx.UpstreamCauses, UpstreamCause{
			Service:     target,
			Depth:       impact.Hops,
			Criticality: impact.Criticality,
			Rank:        rank,
		})
	}
	sort.SliceStable(ctx.UpstreamCauses, func(i, j int) bool {
		if ctx.UpstreamCauses[i].Rank != ctx.UpstreamCauses[j].Rank {
			return ctx.UpstreamCauses[i].Rank > ctx.UpstreamCauses[j].Rank
		}
		return ctx.UpstreamCauses[i].Service.ID < ctx.UpstreamCauses[j].Service.ID
	})
}

func (m *Manager) fillBlastRadius(ctx *Context, node *graph.ServiceNode) {
	for _, edge := range m.graph.Dependents(node.ID) {
		ctx.BlastRadius.DirectDependents = append(ctx.BlastRadius.DirectDependents, edge.Source)
	}
	sort.Strings(ctx.BlastRadius.DirectDependents)

	direct := make(map[string]bool, len(ctx.BlastRadius.DirectDependents))
	for _, id := range ctx.BlastRadius.DirectDependents {
		direct[id] = true
	}

	impacts := m.graph.GetUpstreamImpact(node.ID, m.config.MaxDependencyDepth)
	for _, impact := range impacts {
		if !direct[impact.Affected] {
			ctx.BlastRadius.TransitiveDependents = append(ctx.BlastRadius.TransitiveDependents, impact.Affected)
		}
		if impact.Criticality == graph.CriticalityCritical {
			ctx.BlastRadius.CriticalPaths = append(ctx.BlastRadius.CriticalPaths, impact)
		}
		if affected, ok := m.graph.GetService(impact.Affected); ok && affected.Tier == graph.TierCritical {
			ctx.BlastRadius.CriticalServicesAffected = append(ctx.BlastRadius.CriticalServicesAffected, impact.Affected)
		}
	}
	sort.Strings(ctx.BlastRadius.TransitiveDependents)
	sort.Strings(ctx.BlastRadius.CriticalServicesAffected)
}

func (m *Manager) fillKnowledge(ctx *Context, node *graph.ServiceNode) {
	if m.knowledge == nil {
		return
	}
	for _, ranked := range m.knowledge.QueryForNewServices([]string{node.Name}) {
		if !mentionsService(ranked.Chunk, node.Name) {
			continue
		}
		switch ranked.Chunk.Type {
		case knowledgectx.TypeRunbook:
			ctx.Runbooks = append(ctx.Runbooks, ranked.Chunk)
		case knowledgectx.TypeKnownIssue:
			ctx.KnownIssues = append(ctx.KnownIssues, ranked.Chunk)
		case knowledgectx.TypePostmortem:
			ctx.Postmortems = append(ctx.Postmortems, ranked.Chunk)
		}
	}
}

func mentionsService(chunk knowledgectx.Chunk, name string) bool {
	for _, svc := range chunk.Services {
		if strings.EqualFold(svc, name) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(chunk.Title), strings.ToLower(name))
}

// Render produces the prompt text for a context.
func (c *Context) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Service %s (%s", c.Service.Name, c.Service.Type)
	if c.Service.Team != "" {
		fmt.Fprintf(&b, ", owned by %s", c.Service.Team)
	}
	b.WriteString(")\n")

	if len(c.CriticalDependencies) > 0 {
		b.WriteString("Critical dependencies:")
		for _, dep := range c.CriticalDependencies {
			fmt.Fprintf(&b, " %s", dep.Target.Name)
		}
		b.WriteString("\n")
	}
	if len(c.UpstreamCauses) > 0 {
		b.WriteString("Likely upstream causes to check first:")
		for i, cause := range c.UpstreamCauses {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, " %s", cause.Service.Name)
		}
		b.WriteString("\n")
	}
	if n := len(c.BlastRadius.DirectDependents) + len(c.BlastRadius.TransitiveDependents); n > 0 {
		fmt.Fprintf(&b, "Blast radius: %d dependent services", n)
		if len(c.BlastRadius.CriticalServicesAffected) > 0 {
			fmt.Fprintf(&b, ", including critical-tier %s",
				strings.Join(c.BlastRadius.CriticalServicesAffected, ", "))
		}
		b.WriteString("\n")
	}
	for _, rb := range c.Runbooks {
		fmt.Fprintf(&b, "Runbook: %s\n", rb.Title)
	}
	for _, ki := range c.KnownIssues {
		fmt.Fprintf(&b, "Known issue: %s", ki.Title)
		if ki.Workaround != "" {
			fmt.Fprintf(&b, " (workaround: %s)", ki.Workaround)
		}
		b.WriteString("\n")
	}
	for _, pm := range c.Postmortems {
		fmt.Fprintf(&b, "Past incident: %s (root cause: %s)\n", pm.Title, pm.RootCause)
	}
	return b.String()
}
