// Package graph implements the in-process service dependency graph used for
// context building and impact analysis. The graph is a typed directed graph
// of services and their dependencies; it is read-mostly and safe for
// concurrent use.
package graph

import (
	"fmt"
	"time"
)

// ServiceType classifies a node in the dependency graph.
type ServiceType string

const (
	ServiceTypeService        ServiceType = "service"
	ServiceTypeDatabase       ServiceType = "database"
	ServiceTypeCache          ServiceType = "cache"
	ServiceTypeQueue          ServiceType = "queue"
	ServiceTypeExternal       ServiceType = "external"
	ServiceTypeInfrastructure ServiceType = "infrastructure"
)

// Tier indicates how important a service is to the business.
type Tier string

const (
	TierCritical Tier = "critical"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
)

// EdgeCriticality describes how badly the source is affected when the
// target is unavailable.
type EdgeCriticality string

const (
	// CriticalityCritical means the source cannot function without the target.
	CriticalityCritical EdgeCriticality = "critical"
	// CriticalityDegraded means the source keeps running with reduced functionality.
	CriticalityDegraded EdgeCriticality = "degraded"
	// CriticalityOptional means the target is a nice-to-have.
	CriticalityOptional EdgeCriticality = "optional"
)

// criticalityRank orders criticalities so that critical < degraded < optional.
func criticalityRank(c EdgeCriticality) int {
	switch c {
	case CriticalityCritical:
		return 0
	case CriticalityDegraded:
		return 1
	case CriticalityOptional:
		return 2
	default:
		return 2
	}
}

// mergeCriticality combines two edge criticalities along a path using
// weakest-link semantics: a path is only as critical as its least critical
// edge, so the higher rank (critical < degraded < optional) wins.
func mergeCriticality(a, b EdgeCriticality) EdgeCriticality {
	if criticalityRank(a) >= criticalityRank(b) {
		return a
	}
	return b
}

// ServiceNode is a single node in the dependency graph.
type ServiceNode struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Type      ServiceType       `json:"type"`
	Team      string            `json:"team,omitempty"`
	Tier      Tier              `json:"tier,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// DependencyEdge is a directed dependency from Source to Target.
// The edge ID is "source->target"; at most one edge exists per ordered pair.
type DependencyEdge struct {
	Source      string          `json:"source"`
	Target      string          `json:"target"`
	Type        string          `json:"type"`
	Protocol    string          `json:"protocol,omitempty"`
	Criticality EdgeCriticality `json:"criticality"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// ID returns the canonical edge identifier.
func (e DependencyEdge) ID() string {
	return EdgeID(e.Source, e.Target)
}

// EdgeID builds the canonical identifier for an ordered pair of nodes.
func EdgeID(source, target string) string {
	return fmt.Sprintf("%s->%s", source, target)
}

// ImpactPath describes how a failure of Source reaches Affected. Criticality
// is the minimum edge criticality along Path.
type ImpactPath struct {
	Source      string          `json:"source"`
	Affected    string          `json:"affected"`
	Path        []string        `json:"path"`
	Hops        int             `json:"hops"`
	Criticality EdgeCriticality `json:"criticality"`
}
