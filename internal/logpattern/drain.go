// Package logpattern clusters raw log lines into stable templates so the
// investigation loop can reason about recurring patterns instead of
// individual lines. Clustering uses the Drain algorithm; variable masking
// happens after clustering so that Drain sees the raw token structure.
package logpattern

import (
	"github.com/faceair/drain"
)

// Config tunes the Drain parse tree.
type Config struct {
	// LogClusterDepth controls the depth of the parse tree (minimum 3).
	LogClusterDepth int

	// SimTh is the similarity threshold. Higher values merge more lines
	// into the same template.
	SimTh float64

	// MaxChildren limits branches per node so lines that start with a
	// variable token cannot explode the tree.
	MaxChildren int

	// MaxClusters limits total templates (0 = unlimited).
	MaxClusters int

	// ExtraDelimiters are token separators beyond whitespace.
	ExtraDelimiters []string

	// ParamString is the wildcard placeholder used in templates.
	ParamString string
}

// DefaultConfig is tuned for structured service logs.
func DefaultConfig() Config {
	return Config{
		LogClusterDepth: 4,
		SimTh:           0.4,
		MaxChildren:     100,
		MaxClusters:     0,
		ExtraDelimiters: []string{"_", "="},
		ParamString:     "<*>",
	}
}

type processor struct {
	drain *drain.Drain
}

func newProcessor(cfg Config) *processor {
	return &processor{
		drain: drain.New(&drain.Config{
			LogClusterDepth: cfg.LogClusterDepth,
			SimTh:           cfg.SimTh,
			MaxChildren:     cfg.MaxChildren,
			MaxClusters:     cfg.MaxClusters,
			ExtraDelimiters: cfg.ExtraDelimiters,
			ParamString:     cfg.ParamString,
		}),
	}
}

// train ingests a line and returns its matched or newly created cluster.
func (p *processor) train(line string) *drain.LogCluster {
	return p.drain.Train(line)
}
