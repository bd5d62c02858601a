// Package skills loads remediation recipes from YAML and runs them step by
// step, routing every mutating step through the approval protocol.
package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/sleuth-dev/sleuth/internal/agent/tools"
	"github.com/sleuth-dev/sleuth/internal/approval"
)

// Step is one action in a skill.
type Step struct {
	Name string                 `yaml:"name" json:"name"`
	Tool string                 `yaml:"tool" json:"tool"`
	Args map[string]interface{} `yaml:"args" json:"args,omitempty"`

	// Mutating steps go through the approval protocol.
	Mutating        bool   `yaml:"mutating" json:"mutating,omitempty"`
	Operation       string `yaml:"operation" json:"operation,omitempty"`
	Resource        string `yaml:"resource" json:"resource,omitempty"`
	RollbackCommand string `yaml:"rollback_command" json:"rollback_command,omitempty"`
	EstimatedImpact string `yaml:"estimated_impact" json:"estimated_impact,omitempty"`
}

// Skill is a named remediation recipe.
type Skill struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Triggers    []string `yaml:"triggers" json:"triggers"`
	Services    []string `yaml:"services" json:"services,omitempty"`
	Steps       []Step   `yaml:"steps" json:"steps"`
}

// StepResult records one executed (or skipped) step.
type StepResult struct {
	Step     string        `json:"step"`
	Tool     string        `json:"tool"`
	Skipped  bool          `json:"skipped,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Success  bool          `json:"success"`
	Summary  string        `json:"summary,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunResult is the outcome of one skill execution.
type RunResult struct {
	Skill   string       `json:"skill"`
	Steps   []StepResult `json:"steps"`
	Aborted bool         `json:"aborted,omitempty"`
}

// Approver mediates mutating steps. The approval protocol satisfies it.
type Approver interface {
	RequestApproval(ctx context.Context, req approval.MutationRequest) (approval.Decision, error)
}

// Registry holds loaded skills.
type Registry struct {
	skills []Skill
	logger *slog.Logger
}

// Load reads every skill YAML under dir. Files with .yaml or .yml
// extensions each hold one skill document.
func Load(dir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	if dir == "" {
		return r, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read skills dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		path := filepath.Join(dir, name)
		// #nosec G304 -- path is under the configured skills dir
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable skill file", "path", path, "error", err)
			continue
		}
		var skill Skill
		if err := yaml.Unmarshal(data, &skill); err != nil {
			logger.Warn("skipping malformed skill file", "path", path, "error", err)
			continue
		}
		if skill.Name == "" {
			skill.Name = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}
		r.skills = append(r.skills, skill)
	}

	logger.Info("skills loaded", "count", len(r.skills))
	return r, nil
}

// All returns the loaded skills.
func (r *Registry) All() []Skill {
	return append([]Skill(nil), r.skills...)
}

// Match finds the skill whose triggers best match a confirmed root cause
// statement. Returns false when nothing matches.
func (r *Registry) Match(rootCause string, services []string) (Skill, bool) {
	lower := strings.ToLower(rootCause)

	best := -1
	bestScore := 0
	for i, skill := range r.skills {
		score := 0
		for _, trigger := range skill.Triggers {
			if strings.Contains(lower, strings.ToLower(trigger)) {
				score += 2
			}
		}
		for _, skillSvc := range skill.Services {
			for _, svc := range services {
				if strings.EqualFold(skillSvc, svc) {
					score++
				}
			}
		}
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 {
		return Skill{}, false
	}
	return r.skills[best], true
}

// Runner executes skills against a tool registry.
type Runner struct {
	tools    *tools.Registry
	approver Approver
	logger   *slog.Logger
}

// NewRunner creates a runner. A nil approver skips all mutating steps.
func NewRunner(toolRegistry *tools.Registry, approver Approver, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{tools: toolRegistry, approver: approver, logger: logger}
}

// Run executes the skill's steps in order. A rejected mutating step aborts
// the remainder; read-only step failures are recorded and execution
// continues.
func (r *Runner) Run(ctx context.Context, skill Skill) (*RunResult, error) {
	result := &RunResult{Skill: skill.Name}

	for _, step := range skill.Steps {
		if err := ctx.Err(); err != nil {
			result.Aborted = true
			return result, err
		}

		if step.Mutating {
			stepResult, approved := r.runMutating(ctx, step)
			result.Steps = append(result.Steps, stepResult)
			if !approved {
				result.Aborted = true
				return result, nil
			}
			continue
		}
		result.Steps = append(result.Steps, r.runStep(ctx, step))
	}
	return result, nil
}

func (r *Runner) runMutating(ctx context.Context, step Step) (StepResult, bool) {
	if r.approver == nil {
		return StepResult{
			Step:    step.Name,
			Tool:    step.Tool,
			Skipped: true,
			Reason:  "no approver configured for mutating step",
		}, false
	}

	decision, err := r.approver.RequestApproval(ctx, approval.MutationRequest{
		ID:              uuid.NewString(),
		Operation:       step.Operation,
		Resource:        step.Resource,
		Description:     step.Name,
		Parameters:      step.Args,
		RollbackCommand: step.RollbackCommand,
		EstimatedImpact: step.EstimatedImpact,
	})
	if err != nil {
		return StepResult{Step: step.Name, Tool: step.Tool, Skipped: true, Reason: err.Error()}, false
	}
	if !decision.Approved {
		reason := decision.Reason
		if reason == "" {
			reason = "approval rejected"
		}
		r.logger.Warn("mutating step rejected", "step", step.Name, "reason", reason)
		return StepResult{Step: step.Name, Tool: step.Tool, Skipped: true, Reason: reason}, false
	}

	return r.runStep(ctx, step), true
}

func (r *Runner) runStep(ctx context.Context, step Step) StepResult {
	start := time.Now()

	input, err := json.Marshal(step.Args)
	if err != nil {
		return StepResult{Step: step.Name, Tool: step.Tool, Success: false, Reason: err.Error()}
	}

	toolResult := r.tools.Execute(ctx, step.Tool, input)
	stepResult := StepResult{
		Step:     step.Name,
		Tool:     step.Tool,
		Success:  toolResult.Success,
		Summary:  toolResult.Summary,
		Duration: time.Since(start),
	}
	if !toolResult.Success {
		stepResult.Reason = toolResult.Error
		r.logger.Warn("skill step failed", "step", step.Name, "tool", step.Tool, "error", toolResult.Error)
	}
	return stepResult
}
