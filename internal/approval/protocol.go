package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Notifier dispatches an approval request through an out-of-band channel
// (chat, pager). The decision comes back through the pending directory.
type Notifier interface {
	Notify(ctx context.Context, req MutationRequest) error
}

// Prompter asks a human for a decision interactively.
type Prompter interface {
	// Available reports whether interactive prompting can work at all
	// (e.g. stdin is a terminal).
	Available() bool
	// Prompt blocks until the human answers or ctx is done.
	Prompt(ctx context.Context, req MutationRequest) (Decision, error)
}

// Config controls the approval flow.
type Config struct {
	// PendingDir is where pending requests and decisions rendezvous.
	PendingDir string

	// AutoApprove lists risk levels that do not need a human.
	AutoApprove []RiskLevel

	// Timeout bounds how long a request may wait for a decision.
	Timeout time.Duration

	// PollInterval is the pending-directory polling cadence.
	PollInterval time.Duration
}

// DefaultConfig waits up to 5 minutes, polling every 2 seconds.
func DefaultConfig() Config {
	return Config{
		Timeout:      5 * time.Minute,
		PollInterval: 2 * time.Second,
	}
}

// Protocol mediates state-changing operations.
type Protocol struct {
	config   Config
	audit    *AuditLog
	notifier Notifier
	prompter Prompter
	cooldown *Cooldown
	logger   *slog.Logger
}

// New creates the protocol. The notifier and prompter may each be nil; with
// neither, non-auto-approved requests are rejected.
func New(cfg Config, audit *AuditLog, notifier Notifier, prompter Prompter, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	return &Protocol{
		config:   cfg,
		audit:    audit,
		notifier: notifier,
		prompter: prompter,
		cooldown: NewCooldown(),
		logger:   logger,
	}
}

// CheckCooldown reports whether a critical operation may run now.
func (p *Protocol) CheckCooldown(operation string, cooldown time.Duration) CooldownStatus {
	return p.cooldown.Check(operation, cooldown)
}

// RequestApproval runs the approval flow for one mutation and records
// exactly one audit line for the decision.
func (p *Protocol) RequestApproval(ctx context.Context, req MutationRequest) (Decision, error) {
	if req.RiskLevel == "" {
		req.RiskLevel = ClassifyRisk(req.Operation, req.Resource)
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}

	decision, err := p.resolve(ctx, req)
	decision.MutationID = req.ID
	decision.RiskLevel = req.RiskLevel

	if decision.Approved && req.RiskLevel == RiskCritical {
		p.cooldown.RecordCritical(req.Operation)
	}
	if p.audit != nil {
		if auditErr := p.audit.Record(decision); auditErr != nil {
			p.logger.Error("failed to record approval decision", "mutation_id", req.ID, "error", auditErr)
		}
	}
	return decision, err
}

func (p *Protocol) resolve(ctx context.Context, req MutationRequest) (Decision, error) {
	for _, risk := range p.config.AutoApprove {
		if risk == req.RiskLevel {
			p.logger.Info("mutation auto-approved", "mutation_id", req.ID, "risk", req.RiskLevel)
			return Decision{
				Approved:   true,
				ApprovedAt: time.Now().UTC(),
				ApprovedBy: "auto",
				Reason:     fmt.Sprintf("risk level %s is auto-approved", req.RiskLevel),
			}, nil
		}
	}

	if p.notifier != nil && p.config.PendingDir != "" {
		return p.resolveOutOfBand(ctx, req)
	}
	if p.prompter != nil && p.prompter.Available() {
		return p.prompter.Prompt(ctx, req)
	}

	return Decision{
		Approved: false,
		Reason:   "no approval channel available",
	}, nil
}

// resolveOutOfBand writes the pending file, notifies the channel and races
// the directory poller against the interactive prompt. Whichever resolves
// first wins; cancellation tears both down.
func (p *Protocol) resolveOutOfBand(ctx context.Context, req MutationRequest) (Decision, error) {
	if err := os.MkdirAll(p.config.PendingDir, 0750); err != nil {
		return Decision{Approved: false, Reason: "pending dir unavailable"}, fmt.Errorf("failed to create pending dir: %w", err)
	}

	pendingPath := filepath.Join(p.config.PendingDir, req.ID+"_pending.json")
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return Decision{Approved: false, Reason: "marshal failure"}, fmt.Errorf("failed to marshal mutation request: %w", err)
	}
	if err := os.WriteFile(pendingPath, data, 0600); err != nil {
		return Decision{Approved: false, Reason: "pending write failure"}, fmt.Errorf("failed to write pending approval: %w", err)
	}
	defer os.Remove(pendingPath)

	if err := p.notifier.Notify(ctx, req); err != nil {
		p.logger.Warn("out-of-band notification failed, relying on prompt and poller",
			"mutation_id", req.ID, "error", err)
	}

	raceCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	results := make(chan Decision, 2)

	go func() {
		if decision, ok := p.pollForDecision(raceCtx, req.ID); ok {
			results <- decision
		}
	}()
	if p.prompter != nil && p.prompter.Available() {
		go func() {
			if decision, err := p.prompter.Prompt(raceCtx, req); err == nil {
				results <- decision
			}
		}()
	}

	select {
	case decision := <-results:
		return decision, nil
	case <-raceCtx.Done():
		if ctx.Err() != nil {
			return Decision{Approved: false, Reason: "cancelled"}, ctx.Err()
		}
		return Decision{Approved: false, Reason: "timeout"}, nil
	}
}

// pollForDecision waits for {mutationId}.json to appear in the pending
// directory, combining an fsnotify watch with interval polling. The watch
// gives fast wakeups; the ticker covers filesystems without events.
func (p *Protocol) pollForDecision(ctx context.Context, mutationID string) (Decision, bool) {
	decisionPath := filepath.Join(p.config.PendingDir, mutationID+".json")

	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(p.config.PendingDir); err == nil {
			events = watcher.Events
		}
	}

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		if decision, ok := readDecision(decisionPath); ok {
			_ = os.Remove(decisionPath)
			return decision, true
		}
		select {
		case <-ctx.Done():
			return Decision{}, false
		case <-ticker.C:
		case event := <-events:
			if event.Name != decisionPath {
				continue
			}
		}
	}
}

func readDecision(path string) (Decision, bool) {
	// #nosec G304 -- path is under the configured pending dir
	data, err := os.ReadFile(path)
	if err != nil {
		return Decision{}, false
	}
	var decision Decision
	if err := json.Unmarshal(data, &decision); err != nil {
		return Decision{}, false
	}
	return decision, true
}

// CleanupExpiredApprovals deletes pending and decision files older than
// maxAge and returns how many were removed.
func (p *Protocol) CleanupExpiredApprovals(maxAge time.Duration) (int, error) {
	if p.config.PendingDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(p.config.PendingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read pending dir: %w", err)
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(p.config.PendingDir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
