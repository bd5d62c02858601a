package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sleuth-dev/sleuth/internal/agent/compaction"
	"github.com/sleuth-dev/sleuth/internal/agent/hypothesis"
	"github.com/sleuth-dev/sleuth/internal/agent/investigation"
	"github.com/sleuth-dev/sleuth/internal/agent/knowledgectx"
	"github.com/sleuth-dev/sleuth/internal/agent/memory"
	"github.com/sleuth-dev/sleuth/internal/agent/provider"
	"github.com/sleuth-dev/sleuth/internal/agent/scratchpad"
	"github.com/sleuth-dev/sleuth/internal/agent/servicectx"
	"github.com/sleuth-dev/sleuth/internal/agent/tools"
	"github.com/sleuth-dev/sleuth/internal/approval"
	"github.com/sleuth-dev/sleuth/internal/config"
	"github.com/sleuth-dev/sleuth/internal/graph"
	"github.com/sleuth-dev/sleuth/internal/skills"
)

var (
	investigateIncidentID string
	investigateSession    string
	investigateModel      string
	investigateMaxIter    int
)

var investigateCmd = &cobra.Command{
	Use:   "investigate [query]",
	Short: "Run an investigation for the given query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInvestigate,
}

func init() {
	investigateCmd.Flags().StringVar(&investigateIncidentID, "incident-id", "", "Incident identifier to link the investigation to")
	investigateCmd.Flags().StringVar(&investigateSession, "session", "", "Session ID to resume (default: new session)")
	investigateCmd.Flags().StringVar(&investigateModel, "model", "", "Model identifier, or 'mock' for a scripted run")
	investigateCmd.Flags().IntVar(&investigateMaxIter, "max-iterations", 0, "Override the iteration budget")
}

func runInvestigate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	query := strings.Join(args, " ")
	sessionID := investigateSession
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sessionsDir := filepath.Join(cfg.DataDir, "sessions")
	investigationsDir := filepath.Join(cfg.DataDir, "investigations")
	for _, dir := range []string{sessionsDir, investigationsDir, cfg.Approval.PendingDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	slogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	pad, err := scratchpad.New(scratchpad.Config{
		LogPath:        filepath.Join(sessionsDir, sessionID+".jsonl"),
		DefaultToolCap: cfg.Agent.ToolCap,
	})
	if err != nil {
		return fmt.Errorf("failed to open scratchpad: %w", err)
	}
	defer func() { _ = pad.Close() }()

	mem, err := memory.New(memory.Config{Dir: investigationsDir}, sessionID, query)
	if err != nil {
		return fmt.Errorf("failed to open investigation memory: %w", err)
	}

	llm, registry, err := buildProvider(cfg, slogger)
	if err != nil {
		return err
	}

	deps := investigation.Dependencies{
		Provider:   llm,
		Tools:      registry,
		Scratchpad: pad,
		Memory:     mem,
		Hypotheses: hypothesis.NewEngine(hypothesis.Config{MaxDepth: cfg.Agent.MaxHypothesisDepth}),
		Compactor:  buildCompactor(cfg),
		Logger:     slogger,
	}

	if cfg.Knowledge.Dir != "" {
		knowledge := knowledgectx.New(knowledgectx.Config{Dir: cfg.Knowledge.Dir}, slogger)
		if err := knowledge.Init(); err != nil {
			slogger.Warn("knowledge index unavailable", "error", err)
		} else {
			deps.Knowledge = knowledge
		}
	}

	graphPath := filepath.Join(cfg.DataDir, "graph.json")
	if g, err := graph.LoadFile(graphPath); err == nil {
		var source servicectx.KnowledgeSource
		if deps.Knowledge != nil {
			source = deps.Knowledge
		}
		deps.Services = servicectx.New(servicectx.DefaultConfig(), g, source, slogger)
	}

	protocol, closeAudit, err := buildApproval(cfg, slogger)
	if err != nil {
		return err
	}
	defer closeAudit()

	if cfg.Skills.Dir != "" {
		skillReg, err := skills.Load(cfg.Skills.Dir, slogger)
		if err != nil {
			return fmt.Errorf("failed to load skills: %w", err)
		}
		deps.Skills = skillReg
		deps.SkillRunner = skills.NewRunner(registry, protocol, slogger)
	}

	machineCfg := investigation.DefaultConfig()
	machineCfg.SessionID = sessionID
	machineCfg.Query = query
	machineCfg.IncidentID = investigateIncidentID
	machineCfg.MaxIterations = cfg.Agent.MaxIterations
	machineCfg.MaxTriageIterations = cfg.Agent.MaxTriageIterations
	machineCfg.TokenThreshold = cfg.Agent.TokenThreshold
	machineCfg.ToolTimeout = cfg.Agent.ToolTimeout
	if investigateMaxIter > 0 {
		machineCfg.MaxIterations = investigateMaxIter
	}

	machine, err := investigation.New(machineCfg, deps)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("session %s\n\n", sessionID)
	for ev := range machine.Run(ctx) {
		renderEvent(ev)
	}
	return nil
}

func buildProvider(cfg *config.Config, logger *slog.Logger) (provider.Provider, *tools.Registry, error) {
	model := cfg.Agent.Model
	if investigateModel != "" {
		model = investigateModel
	}

	// The built-in tool set returns canned observability responses; real
	// backends plug in through the tools.Registry interface.
	registry := tools.NewMockRegistry()

	if strings.HasPrefix(model, "mock") {
		return provider.NewMockProvider(), registry, nil
	}

	if cfg.Agent.AnthropicAPIKey == "" {
		return nil, nil, fmt.Errorf("ANTHROPIC_API_KEY is not set; use --model mock for a scripted run")
	}
	providerCfg := provider.DefaultConfig()
	providerCfg.Model = model
	llm, err := provider.NewAnthropicProviderWithKey(cfg.Agent.AnthropicAPIKey, providerCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}
	logger.Info("provider ready", "provider", llm.Name(), "model", llm.Model())
	return llm, registry, nil
}

func buildCompactor(cfg *config.Config) *compaction.Compactor {
	compactCfg := compaction.DefaultConfig()
	if weights, err := compaction.PresetWeights(cfg.Compactor.Preset); err == nil {
		compactCfg.Weights = weights
	}
	if cfg.Compactor.MaxFullResults > 0 {
		compactCfg.MaxFullResults = cfg.Compactor.MaxFullResults
	}
	if cfg.Compactor.MaxCompactResults > 0 {
		compactCfg.MaxCompactResults = cfg.Compactor.MaxCompactResults
	}
	compactCfg.TokenBudget = cfg.Compactor.TokenBudget
	return compaction.New(compactCfg)
}

func buildApproval(cfg *config.Config, logger *slog.Logger) (*approval.Protocol, func(), error) {
	audit, err := approval.NewAuditLog(filepath.Join(cfg.DataDir, "approvals.jsonl"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open approval audit log: %w", err)
	}

	var notifier approval.Notifier
	if cfg.Approval.SlackToken != "" && cfg.Approval.SlackChannel != "" {
		notifier = approval.NewSlackNotifier(cfg.Approval.SlackToken, cfg.Approval.SlackChannel)
	}

	protocolCfg := approval.DefaultConfig()
	protocolCfg.PendingDir = cfg.Approval.PendingDir
	if cfg.Approval.Timeout > 0 {
		protocolCfg.Timeout = cfg.Approval.Timeout
	}
	protocolCfg.AutoApprove = nil
	for _, level := range cfg.Approval.AutoApprove {
		protocolCfg.AutoApprove = append(protocolCfg.AutoApprove, approval.RiskLevel(level))
	}

	protocol := approval.New(protocolCfg, audit, notifier, approval.NewTerminalPrompter(), logger)
	return protocol, func() { _ = audit.Close() }, nil
}

func renderEvent(ev investigation.Event) {
	switch ev.Type {
	case investigation.EventThinking:
		fmt.Printf("· %s\n", ev.Content)
	case investigation.EventKnowledgeRetrieved:
		fmt.Printf("· %s\n", ev.Content)
	case investigation.EventToolStart:
		fmt.Printf("→ %s ...\n", ev.Tool)
	case investigation.EventToolEnd:
		if ev.Err == "" {
			fmt.Printf("✓ %s [%s] (%dms)\n", ev.Tool, ev.ResultID, ev.DurationMs)
		}
	case investigation.EventToolError:
		fmt.Printf("✗ %s: %s\n", ev.Tool, ev.Err)
	case investigation.EventToolLimit:
		fmt.Printf("! %s: %s\n", ev.Tool, ev.Warning)
	case investigation.EventContextCleared:
		fmt.Printf("· %s\n", ev.Content)
	case investigation.EventAnswerStart:
		fmt.Println("\n--- conclusion ---")
	case investigation.EventDone:
		if ev.Answer != nil && ev.Answer.RootCause != "" {
			fmt.Printf("root cause (%.0f%% confidence): %s\n\n", ev.Answer.Confidence*100, ev.Answer.RootCause)
		}
		fmt.Println(ev.Content)
		if ev.Answer != nil && ev.Answer.Remediation != nil {
			fmt.Printf("\nremediation: %s (%d steps)\n", ev.Answer.Remediation.Skill, len(ev.Answer.Remediation.Steps))
		}
		if ev.Answer != nil {
			fmt.Printf("\n%d LLM requests, %d input tokens, %d output tokens\n",
				ev.Answer.LLMRequests, ev.Answer.InputTokens, ev.Answer.OutputTokens)
		}
	case investigation.EventCancelled:
		fmt.Printf("\ninvestigation cancelled: %s\n", ev.Err)
	}
}
