// Package config loads and validates the application configuration from an
// optional YAML file plus environment overrides. Missing provider
// credentials are not errors; they disable the corresponding feature.
package config

import (
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// DataDir is the root directory for sessions, investigations, the
	// service graph, and approval state.
	DataDir string `yaml:"data_dir"`

	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	Agent     AgentConfig     `yaml:"agent"`
	Compactor CompactorConfig `yaml:"compactor"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Infra     InfraConfig     `yaml:"infra"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Skills    SkillsConfig    `yaml:"skills"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// AgentConfig controls the investigation loop and the LLM provider.
type AgentConfig struct {
	// Model is the model identifier, or "mock" for scripted runs.
	Model string `yaml:"model"`

	// AnthropicAPIKey enables the Anthropic provider. Empty disables it.
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	MaxIterations       int `yaml:"max_iterations"`
	MaxTriageIterations int `yaml:"max_triage_iterations"`
	TokenThreshold      int `yaml:"token_threshold"`

	// ToolTimeout applies per tool call, not per iteration.
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// ToolCap is the soft per-tool call cap.
	ToolCap int `yaml:"tool_cap"`

	// MaxHypothesisDepth bounds the hypothesis tree.
	MaxHypothesisDepth int `yaml:"max_hypothesis_depth"`
}

// CompactorConfig selects the scoring preset and result counts.
type CompactorConfig struct {
	// Preset is incident, research, or balanced.
	Preset string `yaml:"preset"`

	MaxFullResults    int `yaml:"max_full_results"`
	MaxCompactResults int `yaml:"max_compact_results"`

	// TokenBudget switches the compactor to budget-based planning when
	// positive.
	TokenBudget int `yaml:"token_budget"`
}

// ApprovalConfig controls the mutation approval protocol.
type ApprovalConfig struct {
	// AutoApprove lists risk levels approved without asking.
	AutoApprove []string `yaml:"auto_approve"`

	// PendingDir is the out-of-band rendezvous directory. Empty derives
	// it from DataDir.
	PendingDir string `yaml:"pending_dir"`

	Timeout time.Duration `yaml:"timeout"`

	// SlackToken enables Slack notifications. Empty disables them.
	SlackToken   string `yaml:"slack_token"`
	SlackChannel string `yaml:"slack_channel"`
}

// WebhookConfig controls the approval webhook receiver.
type WebhookConfig struct {
	Port int `yaml:"port"`

	// SigningSecret verifies interaction signatures. Empty disables the
	// receiver.
	SigningSecret string `yaml:"signing_secret"`
}

// InfraConfig controls infrastructure discovery.
type InfraConfig struct {
	Regions        []string      `yaml:"regions"`
	Services       []string      `yaml:"services"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// KnowledgeConfig points at the operational knowledge directory.
type KnowledgeConfig struct {
	Dir string `yaml:"dir"`
}

// SkillsConfig points at the remediation skill directory.
type SkillsConfig struct {
	Dir string `yaml:"dir"`
}

// TracingConfig controls OpenTelemetry trace export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	TLSCA    string `yaml:"tls_ca"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:  defaultDataDir(),
		LogLevel: "info",
		Agent: AgentConfig{
			Model:               "claude-sonnet-4-5-20250929",
			MaxIterations:       15,
			MaxTriageIterations: 2,
			TokenThreshold:      40000,
			ToolTimeout:         60 * time.Second,
			ToolCap:             8,
			MaxHypothesisDepth:  3,
		},
		Compactor: CompactorConfig{
			Preset:            "balanced",
			MaxFullResults:    5,
			MaxCompactResults: 10,
		},
		Approval: ApprovalConfig{
			AutoApprove: []string{"low"},
			Timeout:     5 * time.Minute,
		},
		Webhook: WebhookConfig{
			Port: 3000,
		},
		Infra: InfraConfig{
			Regions:        []string{"us-east-1"},
			MaxConcurrency: 5,
			CacheTTL:       60 * time.Second,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return NewConfigError("data_dir must not be empty")
	}

	if c.Webhook.Port < 1 || c.Webhook.Port > 65535 {
		return NewConfigError("webhook.port must be between 1 and 65535")
	}

	if c.Agent.MaxIterations < 1 {
		return NewConfigError("agent.max_iterations must be at least 1")
	}

	if c.Agent.MaxHypothesisDepth < 1 {
		return NewConfigError("agent.max_hypothesis_depth must be at least 1")
	}

	if c.Infra.MaxConcurrency < 1 {
		return NewConfigError("infra.max_concurrency must be at least 1")
	}

	switch c.Compactor.Preset {
	case "", "incident", "research", "balanced":
	default:
		return NewConfigError("compactor.preset must be incident, research, or balanced")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint must be set when tracing is enabled")
	}

	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message
func (e *ConfigError) Error() string {
	return e.message
}
