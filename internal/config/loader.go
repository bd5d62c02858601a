package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds the configuration in three layers: built-in defaults, the
// YAML file at path (optional; empty path or a missing file is not an
// error), and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			k := koanf.New(".")
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
			}
			if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
				return nil, fmt.Errorf("failed to parse config from %q: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file %q: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Approval.PendingDir == "" {
		cfg.Approval.PendingDir = filepath.Join(cfg.DataDir, "approvals", "pending")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays the environment variables. Absence is a non-error that
// leaves the corresponding provider disabled.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Agent.AnthropicAPIKey = v
	}
	if v := os.Getenv("SLACK_SIGNING_SECRET"); v != "" {
		cfg.Webhook.SigningSecret = v
	}
	if v := os.Getenv("SLACK_TOKEN"); v != "" {
		cfg.Approval.SlackToken = v
	}
	if v := os.Getenv("WEBHOOK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Webhook.Port = port
		}
	}
	if v := os.Getenv("PENDING_DIR"); v != "" {
		cfg.Approval.PendingDir = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Infra.Regions = []string{v}
	}
	if v := os.Getenv("SLEUTH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sleuth"
	}
	return filepath.Join(home, ".sleuth")
}
