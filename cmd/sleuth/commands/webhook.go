package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sleuth-dev/sleuth/internal/lifecycle"
	"github.com/sleuth-dev/sleuth/internal/tracing"
	"github.com/sleuth-dev/sleuth/internal/webhook"
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Run the approval webhook receiver",
	Long: `Starts the HTTP server that receives signed Slack interaction
callbacks and writes decision files the approval protocol picks up.`,
	RunE: runWebhook,
}

func runWebhook(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Webhook.SigningSecret == "" {
		return fmt.Errorf("SLACK_SIGNING_SECRET is not set")
	}
	if err := os.MkdirAll(cfg.Approval.PendingDir, 0750); err != nil {
		return fmt.Errorf("failed to create pending dir: %w", err)
	}

	tp, err := tracing.NewTracingProvider(tracing.Config{
		Enabled:   cfg.Tracing.Enabled,
		Endpoint:  cfg.Tracing.Endpoint,
		TLSCAPath: cfg.Tracing.TLSCA,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	server := webhook.NewServer(webhook.Config{
		Port:          cfg.Webhook.Port,
		SigningSecret: cfg.Webhook.SigningSecret,
		PendingDir:    cfg.Approval.PendingDir,
	})

	manager := lifecycle.NewManager()
	if err := manager.Register(tp); err != nil {
		return err
	}
	if err := manager.Register(server, tp); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return manager.Stop(shutdownCtx)
}
