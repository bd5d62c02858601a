package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sleuth-dev/sleuth/internal/config"
	"github.com/sleuth-dev/sleuth/internal/logging"
)

const Version = "0.1.0"

var (
	configPath    string
	logLevelFlags []string
)

var rootCmd = &cobra.Command{
	Use:   "sleuth",
	Short: "Sleuth - operator-assisting incident investigation agent",
	Long: `Sleuth investigates production incidents: it gathers evidence through
diagnostic tools, maintains a hypothesis tree, and proposes a root cause,
asking for approval before any state-changing operation.`,
	Version: Version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level",
		[]string{"info"},
		"Log level for packages. Use 'default=level' for default, or 'package=level' per package.")

	rootCmd.AddCommand(investigateCmd)
	rootCmd.AddCommand(webhookCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("sleuth %s\n", Version)
	},
}

// HandleError prints error and exits
func HandleError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the logging flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	defaultLevel := cfg.LogLevel
	packageLevels := make(map[string]string)
	for _, flag := range logLevelFlags {
		if !strings.Contains(flag, "=") {
			defaultLevel = flag
			continue
		}
		parts := strings.SplitN(flag, "=", 2)
		if parts[0] == "default" {
			defaultLevel = parts[1]
		} else {
			packageLevels[parts[0]] = parts[1]
		}
	}
	if err := logging.Initialize(defaultLevel, packageLevels); err != nil {
		return nil, err
	}
	return cfg, nil
}
