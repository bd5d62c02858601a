package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sleuth-dev/sleuth/internal/graph"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Manage the service dependency graph",
}

var graphImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a service graph from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraphImport,
}

var graphExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the service graph as JSON (stdout if no file given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGraphExport,
}

func init() {
	graphCmd.AddCommand(graphImportCmd)
	graphCmd.AddCommand(graphExportCmd)
}

func graphPath(dataDir string) string {
	return filepath.Join(dataDir, "graph.json")
}

func runGraphImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	g, err := graph.LoadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to load graph from %q: %w", args[0], err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	dest := graphPath(cfg.DataDir)
	if err := g.SaveFile(dest); err != nil {
		return fmt.Errorf("failed to save graph to %q: %w", dest, err)
	}

	fmt.Printf("imported %d services, %d dependencies\n", g.NodeCount(), g.EdgeCount())
	return nil
}

func runGraphExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	g, err := graph.LoadFile(graphPath(cfg.DataDir))
	if err != nil {
		return fmt.Errorf("no service graph found: %w", err)
	}

	if len(args) == 1 {
		if err := g.SaveFile(args[0]); err != nil {
			return fmt.Errorf("failed to write %q: %w", args[0], err)
		}
		fmt.Printf("exported %d services, %d dependencies\n", g.NodeCount(), g.EdgeCount())
		return nil
	}

	data, err := g.ToJSON()
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
