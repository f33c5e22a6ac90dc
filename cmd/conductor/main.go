package main

import (
	"fmt"
	"os"

	"github.com/fentz26/conductor/internal/config"
	"github.com/fentz26/conductor/internal/controlplane"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Conductor - multi-agent task orchestrator",
	Long: `Conductor routes natural-language tasks to specialised agents, either
directly or through multi-step workflow templates, and persists workflow
state so interrupted runs resume where they left off.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		return loadConfig()
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	configPath string
	cfg        *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "API server address (default http://<listen>)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.conductor/config.yaml)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() error {
	// A missing .env is normal.
	_ = godotenv.Load()

	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	cfg = c

	if apiAddr == "" {
		apiAddr = "http://" + cfg.Listen
	}
	controlplane.Version = version
	return nil
}

func newClient() *controlplane.Client {
	return controlplane.NewClient(apiAddr)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
