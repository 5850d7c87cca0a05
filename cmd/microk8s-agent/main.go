package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"microk8s-operator/config"
)

var configPath string

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "microk8s-agent",
		Short: "microk8s-agent - MicroK8s cluster operator",
		Long: `microk8s-agent runs once per orchestration event to install MicroK8s,
form the cluster and keep its membership in sync with the deployment.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to agent configuration file")

	// Add subcommands
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
