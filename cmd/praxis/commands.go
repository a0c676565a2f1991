package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/praxisworks/praxis/internal/config"
	"github.com/praxisworks/praxis/internal/tools"
)

const version = "0.3.0"

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "praxis",
		Short:         "Chat orchestration engine",
		Long:          "Praxis drives LLM conversations through tool execution rounds,\nstreaming engine events over SSE and persisting every run.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildConfigCmd(), buildToolsCmd())
	return root
}

func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("PRAXIS_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat("praxis.yaml"); err == nil {
		return "praxis.yaml"
	}
	return ""
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long: `Start the gateway server.

The server loads configuration, opens storage, registers the configured
LLM providers, assembles the tool catalogs, and serves the chat stream
plus REST reads. Shutdown is graceful on SIGINT/SIGTERM.`,
		Example: `  # Start with default config resolution (praxis.yaml if present)
  praxis serve

  # Start with an explicit config and debug logging
  praxis serve --config /etc/praxis/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(configPath)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no config file found, defaults are valid")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
			}
			if !cfg.Configured() {
				fmt.Fprintln(cmd.OutOrStdout(), "warning: no provider credentials configured")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool catalog",
	}
	cmd.AddCommand(buildToolsListCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the native tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			catalog, err := tools.Native(cfg.Chat.WorkspaceDir)
			if err != nil {
				return err
			}
			for _, t := range catalog.Tools() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", t.Name(), t.Description())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
