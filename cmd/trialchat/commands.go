package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/trialchat/internal/toolservers"
	"github.com/haasonsaas/trialchat/internal/truncation"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the HTTP API.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API server",
		Long: `Start the chat API server.

The server will:
1. Load configuration from the specified file (or trialchat.yaml)
2. Build the LLM provider chain and register the local tools
3. Connect the configured MCP servers and register their tools
4. Serve the agent stream, health, tools and metrics endpoints
5. Reload truncation limits when the config file changes

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  trialchat serve

  # Start with custom config and debug logging
  trialchat serve --config /etc/trialchat/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// =============================================================================
// Tools Commands
// =============================================================================

func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the agent's tools",
	}
	cmd.AddCommand(buildToolsListCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Connect MCP servers and list every tool the agent can call",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

// =============================================================================
// Truncate Command
// =============================================================================

type truncateOptions struct {
	maxTokens     int
	maxArrayItems int
	verbose       bool
	tool          string
}

func buildTruncateCmd() *cobra.Command {
	opts := truncateOptions{}
	cmd := &cobra.Command{
		Use:   "truncate [file|-]",
		Short: "Bound a tool result to a token budget",
		Long: `Bound a tool result the way the agent does before handing it to the model.

JSON input has its arrays windowed first and is clamped as text only if
still too large. Other input is clamped as text. With --verbose the output
is the envelope carrying both the bounded and the full result.`,
		Example: `  trialchat truncate --max-tokens 500 result.json
  curl -s https://clinicaltrials.gov/api/v2/studies | trialchat truncate -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := "-"
			if len(args) == 1 {
				input = args[0]
			}
			return runTruncate(cmd, input, opts)
		},
	}
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", truncation.DefaultMaxTokens, "Token budget for the result")
	cmd.Flags().IntVar(&opts.maxArrayItems, "max-array-items", truncation.DefaultMaxArrayItems, "Array elements kept before windowing")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "Print the envelope with metadata and the full result")
	cmd.Flags().StringVar(&opts.tool, "tool", "cli", "Tool name recorded in the envelope")
	return cmd
}

// =============================================================================
// MCP Commands
// =============================================================================

// buildMcpCmd creates the "mcp" command group. Each subcommand serves one
// bundled tool server over stdio.
func buildMcpCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run a bundled MCP tool server over stdio",
		Long: `Run a bundled MCP tool server over stdio.

Point an mcp.servers entry at "trialchat mcp <name>" to give the agent
its tools. Logs go to stderr; stdout carries the protocol.`,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")

	descriptions := map[string]string{
		toolservers.DatabaseServer:    "Serve execute_query over the configured database",
		toolservers.ExternalAPIServer: "Serve ClinicalTrials.gov and openFDA searches",
		toolservers.FilesystemServer:  "Serve read_file and list_files under the configured root",
	}
	for _, name := range toolservers.Names {
		cmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: descriptions[name],
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMcpServer(cmd.Context(), name, configPath)
			},
		})
	}
	return cmd
}

// =============================================================================
// Config and Version Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	})

	var configPath string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, configPath)
		},
	}
	validate.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.AddCommand(validate)
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "trialchat %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
