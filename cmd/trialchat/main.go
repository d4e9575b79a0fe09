// Package main provides the CLI entry point for trialchat, the clinical trial
// analysis chat service.
//
// trialchat streams LLM agent runs over SSE and WebSocket, bounds every tool
// result to a token budget before the model sees it, and ships the MCP tool
// servers the agent talks to.
//
// # Basic Usage
//
// Start the server:
//
//	trialchat serve --config trialchat.yaml
//
// Run a bundled MCP tool server over stdio:
//
//	trialchat mcp database
//
// Bound a saved tool result the way the agent would:
//
//	trialchat truncate --max-tokens 500 result.json
//
// # Environment Variables
//
//   - TRIALCHAT_CONFIG: Path to configuration file (default: trialchat.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - GEMINI_API_KEY: Google API key for Gemini models
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/trialchat/internal/config"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "trialchat.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trialchat",
		Short: "trialchat - clinical trial analysis chat service",
		Long: `trialchat answers questions about clinical trial data with an LLM agent.

Agent runs stream over SSE (POST /agent/run) and WebSocket (GET /agent/ws).
Tool results are bounded to a token budget before the model sees them.
Bundled MCP tool servers: database, external-api, filesystem.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildToolsCmd(),
		buildTruncateCmd(),
		buildMcpCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// resolveConfigPath prefers an explicit flag, then TRIALCHAT_CONFIG.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" && path != defaultConfigPath {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("TRIALCHAT_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}

// loadConfig loads path. A missing default config file falls back to the
// built-in defaults and returns an empty path so nothing watches it.
func loadConfig(path string) (*config.Config, string, error) {
	path = resolveConfigPath(path)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath {
		return config.Default(), "", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, path, nil
}
