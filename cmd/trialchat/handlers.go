package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/trialchat/internal/agent"
	"github.com/haasonsaas/trialchat/internal/config"
	"github.com/haasonsaas/trialchat/internal/gateway"
	"github.com/haasonsaas/trialchat/internal/mcp"
	"github.com/haasonsaas/trialchat/internal/observability"
	"github.com/haasonsaas/trialchat/internal/toolservers"
	"github.com/haasonsaas/trialchat/internal/truncation"
)

// newLogger builds the redacting logger described by cfg. Logs always go
// to stderr so stdout stays free for command output and MCP traffic.
func newLogger(cfg *config.Config, debug bool) *slog.Logger {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:     level,
		Format:    cfg.Logging.Format,
		Output:    os.Stderr,
		AddSource: cfg.Logging.AddSource,
	}).Slog()
	slog.SetDefault(logger)
	return logger
}

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe loads the config, starts the gateway and blocks until a shutdown
// signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, watchPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, debug)
	logger.Info("starting trialchat",
		"version", version,
		"commit", commit,
		"config", watchPath,
		"debug", debug,
	)

	tracing := cfg.Observability.Tracing
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    tracing.ServiceName,
		ServiceVersion: version,
		Environment:    tracing.Environment,
		Endpoint:       tracing.Endpoint,
		SamplingRate:   tracing.SamplingRate,
		Attributes:     tracing.Attributes,
		EnableInsecure: tracing.Insecure,
	})
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("tracer shutdown error", "error", err)
		}
	}()

	opts := []gateway.Option{
		gateway.WithVersion(version),
		gateway.WithTracer(tracer),
		gateway.WithMetrics(observability.NewMetrics(prometheus.NewRegistry())),
	}
	if watchPath != "" {
		opts = append(opts, gateway.WithConfigPath(watchPath))
	}
	server, err := gateway.NewServer(cfg, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("trialchat started", "addr", server.Addr(), "llm_provider", cfg.LLM.DefaultProvider)

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("trialchat stopped gracefully")
	return nil
}

// =============================================================================
// Tools Command Handler
// =============================================================================

// runToolsList registers the same tools the server would and prints them.
func runToolsList(cmd *cobra.Command, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, false)

	registry := agent.NewToolRegistry()
	interceptor := agent.NewInterceptor(cfg.Truncation.Interceptor(), logger, nil)
	gateway.RegisterLocalTools(registry, interceptor, cfg)

	manager := mcp.NewManager(&cfg.MCP, logger)
	if err := manager.Start(cmd.Context()); err != nil {
		return fmt.Errorf("failed to start MCP manager: %w", err)
	}
	defer manager.Stop() //nolint:errcheck
	mcp.RegisterTools(registry, manager, interceptor)

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTRUNCATED\tDESCRIPTION")
	for _, info := range gateway.DescribeTools(registry, interceptor) {
		fmt.Fprintf(w, "%s\t%t\t%s\n", info.Name, info.Truncated, firstLine(info.Description))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if statuses := manager.Status(); len(statuses) > 0 {
		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERVER\tTRANSPORT\tCONNECTED\tTOOLS")
		for _, st := range statuses {
			fmt.Fprintf(w, "%s\t%s\t%t\t%d\n", st.ID, st.Transport, st.Connected, st.Tools)
		}
		return w.Flush()
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// =============================================================================
// Truncate Command Handler
// =============================================================================

func runTruncate(cmd *cobra.Command, input string, opts truncateOptions) error {
	var (
		data []byte
		err  error
	)
	if input == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(input)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	truncator := truncation.NewTruncator(truncation.Limits{
		MaxTokens:     opts.maxTokens,
		MaxArrayItems: opts.maxArrayItems,
	}, logger)
	outcome := truncator.Bound(string(data))

	out := cmd.OutOrStdout()
	interactive := isTerminal(out)

	if opts.verbose {
		envelope := truncation.NewEnvelope(opts.tool, outcome)
		var payload []byte
		if interactive {
			payload, err = json.MarshalIndent(envelope, "", "  ")
		} else {
			payload, err = json.Marshal(envelope)
		}
		if err != nil {
			return fmt.Errorf("encode envelope: %w", err)
		}
		fmt.Fprintln(out, string(payload))
	} else {
		fmt.Fprintln(out, outcome.ModelContent)
	}

	if interactive {
		summary := fmt.Sprintf("fits: ~%d tokens", outcome.Metadata.EstimatedTokens)
		if outcome.WasTruncated {
			summary = fmt.Sprintf("truncated (%s): %d -> %d bytes, ~%d -> ~%d tokens",
				outcome.Metadata.Strategy,
				outcome.OriginalSize, outcome.TruncatedSize,
				outcome.Metadata.OriginalTokens, outcome.Metadata.TruncatedTokens)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), summary)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// =============================================================================
// MCP Command Handler
// =============================================================================

func runMcpServer(ctx context.Context, name, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, false)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return toolservers.Serve(ctx, name, cfg, version, logger)
}

// =============================================================================
// Config Command Handlers
// =============================================================================

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if path == "" {
		path = "(defaults)"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (provider %s, %d MCP servers, truncation %d tokens)\n",
		path, cfg.LLM.DefaultProvider, len(cfg.MCP.Servers), cfg.Truncation.MaxTokens)
	return nil
}
