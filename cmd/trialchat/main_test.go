package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"serve", "tools", "truncate", "mcp", "config", "version"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}

	mcpCmd, _, err := cmd.Find([]string{"mcp"})
	if err != nil {
		t.Fatal(err)
	}
	servers := map[string]bool{}
	for _, sub := range mcpCmd.Commands() {
		servers[sub.Name()] = true
	}
	for _, name := range []string{"database", "external-api", "filesystem"} {
		if !servers[name] {
			t.Errorf("expected mcp server %q", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "trialchat dev") {
		t.Errorf("output = %q", out)
	}
}

func TestTruncateCommand(t *testing.T) {
	items := make([]map[string]any, 60)
	for i := range items {
		items[i] = map[string]any{"nct_id": i, "title": strings.Repeat("trial ", 10)}
	}
	large, err := json.Marshal(map[string]any{"studies": items})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("small input passes through", func(t *testing.T) {
		out, err := execute(t, "hello", "truncate")
		if err != nil {
			t.Fatal(err)
		}
		if out != "hello\n" {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("large input from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "result.json")
		if err := os.WriteFile(path, large, 0o644); err != nil {
			t.Fatal(err)
		}
		out, err := execute(t, "", "truncate", "--max-tokens", "300", "--max-array-items", "4", path)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) >= len(large) {
			t.Errorf("output has %d bytes, input %d", len(out), len(large))
		}
	})

	t.Run("verbose envelope", func(t *testing.T) {
		out, err := execute(t, string(large), "truncate", "--verbose", "--tool", "search_clinical_trials", "--max-tokens", "300", "-")
		if err != nil {
			t.Fatal(err)
		}
		var envelope struct {
			Content  string `json:"content"`
			Metadata struct {
				ToolName   string `json:"tool_name"`
				Truncation struct {
					WasTruncated bool `json:"was_truncated"`
				} `json:"truncation"`
				FullResult *string `json:"full_result"`
			} `json:"metadata"`
		}
		if err := json.Unmarshal([]byte(out), &envelope); err != nil {
			t.Fatalf("output is not an envelope: %v", err)
		}
		if envelope.Metadata.ToolName != "search_clinical_trials" || !envelope.Metadata.Truncation.WasTruncated {
			t.Errorf("metadata = %+v", envelope.Metadata)
		}
		if envelope.Metadata.FullResult == nil || *envelope.Metadata.FullResult != string(large) {
			t.Error("full_result should carry the original input")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := execute(t, "", "truncate", filepath.Join(t.TempDir(), "nope.json")); err == nil {
			t.Error("expected an error for a missing file")
		}
	})
}

func TestConfigCommands(t *testing.T) {
	out, err := execute(t, "", "config", "schema")
	if err != nil {
		t.Fatalf("config schema: %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal([]byte(out), &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}

	path := filepath.Join(t.TempDir(), "trialchat.yaml")
	if err := os.WriteFile(path, []byte("truncation:\n  max_tokens: 750\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "", "config", "validate", "-c", path)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "ok") || !strings.Contains(out, "750 tokens") {
		t.Errorf("output = %q", out)
	}

	if err := os.WriteFile(path, []byte("truncation:\n  max_tokenz: 750\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "", "config", "validate", "-c", path); err == nil {
		t.Error("unknown keys should fail validation")
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("TRIALCHAT_CONFIG", "")
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Errorf("resolveConfigPath(\"\") = %q", got)
	}
	t.Setenv("TRIALCHAT_CONFIG", "/etc/trialchat.yaml")
	if got := resolveConfigPath(defaultConfigPath); got != "/etc/trialchat.yaml" {
		t.Errorf("env override = %q", got)
	}
	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Errorf("explicit path = %q", got)
	}
}
