package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	clearProviderEnv(t)
	path := writeConfig(t, "truncation:\n  max_tokens: 100\n")

	changes := make(chan *Config, 4)
	w, err := NewWatcher(path, nil, func(cfg *Config) { changes <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()
	w.Debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(path, []byte("truncation:\n  max_tokens: 300\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-changes:
		if cfg.Truncation.MaxTokens != 300 {
			t.Errorf("reloaded max_tokens = %d, want 300", cfg.Truncation.MaxTokens)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
	if w.Current() == nil || w.Current().Truncation.MaxTokens != 300 {
		t.Errorf("Current() = %+v", w.Current())
	}

	// An invalid file is ignored and the last good config stays current.
	if err := os.WriteFile(path, []byte("truncation:\n  max_tokens: -5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-changes:
		t.Fatalf("invalid config was delivered: %+v", cfg.Truncation)
	case <-time.After(300 * time.Millisecond):
	}
	if w.Current().Truncation.MaxTokens != 300 {
		t.Errorf("Current() changed after invalid write: %+v", w.Current().Truncation)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	clearProviderEnv(t)
	path := writeConfig(t, "server:\n  port: 8000\n")

	changes := make(chan *Config, 1)
	w, err := NewWatcher(path, nil, func(cfg *Config) { changes <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()
	w.Debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeFile(t, path+".bak", "server:\n  port: 1\n")
	select {
	case <-changes:
		t.Fatal("reloaded for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}
