package providers

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/trialchat/internal/agent"
)

// Settings is the provider-independent connection configuration.
type Settings struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// Names lists the providers New can build.
var Names = []string{"anthropic", "openai", "google"}

// New builds the named provider.
func New(name string, s Settings) (agent.LLMProvider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig(s))
	case "openai":
		return NewOpenAIProvider(OpenAIConfig(s))
	case "google", "gemini":
		return NewGoogleProvider(GoogleConfig(s))
	default:
		return nil, fmt.Errorf("unknown provider %q (want one of %s)", name, strings.Join(Names, ", "))
	}
}

// NewChain builds the primary provider and wraps it in a FailoverProvider
// when fallbacks are named. Fallbacks that cannot be built, typically for
// lack of an API key, are skipped with a warning; the primary must build.
func NewChain(primary string, fallbacks []string, settings map[string]Settings, config *FailoverConfig, logger *slog.Logger) (agent.LLMProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	first, err := New(primary, settings[primary])
	if err != nil {
		return nil, fmt.Errorf("primary provider: %w", err)
	}

	chain := []agent.LLMProvider{first}
	seen := map[string]bool{first.Name(): true}
	for _, name := range fallbacks {
		p, err := New(name, settings[name])
		if err != nil {
			logger.Warn("skipping fallback provider", "provider", name, "error", err)
			continue
		}
		if seen[p.Name()] {
			continue
		}
		seen[p.Name()] = true
		chain = append(chain, p)
	}

	if len(chain) == 1 {
		return first, nil
	}
	return NewFailoverProvider(chain, config, logger), nil
}
