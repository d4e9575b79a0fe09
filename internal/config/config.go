package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/haasonsaas/trialchat/internal/agent"
	"github.com/haasonsaas/trialchat/internal/agent/providers"
	"github.com/haasonsaas/trialchat/internal/mcp"
	"github.com/haasonsaas/trialchat/internal/ratelimit"
	"github.com/haasonsaas/trialchat/internal/truncation"
)

// Config is the main configuration structure for trialchat.
type Config struct {
	// Version is the config file format version. Zero means current.
	Version int `yaml:"version"`

	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Truncation    TruncationConfig    `yaml:"truncation"`
	MCP           mcp.Config          `yaml:"mcp"`
	Tools         ToolsConfig         `yaml:"tools"`
	Database      DatabaseConfig      `yaml:"database"`
	ExternalAPI   ExternalAPIConfig   `yaml:"external_api"`
	Filesystem    FilesystemConfig    `yaml:"filesystem"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	CORSOrigins       []string      `yaml:"cors_origins"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// RateLimit bounds how often each client IP may start an agent run.
	RateLimit ratelimit.Config `yaml:"rate_limit"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain lists providers tried in order when the default fails.
	FallbackChain []string `yaml:"fallback_chain"`

	// MaxTokens caps each model response.
	MaxTokens int `yaml:"max_tokens"`

	// MaxIterations caps model calls per run.
	MaxIterations int `yaml:"max_iterations"`

	// SystemPrompt replaces the built-in clinical analyst prompt.
	SystemPrompt string `yaml:"system_prompt"`

	Failover FailoverConfig `yaml:"failover"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	MaxRetries   int    `yaml:"max_retries"`
}

// FailoverConfig tunes the provider circuit breaker.
type FailoverConfig struct {
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `yaml:"circuit_breaker_timeout"`
}

// ProviderSettings converts the provider entries for the provider factory.
func (c LLMConfig) ProviderSettings() map[string]providers.Settings {
	settings := make(map[string]providers.Settings, len(c.Providers))
	for name, p := range c.Providers {
		settings[name] = providers.Settings{
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			DefaultModel: p.DefaultModel,
			MaxRetries:   p.MaxRetries,
		}
	}
	return settings
}

// LoopConfig returns the agent loop settings.
func (c LLMConfig) LoopConfig() *agent.LoopConfig {
	return &agent.LoopConfig{
		MaxIterations: c.MaxIterations,
		MaxTokens:     c.MaxTokens,
		Model:         c.Providers[c.DefaultProvider].DefaultModel,
		SystemPrompt:  c.SystemPrompt,
	}
}

// FailoverSettings returns the failover chain settings.
func (c LLMConfig) FailoverSettings() *providers.FailoverConfig {
	return &providers.FailoverConfig{
		CircuitBreakerThreshold: c.Failover.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   c.Failover.CircuitBreakerTimeout,
	}
}

// TruncationConfig bounds tool results before they reach the model.
type TruncationConfig struct {
	MaxTokens     int      `yaml:"max_tokens"`
	MaxArrayItems int      `yaml:"max_array_items"`
	EnabledTools  []string `yaml:"enabled_tools"`
	Verbose       bool     `yaml:"verbose"`
}

// Interceptor returns the interceptor settings.
func (c TruncationConfig) Interceptor() agent.InterceptorConfig {
	return agent.InterceptorConfig{
		MaxTokens:     c.MaxTokens,
		MaxArrayItems: c.MaxArrayItems,
		EnabledTools:  slices.Clone(c.EnabledTools),
		Verbose:       c.Verbose,
	}
}

// ToolsConfig toggles the built-in analysis tools.
type ToolsConfig struct {
	Statistics ToolToggle `yaml:"statistics"`
	Compliance ToolToggle `yaml:"compliance"`
}

// ToolToggle enables a built-in tool. Tools are enabled unless set to false.
type ToolToggle struct {
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether the tool is enabled.
func (t ToolToggle) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// DatabaseConfig configures the database tool server.
type DatabaseConfig struct {
	Driver         string        `yaml:"driver"`
	URL            string        `yaml:"url"`
	MaxRows        int           `yaml:"max_rows"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
	ReadOnly       *bool         `yaml:"read_only"`
	MaxConnections int           `yaml:"max_connections"`
}

// IsReadOnly reports whether only read statements are allowed. Defaults to true.
func (c DatabaseConfig) IsReadOnly() bool {
	return c.ReadOnly == nil || *c.ReadOnly
}

// ExternalAPIConfig configures the external API tool server.
type ExternalAPIConfig struct {
	ClinicalTrialsURL string        `yaml:"clinical_trials_url"`
	FDAURL            string        `yaml:"fda_url"`
	FDAAPIKey         string        `yaml:"fda_api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	// CacheTTL keeps identical searches for this long. Negative disables it.
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

// FilesystemConfig configures the filesystem tool server.
type FilesystemConfig struct {
	Root         string `yaml:"root"`
	MaxFileBytes int64  `yaml:"max_file_bytes"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TracingConfig configures OTLP trace export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint     string            `yaml:"endpoint"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	SamplingRate float64           `yaml:"sampling_rate"`
	Insecure     bool              `yaml:"insecure"`
	Attributes   map[string]string `yaml:"attributes"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IsEnabled reports whether /metrics is served. Defaults to true.
func (c MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// providerKeyEnv names the environment variables consulted for provider keys
// the config leaves empty. Only the default, fallback and configured
// providers pick up keys from the environment.
var providerKeyEnv = map[string][]string{
	"anthropic": {"ANTHROPIC_API_KEY"},
	"openai":    {"OPENAI_API_KEY"},
	"google":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// Load reads, merges and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = []string{"http://localhost:5173", "http://localhost:4173"}
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	rl := ratelimit.DefaultConfig()
	if cfg.Server.RateLimit.RequestsPerSecond == 0 {
		cfg.Server.RateLimit.RequestsPerSecond = rl.RequestsPerSecond
	}
	if cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = rl.Burst
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	for name, envs := range providerKeyEnv {
		p, configured := cfg.LLM.Providers[name]
		wanted := configured || name == cfg.LLM.DefaultProvider || slices.Contains(cfg.LLM.FallbackChain, name)
		if !wanted || p.APIKey != "" {
			continue
		}
		for _, env := range envs {
			if key := os.Getenv(env); key != "" {
				p.APIKey = key
				break
			}
		}
		if configured || p.APIKey != "" {
			cfg.LLM.Providers[name] = p
		}
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.MaxIterations == 0 {
		cfg.LLM.MaxIterations = 10
	}

	if cfg.Truncation.MaxTokens == 0 {
		cfg.Truncation.MaxTokens = truncation.DefaultMaxTokens
	}
	if cfg.Truncation.MaxArrayItems == 0 {
		cfg.Truncation.MaxArrayItems = truncation.DefaultMaxArrayItems
	}

	for _, server := range cfg.MCP.Servers {
		if server != nil && server.Transport == "" {
			server.Transport = mcp.TransportStdio
		}
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxRows == 0 {
		cfg.Database.MaxRows = 1000
	}
	if cfg.Database.QueryTimeout == 0 {
		cfg.Database.QueryTimeout = 30 * time.Second
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 5
	}

	if cfg.ExternalAPI.ClinicalTrialsURL == "" {
		cfg.ExternalAPI.ClinicalTrialsURL = "https://clinicaltrials.gov/api/v2"
	}
	if cfg.ExternalAPI.FDAURL == "" {
		cfg.ExternalAPI.FDAURL = "https://api.fda.gov"
	}
	if cfg.ExternalAPI.Timeout == 0 {
		cfg.ExternalAPI.Timeout = 30 * time.Second
	}
	if cfg.ExternalAPI.CacheTTL == 0 {
		cfg.ExternalAPI.CacheTTL = 5 * time.Minute
	}
	if cfg.ExternalAPI.CacheSize == 0 {
		cfg.ExternalAPI.CacheSize = 256
	}

	if cfg.Filesystem.Root == "" {
		cfg.Filesystem.Root = "."
	}
	if cfg.Filesystem.MaxFileBytes == 0 {
		cfg.Filesystem.MaxFileBytes = 1 << 20
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "trialchat"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
	if cfg.Observability.Metrics.Path == "" {
		cfg.Observability.Metrics.Path = "/metrics"
	}
}

// ConfigValidationError lists every problem found in a configuration.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "invalid config:\n  - " + strings.Join(e.Issues, "\n  - ")
}

// Validate checks a configuration with defaults applied.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		add("version: %v", err)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535 (got %d)", c.Server.Port)
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 || c.Server.RateLimit.Burst < 0 {
		add("server.rate_limit values must not be negative")
	}
	for i, origin := range c.Server.CORSOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			add("server.cors_origins[%d] must be an http(s) origin or \"*\" (got %q)", i, origin)
		}
	}

	if !slices.Contains(providers.Names, c.LLM.DefaultProvider) {
		add("llm.default_provider %q is not one of %s", c.LLM.DefaultProvider, strings.Join(providers.Names, ", "))
	} else if len(c.LLM.Providers) > 0 {
		if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
			add("llm.default_provider %q has no entry under llm.providers", c.LLM.DefaultProvider)
		}
	}
	for name := range c.LLM.Providers {
		if !slices.Contains(providers.Names, name) {
			add("llm.providers.%s is not a supported provider", name)
		}
	}
	for i, name := range c.LLM.FallbackChain {
		if !slices.Contains(providers.Names, name) {
			add("llm.fallback_chain[%d] %q is not a supported provider", i, name)
		}
	}
	if c.LLM.MaxTokens < 0 {
		add("llm.max_tokens must be positive")
	}
	if c.LLM.MaxIterations < 0 {
		add("llm.max_iterations must be positive")
	}

	if c.Truncation.MaxTokens < 1 {
		add("truncation.max_tokens must be at least 1 (got %d)", c.Truncation.MaxTokens)
	}
	if c.Truncation.MaxArrayItems < 1 {
		add("truncation.max_array_items must be at least 1 (got %d)", c.Truncation.MaxArrayItems)
	}

	if err := c.MCP.Validate(); err != nil {
		add("mcp: %v", err)
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		add("database.driver must be postgres or sqlite (got %q)", c.Database.Driver)
	}
	if c.Database.MaxRows < 1 {
		add("database.max_rows must be at least 1")
	}

	for field, value := range map[string]string{
		"external_api.clinical_trials_url": c.ExternalAPI.ClinicalTrialsURL,
		"external_api.fda_url":             c.ExternalAPI.FDAURL,
	} {
		if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			add("%s must be an http(s) URL (got %q)", field, value)
		}
	}

	if strings.TrimSpace(c.Filesystem.Root) == "" {
		add("filesystem.root must not be blank")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		add("logging.format must be json or text (got %q)", c.Logging.Format)
	}

	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		add("observability.tracing.sampling_rate must be between 0 and 1 (got %v)", rate)
	}
	if !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		add("observability.metrics.path must start with /")
	}

	if len(issues) == 0 {
		return nil
	}
	slices.Sort(issues)
	return &ConfigValidationError{Issues: issues}
}
