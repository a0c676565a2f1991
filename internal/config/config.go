// Package config loads the engine's YAML configuration. Environment
// variables referenced as ${VAR} in the file are expanded before parsing,
// and PRAXIS_* variables override the provider credentials so secrets can
// stay out of the file entirely.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Providers ProvidersConfig `yaml:"providers"`
	Chat      ChatConfig      `yaml:"chat"`
	Plugins   PluginsConfig   `yaml:"plugins"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `yaml:"driver"`
	// Path is the SQLite database file. Ignored for the memory driver.
	Path string `yaml:"path"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// ProvidersConfig holds per-provider credentials and endpoints.
type ProvidersConfig struct {
	Default   string         `yaml:"default"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Google    ProviderConfig `yaml:"google"`
	Ollama    OllamaConfig   `yaml:"ollama"`
}

// ProviderConfig is the common shape for API-key providers.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// OllamaConfig configures the local Ollama provider.
type OllamaConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

// ChatConfig tunes the orchestration loop and tool executor.
type ChatConfig struct {
	MaxRounds          int           `yaml:"max_rounds"`
	ToolTimeout        time.Duration `yaml:"tool_timeout"`
	MaxConcurrentTools int           `yaml:"max_concurrent_tools"`
	KeepRecent         int           `yaml:"keep_recent"`
	OffloadThreshold   int           `yaml:"offload_threshold"`
	WorkspaceDir       string        `yaml:"workspace_dir"`
}

// PluginsConfig configures the plugin registry.
type PluginsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

// Load reads and validates a config file. An empty path returns defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config YAML, applies env overrides and defaults, and
// validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		if err == io.EOF {
			// Empty file: all defaults.
			cfg = Config{}
		} else {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// Streams stay open for whole runs; the write timeout must outlast
		// the slowest acceptable run.
		c.Server.WriteTimeout = 10 * time.Minute
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "praxis.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Providers.Default == "" {
		c.Providers.Default = "anthropic"
	}
	if c.Providers.Ollama.BaseURL == "" {
		c.Providers.Ollama.BaseURL = "http://localhost:11434"
	}
	if c.Chat.WorkspaceDir == "" {
		c.Chat.WorkspaceDir = "workspace"
	}
}

// applyEnv lets PRAXIS_* variables override credentials from the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("PRAXIS_ANTHROPIC_API_KEY"); v != "" {
		c.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("PRAXIS_OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("PRAXIS_GOOGLE_API_KEY"); v != "" {
		c.Providers.Google.APIKey = v
	}
	if v := os.Getenv("PRAXIS_OLLAMA_URL"); v != "" {
		c.Providers.Ollama.BaseURL = v
		c.Providers.Ollama.Enabled = true
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("storage.driver must be sqlite or memory, got %q", c.Storage.Driver)
	}

	switch c.Providers.Default {
	case "anthropic", "openai", "google", "ollama":
	default:
		return fmt.Errorf("providers.default must be one of anthropic, openai, google, ollama, got %q", c.Providers.Default)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	if c.Chat.MaxRounds < 0 {
		return fmt.Errorf("chat.max_rounds must not be negative")
	}
	if c.Chat.MaxConcurrentTools < 0 {
		return fmt.Errorf("chat.max_concurrent_tools must not be negative")
	}
	if c.Chat.OffloadThreshold < 0 {
		return fmt.Errorf("chat.offload_threshold must not be negative")
	}
	return nil
}

// Configured reports whether any provider has credentials or, for Ollama,
// is enabled.
func (c *Config) Configured() bool {
	return c.Providers.Anthropic.APIKey != "" ||
		c.Providers.OpenAI.APIKey != "" ||
		c.Providers.Google.APIKey != "" ||
		c.Providers.Ollama.Enabled
}
