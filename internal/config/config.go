// Package config loads RLM engine configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all RLM engine configuration.
type Config struct {
	// LLM backend configuration
	LLM LLMConfig `yaml:"llm"`

	// Reasoning session configuration
	Engine EngineConfig `yaml:"engine"`

	// Code search tool configuration
	Search SearchConfig `yaml:"search"`

	// HTTP server configuration
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the model backend.
type LLMConfig struct {
	Provider   string `yaml:"provider"` // azure, gemini, noop
	Endpoint   string `yaml:"endpoint"` // Azure resource endpoint
	APIKey     string `yaml:"api_key"`
	Deployment string `yaml:"deployment"` // Azure deployment / Gemini model name
	APIVersion string `yaml:"api_version"`
	MaxTokens  int    `yaml:"max_tokens"`
	Timeout    string `yaml:"timeout"`
}

// EngineConfig configures the reasoning loop.
type EngineConfig struct {
	MaxIterations       int    `yaml:"max_iterations"`
	RecursionDepthLimit int    `yaml:"recursion_depth_limit"`
	OutputCap           int    `yaml:"output_cap"` // max chars of execution output fed back
	ExecTimeout         string `yaml:"exec_timeout"`
	JobTimeout          string `yaml:"job_timeout"` // overall budget for one background job
}

// SearchConfig configures the code search tool.
type SearchConfig struct {
	RepoRoot     string   `yaml:"repo_root"`
	MaxResults   int      `yaml:"max_results"`
	MaxFileBytes int      `yaml:"max_file_bytes"`
	Ignore       []string `yaml:"ignore"`
}

// ServerConfig configures the HTTP job surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:   "noop",
			Deployment: "rlm-root-agent",
			APIVersion: "2024-02-15-preview",
			MaxTokens:  4096,
			Timeout:    "120s",
		},
		Engine: EngineConfig{
			MaxIterations:       30,
			RecursionDepthLimit: 3,
			OutputCap:           2000,
			ExecTimeout:         "30s",
			JobTimeout:          "5m",
		},
		Search: SearchConfig{
			RepoRoot:     ".",
			MaxResults:   50,
			MaxFileBytes: 20000,
			Ignore:       []string{".git", "vendor", "node_modules", "*.exe", "*.bin"},
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults for
// missing sections, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultPath returns the default config file location (.rlm/config.yaml
// under the working directory).
func DefaultPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(".rlm", "config.yaml")
	}
	return filepath.Join(cwd, ".rlm", "config.yaml")
}

// applyEnvOverrides lets environment variables win over file values.
// Useful for deployments where the API key never touches disk.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("RLM_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("RLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("RLM_DEPLOYMENT"); v != "" {
		c.LLM.Deployment = v
	}
	if v := os.Getenv("RLM_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Engine.MaxIterations = n
		}
	}
	if v := os.Getenv("RLM_RECURSION_DEPTH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Engine.RecursionDepthLimit = n
		}
	}
	if v := os.Getenv("RLM_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("RLM_REPO_ROOT"); v != "" {
		c.Search.RepoRoot = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Engine.MaxIterations <= 0 {
		return fmt.Errorf("engine.max_iterations must be positive, got %d", c.Engine.MaxIterations)
	}
	if c.Engine.RecursionDepthLimit < 0 {
		return fmt.Errorf("engine.recursion_depth_limit must be >= 0, got %d", c.Engine.RecursionDepthLimit)
	}
	if c.Engine.OutputCap <= 0 {
		return fmt.Errorf("engine.output_cap must be positive, got %d", c.Engine.OutputCap)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	switch c.LLM.Provider {
	case "azure", "gemini", "noop":
	default:
		return fmt.Errorf("unknown llm.provider %q (expected azure, gemini or noop)", c.LLM.Provider)
	}
	return nil
}

// LLMTimeout parses the LLM timeout duration string.
func (c *Config) LLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// ExecTimeout parses the sandbox execution timeout.
func (c *Config) ExecTimeout() time.Duration {
	return parseDuration(c.Engine.ExecTimeout, 30*time.Second)
}

// JobTimeout parses the overall background job budget.
func (c *Config) JobTimeout() time.Duration {
	return parseDuration(c.Engine.JobTimeout, 5*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
