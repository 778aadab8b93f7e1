package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains input, output, and bookkeeping locations.
type Paths struct {
	InputDir    string `toml:"input_dir"`
	OutputDir   string `toml:"output_dir"`
	LogDir      string `toml:"log_dir"`
	JournalPath string `toml:"journal_path"`
}

// Provider describes one model endpoint and its credentials.
//
// Kind selects the backend: "openai" speaks the OpenAI-compatible chat
// completions protocol (OpenRouter, OpenAI, local gateways); "anthropic" uses
// the Anthropic Messages API.
type Provider struct {
	Kind           string `toml:"kind"`
	APIKey         string `toml:"api_key"`
	APIKeyEnv      string `toml:"api_key_env"`
	BaseURL        string `toml:"base_url"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LLM holds the default model routing applied to every stage.
type LLM struct {
	Provider         string  `toml:"provider"`
	Model            string  `toml:"model"`
	FallbackProvider string  `toml:"fallback_provider"`
	FallbackModel    string  `toml:"fallback_model"`
	Temperature      float64 `toml:"temperature"`
	MaxTokens        int     `toml:"max_tokens"`
}

// StageOverride replaces parts of the [llm] defaults for a single stage.
// Empty strings and zero values inherit the default.
type StageOverride struct {
	Provider         string   `toml:"provider"`
	Model            string   `toml:"model"`
	FallbackProvider string   `toml:"fallback_provider"`
	FallbackModel    string   `toml:"fallback_model"`
	Temperature      *float64 `toml:"temperature"`
	MaxTokens        int      `toml:"max_tokens"`
}

// RateLimit bounds the process-wide model call rate.
type RateLimit struct {
	MaxConcurrency  int `toml:"max_concurrency"`
	MinIntervalMS   int `toml:"min_interval_ms"`
	JitterMS        int `toml:"jitter_ms"`
	CooldownEvery   int `toml:"cooldown_every"`
	CooldownSeconds int `toml:"cooldown_seconds"`
}

// Retry controls transient failure handling for model calls.
type Retry struct {
	MaxAttempts      int `toml:"max_attempts"`
	FallbackAttempts int `toml:"fallback_attempts"`
	BaseDelayMS      int `toml:"base_delay_ms"`
	MaxDelayMS       int `toml:"max_delay_ms"`
}

// Consensus configures series-level field resolution.
type Consensus struct {
	SampleSize     int    `toml:"sample_size"`
	ForceRecompute bool   `toml:"force_recompute"`
	SidecarName    string `toml:"sidecar_name"`
}

// Grouping configures directory and filename heuristics.
type Grouping struct {
	SeriesDir       string   `toml:"series_dir"`
	PrefixDelimiter string   `toml:"prefix_delimiter"`
	ImageExtensions []string `toml:"image_extensions"`
}

// Workflow contains batch execution settings.
type Workflow struct {
	Workers           int  `toml:"workers"`
	Overwrite         bool `toml:"overwrite"`
	RetryFailedStages bool `toml:"retry_failed_stages"`
}

// Export configures tabular output.
type Export struct {
	Path          string `toml:"path"`
	Delimiter     string `toml:"delimiter"`
	ListDelimiter string `toml:"list_delimiter"`
}

// Vocabulary points at an optional controlled vocabulary file. The embedded
// default vocabulary is used when Path is empty.
type Vocabulary struct {
	Path string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics configures the Prometheus textfile snapshot written after a run.
type Metrics struct {
	TextfilePath string `toml:"textfile_path"`
}

// Config encapsulates all configuration values for archivist.
//
// Configuration sections by subsystem:
//   - Paths: input tree, output records, logs, and the call journal
//   - Providers: model endpoints keyed by name
//   - LLM / Stages: default routing and per-stage overrides
//   - RateLimit / Retry: provider-wide throttling and failure handling
//   - Consensus / Grouping: series detection and resolution
//   - Workflow / Export / Vocabulary / Logging / Metrics
type Config struct {
	Paths      Paths                    `toml:"paths"`
	Providers  map[string]Provider      `toml:"providers"`
	LLM        LLM                      `toml:"llm"`
	Stages     map[string]StageOverride `toml:"stages"`
	RateLimit  RateLimit                `toml:"rate_limit"`
	Retry      Retry                    `toml:"retry"`
	Consensus  Consensus                `toml:"consensus"`
	Grouping   Grouping                 `toml:"grouping"`
	Workflow   Workflow                 `toml:"workflow"`
	Export     Export                   `toml:"export"`
	Vocabulary Vocabulary               `toml:"vocabulary"`
	Logging    Logging                  `toml:"logging"`
	Metrics    Metrics                  `toml:"metrics"`
}

// Endpoint names one provider/model pair.
type Endpoint struct {
	Provider string
	Model    string
}

// String renders the endpoint as provider/model.
func (e Endpoint) String() string {
	return e.Provider + "/" + e.Model
}

// Route is the fully resolved model routing for one stage.
type Route struct {
	Stage       string
	Primary     Endpoint
	Fallback    *Endpoint
	Temperature float64
	MaxTokens   int
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the output and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ItemsDir returns the directory holding per-item records.
func (c *Config) ItemsDir() string {
	return filepath.Join(c.Paths.OutputDir, "items")
}

// StageRoute resolves provider, model, and sampling settings for a stage.
// It is the only place stage defaults are combined with overrides.
func (c *Config) StageRoute(stage string) Route {
	route := Route{
		Stage:       stage,
		Primary:     Endpoint{Provider: c.LLM.Provider, Model: c.LLM.Model},
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
	}
	fallback := Endpoint{Provider: c.LLM.FallbackProvider, Model: c.LLM.FallbackModel}

	if override, ok := c.Stages[stage]; ok {
		if v := strings.TrimSpace(override.Provider); v != "" {
			route.Primary.Provider = v
		}
		if v := strings.TrimSpace(override.Model); v != "" {
			route.Primary.Model = v
		}
		if v := strings.TrimSpace(override.FallbackProvider); v != "" {
			fallback.Provider = v
		}
		if v := strings.TrimSpace(override.FallbackModel); v != "" {
			fallback.Model = v
		}
		if override.Temperature != nil {
			route.Temperature = *override.Temperature
		}
		if override.MaxTokens > 0 {
			route.MaxTokens = override.MaxTokens
		}
	}

	if fallback.Model != "" {
		if fallback.Provider == "" {
			fallback.Provider = route.Primary.Provider
		}
		if fallback != route.Primary {
			route.Fallback = &fallback
		}
	}
	return route
}

// Routes returns the resolved route of every known stage, sorted by stage name.
func (c *Config) Routes() []Route {
	stages := append([]string(nil), StageNames...)
	sort.Strings(stages)
	routes := make([]Route, 0, len(stages))
	for _, stage := range stages {
		routes = append(routes, c.StageRoute(stage))
	}
	return routes
}

// ProviderNames returns configured provider names in sorted order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
