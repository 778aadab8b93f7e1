package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// ErrInvalid marks configuration problems that must stop startup.
var ErrInvalid = errors.New("invalid configuration")

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRoutes(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return fmt.Errorf("%w: paths.output_dir must be set", ErrInvalid)
	}
	if strings.TrimSpace(c.Paths.InputDir) == "" {
		return fmt.Errorf("%w: paths.input_dir must be set", ErrInvalid)
	}
	return nil
}

// validateRoutes checks that every provider a stage can reach exists and has
// credentials.
func (c *Config) validateRoutes() error {
	checked := map[string]struct{}{}
	for _, route := range c.Routes() {
		endpoints := []Endpoint{route.Primary}
		if route.Fallback != nil {
			endpoints = append(endpoints, *route.Fallback)
		}
		for _, endpoint := range endpoints {
			if endpoint.Model == "" {
				return fmt.Errorf("%w: stage %s has no model configured", ErrInvalid, route.Stage)
			}
			if _, done := checked[endpoint.Provider]; done {
				continue
			}
			checked[endpoint.Provider] = struct{}{}
			if err := c.validateProvider(endpoint.Provider); err != nil {
				return fmt.Errorf("stage %s: %w", route.Stage, err)
			}
		}
		if route.Temperature < 0 || route.Temperature > 2 {
			return fmt.Errorf("%w: stage %s temperature must be between 0 and 2", ErrInvalid, route.Stage)
		}
	}
	for name := range c.Stages {
		if !knownStage(name) {
			return fmt.Errorf("%w: stages.%s is not a known stage (expected one of %s)", ErrInvalid, name, strings.Join(StageNames, ", "))
		}
	}
	return nil
}

func (c *Config) validateProvider(name string) error {
	if name == "" {
		return fmt.Errorf("%w: provider name is empty", ErrInvalid)
	}
	provider, ok := c.Providers[name]
	if !ok {
		known := c.ProviderNames()
		sort.Strings(known)
		return fmt.Errorf("%w: provider %q is not configured (known: %s)", ErrInvalid, name, strings.Join(known, ", "))
	}
	switch provider.Kind {
	case providerKindOpenAI, providerKindAnthropic:
	default:
		return fmt.Errorf("%w: providers.%s.kind %q is not supported", ErrInvalid, name, provider.Kind)
	}
	if provider.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		hint := "set providers." + name + ".api_key"
		if provider.APIKeyEnv != "" {
			hint = "set " + provider.APIKeyEnv + " env var or providers." + name + ".api_key"
		}
		return fmt.Errorf("%w: provider %q has no API key. %s in %s (create with 'archivist config init')", ErrInvalid, name, hint, defaultPath)
	}
	return nil
}

func (c *Config) validateLimits() error {
	if err := ensurePositiveMap(map[string]int{
		"rate_limit.max_concurrency": c.RateLimit.MaxConcurrency,
		"retry.max_attempts":         c.Retry.MaxAttempts,
		"consensus.sample_size":      c.Consensus.SampleSize,
		"workflow.workers":           c.Workflow.Workers,
	}); err != nil {
		return err
	}
	return ensureNonNegativeMap(map[string]int{
		"rate_limit.min_interval_ms":  c.RateLimit.MinIntervalMS,
		"rate_limit.jitter_ms":        c.RateLimit.JitterMS,
		"rate_limit.cooldown_every":   c.RateLimit.CooldownEvery,
		"rate_limit.cooldown_seconds": c.RateLimit.CooldownSeconds,
		"retry.fallback_attempts":     c.Retry.FallbackAttempts,
		"retry.base_delay_ms":         c.Retry.BaseDelayMS,
		"retry.max_delay_ms":          c.Retry.MaxDelayMS,
	})
}

func (c *Config) validateExport() error {
	if utf8.RuneCountInString(c.Export.Delimiter) != 1 {
		return fmt.Errorf("%w: export.delimiter must be a single character", ErrInvalid)
	}
	r, _ := utf8.DecodeRuneInString(c.Export.Delimiter)
	if r == '"' || r == '\r' || r == '\n' {
		return fmt.Errorf("%w: export.delimiter %q is not allowed", ErrInvalid, c.Export.Delimiter)
	}
	if strings.Contains(c.Grouping.PrefixDelimiter, "/") {
		return fmt.Errorf("%w: grouping.prefix_delimiter must not contain a path separator", ErrInvalid)
	}
	if strings.ContainsAny(c.Consensus.SidecarName, `/\`) {
		return fmt.Errorf("%w: consensus.sidecar_name must be a file name", ErrInvalid)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json", "auto":
	default:
		return fmt.Errorf("%w: logging.format must be console, json, or auto", ErrInvalid)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level must be debug, info, warn, or error", ErrInvalid)
	}
	return nil
}

func knownStage(name string) bool {
	for _, stage := range StageNames {
		if stage == name {
			return true
		}
	}
	return false
}

func ensurePositiveMap(values map[string]int) error {
	for _, key := range sortedKeys(values) {
		if values[key] <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, key)
		}
	}
	return nil
}

func ensureNonNegativeMap(values map[string]int) error {
	for _, key := range sortedKeys(values) {
		if values[key] < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalid, key)
		}
	}
	return nil
}

func sortedKeys(values map[string]int) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
