package testsupport

import (
	"path/filepath"
	"testing"

	"archivist/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Rate limiting and retry delays are disabled so tests never sleep; callers
// opt back in with options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.InputDir = filepath.Join(base, "input")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.JournalPath = filepath.Join(base, "output", "journal.db")
	cfgVal.Export.Path = filepath.Join(base, "output", "catalog.csv")
	for name, provider := range cfgVal.Providers {
		provider.APIKey = "test"
		cfgVal.Providers[name] = provider
	}
	cfgVal.RateLimit.MinIntervalMS = 0
	cfgVal.RateLimit.JitterMS = 0
	cfgVal.RateLimit.CooldownEvery = 0
	cfgVal.Retry.BaseDelayMS = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithSampleSize overrides consensus.sample_size.
func WithSampleSize(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Consensus.SampleSize = n
	}
}

// WithOverwrite sets workflow.overwrite.
func WithOverwrite(overwrite bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Overwrite = overwrite
	}
}

// WithWorkers overrides workflow.workers.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Workers = n
	}
}

// WithoutFallback removes the fallback model from the default route.
func WithoutFallback() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.FallbackModel = ""
		b.cfg.LLM.FallbackProvider = ""
	}
}

// WithRetry overrides retry attempt counts.
func WithRetry(maxAttempts, fallbackAttempts int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Retry.MaxAttempts = maxAttempts
		b.cfg.Retry.FallbackAttempts = fallbackAttempts
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.InputDir)
}
