package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"archivist/internal/config"
)

func TestLoadDefaultConfigUsesEnvKeyAndExpandsPaths(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "env-key")
	t.Setenv("ANTHROPIC_API_KEY", "")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved != filepath.Join(tempHome, ".config", "archivist", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if cfg.Paths.InputDir != filepath.Join(tempHome, "archivist", "input") {
		t.Fatalf("unexpected input dir: %q", cfg.Paths.InputDir)
	}
	if cfg.Paths.JournalPath != filepath.Join(tempHome, "archivist", "output", "journal.db") {
		t.Fatalf("journal should default under the output dir, got %q", cfg.Paths.JournalPath)
	}
	if cfg.Export.Path != filepath.Join(tempHome, "archivist", "output", "catalog.csv") {
		t.Fatalf("unexpected export path %q", cfg.Export.Path)
	}
	if got := cfg.Providers["openrouter"].APIKey; got != "env-key" {
		t.Fatalf("expected key from env, got %q", got)
	}
	if cfg.Consensus.SampleSize != 3 || cfg.Consensus.SidecarName != "_consensus.json" {
		t.Fatalf("unexpected consensus defaults %+v", cfg.Consensus)
	}
	if cfg.ItemsDir() != filepath.Join(cfg.Paths.OutputDir, "items") {
		t.Fatalf("unexpected items dir %q", cfg.ItemsDir())
	}
}

func TestLoadFailsWithoutCredentialsForReferencedProvider(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("HOME", t.TempDir())

	_, _, _, err := config.Load("")
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if !strings.Contains(err.Error(), "OPENROUTER_API_KEY") {
		t.Fatalf("error should name the env var: %v", err)
	}
}

func TestLoadCustomPathAppliesOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CUSTOM_KEY", "from-env")

	configPath := filepath.Join(t.TempDir(), "archivist.toml")
	content := `
[paths]
input_dir = "~/scans"
output_dir = "~/catalogue"

[providers.gateway]
kind = "OpenAI"
api_key_env = "CUSTOM_KEY"
base_url = "http://localhost:8080/v1/chat/completions"

[providers.anthropic]
api_key = "anthropic-key"

[llm]
provider = "gateway"
model = "vision-large"
fallback_provider = ""
fallback_model = "vision-small"

[stages.Fact]
provider = "anthropic"
model = "claude-sonnet-4-5"
temperature = 0.4

[grouping]
prefix_delimiter = "_"
image_extensions = ["JPG", ".png", "jpg"]

[export]
delimiter = "tab"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom path to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.InputDir != filepath.Join(tempHome, "scans") {
		t.Fatalf("unexpected input dir %q", cfg.Paths.InputDir)
	}
	if cfg.Providers["gateway"].Kind != "openai" || cfg.Providers["gateway"].APIKey != "from-env" {
		t.Fatalf("provider not normalized: %+v", cfg.Providers["gateway"])
	}
	if gw := cfg.Providers["gateway"]; gw.TimeoutSeconds != 60 || gw.BaseURL != "http://localhost:8080/v1/chat/completions" {
		t.Fatalf("custom provider transport settings = %+v", gw)
	}
	if cfg.Retry.MaxDelayMS != 10000 {
		t.Fatalf("retry max delay default = %d", cfg.Retry.MaxDelayMS)
	}
	if cfg.Export.Delimiter != "\t" {
		t.Fatalf("expected tab delimiter, got %q", cfg.Export.Delimiter)
	}
	if got := strings.Join(cfg.Grouping.ImageExtensions, ","); got != ".jpg,.png" {
		t.Fatalf("unexpected extensions %q", got)
	}

	fact := cfg.StageRoute(config.StageFact)
	if fact.Primary.String() != "anthropic/claude-sonnet-4-5" || fact.Temperature != 0.4 {
		t.Fatalf("fact override not applied: %+v", fact)
	}
	if fact.Fallback == nil || fact.Fallback.String() != "anthropic/vision-small" {
		t.Fatalf("fallback without a provider should follow the stage primary, got %+v", fact.Fallback)
	}
	style := cfg.StageRoute(config.StageStyle)
	if style.Primary.String() != "gateway/vision-large" || style.Fallback == nil || style.Fallback.String() != "gateway/vision-small" {
		t.Fatalf("style should use llm defaults, got %+v", style)
	}
	vote := cfg.StageRoute(config.StageVote)
	if vote.Temperature != 0 || vote.MaxTokens != 512 {
		t.Fatalf("vote defaults not applied: %+v", vote)
	}
}

func TestDefaultProviderCarriesTransportSettings(t *testing.T) {
	p := config.Default().Providers["openrouter"]
	if p.BaseURL != "https://openrouter.ai/api/v1/chat/completions" || p.TimeoutSeconds != 60 {
		t.Fatalf("default provider = %+v", p)
	}
}

func TestStageRouteDropsFallbackEqualToPrimary(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.FallbackModel = cfg.LLM.Model
	if route := cfg.StageRoute(config.StageStyle); route.Fallback != nil {
		t.Fatalf("expected no fallback, got %+v", route.Fallback)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"unknown provider": func(c *config.Config) { c.Stages["fact"] = config.StageOverride{Provider: "nowhere"} },
		"unknown stage":    func(c *config.Config) { c.Stages["summary"] = config.StageOverride{} },
		"zero concurrency": func(c *config.Config) { c.RateLimit.MaxConcurrency = 0 },
		"negative jitter":  func(c *config.Config) { c.RateLimit.JitterMS = -1 },
		"zero sample size": func(c *config.Config) { c.Consensus.SampleSize = 0 },
		"long delimiter":   func(c *config.Config) { c.Export.Delimiter = ";;" },
		"sidecar path":     func(c *config.Config) { c.Consensus.SidecarName = "a/b.json" },
		"log format":       func(c *config.Config) { c.Logging.Format = "xml" },
		"temperature":      func(c *config.Config) { c.LLM.Temperature = 3 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			for provider, p := range cfg.Providers {
				p.APIKey = "key"
				cfg.Providers[provider] = p
			}
			mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, config.ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestRefreshPathsRederivesOutputDependents(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "key")
	t.Setenv("HOME", t.TempDir())
	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	previous := cfg.Paths.OutputDir
	cfg.Paths.OutputDir = filepath.Join(t.TempDir(), "elsewhere")
	if err := cfg.RefreshPaths(previous); err != nil {
		t.Fatalf("RefreshPaths: %v", err)
	}
	if cfg.Paths.JournalPath != filepath.Join(cfg.Paths.OutputDir, "journal.db") {
		t.Fatalf("journal not moved: %q", cfg.Paths.JournalPath)
	}
	if cfg.Export.Path != filepath.Join(cfg.Paths.OutputDir, "catalog.csv") {
		t.Fatalf("export not moved: %q", cfg.Export.Path)
	}
}

func TestSampleConfigParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var parsed config.Config
	if err := toml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if parsed.Consensus.SampleSize != 3 || parsed.LLM.Provider != "openrouter" {
		t.Fatalf("unexpected sample values: %+v", parsed.Consensus)
	}
}
