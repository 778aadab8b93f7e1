package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeProviders()
	c.normalizeLLM()
	c.normalizeConsensus()
	c.normalizeGrouping()
	c.normalizeExport()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.InputDir, err = expandPath(strings.TrimSpace(c.Paths.InputDir)); err != nil {
		return fmt.Errorf("paths.input_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	journal := strings.TrimSpace(c.Paths.JournalPath)
	if journal == "" && c.Paths.OutputDir != "" {
		journal = filepath.Join(c.Paths.OutputDir, defaultJournalName)
	}
	if c.Paths.JournalPath, err = expandPath(journal); err != nil {
		return fmt.Errorf("paths.journal_path: %w", err)
	}
	if strings.TrimSpace(c.Export.Path) == "" && c.Paths.OutputDir != "" {
		c.Export.Path = filepath.Join(c.Paths.OutputDir, defaultExportName)
	}
	if c.Export.Path, err = expandPath(c.Export.Path); err != nil {
		return fmt.Errorf("export.path: %w", err)
	}
	if c.Vocabulary.Path, err = expandPath(strings.TrimSpace(c.Vocabulary.Path)); err != nil {
		return fmt.Errorf("vocabulary.path: %w", err)
	}
	if c.Metrics.TextfilePath, err = expandPath(strings.TrimSpace(c.Metrics.TextfilePath)); err != nil {
		return fmt.Errorf("metrics.textfile_path: %w", err)
	}
	return nil
}

// RefreshPaths re-derives dependent paths after callers override the input or
// output directories (for example from command-line flags).
func (c *Config) RefreshPaths(previousOutput string) error {
	if previousOutput != c.Paths.OutputDir {
		if c.Paths.JournalPath == filepath.Join(previousOutput, defaultJournalName) {
			c.Paths.JournalPath = ""
		}
		if c.Export.Path == filepath.Join(previousOutput, defaultExportName) {
			c.Export.Path = ""
		}
	}
	return c.normalizePaths()
}

func (c *Config) normalizeProviders() {
	defaults := Default().Providers
	if c.Providers == nil {
		c.Providers = map[string]Provider{}
	}
	for name, provider := range c.Providers {
		if base, ok := defaults[name]; ok {
			provider = mergeProvider(provider, base)
		}
		provider.Kind = strings.ToLower(strings.TrimSpace(provider.Kind))
		if provider.Kind == "" {
			provider.Kind = defaultProviderKindValue
		}
		provider.BaseURL = strings.TrimSpace(provider.BaseURL)
		provider.Referer = strings.TrimSpace(provider.Referer)
		provider.Title = strings.TrimSpace(provider.Title)
		provider.APIKeyEnv = strings.TrimSpace(provider.APIKeyEnv)
		provider.APIKey = strings.TrimSpace(provider.APIKey)
		if provider.APIKey == "" && provider.APIKeyEnv != "" {
			if value, ok := os.LookupEnv(provider.APIKeyEnv); ok {
				provider.APIKey = strings.TrimSpace(value)
			}
		}
		if provider.TimeoutSeconds <= 0 {
			provider.TimeoutSeconds = defaultTimeoutSeconds
		}
		c.Providers[name] = provider
	}
}

func mergeProvider(p, base Provider) Provider {
	if strings.TrimSpace(p.Kind) == "" {
		p.Kind = base.Kind
	}
	if strings.TrimSpace(p.APIKeyEnv) == "" {
		p.APIKeyEnv = base.APIKeyEnv
	}
	if strings.TrimSpace(p.BaseURL) == "" {
		p.BaseURL = base.BaseURL
	}
	if strings.TrimSpace(p.Referer) == "" {
		p.Referer = base.Referer
	}
	if strings.TrimSpace(p.Title) == "" {
		p.Title = base.Title
	}
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = base.TimeoutSeconds
	}
	return p
}

func (c *Config) normalizeLLM() {
	c.LLM.Provider = strings.TrimSpace(c.LLM.Provider)
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	c.LLM.FallbackProvider = strings.TrimSpace(c.LLM.FallbackProvider)
	c.LLM.FallbackModel = strings.TrimSpace(c.LLM.FallbackModel)
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = defaultMaxTokens
	}
	if c.Stages == nil {
		c.Stages = map[string]StageOverride{}
	}
	for name, override := range c.Stages {
		lowered := strings.ToLower(strings.TrimSpace(name))
		if lowered != name {
			delete(c.Stages, name)
			c.Stages[lowered] = override
		}
	}
}

func (c *Config) normalizeConsensus() {
	c.Consensus.SidecarName = strings.TrimSpace(c.Consensus.SidecarName)
	if c.Consensus.SidecarName == "" {
		c.Consensus.SidecarName = defaultSidecarName
	}
}

func (c *Config) normalizeGrouping() {
	c.Grouping.SeriesDir = strings.TrimSpace(c.Grouping.SeriesDir)
	if c.Grouping.SeriesDir == "" {
		c.Grouping.SeriesDir = defaultSeriesDir
	}
	if c.Grouping.PrefixDelimiter == "" {
		c.Grouping.PrefixDelimiter = defaultPrefixDelimiter
	}
	exts := make([]string, 0, len(c.Grouping.ImageExtensions))
	seen := make(map[string]struct{}, len(c.Grouping.ImageExtensions))
	for _, ext := range c.Grouping.ImageExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		exts = append(exts, ext)
	}
	if len(exts) == 0 {
		exts = append(exts, defaultImageExtensions...)
	}
	c.Grouping.ImageExtensions = exts
}

func (c *Config) normalizeExport() {
	switch strings.ToLower(c.Export.Delimiter) {
	case "":
		c.Export.Delimiter = defaultExportDelimiter
	case "tab", `\t`:
		c.Export.Delimiter = "\t"
	}
	if c.Export.ListDelimiter == "" {
		c.Export.ListDelimiter = defaultListDelimiter
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
