package config

// Stage names recognized in [stages.<name>] overrides.
const (
	StageFact       = "fact"
	StageStyle      = "style"
	StageFunction   = "function"
	StageCorrection = "correction"
	StageVote       = "vote"
)

// StageNames lists every routable stage.
var StageNames = []string{StageFact, StageStyle, StageFunction, StageCorrection, StageVote}

const (
	defaultConfigPath        = "~/.config/archivist/config.toml"
	projectConfigName        = "archivist.toml"
	defaultInputDir          = "~/archivist/input"
	defaultOutputDir         = "~/archivist/output"
	defaultLogDir            = "~/.local/share/archivist/logs"
	defaultJournalName       = "journal.db"
	defaultProviderName      = "openrouter"
	defaultProviderBaseURL   = "https://openrouter.ai/api/v1/chat/completions"
	defaultProviderKeyEnv    = "OPENROUTER_API_KEY"
	defaultProviderReferer   = "https://github.com/archivist/archivist"
	defaultProviderTitle     = "Archivist"
	defaultAnthropicName     = "anthropic"
	defaultAnthropicKeyEnv   = "ANTHROPIC_API_KEY"
	defaultTimeoutSeconds    = 60
	defaultModel             = "google/gemini-2.5-flash"
	defaultFallbackModel     = "openai/gpt-4o-mini"
	defaultTemperature       = 0.1
	defaultMaxTokens         = 2048
	defaultMaxConcurrency    = 4
	defaultMinIntervalMS     = 500
	defaultJitterMS          = 250
	defaultCooldownEvery     = 50
	defaultCooldownSeconds   = 30
	defaultMaxAttempts       = 3
	defaultFallbackAttempts  = 2
	defaultBaseDelayMS       = 1000
	defaultMaxDelayMS        = 10000
	defaultSampleSize        = 3
	defaultSidecarName       = "_consensus.json"
	defaultSeriesDir         = "series"
	defaultPrefixDelimiter   = "-"
	defaultWorkers           = 4
	defaultExportName        = "catalog.csv"
	defaultExportDelimiter   = ","
	defaultListDelimiter     = "; "
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	providerKindOpenAI       = "openai"
	providerKindAnthropic    = "anthropic"
	defaultVoteTemperature   = 0.0
	defaultVoteMaxTokens     = 512
	defaultCorrectionTokens  = 1024
	defaultProviderKindValue = providerKindOpenAI
)

var defaultImageExtensions = []string{".jpg", ".jpeg", ".png", ".tif", ".tiff", ".webp"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	voteTemp := defaultVoteTemperature
	return Config{
		Paths: Paths{
			InputDir:  defaultInputDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
		},
		Providers: map[string]Provider{
			defaultProviderName: {
				Kind:           defaultProviderKindValue,
				APIKeyEnv:      defaultProviderKeyEnv,
				BaseURL:        defaultProviderBaseURL,
				Referer:        defaultProviderReferer,
				Title:          defaultProviderTitle,
				TimeoutSeconds: defaultTimeoutSeconds,
			},
			defaultAnthropicName: {
				Kind:           providerKindAnthropic,
				APIKeyEnv:      defaultAnthropicKeyEnv,
				TimeoutSeconds: defaultTimeoutSeconds,
			},
		},
		LLM: LLM{
			Provider:         defaultProviderName,
			Model:            defaultModel,
			FallbackProvider: defaultProviderName,
			FallbackModel:    defaultFallbackModel,
			Temperature:      defaultTemperature,
			MaxTokens:        defaultMaxTokens,
		},
		Stages: map[string]StageOverride{
			StageVote:       {Temperature: &voteTemp, MaxTokens: defaultVoteMaxTokens},
			StageCorrection: {MaxTokens: defaultCorrectionTokens},
		},
		RateLimit: RateLimit{
			MaxConcurrency:  defaultMaxConcurrency,
			MinIntervalMS:   defaultMinIntervalMS,
			JitterMS:        defaultJitterMS,
			CooldownEvery:   defaultCooldownEvery,
			CooldownSeconds: defaultCooldownSeconds,
		},
		Retry: Retry{
			MaxAttempts:      defaultMaxAttempts,
			FallbackAttempts: defaultFallbackAttempts,
			BaseDelayMS:      defaultBaseDelayMS,
			MaxDelayMS:       defaultMaxDelayMS,
		},
		Consensus: Consensus{
			SampleSize:  defaultSampleSize,
			SidecarName: defaultSidecarName,
		},
		Grouping: Grouping{
			SeriesDir:       defaultSeriesDir,
			PrefixDelimiter: defaultPrefixDelimiter,
			ImageExtensions: append([]string(nil), defaultImageExtensions...),
		},
		Workflow: Workflow{
			Workers: defaultWorkers,
		},
		Export: Export{
			Delimiter:     defaultExportDelimiter,
			ListDelimiter: defaultListDelimiter,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
