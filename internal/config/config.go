package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App        App        `mapstructure:"app"`
	AI         AI         `mapstructure:"ai"`
	Fetch      Fetch      `mapstructure:"fetch"`
	Providers  Providers  `mapstructure:"providers"`
	Thresholds Thresholds `mapstructure:"thresholds"`
	Pipeline   Pipeline   `mapstructure:"pipeline"`
}

// App holds general application configuration.
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	LogPlain bool   `mapstructure:"log_plain"`
	DataDir  string `mapstructure:"data_dir"`
}

// AI holds LLM provider configuration.
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration.
type GeminiConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int32   `mapstructure:"max_tokens"`
	RateLimit   string  `mapstructure:"rate_limit"` // Minimum spacing between calls, e.g. "1s"
}

// Fetch holds Stage 2 HTTP fetch configuration.
type Fetch struct {
	Timeout      string `mapstructure:"timeout"`
	MaxRedirects int    `mapstructure:"max_redirects"`
	Concurrency  int    `mapstructure:"concurrency"`
	UserAgent    string `mapstructure:"user_agent"`
}

// Providers holds upstream news provider configuration.
type Providers struct {
	NewsAPIKey              string   `mapstructure:"newsapi_key"`
	NewsAPIBaseURL          string   `mapstructure:"newsapi_base_url"`
	StrictRedirectAllowlist bool     `mapstructure:"strict_redirect_allowlist"`
	AllowedRedirectHosts    []string `mapstructure:"allowed_redirect_hosts"` // Destinations accepted in strict mode
}

// Pipeline holds orchestration knobs.
type Pipeline struct {
	DelayBetweenBatches string `mapstructure:"delay_between_batches"`
	IncrementalTopN     int    `mapstructure:"incremental_top_n"`
}

// Thresholds is the single source of truth for pipeline gates and sizes.
// Every stage reads its cutoffs from here; nothing hard-codes a gate.
type Thresholds struct {
	ProcessGateHoldings int `mapstructure:"process_gate_holdings"` // Stage 1.5 minimum likely_impact, HOLDINGS bucket
	ProcessGateMacro    int `mapstructure:"process_gate_macro"`    // Stage 1.5 minimum likely_impact, MACRO bucket
	FeedRankCutoff      int `mapstructure:"feed_rank_cutoff"`      // Feed query minimum final_rank_score
	Stage3MinImpact     int `mapstructure:"stage3_min_impact"`     // impact_score below this discards at Stage 3
	Stage4MinScore      int `mapstructure:"stage4_min_score"`      // profile_adjusted_score below this discards at Stage 4
	RankShowCutoff      int `mapstructure:"rank_show_cutoff"`      // final_rank_score needed to set shown_to_user

	RelevanceBase     int `mapstructure:"relevance_base"`      // Holding-relevance formula constants
	RelevanceBonus    int `mapstructure:"relevance_bonus"`
	RelevancePerMatch int `mapstructure:"relevance_per_match"`
	RelevanceMax      int `mapstructure:"relevance_max"`

	MinContentLength int `mapstructure:"min_content_length"` // Stage 3 entry requirement
	MinFetchedLength int `mapstructure:"min_fetched_length"` // Stage 2 quality gate
	MaxFetchAttempts int `mapstructure:"max_fetch_attempts"`

	Stage1BatchSize int `mapstructure:"stage1_batch_size"`
	Stage3BatchSize int `mapstructure:"stage3_batch_size"`

	DedupHammingMax  int `mapstructure:"dedup_hamming_max"`  // SimHash distance at or below which content is equivalent
	DedupWindowHours int `mapstructure:"dedup_window_hours"` // Same-domain candidate lookback
}

var globalConfig *Config

// Load loads configuration from .env, an optional config file, and the
// environment. The first successful Load is cached.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".marketbrief")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset clears the cached configuration. Test hook.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

// DefaultThresholds returns the threshold block with its documented
// defaults, independent of viper state. Used by tests and by callers that
// construct stages directly.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ProcessGateHoldings: 10,
		ProcessGateMacro:    15,
		FeedRankCutoff:      25,
		Stage3MinImpact:     20,
		Stage4MinScore:      15,
		RankShowCutoff:      50,
		RelevanceBase:       20,
		RelevanceBonus:      10,
		RelevancePerMatch:   5,
		RelevanceMax:        45,
		MinContentLength:    400,
		MinFetchedLength:    200,
		MaxFetchAttempts:    2,
		Stage1BatchSize:     20,
		Stage3BatchSize:     8,
		DedupHammingMax:     3,
		DedupWindowHours:    48,
	}
}

// TimeoutDuration parses the fetch timeout, defaulting to five seconds.
func (f Fetch) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(f.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// RateLimit parses the minimum spacing between LLM calls, defaulting to
// one second.
func (g GeminiConfig) RateLimitDuration() time.Duration {
	d, err := time.ParseDuration(g.RateLimit)
	if err != nil || d < 0 {
		return time.Second
	}
	return d
}

// BatchDelay parses the configured inter-batch pause, defaulting to one
// second on a bad or empty value.
func (p Pipeline) BatchDelay() time.Duration {
	d, err := time.ParseDuration(p.DelayBetweenBatches)
	if err != nil || d < 0 {
		return time.Second
	}
	return d
}

func setDefaults() {
	// App defaults
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.log_plain", false)
	viper.SetDefault("app.data_dir", ".marketbrief")

	// AI defaults
	viper.SetDefault("ai.gemini.model", "gemini-2.5-flash-preview-05-20")
	viper.SetDefault("ai.gemini.temperature", 0.2)
	viper.SetDefault("ai.gemini.max_tokens", 8192)
	viper.SetDefault("ai.gemini.rate_limit", "1s")

	// Fetch defaults
	viper.SetDefault("fetch.timeout", "5s")
	viper.SetDefault("fetch.max_redirects", 3)
	viper.SetDefault("fetch.concurrency", 8)
	viper.SetDefault("fetch.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")

	// Provider defaults
	viper.SetDefault("providers.newsapi_base_url", "https://newsapi.org/v2")
	viper.SetDefault("providers.strict_redirect_allowlist", false)
	viper.SetDefault("providers.allowed_redirect_hosts", []string{})

	// Pipeline defaults
	viper.SetDefault("pipeline.delay_between_batches", "1s")
	viper.SetDefault("pipeline.incremental_top_n", 10)

	// Threshold defaults (see SPEC_FULL thresholds table)
	d := DefaultThresholds()
	viper.SetDefault("thresholds.process_gate_holdings", d.ProcessGateHoldings)
	viper.SetDefault("thresholds.process_gate_macro", d.ProcessGateMacro)
	viper.SetDefault("thresholds.feed_rank_cutoff", d.FeedRankCutoff)
	viper.SetDefault("thresholds.stage3_min_impact", d.Stage3MinImpact)
	viper.SetDefault("thresholds.stage4_min_score", d.Stage4MinScore)
	viper.SetDefault("thresholds.rank_show_cutoff", d.RankShowCutoff)
	viper.SetDefault("thresholds.relevance_base", d.RelevanceBase)
	viper.SetDefault("thresholds.relevance_bonus", d.RelevanceBonus)
	viper.SetDefault("thresholds.relevance_per_match", d.RelevancePerMatch)
	viper.SetDefault("thresholds.relevance_max", d.RelevanceMax)
	viper.SetDefault("thresholds.min_content_length", d.MinContentLength)
	viper.SetDefault("thresholds.min_fetched_length", d.MinFetchedLength)
	viper.SetDefault("thresholds.max_fetch_attempts", d.MaxFetchAttempts)
	viper.SetDefault("thresholds.stage1_batch_size", d.Stage1BatchSize)
	viper.SetDefault("thresholds.stage3_batch_size", d.Stage3BatchSize)
	viper.SetDefault("thresholds.dedup_hamming_max", d.DedupHammingMax)
	viper.SetDefault("thresholds.dedup_window_hours", d.DedupWindowHours)
}

func bindEnvironmentVariables() {
	_ = viper.BindEnv("ai.gemini.api_key", "GEMINI_API_KEY")
	_ = viper.BindEnv("providers.newsapi_key", "NEWSAPI_KEY")
	_ = viper.BindEnv("providers.strict_redirect_allowlist", "STRICT_REDIRECT_ALLOWLIST")
	_ = viper.BindEnv("app.data_dir", "MARKETBRIEF_DATA_DIR")
	_ = viper.BindEnv("app.log_level", "MARKETBRIEF_LOG_LEVEL")
}
