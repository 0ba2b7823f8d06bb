package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. The analysis, guardrail,
// and creative sections are snapshotted into each run at trigger time so a
// run's behavior is fully determined by its recorded inputs.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Analysis  AnalysisConfig  `yaml:"analysis" mapstructure:"analysis"`
	Guardrail GuardrailConfig `yaml:"guardrail" mapstructure:"guardrail"`
	Creative  CreativeConfig  `yaml:"creative" mapstructure:"creative"`
	Knowledge KnowledgeConfig `yaml:"knowledge" mapstructure:"knowledge"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	GA4       GA4Config       `yaml:"ga4" mapstructure:"ga4"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AnalysisConfig holds the change-detection thresholds, in percent of
// absolute change. Moves below Low are suppressed as noise.
type AnalysisConfig struct {
	WindowDays           int     `yaml:"window_days" mapstructure:"window_days"`
	ComparisonDays       int     `yaml:"comparison_days" mapstructure:"comparison_days"`
	LowThresholdPct      float64 `yaml:"low_threshold_pct" mapstructure:"low_threshold_pct"`
	HighThresholdPct     float64 `yaml:"high_threshold_pct" mapstructure:"high_threshold_pct"`
	CriticalThresholdPct float64 `yaml:"critical_threshold_pct" mapstructure:"critical_threshold_pct"`
}

// GuardrailConfig holds the hard limits the decision stage enforces on
// candidate actions.
type GuardrailConfig struct {
	// MaxBudgetIncreasePct caps any single budget increase; proposals above
	// it are clamped, never silently applied at full magnitude.
	MaxBudgetIncreasePct float64 `yaml:"max_budget_increase_pct" mapstructure:"max_budget_increase_pct"`
	// ApprovalThresholdPct flags budget changes that always need explicit
	// human confirmation before execution.
	ApprovalThresholdPct float64 `yaml:"approval_threshold_pct" mapstructure:"approval_threshold_pct"`
	// ScaleIncreasePct is the default increase the scale rule proposes.
	ScaleIncreasePct float64 `yaml:"scale_increase_pct" mapstructure:"scale_increase_pct"`
}

// CreativeConfig configures draft generation and compliance filtering.
type CreativeConfig struct {
	Platform           string   `yaml:"platform" mapstructure:"platform"`
	DraftsPerAction    int      `yaml:"drafts_per_action" mapstructure:"drafts_per_action"`
	ForbiddenWords     []string `yaml:"forbidden_words" mapstructure:"forbidden_words"`
	ClaimKeywords      []string `yaml:"claim_keywords" mapstructure:"claim_keywords"`
	GenerateTimeoutSec int      `yaml:"generate_timeout_secs" mapstructure:"generate_timeout_secs"`
}

// KnowledgeConfig configures the brand/compliance retrieval capability.
type KnowledgeConfig struct {
	SnippetsPath    string `yaml:"snippets_path" mapstructure:"snippets_path"`
	TopK            int    `yaml:"top_k" mapstructure:"top_k"`
	RetrieveTimeout int    `yaml:"retrieve_timeout_secs" mapstructure:"retrieve_timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings for creative generation.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerMinute float64 `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// GA4Config holds GA4-specific normalization policy. GA4 reports sessions,
// not impressions; ImpressionsPerSession is the named estimation multiplier
// applied during ingestion. It is a modeling choice, not a platform contract.
type GA4Config struct {
	ImpressionsPerSession float64 `yaml:"impressions_per_session" mapstructure:"impressions_per_session"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MARKETING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("analysis.window_days", 30)
	v.SetDefault("analysis.comparison_days", 7)
	v.SetDefault("analysis.low_threshold_pct", 10.0)
	v.SetDefault("analysis.high_threshold_pct", 30.0)
	v.SetDefault("analysis.critical_threshold_pct", 50.0)
	v.SetDefault("guardrail.max_budget_increase_pct", 25.0)
	v.SetDefault("guardrail.approval_threshold_pct", 15.0)
	v.SetDefault("guardrail.scale_increase_pct", 20.0)
	v.SetDefault("creative.platform", "meta")
	v.SetDefault("creative.drafts_per_action", 1)
	v.SetDefault("creative.forbidden_words", []string{"guaranteed", "free money", "miracle"})
	v.SetDefault("creative.claim_keywords", []string{"best", "#1", "cheapest", "guaranteed", "clinically proven"})
	v.SetDefault("creative.generate_timeout_secs", 60)
	v.SetDefault("knowledge.snippets_path", "knowledge.yaml")
	v.SetDefault("knowledge.top_k", 5)
	v.SetDefault("knowledge.retrieve_timeout_secs", 10)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.requests_per_minute", 30)
	v.SetDefault("ga4.impressions_per_session", 2.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
