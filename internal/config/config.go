package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Classify   ClassifyConfig   `yaml:"classify" mapstructure:"classify"`
	Policy     PolicyConfig     `yaml:"policy" mapstructure:"policy"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// AnthropicConfig holds Anthropic API settings for the semantic classifier.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// EngineConfig configures the qualification decision engine.
type EngineConfig struct {
	RequestTimeoutSecs int `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`

	// RVCThresholds maps business category to its regional value content
	// threshold in percentage points.
	RVCThresholds       map[string]float64 `yaml:"rvc_thresholds" mapstructure:"rvc_thresholds"`
	DefaultRVCThreshold float64            `yaml:"default_rvc_threshold" mapstructure:"default_rvc_threshold"`

	// AssemblyCreditCap is the maximum percentage-point credit for final
	// assembly in a USMCA territory.
	AssemblyCreditCap float64 `yaml:"assembly_credit_cap" mapstructure:"assembly_credit_cap"`

	// NearQualifiedBand is how far below threshold still counts as PARTIAL.
	NearQualifiedBand float64 `yaml:"near_qualified_band" mapstructure:"near_qualified_band"`

	// ValueSumTolerance is the rounding tolerance allowed above a 100% value
	// share sum before the input is rejected.
	ValueSumTolerance float64 `yaml:"value_sum_tolerance" mapstructure:"value_sum_tolerance"`
}

// RequestTimeout returns the per-run timeout as a duration.
func (e EngineConfig) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutSecs) * time.Second
}

// ThresholdFor returns the RVC threshold for a business category, falling
// back to the default when the category is unknown.
func (e EngineConfig) ThresholdFor(category string) float64 {
	if t, ok := e.RVCThresholds[strings.ToLower(strings.TrimSpace(category))]; ok {
		return t
	}
	return e.DefaultRVCThreshold
}

// ClassifyConfig configures confidence scoring for the code resolver.
type ClassifyConfig struct {
	MinConfidence          float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	MaxConfidence          float64 `yaml:"max_confidence" mapstructure:"max_confidence"`
	BoostMultiTerm         float64 `yaml:"boost_multi_term" mapstructure:"boost_multi_term"`
	BoostContext           float64 `yaml:"boost_context" mapstructure:"boost_context"`
	PenaltyContextMismatch float64 `yaml:"penalty_context_mismatch" mapstructure:"penalty_context_mismatch"`
	AgreementBonus         float64 `yaml:"agreement_bonus" mapstructure:"agreement_bonus"`
	MaxCandidates          int     `yaml:"max_candidates" mapstructure:"max_candidates"`
}

// PolicyConfig configures overlay freshness handling.
type PolicyConfig struct {
	// FreshnessDays is how long after VerifiedDate an overlay remains trusted
	// before being flagged for re-verification.
	FreshnessDays int `yaml:"freshness_days" mapstructure:"freshness_days"`
}

// FreshnessWindow returns the overlay freshness window as a duration.
func (p PolicyConfig) FreshnessWindow() time.Duration {
	return time.Duration(p.FreshnessDays) * 24 * time.Hour
}

// MonitoringConfig configures the background freshness checker.
type MonitoringConfig struct {
	CheckIntervalSecs int `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StaleOverlayAlert int `yaml:"stale_overlay_alert" mapstructure:"stale_overlay_alert"`
	UnknownRateAlert  int `yaml:"unknown_rate_alert" mapstructure:"unknown_rate_alert"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TARIFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "tariff.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.requests_per_second", 2.0)
	v.SetDefault("anthropic.burst", 4)
	v.SetDefault("anthropic.max_retries", 3)
	v.SetDefault("engine.request_timeout_secs", 30)
	v.SetDefault("engine.rvc_thresholds", map[string]float64{
		"general":     62.5,
		"textiles":    62.5,
		"electronics": 75,
		"automotive":  75,
	})
	v.SetDefault("engine.default_rvc_threshold", 62.5)
	v.SetDefault("engine.assembly_credit_cap", 15)
	v.SetDefault("engine.near_qualified_band", 5)
	v.SetDefault("engine.value_sum_tolerance", 0.5)
	v.SetDefault("classify.min_confidence", 0.1)
	v.SetDefault("classify.max_confidence", 0.95)
	v.SetDefault("classify.boost_multi_term", 0.30)
	v.SetDefault("classify.boost_context", 0.10)
	v.SetDefault("classify.penalty_context_mismatch", 0.30)
	v.SetDefault("classify.agreement_bonus", 0.10)
	v.SetDefault("classify.max_candidates", 5)
	v.SetDefault("policy.freshness_days", 90)
	v.SetDefault("monitoring.check_interval_secs", 3600)
	v.SetDefault("monitoring.stale_overlay_alert", 10)
	v.SetDefault("monitoring.unknown_rate_alert", 50)

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
