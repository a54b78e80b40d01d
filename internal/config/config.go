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
	Account    AccountConfig    `yaml:"account" mapstructure:"account"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Serp       SerpConfig       `yaml:"serp" mapstructure:"serp"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Rules      RulesConfig      `yaml:"rules" mapstructure:"rules"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AccountConfig identifies the tenant this process operates for.
type AccountConfig struct {
	ID string `yaml:"id" mapstructure:"id"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings for ai-model enrichment steps.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SerpConfig holds search backend settings for search-api enrichment steps.
type SerpConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// NotionConfig holds Notion audit-export settings.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ParentDB string `yaml:"parent_db" mapstructure:"parent_db"`
}

// PipelineConfig configures batch draining and retries.
type PipelineConfig struct {
	BatchSize             int `yaml:"batch_size" mapstructure:"batch_size"`
	StepDelayMS           int `yaml:"step_delay_ms" mapstructure:"step_delay_ms"`
	MaxRetries            int `yaml:"max_retries" mapstructure:"max_retries"`
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions" mapstructure:"max_concurrent_sessions"`
}

// StepDelay returns the enforced delay between external calls for one row.
// Never zero: back-to-back calls against the enrichment backends are not
// allowed regardless of configuration.
func (p PipelineConfig) StepDelay() time.Duration {
	if p.StepDelayMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(p.StepDelayMS) * time.Millisecond
}

// RulesConfig configures the rule engine.
type RulesConfig struct {
	SeedPath string `yaml:"seed_path" mapstructure:"seed_path"`
}

// ServerConfig configures the HTTP API.
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
	v.SetEnvPrefix("IMPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("account.id", "default")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "import.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("serp.base_url", "https://serpapi.com")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("pipeline.batch_size", 50)
	v.SetDefault("pipeline.step_delay_ms", 500)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.max_concurrent_sessions", 4)
	v.SetDefault("rules.seed_path", "rules.yaml")

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
