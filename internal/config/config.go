package config

import (
	"fmt"
	"os"

	"github.com/fieldmark/fieldmark/internal/tagger"
	"github.com/spf13/viper"
)

// Config holds every runtime setting of the service.
type Config struct {
	// LLM settings
	Model          string  `mapstructure:"model"`
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	RequestTimeout int     `mapstructure:"request_timeout"` // seconds

	// Pipeline settings
	Concurrency int  `mapstructure:"concurrency"` // parallel tagger batches
	BatchSize   int  `mapstructure:"batch_size"`  // groups per tagger batch
	AIMatching  bool `mapstructure:"ai_matching"` // semantic fill matching

	// Storage and HTTP surface
	StorePath  string `mapstructure:"store_path"`
	ListenAddr string `mapstructure:"listen_addr"`

	Debug bool `mapstructure:"debug"`

	// Taxonomy overrides; empty means the built-in rule set.
	Taxonomy tagger.Taxonomy `mapstructure:"taxonomy"`
}

// Load reads the configuration from the given file, or from .fieldmark.yaml
// in the working directory and $HOME when no path is given. Environment
// variables prefixed FIELDMARK_ override file values; the API key also falls
// back to OPENROUTER_API_KEY.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(".fieldmark")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	v.SetEnvPrefix("FIELDMARK")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if len(cfg.Taxonomy.Categories) == 0 {
		cfg.Taxonomy = tagger.DefaultTaxonomy()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail deep inside a job.
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model", "google/gemini-2.0-flash-001")
	v.SetDefault("base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("temperature", 0.1)
	v.SetDefault("max_tokens", 8192)
	v.SetDefault("request_timeout", 120)
	v.SetDefault("concurrency", 15)
	v.SetDefault("batch_size", 40)
	v.SetDefault("ai_matching", true)
	v.SetDefault("store_path", "fieldmark.db")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("debug", false)
}
