package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// ResearchConfig carries the explore-exploit budget knobs. These are the
// per-run defaults; callers may override the budgets per request.
type ResearchConfig struct {
	MaxIterations      int `mapstructure:"max_iterations"`
	MaxDepthPerTopic   int `mapstructure:"max_depth_per_topic"`
	MaxActiveSubTopics int `mapstructure:"max_active_subtopics"`
	MaxWriterRounds    int `mapstructure:"max_writer_rounds"`
}

// AgentServiceConfig carries agent invocation service client settings.
type AgentServiceConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	TimeoutSec    int     `mapstructure:"timeout_seconds"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst"`
}

// ObservabilityConfig mirrors the features file's observability block.
type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// APIConfig carries the research API server settings.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Config is the full worker configuration.
type Config struct {
	Research      ResearchConfig      `mapstructure:"research"`
	AgentService  AgentServiceConfig  `mapstructure:"agent_service"`
	API           APIConfig           `mapstructure:"api"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// Defaults returns the built-in configuration used when no file is present.
func Defaults() *Config {
	c := &Config{}
	c.Research.MaxIterations = 2
	c.Research.MaxDepthPerTopic = 2
	c.Research.MaxActiveSubTopics = 4
	c.Research.MaxWriterRounds = 3
	c.AgentService.TimeoutSec = 540
	c.AgentService.RatePerSecond = 5
	c.AgentService.RateBurst = 10
	c.API.Enabled = true
	c.API.Port = 8081
	c.Observability.Metrics.Enabled = true
	c.Observability.Metrics.Port = 2112
	return c
}

// Load reads the config file from CONFIG_PATH (default
// /app/config/fathom.yaml), falling back to defaults when the file is
// missing. File values are merged over defaults.
func Load() (*Config, error) {
	cfg := Defaults()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "/app/config/fathom.yaml"
	}
	if _, err := os.Stat(cfgPath); err != nil {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyBounds()
	return cfg, nil
}

// applyBounds clamps budgets to sane ranges regardless of file contents.
func (c *Config) applyBounds() {
	if c.Research.MaxIterations < 1 {
		c.Research.MaxIterations = 1
	}
	if c.Research.MaxIterations > 5 {
		c.Research.MaxIterations = 5
	}
	if c.Research.MaxDepthPerTopic < 1 {
		c.Research.MaxDepthPerTopic = 1
	}
	if c.Research.MaxActiveSubTopics < 3 {
		c.Research.MaxActiveSubTopics = 3
	}
	if c.Research.MaxActiveSubTopics > 5 {
		c.Research.MaxActiveSubTopics = 5
	}
	if c.Research.MaxWriterRounds < 1 {
		c.Research.MaxWriterRounds = 1
	}
}

// AgentTimeout returns the agent service client timeout as a duration.
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentService.TimeoutSec) * time.Second
}

// APIPort returns the research API port, honoring an API_PORT override.
func (c *Config) APIPort() int {
	if p := os.Getenv("API_PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			return v
		}
	}
	return c.API.Port
}

// MetricsPort returns the metrics port, honoring a METRICS_PORT override.
func (c *Config) MetricsPort() int {
	if p := os.Getenv("METRICS_PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			return v
		}
	}
	return c.Observability.Metrics.Port
}
