// Package config provides configuration management for the rally coach.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "config/config.yaml"
	envPrefix         = "RALLY_COACH"
)

// Load reads and parses the configuration from file and environment variables
// It expands environment variable placeholders in the YAML file (${VAR_NAME})
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = defaultConfigPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s: %w", configPath, err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v := newViper()
	if err := v.ReadConfig(bytes.NewBufferString(os.ExpandEnv(string(data)))); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}

// LoadWithDefaults loads configuration with default values for optional fields.
// A missing file is not an error: defaults and environment variables apply.
func LoadWithDefaults(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = defaultConfigPath
	}

	v := newViper()
	SetDefaults(v)

	if data, err := os.ReadFile(configPath); err == nil {
		if err := v.ReadConfig(bytes.NewBufferString(os.ExpandEnv(string(data)))); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}

// SetDefaults registers the default value of every optional key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rally-coach")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("engine.mode", "mock")
	v.SetDefault("engine.mono_path", "mono")
	v.SetDefault("engine.mcs_path", "")
	v.SetDefault("engine.timeout_seconds", 120)
	v.SetDefault("engine.shim_timeout_seconds", 30)

	v.SetDefault("estimator.laplace_alpha", 1.0)
	v.SetDefault("estimator.mix_alpha", 0.02)
	v.SetDefault("estimator.head_to_head_alpha", 1.5)
	v.SetDefault("estimator.shrinkage_constant", 12.0)
	v.SetDefault("estimator.max_blend", 1.0)
	v.SetDefault("estimator.window", 30)
	v.SetDefault("estimator.weights.w_short", 0.04)
	v.SetDefault("estimator.weights.w_attack", 0.06)
	v.SetDefault("estimator.weights.w_safe", 0.05)
	v.SetDefault("estimator.rules.target", 21)
	v.SetDefault("estimator.rules.cap", 30)
	v.SetDefault("estimator.rules.best_of", 3)

	v.SetDefault("search.budget", 0.3)
	v.SetDefault("search.max_candidates", 0)
	v.SetDefault("search.top_k", 3)
	v.SetDefault("search.parallelism", 1)
	v.SetDefault("search.magnitudes", []float64{0.05, 0.10, 0.20})

	v.SetDefault("runs.dir", "runs")

	v.SetDefault("data_source.type", "csv")
	v.SetDefault("data_source.players_path", "data/players.csv")
	v.SetDefault("data_source.matches_path", "data/matches.csv")
	v.SetDefault("data_source.cache_dir", "data/cache")
	v.SetDefault("data_source.rate_limit", 5.0)
	v.SetDefault("data_source.timeout_seconds", 30)
	v.SetDefault("data_source.max_retries", 3)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.max_size", 1000)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.pair_limit", 5)
	v.SetDefault("schedule.output_dir", "runs/analysis")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}
