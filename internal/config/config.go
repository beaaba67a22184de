// Package config provides configuration management for the rally coach.
package config

import (
	"fmt"
	"time"

	"github.com/yourusername/rally-coach/internal/models"
)

// Config represents the complete application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app" validate:"required"`
	Engine     EngineConfig     `mapstructure:"engine" validate:"required"`
	Estimator  EstimatorConfig  `mapstructure:"estimator" validate:"required"`
	Model      ModelConfig      `mapstructure:"model"`
	Search     SearchConfig     `mapstructure:"search" validate:"required"`
	Runs       RunsConfig       `mapstructure:"runs" validate:"required"`
	DataSource DataSourceConfig `mapstructure:"data_source" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,environment"`
	LogLevel    string `mapstructure:"log_level" validate:"required,loglevel"`
}

// EngineConfig configures the external model-checking engine
type EngineConfig struct {
	Mode               string `mapstructure:"mode" validate:"required,enginemode"`
	ConsolePath        string `mapstructure:"console_path"`
	UseMono            *bool  `mapstructure:"use_mono"`
	MonoPath           string `mapstructure:"mono_path" validate:"required"`
	McsPath            string `mapstructure:"mcs_path"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds" validate:"required,gt=0"`
	ShimTimeoutSeconds int    `mapstructure:"shim_timeout_seconds" validate:"required,gt=0"`
}

// EstimatorConfig holds the smoothing and shrinkage constants
type EstimatorConfig struct {
	LaplaceAlpha      float64             `mapstructure:"laplace_alpha" validate:"gt=0"`
	MixAlpha          float64             `mapstructure:"mix_alpha" validate:"gte=0"`
	HeadToHeadAlpha   float64             `mapstructure:"head_to_head_alpha" validate:"gt=0"`
	ShrinkageConstant float64             `mapstructure:"shrinkage_constant" validate:"gt=0"`
	MaxBlend          float64             `mapstructure:"max_blend" validate:"gte=0,lte=1"`
	Window            int                 `mapstructure:"window" validate:"gt=0"`
	EstimateWeights   bool                `mapstructure:"estimate_weights"`
	Weights           models.StyleWeights `mapstructure:"weights"`
	Rules             models.GameRules    `mapstructure:"rules"`
}

// ModelConfig configures the model template
type ModelConfig struct {
	TemplatePath string `mapstructure:"template_path"`
}

// SearchConfig configures the sensitivity search
type SearchConfig struct {
	Budget        float64   `mapstructure:"budget" validate:"gt=0"`
	MaxCandidates int       `mapstructure:"max_candidates" validate:"gte=0"`
	TopK          int       `mapstructure:"top_k" validate:"gt=0"`
	Parallelism   int       `mapstructure:"parallelism" validate:"gt=0"`
	CombineAxes   bool      `mapstructure:"combine_axes"`
	Magnitudes    []float64 `mapstructure:"magnitudes" validate:"required,min=1,dive,gt=0,lte=1"`
}

// RunsConfig configures where run artifacts are written
type RunsConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

// DataSourceConfig selects the historical data adapter
type DataSourceConfig struct {
	Type           string  `mapstructure:"type" validate:"required,oneof=csv postgres web"`
	PlayersPath    string  `mapstructure:"players_path"`
	MatchesPath    string  `mapstructure:"matches_path"`
	BaseURL        string  `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey         string  `mapstructure:"api_key"`
	CacheDir       string  `mapstructure:"cache_dir"`
	RateLimit      float64 `mapstructure:"rate_limit" validate:"gte=0"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" validate:"gte=0"`
	MaxRetries     int     `mapstructure:"max_retries" validate:"gte=0"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode" validate:"omitempty,oneof=disable require verify-full"`
	MaxConnections int    `mapstructure:"max_connections" validate:"gte=0"`
}

// CacheConfig configures the probability result cache
type CacheConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	TTLSeconds int  `mapstructure:"ttl_seconds" validate:"gte=0"`
	MaxSize    int  `mapstructure:"max_size" validate:"gte=0"`
}

// MetricsConfig represents metrics and health endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Path    string `mapstructure:"path"`
}

// ScheduleConfig configures periodic batch reports
type ScheduleConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	BatchStrategyCron string `mapstructure:"batch_strategy_cron"`
	BatchPredictCron  string `mapstructure:"batch_predict_cron"`
	PairLimit         int    `mapstructure:"pair_limit" validate:"gte=0"`
	OutputDir         string `mapstructure:"output_dir"`
}

// IsDevelopment checks if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// EngineTimeout returns the per-invocation wall-clock limit
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}

// GetDatabaseDSN returns a PostgreSQL DSN string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
