// Package config provides configuration management for the rally coach.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// CustomValidator wraps the validator with custom validation rules
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new validator with custom validation functions
func NewValidator() *CustomValidator {
	v := validator.New()

	_ = v.RegisterValidation("environment", validateEnvironment)
	_ = v.RegisterValidation("loglevel", validateLogLevel)
	_ = v.RegisterValidation("enginemode", validateEngineMode)

	return &CustomValidator{validator: v}
}

// Validate validates the entire configuration
func Validate(cfg *Config) error {
	cv := NewValidator()
	return cv.Validate(cfg)
}

// Validate validates the configuration using registered validation rules
func (cv *CustomValidator) Validate(cfg *Config) error {
	err := cv.validator.Struct(cfg)
	if err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return formatValidationErrors(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	if err := validateCrossField(cfg); err != nil {
		return err
	}

	return nil
}

func validateEnvironment(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "development", "staging", "production":
		return true
	default:
		return false
	}
}

func validateLogLevel(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func validateEngineMode(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "real", "mock":
		return true
	default:
		return false
	}
}

// validateCrossField performs cross-field validations
func validateCrossField(cfg *Config) error {
	if cfg.Estimator.Rules.BestOf%2 == 0 {
		return fmt.Errorf("estimator.rules.best_of must be odd, got %d", cfg.Estimator.Rules.BestOf)
	}

	switch cfg.DataSource.Type {
	case "csv":
		if cfg.DataSource.PlayersPath == "" || cfg.DataSource.MatchesPath == "" {
			return fmt.Errorf("csv data source requires players_path and matches_path")
		}
	case "postgres":
		if cfg.Database.Host == "" || cfg.Database.Name == "" {
			return fmt.Errorf("postgres data source requires database host and name")
		}
	case "web":
		if cfg.DataSource.BaseURL == "" {
			return fmt.Errorf("web data source requires base_url")
		}
	}

	if cfg.Engine.Mode == "real" && cfg.Engine.ConsolePath != "" {
		if _, err := os.Stat(cfg.Engine.ConsolePath); err != nil {
			return fmt.Errorf("engine console_path %s: %w", cfg.Engine.ConsolePath, err)
		}
	}

	if cfg.Schedule.Enabled {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		for name, spec := range map[string]string{
			"batch_strategy_cron": cfg.Schedule.BatchStrategyCron,
			"batch_predict_cron":  cfg.Schedule.BatchPredictCron,
		} {
			if spec == "" {
				continue
			}
			if _, err := parser.Parse(spec); err != nil {
				return fmt.Errorf("invalid schedule.%s %q: %w", name, spec, err)
			}
		}
	}

	if cfg.IsProduction() && cfg.DataSource.Type == "postgres" && cfg.Database.SSLMode == "disable" {
		return fmt.Errorf("production environment requires SSL mode to be 'require' or 'verify-full'")
	}

	return nil
}

// formatValidationErrors formats validation errors into a readable string
func formatValidationErrors(validationErrors validator.ValidationErrors) error {
	var b strings.Builder
	for _, fieldError := range validationErrors {
		field := fieldError.StructNamespace()
		tag := fieldError.Tag()
		value := fieldError.Value()

		switch tag {
		case "required":
			fmt.Fprintf(&b, "- Field '%s' is required\n", field)
		case "url":
			fmt.Fprintf(&b, "- Field '%s' must be a valid URL, got '%v'\n", field, value)
		case "min", "max":
			fmt.Fprintf(&b, "- Field '%s' validation failed: %s=%s constraint violated\n", field, tag, fieldError.Param())
		case "gt", "gte", "lt", "lte", "gtefield":
			fmt.Fprintf(&b, "- Field '%s' validation failed: numeric constraint %s violated\n", field, tag)
		case "environment":
			fmt.Fprintf(&b, "- Field '%s' must be one of: development, staging, production\n", field)
		case "loglevel":
			fmt.Fprintf(&b, "- Field '%s' must be one of: debug, info, warn, error\n", field)
		case "enginemode":
			fmt.Fprintf(&b, "- Field '%s' must be one of: real, mock\n", field)
		case "oneof":
			fmt.Fprintf(&b, "- Field '%s' has invalid value '%v'\n", field, value)
		default:
			fmt.Fprintf(&b, "- Field '%s' failed validation: %s\n", field, tag)
		}
	}
	return fmt.Errorf("configuration validation failed:\n%s", b.String())
}

// ResolvePaths makes relative filesystem paths absolute against baseDir
func ResolvePaths(cfg *Config, baseDir string) {
	for _, p := range []*string{
		&cfg.Runs.Dir,
		&cfg.DataSource.PlayersPath,
		&cfg.DataSource.MatchesPath,
		&cfg.DataSource.CacheDir,
		&cfg.Schedule.OutputDir,
		&cfg.Model.TemplatePath,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}
