// Command coach predicts badminton matchups and searches for tactical adjustments
// by model-checking a generated probabilistic model.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/rally-coach/internal/config"
	"github.com/yourusername/rally-coach/internal/datasource"
	"github.com/yourusername/rally-coach/internal/engine"
	"github.com/yourusername/rally-coach/internal/logger"
	"github.com/yourusername/rally-coach/internal/models"
	"github.com/yourusername/rally-coach/internal/service"
)

// Build information - set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var (
	configFile   string
	modeOverride string
	appLogger    *logrus.Logger
	cfg          *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./config/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&modeOverride, "mode", "", "Engine mode override (real|mock)")

	rootCmd.AddCommand(predictCmd, strategyCmd, batchCmd, planCmd, serveCmd, importCmd, versionCmd)
}

var rootCmd = &cobra.Command{
	Use:           "coach",
	Short:         "Model-checked badminton match prediction and strategy search",
	Long:          `Estimates matchup parameters from match history, renders a probabilistic model, runs it through the model-checking engine and reports win probabilities or the tactical adjustments that improve them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCmd {
			return nil
		}
		if err := loadConfig(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		appLogger = logger.NewLogger(cfg.App.LogLevel, cfg.App.Environment)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("coach %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func loadConfig() error {
	var err error
	cfg, err = config.LoadWithDefaults(configFile)
	if err != nil {
		return err
	}

	if modeOverride != "" {
		cfg.Engine.Mode = modeOverride
	}

	// Load AWS secrets if enabled
	if os.Getenv("AWS_SECRETS_ENABLED") == "true" {
		region := os.Getenv("AWS_REGION")
		secretName := os.Getenv("AWS_SECRET_NAME")
		if region == "" || secretName == "" {
			return fmt.Errorf("AWS_REGION and AWS_SECRET_NAME must be set when AWS_SECRETS_ENABLED is true")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := config.LoadSecretsFromAWS(ctx, cfg, region, secretName); err != nil {
			return err
		}
	}

	// relative paths are taken from the working directory
	if wd, err := os.Getwd(); err == nil {
		config.ResolvePaths(cfg, wd)
	}

	return config.Validate(cfg)
}

// newCoach opens the configured history source and engine backend
func newCoach(ctx context.Context) (*service.Coach, error) {
	src, err := datasource.NewFactory(cfg, appLogger).Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open history source: %w", err)
	}

	backend, err := engine.NewBackend(cfg, appLogger)
	if err != nil {
		src.Close()
		return nil, err
	}

	coach, err := service.NewCoach(cfg, src, backend, appLogger)
	if err != nil {
		src.Close()
		return nil, err
	}
	return coach, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func parseAsOf(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := datasource.ParseMatchDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q: %w", value, err)
	}
	return t, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportStageError logs where a run failed so partial artifacts can be found
func reportStageError(err error) error {
	var se *models.StageError
	if errors.As(err, &se) {
		appLogger.WithFields(logrus.Fields{
			"stage":   se.Stage,
			"run_dir": se.RunDir,
		}).Error("Run failed")
	}
	return err
}
