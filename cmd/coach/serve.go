package main

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/rally-coach/internal/api"
	"github.com/yourusername/rally-coach/internal/engine"
	"github.com/yourusername/rally-coach/internal/health"
	"github.com/yourusername/rally-coach/internal/metrics"
	"github.com/yourusername/rally-coach/internal/models"
	"github.com/yourusername/rally-coach/internal/scheduler"
	"github.com/yourusername/rally-coach/internal/service"
)

var requestTimeout time.Duration

func init() {
	serveCmd.Flags().DurationVar(&requestTimeout, "request-timeout", 10*time.Minute, "Upper bound on a single /predict or /strategy run")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the predict/strategy API, health and metrics endpoints, and run scheduled batch reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		coach, err := newCoach(ctx)
		if err != nil {
			return err
		}
		defer coach.Source().Close()

		metrics.InitRegistry()

		srv := health.NewServer(health.Config{
			ServiceName:    cfg.App.Name,
			Version:        Version,
			EngineMode:     string(coach.Backend().Mode()),
			Port:           cfg.Metrics.Port,
			MetricsPath:    cfg.Metrics.Path,
			MetricsHandler: metricsHandler(),
			Routes:         apiRoutes(coach),
			Logger:         appLogger,
			Checks:         readinessChecks(coach),
		})
		if err := srv.Start(ctx); err != nil {
			return err
		}

		var sched *scheduler.Scheduler
		if cfg.Schedule.Enabled {
			sched, err = startScheduler(coach)
			if err != nil {
				return err
			}
		}

		srv.SetReady(true)
		appLogger.WithFields(logrus.Fields{
			"port":      cfg.Metrics.Port,
			"scheduled": sched != nil,
		}).Info("Coach serving")

		<-ctx.Done()
		appLogger.Info("Shutting down")
		srv.SetReady(false)

		if sched != nil {
			if err := sched.Stop(); err != nil {
				appLogger.WithError(err).Warn("Scheduler did not stop cleanly")
			}
		}
		return srv.Shutdown()
	},
}

// apiRoutes serves the configured engine mode. Mock mode needs no engine
// install, so it is always offered alongside real mode.
func apiRoutes(coach *service.Coach) map[string]http.Handler {
	coaches := map[models.EngineMode]api.Coach{coach.Backend().Mode(): coach}
	if coach.Backend().Mode() != models.EngineModeMock {
		mock, err := service.NewCoach(cfg, coach.Source(), engine.NewMockBackend(appLogger), appLogger)
		if err != nil {
			appLogger.WithError(err).Warn("Mock mode unavailable on the API")
		} else {
			coaches[models.EngineModeMock] = mock
		}
	}
	return api.NewHandler(coaches, coach.Backend().Mode(), requestTimeout, appLogger).Routes()
}

func metricsHandler() http.Handler {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.Handler()
}

// readinessChecks probe the history source and, in real mode, the engine console
func readinessChecks(coach *service.Coach) []health.Checker {
	checks := []health.Checker{
		health.CheckFunc{CheckName: "history", Fn: func(ctx context.Context) error {
			_, err := coach.Source().Players(ctx)
			return err
		}},
	}
	if coach.Backend().Mode() == models.EngineModeReal {
		checks = append(checks, health.CheckFunc{CheckName: "engine", Fn: func(ctx context.Context) error {
			_, err := engine.ResolveConsolePath(cfg.Engine.ConsolePath)
			return err
		}})
	}
	return checks
}

func startScheduler(coach *service.Coach) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler(coach, appLogger)
	outputDir := cfg.Schedule.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(coach.RunsDir(), "analysis")
	}

	jobs := []struct {
		cron string
		name string
	}{
		{cfg.Schedule.BatchStrategyCron, scheduler.JobBatchStrategy},
		{cfg.Schedule.BatchPredictCron, scheduler.JobBatchPredict},
	}
	for _, j := range jobs {
		if j.cron == "" {
			continue
		}
		job := scheduler.ReportJob{
			Name:      j.name,
			PairLimit: cfg.Schedule.PairLimit,
			OutputDir: outputDir,
			Timeout:   2 * time.Hour,
		}
		if err := sched.ScheduleReport(j.cron, job); err != nil {
			return nil, err
		}
	}

	if err := sched.Start(); err != nil {
		return nil, err
	}
	return sched, nil
}
