// Package engine evaluates model instances through the external model checker
// or its closed-form substitute.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/config"
	"github.com/yourusername/rally-coach/internal/models"
	"github.com/yourusername/rally-coach/internal/runs"
)

// Job is one model instance to evaluate. WorkDir is owned by the job for the
// duration of the call and receives every artifact of the invocation.
type Job struct {
	Params  models.MatchupParameters
	Model   *models.ModelInstance
	WorkDir string
}

// OutputPath is where the engine writes its verdict
func (j Job) OutputPath() string {
	return filepath.Join(j.WorkDir, runs.EngineOutputFile)
}

// Backend turns a model instance into a probability
type Backend interface {
	Evaluate(ctx context.Context, job Job) (*models.ProbabilityResult, error)
	Mode() models.EngineMode
}

// NewBackend builds the backend selected by cfg, wrapped in a result cache when enabled
func NewBackend(cfg *config.Config, logger *logrus.Logger) (Backend, error) {
	var backend Backend
	switch models.EngineMode(cfg.Engine.Mode) {
	case models.EngineModeMock:
		backend = NewMockBackend(logger)
	case models.EngineModeReal:
		backend = NewRunner(cfg.Engine, logger)
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Engine.Mode)
	}

	if cfg.Cache.Enabled {
		backend = NewCachedBackend(backend, time.Duration(cfg.Cache.TTLSeconds)*time.Second, cfg.Cache.MaxSize, logger)
	}
	return backend, nil
}
