package engine

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/logger"
	"github.com/yourusername/rally-coach/internal/metrics"
	"github.com/yourusername/rally-coach/internal/models"
	"github.com/yourusername/rally-coach/internal/runs"
)

// MockBackend computes a closed-form approximation instead of running the engine
type MockBackend struct {
	logger *logger.EngineLogger
}

// NewMockBackend creates the deterministic substitute backend
func NewMockBackend(log *logrus.Logger) *MockBackend {
	return &MockBackend{logger: logger.NewEngineLogger(log)}
}

// Mode implements Backend
func (m *MockBackend) Mode() models.EngineMode {
	return models.EngineModeMock
}

// MockProbability is a logistic combination of the rally probabilities and style
// edges. It is monotone in both rally probabilities and bounded to [0.01, 0.99].
func MockProbability(p models.MatchupParameters) float64 {
	a, b := p.PlayerA, p.PlayerB
	linear := 2.8*(p.PASrvWin-0.5) +
		2.2*(p.PARcvWin-0.5) +
		0.7*(a.ServeMix.Short-b.ServeMix.Short) +
		0.9*(a.RallyStyle.Attack-b.RallyStyle.Attack) -
		0.6*(b.RallyStyle.Safe-a.RallyStyle.Safe)
	return models.Clamp(1/(1+math.Exp(-linear)), models.MinProbability, models.MaxProbability)
}

// Evaluate implements Backend. No process is spawned; an output artifact in the
// engine's phrase encoding is still written for traceability.
func (m *MockBackend) Evaluate(ctx context.Context, job Job) (*models.ProbabilityResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	value := MockProbability(job.Params)

	modelPath := ""
	if job.Model != nil {
		modelPath = job.Model.Path
	}
	inv := &models.EngineInvocation{
		ID:        uuid.NewString(),
		Mode:      models.EngineModeMock,
		ModelPath: modelPath,
		WorkDir:   job.WorkDir,
		Command:   []string{"mock", "-pcsp", modelPath},
		Stdout:    fmt.Sprintf("[mock] finished %s. Probability = %.6f\n", filepath.Base(modelPath), value),
		Output:    fmt.Sprintf("Mock Verification Result\nwith prob %.6f\n", value),
		State:     models.StateSucceeded,
		StartedAt: start.UTC(),
	}

	if job.WorkDir != "" {
		inv.OutputPath = job.OutputPath()
		inv.Command = append(inv.Command, inv.OutputPath)
		if err := runs.WriteText(inv.OutputPath, inv.Output); err != nil {
			return nil, fmt.Errorf("failed to write mock output: %w", err)
		}
	}
	inv.Attempts = []models.Attempt{{Index: 1, Command: inv.Command, Stdout: inv.Stdout}}
	inv.Elapsed = time.Since(start)

	if job.WorkDir != "" {
		if err := runs.WriteInvocation(inv, nil); err != nil {
			m.logger.WithError(err).Warn("Failed to persist mock artifacts")
		}
	}

	metrics.RecordEngineInvocation(string(models.EngineModeMock), "success", inv.Elapsed.Seconds())
	m.logger.LogInvocation(inv.ID, string(inv.Mode), string(inv.State), 1, false, inv.Elapsed)

	return &models.ProbabilityResult{
		Value:        value,
		Source:       models.SourceMock,
		InvocationID: inv.ID,
		Invocation:   inv,
	}, nil
}
