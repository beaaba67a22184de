package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/rally-coach/internal/config"
	"github.com/yourusername/rally-coach/internal/datasource"
	"github.com/yourusername/rally-coach/internal/engine"
	"github.com/yourusername/rally-coach/internal/estimator"
	"github.com/yourusername/rally-coach/internal/logger"
	"github.com/yourusername/rally-coach/internal/models"
	"github.com/yourusername/rally-coach/internal/runs"
	"github.com/yourusername/rally-coach/internal/search"
)

type stubBackend struct {
	value float64
	err   error
	calls int
}

func (s *stubBackend) Evaluate(ctx context.Context, job engine.Job) (*models.ProbabilityResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &models.ProbabilityResult{Value: s.value, Source: models.SourceEngine, InvocationID: "stub"}, nil
}

func (s *stubBackend) Mode() models.EngineMode {
	return models.EngineModeReal
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Estimator: estimator.DefaultConfig(),
		Search: config.SearchConfig{
			Budget:      0.3,
			TopK:        3,
			Parallelism: 1,
			Magnitudes:  search.DefaultMagnitudes,
		},
		Runs: config.RunsConfig{Dir: t.TempDir()},
	}
}

func testSource(t *testing.T) datasource.HistorySource {
	t.Helper()
	src, err := datasource.LoadCSV("../datasource/testdata/players.csv", "../datasource/testdata/matches.csv")
	require.NoError(t, err)
	return src
}

func newTestCoach(t *testing.T, backend engine.Backend) *Coach {
	t.Helper()
	log := logger.Discard()
	if backend == nil {
		backend = engine.NewMockBackend(log)
	}
	c, err := NewCoach(testConfig(t), testSource(t), backend, log)
	require.NoError(t, err)
	return c
}

func TestPredictMockWritesArtifacts(t *testing.T) {
	c := newTestCoach(t, nil)

	res, err := c.Predict(context.Background(), PredictRequest{PlayerA: "Lee Chong Wei", PlayerB: "Lin Dan"})
	require.NoError(t, err)

	assert.Equal(t, models.EngineModeMock, res.Mode)
	assert.Equal(t, models.SourceMock, res.Source)
	assert.Equal(t, "P1", res.PlayerA.ID)
	assert.Equal(t, "P2", res.PlayerB.ID)
	assert.Greater(t, res.Probability, 0.0)
	assert.Less(t, res.Probability, 1.0)
	assert.InDelta(t, engine.MockProbability(res.Params), res.Probability, 1e-12)

	for _, name := range []string{
		runs.InputsFile, runs.StatsFile, runs.ModelFile, "params.json",
		runs.EngineOutputFile, runs.EngineRunFile, runs.PredictionFile, runs.SummaryFile,
	} {
		assert.FileExists(t, filepath.Join(res.RunDir, name))
	}

	var summary map[string]interface{}
	data, err := os.ReadFile(filepath.Join(res.RunDir, runs.SummaryFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, []interface{}{"Lee Chong Wei", "Lin Dan"}, summary["players"])
	assert.InDelta(t, res.Probability, summary["probability"], 1e-12)
	assert.Contains(t, summary, "params_used")
}

func TestPredictIsDeterministic(t *testing.T) {
	c := newTestCoach(t, nil)
	req := PredictRequest{PlayerA: "P1", PlayerB: "P3"}

	first, err := c.Predict(context.Background(), req)
	require.NoError(t, err)
	second, err := c.Predict(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunDir, second.RunDir)
	assert.Equal(t, first.Probability, second.Probability)
}

func TestPredictUsesRequestedRunID(t *testing.T) {
	c := newTestCoach(t, nil)

	res, err := c.Predict(context.Background(), PredictRequest{PlayerA: "P1", PlayerB: "P2", RunID: "nightly_p1_p2"})
	require.NoError(t, err)
	assert.Equal(t, "nightly_p1_p2", res.RunID)
	assert.Equal(t, filepath.Join(c.RunsDir(), "nightly_p1_p2"), res.RunDir)

	_, err = c.Predict(context.Background(), PredictRequest{PlayerA: "P1", PlayerB: "P2", RunID: "../escape"})
	var se *models.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.StageArtifacts, se.Stage)
}

func TestPredictUnknownPlayerFailsEstimateStage(t *testing.T) {
	c := newTestCoach(t, nil)

	_, err := c.Predict(context.Background(), PredictRequest{PlayerA: "Lee Chong Wei", PlayerB: "Nobody Known"})
	require.Error(t, err)

	var se *models.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.StageEstimate, se.Stage)
	assert.ErrorIs(t, err, models.ErrResolution)
	assert.FileExists(t, filepath.Join(se.RunDir, runs.InputsFile))
	assert.NoFileExists(t, filepath.Join(se.RunDir, runs.PredictionFile))
}

func TestPredictMissingEngineDoesNotFallBackToMock(t *testing.T) {
	log := logger.Discard()
	runner := engine.NewRunner(config.EngineConfig{
		Mode:               string(models.EngineModeReal),
		ConsolePath:        filepath.Join(t.TempDir(), "missing", "PAT.Console.exe"),
		MonoPath:           "mono",
		TimeoutSeconds:     5,
		ShimTimeoutSeconds: 5,
	}, log)
	c := newTestCoach(t, runner)

	res, err := c.Predict(context.Background(), PredictRequest{PlayerA: "P1", PlayerB: "P2"})
	require.Error(t, err)
	assert.Nil(t, res)

	var se *models.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.StageEngine, se.Stage)
	assert.ErrorIs(t, err, models.ErrEngineNotFound)
	assert.FileExists(t, filepath.Join(se.RunDir, runs.ModelFile))
	assert.NoFileExists(t, filepath.Join(se.RunDir, runs.PredictionFile))
}

func TestPredictStageAttribution(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		stage models.Stage
		is    error
	}{
		{"unparsable output", &models.UnparsableOutputError{Reason: "no probability", Raw: "Verification done"}, models.StageParse, models.ErrUnparsableOutput},
		{"engine timeout", &models.EngineError{Kind: models.ErrEngineTimeout}, models.StageEngine, models.ErrEngineTimeout},
		{"empty output", &models.EngineError{Kind: models.ErrEmptyEngineOutput}, models.StageEngine, models.ErrEmptyEngineOutput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoach(t, &stubBackend{err: tt.err})

			_, err := c.Predict(context.Background(), PredictRequest{PlayerA: "P1", PlayerB: "P2"})

			var se *models.StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.stage, se.Stage)
			assert.ErrorIs(t, err, tt.is)
			assert.NotEmpty(t, se.RunDir)
		})
	}
}

func TestStrategyMockImprovesOrKeepsBaseline(t *testing.T) {
	c := newTestCoach(t, nil)

	res, err := c.Strategy(context.Background(), StrategyRequest{PlayerA: "Lee Chong Wei", PlayerB: "Viktor Axelsen"})
	require.NoError(t, err)

	require.NotNil(t, res.Best)
	assert.GreaterOrEqual(t, res.ImprovedProbability, res.BaselineProbability)
	assert.InDelta(t, res.ImprovedProbability-res.BaselineProbability, res.Delta, 1e-12)
	assert.LessOrEqual(t, res.Best.L1, 0.3+1e-9)
	assert.Len(t, res.TopAlternatives, 3)
	// single-axis shifts of at most 0.20 all fit the default budget
	assert.Equal(t, 12, res.Counts[models.CandidateEvaluated])
	assert.Zero(t, res.Counts[models.CandidateExcluded])

	for _, name := range []string{
		runs.InputsFile, runs.StatsFile, runs.StrategyFile, runs.CandidatesFile,
		runs.SummaryFile, runs.AlternativesFile,
	} {
		assert.FileExists(t, filepath.Join(res.RunDir, name))
	}
	assert.FileExists(t, filepath.Join(res.RunDir, "baseline", runs.ModelFile))
}

func TestStrategyRequestOverridesBudget(t *testing.T) {
	c := newTestCoach(t, nil)

	res, err := c.Strategy(context.Background(), StrategyRequest{PlayerA: "P1", PlayerB: "P2", Budget: 0.05})
	require.NoError(t, err)

	assert.Equal(t, 0.05, res.Budget)
	assert.Equal(t, 4, res.Counts[models.CandidateEvaluated])
	assert.Equal(t, 8, res.Counts[models.CandidateExcluded])
}

func TestStrategyBaselineFailure(t *testing.T) {
	backend := &stubBackend{err: &models.EngineError{Kind: models.ErrEngineFailed, Detail: "exit 1"}}
	c := newTestCoach(t, backend)

	_, err := c.Strategy(context.Background(), StrategyRequest{PlayerA: "P1", PlayerB: "P2"})

	var se *models.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.StageEngine, se.Stage)
	assert.True(t, errors.Is(err, models.ErrEngineFailed))
	assert.Equal(t, 1, backend.calls)
	assert.NoFileExists(t, filepath.Join(se.RunDir, runs.StrategyFile))
}

func TestSearchStage(t *testing.T) {
	assert.Equal(t, models.StageBuild, searchStage(&models.ModelValidationError{Violations: []string{"x"}}))
	assert.Equal(t, models.StageParse, searchStage(&models.UnparsableOutputError{}))
	assert.Equal(t, models.StageEngine, searchStage(&models.EngineError{Kind: models.ErrEngineNotFound}))
	assert.Equal(t, models.StageSearch, searchStage(context.Canceled))
}
