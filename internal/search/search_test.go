package search

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/rally-coach/internal/builder"
	"github.com/yourusername/rally-coach/internal/config"
	"github.com/yourusername/rally-coach/internal/engine"
	"github.com/yourusername/rally-coach/internal/logger"
	"github.com/yourusername/rally-coach/internal/models"
	"github.com/yourusername/rally-coach/internal/runs"
)

func scenarioParams() models.MatchupParameters {
	a := models.PlayerProfile{
		ID: "A", Name: "A",
		BaseSrvWin: 0.55, BaseRcvWin: 0.45,
		ServeMix:   models.ServeMix{Short: 0.6, Flick: 0.4},
		RallyStyle: models.RallyStyle{Attack: 0.5, Neutral: 0.3, Safe: 0.2},
	}
	b := models.PlayerProfile{
		ID: "B", Name: "B",
		BaseSrvWin: 0.5, BaseRcvWin: 0.5,
		ServeMix:   models.ServeMix{Short: 0.5, Flick: 0.5},
		RallyStyle: models.RallyStyle{Attack: 0.4, Neutral: 0.35, Safe: 0.25},
	}
	return models.NewMatchupParameters(a, b, models.DefaultStyleWeights(), models.DefaultGameRules())
}

// selectiveBackend fails jobs matched by reject and defers the rest to the mock
type selectiveBackend struct {
	inner  engine.Backend
	reject func(models.MatchupParameters) bool

	mu    sync.Mutex
	calls int
}

func (b *selectiveBackend) Mode() models.EngineMode { return b.inner.Mode() }

func (b *selectiveBackend) Evaluate(ctx context.Context, job engine.Job) (*models.ProbabilityResult, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.reject != nil && b.reject(job.Params) {
		return nil, &models.EngineError{Kind: models.ErrEngineFailed, Detail: "rejected"}
	}
	return b.inner.Evaluate(ctx, job)
}

func newSearcher(t *testing.T, backend engine.Backend, opts Options) *Searcher {
	t.Helper()
	b, err := builder.New("", logger.Discard())
	require.NoError(t, err)
	return New(b, backend, opts, logger.Discard())
}

func mockBackend() *selectiveBackend {
	return &selectiveBackend{inner: engine.NewMockBackend(logger.Discard())}
}

func TestGenerateCandidates(t *testing.T) {
	single := GenerateCandidates(DefaultMagnitudes, false)
	require.Len(t, single, 12)
	assert.Equal(t, "serve_short+0.05", single[0].Name)
	assert.Equal(t, "serve_short-0.05", single[1].Name)
	assert.Equal(t, "attack-0.20", single[11].Name)
	for i, c := range single {
		assert.Equal(t, i+1, c.Index)
		assert.False(t, c.Shift.IsZero())
		assert.InDelta(t, c.Shift.L1(), c.L1, 1e-12)
	}

	combined := GenerateCandidates(DefaultMagnitudes, true)
	assert.Len(t, combined, 12+36)
	assert.Equal(t, "serve_short+0.05,attack+0.05", combined[12].Name)
}

func TestBudgetProperty(t *testing.T) {
	for _, budget := range []float64{0.05, 0.1, 0.15, 0.3} {
		s := newSearcher(t, mockBackend(), Options{Budget: budget, CombineAxes: true})
		res, err := s.Run(context.Background(), "run", scenarioParams(), t.TempDir())
		require.NoError(t, err)

		for _, c := range res.Candidates {
			switch c.Status {
			case models.CandidateExcluded:
				assert.Greater(t, c.L1, budget, c.Name)
				assert.Empty(t, c.WorkDir, "excluded candidates are never evaluated")
			case models.CandidateEvaluated:
				assert.LessOrEqual(t, c.L1, budget+1e-9, c.Name)
			default:
				t.Fatalf("unexpected status %s for %s", c.Status, c.Name)
			}
		}
	}
}

func TestExcludedCandidatesCostNothing(t *testing.T) {
	backend := mockBackend()
	s := newSearcher(t, backend, Options{Budget: 0.1})
	res, err := s.Run(context.Background(), "run", scenarioParams(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 4, res.Counts[models.CandidateExcluded])
	assert.Equal(t, 8, res.Counts[models.CandidateEvaluated])
	assert.Equal(t, 1+8, backend.calls)
}

func TestStrategyMonotonicity(t *testing.T) {
	s := newSearcher(t, mockBackend(), DefaultOptions())
	res, err := s.Run(context.Background(), "run", scenarioParams(), t.TempDir())
	require.NoError(t, err)

	var attackUp *models.Candidate
	for i := range res.Candidates {
		if res.Candidates[i].Name == "attack+0.10" {
			attackUp = &res.Candidates[i]
		}
	}
	require.NotNil(t, attackUp)
	require.Equal(t, models.CandidateEvaluated, attackUp.Status)
	assert.GreaterOrEqual(t, attackUp.Probability(), res.Baseline.Value)

	require.NotNil(t, res.Best)
	assert.GreaterOrEqual(t, res.Best.Probability(), attackUp.Probability())
	assert.InDelta(t, res.Best.Probability()-res.Baseline.Value, res.Delta, 1e-12)
	assert.GreaterOrEqual(t, res.Delta, 0.0)

	require.Len(t, res.TopAlternatives, 3)
	assert.Equal(t, 1, res.TopAlternatives[0].Rank)
	assert.Equal(t, res.Best.Name, res.TopAlternatives[0].Name)
	for i := 1; i < len(res.TopAlternatives); i++ {
		assert.GreaterOrEqual(t, res.TopAlternatives[i-1].Probability(), res.TopAlternatives[i].Probability())
	}

	require.NotNil(t, res.BestParams)
	assert.InDelta(t, 1.0, res.BestParams.PlayerA.RallyStyle.Sum(), 1e-9)
}

func TestCandidateFailureDoesNotAbort(t *testing.T) {
	base := scenarioParams()
	backend := mockBackend()
	backend.reject = func(p models.MatchupParameters) bool {
		return p.PlayerA.ServeMix.Short > base.PlayerA.ServeMix.Short+1e-9
	}

	s := newSearcher(t, backend, DefaultOptions())
	res, err := s.Run(context.Background(), "run", base, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Counts[models.CandidateFailed])
	assert.Equal(t, 9, res.Counts[models.CandidateEvaluated])
	for _, c := range res.Candidates {
		if c.Status == models.CandidateFailed {
			assert.Contains(t, c.Error, "rejected")
			assert.Zero(t, c.Rank)
		}
	}
	require.NotNil(t, res.Best)
	assert.NotContains(t, res.Best.Name, "serve_short+")
}

func TestAllCandidatesFailing(t *testing.T) {
	base := scenarioParams()
	backend := mockBackend()
	backend.reject = func(p models.MatchupParameters) bool {
		return p.PlayerA.ServeMix != base.PlayerA.ServeMix || p.PlayerA.RallyStyle != base.PlayerA.RallyStyle
	}

	s := newSearcher(t, backend, DefaultOptions())
	res, err := s.Run(context.Background(), "run", base, t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, res.Best)
	assert.Zero(t, res.Delta)
	assert.Empty(t, res.TopAlternatives)
}

func TestBaselineFailureFailsSearch(t *testing.T) {
	backend := mockBackend()
	backend.reject = func(models.MatchupParameters) bool { return true }

	s := newSearcher(t, backend, DefaultOptions())
	_, err := s.Run(context.Background(), "run", scenarioParams(), t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrEngineFailed))
	assert.Equal(t, 1, backend.calls)
}

func TestInvalidBaselineNeverReachesBackend(t *testing.T) {
	backend := mockBackend()
	params := scenarioParams()
	params.Rules.BestOf = 2

	s := newSearcher(t, backend, DefaultOptions())
	_, err := s.Run(context.Background(), "run", params, t.TempDir())
	assert.True(t, errors.Is(err, models.ErrModelValidation))
	assert.Zero(t, backend.calls)
}

func TestMaxCandidatesCap(t *testing.T) {
	backend := mockBackend()
	s := newSearcher(t, backend, Options{Budget: 0.3, MaxCandidates: 3})
	res, err := s.Run(context.Background(), "run", scenarioParams(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Counts[models.CandidateEvaluated])
	assert.Equal(t, 9, res.Counts[models.CandidateSkipped])
	assert.Equal(t, 4, backend.calls)
}

func TestParallelMatchesSequential(t *testing.T) {
	seq, err := newSearcher(t, mockBackend(), Options{Budget: 0.3, CombineAxes: true}).
		Run(context.Background(), "run", scenarioParams(), t.TempDir())
	require.NoError(t, err)

	par, err := newSearcher(t, mockBackend(), Options{Budget: 0.3, CombineAxes: true, Parallelism: 4}).
		Run(context.Background(), "run", scenarioParams(), t.TempDir())
	require.NoError(t, err)

	require.Len(t, par.Candidates, len(seq.Candidates))
	for i := range seq.Candidates {
		assert.Equal(t, seq.Candidates[i].Name, par.Candidates[i].Name)
		assert.Equal(t, seq.Candidates[i].Rank, par.Candidates[i].Rank)
		assert.Equal(t, seq.Candidates[i].Probability(), par.Candidates[i].Probability())
	}
}

func TestCandidatesOwnTheirWorkDir(t *testing.T) {
	dir := t.TempDir()
	res, err := newSearcher(t, mockBackend(), DefaultOptions()).Run(context.Background(), "run", scenarioParams(), dir)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, c := range res.Candidates {
		if c.Status != models.CandidateEvaluated {
			continue
		}
		assert.False(t, seen[c.WorkDir])
		seen[c.WorkDir] = true
		assert.FileExists(t, filepath.Join(c.WorkDir, runs.ModelFile))
		assert.FileExists(t, filepath.Join(c.WorkDir, runs.EngineOutputFile))
	}
	assert.FileExists(t, filepath.Join(dir, "baseline", runs.ModelFile))
}

func TestCancelledSearch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newSearcher(t, mockBackend(), DefaultOptions()).Run(ctx, "run", scenarioParams(), t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRankTieBreaks(t *testing.T) {
	res := func(v float64) *models.ProbabilityResult { return &models.ProbabilityResult{Value: v} }
	candidates := []models.Candidate{
		{Index: 1, L1: 0.2, Status: models.CandidateEvaluated, Result: res(0.6)},
		{Index: 2, L1: 0.1, Status: models.CandidateEvaluated, Result: res(0.6)},
		{Index: 3, L1: 0.1, Status: models.CandidateEvaluated, Result: res(0.6)},
		{Index: 4, L1: 0.05, Status: models.CandidateFailed},
		{Index: 5, L1: 0.3, Status: models.CandidateEvaluated, Result: res(0.7)},
	}
	assert.Equal(t, []int{4, 1, 2, 0}, Rank(candidates))
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Zero(t, opts.Budget)
	assert.Equal(t, 3, opts.TopK)
	assert.Equal(t, 1, opts.Parallelism)
	assert.Equal(t, DefaultMagnitudes, opts.Magnitudes)

	assert.Equal(t, 0.3, OptionsFromConfig(config.SearchConfig{}).Budget)
	assert.Equal(t, 0.2, OptionsFromConfig(config.SearchConfig{Budget: 0.2}).Budget)
}

func TestZeroBudgetExcludesEverything(t *testing.T) {
	backend := mockBackend()
	res, err := newSearcher(t, backend, Options{Budget: 0}).Run(context.Background(), "run", scenarioParams(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.Budget)
	assert.Equal(t, 12, res.Counts[models.CandidateExcluded])
	assert.Zero(t, res.Counts[models.CandidateEvaluated])
	assert.Nil(t, res.Best)
	assert.Zero(t, res.Delta)
	assert.Equal(t, 1, backend.calls)
}

func TestCacheServedCandidatesKeepInvocationRecord(t *testing.T) {
	// serve_short sits next to its ceiling, so every positive serve shift clamps
	// onto the same model and all but the first come from the cache
	params := scenarioParams()
	params.PlayerA.ServeMix = models.ServeMix{Short: 0.98, Flick: 0.02}

	cached := engine.NewCachedBackend(engine.NewMockBackend(logger.Discard()), time.Minute, 100, logger.Discard())
	res, err := newSearcher(t, cached, DefaultOptions()).Run(context.Background(), "run", params, t.TempDir())
	require.NoError(t, err)

	fromCache := 0
	for _, c := range res.Candidates {
		if c.Status != models.CandidateEvaluated {
			continue
		}
		assert.FileExists(t, filepath.Join(c.WorkDir, runs.EngineRunFile), c.Name)
		assert.FileExists(t, filepath.Join(c.WorkDir, runs.EngineStdoutFile), c.Name)
		if c.Result.Source == models.SourceCache {
			fromCache++
			require.NotNil(t, c.Result.Invocation)
			assert.NotEmpty(t, c.Result.Invocation.CachedFromID)
			assert.Equal(t, c.WorkDir, c.Result.Invocation.WorkDir)
		}
	}
	assert.Greater(t, fromCache, 0)
}
