// Package search ranks tactical adjustments by the win probability they produce.
package search

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/rally-coach/internal/config"
	"github.com/yourusername/rally-coach/internal/engine"
	"github.com/yourusername/rally-coach/internal/logger"
	"github.com/yourusername/rally-coach/internal/metrics"
	"github.com/yourusername/rally-coach/internal/models"
	"github.com/yourusername/rally-coach/internal/runs"
)

// ModelBuilder renders parameters into a model file
type ModelBuilder interface {
	Build(runID string, p models.MatchupParameters, outPath string) (*models.ModelInstance, error)
}

// Options control candidate selection and evaluation
type Options struct {
	Budget        float64
	MaxCandidates int // 0 means no cap
	TopK          int
	Parallelism   int
	CombineAxes   bool
	Magnitudes    []float64
}

// DefaultOptions returns single-axis search under a 0.3 budget, top 3, sequential
func DefaultOptions() Options {
	return Options{
		Budget:      0.3,
		TopK:        3,
		Parallelism: 1,
		Magnitudes:  DefaultMagnitudes,
	}
}

// OptionsFromConfig maps the search config section onto Options. An unset
// budget takes the default; a Searcher itself treats budget 0 as "no changes".
func OptionsFromConfig(cfg config.SearchConfig) Options {
	opts := Options{
		Budget:        cfg.Budget,
		MaxCandidates: cfg.MaxCandidates,
		TopK:          cfg.TopK,
		Parallelism:   cfg.Parallelism,
		CombineAxes:   cfg.CombineAxes,
		Magnitudes:    cfg.Magnitudes,
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultOptions().Budget
	}
	return opts.withDefaults()
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Budget < 0 {
		o.Budget = 0
	}
	if o.TopK <= 0 {
		o.TopK = def.TopK
	}
	if o.Parallelism <= 0 {
		o.Parallelism = def.Parallelism
	}
	if len(o.Magnitudes) == 0 {
		o.Magnitudes = def.Magnitudes
	}
	return o
}

// Result is the outcome of one sensitivity search
type Result struct {
	Baseline        *models.ProbabilityResult      `json:"baseline"`
	BaselineParams  models.MatchupParameters       `json:"baseline_params"`
	Candidates      []models.Candidate             `json:"candidates"`
	Best            *models.Candidate              `json:"best_candidate,omitempty"`
	BestParams      *models.MatchupParameters      `json:"best_params,omitempty"`
	TopAlternatives []models.Candidate             `json:"top_alternatives"`
	Delta           float64                        `json:"delta"`
	Budget          float64                        `json:"budget"`
	Counts          map[models.CandidateStatus]int `json:"counts"`
}

// Searcher evaluates candidate shifts through the same backend as the baseline
type Searcher struct {
	builder ModelBuilder
	backend engine.Backend
	opts    Options
	logger  *logger.SearchLogger
}

// New creates a searcher
func New(builder ModelBuilder, backend engine.Backend, opts Options, log *logrus.Logger) *Searcher {
	return &Searcher{
		builder: builder,
		backend: backend,
		opts:    opts.withDefaults(),
		logger:  logger.NewSearchLogger(log),
	}
}

// Options returns the effective options
func (s *Searcher) Options() Options {
	return s.opts
}

// Run evaluates the baseline and every candidate under dir. Only a baseline
// failure fails the search; candidate failures are recorded on the candidate.
func (s *Searcher) Run(ctx context.Context, runID string, baseline models.MatchupParameters, dir string) (*Result, error) {
	start := time.Now()

	baseDir := filepath.Join(dir, "baseline")
	baseModel, err := s.builder.Build(runID, baseline, filepath.Join(baseDir, runs.ModelFile))
	if err != nil {
		return nil, fmt.Errorf("baseline model: %w", err)
	}
	baseResult, err := s.backend.Evaluate(ctx, engine.Job{Params: baseline, Model: baseModel, WorkDir: baseDir})
	if err != nil {
		return nil, fmt.Errorf("baseline evaluation: %w", err)
	}

	candidates := GenerateCandidates(s.opts.Magnitudes, s.opts.CombineAxes)
	var eligible []int
	for i := range candidates {
		c := &candidates[i]
		if !WithinBudget(c.L1, s.opts.Budget) {
			c.Status = models.CandidateExcluded
			c.Error = fmt.Sprintf("l1 change %.2f exceeds budget %.2f", c.L1, s.opts.Budget)
			continue
		}
		if s.opts.MaxCandidates > 0 && len(eligible) >= s.opts.MaxCandidates {
			c.Status = models.CandidateSkipped
			c.Error = fmt.Sprintf("beyond max_candidates=%d", s.opts.MaxCandidates)
			continue
		}
		eligible = append(eligible, i)
	}

	paramsByIndex := make([]models.MatchupParameters, len(candidates))
	evaluate := func(i int) {
		c := &candidates[i]
		params := baseline.WithShift(c.Shift)
		paramsByIndex[i] = params
		c.Applied = params.AppliedShift(baseline)
		c.WorkDir = filepath.Join(dir, "candidates", fmt.Sprintf("candidate_%03d", c.Index))

		model, err := s.builder.Build(runID, params, filepath.Join(c.WorkDir, runs.ModelFile))
		if err != nil {
			c.Status = models.CandidateFailed
			c.Error = err.Error()
			return
		}
		res, err := s.backend.Evaluate(ctx, engine.Job{Params: params, Model: model, WorkDir: c.WorkDir})
		if err != nil {
			c.Status = models.CandidateFailed
			c.Error = err.Error()
			return
		}
		c.Status = models.CandidateEvaluated
		c.Result = res
	}

	if s.opts.Parallelism > 1 {
		var g errgroup.Group
		g.SetLimit(s.opts.Parallelism)
		for _, i := range eligible {
			g.Go(func() error {
				evaluate(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for _, i := range eligible {
			if ctx.Err() != nil {
				break
			}
			evaluate(i)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search interrupted: %w", err)
	}

	result := &Result{
		Baseline:       baseResult,
		BaselineParams: baseline,
		Candidates:     candidates,
		Budget:         s.opts.Budget,
		Counts:         map[models.CandidateStatus]int{},
	}

	ranked := Rank(candidates)
	for r, idx := range ranked {
		candidates[idx].Rank = r + 1
	}
	for _, c := range candidates {
		result.Counts[c.Status]++
		metrics.RecordSearchCandidate(string(c.Status))
		s.logger.LogCandidate(c.Index, c.Name, string(c.Status), c.L1, c.Probability(), c.Error)
	}

	if len(ranked) > 0 {
		best := candidates[ranked[0]]
		bestParams := paramsByIndex[ranked[0]]
		result.Best = &best
		result.BestParams = &bestParams
		result.Delta = best.Probability() - baseResult.Value

		k := s.opts.TopK
		if k > len(ranked) {
			k = len(ranked)
		}
		for _, idx := range ranked[:k] {
			result.TopAlternatives = append(result.TopAlternatives, candidates[idx])
		}
	}

	bestProb := baseResult.Value
	if result.Best != nil {
		bestProb = result.Best.Probability()
	}
	metrics.RecordSearch(time.Since(start).Seconds(), result.Delta)
	s.logger.LogSearchCompleted(baseline.PlayerA.Name, baseline.PlayerB.Name, baseResult.Value, bestProb, result.Delta,
		result.Counts[models.CandidateEvaluated], result.Counts[models.CandidateExcluded], result.Counts[models.CandidateFailed])

	return result, nil
}

// Rank orders evaluated candidates by probability descending, then smaller L1,
// then generation order. It returns indices into candidates.
func Rank(candidates []models.Candidate) []int {
	var idx []int
	for i, c := range candidates {
		if c.Status == models.CandidateEvaluated && c.Result != nil {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ca, cb := candidates[idx[a]], candidates[idx[b]]
		if ca.Probability() != cb.Probability() {
			return ca.Probability() > cb.Probability()
		}
		if ca.L1 != cb.L1 {
			return ca.L1 < cb.L1
		}
		return ca.Index < cb.Index
	})
	return idx
}
