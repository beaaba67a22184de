// Package service runs the predict and strategy pipelines and writes their run artifacts.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/builder"
	"github.com/yourusername/rally-coach/internal/config"
	"github.com/yourusername/rally-coach/internal/datasource"
	"github.com/yourusername/rally-coach/internal/engine"
	"github.com/yourusername/rally-coach/internal/estimator"
	"github.com/yourusername/rally-coach/internal/logger"
	"github.com/yourusername/rally-coach/internal/metrics"
	"github.com/yourusername/rally-coach/internal/models"
	"github.com/yourusername/rally-coach/internal/runs"
	"github.com/yourusername/rally-coach/internal/search"
)

// Task kinds, used as run directory prefixes and metric labels
const (
	TaskPredict  = "predict"
	TaskStrategy = "strategy"
)

// PredictRequest asks for A's probability of winning the match against B
type PredictRequest struct {
	PlayerA string
	PlayerB string
	Window  int       // 0 means the configured window
	AsOf    time.Time // zero means all history
	RunID   string    // empty means a generated run ID
}

// StrategyRequest asks for the tactical adjustments that most improve A's odds
type StrategyRequest struct {
	PlayerA       string
	PlayerB       string
	Window        int
	AsOf          time.Time
	RunID         string
	Budget        float64 // 0 means the configured budget
	MaxCandidates int     // 0 means the configured cap
}

// PredictionResult is the outcome of a predict run
type PredictionResult struct {
	RunID        string                   `json:"run_id"`
	RunDir       string                   `json:"run_dir"`
	Mode         models.EngineMode        `json:"mode"`
	PlayerA      models.Player            `json:"player_a"`
	PlayerB      models.Player            `json:"player_b"`
	Probability  float64                  `json:"probability"`
	Source       models.ResultSource      `json:"source"`
	InvocationID string                   `json:"invocation_id"`
	ModelPath    string                   `json:"model_path"`
	Params       models.MatchupParameters `json:"params_used"`
	Stats        estimator.MatchupStats   `json:"stats"`
	GeneratedAt  time.Time                `json:"generated_at"`
}

// StrategyResult is the outcome of a strategy run
type StrategyResult struct {
	RunID               string                         `json:"run_id"`
	RunDir              string                         `json:"run_dir"`
	Mode                models.EngineMode              `json:"mode"`
	PlayerA             models.Player                  `json:"player_a"`
	PlayerB             models.Player                  `json:"player_b"`
	BaselineProbability float64                        `json:"baseline_probability"`
	ImprovedProbability float64                        `json:"improved_probability"`
	Delta               float64                        `json:"delta"`
	Budget              float64                        `json:"budget"`
	Best                *models.Candidate              `json:"best_candidate,omitempty"`
	TopAlternatives     []models.Candidate             `json:"top_alternatives"`
	Counts              map[models.CandidateStatus]int `json:"counts"`
	Params              models.MatchupParameters       `json:"params_used"`
	BestParams          *models.MatchupParameters      `json:"best_params,omitempty"`
	Stats               estimator.MatchupStats         `json:"stats"`
	GeneratedAt         time.Time                      `json:"generated_at"`
}

// Coach wires the estimator, model builder and engine backend into the
// predict and strategy pipelines
type Coach struct {
	source     datasource.HistorySource
	estimator  *estimator.Estimator
	builder    *builder.Builder
	backend    engine.Backend
	searchOpts search.Options
	runsDir    string
	baseLogger *logrus.Logger
	logger     *logrus.Entry
	audit      *logger.AuditLogger
}

// NewCoach creates a coach from configuration. The backend is passed in so
// callers and tests choose between the real engine, the mock and a cache.
func NewCoach(cfg *config.Config, src datasource.HistorySource, backend engine.Backend, log *logrus.Logger) (*Coach, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	b, err := builder.New(cfg.Model.TemplatePath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load model template: %w", err)
	}
	runsDir := cfg.Runs.Dir
	if runsDir == "" {
		runsDir = "runs"
	}
	return &Coach{
		source:     src,
		estimator:  estimator.New(cfg.Estimator, log),
		builder:    b,
		backend:    backend,
		searchOpts: search.OptionsFromConfig(cfg.Search),
		runsDir:    runsDir,
		baseLogger: log,
		logger:     log.WithField("component", "coach"),
		audit:      logger.NewAuditLogger(log),
	}, nil
}

// Source returns the history source the coach reads from
func (c *Coach) Source() datasource.HistorySource {
	return c.source
}

// Estimator returns the coach's estimator
func (c *Coach) Estimator() *estimator.Estimator {
	return c.estimator
}

// Builder returns the coach's model builder
func (c *Coach) Builder() *builder.Builder {
	return c.builder
}

// Backend returns the engine backend
func (c *Coach) Backend() engine.Backend {
	return c.backend
}

// RunsDir returns the base directory for run artifacts
func (c *Coach) RunsDir() string {
	return c.runsDir
}

// SearchOptions returns the configured search options
func (c *Coach) SearchOptions() search.Options {
	return c.searchOpts
}

// NewSearcher returns a searcher using the coach's builder and backend
func (c *Coach) NewSearcher(opts search.Options) *search.Searcher {
	return search.New(c.builder, c.backend, opts, c.baseLogger)
}

// Predict estimates the matchup, builds its model and evaluates it once
func (c *Coach) Predict(ctx context.Context, req PredictRequest) (result *PredictionResult, err error) {
	start := time.Now()
	run, err := c.openRun(TaskPredict, req.RunID)
	if err != nil {
		return nil, &models.StageError{Stage: models.StageArtifacts, Err: err}
	}

	var playerA, playerB string
	defer func() {
		prob := 0.0
		if result != nil {
			prob = result.Probability
		}
		metrics.RecordPipelineRun(TaskPredict, err == nil, time.Since(start).Seconds())
		c.audit.LogRunFinished(run.Dir, TaskPredict, playerA, playerB, prob, err)
	}()

	// Step 1: Estimate parameters from history
	est, err := c.estimate(ctx, run, TaskPredict, req.PlayerA, req.PlayerB, req.Window, req.AsOf)
	if err != nil {
		return nil, err
	}
	playerA, playerB = est.Stats.PlayerA.Name, est.Stats.PlayerB.Name

	// Step 2: Render the model instance
	model, err := c.builder.Build(run.ID, est.Params, run.Path(runs.ModelFile))
	if err != nil {
		return nil, stageError(models.StageBuild, run, err)
	}

	// Step 3: Evaluate it
	res, err := c.backend.Evaluate(ctx, engine.Job{Params: est.Params, Model: model, WorkDir: run.Dir})
	if err != nil {
		return nil, stageError(evaluationStage(err), run, err)
	}

	result = &PredictionResult{
		RunID:        run.ID,
		RunDir:       run.Dir,
		Mode:         c.backend.Mode(),
		PlayerA:      est.Stats.PlayerA,
		PlayerB:      est.Stats.PlayerB,
		Probability:  res.Value,
		Source:       res.Source,
		InvocationID: res.InvocationID,
		ModelPath:    model.Path,
		Params:       est.Params,
		Stats:        est.Stats,
		GeneratedAt:  time.Now().UTC(),
	}

	// Step 4: Persist the result and its summary
	if err := runs.WriteJSON(run.Path(runs.PredictionFile), result); err != nil {
		return nil, stageError(models.StageArtifacts, run, err)
	}
	summary := newSummary(result.PlayerA, result.PlayerB, est.Params, result.GeneratedAt)
	summary.Question = fmt.Sprintf("What is %s's probability of beating %s?", result.PlayerA.Name, result.PlayerB.Name)
	summary.Probability = result.Probability
	if err := runs.WriteJSON(run.Path(runs.SummaryFile), summary); err != nil {
		return nil, stageError(models.StageArtifacts, run, err)
	}

	c.logger.WithFields(logrus.Fields{
		"run_id":      run.ID,
		"player_a":    playerA,
		"player_b":    playerB,
		"probability": result.Probability,
		"source":      result.Source,
	}).Info("Prediction completed")

	return result, nil
}

// Strategy estimates the matchup and searches for the best adjustment to A's
// serve mix and rally style within the budget
func (c *Coach) Strategy(ctx context.Context, req StrategyRequest) (result *StrategyResult, err error) {
	start := time.Now()
	run, err := c.openRun(TaskStrategy, req.RunID)
	if err != nil {
		return nil, &models.StageError{Stage: models.StageArtifacts, Err: err}
	}

	var playerA, playerB string
	defer func() {
		prob := 0.0
		if result != nil {
			prob = result.ImprovedProbability
		}
		metrics.RecordPipelineRun(TaskStrategy, err == nil, time.Since(start).Seconds())
		c.audit.LogRunFinished(run.Dir, TaskStrategy, playerA, playerB, prob, err)
	}()

	// Step 1: Estimate parameters from history
	est, err := c.estimate(ctx, run, TaskStrategy, req.PlayerA, req.PlayerB, req.Window, req.AsOf)
	if err != nil {
		return nil, err
	}
	playerA, playerB = est.Stats.PlayerA.Name, est.Stats.PlayerB.Name

	// Step 2: Search the candidate shifts
	opts := c.searchOpts
	if req.Budget > 0 {
		opts.Budget = req.Budget
	}
	if req.MaxCandidates > 0 {
		opts.MaxCandidates = req.MaxCandidates
	}
	sr, err := c.NewSearcher(opts).Run(ctx, run.ID, est.Params, run.Dir)
	if err != nil {
		return nil, stageError(searchStage(err), run, err)
	}

	result = &StrategyResult{
		RunID:               run.ID,
		RunDir:              run.Dir,
		Mode:                c.backend.Mode(),
		PlayerA:             est.Stats.PlayerA,
		PlayerB:             est.Stats.PlayerB,
		BaselineProbability: sr.Baseline.Value,
		ImprovedProbability: sr.Baseline.Value,
		Delta:               sr.Delta,
		Budget:              sr.Budget,
		Best:                sr.Best,
		TopAlternatives:     sr.TopAlternatives,
		Counts:              sr.Counts,
		Params:              est.Params,
		BestParams:          sr.BestParams,
		Stats:               est.Stats,
		GeneratedAt:         time.Now().UTC(),
	}
	if sr.Best != nil {
		result.ImprovedProbability = sr.Best.Probability()
	}

	// Step 3: Persist the result, every candidate and the alternatives table
	if err := c.writeStrategyArtifacts(run, result, sr); err != nil {
		return nil, stageError(models.StageArtifacts, run, err)
	}

	c.logger.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"player_a": playerA,
		"player_b": playerB,
		"baseline": result.BaselineProbability,
		"improved": result.ImprovedProbability,
		"delta":    result.Delta,
	}).Info("Strategy search completed")

	return result, nil
}

func (c *Coach) openRun(prefix, runID string) (*runs.Run, error) {
	var (
		run *runs.Run
		err error
	)
	if runID != "" {
		run, err = runs.OpenRun(c.runsDir, runID)
	} else {
		run, err = runs.NewRun(c.runsDir, prefix)
	}
	if err != nil {
		return nil, err
	}
	c.audit.LogRunCreated(run.Dir, prefix, time.Now().UTC())
	return run, nil
}

type runInputs struct {
	Task     string            `json:"task"`
	Players  []string          `json:"players"`
	Mode     models.EngineMode `json:"mode"`
	Window   int               `json:"window"`
	AsOfDate string            `json:"as_of_date,omitempty"`
	RunID    string            `json:"run_id"`
}

// estimate runs the estimator and writes inputs.json and stats.json
func (c *Coach) estimate(ctx context.Context, run *runs.Run, task, playerA, playerB string, window int, asOf time.Time) (*estimator.Estimate, error) {
	if window <= 0 {
		window = c.estimator.Config().Window
	}
	inputs := runInputs{
		Task:    task,
		Players: []string{playerA, playerB},
		Mode:    c.backend.Mode(),
		Window:  window,
		RunID:   run.ID,
	}
	if !asOf.IsZero() {
		inputs.AsOfDate = asOf.Format("2006-01-02")
	}
	if err := runs.WriteJSON(run.Path(runs.InputsFile), inputs); err != nil {
		return nil, stageError(models.StageArtifacts, run, err)
	}

	est, err := c.estimator.Estimate(ctx, c.source, estimator.Query{
		PlayerA: playerA,
		PlayerB: playerB,
		Window:  window,
		AsOf:    asOf,
	})
	if err != nil {
		return nil, stageError(models.StageEstimate, run, err)
	}

	if err := runs.WriteJSON(run.Path(runs.StatsFile), est.Stats); err != nil {
		return nil, stageError(models.StageArtifacts, run, err)
	}
	return est, nil
}

type strategySummaryBest struct {
	Name            string  `json:"name"`
	ServeShortDelta float64 `json:"serve_short_delta"`
	AttackDelta     float64 `json:"attack_delta"`
	L1Change        float64 `json:"l1_change"`
	Probability     float64 `json:"probability"`
}

func (c *Coach) writeStrategyArtifacts(run *runs.Run, result *StrategyResult, sr *search.Result) error {
	if err := runs.WriteJSON(run.Path(runs.StrategyFile), result); err != nil {
		return err
	}
	if err := runs.WriteJSON(run.Path(runs.CandidatesFile), sr.Candidates); err != nil {
		return err
	}
	if err := runs.WriteAlternativesCSV(run.Path(runs.AlternativesFile), sr.TopAlternatives); err != nil {
		return err
	}

	summary := newSummary(result.PlayerA, result.PlayerB, result.Params, result.GeneratedAt)
	summary.Question = fmt.Sprintf("How can %s improve their odds against %s?", result.PlayerA.Name, result.PlayerB.Name)
	summary.Probability = result.BaselineProbability
	summary.ImprovedProbability = &result.ImprovedProbability
	summary.Delta = &result.Delta
	if sr.Best != nil {
		summary.Best = &strategySummaryBest{
			Name:            sr.Best.Name,
			ServeShortDelta: sr.Best.Shift.ServeShort,
			AttackDelta:     sr.Best.Shift.Attack,
			L1Change:        sr.Best.L1,
			Probability:     sr.Best.Probability(),
		}
	}
	return runs.WriteJSON(run.Path(runs.SummaryFile), summary)
}

type summaryTimestamps struct {
	GeneratedUTC string `json:"generated_utc"`
}

type runSummary struct {
	Question            string                   `json:"question"`
	Players             []string                 `json:"players"`
	ParamsUsed          models.MatchupParameters `json:"params_used"`
	Probability         float64                  `json:"probability"`
	ImprovedProbability *float64                 `json:"improved_probability,omitempty"`
	Delta               *float64                 `json:"delta,omitempty"`
	Best                *strategySummaryBest     `json:"best_candidate,omitempty"`
	Timestamps          summaryTimestamps        `json:"timestamps"`
}

func newSummary(a, b models.Player, params models.MatchupParameters, at time.Time) runSummary {
	return runSummary{
		Players:    []string{a.Name, b.Name},
		ParamsUsed: params,
		Timestamps: summaryTimestamps{GeneratedUTC: at.Format(time.RFC3339)},
	}
}

func stageError(stage models.Stage, run *runs.Run, err error) error {
	var se *models.StageError
	if errors.As(err, &se) {
		return err
	}
	return &models.StageError{Stage: stage, RunDir: run.Dir, Err: err}
}

// evaluationStage attributes a backend failure to the parse or engine stage
func evaluationStage(err error) models.Stage {
	if errors.Is(err, models.ErrUnparsableOutput) {
		return models.StageParse
	}
	return models.StageEngine
}

// searchStage attributes a search failure to the step that caused it. A
// failed baseline keeps its own stage; anything else is the search's.
func searchStage(err error) models.Stage {
	switch {
	case errors.Is(err, models.ErrModelValidation):
		return models.StageBuild
	case errors.Is(err, models.ErrUnparsableOutput):
		return models.StageParse
	case errors.Is(err, models.ErrEngineNotFound),
		errors.Is(err, models.ErrEngineTimeout),
		errors.Is(err, models.ErrEngineFailed),
		errors.Is(err, models.ErrEmptyEngineOutput):
		return models.StageEngine
	default:
		return models.StageSearch
	}
}
