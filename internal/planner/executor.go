package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/datasource"
	"github.com/yourusername/rally-coach/internal/engine"
	"github.com/yourusername/rally-coach/internal/estimator"
	"github.com/yourusername/rally-coach/internal/logger"
	"github.com/yourusername/rally-coach/internal/metrics"
	"github.com/yourusername/rally-coach/internal/models"
	"github.com/yourusername/rally-coach/internal/runs"
	"github.com/yourusername/rally-coach/internal/search"
	"github.com/yourusername/rally-coach/internal/service"
)

// ErrMissingState is returned when a tool runs before the step it depends on
var ErrMissingState = errors.New("plan step out of order")

// StepError reports which tool call of a plan failed
type StepError struct {
	Step int
	Tool string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("plan step %d (%s) failed: %v", e.Step, e.Tool, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ToolResult is the structured outcome of one tool call
type ToolResult struct {
	Step   int                    `json:"step"`
	Tool   string                 `json:"tool"`
	Input  map[string]interface{} `json:"input"`
	Output map[string]interface{} `json:"output,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Execution is the trace and answer of one executed plan
type Execution struct {
	Plan    *Plan                  `json:"plan"`
	RunID   string                 `json:"run_id"`
	RunDir  string                 `json:"run_dir"`
	Results []ToolResult           `json:"tool_trace"`
	Answer  string                 `json:"answer,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Executor runs plans step by step against the coach's components. Each plan
// gets its own run directory and state; nothing is shared between plans.
type Executor struct {
	coach  *service.Coach
	audit  *logger.AuditLogger
	logger *logrus.Entry
}

// NewExecutor creates a plan executor
func NewExecutor(coach *service.Coach, log *logrus.Logger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{
		coach:  coach,
		audit:  logger.NewAuditLogger(log),
		logger: log.WithField("component", "planner"),
	}
}

type planState struct {
	plan     *Plan
	run      *runs.Run
	playerA  models.Player
	playerB  models.Player
	resolved bool
	estimate *estimator.Estimate
	model    *models.ModelInstance
	result   *models.ProbabilityResult
	search   *search.Result
	answer   string
}

func (s *planState) vars() map[string]string {
	v := map[string]string{
		"run_dir": s.run.Dir,
		"run_id":  s.run.ID,
	}
	if s.resolved {
		v["playerA_id"] = s.playerA.ID
		v["playerB_id"] = s.playerB.ID
		v["playerA_name"] = s.playerA.Name
		v["playerB_name"] = s.playerB.Name
	}
	if s.model != nil {
		v["model_path"] = s.model.Path
		v["pcsp_path"] = s.model.Path
	}
	return v
}

// Execute runs every tool call in order and stops at the first failure. The
// execution trace is returned and written to the run directory either way.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*Execution, error) {
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}
	start := time.Now()

	run, err := runs.NewRun(e.coach.RunsDir(), "plan_"+plan.TaskType)
	if err != nil {
		return nil, err
	}
	e.audit.LogRunCreated(run.Dir, "plan_"+plan.TaskType, start.UTC())
	if err := runs.WriteJSON(run.Path(runs.PlanFile), plan); err != nil {
		return nil, err
	}

	st := &planState{plan: plan, run: run}
	execution := &Execution{Plan: plan, RunID: run.ID, RunDir: run.Dir}

	var stepErr error
	for i, call := range plan.ToolCalls {
		res, err := e.step(ctx, st, i+1, call)
		execution.Results = append(execution.Results, res)
		if err != nil {
			stepErr = &StepError{Step: i + 1, Tool: call.Tool, Err: err}
			break
		}
	}

	execution.Answer = st.answer
	execution.Payload = payload(st, e.coach.Backend().Mode())
	if err := runs.WriteJSON(run.Path(runs.ToolTraceFile), execution); err != nil && stepErr == nil {
		stepErr = err
	}

	metrics.RecordPipelineRun("plan_"+plan.TaskType, stepErr == nil, time.Since(start).Seconds())
	e.logger.WithFields(logrus.Fields{
		"run_id": run.ID,
		"task":   plan.TaskType,
		"steps":  len(execution.Results),
	}).Info("Plan executed")

	return execution, stepErr
}

func (e *Executor) step(ctx context.Context, st *planState, n int, call ToolCall) (ToolResult, error) {
	res := ToolResult{Step: n, Tool: call.Tool}

	input, err := substituteArgs(call.Arguments, st.vars())
	res.Input = input
	if err == nil {
		res.Output, err = e.dispatch(ctx, st, call.Tool, input)
	}
	if err != nil {
		res.Error = err.Error()
	}
	e.audit.LogPlanStep(n, call.Tool, input, err)
	return res, err
}

func (e *Executor) dispatch(ctx context.Context, st *planState, tool string, input map[string]interface{}) (map[string]interface{}, error) {
	switch tool {
	case ToolResolvePlayers:
		var args ResolvePlayersArgs
		if err := decodeArgs(input, &args); err != nil {
			return nil, err
		}
		return e.resolvePlayers(ctx, st, args)
	case ToolLoadStats:
		var args LoadStatsArgs
		if err := decodeArgs(input, &args); err != nil {
			return nil, err
		}
		return e.loadStats(ctx, st, args)
	case ToolBuildModel:
		var args BuildModelArgs
		if err := decodeArgs(input, &args); err != nil {
			return nil, err
		}
		return e.buildModel(st, args)
	case ToolRunEngine:
		var args RunEngineArgs
		if err := decodeArgs(input, &args); err != nil {
			return nil, err
		}
		return e.runEngine(ctx, st, args)
	case ToolBatchSensitivity:
		var args BatchSensitivityArgs
		if err := decodeArgs(input, &args); err != nil {
			return nil, err
		}
		return e.batchSensitivity(ctx, st, args)
	case ToolSummarizeResults:
		var args SummarizeResultsArgs
		if err := decodeArgs(input, &args); err != nil {
			return nil, err
		}
		return e.summarize(st, args)
	default:
		return nil, fmt.Errorf("unknown tool %q", tool)
	}
}

func (e *Executor) resolvePlayers(ctx context.Context, st *planState, args ResolvePlayersArgs) (map[string]interface{}, error) {
	a, b, err := datasource.ResolvePair(ctx, e.coach.Source(), args.Names[0], args.Names[1])
	if err != nil {
		return nil, err
	}
	st.playerA, st.playerB, st.resolved = a, b, true
	return map[string]interface{}{
		"playerA_id":   a.ID,
		"playerA_name": a.Name,
		"playerB_id":   b.ID,
		"playerB_name": b.Name,
	}, nil
}

func (e *Executor) loadStats(ctx context.Context, st *planState, args LoadStatsArgs) (map[string]interface{}, error) {
	q := estimator.Query{PlayerA: args.PlayerAID, PlayerB: args.PlayerBID, Window: args.Window}
	if args.AsOf != "" {
		asOf, err := datasource.ParseMatchDate(args.AsOf)
		if err != nil {
			return nil, err
		}
		q.AsOf = asOf
	}

	est, err := e.coach.Estimator().Estimate(ctx, e.coach.Source(), q)
	if err != nil {
		return nil, err
	}
	st.estimate = est
	st.playerA, st.playerB, st.resolved = est.Stats.PlayerA, est.Stats.PlayerB, true

	if err := runs.WriteJSON(st.run.Path(runs.StatsFile), est.Stats); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"playerA":      est.Stats.StatsA,
		"playerB":      est.Stats.StatsB,
		"head_to_head": est.Stats.HeadToHead,
		"params":       est.Params,
	}, nil
}

func (e *Executor) buildModel(st *planState, args BuildModelArgs) (map[string]interface{}, error) {
	if st.estimate == nil {
		return nil, fmt.Errorf("%w: %s needs %s first", ErrMissingState, ToolBuildModel, ToolLoadStats)
	}
	out := args.OutPath
	if out == "" {
		out = st.run.Path(runs.ModelFile)
	} else if !filepath.IsAbs(out) {
		out = st.run.Path(out)
	}

	model, err := e.coach.Builder().Build(st.run.ID, st.estimate.Params, out)
	if err != nil {
		return nil, err
	}
	st.model = model
	return map[string]interface{}{
		"pcsp_path":   model.Path,
		"params_json": model.ParamsPath,
	}, nil
}

func (e *Executor) runEngine(ctx context.Context, st *planState, args RunEngineArgs) (map[string]interface{}, error) {
	if st.model == nil {
		return nil, fmt.Errorf("%w: %s needs %s first", ErrMissingState, ToolRunEngine, ToolBuildModel)
	}
	if args.ModelPath != "" && filepath.Clean(args.ModelPath) != filepath.Clean(st.model.Path) {
		return nil, fmt.Errorf("model_path %s was not built by this plan", args.ModelPath)
	}
	if args.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(args.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	backend := e.coach.Backend()
	res, err := backend.Evaluate(ctx, engine.Job{
		Params:  st.estimate.Params,
		Model:   st.model,
		WorkDir: filepath.Dir(st.model.Path),
	})
	if err != nil {
		return nil, err
	}
	st.result = res
	return map[string]interface{}{
		"probability":   res.Value,
		"source":        res.Source,
		"invocation_id": res.InvocationID,
		"mode":          backend.Mode(),
	}, nil
}

func (e *Executor) batchSensitivity(ctx context.Context, st *planState, args BatchSensitivityArgs) (map[string]interface{}, error) {
	if st.estimate == nil {
		return nil, fmt.Errorf("%w: %s needs %s first", ErrMissingState, ToolBatchSensitivity, ToolLoadStats)
	}
	opts := e.coach.SearchOptions()
	if args.Budget > 0 {
		opts.Budget = args.Budget
	}
	if args.MaxCandidates > 0 {
		opts.MaxCandidates = args.MaxCandidates
	}
	if args.TopK > 0 {
		opts.TopK = args.TopK
	}
	if len(args.Magnitudes) > 0 {
		opts.Magnitudes = args.Magnitudes
	}
	opts.CombineAxes = opts.CombineAxes || args.CombineAxes

	sr, err := e.coach.NewSearcher(opts).Run(ctx, st.run.ID, st.estimate.Params, st.run.Dir)
	if err != nil {
		return nil, err
	}
	st.search = sr

	if err := runs.WriteJSON(st.run.Path(runs.CandidatesFile), sr.Candidates); err != nil {
		return nil, err
	}
	if err := runs.WriteAlternativesCSV(st.run.Path(runs.AlternativesFile), sr.TopAlternatives); err != nil {
		return nil, err
	}

	improved := sr.Baseline.Value
	if sr.Best != nil {
		improved = sr.Best.Probability()
	}
	return map[string]interface{}{
		"baseline_probability": sr.Baseline.Value,
		"improved_probability": improved,
		"delta":                sr.Delta,
		"best_candidate":       sr.Best,
		"top_alternatives":     sr.TopAlternatives,
		"counts":               sr.Counts,
	}, nil
}

func (e *Executor) summarize(st *planState, args SummarizeResultsArgs) (map[string]interface{}, error) {
	question := args.Question
	if question == "" {
		question = st.plan.Question
	}
	constraints := args.Constraints
	if len(constraints) == 0 {
		constraints = st.plan.Constraints
	}

	answer, err := renderSummary(st, e.coach.Backend().Mode(), constraints)
	if err != nil {
		return nil, err
	}
	st.answer = answer
	return map[string]interface{}{
		"question": question,
		"answer":   answer,
	}, nil
}

var referencePattern = regexp.MustCompile(`^\$([A-Za-z_]+)(.*)$`)

// substituteArgs decodes raw arguments and replaces "$name" references with
// values produced by earlier steps. A reference may prefix a path, as in
// "$run_dir/matchup.pcsp".
func substituteArgs(raw json.RawMessage, vars map[string]string) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	out, err := substitute(args, vars)
	if err != nil {
		return args, err
	}
	return out.(map[string]interface{}), nil
}

func substitute(v interface{}, vars map[string]string) (interface{}, error) {
	switch val := v.(type) {
	case string:
		m := referencePattern.FindStringSubmatch(val)
		if m == nil {
			return val, nil
		}
		resolved, ok := vars[m[1]]
		if !ok {
			return nil, fmt.Errorf("%w: unresolved reference $%s", ErrMissingState, m[1])
		}
		return resolved + m[2], nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			s, err := substitute(item, vars)
			if err != nil {
				return nil, err
			}
			out[k] = s
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			s, err := substitute(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	default:
		return v, nil
	}
}

// decodeArgs maps substituted arguments onto a typed struct and validates it.
// Unknown argument names are rejected.
func decodeArgs(input map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(input)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid arguments: %w", formatValidationErrors(err))
	}
	return nil
}
