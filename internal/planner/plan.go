// Package planner executes scripted tool-call plans against the coach pipeline.
package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Task types
const (
	TaskPrediction = "prediction"
	TaskStrategy   = "strategy"
)

// Tool names
const (
	ToolResolvePlayers   = "ResolvePlayers"
	ToolLoadStats        = "LoadStats"
	ToolBuildModel       = "BuildModel"
	ToolRunEngine        = "RunEngine"
	ToolBatchSensitivity = "BatchSensitivity"
	ToolSummarizeResults = "SummarizeResults"
)

// ToolCall is one structured tool request. Arguments may reference values
// produced by earlier steps as "$name" strings; see Executor.
type ToolCall struct {
	Tool      string          `json:"tool" validate:"required,oneof=ResolvePlayers LoadStats BuildModel RunEngine BatchSensitivity SummarizeResults"`
	Arguments json.RawMessage `json:"arguments"`
}

// Plan is an ordered list of tool calls answering one question about two players
type Plan struct {
	TaskType    string     `json:"task_type" validate:"required,oneof=prediction strategy"`
	Players     []string   `json:"players" validate:"len=2,dive,required"`
	Question    string     `json:"question,omitempty"`
	Constraints []string   `json:"constraints,omitempty"`
	ToolCalls   []ToolCall `json:"tool_calls" validate:"required,min=1,dive"`
}

// ResolvePlayersArgs are the ResolvePlayers arguments
type ResolvePlayersArgs struct {
	Names []string `json:"names" validate:"len=2,dive,required"`
}

// LoadStatsArgs are the LoadStats arguments
type LoadStatsArgs struct {
	PlayerAID string `json:"playerA_id" validate:"required"`
	PlayerBID string `json:"playerB_id" validate:"required"`
	Window    int    `json:"window" validate:"omitempty,min=1,max=500"`
	AsOf      string `json:"as_of,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// BuildModelArgs are the BuildModel arguments. An empty OutPath writes the
// model into the plan's run directory.
type BuildModelArgs struct {
	OutPath string `json:"out_path"`
}

// RunEngineArgs are the RunEngine arguments
type RunEngineArgs struct {
	ModelPath      string `json:"model_path"`
	TimeoutSeconds int    `json:"timeout_s" validate:"omitempty,min=1,max=1800"`
}

// BatchSensitivityArgs are the BatchSensitivity arguments. Zero values use
// the configured search options.
type BatchSensitivityArgs struct {
	Budget        float64   `json:"budget" validate:"omitempty,gt=0,lte=2"`
	MaxCandidates int       `json:"max_candidates" validate:"gte=0"`
	TopK          int       `json:"top_k" validate:"gte=0"`
	CombineAxes   bool      `json:"combine_axes"`
	Magnitudes    []float64 `json:"magnitudes" validate:"omitempty,dive,gt=0,lte=1"`
	Objective     string    `json:"objective" validate:"omitempty,eq=maximize_A_win"`
}

// SummarizeResultsArgs are the SummarizeResults arguments
type SummarizeResultsArgs struct {
	Question    string   `json:"question"`
	Constraints []string `json:"constraints"`
}

var validate = validator.New()

// ParsePlan decodes and validates a plan. Unknown fields are rejected.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	if err := ValidatePlan(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ValidatePlan checks the plan's structure. Tool arguments are checked when
// each step runs, after references are substituted.
func ValidatePlan(plan *Plan) error {
	if err := validate.Struct(plan); err != nil {
		return fmt.Errorf("invalid plan: %w", formatValidationErrors(err))
	}
	if plan.TaskType == TaskPrediction {
		for _, call := range plan.ToolCalls {
			if call.Tool == ToolBatchSensitivity {
				return fmt.Errorf("invalid plan: %s is not part of a prediction plan", ToolBatchSensitivity)
			}
		}
	}
	return nil
}

// DefaultPlan returns the canonical tool sequence for the task
func DefaultPlan(taskType, playerA, playerB string, window int, budget float64) (*Plan, error) {
	plan := &Plan{
		TaskType: taskType,
		Players:  []string{playerA, playerB},
		Question: defaultQuestion(taskType, playerA, playerB),
	}

	type step struct {
		tool string
		args interface{}
	}
	calls := []step{
		{ToolResolvePlayers, ResolvePlayersArgs{Names: []string{playerA, playerB}}},
		{ToolLoadStats, LoadStatsArgs{PlayerAID: "$playerA_id", PlayerBID: "$playerB_id", Window: window}},
	}
	switch taskType {
	case TaskPrediction:
		calls = append(calls,
			step{ToolBuildModel, BuildModelArgs{OutPath: "$run_dir/matchup.pcsp"}},
			step{ToolRunEngine, RunEngineArgs{ModelPath: "$model_path"}},
		)
	case TaskStrategy:
		calls = append(calls, step{ToolBatchSensitivity, BatchSensitivityArgs{Budget: budget, Objective: "maximize_A_win"}})
	default:
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}
	calls = append(calls, step{ToolSummarizeResults, SummarizeResultsArgs{Question: plan.Question}})

	for _, c := range calls {
		raw, err := json.Marshal(c.args)
		if err != nil {
			return nil, err
		}
		plan.ToolCalls = append(plan.ToolCalls, ToolCall{Tool: c.tool, Arguments: raw})
	}
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func defaultQuestion(taskType, a, b string) string {
	if taskType == TaskStrategy {
		return fmt.Sprintf("How can %s improve their chances against %s?", a, b)
	}
	return fmt.Sprintf("What is the probability that %s beats %s?", a, b)
}

func formatValidationErrors(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed '%s=%s'", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
