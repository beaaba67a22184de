package planner

import (
	"fmt"
	"strings"

	"github.com/yourusername/rally-coach/internal/models"
)

// renderSummary renders the plan's findings as one deterministic paragraph
func renderSummary(st *planState, mode models.EngineMode, constraints []string) (string, error) {
	var text string
	switch {
	case st.search != nil:
		text = strategySummary(st, mode)
	case st.result != nil:
		text = fmt.Sprintf("Model-checked result: %s has a %s match win probability against %s (mode=%s).",
			st.playerA.Name, percent(st.result.Value, 2), st.playerB.Name, mode)
	default:
		return "", fmt.Errorf("%w: %s needs %s or %s first", ErrMissingState, ToolSummarizeResults, ToolRunEngine, ToolBatchSensitivity)
	}

	if len(constraints) > 0 {
		text += " Constraints considered: " + strings.Join(constraints, "; ") + "."
	}
	return text, nil
}

func strategySummary(st *planState, mode models.EngineMode) string {
	sr := st.search
	if sr.Best == nil {
		return fmt.Sprintf("Baseline P(win)=%s for %s against %s. No candidate adjustment could be evaluated within budget %.2f (mode=%s).",
			percent(sr.Baseline.Value, 2), st.playerA.Name, st.playerB.Name, sr.Budget, mode)
	}
	best := sr.Best
	return fmt.Sprintf("Baseline P(win)=%s. Best found P(win)=%s (delta=%s) by changing %s's short-serve share by %s and attack style by %s (mode=%s).",
		percent(sr.Baseline.Value, 2),
		percent(best.Probability(), 2),
		percent(sr.Delta, 2),
		st.playerA.Name,
		signedPercent(best.Shift.ServeShort),
		signedPercent(best.Shift.Attack),
		mode,
	)
}

// payload is the structured answer handed back to the plan's caller
func payload(st *planState, mode models.EngineMode) map[string]interface{} {
	p := map[string]interface{}{
		"task_type": st.plan.TaskType,
		"mode":      mode,
		"run_dir":   st.run.Dir,
	}
	if st.resolved {
		p["player_a"] = st.playerA.Name
		p["player_b"] = st.playerB.Name
	}
	if st.result != nil {
		p["probability"] = st.result.Value
	}
	if sr := st.search; sr != nil {
		p["baseline_probability"] = sr.Baseline.Value
		p["delta"] = sr.Delta
		if sr.Best != nil {
			p["improved_probability"] = sr.Best.Probability()
			p["best_candidate"] = sr.Best
		}
	}
	return p
}

func percent(v float64, decimals int) string {
	return fmt.Sprintf("%.*f%%", decimals, v*100)
}

func signedPercent(v float64) string {
	return fmt.Sprintf("%+.1f%%", v*100)
}
