package runs

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/yourusername/rally-coach/internal/models"
)

// Artifact file names
const (
	ModelFile          = "matchup.pcsp"
	EngineOutputFile   = "engine_output.txt"
	EngineStdoutFile   = "engine_stdout.txt"
	EngineStderrFile   = "engine_stderr.txt"
	EngineRunFile      = "engine_run.json"
	InputsFile         = "inputs.json"
	StatsFile          = "stats.json"
	PredictionFile     = "prediction_result.json"
	StrategyFile       = "strategy_result.json"
	SummaryFile        = "summary.json"
	AlternativesFile   = "top_alternatives.csv"
	CandidatesFile     = "candidates.json"
	PlanFile           = "plan.json"
	ToolTraceFile      = "tool_trace.json"
	ShimCompileStdout  = "shim_compile_stdout.txt"
	ShimCompileStderr  = "shim_compile_stderr.txt"
	ShimCompileCommand = "shim_compile_cmd.txt"
)

// WriteJSON writes v as indented JSON, creating parent directories
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

// WriteText writes text, creating parent directories
func WriteText(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

type attemptRecord struct {
	Index      int      `json:"index"`
	Command    []string `json:"cmd"`
	ExitCode   int      `json:"returncode"`
	ElapsedMS  int64    `json:"elapsed_ms"`
	TimedOut   bool     `json:"timed_out"`
	StdoutPath string   `json:"stdout_path"`
	StderrPath string   `json:"stderr_path"`
}

type invocationRecord struct {
	ID              string          `json:"id"`
	Mode            string          `json:"mode"`
	Command         []string        `json:"cmd"`
	ExitCode        int             `json:"returncode"`
	ElapsedMS       int64           `json:"elapsed_ms"`
	FallbackApplied bool            `json:"fallback_applied"`
	State           string          `json:"state"`
	ModelPath       string          `json:"model_path"`
	OutputPath      string          `json:"output_path"`
	StdoutPath      string          `json:"stdout_path"`
	StderrPath      string          `json:"stderr_path"`
	StartedAt       string          `json:"started_at"`
	Attempts        []attemptRecord `json:"attempts"`
	Error           string          `json:"error,omitempty"`
	Source          string          `json:"source,omitempty"`
	CachedFromID    string          `json:"cached_from_id,omitempty"`
	CachedFromDir   string          `json:"cached_from_dir,omitempty"`
}

// WriteInvocation persists the captured streams of every attempt plus an
// engine_run.json record into the invocation's working directory. invErr is the
// invocation's failure, if any.
func WriteInvocation(inv *models.EngineInvocation, invErr error) error {
	dir := inv.WorkDir
	rec := invocationRecord{
		ID:              inv.ID,
		Mode:            string(inv.Mode),
		Command:         inv.Command,
		ExitCode:        inv.ExitCode,
		ElapsedMS:       inv.Elapsed.Milliseconds(),
		FallbackApplied: inv.FallbackApplied,
		State:           string(inv.State),
		ModelPath:       inv.ModelPath,
		OutputPath:      inv.OutputPath,
		StdoutPath:      filepath.Join(dir, EngineStdoutFile),
		StderrPath:      filepath.Join(dir, EngineStderrFile),
		StartedAt:       inv.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Source:          string(inv.Source),
		CachedFromID:    inv.CachedFromID,
		CachedFromDir:   inv.CachedFromDir,
	}
	if invErr != nil {
		rec.Error = invErr.Error()
	}

	for _, a := range inv.Attempts {
		out := filepath.Join(dir, fmt.Sprintf("engine_stdout_attempt%d.txt", a.Index))
		errPath := filepath.Join(dir, fmt.Sprintf("engine_stderr_attempt%d.txt", a.Index))
		if err := WriteText(out, a.Stdout); err != nil {
			return err
		}
		if err := WriteText(errPath, a.Stderr); err != nil {
			return err
		}
		rec.Attempts = append(rec.Attempts, attemptRecord{
			Index:      a.Index,
			Command:    a.Command,
			ExitCode:   a.ExitCode,
			ElapsedMS:  a.Elapsed.Milliseconds(),
			TimedOut:   a.TimedOut,
			StdoutPath: out,
			StderrPath: errPath,
		})
	}

	if err := WriteText(rec.StdoutPath, inv.Stdout); err != nil {
		return err
	}
	if err := WriteText(rec.StderrPath, inv.Stderr); err != nil {
		return err
	}
	return WriteJSON(filepath.Join(dir, EngineRunFile), rec)
}

// WriteAlternativesCSV exports ranked candidates for spreadsheets
func WriteAlternativesCSV(path string, candidates []models.Candidate) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"rank", "name", "serve_short_delta", "attack_delta", "l1_change", "probability"}); err != nil {
		return err
	}
	for _, c := range candidates {
		row := []string{
			strconv.Itoa(c.Rank),
			c.Name,
			formatFloat(c.Applied.ServeShort),
			formatFloat(c.Applied.Attack),
			formatFloat(c.L1),
			formatFloat(c.Probability()),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
