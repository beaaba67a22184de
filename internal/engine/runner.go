package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/config"
	"github.com/yourusername/rally-coach/internal/logger"
	"github.com/yourusername/rally-coach/internal/metrics"
	"github.com/yourusername/rally-coach/internal/models"
	"github.com/yourusername/rally-coach/internal/parser"
	"github.com/yourusername/rally-coach/internal/runs"
)

const (
	defaultTimeout     = 120 * time.Second
	defaultShimTimeout = 30 * time.Second
)

// Console executables looked up, in order, when console_path is a directory
var consoleNames = []string{"PAT.Console.exe", "PAT3.Console.exe", "PAT4.Console.exe"}

// Runner drives the real engine process, including the one-shot compatibility fallback
type Runner struct {
	cfg      config.EngineConfig
	executor Executor
	shim     ShimPreparer
	logger   *logger.EngineLogger
	lookPath func(string) (string, error)
}

// RunnerOption customises a Runner
type RunnerOption func(*Runner)

// WithExecutor replaces the process executor
func WithExecutor(e Executor) RunnerOption {
	return func(r *Runner) { r.executor = e }
}

// WithShimPreparer replaces the compatibility runtime preparer
func WithShimPreparer(s ShimPreparer) RunnerOption {
	return func(r *Runner) { r.shim = s }
}

// NewRunner creates a runner for the configured console
func NewRunner(cfg config.EngineConfig, log *logrus.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:      cfg,
		executor: NewProcessExecutor(),
		logger:   logger.NewEngineLogger(log),
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.shim == nil {
		shimTimeout := time.Duration(cfg.ShimTimeoutSeconds) * time.Second
		if shimTimeout <= 0 {
			shimTimeout = defaultShimTimeout
		}
		r.shim = &MonoShimPreparer{
			MonoPath: r.monoPath(),
			McsPath:  cfg.McsPath,
			Timeout:  shimTimeout,
			Executor: r.executor,
		}
	}
	return r
}

// Mode implements Backend
func (r *Runner) Mode() models.EngineMode {
	return models.EngineModeReal
}

// ResolveConsolePath accepts a console executable or a directory holding one
func ResolveConsolePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("no engine console_path configured")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("engine console not found at %s", abs)
	}
	if !info.IsDir() {
		return abs, nil
	}

	for _, name := range consoleNames {
		candidate := filepath.Join(abs, name)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, nil
		}
	}
	matches, _ := filepath.Glob(filepath.Join(abs, "*Console*.exe"))
	if len(matches) == 1 {
		return matches[0], nil
	}
	return "", fmt.Errorf("directory %s contains no console executable", abs)
}

// UseMono reports whether the console runs under the managed runtime. An explicit
// setting wins; otherwise .exe consoles use it.
func (r *Runner) UseMono(console string) bool {
	if r.cfg.UseMono != nil {
		return *r.cfg.UseMono
	}
	return strings.EqualFold(filepath.Ext(console), ".exe")
}

func (r *Runner) monoPath() string {
	if r.cfg.MonoPath == "" {
		return "mono"
	}
	return r.cfg.MonoPath
}

func (r *Runner) timeout() time.Duration {
	if r.cfg.TimeoutSeconds <= 0 {
		return defaultTimeout
	}
	return time.Duration(r.cfg.TimeoutSeconds) * time.Second
}

// Evaluate runs the engine against job.Model and parses its verdict. Every
// attempt's output is persisted in job.WorkDir whatever the outcome.
func (r *Runner) Evaluate(ctx context.Context, job Job) (*models.ProbabilityResult, error) {
	if job.Model == nil {
		return nil, errors.New("engine job has no model instance")
	}
	inv := &models.EngineInvocation{
		ID:         uuid.NewString(),
		Mode:       models.EngineModeReal,
		ModelPath:  job.Model.Path,
		OutputPath: job.OutputPath(),
		WorkDir:    job.WorkDir,
		State:      models.StateInitial,
		StartedAt:  time.Now().UTC(),
	}

	result, err := r.invoke(ctx, inv)
	inv.Elapsed = time.Since(inv.StartedAt)

	if werr := runs.WriteInvocation(inv, err); werr != nil {
		r.logger.WithError(werr).WithField("invocation_id", inv.ID).Warn("Failed to persist engine artifacts")
	}
	metrics.RecordEngineInvocation(string(inv.Mode), outcomeLabel(err), inv.Elapsed.Seconds())
	r.logger.LogInvocation(inv.ID, string(inv.Mode), string(inv.State), len(inv.Attempts), inv.FallbackApplied, inv.Elapsed)

	return result, err
}

func (r *Runner) invoke(ctx context.Context, inv *models.EngineInvocation) (*models.ProbabilityResult, error) {
	if err := os.MkdirAll(inv.WorkDir, 0o755); err != nil {
		inv.State = models.StateFailed
		return nil, fmt.Errorf("failed to create engine work dir: %w", err)
	}
	// a stale verdict from an earlier run must not pass for this one
	_ = os.Remove(inv.OutputPath)

	console, err := ResolveConsolePath(r.cfg.ConsolePath)
	if err != nil {
		inv.State = models.StateFailed
		return nil, &models.EngineError{
			Kind:       models.ErrEngineNotFound,
			Detail:     err.Error(),
			Hint:       "set engine.console_path to PAT.Console.exe (or its directory), or run with engine.mode=mock",
			Invocation: inv,
		}
	}

	useMono := r.UseMono(console)
	if useMono {
		if _, err := r.lookPath(r.monoPath()); err != nil {
			inv.State = models.StateFailed
			return nil, &models.EngineError{
				Kind:       models.ErrEngineNotFound,
				Detail:     fmt.Sprintf("managed runtime %q not found", r.monoPath()),
				Hint:       "install Mono or set engine.mono_path",
				Invocation: inv,
			}
		}
	}

	modelPath, _ := filepath.Abs(inv.ModelPath)
	outPath, _ := filepath.Abs(inv.OutputPath)

	first, err := r.attempt(ctx, inv, r.command(console, modelPath, outPath, useMono), filepath.Dir(console), useMono)
	if err != nil {
		return nil, err
	}
	inv.State = models.StateAttempted

	signature, matched := compatibilitySignature(filepath.Base(console), useMono, fileExists(outPath), first.Stdout, first.Stderr)
	if !matched {
		return r.conclude(inv, first, "")
	}

	r.logger.LogFallbackTriggered(inv.ID, signature)
	compat, perr := r.shim.Prepare(ctx, console, inv.WorkDir)
	r.logger.LogFallbackPrepared(inv.ID, filepath.Join(inv.WorkDir, CompatRuntimeDir), perr)
	if perr != nil {
		metrics.RecordEngineFallback("prepare_failed")
		return r.conclude(inv, first, perr.Error())
	}
	inv.State = models.StateFallbackPrepared
	inv.FallbackApplied = true

	second, err := r.attempt(ctx, inv, r.command(compat, modelPath, outPath, useMono), filepath.Dir(compat), useMono)
	if err != nil {
		metrics.RecordEngineFallback("failed")
		return nil, err
	}
	inv.State = models.StateRetried

	result, err := r.conclude(inv, second, "")
	if err != nil {
		metrics.RecordEngineFallback("failed")
	} else {
		metrics.RecordEngineFallback("succeeded")
	}
	return result, err
}

func (r *Runner) command(console, modelPath, outPath string, useMono bool) []string {
	if useMono {
		return []string{r.monoPath(), console, "-pcsp", modelPath, outPath}
	}
	return []string{console, "-pcsp", modelPath, outPath}
}

// attempt executes one process and records it on the invocation. Start
// failures, timeouts and cancellation are returned as errors.
func (r *Runner) attempt(ctx context.Context, inv *models.EngineInvocation, args []string, dir string, useMono bool) (models.Attempt, error) {
	a, err := r.executor.Run(ctx, Command{Args: args, Dir: dir, Env: childEnv(useMono), Timeout: r.timeout()})
	a.Index = len(inv.Attempts) + 1
	if a.Command == nil {
		a.Command = args
	}
	inv.Attempts = append(inv.Attempts, a)
	inv.Command = a.Command
	inv.ExitCode = a.ExitCode
	inv.Stdout = a.Stdout
	inv.Stderr = a.Stderr
	r.logger.LogAttempt(inv.ID, a.Index, a.Command, a.ExitCode, a.Elapsed, a.TimedOut)

	switch {
	case err == nil && !a.TimedOut:
		return a, nil
	case a.TimedOut || errors.Is(err, context.DeadlineExceeded):
		inv.State = models.StateFailed
		return a, &models.EngineError{
			Kind:       models.ErrEngineTimeout,
			Detail:     fmt.Sprintf("engine timed out after %s", r.timeout()),
			Invocation: inv,
		}
	case errors.Is(err, context.Canceled):
		inv.State = models.StateFailed
		return a, fmt.Errorf("engine invocation cancelled: %w", err)
	case errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission):
		inv.State = models.StateFailed
		return a, &models.EngineError{
			Kind:       models.ErrEngineNotFound,
			Detail:     fmt.Sprintf("engine command could not be started: %v", err),
			Hint:       "check engine.console_path and that mono is on PATH when required",
			Invocation: inv,
		}
	default:
		inv.State = models.StateFailed
		return a, &models.EngineError{
			Kind:       models.ErrEngineFailed,
			Detail:     err.Error(),
			Invocation: inv,
		}
	}
}

// conclude judges the final attempt and parses the verdict on success
func (r *Runner) conclude(inv *models.EngineInvocation, a models.Attempt, fallbackErr string) (*models.ProbabilityResult, error) {
	modelErr := modelErrorLine(a.Stdout, a.Stderr)

	exists := fileExists(inv.OutputPath)
	if exists {
		text, err := parser.ReadOutput(inv.OutputPath)
		if err == nil {
			inv.Output = text
		}
	}

	switch {
	case a.ExitCode == 0 && modelErr == "" && strings.TrimSpace(inv.Output) != "":
		value, err := parser.Parse(inv.Output)
		if err != nil {
			inv.State = models.StateFailed
			return nil, err
		}
		inv.State = models.StateSucceeded
		return &models.ProbabilityResult{
			Value:        value,
			Source:       models.SourceEngine,
			InvocationID: inv.ID,
			Invocation:   inv,
		}, nil

	case a.ExitCode == 0 && modelErr == "":
		inv.State = models.StateFailed
		detail := "engine exited 0 without writing an output file"
		if exists {
			detail = "engine wrote an empty output file"
		}
		return nil, &models.EngineError{
			Kind:          models.ErrEmptyEngineOutput,
			Detail:        detail,
			FallbackError: fallbackErr,
			Invocation:    inv,
		}

	default:
		inv.State = models.StateFailed
		detail := modelErr
		if detail == "" {
			detail = firstNonEmptyLine(a.Stderr)
		}
		if detail == "" {
			detail = firstNonEmptyLine(a.Stdout)
		}
		if detail == "" {
			detail = fmt.Sprintf("exit code %d", a.ExitCode)
		}
		return nil, &models.EngineError{
			Kind:          models.ErrEngineFailed,
			Detail:        detail,
			Hint:          hintFromOutput(a.Stdout, a.Stderr),
			FallbackError: fallbackErr,
			Invocation:    inv,
		}
	}
}

// childEnv drops MONO_PATH so a user setting cannot redirect the console's assemblies
func childEnv(useMono bool) []string {
	env := os.Environ()
	if !useMono {
		return env
	}
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "MONO_PATH=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, models.ErrEngineTimeout):
		return "timeout"
	case errors.Is(err, models.ErrEngineNotFound):
		return "not_found"
	case errors.Is(err, models.ErrEmptyEngineOutput):
		return "empty_output"
	case errors.Is(err, models.ErrUnparsableOutput):
		return "unparsable"
	default:
		return "failed"
	}
}
