package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/rally-coach/internal/config"
	"github.com/yourusername/rally-coach/internal/logger"
	"github.com/yourusername/rally-coach/internal/models"
	"github.com/yourusername/rally-coach/internal/runs"
)

const startupFailureStdout = `PAT 3.5.1
Usage: PAT3.Console.exe [options] <input> <output>
For all modules except UML:
  -pcsp   probabilistic CSP module
`

const startupFailureStderr = "Invalid arguments. Invalid image\n"

// scriptedExecutor replays one canned attempt per call
type scriptedExecutor struct {
	mu    sync.Mutex
	calls []Command
	steps []func(Command) models.Attempt
}

func (s *scriptedExecutor) Run(_ context.Context, cmd Command) (models.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.calls)
	s.calls = append(s.calls, cmd)
	if i >= len(s.steps) {
		return models.Attempt{Command: cmd.Args, ExitCode: 99, Stderr: "unexpected call"}, nil
	}
	return s.steps[i](cmd), nil
}

func (s *scriptedExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type mockShim struct {
	mock.Mock
}

func (m *mockShim) Prepare(ctx context.Context, consolePath, workDir string) (string, error) {
	args := m.Called(ctx, consolePath, workDir)
	return args.String(0), args.Error(1)
}

func startupFailure(cmd Command) models.Attempt {
	return models.Attempt{Command: cmd.Args, ExitCode: 1, Stdout: startupFailureStdout, Stderr: startupFailureStderr}
}

func writesVerdict(verdict string) func(Command) models.Attempt {
	return func(cmd Command) models.Attempt {
		out := cmd.Args[len(cmd.Args)-1]
		_ = os.WriteFile(out, []byte(verdict), 0o644)
		return models.Attempt{Command: cmd.Args, ExitCode: 0, Stdout: "Verification finished"}
	}
}

func newJob(t *testing.T) Job {
	t.Helper()
	work := t.TempDir()
	modelPath := filepath.Join(work, runs.ModelFile)
	require.NoError(t, os.WriteFile(modelPath, []byte("model"), 0o644))
	return Job{
		Params:  scenarioParams(),
		Model:   &models.ModelInstance{Path: modelPath, Text: "model"},
		WorkDir: work,
	}
}

func pat3Console(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	console := filepath.Join(dir, "PAT3.Console.exe")
	require.NoError(t, os.WriteFile(console, []byte("binary"), 0o644))
	return console
}

func newFakeRunner(cfg config.EngineConfig, exec Executor, shim ShimPreparer) *Runner {
	r := NewRunner(cfg, logger.Discard(), WithExecutor(exec), WithShimPreparer(shim))
	r.lookPath = func(string) (string, error) { return "/usr/bin/mono", nil }
	return r
}

func TestFallbackRetriesExactlyOnceOnSuccess(t *testing.T) {
	console := pat3Console(t)
	compat := filepath.Join(t.TempDir(), "PAT3.Console.exe")
	exec := &scriptedExecutor{steps: []func(Command) models.Attempt{
		startupFailure,
		writesVerdict("Probability [0.58, 0.58]"),
	}}
	shim := &mockShim{}
	shim.On("Prepare", mock.Anything, mock.Anything, mock.Anything).Return(compat, nil).Once()

	r := newFakeRunner(config.EngineConfig{ConsolePath: console, MonoPath: "mono", TimeoutSeconds: 5}, exec, shim)
	res, err := r.Evaluate(context.Background(), newJob(t))
	require.NoError(t, err)

	assert.Equal(t, 0.58, res.Value)
	assert.Equal(t, 2, exec.callCount())
	assert.True(t, res.Invocation.FallbackApplied)
	assert.Equal(t, models.StateSucceeded, res.Invocation.State)
	require.Len(t, res.Invocation.Attempts, 2)
	assert.Equal(t, []string{"mono", compat}, exec.calls[1].Args[:2])
	shim.AssertExpectations(t)
}

func TestFallbackRetriesExactlyOnceOnFailure(t *testing.T) {
	console := pat3Console(t)
	exec := &scriptedExecutor{steps: []func(Command) models.Attempt{startupFailure, startupFailure}}
	shim := &mockShim{}
	shim.On("Prepare", mock.Anything, mock.Anything, mock.Anything).Return(filepath.Join(t.TempDir(), "PAT3.Console.exe"), nil).Once()

	r := newFakeRunner(config.EngineConfig{ConsolePath: console, TimeoutSeconds: 5}, exec, shim)
	job := newJob(t)
	_, err := r.Evaluate(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrEngineFailed))
	assert.Equal(t, 2, exec.callCount())

	var engErr *models.EngineError
	require.True(t, errors.As(err, &engErr))
	require.NotNil(t, engErr.Invocation)
	assert.Len(t, engErr.Invocation.Attempts, 2)
	assert.Equal(t, models.StateFailed, engErr.Invocation.State)
	assert.NotEmpty(t, engErr.Hint)

	assert.FileExists(t, filepath.Join(job.WorkDir, "engine_stdout_attempt1.txt"))
	assert.FileExists(t, filepath.Join(job.WorkDir, "engine_stderr_attempt2.txt"))
	assert.FileExists(t, filepath.Join(job.WorkDir, runs.EngineRunFile))
	shim.AssertExpectations(t)
}

func TestFallbackPreparationFailureIsTerminal(t *testing.T) {
	console := pat3Console(t)
	exec := &scriptedExecutor{steps: []func(Command) models.Attempt{startupFailure}}
	shim := &mockShim{}
	shim.On("Prepare", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("mcs compiler not found")).Once()

	r := newFakeRunner(config.EngineConfig{ConsolePath: console, TimeoutSeconds: 5}, exec, shim)
	_, err := r.Evaluate(context.Background(), newJob(t))
	require.Error(t, err)
	assert.Equal(t, 1, exec.callCount())

	var engErr *models.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, "mcs compiler not found", engErr.FallbackError)
	assert.False(t, engErr.Invocation.FallbackApplied)
	assert.Contains(t, err.Error(), "compatibility fallback failed")
}

func TestNoFallbackWithoutSignature(t *testing.T) {
	tests := []struct {
		name    string
		console string
		useMono bool
		attempt func(Command) models.Attempt
	}{
		{
			name:    "other console",
			console: "PAT4.Console.exe",
			useMono: true,
			attempt: startupFailure,
		},
		{
			name:    "no managed runtime",
			console: "PAT3.Console.exe",
			useMono: false,
			attempt: startupFailure,
		},
		{
			name:    "unrelated failure",
			console: "PAT3.Console.exe",
			useMono: true,
			attempt: func(cmd Command) models.Attempt {
				return models.Attempt{Command: cmd.Args, ExitCode: 2, Stderr: "Parsing error: unexpected token"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			console := filepath.Join(dir, tt.console)
			require.NoError(t, os.WriteFile(console, []byte("binary"), 0o644))

			exec := &scriptedExecutor{steps: []func(Command) models.Attempt{tt.attempt}}
			shim := &mockShim{}
			useMono := tt.useMono
			r := newFakeRunner(config.EngineConfig{ConsolePath: console, UseMono: &useMono, TimeoutSeconds: 5}, exec, shim)

			_, err := r.Evaluate(context.Background(), newJob(t))
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrEngineFailed))
			assert.Equal(t, 1, exec.callCount())
			shim.AssertNotCalled(t, "Prepare", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRunnerRemovesMonoPathFromChildEnv(t *testing.T) {
	t.Setenv("MONO_PATH", "/tmp/elsewhere")
	console := filepath.Join(t.TempDir(), "PAT.Console.exe")
	require.NoError(t, os.WriteFile(console, []byte("binary"), 0o644))

	exec := &scriptedExecutor{steps: []func(Command) models.Attempt{writesVerdict("with prob 0.5")}}
	r := newFakeRunner(config.EngineConfig{ConsolePath: console, TimeoutSeconds: 5}, exec, &mockShim{})
	_, err := r.Evaluate(context.Background(), newJob(t))
	require.NoError(t, err)

	require.Len(t, exec.calls, 1)
	assert.Equal(t, filepath.Dir(console), exec.calls[0].Dir)
	for _, kv := range exec.calls[0].Env {
		assert.NotContains(t, kv, "MONO_PATH=")
	}
}

func TestResolveConsolePath(t *testing.T) {
	_, err := ResolveConsolePath("")
	assert.Error(t, err)

	_, err = ResolveConsolePath(filepath.Join(t.TempDir(), "nope.exe"))
	assert.Error(t, err)

	dir := t.TempDir()
	_, err = ResolveConsolePath(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Custom.Console.exe"), nil, 0o644))
	got, err := ResolveConsolePath(dir)
	require.NoError(t, err)
	assert.Equal(t, "Custom.Console.exe", filepath.Base(got))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "PAT4.Console.exe"), nil, 0o644))
	got, err = ResolveConsolePath(dir)
	require.NoError(t, err)
	assert.Equal(t, "PAT4.Console.exe", filepath.Base(got))
}

func TestRunnerEngineNotFound(t *testing.T) {
	r := NewRunner(config.EngineConfig{ConsolePath: filepath.Join(t.TempDir(), "missing.exe")}, logger.Discard())
	_, err := r.Evaluate(context.Background(), newJob(t))
	assert.True(t, errors.Is(err, models.ErrEngineNotFound))

	console := filepath.Join(t.TempDir(), "PAT.Console.exe")
	require.NoError(t, os.WriteFile(console, nil, 0o644))
	r = NewRunner(config.EngineConfig{ConsolePath: console, MonoPath: "rally-coach-missing-mono"}, logger.Discard())
	_, err = r.Evaluate(context.Background(), newJob(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrEngineNotFound))
	assert.Contains(t, err.Error(), "rally-coach-missing-mono")
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script engine requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-console")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func scriptRunner(console string, timeoutSeconds int) *Runner {
	useMono := false
	return NewRunner(config.EngineConfig{
		ConsolePath:    console,
		UseMono:        &useMono,
		TimeoutSeconds: timeoutSeconds,
	}, logger.Discard())
}

func TestRunnerWithShellEngine(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		want    float64
		wantErr error
	}{
		{
			name:   "interval verdict",
			script: "echo \"checking $2\"\nprintf 'The Assertion is Valid.\\nProbability [0.612345, 0.612345]\\n' > \"$3\"\n",
			want:   0.612345,
		},
		{
			name:    "model error with exit 0",
			script:  "echo 'Parsing error: unexpected token at line 3'\nexit 0\n",
			wantErr: models.ErrEngineFailed,
		},
		{
			name:    "empty output",
			script:  ": > \"$3\"\n",
			wantErr: models.ErrEmptyEngineOutput,
		},
		{
			name:    "no output file",
			script:  "exit 0\n",
			wantErr: models.ErrEmptyEngineOutput,
		},
		{
			name:    "non-zero exit",
			script:  "echo 'boom' >&2\nexit 3\n",
			wantErr: models.ErrEngineFailed,
		},
		{
			name:    "unparsable verdict",
			script:  "echo 'Verification complete' > \"$3\"\n",
			wantErr: models.ErrUnparsableOutput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			console := writeScript(t, tt.script)
			job := newJob(t)

			res, err := scriptRunner(console, 10).Evaluate(context.Background(), job)
			assert.FileExists(t, filepath.Join(job.WorkDir, runs.EngineRunFile))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Value)
			assert.Equal(t, models.SourceEngine, res.Source)
			assert.Contains(t, res.Invocation.Stdout, "checking")
		})
	}
}

func TestRunnerNonZeroExitDetail(t *testing.T) {
	console := writeScript(t, "echo 'boom' >&2\nexit 3\n")
	_, err := scriptRunner(console, 10).Evaluate(context.Background(), newJob(t))
	var engErr *models.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, "boom", engErr.Detail)
	assert.Equal(t, 3, engErr.Invocation.ExitCode)
}

func TestRunnerTimeout(t *testing.T) {
	console := writeScript(t, "echo 'started'\nexec sleep 30\n")
	job := newJob(t)

	_, err := scriptRunner(console, 1).Evaluate(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrEngineTimeout))

	var engErr *models.EngineError
	require.True(t, errors.As(err, &engErr))
	require.Len(t, engErr.Invocation.Attempts, 1)
	assert.True(t, engErr.Invocation.Attempts[0].TimedOut)
	assert.Contains(t, engErr.Invocation.Stdout, "started")
}

func TestRunnerIgnoresStaleOutput(t *testing.T) {
	console := writeScript(t, "exit 0\n")
	job := newJob(t)
	require.NoError(t, os.WriteFile(job.OutputPath(), []byte("with prob 0.9"), 0o644))

	_, err := scriptRunner(console, 10).Evaluate(context.Background(), job)
	assert.True(t, errors.Is(err, models.ErrEmptyEngineOutput))
}
