package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/rally-coach/internal/models"
	"github.com/yourusername/rally-coach/internal/runs"
)

type failingStartExecutor struct{}

func (failingStartExecutor) Run(_ context.Context, cmd Command) (models.Attempt, error) {
	return models.Attempt{Command: cmd.Args, ExitCode: -1}, &exec.Error{Name: cmd.Args[0], Err: exec.ErrNotFound}
}

func consoleTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	console := filepath.Join(dir, "PAT3.Console.exe")
	require.NoError(t, os.WriteFile(console, []byte("console"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PAT.Common.dll"), []byte("common"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Modules", "PCSP"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Modules", "PCSP", "PAT.Module.PCSP.dll"), []byte("pcsp"), 0o644))
	return console
}

func TestMonoShimPreparerBuildsRuntime(t *testing.T) {
	console := consoleTree(t)
	work := t.TempDir()
	ex := &scriptedExecutor{steps: []func(Command) models.Attempt{
		func(cmd Command) models.Attempt {
			return models.Attempt{Command: cmd.Args, ExitCode: 0, Stdout: "Compilation succeeded"}
		},
	}}
	p := &MonoShimPreparer{McsPath: "/opt/mono/bin/mcs", Timeout: time.Second, Executor: ex}

	compat, err := p.Prepare(context.Background(), console, work)
	require.NoError(t, err)

	root := filepath.Join(work, CompatRuntimeDir)
	assert.Equal(t, filepath.Join(root, "PAT3.Console.exe"), compat)
	assert.FileExists(t, filepath.Join(root, "PAT.Common.dll"))
	assert.FileExists(t, filepath.Join(root, "Modules", "PCSP", "PAT.Module.PCSP.dll"))
	assert.FileExists(t, filepath.Join(root, "Modules", "NESC", "nesc_shim.cs"))

	require.Len(t, ex.calls, 1)
	args := ex.calls[0].Args
	assert.Equal(t, "/opt/mono/bin/mcs", args[0])
	assert.Equal(t, "-target:library", args[1])

	cmdText, err := os.ReadFile(filepath.Join(work, runs.ShimCompileCommand))
	require.NoError(t, err)
	assert.Contains(t, string(cmdText), "-target:library")

	// a second invocation in the same work dir starts from a clean copy
	ex.steps = append(ex.steps, ex.steps[0])
	_, err = p.Prepare(context.Background(), console, work)
	require.NoError(t, err)
}

func TestMonoShimPreparerCompileFailure(t *testing.T) {
	console := consoleTree(t)
	ex := &scriptedExecutor{steps: []func(Command) models.Attempt{
		func(cmd Command) models.Attempt {
			return models.Attempt{Command: cmd.Args, ExitCode: 1, Stderr: "nesc_shim.cs(3,7): error CS0246: PAT.Common not found"}
		},
	}}
	p := &MonoShimPreparer{McsPath: "mcs", Timeout: time.Second, Executor: ex}

	_, err := p.Prepare(context.Background(), console, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CS0246")
}

func TestMonoShimPreparerMissingCompiler(t *testing.T) {
	p := &MonoShimPreparer{McsPath: "mcs", Timeout: time.Second, Executor: failingStartExecutor{}}
	_, err := p.Prepare(context.Background(), consoleTree(t), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mcs compiler not found")
}
