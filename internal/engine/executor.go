package engine

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/yourusername/rally-coach/internal/models"
)

// Command is a single process execution request
type Command struct {
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Executor runs a process to completion. A non-zero exit or a timeout is
// reported in the Attempt; the error is reserved for processes that could not
// be started and for caller cancellation.
type Executor interface {
	Run(ctx context.Context, cmd Command) (models.Attempt, error)
}

// ProcessExecutor runs commands with os/exec
type ProcessExecutor struct {
	// WaitDelay bounds how long output pipes are drained after a kill
	WaitDelay time.Duration
}

// NewProcessExecutor creates an executor for real processes
func NewProcessExecutor() *ProcessExecutor {
	return &ProcessExecutor{WaitDelay: 2 * time.Second}
}

// Run executes cmd and captures both streams, killing it when the timeout expires
func (e *ProcessExecutor) Run(ctx context.Context, c Command) (models.Attempt, error) {
	attempt := models.Attempt{Command: c.Args, ExitCode: -1}
	if len(c.Args) == 0 {
		return attempt, errors.New("empty command")
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.WaitDelay = e.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	attempt.Elapsed = time.Since(start)
	attempt.Stdout = stdout.String()
	attempt.Stderr = stderr.String()

	if ctx.Err() != nil {
		return attempt, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		attempt.TimedOut = true
		return attempt, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			attempt.ExitCode = exitErr.ExitCode()
			return attempt, nil
		}
		return attempt, err
	}

	attempt.ExitCode = 0
	return attempt, nil
}
