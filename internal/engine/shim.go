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

	"github.com/yourusername/rally-coach/internal/runs"
)

// CompatRuntimeDir is created inside the invocation's working directory
const CompatRuntimeDir = "compat_runtime"

// ShimPreparer builds an isolated engine runtime that survives the managed-runtime
// startup failure. It returns the console path inside the prepared runtime.
type ShimPreparer interface {
	Prepare(ctx context.Context, consolePath, workDir string) (string, error)
}

// MonoShimPreparer copies the console directory and compiles a no-op NESC module into it
type MonoShimPreparer struct {
	MonoPath string
	McsPath  string
	Timeout  time.Duration
	Executor Executor
}

// Prepare creates <workDir>/compat_runtime fresh for this invocation
func (p *MonoShimPreparer) Prepare(ctx context.Context, consolePath, workDir string) (string, error) {
	root := filepath.Join(workDir, CompatRuntimeDir)
	if err := os.RemoveAll(root); err != nil {
		return "", fmt.Errorf("failed to reset compat runtime: %w", err)
	}
	if err := os.CopyFS(root, os.DirFS(filepath.Dir(consolePath))); err != nil {
		return "", fmt.Errorf("failed to copy engine runtime: %w", err)
	}

	moduleDir := filepath.Join(root, "Modules", "NESC")
	if err := os.MkdirAll(moduleDir, 0o755); err != nil {
		return "", err
	}
	src := filepath.Join(moduleDir, "nesc_shim.cs")
	if err := os.WriteFile(src, []byte(nescShimSource), 0o644); err != nil {
		return "", fmt.Errorf("failed to write shim source: %w", err)
	}

	args := []string{
		p.mcsPath(),
		"-target:library",
		"-out:" + filepath.Join(moduleDir, "PAT.Module.NESC.dll"),
		"-r:" + filepath.Join(root, "PAT.Common.dll"),
		src,
	}
	attempt, err := p.Executor.Run(ctx, Command{Args: args, Dir: root, Env: os.Environ(), Timeout: p.Timeout})

	_ = runs.WriteText(filepath.Join(workDir, runs.ShimCompileStdout), attempt.Stdout)
	_ = runs.WriteText(filepath.Join(workDir, runs.ShimCompileStderr), attempt.Stderr)
	_ = runs.WriteText(filepath.Join(workDir, runs.ShimCompileCommand), strings.Join(args, " "))

	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("mcs compiler not found; the compatibility fallback requires the Mono C# compiler: %w", err)
		}
		return "", fmt.Errorf("failed to run mcs: %w", err)
	}
	if attempt.TimedOut {
		return "", fmt.Errorf("shim compilation timed out after %s", p.Timeout)
	}
	if attempt.ExitCode != 0 {
		detail := firstNonEmptyLine(attempt.Stderr)
		if detail == "" {
			detail = firstNonEmptyLine(attempt.Stdout)
		}
		if detail == "" {
			detail = "unknown compile failure"
		}
		return "", fmt.Errorf("failed to compile NESC shim: %s", detail)
	}

	return filepath.Join(root, filepath.Base(consolePath)), nil
}

// mcsPath prefers a configured compiler, then one next to an absolute mono binary
func (p *MonoShimPreparer) mcsPath() string {
	if p.McsPath != "" {
		return p.McsPath
	}
	if filepath.IsAbs(p.MonoPath) {
		sibling := filepath.Join(filepath.Dir(p.MonoPath), "mcs")
		if _, err := os.Stat(sibling); err == nil {
			return sibling
		}
	}
	if found, err := exec.LookPath("mcs"); err == nil {
		return found
	}
	return "mcs"
}

const nescShimSource = `using System;
using System.Collections.Generic;
using PAT.Common;
using PAT.Common.Classes.ModuleInterface;

namespace PAT.NESC
{
    public static class NCSetting
    {
        public static void SetBufferSize(int size) {}
        public static void SetAbstractionLevel(int level) {}
    }

    public sealed class ModuleFacade : ModuleFacadeBase
    {
        protected override SpecificationBase InstanciateSpecification(string text, string options, string filePath)
        {
            throw new NotSupportedException("NESC is not available in the compatibility runtime.");
        }

        public override string ModuleName => "NESC";
        public override List<string> GetTemplateTypes() => new List<string>();
        public override SortedList<string, string> GetTemplateNames(string type) => new SortedList<string, string>();
        public override string GetTemplateModel(string templateName) => string.Empty;
    }
}
`
