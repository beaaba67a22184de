package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy
var (
	ErrResolution        = errors.New("resolution error")
	ErrModelValidation   = errors.New("model validation error")
	ErrEngineNotFound    = errors.New("engine not found")
	ErrEngineTimeout     = errors.New("engine timeout")
	ErrEngineFailed      = errors.New("engine failed")
	ErrEmptyEngineOutput = errors.New("empty engine output")
	ErrUnparsableOutput  = errors.New("unparsable output")
)

// ResolutionError reports an unknown or ambiguous entity reference
type ResolutionError struct {
	Ref         string
	Reason      string
	Suggestions []string
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("cannot resolve %q: %s", e.Ref, e.Reason)
	if len(e.Suggestions) > 0 {
		msg += ". Did you mean: " + strings.Join(e.Suggestions, ", ") + "?"
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return ErrResolution }

// ModelValidationError lists every parameter found outside its domain
type ModelValidationError struct {
	Violations []string
}

func (e *ModelValidationError) Error() string {
	return "invalid model parameters: " + strings.Join(e.Violations, "; ")
}

func (e *ModelValidationError) Unwrap() error { return ErrModelValidation }

// EngineError carries the full diagnostics of a failed engine invocation
type EngineError struct {
	Kind          error
	Detail        string
	Hint          string
	FallbackError string
	Invocation    *EngineInvocation
}

func (e *EngineError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Hint != "" {
		msg += " (hint: " + e.Hint + ")"
	}
	if e.FallbackError != "" {
		msg += " (compatibility fallback failed: " + e.FallbackError + ")"
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Kind }

// UnparsableOutputError carries the raw engine output that could not be parsed
type UnparsableOutputError struct {
	Reason string
	Raw    string
}

func (e *UnparsableOutputError) Error() string {
	return fmt.Sprintf("could not parse probability: %s. Excerpt: %s", e.Reason, Excerpt(e.Raw, 180))
}

func (e *UnparsableOutputError) Unwrap() error { return ErrUnparsableOutput }

// Stage names a pipeline step for error reporting
type Stage string

const (
	StageEstimate  Stage = "estimate"
	StageBuild     Stage = "build"
	StageEngine    Stage = "engine"
	StageParse     Stage = "parse"
	StageSearch    Stage = "search"
	StageArtifacts Stage = "artifacts"
)

// StageError ties a pipeline failure to the stage that produced it and the
// directory where its evidence was kept
type StageError struct {
	Stage  Stage
	RunDir string
	Err    error
}

func (e *StageError) Error() string {
	if e.RunDir == "" {
		return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s stage failed (artifacts: %s): %v", e.Stage, e.RunDir, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Excerpt compacts whitespace and truncates text for error messages
func Excerpt(text string, maxLen int) string {
	compact := strings.Join(strings.Fields(text), " ")
	if len(compact) <= maxLen {
		return compact
	}
	return compact[:maxLen-3] + "..."
}
