package models

import "time"

// EngineMode selects the real model checker or the closed-form substitute
type EngineMode string

const (
	EngineModeReal EngineMode = "real"
	EngineModeMock EngineMode = "mock"
)

// FallbackState tracks an invocation through the compatibility fallback
type FallbackState string

const (
	StateInitial          FallbackState = "initial"
	StateAttempted        FallbackState = "attempted"
	StateFallbackPrepared FallbackState = "fallback_prepared"
	StateRetried          FallbackState = "retried"
	StateSucceeded        FallbackState = "succeeded"
	StateFailed           FallbackState = "failed"
)

// Attempt is one process execution inside an invocation
type Attempt struct {
	Index    int           `json:"index"`
	Command  []string      `json:"cmd"`
	ExitCode int           `json:"returncode"`
	Stdout   string        `json:"-"`
	Stderr   string        `json:"-"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	TimedOut bool          `json:"timed_out"`
}

// EngineInvocation records one execution of the engine against one model instance,
// including every attempt made. It is created per call and never reused.
type EngineInvocation struct {
	ID              string        `json:"id"`
	Mode            EngineMode    `json:"mode"`
	ModelPath       string        `json:"model_path"`
	OutputPath      string        `json:"output_path"`
	WorkDir         string        `json:"work_dir"`
	Command         []string      `json:"cmd"`
	ExitCode        int           `json:"returncode"`
	Stdout          string        `json:"-"`
	Stderr          string        `json:"-"`
	Output          string        `json:"-"`
	Elapsed         time.Duration `json:"elapsed_ns"`
	FallbackApplied bool          `json:"fallback_applied"`
	State           FallbackState `json:"state"`
	Attempts        []Attempt     `json:"attempts"`
	StartedAt       time.Time     `json:"started_at"`

	// Set when the result was served from the cache instead of a fresh run
	Source        ResultSource `json:"source,omitempty"`
	CachedFromID  string       `json:"cached_from_id,omitempty"`
	CachedFromDir string       `json:"cached_from_dir,omitempty"`
}

// ResultSource names where a probability came from
type ResultSource string

const (
	SourceEngine ResultSource = "engine"
	SourceMock   ResultSource = "mock"
	SourceCache  ResultSource = "cache"
)

// ProbabilityResult is a normalized probability with its provenance
type ProbabilityResult struct {
	Value        float64           `json:"probability"`
	Source       ResultSource      `json:"source"`
	InvocationID string            `json:"invocation_id"`
	Invocation   *EngineInvocation `json:"-"`
}
