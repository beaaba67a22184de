// Package logger provides engine-specific logging.
package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// EngineLogger provides dedicated logging for engine invocations.
type EngineLogger struct {
	*logrus.Entry
}

// NewEngineLogger creates a new engine logger.
func NewEngineLogger(baseLogger *logrus.Logger) *EngineLogger {
	return &EngineLogger{
		Entry: baseLogger.WithField("component", "engine"),
	}
}

// LogAttempt logs a single engine process execution.
func (el *EngineLogger) LogAttempt(invocationID string, attempt int, cmd []string, exitCode int, elapsed time.Duration, timedOut bool) {
	el.WithFields(logrus.Fields{
		"invocation_id": invocationID,
		"attempt":       attempt,
		"cmd":           cmd,
		"exit_code":     exitCode,
		"elapsed_ms":    elapsed.Milliseconds(),
		"timed_out":     timedOut,
	}).Debug("Engine attempt finished")
}

// LogFallbackTriggered logs detection of the runtime compatibility failure.
func (el *EngineLogger) LogFallbackTriggered(invocationID, signature string) {
	el.WithFields(logrus.Fields{
		"invocation_id": invocationID,
		"signature":     signature,
	}).Warn("Engine compatibility failure detected, preparing fallback runtime")
}

// LogFallbackPrepared logs the outcome of preparing the compatibility runtime.
func (el *EngineLogger) LogFallbackPrepared(invocationID, runtimeDir string, err error) {
	entry := el.WithFields(logrus.Fields{
		"invocation_id": invocationID,
		"runtime_dir":   runtimeDir,
	})
	if err != nil {
		entry.WithError(err).Error("Compatibility runtime preparation failed")
		return
	}
	entry.Info("Compatibility runtime prepared")
}

// LogInvocation logs the final state of an invocation.
func (el *EngineLogger) LogInvocation(invocationID, mode, state string, attempts int, fallbackApplied bool, elapsed time.Duration) {
	el.WithFields(logrus.Fields{
		"invocation_id":    invocationID,
		"mode":             mode,
		"state":            state,
		"attempts":         attempts,
		"fallback_applied": fallbackApplied,
		"elapsed_ms":       elapsed.Milliseconds(),
	}).Info("Engine invocation completed")
}

// LogCacheHit logs a probability served from cache.
func (el *EngineLogger) LogCacheHit(key string, probability float64) {
	el.WithFields(logrus.Fields{
		"cache_key":   key,
		"probability": probability,
	}).Debug("Probability served from cache")
}
