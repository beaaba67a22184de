// Package logger provides audit logging.
package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// AuditLogger provides dedicated audit trail logging.
type AuditLogger struct {
	*logrus.Entry
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(baseLogger *logrus.Logger) *AuditLogger {
	return &AuditLogger{
		Entry: baseLogger.WithField("component", "audit"),
	}
}

// LogRunCreated logs creation of a run directory.
func (al *AuditLogger) LogRunCreated(runDir, prefix string, timestamp time.Time) {
	al.WithFields(logrus.Fields{
		"run_dir":   runDir,
		"prefix":    prefix,
		"timestamp": timestamp.Unix(),
	}).Info("Run directory created")
}

// LogRunFinished logs the outcome of a pipeline run.
func (al *AuditLogger) LogRunFinished(runDir, kind, playerA, playerB string, probability float64, err error) {
	entry := al.WithFields(logrus.Fields{
		"run_dir":  runDir,
		"kind":     kind,
		"player_a": playerA,
		"player_b": playerB,
	})
	if err != nil {
		entry.WithError(err).Error("Run failed")
		return
	}
	entry.WithField("probability", probability).Info("Run finished")
}

// LogPlanStep logs a tool call made while executing a plan.
func (al *AuditLogger) LogPlanStep(step int, tool string, args map[string]interface{}, err error) {
	entry := al.WithFields(logrus.Fields{
		"step": step,
		"tool": tool,
		"args": args,
	})
	if err != nil {
		entry.WithError(err).Warn("Plan step failed")
		return
	}
	entry.Info("Plan step executed")
}

// LogScheduledReport logs a report produced by the scheduler.
func (al *AuditLogger) LogScheduledReport(job, outputPath string, pairs int, elapsed time.Duration) {
	al.WithFields(logrus.Fields{
		"job":         job,
		"output_path": outputPath,
		"pairs":       pairs,
		"elapsed_ms":  elapsed.Milliseconds(),
	}).Info("Scheduled report written")
}
