// Package logger provides sensitivity search logging.
package logger

import (
	"github.com/sirupsen/logrus"
)

// SearchLogger provides dedicated logging for sensitivity searches.
type SearchLogger struct {
	*logrus.Entry
}

// NewSearchLogger creates a new search logger.
func NewSearchLogger(baseLogger *logrus.Logger) *SearchLogger {
	return &SearchLogger{
		Entry: baseLogger.WithField("component", "search"),
	}
}

// LogCandidate logs the outcome of one candidate.
func (sl *SearchLogger) LogCandidate(index int, name, status string, l1, probability float64, errMsg string) {
	fields := logrus.Fields{
		"candidate_index": index,
		"candidate":       name,
		"status":          status,
		"l1_change":       l1,
	}
	if status == "evaluated" {
		fields["probability"] = probability
	}
	if errMsg != "" {
		fields["error"] = errMsg
		sl.WithFields(fields).Warn("Candidate evaluation failed")
		return
	}
	sl.WithFields(fields).Debug("Candidate processed")
}

// LogSearchCompleted logs the summary of a finished search.
func (sl *SearchLogger) LogSearchCompleted(playerA, playerB string, baseline, best, delta float64, evaluated, excluded, failed int) {
	sl.WithFields(logrus.Fields{
		"player_a":             playerA,
		"player_b":             playerB,
		"baseline_probability": baseline,
		"best_probability":     best,
		"delta":                delta,
		"evaluated":            evaluated,
		"excluded":             excluded,
		"failed":               failed,
	}).Info("Sensitivity search completed")
}
