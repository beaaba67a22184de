package service

import (
	"fmt"
	"sync"
	"time"
)

// IngestionCounts are the counters of one or more ingestion runs
type IngestionCounts struct {
	Duration         time.Duration `json:"duration"`
	TotalPlayers     int           `json:"total_players"`
	ImportedPlayers  int           `json:"imported_players"`
	TotalMatches     int           `json:"total_matches"`
	ImportedMatches  int           `json:"imported_matches"`
	Duplicates       int           `json:"duplicates"`
	ValidationErrors int           `json:"validation_errors"`
	Errors           int           `json:"errors"`
}

// IngestionMetrics tracks statistics about history ingestion
type IngestionMetrics struct {
	mu        sync.RWMutex
	StartTime time.Time
	IngestionCounts
}

// NewIngestionMetrics creates a new metrics tracker
func NewIngestionMetrics() *IngestionMetrics {
	return &IngestionMetrics{
		StartTime: time.Now(),
	}
}

// Reset resets all metrics
func (m *IngestionMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StartTime = time.Now()
	m.IngestionCounts = IngestionCounts{}
}

func (m *IngestionMetrics) addTotals(players, matches int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalPlayers += players
	m.TotalMatches += matches
}

func (m *IngestionMetrics) recordImported(players, matches int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ImportedPlayers += players
	m.ImportedMatches += matches
}

// RecordDuplicate increments duplicate count
func (m *IngestionMetrics) RecordDuplicate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Duplicates++
}

// RecordError increments error count
func (m *IngestionMetrics) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors++
}

// RecordValidationError increments validation error count
func (m *IngestionMetrics) RecordValidationError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ValidationErrors++
}

func (m *IngestionMetrics) setDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Duration = d
}

// Snapshot returns a copy of the counters
func (m *IngestionMetrics) Snapshot() IngestionCounts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IngestionCounts
}

// String returns a formatted string representation of metrics
func (m *IngestionMetrics) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	successRate := float64(0)
	if m.TotalMatches > 0 {
		successRate = float64(m.ImportedMatches) / float64(m.TotalMatches) * 100
	}

	return fmt.Sprintf(
		"IngestionMetrics{Players=%d/%d, Matches=%d/%d (%.1f%%), Duplicates=%d, ValidationErrors=%d, Errors=%d, Duration=%v}",
		m.ImportedPlayers,
		m.TotalPlayers,
		m.ImportedMatches,
		m.TotalMatches,
		successRate,
		m.Duplicates,
		m.ValidationErrors,
		m.Errors,
		m.Duration,
	)
}
