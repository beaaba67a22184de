package datasource

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/yourusername/rally-coach/internal/models"
)

// HistorySource supplies the player roster and historical match rows
type HistorySource interface {
	// Name returns the name of the data source
	Name() string

	// Players returns the full roster
	Players(ctx context.Context) ([]models.Player, error)

	// Matches returns rows matching the filter, oldest first
	Matches(ctx context.Context, filter MatchFilter) ([]models.MatchRow, error)

	// Close releases any resources held by the source
	Close() error
}

// MatchFilter narrows a match query. Zero values disable a constraint.
type MatchFilter struct {
	PlayerID string    // only rows involving this player
	AsOf     time.Time // only rows on or before this date
	Limit    int       // only the most recent Limit rows
}

// DataSourceError represents errors from data source operations
type DataSourceError struct {
	Source  string // Data source name
	Code    string // Error code (e.g., "rate_limit_exceeded")
	Message string // Error message
	Err     error  // Underlying error
}

func (e DataSourceError) Error() string {
	if e.Err != nil {
		return e.Source + ": " + e.Code + ": " + e.Message + " (" + e.Err.Error() + ")"
	}
	return e.Source + ": " + e.Code + ": " + e.Message
}

func (e DataSourceError) Unwrap() error { return e.Err }

// Common error codes
const (
	ErrCodeRateLimitExceeded    = "rate_limit_exceeded"
	ErrCodeAuthenticationFailed = "authentication_failed"
	ErrCodeNotFound             = "not_found"
	ErrCodeInvalidData          = "invalid_data"
	ErrCodeNetworkError         = "network_error"
	ErrCodeServerError          = "server_error"
	ErrCodeUnknown              = "unknown"
)

// Sentinel errors wrapped by DataSourceError
var (
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNotFound             = errors.New("data not found")
	ErrInvalidData          = errors.New("invalid data format")
	ErrNetworkError         = errors.New("network error")
	ErrServerError          = errors.New("server error")
)

// NewDataSourceError creates a new data source error
func NewDataSourceError(source, code, message string, err error) DataSourceError {
	return DataSourceError{
		Source:  source,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// dateLayouts are the accepted encodings of a match date
var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}

// ParseMatchDate parses a match date in any accepted layout
func ParseMatchDate(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// applyFilter sorts rows by date and applies the filter. Rows with
// unparseable dates sort first and are dropped when AsOf is set.
func applyFilter(rows []models.MatchRow, filter MatchFilter) []models.MatchRow {
	type dated struct {
		row  models.MatchRow
		when time.Time
		ok   bool
	}

	selected := make([]dated, 0, len(rows))
	for _, row := range rows {
		if filter.PlayerID != "" && !row.Involves(filter.PlayerID) {
			continue
		}
		when, err := ParseMatchDate(row.Date)
		if !filter.AsOf.IsZero() && (err != nil || when.After(filter.AsOf)) {
			continue
		}
		selected = append(selected, dated{row: row, when: when, ok: err == nil})
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].when.Before(selected[j].when)
	})

	if filter.Limit > 0 && len(selected) > filter.Limit {
		selected = selected[len(selected)-filter.Limit:]
	}

	out := make([]models.MatchRow, len(selected))
	for i, d := range selected {
		out[i] = d.row
	}
	return out
}
