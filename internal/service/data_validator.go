package service

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/datasource"
	"github.com/yourusername/rally-coach/internal/models"
)

// mixTolerance is how far a serve mix or rally style may drift from 1 after CSV rounding
const mixTolerance = 0.02

// DataValidator validates roster and match rows before they are persisted
type DataValidator struct {
	logger *logrus.Entry
	now    func() time.Time
}

// NewDataValidator creates a new data validator
func NewDataValidator(log *logrus.Logger) *DataValidator {
	return &DataValidator{
		logger: log.WithField("component", "data_validator"),
		now:    time.Now,
	}
}

// ValidatePlayer validates a roster entry for required fields
func (v *DataValidator) ValidatePlayer(p models.Player) []string {
	var errors []string

	if p.ID == "" {
		errors = append(errors, "player_id is required")
	}
	if p.Name == "" {
		errors = append(errors, "name is required")
	}
	if len(p.Name) > 100 {
		errors = append(errors, fmt.Sprintf("name too long (%d chars)", len(p.Name)))
	}
	if p.Handedness != "" && p.Handedness != "L" && p.Handedness != "R" {
		errors = append(errors, fmt.Sprintf("handedness must be L or R, got %s", p.Handedness))
	}

	return errors
}

// ValidateMatch validates a match row for required fields and ledger constraints
func (v *DataValidator) ValidateMatch(m models.MatchRow) []string {
	var errors []string

	// Check required fields
	if m.MatchID == "" {
		errors = append(errors, "match_id is required")
	}
	if m.PlayerA == "" || m.PlayerB == "" {
		errors = append(errors, "both player ids are required")
	} else if m.PlayerA == m.PlayerB {
		errors = append(errors, fmt.Sprintf("player %s cannot play themselves", m.PlayerA))
	}
	if m.WinnerID != "" && m.WinnerID != m.PlayerA && m.WinnerID != m.PlayerB {
		errors = append(errors, fmt.Sprintf("winner_id %s is not a participant", m.WinnerID))
	}

	// Check the match date is parseable and not in the future
	date, err := datasource.ParseMatchDate(m.Date)
	if err != nil {
		errors = append(errors, fmt.Sprintf("invalid date %q", m.Date))
	} else if date.After(v.now().Add(24 * time.Hour)) {
		errors = append(errors, fmt.Sprintf("match dated in the future: %s", m.Date))
	}

	// Serve ledgers
	errors = append(errors, checkLedger("a", m.AServeRallies, m.AServeWins)...)
	errors = append(errors, checkLedger("b", m.BServeRallies, m.BServeWins)...)
	if m.APoints < 0 || m.BPoints < 0 {
		errors = append(errors, "points cannot be negative")
	}

	// Mix rates
	errors = append(errors, checkMix("a serve mix", m.AShortServeRate, m.AFlickServeRate)...)
	errors = append(errors, checkMix("b serve mix", m.BShortServeRate, m.BFlickServeRate)...)
	errors = append(errors, checkMix("a rally style", m.AAttackRate, m.ANeutralRate, m.ASafeRate)...)
	errors = append(errors, checkMix("b rally style", m.BAttackRate, m.BNeutralRate, m.BSafeRate)...)

	return errors
}

// ValidateMatchInRoster checks both participants are known players
func (v *DataValidator) ValidateMatchInRoster(m models.MatchRow, roster map[string]bool) []string {
	var errors []string

	for _, id := range []string{m.PlayerA, m.PlayerB} {
		if id != "" && !roster[id] {
			errors = append(errors, fmt.Sprintf("player %s not in roster", id))
		}
	}

	return errors
}

func checkLedger(side string, rallies, wins int) []string {
	if rallies < 0 {
		return []string{fmt.Sprintf("%s_serve_rallies cannot be negative", side)}
	}
	if wins < 0 || wins > rallies {
		return []string{fmt.Sprintf("%s_serve_wins %d outside [0, %d]", side, wins, rallies)}
	}
	return nil
}

// checkMix accepts an all-zero mix as "not recorded"
func checkMix(name string, rates ...float64) []string {
	var sum float64
	for _, r := range rates {
		if r < 0 || r > 1 {
			return []string{fmt.Sprintf("%s rate %.3f outside [0, 1]", name, r)}
		}
		sum += r
	}
	if sum == 0 {
		return nil
	}
	if math.Abs(sum-1) > mixTolerance {
		return []string{fmt.Sprintf("%s sums to %.3f", name, sum)}
	}
	return nil
}
