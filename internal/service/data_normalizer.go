package service

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/datasource"
	"github.com/yourusername/rally-coach/internal/models"
)

// DataNormalizer brings roster and match rows from any source into canonical form
type DataNormalizer struct {
	handednessMap map[string]string
	logger        *logrus.Entry
}

// NewDataNormalizer creates a new data normalizer
func NewDataNormalizer(log *logrus.Logger) *DataNormalizer {
	return &DataNormalizer{
		handednessMap: buildHandednessMap(),
		logger:        log.WithField("component", "data_normalizer"),
	}
}

// NormalizePlayer trims identifiers, collapses whitespace in names and
// canonicalizes country and handedness codes
func (n *DataNormalizer) NormalizePlayer(p models.Player) models.Player {
	return models.Player{
		ID:         strings.TrimSpace(p.ID),
		Name:       sanitizeName(p.Name),
		Country:    strings.ToUpper(strings.TrimSpace(p.Country)),
		Handedness: n.normalizeHandedness(p.Handedness),
	}
}

// NormalizeMatch trims identifiers and rewrites the date as YYYY-MM-DD.
// Unparseable dates are kept as-is for the validator to report.
func (n *DataNormalizer) NormalizeMatch(m models.MatchRow) models.MatchRow {
	m.MatchID = strings.TrimSpace(m.MatchID)
	m.PlayerA = strings.TrimSpace(m.PlayerA)
	m.PlayerB = strings.TrimSpace(m.PlayerB)
	m.WinnerID = strings.TrimSpace(m.WinnerID)

	date := strings.TrimSpace(m.Date)
	if t, err := datasource.ParseMatchDate(date); err == nil {
		date = t.Format("2006-01-02")
	} else {
		n.logger.WithField("match_id", m.MatchID).Debugf("Leaving unparseable date %q", date)
	}
	m.Date = date

	return m
}

func (n *DataNormalizer) normalizeHandedness(h string) string {
	key := strings.ToUpper(strings.TrimSpace(h))
	if key == "" {
		return ""
	}
	if canonical, ok := n.handednessMap[key]; ok {
		return canonical
	}
	return key
}

func buildHandednessMap() map[string]string {
	return map[string]string{
		"L":     "L",
		"LEFT":  "L",
		"LH":    "L",
		"R":     "R",
		"RIGHT": "R",
		"RH":    "R",
	}
}

// sanitizeName collapses runs of whitespace to single spaces
func sanitizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
