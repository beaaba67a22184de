// Package estimator turns historical match rows into smoothed matchup parameters.
package estimator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/config"
	"github.com/yourusername/rally-coach/internal/datasource"
	"github.com/yourusername/rally-coach/internal/models"
)

// Query selects the two players and the history used to describe them
type Query struct {
	PlayerA string
	PlayerB string
	Window  int       // 0 means the configured window
	AsOf    time.Time // zero means all history
}

// MatchupStats is the evidence behind a MatchupParameters value
type MatchupStats struct {
	PlayerA    models.Player       `json:"player_a"`
	PlayerB    models.Player       `json:"player_b"`
	StatsA     PlayerStats         `json:"player_a_stats"`
	StatsB     PlayerStats         `json:"player_b_stats"`
	HeadToHead HeadToHeadStats     `json:"head_to_head"`
	Weights    models.StyleWeights `json:"weights"`
	Window     int                 `json:"window"`
	AsOf       string              `json:"as_of,omitempty"`
}

// Estimate is the estimator's output for one query
type Estimate struct {
	Params models.MatchupParameters `json:"params"`
	Stats  MatchupStats             `json:"stats"`
}

// Estimator derives PlayerProfiles and MatchupParameters from a HistorySource
type Estimator struct {
	cfg    config.EstimatorConfig
	logger *logrus.Entry
}

// DefaultConfig returns the calibrated estimator defaults
func DefaultConfig() config.EstimatorConfig {
	return config.EstimatorConfig{
		LaplaceAlpha:      1.0,
		MixAlpha:          0.02,
		HeadToHeadAlpha:   1.5,
		ShrinkageConstant: 12,
		MaxBlend:          1.0,
		Window:            30,
		Weights:           models.DefaultStyleWeights(),
		Rules:             models.DefaultGameRules(),
	}
}

// New creates an estimator. Zero-valued constants fall back to the defaults.
func New(cfg config.EstimatorConfig, logger *logrus.Logger) *Estimator {
	def := DefaultConfig()
	if cfg.LaplaceAlpha <= 0 {
		cfg.LaplaceAlpha = def.LaplaceAlpha
	}
	if cfg.HeadToHeadAlpha <= 0 {
		cfg.HeadToHeadAlpha = def.HeadToHeadAlpha
	}
	if cfg.ShrinkageConstant <= 0 {
		cfg.ShrinkageConstant = def.ShrinkageConstant
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Weights == (models.StyleWeights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.Rules == (models.GameRules{}) {
		cfg.Rules = def.Rules
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Estimator{
		cfg:    cfg,
		logger: logger.WithField("component", "estimator"),
	}
}

// Config returns the effective configuration
func (e *Estimator) Config() config.EstimatorConfig {
	return e.cfg
}

// Estimate resolves both players, smooths their histories, blends in the
// head-to-head record and derives the matchup's rally probabilities.
func (e *Estimator) Estimate(ctx context.Context, src datasource.HistorySource, q Query) (*Estimate, error) {
	a, b, err := datasource.ResolvePair(ctx, src, q.PlayerA, q.PlayerB)
	if err != nil {
		return nil, err
	}

	window := q.Window
	if window <= 0 {
		window = e.cfg.Window
	}

	historyA, err := src.Matches(ctx, datasource.MatchFilter{PlayerID: a.ID, AsOf: q.AsOf})
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", a.Name, err)
	}
	historyB, err := src.Matches(ctx, datasource.MatchFilter{PlayerID: b.ID, AsOf: q.AsOf})
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", b.Name, err)
	}

	statsA := e.Profile(a, tail(historyA, window))
	statsB := e.Profile(b, tail(historyB, window))
	h2h := e.HeadToHead(a.ID, b.ID, tail(headToHeadRows(historyA, b.ID), 2*window))

	if h2h.Matches > 0 {
		statsA.BaseSrvWin = blend(statsA.GlobalSrvWin, h2h.ASrvWin, h2h.Blend)
		statsA.BaseRcvWin = blend(statsA.GlobalRcvWin, h2h.ARcvWin, h2h.Blend)
		statsB.BaseSrvWin = blend(statsB.GlobalSrvWin, h2h.BSrvWin, h2h.Blend)
		statsB.BaseRcvWin = blend(statsB.GlobalRcvWin, h2h.BRcvWin, h2h.Blend)
	}

	weights := e.cfg.Weights
	if e.cfg.EstimateWeights {
		all, err := src.Matches(ctx, datasource.MatchFilter{AsOf: q.AsOf})
		if err != nil {
			return nil, fmt.Errorf("failed to load history for weight estimation: %w", err)
		}
		weights = FitWeights(all, e.cfg.Weights)
	}

	params := models.NewMatchupParameters(toProfile(statsA), toProfile(statsB), weights, e.cfg.Rules)

	stats := MatchupStats{
		PlayerA:    a,
		PlayerB:    b,
		StatsA:     statsA,
		StatsB:     statsB,
		HeadToHead: h2h,
		Weights:    weights,
		Window:     window,
	}
	if !q.AsOf.IsZero() {
		stats.AsOf = q.AsOf.Format("2006-01-02")
	}

	e.logger.WithFields(logrus.Fields{
		"player_a":   a.ID,
		"player_b":   b.ID,
		"matches_a":  statsA.Matches,
		"matches_b":  statsB.Matches,
		"h2h":        h2h.Matches,
		"blend":      h2h.Blend,
		"pA_srv_win": params.PASrvWin,
		"pA_rcv_win": params.PARcvWin,
	}).Debug("Matchup parameters estimated")

	return &Estimate{Params: params, Stats: stats}, nil
}

func toProfile(s PlayerStats) models.PlayerProfile {
	return models.PlayerProfile{
		ID:            s.PlayerID,
		Name:          s.Name,
		BaseSrvWin:    clampProbability(s.BaseSrvWin),
		BaseRcvWin:    clampProbability(s.BaseRcvWin),
		ServeMix:      s.ServeMix,
		RallyStyle:    s.RallyStyle,
		SampleMatches: s.Matches,
	}
}

func blend(global, h2h, w float64) float64 {
	return (1-w)*global + w*h2h
}

func headToHeadRows(rows []models.MatchRow, opponentID string) []models.MatchRow {
	var out []models.MatchRow
	for _, row := range rows {
		if row.Involves(opponentID) {
			out = append(out, row)
		}
	}
	return out
}

func tail(rows []models.MatchRow, n int) []models.MatchRow {
	if n > 0 && len(rows) > n {
		return rows[len(rows)-n:]
	}
	return rows
}
