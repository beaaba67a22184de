package estimator

import (
	"math"

	"github.com/yourusername/rally-coach/internal/models"
)

// Style share bounds applied before renormalisation
const (
	minStyleShare = 0.05
	maxStyleShare = 0.9
)

// PlayerStats records the aggregates behind a PlayerProfile
type PlayerStats struct {
	PlayerID      string            `json:"player_id"`
	Name          string            `json:"name"`
	Matches       int               `json:"matches"`
	WinRate       float64           `json:"win_rate"`
	GlobalSrvWin  float64           `json:"global_srv_win"`
	GlobalRcvWin  float64           `json:"global_rcv_win"`
	BaseSrvWin    float64           `json:"base_srv_win"`
	BaseRcvWin    float64           `json:"base_rcv_win"`
	ServeMix      models.ServeMix   `json:"serve_mix"`
	RallyStyle    models.RallyStyle `json:"rally_style"`
	ServeTrials   int               `json:"serve_trials"`
	ReceiveTrials int               `json:"receive_trials"`
	UsedPriors    bool              `json:"used_priors"`
}

// HeadToHeadStats holds the smoothed head-to-head rates from player A's side
type HeadToHeadStats struct {
	Matches  int     `json:"matches"`
	AWinRate float64 `json:"a_win_rate"`
	ASrvWin  float64 `json:"a_srv_win"`
	ARcvWin  float64 `json:"a_rcv_win"`
	BSrvWin  float64 `json:"b_srv_win"`
	BRcvWin  float64 `json:"b_rcv_win"`
	Blend    float64 `json:"blend"`
}

// Smooth applies Laplace smoothing. With zero trials it returns 0.5.
func Smooth(wins, trials, alpha float64) float64 {
	return (wins + alpha) / (trials + 2*alpha)
}

// Profile derives a player's smoothed parameters from their match rows.
// rows must already be limited to the estimation window.
func (e *Estimator) Profile(player models.Player, rows []models.MatchRow) PlayerStats {
	stats := PlayerStats{
		PlayerID: player.ID,
		Name:     player.Name,
	}

	var (
		serveTrials, serveWins     float64
		receiveTrials, receiveWins float64
		wins                       float64
		shortSum, serveWeight      float64
		attackSum, safeSum         float64
		rallyWeight                float64
	)

	for _, row := range rows {
		if !row.Involves(player.ID) {
			continue
		}
		p := row.Perspective(player.ID)
		stats.Matches++

		serveTrials += float64(p.ServeTrials)
		serveWins += float64(p.ServeWins)
		receiveTrials += float64(p.ReceiveTrials)
		receiveWins += float64(p.ReceiveWins)
		if p.Won {
			wins++
		}

		sw := math.Max(float64(p.ServeTrials), 1)
		shortSum += p.ShortRate * sw
		serveWeight += sw

		rw := math.Max(float64(p.PointsFor+p.PointsAgainst), 1)
		attackSum += p.AttackRate * rw
		safeSum += p.SafeRate * rw
		rallyWeight += rw
	}

	alpha := e.cfg.LaplaceAlpha
	stats.ServeTrials = int(serveTrials)
	stats.ReceiveTrials = int(receiveTrials)
	stats.GlobalSrvWin = clampProbability(Smooth(serveWins, serveTrials, alpha))
	stats.GlobalRcvWin = clampProbability(Smooth(receiveWins, receiveTrials, alpha))
	stats.BaseSrvWin = stats.GlobalSrvWin
	stats.BaseRcvWin = stats.GlobalRcvWin
	stats.WinRate = Smooth(wins, float64(stats.Matches), e.cfg.HeadToHeadAlpha)

	if stats.Matches == 0 {
		stats.UsedPriors = true
		stats.ServeMix = models.ServeMix{Short: 0.5, Flick: 0.5}
		stats.RallyStyle = models.RallyStyle{Attack: 1.0 / 3, Neutral: 1.0 / 3, Safe: 1.0 / 3}
		return stats
	}

	stats.ServeMix = smoothServeMix(shortSum/serveWeight, e.cfg.MixAlpha)
	stats.RallyStyle = normalizeStyle(attackSum/rallyWeight, safeSum/rallyWeight)
	return stats
}

// HeadToHead smooths the direct meetings between a and b and computes the blend weight
func (e *Estimator) HeadToHead(aID, bID string, rows []models.MatchRow) HeadToHeadStats {
	var (
		n                          int
		wins                       float64
		aSrvT, aSrvW, aRcvT, aRcvW float64
	)
	for _, row := range rows {
		if !row.Involves(aID) || !row.Involves(bID) {
			continue
		}
		p := row.Perspective(aID)
		n++
		if p.Won {
			wins++
		}
		aSrvT += float64(p.ServeTrials)
		aSrvW += float64(p.ServeWins)
		aRcvT += float64(p.ReceiveTrials)
		aRcvW += float64(p.ReceiveWins)
	}

	if n == 0 {
		return HeadToHeadStats{AWinRate: 0.5, ASrvWin: 0.5, ARcvWin: 0.5, BSrvWin: 0.5, BRcvWin: 0.5}
	}

	alpha := e.cfg.HeadToHeadAlpha
	return HeadToHeadStats{
		Matches:  n,
		AWinRate: Smooth(wins, float64(n), 1.0),
		ASrvWin:  Smooth(aSrvW, aSrvT, alpha),
		ARcvWin:  Smooth(aRcvW, aRcvT, alpha),
		// B serves exactly the rallies A receives
		BSrvWin: Smooth(aRcvT-aRcvW, aRcvT, alpha),
		BRcvWin: Smooth(aSrvT-aSrvW, aSrvT, alpha),
		Blend:   e.blendWeight(n),
	}
}

// blendWeight is min(MaxBlend, n/(n+K))
func (e *Estimator) blendWeight(n int) float64 {
	if n <= 0 {
		return 0
	}
	w := float64(n) / (float64(n) + e.cfg.ShrinkageConstant)
	return math.Min(e.cfg.MaxBlend, w)
}

func smoothServeMix(short, alpha float64) models.ServeMix {
	short = (short + alpha) / (1 + 2*alpha)
	short = models.Clamp(short, 0, 1)
	return models.ServeMix{Short: short, Flick: 1 - short}
}

func normalizeStyle(attack, safe float64) models.RallyStyle {
	attack = models.Clamp(attack, minStyleShare, maxStyleShare)
	safe = models.Clamp(safe, minStyleShare, maxStyleShare)
	neutral := math.Max(minStyleShare, 1-attack-safe)
	total := attack + neutral + safe
	return models.RallyStyle{
		Attack:  attack / total,
		Neutral: neutral / total,
		Safe:    safe / total,
	}
}

func clampProbability(p float64) float64 {
	return models.Clamp(p, models.MinProbability, models.MaxProbability)
}
