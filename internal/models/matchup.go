package models

import "math"

// Rally probability bounds. Derived probabilities never reach 0 or 1.
const (
	MinProbability = 0.01
	MaxProbability = 0.99
)

// StyleWeights scale the stylistic differential between the two players
type StyleWeights struct {
	WShort  float64 `json:"w_short" mapstructure:"w_short" validate:"gte=0,lte=0.5"`
	WAttack float64 `json:"w_attack" mapstructure:"w_attack" validate:"gte=0,lte=0.5"`
	WSafe   float64 `json:"w_safe" mapstructure:"w_safe" validate:"gte=0,lte=0.5"`
}

// DefaultStyleWeights returns the calibrated default weights
func DefaultStyleWeights() StyleWeights {
	return StyleWeights{WShort: 0.04, WAttack: 0.06, WSafe: 0.05}
}

// GameRules describes the scoring format
type GameRules struct {
	Target int `json:"target" mapstructure:"target" validate:"min=11,max=30"`
	Cap    int `json:"cap" mapstructure:"cap" validate:"gtefield=Target"`
	BestOf int `json:"best_of" mapstructure:"best_of" validate:"min=1,max=7"`
}

// DefaultGameRules returns standard rally-point scoring: best of 3 games to 21, capped at 30
func DefaultGameRules() GameRules {
	return GameRules{Target: 21, Cap: 30, BestOf: 3}
}

// GamesToWin returns the number of games needed to take the match
func (g GameRules) GamesToWin() int {
	return g.BestOf/2 + 1
}

// Shift is a proposed change to player A's serve mix and rally style
type Shift struct {
	ServeShort float64 `json:"serve_short_delta"`
	Attack     float64 `json:"attack_delta"`
}

// L1 returns the sum of absolute shift magnitudes
func (s Shift) L1() float64 {
	return math.Abs(s.ServeShort) + math.Abs(s.Attack)
}

// IsZero reports whether the shift changes nothing
func (s Shift) IsZero() bool {
	return s.ServeShort == 0 && s.Attack == 0
}

// MatchupParameters is the complete, immutable parameter set for one query
type MatchupParameters struct {
	PlayerA  PlayerProfile `json:"player_a"`
	PlayerB  PlayerProfile `json:"player_b"`
	Weights  StyleWeights  `json:"weights"`
	Rules    GameRules     `json:"rules"`
	PASrvWin float64       `json:"pA_srv_win"`
	PARcvWin float64       `json:"pA_rcv_win"`
}

// NewMatchupParameters derives the rally probabilities for A from both profiles
func NewMatchupParameters(a, b PlayerProfile, weights StyleWeights, rules GameRules) MatchupParameters {
	m := MatchupParameters{
		PlayerA: a,
		PlayerB: b,
		Weights: weights,
		Rules:   rules,
	}
	delta := m.StyleDelta()
	m.PASrvWin = Clamp(a.BaseSrvWin+delta, MinProbability, MaxProbability)
	m.PARcvWin = Clamp(a.BaseRcvWin+delta, MinProbability, MaxProbability)
	return m
}

// StyleDelta computes the matchup differential from serve mix and rally style
func (m MatchupParameters) StyleDelta() float64 {
	a, b := m.PlayerA, m.PlayerB
	return m.Weights.WShort*(a.ServeMix.Short-b.ServeMix.Short) +
		m.Weights.WAttack*(a.RallyStyle.Attack-b.RallyStyle.Attack) -
		m.Weights.WSafe*(b.RallyStyle.Safe-a.RallyStyle.Safe)
}

// PBSrvWin is B's serve-win probability implied by A's receive probability
func (m MatchupParameters) PBSrvWin() float64 {
	return Clamp(1-m.PARcvWin, MinProbability, MaxProbability)
}

// PBRcvWin is B's receive-win probability implied by A's serve probability
func (m MatchupParameters) PBRcvWin() float64 {
	return Clamp(1-m.PASrvWin, MinProbability, MaxProbability)
}

// WithShift returns a copy with player A's mixes adjusted and rally probabilities re-derived.
// Neutral and safe shares are rescaled proportionally to absorb the attack change.
func (m MatchupParameters) WithShift(s Shift) MatchupParameters {
	a := m.PlayerA

	short := Clamp(a.ServeMix.Short+s.ServeShort, 0.01, 0.99)
	a.ServeMix = ServeMix{Short: short, Flick: 1 - short}

	attack := Clamp(a.RallyStyle.Attack+s.Attack, 0.01, 0.98)
	remaining := math.Max(a.RallyStyle.Neutral+a.RallyStyle.Safe, 1e-6)
	a.RallyStyle = RallyStyle{
		Attack:  attack,
		Neutral: a.RallyStyle.Neutral / remaining * (1 - attack),
		Safe:    a.RallyStyle.Safe / remaining * (1 - attack),
	}

	return NewMatchupParameters(a, m.PlayerB, m.Weights, m.Rules)
}

// AppliedShift reports the shift actually applied to player A relative to baseline,
// which differs from the requested shift when clamping kicks in.
func (m MatchupParameters) AppliedShift(baseline MatchupParameters) Shift {
	return Shift{
		ServeShort: m.PlayerA.ServeMix.Short - baseline.PlayerA.ServeMix.Short,
		Attack:     m.PlayerA.RallyStyle.Attack - baseline.PlayerA.RallyStyle.Attack,
	}
}

// Clamp bounds v to [low, high]
func Clamp(v, low, high float64) float64 {
	return math.Max(low, math.Min(high, v))
}

// ModelInstance is a rendered model document. It is written once and read-only afterwards.
type ModelInstance struct {
	RunID      string            `json:"run_id"`
	Path       string            `json:"path"`
	ParamsPath string            `json:"params_path"`
	Text       string            `json:"-"`
	Context    map[string]string `json:"context"`
}
