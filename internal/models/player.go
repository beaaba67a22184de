package models

// ServeMix is the share of short and flick serves. Components sum to 1.
type ServeMix struct {
	Short float64 `json:"short"`
	Flick float64 `json:"flick"`
}

// Sum returns the total of the mix components
func (m ServeMix) Sum() float64 {
	return m.Short + m.Flick
}

// RallyStyle is the share of attacking, neutral and safe rally play. Components sum to 1.
type RallyStyle struct {
	Attack  float64 `json:"attack"`
	Neutral float64 `json:"neutral"`
	Safe    float64 `json:"safe"`
}

// Sum returns the total of the style components
func (s RallyStyle) Sum() float64 {
	return s.Attack + s.Neutral + s.Safe
}

// Player identifies a player in the historical data
type Player struct {
	ID         string `json:"player_id"`
	Name       string `json:"name"`
	Country    string `json:"country,omitempty"`
	Handedness string `json:"handedness,omitempty"`
}

// PlayerProfile holds the smoothed per-player parameters derived from history
type PlayerProfile struct {
	ID            string     `json:"player_id"`
	Name          string     `json:"name"`
	BaseSrvWin    float64    `json:"base_srv_win"`
	BaseRcvWin    float64    `json:"base_rcv_win"`
	ServeMix      ServeMix   `json:"serve_mix"`
	RallyStyle    RallyStyle `json:"rally_style"`
	SampleMatches int        `json:"sample_matches"`
}

// MatchRow is one historical match, recorded from player A's and player B's serve ledgers.
// Receive statistics are not stored; they are inferred from the opponent's serve ledger.
type MatchRow struct {
	MatchID  string `json:"match_id"`
	Date     string `json:"date"`
	PlayerA  string `json:"player_a_id"`
	PlayerB  string `json:"player_b_id"`
	WinnerID string `json:"winner_id"`

	AServeRallies int `json:"a_serve_rallies"`
	AServeWins    int `json:"a_serve_wins"`
	BServeRallies int `json:"b_serve_rallies"`
	BServeWins    int `json:"b_serve_wins"`

	AShortServeRate float64 `json:"a_short_serve_rate"`
	AFlickServeRate float64 `json:"a_flick_serve_rate"`
	AAttackRate     float64 `json:"a_attack_rate"`
	ANeutralRate    float64 `json:"a_neutral_rate"`
	ASafeRate       float64 `json:"a_safe_rate"`

	BShortServeRate float64 `json:"b_short_serve_rate"`
	BFlickServeRate float64 `json:"b_flick_serve_rate"`
	BAttackRate     float64 `json:"b_attack_rate"`
	BNeutralRate    float64 `json:"b_neutral_rate"`
	BSafeRate       float64 `json:"b_safe_rate"`

	APoints int `json:"a_points"`
	BPoints int `json:"b_points"`
}

// Involves reports whether the player took part in the match
func (r MatchRow) Involves(playerID string) bool {
	return r.PlayerA == playerID || r.PlayerB == playerID
}

// PerspectiveRow is a MatchRow seen from one player's side
type PerspectiveRow struct {
	OpponentID    string
	ServeTrials   int
	ServeWins     int
	ReceiveTrials int
	ReceiveWins   int
	ShortRate     float64
	FlickRate     float64
	AttackRate    float64
	NeutralRate   float64
	SafeRate      float64
	PointsFor     int
	PointsAgainst int
	Won           bool
}

// Perspective projects the match onto playerID's side. The receive ledger is
// derived as opponent serve trials minus opponent serve wins.
func (r MatchRow) Perspective(playerID string) PerspectiveRow {
	if r.PlayerA == playerID {
		return PerspectiveRow{
			OpponentID:    r.PlayerB,
			ServeTrials:   r.AServeRallies,
			ServeWins:     r.AServeWins,
			ReceiveTrials: r.BServeRallies,
			ReceiveWins:   r.BServeRallies - r.BServeWins,
			ShortRate:     r.AShortServeRate,
			FlickRate:     r.AFlickServeRate,
			AttackRate:    r.AAttackRate,
			NeutralRate:   r.ANeutralRate,
			SafeRate:      r.ASafeRate,
			PointsFor:     r.APoints,
			PointsAgainst: r.BPoints,
			Won:           r.WinnerID == r.PlayerA,
		}
	}
	return PerspectiveRow{
		OpponentID:    r.PlayerA,
		ServeTrials:   r.BServeRallies,
		ServeWins:     r.BServeWins,
		ReceiveTrials: r.AServeRallies,
		ReceiveWins:   r.AServeRallies - r.AServeWins,
		ShortRate:     r.BShortServeRate,
		FlickRate:     r.BFlickServeRate,
		AttackRate:    r.BAttackRate,
		NeutralRate:   r.BNeutralRate,
		SafeRate:      r.BSafeRate,
		PointsFor:     r.BPoints,
		PointsAgainst: r.APoints,
		Won:           r.WinnerID == r.PlayerB,
	}
}
