package datasource

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/yourusername/rally-coach/internal/models"
)

const csvSourceName = "csv"

var requiredPlayerColumns = []string{"player_id", "name"}

var requiredMatchColumns = []string{
	"match_id", "date", "playerA_id", "playerB_id", "winner_id",
	"a_serve_rallies", "a_serve_wins", "b_serve_rallies", "b_serve_wins",
	"a_short_serve_rate", "a_flick_serve_rate", "a_attack_rate", "a_neutral_rate", "a_safe_rate",
	"b_short_serve_rate", "b_flick_serve_rate", "b_attack_rate", "b_neutral_rate", "b_safe_rate",
	"a_points", "b_points",
}

// LoadCSV reads the players and matches tables into a MemorySource
func LoadCSV(playersPath, matchesPath string) (*MemorySource, error) {
	pf, err := os.Open(playersPath)
	if err != nil {
		return nil, NewDataSourceError(csvSourceName, ErrCodeNotFound, "cannot open players table", err)
	}
	defer pf.Close()

	players, err := ReadPlayersCSV(pf)
	if err != nil {
		return nil, err
	}

	mf, err := os.Open(matchesPath)
	if err != nil {
		return nil, NewDataSourceError(csvSourceName, ErrCodeNotFound, "cannot open matches table", err)
	}
	defer mf.Close()

	matches, err := ReadMatchesCSV(mf)
	if err != nil {
		return nil, err
	}

	return NewMemorySource(csvSourceName, players, matches), nil
}

// ReadPlayersCSV parses a players table with a header row
func ReadPlayersCSV(r io.Reader) ([]models.Player, error) {
	records, index, err := readTable(r, requiredPlayerColumns)
	if err != nil {
		return nil, err
	}

	players := make([]models.Player, 0, len(records))
	for _, rec := range records {
		players = append(players, models.Player{
			ID:         field(rec, index, "player_id"),
			Name:       field(rec, index, "name"),
			Country:    field(rec, index, "country"),
			Handedness: field(rec, index, "handedness"),
		})
	}
	return players, nil
}

// ReadMatchesCSV parses a matches table with a header row
func ReadMatchesCSV(r io.Reader) ([]models.MatchRow, error) {
	records, index, err := readTable(r, requiredMatchColumns)
	if err != nil {
		return nil, err
	}

	rows := make([]models.MatchRow, 0, len(records))
	for i, rec := range records {
		p := rowParser{rec: rec, index: index}
		row := models.MatchRow{
			MatchID:  field(rec, index, "match_id"),
			Date:     field(rec, index, "date"),
			PlayerA:  field(rec, index, "playerA_id"),
			PlayerB:  field(rec, index, "playerB_id"),
			WinnerID: field(rec, index, "winner_id"),

			AServeRallies: p.int("a_serve_rallies"),
			AServeWins:    p.int("a_serve_wins"),
			BServeRallies: p.int("b_serve_rallies"),
			BServeWins:    p.int("b_serve_wins"),

			AShortServeRate: p.float("a_short_serve_rate"),
			AFlickServeRate: p.float("a_flick_serve_rate"),
			AAttackRate:     p.float("a_attack_rate"),
			ANeutralRate:    p.float("a_neutral_rate"),
			ASafeRate:       p.float("a_safe_rate"),

			BShortServeRate: p.float("b_short_serve_rate"),
			BFlickServeRate: p.float("b_flick_serve_rate"),
			BAttackRate:     p.float("b_attack_rate"),
			BNeutralRate:    p.float("b_neutral_rate"),
			BSafeRate:       p.float("b_safe_rate"),

			APoints: p.int("a_points"),
			BPoints: p.int("b_points"),
		}
		if p.err != nil {
			return nil, NewDataSourceError(csvSourceName, ErrCodeInvalidData, fmt.Sprintf("matches row %d", i+2), p.err)
		}
		if err := validateMatchRow(row); err != nil {
			return nil, NewDataSourceError(csvSourceName, ErrCodeInvalidData, fmt.Sprintf("matches row %d", i+2), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// validateMatchRow rejects counters that would make the receive ledger negative
func validateMatchRow(row models.MatchRow) error {
	if row.PlayerA == "" || row.PlayerB == "" {
		return fmt.Errorf("%w: missing player id", ErrInvalidData)
	}
	if row.AServeWins < 0 || row.AServeWins > row.AServeRallies {
		return fmt.Errorf("%w: a_serve_wins %d outside [0, %d]", ErrInvalidData, row.AServeWins, row.AServeRallies)
	}
	if row.BServeWins < 0 || row.BServeWins > row.BServeRallies {
		return fmt.Errorf("%w: b_serve_wins %d outside [0, %d]", ErrInvalidData, row.BServeWins, row.BServeRallies)
	}
	return nil
}

func readTable(r io.Reader, required []string) ([][]string, map[string]int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, NewDataSourceError(csvSourceName, ErrCodeInvalidData, "missing header row", err)
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.TrimPrefix(strings.TrimSpace(col), "\ufeff")] = i
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, nil, NewDataSourceError(csvSourceName, ErrCodeInvalidData, "missing column "+col, ErrInvalidData)
		}
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, NewDataSourceError(csvSourceName, ErrCodeInvalidData, "malformed table", err)
	}
	return records, index, nil
}

func field(rec []string, index map[string]int, col string) string {
	i, ok := index[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// rowParser converts numeric columns and keeps the first conversion error
type rowParser struct {
	rec   []string
	index map[string]int
	err   error
}

func (p *rowParser) int(col string) int {
	raw := field(p.rec, p.index, col)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		// counters are sometimes exported as floats ("42.0")
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			p.setErr(fmt.Errorf("%s: %w", col, err))
			return 0
		}
		return int(f)
	}
	return v
}

func (p *rowParser) float(col string) float64 {
	raw := field(p.rec, p.index, col)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.setErr(fmt.Errorf("%s: %w", col, err))
		return 0
	}
	return v
}

func (p *rowParser) setErr(err error) {
	if p.err == nil {
		p.err = err
	}
}
