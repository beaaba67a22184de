package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/models"
)

// Pair is one matchup to analyse, as player references
type Pair struct {
	PlayerA string `json:"player_a"`
	PlayerB string `json:"player_b"`
}

// BatchRow is one line of a batch report. Error is set when the pair's run
// failed; the rest of the batch still runs.
type BatchRow struct {
	RunID               string
	PlayerA             string
	PlayerB             string
	Mode                models.EngineMode
	RunDir              string
	Probability         float64
	BaselineProbability float64
	ImprovedProbability float64
	Delta               float64
	BestServeShortDelta float64
	BestAttackDelta     float64
	Error               string
}

// BatchOptions apply to every run in a batch
type BatchOptions struct {
	Window        int
	AsOf          time.Time
	Budget        float64
	MaxCandidates int
}

// DefaultPairs enumerates every pair (i < j) in roster order, stopping at limit.
// A limit of 0 or less returns every pair.
func DefaultPairs(players []models.Player, limit int) []Pair {
	var pairs []Pair
	for i := range players {
		for j := i + 1; j < len(players); j++ {
			pairs = append(pairs, Pair{PlayerA: players[i].Name, PlayerB: players[j].Name})
			if limit > 0 && len(pairs) >= limit {
				return pairs
			}
		}
	}
	return pairs
}

// DefaultPairs enumerates pairs from the coach's roster
func (c *Coach) DefaultPairs(ctx context.Context, limit int) ([]Pair, error) {
	players, err := c.source.Players(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}
	return DefaultPairs(players, limit), nil
}

// LoadPairsCSV reads a matchups file with player_a and player_b columns
func LoadPairsCSV(path string) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open matchups file: %w", err)
	}
	defer f.Close()
	return ReadPairsCSV(f)
}

// ReadPairsCSV parses matchups from r
func ReadPairsCSV(r io.Reader) ([]Pair, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse matchups: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("matchups file is empty")
	}

	colA, colB := -1, -1
	for i, name := range records[0] {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case "player_a":
			colA = i
		case "player_b":
			colB = i
		}
	}
	if colA < 0 || colB < 0 {
		return nil, fmt.Errorf("matchups file needs player_a and player_b columns")
	}

	var pairs []Pair
	for line, rec := range records[1:] {
		if colA >= len(rec) || colB >= len(rec) {
			return nil, fmt.Errorf("matchups line %d: missing columns", line+2)
		}
		a, b := strings.TrimSpace(rec[colA]), strings.TrimSpace(rec[colB])
		if a == "" && b == "" {
			continue
		}
		pairs = append(pairs, Pair{PlayerA: a, PlayerB: b})
	}
	return pairs, nil
}

// BatchPredict runs a prediction per pair in order
func (c *Coach) BatchPredict(ctx context.Context, pairs []Pair, opts BatchOptions) ([]BatchRow, error) {
	rows := make([]BatchRow, 0, len(pairs))
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		row := BatchRow{PlayerA: p.PlayerA, PlayerB: p.PlayerB, Mode: c.backend.Mode()}
		res, err := c.Predict(ctx, PredictRequest{PlayerA: p.PlayerA, PlayerB: p.PlayerB, Window: opts.Window, AsOf: opts.AsOf})
		if err != nil {
			c.recordBatchFailure(&row, TaskPredict, err)
		} else {
			row.RunID = res.RunID
			row.RunDir = res.RunDir
			row.PlayerA = res.PlayerA.Name
			row.PlayerB = res.PlayerB.Name
			row.Probability = res.Probability
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// BatchStrategy runs a strategy search per pair in order
func (c *Coach) BatchStrategy(ctx context.Context, pairs []Pair, opts BatchOptions) ([]BatchRow, error) {
	rows := make([]BatchRow, 0, len(pairs))
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		row := BatchRow{PlayerA: p.PlayerA, PlayerB: p.PlayerB, Mode: c.backend.Mode()}
		res, err := c.Strategy(ctx, StrategyRequest{
			PlayerA:       p.PlayerA,
			PlayerB:       p.PlayerB,
			Window:        opts.Window,
			AsOf:          opts.AsOf,
			Budget:        opts.Budget,
			MaxCandidates: opts.MaxCandidates,
		})
		if err != nil {
			c.recordBatchFailure(&row, TaskStrategy, err)
		} else {
			row.RunID = res.RunID
			row.RunDir = res.RunDir
			row.PlayerA = res.PlayerA.Name
			row.PlayerB = res.PlayerB.Name
			row.BaselineProbability = res.BaselineProbability
			row.ImprovedProbability = res.ImprovedProbability
			row.Delta = res.Delta
			if res.Best != nil {
				row.BestServeShortDelta = res.Best.Shift.ServeShort
				row.BestAttackDelta = res.Best.Shift.Attack
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *Coach) recordBatchFailure(row *BatchRow, task string, err error) {
	row.Error = err.Error()
	var se *models.StageError
	if errors.As(err, &se) && se.RunDir != "" {
		row.RunDir = se.RunDir
		row.RunID = filepath.Base(se.RunDir)
	}
	c.logger.WithFields(logrus.Fields{
		"task":     task,
		"player_a": row.PlayerA,
		"player_b": row.PlayerB,
	}).WithError(err).Warn("Batch entry failed")
}

var (
	predictColumns  = []string{"run_id", "player_a", "player_b", "probability_a_win", "mode", "run_dir", "error"}
	strategyColumns = []string{
		"run_id", "player_a", "player_b",
		"baseline_probability", "improved_probability", "delta",
		"best_serve_short_delta", "best_attack_delta",
		"mode", "run_dir", "error",
	}
)

// WriteBatchCSV writes a predict or strategy batch report. Probabilities are
// rounded to six decimals.
func WriteBatchCSV(path, task string, rows []BatchRow) error {
	var header []string
	switch task {
	case TaskPredict:
		header = predictColumns
	case TaskStrategy:
		header = strategyColumns
	default:
		return fmt.Errorf("unknown batch task %q", task)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create batch report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		var rec []string
		if task == TaskPredict {
			rec = []string{r.RunID, r.PlayerA, r.PlayerB, round6(r.Probability), string(r.Mode), r.RunDir, r.Error}
		} else {
			rec = []string{
				r.RunID, r.PlayerA, r.PlayerB,
				round6(r.BaselineProbability), round6(r.ImprovedProbability), round6(r.Delta),
				round6(r.BestServeShortDelta), round6(r.BestAttackDelta),
				string(r.Mode), r.RunDir, r.Error,
			}
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func round6(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
