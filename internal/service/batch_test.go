package service

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/rally-coach/internal/models"
)

func TestDefaultPairsRosterOrder(t *testing.T) {
	players := []models.Player{{ID: "1", Name: "A"}, {ID: "2", Name: "B"}, {ID: "3", Name: "C"}, {ID: "4", Name: "D"}}

	all := DefaultPairs(players, 0)
	assert.Equal(t, []Pair{
		{"A", "B"}, {"A", "C"}, {"A", "D"},
		{"B", "C"}, {"B", "D"},
		{"C", "D"},
	}, all)

	assert.Equal(t, []Pair{{"A", "B"}, {"A", "C"}, {"A", "D"}, {"B", "C"}}, DefaultPairs(players, 4))
	assert.Empty(t, DefaultPairs(players[:1], 10))
}

func TestReadPairsCSV(t *testing.T) {
	input := "\ufeffnote,player_a,player_b\nfinal,Lin Dan,Lee Chong Wei\n,,\nsemi, P3 , P4 \n"

	pairs, err := ReadPairsCSV(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []Pair{{"Lin Dan", "Lee Chong Wei"}, {"P3", "P4"}}, pairs)

	_, err = ReadPairsCSV(strings.NewReader("a,b\nx,y\n"))
	assert.Error(t, err)
}

func TestBatchPredictRecordsFailuresAndContinues(t *testing.T) {
	c := newTestCoach(t, nil)
	pairs := []Pair{{"P1", "P2"}, {"P1", "Nobody Known"}, {"P3", "P4"}}

	rows, err := c.BatchPredict(context.Background(), pairs, BatchOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Empty(t, rows[0].Error)
	assert.Equal(t, "Lee Chong Wei", rows[0].PlayerA)
	assert.Greater(t, rows[0].Probability, 0.0)

	assert.Contains(t, rows[1].Error, "estimate stage failed")
	assert.NotEmpty(t, rows[1].RunDir)
	assert.Equal(t, filepath.Base(rows[1].RunDir), rows[1].RunID)

	assert.Empty(t, rows[2].Error)
	assert.Equal(t, models.EngineModeMock, rows[2].Mode)

	out := filepath.Join(t.TempDir(), "reports", "batch_predictions.csv")
	require.NoError(t, WriteBatchCSV(out, TaskPredict, rows))

	records := readCSV(t, out)
	require.Len(t, records, 4)
	assert.Equal(t, predictColumns, records[0])
	assert.Equal(t, rows[0].RunID, records[1][0])
	assert.Regexp(t, `^0\.\d{6}$`, records[1][3])
	assert.Equal(t, "mock", records[1][4])
}

func TestBatchStrategyWritesReport(t *testing.T) {
	c := newTestCoach(t, nil)

	rows, err := c.BatchStrategy(context.Background(), []Pair{{"P1", "P3"}}, BatchOptions{Budget: 0.1, MaxCandidates: 2})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].Error)
	assert.GreaterOrEqual(t, rows[0].ImprovedProbability, rows[0].BaselineProbability)

	out := filepath.Join(t.TempDir(), "batch_strategy.csv")
	require.NoError(t, WriteBatchCSV(out, TaskStrategy, rows))

	records := readCSV(t, out)
	require.Len(t, records, 2)
	assert.Equal(t, strategyColumns, records[0])
	assert.Equal(t, "Lee Chong Wei", records[1][1])
	assert.Equal(t, "Viktor Axelsen", records[1][2])
}

func TestBatchStopsOnCancellation(t *testing.T) {
	c := newTestCoach(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows, err := c.BatchPredict(ctx, []Pair{{"P1", "P2"}}, BatchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rows)
}

func TestWriteBatchCSVRejectsUnknownTask(t *testing.T) {
	err := WriteBatchCSV(filepath.Join(t.TempDir(), "x.csv"), "backtest", nil)
	assert.Error(t, err)
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}
