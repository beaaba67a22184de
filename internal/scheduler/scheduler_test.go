package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/rally-coach/internal/logger"
	"github.com/yourusername/rally-coach/internal/models"
	"github.com/yourusername/rally-coach/internal/service"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) DefaultPairs(ctx context.Context, limit int) ([]service.Pair, error) {
	args := m.Called(ctx, limit)
	pairs, _ := args.Get(0).([]service.Pair)
	return pairs, args.Error(1)
}

func (m *mockRunner) BatchPredict(ctx context.Context, pairs []service.Pair, opts service.BatchOptions) ([]service.BatchRow, error) {
	args := m.Called(ctx, pairs, opts)
	rows, _ := args.Get(0).([]service.BatchRow)
	return rows, args.Error(1)
}

func (m *mockRunner) BatchStrategy(ctx context.Context, pairs []service.Pair, opts service.BatchOptions) ([]service.BatchRow, error) {
	args := m.Called(ctx, pairs, opts)
	rows, _ := args.Get(0).([]service.BatchRow)
	return rows, args.Error(1)
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 9, 6, 0, 0, 0, time.UTC)
}

func TestRunReportWritesStrategyCSV(t *testing.T) {
	runner := new(mockRunner)
	pairs := []service.Pair{{PlayerA: "Lee Chong Wei", PlayerB: "Lin Dan"}}
	opts := service.BatchOptions{Budget: 0.2}
	runner.On("DefaultPairs", mock.Anything, 5).Return(pairs, nil)
	runner.On("BatchStrategy", mock.Anything, pairs, opts).Return([]service.BatchRow{{
		RunID: "strategy_1", PlayerA: "Lee Chong Wei", PlayerB: "Lin Dan", Mode: models.EngineModeMock,
		BaselineProbability: 0.52, ImprovedProbability: 0.57, Delta: 0.05, BestAttackDelta: 0.1,
	}}, nil)

	s := NewScheduler(runner, logger.Discard())
	s.now = fixedClock
	dir := t.TempDir()

	path, err := s.RunReport(context.Background(), ReportJob{Name: JobBatchStrategy, PairLimit: 5, OutputDir: dir, Options: opts})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "batch_strategy_20240309_060000.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "run_id,player_a,player_b,baseline_probability"))
	assert.Contains(t, lines[1], "0.570000")
	runner.AssertExpectations(t)
}

func TestRunReportPredict(t *testing.T) {
	runner := new(mockRunner)
	runner.On("DefaultPairs", mock.Anything, 0).Return([]service.Pair{}, nil)
	runner.On("BatchPredict", mock.Anything, []service.Pair{}, service.BatchOptions{}).Return([]service.BatchRow{}, nil)

	s := NewScheduler(runner, logger.Discard())
	path, err := s.RunReport(context.Background(), ReportJob{Name: JobBatchPredict, OutputDir: t.TempDir()})
	require.NoError(t, err)
	assert.FileExists(t, path)
	runner.AssertNotCalled(t, "BatchStrategy", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunReportRosterFailure(t *testing.T) {
	runner := new(mockRunner)
	runner.On("DefaultPairs", mock.Anything, 3).Return(nil, errors.New("roster unavailable"))

	s := NewScheduler(runner, logger.Discard())
	_, err := s.RunReport(context.Background(), ReportJob{Name: JobBatchStrategy, PairLimit: 3, OutputDir: t.TempDir()})
	assert.EqualError(t, err, "roster unavailable")
}

func TestScheduleReportValidation(t *testing.T) {
	s := NewScheduler(new(mockRunner), logger.Discard())

	assert.Error(t, s.ScheduleReport("0 6 * * *", ReportJob{Name: "backfill"}))
	assert.Error(t, s.ScheduleReport("not a cron", ReportJob{Name: JobBatchPredict}))
	assert.Error(t, s.Start(), "no jobs scheduled")

	require.NoError(t, s.ScheduleReport("0 6 * * *", ReportJob{Name: JobBatchStrategy}))
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Len(t, s.Entries(), 1)
	assert.False(t, s.GetNextRun().IsZero())

	assert.Error(t, s.ScheduleReport("0 7 * * *", ReportJob{Name: JobBatchPredict}))
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}
