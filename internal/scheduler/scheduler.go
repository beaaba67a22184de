// Package scheduler runs batch reports on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/logger"
	"github.com/yourusername/rally-coach/internal/metrics"
	"github.com/yourusername/rally-coach/internal/service"
)

// Job names
const (
	JobBatchStrategy = "batch_strategy"
	JobBatchPredict  = "batch_predict"
)

// BatchRunner produces batch report rows for a set of pairs
type BatchRunner interface {
	DefaultPairs(ctx context.Context, limit int) ([]service.Pair, error)
	BatchPredict(ctx context.Context, pairs []service.Pair, opts service.BatchOptions) ([]service.BatchRow, error)
	BatchStrategy(ctx context.Context, pairs []service.Pair, opts service.BatchOptions) ([]service.BatchRow, error)
}

// ReportJob describes one scheduled batch report
type ReportJob struct {
	Name      string
	PairLimit int
	OutputDir string
	Options   service.BatchOptions
	Timeout   time.Duration
}

// Scheduler manages scheduled batch report jobs
type Scheduler struct {
	cron            *cron.Cron
	runner          BatchRunner
	logger          *logrus.Entry
	audit           *logger.AuditLogger
	mu              sync.RWMutex
	isRunning       bool
	jobIDs          []cron.EntryID
	gracefulTimeout time.Duration
	now             func() time.Time
}

// NewScheduler creates a new scheduler
func NewScheduler(runner BatchRunner, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:            cron.New(cron.WithLocation(time.UTC)),
		runner:          runner,
		logger:          log.WithField("component", "scheduler"),
		audit:           logger.NewAuditLogger(log),
		jobIDs:          make([]cron.EntryID, 0),
		gracefulTimeout: 30 * time.Second,
		now:             time.Now,
	}
}

// ScheduleReport registers job under cronExpression
func (s *Scheduler) ScheduleReport(cronExpression string, job ReportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cannot schedule job while scheduler is running")
	}
	if job.Name != JobBatchStrategy && job.Name != JobBatchPredict {
		return fmt.Errorf("unknown report job %q", job.Name)
	}
	if job.Timeout <= 0 {
		job.Timeout = 2 * time.Hour
	}

	jobFunc := func() {
		ctx, cancel := context.WithTimeout(context.Background(), job.Timeout)
		defer cancel()

		if _, err := s.RunReport(ctx, job); err != nil {
			s.logger.WithError(err).WithField("job", job.Name).Error("Scheduled report failed")
		}
	}

	entryID, err := s.cron.AddFunc(cronExpression, jobFunc)
	if err != nil {
		return fmt.Errorf("failed to add job: %w", err)
	}

	s.jobIDs = append(s.jobIDs, entryID)
	s.logger.WithFields(logrus.Fields{
		"job":  job.Name,
		"cron": cronExpression,
	}).Info("Scheduled report job")

	return nil
}

// RunReport runs one report immediately and returns the CSV path written
func (s *Scheduler) RunReport(ctx context.Context, job ReportJob) (path string, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordScheduledJob(job.Name, err == nil)
	}()

	pairs, err := s.runner.DefaultPairs(ctx, job.PairLimit)
	if err != nil {
		return "", err
	}

	var (
		rows []service.BatchRow
		task string
	)
	switch job.Name {
	case JobBatchStrategy:
		task = service.TaskStrategy
		rows, err = s.runner.BatchStrategy(ctx, pairs, job.Options)
	case JobBatchPredict:
		task = service.TaskPredict
		rows, err = s.runner.BatchPredict(ctx, pairs, job.Options)
	default:
		return "", fmt.Errorf("unknown report job %q", job.Name)
	}
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_%s.csv", job.Name, s.now().UTC().Format("20060102_150405"))
	path = filepath.Join(job.OutputDir, name)
	if err := service.WriteBatchCSV(path, task, rows); err != nil {
		return "", err
	}

	s.audit.LogScheduledReport(job.Name, path, len(pairs), time.Since(start))
	return path, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	if len(s.jobIDs) == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.WithField("jobs", len(s.jobIDs)).Info("Scheduler started")

	return nil
}

// Stop stops the scheduler, waiting up to the graceful timeout for running jobs
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.isRunning = false
	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-time.After(s.gracefulTimeout):
		return fmt.Errorf("scheduler stop timed out after %s", s.gracefulTimeout)
	}
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRun returns the time of the next scheduled job run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning || len(s.jobIDs) == 0 {
		return time.Time{}
	}

	nextRun := time.Time{}
	for _, jobID := range s.jobIDs {
		entry := s.cron.Entry(jobID)
		if entry.Valid() {
			nextTime := entry.Next
			if nextRun.IsZero() || nextTime.Before(nextRun) {
				nextRun = nextTime
			}
		}
	}

	return nextRun
}

// Entries returns information about scheduled entries
func (s *Scheduler) Entries() []cron.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]cron.Entry, 0, len(s.jobIDs))
	for _, jobID := range s.jobIDs {
		entry := s.cron.Entry(jobID)
		if entry.Valid() {
			entries = append(entries, entry)
		}
	}

	return entries
}
