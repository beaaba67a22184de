package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/datasource"
	"github.com/yourusername/rally-coach/internal/metrics"
	"github.com/yourusername/rally-coach/internal/models"
)

// HistoryStore persists a roster and match history. PostgresSource implements it.
type HistoryStore interface {
	Import(ctx context.Context, players []models.Player, matches []models.MatchRow) error
}

// IngestionService copies match history from a source into a store
type IngestionService struct {
	sources    []datasource.HistorySource
	store      HistoryStore
	validator  *DataValidator
	normalizer *DataNormalizer
	metrics    *IngestionMetrics
	logger     *logrus.Entry
	batchSize  int
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(
	sources []datasource.HistorySource,
	store HistoryStore,
	validator *DataValidator,
	normalizer *DataNormalizer,
	log *logrus.Logger,
	batchSize int,
) *IngestionService {
	if batchSize <= 0 {
		batchSize = 100
	}

	return &IngestionService{
		sources:    sources,
		store:      store,
		validator:  validator,
		normalizer: normalizer,
		metrics:    NewIngestionMetrics(),
		logger:     log.WithField("component", "ingestion"),
		batchSize:  batchSize,
	}
}

// IngestHistory copies the roster and every match on or before asOf from the named source.
// A zero asOf imports the full history.
func (s *IngestionService) IngestHistory(ctx context.Context, sourceName string, asOf time.Time) (IngestionCounts, error) {
	var source datasource.HistorySource
	for _, src := range s.sources {
		if src.Name() == sourceName {
			source = src
			break
		}
	}
	if source == nil {
		return IngestionCounts{}, fmt.Errorf("data source not found: %s", sourceName)
	}

	players, err := source.Players(ctx)
	metrics.RecordDataSourceRequest(sourceName, err == nil)
	if err != nil {
		return IngestionCounts{}, fmt.Errorf("failed to fetch roster: %w", err)
	}

	matches, err := source.Matches(ctx, datasource.MatchFilter{AsOf: asOf})
	metrics.RecordDataSourceRequest(sourceName, err == nil)
	if err != nil {
		return IngestionCounts{}, fmt.Errorf("failed to fetch matches: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"source":  sourceName,
		"players": len(players),
		"matches": len(matches),
	}).Info("Fetched history")

	return s.Ingest(ctx, players, matches)
}

// Ingest normalizes, validates and persists rows. Invalid and duplicate rows are
// skipped and counted; a failed batch is logged and the remaining batches still run.
func (s *IngestionService) Ingest(ctx context.Context, players []models.Player, matches []models.MatchRow) (IngestionCounts, error) {
	s.metrics.Reset()
	start := time.Now()
	finish := func() IngestionCounts {
		s.metrics.setDuration(time.Since(start))
		return s.metrics.Snapshot()
	}

	s.metrics.addTotals(len(players), len(matches))

	// Step 1: Normalize and validate the roster
	roster := make(map[string]bool, len(players))
	validPlayers := make([]models.Player, 0, len(players))
	for _, raw := range players {
		p := s.normalizer.NormalizePlayer(raw)
		if errs := s.validator.ValidatePlayer(p); len(errs) > 0 {
			s.metrics.RecordValidationError()
			s.logger.WithField("player_id", p.ID).Warnf("Player validation failed: %v", errs)
			continue
		}
		if roster[p.ID] {
			s.metrics.RecordDuplicate()
			continue
		}
		roster[p.ID] = true
		validPlayers = append(validPlayers, p)
	}

	// Step 2: Persist players first so match rows can reference them
	if len(validPlayers) > 0 {
		if err := s.store.Import(ctx, validPlayers, nil); err != nil {
			s.metrics.RecordError()
			return finish(), fmt.Errorf("failed to import roster: %w", err)
		}
		s.metrics.recordImported(len(validPlayers), 0)
	}

	// Step 3: Normalize, validate and deduplicate matches
	seen := make(map[string]bool, len(matches))
	validMatches := make([]models.MatchRow, 0, len(matches))
	for _, raw := range matches {
		m := s.normalizer.NormalizeMatch(raw)
		errs := s.validator.ValidateMatch(m)
		errs = append(errs, s.validator.ValidateMatchInRoster(m, roster)...)
		if len(errs) > 0 {
			s.metrics.RecordValidationError()
			s.logger.WithField("match_id", m.MatchID).Warnf("Match validation failed: %v", errs)
			continue
		}
		if seen[m.MatchID] {
			s.metrics.RecordDuplicate()
			continue
		}
		seen[m.MatchID] = true
		validMatches = append(validMatches, m)
	}

	// Step 4: Persist matches in batches
	failed := 0
	for i := 0; i < len(validMatches); i += s.batchSize {
		if err := ctx.Err(); err != nil {
			return finish(), err
		}

		end := i + s.batchSize
		if end > len(validMatches) {
			end = len(validMatches)
		}

		batch := validMatches[i:end]
		if err := s.store.Import(ctx, nil, batch); err != nil {
			failed++
			s.metrics.RecordError()
			s.logger.WithError(err).WithField("offset", i).Error("Error importing batch")
			continue
		}
		s.metrics.recordImported(0, len(batch))
	}

	counts := finish()
	s.logger.WithFields(logrus.Fields{
		"players":           counts.ImportedPlayers,
		"matches":           counts.ImportedMatches,
		"duplicates":        counts.Duplicates,
		"validation_errors": counts.ValidationErrors,
		"errors":            counts.Errors,
		"duration":          counts.Duration.String(),
	}).Info("History ingestion complete")

	if failed > 0 {
		return counts, fmt.Errorf("%d match batches failed to import", failed)
	}
	return counts, nil
}

// GetMetrics returns current ingestion metrics
func (s *IngestionService) GetMetrics() *IngestionMetrics {
	return s.metrics
}
