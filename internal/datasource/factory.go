package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/config"
	"github.com/yourusername/rally-coach/internal/database"
	"github.com/yourusername/rally-coach/internal/metrics"
	"github.com/yourusername/rally-coach/internal/models"
)

// SourceType represents the type of data source
type SourceType string

const (
	// CSVSourceType reads local players/matches tables
	CSVSourceType SourceType = "csv"
	// PostgresSourceType reads the players/matches tables from PostgreSQL
	PostgresSourceType SourceType = "postgres"
	// WebSourceType reads a JSON stats API
	WebSourceType SourceType = "web"
)

// Factory creates HistorySource implementations based on configuration
type Factory struct {
	logger *logrus.Logger
	config *config.Config
}

// NewFactory creates a new data source factory
func NewFactory(cfg *config.Config, logger *logrus.Logger) *Factory {
	return &Factory{
		logger: logger,
		config: cfg,
	}
}

// Create opens the configured source, instrumented with request metrics
func (f *Factory) Create(ctx context.Context) (HistorySource, error) {
	src, err := f.create(ctx, SourceType(f.config.DataSource.Type))
	if err != nil {
		return nil, err
	}
	if f.logger != nil {
		f.logger.WithField("source", src.Name()).Debug("Created data source")
	}
	return Instrument(src), nil
}

func (f *Factory) create(ctx context.Context, sourceType SourceType) (HistorySource, error) {
	dsCfg := f.config.DataSource

	switch sourceType {
	case CSVSourceType:
		return LoadCSV(dsCfg.PlayersPath, dsCfg.MatchesPath)

	case PostgresSourceType:
		db, err := database.Initialize(ctx, f.config)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return NewPostgresSource(db), nil

	case WebSourceType:
		if dsCfg.BaseURL == "" {
			return nil, fmt.Errorf("web data source requires base_url")
		}
		httpCfg := DefaultHTTPClientConfig()
		if dsCfg.TimeoutSeconds > 0 {
			httpCfg.Timeout = time.Duration(dsCfg.TimeoutSeconds) * time.Second
		}
		httpCfg.MaxRetries = dsCfg.MaxRetries
		httpCfg.RateLimit = dsCfg.RateLimit
		client := NewRateLimitedHTTPClient(httpCfg, f.logger)
		return NewWebSource(client, dsCfg.BaseURL, dsCfg.APIKey, dsCfg.CacheDir, f.logger), nil

	default:
		return nil, fmt.Errorf("unknown data source type: %s", sourceType)
	}
}

// ListAvailableSources returns the supported source types
func (f *Factory) ListAvailableSources() []SourceType {
	return []SourceType{CSVSourceType, PostgresSourceType, WebSourceType}
}

// instrumentedSource records a request metric per call
type instrumentedSource struct {
	HistorySource
}

// Instrument wraps src so every call is counted by source and status
func Instrument(src HistorySource) HistorySource {
	if _, ok := src.(*instrumentedSource); ok {
		return src
	}
	return &instrumentedSource{HistorySource: src}
}

func (s *instrumentedSource) Players(ctx context.Context) ([]models.Player, error) {
	players, err := s.HistorySource.Players(ctx)
	metrics.RecordDataSourceRequest(s.Name(), err == nil)
	return players, err
}

func (s *instrumentedSource) Matches(ctx context.Context, filter MatchFilter) ([]models.MatchRow, error) {
	rows, err := s.HistorySource.Matches(ctx, filter)
	metrics.RecordDataSourceRequest(s.Name(), err == nil)
	return rows, err
}
