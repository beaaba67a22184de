package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yourusername/rally-coach/internal/database"
	"github.com/yourusername/rally-coach/internal/models"
)

const postgresSourceName = "postgres"

const selectMatchColumns = `
	match_id, match_date, player_a_id, player_b_id, COALESCE(winner_id, ''),
	a_serve_rallies, a_serve_wins, b_serve_rallies, b_serve_wins,
	a_short_serve_rate, a_flick_serve_rate, a_attack_rate, a_neutral_rate, a_safe_rate,
	b_short_serve_rate, b_flick_serve_rate, b_attack_rate, b_neutral_rate, b_safe_rate,
	a_points, b_points`

// PostgresSource reads the roster and match history from PostgreSQL
type PostgresSource struct {
	db *database.DB
}

// NewPostgresSource creates a source backed by db
func NewPostgresSource(db *database.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Name returns the data source name
func (s *PostgresSource) Name() string {
	return postgresSourceName
}

// Players returns the roster ordered by name
func (s *PostgresSource) Players(ctx context.Context) ([]models.Player, error) {
	rows, err := s.db.Query(ctx, `
		SELECT player_id, name, COALESCE(country, ''), COALESCE(handedness, '')
		FROM players
		ORDER BY name`)
	if err != nil {
		return nil, NewDataSourceError(postgresSourceName, ErrCodeNetworkError, "failed to query players", err)
	}

	players, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Player, error) {
		var p models.Player
		err := row.Scan(&p.ID, &p.Name, &p.Country, &p.Handedness)
		return p, err
	})
	if err != nil {
		return nil, NewDataSourceError(postgresSourceName, ErrCodeInvalidData, "failed to scan players", err)
	}
	return players, nil
}

// Matches returns filtered rows, oldest first
func (s *PostgresSource) Matches(ctx context.Context, filter MatchFilter) ([]models.MatchRow, error) {
	var asOf *time.Time
	if !filter.AsOf.IsZero() {
		asOf = &filter.AsOf
	}
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}

	query := `SELECT ` + selectMatchColumns + `
		FROM matches
		WHERE ($1 = '' OR player_a_id = $1 OR player_b_id = $1)
		  AND ($2::date IS NULL OR match_date <= $2::date)
		ORDER BY match_date DESC, match_id DESC
		LIMIT $3`

	rows, err := s.db.Query(ctx, query, filter.PlayerID, asOf, limit)
	if err != nil {
		return nil, NewDataSourceError(postgresSourceName, ErrCodeNetworkError, "failed to query matches", err)
	}

	matches, err := pgx.CollectRows(rows, scanMatchRow)
	if err != nil {
		return nil, NewDataSourceError(postgresSourceName, ErrCodeInvalidData, "failed to scan matches", err)
	}

	for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
		matches[i], matches[j] = matches[j], matches[i]
	}
	return matches, nil
}

// Import upserts a roster and match history in one transaction
func (s *PostgresSource) Import(ctx context.Context, players []models.Player, matches []models.MatchRow) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range players {
			batch.Queue(`
				INSERT INTO players (player_id, name, country, handedness)
				VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
				ON CONFLICT (player_id) DO UPDATE
				SET name = EXCLUDED.name, country = EXCLUDED.country, handedness = EXCLUDED.handedness`,
				p.ID, p.Name, p.Country, p.Handedness)
		}
		for _, m := range matches {
			date, err := ParseMatchDate(m.Date)
			if err != nil {
				return fmt.Errorf("match %s: invalid date %q: %w", m.MatchID, m.Date, err)
			}
			batch.Queue(`
				INSERT INTO matches (`+selectMatchColumnsPlain+`)
				VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
				ON CONFLICT (match_id) DO NOTHING`,
				m.MatchID, date, m.PlayerA, m.PlayerB, m.WinnerID,
				m.AServeRallies, m.AServeWins, m.BServeRallies, m.BServeWins,
				m.AShortServeRate, m.AFlickServeRate, m.AAttackRate, m.ANeutralRate, m.ASafeRate,
				m.BShortServeRate, m.BFlickServeRate, m.BAttackRate, m.BNeutralRate, m.BSafeRate,
				m.APoints, m.BPoints)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return NewDataSourceError(postgresSourceName, ErrCodeInvalidData, "failed to import history", err)
		}
		return nil
	})
}

// Close closes the underlying pool
func (s *PostgresSource) Close() error {
	s.db.Close()
	return nil
}

const selectMatchColumnsPlain = `
	match_id, match_date, player_a_id, player_b_id, winner_id,
	a_serve_rallies, a_serve_wins, b_serve_rallies, b_serve_wins,
	a_short_serve_rate, a_flick_serve_rate, a_attack_rate, a_neutral_rate, a_safe_rate,
	b_short_serve_rate, b_flick_serve_rate, b_attack_rate, b_neutral_rate, b_safe_rate,
	a_points, b_points`

func scanMatchRow(row pgx.CollectableRow) (models.MatchRow, error) {
	var (
		m    models.MatchRow
		date time.Time
	)
	err := row.Scan(
		&m.MatchID, &date, &m.PlayerA, &m.PlayerB, &m.WinnerID,
		&m.AServeRallies, &m.AServeWins, &m.BServeRallies, &m.BServeWins,
		&m.AShortServeRate, &m.AFlickServeRate, &m.AAttackRate, &m.ANeutralRate, &m.ASafeRate,
		&m.BShortServeRate, &m.BFlickServeRate, &m.BAttackRate, &m.BNeutralRate, &m.BSafeRate,
		&m.APoints, &m.BPoints,
	)
	m.Date = date.Format("2006-01-02")
	return m, err
}
