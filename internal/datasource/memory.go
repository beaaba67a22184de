package datasource

import (
	"context"

	"github.com/yourusername/rally-coach/internal/models"
)

// MemorySource serves a roster and match history held in memory
type MemorySource struct {
	name    string
	players []models.Player
	matches []models.MatchRow
}

// NewMemorySource creates a source over the given rows. The slices are copied.
func NewMemorySource(name string, players []models.Player, matches []models.MatchRow) *MemorySource {
	return &MemorySource{
		name:    name,
		players: append([]models.Player(nil), players...),
		matches: append([]models.MatchRow(nil), matches...),
	}
}

// Name returns the data source name
func (s *MemorySource) Name() string {
	return s.name
}

// Players returns a copy of the roster
func (s *MemorySource) Players(ctx context.Context) ([]models.Player, error) {
	return append([]models.Player(nil), s.players...), nil
}

// Matches returns filtered rows, oldest first
func (s *MemorySource) Matches(ctx context.Context, filter MatchFilter) ([]models.MatchRow, error) {
	return applyFilter(s.matches, filter), nil
}

// Close is a no-op
func (s *MemorySource) Close() error {
	return nil
}
