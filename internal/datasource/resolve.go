package datasource

import (
	"context"
	"sort"
	"strings"

	"github.com/yourusername/rally-coach/internal/models"
)

const (
	suggestionCutoff = 0.55
	maxSuggestions   = 3
)

// ResolvePlayer maps a player ID or name to a roster entry. Resolution tries an
// exact ID, then an exact normalized name, then a unique substring match.
func ResolvePlayer(ctx context.Context, src HistorySource, ref string) (models.Player, error) {
	players, err := src.Players(ctx)
	if err != nil {
		return models.Player{}, err
	}
	return ResolveFromRoster(players, ref)
}

// ResolveFromRoster resolves ref against an already loaded roster
func ResolveFromRoster(players []models.Player, ref string) (models.Player, error) {
	normalized := normalizeName(ref)
	if normalized == "" {
		return models.Player{}, &models.ResolutionError{Ref: ref, Reason: "empty player reference"}
	}

	for _, p := range players {
		if p.ID == strings.TrimSpace(ref) {
			return p, nil
		}
	}
	for _, p := range players {
		if normalizeName(p.Name) == normalized {
			return p, nil
		}
	}

	var contains []models.Player
	for _, p := range players {
		if strings.Contains(normalizeName(p.Name), normalized) {
			contains = append(contains, p)
		}
	}
	if len(contains) == 1 {
		return contains[0], nil
	}
	if len(contains) > 1 {
		names := make([]string, 0, len(contains))
		for _, p := range contains {
			names = append(names, p.Name)
		}
		if len(names) > maxSuggestions {
			names = names[:maxSuggestions]
		}
		return models.Player{}, &models.ResolutionError{Ref: ref, Reason: "ambiguous player name", Suggestions: names}
	}

	return models.Player{}, &models.ResolutionError{
		Ref:         ref,
		Reason:      "player not found",
		Suggestions: closeMatches(ref, players),
	}
}

// ResolvePair resolves two references and rejects a player facing themself
func ResolvePair(ctx context.Context, src HistorySource, refA, refB string) (models.Player, models.Player, error) {
	players, err := src.Players(ctx)
	if err != nil {
		return models.Player{}, models.Player{}, err
	}
	a, err := ResolveFromRoster(players, refA)
	if err != nil {
		return models.Player{}, models.Player{}, err
	}
	b, err := ResolveFromRoster(players, refB)
	if err != nil {
		return models.Player{}, models.Player{}, err
	}
	if a.ID == b.ID {
		return models.Player{}, models.Player{}, &models.ResolutionError{
			Ref:    refB,
			Reason: "both references resolve to " + a.Name + "; choose two different players",
		}
	}
	return a, b, nil
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// closeMatches returns up to three roster names similar to ref, best first
func closeMatches(ref string, players []models.Player) []string {
	type scored struct {
		name  string
		score float64
	}

	target := normalizeName(ref)
	var candidates []scored
	for _, p := range players {
		if s := similarity(target, normalizeName(p.Name)); s >= suggestionCutoff {
			candidates = append(candidates, scored{name: p.Name, score: s})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	var out []string
	for i := 0; i < len(candidates) && i < maxSuggestions; i++ {
		out = append(out, candidates[i].name)
	}
	return out
}

// similarity is a normalized edit-distance ratio in [0,1]
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	longest := max(len(ra), len(rb))
	return 1 - float64(prev[len(rb)])/float64(longest)
}
